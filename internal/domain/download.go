package domain

import "time"

// JobState is the lifecycle state of a download job.
type JobState string

const (
	JobStateQueued      JobState = "queued"
	JobStateActive      JobState = "active"
	JobStateProgressing JobState = "progressing"
	JobStateCompleted   JobState = "completed"
	JobStateFailed      JobState = "failed"
)

// Terminal reports whether no further transitions follow this state.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// DownloadJob is a single direct URL travelling through the admission queue.
type DownloadJob struct {
	ID            string
	URL           string
	Directory     string
	Filename      string
	MagnetTitle   string
	State         JobState
	ReceivedBytes int64
	TotalBytes    int64
	SavePath      string
	QueuedAt      time.Time
}

// DownloadHistoryEntry is the persisted record of a finished download.
type DownloadHistoryEntry struct {
	ID            string    `json:"id"`
	Filename      string    `json:"filename"`
	MagnetTitle   string    `json:"magnetTitle"`
	State         JobState  `json:"state"`
	SavePath      string    `json:"savePath"`
	ReceivedBytes int64     `json:"receivedBytes"`
	TotalBytes    int64     `json:"totalBytes"`
	CompletedAt   time.Time `json:"completedAt"`
}

// DownloadEvent is published for every queue and transfer transition.
type DownloadEvent struct {
	JobID         string    `json:"id"`
	URL           string    `json:"url"`
	Filename      string    `json:"filename"`
	State         JobState  `json:"state"`
	ReceivedBytes int64     `json:"receivedBytes"`
	TotalBytes    int64     `json:"totalBytes"`
	SavePath      string    `json:"savePath,omitempty"`
	MagnetTitle   string    `json:"magnetTitle,omitempty"`
	Position      int       `json:"position,omitempty"`
	Time          time.Time `json:"time"`
}

// EventFromJob snapshots a job into an event carrying the given state.
func EventFromJob(job DownloadJob, state JobState) DownloadEvent {
	return DownloadEvent{
		JobID:         job.ID,
		URL:           job.URL,
		Filename:      job.Filename,
		State:         state,
		ReceivedBytes: job.ReceivedBytes,
		TotalBytes:    job.TotalBytes,
		SavePath:      job.SavePath,
		MagnetTitle:   job.MagnetTitle,
		Time:          time.Now(),
	}
}
