package http

import (
	"time"

	"watchy/internal/domain"
	"watchy/internal/storage"
)

type JobResponse struct {
	ID            string          `json:"id"`
	URL           string          `json:"url"`
	Directory     string          `json:"directory,omitempty"`
	Filename      string          `json:"filename,omitempty"`
	MagnetTitle   string          `json:"magnet_title,omitempty"`
	State         domain.JobState `json:"state"`
	ReceivedBytes int64           `json:"received_bytes"`
	TotalBytes    int64           `json:"total_bytes"`
	SavePath      string          `json:"save_path,omitempty"`
	QueuedAt      string          `json:"queued_at"`
}

func jobToResponse(job domain.DownloadJob) JobResponse {
	return JobResponse{
		ID:            job.ID,
		URL:           job.URL,
		Directory:     job.Directory,
		Filename:      job.Filename,
		MagnetTitle:   job.MagnetTitle,
		State:         job.State,
		ReceivedBytes: job.ReceivedBytes,
		TotalBytes:    job.TotalBytes,
		SavePath:      job.SavePath,
		QueuedAt:      job.QueuedAt.Format(time.RFC3339),
	}
}

type ResolveResponse struct {
	Status   domain.ResolutionStatus `json:"status"`
	Message  string                  `json:"message"`
	Hash     string                  `json:"hash"`
	RemoteID string                  `json:"remote_id,omitempty"`
	Files    []domain.ResolvedFile   `json:"files"`
}

func resolutionToResponse(res domain.Resolution) ResolveResponse {
	files := res.Files
	if files == nil {
		files = []domain.ResolvedFile{}
	}
	return ResolveResponse{
		Status:   res.Status,
		Message:  res.Message(),
		Hash:     res.Hash,
		RemoteID: res.RemoteID,
		Files:    files,
	}
}

type StorageObjectResponse struct {
	Key          string  `json:"key"`
	Size         int64   `json:"size"`
	LastModified *string `json:"last_modified,omitempty"`
}

type ObjectURLResponse struct {
	Key       string `json:"key"`
	URL       string `json:"url"`
	ExpiresAt string `json:"expires_at"`
}

func objectToResponse(obj storage.ObjectInfo) StorageObjectResponse {
	resp := StorageObjectResponse{
		Key:  obj.Key,
		Size: obj.Size,
	}
	if obj.LastModified != nil && !obj.LastModified.IsZero() {
		v := obj.LastModified.Format(time.RFC3339)
		resp.LastModified = &v
	}
	return resp
}
