// Package downloader admits download jobs into a bounded set of concurrent
// transfers and drives them through the host download subsystem.
package downloader

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"watchy/internal/domain"
	"watchy/internal/metrics"
)

const DefaultMaxConcurrent = 3

// ErrQueueClosed is reported for submissions made after Close.
var ErrQueueClosed = errors.New("download queue closed")

// Host performs the byte transfer of an admitted job. Start must not block;
// the host reports back through the sink.
type Host interface {
	Start(ctx context.Context, job domain.DownloadJob, sink HostSink)
}

// HostSink receives transfer callbacks from the host.
type HostSink interface {
	// Started is called once the remote filename is known and returns the
	// path the file must be saved to.
	Started(jobID, filename string) string
	Progress(jobID string, received, total int64)
	Finished(jobID string, succeeded bool, savePath string)
}

// EventSink receives every job transition. Publish is called with the queue
// lock held and must not block.
type EventSink interface {
	Publish(event domain.DownloadEvent)
}

type SubmitOptions struct {
	Directory   string
	MagnetTitle string
}

type Config struct {
	MaxConcurrent int
	// DefaultDir is used for jobs submitted without a directory.
	DefaultDir string
	Logger     *logrus.Logger
	Metrics    *metrics.Manager
}

type Queue struct {
	cfg  Config
	host Host
	sink EventSink

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	waiting []*domain.DownloadJob
	active  []*domain.DownloadJob
	dirs    map[string]string
	closed  bool
}

func NewQueue(cfg Config, host Host, sink EventSink) *Queue {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		cfg:    cfg,
		host:   host,
		sink:   sink,
		ctx:    ctx,
		cancel: cancel,
		dirs:   make(map[string]string),
	}
}

// Submit appends a job to the waiting list and runs an admission pass. It
// never blocks on the transfer.
func (q *Queue) Submit(url string, opts SubmitOptions) domain.DownloadJob {
	job := &domain.DownloadJob{
		ID:          uuid.NewString(),
		URL:         url,
		Directory:   opts.Directory,
		MagnetTitle: opts.MagnetTitle,
		State:       domain.JobStateQueued,
		QueuedAt:    time.Now(),
	}
	logger := q.cfg.Logger.WithField("job_id", job.ID)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		logger.WithField("url", url).Warn(ErrQueueClosed)
		job.State = domain.JobStateFailed
		return *job
	}

	q.waiting = append(q.waiting, job)
	event := domain.EventFromJob(*job, domain.JobStateQueued)
	event.Position = len(q.waiting)
	q.publish(event)
	snapshot := *job
	started := q.admit()
	q.mu.Unlock()

	logger.WithField("position", event.Position).Infof("download queued: %s", url)
	q.startAll(started)
	return snapshot
}

// admit moves waiting jobs into the active set until the bound or the waiting
// list is exhausted. Callers hold q.mu and start the returned jobs after
// releasing it.
func (q *Queue) admit() []domain.DownloadJob {
	var started []domain.DownloadJob
	for len(q.active) < q.cfg.MaxConcurrent && len(q.waiting) > 0 {
		job := q.waiting[0]
		q.waiting[0] = nil
		q.waiting = q.waiting[1:]

		job.State = domain.JobStateActive
		q.active = append(q.active, job)
		q.dirs[job.ID] = job.Directory
		q.publish(domain.EventFromJob(*job, domain.JobStateActive))
		started = append(started, *job)
	}
	q.cfg.Metrics.SetQueueDepth(len(q.active), len(q.waiting))
	return started
}

func (q *Queue) startAll(jobs []domain.DownloadJob) {
	for _, job := range jobs {
		q.cfg.Logger.WithField("job_id", job.ID).Info("download started")
		q.host.Start(q.ctx, job, q)
	}
}

func (q *Queue) publish(event domain.DownloadEvent) {
	if q.sink != nil {
		q.sink.Publish(event)
	}
}

func (q *Queue) findActive(id string) (int, *domain.DownloadJob) {
	for i, job := range q.active {
		if job.ID == id {
			return i, job
		}
	}
	return -1, nil
}

// Started combines the directory recorded at admission with the remote
// filename. The record is consumed.
func (q *Queue) Started(jobID, filename string) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	dir, ok := q.dirs[jobID]
	delete(q.dirs, jobID)
	if !ok || dir == "" {
		dir = q.cfg.DefaultDir
	}
	savePath := filepath.Join(dir, filename)

	if _, job := q.findActive(jobID); job != nil {
		job.Filename = filename
		job.SavePath = savePath
	}
	return savePath
}

func (q *Queue) Progress(jobID string, received, total int64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, job := q.findActive(jobID)
	if job == nil {
		return
	}
	job.ReceivedBytes = received
	job.TotalBytes = total
	q.publish(domain.EventFromJob(*job, domain.JobStateProgressing))
}

// Finished moves a job to its terminal state and admits the next waiting job.
func (q *Queue) Finished(jobID string, succeeded bool, savePath string) {
	q.mu.Lock()
	i, job := q.findActive(jobID)
	if job == nil {
		q.mu.Unlock()
		return
	}
	q.active = append(q.active[:i], q.active[i+1:]...)
	delete(q.dirs, jobID)

	job.State = domain.JobStateFailed
	if succeeded {
		job.State = domain.JobStateCompleted
	}
	if savePath != "" {
		job.SavePath = savePath
	}
	q.publish(domain.EventFromJob(*job, job.State))
	q.cfg.Metrics.JobFinished(string(job.State))

	var started []domain.DownloadJob
	if !q.closed {
		started = q.admit()
	} else {
		q.cfg.Metrics.SetQueueDepth(len(q.active), len(q.waiting))
	}
	q.mu.Unlock()

	q.cfg.Logger.WithFields(logrus.Fields{
		"job_id": jobID,
		"state":  job.State,
	}).Infof("download finished: %s", job.SavePath)
	q.startAll(started)
}

// Snapshot returns the active jobs followed by the waiting jobs.
func (q *Queue) Snapshot() []domain.DownloadJob {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs := make([]domain.DownloadJob, 0, len(q.active)+len(q.waiting))
	for _, job := range q.active {
		jobs = append(jobs, *job)
	}
	for _, job := range q.waiting {
		jobs = append(jobs, *job)
	}
	return jobs
}

// Close stops admissions, fails waiting jobs and cancels in-flight transfers.
// Active jobs still finish through the host callbacks.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for _, job := range q.waiting {
		job.State = domain.JobStateFailed
		q.publish(domain.EventFromJob(*job, domain.JobStateFailed))
	}
	q.waiting = nil
	q.cfg.Metrics.SetQueueDepth(len(q.active), 0)
	q.mu.Unlock()

	q.cancel()
	q.cfg.Logger.Info("download queue closed")
}

var _ HostSink = (*Queue)(nil)
