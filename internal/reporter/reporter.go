// Package reporter fans download events out to subscribers and records
// finished downloads in the history.
package reporter

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"watchy/internal/domain"
	"watchy/internal/downloader"
)

// HistoryRecorder persists finished downloads.
type HistoryRecorder interface {
	AddDownloadHistory(ctx context.Context, entry domain.DownloadHistoryEntry) error
}

type Config struct {
	Logger *logrus.Logger
	// HistoryTimeout bounds a single history write.
	HistoryTimeout time.Duration
}

// Reporter delivers events in publish order from a single goroutine.
type Reporter struct {
	cfg     Config
	history HistoryRecorder

	mu      sync.Mutex
	cond    *sync.Cond
	pending []domain.DownloadEvent
	closed  bool
	done    chan struct{}

	subMu  sync.RWMutex
	nextID int
	subs   map[int]func(domain.DownloadEvent)
}

func New(cfg Config, history HistoryRecorder) *Reporter {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.HistoryTimeout <= 0 {
		cfg.HistoryTimeout = 5 * time.Second
	}
	r := &Reporter{
		cfg:     cfg,
		history: history,
		done:    make(chan struct{}),
		subs:    make(map[int]func(domain.DownloadEvent)),
	}
	r.cond = sync.NewCond(&r.mu)
	go r.run()
	return r
}

// Publish buffers the event for delivery and never blocks.
func (r *Reporter) Publish(event domain.DownloadEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.pending = append(r.pending, event)
	r.cond.Signal()
}

// Subscribe registers fn for every subsequent event. The returned func removes it.
func (r *Reporter) Subscribe(fn func(domain.DownloadEvent)) func() {
	r.subMu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = fn
	r.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.subMu.Lock()
			delete(r.subs, id)
			r.subMu.Unlock()
		})
	}
}

// Close delivers the buffered events and stops the dispatcher.
func (r *Reporter) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	r.cond.Signal()
	r.mu.Unlock()
	<-r.done
}

func (r *Reporter) run() {
	defer close(r.done)
	for {
		r.mu.Lock()
		for len(r.pending) == 0 && !r.closed {
			r.cond.Wait()
		}
		if len(r.pending) == 0 && r.closed {
			r.mu.Unlock()
			return
		}
		batch := r.pending
		r.pending = nil
		r.mu.Unlock()

		for _, event := range batch {
			r.dispatch(event)
		}
	}
}

func (r *Reporter) dispatch(event domain.DownloadEvent) {
	if event.State.Terminal() && event.MagnetTitle != "" && r.history != nil {
		r.record(event)
	}

	r.subMu.RLock()
	subs := make([]func(domain.DownloadEvent), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	r.subMu.RUnlock()

	for _, fn := range subs {
		fn(event)
	}
}

func (r *Reporter) record(event domain.DownloadEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.HistoryTimeout)
	defer cancel()

	entry := domain.DownloadHistoryEntry{
		Filename:      event.Filename,
		MagnetTitle:   event.MagnetTitle,
		State:         event.State,
		SavePath:      event.SavePath,
		ReceivedBytes: event.ReceivedBytes,
		TotalBytes:    event.TotalBytes,
		CompletedAt:   event.Time.UTC(),
	}
	if err := r.history.AddDownloadHistory(ctx, entry); err != nil {
		r.cfg.Logger.WithField("job_id", event.JobID).Errorf("record download history: %v", err)
	}
}

var _ downloader.EventSink = (*Reporter)(nil)
