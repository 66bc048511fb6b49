package storage

import (
	"context"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"watchy/internal/domain"
)

type MirrorConfig struct {
	KeyPrefix     string
	QueueSize     int
	UploadTimeout time.Duration
	Logger        *logrus.Logger
}

// Mirror uploads completed downloads in the background, one at a time.
type Mirror struct {
	cfg  MirrorConfig
	svc  Service
	jobs chan domain.DownloadEvent
	wg   sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewMirror(cfg MirrorConfig, svc Service) *Mirror {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = 2 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	m := &Mirror{
		cfg:  cfg,
		svc:  svc,
		jobs: make(chan domain.DownloadEvent, cfg.QueueSize),
	}
	m.wg.Add(1)
	go m.run()
	return m
}

// Handle accepts download events; only completed downloads are mirrored.
func (m *Mirror) Handle(event domain.DownloadEvent) {
	if event.State != domain.JobStateCompleted || event.SavePath == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	select {
	case m.jobs <- event:
	default:
		m.cfg.Logger.WithField("job_id", event.JobID).Warn("mirror queue full, skipping upload")
	}
}

// Close waits for queued uploads to finish.
func (m *Mirror) Close() {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.jobs)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Mirror) run() {
	defer m.wg.Done()
	for event := range m.jobs {
		m.upload(event)
	}
}

func (m *Mirror) upload(event domain.DownloadEvent) {
	logger := m.cfg.Logger.WithField("job_id", event.JobID)
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.UploadTimeout)
	defer cancel()

	key := ObjectKey(m.cfg.KeyPrefix, event.MagnetTitle, filepath.Base(event.SavePath))
	var lastLog time.Time
	dest, err := m.svc.UploadFile(ctx, event.SavePath, key, UploadOptions{
		ProgressCallback: func(done, total int64) {
			if time.Since(lastLog) < 5*time.Second && done != total {
				return
			}
			lastLog = time.Now()
			logger.Debugf("mirror progress: %s/%s", humanize.IBytes(uint64(done)), humanize.IBytes(uint64(total)))
		},
	})
	if err != nil {
		logger.Errorf("mirror upload: %v", err)
		return
	}
	logger.Infof("mirrored to %s", dest)
}

// ObjectKey builds prefix/title/filename, dropping empty segments and
// slashes inside the title.
func ObjectKey(prefix, title, filename string) string {
	var parts []string
	if p := strings.Trim(prefix, "/"); p != "" {
		parts = append(parts, p)
	}
	if t := strings.TrimSpace(strings.ReplaceAll(title, "/", "_")); t != "" {
		parts = append(parts, t)
	}
	parts = append(parts, filename)
	return path.Join(parts...)
}
