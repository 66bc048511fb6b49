package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cavaliergopher/grab/v3"
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"watchy/internal/domain"
)

type HostConfig struct {
	// StagingDir holds partial files until they are moved to their save path.
	StagingDir       string
	ProgressInterval time.Duration
	UserAgent        string
	HTTPClient       *http.Client
	Logger           *logrus.Logger
}

// GrabHost transfers files over HTTP with grab.
type GrabHost struct {
	cfg    HostConfig
	client *grab.Client
	wg     sync.WaitGroup
}

func NewGrabHost(cfg HostConfig) *GrabHost {
	if cfg.StagingDir == "" {
		cfg.StagingDir = filepath.Join(os.TempDir(), "watchy-staging")
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 500 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	client := grab.NewClient()
	if cfg.UserAgent != "" {
		client.UserAgent = cfg.UserAgent
	}
	if cfg.HTTPClient != nil {
		client.HTTPClient = cfg.HTTPClient
	}
	return &GrabHost{cfg: cfg, client: client}
}

func (h *GrabHost) Start(ctx context.Context, job domain.DownloadJob, sink HostSink) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.transfer(ctx, job, sink)
	}()
}

// Wait blocks until every started transfer has reported back.
func (h *GrabHost) Wait() {
	h.wg.Wait()
}

func (h *GrabHost) transfer(ctx context.Context, job domain.DownloadJob, sink HostSink) {
	logger := h.cfg.Logger.WithField("job_id", job.ID)
	staging := filepath.Join(h.cfg.StagingDir, job.ID)
	defer func() {
		if err := os.RemoveAll(staging); err != nil {
			logger.Warnf("cleanup staging dir: %v", err)
		}
	}()

	if err := os.MkdirAll(staging, 0o755); err != nil {
		logger.Errorf("create staging dir: %v", err)
		sink.Finished(job.ID, false, "")
		return
	}

	req, err := grab.NewRequest(staging, job.URL)
	if err != nil {
		logger.Errorf("create request: %v", err)
		sink.Finished(job.ID, false, "")
		return
	}
	req = req.WithContext(ctx)

	var (
		mu       sync.Mutex
		savePath string
	)
	resolveSavePath := func(filename string) string {
		mu.Lock()
		defer mu.Unlock()
		if savePath == "" {
			savePath = sink.Started(job.ID, filepath.Base(filename))
		}
		return savePath
	}
	req.BeforeCopy = func(resp *grab.Response) error {
		resolveSavePath(resp.Filename)
		return nil
	}

	resp := h.client.Do(req)
	report := newProgressLogger(logger, h.cfg.ProgressInterval)

	ticker := time.NewTicker(h.cfg.ProgressInterval)
	defer ticker.Stop()

Loop:
	for {
		select {
		case <-ticker.C:
			sink.Progress(job.ID, resp.BytesComplete(), resp.Size())
			report(resp.BytesComplete(), resp.Size())
		case <-resp.Done:
			break Loop
		}
	}

	if err := resp.Err(); err != nil {
		logger.Errorf("download failed: %v", err)
		mu.Lock()
		dest := savePath
		mu.Unlock()
		sink.Finished(job.ID, false, dest)
		return
	}

	dest := resolveSavePath(resp.Filename)
	sink.Progress(job.ID, resp.BytesComplete(), resp.Size())
	if err := moveFile(resp.Filename, dest); err != nil {
		logger.Errorf("move download: %v", err)
		sink.Finished(job.ID, false, dest)
		return
	}

	logger.Infof("download saved to %s (%s)", dest, humanize.IBytes(uint64(resp.BytesComplete())))
	sink.Finished(job.ID, true, dest)
}

func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create destination dir: %w", err)
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove staged file: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy file: %w", err)
	}

	if err := out.Sync(); err != nil {
		_ = out.Close()
		return fmt.Errorf("sync destination: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close destination: %w", err)
	}
	return nil
}

func newProgressLogger(logger *logrus.Entry, every time.Duration) func(done, total int64) {
	var lastLog time.Time
	interval := 10 * every
	return func(done, total int64) {
		now := time.Now()
		if now.Sub(lastLog) < interval {
			return
		}
		lastLog = now
		if total <= 0 {
			logger.Debugf("download progress: %s", humanize.IBytes(uint64(done)))
			return
		}
		percent := float64(done) / float64(total) * 100
		logger.Debugf("download progress: %.1f%% (%s/%s)", percent, humanize.IBytes(uint64(done)), humanize.IBytes(uint64(total)))
	}
}

var _ Host = (*GrabHost)(nil)
