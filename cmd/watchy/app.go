package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"watchy/internal/alldebrid"
	"watchy/internal/config"
	"watchy/internal/downloader"
	"watchy/internal/metrics"
	"watchy/internal/reporter"
	"watchy/internal/repository"
	"watchy/internal/repository/redis"
	"watchy/internal/repository/sqlite"
	"watchy/internal/resolver"
	"watchy/internal/service"
	"watchy/internal/storage"
)

// app holds the wired orchestrator for one process.
type app struct {
	cfg    config.Config
	logger *logrus.Logger

	store    repository.KVStore
	library  service.LibraryService
	auth     service.AuthService
	metrics  *metrics.Manager
	pipeline *resolver.Pipeline
	reporter *reporter.Reporter
	host     *downloader.GrabHost
	queue    *downloader.Queue
	storage  storage.Service
	mirror   *storage.Mirror

	closers []io.Closer
}

var newLogger = config.NewLogger

func newApp(ctx context.Context, configPath string) (_ *app, err error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, logCloser, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, closers: []io.Closer{logCloser}}
	defer func() {
		if err != nil {
			a.release()
		}
	}()

	a.store, err = openStore(cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.store)
	if err = a.store.Init(ctx); err != nil {
		return nil, fmt.Errorf("init %s store: %w", cfg.Store.Driver, err)
	}
	a.library = service.NewLibraryService(a.store)

	a.auth, err = service.NewAuthService(cfg.Auth.PasswordHash, cfg.Auth.JWTSecret, time.Duration(cfg.Auth.TokenTTLMinutes)*time.Minute)
	if err != nil {
		return nil, err
	}

	if cfg.Metrics.Enabled {
		a.metrics = metrics.NewManager()
	}

	client := alldebrid.NewClient(alldebrid.Config{
		APIKey:        cfg.AllDebrid.APIKey,
		Agent:         cfg.AllDebrid.Agent,
		RatePerSecond: cfg.AllDebrid.RateLimit,
	})
	a.pipeline = resolver.NewPipeline(resolver.Config{Logger: logger, Metrics: a.metrics}, client, a.library)

	a.reporter = reporter.New(reporter.Config{Logger: logger}, a.library)
	a.host = downloader.NewGrabHost(downloader.HostConfig{
		StagingDir: cfg.Download.StagingDir,
		Logger:     logger,
	})
	a.queue = downloader.NewQueue(downloader.Config{
		MaxConcurrent: cfg.Download.MaxConcurrent,
		DefaultDir:    cfg.Download.DataDir,
		Logger:        logger,
		Metrics:       a.metrics,
	}, a.host, a.reporter)

	if cfg.Storage.Bucket != "" {
		if err := a.setupMirror(ctx); err != nil {
			logger.Warnf("storage mirror disabled: %v", err)
		}
	}

	return a, nil
}

func openStore(cfg config.Config) (repository.KVStore, error) {
	switch strings.ToLower(cfg.Store.Driver) {
	case "", "sqlite":
		db, err := sqlite.Open(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		return sqlite.NewKVStore(db), nil
	case "redis":
		return redis.NewKVStore(redis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		}), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func (a *app) setupMirror(ctx context.Context) error {
	client, err := storage.NewS3Client(ctx, storage.S3Config{
		Bucket:   a.cfg.Storage.Bucket,
		Region:   a.cfg.Storage.Region,
		Endpoint: a.cfg.Storage.Endpoint,
		Profile:  a.cfg.AWS.Profile,
	})
	if err != nil {
		return err
	}
	svc, err := storage.NewS3Service(client, a.cfg.Storage.Bucket)
	if err != nil {
		return err
	}
	a.storage = svc
	a.mirror = storage.NewMirror(storage.MirrorConfig{
		KeyPrefix: a.cfg.Storage.KeyPrefix,
		Logger:    a.logger,
	}, svc)
	unsubscribe := a.reporter.Subscribe(a.mirror.Handle)
	a.closers = append(a.closers, closerFunc(func() error {
		unsubscribe()
		return nil
	}))
	a.logger.Infof("mirroring completed downloads to s3 bucket %s (region %s)", a.cfg.Storage.Bucket, a.cfg.Storage.Region)
	return nil
}

// Close stops admissions, waits for transfers to report back and flushes
// pending events before the store goes away.
func (a *app) Close() {
	a.queue.Close()
	a.host.Wait()
	a.reporter.Close()
	if a.mirror != nil {
		a.mirror.Close()
	}
	a.release()
}

// release closes the registered closers in reverse registration order.
func (a *app) release() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warnf("close: %v", err)
		}
	}
	a.closers = nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
