// Package resolver turns magnets into direct download links through the
// unlock service, caching remote ids per info hash.
package resolver

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"watchy/internal/alldebrid"
	"watchy/internal/domain"
	"watchy/internal/magnet"
	"watchy/internal/metrics"
)

const defaultUnlockConcurrency = 4

// Client is the subset of the unlock service used by the pipeline.
type Client interface {
	UploadMagnet(ctx context.Context, magnet string) (*alldebrid.UploadResult, error)
	StatusByID(ctx context.Context, id string) (*alldebrid.MagnetStatus, error)
	Files(ctx context.Context, ids []string) ([]alldebrid.MagnetFiles, error)
	LegacyStatus(ctx context.Context, id string) (*alldebrid.MagnetStatus, error)
	UnlockLink(ctx context.Context, link string) (*alldebrid.UnlockedLink, error)
}

// Cache maps magnet hashes to remote ids.
type Cache interface {
	MagnetID(ctx context.Context, hash string) (string, bool, error)
	SetMagnetID(ctx context.Context, hash, id string) error
}

type Config struct {
	UnlockConcurrency int
	Logger            *logrus.Logger
	Metrics           *metrics.Manager
}

type Pipeline struct {
	cfg    Config
	client Client
	cache  Cache
}

func NewPipeline(cfg Config, client Client, cache Cache) *Pipeline {
	if cfg.UnlockConcurrency <= 0 {
		cfg.UnlockConcurrency = defaultUnlockConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Pipeline{
		cfg:    cfg,
		client: client,
		cache:  cache,
	}
}

// ResolveResult resolves the magnet of a search result.
func (p *Pipeline) ResolveResult(ctx context.Context, result domain.SearchResult) (domain.Resolution, error) {
	return p.Resolve(ctx, result.Magnet)
}

// Resolve produces the direct links of a magnet. Still caching and no files
// are reported through the resolution status; only remote failures are errors.
func (p *Pipeline) Resolve(ctx context.Context, magnetURI string) (domain.Resolution, error) {
	res, err := p.resolve(ctx, strings.TrimSpace(magnetURI))
	if err != nil {
		p.cfg.Metrics.Resolution("error")
		return res, err
	}
	p.cfg.Metrics.Resolution(string(res.Status))
	return res, nil
}

func (p *Pipeline) resolve(ctx context.Context, magnetURI string) (domain.Resolution, error) {
	hash := magnet.ExtractHash(magnetURI)
	logger := p.cfg.Logger.WithField("hash", hash)
	res := domain.Resolution{Hash: hash}

	if id, ok := p.cachedID(ctx, logger, hash); ok {
		files := p.fastPath(ctx, logger, id)
		if len(files) > 0 {
			logger.WithField("remote_id", id).Info("resolved from cached magnet id")
			res.Status = domain.ResolutionReady
			res.RemoteID = id
			res.Files = files
			return res, nil
		}
	}

	p.cfg.Metrics.RemoteCall(StepUpload)
	upload, err := p.client.UploadMagnet(ctx, magnetURI)
	if err != nil {
		return res, &StepError{Step: StepUpload, Err: err}
	}
	res.RemoteID = upload.ID
	if err := p.cache.SetMagnetID(ctx, hash, upload.ID); err != nil {
		logger.Warnf("store magnet id: %v", err)
	}

	if !upload.Ready {
		logger.WithField("remote_id", upload.ID).Info("magnet is still caching")
		res.Status = domain.ResolutionStillCaching
		return res, nil
	}

	files, err := p.listFiles(ctx, upload.ID)
	if err != nil {
		return res, &StepError{Step: StepFiles, Err: err}
	}
	if len(files) == 0 {
		logger.Info("file listing empty, trying legacy links")
		files, err = p.legacyFiles(ctx, logger, upload.ID)
		if err != nil {
			return res, err
		}
	}

	if len(files) == 0 {
		res.Status = domain.ResolutionNoFiles
		return res, nil
	}
	res.Status = domain.ResolutionReady
	res.Files = files
	return res, nil
}

func (p *Pipeline) cachedID(ctx context.Context, logger *logrus.Entry, hash string) (string, bool) {
	id, ok, err := p.cache.MagnetID(ctx, hash)
	if err != nil {
		logger.Warnf("read magnet id cache: %v", err)
		return "", false
	}
	return id, ok
}

// fastPath returns the files of a cached id. Any failure is treated as a
// stale id so the caller falls through to uploading again.
func (p *Pipeline) fastPath(ctx context.Context, logger *logrus.Entry, id string) []domain.ResolvedFile {
	logger = logger.WithField("remote_id", id)

	p.cfg.Metrics.RemoteCall(StepStatus)
	status, err := p.client.StatusByID(ctx, id)
	if err != nil {
		logger.Warnf("cached magnet status: %v", err)
		return nil
	}
	if !status.Ready() {
		logger.WithField("status_code", status.StatusCode).Debug("cached magnet not ready")
		return nil
	}

	files, err := p.listFiles(ctx, id)
	if err != nil {
		logger.Warnf("cached magnet files: %v", err)
		return nil
	}
	return files
}

func (p *Pipeline) listFiles(ctx context.Context, id string) ([]domain.ResolvedFile, error) {
	p.cfg.Metrics.RemoteCall(StepFiles)
	listings, err := p.client.Files(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	var files []domain.ResolvedFile
	for _, listing := range listings {
		if listing.Error != nil {
			continue
		}
		files = append(files, Flatten(listing.Files, "")...)
	}
	return files, nil
}

type unlockResult struct {
	file domain.ResolvedFile
	err  error
}

// legacyFiles unlocks every hoster link of the legacy status response. Links
// that fail to unlock are skipped.
func (p *Pipeline) legacyFiles(ctx context.Context, logger *logrus.Entry, id string) ([]domain.ResolvedFile, error) {
	p.cfg.Metrics.RemoteCall(StepStatus)
	status, err := p.client.LegacyStatus(ctx, id)
	if err != nil {
		return nil, &StepError{Step: StepStatus, Err: err}
	}

	results := make([]unlockResult, len(status.Links))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.UnlockConcurrency)
	for i, ref := range status.Links {
		g.Go(func() error {
			p.cfg.Metrics.RemoteCall("unlock")
			unlocked, err := p.client.UnlockLink(gctx, ref.Link)
			if err != nil {
				results[i].err = err
				return nil
			}
			results[i].file = domain.ResolvedFile{Filename: unlocked.Filename, DirectURL: unlocked.Link}
			return nil
		})
	}
	_ = g.Wait()

	files := make([]domain.ResolvedFile, 0, len(results))
	for i, r := range results {
		if r.err != nil {
			logger.WithField("link", status.Links[i].Link).Warnf("skip link: %v", r.err)
			continue
		}
		files = append(files, r.file)
	}
	return files, nil
}
