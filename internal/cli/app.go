package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/raphaelgruber/esisync/internal/auth"
	"github.com/raphaelgruber/esisync/internal/cachefile"
	"github.com/raphaelgruber/esisync/internal/config"
	"github.com/raphaelgruber/esisync/internal/contractcache"
	"github.com/raphaelgruber/esisync/internal/esi"
	"github.com/raphaelgruber/esisync/internal/expander"
	"github.com/raphaelgruber/esisync/internal/fetcher"
	"github.com/raphaelgruber/esisync/internal/metrics"
	"github.com/raphaelgruber/esisync/internal/namecache"
	"github.com/raphaelgruber/esisync/internal/service"
	"github.com/raphaelgruber/esisync/internal/syncer"
	"github.com/raphaelgruber/esisync/internal/wordpress"
	"golang.org/x/oauth2"
)

// appOptions selects what a command needs wired.
type appOptions struct {
	destination bool // build a syncer against the WordPress site
	dryRun      bool
}

// app holds everything one command invocation opened. Close releases it
// in reverse order and persists the caches.
type app struct {
	tracking config.Tracking
	metrics  *metrics.Collector
	lock     *cachefile.DirLock
	tokens   *auth.Store
	names    *namecache.Cache
	cache    contractcache.Store
	pipeline *service.Pipeline
}

func openApp(ctx context.Context, opts appOptions) (*app, error) {
	a := &app{metrics: metrics.NewCollector()}
	ok := false
	defer func() {
		if !ok {
			a.Close(ctx)
		}
	}()

	tracking, err := config.LoadTracking(cfg.TrackingFile)
	if err != nil {
		return nil, err
	}
	a.tracking = tracking

	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	a.lock, err = cachefile.Lock(cfg.CacheDir)
	if err != nil {
		if errors.Is(err, cachefile.ErrLocked) {
			return nil, fmt.Errorf("%w: another esisync run is using %s", err, cfg.CacheDir)
		}
		return nil, err
	}

	a.tokens, err = auth.OpenStore(ctx, cfg.TokenDB)
	if err != nil {
		return nil, err
	}
	manager := auth.NewManager(a.tokens, auth.Config{
		ClientID:     cfg.SSOClientID,
		ClientSecret: cfg.SSOClientSecret,
		TokenURL:     cfg.SSOTokenURL,
	}, logger)

	client := esi.New(esi.Config{
		BaseURL:    cfg.ESIBaseURL,
		UserAgent:  cfg.ESIUserAgent,
		RateLimit:  cfg.ESIRateLimit,
		Burst:      cfg.ESIBurst,
		MaxRetries: cfg.ESIMaxRetries,
		Timeout:    cfg.ESITimeout,
	}, logger, a.metrics)

	a.names = namecache.Load(cfg.CacheDir, esi.Names{
		Client:     client,
		Structures: structureTokens(ctx, manager, tracking),
	}, logger)

	a.cache, err = contractcache.Open(ctx, contractcache.Options{
		Backend: cfg.ContractCache,
		Dir:     cfg.CacheDir,
		DB:      cfg.DB(),
	}, logger)
	if err != nil {
		return nil, err
	}

	var sync *syncer.Syncer
	if opts.destination {
		if cfg.WPBaseURL == "" {
			return nil, errors.New("WP_BASE_URL is not set")
		}
		wp := wordpress.New(wordpress.Config{
			BaseURL:     cfg.WPBaseURL,
			User:        cfg.WPUser,
			AppPassword: cfg.WPAppPassword,
		}, logger, a.metrics)
		sync = syncer.New(wp, a.cache, syncer.Options{Status: cfg.WPPostStatus, DryRun: opts.dryRun}, logger)
	}

	a.pipeline = service.NewPipeline(
		fetcher.New(client, manager, fetcher.Options{Concurrency: cfg.Concurrency}, logger),
		expander.New(a.names, logger, a.metrics),
		a.cache,
		sync,
		service.NewRunTracker(logger),
		logger,
	).WithMetrics(a.metrics)
	ok = true
	return a, nil
}

// structureTokens picks the first tracked character with a stored token to
// authenticate structure name lookups. Nil when there is none.
func structureTokens(ctx context.Context, m *auth.Manager, t config.Tracking) oauth2.TokenSource {
	for _, corp := range t.Corporations {
		ts, err := m.TokenSource(ctx, corp.CharacterID)
		if err == nil {
			return ts
		}
		logger.Debug("no structure token", "character_id", corp.CharacterID, "error", err)
	}
	return nil
}

func (a *app) sources() service.Sources {
	return service.Sources{Regions: a.tracking.Regions, Corporations: a.tracking.Corporations}
}

// Close saves the caches and releases resources.
func (a *app) Close(ctx context.Context) {
	if a.names != nil {
		if err := a.names.Save(); err != nil {
			logger.Warn("saving name cache failed", "error", err)
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(ctx); err != nil {
			logger.Warn("closing contract cache failed", "error", err)
		}
	}
	if a.tokens != nil {
		if err := a.tokens.Close(); err != nil {
			logger.Warn("closing token store failed", "error", err)
		}
	}
	if a.lock != nil {
		if err := a.lock.Unlock(); err != nil {
			logger.Warn("releasing cache lock failed", "error", err)
		}
	}
}
