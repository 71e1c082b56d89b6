// Package app initializes and holds long-lived services of a command,
// acting as a dependency injection container.
package app

import (
	"context"
	"fmt"

	pubsubapi "cloud.google.com/go/pubsub"
	gcsapi "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/JakeFAU/goodreads-search-crawler/internal/config"
	"github.com/JakeFAU/goodreads-search-crawler/internal/crawler"
	"github.com/JakeFAU/goodreads-search-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/goodreads-search-crawler/internal/storage/gcs"
	"github.com/JakeFAU/goodreads-search-crawler/internal/storage/local"
	"github.com/JakeFAU/goodreads-search-crawler/internal/storage/postgres"
	"github.com/JakeFAU/goodreads-search-crawler/internal/store"
)

// App holds the services shared by the commands. Config and logger are
// always present; the integrations are built by Connect and stay nil when
// not configured.
type App struct {
	// ConfigPath is the file the configuration was read from, if any.
	ConfigPath string
	Config     config.Config
	Logger     *zap.Logger
	Registry   *prometheus.Registry

	blobStore crawler.BlobStore
	publisher *pubsub.Publisher
	runStore  *postgres.RunStore

	closers []func()
}

// New creates an App with a fresh metrics registry.
func New(cfg config.Config, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return &App{Config: cfg, Logger: logger, Registry: reg}
}

// Connect builds the optional integrations selected by the configuration.
// It fails fast when a configured integration cannot be initialized.
func (a *App) Connect(ctx context.Context) error {
	if err := a.connectStorage(ctx); err != nil {
		return err
	}
	if err := a.connectNotify(ctx); err != nil {
		return err
	}
	return a.connectDB(ctx)
}

func (a *App) connectStorage(ctx context.Context) error {
	cfg := a.Config.Storage
	switch cfg.Provider {
	case config.StorageLocal:
		bs, err := local.New(local.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return fmt.Errorf("init local storage: %w", err)
		}
		a.blobStore = bs
		a.Logger.Info("using local storage", zap.String("dir", cfg.LocalDir))
	case config.StorageGCS:
		client, err := gcsapi.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init gcs client: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		bs, err := gcs.New(client, gcs.Config{Bucket: cfg.Bucket, Prefix: cfg.Prefix})
		if err != nil {
			return fmt.Errorf("init gcs storage: %w", err)
		}
		a.blobStore = bs
		a.Logger.Info("using gcs storage", zap.String("bucket", cfg.Bucket))
	}
	return nil
}

func (a *App) connectNotify(ctx context.Context) error {
	cfg := a.Config.Notify
	if cfg.Topic == "" {
		return nil
	}
	client, err := pubsubapi.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return fmt.Errorf("init pubsub client: %w", err)
	}
	a.publisher = pubsub.New(client, cfg.Topic)
	a.closers = append(a.closers, func() {
		a.publisher.Close()
		_ = client.Close()
	})
	a.Logger.Info("run notifications enabled", zap.String("topic", cfg.Topic))
	return nil
}

func (a *App) connectDB(ctx context.Context) error {
	cfg := a.Config.DB
	if cfg.DSN == "" {
		return nil
	}
	rs, err := postgres.NewRunStore(ctx, postgres.RunStoreConfig{
		DSN:             cfg.DSN,
		MaxConns:        int32(cfg.MaxConns), //nolint:gosec // validated small value
		MaxConnLifetime: a.Config.ConnLifetime(),
	})
	if err != nil {
		return fmt.Errorf("init run store: %w", err)
	}
	a.closers = append(a.closers, rs.Close)
	if err := rs.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure run schema: %w", err)
	}
	a.runStore = rs
	return nil
}

// BlobStore returns the configured upload target, or nil.
func (a *App) BlobStore() crawler.BlobStore {
	return a.blobStore
}

// Publisher returns the run notification publisher, or nil.
func (a *App) Publisher() crawler.Publisher {
	if a.publisher == nil {
		return nil
	}
	return a.publisher
}

// RunStore returns the run repository, or nil.
func (a *App) RunStore() store.RunRepository {
	if a.runStore == nil {
		return nil
	}
	return a.runStore
}

// Close releases the integrations in reverse order and flushes the logger.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	_ = a.Logger.Sync()
}
