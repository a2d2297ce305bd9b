package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kozaktomas/face-gate/internal/blob"
	"github.com/kozaktomas/face-gate/internal/config"
	"github.com/kozaktomas/face-gate/internal/database"
	"github.com/kozaktomas/face-gate/internal/database/mariadb"
	"github.com/kozaktomas/face-gate/internal/database/postgres"
	"github.com/kozaktomas/face-gate/internal/embedder"
	"github.com/kozaktomas/face-gate/internal/facematch"
	"github.com/kozaktomas/face-gate/internal/history"
	"github.com/kozaktomas/face-gate/internal/logging"
	"github.com/kozaktomas/face-gate/internal/registry"
	"github.com/kozaktomas/face-gate/internal/session"
	"github.com/kozaktomas/face-gate/internal/users"
)

// backend is a relational store with the operational extras both drivers provide.
type backend interface {
	database.Store
	Ping(ctx context.Context) error
	MigrateVersion(ctx context.Context) (int64, error)
}

// openBackend connects to the configured database and applies pending migrations.
func openBackend(ctx context.Context, cfg *config.Config, log *slog.Logger) (backend, error) {
	var (
		store backend
		err   error
	)
	switch cfg.Database.Driver {
	case "mysql":
		store, err = mariadb.Open(&cfg.Database)
	case "postgres":
		store, err = postgres.Open(&cfg.Database)
	default:
		return nil, fmt.Errorf("unsupported DATABASE_DRIVER %q", cfg.Database.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Database.Driver, err)
	}

	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("applying migrations: %w", err)
	}
	version, err := store.MigrateVersion(ctx)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("reading schema version: %w", err)
	}
	log.Info("database ready", "driver", cfg.Database.Driver, "schema_version", version)
	return store, nil
}

// openBlobs returns the configured image store.
func openBlobs(ctx context.Context, cfg *config.Config) (blob.Store, error) {
	switch cfg.Storage.Backend {
	case "s3":
		return blob.NewS3Store(ctx, blob.S3Config{
			Bucket:    cfg.Storage.S3Bucket,
			Region:    cfg.Storage.S3Region,
			Endpoint:  cfg.Storage.S3Endpoint,
			AccessKey: cfg.Storage.S3AccessKey,
			SecretKey: cfg.Storage.S3SecretKey,
			Prefix:    cfg.Storage.S3Prefix,
		})
	default:
		return blob.NewFileStore(cfg.Storage.Path)
	}
}

// app holds the wired service graph shared by serve and the maintenance commands.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	store    backend
	registry *registry.Registry
	tokens   *session.Manager
	recorder *history.Recorder
	users    *users.Service
}

// newApp loads configuration and wires every component.
func newApp(ctx context.Context, component string) (*app, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := logging.New(component, cfg.Log.Level, cfg.Log.Format)

	store, err := openBackend(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	blobs, err := openBlobs(ctx, cfg)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("opening %s image storage: %w", cfg.Storage.Backend, err)
	}

	client := embedder.NewClient(cfg.Embedding.URL, cfg.Embedding.Model, cfg.EmbeddingDim())
	pool := embedder.NewPool(client, embedder.PoolOptions{
		Workers: cfg.Embedding.Workers,
		Timeout: cfg.Embedding.Timeout,
		Retry:   cfg.ExtractionRetry(),
		Logger:  log,
	})

	matcher, err := facematch.NewMatcher(cfg.Threshold())
	if err != nil {
		store.Close()
		return nil, err
	}
	reg := registry.New(store, matcher, registry.Options{
		Retry:        cfg.StoreRetry(),
		UseHNSW:      cfg.Match.Index == "hnsw",
		HNSWMinUsers: cfg.Match.HNSWMinUsers,
		Logger:       log,
	})
	tokens := session.NewManager(cfg.Auth.TokenTTL, session.WithLogger(log))
	recorder := history.NewRecorder(store, history.Options{
		QueueSize:    cfg.History.QueueSize,
		WriteTimeout: cfg.Database.Timeout,
		Logger:       log,
	})

	svc := users.New(users.Deps{
		Store:        store,
		Blobs:        blobs,
		Embedder:     pool,
		Registry:     reg,
		Tokens:       tokens,
		History:      recorder,
		Logger:       log,
		StoreTimeout: cfg.Database.Timeout,
		Retry:        cfg.StoreRetry(),
	})

	log.Info("service configured",
		"model", client.Model(),
		"threshold", matcher.Threshold(),
		"storage", cfg.Storage.Backend,
		"token_ttl", tokens.TTL().String(),
	)
	return &app{
		cfg:      cfg,
		log:      log,
		store:    store,
		registry: reg,
		tokens:   tokens,
		recorder: recorder,
		users:    svc,
	}, nil
}

// close drains history and releases the database.
func (a *app) close(ctx context.Context) {
	if err := a.recorder.Close(ctx); err != nil {
		a.log.Warn("history recorder did not drain", "error", err)
	}
	a.tokens.Stop()
	a.registry.Stop()
	if err := a.store.Close(); err != nil {
		a.log.Warn("closing database", "error", err)
	}
}
