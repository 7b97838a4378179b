package main

import (
	"context"
	"fmt"

	"github.com/abduss/imagevault/internal/asset"
	"github.com/abduss/imagevault/internal/config"
	"github.com/abduss/imagevault/internal/logger"
	"github.com/abduss/imagevault/internal/presigned"
	"github.com/abduss/imagevault/internal/storage"
	"github.com/abduss/imagevault/internal/thumbnail"
	"go.uber.org/zap"
)

// backend is everything a command needs: the pipeline plus an in-process
// generator that must be drained before exit.
type backend struct {
	service   *asset.Service
	generator *thumbnail.Generator
	sweeper   *thumbnail.Sweeper
	links     *presigned.Service
	log       *zap.Logger
	close     func()
}

type backendFactory func(ctx context.Context) (*backend, error)

// connectBackend wires the pipeline against PostgreSQL and MinIO using the
// same environment configuration as imagevaultd.
func connectBackend(ctx context.Context) (*backend, error) {
	log, err := logger.Init()
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	pool, err := storage.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := storage.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	client, err := storage.NewMinIOClient(cfg.MinIO)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect minio: %w", err)
	}
	if err := storage.EnsureBucket(ctx, client, cfg.MinIO); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}

	b := newBackend(
		asset.NewRepository(pool),
		asset.NewMinIOStore(client, cfg.MinIO.Bucket, cfg.MinIO.OpTimeout),
		client,
		cfg,
		log,
	)
	b.close = func() {
		pool.Close()
		_ = log.Sync()
	}
	return b, nil
}

func newBackend(repo asset.MetadataStore, blobs asset.BlobStore, signer presigned.Signer, cfg config.Config, log *zap.Logger) *backend {
	locks := asset.NewCoordinator()
	generator := thumbnail.NewGenerator(repo, blobs, locks, thumbnail.Config{
		Render: thumbnail.RenderOptions{
			Width:   cfg.Thumbnail.Width,
			Height:  cfg.Thumbnail.Height,
			Quality: cfg.Thumbnail.Quality,
		},
		Retry: thumbnail.RetryPolicy{
			BaseDelay: cfg.Thumbnail.BaseDelay,
			MaxDelay:  cfg.Thumbnail.MaxDelay,
		},
		Workers:        cfg.Thumbnail.Workers,
		QueueSize:      cfg.Thumbnail.QueueSize,
		AttemptTimeout: cfg.Thumbnail.AttemptTimeout,
	}, log.Named("thumbnail"))

	return &backend{
		service: asset.NewService(repo, blobs, generator,
			asset.WithLogger(log.Named("asset")),
			asset.WithMaxSize(cfg.Upload.MaxBytes),
			asset.WithCoordinator(locks),
		),
		generator: generator,
		sweeper:   thumbnail.NewSweeper(repo, generator, cfg.Sweep.Interval, cfg.Sweep.StaleAfter, log.Named("sweeper")),
		links:     presigned.NewService(signer, cfg.MinIO.Bucket, cfg.MinIO.PresignTTL),
		log:       log,
		close:     func() {},
	}
}
