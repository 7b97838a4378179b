package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/abduss/imagevault/internal/asset"
	"github.com/abduss/imagevault/internal/config"
	"github.com/abduss/imagevault/internal/logger"
	"github.com/abduss/imagevault/internal/metrics"
	"github.com/abduss/imagevault/internal/server"
	"github.com/abduss/imagevault/internal/storage"
	"github.com/abduss/imagevault/internal/thumbnail"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()

	log, err := logger.Init()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.InitMetrics()

	dbPool, err := storage.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer dbPool.Close()

	if err := storage.Migrate(ctx, dbPool); err != nil {
		log.Fatal("migrate schema", zap.Error(err))
	}

	minioClient, err := storage.NewMinIOClient(cfg.MinIO)
	if err != nil {
		log.Fatal("connect minio", zap.Error(err))
	}
	if err := storage.EnsureBucket(ctx, minioClient, cfg.MinIO); err != nil {
		log.Fatal("ensure bucket", zap.Error(err))
	}

	repo := asset.NewRepository(dbPool)
	blobs := asset.NewMinIOStore(minioClient, cfg.MinIO.Bucket, cfg.MinIO.OpTimeout)
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
	generator.Start(ctx)

	sweeper := thumbnail.NewSweeper(repo, generator, cfg.Sweep.Interval, cfg.Sweep.StaleAfter, log.Named("sweeper"))

	router := server.NewRouter(server.Dependencies{
		Config:      cfg,
		DB:          dbPool,
		ObjectStore: storage.NewBucketProbe(minioClient, cfg.MinIO.Bucket),
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		log.Info("imagevault listening", zap.String("addr", cfg.Server.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		log.Info("shutting down gracefully")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", zap.Error(err))
		}
		if err := generator.Stop(shutdownCtx); err != nil {
			log.Warn("thumbnail generator shutdown", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("imagevault stopped with error", zap.Error(err))
	}
}
