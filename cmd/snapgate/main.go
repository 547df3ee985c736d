// Package main wires together the snapshot gateway service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/jusanz/snapgate/internal/api"
	archivegcs "github.com/jusanz/snapgate/internal/archive/gcs"
	archivelocal "github.com/jusanz/snapgate/internal/archive/local"
	archivememory "github.com/jusanz/snapgate/internal/archive/memory"
	"github.com/jusanz/snapgate/internal/clock/system"
	"github.com/jusanz/snapgate/internal/config"
	"github.com/jusanz/snapgate/internal/crawlqueue"
	collyfetcher "github.com/jusanz/snapgate/internal/fetcher/colly"
	headlessfetcher "github.com/jusanz/snapgate/internal/fetcher/headless"
	"github.com/jusanz/snapgate/internal/gateway"
	"github.com/jusanz/snapgate/internal/hash/sha256"
	"github.com/jusanz/snapgate/internal/id/uuid"
	"github.com/jusanz/snapgate/internal/logging"
	"github.com/jusanz/snapgate/internal/metrics"
	pubsubpublisher "github.com/jusanz/snapgate/internal/publisher/pubsub"
	"github.com/jusanz/snapgate/internal/scheduler"
	"github.com/jusanz/snapgate/internal/snapshot"
	memStore "github.com/jusanz/snapgate/internal/storage/memory"
	pgStore "github.com/jusanz/snapgate/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	store, err := buildStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}
	defer store.Close()

	clock := system.New()
	selector := crawlqueue.NewSelector(store)
	marker := crawlqueue.NewMarker(store, clock)
	writer := snapshot.NewWriter(store, logger)

	fetcher, cleanup := buildFetcher(cfg, logger)
	defer cleanup()

	archive := buildArchive(ctx, cfg, logger)
	publisher, pubCleanup := buildPublisher(ctx, cfg, logger)
	defer pubCleanup()

	if cfg.Scheduler.Enabled {
		sched := scheduler.New(
			selector,
			marker,
			writer,
			fetcher,
			archive,
			publisher,
			sha256.New(),
			clock,
			scheduler.Config{
				Interval:    cfg.Scheduler.Interval(),
				Topic:       cfg.PubSub.TopicName,
				BlobPrefix:  cfg.Archive.Prefix,
				ContentType: cfg.Archive.ContentType,
			},
			logger,
		)
		go sched.Run(ctx)
	}

	server := api.NewServer(store, selector, marker, writer, cfg, logger)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.Int("port", cfg.Server.Port))
		errc <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", zap.Error(err))
		}
	}
}

func buildStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (gateway.ContentStore, error) {
	switch cfg.DB.Provider {
	case "memory":
		logger.Warn("using in-memory store; data will not survive restarts")
		return memStore.New(system.New(), uuid.New()), nil
	case "postgres":
		store, err := pgStore.New(ctx, pgStore.Config{
			DSN:             cfg.DB.DSN,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifetimeMin) * time.Minute,
		})
		if err != nil {
			return nil, err
		}
		if cfg.DB.Bootstrap {
			if err := store.Bootstrap(ctx); err != nil {
				store.Close()
				return nil, fmt.Errorf("bootstrap schema: %w", err)
			}
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown db provider %q", cfg.DB.Provider)
	}
}

func buildFetcher(cfg config.Config, logger *zap.Logger) (gateway.Fetcher, func()) {
	if cfg.Headless.Enabled {
		f, err := headlessfetcher.New(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Fetcher.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err == nil {
			return f, f.Close
		}
		logger.Warn("headless fetcher init failed, falling back to http", zap.Error(err))
	}
	f := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Fetcher.UserAgent,
		RespectRobots: cfg.Fetcher.RespectRobots,
		Timeout:       time.Duration(cfg.Fetcher.TimeoutSeconds) * time.Second,
	})
	return f, func() {}
}

func buildArchive(ctx context.Context, cfg config.Config, logger *zap.Logger) gateway.BlobStore {
	switch cfg.Archive.Provider {
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			logger.Warn("gcs client init failed, archiving disabled", zap.Error(err))
			return nil
		}
		store, err := archivegcs.New(client, archivegcs.Config{Bucket: cfg.Archive.GCSBucket})
		if err != nil {
			logger.Warn("gcs archive init failed, archiving disabled", zap.Error(err))
			return nil
		}
		return store
	case "local":
		store, err := archivelocal.New(archivelocal.Config{BaseDir: cfg.Archive.Dir})
		if err != nil {
			logger.Warn("local archive init failed, archiving disabled", zap.Error(err))
			return nil
		}
		return store
	case "memory":
		return archivememory.NewBlobStore()
	default:
		return nil
	}
}

func buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (gateway.Publisher, func()) {
	noop := func() {}
	if cfg.PubSub.ProjectID == "" || cfg.PubSub.TopicName == "" {
		return nil, noop
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		logger.Warn("pubsub client init failed, events disabled", zap.Error(err))
		return nil, noop
	}
	pub, err := pubsubpublisher.New(client)
	if err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("pubsub client close failed", zap.Error(closeErr))
		}
		logger.Warn("pubsub publisher init failed, events disabled", zap.Error(err))
		return nil, noop
	}
	cleanup := func() {
		if err := pub.Close(); err != nil {
			logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	return pub, cleanup
}
