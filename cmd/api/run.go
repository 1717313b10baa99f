package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"docflow/api/internal/app"
	"docflow/api/internal/config"
	"docflow/api/internal/logging"
	"docflow/api/internal/metrics"
	"docflow/api/internal/queue"
	"docflow/api/internal/search"
	"docflow/api/internal/storage"
	"docflow/api/internal/store"
	"go.uber.org/zap"
)

// runtime holds the process-wide collaborators shared by serve and worker.
type runtime struct {
	cfg     config.Config
	logger  *zap.Logger
	db      *sql.DB
	search  *search.Service
	closers []func()
}

func (rt *runtime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	_ = rt.logger.Sync()
}

func bootstrap(ctx context.Context, debug bool) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	level := cfg.LogLevel
	if debug {
		level = "debug"
	}
	logger, err := logging.New(cfg.Environment, level)
	if err != nil {
		return nil, err
	}

	db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolOptions{
		MaxOpenConns:    cfg.DBMaxConns,
		ConnMaxLifetime: cfg.DBConnMaxAge,
	})
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	rt := &runtime{cfg: cfg, logger: logger, db: db}
	rt.closers = append(rt.closers, func() { _ = db.Close() })

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("migrations failed: %w", err)
	}
	if len(applied) > 0 {
		logger.Info("applied migrations", zap.Strings("versions", applied))
	}
	return rt, nil
}

// service wires the Service for this process. The queue is only connected in
// queue mode; inline mode runs extraction on the API process.
func (rt *runtime) service(ctx context.Context, m *metrics.Metrics) (*app.Service, *queue.RedisQueue, error) {
	blobs, err := openBlobs(ctx, rt.cfg)
	if err != nil {
		return nil, nil, err
	}

	var jobs *queue.RedisQueue
	if rt.cfg.ExtractionMode == config.ExtractionQueue {
		jobs, err = queue.NewRedisQueue(rt.cfg.RedisURL, rt.cfg.QueueKey)
		if err != nil {
			return nil, nil, fmt.Errorf("redis connection failed: %w", err)
		}
		rt.closers = append(rt.closers, func() { _ = jobs.Close() })
	}

	pgfts := search.NewPgFTS(rt.db)
	var searchService *search.Service
	if strings.TrimSpace(rt.cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(rt.cfg.MeiliURL, rt.cfg.MeiliMasterKey, rt.logger)
		rt.closers = append(rt.closers, meiliClient.Close)
		searchService = search.NewService(meiliClient, pgfts, rt.logger)
	} else {
		searchService = search.NewService(nil, pgfts, rt.logger)
	}

	rt.search = searchService

	svc := app.New(rt.cfg, app.Deps{
		Store:   store.NewPostgresStore(rt.db),
		Blobs:   blobs,
		Queue:   jobs,
		Search:  searchService,
		Metrics: m,
		Logger:  rt.logger,
	})
	return svc, jobs, nil
}

func openBlobs(ctx context.Context, cfg config.Config) (storage.Blobs, error) {
	if cfg.StorageBackend == config.StorageMinIO {
		blobs, err := storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("object storage failed: %w", err)
		}
		return blobs, nil
	}
	blobs, err := storage.NewLocalStore(cfg.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("local storage failed: %w", err)
	}
	return blobs, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func runServe(parent context.Context, debug bool) error {
	ctx, stop := signalContext(parent)
	defer stop()

	rt, err := bootstrap(ctx, debug)
	if err != nil {
		return err
	}
	defer rt.close()

	m := metrics.New()
	svc, _, err := rt.service(ctx, m)
	if err != nil {
		return err
	}
	go rt.reindex()

	httpServer := app.NewHTTPServer(svc, rt.cfg.CORSOrigin, m, rt.logger)
	server := &http.Server{
		Addr:              rt.cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		rt.logger.Info("docflow API listening",
			zap.String("addr", rt.cfg.Addr),
			zap.String("extraction_mode", rt.cfg.ExtractionMode),
			zap.String("storage_backend", rt.cfg.StorageBackend),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	rt.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		rt.logger.Warn("shutdown error", zap.Error(err))
	}
	svc.Wait()
	return nil
}

// reindex rebuilds the primary search index from Postgres so that texts
// written while Meilisearch was unreachable become searchable.
func (rt *runtime) reindex() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	rt.search.ReindexAll(ctx)
}

func runWorker(parent context.Context, debug bool) error {
	ctx, stop := signalContext(parent)
	defer stop()

	rt, err := bootstrap(ctx, debug)
	if err != nil {
		return err
	}
	defer rt.close()

	if rt.cfg.ExtractionMode != config.ExtractionQueue {
		return fmt.Errorf("worker requires EXTRACTION_MODE=%s", config.ExtractionQueue)
	}
	svc, jobs, err := rt.service(ctx, metrics.New())
	if err != nil {
		return err
	}
	worker := app.NewWorker(jobs, svc, rt.logger, rt.cfg.WorkerPollTimeout)
	return worker.Run(ctx)
}

func runMigrate(parent context.Context, debug bool) error {
	ctx, stop := signalContext(parent)
	defer stop()

	rt, err := bootstrap(ctx, debug)
	if err != nil {
		return err
	}
	rt.close()
	fmt.Fprintln(os.Stdout, "migrations up to date")
	return nil
}
