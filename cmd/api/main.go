//	@title			Oncedrop API
//	@version		1.0
//	@description	One-time download relay for client-side encrypted files. The server stores opaque ciphertext and forgets it after the first completed download.
//
//	@host		localhost:8080
//	@BasePath	/api/v1

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"golang.org/x/sync/errgroup"

	"github.com/oncedrop/oncedrop/internal/config"
	"github.com/oncedrop/oncedrop/internal/db"
	"github.com/oncedrop/oncedrop/internal/metrics"
	appMiddleware "github.com/oncedrop/oncedrop/internal/middleware"
	"github.com/oncedrop/oncedrop/internal/orphan"
	"github.com/oncedrop/oncedrop/internal/registry"
	"github.com/oncedrop/oncedrop/internal/share"
	"github.com/oncedrop/oncedrop/internal/storage"

	_ "github.com/oncedrop/oncedrop/docs/swagger"
)

func main() {
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	blobs, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}

	var ledger orphan.Ledger = orphan.NewMemoryLedger()
	if cfg.DatabaseURL != "" {
		pool, err := db.Connect(ctx, cfg.DatabaseURL, 5*time.Second)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			return err
		}
		ledger = orphan.NewPostgresLedger(pool)
	}

	// Wire dependencies: registry + storage, then issuer and gate, then handler
	prom := metrics.NewProm("oncedrop", nil)
	reg := registry.New()
	prom.TrackArtifacts(reg.Len)

	issuer := share.NewIssuer(reg, blobs, prom, logger)
	gate := share.NewGate(reg, blobs, ledger,
		share.WithDeliveryTimeout(cfg.DeliveryTimeout),
		share.WithMetrics(prom),
		share.WithLogger(logger),
	)
	shareHandler := share.NewHandler(issuer, gate, cfg.MaxUploadBytes, cfg.PublicBaseURL, logger)
	sweeper := orphan.NewSweeper(ledger, blobs, prom, logger, cfg.SweepInterval)

	// Router
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(appMiddleware.Logger(logger, prom))
	r.Use(chiMiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"Content-Disposition", share.EncryptedNameHeader},
		MaxAge:         300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	// Swagger UI, served at http://localhost:8080/swagger/
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/files", shareHandler.Routes)
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", "port", cfg.Port, "env", cfg.AppEnv, "storage", cfg.StorageBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	purgeUndelivered(blobs, reg.Drain(), logger)
	logger.Info("server stopped")
	return nil
}

// purgeUndelivered removes blobs whose links die with this process.
func purgeUndelivered(blobs storage.Storage, handles []string, logger *slog.Logger) {
	if len(handles) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	failed := 0
	for _, h := range handles {
		if err := blobs.Remove(ctx, h); err != nil {
			failed++
			logger.Error("remove undelivered blob", "handle", h, "err", err)
		}
	}
	logger.Info("purged undelivered blobs", "count", len(handles)-failed, "failed", failed)
}

func openStorage(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	var (
		backend storage.Storage
		err     error
	)
	switch cfg.StorageBackend {
	case config.BackendMinio:
		backend, err = storage.NewMinioStore(ctx, storage.MinioOptions{
			Endpoint:  cfg.StorageEndpoint,
			AccessKey: cfg.StorageAccessKey,
			SecretKey: cfg.StorageSecretKey,
			Bucket:    cfg.StorageBucket,
			Prefix:    cfg.StoragePrefix,
			UseSSL:    cfg.StorageUseSSL,
		})
	default:
		backend, err = storage.NewFileStore(cfg.UploadDir)
	}
	if err != nil {
		return nil, err
	}
	return storage.NewRetrying(backend), nil
}
