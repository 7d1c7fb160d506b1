/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the Warp benefits engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags) and validate it
  2. Build the zap logger
  3. Open the store (SQLite or PostgreSQL)
  4. Wire sessions (memory or Redis revocations), the payment provider
     (Flash or sandbox) and the schedule file store (local or S3)
  5. Seed the first operator when configured
  6. Start the payment reconciler and the HTTP server

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: $PORT or 8080)
  -db      SQLite database path (default: $DB_PATH or benefits.db)
           Use ":memory:" for in-memory database
  -driver  sqlite or postgres (default: $DB_DRIVER or sqlite)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the reconciler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database and Redis connections
  5. Exit

EXAMPLES:
  # Development: SQLite file, Flash sandbox, local uploads
  ./server -db="./data/benefits.db"

  # Production
  APP_ENV=production DB_DRIVER=postgres DATABASE_URL=postgres://... \
  JWT_SECRET=... FLASH_BASE_URL=https://api.flash.example FLASH_API_KEY=... \
  FLASH_WEBHOOK_SECRET=... UPLOAD_BACKEND=s3 S3_BUCKET=... ./server

SEE ALSO:
  - config/config.go: Every setting
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/benefits-engine/api"
	"github.com/warp/benefits-engine/benefit"
	"github.com/warp/benefits-engine/config"
	"github.com/warp/benefits-engine/filestore"
	"github.com/warp/benefits-engine/flash"
	"github.com/warp/benefits-engine/session"
	"github.com/warp/benefits-engine/store/postgres"
	"github.com/warp/benefits-engine/store/sqlite"
	"go.uber.org/zap"
)

// sandboxSettleAfter is how long sandbox payments stay Processing.
const sandboxSettleAfter = time.Minute

// database is what both SQL stores provide.
type database interface {
	api.Backend
	session.OperatorStore
	Close() error
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.Production() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	// Initialize store
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer db.Close()
	logger.Info("database ready", zap.String("driver", cfg.DBDriver))

	// Sessions
	revocations, closeRevocations, err := openRevocations(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize revocations: %w", err)
	}
	defer closeRevocations()
	sessions := session.NewManager(db, revocations, cfg.JWTSecret, cfg.SessionTTL)

	if cfg.SeedOperatorEmail != "" {
		if _, err := sessions.Register(ctx, cfg.SeedOperatorEmail, "Administrator", "admin", cfg.SeedOperatorPassword); err != nil {
			return fmt.Errorf("seed operator: %w", err)
		}
		logger.Info("operator seeded", zap.String("email", cfg.SeedOperatorEmail))
	}

	// Payment provider
	var provider benefit.Provider
	if cfg.UsesSandbox() {
		provider = flash.NewSandbox(sandboxSettleAfter)
		logger.Warn("FLASH_BASE_URL not set, payments go to the sandbox")
	} else {
		provider = flash.NewClient(cfg.FlashBaseURL, cfg.FlashAPIKey, cfg.FlashTimeout)
	}

	// Schedule uploads
	files, uploadsDir, err := openFileStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize file store: %w", err)
	}

	svc := benefit.NewService(db, db, provider, db, logger.Named("benefit"))
	svc.SendConcurrency = cfg.SendConcurrency

	handler := api.NewHandler(db, svc, sessions, files, logger.Named("api"))
	handler.WebhookSecret = cfg.FlashWebhookSecret
	handler.SendTimeout = cfg.FlashTimeout
	handler.DevMode = !cfg.Production()

	router := api.NewRouter(handler, api.RouterOptions{
		CORSOrigins: cfg.CORSOrigins,
		UploadsDir:  uploadsDir,
	})

	reconciler := api.NewPaymentReconciler(svc, cfg.FlashPollInterval, cfg.FlashPollAfter, logger)
	reconciler.Start()
	defer reconciler.Stop()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.FlashTimeout + 45*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Port), zap.String("env", cfg.Environment), zap.Bool("sandbox", cfg.UsesSandbox()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		return err
	}

	logger.Info("shutting down server")
	reconciler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func openDatabase(ctx context.Context, cfg config.Config) (database, error) {
	if cfg.DBDriver == config.DriverPostgres {
		return postgres.New(ctx, cfg.DatabaseURL)
	}
	return sqlite.New(cfg.DBPath)
}

func openRevocations(ctx context.Context, cfg config.Config) (session.Revocations, func(), error) {
	if cfg.RedisURL == "" {
		return session.NewMemoryRevocations(), func() {}, nil
	}
	r, err := session.NewRedisRevocationsFromURL(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return r, func() { r.Close() }, nil
}

// openFileStore returns the store and, for local storage, the directory
// the router should serve under /uploads.
func openFileStore(ctx context.Context, cfg config.Config) (filestore.Store, string, error) {
	if cfg.UploadBackend == config.UploadS3 {
		s3, err := filestore.NewS3(ctx, filestore.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		return s3, "", err
	}
	local, err := filestore.NewLocal(cfg.UploadDir, "/uploads")
	if err != nil {
		return nil, "", err
	}
	return local, local.Dir, nil
}
