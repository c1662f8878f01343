// Package main is the entrypoint for the email-insights API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/szabogaliakos/email-insights-sub001/internal/api"
	"github.com/szabogaliakos/email-insights-sub001/internal/api/handler"
	mw "github.com/szabogaliakos/email-insights-sub001/internal/api/middleware"
	"github.com/szabogaliakos/email-insights-sub001/internal/api/response"
	"github.com/szabogaliakos/email-insights-sub001/internal/config"
	"github.com/szabogaliakos/email-insights-sub001/internal/docstore"
	"github.com/szabogaliakos/email-insights-sub001/internal/engine"
	"github.com/szabogaliakos/email-insights-sub001/internal/mail"
	"github.com/szabogaliakos/email-insights-sub001/internal/mail/imapsource"
	"github.com/szabogaliakos/email-insights-sub001/internal/scheduler"
	"github.com/szabogaliakos/email-insights-sub001/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Info("config loaded", "env", cfg.Server.Env, "mail_source", cfg.Engine.Source)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	logger.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations applied")

	// 4. Connect to the document store
	docs, err := docstore.NewRedisStore(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis store: %w", err)
	}
	defer docs.Close()

	if err := docs.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("redis connected")

	// 5. Connect to NATS
	bus, err := scheduler.ConnectBus(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer bus.Close()
	logger.Info("nats connected", "url", cfg.NATS.URL)

	// 6. Build the mail source
	source, labeler, err := buildMailSource(cfg)
	if err != nil {
		return err
	}

	// 7. Wire the engine, scheduler and worker
	pgStore := store.NewPostgresStore(pool)

	sched := scheduler.NewNATSScheduler(bus, docs, cfg.Engine.ContinuationDelay, logger)
	eng := engine.New(pgStore, docs, source, labeler, sched, logger,
		engine.WithBatchSize(cfg.Engine.BatchSize),
		engine.WithMaxRetries(cfg.Engine.MaxRetries),
	)

	worker := scheduler.NewWorker(bus, eng, logger)
	if err := worker.Start(); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	defer worker.Stop()

	// 8. Build router with dependencies
	deps := api.Dependencies{
		Logger:    logger,
		Auth:      mw.NewAuth(pgStore),
		RateLimit: mw.NewRateLimit(docs, cfg.Engine.RateLimitPerMin),

		HealthHandler: healthHandler(pgStore, docs, bus),

		CreateJobHandler:  handler.NewCreateJobHandler(pgStore),
		ListJobsHandler:   handler.NewListJobsHandler(pgStore),
		GetJobHandler:     handler.NewGetJobHandler(pgStore),
		StartJobHandler:   handler.NewStartJobHandler(pgStore, sched),
		PauseJobHandler:   handler.NewPauseJobHandler(pgStore),
		ResumeJobHandler:  handler.NewResumeJobHandler(pgStore, sched),
		CancelJobHandler:  handler.NewCancelJobHandler(pgStore),
		ProcessJobHandler: handler.NewProcessJobHandler(pgStore, eng),
		DeleteJobHandler:  handler.NewDeleteJobHandler(pgStore),

		ContactsHandler: handler.NewContactsHandler(docs),
	}

	router := api.NewRouter(deps)

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}

// buildMailSource picks the mailbox backend. IMAP can list but not label,
// so label jobs under MAIL_SOURCE=imap fail at processing time with a
// permanent error from the stub labeler.
func buildMailSource(cfg *config.Config) (mail.Source, mail.Labeler, error) {
	switch cfg.Engine.Source {
	case "gmail":
		client := mail.NewHTTPClient(cfg.Mail.BaseURL, cfg.Mail.Timeout)
		return client, client, nil
	case "imap":
		src := imapsource.New(imapsource.Config{
			Host: cfg.IMAP.Host,
			Port: cfg.IMAP.Port,
			TLS:  cfg.IMAP.TLS,
		})
		return src, unsupportedLabeler{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown mail source %q", cfg.Engine.Source)
	}
}

type unsupportedLabeler struct{}

func (unsupportedLabeler) ModifyLabels(context.Context, string, string, []string, []string) error {
	return fmt.Errorf("%w: the imap source cannot modify labels", mail.ErrPermanent)
}

func (unsupportedLabeler) ResolveOrCreateLabel(context.Context, string, string) (string, error) {
	return "", fmt.Errorf("%w: the imap source cannot modify labels", mail.ErrPermanent)
}

type busPinger interface {
	Ping() error
}

// healthHandler checks database, document store and bus connectivity.
func healthHandler(s store.Store, docs docstore.Store, bus busPinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"docstore": "ok",
			"bus":      "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := docs.Ping(r.Context()); err != nil {
			checks["docstore"] = "degraded"
		}
		if err := bus.Ping(); err != nil {
			checks["bus"] = "degraded"
		}

		for _, v := range checks {
			if v != "ok" {
				response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
					"One or more services degraded", checks)
				return
			}
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
