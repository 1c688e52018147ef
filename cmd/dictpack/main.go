package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/dictpack/internal/cleanup"
	"github.com/italolelis/dictpack/internal/config"
	"github.com/italolelis/dictpack/internal/download"
	"github.com/italolelis/dictpack/internal/download/httpdl"
	"github.com/italolelis/dictpack/internal/http/rest"
	"github.com/italolelis/dictpack/internal/logctx"
	"github.com/italolelis/dictpack/internal/notifier"
	"github.com/italolelis/dictpack/internal/storage/sqlite"
	"github.com/italolelis/dictpack/internal/telemetry"
	"github.com/italolelis/dictpack/internal/updater"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("dictpack starting...", "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: cfg.Telemetry.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer tel.Shutdown(context.Background())

	if cfg.Telemetry.Enabled {
		if err := runtime.Start(); err != nil {
			logger.Error("failed to start runtime instrumentation", "err", err)
		}
	}

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("DB error: %w", err)
	}
	defer database.Close()

	store := sqlite.NewInstrumentedWordListRepository(database, tel)

	if err := store.RegisterClient(ctx, cfg.ClientID, cfg.MetadataURI); err != nil {
		return fmt.Errorf("failed to register client: %w", err)
	}

	// =========================================================================
	// Start Download Transport
	if err := os.MkdirAll(cfg.DictDir, 0o755); err != nil {
		return fmt.Errorf("failed to create dictionary directory: %w", err)
	}

	spoolDir := cfg.SpoolDir
	if spoolDir == "" {
		spoolDir = filepath.Join(os.TempDir(), "dictpack-spool")
	}

	var opts []httpdl.Option
	if cfg.FeedToken != "" {
		opts = append(opts, httpdl.WithToken(ctx, cfg.FeedToken))
	}

	transport, err := httpdl.NewTransport(spoolDir, cfg.MaxParallel, opts...)
	if err != nil {
		return fmt.Errorf("failed to setup download transport: %w", err)
	}

	coord := download.NewCoordinator(transport, store)

	// =========================================================================
	// Start Updater
	upd := updater.New(store, transport, coord, updater.Config{
		DictDir:          cfg.DictDir,
		AllowOverMetered: cfg.AllowOverMetered,
		AllowOverRoaming: cfg.AllowOverRoaming,
	}).WithTelemetry(tel)

	transport.SetCompletionFunc(func(handle string) {
		if err := upd.DownloadFinished(ctx, handle); err != nil {
			logger.Error("failed to process finished download", "handle", handle, "err", err)
		}
	})

	// =========================================================================
	// Start Notification
	if cfg.DiscordWebhookURL != "" {
		upd.RegisterListener(notifier.NewUpdateListener(ctx, &notifier.DiscordNotifier{
			WebhookURL: cfg.DiscordWebhookURL,
		}))
	}

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, upd, store, tel, cfg)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("waiting for updates...",
		"client_id", cfg.ClientID,
		"metadata_uri", cfg.MetadataURI,
		"dict_dir", cfg.DictDir,
		"update_interval", cfg.UpdateInterval.String(),
	)

	// =========================================================================
	// Start Cleanup
	setupCleanup(ctx, store, cfg)

	// =========================================================================
	// Start Main Loop
	if err := upd.Update(ctx, false); err != nil {
		logger.Error("initial update failed", "err", err)
	}

	ticker := time.NewTicker(cfg.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-serverErrors:
			return fmt.Errorf("server error: %w", err)
		case <-ctx.Done():
			logger.Info("start shutdown")

			// Give outstanding requests a deadline for completion.
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error("failed to gracefully shutdown the server", "err", err)

				if err = server.Close(); err != nil {
					return fmt.Errorf("could not stop server gracefully: %w", err)
				}
			}

			transport.Wait()

			return nil
		case <-ticker.C:
			if err := upd.Update(ctx, false); err != nil {
				logger.Error("scheduled update failed", "err", err)
			}
		}
	}
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, upd *updater.Updater, store *sqlite.InstrumentedWordListRepository, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Mount("/v1", rest.NewWordListHandler(upd, store).Routes())
	r.Method(http.MethodGet, "/metrics", tel.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      otelhttp.NewHandler(r, "dictpack"),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

func setupCleanup(ctx context.Context, store *sqlite.InstrumentedWordListRepository, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	go func() {
		cleanupTicker := time.NewTicker(cfg.CleanupInterval)
		defer cleanupTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("cleanup goroutine shutting down.")

				return
			case <-cleanupTicker.C:
				if err := cleanup.PruneOrphanFiles(ctx, store, cfg.DictDir, cfg.CleanupMinAge); err != nil {
					logger.Error("failed to prune orphan dictionary files", "err", err)
				}
			}
		}
	}()
}
