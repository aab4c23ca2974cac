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

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/oakpos/qbolink/internal/adapter/driven/failover"
	"github.com/oakpos/qbolink/internal/adapter/driven/intuit"
	"github.com/oakpos/qbolink/internal/adapter/driven/sqlstore"
	"github.com/oakpos/qbolink/internal/adapter/driven/tokenfile"
	httphandler "github.com/oakpos/qbolink/internal/adapter/driving/http"
	"github.com/oakpos/qbolink/internal/application"
	"github.com/oakpos/qbolink/internal/config"
	"github.com/oakpos/qbolink/internal/domain/port/driven"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on missing required env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"token_file", cfg.TokenFile,
		"database_configured", cfg.HasDatabase(),
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open the relational store when a DSN is configured. A failure here
	// is not fatal: the service keeps running on the file store alone.
	var primary driven.CredentialStore
	if cfg.HasDatabase() {
		db, err := sqlstore.NewDB(cfg.DatabaseURL)
		if err != nil {
			slog.Warn("database unavailable, running on file store only", "error", err)
		} else {
			defer func() {
				if closeErr := db.Close(); closeErr != nil {
					slog.Error("error closing database", "error", closeErr)
				}
			}()

			// 4. Run migrations.
			if err := sqlstore.RunMigrations(db); err != nil {
				return err
			}
			slog.Info("migrations complete", "dialect", db.Dialect())

			primary = sqlstore.NewCredentialRepo(db)
		}
	}

	// 5. Wire the credential store chain: relational primary with a file
	// fallback that always exists.
	fileStore := tokenfile.NewStore(cfg.TokenFile)
	store := failover.NewStore(primary, fileStore, slog.Default())

	// 6. Create the OAuth exchanger.
	exchanger, err := intuit.NewExchanger(intuit.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		AuthURL:      cfg.AuthURL,
		TokenURL:     cfg.TokenURL,
	})
	if err != nil {
		return err
	}

	// 7. Create the credential service.
	svc := application.NewCredentialService(application.CredentialServiceConfig{
		Store:     store,
		Exchanger: exchanger,
		Logger:    slog.Default(),
	})

	// 8. Create HTTP handler and routes.
	handler := httphandler.NewHandler(svc, exchanger, cfg.RealmID, cfg.RedirectURI, cfg.FrontendURL, slog.Default())
	mux := httphandler.NewServeMux(handler, cfg.APIKey, slog.Default())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	// 9. Log startup complete.
	slog.Info("qbolink started", "listen_addr", cfg.ListenAddr)

	// 10. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	// 11. Graceful shutdown with 10s timeout to drain in-flight requests.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
