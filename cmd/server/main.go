package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cafepass/ledger/internal/api"
	"github.com/cafepass/ledger/internal/checkout"
	"github.com/cafepass/ledger/internal/config"
	"github.com/cafepass/ledger/internal/credential"
	"github.com/cafepass/ledger/internal/events/kafka"
	"github.com/cafepass/ledger/internal/interfaces"
	"github.com/cafepass/ledger/internal/ledger"
	"github.com/cafepass/ledger/internal/logging"
	"github.com/cafepass/ledger/internal/storage/memory"
	"github.com/cafepass/ledger/internal/storage/postgres"
	_ "github.com/lib/pq"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)

	var (
		ledgerStore     interfaces.LedgerStore
		credentialStore interfaces.CredentialStore
	)
	if cfg.Storage.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.Storage.DatabaseURL)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := db.PingContext(ctx); err != nil {
			logger.Error("failed to reach database", "error", err)
			os.Exit(1)
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}

		store := postgres.NewStore(db)
		ledgerStore, credentialStore = store, store
		logger.Info("using postgres storage")
	} else {
		store := memory.NewStore()
		ledgerStore, credentialStore = store, store
		logger.Warn("DATABASE_URL not set, using in-memory storage")
	}

	var publisher interfaces.EventPublisher
	if len(cfg.Events.Brokers) > 0 {
		kafkaPublisher := kafka.NewPublisher(cfg.Events.Brokers)
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
		logger.Info("publishing transaction events", "brokers", cfg.Events.Brokers)
	}

	ledgerService := ledger.NewService(ledgerStore, publisher, logger)
	registry := credential.NewRegistry(credentialStore, ledgerStore)
	pos := checkout.NewAdapter(registry, ledgerService)

	handlers := api.NewHandlers(logger, ledgerStore, ledgerService, registry, pos)
	router := api.NewRouter(logger, handlers)

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped unexpectedly", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
