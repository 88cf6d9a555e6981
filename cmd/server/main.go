// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

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

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/crmsync/internal/api"
	"github.com/tomtom215/crmsync/internal/config"
	"github.com/tomtom215/crmsync/internal/database"
	"github.com/tomtom215/crmsync/internal/dedupe"
	"github.com/tomtom215/crmsync/internal/entity"
	"github.com/tomtom215/crmsync/internal/logging"
	"github.com/tomtom215/crmsync/internal/models"
	"github.com/tomtom215/crmsync/internal/provider"
	"github.com/tomtom215/crmsync/internal/supervisor"
	"github.com/tomtom215/crmsync/internal/supervisor/services"
	crmsync "github.com/tomtom215/crmsync/internal/sync"
	ws "github.com/tomtom215/crmsync/internal/websocket"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("crmsync stopped with an error")
	}
}

//nolint:gocyclo // sequential startup
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
		Service:   "crmsync",
	})
	logging.Info().
		Str("db_path", cfg.Database.Path).
		Str("lock_backend", cfg.Lock.Backend).
		Str("progress_transport", cfg.Progress.Transport).
		Msg("Starting crmsync")

	var encryptor *config.CredentialEncryptor
	if cfg.Security.CredentialKey != "" {
		encryptor, err = config.NewCredentialEncryptor(cfg.Security.CredentialKey)
		if err != nil {
			return err
		}
		if err := encryptor.ValidateEncryptionSetup(); err != nil {
			return fmt.Errorf("credential encryption self-check: %w", err)
		}
	} else {
		logging.Warn().Msg("CREDENTIAL_KEY not set: connection credentials are stored unencrypted")
	}

	registry := entity.NewRegistry()
	db, err := database.New(&cfg.Database, encryptor, registry)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	natsComponents, err := InitNATS(cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		natsComponents.Shutdown(shutdownCtx)
	}()

	dirs := newBadgerDirs()
	defer dirs.Close()

	locker, err := initLocker(ctx, cfg, dirs, natsComponents)
	if err != nil {
		return err
	}

	broadcaster, err := initProgress(cfg, dirs, natsComponents)
	if err != nil {
		return err
	}
	defer func() {
		if err := broadcaster.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing progress broadcaster")
		}
	}()

	providers := newProviderRegistry(cfg)

	orchestrator, err := crmsync.New(crmsync.Deps{
		Mappings:  db,
		Ledger:    db,
		SyncLog:   db,
		Entities:  db,
		Registry:  registry,
		Providers: providers,
		Locker:    locker,
		Progress:  broadcaster,
	}, crmsync.Options{
		Concurrency:     cfg.Sync.Concurrency,
		MaxResultErrors: cfg.Sync.MaxResultErrors,
		LockTTL:         cfg.Lock.TTL,
		LockWait:        cfg.Sync.LockWait,
		SchedulerTick:   cfg.Sync.SchedulerTick,
	})
	if err != nil {
		return err
	}

	hub := ws.NewHub()
	handler := api.NewHandler(ctx, api.Deps{
		Syncer:   orchestrator,
		Detector: dedupe.NewDetector(db, db, db, registry, providers),
		SyncLog:  db,
		Health:   db,
		Hub:      hub,
		Progress: broadcaster,
	}, api.Config{
		CORSOrigins: cfg.Server.CORSOrigins,
		RateLimit:   cfg.Server.RateLimit,
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           api.NewRouter(handler).SetupChi(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		IdleTimeout:       2 * time.Minute,
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: shutdownTimeout,
	})
	if err != nil {
		return err
	}
	dirs.each(func(path string, bdb *badger.DB) {
		tree.AddStorageService(services.NewBadgerGCService(path, bdb, 0))
	})
	tree.AddSyncService(services.NewSchedulerService(orchestrator))
	tree.AddAPIService(services.NewWebSocketHubService(hub))
	tree.AddAPIService(services.NewHTTPServerService(server, shutdownTimeout))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	logging.Info().Str("addr", server.Addr).Msg("Starting supervisor tree")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree error")
	}

	if unstopped, _ := tree.UnstoppedServiceReport(); len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
		}
	}

	logging.Info().Msg("crmsync stopped")
	return nil
}

// newProviderRegistry registers every provider with an implementation.
// Remote calls are rate limited, then guarded by a breaker, per connection.
func newProviderRegistry(cfg *config.Config) *provider.Registry {
	providers := provider.NewRegistry(
		provider.WithRateLimit(cfg.Sync.ProviderRateLimit, cfg.Sync.ProviderBurst),
		provider.WithCircuitBreaker(provider.BreakerSettings{
			MaxRequests:  cfg.Breaker.MaxRequests,
			Interval:     cfg.Breaker.Interval,
			Timeout:      cfg.Breaker.Timeout,
			MinRequests:  cfg.Breaker.MinRequests,
			FailureRatio: cfg.Breaker.FailureRatio,
		}),
	)
	providers.Register(models.ProviderHubSpot, func() provider.Provider {
		return provider.NewHubSpotProvider(provider.HubSpotOptions{
			BaseURL:        cfg.HubSpot.BaseURL,
			PageSize:       cfg.HubSpot.PageSize,
			MaxRetries:     cfg.HubSpot.MaxRetries,
			RetryBaseDelay: cfg.HubSpot.RetryBaseDelay,
		})
	})
	providers.Register(models.ProviderMemory, func() provider.Provider {
		return provider.NewMemoryProvider()
	})
	return providers
}
