package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/creatorpulse/creator-analytics/internal/config"
	"github.com/creatorpulse/creator-analytics/internal/crypto"
	"github.com/creatorpulse/creator-analytics/internal/httpapi"
	"github.com/creatorpulse/creator-analytics/internal/identity"
	"github.com/creatorpulse/creator-analytics/internal/ingest"
	"github.com/creatorpulse/creator-analytics/internal/integrity"
	"github.com/creatorpulse/creator-analytics/internal/monitoring"
	"github.com/creatorpulse/creator-analytics/internal/provider"
	"github.com/creatorpulse/creator-analytics/internal/store"
	"github.com/creatorpulse/creator-analytics/internal/webhook"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	tenants, prefs, snapshots, closeStores, err := buildStores(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize stores")
	}
	defer closeStores()

	monitoring.InitMetrics()

	providerClient := provider.NewClient(cfg.ProviderBaseURL, snapshots)
	pipeline := ingest.NewPipeline(tenants, snapshots, providerClient)
	backfiller := ingest.NewBackfiller(snapshots, providerClient)
	processor := webhook.NewProcessor(tenants, backfiller)
	resolver := identity.NewResolver(tenants, prefs)
	checker := integrity.NewChecker(tenants, snapshots)

	server := httpapi.NewServer(processor, pipeline, backfiller, checker, resolver, tenants, prefs, httpapi.Secrets{
		Webhook: cfg.WebhookSecret,
		Admin:   cfg.AdminSecret,
		Session: cfg.SessionSecret,
	})

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: server.Handler(),
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		})

		metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		log.Info().Str("addr", cfg.MetricsAddr).Msg("Metrics server started")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Metrics server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown error")
	}
	processor.Close()
	log.Info().Msg("Server exiting")
}

func buildStores(cfg *config.Config) (store.TenantStore, store.PreferencesStore, store.SnapshotStore, func(), error) {
	if cfg.Store == "memory" {
		log.Warn().Msg("Using in-memory store; data will not survive a restart")
		mem := store.NewMemory()
		return mem.Tenants(), mem.Preferences(), mem.Snapshots(), func() {}, nil
	}

	pgxConfig, err := pgx.ParseConfig(cfg.DatabaseDSN)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	db := stdlib.OpenDB(*pgxConfig)
	if err := db.Ping(); err != nil {
		return nil, nil, nil, nil, err
	}

	var rdb store.RedisClient
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}

	cipher, err := crypto.NewCipher([]byte(cfg.TokenKey))
	if err != nil {
		return nil, nil, nil, nil, err
	}

	tenants := store.NewTenantRepositoryWithDB(db, rdb, cipher)
	prefs := store.NewPreferencesRepository(db)
	snapshots := store.NewSnapshotRepository(db)

	closeStores := func() {
		if rdb != nil {
			rdb.Close()
		}
		db.Close()
	}
	return tenants, prefs, snapshots, closeStores, nil
}
