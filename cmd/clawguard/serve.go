package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/IT-HUSET/clawguard/internal/api"
	"github.com/IT-HUSET/clawguard/internal/auth"
	"github.com/IT-HUSET/clawguard/internal/chread"
	"github.com/IT-HUSET/clawguard/internal/config"
	"github.com/IT-HUSET/clawguard/internal/storage"
	"github.com/IT-HUSET/clawguard/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the guard hook server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		return runServe(cfg)
	},
}

func runServe(cfg *config.Config) error {
	logger := mustBuildLogger(cfg.Server.LogLevel)
	defer logger.Sync() //nolint:errcheck // best-effort flush

	logger.Info("starting clawguard",
		zap.String("port", cfg.Server.Port),
		zap.Int("allowlist_patterns", len(cfg.Allowlist)),
		zap.String("classifier_mode", cfg.Classifier.Mode),
	)

	pipeline, matcher, err := buildPipeline(cfg, logger)
	if err != nil {
		return err
	}

	// Storage — ClickHouse or LogWriter fallback
	var writer storage.EventWriter
	if cfg.Storage.ClickHouseDSN != "" {
		chWriter, err := storage.NewClickHouseWriter(cfg.Storage.ClickHouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer",
				zap.Error(err),
			)
			writer = storage.NewLogWriter(logger)
		} else {
			writer = chWriter
			logger.Info("clickhouse writer connected")
		}
	} else {
		writer = storage.NewLogWriter(logger)
		logger.Info("no clickhouse DSN set, using log writer")
	}
	defer writer.Close()

	// Postgres-backed agent store and auth, or static format-only auth
	var (
		pgStore       *store.Store
		authenticator auth.Authenticator
	)
	if cfg.Storage.PostgresDSN != "" {
		db, err := sql.Open("pgx", cfg.Storage.PostgresDSN)
		if err != nil {
			logger.Fatal("failed to open postgres", zap.Error(err))
		}
		defer func() { _ = db.Close() }()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(context.Background()); err != nil {
			logger.Fatal("failed to ping postgres", zap.Error(err))
		}
		pgStore = store.NewStore(db)
		authenticator = auth.NewPostgresAuthenticator(auth.PostgresAuthConfig{
			Store:    pgStore,
			CacheTTL: time.Duration(cfg.Storage.CacheTTL) * time.Second,
			Logger:   logger,
		})
		logger.Info("postgres connected")
	} else {
		authenticator = auth.NewStaticAuthenticator()
		logger.Info("no postgres DSN set, using static key-format auth")
	}

	// ClickHouse reader (for decisions/analytics HTTP endpoints)
	var chReader *chread.Reader
	if cfg.Storage.ClickHouseDSN != "" {
		var err error
		chReader, err = chread.NewReader(cfg.Storage.ClickHouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse reader connection failed", zap.Error(err))
		} else {
			defer func() { _ = chReader.Close() }()
			logger.Info("clickhouse reader connected")
		}
	}

	deps := &api.Dependencies{
		Store:         pgStore,
		Auth:          authenticator,
		Pipeline:      pipeline,
		Matcher:       matcher,
		Writer:        writer,
		Reader:        chReader,
		Logger:        logger,
		RatePerSecond: cfg.Server.RatePerSecond,
		RateBurst:     cfg.Server.RateBurst,
	}
	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	// Block until shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	logger.Info("clawguard stopped")
	return nil
}
