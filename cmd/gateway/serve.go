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

	"github.com/rightly/dsar-gateway/internal/config"
	"github.com/rightly/dsar-gateway/internal/logger"
	"github.com/rightly/dsar-gateway/internal/server"
	"github.com/rightly/dsar-gateway/internal/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		log, err := logger.New(cfg.Server.LogLevel, cfg.Server.Environment)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		defer func() { _ = log.Sync() }()

		stores, closeStores, err := openStores(cfg, log)
		if err != nil {
			return err
		}
		defer closeStores()

		srv, err := server.New(cfg, log, stores)
		if err != nil {
			return fmt.Errorf("build server: %w", err)
		}

		errCh := make(chan error, 1)
		go func() {
			if err := srv.Run(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		select {
		case <-ctx.Done():
		case err := <-errCh:
			log.Error("server failed", zap.Error(err))
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}

		log.Info("server exited")
		return nil
	},
}

// openStores connects the optional backing services. Redis and Postgres are
// best effort: without them the gateway falls back to in-memory limiting and
// skips the audit log.
func openStores(cfg *config.Config, log *zap.Logger) (server.Stores, func(), error) {
	var stores server.Stores

	if cfg.Redis.Addr != "" {
		r, err := storage.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Warn("redis unavailable, continuing without it", zap.Error(err))
		} else {
			stores.Redis = r
			log.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))
		}
	}

	if cfg.Database.URL != "" {
		pg, err := storage.NewPostgres(cfg.Database.URL)
		if err != nil {
			log.Warn("postgres unavailable, request audit log disabled", zap.Error(err))
		} else if err := pg.AutoMigrate(); err != nil {
			log.Warn("postgres migration failed, request audit log disabled", zap.Error(err))
			_ = pg.Close()
		} else {
			stores.Postgres = pg
			log.Info("connected to postgres")
		}
	}

	if cfg.Usage.DBPath != "" {
		db, err := storage.NewSQLite(cfg.Usage.DBPath)
		if err != nil {
			if stores.Redis != nil {
				_ = stores.Redis.Close()
			}
			if stores.Postgres != nil {
				_ = stores.Postgres.Close()
			}
			return server.Stores{}, nil, fmt.Errorf("open usage db: %w", err)
		}
		stores.SQLite = db
		log.Info("usage snapshots enabled", zap.String("path", db.Path()))
	}

	closeAll := func() {
		if stores.Redis != nil {
			_ = stores.Redis.Close()
		}
		if stores.Postgres != nil {
			_ = stores.Postgres.Close()
		}
		if stores.SQLite != nil {
			_ = stores.SQLite.Close()
		}
	}
	return stores, closeAll, nil
}
