package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fitz/tasksync/internal/api"
	"github.com/fitz/tasksync/internal/config"
	"github.com/fitz/tasksync/internal/engine"
	"github.com/fitz/tasksync/internal/neo4j"
	"github.com/fitz/tasksync/internal/realtime"
	"github.com/fitz/tasksync/internal/storage"
	"github.com/spf13/afero"
)

// openKV opens the state backend selected by TASKSYNC_STORE.
func openKV(ctx context.Context, cfg *config.Config, logger *slog.Logger, fsys afero.Fs) (storage.KV, error) {
	logger.Info("opening state store", "backend", cfg.Store)

	switch cfg.Store {
	case config.StoreFile:
		return storage.NewFileKV(fsys, cfg.DataDir)
	case config.StoreSQLite:
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		return storage.OpenSQLite(ctx, filepath.Join(cfg.DataDir, "tasksync.db"))
	case config.StorePostgres:
		return storage.OpenPostgresWithRetry(ctx, storage.PostgresConfig{
			Host:     cfg.PostgresHost,
			Port:     cfg.PostgresPort,
			Username: cfg.PostgresUser,
			Password: cfg.PostgresPassword,
			Database: cfg.PostgresDB,
			SSLMode:  cfg.PostgresSSLMode,
		}, nil)
	case config.StoreNeo4j:
		client, err := neo4j.NewClientWithRetry(ctx, neo4j.Config{
			URI:      cfg.Neo4jURI,
			Username: cfg.Neo4jUsername,
			Password: cfg.Neo4jPassword,
			Database: cfg.Neo4jDatabase,
		}, nil)
		if err != nil {
			return nil, err
		}
		return neo4j.NewStateStore(client), nil
	case config.StoreS3:
		return storage.NewS3KV(ctx, storage.S3Config{
			Bucket: cfg.S3Bucket,
			Prefix: cfg.S3Prefix,
			Region: cfg.S3Region,
		})
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store)
	}
}

// newEngine wires the engine from configuration. The caller owns the
// returned KV and must close it after stopping the engine.
func newEngine(ctx context.Context, dir string, cfg *config.Config, logger *slog.Logger) (*engine.Engine, storage.KV, error) {
	tuning, err := config.LoadTuning(dir)
	if err != nil {
		return nil, nil, err
	}

	kv, err := openKV(ctx, cfg, logger, afero.NewOsFs())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open state store: %w", err)
	}

	opts := engine.Options{
		Logger: logger,
		Actor:  cfg.Actor,
		KV:     kv,
		Tuning: tuning,
	}

	if cfg.Offline() {
		logger.Warn("no server configured, running offline")
	} else {
		client, err := api.New(api.Config{
			BaseURL: cfg.ServerURL,
			Token:   cfg.Token,
			Logger:  logger,
		})
		if err != nil {
			kv.Close()
			return nil, nil, err
		}
		opts.API = client

		wsURL, err := realtime.WebSocketURL(cfg.ServerURL, cfg.RealtimePath)
		if err != nil {
			kv.Close()
			return nil, nil, err
		}
		opts.Dialer = &realtime.WebSocketDialer{URL: wsURL, Token: client.Token}
	}

	e, err := engine.New(opts)
	if err != nil {
		kv.Close()
		return nil, nil, err
	}
	return e, kv, nil
}
