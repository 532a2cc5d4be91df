package cmd

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/fitz/tasksync/internal/config"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMaskPassword(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", "(not set)"},
		{"abc", "****"},
		{"supersecret", "su****et"},
	}
	for _, tt := range tests {
		if got := maskPassword(tt.input); got != tt.want {
			t.Errorf("maskPassword(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestOpenKVFileBackend(t *testing.T) {
	ctx := context.Background()
	fsys := afero.NewMemMapFs()
	cfg := &config.Config{Store: config.StoreFile, DataDir: "/data"}

	kv, err := openKV(ctx, cfg, discardLogger(), fsys)
	require.NoError(t, err)
	defer kv.Close()

	require.NoError(t, kv.Put(ctx, "state", []byte(`{}`)))
	ok, err := afero.DirExists(fsys, "/data")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOpenKVSQLiteBackend(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{Store: config.StoreSQLite, DataDir: filepath.Join(t.TempDir(), "nested")}

	kv, err := openKV(ctx, cfg, discardLogger(), nil)
	require.NoError(t, err)
	defer kv.Close()

	require.NoError(t, kv.Put(ctx, "state", []byte("v1")))
	got, err := kv.Get(ctx, "state")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(got))
}

func TestOpenKVUnknownBackend(t *testing.T) {
	_, err := openKV(context.Background(), &config.Config{Store: "etcd"}, discardLogger(), nil)
	assert.Error(t, err)
}

func TestStoreContainer(t *testing.T) {
	cfg := &config.Config{
		Store:                 config.StorePostgres,
		PostgresUser:          "tasksync",
		PostgresPassword:      "secret",
		PostgresDB:            "tasksync",
		PostgresImage:         "postgres:16-alpine",
		PostgresContainerName: "tasksync-postgres",
	}
	c := storeContainer(cfg)
	require.NotNil(t, c)
	assert.Equal(t, "tasksync-postgres", c.Name)
	assert.NoError(t, c.Validate())

	cfg.Store = config.StoreNeo4j
	cfg.ContainerName = "tasksync-neo4j"
	cfg.Neo4jImage = "neo4j:5.25-community"
	cfg.Neo4jUsername = "neo4j"
	cfg.Neo4jPassword = "secret"
	c = storeContainer(cfg)
	require.NotNil(t, c)
	assert.Equal(t, "neo4j/secret", c.Env["NEO4J_AUTH"])

	cfg.Store = config.StoreFile
	assert.Nil(t, storeContainer(cfg))
}

func TestNewEngineOffline(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{Store: config.StoreFile, DataDir: filepath.Join(dir, "data"), Actor: "ana"}

	e, kv, err := newEngine(context.Background(), dir, cfg, discardLogger())
	require.NoError(t, err)
	defer kv.Close()

	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Stop())
	assert.False(t, e.Online())
}
