package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fitz/tasksync/internal/config"
)

// isolate points HOME at an empty directory and clears the keys a test
// environment might carry.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	for _, key := range config.Keys {
		t.Setenv(key, "")
	}
}

func TestLoad_WithValidEnvFile(t *testing.T) {
	isolate(t)
	tmpDir := t.TempDir()
	envContent := `TASKSYNC_SERVER_URL=https://tasks.example.com/api
TASKSYNC_TOKEN=secret
TASKSYNC_ACTOR=user-7
TASKSYNC_STORE=neo4j
NEO4J_PASSWORD=testpassword
`
	if err := os.WriteFile(filepath.Join(tmpDir, ".env"), []byte(envContent), 0644); err != nil {
		t.Fatalf("Failed to create test .env file: %v", err)
	}

	cfg, err := config.Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.ServerURL != "https://tasks.example.com/api" {
		t.Errorf("Expected server URL from file, got '%s'", cfg.ServerURL)
	}
	if cfg.Actor != "user-7" {
		t.Errorf("Expected actor 'user-7', got '%s'", cfg.Actor)
	}
	if cfg.Store != config.StoreNeo4j {
		t.Errorf("Expected neo4j store, got '%s'", cfg.Store)
	}
	if cfg.Neo4jURI != "neo4j://localhost:7687" {
		t.Errorf("Expected default Neo4jURI, got '%s'", cfg.Neo4jURI)
	}
	if cfg.Offline() {
		t.Error("Expected a configured server")
	}
}

func TestLoad_DefaultsToFileStore(t *testing.T) {
	isolate(t)
	tmpDir := t.TempDir()

	cfg, err := config.Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() should not error without a .env file: %v", err)
	}
	if cfg.Store != config.StoreFile {
		t.Errorf("Expected file store, got '%s'", cfg.Store)
	}
	if !strings.HasSuffix(cfg.DataDir, filepath.Join(".tasksync", "data")) {
		t.Errorf("Expected data dir under ~/.tasksync, got '%s'", cfg.DataDir)
	}
	if cfg.RealtimePath != "/realtime" || cfg.LogLevel != "info" {
		t.Errorf("Unexpected defaults: %+v", cfg)
	}
	if !cfg.Offline() {
		t.Error("Expected offline without a server URL")
	}
}

func TestLoad_EnvironmentFallback(t *testing.T) {
	isolate(t)
	t.Setenv("TASKSYNC_STORE", "postgres")
	t.Setenv("POSTGRES_PASSWORD", "fromenv")

	cfg, err := config.Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load() should not error when password is in env: %v", err)
	}
	if cfg.PostgresPassword != "fromenv" {
		t.Errorf("Expected password from env 'fromenv', got '%s'", cfg.PostgresPassword)
	}
	if cfg.PostgresDB != "tasksync" {
		t.Errorf("Expected default database, got '%s'", cfg.PostgresDB)
	}
}

func TestLoad_WithMissingRequiredFields(t *testing.T) {
	isolate(t)
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, ".env"), []byte("TASKSYNC_STORE=s3\n"), 0644); err != nil {
		t.Fatalf("Failed to create test .env file: %v", err)
	}

	cfg, err := config.Load(tmpDir)
	if err == nil {
		t.Fatal("Expected validation error for missing TASKSYNC_S3_BUCKET")
	}
	if !strings.Contains(err.Error(), "TASKSYNC_S3_BUCKET") {
		t.Errorf("Expected the missing key in the error, got %v", err)
	}
	if cfg == nil || cfg.Store != config.StoreS3 {
		t.Errorf("Expected the partial config alongside the error, got %+v", cfg)
	}
}

func TestValuesCoversEveryKey(t *testing.T) {
	isolate(t)
	cfg, err := config.Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	values := cfg.Values()
	if len(values) != len(config.Keys) {
		t.Errorf("Values() has %d entries, want %d", len(values), len(config.Keys))
	}
	for _, key := range config.Keys {
		if _, ok := values[key]; !ok {
			t.Errorf("Values() is missing %s", key)
		}
	}
	if values["TASKSYNC_STORE"] != config.StoreFile {
		t.Errorf("TASKSYNC_STORE = %q, want %q", values["TASKSYNC_STORE"], config.StoreFile)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.Config
		wantErr string
	}{
		{"file", config.Config{Store: config.StoreFile, DataDir: "/tmp/x"}, ""},
		{"file without dir", config.Config{Store: config.StoreFile}, "TASKSYNC_DATA_DIR"},
		{"unknown store", config.Config{Store: "redis"}, "invalid TASKSYNC_STORE"},
		{"postgres", config.Config{Store: config.StorePostgres, PostgresHost: "h", PostgresUser: "u", PostgresPassword: "p", PostgresDB: "d"}, ""},
		{"postgres without password", config.Config{Store: config.StorePostgres, PostgresHost: "h", PostgresUser: "u", PostgresDB: "d"}, "POSTGRES_PASSWORD"},
		{"neo4j", config.Config{Store: config.StoreNeo4j, Neo4jURI: "neo4j://x", Neo4jUsername: "neo4j", Neo4jPassword: "p", Neo4jDatabase: "neo4j"}, ""},
		{"neo4j without uri", config.Config{Store: config.StoreNeo4j, Neo4jUsername: "neo4j", Neo4jPassword: "p", Neo4jDatabase: "neo4j"}, "NEO4J_URI"},
		{"s3", config.Config{Store: config.StoreS3, S3Bucket: "b"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() should not return error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestGetConfigPath(t *testing.T) {
	tmpDir := t.TempDir()
	expectedPath := filepath.Join(tmpDir, ".env")

	path := config.GetConfigPath(tmpDir)
	if path != expectedPath {
		t.Errorf("Expected config path '%s', got '%s'", expectedPath, path)
	}
}

func TestSet_UpdatesEnvFile(t *testing.T) {
	isolate(t)
	tmpDir := t.TempDir()

	if err := config.Set(tmpDir, "TASKSYNC_ACTOR", "user-9"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	cfg, err := config.Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() failed after Set(): %v", err)
	}
	if cfg.Actor != "user-9" {
		t.Errorf("Expected actor 'user-9', got '%s'", cfg.Actor)
	}
}

func TestUnset_RemovesKey(t *testing.T) {
	isolate(t)
	tmpDir := t.TempDir()

	if err := config.Set(tmpDir, "TASKSYNC_ACTOR", "user-9"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := config.Unset(tmpDir, "TASKSYNC_ACTOR"); err != nil {
		t.Fatalf("Unset() failed: %v", err)
	}
	if _, err := config.Get(tmpDir, "TASKSYNC_ACTOR"); err == nil {
		t.Error("Get() should fail after Unset()")
	}
}

func TestGet_RetrievesValue(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, ".env"), []byte("TASKSYNC_STORE=sqlite"), 0644); err != nil {
		t.Fatalf("Failed to create test .env file: %v", err)
	}

	value, err := config.Get(tmpDir, "TASKSYNC_STORE")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if value != "sqlite" {
		t.Errorf("Expected value 'sqlite', got '%s'", value)
	}
}

func TestGet_NonExistentKey(t *testing.T) {
	_, err := config.Get(t.TempDir(), "DOES_NOT_EXIST")
	if err == nil {
		t.Error("Get() should return error for non-existent key")
	}
}

func TestSecret(t *testing.T) {
	for key, want := range map[string]bool{
		"NEO4J_PASSWORD":      true,
		"TASKSYNC_TOKEN":      true,
		"TASKSYNC_SERVER_URL": false,
	} {
		if got := config.Secret(key); got != want {
			t.Errorf("Secret(%s) = %v, expected %v", key, got, want)
		}
	}
}
