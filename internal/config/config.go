// Package config manages application configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Store backends selectable with TASKSYNC_STORE.
const (
	StoreFile     = "file"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreNeo4j    = "neo4j"
	StoreS3       = "s3"
)

// StoreBackends lists the valid TASKSYNC_STORE values.
var StoreBackends = []string{StoreFile, StoreSQLite, StorePostgres, StoreNeo4j, StoreS3}

// Keys lists every recognized configuration key.
var Keys = []string{
	"TASKSYNC_SERVER_URL", "TASKSYNC_TOKEN", "TASKSYNC_ACTOR", "TASKSYNC_REALTIME_PATH",
	"TASKSYNC_STORE", "TASKSYNC_DATA_DIR", "TASKSYNC_LOG_LEVEL",
	"POSTGRES_HOST", "POSTGRES_PORT", "POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_DB", "POSTGRES_SSLMODE",
	"POSTGRES_IMAGE", "POSTGRES_CONTAINER_NAME",
	"NEO4J_URI", "NEO4J_USERNAME", "NEO4J_PASSWORD", "NEO4J_DATABASE", "NEO4J_IMAGE", "NEO4J_CONTAINER_NAME",
	"TASKSYNC_S3_BUCKET", "TASKSYNC_S3_PREFIX", "AWS_REGION",
}

// Config holds the application configuration.
type Config struct {
	ServerURL    string
	Token        string
	Actor        string
	RealtimePath string
	LogLevel     string

	Store   string
	DataDir string

	PostgresHost          string
	PostgresPort          string
	PostgresUser          string
	PostgresPassword      string
	PostgresDB            string
	PostgresSSLMode       string
	PostgresImage         string
	PostgresContainerName string

	Neo4jURI      string
	Neo4jUsername string
	Neo4jPassword string
	Neo4jDatabase string
	Neo4jImage    string
	ContainerName string

	S3Bucket string
	S3Prefix string
	S3Region string
}

// lookup resolves a key to a value, empty when unset.
type lookup func(key string) string

func build(get lookup) *Config {
	or := func(key, def string) string {
		if v := get(key); v != "" {
			return v
		}
		return def
	}
	return &Config{
		ServerURL:    get("TASKSYNC_SERVER_URL"),
		Token:        get("TASKSYNC_TOKEN"),
		Actor:        or("TASKSYNC_ACTOR", os.Getenv("USER")),
		RealtimePath: or("TASKSYNC_REALTIME_PATH", "/realtime"),
		LogLevel:     or("TASKSYNC_LOG_LEVEL", "info"),

		Store:   or("TASKSYNC_STORE", StoreFile),
		DataDir: or("TASKSYNC_DATA_DIR", filepath.Join(GlobalDir(), "data")),

		PostgresHost:          or("POSTGRES_HOST", "localhost"),
		PostgresPort:          or("POSTGRES_PORT", "5432"),
		PostgresUser:          or("POSTGRES_USER", "tasksync"),
		PostgresPassword:      get("POSTGRES_PASSWORD"),
		PostgresDB:            or("POSTGRES_DB", "tasksync"),
		PostgresSSLMode:       or("POSTGRES_SSLMODE", "disable"),
		PostgresImage:         or("POSTGRES_IMAGE", "postgres:16-alpine"),
		PostgresContainerName: or("POSTGRES_CONTAINER_NAME", "tasksync-postgres"),

		Neo4jURI:      or("NEO4J_URI", "neo4j://localhost:7687"),
		Neo4jUsername: or("NEO4J_USERNAME", "neo4j"),
		Neo4jPassword: get("NEO4J_PASSWORD"),
		Neo4jDatabase: or("NEO4J_DATABASE", "neo4j"),
		Neo4jImage:    or("NEO4J_IMAGE", "neo4j:5.25-community"),
		ContainerName: or("NEO4J_CONTAINER_NAME", "tasksync-neo4j"),

		S3Bucket: get("TASKSYNC_S3_BUCKET"),
		S3Prefix: or("TASKSYNC_S3_PREFIX", "tasksync/"),
		S3Region: get("AWS_REGION"),
	}
}

// Load reads configuration from a .env file in the specified directory.
// Values resolve local .env first, then the global config (~/.tasksync/config),
// then environment variables, then defaults. A config that fails validation
// is returned alongside the error so callers can still display it.
func Load(dir string) (*Config, error) {
	// Unreadable files resolve as empty so the caller still gets a config.
	local, _ := readEnvFile(GetConfigPath(dir))
	global, _ := readEnvFile(GlobalPath())

	cfg := build(func(key string) string {
		if value := local[key]; value != "" {
			return value
		}
		return getValue(global, key)
	})
	return cfg, cfg.Validate()
}

// Values returns the resolved value of every key in Keys.
func (c *Config) Values() map[string]string {
	return map[string]string{
		"TASKSYNC_SERVER_URL":     c.ServerURL,
		"TASKSYNC_TOKEN":          c.Token,
		"TASKSYNC_ACTOR":          c.Actor,
		"TASKSYNC_REALTIME_PATH":  c.RealtimePath,
		"TASKSYNC_STORE":          c.Store,
		"TASKSYNC_DATA_DIR":       c.DataDir,
		"TASKSYNC_LOG_LEVEL":      c.LogLevel,
		"POSTGRES_HOST":           c.PostgresHost,
		"POSTGRES_PORT":           c.PostgresPort,
		"POSTGRES_USER":           c.PostgresUser,
		"POSTGRES_PASSWORD":       c.PostgresPassword,
		"POSTGRES_DB":             c.PostgresDB,
		"POSTGRES_SSLMODE":        c.PostgresSSLMode,
		"POSTGRES_IMAGE":          c.PostgresImage,
		"POSTGRES_CONTAINER_NAME": c.PostgresContainerName,
		"NEO4J_URI":               c.Neo4jURI,
		"NEO4J_USERNAME":          c.Neo4jUsername,
		"NEO4J_PASSWORD":          c.Neo4jPassword,
		"NEO4J_DATABASE":          c.Neo4jDatabase,
		"NEO4J_IMAGE":             c.Neo4jImage,
		"NEO4J_CONTAINER_NAME":    c.ContainerName,
		"TASKSYNC_S3_BUCKET":      c.S3Bucket,
		"TASKSYNC_S3_PREFIX":      c.S3Prefix,
		"AWS_REGION":              c.S3Region,
	}
}

// Validate checks that the fields the selected store backend needs are set.
func (c *Config) Validate() error {
	if !slices.Contains(StoreBackends, c.Store) {
		return fmt.Errorf("invalid TASKSYNC_STORE %q (must be one of: %s)", c.Store, strings.Join(StoreBackends, ", "))
	}

	var missing []string
	require := func(key, value string) {
		if value == "" {
			missing = append(missing, key)
		}
	}

	switch c.Store {
	case StoreFile, StoreSQLite:
		require("TASKSYNC_DATA_DIR", c.DataDir)
	case StorePostgres:
		require("POSTGRES_HOST", c.PostgresHost)
		require("POSTGRES_USER", c.PostgresUser)
		require("POSTGRES_PASSWORD", c.PostgresPassword)
		require("POSTGRES_DB", c.PostgresDB)
	case StoreNeo4j:
		require("NEO4J_URI", c.Neo4jURI)
		require("NEO4J_USERNAME", c.Neo4jUsername)
		require("NEO4J_PASSWORD", c.Neo4jPassword)
		require("NEO4J_DATABASE", c.Neo4jDatabase)
	case StoreS3:
		require("TASKSYNC_S3_BUCKET", c.S3Bucket)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Offline reports whether no server is configured.
func (c *Config) Offline() bool {
	return c.ServerURL == ""
}

// GetConfigPath returns the full path to the .env file in the given directory.
func GetConfigPath(dir string) string {
	return filepath.Join(dir, ".env")
}

// Set updates or creates a configuration value in the .env file.
func Set(dir, key, value string) error {
	return editEnvFile(GetConfigPath(dir), 0o644, func(values map[string]string) {
		values[key] = value
	})
}

// Unset removes a configuration value from the .env file.
func Unset(dir, key string) error {
	return editEnvFile(GetConfigPath(dir), 0o644, func(values map[string]string) {
		delete(values, key)
	})
}

// Get retrieves a configuration value from the .env file.
func Get(dir, key string) (string, error) {
	return lookupEnvFile(GetConfigPath(dir), key)
}

// Secret reports whether key holds a credential that listings should mask.
func Secret(key string) bool {
	return strings.HasSuffix(key, "_PASSWORD") || strings.HasSuffix(key, "_TOKEN")
}

// getValue gets a value from the env map, falling back to system env var.
func getValue(envMap map[string]string, key string) string {
	if value, ok := envMap[key]; ok && value != "" {
		return value
	}
	return os.Getenv(key)
}
