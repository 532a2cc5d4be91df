// Package cmd contains all CLI command definitions.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fitz/tasksync/internal/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tasksync",
	Short: "tasksync - offline-first task sync core",
	Long: `tasksync keeps a local task hierarchy usable while the task server is
unreachable. Edits are applied locally, queued, and replayed once
connectivity returns; concurrent server changes are merged or surfaced
as conflicts.

The sync core is exposed to agents as MCP tools over stdio or HTTP.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringP("dir", "d", ".", "Working directory holding .env and tuning files")
}

// exitWithError prints an error message and exits with code 1.
func exitWithError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func workDir(cmd *cobra.Command) (string, error) {
	dir, _ := cmd.Flags().GetString("dir")
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("invalid directory: %w", err)
	}
	return absDir, nil
}

// loadConfig resolves the working directory and loads its configuration.
func loadConfig(cmd *cobra.Command) (string, *config.Config, error) {
	dir, err := workDir(cmd)
	if err != nil {
		return "", nil, err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return "", nil, fmt.Errorf("failed to load config: %w\nRun 'tasksync config list' to inspect the current values", err)
	}
	return dir, cfg, nil
}

// newLogger builds the JSON logger on stderr. Stdout carries the MCP protocol.
func newLogger(level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(level),
	}))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
