package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the sync status of the persisted state",
	Long: `Restore the persisted state, probe the server once and print the sync
summary as JSON: connectivity, queue counts, pending conflicts and the
last successful sync.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, _ := cmd.Flags().GetDuration("timeout")

		dir, cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := newLogger(cfg.LogLevel)

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		e, kv, err := newEngine(ctx, dir, cfg, logger)
		if err != nil {
			return err
		}
		defer kv.Close()

		if err := e.Start(ctx); err != nil {
			return fmt.Errorf("failed to start engine: %w", err)
		}
		defer e.Stop()

		e.CheckConnectivity(ctx)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(e.Status())
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().Duration("timeout", 10*time.Second, "How long to wait for the store and server")
}
