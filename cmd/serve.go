package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/fitz/tasksync/internal/mcp"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync core behind an MCP server",
	Long: `Start the sync engine and expose its actions as Model Context Protocol
tools. By default the server speaks JSON-RPC over stdio, which is how
agents launch it. With --http it serves the streamable HTTP transport
plus a /healthz endpoint.

State is restored from the configured store on start and flushed on
shutdown.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		httpMode, _ := cmd.Flags().GetBool("http")
		port, _ := cmd.Flags().GetInt("port")

		dir, cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := newLogger(cfg.LogLevel)

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		e, kv, err := newEngine(ctx, dir, cfg, logger)
		if err != nil {
			return err
		}
		defer kv.Close()

		if err := e.Start(ctx); err != nil {
			return fmt.Errorf("failed to start engine: %w", err)
		}
		defer func() {
			if err := e.Stop(); err != nil {
				logger.Error("failed to stop engine", "error", err)
			}
		}()

		server := mcp.NewServer(e, logger)

		if !httpMode {
			logger.Info("starting MCP server on stdio")
			if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("MCP server error: %w", err)
			}
			logger.Info("server stopped")
			return nil
		}

		addr := fmt.Sprintf(":%d", port)
		httpServer := &http.Server{
			Addr:              addr,
			Handler:           server.HTTPHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = httpServer.Shutdown(shutdownCtx)
		}()

		logger.Info("starting HTTP server", "addr", addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		logger.Info("server stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Bool("http", false, "Serve MCP over HTTP instead of stdio")
	serveCmd.Flags().Int("port", 8080, "HTTP port to listen on (only used with --http)")
}
