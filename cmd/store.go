package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/fitz/tasksync/internal/config"
	"github.com/fitz/tasksync/internal/docker"
	"github.com/spf13/cobra"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage the state store backend",
}

var storeUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Start a local database container for the configured store",
	Long: `Create or start a Docker container for the postgres or neo4j store
backend, using the credentials from the configuration, and wait until
it accepts connections. Other backends need no container.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetDuration("wait")

		_, cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		container := storeContainer(cfg)
		if container == nil {
			fmt.Fprintf(os.Stderr, "Store backend %q does not use a container\n", cfg.Store)
			return nil
		}

		created, err := docker.EnsureContainer(container)
		if err != nil {
			return fmt.Errorf("failed to ensure %s container: %w", cfg.Store, err)
		}
		if created {
			fmt.Fprintf(os.Stderr, "✓ Created container '%s'\n", container.Name)
		}

		fmt.Fprintf(os.Stderr, "  Waiting for %s to be ready...\n", cfg.Store)
		if err := docker.WaitForContainer(container, wait); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "  ✓ %s is ready\n", cfg.Store)
		return nil
	},
}

var storeDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Stop the local database container",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		container := storeContainer(cfg)
		if container == nil {
			return nil
		}
		running, err := docker.IsContainerRunning(container.Name)
		if err != nil || !running {
			return err
		}
		if err := docker.StopContainer(container.Name); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "✓ Stopped container '%s'\n", container.Name)
		return nil
	},
}

// storeContainer returns the container backing cfg.Store, or nil.
func storeContainer(cfg *config.Config) *docker.ContainerConfig {
	switch cfg.Store {
	case config.StorePostgres:
		return docker.PostgresContainer(cfg.PostgresContainerName, cfg.PostgresImage,
			cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDB, cfg.PostgresPort)
	case config.StoreNeo4j:
		return docker.Neo4jContainer(cfg.ContainerName, cfg.Neo4jImage, cfg.Neo4jUsername, cfg.Neo4jPassword)
	default:
		return nil
	}
}

func init() {
	rootCmd.AddCommand(storeCmd)
	storeCmd.AddCommand(storeUpCmd)
	storeCmd.AddCommand(storeDownCmd)
	storeUpCmd.Flags().Duration("wait", 60*time.Second, "How long to wait for the database to accept connections")
}
