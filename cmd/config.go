package cmd

import (
	"fmt"
	"slices"

	"github.com/fitz/tasksync/internal/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration settings",
	Long:  `View and modify configuration settings for tasksync.`,
}

var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the .env file (local or global).

Use --global flag to set in the global configuration (~/.tasksync/config).
Otherwise, sets in the local .env file.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if !slices.Contains(config.Keys, key) {
			return fmt.Errorf("unknown configuration key %q", key)
		}

		if global, _ := cmd.Flags().GetBool("global"); global {
			if err := config.SetGlobal(key, value); err != nil {
				return err
			}
			fmt.Printf("✓ Set %s (global)\n", key)
			return nil
		}

		dir, err := workDir(cmd)
		if err != nil {
			return err
		}
		if err := config.Set(dir, key, value); err != nil {
			return err
		}
		fmt.Printf("✓ Set %s (local)\n", key)
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Get a configuration value",
	Long:  `Retrieve a configuration value from the local or global .env file.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]

		var (
			value string
			err   error
		)
		if global, _ := cmd.Flags().GetBool("global"); global {
			value, err = config.GetGlobal(key)
		} else {
			var dir string
			if dir, err = workDir(cmd); err == nil {
				value, err = config.Get(dir, key)
			}
		}
		if err != nil {
			return err
		}

		fmt.Printf("%s=%s\n", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset [key]",
	Short: "Remove a configuration value",
	Long:  `Remove a configuration value from the local .env file, or from the global file with --global.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		if global, _ := cmd.Flags().GetBool("global"); global {
			if err := config.UnsetGlobal(key); err != nil {
				return err
			}
			fmt.Printf("✓ Unset %s (global)\n", key)
			return nil
		}

		dir, err := workDir(cmd)
		if err != nil {
			return err
		}
		if err := config.Unset(dir, key); err != nil {
			return err
		}
		fmt.Printf("✓ Unset %s (local)\n", key)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all configuration values",
	Long:  `Display every resolved configuration value, masking credentials.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := workDir(cmd)
		if err != nil {
			return err
		}

		cfg, err := config.Load(dir)
		if err != nil {
			fmt.Printf("Configuration (%v):\n", err)
		} else {
			fmt.Println("Configuration:")
		}

		values := cfg.Values()
		for _, key := range config.Keys {
			value := values[key]
			if config.Secret(key) {
				value = maskPassword(value)
			}
			fmt.Printf("  %s: %s\n", key, value)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configUnsetCmd)
	configCmd.AddCommand(configListCmd)

	configSetCmd.Flags().Bool("global", false, "Set in global config instead of local")
	configGetCmd.Flags().Bool("global", false, "Read from global config instead of local")
	configUnsetCmd.Flags().Bool("global", false, "Remove from global config instead of local")
}

// maskPassword masks a password string for display.
func maskPassword(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + "****" + s[len(s)-2:]
}
