package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/tendant/simple-cloud/pkg/cloudstore/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// NewRootCommand wires the serve, migrate and usage subcommands.
func NewRootCommand() *cobra.Command {
	var configFile string
	var envFile string

	rootCmd := &cobra.Command{
		Use:   "cloudserver",
		Short: "Simple Cloud - per-user file storage and sharing",
		Long: `Simple Cloud server

Stores files per user under a byte quota and lets users offer copies
of their files to each other. Configuration comes from an optional
config file, then CLOUD_* environment variables.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (yaml, toml or json)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	rootCmd.AddCommand(NewServeCommand())
	rootCmd.AddCommand(NewMigrateCommand())
	rootCmd.AddCommand(NewUsageCommand())

	return rootCmd
}

// loadConfig reads the dotenv file (if present), the config file (if given)
// and the environment, in that order of increasing precedence.
func loadConfig(cmd *cobra.Command) (*config.ServerConfig, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
			}
		}
	}

	var opts []config.Option
	if configFile, _ := cmd.Flags().GetString("config"); configFile != "" {
		opts = append(opts, config.WithFile(configFile))
	}
	opts = append(opts, config.WithEnv())

	cfg, err := config.Load(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}
