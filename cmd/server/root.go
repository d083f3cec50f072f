package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jo-hoe/imagestore/internal/core"
	"github.com/jo-hoe/imagestore/internal/logging"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// rootCmd serves the API when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "imagestore",
	Short: "Stores uploaded images on disk and tracks their metadata",
	RunE:  runServe,
}

func Execute() {
	// A missing .env file is fine, the environment may already be set
	_ = godotenv.Load()
	slog.SetDefault(logging.CreateLogger())

	if err := rootCmd.Execute(); err != nil {
		slog.Error("failed to execute command", "error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the YAML config file (defaults to $CONFIG_PATH, then ./config.yaml)")
}

func getConfigPath(cmd *cobra.Command) (path string, explicit bool, err error) {
	flagPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return "", false, fmt.Errorf("failed to get config flag: %w", err)
	}
	if flagPath != "" {
		return flagPath, true, nil
	}

	// First check if config path is provided via environment variable
	if configPath := os.Getenv("CONFIG_PATH"); configPath != "" {
		return configPath, true, nil
	}

	// Default to config.yaml in current working directory
	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("failed to get working directory: %w", err)
	}
	return filepath.Join(cwd, "config.yaml"), false, nil
}

// loadConfig reads the configured file. Only the implicit ./config.yaml may be absent,
// in which case the defaults are used.
func loadConfig(cmd *cobra.Command) (*core.ServiceConfig, error) {
	configPath, explicit, err := getConfigPath(cmd)
	if err != nil {
		return nil, err
	}

	if !explicit {
		if _, statErr := os.Stat(configPath); errors.Is(statErr, fs.ErrNotExist) {
			slog.Info("no config file found, using defaults", "path", configPath)
			return core.DefaultConfig(), nil
		}
	}

	config, err := core.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	slog.Debug("read config", "path", configPath, "config", config)
	return config, nil
}
