package main

import (
	"fmt"
	"log/slog"

	"github.com/jo-hoe/imagestore/internal/core"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Wipes the upload root and metadata store and loads the demo data",
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		coreService, err := core.NewCoreService(config)
		if err != nil {
			return fmt.Errorf("failed to create core service: %w", err)
		}
		defer func() {
			if closeErr := coreService.Close(); closeErr != nil {
				slog.Error("core service close error", "error", closeErr)
			}
		}()

		if err := coreService.Seed(cmd.Context()); err != nil {
			return fmt.Errorf("failed to seed: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}
