package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"speech-preroll/internal/config"
	"speech-preroll/internal/database"
	"speech-preroll/internal/logging"
)

func main() {
	if err := newCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var (
		configPath string
		olderThan  time.Duration
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:           "prune-events",
		Short:         "Delete preroll capture events older than a cutoff",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive, got %s", olderThan)
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer logger.Sync() //nolint:errcheck

			cutoff := time.Now().Add(-olderThan)
			if dryRun {
				logger.Info("dry run, nothing deleted", zap.Time("cutoff", cutoff))
				return nil
			}
			return prune(cmd.Context(), cfg.Database, cutoff, logger)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Configuration file path (YAML)")
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Delete events recorded before now minus this duration")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Only print the cutoff")
	return cmd
}

func prune(ctx context.Context, cfg config.DatabaseConfig, cutoff time.Time, logger *zap.Logger) error {
	db, err := database.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := database.NewEventStore(db).PruneBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune events: %w", err)
	}
	logger.Info("pruned preroll events", zap.Int64("deleted", n), zap.Time("cutoff", cutoff))
	return nil
}
