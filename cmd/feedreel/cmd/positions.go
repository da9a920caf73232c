package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/feedreel/internal/config"
	"github.com/jmylchreest/feedreel/internal/database"
	"github.com/jmylchreest/feedreel/internal/repository"
	"github.com/jmylchreest/feedreel/internal/scheduler"
)

var positionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "Saved playback position commands",
}

var positionsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete positions older than the retention window",
	Long: `Delete saved playback positions not updated within playback.position_retention.

This runs the same prune the server schedules with playback.prune_schedule,
once, and exits.`,
	RunE: runPositionsPrune,
}

func init() {
	rootCmd.AddCommand(positionsCmd)
	positionsCmd.AddCommand(positionsPruneCmd)

	positionsPruneCmd.Flags().Duration("retention", 0, "override playback.position_retention")
}

func runPositionsPrune(cmd *cobra.Command, _ []string) error {
	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return err
	}
	if retention, _ := cmd.Flags().GetDuration("retention"); retention > 0 {
		cfg.Playback.PositionRetention = retention
	}

	logger := slog.Default()
	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(cmd.Context()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	repo := repository.NewPositionRepository(db.DB)
	s := scheduler.NewScheduler(repo, scheduler.Config{
		Schedule:   cfg.Playback.PruneSchedule,
		Retention:  cfg.Playback.PositionRetention,
		RunTimeout: pruneRunTimeout,
	}).WithLogger(logger)

	removed, err := s.RunPrune(cmd.Context())
	if err != nil {
		return err
	}

	remaining, err := repo.Count(cmd.Context())
	if err != nil {
		return fmt.Errorf("counting positions: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d positions, %d remaining\n", removed, remaining)
	return nil
}
