package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/curatorhq/enrichd/internal/control"
)

var sweepLimit int

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one retry sweep over due items and exit",
	Run:   runSweep,
}

func init() {
	sweepCmd.Flags().IntVar(&sweepLimit, "limit", 50, "maximum items to sweep")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	app, err := control.NewService(cfg, slog.Default())
	if err != nil {
		slog.Error("Failed to initialize service", "error", err)
		os.Exit(1)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	defer func() {
		_ = app.Stop(context.Background())
	}()

	stats, err := app.Scheduler().Sweep(ctx, sweepLimit)
	if err != nil {
		slog.Error("Sweep failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("processed=%d succeeded=%d failed=%d dead_lettered=%d skipped=%d\n",
		stats.Processed, stats.Succeeded, stats.Failed, stats.DeadLettered, stats.Skipped)
}
