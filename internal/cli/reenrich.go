package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/curatorhq/enrichd/internal/control"
	"github.com/curatorhq/enrichd/internal/core/domain"
)

var (
	reenrichStep   string
	reenrichTarget int
)

var reenrichCmd = &cobra.Command{
	Use:   "reenrich [item_id]",
	Short: "Force an item back through the pipeline, or re-run a single step",
	Args:  cobra.ExactArgs(1),
	Run:   runReenrich,
}

var rejectCmd = &cobra.Command{
	Use:   "reject [item_id]",
	Short: "Mark an item failed, cancelling any running pipeline run",
	Args:  cobra.ExactArgs(1),
	Run:   runReject,
}

func init() {
	reenrichCmd.Flags().StringVar(&reenrichStep, "step", "", "re-run only this step")
	reenrichCmd.Flags().IntVar(&reenrichTarget, "target", 0, "status code to land on after a single-step run")
	rootCmd.AddCommand(reenrichCmd)
	rootCmd.AddCommand(rejectCmd)
}

func runReenrich(cmd *cobra.Command, args []string) {
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

	result, err := app.Orchestrator().Reenrich(ctx, domain.ReenrichCommand{
		ItemID:       args[0],
		Step:         reenrichStep,
		TargetStatus: domain.StatusCode(reenrichTarget),
	})
	if err != nil {
		slog.Error("Reenrich failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("run=%s final=%s dead_lettered=%v\n",
		result.RunID, app.Registry().Name(result.Final), result.DeadLettered)
}

func runReject(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	app, err := control.NewService(cfg, slog.Default())
	if err != nil {
		slog.Error("Failed to initialize service", "error", err)
		os.Exit(1)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	defer func() {
		_ = app.Stop(context.Background())
	}()

	if err := app.Orchestrator().Reject(ctx, args[0]); err != nil {
		slog.Error("Reject failed", "error", err)
		os.Exit(1)
	}
	fmt.Println("item rejected")
}
