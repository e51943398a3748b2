package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/curatorhq/enrichd/internal/core/domain"
	"github.com/curatorhq/enrichd/internal/infra/storage/postgres"
	"github.com/curatorhq/enrichd/internal/pipeline/registry"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue depth per pipeline status",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	rows, err := db.QueryContext(ctx,
		"SELECT status_code, COUNT(*) FROM queue_items GROUP BY status_code ORDER BY status_code")
	if err != nil {
		slog.Error("Failed to query queue", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = rows.Close()
	}()

	reg := registry.New()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "CODE\tSTATUS\tCATEGORY\tCOUNT")

	for rows.Next() {
		var code int
		var count int64
		if err := rows.Scan(&code, &count); err != nil {
			continue
		}
		status := domain.StatusCode(code)
		category, _ := reg.CategoryOf(status)
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", code, reg.Name(status), category, count)
	}
	_ = w.Flush()
}
