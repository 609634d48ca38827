package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/solatis/routingfilter/internal/core/db"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the rule database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE:  runMigrateUp,
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied and pending migrations",
	RunE:  runMigrateStatus,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd, migrateStatusCmd)
}

// openDatabase opens the configured database. --db-url is required.
func openDatabase(cmd *cobra.Command) (context.Context, *sqlx.DB, *zap.Logger, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, logger, err := setup(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	if cfg.DB.URL == "" {
		return nil, nil, nil, fmt.Errorf("--db-url required")
	}
	database, err := db.Open(ctx, cfg.DB.URL)
	if err != nil {
		return nil, nil, nil, err
	}
	return ctx, database, logger, nil
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	ctx, database, logger, err := openDatabase(cmd)
	if err != nil {
		return err
	}
	defer database.Close()
	defer logger.Sync()

	migrator, err := db.NewMigrator(database, logger)
	if err != nil {
		return err
	}
	if err := migrator.Up(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
	return nil
}

func runMigrateStatus(cmd *cobra.Command, args []string) error {
	ctx, database, logger, err := openDatabase(cmd)
	if err != nil {
		return err
	}
	defer database.Close()
	defer logger.Sync()

	migrator, err := db.NewMigrator(database, logger)
	if err != nil {
		return err
	}
	statuses, err := migrator.Status(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MIGRATION\tSTATUS\tAPPLIED AT\tDURATION")
	for _, s := range statuses {
		status, appliedAt, duration := "pending", "-", "-"
		if s.Applied {
			status = "applied"
			duration = (time.Duration(s.ExecutionMs) * time.Millisecond).String()
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.UTC().Format(time.RFC3339)
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.ID, status, appliedAt, duration)
	}
	return w.Flush()
}
