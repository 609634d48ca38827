package cmd

import (
	"encoding/json"

	"github.com/solatis/routingfilter/internal/core/db"
	"github.com/solatis/routingfilter/internal/types"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats [namespace]",
	Short: "Print the hit counts flushed to the database",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	var ns types.Namespace
	if len(args) == 1 {
		parsed, err := types.ParseNamespace(args[0])
		if err != nil {
			return err
		}
		ns = parsed
	}

	ctx, database, logger, err := openDatabase(cmd)
	if err != nil {
		return err
	}
	defer database.Close()
	defer logger.Sync()

	store, err := db.NewStore(database, nil)
	if err != nil {
		return err
	}
	rows, err := store.Hits(ctx, ns)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(db.HitsAsStats(rows))
}
