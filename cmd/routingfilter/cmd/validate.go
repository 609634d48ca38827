package cmd

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/solatis/routingfilter/internal/types"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load the rules and report every rule that fails to compile",
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	addRuleFlags(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	e, err := newEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer e.Close()

	loadErr := e.loadStrict(ctx)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAMESPACE\tTAG\tRULE\tGENERATED")
	all := e.routing.Rules()
	for _, ns := range types.Namespaces {
		tags := make([]string, 0, len(all[ns]))
		for tag := range all[ns] {
			tags = append(tags, tag)
		}
		sort.Strings(tags)
		for _, tag := range tags {
			for _, id := range all[ns][tag] {
				generated := "-"
				if ts := types.RuleIDTime(id); !ts.IsZero() {
					generated = ts.UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ns, tag, id, generated)
			}
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	errs := multierr.Errors(loadErr)
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d rules loaded, %d errors\n", e.routing.Count(), len(errs))
	for _, err := range errs {
		fmt.Fprintf(cmd.OutOrStdout(), "  %v\n", err)
	}
	if loadErr != nil {
		return fmt.Errorf("validation failed with %d errors", len(errs))
	}
	return nil
}
