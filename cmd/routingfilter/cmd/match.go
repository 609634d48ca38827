package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/solatis/routingfilter/internal/event"
	"github.com/solatis/routingfilter/internal/types"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var matchCmd = &cobra.Command{
	Use:   "match [event-file...]",
	Short: "Match events against the rules and print the results",
	Long: `Reads JSON events from the given files, or stdin when none are given,
and prints one JSON line per event with the matched rules.`,
	RunE: runMatch,
}

func init() {
	rootCmd.AddCommand(matchCmd)
	addRuleFlags(matchCmd)
	matchCmd.Flags().Bool("print-event", false, "include the event with its updated routing history")
	matchCmd.Flags().String("input-format", "json", "event encoding (json, proto)")
}

// matchLine is one line of match output.
type matchLine struct {
	Index   int                 `json:"index"`
	Results []types.MatchResult `json:"results"`
	Error   string              `json:"error,omitempty"`
	Event   types.Event         `json:"event,omitempty"`
}

func runMatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ns, err := types.ParseNamespace(cfg.Routing.Namespace)
	if err != nil {
		return err
	}
	printEvent, _ := cmd.Flags().GetBool("print-event")
	format, _ := cmd.Flags().GetString("input-format")

	e, err := newEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer e.Close()
	if err := e.reload(ctx, "startup"); err != nil {
		return err
	}

	if len(args) == 0 {
		args = []string{"-"}
	}
	out := json.NewEncoder(cmd.OutOrStdout())
	index := 0
	for _, name := range args {
		if err := matchFile(name, format, cmd.InOrStdin(), func(ev types.Event) error {
			results, matchErr := e.routing.Match(ev, ns, cfg.Routing.TagField)
			line := matchLine{Index: index, Results: results}
			if line.Results == nil {
				line.Results = []types.MatchResult{}
			}
			if matchErr != nil {
				line.Error = matchErr.Error()
			}
			if printEvent {
				line.Event = ev
			}
			index++
			return out.Encode(line)
		}, logger); err != nil {
			return err
		}
	}
	return nil
}

// matchFile streams the events of name ("-" is stdin) into fn. Values that
// are not objects are logged and skipped.
func matchFile(name, format string, stdin io.Reader, fn func(types.Event) error, logger *zap.Logger) error {
	r := stdin
	if name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return fmt.Errorf("failed to open events file: %w", err)
		}
		defer f.Close()
		r = f
	}

	reader, err := event.NewDecoder(r, format)
	if err != nil {
		return err
	}
	for {
		ev, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, event.ErrNotObject) {
			logger.Warn("skipping event", zap.String("file", name), zap.Error(err))
			continue
		}
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}
