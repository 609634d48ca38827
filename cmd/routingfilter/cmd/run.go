package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/solatis/routingfilter/internal/core/journal"
	"github.com/solatis/routingfilter/internal/core/stats"
	"github.com/solatis/routingfilter/internal/event"
	"github.com/solatis/routingfilter/internal/source"
	"github.com/solatis/routingfilter/internal/types"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const metricsInterval = 15 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Route a stream of events from stdin until interrupted",
	Long: `Reads newline-delimited JSON events from stdin and writes each event,
with its routing history updated, plus its match results to stdout.

Rules are reloaded when watched files change (--watch) or when a new
bundle is published to redis. Hit counts are flushed to the database on
the configured schedule.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	addRuleFlags(runCmd)
	runCmd.Flags().Bool("watch", false, "reload rules when rule files change")
	runCmd.Flags().String("data-dir", "./data", "directory for the match journal")
	runCmd.Flags().Bool("journal", false, "record every match in the daily journal")
	runCmd.Flags().String("input-format", "json", "event encoding on stdin (json, proto)")
	runCmd.Flags().String("output-format", "json", "encoding on stdout (json, proto)")
}

// routedEvent is one line of run output.
type routedEvent struct {
	Event   types.Event         `json:"event"`
	Results []types.MatchResult `json:"results"`
	Error   string              `json:"error,omitempty"`
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ns, err := types.ParseNamespace(cfg.Routing.Namespace)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := newEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer e.Close()
	if err := e.reload(ctx, "startup"); err != nil {
		return err
	}

	var jrnl *journal.Journal
	if enabled, _ := cmd.Flags().GetBool("journal"); enabled {
		jrnl, err = journal.New(cfg.DataDir)
		if err != nil {
			return err
		}
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()

	if cfg.Routing.Watch && e.files != nil {
		fw, err := source.NewFileWatcher(e.files.Paths(), cfg.Routing.Debounce, logger)
		if err != nil {
			return err
		}
		defer fw.Stop()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fw.Watch(watchCtx, func() error { return e.reload(watchCtx, "file") }); err != nil {
				logger.Error("file watcher failed", zap.Error(err))
			}
		}()
	}

	if e.redis != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.redis.Watch(watchCtx, nil, func() error { return e.reload(watchCtx, "redis") }); err != nil {
				logger.Error("redis watcher failed", zap.Error(err))
			}
		}()
	}

	var scheduler *stats.Scheduler
	if e.store != nil {
		scheduler = stats.NewScheduler(stats.NewFlusher(e.routing, e.store, logger), logger)
		if err := scheduler.Start(ctx, cfg.Stats.FlushSchedule); err != nil {
			return err
		}
	}

	if cfg.Metrics.Textfile != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			writeMetricsPeriodically(watchCtx, e, cfg.Metrics.Textfile, logger)
		}()
	}

	logger.Info("routing events",
		zap.String("namespace", string(ns)),
		zap.Int("rules", e.routing.Count()))

	inFormat, _ := cmd.Flags().GetString("input-format")
	outFormat, _ := cmd.Flags().GetString("output-format")
	streamErr := streamEvents(ctx, cmd, e, ns, inFormat, outFormat, jrnl, logger)
	cancelWatch()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if scheduler != nil {
		if err := scheduler.Stop(shutdownCtx); err != nil {
			logger.Error("final stats flush failed", zap.Error(err))
		}
	} else {
		logger.Info("hit counts", zap.Any("stats", e.routing.Stats(false)))
	}
	if cfg.Metrics.Textfile != "" {
		if err := e.metrics.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			logger.Error("failed to write metrics", zap.Error(err))
		}
	}
	return streamErr
}

// streamEvents routes stdin events until EOF or cancellation.
// With proto output each event is written as a Struct carrying its results
// under "routing_results".
func streamEvents(ctx context.Context, cmd *cobra.Command, e *engine, ns types.Namespace, inFormat, outFormat string, jrnl *journal.Journal, logger *zap.Logger) error {
	out := json.NewEncoder(cmd.OutOrStdout())
	errCh := make(chan error, 1)

	go func() {
		errCh <- matchFile("-", inFormat, cmd.InOrStdin(), func(ev types.Event) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			results, matchErr := e.routing.Match(ev, ns, e.cfg.Routing.TagField)
			if matchErr != nil {
				logger.Warn("match failed", zap.Error(matchErr))
			}
			if jrnl != nil {
				if _, err := jrnl.Record(ns, ev, results, matchErr); err != nil {
					logger.Error("journal write failed", zap.Error(err))
				}
			}

			if outFormat == "proto" {
				return event.WriteProto(cmd.OutOrStdout(), withResults(ev, results, matchErr))
			}

			line := routedEvent{Event: ev, Results: results}
			if line.Results == nil {
				line.Results = []types.MatchResult{}
			}
			if matchErr != nil {
				line.Error = matchErr.Error()
			}
			return out.Encode(line)
		}, logger)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("shutting down gracefully")
		return nil
	}
}

func withResults(ev types.Event, results []types.MatchResult, matchErr error) types.Event {
	out := make(types.Event, len(ev)+2)
	for k, v := range ev {
		out[k] = v
	}
	matches := make([]any, 0, len(results))
	for _, r := range results {
		matches = append(matches, map[string]any{
			"id":     string(r.ID),
			"output": map[string]any(r.Output),
		})
	}
	out["routing_results"] = matches
	if matchErr != nil {
		out["routing_error"] = matchErr.Error()
	}
	return out
}

func writeMetricsPeriodically(ctx context.Context, e *engine, path string, logger *zap.Logger) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		logger.Error("failed to create metrics directory", zap.Error(err))
		return
	}

	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.metrics.WriteTextfile(path); err != nil {
				logger.Error("failed to write metrics", zap.String("path", path), zap.Error(err))
			}
		}
	}
}
