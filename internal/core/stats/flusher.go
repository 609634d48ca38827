// Package stats persists rule hit counts collected by the routing engine.
package stats

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/solatis/routingfilter/internal/types"
	"go.uber.org/zap"
)

/*
 * Hit count flushing.
 *
 * Flush collects Stats(true) from the engine and adds it to the sink. Counts
 * that fail to persist are kept and retried on the next flush, so a sink
 * outage delays counts instead of dropping them.
 *
 * Scheduler runs Flush on a cron schedule and once more on Stop.
 */

// Source yields hit counts, zeroing them when reset is set.
type Source interface {
	Stats(reset bool) types.Stats
}

// Sink persists hit counts additively.
type Sink interface {
	AddHits(ctx context.Context, stats types.Stats) (int, error)
}

// Flusher moves hit counts from a Source to a Sink.
type Flusher struct {
	source Source
	sink   Sink
	logger *zap.Logger

	mu      sync.Mutex
	pending types.Stats
}

// NewFlusher creates a Flusher.
func NewFlusher(source Source, sink Sink, logger *zap.Logger) *Flusher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Flusher{source: source, sink: sink, logger: logger, pending: make(types.Stats)}
}

// Flush persists the counts gathered since the last successful flush and
// returns the number of rows written.
func (f *Flusher) Flush(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	Merge(f.pending, f.source.Stats(true))

	n, err := f.sink.AddHits(ctx, f.pending)
	if err != nil {
		return 0, fmt.Errorf("flush hit counts: %w", err)
	}
	f.pending = make(types.Stats)
	return n, nil
}

// Pending returns the number of buckets waiting for a successful flush.
func (f *Flusher) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, byRule := range f.pending {
		for _, hits := range byRule {
			n += len(hits)
		}
	}
	return n
}

// Merge adds src into dst.
func Merge(dst, src types.Stats) {
	for ns, byRule := range src {
		for id, hits := range byRule {
			if len(hits) == 0 {
				continue
			}
			if dst[ns] == nil {
				dst[ns] = make(map[types.RuleID]types.HitCounts)
			}
			if dst[ns][id] == nil {
				dst[ns][id] = make(types.HitCounts)
			}
			for bucket, n := range hits {
				dst[ns][id][bucket] += n
			}
		}
	}
}

// Scheduler runs a Flusher on a cron schedule.
type Scheduler struct {
	flusher *Flusher
	cron    *cron.Cron
	logger  *zap.Logger

	mu      sync.Mutex
	running bool
}

// NewScheduler creates a scheduler for flusher.
func NewScheduler(flusher *Flusher, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		flusher: flusher,
		cron:    cron.New(),
		logger:  logger.With(zap.String("component", "stats.scheduler")),
	}
}

// Start schedules flushing with a standard cron expression or descriptor
// ("@every 1m"). An empty schedule disables the scheduler.
func (s *Scheduler) Start(ctx context.Context, schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if schedule == "" {
		s.logger.Info("flush schedule not configured, skipping scheduler")
		return nil
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}
	if _, err := s.cron.AddFunc(schedule, func() { s.run(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule flush: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("stats scheduler started", zap.String("schedule", schedule))
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	n, err := s.flusher.Flush(ctx)
	if err != nil {
		s.logger.Error("scheduled flush failed",
			zap.Int("pending", s.flusher.Pending()),
			zap.Error(err))
		return
	}
	s.logger.Debug("scheduled flush completed", zap.Int("rows", n))
}

// Stop waits for a running flush, then flushes once more with ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	<-s.cron.Stop().Done()
	s.running = false

	if _, err := s.flusher.Flush(ctx); err != nil {
		return err
	}
	s.logger.Info("stats scheduler stopped")
	return nil
}

// NextRun returns the next scheduled flush time.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
