package source

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/solatis/routingfilter/internal/types"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ErrSourceFailed wraps errors from reading a source. The target's rules
// are unchanged when it is returned.
var ErrSourceFailed = errors.New("rule source failed")

// Target receives a freshly loaded rule set. routing.Routing satisfies it.
type Target interface {
	Reload(docs []map[string]any, vars types.Variables) error
}

// ReloadRecorder records reload outcomes.
type ReloadRecorder interface {
	RecordReload(trigger string, err error)
}

// Loader reloads a Target from a fixed list of sources.
type Loader struct {
	sources  []Source
	target   Target
	recorder ReloadRecorder
	logger   *zap.Logger

	mu sync.Mutex
}

// NewLoader creates a loader. recorder may be nil.
func NewLoader(target Target, recorder ReloadRecorder, logger *zap.Logger, sources ...Source) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{sources: sources, target: target, recorder: recorder, logger: logger}
}

// Reload reads every source and replaces the target's rules. When a source
// fails the current rules are kept. Rules that fail to compile are skipped
// by the target; their errors are returned alongside a successful swap.
// trigger names what caused the reload ("startup", "file", "redis").
func (l *Loader) Reload(ctx context.Context, trigger string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, err := Combine(ctx, l.sources...)
	if err != nil {
		l.logger.Error("rule sources failed, keeping current rules",
			zap.String("trigger", trigger), zap.Error(err))
		l.record(trigger, err)
		return fmt.Errorf("%w: %w", ErrSourceFailed, err)
	}

	err = l.target.Reload(b.Documents, b.Variables)
	if err != nil {
		l.logger.Warn("rules reloaded with errors",
			zap.String("trigger", trigger),
			zap.Int("errors", len(multierr.Errors(err))))
	} else {
		l.logger.Info("rules reloaded",
			zap.String("trigger", trigger),
			zap.Int("documents", len(b.Documents)))
	}
	l.record(trigger, err)
	return err
}

func (l *Loader) record(trigger string, err error) {
	if l.recorder != nil {
		l.recorder.RecordReload(trigger, err)
	}
}
