// Package journal appends match outcomes to daily JSONL files.
//
// The journal is a debugging aid: writes are best effort, and one file per
// UTC day is kept under <data_dir>/matches.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/solatis/routingfilter/internal/types"
)

// Entry is one journal line.
type Entry struct {
	EntryID    string              `json:"entry_id"`
	RecordedAt string              `json:"recorded_at"`
	Namespace  types.Namespace     `json:"namespace"`
	Results    []types.MatchResult `json:"results"`
	Error      string              `json:"error,omitempty"`
	Event      types.Event         `json:"event,omitempty"`
}

// Journal writes entries to daily files.
type Journal struct {
	dir          string
	clock        clock.Clock
	includeEvent bool

	mutexLock sync.Mutex
	mutexes   map[string]*sync.Mutex
}

// Option configures a Journal.
type Option func(*Journal)

// WithClock sets the clock used for file names and timestamps.
func WithClock(c clock.Clock) Option {
	return func(j *Journal) { j.clock = c }
}

// WithEvents includes the matched event, routing history included, in
// every entry.
func WithEvents() Option {
	return func(j *Journal) { j.includeEvent = true }
}

// New creates a journal under dataDir/matches, creating the directory.
func New(dataDir string, opts ...Option) (*Journal, error) {
	dir := filepath.Join(dataDir, "matches")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	j := &Journal{
		dir:     dir,
		clock:   clock.New(),
		mutexes: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Record appends one match outcome and returns the entry id.
func (j *Journal) Record(ns types.Namespace, event types.Event, results []types.MatchResult, matchErr error) (string, error) {
	now := j.clock.Now().UTC()
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate entry id: %w", err)
	}

	entry := Entry{
		EntryID:    id.String(),
		RecordedAt: now.Format(time.RFC3339Nano),
		Namespace:  ns,
		Results:    results,
	}
	if matchErr != nil {
		entry.Error = matchErr.Error()
	}
	if j.includeEvent {
		entry.Event = event
	}

	filename := j.Path(now)
	mu := j.fileMutex(filename)
	mu.Lock()
	defer mu.Unlock()

	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return "", fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(entry); err != nil {
		return "", fmt.Errorf("write journal: %w", err)
	}
	return entry.EntryID, nil
}

// Path returns the journal file for the UTC day of t.
func (j *Journal) Path(t time.Time) string {
	return filepath.Join(j.dir, t.UTC().Format("2006-01-02.jsonl"))
}

// fileMutex returns the mutex guarding filename. The map grows by one
// entry per day.
func (j *Journal) fileMutex(filename string) *sync.Mutex {
	j.mutexLock.Lock()
	defer j.mutexLock.Unlock()

	mu, ok := j.mutexes[filename]
	if !ok {
		mu = &sync.Mutex{}
		j.mutexes[filename] = mu
	}
	return mu
}
