package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"lifeos/internal/metrics"
	"lifeos/internal/models"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const defaultMaxConcurrency = 8

var (
	ErrNotLoaded      = errors.New("no snapshot loaded yet")
	ErrThreadNotFound = errors.New("thread not found")
	ErrInvalidStatus  = errors.New("invalid thread status")
)

// EventSource lists upcoming calendar events.
type EventSource interface {
	UpcomingEvents(ctx context.Context) ([]models.CalendarEvent, error)
}

// ThreadSource lists mail threads and fetches one thread in full.
type ThreadSource interface {
	ListThreadIDs(ctx context.Context) ([]string, error)
	Thread(ctx context.Context, id string) (models.EmailThread, error)
}

// Options tunes the orchestrator.
type Options struct {
	// MaxConcurrency bounds concurrent thread detail fetches.
	MaxConcurrency int
}

// Orchestrator loads events and threads and keeps the last good snapshot.
type Orchestrator struct {
	logger  *slog.Logger
	events  EventSource
	threads ThreadSource
	opts    Options
	now     func() time.Time

	cycles atomic.Uint64

	mu        sync.RWMutex
	snapshot  models.Snapshot
	loaded    bool
	storedSeq uint64
	overrides map[string]statusOverride
}

// statusOverride is a status set by the user. It holds while the thread
// still has the message count it had when the status was set.
type statusOverride struct {
	status       models.MessageStatus
	messageCount int
}

// New creates an Orchestrator.
func New(logger *slog.Logger, events EventSource, threads ThreadSource, opts Options) *Orchestrator {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = defaultMaxConcurrency
	}
	return &Orchestrator{
		logger:    logger,
		events:    events,
		threads:   threads,
		opts:      opts,
		now:       time.Now,
		overrides: make(map[string]statusOverride),
	}
}

// Snapshot returns the last successfully loaded snapshot and whether any
// cycle has succeeded yet.
func (o *Orchestrator) Snapshot() (models.Snapshot, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.snapshot, o.loaded
}

// LoadAll runs one ingestion cycle. The calendar list and the thread list are
// fetched concurrently and either failure fails the cycle, leaving the held
// snapshot untouched. Thread details are fetched concurrently; a failing
// detail is logged and dropped. When cycles overlap, a cycle that started
// earlier never replaces the snapshot of one that started later; it returns
// the newer snapshot instead.
func (o *Orchestrator) LoadAll(ctx context.Context) (models.Snapshot, error) {
	start := time.Now()
	seq := o.cycles.Add(1)
	logger := o.logger.With("cycle", uuid.NewString())
	logger.Info("Starting ingestion cycle.")

	var (
		events  []models.CalendarEvent
		threads []models.EmailThread
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ev, err := o.events.UpcomingEvents(gctx)
		if err != nil {
			return fmt.Errorf("failed to fetch calendar events: %w", err)
		}
		events = ev
		return nil
	})
	g.Go(func() error {
		th, err := o.loadThreads(gctx, logger)
		if err != nil {
			return err
		}
		threads = th
		return nil
	})
	if err := g.Wait(); err != nil {
		metrics.ObserveCycle("failure", start)
		logger.Error("Ingestion cycle failed, keeping previous data", "error", err)
		return models.Snapshot{}, err
	}

	if events == nil {
		events = []models.CalendarEvent{}
	}
	o.mu.Lock()
	if seq < o.storedSeq {
		held := o.snapshot
		o.mu.Unlock()
		metrics.ObserveCycle("superseded", start)
		logger.Info("A newer ingestion cycle already finished, discarding this one.")
		return held, nil
	}
	snap := models.Snapshot{Events: events, Threads: o.applyOverrides(threads), LoadedAt: o.now()}
	o.snapshot = snap
	o.loaded = true
	o.storedSeq = seq
	o.mu.Unlock()

	metrics.ObserveCycle("success", start)
	logger.Info("Ingestion cycle finished.", "events", len(snap.Events), "threads", len(snap.Threads))
	return snap, nil
}

// applyOverrides sets user statuses on threads and forgets overrides whose
// thread changed or disappeared. Callers hold o.mu.
func (o *Orchestrator) applyOverrides(threads []models.EmailThread) []models.EmailThread {
	seen := make(map[string]bool, len(o.overrides))
	for i, t := range threads {
		ov, ok := o.overrides[t.ID]
		if !ok {
			continue
		}
		if ov.messageCount == t.MessageCount {
			threads[i].Status = ov.status
			seen[t.ID] = true
		}
	}
	for id := range o.overrides {
		if !seen[id] {
			delete(o.overrides, id)
		}
	}
	return threads
}

// UpdateThreadStatus sets the status of a thread in the held snapshot, for
// example to mark it replied from the dashboard. The status survives later
// cycles until a new message arrives on the thread.
func (o *Orchestrator) UpdateThreadStatus(id string, status models.MessageStatus) (models.EmailThread, error) {
	if !status.Valid() {
		return models.EmailThread{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.loaded {
		return models.EmailThread{}, ErrNotLoaded
	}
	i := slices.IndexFunc(o.snapshot.Threads, func(t models.EmailThread) bool { return t.ID == id })
	if i < 0 {
		return models.EmailThread{}, ErrThreadNotFound
	}

	// Snapshots handed out earlier share the old slice.
	threads := slices.Clone(o.snapshot.Threads)
	threads[i].Status = status
	o.snapshot.Threads = threads
	o.overrides[id] = statusOverride{status: status, messageCount: threads[i].MessageCount}
	o.logger.Info("Thread status updated.", "threadID", id, "status", status)
	return threads[i], nil
}

func (o *Orchestrator) loadThreads(ctx context.Context, logger *slog.Logger) ([]models.EmailThread, error) {
	ids, err := o.threads.ListThreadIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list mail threads: %w", err)
	}

	// Indexed by position in the thread list, so completion order does not matter.
	results := make([]*models.EmailThread, len(ids))
	var g errgroup.Group
	g.SetLimit(o.opts.MaxConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			t, err := o.threads.Thread(ctx, id)
			if err != nil {
				metrics.ThreadFetchFailed()
				logger.Warn("Failed to fetch thread detail, skipping", "threadID", id, "error", err)
				return nil
			}
			results[i] = &t
			return nil
		})
	}
	_ = g.Wait()

	threads := make([]models.EmailThread, 0, len(ids))
	for _, t := range results {
		if t != nil {
			threads = append(threads, *t)
		}
	}
	return threads, nil
}

// Run calls LoadAll immediately and then on every tick until ctx is done.
// Failed cycles are logged; onLoad is only called for successful ones.
func (o *Orchestrator) Run(ctx context.Context, interval time.Duration, onLoad func(models.Snapshot)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if snap, err := o.LoadAll(ctx); err == nil && onLoad != nil {
			onLoad(snap)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
