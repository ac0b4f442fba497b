// Package monitor implements the availability check job: it re-checks
// tracked wishlist items against the catalog and records a notification
// when an item becomes available.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"kirjastokaveri/internal/availability"
	"kirjastokaveri/internal/cache"
	"kirjastokaveri/internal/fanout"
	"kirjastokaveri/internal/metrics"
	"kirjastokaveri/internal/model"
)

// ErrAlreadyRunning is returned by Run while another run is in progress.
var ErrAlreadyRunning = errors.New("availability monitor already running")

// Store is the persistence the monitor needs.
type Store interface {
	LoadTrackedTargets(ctx context.Context, batchSize int) ([]model.TrackedTarget, error)
	PersistAvailabilityUpdates(ctx context.Context, updates []model.AvailabilityUpdate) (updated, notified int, err error)
}

// Catalog fetches raw availability documents.
type Catalog interface {
	Availability(ctx context.Context, recordID string) (json.RawMessage, error)
}

// Config bounds the work done by one run.
type Config struct {
	BatchSize   int
	Concurrency int
	// CacheTTL is used when refreshing the shared availability cache.
	CacheTTL time.Duration
}

// Monitor runs availability checks. At most one run executes at a time.
type Monitor struct {
	store   Store
	catalog Catalog
	cache   cache.Backend
	cfg     Config
	log     *slog.Logger
	metrics *metrics.Metrics

	running atomic.Bool
	state   atomic.Pointer[model.JobState]
	now     func() time.Time
}

// New creates a Monitor. c may be nil, which disables cache write-through.
func New(store Store, cat Catalog, c cache.Backend, cfg Config, log *slog.Logger) *Monitor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	m := &Monitor{
		store:   store,
		catalog: cat,
		cache:   c,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
	m.state.Store(&model.JobState{})
	return m
}

// SetMetrics attaches run instruments.
func (m *Monitor) SetMetrics(mt *metrics.Metrics) {
	m.metrics = mt
}

// Status reports whether a run is in progress and the state left by the
// latest run.
func (m *Monitor) Status() model.JobStatus {
	return model.JobStatus{
		Running: m.running.Load(),
		State:   *m.state.Load(),
	}
}

// Run executes one availability check. It returns ErrAlreadyRunning
// without blocking if a run is in progress. Per-item fetch failures are
// reported in the result; only load or persistence failures fail the run.
func (m *Monitor) Run(ctx context.Context, triggeredBy string) (*model.JobResult, error) {
	if !m.running.CompareAndSwap(false, true) {
		m.metrics.MonitorSkipped()
		return nil, ErrAlreadyRunning
	}
	defer m.running.Store(false)

	start := m.now().UTC()
	state := *m.state.Load()
	state.LastStartedAt = &start
	m.state.Store(&state)

	result := &model.JobResult{
		RunID:       uuid.NewString(),
		TriggeredBy: triggeredBy,
		Errors:      []string{},
	}
	log := m.log.With("run_id", result.RunID, "triggered_by", triggeredBy)
	log.Info("starting availability monitor run")

	err := m.execute(ctx, log, result)

	end := m.now().UTC()
	duration := end.Sub(start).Seconds()
	next := state
	next.LastCompletedAt = &end
	next.LastDurationSeconds = &duration

	if err != nil {
		msg := err.Error()
		next.LastErrorAt = &end
		next.LastErrorMessage = &msg
		m.state.Store(&next)
		m.metrics.MonitorRun(end.Sub(start), result.ItemsChecked, 0, err)
		log.Error("availability monitor run failed", "error", err)
		return nil, fmt.Errorf("availability monitor run: %w", err)
	}

	stored := *result
	stored.Errors = slices.Clone(result.Errors)
	next.LastSuccessAt = &end
	next.LastResult = &stored
	next.LastErrorAt = nil
	next.LastErrorMessage = nil
	m.state.Store(&next)

	m.metrics.MonitorRun(end.Sub(start), result.ItemsChecked, result.NotificationsCreated, nil)
	log.Info("availability monitor run finished",
		"items_checked", result.ItemsChecked,
		"updates_persisted", result.UpdatesPersisted,
		"notifications_created", result.NotificationsCreated,
		"errors", len(result.Errors),
	)
	return result, nil
}

func (m *Monitor) execute(ctx context.Context, log *slog.Logger, result *model.JobResult) error {
	targets, err := m.store.LoadTrackedTargets(ctx, m.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("load targets: %w", err)
	}
	result.ItemsChecked = len(targets)
	if len(targets) == 0 {
		return nil
	}

	checkedAt := m.now().UTC().Truncate(time.Second)
	results := fanout.Run(ctx, len(targets), m.cfg.Concurrency, func(ctx context.Context, i int) (model.AvailabilityUpdate, error) {
		return m.check(ctx, targets[i], checkedAt)
	})

	updates := make([]model.AvailabilityUpdate, 0, len(results))
	for _, r := range results {
		if r.Err != nil {
			msg := fmt.Sprintf("Failed to fetch availability for %s: %v", targets[r.Index].ExternalRecordID, r.Err)
			log.Warn(msg, "item_id", targets[r.Index].ID)
			result.Errors = append(result.Errors, msg)
			continue
		}
		updates = append(updates, r.Value)
	}

	updated, notified, err := m.store.PersistAvailabilityUpdates(ctx, updates)
	if err != nil {
		return fmt.Errorf("persist updates: %w", err)
	}
	result.UpdatesPersisted = updated
	result.NotificationsCreated = notified
	return nil
}

func (m *Monitor) check(ctx context.Context, t model.TrackedTarget, checkedAt time.Time) (model.AvailabilityUpdate, error) {
	raw, err := m.catalog.Availability(ctx, t.ExternalRecordID)
	if err != nil {
		return model.AvailabilityUpdate{}, err
	}
	entries := availability.Parse(t.ExternalRecordID, raw)
	m.writeThrough(ctx, t.ExternalRecordID, entries)
	return Evaluate(t, entries, checkedAt), nil
}

// writeThrough refreshes the location-less availability cache entry so the
// synchronous endpoint serves what the monitor last saw.
func (m *Monitor) writeThrough(ctx context.Context, recordID string, entries []model.AvailabilityEntry) {
	if m.cache == nil || m.cfg.CacheTTL <= 0 {
		return
	}
	b, err := json.Marshal(availability.BuildResponse(recordID, entries))
	if err != nil {
		return
	}
	if err := m.cache.Set(ctx, cache.AvailabilityKey(recordID, nil, nil), string(b), m.cfg.CacheTTL); err != nil {
		m.log.Warn("cache availability", "record_id", recordID, "error", err)
	}
}
