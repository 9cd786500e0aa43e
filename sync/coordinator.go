// ABOUTME: Sync-run coordinator guarding against overlapping runs with a leased status record
// ABOUTME: Claims, finishes, and records outcomes through a pluggable status store
package sync

import (
	"context"
	"errors"
	"time"

	"github.com/BLEND360/hubspot-deals-export/models"
	"github.com/oklog/ulid/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrRunInProgress is returned when another run holds the lease.
var ErrRunInProgress = errors.New("sync already in progress")

// DefaultLease bounds how long a crashed run can block others.
const DefaultLease = 30 * time.Minute

// StatusStore persists the sync status record. The warehouse and S3
// backends both implement it.
type StatusStore interface {
	Get(ctx context.Context, entity string) (*models.SyncStatus, error)
	Claim(ctx context.Context, entity, runID, event string, now, leaseUntil time.Time) (bool, error)
	Finish(ctx context.Context, entity, runID string, o models.Outcome) (bool, error)
	Record(ctx context.Context, entity string, o models.Outcome) error
	ForceRelease(ctx context.Context, entity string) error
}

// Run is a claimed sync run.
type Run struct {
	ID      string
	Event   string
	Started time.Time
	// Watermark is the last successful sync time before this run, if any.
	Watermark *time.Time
}

// Coordinator hands out leases on the DEALS status record.
type Coordinator struct {
	store  StatusStore
	entity string
	lease  time.Duration
	logger *zap.Logger
	now    func() time.Time
}

func NewCoordinator(store StatusStore, lease time.Duration, logger *zap.Logger) *Coordinator {
	if lease <= 0 {
		lease = DefaultLease
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{store: store, entity: models.EntityDeals, lease: lease, logger: logger, now: time.Now}
}

func (c *Coordinator) clock() time.Time {
	return c.now().UTC().Truncate(time.Second)
}

// Status reads the current record, or nil before the first run.
func (c *Coordinator) Status(ctx context.Context) (*models.SyncStatus, error) {
	return c.store.Get(ctx, c.entity)
}

// Begin claims the lease for event. It returns ErrRunInProgress, leaving the
// record untouched, when an unexpired run already holds it.
func (c *Coordinator) Begin(ctx context.Context, event string) (*Run, error) {
	prev, err := c.store.Get(ctx, c.entity)
	if err != nil {
		return nil, eris.Wrap(err, "failed to read sync status")
	}

	now := c.clock()
	run := &Run{ID: ulid.Make().String(), Event: event, Started: now}
	if prev != nil {
		run.Watermark = prev.LastUpdatedOn
	}

	claimed, err := c.store.Claim(ctx, c.entity, run.ID, event, now, now.Add(c.lease))
	if err != nil {
		return nil, eris.Wrap(err, "failed to claim sync status")
	}
	if !claimed {
		return nil, ErrRunInProgress
	}
	c.logger.Info("claimed sync run", zap.String("run_id", run.ID), zap.String("event", event))
	return run, nil
}

// End releases run's lease and records its outcome. A successful run moves
// the watermark to its start time.
func (c *Coordinator) End(ctx context.Context, run *Run, runErr error) error {
	o := models.Outcome{Event: run.Event, Success: runErr == nil, At: c.clock()}
	if runErr == nil {
		started := run.Started
		o.Watermark = &started
	}

	finished, err := c.store.Finish(ctx, c.entity, run.ID, o)
	if err != nil {
		return eris.Wrap(err, "failed to finish sync run")
	}
	if !finished {
		c.logger.Warn("sync run lost its lease before finishing", zap.String("run_id", run.ID), zap.String("event", run.Event))
	}
	return nil
}

// Record stores the outcome of an invocation that did not claim the lease.
func (c *Coordinator) Record(ctx context.Context, event string, runErr error) error {
	o := models.Outcome{Event: event, Success: runErr == nil, At: c.clock()}
	if err := c.store.Record(ctx, c.entity, o); err != nil {
		return eris.Wrap(err, "failed to record sync outcome")
	}
	return nil
}

// Release clears a held lease regardless of its owner.
func (c *Coordinator) Release(ctx context.Context) error {
	if err := c.store.ForceRelease(ctx, c.entity); err != nil {
		return eris.Wrap(err, "failed to release sync status")
	}
	return nil
}
