// ABOUTME: Entry points for every sync event and the dispatcher that routes to them
// ABOUTME: Threads a per-invocation retry budget and records each outcome in the sync status
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/BLEND360/hubspot-deals-export/hubspot"
	"github.com/BLEND360/hubspot-deals-export/metrics"
	"github.com/BLEND360/hubspot-deals-export/models"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BackfillLayout is the only sync_from format BACK_FILL_FETCH accepts.
const BackfillLayout = "2006-01-02T15:04:05Z"

// kickoffOverlap is subtracted from the stored watermark when a manual sync
// is started over HTTP.
const kickoffOverlap = 2 * time.Minute

var (
	ErrUnknownEvent  = errors.New("unknown event")
	ErrMissingDealID = errors.New("missing deal id")
)

// Event is the JSON payload selecting a sync mode.
type Event struct {
	Event    string   `json:"event"`
	DealID   string   `json:"deal_id,omitempty"`
	DealIDs  []string `json:"deal_ids,omitempty"`
	SyncFrom string   `json:"sync_from,omitempty"`
}

// ParseEvent decodes an event payload.
func ParseEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, eris.Wrap(err, "failed to decode event")
	}
	ev.Event = strings.ToUpper(strings.TrimSpace(ev.Event))
	if ev.Event == "" {
		return ev, eris.Wrap(ErrUnknownEvent, "event name is required")
	}
	return ev, nil
}

// RunnerConfig tunes the entry points.
type RunnerConfig struct {
	Lookback              time.Duration
	WebhookBatchThreshold int
	RetryBudget           int
}

// Runner executes sync events.
type Runner struct {
	fetcher *Fetcher
	syncer  *Syncer
	coord   *Coordinator
	cfg     RunnerConfig
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	background errgroup.Group
}

func NewRunner(fetcher *Fetcher, syncer *Syncer, coord *Coordinator, cfg RunnerConfig, logger *zap.Logger, m *metrics.Metrics) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 15 * time.Minute
	}
	if cfg.WebhookBatchThreshold <= 0 {
		cfg.WebhookBatchThreshold = 20
	}
	if cfg.RetryBudget <= 0 {
		cfg.RetryBudget = hubspot.DefaultRetryBudget
	}
	return &Runner{fetcher: fetcher, syncer: syncer, coord: coord, cfg: cfg, logger: logger, metrics: m, now: time.Now}
}

// Coordinator exposes the run coordinator for status reads and releases.
func (r *Runner) Coordinator() *Coordinator {
	return r.coord
}

func (r *Runner) withBudget(ctx context.Context) context.Context {
	return hubspot.WithRetryBudget(ctx, hubspot.NewRetryBudget(r.cfg.RetryBudget))
}

// budgeted keeps the budget Dispatch attached, or starts one for callers
// entering an entry point directly.
func (r *Runner) budgeted(ctx context.Context) context.Context {
	if hubspot.RetryBudgetFrom(ctx) != nil {
		return ctx
	}
	return r.withBudget(ctx)
}

// Dispatch routes ev to its entry point under a fresh retry budget.
func (r *Runner) Dispatch(ctx context.Context, ev Event) (err error) {
	event := strings.ToUpper(strings.TrimSpace(ev.Event))
	started := time.Now()
	defer func() {
		if !errors.Is(err, ErrRunInProgress) {
			r.metrics.ObserveRun(event, started, err)
		}
	}()

	ctx = r.withBudget(ctx)
	r.logger.Info("received event", zap.String("event", event))

	switch event {
	case models.EventScheduleFetch:
		return r.ScheduleFetch(ctx)
	case models.EventBackFillFetch:
		return r.Backfill(ctx, ev.SyncFrom)
	case models.EventManualSync:
		return r.ManualSync(ctx, ev.SyncFrom, ev.DealIDs)
	case models.EventSingleDealUpdate:
		return r.SingleDeal(ctx, event, ev.DealID)
	case models.EventBulkDealsUpdate:
		return r.BulkDeals(ctx, ev.DealIDs)
	case models.EventHubSpotWebhook:
		return r.Webhook(ctx, ev.DealIDs)
	default:
		return r.record(ctx, event, eris.Wrapf(ErrUnknownEvent, "event %q", ev.Event))
	}
}

// ScheduleFetch reconciles deals changed within the lookback window.
func (r *Runner) ScheduleFetch(ctx context.Context) error {
	ctx = r.budgeted(ctx)
	since := r.now().UTC().Add(-r.cfg.Lookback)
	return r.incremental(ctx, models.EventScheduleFetch, since)
}

// Backfill reconciles deals changed since syncFrom, which must be formatted
// as BackfillLayout. A missing or malformed value is logged and ignored.
func (r *Runner) Backfill(ctx context.Context, syncFrom string) error {
	ctx = r.budgeted(ctx)
	since, err := time.Parse(BackfillLayout, strings.TrimSpace(syncFrom))
	if err != nil {
		r.logger.Warn("missing or invalid sync_from, skipping backfill", zap.String("sync_from", syncFrom))
		return nil
	}
	return r.incremental(ctx, models.EventBackFillFetch, since)
}

// incremental claims the lease and reconciles changed deals one at a time.
func (r *Runner) incremental(ctx context.Context, event string, since time.Time) error {
	return r.claimed(ctx, event, func(ctx context.Context, _ *Run) error {
		deals, err := r.fetcher.FetchChanged(ctx, Query{Since: &since})
		if err != nil {
			return err
		}
		if len(deals) == 0 {
			r.logger.Info("no created or updated deals", zap.Time("since", since))
			return nil
		}

		ids := make([]string, len(deals))
		for i := range deals {
			ids[i] = deals[i].ID
		}
		synced := r.syncer.SyncEach(ctx, ids)
		r.logger.Info("synced changed deals", zap.String("event", event), zap.Int("count", synced), zap.Int("found", len(ids)))
		return ctx.Err()
	})
}

// ManualSync reconciles deals changed since syncFrom and/or listed in
// dealIDs in bulk mode. With neither it does nothing.
func (r *Runner) ManualSync(ctx context.Context, syncFrom string, dealIDs []string) error {
	ctx = r.budgeted(ctx)
	var since *time.Time
	if syncFrom = strings.TrimSpace(syncFrom); syncFrom != "" {
		t, err := ParseSyncFrom(syncFrom)
		if err != nil {
			return r.record(ctx, models.EventManualSync, err)
		}
		since = &t
	}
	dealIDs = dedupe(dealIDs)
	if since == nil && len(dealIDs) == 0 {
		r.logger.Warn("manual sync needs sync_from or deal_ids, skipping")
		return nil
	}

	return r.claimed(ctx, models.EventManualSync, func(ctx context.Context, _ *Run) error {
		return r.bulk(ctx, Query{Since: since, DealIDs: dealIDs})
	})
}

// StartManualSync claims the lease now and runs a bulk sync from the stored
// watermark (less a small overlap) in the background. It returns
// ErrRunInProgress when a run already holds the lease.
func (r *Runner) StartManualSync(ctx context.Context) (*Run, error) {
	run, err := r.coord.Begin(ctx, models.EventManualSync)
	if err != nil {
		return nil, err
	}

	q := Query{}
	if run.Watermark != nil {
		since := run.Watermark.Add(-kickoffOverlap)
		q.Since = &since
	}

	bg := r.withBudget(context.WithoutCancel(ctx))
	r.background.Go(func() error {
		started := time.Now()
		err := r.bulk(bg, q)
		r.metrics.ObserveRun(models.EventManualSync, started, err)
		return r.finish(bg, run, err)
	})
	return run, nil
}

// Wait blocks until background syncs started by StartManualSync finish.
func (r *Runner) Wait() error {
	return r.background.Wait()
}

func (r *Runner) bulk(ctx context.Context, q Query) error {
	deals, err := r.fetcher.FetchChanged(ctx, q)
	if err != nil {
		return err
	}
	if len(deals) == 0 {
		r.logger.Info("no deals to sync")
		return nil
	}
	_, err = r.syncer.SyncBulk(ctx, deals)
	return err
}

// claimed runs fn under the lease and releases it with fn's outcome.
func (r *Runner) claimed(ctx context.Context, event string, fn func(context.Context, *Run) error) error {
	run, err := r.coord.Begin(ctx, event)
	if errors.Is(err, ErrRunInProgress) {
		r.logger.Info("sync already in progress, skipping", zap.String("event", event))
		return err
	}
	if err != nil {
		return err
	}
	return r.finish(ctx, run, fn(ctx, run))
}

func (r *Runner) finish(ctx context.Context, run *Run, runErr error) error {
	if runErr != nil {
		r.logger.Error("sync run failed", zap.String("run_id", run.ID), zap.String("event", run.Event), zap.Error(runErr))
	}
	if err := r.coord.End(context.WithoutCancel(ctx), run, runErr); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

// SingleDeal reconciles one deal and reports its failure to the caller.
func (r *Runner) SingleDeal(ctx context.Context, event, dealID string) error {
	ctx = r.budgeted(ctx)
	dealID = strings.TrimSpace(dealID)
	if dealID == "" {
		return r.record(ctx, event, ErrMissingDealID)
	}
	err := r.syncer.SyncByID(ctx, dealID)
	if err != nil {
		r.logger.Error("deal sync failed", zap.String("deal_id", dealID), zap.Error(err))
	}
	return r.record(ctx, event, err)
}

// BulkDeals reconciles listed deals one at a time, skipping failures.
func (r *Runner) BulkDeals(ctx context.Context, dealIDs []string) error {
	ctx = r.budgeted(ctx)
	dealIDs = dedupe(dealIDs)
	if len(dealIDs) == 0 {
		r.logger.Warn("bulk deals update without deal_ids, skipping")
		return nil
	}
	synced := r.syncer.SyncEach(ctx, dealIDs)
	r.logger.Info("synced listed deals", zap.Int("count", synced), zap.Int("requested", len(dealIDs)))
	return r.record(ctx, models.EventBulkDealsUpdate, ctx.Err())
}

// Webhook reconciles a batch of deal IDs received from CRM webhooks. Small
// batches go deal by deal; larger ones take the bulk path.
func (r *Runner) Webhook(ctx context.Context, dealIDs []string) error {
	ctx = r.budgeted(ctx)
	dealIDs = dedupe(dealIDs)
	if len(dealIDs) == 0 {
		return nil
	}

	var err error
	if len(dealIDs) < r.cfg.WebhookBatchThreshold {
		synced := r.syncer.SyncEach(ctx, dealIDs)
		r.logger.Info("synced webhook deals", zap.Int("count", synced), zap.Int("received", len(dealIDs)))
		err = ctx.Err()
	} else {
		err = r.bulk(ctx, Query{DealIDs: dealIDs, IncludeOlder: true})
	}
	return r.record(ctx, models.EventHubSpotWebhook, err)
}

func (r *Runner) record(ctx context.Context, event string, runErr error) error {
	if err := r.coord.Record(context.WithoutCancel(ctx), event, runErr); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

// ParseSyncFrom accepts RFC 3339 timestamps with any offset, plus the space
// separated form some schedulers emit.
func ParseSyncFrom(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999Z07:00", "2006-01-02T15:04:05Z0700"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, eris.Errorf("invalid sync_from %q", s)
}
