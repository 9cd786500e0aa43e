// ABOUTME: Per-deal reconciliation: resolve references, diff line items and collaborators, upsert the deal
// ABOUTME: Every write auto-commits, so a failing deal leaves earlier deals' rows in place
package sync

import (
	"context"
	"time"

	"github.com/BLEND360/hubspot-deals-export/db"
	"github.com/BLEND360/hubspot-deals-export/hubspot"
	"github.com/BLEND360/hubspot-deals-export/metrics"
	"github.com/BLEND360/hubspot-deals-export/models"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Syncer writes CRM deals into the warehouse.
type Syncer struct {
	crm     CRM
	w       *db.Warehouse
	policy  SpecialFieldsPolicy
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// SyncerOption customizes a Syncer.
type SyncerOption func(*Syncer)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) SyncerOption {
	return func(s *Syncer) { s.now = now }
}

// WithMetrics records per-deal outcomes.
func WithMetrics(m *metrics.Metrics) SyncerOption {
	return func(s *Syncer) { s.metrics = m }
}

func NewSyncer(crm CRM, w *db.Warehouse, policy SpecialFieldsPolicy, logger *zap.Logger, opts ...SyncerOption) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Syncer{crm: crm, w: w, policy: policy, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Syncer) clock() time.Time {
	return s.now().UTC().Truncate(time.Second)
}

// SyncDeal fully reconciles one deal payload, which must carry its line item
// associations (as returned by GetDeal). Referenced rows are upserted before
// the deal row snapshots them.
func (s *Syncer) SyncDeal(ctx context.Context, deal *hubspot.Object) (err error) {
	defer func() { s.metrics.ObserveDeal("single", err) }()

	now := s.clock()
	log := s.logger.With(zap.String("deal_id", deal.ID))
	resolver := NewResolver(s.crm, s.w, s.logger)

	items, err := resolver.LineItems(ctx, deal)
	if err != nil {
		return err
	}
	lineItemsChanged, err := db.ReplaceLineItems(ctx, s.w, deal.ID, items)
	if err != nil {
		return err
	}

	resolved, err := s.resolve(ctx, resolver, deal)
	if err != nil {
		return eris.Wrapf(err, "failed to resolve references of deal %s", deal.ID)
	}

	if err := db.ReplaceCollaborators(ctx, s.w, deal.ID, ownerIDs(resolved.Collaborators), now); err != nil {
		return err
	}

	row := BuildDeal(deal, resolved, now)
	stored, err := db.GetSpecialFields(ctx, s.w, deal.ID)
	if err != nil {
		return err
	}
	row.SpecialFieldsUpdatedOn = s.policy.UpdatedOn(stored, row, lineItemsChanged, now)

	if err := db.UpsertDeal(ctx, s.w, row); err != nil {
		return err
	}
	log.Debug("upserted deal",
		zap.String("deal_name", row.DealName.String),
		zap.Int("line_items", len(items)),
		zap.Bool("line_items_changed", lineItemsChanged))
	return nil
}

func (s *Syncer) resolve(ctx context.Context, r *Resolver, deal *hubspot.Object) (Resolved, error) {
	var (
		out Resolved
		err error
	)
	p := deal.Properties

	if out.Company, err = r.ResolveCompany(ctx, deal.ID); err != nil {
		return out, err
	}
	if out.Owner, err = r.ResolveOwner(ctx, p.Get(hubspot.PropOwnerID)); err != nil {
		return out, err
	}
	if out.DeliveryLead, err = r.ResolveOwner(ctx, p.Get(hubspot.PropDeliveryLead)); err != nil {
		return out, err
	}
	if out.SolutionLead, err = r.ResolveOwner(ctx, p.Get(hubspot.PropSolutionLead)); err != nil {
		return out, err
	}
	if out.Collaborators, err = r.ResolveCollaborators(ctx, p.Get(hubspot.PropCollaboratorIDs)); err != nil {
		return out, err
	}
	if out.StageName, err = r.StageLabel(ctx, p.Get(hubspot.PropPipeline), p.Get(hubspot.PropDealStage)); err != nil {
		return out, err
	}
	return out, nil
}

// SyncByID re-reads a deal with its associations and reconciles it.
func (s *Syncer) SyncByID(ctx context.Context, dealID string) error {
	deal, err := s.crm.GetDeal(ctx, dealID)
	if err != nil {
		return err
	}
	return s.SyncDeal(ctx, deal)
}

// SyncEach reconciles deals one at a time. Failures are logged and skipped;
// the count of reconciled deals is returned.
func (s *Syncer) SyncEach(ctx context.Context, dealIDs []string) int {
	synced := 0
	for _, id := range dealIDs {
		if ctx.Err() != nil {
			break
		}
		if err := s.SyncByID(ctx, id); err != nil {
			s.logger.Error("failed to sync deal", zap.String("deal_id", id), zap.Error(err))
			continue
		}
		synced++
	}
	return synced
}

// ownerIDs lists the owner IDs of owners in order.
func ownerIDs(owners []models.Owner) []string {
	ids := make([]string, len(owners))
	for i, o := range owners {
		ids[i] = o.OwnerID
	}
	return ids
}
