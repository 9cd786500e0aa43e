// ABOUTME: Bulk reconciliation for large deal batches
// ABOUTME: Prefetches companies, owners, stages, and line items once, then merges the batch in one transaction
package sync

import (
	"context"
	"database/sql"
	"slices"

	"github.com/BLEND360/hubspot-deals-export/db"
	"github.com/BLEND360/hubspot-deals-export/hubspot"
	"github.com/BLEND360/hubspot-deals-export/models"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// prefetch is the CRM state a bulk run resolves deals against.
type prefetch struct {
	companies       map[string]*models.Company
	companyOrder    []string
	companiesByDeal map[string][]string
	owners          map[string]*models.Owner
	ownerOrder      []string
	stages          map[string]map[string]string
	lineItems       map[string][]models.LineItem
}

func (s *Syncer) prefetch(ctx context.Context) (*prefetch, error) {
	pf := &prefetch{
		companies:       make(map[string]*models.Company),
		companiesByDeal: make(map[string][]string),
		owners:          make(map[string]*models.Owner),
		stages:          make(map[string]map[string]string),
		lineItems:       make(map[string][]models.LineItem),
	}

	companies, err := s.crm.ListCompanies(ctx)
	if err != nil {
		return nil, err
	}
	for i := range companies {
		c := companyFromObject(&companies[i])
		if _, seen := pf.companies[c.CompanyID]; !seen {
			pf.companyOrder = append(pf.companyOrder, c.CompanyID)
		}
		pf.companies[c.CompanyID] = c
		for _, dealID := range companies[i].AssociatedIDs(hubspot.ObjectDeals) {
			pf.companiesByDeal[dealID] = append(pf.companiesByDeal[dealID], c.CompanyID)
		}
	}

	for _, archived := range []bool{false, true} {
		owners, err := s.crm.ListOwners(ctx, archived)
		if err != nil {
			return nil, err
		}
		for i := range owners {
			if _, seen := pf.owners[owners[i].ID]; seen {
				continue
			}
			pf.owners[owners[i].ID] = ownerFromCRM(&owners[i], archived)
			pf.ownerOrder = append(pf.ownerOrder, owners[i].ID)
		}
	}

	pipelines, err := s.crm.ListPipelines(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range pipelines {
		labels := make(map[string]string, len(p.Stages))
		for _, st := range p.Stages {
			labels[st.ID] = st.Label
		}
		pf.stages[p.ID] = labels
	}

	items, err := s.crm.ListLineItems(ctx)
	if err != nil {
		return nil, err
	}
	for i := range items {
		for _, dealID := range items[i].AssociatedIDs(hubspot.ObjectDeals) {
			pf.lineItems[dealID] = append(pf.lineItems[dealID], lineItemFromObject(&items[i], dealID))
		}
	}
	return pf, nil
}

func (pf *prefetch) owner(id string) *models.Owner {
	if id == "" {
		return nil
	}
	return pf.owners[id]
}

func (pf *prefetch) stageLabel(pipelineID, stageID string) sql.NullString {
	label, ok := pf.stages[pipelineID][stageID]
	if !ok {
		return sql.NullString{}
	}
	return sql.NullString{String: label, Valid: true}
}

func (pf *prefetch) resolve(deal *hubspot.Object) Resolved {
	p := deal.Properties
	out := Resolved{
		Owner:        pf.owner(p.Get(hubspot.PropOwnerID)),
		DeliveryLead: pf.owner(p.Get(hubspot.PropDeliveryLead)),
		SolutionLead: pf.owner(p.Get(hubspot.PropSolutionLead)),
		StageName:    pf.stageLabel(p.Get(hubspot.PropPipeline), p.Get(hubspot.PropDealStage)),
	}
	for _, id := range splitIDs(p.Get(hubspot.PropCollaboratorIDs)) {
		if o := pf.owner(id); o != nil {
			out.Collaborators = append(out.Collaborators, *o)
		}
	}
	if ids := pf.companiesByDeal[deal.ID]; len(ids) > 0 {
		out.Company = &CompanyResult{Company: pf.companies[ids[0]], Associations: ids}
	}
	return out
}

// SyncBulk reconciles deals against one CRM prefetch and writes them in a
// single transaction. Line items and collaborator edges of every deal in the
// batch are replaced. An error rolls the whole batch back.
func (s *Syncer) SyncBulk(ctx context.Context, deals []hubspot.Object) (res db.BulkResult, err error) {
	if len(deals) == 0 {
		return res, nil
	}
	defer func() {
		for range deals {
			s.metrics.ObserveDeal("bulk", err)
		}
	}()

	pf, err := s.prefetch(ctx)
	if err != nil {
		return res, eris.Wrap(err, "failed to prefetch crm state")
	}

	ids := make([]string, len(deals))
	for i := range deals {
		ids[i] = deals[i].ID
	}
	stored, err := db.LoadSpecialFields(ctx, s.w, ids)
	if err != nil {
		return res, err
	}
	storedItems, err := db.LineItemIDsByDeal(ctx, s.w, ids)
	if err != nil {
		return res, err
	}

	now := s.clock()
	var batch db.BulkBatch
	for _, id := range pf.companyOrder {
		batch.Companies = append(batch.Companies, *pf.companies[id])
	}
	for _, id := range pf.ownerOrder {
		batch.Owners = append(batch.Owners, *pf.owners[id])
	}

	for i := range deals {
		deal := &deals[i]
		resolved := pf.resolve(deal)
		items := pf.lineItems[deal.ID]

		row := BuildDeal(deal, resolved, now)
		changed := lineItemSetChanged(storedItems[deal.ID], items)
		row.SpecialFieldsUpdatedOn = s.policy.UpdatedOn(stored[deal.ID], row, changed, now)

		batch.Deals = append(batch.Deals, *row)
		batch.LineItems = append(batch.LineItems, items...)
		for _, c := range resolved.Collaborators {
			batch.Collaborators = append(batch.Collaborators, models.Collaborator{DealID: deal.ID, OwnerID: c.OwnerID, LastUpdated: now})
		}
	}

	res, err = db.BulkMerge(ctx, s.w, batch)
	if err != nil {
		return res, err
	}
	s.logger.Info("bulk merge complete",
		zap.Int("deals", res.Deals),
		zap.Int("companies", res.Companies),
		zap.Int("owners", res.Owners),
		zap.Int("line_items", res.LineItems),
		zap.Int("collaborators", res.Collaborators))
	return res, nil
}

func lineItemSetChanged(stored []string, items []models.LineItem) bool {
	current := make([]string, 0, len(items))
	for _, li := range items {
		current = append(current, li.LineItemID)
	}
	slices.Sort(current)
	current = slices.Compact(current)
	stored = slices.Clone(stored)
	slices.Sort(stored)
	return !slices.Equal(stored, current)
}
