// ABOUTME: Entity resolvers for the records a deal references
// ABOUTME: Each resolver fetches from the CRM and upserts its own table before the deal snapshot is taken
package sync

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/BLEND360/hubspot-deals-export/db"
	"github.com/BLEND360/hubspot-deals-export/hubspot"
	"github.com/BLEND360/hubspot-deals-export/models"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CompanyResult is the resolved first company of a deal and the full
// association list it was picked from.
type CompanyResult struct {
	Company      *models.Company
	Associations []string
}

// Resolver resolves companies, owners, stages, and line items for one
// invocation. Stage lists are cached per pipeline for its lifetime.
type Resolver struct {
	crm    CRM
	q      db.Querier
	logger *zap.Logger
	stages map[string][]hubspot.Stage
}

func NewResolver(crm CRM, q db.Querier, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{crm: crm, q: q, logger: logger, stages: make(map[string][]hubspot.Stage)}
}

// ResolveCompany upserts and returns the deal's first associated company.
// It returns nil when the deal has no company.
func (r *Resolver) ResolveCompany(ctx context.Context, dealID string) (*CompanyResult, error) {
	ids, err := r.crm.ListAssociations(ctx, hubspot.ObjectDeals, dealID, hubspot.ObjectCompanies)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	obj, err := r.crm.GetCompany(ctx, ids[0])
	if err != nil {
		return nil, err
	}
	company := companyFromObject(obj)
	if err := db.UpsertCompany(ctx, r.q, company); err != nil {
		return nil, err
	}
	return &CompanyResult{Company: company, Associations: ids}, nil
}

// ResolveOwner upserts and returns an owner. A blank id returns nil without
// any CRM call. An owner missing among active owners is looked up among
// archived ones; one missing from both is logged and returned as nil.
func (r *Resolver) ResolveOwner(ctx context.Context, id string) (*models.Owner, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}

	archived := false
	owner, err := r.crm.GetOwner(ctx, id, false)
	if errors.Is(err, hubspot.ErrNotFound) {
		archived = true
		owner, err = r.crm.GetOwner(ctx, id, true)
	}
	if errors.Is(err, hubspot.ErrNotFound) {
		r.logger.Warn("owner not found", zap.String("owner_id", id))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	o := ownerFromCRM(owner, archived)
	if o.OwnerID == "" {
		o.OwnerID = id
	}
	if err := db.UpsertOwner(ctx, r.q, o); err != nil {
		return nil, err
	}
	return o, nil
}

// ResolveCollaborators resolves each ID of a semicolon-separated list in
// order. Repeated IDs are resolved each time they appear.
func (r *Resolver) ResolveCollaborators(ctx context.Context, raw string) ([]models.Owner, error) {
	var owners []models.Owner
	for _, id := range splitIDs(raw) {
		o, err := r.ResolveOwner(ctx, id)
		if err != nil {
			return nil, err
		}
		if o != nil {
			owners = append(owners, *o)
		}
	}
	return owners, nil
}

// StageLabel returns the label of stageID within pipelineID, or NULL when
// either is blank or the stage is not in the pipeline.
func (r *Resolver) StageLabel(ctx context.Context, pipelineID, stageID string) (sql.NullString, error) {
	if pipelineID == "" || stageID == "" {
		return sql.NullString{}, nil
	}

	stages, ok := r.stages[pipelineID]
	if !ok {
		p, err := r.crm.GetPipeline(ctx, pipelineID)
		if errors.Is(err, hubspot.ErrNotFound) {
			r.logger.Warn("pipeline not found", zap.String("pipeline_id", pipelineID))
			r.stages[pipelineID] = nil
			return sql.NullString{}, nil
		}
		if err != nil {
			return sql.NullString{}, err
		}
		stages = p.Stages
		r.stages[pipelineID] = stages
	}

	for _, s := range stages {
		if s.ID == stageID {
			return sql.NullString{String: s.Label, Valid: true}, nil
		}
	}
	return sql.NullString{}, nil
}

// LineItems reads the line items associated with a deal payload.
func (r *Resolver) LineItems(ctx context.Context, deal *hubspot.Object) ([]models.LineItem, error) {
	ids := deal.AssociatedIDs(hubspot.ObjectLineItems)
	if len(ids) == 0 {
		return nil, nil
	}
	objs, err := r.crm.BatchReadLineItems(ctx, ids)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read line items of deal %s", deal.ID)
	}
	items := make([]models.LineItem, 0, len(objs))
	for i := range objs {
		items = append(items, lineItemFromObject(&objs[i], deal.ID))
	}
	return items, nil
}

func companyFromObject(obj *hubspot.Object) *models.Company {
	domain := obj.Properties.Get("domain")
	return &models.Company{
		CompanyID: obj.ID,
		Name:      nullString(CompanyDisplayName(obj.Properties.Get("name"), domain)),
		Domain:    nullString(domain),
	}
}

// ownerFromCRM converts a CRM owner. An owner without a user ID, or one only
// found among archived owners, is archived.
func ownerFromCRM(o *hubspot.Owner, foundArchived bool) *models.Owner {
	email := strings.TrimSpace(o.Email)
	return &models.Owner{
		OwnerID:    o.ID,
		Name:       nullString(OwnerDisplayName(o.FirstName, o.LastName, email)),
		Email:      nullString(email),
		IsArchived: foundArchived || o.Archived || o.UserID == nil || o.UserID.String() == "",
	}
}

func lineItemFromObject(obj *hubspot.Object, dealID string) models.LineItem {
	created := parseTime(obj.CreatedAt)
	if !created.Valid {
		created = parseTime(obj.Properties.Get("createdate"))
	}
	updated := parseTime(obj.UpdatedAt)
	if !updated.Valid {
		updated = parseTime(obj.Properties.Get(hubspot.PropLastModified))
	}
	return models.LineItem{
		LineItemID: obj.ID,
		DealID:     dealID,
		Name:       nullString(obj.Properties.Get("name")),
		Price:      parseFloat(obj.Properties.Get("price")),
		Quantity:   parseFloat(obj.Properties.Get("quantity")),
		Amount:     parseFloat(obj.Properties.Get("amount")),
		CreatedOn:  created,
		UpdatedOn:  updated,
	}
}

func splitIDs(raw string) []string {
	var ids []string
	for _, id := range strings.Split(raw, ";") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
