// ABOUTME: Deal row operations
// ABOUTME: Handles deal upserts, reads, and the stored special-field values used for change detection
package db

import (
	"context"
	"database/sql"
	"strings"

	"github.com/BLEND360/hubspot-deals-export/models"
	"github.com/rotisserie/eris"
)

func dealArgs(d *models.Deal) []any {
	return []any{
		d.DealID, d.DealName,
		d.OwnerJSON, d.OwnerID, d.OwnerEmail, d.OwnerName,
		d.DeliveryLeadID, d.DeliveryLeadEmail, d.DeliveryLeadName,
		d.SolutionLeadID, d.SolutionLeadEmail, d.SolutionLeadName,
		d.StageID, d.StageName, d.PipelineID,
		d.CompanyID, d.CompanyName, d.CompanyDomain, d.CompanyAssocJSON,
		d.CollaboratorsJSON,
		d.ProjectStartDate, d.ProjectCloseDate, d.DurationInMonths, d.Amount,
		d.EngagementType, d.DealType, d.NSProjectID, d.WorkAhead,
		d.CreatedOn, d.UpdatedOn, d.SpecialFieldsUpdatedOn.UTC(), d.LastRefreshedOn.UTC(),
		d.IsArchived,
	}
}

// UpsertDeal merges one deal row, refreshing every snapshot column.
func UpsertDeal(ctx context.Context, q Querier, d *models.Deal) error {
	if _, err := q.ExecContext(ctx, dealsTable.upsertSQL(), dealArgs(d)...); err != nil {
		return eris.Wrapf(err, "failed to upsert deal %s", d.DealID)
	}
	return nil
}

// GetDeal reads one deal row, returning nil when it does not exist.
func GetDeal(ctx context.Context, q Querier, dealID string) (*models.Deal, error) {
	d := &models.Deal{}
	var specialOn, refreshedOn sql.NullTime

	err := q.QueryRowContext(ctx, `
		SELECT `+strings.Join(dealsTable.columnNames(), ", ")+`
		FROM `+TableDeals+` WHERE deal_id = ?
	`, dealID).Scan(
		&d.DealID, &d.DealName,
		&d.OwnerJSON, &d.OwnerID, &d.OwnerEmail, &d.OwnerName,
		&d.DeliveryLeadID, &d.DeliveryLeadEmail, &d.DeliveryLeadName,
		&d.SolutionLeadID, &d.SolutionLeadEmail, &d.SolutionLeadName,
		&d.StageID, &d.StageName, &d.PipelineID,
		&d.CompanyID, &d.CompanyName, &d.CompanyDomain, &d.CompanyAssocJSON,
		&d.CollaboratorsJSON,
		&d.ProjectStartDate, &d.ProjectCloseDate, &d.DurationInMonths, &d.Amount,
		&d.EngagementType, &d.DealType, &d.NSProjectID, &d.WorkAhead,
		&d.CreatedOn, &d.UpdatedOn, &specialOn, &refreshedOn,
		&d.IsArchived,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "failed to get deal %s", dealID)
	}

	d.SpecialFieldsUpdatedOn = specialOn.Time
	d.LastRefreshedOn = refreshedOn.Time
	return d, nil
}

// CountDeals returns the number of stored deals.
func CountDeals(ctx context.Context, q Querier) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+TableDeals).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "failed to count deals")
	}
	return n, nil
}

// SpecialFields are the stored values compared to decide whether a deal's
// special-fields timestamp moves.
type SpecialFields struct {
	StageID          sql.NullString
	Amount           sql.NullFloat64
	EngagementType   sql.NullString
	ProjectStartDate sql.NullTime
	DurationInMonths sql.NullFloat64
	UpdatedOn        sql.NullTime
}

const specialFieldsColumns = `deal_id, deal_stage_id, deal_amount_in_company_currency, engagement_type,
	project_start_date, duration_in_months, special_fields_updated_on`

// GetSpecialFields reads the stored special fields of one deal, or nil when
// the deal has never been stored.
func GetSpecialFields(ctx context.Context, q Querier, dealID string) (*SpecialFields, error) {
	var id string
	sf := &SpecialFields{}
	err := q.QueryRowContext(ctx,
		"SELECT "+specialFieldsColumns+" FROM "+TableDeals+" WHERE deal_id = ?", dealID,
	).Scan(&id, &sf.StageID, &sf.Amount, &sf.EngagementType, &sf.ProjectStartDate, &sf.DurationInMonths, &sf.UpdatedOn)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read special fields of deal %s", dealID)
	}
	return sf, nil
}

// LoadSpecialFields reads the stored special fields of many deals keyed by deal ID.
func LoadSpecialFields(ctx context.Context, q Querier, dealIDs []string) (map[string]*SpecialFields, error) {
	out := make(map[string]*SpecialFields, len(dealIDs))
	err := forEachChunk(dealIDs, func(chunk []string) error {
		rows, err := q.QueryContext(ctx,
			"SELECT "+specialFieldsColumns+" FROM "+TableDeals+" WHERE deal_id IN ("+placeholders(len(chunk))+")",
			toArgs(chunk)...)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var id string
			sf := &SpecialFields{}
			if err := rows.Scan(&id, &sf.StageID, &sf.Amount, &sf.EngagementType, &sf.ProjectStartDate, &sf.DurationInMonths, &sf.UpdatedOn); err != nil {
				return err
			}
			out[id] = sf
		}
		return rows.Err()
	})
	if err != nil {
		return nil, eris.Wrap(err, "failed to load special fields")
	}
	return out, nil
}

// inChunkSize keeps IN lists under SQLite's default variable limit.
const inChunkSize = 500

func forEachChunk(ids []string, fn func([]string) error) error {
	for start := 0; start < len(ids); start += inChunkSize {
		end := min(start+inChunkSize, len(ids))
		if err := fn(ids[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func toArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
