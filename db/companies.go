// ABOUTME: Company and owner row operations
// ABOUTME: Upserts and reads for the tables deal snapshots are resolved from
package db

import (
	"context"
	"database/sql"

	"github.com/BLEND360/hubspot-deals-export/models"
	"github.com/rotisserie/eris"
)

// UpsertCompany merges one company row.
func UpsertCompany(ctx context.Context, q Querier, c *models.Company) error {
	if _, err := q.ExecContext(ctx, companiesTable.upsertSQL(), c.CompanyID, c.Name, c.Domain); err != nil {
		return eris.Wrapf(err, "failed to upsert company %s", c.CompanyID)
	}
	return nil
}

// GetCompany reads one company, returning nil when it does not exist.
func GetCompany(ctx context.Context, q Querier, companyID string) (*models.Company, error) {
	c := &models.Company{}
	err := q.QueryRowContext(ctx,
		"SELECT company_id, name, domain FROM "+TableCompanies+" WHERE company_id = ?", companyID,
	).Scan(&c.CompanyID, &c.Name, &c.Domain)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "failed to get company %s", companyID)
	}
	return c, nil
}

// UpsertOwner merges one owner row.
func UpsertOwner(ctx context.Context, q Querier, o *models.Owner) error {
	if _, err := q.ExecContext(ctx, ownersTable.upsertSQL(), o.OwnerID, o.Name, o.Email, o.IsArchived); err != nil {
		return eris.Wrapf(err, "failed to upsert owner %s", o.OwnerID)
	}
	return nil
}

// GetOwner reads one owner, returning nil when it does not exist.
func GetOwner(ctx context.Context, q Querier, ownerID string) (*models.Owner, error) {
	o := &models.Owner{}
	err := q.QueryRowContext(ctx,
		"SELECT owner_id, name, email, is_archived FROM "+TableOwners+" WHERE owner_id = ?", ownerID,
	).Scan(&o.OwnerID, &o.Name, &o.Email, &o.IsArchived)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "failed to get owner %s", ownerID)
	}
	return o, nil
}
