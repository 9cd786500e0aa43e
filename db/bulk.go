// ABOUTME: Transactional bulk merge through temp staging tables
// ABOUTME: Stages every row of a batch, merges into targets, and replaces child rows of the batch's deals
package db

import (
	"context"
	"strings"

	"github.com/BLEND360/hubspot-deals-export/models"
	"github.com/rotisserie/eris"
)

// BulkBatch is everything one bulk sync writes.
type BulkBatch struct {
	Deals         []models.Deal
	Companies     []models.Company
	Owners        []models.Owner
	Collaborators []models.Collaborator
	LineItems     []models.LineItem
}

// BulkResult counts the rows merged per table.
type BulkResult struct {
	Deals         int
	Companies     int
	Owners        int
	Collaborators int
	LineItems     int
}

// BulkMerge writes batch in a single transaction. Line items and
// collaborator edges of every deal in the batch are replaced by the batch's
// rows. Any error rolls the whole batch back.
func BulkMerge(ctx context.Context, w *Warehouse, batch BulkBatch) (res BulkResult, err error) {
	if len(batch.Deals) == 0 {
		return res, nil
	}

	tx, err := w.BeginTx(ctx)
	if err != nil {
		return res, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	companies := dedupeRows(batch.Companies, func(c models.Company) string { return c.CompanyID })
	owners := dedupeRows(batch.Owners, func(o models.Owner) string { return o.OwnerID })
	deals := dedupeRows(batch.Deals, func(d models.Deal) string { return d.DealID })
	collaborators := dedupeRows(batch.Collaborators, func(c models.Collaborator) string { return c.DealID + "\x00" + c.OwnerID })
	lineItems := dedupeRows(batch.LineItems, func(li models.LineItem) string { return li.LineItemID })

	if res.Companies, err = stageAndMerge(ctx, tx, companiesTable, companies, func(c models.Company) []any {
		return []any{c.CompanyID, c.Name, c.Domain}
	}); err != nil {
		return res, err
	}
	if res.Owners, err = stageAndMerge(ctx, tx, ownersTable, owners, func(o models.Owner) []any {
		return []any{o.OwnerID, o.Name, o.Email, o.IsArchived}
	}); err != nil {
		return res, err
	}
	if res.Deals, err = stageAndMerge(ctx, tx, dealsTable, deals, func(d models.Deal) []any {
		return dealArgs(&d)
	}); err != nil {
		return res, err
	}

	dealIDs := make([]string, len(deals))
	for i, d := range deals {
		dealIDs[i] = d.DealID
	}
	if err = deleteForDeals(ctx, tx, TableLineItems, dealIDs); err != nil {
		return res, err
	}
	if err = deleteForDeals(ctx, tx, TableCollaborators, dealIDs); err != nil {
		return res, err
	}

	if res.Collaborators, err = stageAndMerge(ctx, tx, collaboratorsTable, collaborators, func(c models.Collaborator) []any {
		return []any{c.DealID, c.OwnerID, c.LastUpdated.UTC()}
	}); err != nil {
		return res, err
	}
	if res.LineItems, err = stageAndMerge(ctx, tx, lineItemsTable, lineItems, func(li models.LineItem) []any {
		return lineItemArgs(&li)
	}); err != nil {
		return res, err
	}

	if err = tx.Commit(); err != nil {
		return res, eris.Wrap(err, "failed to commit bulk merge")
	}
	return res, nil
}

func stageAndMerge[T any](ctx context.Context, tx *Tx, t table, rows []T, args func(T) []any) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	if _, err := tx.ExecContext(ctx, t.dropStageSQL()); err != nil {
		return 0, eris.Wrapf(err, "failed to drop stage for %s", t.name)
	}
	if _, err := tx.ExecContext(ctx, t.createStageSQL(tx.dialect)); err != nil {
		return 0, eris.Wrapf(err, "failed to create stage for %s", t.name)
	}

	stmt, err := tx.PrepareContext(ctx, t.insertStageSQL())
	if err != nil {
		return 0, eris.Wrapf(err, "failed to prepare stage insert for %s", t.name)
	}
	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, args(row)...); err != nil {
			_ = stmt.Close()
			return 0, eris.Wrapf(err, "failed to stage row for %s", t.name)
		}
	}
	if err := stmt.Close(); err != nil {
		return 0, eris.Wrapf(err, "failed to close stage insert for %s", t.name)
	}

	if _, err := tx.ExecContext(ctx, t.mergeStageSQL()); err != nil {
		return 0, eris.Wrapf(err, "failed to merge stage into %s", t.name)
	}
	if _, err := tx.ExecContext(ctx, t.dropStageSQL()); err != nil {
		return 0, eris.Wrapf(err, "failed to drop stage for %s", t.name)
	}
	return len(rows), nil
}

func deleteForDeals(ctx context.Context, tx *Tx, tableName string, dealIDs []string) error {
	return forEachChunk(dealIDs, func(chunk []string) error {
		query := "DELETE FROM " + tableName + " WHERE deal_id IN (" + placeholders(len(chunk)) + ")"
		if _, err := tx.ExecContext(ctx, query, toArgs(chunk)...); err != nil {
			return eris.Wrapf(err, "failed to clear %s for batch", strings.TrimPrefix(tableName, "hubspot_"))
		}
		return nil
	})
}

// dedupeRows keeps the last row for each key, in first-seen key order.
func dedupeRows[T any](rows []T, key func(T) string) []T {
	index := make(map[string]int, len(rows))
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		k := key(row)
		if i, ok := index[k]; ok {
			out[i] = row
			continue
		}
		index[k] = len(out)
		out = append(out, row)
	}
	return out
}
