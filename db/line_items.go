// ABOUTME: Line item and collaborator edge operations
// ABOUTME: Per-deal diffing keeps the stored set equal to the CRM association set
package db

import (
	"context"
	"time"

	"github.com/BLEND360/hubspot-deals-export/models"
	"github.com/rotisserie/eris"
)

func lineItemArgs(li *models.LineItem) []any {
	return []any{li.LineItemID, li.DealID, li.Name, li.Price, li.Quantity, li.Amount, li.CreatedOn, li.UpdatedOn}
}

// UpsertLineItem merges one line item row.
func UpsertLineItem(ctx context.Context, q Querier, li *models.LineItem) error {
	if _, err := q.ExecContext(ctx, lineItemsTable.upsertSQL(), lineItemArgs(li)...); err != nil {
		return eris.Wrapf(err, "failed to upsert line item %s", li.LineItemID)
	}
	return nil
}

// ListLineItems reads the stored line items of a deal ordered by ID.
func ListLineItems(ctx context.Context, q Querier, dealID string) ([]models.LineItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT line_item_id, deal_id, name, price, quantity, amount, created_on, updated_on
		FROM `+TableLineItems+` WHERE deal_id = ? ORDER BY line_item_id
	`, dealID)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to list line items of deal %s", dealID)
	}
	defer func() { _ = rows.Close() }()

	var items []models.LineItem
	for rows.Next() {
		var li models.LineItem
		if err := rows.Scan(&li.LineItemID, &li.DealID, &li.Name, &li.Price, &li.Quantity, &li.Amount, &li.CreatedOn, &li.UpdatedOn); err != nil {
			return nil, eris.Wrap(err, "failed to scan line item")
		}
		items = append(items, li)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "error iterating line items")
	}
	return items, nil
}

// LineItemIDs reads the stored line item IDs of a deal.
func LineItemIDs(ctx context.Context, q Querier, dealID string) ([]string, error) {
	return queryIDs(ctx, q, "SELECT line_item_id FROM "+TableLineItems+" WHERE deal_id = ? ORDER BY line_item_id", dealID)
}

// LineItemIDsByDeal reads stored line item IDs for many deals.
func LineItemIDsByDeal(ctx context.Context, q Querier, dealIDs []string) (map[string][]string, error) {
	out := make(map[string][]string)
	err := forEachChunk(dealIDs, func(chunk []string) error {
		rows, err := q.QueryContext(ctx,
			"SELECT deal_id, line_item_id FROM "+TableLineItems+" WHERE deal_id IN ("+placeholders(len(chunk))+") ORDER BY line_item_id",
			toArgs(chunk)...)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var dealID, itemID string
			if err := rows.Scan(&dealID, &itemID); err != nil {
				return err
			}
			out[dealID] = append(out[dealID], itemID)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, eris.Wrap(err, "failed to load line item ids")
	}
	return out, nil
}

// DeleteLineItems removes the given line items of a deal. An empty ids
// removes every line item of the deal.
func DeleteLineItems(ctx context.Context, q Querier, dealID string, ids []string) (int64, error) {
	query := "DELETE FROM " + TableLineItems + " WHERE deal_id = ?"
	args := []any{dealID}
	if len(ids) > 0 {
		query += " AND line_item_id IN (" + placeholders(len(ids)) + ")"
		args = append(args, toArgs(ids)...)
	}
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, eris.Wrapf(err, "failed to delete line items of deal %s", dealID)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ReplaceLineItems makes the stored line items of dealID equal to items:
// stored items missing from items are deleted, every item in items is
// merged, and an empty items deletes them all. It reports whether the set of
// line item IDs changed.
func ReplaceLineItems(ctx context.Context, q Querier, dealID string, items []models.LineItem) (bool, error) {
	stored, err := LineItemIDs(ctx, q, dealID)
	if err != nil {
		return false, err
	}

	if len(items) == 0 {
		if len(stored) == 0 {
			return false, nil
		}
		if _, err := DeleteLineItems(ctx, q, dealID, nil); err != nil {
			return false, err
		}
		return true, nil
	}

	current := make(map[string]bool, len(items))
	for _, li := range items {
		current[li.LineItemID] = true
	}
	var stale []string
	for _, id := range stored {
		if !current[id] {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		if _, err := DeleteLineItems(ctx, q, dealID, stale); err != nil {
			return false, err
		}
	}

	for i := range items {
		items[i].DealID = dealID
		if err := UpsertLineItem(ctx, q, &items[i]); err != nil {
			return false, err
		}
	}

	changed := len(stale) > 0 || len(stored)-len(stale) != len(current)
	return changed, nil
}

// UpsertCollaborator merges one deal/owner edge.
func UpsertCollaborator(ctx context.Context, q Querier, c *models.Collaborator) error {
	if _, err := q.ExecContext(ctx, collaboratorsTable.upsertSQL(), c.DealID, c.OwnerID, c.LastUpdated.UTC()); err != nil {
		return eris.Wrapf(err, "failed to upsert collaborator %s on deal %s", c.OwnerID, c.DealID)
	}
	return nil
}

// CollaboratorIDs reads the owner IDs stored as collaborators of a deal.
func CollaboratorIDs(ctx context.Context, q Querier, dealID string) ([]string, error) {
	return queryIDs(ctx, q, "SELECT owner_id FROM "+TableCollaborators+" WHERE deal_id = ? ORDER BY owner_id", dealID)
}

// ReplaceCollaborators makes the stored edges of dealID equal to ownerIDs.
func ReplaceCollaborators(ctx context.Context, q Querier, dealID string, ownerIDs []string, at time.Time) error {
	stored, err := CollaboratorIDs(ctx, q, dealID)
	if err != nil {
		return err
	}

	current := make(map[string]bool, len(ownerIDs))
	for _, id := range ownerIDs {
		current[id] = true
	}
	var stale []string
	for _, id := range stored {
		if !current[id] {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		_, err := q.ExecContext(ctx,
			"DELETE FROM "+TableCollaborators+" WHERE deal_id = ? AND owner_id IN ("+placeholders(len(stale))+")",
			append([]any{dealID}, toArgs(stale)...)...)
		if err != nil {
			return eris.Wrapf(err, "failed to delete stale collaborators of deal %s", dealID)
		}
	}

	for _, id := range ownerIDs {
		if err := UpsertCollaborator(ctx, q, &models.Collaborator{DealID: dealID, OwnerID: id, LastUpdated: at}); err != nil {
			return err
		}
	}
	return nil
}

func queryIDs(ctx context.Context, q Querier, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "failed to query ids")
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "failed to scan id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "error iterating ids")
	}
	return ids, nil
}
