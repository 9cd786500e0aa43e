package db

import (
	"context"
	"testing"
	"time"

	"github.com/BLEND360/hubspot-deals-export/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lineItem(id string, amount float64) models.LineItem {
	return models.LineItem{LineItemID: id, Name: str("item " + id), Price: num(amount), Quantity: num(1), Amount: num(amount)}
}

func TestReplaceLineItemsConverges(t *testing.T) {
	w := setupTestDB(t)
	ctx := context.Background()

	changed, err := ReplaceLineItems(ctx, w, "D1", []models.LineItem{lineItem("L1", 10), lineItem("L2", 20)})
	require.NoError(t, err)
	assert.True(t, changed)

	// same set again: merged, not changed
	changed, err = ReplaceLineItems(ctx, w, "D1", []models.LineItem{lineItem("L1", 10), lineItem("L2", 25)})
	require.NoError(t, err)
	assert.False(t, changed)

	items, err := ListLineItems(ctx, w, "D1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, 25.0, items[1].Amount.Float64)

	// L1 removed upstream, L3 added
	changed, err = ReplaceLineItems(ctx, w, "D1", []models.LineItem{lineItem("L2", 25), lineItem("L3", 30)})
	require.NoError(t, err)
	assert.True(t, changed)

	ids, err := LineItemIDs(ctx, w, "D1")
	require.NoError(t, err)
	assert.Equal(t, []string{"L2", "L3"}, ids)
}

func TestReplaceLineItemsEmptyDeletesAll(t *testing.T) {
	w := setupTestDB(t)
	ctx := context.Background()

	_, err := ReplaceLineItems(ctx, w, "D1", []models.LineItem{lineItem("L1", 10)})
	require.NoError(t, err)
	_, err = ReplaceLineItems(ctx, w, "D2", []models.LineItem{lineItem("L9", 90)})
	require.NoError(t, err)

	changed, err := ReplaceLineItems(ctx, w, "D1", nil)
	require.NoError(t, err)
	assert.True(t, changed)

	ids, err := LineItemIDs(ctx, w, "D1")
	require.NoError(t, err)
	assert.Empty(t, ids)

	// other deals are untouched
	ids, err = LineItemIDs(ctx, w, "D2")
	require.NoError(t, err)
	assert.Equal(t, []string{"L9"}, ids)

	changed, err = ReplaceLineItems(ctx, w, "D1", nil)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestLineItemIDsByDeal(t *testing.T) {
	w := setupTestDB(t)
	ctx := context.Background()

	_, err := ReplaceLineItems(ctx, w, "D1", []models.LineItem{lineItem("L1", 1), lineItem("L2", 2)})
	require.NoError(t, err)
	_, err = ReplaceLineItems(ctx, w, "D2", []models.LineItem{lineItem("L3", 3)})
	require.NoError(t, err)

	byDeal, err := LineItemIDsByDeal(ctx, w, []string{"D1", "D2", "D3"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"D1": {"L1", "L2"}, "D2": {"L3"}}, byDeal)
}

func TestReplaceCollaborators(t *testing.T) {
	w := setupTestDB(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, ReplaceCollaborators(ctx, w, "D1", []string{"O1", "O2", "O2"}, at))

	ids, err := CollaboratorIDs(ctx, w, "D1")
	require.NoError(t, err)
	assert.Equal(t, []string{"O1", "O2"}, ids)

	require.NoError(t, ReplaceCollaborators(ctx, w, "D1", []string{"O2", "O3"}, at.Add(time.Hour)))

	ids, err = CollaboratorIDs(ctx, w, "D1")
	require.NoError(t, err)
	assert.Equal(t, []string{"O2", "O3"}, ids)

	require.NoError(t, ReplaceCollaborators(ctx, w, "D1", nil, at))
	ids, err = CollaboratorIDs(ctx, w, "D1")
	require.NoError(t, err)
	assert.Empty(t, ids)
}
