package hubspot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchDealsDefaults(t *testing.T) {
	var got SearchRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/crm/v3/objects/deals/search", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"total":1,"results":[{"id":"1","properties":{"dealname":"D1"}}],"paging":{"next":{"after":"200"}}}`))
	})

	resp, err := c.SearchDeals(context.Background(), SearchRequest{
		FilterGroups: []FilterGroup{{Filters: []Filter{{PropertyName: PropLastModified, Operator: "GT", Value: "1"}}}},
	})
	require.NoError(t, err)

	assert.Equal(t, SearchPageSize, got.Limit)
	assert.Equal(t, DealProperties, got.Properties)
	assert.Equal(t, "200", resp.Paging.NextAfter())
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "D1", resp.Results[0].Properties.Get(PropDealName))
}

func TestGetDealWithAssociations(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/crm/v3/objects/deals/42", r.URL.Path)
		assert.Equal(t, "companies,line_items", r.URL.Query().Get("associations"))
		assert.True(t, strings.Contains(r.URL.Query().Get("properties"), PropCollaboratorIDs))
		_, _ = w.Write([]byte(`{
			"id":"42",
			"properties":{"dealname":"Big deal"},
			"associations":{
				"companies":{"results":[{"id":"7","type":"deal_to_company"},{"id":"7","type":"deal_to_company_unlabeled"}]},
				"line items":{"results":[{"id":"L1","type":"deal_to_line_item"},{"id":"L2","type":"deal_to_line_item"}]}
			}
		}`))
	})

	deal, err := c.GetDeal(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, []string{"7"}, deal.AssociatedIDs(ObjectCompanies))
	assert.Equal(t, []string{"L1", "L2"}, deal.AssociatedIDs(ObjectLineItems))
	assert.Empty(t, deal.AssociatedIDs("contacts"))
}

func TestListAssociationsPages(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/crm/v4/objects/deals/42/associations/companies", r.URL.Path)
		if r.URL.Query().Get("after") == "" {
			_, _ = w.Write([]byte(`{"results":[{"toObjectId":7},{"toObjectId":8}],"paging":{"next":{"after":"p2"}}}`))
			return
		}
		_, _ = w.Write([]byte(`{"results":[{"toObjectId":8},{"toObjectId":9}]}`))
	})

	ids, err := c.ListAssociations(context.Background(), ObjectDeals, "42", ObjectCompanies)
	require.NoError(t, err)
	assert.Equal(t, []string{"7", "8", "9"}, ids)
}

func TestBatchReadLineItemsChunks(t *testing.T) {
	var batches []int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req batchReadRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		batches = append(batches, len(req.Inputs))

		var resp listResponse
		for _, in := range req.Inputs {
			resp.Results = append(resp.Results, Object{ID: in.ID, Properties: Properties{"name": "item " + in.ID}})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	ids := make([]string, 150)
	for i := range ids {
		ids[i] = string(rune('a'+i%26)) + strings.Repeat("x", i/26)
	}

	items, err := c.BatchReadLineItems(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, []int{100, 50}, batches)
	assert.Len(t, items, 150)
}

func TestGetOwner(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("archived"))
		_, _ = w.Write([]byte(`{"id":"5","email":"jane.doe@x.com","firstName":"","lastName":"","userId":null,"archived":true}`))
	}))
	defer srv.Close()

	owner, err := NewClient(srv.URL, "pat").GetOwner(context.Background(), "5", true)
	require.NoError(t, err)
	assert.Nil(t, owner.UserID)
	assert.True(t, owner.Archived)
	assert.Equal(t, "jane.doe@x.com", owner.Email)
}
