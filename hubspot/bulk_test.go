package hubspot

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListCompaniesFollowsAssociationLinks(t *testing.T) {
	var base string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/crm/v3/objects/companies" && r.URL.Query().Get("after") == "":
			assert.Equal(t, "deals", r.URL.Query().Get("associations"))
			fmt.Fprintf(w, `{"results":[{"id":"C1","properties":{"name":"Acme"},
				"associations":{"deals":{"results":[{"id":"D1","type":"company_to_deal"}],
				"paging":{"next":{"after":"x","link":"%s/crm/v4/objects/companies/C1/associations/deals?after=x"}}}}}],
				"paging":{"next":{"after":"100"}}}`, base)
		case r.URL.Path == "/crm/v3/objects/companies":
			_, _ = w.Write([]byte(`{"results":[{"id":"C2","properties":{"name":"Beta"}}]}`))
		case r.URL.Path == "/crm/v4/objects/companies/C1/associations/deals":
			assert.Equal(t, "x", r.URL.Query().Get("after"))
			_, _ = w.Write([]byte(`{"results":[{"id":"D2","type":"company_to_deal"}]}`))
		default:
			t.Errorf("unexpected request %s", r.URL)
		}
	})
	base = c.baseURL

	companies, err := c.ListCompanies(context.Background())
	require.NoError(t, err)
	require.Len(t, companies, 2)
	assert.Equal(t, []string{"D1", "D2"}, companies[0].AssociatedIDs(ObjectDeals))
	assert.Empty(t, companies[1].AssociatedIDs(ObjectDeals))
}

func TestListOwnersPages(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "false", r.URL.Query().Get("archived"))
		if r.URL.Query().Get("after") == "" {
			_, _ = w.Write([]byte(`{"results":[{"id":"1","email":"a@x.com","userId":11}],"paging":{"next":{"after":"1"}}}`))
			return
		}
		_, _ = w.Write([]byte(`{"results":[{"id":"2","email":"b@x.com","userId":12}]}`))
	})

	owners, err := c.ListOwners(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, owners, 2)
	assert.Equal(t, "12", owners[1].UserID.String())
}
