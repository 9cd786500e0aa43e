package sync

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/BLEND360/hubspot-deals-export/db"
	"github.com/BLEND360/hubspot-deals-export/hubspot"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *db.Warehouse {
	t.Helper()
	w, err := db.OpenDatabase(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

// fakeCRM is an in-memory CRM. Deal associations are derived from
// itemsByDeal and dealCompanies so per-deal and bulk reads agree.
type fakeCRM struct {
	deals         map[string]*hubspot.Object
	itemsByDeal   map[string][]string
	lineItems     map[string]*hubspot.Object
	companies     map[string]*hubspot.Object
	dealCompanies map[string][]string
	owners        map[string]*hubspot.Owner
	archived      map[string]*hubspot.Owner
	pipelines     []hubspot.Pipeline

	pageSize    int
	failAfter   int
	searchErr   error
	searches    []hubspot.SearchRequest
	ownerCalls  int
	getDealErrs map[string]error
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{
		deals:         make(map[string]*hubspot.Object),
		itemsByDeal:   make(map[string][]string),
		lineItems:     make(map[string]*hubspot.Object),
		companies:     make(map[string]*hubspot.Object),
		dealCompanies: make(map[string][]string),
		owners:        make(map[string]*hubspot.Owner),
		archived:      make(map[string]*hubspot.Owner),
		pipelines: []hubspot.Pipeline{{
			ID:    "74948272",
			Label: "Services",
			Stages: []hubspot.Stage{
				{ID: "S1", Label: "Qualified"},
				{ID: "S2", Label: "Closed Won"},
			},
		}},
		pageSize:    2,
		failAfter:   -1,
		getDealErrs: make(map[string]error),
	}
}

var baseModified = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// addDeal stores a deal in the default pipeline at stage S1. props override
// the defaults.
func (f *fakeCRM) addDeal(id string, props hubspot.Properties, lineItemIDs ...string) {
	p := hubspot.Properties{
		hubspot.PropDealName:         "Deal " + id,
		hubspot.PropPipeline:         "74948272",
		hubspot.PropDealStage:        "S1",
		hubspot.PropSearchCreateDate: "2025-06-01T00:00:00Z",
		hubspot.PropLastModified:     baseModified.Format(time.RFC3339),
	}
	for k, v := range props {
		p[k] = v
	}
	f.deals[id] = &hubspot.Object{
		ID:         id,
		Properties: p,
		CreatedAt:  "2025-06-01T00:00:00Z",
		UpdatedAt:  p[hubspot.PropLastModified],
	}
	f.itemsByDeal[id] = lineItemIDs
}

func (f *fakeCRM) addLineItem(id, amount string) {
	f.lineItems[id] = &hubspot.Object{
		ID: id,
		Properties: hubspot.Properties{
			"name":     "Item " + id,
			"price":    amount,
			"quantity": "1",
			"amount":   amount,
		},
		CreatedAt: "2026-01-01T00:00:00Z",
		UpdatedAt: "2026-01-02T00:00:00Z",
	}
}

func (f *fakeCRM) addCompany(id, name, domain string, dealIDs ...string) {
	f.companies[id] = &hubspot.Object{ID: id, Properties: hubspot.Properties{"name": name, "domain": domain}}
	for _, d := range dealIDs {
		f.dealCompanies[d] = append(f.dealCompanies[d], id)
	}
}

func (f *fakeCRM) addOwner(id, first, last, email string, active bool) {
	o := &hubspot.Owner{ID: id, FirstName: first, LastName: last, Email: email}
	if active {
		uid := json.Number("9" + id)
		o.UserID = &uid
		f.owners[id] = o
		return
	}
	o.Archived = true
	f.archived[id] = o
}

func notFound(path string) error {
	return &hubspot.APIError{Method: "GET", Path: path, StatusCode: 404, Body: `{"message":"not found"}`}
}

func (f *fakeCRM) SearchDeals(_ context.Context, req hubspot.SearchRequest) (*hubspot.SearchResponse, error) {
	f.searches = append(f.searches, req)
	if f.failAfter >= 0 && len(f.searches) > f.failAfter {
		return nil, f.searchErr
	}

	var matched []hubspot.Object
	for _, id := range sortedKeys(f.deals) {
		d := f.deals[id]
		if matchesAll(d, req.FilterGroups[0].Filters) {
			matched = append(matched, hubspot.Object{ID: d.ID, Properties: d.Properties, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt})
		}
	}

	start := 0
	if req.After != "" {
		start, _ = strconv.Atoi(req.After)
	}
	end := min(start+f.pageSize, len(matched))
	resp := &hubspot.SearchResponse{Total: len(matched), Results: matched[start:end]}
	if end < len(matched) {
		resp.Paging = &hubspot.Paging{Next: &hubspot.NextPage{After: strconv.Itoa(end)}}
	}
	return resp, nil
}

func matchesAll(d *hubspot.Object, filters []hubspot.Filter) bool {
	for _, f := range filters {
		switch f.PropertyName {
		case hubspot.PropObjectID:
			if !contains(f.Values, d.ID) {
				return false
			}
		case hubspot.PropPipeline:
			if !contains(f.Values, d.Properties.Get(hubspot.PropPipeline)) {
				return false
			}
		case hubspot.PropLastModified, hubspot.PropSearchCreateDate:
			t, err := time.Parse(time.RFC3339, d.Properties.Get(f.PropertyName))
			limit, _ := strconv.ParseInt(f.Value, 10, 64)
			if err != nil || t.UnixMilli() <= limit {
				return false
			}
		}
	}
	return true
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func refs(ids []string) hubspot.AssociationPage {
	page := hubspot.AssociationPage{}
	for _, id := range ids {
		page.Results = append(page.Results, hubspot.AssociationRef{ID: id, Type: "association"})
	}
	return page
}

func (f *fakeCRM) GetDeal(_ context.Context, id string) (*hubspot.Object, error) {
	if err := f.getDealErrs[id]; err != nil {
		return nil, err
	}
	d, ok := f.deals[id]
	if !ok {
		return nil, notFound("/crm/v3/objects/deals/" + id)
	}
	out := *d
	out.Associations = map[string]hubspot.AssociationPage{
		"line items": refs(f.itemsByDeal[id]),
		"companies":  refs(f.dealCompanies[id]),
	}
	return &out, nil
}

func (f *fakeCRM) GetCompany(_ context.Context, id string) (*hubspot.Object, error) {
	c, ok := f.companies[id]
	if !ok {
		return nil, notFound("/crm/v3/objects/companies/" + id)
	}
	return c, nil
}

func (f *fakeCRM) GetOwner(_ context.Context, id string, archived bool) (*hubspot.Owner, error) {
	f.ownerCalls++
	src := f.owners
	if archived {
		src = f.archived
	}
	o, ok := src[id]
	if !ok {
		return nil, notFound("/crm/v3/owners/" + id)
	}
	return o, nil
}

func (f *fakeCRM) BatchReadLineItems(_ context.Context, ids []string) ([]hubspot.Object, error) {
	var out []hubspot.Object
	for _, id := range ids {
		if li, ok := f.lineItems[id]; ok {
			out = append(out, *li)
		}
	}
	return out, nil
}

func (f *fakeCRM) ListAssociations(_ context.Context, fromType, id, toType string) ([]string, error) {
	if fromType == hubspot.ObjectDeals && toType == hubspot.ObjectCompanies {
		return f.dealCompanies[id], nil
	}
	return nil, nil
}

func (f *fakeCRM) GetPipeline(_ context.Context, id string) (*hubspot.Pipeline, error) {
	for i := range f.pipelines {
		if f.pipelines[i].ID == id {
			return &f.pipelines[i], nil
		}
	}
	return nil, notFound("/crm/v3/pipelines/deals/" + id)
}

func (f *fakeCRM) ListPipelines(context.Context) ([]hubspot.Pipeline, error) {
	return f.pipelines, nil
}

func (f *fakeCRM) ListCompanies(context.Context) ([]hubspot.Object, error) {
	byCompany := make(map[string][]string)
	for _, dealID := range sortedKeys(f.dealCompanies) {
		for _, c := range f.dealCompanies[dealID] {
			byCompany[c] = append(byCompany[c], dealID)
		}
	}
	var out []hubspot.Object
	for _, id := range sortedKeys(f.companies) {
		c := *f.companies[id]
		c.Associations = map[string]hubspot.AssociationPage{"deals": refs(byCompany[id])}
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeCRM) ListLineItems(context.Context) ([]hubspot.Object, error) {
	byItem := make(map[string][]string)
	for _, dealID := range sortedKeys(f.itemsByDeal) {
		for _, li := range f.itemsByDeal[dealID] {
			byItem[li] = append(byItem[li], dealID)
		}
	}
	var out []hubspot.Object
	for _, id := range sortedKeys(f.lineItems) {
		li := *f.lineItems[id]
		li.Associations = map[string]hubspot.AssociationPage{"deals": refs(byItem[id])}
		out = append(out, li)
	}
	return out, nil
}

func (f *fakeCRM) ListOwners(_ context.Context, archived bool) ([]hubspot.Owner, error) {
	src := f.owners
	if archived {
		src = f.archived
	}
	var out []hubspot.Owner
	for _, id := range sortedKeys(src) {
		out = append(out, *src[id])
	}
	return out, nil
}

var _ CRM = (*fakeCRM)(nil)
