// ABOUTME: Deal endpoints: search pages and single deal reads
// ABOUTME: Single reads include company and line item associations
package hubspot

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
)

// SearchPageSize is the largest page the search endpoint returns.
const SearchPageSize = 200

// SearchDeals fetches one page of deal search results.
func (c *Client) SearchDeals(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if req.Limit == 0 {
		req.Limit = SearchPageSize
	}
	if len(req.Properties) == 0 {
		req.Properties = DealProperties
	}
	var resp SearchResponse
	if err := c.do(ctx, http.MethodPost, "/crm/v3/objects/deals/search", nil, req, &resp); err != nil {
		return nil, eris.Wrap(err, "failed to search deals")
	}
	return &resp, nil
}

// GetDeal reads one deal with its tracked properties and associations.
func (c *Client) GetDeal(ctx context.Context, id string) (*Object, error) {
	q := url.Values{}
	q.Set("properties", strings.Join(DealProperties, ","))
	q.Set("associations", ObjectCompanies+","+ObjectLineItems)

	var deal Object
	if err := c.do(ctx, http.MethodGet, "/crm/v3/objects/deals/"+url.PathEscape(id), q, nil, &deal); err != nil {
		return nil, eris.Wrapf(err, "failed to get deal %s", id)
	}
	return &deal, nil
}
