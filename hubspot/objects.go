// ABOUTME: Reads for the entities a deal references: companies, owners, line items, pipelines
// ABOUTME: Also exposes the v4 associations listing used for per-deal resolution
package hubspot

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

const batchReadLimit = 100

// GetCompany reads a company's name and domain.
func (c *Client) GetCompany(ctx context.Context, id string) (*Object, error) {
	q := url.Values{}
	q.Set("properties", strings.Join(CompanyProperties, ","))

	var company Object
	if err := c.do(ctx, http.MethodGet, "/crm/v3/objects/companies/"+url.PathEscape(id), q, nil, &company); err != nil {
		return nil, eris.Wrapf(err, "failed to get company %s", id)
	}
	return &company, nil
}

// GetOwner reads an owner by ID, searching archived owners when archived is set.
func (c *Client) GetOwner(ctx context.Context, id string, archived bool) (*Owner, error) {
	q := url.Values{}
	q.Set("idProperty", "id")
	q.Set("archived", strconv.FormatBool(archived))

	var owner Owner
	if err := c.do(ctx, http.MethodGet, "/crm/v3/owners/"+url.PathEscape(id), q, nil, &owner); err != nil {
		return nil, eris.Wrapf(err, "failed to get owner %s", id)
	}
	return &owner, nil
}

// BatchReadLineItems reads line items by ID in chunks of 100.
func (c *Client) BatchReadLineItems(ctx context.Context, ids []string) ([]Object, error) {
	var items []Object
	for start := 0; start < len(ids); start += batchReadLimit {
		end := min(start+batchReadLimit, len(ids))

		req := batchReadRequest{Properties: LineItemProperties}
		for _, id := range ids[start:end] {
			req.Inputs = append(req.Inputs, batchReadInput{ID: id})
		}

		var resp listResponse
		if err := c.do(ctx, http.MethodPost, "/crm/v3/objects/line_items/batch/read", nil, req, &resp); err != nil {
			return nil, eris.Wrap(err, "failed to batch read line items")
		}
		items = append(items, resp.Results...)
	}
	return items, nil
}

// ListAssociations returns the IDs of toType records associated with a record.
func (c *Client) ListAssociations(ctx context.Context, fromType, id, toType string) ([]string, error) {
	path := "/crm/v4/objects/" + fromType + "/" + url.PathEscape(id) + "/associations/" + toType

	var ids []string
	after := ""
	for {
		q := url.Values{}
		q.Set("limit", "500")
		if after != "" {
			q.Set("after", after)
		}

		var resp v4AssociationResponse
		if err := c.do(ctx, http.MethodGet, path, q, nil, &resp); err != nil {
			return nil, eris.Wrapf(err, "failed to list %s associations of %s %s", toType, fromType, id)
		}
		for _, a := range resp.Results {
			ids = append(ids, a.ToObjectID.String())
		}

		if after = resp.Paging.NextAfter(); after == "" {
			break
		}
	}
	return distinct(ids), nil
}

// GetPipeline reads one deal pipeline with its stages.
func (c *Client) GetPipeline(ctx context.Context, id string) (*Pipeline, error) {
	var p Pipeline
	if err := c.do(ctx, http.MethodGet, "/crm/v3/pipelines/deals/"+url.PathEscape(id), nil, nil, &p); err != nil {
		return nil, eris.Wrapf(err, "failed to get pipeline %s", id)
	}
	return &p, nil
}

// ListPipelines reads every deal pipeline with its stages.
func (c *Client) ListPipelines(ctx context.Context) ([]Pipeline, error) {
	var resp pipelineListResponse
	if err := c.do(ctx, http.MethodGet, "/crm/v3/pipelines/deals", nil, nil, &resp); err != nil {
		return nil, eris.Wrap(err, "failed to list pipelines")
	}
	return resp.Results, nil
}
