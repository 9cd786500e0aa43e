// ABOUTME: Full listings of companies, line items, and owners for bulk syncs
// ABOUTME: Follows top-level cursors and embedded association paging links
package hubspot

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

const listPageSize = 100

// ListCompanies returns every company with its deal associations.
func (c *Client) ListCompanies(ctx context.Context) ([]Object, error) {
	return c.listWithAssociations(ctx, ObjectCompanies, CompanyProperties, ObjectDeals)
}

// ListLineItems returns every line item with its deal associations.
func (c *Client) ListLineItems(ctx context.Context) ([]Object, error) {
	return c.listWithAssociations(ctx, ObjectLineItems, LineItemProperties, ObjectDeals)
}

func (c *Client) listWithAssociations(ctx context.Context, objectType string, props []string, assoc string) ([]Object, error) {
	path := "/crm/v3/objects/" + objectType

	var all []Object
	after := ""
	for {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(listPageSize))
		q.Set("properties", strings.Join(props, ","))
		q.Set("associations", assoc)
		if after != "" {
			q.Set("after", after)
		}

		var resp listResponse
		if err := c.do(ctx, http.MethodGet, path, q, nil, &resp); err != nil {
			return nil, eris.Wrapf(err, "failed to list %s", objectType)
		}

		for i := range resp.Results {
			if err := c.completeAssociations(ctx, &resp.Results[i], assoc); err != nil {
				return nil, err
			}
		}
		all = append(all, resp.Results...)

		if after = resp.Paging.NextAfter(); after == "" {
			break
		}
	}
	return all, nil
}

// completeAssociations fetches the remaining association pages of obj, which
// list responses truncate.
func (c *Client) completeAssociations(ctx context.Context, obj *Object, assoc string) error {
	page, ok := obj.Associations[assoc]
	if !ok {
		return nil
	}
	link := page.Paging.NextLink()
	for link != "" {
		var next AssociationPage
		if err := c.getLink(ctx, link, &next); err != nil {
			return eris.Wrapf(err, "failed to page %s associations of %s", assoc, obj.ID)
		}
		page.Results = append(page.Results, next.Results...)
		link = next.Paging.NextLink()
	}
	page.Paging = nil
	obj.Associations[assoc] = page
	return nil
}

// ListOwners returns every active owner, or every archived owner when archived is set.
func (c *Client) ListOwners(ctx context.Context, archived bool) ([]Owner, error) {
	var all []Owner
	after := ""
	for {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(listPageSize))
		q.Set("archived", strconv.FormatBool(archived))
		if after != "" {
			q.Set("after", after)
		}

		var resp ownerListResponse
		if err := c.do(ctx, http.MethodGet, "/crm/v3/owners", q, nil, &resp); err != nil {
			return nil, eris.Wrap(err, "failed to list owners")
		}
		all = append(all, resp.Results...)

		if after = resp.Paging.NextAfter(); after == "" {
			break
		}
	}
	return all, nil
}
