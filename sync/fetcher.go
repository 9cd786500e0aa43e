// ABOUTME: Change-set fetcher for deals modified since a watermark or listed by ID
// ABOUTME: Builds CRM search filters and drains cursor pagination
package sync

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/BLEND360/hubspot-deals-export/hubspot"
	"github.com/rotisserie/eris"
)

// searchIDChunk is the CRM's limit on values in one IN filter.
const searchIDChunk = 100

// Query selects the deals to fetch. Since and DealIDs combine with AND; an
// empty Query fetches every deal in the allowed pipelines.
type Query struct {
	Since        *time.Time
	DealIDs      []string
	IncludeOlder bool
}

// Fetcher finds changed deals in the CRM.
type Fetcher struct {
	crm          CRM
	pipelines    []string
	createdAfter time.Time
}

func NewFetcher(crm CRM, pipelines []string, createdAfter time.Time) *Fetcher {
	return &Fetcher{crm: crm, pipelines: pipelines, createdAfter: createdAfter}
}

// FetchChanged returns every deal matching q. Nothing matching is an empty
// result, and any failed page discards the pages already read.
func (f *Fetcher) FetchChanged(ctx context.Context, q Query) ([]hubspot.Object, error) {
	ids := dedupe(q.DealIDs)
	if len(q.DealIDs) > 0 && len(ids) == 0 {
		return nil, nil
	}
	if len(ids) == 0 {
		return f.search(ctx, f.filters(q, nil))
	}

	var all []hubspot.Object
	for start := 0; start < len(ids); start += searchIDChunk {
		end := min(start+searchIDChunk, len(ids))
		deals, err := f.search(ctx, f.filters(q, ids[start:end]))
		if err != nil {
			return nil, err
		}
		all = append(all, deals...)
	}
	return all, nil
}

func (f *Fetcher) filters(q Query, ids []string) []hubspot.Filter {
	var filters []hubspot.Filter
	if q.Since != nil {
		filters = append(filters, hubspot.Filter{
			PropertyName: hubspot.PropLastModified,
			Operator:     "GT",
			Value:        millis(*q.Since),
		})
	}
	if len(ids) > 0 {
		filters = append(filters, hubspot.Filter{
			PropertyName: hubspot.PropObjectID,
			Operator:     "IN",
			Values:       ids,
		})
	}
	if len(f.pipelines) > 0 {
		filters = append(filters, hubspot.Filter{
			PropertyName: hubspot.PropPipeline,
			Operator:     "IN",
			Values:       f.pipelines,
		})
	}
	if !q.IncludeOlder && !f.createdAfter.IsZero() {
		filters = append(filters, hubspot.Filter{
			PropertyName: hubspot.PropSearchCreateDate,
			Operator:     "GT",
			Value:        millis(f.createdAfter),
		})
	}
	return filters
}

func (f *Fetcher) search(ctx context.Context, filters []hubspot.Filter) ([]hubspot.Object, error) {
	req := hubspot.SearchRequest{
		FilterGroups: []hubspot.FilterGroup{{Filters: filters}},
		Sorts:        []hubspot.Sort{{PropertyName: hubspot.PropLastModified, Direction: "ASCENDING"}},
		Properties:   hubspot.DealProperties,
	}

	var deals []hubspot.Object
	for {
		resp, err := f.crm.SearchDeals(ctx, req)
		if err != nil {
			return nil, eris.Wrap(err, "failed to search deals")
		}
		deals = append(deals, resp.Results...)

		if req.After = resp.Paging.NextAfter(); req.After == "" {
			return deals, nil
		}
	}
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// dedupe trims ids and drops blanks and repeats, keeping first-seen order.
func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
