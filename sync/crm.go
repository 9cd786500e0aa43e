// ABOUTME: CRM surface the deal sync depends on
// ABOUTME: Satisfied by *hubspot.Client and by in-memory fakes in tests
package sync

import (
	"context"

	"github.com/BLEND360/hubspot-deals-export/hubspot"
)

// CRM is the subset of the HubSpot client used by fetchers, resolvers, and
// the bulk prefetch.
type CRM interface {
	SearchDeals(ctx context.Context, req hubspot.SearchRequest) (*hubspot.SearchResponse, error)
	GetDeal(ctx context.Context, id string) (*hubspot.Object, error)
	GetCompany(ctx context.Context, id string) (*hubspot.Object, error)
	GetOwner(ctx context.Context, id string, archived bool) (*hubspot.Owner, error)
	BatchReadLineItems(ctx context.Context, ids []string) ([]hubspot.Object, error)
	ListAssociations(ctx context.Context, fromType, id, toType string) ([]string, error)
	GetPipeline(ctx context.Context, id string) (*hubspot.Pipeline, error)
	ListPipelines(ctx context.Context) ([]hubspot.Pipeline, error)
	ListCompanies(ctx context.Context) ([]hubspot.Object, error)
	ListLineItems(ctx context.Context) ([]hubspot.Object, error)
	ListOwners(ctx context.Context, archived bool) ([]hubspot.Owner, error)
}

var _ CRM = (*hubspot.Client)(nil)
