package sync

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/BLEND360/hubspot-deals-export/hubspot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cutoff = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestFetcher(crm CRM) *Fetcher {
	return NewFetcher(crm, []string{"74948272", "35923868", "663516528"}, cutoff)
}

func filterNamed(filters []hubspot.Filter, name string) *hubspot.Filter {
	for i := range filters {
		if filters[i].PropertyName == name {
			return &filters[i]
		}
	}
	return nil
}

func TestFetchChangedDrainsPages(t *testing.T) {
	crm := newFakeCRM()
	for i := 1; i <= 5; i++ {
		crm.addDeal(fmt.Sprintf("D%d", i), nil)
	}
	since := baseModified.Add(-time.Hour)

	deals, err := newTestFetcher(crm).FetchChanged(context.Background(), Query{Since: &since})
	require.NoError(t, err)
	assert.Len(t, deals, 5)
	assert.Len(t, crm.searches, 3)
	assert.Equal(t, "", crm.searches[0].After)
	assert.Equal(t, "2", crm.searches[1].After)
	assert.Equal(t, "4", crm.searches[2].After)

	filters := crm.searches[0].FilterGroups[0].Filters
	modified := filterNamed(filters, hubspot.PropLastModified)
	require.NotNil(t, modified)
	assert.Equal(t, "GT", modified.Operator)
	assert.Equal(t, fmt.Sprint(since.UnixMilli()), modified.Value)

	pipeline := filterNamed(filters, hubspot.PropPipeline)
	require.NotNil(t, pipeline)
	assert.Equal(t, []string{"74948272", "35923868", "663516528"}, pipeline.Values)

	created := filterNamed(filters, hubspot.PropSearchCreateDate)
	require.NotNil(t, created)
	assert.Equal(t, fmt.Sprint(cutoff.UnixMilli()), created.Value)
}

func TestFetchChangedEmptyResult(t *testing.T) {
	crm := newFakeCRM()
	crm.addDeal("D1", nil)
	since := baseModified.Add(time.Hour)

	deals, err := newTestFetcher(crm).FetchChanged(context.Background(), Query{Since: &since})
	require.NoError(t, err)
	assert.Empty(t, deals)
	assert.Len(t, crm.searches, 1)
}

func TestFetchChangedIncludeOlderDropsCutoff(t *testing.T) {
	crm := newFakeCRM()
	crm.addDeal("OLD", hubspot.Properties{hubspot.PropSearchCreateDate: "2023-05-01T00:00:00Z"})

	deals, err := newTestFetcher(crm).FetchChanged(context.Background(), Query{DealIDs: []string{"OLD"}})
	require.NoError(t, err)
	assert.Empty(t, deals)

	deals, err = newTestFetcher(crm).FetchChanged(context.Background(), Query{DealIDs: []string{"OLD"}, IncludeOlder: true})
	require.NoError(t, err)
	require.Len(t, deals, 1)
	assert.Nil(t, filterNamed(crm.searches[len(crm.searches)-1].FilterGroups[0].Filters, hubspot.PropSearchCreateDate))
}

func TestFetchChangedChunksDealIDs(t *testing.T) {
	crm := newFakeCRM()
	crm.pageSize = 1000

	var ids []string
	for i := 0; i < 250; i++ {
		ids = append(ids, fmt.Sprintf("D%03d", i))
	}
	ids = append(ids, "D000", " ", "D001")
	crm.addDeal("D007", nil)
	crm.addDeal("D180", nil)

	deals, err := newTestFetcher(crm).FetchChanged(context.Background(), Query{DealIDs: ids})
	require.NoError(t, err)
	assert.Len(t, deals, 2)

	require.Len(t, crm.searches, 3)
	sizes := make([]int, 0, 3)
	for _, s := range crm.searches {
		in := filterNamed(s.FilterGroups[0].Filters, hubspot.PropObjectID)
		require.NotNil(t, in)
		sizes = append(sizes, len(in.Values))
		assert.Nil(t, filterNamed(s.FilterGroups[0].Filters, hubspot.PropLastModified))
	}
	assert.Equal(t, []int{100, 100, 50}, sizes)
}

func TestFetchChangedSinceAndIDsCombine(t *testing.T) {
	crm := newFakeCRM()
	crm.addDeal("D1", nil)
	crm.addDeal("D2", hubspot.Properties{hubspot.PropLastModified: baseModified.Add(-2 * time.Hour).Format(time.RFC3339)})
	since := baseModified.Add(-time.Hour)

	deals, err := newTestFetcher(crm).FetchChanged(context.Background(), Query{Since: &since, DealIDs: []string{"D1", "D2"}})
	require.NoError(t, err)
	require.Len(t, deals, 1)
	assert.Equal(t, "D1", deals[0].ID)
}

func TestFetchChangedDiscardsPagesOnError(t *testing.T) {
	crm := newFakeCRM()
	for i := 1; i <= 5; i++ {
		crm.addDeal(fmt.Sprintf("D%d", i), nil)
	}
	crm.failAfter = 1
	crm.searchErr = &hubspot.APIError{StatusCode: 500, Body: "boom"}

	deals, err := newTestFetcher(crm).FetchChanged(context.Background(), Query{})
	require.Error(t, err)
	assert.Nil(t, deals)

	var apiErr *hubspot.APIError
	assert.True(t, errors.As(err, &apiErr))
}

func TestFetchChangedOnlyBlankIDs(t *testing.T) {
	crm := newFakeCRM()

	deals, err := newTestFetcher(crm).FetchChanged(context.Background(), Query{DealIDs: []string{" ", ""}})
	require.NoError(t, err)
	assert.Empty(t, deals)
	assert.Empty(t, crm.searches)
}
