// ABOUTME: Wire types for the HubSpot CRM v3/v4 APIs used by the exporter
// ABOUTME: Covers CRM objects, associations, owners, pipelines, and search requests
package hubspot

import (
	"encoding/json"
	"strings"
)

// Deal properties requested on every deal read.
const (
	PropDealName           = "dealname"
	PropDealStage          = "dealstage"
	PropPipeline           = "pipeline"
	PropCloseDate          = "closedate"
	PropCreateDate         = "hs_createdate"
	PropLastModified       = "hs_lastmodifieddate"
	PropOwnerID            = "hubspot_owner_id"
	PropCollaboratorIDs    = "hs_all_collaborator_owner_ids"
	PropProjectStartDate   = "expected_project_start_date"
	PropDurationInMonths   = "expected_project_duration_in_months"
	PropAmountHomeCurrency = "amount_in_home_currency"
	PropEngagementType     = "engagement_type__cloned_"
	PropDealType           = "dealtype"
	PropNSProjectID        = "ns_project_id__finance_only_"
	PropWorkAhead          = "work_ahead"
	PropDeliveryLead       = "delivery_lead"
	PropSolutionLead       = "solution_lead"
	PropObjectID           = "hs_object_id"
	PropSearchCreateDate   = "createdate"
)

// DealProperties is the property list fetched for deals.
var DealProperties = []string{
	PropDealName, PropDealStage, PropPipeline, PropCloseDate, PropCreateDate,
	PropLastModified, PropOwnerID, PropCollaboratorIDs, PropProjectStartDate,
	PropDurationInMonths, PropAmountHomeCurrency, PropEngagementType, PropDealType,
	PropNSProjectID, PropWorkAhead, PropDeliveryLead, PropSolutionLead,
}

// CompanyProperties is the property list fetched for companies.
var CompanyProperties = []string{"name", "domain"}

// LineItemProperties is the property list fetched for line items.
var LineItemProperties = []string{"name", "price", "quantity", "amount", "createdate", PropLastModified}

// Object types as used in CRM URLs.
const (
	ObjectDeals     = "deals"
	ObjectCompanies = "companies"
	ObjectLineItems = "line_items"
)

// Properties holds raw CRM property values. Null values decode to "".
type Properties map[string]string

// Get returns the trimmed value of a property.
func (p Properties) Get(name string) string {
	return strings.TrimSpace(p[name])
}

// Object is a generic CRM record (deal, company, line item).
type Object struct {
	ID           string                     `json:"id"`
	Properties   Properties                 `json:"properties"`
	Associations map[string]AssociationPage `json:"associations,omitempty"`
	CreatedAt    string                     `json:"createdAt,omitempty"`
	UpdatedAt    string                     `json:"updatedAt,omitempty"`
	Archived     bool                       `json:"archived,omitempty"`
}

// AssociatedIDs returns the distinct associated record IDs of kind in response
// order. kind accepts either the URL form ("line_items") or the response key
// form ("line items").
func (o *Object) AssociatedIDs(kind string) []string {
	page, ok := o.Associations[kind]
	if !ok {
		page = o.Associations[strings.ReplaceAll(kind, "_", " ")]
	}
	return distinct(page.IDs())
}

// AssociationPage is one page of associations embedded in an object.
type AssociationPage struct {
	Results []AssociationRef `json:"results"`
	Paging  *Paging          `json:"paging,omitempty"`
}

// IDs lists the referenced IDs in order, including duplicates.
func (p AssociationPage) IDs() []string {
	ids := make([]string, 0, len(p.Results))
	for _, r := range p.Results {
		ids = append(ids, r.ID)
	}
	return ids
}

// AssociationRef is a v3 association entry.
type AssociationRef struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// Paging carries the cursor of the next page, if any.
type Paging struct {
	Next *NextPage `json:"next,omitempty"`
}

// NextPage is the cursor for the following page.
type NextPage struct {
	After string `json:"after"`
	Link  string `json:"link,omitempty"`
}

// NextAfter returns the next cursor or "" when there is none.
func (p *Paging) NextAfter() string {
	if p == nil || p.Next == nil {
		return ""
	}
	return p.Next.After
}

// NextLink returns the next page link or "" when there is none.
func (p *Paging) NextLink() string {
	if p == nil || p.Next == nil {
		return ""
	}
	return p.Next.Link
}

// Owner is a CRM user able to own deals.
type Owner struct {
	ID        string       `json:"id"`
	Email     string       `json:"email"`
	FirstName string       `json:"firstName"`
	LastName  string       `json:"lastName"`
	UserID    *json.Number `json:"userId"`
	Archived  bool         `json:"archived"`
}

// Pipeline is a deal pipeline and its stages.
type Pipeline struct {
	ID     string  `json:"id"`
	Label  string  `json:"label"`
	Stages []Stage `json:"stages"`
}

// Stage is a single pipeline stage.
type Stage struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Filter is one search predicate.
type Filter struct {
	PropertyName string   `json:"propertyName"`
	Operator     string   `json:"operator"`
	Value        string   `json:"value,omitempty"`
	Values       []string `json:"values,omitempty"`
}

// FilterGroup ANDs its filters; groups are ORed.
type FilterGroup struct {
	Filters []Filter `json:"filters"`
}

// Sort orders search results.
type Sort struct {
	PropertyName string `json:"propertyName"`
	Direction    string `json:"direction"`
}

// SearchRequest is the body of a CRM search call.
type SearchRequest struct {
	FilterGroups []FilterGroup `json:"filterGroups"`
	Sorts        []Sort        `json:"sorts,omitempty"`
	Properties   []string      `json:"properties"`
	Limit        int           `json:"limit"`
	After        string        `json:"after,omitempty"`
}

// SearchResponse is one page of search results.
type SearchResponse struct {
	Total   int      `json:"total"`
	Results []Object `json:"results"`
	Paging  *Paging  `json:"paging,omitempty"`
}

type listResponse struct {
	Results []Object `json:"results"`
	Paging  *Paging  `json:"paging,omitempty"`
}

type ownerListResponse struct {
	Results []Owner `json:"results"`
	Paging  *Paging `json:"paging,omitempty"`
}

type pipelineListResponse struct {
	Results []Pipeline `json:"results"`
}

type v4Association struct {
	ToObjectID json.Number `json:"toObjectId"`
}

type v4AssociationResponse struct {
	Results []v4Association `json:"results"`
	Paging  *Paging         `json:"paging,omitempty"`
}

type batchReadInput struct {
	ID string `json:"id"`
}

type batchReadRequest struct {
	Properties []string         `json:"properties"`
	Inputs     []batchReadInput `json:"inputs"`
}

func distinct(ids []string) []string {
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
