// ABOUTME: Warehouse row models for exported CRM deals and their related entities
// ABOUTME: Defines Deal, Company, Owner, Collaborator, LineItem, and SyncStatus structs
package models

import (
	"database/sql"
	"time"
)

// Deal is one row of the deals table. Snapshot columns (owner, company, stage,
// leads) are denormalized copies refreshed on every upsert.
type Deal struct {
	DealID   string
	DealName sql.NullString

	OwnerJSON  string
	OwnerID    sql.NullString
	OwnerEmail sql.NullString
	OwnerName  sql.NullString

	DeliveryLeadID    sql.NullString
	DeliveryLeadEmail sql.NullString
	DeliveryLeadName  sql.NullString
	SolutionLeadID    sql.NullString
	SolutionLeadEmail sql.NullString
	SolutionLeadName  sql.NullString

	StageID    sql.NullString
	StageName  sql.NullString
	PipelineID sql.NullString

	CompanyID        sql.NullString
	CompanyName      sql.NullString
	CompanyDomain    sql.NullString
	CompanyAssocJSON string

	CollaboratorsJSON string

	ProjectStartDate sql.NullTime
	ProjectCloseDate sql.NullTime
	DurationInMonths sql.NullFloat64
	Amount           sql.NullFloat64
	EngagementType   sql.NullString
	DealType         sql.NullString
	NSProjectID      sql.NullString
	WorkAhead        sql.NullString

	CreatedOn              sql.NullTime
	UpdatedOn              sql.NullTime
	SpecialFieldsUpdatedOn time.Time
	LastRefreshedOn        time.Time
	IsArchived             bool
}

// Company is one row of the companies table.
type Company struct {
	CompanyID string
	Name      sql.NullString
	Domain    sql.NullString
}

// Owner is one row of the owners table. Deal owners, collaborators, and
// delivery/solution leads all resolve to owners.
type Owner struct {
	OwnerID    string
	Name       sql.NullString
	Email      sql.NullString
	IsArchived bool
}

// Collaborator is an edge between a deal and an owner.
type Collaborator struct {
	DealID      string
	OwnerID     string
	LastUpdated time.Time
}

// LineItem is one row of the line items table.
type LineItem struct {
	LineItemID string
	DealID     string
	Name       sql.NullString
	Price      sql.NullFloat64
	Quantity   sql.NullFloat64
	Amount     sql.NullFloat64
	CreatedOn  sql.NullTime
	UpdatedOn  sql.NullTime
}

// SyncStatus is the persisted coordination record for one entity type.
type SyncStatus struct {
	EntityName     string
	SyncStatus     string
	LastUpdatedOn  *time.Time
	UpdatedBy      string
	UpdateEvent    string
	LastSyncStatus string
	LastFailedOn   *time.Time
	RunID          string
	LeaseExpiresAt *time.Time
}

// InProgress reports whether a run holds an unexpired lease at now.
func (s *SyncStatus) InProgress(now time.Time) bool {
	if s == nil || s.SyncStatus != StatusProcessing {
		return false
	}
	return s.LeaseExpiresAt == nil || s.LeaseExpiresAt.After(now)
}

// Outcome is what an invocation records into the sync status when it ends.
// Watermark, when set, advances the last successful sync timestamp.
type Outcome struct {
	Event     string
	Success   bool
	At        time.Time
	Watermark *time.Time
}

// Sync status values. Finished runs return to IDLE; COMPLETED is only read,
// from rows left by earlier exporters, and is claimable like IDLE.
const (
	StatusIdle       = "IDLE"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
)

// Sync outcome values.
const (
	OutcomeSuccess = "SUCCESS"
	OutcomeFailed  = "FAILED"
)

// Entity names used as sync status keys.
const (
	EntityDeals = "DEALS"
)

// UpdatedBySystem is recorded as the actor for every automated status write.
const UpdatedBySystem = "System"

// Event names accepted by the dispatcher and recorded as update events.
const (
	EventScheduleFetch    = "SCHEDULE_FETCH"
	EventSingleDealUpdate = "SINGLE_DEAL_UPDATE"
	EventBulkDealsUpdate  = "BULK_DEALS_UPDATE"
	EventBackFillFetch    = "BACK_FILL_FETCH"
	EventManualSync       = "MANUAL_SYNC"
	EventHubSpotWebhook   = "HUBSPOT_WEBHOOK"
	EventDealAPI          = "DEAL_API_SYNC"
)
