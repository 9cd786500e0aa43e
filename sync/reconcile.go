// ABOUTME: Field reconciler turning a CRM deal payload into a warehouse row
// ABOUTME: Coerces blank values to NULL, builds JSON snapshots, and decides the special-fields timestamp
package sync

import (
	"database/sql"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/BLEND360/hubspot-deals-export/config"
	"github.com/BLEND360/hubspot-deals-export/db"
	"github.com/BLEND360/hubspot-deals-export/hubspot"
	"github.com/BLEND360/hubspot-deals-export/models"
)

// Resolved holds everything the reconciler snapshots into a deal row.
type Resolved struct {
	Owner         *models.Owner
	DeliveryLead  *models.Owner
	SolutionLead  *models.Owner
	Collaborators []models.Owner
	Company       *CompanyResult
	StageName     sql.NullString
}

// BuildDeal maps a deal payload and its resolved references to a row. The
// special-fields timestamp is left zero for SpecialFieldsUpdatedOn to fill.
func BuildDeal(obj *hubspot.Object, r Resolved, now time.Time) *models.Deal {
	p := obj.Properties
	d := &models.Deal{
		DealID:     obj.ID,
		DealName:   nullString(p.Get(hubspot.PropDealName)),
		OwnerID:    nullString(p.Get(hubspot.PropOwnerID)),
		StageID:    nullString(p.Get(hubspot.PropDealStage)),
		StageName:  r.StageName,
		PipelineID: nullString(p.Get(hubspot.PropPipeline)),

		ProjectStartDate: parseTime(p.Get(hubspot.PropProjectStartDate)),
		ProjectCloseDate: parseTime(p.Get(hubspot.PropCloseDate)),
		DurationInMonths: parseFloat(p.Get(hubspot.PropDurationInMonths)),
		Amount:           parseFloat(p.Get(hubspot.PropAmountHomeCurrency)),
		EngagementType:   nullString(p.Get(hubspot.PropEngagementType)),
		DealType:         nullString(p.Get(hubspot.PropDealType)),
		NSProjectID:      nullString(p.Get(hubspot.PropNSProjectID)),
		WorkAhead:        nullString(WorkAhead(p.Get(hubspot.PropWorkAhead))),

		CreatedOn:       firstTime(p.Get(hubspot.PropCreateDate), p.Get(hubspot.PropSearchCreateDate), obj.CreatedAt),
		UpdatedOn:       firstTime(obj.UpdatedAt, p.Get(hubspot.PropLastModified)),
		LastRefreshedOn: now,
		IsArchived:      obj.Archived,
	}

	d.OwnerJSON = ownerJSON(r.Owner)
	if r.Owner != nil {
		d.OwnerEmail = r.Owner.Email
		d.OwnerName = r.Owner.Name
	}
	if o := r.DeliveryLead; o != nil {
		d.DeliveryLeadID, d.DeliveryLeadEmail, d.DeliveryLeadName = nullString(o.OwnerID), o.Email, o.Name
	}
	if o := r.SolutionLead; o != nil {
		d.SolutionLeadID, d.SolutionLeadEmail, d.SolutionLeadName = nullString(o.OwnerID), o.Email, o.Name
	}
	if c := r.Company; c != nil && c.Company != nil {
		d.CompanyID = nullString(c.Company.CompanyID)
		d.CompanyName = c.Company.Name
		d.CompanyDomain = c.Company.Domain
		d.CompanyAssocJSON = companyAssocJSON(c.Associations)
	}
	d.CollaboratorsJSON = collaboratorsJSON(r.Collaborators)
	return d
}

// SpecialFieldsPolicy decides the special-fields timestamp of a deal.
type SpecialFieldsPolicy struct {
	Mode string
}

// UpdatedOn returns the timestamp to store. Unchanged special fields carry the
// stored timestamp forward; changed ones (or a first write) take now, or the
// deal's upstream modification time in upstream-modified mode. In that mode a
// changed line item set also moves the timestamp to now.
func (p SpecialFieldsPolicy) UpdatedOn(stored *db.SpecialFields, d *models.Deal, lineItemsChanged bool, now time.Time) time.Time {
	upstream := p.Mode == config.SpecialFieldsUpstreamModified

	if stored != nil && stored.UpdatedOn.Valid && SpecialFieldsEqual(stored, d) {
		if upstream && lineItemsChanged {
			return now
		}
		return stored.UpdatedOn.Time
	}
	if upstream && !lineItemsChanged && d.UpdatedOn.Valid {
		return d.UpdatedOn.Time
	}
	return now
}

// SpecialFieldsEqual compares stage, amount, engagement type, start date, and
// duration of a stored row and an incoming deal.
func SpecialFieldsEqual(stored *db.SpecialFields, d *models.Deal) bool {
	return stored.StageID.String == d.StageID.String &&
		truncAmount(stored.Amount) == truncAmount(d.Amount) &&
		stored.EngagementType.String == d.EngagementType.String &&
		dateOnly(stored.ProjectStartDate) == dateOnly(d.ProjectStartDate) &&
		sameFloat(stored.DurationInMonths, d.DurationInMonths)
}

// truncAmount compares amounts by their integer part, so "1000.00" and
// "1000" are equal. Blank and malformed values count as zero.
func truncAmount(v sql.NullFloat64) int64 {
	if !v.Valid {
		return 0
	}
	return int64(math.Trunc(v.Float64))
}

func dateOnly(t sql.NullTime) string {
	if !t.Valid {
		return ""
	}
	return t.Time.UTC().Format(time.DateOnly)
}

func sameFloat(a, b sql.NullFloat64) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || a.Float64 == b.Float64
}

// WorkAhead collapses the "No" and "blank" sentinels to "No". Blank input
// stays blank so the column is stored as NULL.
func WorkAhead(v string) string {
	v = strings.TrimSpace(v)
	if v == "blank" {
		return "No"
	}
	return v
}

type ownerSnapshot struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	IsArchived bool   `json:"is_archived"`
}

func snapshotOf(o *models.Owner) ownerSnapshot {
	return ownerSnapshot{ID: o.OwnerID, Name: o.Name.String, Email: o.Email.String, IsArchived: o.IsArchived}
}

type companyRef struct {
	ID string `json:"id"`
}

func ownerJSON(o *models.Owner) string {
	if o == nil {
		return ""
	}
	return marshalSnapshot(snapshotOf(o))
}

func collaboratorsJSON(owners []models.Owner) string {
	if len(owners) == 0 {
		return ""
	}
	snaps := make([]ownerSnapshot, len(owners))
	for i := range owners {
		snaps[i] = snapshotOf(&owners[i])
	}
	return marshalSnapshot(snaps)
}

func companyAssocJSON(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	refs := make([]companyRef, len(ids))
	for i, id := range ids {
		refs[i] = companyRef{ID: id}
	}
	return marshalSnapshot(refs)
}

// marshalSnapshot encodes v; the snapshot types above always encode.
func marshalSnapshot(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}

func parseFloat(s string) sql.NullFloat64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullFloat64{}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: f, Valid: true}
}

// parseTime accepts RFC 3339 timestamps, plain dates, and epoch milliseconds.
func parseTime(s string) sql.NullTime {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullTime{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.DateOnly, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return sql.NullTime{Time: t.UTC(), Valid: true}
		}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return sql.NullTime{Time: time.UnixMilli(ms).UTC(), Valid: true}
	}
	return sql.NullTime{}
}

func firstTime(values ...string) sql.NullTime {
	for _, v := range values {
		if t := parseTime(v); t.Valid {
			return t
		}
	}
	return sql.NullTime{}
}
