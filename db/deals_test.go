package db

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/BLEND360/hubspot-deals-export/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func str(s string) sql.NullString { return sql.NullString{String: s, Valid: true} }

func num(f float64) sql.NullFloat64 { return sql.NullFloat64{Float64: f, Valid: true} }

func ts(t time.Time) sql.NullTime { return sql.NullTime{Time: t, Valid: true} }

func sampleDeal(id string) *models.Deal {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &models.Deal{
		DealID:                 id,
		DealName:               str("Migration project"),
		OwnerJSON:              `{"id":"O1"}`,
		OwnerID:                str("O1"),
		OwnerEmail:             str("jane.doe@x.com"),
		OwnerName:              str("Jane Doe"),
		StageID:                str("S1"),
		StageName:              str("Qualified"),
		PipelineID:             str("74948272"),
		CompanyID:              str("C1"),
		CompanyName:            str("Acme-Corp"),
		CompanyDomain:          str("acme-corp.com"),
		CompanyAssocJSON:       `[{"id":"C1"}]`,
		ProjectStartDate:       ts(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)),
		DurationInMonths:       num(6),
		Amount:                 num(1000),
		EngagementType:         str("Fixed"),
		WorkAhead:              str("No"),
		CreatedOn:              ts(at.Add(-48 * time.Hour)),
		UpdatedOn:              ts(at.Add(-time.Hour)),
		SpecialFieldsUpdatedOn: at,
		LastRefreshedOn:        at,
	}
}

func TestUpsertDealInsertsAndUpdates(t *testing.T) {
	w := setupTestDB(t)
	ctx := context.Background()

	deal := sampleDeal("D1")
	require.NoError(t, UpsertDeal(ctx, w, deal))

	got, err := GetDeal(ctx, w, "D1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Migration project", got.DealName.String)
	assert.Equal(t, "Acme-Corp", got.CompanyName.String)
	assert.Equal(t, 1000.0, got.Amount.Float64)
	assert.Equal(t, `[{"id":"C1"}]`, got.CompanyAssocJSON)
	assert.Equal(t, "", got.CollaboratorsJSON)
	assert.False(t, got.DeliveryLeadID.Valid)
	assert.True(t, deal.SpecialFieldsUpdatedOn.Equal(got.SpecialFieldsUpdatedOn))

	deal.StageName = str("Won")
	deal.IsArchived = true
	require.NoError(t, UpsertDeal(ctx, w, deal))

	got, err = GetDeal(ctx, w, "D1")
	require.NoError(t, err)
	assert.Equal(t, "Won", got.StageName.String)
	assert.True(t, got.IsArchived)

	n, err := CountDeals(ctx, w)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUpsertDealKeepsEmbeddedQuotes(t *testing.T) {
	w := setupTestDB(t)
	ctx := context.Background()

	deal := sampleDeal("D1")
	deal.DealName = str("O'Brien's 'phase 2'")
	require.NoError(t, UpsertDeal(ctx, w, deal))

	got, err := GetDeal(ctx, w, "D1")
	require.NoError(t, err)
	assert.Equal(t, "O'Brien's 'phase 2'", got.DealName.String)
}

func TestGetDealMissing(t *testing.T) {
	w := setupTestDB(t)

	got, err := GetDeal(context.Background(), w, "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSpecialFields(t *testing.T) {
	w := setupTestDB(t)
	ctx := context.Background()

	sf, err := GetSpecialFields(ctx, w, "D1")
	require.NoError(t, err)
	assert.Nil(t, sf)

	require.NoError(t, UpsertDeal(ctx, w, sampleDeal("D1")))
	require.NoError(t, UpsertDeal(ctx, w, sampleDeal("D2")))

	sf, err = GetSpecialFields(ctx, w, "D1")
	require.NoError(t, err)
	require.NotNil(t, sf)
	assert.Equal(t, "S1", sf.StageID.String)
	assert.Equal(t, 1000.0, sf.Amount.Float64)
	assert.Equal(t, 6.0, sf.DurationInMonths.Float64)
	assert.Equal(t, "2026-04-01", sf.ProjectStartDate.Time.Format("2006-01-02"))
	assert.True(t, sf.UpdatedOn.Valid)

	all, err := LoadSpecialFields(ctx, w, []string{"D1", "D2", "D3"})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Contains(t, all, "D2")
}

func TestCompanyAndOwnerUpserts(t *testing.T) {
	w := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, UpsertCompany(ctx, w, &models.Company{CompanyID: "C1", Name: str("Acme"), Domain: str("acme.com")}))
	require.NoError(t, UpsertCompany(ctx, w, &models.Company{CompanyID: "C1", Name: str("Acme Inc"), Domain: str("acme.com")}))

	c, err := GetCompany(ctx, w, "C1")
	require.NoError(t, err)
	assert.Equal(t, "Acme Inc", c.Name.String)

	require.NoError(t, UpsertOwner(ctx, w, &models.Owner{OwnerID: "O1", Name: str("Jane Doe"), Email: str("jane.doe@x.com")}))
	require.NoError(t, UpsertOwner(ctx, w, &models.Owner{OwnerID: "O1", Name: str("Jane Doe"), Email: str("jane.doe@x.com"), IsArchived: true}))

	o, err := GetOwner(ctx, w, "O1")
	require.NoError(t, err)
	assert.True(t, o.IsArchived)

	missing, err := GetOwner(ctx, w, "O2")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
