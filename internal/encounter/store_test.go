package encounter

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cascadia-health/study-export/internal/model"
	"github.com/cascadia-health/study-export/pkg/geocode"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestToVisitDetails(t *testing.T) {
	doc := visitDocument{
		Complete:     true,
		Location:     "harborview",
		LocationType: "clinic",
		Language:     "en",
		Patient: &visitPatient{
			Name:      "Ada Lovelace",
			Gender:    "female",
			BirthDate: "1990-02-01",
			Address:   []geocode.AddressInfo{{Use: geocode.AddressUseHome}},
		},
		Consents: []visitConsent{{Date: "2026-08-30"}, {Date: "2026-08-29"}},
		Events: []model.EventInfo{
			{Kind: "appNav", RefID: "ConsentSigned", At: "2026-08-30T09:55:00Z"},
			{Kind: visitEventKind, At: "2026-08-30T10:00:00Z"},
		},
	}

	v := toVisitDetails(7, "csruid-a", doc)
	assert.Equal(t, int64(7), v.ID)
	assert.Equal(t, "csruid-a", v.Csruid)
	assert.Equal(t, "harborview", v.Site)
	assert.Equal(t, "clinic", v.SiteType)
	assert.True(t, v.HasPatient)
	assert.Equal(t, "2026-08-29", v.ConsentDate, "earliest consent wins")
	assert.Equal(t, "2026-08-30T10:00:00Z", v.StartTime, "start time comes from the visit event")
	assert.Len(t, v.Addresses, 1)
}

func TestToVisitDetails_NoEventsOrConsents(t *testing.T) {
	v := toVisitDetails(7, "csruid-a", visitDocument{})
	assert.Empty(t, v.StartTime)
	assert.Empty(t, v.ConsentDate)
}

func TestToVisitDetails_MissingPatientBlock(t *testing.T) {
	v := toVisitDetails(7, "csruid-a", visitDocument{Complete: true})
	assert.False(t, v.HasPatient)
	assert.Empty(t, v.FullName)
	assert.Empty(t, v.Addresses)
}

func TestToVisitDetails_NonVisitEventsDoNotSetStart(t *testing.T) {
	v := toVisitDetails(7, "csruid-a", visitDocument{
		Events: []model.EventInfo{{Kind: "appNav", At: "2026-08-30T09:55:00Z"}},
	})
	assert.Empty(t, v.StartTime)
}

func TestGetPendingVisits(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT v.id, v.csruid, v.visit").
		WithArgs(500).
		WillReturnRows(pgxmock.NewRows([]string{"id", "csruid", "visit"}).
			AddRow(int64(7), "csruid-a", visitDocument{Complete: true, Location: "harborview"}))

	store := NewStore(mock)
	visits, err := store.GetPendingVisits(context.Background(), 500)
	require.NoError(t, err)
	require.Len(t, visits, 1)
	assert.Equal(t, int64(7), visits[0].ID)
	assert.Equal(t, "harborview", visits[0].Site)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordUploads_Empty(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStore(mock)
	require.NoError(t, store.RecordUploads(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}
