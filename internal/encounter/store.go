// Package encounter exports completed visits as de-identified encounters to
// the research partner API.
package encounter

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/cascadia-health/study-export/internal/db"
	"github.com/cascadia-health/study-export/internal/model"
	"github.com/cascadia-health/study-export/pkg/geocode"
)

// visitDocument is the stored JSON shape of one visit record.
type visitDocument struct {
	Complete     bool                 `json:"complete"`
	IsDemo       bool                 `json:"isDemo"`
	Location     string               `json:"location,omitempty"`
	LocationType string               `json:"locationType,omitempty"`
	Language     string               `json:"language,omitempty"`
	Patient      *visitPatient        `json:"patient,omitempty"`
	Consents     []visitConsent       `json:"consents,omitempty"`
	Responses    []model.ResponseInfo `json:"responses,omitempty"`
	Samples      []model.SampleInfo   `json:"samples,omitempty"`
	Events       []model.EventInfo    `json:"events,omitempty"`
}

type visitPatient struct {
	Name      string                `json:"name,omitempty"`
	Gender    string                `json:"gender,omitempty"`
	BirthDate string                `json:"birthDate,omitempty"`
	Telecom   []model.TelecomInfo   `json:"telecom,omitempty"`
	Address   []geocode.AddressInfo `json:"address,omitempty"`
}

type visitConsent struct {
	Date string `json:"date"`
}

// visitEventKind marks the event recording when the visit itself began, as
// opposed to milestone events like barcode scans.
const visitEventKind = "visit"

// Store reads pending visits and records successful uploads. A visit stays
// pending until an upload row exists for it.
type Store struct {
	pool db.Pool
}

// NewStore creates a Store backed by the given pool.
func NewStore(pool db.Pool) *Store {
	return &Store{pool: pool}
}

// GetPendingVisits returns up to limit completed non-demo visits that have
// no recorded upload, in visit id order.
func (s *Store) GetPendingVisits(ctx context.Context, limit int) ([]model.VisitDetails, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT v.id, v.csruid, v.visit
		FROM visits v
		WHERE (v.visit->>'complete')::boolean = true
		AND (v.visit->>'isDemo')::boolean = false
		AND NOT EXISTS (SELECT 1 FROM encounter_uploads u WHERE u.visit_id = v.id)
		ORDER BY v.id
		LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "encounter: query pending visits")
	}
	defer rows.Close()

	var visits []model.VisitDetails
	for rows.Next() {
		var id int64
		var csruid string
		var doc visitDocument
		if err := rows.Scan(&id, &csruid, &doc); err != nil {
			return nil, eris.Wrap(err, "encounter: scan visit")
		}
		visits = append(visits, toVisitDetails(id, csruid, doc))
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "encounter: iterate visits")
	}
	return visits, nil
}

// toVisitDetails flattens the stored document into the pipeline view. The
// start time comes from the event marking the visit itself and the consent
// date is the earliest one on record.
func toVisitDetails(id int64, csruid string, doc visitDocument) model.VisitDetails {
	v := model.VisitDetails{
		ID:        id,
		Csruid:    csruid,
		Site:      doc.Location,
		SiteType:  doc.LocationType,
		Language:  doc.Language,
		Responses: doc.Responses,
		Samples:   doc.Samples,
		Events:    doc.Events,
	}
	if doc.Patient != nil {
		v.HasPatient = true
		v.FullName = doc.Patient.Name
		v.Gender = doc.Patient.Gender
		v.BirthDate = doc.Patient.BirthDate
		v.Addresses = doc.Patient.Address
	}
	for _, c := range doc.Consents {
		if v.ConsentDate == "" || c.Date < v.ConsentDate {
			v.ConsentDate = c.Date
		}
	}
	for _, e := range doc.Events {
		if e.Kind == visitEventKind {
			v.StartTime = e.At
			break
		}
	}
	return v
}

// RecordUploads marks visits as delivered. Recording happens only after the
// partner accepted the encounter, so a crash between upload and record
// re-sends rather than drops.
func (s *Store) RecordUploads(ctx context.Context, visitIDs []int64) error {
	if len(visitIDs) == 0 {
		return nil
	}

	now := time.Now().UTC()
	uploadRows := make([][]any, 0, len(visitIDs))
	for _, id := range visitIDs {
		uploadRows = append(uploadRows, []any{id, now})
	}
	_, err := db.CopyFrom(ctx, s.pool, "encounter_uploads",
		[]string{"visit_id", "uploaded_at"}, uploadRows,
	)
	return err
}
