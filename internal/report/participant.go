// Package report builds per-batch participant CSV reports for fulfillment
// vendors and delivers them to a configured sink.
package report

import (
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/cascadia-health/study-export/internal/batch"
	"github.com/cascadia-health/study-export/internal/deid"
	"github.com/cascadia-health/study-export/internal/model"
	"github.com/cascadia-health/study-export/pkg/geocode"
)

// Participant is one row of a fulfillment report. These reports carry
// mailing identity on purpose; only the record key is obscured. The
// address fields are filled from the geocoder's standardized form when the
// artifact is built.
type Participant struct {
	FirstName  string
	LastName   string
	Address1   string
	Address2   string
	City       string
	State      string
	Zip        string
	Email      string
	Timestamp  string
	WorkflowID string
	SystemID   string

	home geocode.AddressInfo
}

// csvHeader is the fixed column order vendors ingest.
var csvHeader = []string{
	"First Name", "Last Name", "Address 1", "Address 2", "City", "State",
	"Zip", "Email", "Timestamp", "Workflow ID", "System ID",
}

func (p Participant) record() []string {
	return []string{
		p.FirstName, p.LastName, p.Address1, p.Address2, p.City, p.State,
		p.Zip, p.Email, p.Timestamp, p.WorkflowID, p.SystemID,
	}
}

// mapParticipant extracts the mailing row for one tracked item.
func mapParticipant(item batch.Item, doc model.SurveyDocument, timestamp *string) (Participant, error) {
	if doc.Patient == nil {
		return Participant{}, eris.New("report: survey has no patient record")
	}
	if timestamp == nil || *timestamp == "" {
		return Participant{}, eris.New("report: survey has no completion timestamp")
	}

	p := Participant{
		FirstName:  doc.Patient.FirstName,
		LastName:   doc.Patient.LastName,
		Timestamp:  *timestamp,
		WorkflowID: strconv.Itoa(item.ID),
		SystemID:   deid.ObscureCsruid(item.CSRUID),
	}

	found := false
	for _, a := range doc.Patient.Address {
		if a.Use == geocode.AddressUseHome {
			p.home = a
			found = true
			break
		}
	}
	if !found {
		return Participant{}, eris.New("report: survey has no home address")
	}

	for _, t := range doc.Patient.Telecom {
		if t.System == model.TelecomEmail {
			p.Email = t.Value
			break
		}
	}
	return p, nil
}
