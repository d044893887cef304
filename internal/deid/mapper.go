package deid

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/cascadia-health/study-export/internal/model"
	"github.com/cascadia-health/study-export/pkg/geocode"
)

// ageCapYears is the age at and above which the exact value is suppressed.
const ageCapYears = 90

var sampleTypes = map[string]model.SampleType{
	"manualEntry":     model.SampleManualSelfSwab,
	"org.iso.Code128": model.SampleScannedSelfSwab,
	"PhotoGuide":      model.SampleStripPhoto,
	"ClinicSwab":      model.SampleClinicSwab,
}

var eventTypes = map[string]model.EventType{
	"BarcodeScanned":       model.EventBarcodeScanned,
	"ConsentSigned":        model.EventConsentSigned,
	"StartedQuestionnaire": model.EventStartedQuestionnaire,
	"SymptomsScreened":     model.EventSymptomsScreened,
}

// Mapper builds de-identified encounters from scrubbed visit material.
type Mapper struct {
	scrubber *Scrubber
	revision string
}

// NewMapper creates a Mapper stamping encounters with the given pipeline
// revision.
func NewMapper(scrubber *Scrubber, revision string) *Mapper {
	return &Mapper{scrubber: scrubber, revision: revision}
}

// MapEncounter converts one visit and its geocoding results into the wire
// encounter. It returns an error for structurally unusable records, which
// the caller treats as malformed.
func (m *Mapper) MapEncounter(v model.VisitDetails, geocoded []geocode.Response) (*model.Encounter, error) {
	if !v.HasPatient {
		// Without the patient block there is nothing to de-identify and the
		// participant hash would collapse onto a constant.
		return nil, eris.New("deid: record has no patient info block")
	}

	locations, err := m.scrubber.ScrubLocations(v, geocoded)
	if err != nil {
		return nil, err
	}

	start := v.StartTime
	if start == "" {
		start = v.ConsentDate
	}
	if start == "" {
		return nil, eris.New("deid: record has neither start time nor consent date")
	}

	responses, err := mapResponses(v.Responses)
	if err != nil {
		return nil, err
	}

	enc := &model.Encounter{
		SchemaVersion:      model.SchemaVersion,
		ID:                 ObscureCsruid(v.Csruid),
		Participant:        m.scrubber.ParticipantID(v, geocoded),
		Revision:           m.revision,
		LocaleLanguageCode: v.Language,
		StartTimestamp:     start,
		Locations:          locations,
		SampleCodes:        mapSamples(v.Samples),
		Responses:          responses,
		Events:             mapEvents(v.Events),
		Age:                mapAge(v.BirthDate, start),
	}
	if v.Site != "" {
		enc.Site = &model.Site{Type: model.SiteType(v.SiteType), Name: v.Site}
	}
	return enc, nil
}

// mapResponses flattens questionnaire pages into typed wire responses.
func mapResponses(pages []model.ResponseInfo) ([]model.Response, error) {
	var out []model.Response
	for _, page := range pages {
		for _, q := range page.Item {
			if len(q.Answer) == 0 {
				continue
			}
			resp := model.Response{
				Question: model.LocalText{Token: q.ID, Text: q.Text},
			}
			for _, opt := range q.AnswerOptions {
				resp.Options = append(resp.Options, model.LocalText{Token: opt.ID, Text: opt.Text})
			}

			answer, err := mapAnswers(q)
			if err != nil {
				return nil, err
			}
			resp.Answer = answer
			out = append(out, resp)
		}
	}
	return out, nil
}

// mapAnswers folds the raw answer entries of one question into a single
// typed answer. Multiple option selections accumulate into ChosenOptions;
// any other mixing of variants is rejected.
func mapAnswers(q model.QuestionInfo) (model.Answer, error) {
	var answer model.Answer
	for _, a := range q.Answer {
		switch {
		case a.ValueDeclined != nil && *a.ValueDeclined:
			return model.Answer{Type: model.AnswerDeclined}, nil
		case a.ValueString != nil:
			answer = model.Answer{Type: model.AnswerString, Value: *a.ValueString}
		case a.ValueDateTime != nil:
			answer = model.Answer{Type: model.AnswerString, Value: *a.ValueDateTime}
		case a.ValueInteger != nil:
			answer = model.Answer{Type: model.AnswerNumber, Number: float64(*a.ValueInteger)}
		case a.ValueDecimal != nil:
			answer = model.Answer{Type: model.AnswerNumber, Number: *a.ValueDecimal}
		case a.ValueIndex != nil:
			answer.Type = model.AnswerOptions
			answer.ChosenOptions = append(answer.ChosenOptions, *a.ValueIndex)
		case a.ValueOther != nil:
			answer.Type = model.AnswerOptions
			answer.ChosenOptions = append(answer.ChosenOptions, a.ValueOther.SelectedIndex)
		case a.ValueBoolean != nil:
			return model.Answer{}, eris.Errorf("deid: question %q has unsupported boolean answer", q.ID)
		case a.ValueAddress != nil:
			// Addresses are scrubbed into locations and never pass through
			// as free-form answers.
			return model.Answer{}, eris.Errorf("deid: question %q has identifying address answer", q.ID)
		}
	}
	if answer.Type == "" {
		return model.Answer{}, eris.Errorf("deid: question %q has no usable answer value", q.ID)
	}
	return answer, nil
}

func mapSamples(samples []model.SampleInfo) []model.SampleCode {
	out := make([]model.SampleCode, 0, len(samples))
	for _, s := range samples {
		t, ok := sampleTypes[s.SampleType]
		if !ok {
			t = model.SampleType(s.SampleType)
		}
		out = append(out, model.SampleCode{Type: t, Code: s.Code})
	}
	return out
}

// mapEvents keeps only milestone events known to the wire schema.
func mapEvents(events []model.EventInfo) []model.Event {
	var out []model.Event
	for _, e := range events {
		t, ok := eventTypes[e.RefID]
		if !ok {
			continue
		}
		out = append(out, model.Event{Time: e.At, EventType: t})
	}
	return out
}

// mapAge computes age in whole years at the encounter start. Ages at or
// above the cap report only the NinetyOrAbove flag.
func mapAge(birthDate, start string) *model.Age {
	if birthDate == "" {
		return nil
	}
	born, err := time.Parse("2006-01-02", birthDate)
	if err != nil {
		return nil
	}

	at, err := time.Parse(time.RFC3339, start)
	if err != nil {
		if at, err = time.Parse("2006-01-02", start); err != nil {
			return nil
		}
	}
	if at.Before(born) {
		return nil
	}

	years := at.Year() - born.Year()
	if at.YearDay() < born.YearDay() {
		years--
	}
	if years >= ageCapYears {
		return &model.Age{NinetyOrAbove: true}
	}
	return &model.Age{Value: years}
}
