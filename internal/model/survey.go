// Package model defines the survey documents stored in Postgres and the
// de-identified encounter representation sent to external partners.
package model

import (
	"github.com/cascadia-health/study-export/pkg/geocode"
)

// TelecomSystem identifies a contact channel on a patient record.
type TelecomSystem string

const (
	TelecomEmail TelecomSystem = "email"
	TelecomPhone TelecomSystem = "phone"
)

// TelecomInfo is a single contact entry for a patient.
type TelecomInfo struct {
	System TelecomSystem `json:"system"`
	Value  string        `json:"value"`
}

// PatientInfo holds the identifying portion of a survey document.
type PatientInfo struct {
	FirstName string                `json:"firstName,omitempty"`
	LastName  string                `json:"lastName,omitempty"`
	FullName  string                `json:"fullName,omitempty"`
	Gender    string                `json:"gender,omitempty"`
	BirthDate string                `json:"birthDate,omitempty"` // YYYY-MM-DD
	Telecom   []TelecomInfo         `json:"telecom,omitempty"`
	Address   []geocode.AddressInfo `json:"address,omitempty"`
}

// WorkflowInfo records survey lifecycle timestamps. A nil timestamp means the
// corresponding step has not completed.
type WorkflowInfo struct {
	ScreeningCompletedAt *string `json:"screeningCompletedAt,omitempty"`
	SurveyCompletedAt    *string `json:"surveyCompletedAt,omitempty"`
}

// OtherValue is a selected option outside the fixed answer set.
type OtherValue struct {
	SelectedIndex int    `json:"selectedIndex"`
	ValueString   string `json:"valueString,omitempty"`
}

// AnswerInfo is a single raw answer value. Exactly one field is expected to
// be set.
type AnswerInfo struct {
	ValueBoolean  *bool                `json:"valueBoolean,omitempty"`
	ValueDateTime *string              `json:"valueDateTime,omitempty"`
	ValueDecimal  *float64             `json:"valueDecimal,omitempty"`
	ValueInteger  *int                 `json:"valueInteger,omitempty"`
	ValueString   *string              `json:"valueString,omitempty"`
	ValueIndex    *int                 `json:"valueIndex,omitempty"`
	ValueOther    *OtherValue          `json:"valueOther,omitempty"`
	ValueDeclined *bool                `json:"valueDeclined,omitempty"`
	ValueAddress  *geocode.AddressInfo `json:"valueAddress,omitempty"`
}

// AnswerOption is one entry in a question's fixed option set.
type AnswerOption struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// QuestionInfo is a question with its options and recorded answers.
type QuestionInfo struct {
	ID            string         `json:"id"`
	Text          string         `json:"text"`
	AnswerOptions []AnswerOption `json:"answerOptions,omitempty"`
	Answer        []AnswerInfo   `json:"answer,omitempty"`
}

// ResponseInfo groups the questions answered on one questionnaire page.
type ResponseInfo struct {
	ID   string         `json:"id"`
	Item []QuestionInfo `json:"item"`
}

// SampleInfo describes a collected specimen.
type SampleInfo struct {
	SampleType string `json:"sample_type"`
	Code       string `json:"code"`
}

// EventInfo is a timestamped app navigation event.
type EventInfo struct {
	Kind  string `json:"kind,omitempty"`
	RefID string `json:"refId"`
	At    string `json:"at"`
}

// SurveyDocument is the full JSON payload of a survey record.
type SurveyDocument struct {
	IsDemo    bool           `json:"isDemo"`
	Patient   *PatientInfo   `json:"patient,omitempty"`
	Workflow  WorkflowInfo   `json:"workflow"`
	Responses []ResponseInfo `json:"responses,omitempty"`
	Samples   []SampleInfo   `json:"samples,omitempty"`
	Events    []EventInfo    `json:"events,omitempty"`
}

// VisitDetails is the PII view of one completed visit used by the encounter
// pipeline. HasPatient records whether the stored document carried a patient
// info block at all; records without one are unusable.
type VisitDetails struct {
	ID          int64
	Csruid      string
	ConsentDate string // YYYY-MM-DD
	StartTime   string // RFC 3339
	Site        string
	SiteType    string
	Language    string
	HasPatient  bool
	FirstName   string
	LastName    string
	FullName    string
	Gender      string
	BirthDate   string // YYYY-MM-DD
	Addresses   []geocode.AddressInfo
	Responses   []ResponseInfo
	Samples     []SampleInfo
	Events      []EventInfo
}
