package model

// SchemaVersion is the encounter wire format version expected by downstream
// analysis partners.
const SchemaVersion = 3

// LocationUse mirrors the address use of the location before it was
// de-identified.
type LocationUse string

const (
	LocationHome LocationUse = "Home"
	LocationWork LocationUse = "Work"
	LocationTemp LocationUse = "Temp"
)

// Location is a de-identified address: a keyed hash of the canonical street
// address plus, when resolvable, the census tract as region.
type Location struct {
	Use    LocationUse `json:"use"`
	ID     string      `json:"id"`
	Region string      `json:"region,omitempty"`
	City   string      `json:"city,omitempty"`
	State  string      `json:"state,omitempty"`
}

// SiteType categorizes where an encounter was administered.
type SiteType string

const (
	SiteClinic    SiteType = "clinic"
	SiteSelfTest  SiteType = "selfTest"
	SiteCommunity SiteType = "community"
)

// Site names the collection location of an encounter.
type Site struct {
	Type SiteType `json:"type,omitempty"`
	Name string   `json:"name"`
}

// AnswerType discriminates encounter answer variants.
type AnswerType string

const (
	AnswerString   AnswerType = "String"
	AnswerNumber   AnswerType = "Number"
	AnswerOptions  AnswerType = "Option"
	AnswerDeclined AnswerType = "Declined"
)

// Answer is a typed answer variant. ChosenOptions is set only for Option
// answers and carries every selected index for the question.
type Answer struct {
	Type          AnswerType `json:"type"`
	Value         string     `json:"value,omitempty"`
	Number        float64    `json:"number,omitempty"`
	ChosenOptions []int      `json:"chosenOptions,omitempty"`
}

// LocalText is a token/text pair for questions and options.
type LocalText struct {
	Token string `json:"token"`
	Text  string `json:"text"`
}

// Response pairs a question with one typed answer.
type Response struct {
	Question LocalText   `json:"question"`
	Options  []LocalText `json:"options,omitempty"`
	Answer   Answer      `json:"answer"`
}

// SampleType categorizes specimen provenance.
type SampleType string

const (
	SampleClinicSwab      SampleType = "ClinicSwab"
	SampleManualSelfSwab  SampleType = "ManualSelfSwab"
	SampleScannedSelfSwab SampleType = "ScannedSelfSwab"
	SampleStripPhoto      SampleType = "StripPhoto"
)

// SampleCode is a de-identified specimen reference.
type SampleCode struct {
	Type SampleType `json:"type"`
	Code string     `json:"code"`
}

// EventType categorizes encounter timeline events.
type EventType string

const (
	EventBarcodeScanned       EventType = "BarcodeScanned"
	EventConsentSigned        EventType = "ConsentSigned"
	EventStartedQuestionnaire EventType = "StartedQuestionnaire"
	EventSymptomsScreened     EventType = "SymptomsScreened"
)

// Event is a timestamped milestone in the encounter.
type Event struct {
	Time      string    `json:"time"`
	EventType EventType `json:"eventType"`
}

// Age reports participant age with ages 90 and above suppressed.
type Age struct {
	Value         int  `json:"value,omitempty"`
	NinetyOrAbove bool `json:"ninetyOrAbove"`
}

// Encounter is the de-identified external representation of a visit.
type Encounter struct {
	SchemaVersion      int          `json:"schemaVersion"`
	ID                 string       `json:"id"`
	Participant        string       `json:"participant"`
	Revision           string       `json:"revision"`
	LocaleLanguageCode string       `json:"localeLanguageCode"`
	StartTimestamp     string       `json:"startTimestamp"`
	Site               *Site        `json:"site,omitempty"`
	Locations          []Location   `json:"locations"`
	SampleCodes        []SampleCode `json:"sampleCodes"`
	Responses          []Response   `json:"responses"`
	Events             []Event      `json:"events,omitempty"`
	Age                *Age         `json:"age,omitempty"`
}
