package deid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadia-health/study-export/internal/model"
	"github.com/cascadia-health/study-export/pkg/geocode"
)

func strptr(s string) *string { return &s }
func intptr(i int) *int       { return &i }
func boolptr(b bool) *bool    { return &b }

func testMapper() *Mapper {
	return NewMapper(testScrubber(), "rev-42")
}

func baseVisit() model.VisitDetails {
	return model.VisitDetails{
		ID:         1,
		Csruid:     "abcdefghijklmnopqrstuvwxyz",
		HasPatient: true,
		FullName:   "Ada Lovelace",
		Gender:     "female",
		BirthDate:  "1990-02-01",
		Language:   "en",
		StartTime:  "2026-08-30T10:00:00Z",
		Site:       "harborview",
		SiteType:   "clinic",
	}
}

func TestMapEncounter(t *testing.T) {
	visit := baseVisit()
	visit.Addresses = []geocode.AddressInfo{{Use: geocode.AddressUseHome, Lines: []string{"123 Main St"}}}
	visit.Samples = []model.SampleInfo{{SampleType: "manualEntry", Code: "BARCODE1"}}
	visit.Events = []model.EventInfo{
		{RefID: "ConsentSigned", At: "2026-08-30T09:55:00Z"},
		{RefID: "AppNavigation", At: "2026-08-30T09:56:00Z"},
	}

	enc, err := testMapper().MapEncounter(visit, nil)
	require.NoError(t, err)

	assert.Equal(t, model.SchemaVersion, enc.SchemaVersion)
	assert.Equal(t, "abcdefghijklmnopqrstu", enc.ID)
	assert.Equal(t, "rev-42", enc.Revision)
	assert.Equal(t, "en", enc.LocaleLanguageCode)
	assert.Equal(t, "2026-08-30T10:00:00Z", enc.StartTimestamp)
	require.NotNil(t, enc.Site)
	assert.Equal(t, model.SiteClinic, enc.Site.Type)
	assert.Equal(t, "harborview", enc.Site.Name)
	require.Len(t, enc.SampleCodes, 1)
	assert.Equal(t, model.SampleManualSelfSwab, enc.SampleCodes[0].Type)
	require.Len(t, enc.Events, 1, "unknown event refs are dropped")
	assert.Equal(t, model.EventConsentSigned, enc.Events[0].EventType)
	require.NotNil(t, enc.Age)
	assert.Equal(t, 36, enc.Age.Value)
	assert.NotEmpty(t, enc.Participant)
	assert.NotContains(t, enc.Participant, "Ada")
}

func TestMapEncounter_NoPatientBlockIsMalformed(t *testing.T) {
	// Two distinct visits without a patient block would otherwise both hash
	// to the same constant participant id.
	first := model.VisitDetails{ID: 1, Csruid: "aaaaaaaaaaaaaaaaaaaaaaaaaa", StartTime: "2026-08-30T10:00:00Z"}
	second := model.VisitDetails{ID: 2, Csruid: "bbbbbbbbbbbbbbbbbbbbbbbbbb", StartTime: "2026-08-30T11:00:00Z"}

	_, err := testMapper().MapEncounter(first, nil)
	require.Error(t, err)
	_, err = testMapper().MapEncounter(second, nil)
	require.Error(t, err)
}

func TestMapEncounter_StartFallsBackToConsentDate(t *testing.T) {
	visit := baseVisit()
	visit.StartTime = ""
	visit.ConsentDate = "2026-08-29"

	enc, err := testMapper().MapEncounter(visit, nil)
	require.NoError(t, err)
	assert.Equal(t, "2026-08-29", enc.StartTimestamp)
}

func TestMapEncounter_NoTimestampIsMalformed(t *testing.T) {
	visit := baseVisit()
	visit.StartTime = ""
	visit.ConsentDate = ""

	_, err := testMapper().MapEncounter(visit, nil)
	require.Error(t, err)
}

func TestMapAnswers_OptionAccumulation(t *testing.T) {
	q := model.QuestionInfo{
		ID: "symptoms",
		Answer: []model.AnswerInfo{
			{ValueIndex: intptr(0)},
			{ValueIndex: intptr(2)},
			{ValueOther: &model.OtherValue{SelectedIndex: 5}},
		},
	}

	answer, err := mapAnswers(q)
	require.NoError(t, err)
	assert.Equal(t, model.AnswerOptions, answer.Type)
	assert.Equal(t, []int{0, 2, 5}, answer.ChosenOptions)
}

func TestMapAnswers_Declined(t *testing.T) {
	q := model.QuestionInfo{
		ID: "income",
		Answer: []model.AnswerInfo{
			{ValueIndex: intptr(1)},
			{ValueDeclined: boolptr(true)},
		},
	}

	answer, err := mapAnswers(q)
	require.NoError(t, err)
	assert.Equal(t, model.AnswerDeclined, answer.Type)
	assert.Empty(t, answer.ChosenOptions)
}

func TestMapAnswers_Variants(t *testing.T) {
	str, err := mapAnswers(model.QuestionInfo{ID: "q", Answer: []model.AnswerInfo{{ValueString: strptr("yes")}}})
	require.NoError(t, err)
	assert.Equal(t, model.Answer{Type: model.AnswerString, Value: "yes"}, str)

	num, err := mapAnswers(model.QuestionInfo{ID: "q", Answer: []model.AnswerInfo{{ValueInteger: intptr(3)}}})
	require.NoError(t, err)
	assert.Equal(t, model.Answer{Type: model.AnswerNumber, Number: 3}, num)

	_, err = mapAnswers(model.QuestionInfo{ID: "q", Answer: []model.AnswerInfo{{ValueBoolean: boolptr(true)}}})
	require.Error(t, err)

	_, err = mapAnswers(model.QuestionInfo{ID: "q", Answer: []model.AnswerInfo{{ValueAddress: &geocode.AddressInfo{}}}})
	require.Error(t, err)

	_, err = mapAnswers(model.QuestionInfo{ID: "q", Answer: []model.AnswerInfo{{}}})
	require.Error(t, err)
}

func TestMapAge(t *testing.T) {
	age := mapAge("1990-02-01", "2026-08-30T10:00:00Z")
	require.NotNil(t, age)
	assert.Equal(t, 36, age.Value)
	assert.False(t, age.NinetyOrAbove)

	// Birthday not yet reached this year.
	age = mapAge("1990-12-01", "2026-08-30T10:00:00Z")
	require.NotNil(t, age)
	assert.Equal(t, 35, age.Value)

	// Ages 90 and above are suppressed.
	age = mapAge("1930-01-01", "2026-08-30T10:00:00Z")
	require.NotNil(t, age)
	assert.True(t, age.NinetyOrAbove)
	assert.Zero(t, age.Value)

	assert.Nil(t, mapAge("", "2026-08-30T10:00:00Z"))
	assert.Nil(t, mapAge("not-a-date", "2026-08-30T10:00:00Z"))
	assert.Nil(t, mapAge("2030-01-01", "2026-08-30T10:00:00Z"))
}

func TestMapResponses_SkipsUnanswered(t *testing.T) {
	pages := []model.ResponseInfo{{
		ID: "page1",
		Item: []model.QuestionInfo{
			{ID: "q1", Text: "Any symptoms?", AnswerOptions: []model.AnswerOption{{ID: "cough", Text: "Cough"}}, Answer: []model.AnswerInfo{{ValueIndex: intptr(0)}}},
			{ID: "q2", Text: "Unanswered"},
		},
	}}

	responses, err := mapResponses(pages)
	require.NoError(t, err)
	require.Len(t, responses, 1)
	assert.Equal(t, "q1", responses[0].Question.Token)
	assert.Equal(t, []model.LocalText{{Token: "cough", Text: "Cough"}}, responses[0].Options)
}
