package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cascadia-health/study-export/internal/batch"
	"github.com/cascadia-health/study-export/internal/model"
	"github.com/cascadia-health/study-export/pkg/geocode"
)

// AddressGeocoder standardizes participant mailing addresses before they are
// written to an artifact. Satisfied by *geocode.Service.
type AddressGeocoder interface {
	GeocodeAddresses(ctx context.Context, addresses map[string][]geocode.AddressInfo) ([]geocode.Response, error)
}

// kitFallbackEmail stands in for kit orders placed without a contact email.
// Fulfillment bounces route back to the study coordinators.
const kitFallbackEmail = "study-support@cascadia.health"

// IncentivesNamespace holds the batch tables for the incentive report.
var IncentivesNamespace = batch.Namespace{
	Kind:         "Incentives",
	BatchTable:   "incentive_batch",
	ItemsTable:   "incentive_items",
	DiscardTable: "incentive_discard",
	BatchSeq:     "Incentives_Batch",
	ItemsSeq:     "Incentives_Items",
}

// IncentivesPredicate selects non-demo surveys whose questionnaire is done.
const IncentivesPredicate = `(s.survey->>'isDemo')::boolean = false ` +
	`AND s.survey->'workflow'->>'surveyCompletedAt' IS NOT NULL`

// KitsNamespace holds the batch tables for the kit order report.
var KitsNamespace = batch.Namespace{
	Kind:         "Kits",
	BatchTable:   "kit_batch",
	ItemsTable:   "kit_items",
	DiscardTable: "kit_discard",
	BatchSeq:     "Kit_Batch",
	ItemsSeq:     "Kit_Items",
}

// KitsPredicate selects non-demo surveys that passed screening.
const KitsPredicate = `(s.survey->>'isDemo')::boolean = false ` +
	`AND s.survey->'workflow'->>'screeningCompletedAt' IS NOT NULL`

// ParticipantStrategy renders one report kind as a participant CSV and
// writes it to the sink. It implements batch.Strategy[Participant].
type ParticipantStrategy struct {
	kind          string
	timestamp     func(model.WorkflowInfo) *string
	requireEmail  bool
	fallbackEmail string
	geocoder      AddressGeocoder
	sink          Sink
}

// NewIncentiveStrategy builds the incentive report strategy. Incentives are
// paid by email, so rows without one are discarded.
func NewIncentiveStrategy(geocoder AddressGeocoder, sink Sink) *ParticipantStrategy {
	return &ParticipantStrategy{
		kind:         "Incentives",
		timestamp:    func(w model.WorkflowInfo) *string { return w.SurveyCompletedAt },
		requireEmail: true,
		geocoder:     geocoder,
		sink:         sink,
	}
}

// NewKitStrategy builds the kit order strategy. Kits ship to a postal
// address, so a missing email falls back to the coordinator inbox.
func NewKitStrategy(geocoder AddressGeocoder, sink Sink) *ParticipantStrategy {
	return &ParticipantStrategy{
		kind:          "Kits",
		timestamp:     func(w model.WorkflowInfo) *string { return w.ScreeningCompletedAt },
		fallbackEmail: kitFallbackEmail,
		geocoder:      geocoder,
		sink:          sink,
	}
}

// Kind implements batch.Strategy.
func (s *ParticipantStrategy) Kind() string {
	return s.kind
}

// MapItem implements batch.Strategy.
func (s *ParticipantStrategy) MapItem(item batch.Item, doc model.SurveyDocument) (Participant, error) {
	return mapParticipant(item, doc, s.timestamp(doc.Workflow))
}

// BuildArtifact implements batch.Strategy. Mailing addresses are replaced by
// their geocoded standardized form; rows whose address cannot be geocoded,
// and rows failing the email rule, are reported as discards and left out of
// the CSV.
func (s *ParticipantStrategy) BuildArtifact(ctx context.Context, rows []batch.Row[Participant]) ([]byte, []int, error) {
	addresses := make(map[string][]geocode.AddressInfo, len(rows))
	for _, row := range rows {
		addresses[row.Record.WorkflowID] = []geocode.AddressInfo{row.Record.home}
	}
	responses, err := s.geocoder.GeocodeAddresses(ctx, addresses)
	if err != nil {
		return nil, nil, eris.Wrap(err, "report: geocode addresses")
	}
	geocoded := make(map[string]*geocode.GeocodedAddress, len(responses))
	for _, r := range responses {
		if r.Address != nil {
			geocoded[r.ID] = r.Address
		}
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, nil, eris.Wrap(err, "report: write csv header")
	}

	var discarded []int
	for _, row := range rows {
		p := row.Record
		addr := geocoded[p.WorkflowID]
		if addr == nil {
			zap.L().Warn("discarding row whose address could not be geocoded",
				zap.String("kind", s.kind),
				zap.Int("item_id", row.Item.ID),
			)
			discarded = append(discarded, row.Item.ID)
			continue
		}
		p.Address1 = addr.Address1
		p.Address2 = addr.Address2
		p.City = addr.City
		p.State = addr.State
		p.Zip = addr.PostalCode
		if p.Email == "" {
			if s.requireEmail {
				zap.L().Warn("discarding row without email",
					zap.String("kind", s.kind),
					zap.Int("item_id", row.Item.ID),
				)
				discarded = append(discarded, row.Item.ID)
				continue
			}
			p.Email = s.fallbackEmail
		}
		if err := w.Write(p.record()); err != nil {
			return nil, nil, eris.Wrap(err, "report: write csv row")
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, nil, eris.Wrap(err, "report: flush csv")
	}
	return buf.Bytes(), discarded, nil
}

// WriteArtifact implements batch.Strategy. Filenames embed the batch id so
// re-deliveries of the same batch overwrite rather than duplicate.
func (s *ParticipantStrategy) WriteArtifact(ctx context.Context, batchID int, artifact []byte) error {
	name := fmt.Sprintf("%s-Report-%d.%s.csv",
		s.kind, batchID, time.Now().UTC().Format("2006-01-02"))
	return s.sink.Write(ctx, name, artifact)
}
