package encounter

import (
	"context"
	"errors"
	"strconv"

	"go.uber.org/zap"

	"github.com/cascadia-health/study-export/internal/deid"
	"github.com/cascadia-health/study-export/internal/model"
	"github.com/cascadia-health/study-export/internal/taskqueue"
	"github.com/cascadia-health/study-export/pkg/geocode"
)

// Summary reports one send cycle.
type Summary struct {
	Eligible int
	Sent     int
	Skipped  int
	Rejected int
}

// Service runs the encounter export cycle: load pending visits, geocode
// their addresses, de-identify, and upload concurrently.
type Service struct {
	store       *Store
	geocoder    *geocode.Service
	mapper      *deid.Mapper
	uploader    Uploader
	concurrency int
}

// NewService wires the encounter pipeline.
func NewService(store *Store, geocoder *geocode.Service, mapper *deid.Mapper, uploader Uploader, concurrency int) *Service {
	return &Service{
		store:       store,
		geocoder:    geocoder,
		mapper:      mapper,
		uploader:    uploader,
		concurrency: concurrency,
	}
}

// uploadOutcome is the per-visit result of one upload task.
type uploadOutcome struct {
	visitID int64
	sent    bool
}

// Run sends up to limit pending visits. Malformed records and partner
// rejections are logged and left pending; a transport failure aborts the
// cycle so the next run retries everything still unrecorded.
func (s *Service) Run(ctx context.Context, limit int) (*Summary, error) {
	visits, err := s.store.GetPendingVisits(ctx, limit)
	if err != nil {
		return nil, err
	}
	if len(visits) == 0 {
		zap.L().Info("no pending visits to send")
		return &Summary{}, nil
	}
	zap.L().Info("sending pending visits", zap.Int("count", len(visits)))

	geocoded, err := s.geocodeVisits(ctx, visits)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Eligible: len(visits)}
	var tasks []taskqueue.Task[uploadOutcome]
	for _, v := range visits {
		visit := v
		responses := geocoded[visit.ID]

		enc, err := s.mapper.MapEncounter(visit, responses)
		if err != nil {
			zap.L().Warn("skipping malformed visit",
				zap.Int64("visit_id", visit.ID),
				zap.Error(err),
			)
			summary.Skipped++
			continue
		}

		tasks = append(tasks, func(ctx context.Context) (uploadOutcome, error) {
			if err := s.uploader.Upload(ctx, enc); err != nil {
				var rejected *RejectedError
				if errors.As(err, &rejected) {
					zap.L().Warn("partner rejected encounter",
						zap.Int64("visit_id", visit.ID),
						zap.Int("status", rejected.StatusCode),
					)
					return uploadOutcome{visitID: visit.ID}, nil
				}
				return uploadOutcome{}, err
			}
			return uploadOutcome{visitID: visit.ID, sent: true}, nil
		})
	}

	outcomes, err := taskqueue.Run(ctx, s.concurrency, tasks)
	if err != nil {
		return nil, err
	}

	var sent []int64
	for _, o := range outcomes {
		if o.sent {
			sent = append(sent, o.visitID)
		} else {
			summary.Rejected++
		}
	}
	if err := s.store.RecordUploads(ctx, sent); err != nil {
		return nil, err
	}
	summary.Sent = len(sent)

	zap.L().Info("send cycle complete",
		zap.Int("eligible", summary.Eligible),
		zap.Int("sent", summary.Sent),
		zap.Int("skipped", summary.Skipped),
		zap.Int("rejected", summary.Rejected),
	)
	return summary, nil
}

// geocodeVisits resolves every visit address and groups the results by
// visit id.
func (s *Service) geocodeVisits(ctx context.Context, visits []model.VisitDetails) (map[int64][]geocode.Response, error) {
	addresses := make(map[string][]geocode.AddressInfo)
	for _, v := range visits {
		if len(v.Addresses) > 0 {
			addresses[strconv.FormatInt(v.ID, 10)] = v.Addresses
		}
	}

	responses, err := s.geocoder.GeocodeAddresses(ctx, addresses)
	if err != nil {
		return nil, err
	}
	responses, err = s.geocoder.AppendCensusTract(ctx, responses)
	if err != nil {
		return nil, err
	}

	byVisit := make(map[int64][]geocode.Response)
	for _, r := range responses {
		id, err := strconv.ParseInt(r.ID, 10, 64)
		if err != nil {
			continue
		}
		byVisit[id] = append(byVisit[id], r)
	}
	return byVisit, nil
}
