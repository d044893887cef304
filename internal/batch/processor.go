package batch

import (
	"context"

	"go.uber.org/zap"

	"github.com/cascadia-health/study-export/internal/model"
)

// Row pairs a tracked item with its mapped domain record.
type Row[R any] struct {
	Item   Item
	Record R
}

// Strategy supplies the report-kind specific behavior for a Processor:
// mapping PII documents to domain records, rendering the outgoing artifact,
// and delivering it. BuildArtifact reports item ids it had to drop, such as
// records failing eligibility checks, so they are recorded as discards.
type Strategy[R any] interface {
	Kind() string
	MapItem(item Item, doc model.SurveyDocument) (R, error)
	BuildArtifact(ctx context.Context, rows []Row[R]) (artifact []byte, discarded []int, err error)
	WriteArtifact(ctx context.Context, batchID int, artifact []byte) error
}

// Summary reports the outcome of one processor run.
type Summary struct {
	BatchID   int
	Processed int
	Discarded int
	Missing   int
}

// Processor runs one export cycle for a report kind: claim or resume a
// batch, de-identify its records, deliver the artifact, and commit.
type Processor[R any] struct {
	data     *DataAccess
	strategy Strategy[R]
	limit    int
}

// NewProcessor creates a Processor with the given per-run record limit.
func NewProcessor[R any](data *DataAccess, strategy Strategy[R], limit int) *Processor[R] {
	return &Processor[R]{data: data, strategy: strategy, limit: limit}
}

// Run executes one cycle. A pending batch from an earlier failed run is
// always resumed before new records are claimed, so no committed batch id
// is ever skipped. Returns a nil Summary when there is nothing to do.
func (p *Processor[R]) Run(ctx context.Context) (*Summary, error) {
	log := zap.L().With(zap.String("kind", p.strategy.Kind()))

	batch, err := p.data.GetExistingBatch(ctx)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		candidates, err := p.data.GetNewBatchItems(ctx, p.limit)
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			log.Info("no records to export")
			return nil, nil
		}
		if batch, err = p.data.TrackBatch(ctx, candidates); err != nil {
			return nil, err
		}
	}

	keys := make([]string, 0, len(batch.Items))
	for _, item := range batch.Items {
		keys = append(keys, item.CSRUID)
	}
	pii, err := p.data.GetPiiData(ctx, keys)
	if err != nil {
		return nil, err
	}

	var rows []Row[R]
	var discarded []int
	missing := 0
	for _, item := range batch.Items {
		doc, ok := pii[item.CSRUID]
		if !ok {
			// The identifiable half of the record is gone. Exclude it from
			// the artifact but do not record a discard, so the anomaly
			// remains detectable after the batch commits.
			log.Error("pii record missing for tracked item",
				zap.Int("item_id", item.ID),
				zap.Int("batch_id", batch.ID),
			)
			missing++
			continue
		}

		record, err := p.strategy.MapItem(item, doc)
		if err != nil {
			log.Warn("discarding malformed record",
				zap.Int("item_id", item.ID),
				zap.Error(err),
			)
			discarded = append(discarded, item.ID)
			continue
		}
		rows = append(rows, Row[R]{Item: item, Record: record})
	}

	artifact, buildDiscards, err := p.strategy.BuildArtifact(ctx, rows)
	if err != nil {
		return nil, err
	}
	discarded = append(discarded, buildDiscards...)

	processed := len(rows) - len(buildDiscards)
	if processed > 0 {
		if err := p.strategy.WriteArtifact(ctx, batch.ID, artifact); err != nil {
			return nil, err
		}
	} else {
		log.Info("batch produced no deliverable records", zap.Int("batch_id", batch.ID))
	}

	if err := p.data.CommitUploadedBatch(ctx, batch.ID, discarded); err != nil {
		return nil, err
	}

	summary := &Summary{
		BatchID:   batch.ID,
		Processed: processed,
		Discarded: len(discarded),
		Missing:   missing,
	}
	log.Info("export cycle complete",
		zap.Int("batch_id", summary.BatchID),
		zap.Int("processed", summary.Processed),
		zap.Int("discarded", summary.Discarded),
		zap.Int("missing_pii", summary.Missing),
	)
	return summary, nil
}
