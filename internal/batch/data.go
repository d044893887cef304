// Package batch tracks gapless export batches and drives the recurring
// report pipeline that turns completed survey records into partner uploads.
package batch

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cascadia-health/study-export/internal/db"
	"github.com/cascadia-health/study-export/internal/model"
)

// Namespace names the tables and sequences backing one report kind. Each
// kind owns its own batch numbering so batch ids stay dense per kind.
type Namespace struct {
	Kind         string
	BatchTable   string
	ItemsTable   string
	DiscardTable string
	BatchSeq     string
	ItemsSeq     string
}

// Item is one record assigned to a batch. ID is the dense per-kind item id,
// CSRUID the de-identifiable record key.
type Item struct {
	ID     int
	CSRUID string
}

// Batch is a numbered set of items awaiting upload.
type Batch struct {
	ID    int
	Items []Item
}

// Candidate is a source record eligible for batching but not yet tracked.
type Candidate struct {
	RowID  int64
	CSRUID string
}

// DataAccess reads and writes batch state for one namespace. The eligibility
// predicate is a SQL condition over the source table aliased as s.
type DataAccess struct {
	pool      db.Pool
	ns        Namespace
	predicate string
}

// NewDataAccess creates a DataAccess for the given namespace and predicate.
func NewDataAccess(pool db.Pool, ns Namespace, predicate string) *DataAccess {
	return &DataAccess{pool: pool, ns: ns, predicate: predicate}
}

// Namespace returns the namespace this accessor operates on.
func (d *DataAccess) Namespace() Namespace {
	return d.ns
}

// GetExistingBatch returns the lowest-numbered batch that has not been
// committed, with its items in item id order, or nil when none is pending.
func (d *DataAccess) GetExistingBatch(ctx context.Context) (*Batch, error) {
	query := fmt.Sprintf(`
		SELECT b.id, i.id, i.csruid
		FROM %s b
		JOIN %s i ON i.batch_id = b.id
		WHERE b.id = (SELECT min(id) FROM %s WHERE uploaded = false)
		ORDER BY i.id`, d.ns.BatchTable, d.ns.ItemsTable, d.ns.BatchTable)

	rows, err := d.pool.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrapf(err, "batch: query pending %s batch", d.ns.Kind)
	}
	defer rows.Close()

	var batch *Batch
	for rows.Next() {
		var batchID int
		var item Item
		if err := rows.Scan(&batchID, &item.ID, &item.CSRUID); err != nil {
			return nil, eris.Wrap(err, "batch: scan pending item")
		}
		if batch == nil {
			batch = &Batch{ID: batchID}
		}
		batch.Items = append(batch.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "batch: iterate pending items")
	}

	if batch != nil {
		zap.L().Info("resuming pending batch",
			zap.String("kind", d.ns.Kind),
			zap.Int("batch_id", batch.ID),
			zap.Int("items", len(batch.Items)),
		)
	}
	return batch, nil
}

// GetNewBatchItems returns up to limit eligible source records that have
// never been assigned to a batch, in source row order.
func (d *DataAccess) GetNewBatchItems(ctx context.Context, limit int) ([]Candidate, error) {
	query := fmt.Sprintf(`
		SELECT s.id, s.csruid
		FROM surveys s
		WHERE %s
		AND NOT EXISTS (SELECT 1 FROM %s i WHERE i.csruid = s.csruid)
		ORDER BY s.id
		LIMIT $1`, d.predicate, d.ns.ItemsTable)

	rows, err := d.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "batch: query new %s candidates", d.ns.Kind)
	}
	defer rows.Close()

	var candidates []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.RowID, &c.CSRUID); err != nil {
			return nil, eris.Wrap(err, "batch: scan candidate")
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "batch: iterate candidates")
	}
	return candidates, nil
}

// TrackBatch assigns the next dense batch id and contiguous item ids to the
// given candidates inside one serializable transaction. Concurrent trackers
// serialize on the sequence rows, so committed ids never skip or repeat.
func (d *DataAccess) TrackBatch(ctx context.Context, candidates []Candidate) (*Batch, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, eris.Wrap(err, "batch: begin track transaction")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	batchSeq, err := nextSequence(ctx, tx, d.ns.BatchSeq, 1)
	if err != nil {
		return nil, err
	}
	itemSeq, err := nextSequence(ctx, tx, d.ns.ItemsSeq, len(candidates))
	if err != nil {
		return nil, err
	}

	batch := &Batch{ID: batchSeq}
	if _, err := tx.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, uploaded) VALUES ($1, false)`, d.ns.BatchTable),
		batch.ID,
	); err != nil {
		return nil, eris.Wrapf(err, "batch: insert %s batch %d", d.ns.Kind, batch.ID)
	}

	itemRows := make([][]any, 0, len(candidates))
	for i, c := range candidates {
		item := Item{ID: itemSeq + i, CSRUID: c.CSRUID}
		batch.Items = append(batch.Items, item)
		itemRows = append(itemRows, []any{item.ID, batch.ID, item.CSRUID})
	}
	if _, err := db.CopyFrom(ctx, tx, d.ns.ItemsTable,
		[]string{"id", "batch_id", "csruid"}, itemRows,
	); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "batch: commit track transaction")
	}

	zap.L().Info("tracked new batch",
		zap.String("kind", d.ns.Kind),
		zap.Int("batch_id", batch.ID),
		zap.Int("items", len(batch.Items)),
	)
	return batch, nil
}

// nextSequence claims count values from the named gapless sequence and
// returns the first claimed value.
func nextSequence(ctx context.Context, tx pgx.Tx, name string, count int) (int, error) {
	var index int
	err := tx.QueryRow(ctx,
		`SELECT "index" FROM gapless_seq WHERE name = $1 FOR UPDATE`, name,
	).Scan(&index)
	if err != nil {
		return 0, eris.Wrapf(err, "batch: read sequence %s", name)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE gapless_seq SET "index" = $1 WHERE name = $2`, index+count, name,
	); err != nil {
		return 0, eris.Wrapf(err, "batch: advance sequence %s", name)
	}
	return index + 1, nil
}

// CommitUploadedBatch marks a batch uploaded and records its discarded
// items. Exactly one batch row must flip, otherwise the batch was already
// committed or never tracked and the run must not report success.
func (d *DataAccess) CommitUploadedBatch(ctx context.Context, batchID int, discardedItemIDs []int) error {
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return eris.Wrap(err, "batch: begin commit transaction")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET uploaded = true WHERE id = $1 AND uploaded = false`, d.ns.BatchTable),
		batchID,
	)
	if err != nil {
		return eris.Wrapf(err, "batch: mark %s batch %d uploaded", d.ns.Kind, batchID)
	}
	if tag.RowsAffected() != 1 {
		return eris.Errorf("batch: expected exactly one %s batch row for id %d, updated %d",
			d.ns.Kind, batchID, tag.RowsAffected())
	}

	if len(discardedItemIDs) > 0 {
		discardRows := make([][]any, 0, len(discardedItemIDs))
		for _, itemID := range discardedItemIDs {
			discardRows = append(discardRows, []any{batchID, itemID})
		}
		if _, err := db.CopyFrom(ctx, tx, d.ns.DiscardTable,
			[]string{"batch_id", "item_id"}, discardRows,
		); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "batch: commit batch upload")
	}

	zap.L().Info("committed uploaded batch",
		zap.String("kind", d.ns.Kind),
		zap.Int("batch_id", batchID),
		zap.Int("discarded", len(discardedItemIDs)),
	)
	return nil
}

// GetPiiData loads the identifiable survey documents for the given record
// keys. Keys with no PII row are absent from the result map.
func (d *DataAccess) GetPiiData(ctx context.Context, csruids []string) (map[string]model.SurveyDocument, error) {
	if len(csruids) == 0 {
		return map[string]model.SurveyDocument{}, nil
	}

	rows, err := d.pool.Query(ctx,
		`SELECT csruid, survey FROM survey_pii WHERE csruid = ANY($1)`, csruids,
	)
	if err != nil {
		return nil, eris.Wrap(err, "batch: query pii records")
	}
	defer rows.Close()

	docs := make(map[string]model.SurveyDocument, len(csruids))
	for rows.Next() {
		var csruid string
		var doc model.SurveyDocument
		if err := rows.Scan(&csruid, &doc); err != nil {
			return nil, eris.Wrap(err, "batch: scan pii record")
		}
		docs[csruid] = doc
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "batch: iterate pii records")
	}
	return docs, nil
}
