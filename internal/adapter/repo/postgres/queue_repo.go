package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/feedloom/curator/internal/domain"
)

// UpsertItem inserts the item when (source_id, guid) is fresh and reports
// whether it did. Re-observation returns the existing id and leaves the
// stored payload untouched.
func (t *pgTx) UpsertItem(ctx domain.Context, sourceID int64, guid, payload string, now time.Time) (int64, bool, error) {
	tracer := otel.Tracer("repo.items")
	ctx, span := tracer.Start(ctx, "items.Upsert")
	defer span.End()

	q := `INSERT INTO items (source_id, guid, payload, discovered_at) VALUES ($1,$2,$3,$4)
	      ON CONFLICT (source_id, guid) DO NOTHING RETURNING id`
	var id int64
	err := t.tx.QueryRow(ctx, q, sourceID, guid, payload, now.UTC()).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, mapErr("item.upsert", err)
	}

	// Conflict path: the guid is already known for this source.
	err = t.tx.QueryRow(ctx, `SELECT id FROM items WHERE source_id=$1 AND guid=$2`, sourceID, guid).Scan(&id)
	if err != nil {
		return 0, false, mapErr("item.upsert_lookup", err)
	}
	return id, false, nil
}

// EnqueuePending adds the item to the pending queue. Valid only in the same
// transaction as the upsert that created the item.
func (t *pgTx) EnqueuePending(ctx domain.Context, itemID int64, now time.Time) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO pending_slots (item_id, created_at) VALUES ($1,$2)`, itemID, now.UTC())
	if err != nil {
		return mapErr("pending.enqueue", err)
	}
	return nil
}

const claimQuery = `
SELECT q.id, q.created_at,
       i.id, i.source_id, i.guid, i.payload, i.discovered_at, i.rank, i.ranked_at,
       s.id, s.url, s.name, s.last_checked, s.check_interval_seconds, s.created_at
FROM %s q
JOIN items i ON i.id = q.item_id
JOIN sources s ON s.id = i.source_id
ORDER BY q.created_at ASC, q.id ASC
LIMIT 1`

// claimOldest reads the oldest slot of one queue table with its item and
// source. The slot stays in place; the successor write removes it.
func (t *pgTx) claimOldest(ctx domain.Context, table, op string) (*domain.Claim, error) {
	row := t.tx.QueryRow(ctx, fmt.Sprintf(claimQuery, table))

	var (
		c    domain.Claim
		secs int64
	)
	err := row.Scan(
		&c.Slot.ID, &c.Slot.CreatedAt,
		&c.Item.ID, &c.Item.SourceID, &c.Item.GUID, &c.Item.Payload, &c.Item.DiscoveredAt, &c.Item.Rank, &c.Item.RankedAt,
		&c.Source.ID, &c.Source.URL, &c.Source.Name, &c.Source.LastChecked, &secs, &c.Source.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, mapErr(op, err)
	}
	c.Slot.ItemID = c.Item.ID
	c.Source.Interval = time.Duration(secs) * time.Second
	return &c, nil
}

// ClaimNextPending returns the oldest pending slot, FIFO by created_at with
// row id as the tie-break.
func (t *pgTx) ClaimNextPending(ctx domain.Context) (*domain.Claim, error) {
	tracer := otel.Tracer("repo.queues")
	ctx, span := tracer.Start(ctx, "queues.ClaimNextPending")
	defer span.End()
	return t.claimOldest(ctx, "pending_slots", "pending.claim")
}

// RecordScore removes the pending slot and, in the same transaction, stamps
// the rank on the item and promotes it to the scored queue.
func (t *pgTx) RecordScore(ctx domain.Context, itemID int64, rank float64, now time.Time) error {
	tracer := otel.Tracer("repo.queues")
	ctx, span := tracer.Start(ctx, "queues.RecordScore")
	defer span.End()

	if _, err := t.tx.Exec(ctx, `DELETE FROM pending_slots WHERE item_id=$1`, itemID); err != nil {
		return mapErr("score.record", err)
	}
	tag, err := t.tx.Exec(ctx, `UPDATE items SET rank=$2, ranked_at=$3 WHERE id=$1`, itemID, rank, now.UTC())
	if err != nil {
		return mapErr("score.record", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=score.record: %w", domain.ErrNotFound)
	}
	if _, err := t.tx.Exec(ctx, `INSERT INTO scored_slots (item_id, created_at) VALUES ($1,$2)`, itemID, now.UTC()); err != nil {
		return mapErr("score.record", err)
	}
	return nil
}

// RecordScoreError removes the pending slot and parks the item in the error
// queue with the failure text. The item keeps a null rank.
func (t *pgTx) RecordScoreError(ctx domain.Context, itemID int64, message string, now time.Time) error {
	tracer := otel.Tracer("repo.queues")
	ctx, span := tracer.Start(ctx, "queues.RecordScoreError")
	defer span.End()

	if _, err := t.tx.Exec(ctx, `DELETE FROM pending_slots WHERE item_id=$1`, itemID); err != nil {
		return mapErr("score.record_error", err)
	}
	q := `INSERT INTO error_slots (item_id, message, created_at) VALUES ($1,$2,$3)`
	if _, err := t.tx.Exec(ctx, q, itemID, message, now.UTC()); err != nil {
		return mapErr("score.record_error", err)
	}
	return nil
}

// ClaimNextScored returns the oldest scored slot.
func (t *pgTx) ClaimNextScored(ctx domain.Context) (*domain.Claim, error) {
	tracer := otel.Tracer("repo.queues")
	ctx, span := tracer.Start(ctx, "queues.ClaimNextScored")
	defer span.End()
	return t.claimOldest(ctx, "scored_slots", "scored.claim")
}

// FinishScored drops the scored slot after a publish, skip or terminal
// failure. Deleting an already-gone slot is a no-op: the cascade may have
// raced us and the outcome is the same.
func (t *pgTx) FinishScored(ctx domain.Context, slotID int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM scored_slots WHERE id=$1`, slotID); err != nil {
		return mapErr("scored.finish", err)
	}
	return nil
}

// ReturnScored leaves the slot in place for a later retry. Deliberately a
// no-op: claims never remove slots, so there is nothing to undo. It exists
// so the rate-limit callsite states what happens to the slot.
func (t *pgTx) ReturnScored(_ domain.Context, _ int64) error { return nil }
