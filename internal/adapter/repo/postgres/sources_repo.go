package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/feedloom/curator/internal/domain"
)

const sourceColumns = `id, url, name, last_checked, check_interval_seconds, created_at`

// NextSourceDue returns the source with the earliest last_checked, never
// checked first. It does not judge due-ness; the polling scheduler does.
func (t *pgTx) NextSourceDue(ctx domain.Context) (*domain.Source, error) {
	tracer := otel.Tracer("repo.sources")
	ctx, span := tracer.Start(ctx, "sources.NextDue")
	defer span.End()

	q := `SELECT ` + sourceColumns + ` FROM sources ORDER BY last_checked ASC NULLS FIRST, id ASC LIMIT 1`
	src, err := scanSource(t.tx.QueryRow(ctx, q))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, mapErr("source.next_due", err)
	}
	return &src, nil
}

// GetSource loads one source by id.
func (t *pgTx) GetSource(ctx domain.Context, id int64) (domain.Source, error) {
	q := `SELECT ` + sourceColumns + ` FROM sources WHERE id=$1`
	src, err := scanSource(t.tx.QueryRow(ctx, q, id))
	if err != nil {
		return domain.Source{}, mapErr("source.get", err)
	}
	return src, nil
}

// CreateSource inserts a source with a never-checked state. A duplicate URL
// surfaces as ErrConflict.
func (t *pgTx) CreateSource(ctx domain.Context, url, name string, interval time.Duration) (domain.Source, error) {
	tracer := otel.Tracer("repo.sources")
	ctx, span := tracer.Start(ctx, "sources.Create")
	defer span.End()

	q := `INSERT INTO sources (url, name, check_interval_seconds) VALUES ($1,$2,$3) RETURNING id, created_at`
	src := domain.Source{URL: url, Name: name, Interval: interval}
	if err := t.tx.QueryRow(ctx, q, url, name, int64(interval/time.Second)).Scan(&src.ID, &src.CreatedAt); err != nil {
		return domain.Source{}, mapErr("source.create", err)
	}
	return src, nil
}

// ListSources returns every source ordered by id.
func (t *pgTx) ListSources(ctx domain.Context) ([]domain.Source, error) {
	q := `SELECT ` + sourceColumns + ` FROM sources ORDER BY id ASC`
	rows, err := t.tx.Query(ctx, q)
	if err != nil {
		return nil, mapErr("source.list", err)
	}
	defer rows.Close()

	var out []domain.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, mapErr("source.list", err)
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("source.list", err)
	}
	return out, nil
}

// DeleteSource removes a source; items and queue slots go with it through
// the FK cascade.
func (t *pgTx) DeleteSource(ctx domain.Context, id int64) error {
	tracer := otel.Tracer("repo.sources")
	ctx, span := tracer.Start(ctx, "sources.Delete")
	defer span.End()

	tag, err := t.tx.Exec(ctx, `DELETE FROM sources WHERE id=$1`, id)
	if err != nil {
		return mapErr("source.delete", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=source.delete: %w", domain.ErrNotFound)
	}
	return nil
}

// UpdateSourceAfterPoll records the poll outcome: new interval and
// last_checked in one write.
func (t *pgTx) UpdateSourceAfterPoll(ctx domain.Context, id int64, interval time.Duration, now time.Time) error {
	q := `UPDATE sources SET check_interval_seconds=$2, last_checked=$3 WHERE id=$1`
	tag, err := t.tx.Exec(ctx, q, id, int64(interval/time.Second), now.UTC())
	if err != nil {
		return mapErr("source.update_after_poll", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=source.update_after_poll: %w", domain.ErrNotFound)
	}
	return nil
}

// SourceItemCounts returns item counts keyed by source id. Sources without
// items are absent from the map.
func (t *pgTx) SourceItemCounts(ctx domain.Context) (map[int64]int64, error) {
	rows, err := t.tx.Query(ctx, `SELECT source_id, COUNT(*) FROM items GROUP BY source_id`)
	if err != nil {
		return nil, mapErr("source.item_counts", err)
	}
	defer rows.Close()

	out := map[int64]int64{}
	for rows.Next() {
		var (
			id int64
			n  int64
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, mapErr("source.item_counts", err)
		}
		out[id] = n
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("source.item_counts", err)
	}
	return out, nil
}

// MarkSourceChecked advances last_checked only, used on decoder failure so
// the interval stays untouched.
func (t *pgTx) MarkSourceChecked(ctx domain.Context, id int64, now time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE sources SET last_checked=$2 WHERE id=$1`, id, now.UTC())
	if err != nil {
		return mapErr("source.mark_checked", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=source.mark_checked: %w", domain.ErrNotFound)
	}
	return nil
}
