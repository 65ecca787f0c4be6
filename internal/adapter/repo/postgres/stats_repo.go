package postgres

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/feedloom/curator/internal/domain"
)

// Stats gathers the aggregate counters served by the control surface.
// All counts come from the same transaction snapshot.
func (t *pgTx) Stats(ctx domain.Context) (*domain.Stats, error) {
	ctx, span := otel.Tracer("repo.store").Start(ctx, "stats.Collect")
	defer span.End()

	st := &domain.Stats{QueueSizes: map[domain.Queue]int64{}}

	counts := []struct {
		query string
		dst   *int64
	}{
		{`SELECT COUNT(*) FROM sources`, &st.Sources},
		{`SELECT COUNT(*) FROM items`, &st.Items},
		{`SELECT COUNT(*) FROM sources s WHERE NOT EXISTS (SELECT 1 FROM items i WHERE i.source_id = s.id)`, &st.EmptySources},
	}
	for _, c := range counts {
		if err := t.tx.QueryRow(ctx, c.query).Scan(c.dst); err != nil {
			return nil, mapErr("stats.collect", err)
		}
	}

	queues := []struct {
		queue domain.Queue
		table string
	}{
		{domain.QueuePending, "pending_slots"},
		{domain.QueueScored, "scored_slots"},
		{domain.QueueError, "error_slots"},
	}
	for _, q := range queues {
		var n int64
		if err := t.tx.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, q.table)).Scan(&n); err != nil {
			return nil, mapErr("stats.collect", err)
		}
		st.QueueSizes[q.queue] = n
	}

	todayStart := time.Now().UTC().Truncate(24 * time.Hour)
	if err := t.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM items WHERE discovered_at >= $1`, todayStart,
	).Scan(&st.ItemsToday); err != nil {
		return nil, mapErr("stats.collect", err)
	}
	if err := t.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM items WHERE ranked_at >= $1`, todayStart,
	).Scan(&st.ScoredToday); err != nil {
		return nil, mapErr("stats.collect", err)
	}

	if st.Sources > 0 {
		st.AvgItemsPerSrc = float64(st.Items) / float64(st.Sources)
	}

	topByCount, err := t.topSourcesByItemCount(ctx, 3)
	if err != nil {
		return nil, err
	}
	st.TopByItemCount = topByCount

	topByRank, err := t.topSourcesByAvgRank(ctx, 10)
	if err != nil {
		return nil, err
	}
	st.TopByAvgRank = topByRank

	return st, nil
}

func (t *pgTx) topSourcesByItemCount(ctx domain.Context, limit int) ([]domain.SourceCount, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT s.name, COUNT(i.id) AS item_count
		FROM sources s
		JOIN items i ON i.source_id = s.id
		GROUP BY s.id, s.name
		ORDER BY item_count DESC, s.id ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, mapErr("stats.topByCount", err)
	}
	defer rows.Close()

	out := make([]domain.SourceCount, 0, limit)
	for rows.Next() {
		var sc domain.SourceCount
		if err := rows.Scan(&sc.Name, &sc.Items); err != nil {
			return nil, mapErr("stats.topByCount", err)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("stats.topByCount", err)
	}
	return out, nil
}

func (t *pgTx) topSourcesByAvgRank(ctx domain.Context, limit int) ([]domain.SourceRank, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT s.name, AVG(i.rank) AS avg_rank
		FROM sources s
		JOIN items i ON i.source_id = s.id
		WHERE i.rank IS NOT NULL
		GROUP BY s.id, s.name
		ORDER BY avg_rank DESC, s.id ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, mapErr("stats.topByRank", err)
	}
	defer rows.Close()

	out := make([]domain.SourceRank, 0, limit)
	for rows.Next() {
		var sr domain.SourceRank
		if err := rows.Scan(&sr.Name, &sr.AvgRank); err != nil {
			return nil, mapErr("stats.topByRank", err)
		}
		out = append(out, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("stats.topByRank", err)
	}
	return out, nil
}

// RankedItems returns every ranked item at or above minRank, best first.
// Used by the export surface, which re-renders payloads outside the store.
func (t *pgTx) RankedItems(ctx domain.Context, minRank float64) ([]domain.Item, error) {
	ctx, span := otel.Tracer("repo.store").Start(ctx, "stats.RankedItems")
	defer span.End()

	rows, err := t.tx.Query(ctx, `
		SELECT `+itemColumns+`
		FROM items
		WHERE rank IS NOT NULL AND rank >= $1
		ORDER BY rank DESC, id ASC`, minRank)
	if err != nil {
		return nil, mapErr("stats.rankedItems", err)
	}
	defer rows.Close()

	var out []domain.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, mapErr("stats.rankedItems", err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("stats.rankedItems", err)
	}
	return out, nil
}

// ApplyTrainingScores overwrites ranks for items whose payload link matches
// a key in scores. Rows are read fully before any update runs so the
// transaction never interleaves an open cursor with writes.
func (t *pgTx) ApplyTrainingScores(ctx domain.Context, scores map[string]float64, now time.Time) (int64, error) {
	ctx, span := otel.Tracer("repo.store").Start(ctx, "stats.ApplyTrainingScores")
	defer span.End()

	if len(scores) == 0 {
		return 0, nil
	}

	rows, err := t.tx.Query(ctx, `SELECT id, payload FROM items`)
	if err != nil {
		return 0, mapErr("stats.applyTraining", err)
	}

	type candidate struct {
		id   int64
		rank float64
	}
	var matched []candidate
	for rows.Next() {
		var (
			id      int64
			payload string
		)
		if err := rows.Scan(&id, &payload); err != nil {
			rows.Close()
			return 0, mapErr("stats.applyTraining", err)
		}
		entry, err := domain.DecodeEntry(payload)
		if err != nil {
			continue
		}
		link := entry.BestLink()
		if link == "" {
			continue
		}
		if rank, ok := scores[link]; ok {
			matched = append(matched, candidate{id: id, rank: rank})
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, mapErr("stats.applyTraining", err)
	}
	rows.Close()

	var updated int64
	for _, c := range matched {
		tag, err := t.tx.Exec(ctx,
			`UPDATE items SET rank = $1, ranked_at = $2 WHERE id = $3`,
			c.rank, now, c.id)
		if err != nil {
			return 0, mapErr("stats.applyTraining", err)
		}
		updated += tag.RowsAffected()
	}
	return updated, nil
}
