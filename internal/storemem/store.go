// Package storemem implements the pipeline store in memory.
//
// It mirrors the Postgres store's semantics (claim ordering, cascade
// deletes, unique guids, one slot per item per queue) behind a single
// mutex, so worker and contract tests exercise the store behaviour the
// pipeline depends on without a database. It also backs local runs when
// DB_URL=memory.
package storemem

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/feedloom/curator/internal/domain"
)

type slot struct {
	id        int64
	itemID    int64
	message   string
	createdAt time.Time
}

type state struct {
	sources map[int64]domain.Source
	items   map[int64]domain.Item
	pending map[int64]slot
	scored  map[int64]slot
	errors  map[int64]slot

	nextSourceID int64
	nextItemID   int64
	nextSlotID   int64
}

// Store is an in-memory domain.Store. A transaction takes the store lock and
// works on a snapshot; commit swaps the snapshot in, rollback discards it.
type Store struct {
	mu sync.Mutex
	st state
}

// New returns an empty store.
func New() *Store {
	return &Store{st: state{
		sources: map[int64]domain.Source{},
		items:   map[int64]domain.Item{},
		pending: map[int64]slot{},
		scored:  map[int64]slot{},
		errors:  map[int64]slot{},
	}}
}

// WithTx runs fn on a copy of the state. The copy replaces the live state
// only when fn returns nil, so a failing transaction leaves nothing behind.
func (s *Store) WithTx(ctx domain.Context, fn func(tx domain.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("op=store.begin: %w: %v", domain.ErrStore, err)
	}

	work := s.st.clone()
	if err := fn(&memTx{st: &work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (st state) clone() state {
	out := state{
		sources:      make(map[int64]domain.Source, len(st.sources)),
		items:        make(map[int64]domain.Item, len(st.items)),
		pending:      make(map[int64]slot, len(st.pending)),
		scored:       make(map[int64]slot, len(st.scored)),
		errors:       make(map[int64]slot, len(st.errors)),
		nextSourceID: st.nextSourceID,
		nextItemID:   st.nextItemID,
		nextSlotID:   st.nextSlotID,
	}
	for id, v := range st.sources {
		out.sources[id] = v
	}
	for id, v := range st.items {
		out.items[id] = v
	}
	for id, v := range st.pending {
		out.pending[id] = v
	}
	for id, v := range st.scored {
		out.scored[id] = v
	}
	for id, v := range st.errors {
		out.errors[id] = v
	}
	return out
}

// memTx implements domain.Tx over one working copy of the state.
type memTx struct{ st *state }

func (t *memTx) NextSourceDue(_ domain.Context) (*domain.Source, error) {
	var (
		best  *domain.Source
		found bool
	)
	for id := range t.st.sources {
		src := t.st.sources[id]
		if !found || lessChecked(src, *best) {
			cp := src
			best = &cp
			found = true
		}
	}
	if !found {
		return nil, nil
	}
	return best, nil
}

// lessChecked orders sources by last_checked ascending with nulls first,
// then by id, matching the Postgres query.
func lessChecked(a, b domain.Source) bool {
	switch {
	case a.LastChecked == nil && b.LastChecked != nil:
		return true
	case a.LastChecked != nil && b.LastChecked == nil:
		return false
	case a.LastChecked != nil && b.LastChecked != nil:
		if !a.LastChecked.Equal(*b.LastChecked) {
			return a.LastChecked.Before(*b.LastChecked)
		}
	}
	return a.ID < b.ID
}

func (t *memTx) GetSource(_ domain.Context, id int64) (domain.Source, error) {
	src, ok := t.st.sources[id]
	if !ok {
		return domain.Source{}, fmt.Errorf("op=source.get: %w", domain.ErrNotFound)
	}
	return src, nil
}

func (t *memTx) CreateSource(_ domain.Context, url, name string, interval time.Duration) (domain.Source, error) {
	for _, src := range t.st.sources {
		if src.URL == url {
			return domain.Source{}, fmt.Errorf("op=source.create: %w", domain.ErrConflict)
		}
	}
	t.st.nextSourceID++
	src := domain.Source{
		ID:        t.st.nextSourceID,
		URL:       url,
		Name:      name,
		Interval:  interval,
		CreatedAt: time.Now().UTC(),
	}
	t.st.sources[src.ID] = src
	return src, nil
}

func (t *memTx) ListSources(_ domain.Context) ([]domain.Source, error) {
	out := make([]domain.Source, 0, len(t.st.sources))
	for _, src := range t.st.sources {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DeleteSource cascades to items and their queue slots, mirroring the
// ON DELETE CASCADE chain in the Postgres schema.
func (t *memTx) DeleteSource(_ domain.Context, id int64) error {
	if _, ok := t.st.sources[id]; !ok {
		return fmt.Errorf("op=source.delete: %w", domain.ErrNotFound)
	}
	delete(t.st.sources, id)
	for itemID, it := range t.st.items {
		if it.SourceID != id {
			continue
		}
		delete(t.st.items, itemID)
		deleteSlotsForItem(t.st.pending, itemID)
		deleteSlotsForItem(t.st.scored, itemID)
		deleteSlotsForItem(t.st.errors, itemID)
	}
	return nil
}

func deleteSlotsForItem(m map[int64]slot, itemID int64) {
	for id, sl := range m {
		if sl.itemID == itemID {
			delete(m, id)
		}
	}
}

func (t *memTx) UpdateSourceAfterPoll(_ domain.Context, id int64, interval time.Duration, now time.Time) error {
	src, ok := t.st.sources[id]
	if !ok {
		return fmt.Errorf("op=source.update_after_poll: %w", domain.ErrNotFound)
	}
	now = now.UTC()
	src.Interval = interval
	src.LastChecked = &now
	t.st.sources[id] = src
	return nil
}

func (t *memTx) MarkSourceChecked(_ domain.Context, id int64, now time.Time) error {
	src, ok := t.st.sources[id]
	if !ok {
		return fmt.Errorf("op=source.mark_checked: %w", domain.ErrNotFound)
	}
	now = now.UTC()
	src.LastChecked = &now
	t.st.sources[id] = src
	return nil
}

func (t *memTx) UpsertItem(_ domain.Context, sourceID int64, guid, payload string, now time.Time) (int64, bool, error) {
	if _, ok := t.st.sources[sourceID]; !ok {
		return 0, false, fmt.Errorf("op=item.upsert: %w", domain.ErrNotFound)
	}
	for _, it := range t.st.items {
		if it.SourceID == sourceID && it.GUID == guid {
			return it.ID, false, nil
		}
	}
	t.st.nextItemID++
	it := domain.Item{
		ID:           t.st.nextItemID,
		SourceID:     sourceID,
		GUID:         guid,
		Payload:      payload,
		DiscoveredAt: now.UTC(),
	}
	t.st.items[it.ID] = it
	return it.ID, true, nil
}

func (t *memTx) EnqueuePending(_ domain.Context, itemID int64, now time.Time) error {
	if _, ok := t.st.items[itemID]; !ok {
		return fmt.Errorf("op=pending.enqueue: %w", domain.ErrNotFound)
	}
	if hasSlotForItem(t.st.pending, itemID) {
		return fmt.Errorf("op=pending.enqueue: %w", domain.ErrConflict)
	}
	t.addSlot(t.st.pending, itemID, "", now)
	return nil
}

func hasSlotForItem(m map[int64]slot, itemID int64) bool {
	for _, sl := range m {
		if sl.itemID == itemID {
			return true
		}
	}
	return false
}

func (t *memTx) addSlot(m map[int64]slot, itemID int64, message string, now time.Time) slot {
	t.st.nextSlotID++
	sl := slot{id: t.st.nextSlotID, itemID: itemID, message: message, createdAt: now.UTC()}
	m[sl.id] = sl
	return sl
}

func (t *memTx) claimOldest(m map[int64]slot) (*domain.Claim, error) {
	var (
		best  slot
		found bool
	)
	for _, sl := range m {
		if !found || sl.createdAt.Before(best.createdAt) ||
			(sl.createdAt.Equal(best.createdAt) && sl.id < best.id) {
			best = sl
			found = true
		}
	}
	if !found {
		return nil, nil
	}
	it, ok := t.st.items[best.itemID]
	if !ok {
		return nil, fmt.Errorf("op=queue.claim: %w", domain.ErrNotFound)
	}
	src, ok := t.st.sources[it.SourceID]
	if !ok {
		return nil, fmt.Errorf("op=queue.claim: %w", domain.ErrNotFound)
	}
	return &domain.Claim{
		Slot:   domain.Slot{ID: best.id, ItemID: best.itemID, Message: best.message, CreatedAt: best.createdAt},
		Item:   it,
		Source: src,
	}, nil
}

func (t *memTx) ClaimNextPending(ctx domain.Context) (*domain.Claim, error) {
	return t.claimOldest(t.st.pending)
}

func (t *memTx) RecordScore(_ domain.Context, itemID int64, rank float64, now time.Time) error {
	it, ok := t.st.items[itemID]
	if !ok {
		return fmt.Errorf("op=score.record: %w", domain.ErrNotFound)
	}
	deleteSlotsForItem(t.st.pending, itemID)
	now = now.UTC()
	it.Rank = &rank
	it.RankedAt = &now
	t.st.items[itemID] = it
	t.addSlot(t.st.scored, itemID, "", now)
	return nil
}

func (t *memTx) RecordScoreError(_ domain.Context, itemID int64, message string, now time.Time) error {
	if _, ok := t.st.items[itemID]; !ok {
		return fmt.Errorf("op=score.record_error: %w", domain.ErrNotFound)
	}
	deleteSlotsForItem(t.st.pending, itemID)
	t.addSlot(t.st.errors, itemID, message, now)
	return nil
}

func (t *memTx) ClaimNextScored(ctx domain.Context) (*domain.Claim, error) {
	return t.claimOldest(t.st.scored)
}

func (t *memTx) FinishScored(_ domain.Context, slotID int64) error {
	delete(t.st.scored, slotID)
	return nil
}

func (t *memTx) ReturnScored(_ domain.Context, _ int64) error { return nil }

func (t *memTx) RankedItems(_ domain.Context, minRank float64) ([]domain.Item, error) {
	var out []domain.Item
	for _, it := range t.st.items {
		if it.Rank != nil && *it.Rank >= minRank {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if *out[i].Rank != *out[j].Rank {
			return *out[i].Rank > *out[j].Rank
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *memTx) ApplyTrainingScores(_ domain.Context, scores map[string]float64, now time.Time) (int64, error) {
	if len(scores) == 0 {
		return 0, nil
	}
	now = now.UTC()
	var updated int64
	for id, it := range t.st.items {
		entry, err := domain.DecodeEntry(it.Payload)
		if err != nil {
			continue
		}
		link := entry.BestLink()
		if link == "" {
			continue
		}
		rank, ok := scores[link]
		if !ok {
			continue
		}
		it.Rank = &rank
		it.RankedAt = &now
		t.st.items[id] = it
		updated++
	}
	return updated, nil
}

func (t *memTx) SourceItemCounts(_ domain.Context) (map[int64]int64, error) {
	out := map[int64]int64{}
	for _, it := range t.st.items {
		out[it.SourceID]++
	}
	return out, nil
}

func (t *memTx) Stats(_ domain.Context) (*domain.Stats, error) {
	st := &domain.Stats{QueueSizes: map[domain.Queue]int64{
		domain.QueuePending: int64(len(t.st.pending)),
		domain.QueueScored:  int64(len(t.st.scored)),
		domain.QueueError:   int64(len(t.st.errors)),
	}}
	st.Sources = int64(len(t.st.sources))
	st.Items = int64(len(t.st.items))

	todayStart := time.Now().UTC().Truncate(24 * time.Hour)
	counts := map[int64]int64{}
	rankSums := map[int64]float64{}
	rankCounts := map[int64]int64{}
	for _, it := range t.st.items {
		counts[it.SourceID]++
		if !it.DiscoveredAt.Before(todayStart) {
			st.ItemsToday++
		}
		if it.RankedAt != nil && !it.RankedAt.Before(todayStart) {
			st.ScoredToday++
		}
		if it.Rank != nil {
			rankSums[it.SourceID] += *it.Rank
			rankCounts[it.SourceID]++
		}
	}
	if st.Sources > 0 {
		st.AvgItemsPerSrc = float64(st.Items) / float64(st.Sources)
	}
	for id := range t.st.sources {
		if counts[id] == 0 {
			st.EmptySources++
		}
	}

	type srcAgg struct {
		id   int64
		name string
	}
	var all []srcAgg
	for id, src := range t.st.sources {
		all = append(all, srcAgg{id: id, name: src.Name})
	}

	byCount := make([]srcAgg, 0, len(all))
	for _, a := range all {
		if counts[a.id] > 0 {
			byCount = append(byCount, a)
		}
	}
	sort.Slice(byCount, func(i, j int) bool {
		if counts[byCount[i].id] != counts[byCount[j].id] {
			return counts[byCount[i].id] > counts[byCount[j].id]
		}
		return byCount[i].id < byCount[j].id
	})
	for i, a := range byCount {
		if i == 3 {
			break
		}
		st.TopByItemCount = append(st.TopByItemCount, domain.SourceCount{Name: a.name, Items: counts[a.id]})
	}

	byRank := make([]srcAgg, 0, len(all))
	for _, a := range all {
		if rankCounts[a.id] > 0 {
			byRank = append(byRank, a)
		}
	}
	avg := func(id int64) float64 { return rankSums[id] / float64(rankCounts[id]) }
	sort.Slice(byRank, func(i, j int) bool {
		if avg(byRank[i].id) != avg(byRank[j].id) {
			return avg(byRank[i].id) > avg(byRank[j].id)
		}
		return byRank[i].id < byRank[j].id
	})
	for i, a := range byRank {
		if i == 10 {
			break
		}
		st.TopByAvgRank = append(st.TopByAvgRank, domain.SourceRank{Name: a.name, AvgRank: avg(a.id)})
	}
	return st, nil
}
