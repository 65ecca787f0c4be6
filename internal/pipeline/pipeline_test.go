package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedloom/curator/internal/config"
	"github.com/feedloom/curator/internal/domain"
	"github.com/feedloom/curator/internal/storemem"
)

func testConfig() config.Config {
	return config.Config{
		MinInterval:      300 * time.Second,
		MaxInterval:      14400 * time.Second,
		DefaultInterval:  3600 * time.Second,
		AdjustStep:       60 * time.Second,
		IdleSleep:        time.Millisecond,
		ScoreIdleSleep:   time.Millisecond,
		RankerTimeout:    5 * time.Second,
		PublishThreshold: 8.0,
		PubIdleSleep:     time.Millisecond,
		RateLimitBackoff: 300 * time.Second,
	}
}

type fakeDecoder struct {
	items  []domain.DecodedItem
	err    error
	onCall func()
	calls  int
}

func (f *fakeDecoder) Decode(_ domain.Context, _ string) ([]domain.DecodedItem, error) {
	f.calls++
	if f.onCall != nil {
		f.onCall()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.items, nil
}

type fakeRanker struct {
	fn func(link string) (float64, error)
}

func (f fakeRanker) Rank(_ domain.Context, link string) (float64, error) { return f.fn(link) }
func (f fakeRanker) TrainingSet(_ domain.Context) ([]domain.TrainingItem, error) {
	return nil, nil
}

type fakePublisher struct {
	errs     []error
	messages []string
}

func (f *fakePublisher) Send(_ domain.Context, message string) error {
	f.messages = append(f.messages, message)
	if len(f.errs) >= len(f.messages) {
		return f.errs[len(f.messages)-1]
	}
	return nil
}

func seedSource(t *testing.T, store *storemem.Store, interval time.Duration) domain.Source {
	t.Helper()
	var src domain.Source
	err := store.WithTx(context.Background(), func(tx domain.Tx) error {
		var err error
		src, err = tx.CreateSource(context.Background(), "https://example.com/rss", "example", interval)
		return err
	})
	require.NoError(t, err)
	return src
}

func queueSizes(t *testing.T, store *storemem.Store) map[domain.Queue]int64 {
	t.Helper()
	var sizes map[domain.Queue]int64
	require.NoError(t, store.WithTx(context.Background(), func(tx domain.Tx) error {
		st, err := tx.Stats(context.Background())
		if err != nil {
			return err
		}
		sizes = st.QueueSizes
		return nil
	}))
	return sizes
}

func getSource(t *testing.T, store *storemem.Store, id int64) domain.Source {
	t.Helper()
	var src domain.Source
	require.NoError(t, store.WithTx(context.Background(), func(tx domain.Tx) error {
		var err error
		src, err = tx.GetSource(context.Background(), id)
		return err
	}))
	return src
}

func entryPayload(t *testing.T, link string) string {
	t.Helper()
	payload, err := domain.EncodeEntry(domain.Entry{Title: "t", Link: link})
	require.NoError(t, err)
	return payload
}

// seedPending inserts one item straight into the pending queue.
func seedPending(t *testing.T, store *storemem.Store, src domain.Source, guid, payload string) int64 {
	t.Helper()
	var itemID int64
	require.NoError(t, store.WithTx(context.Background(), func(tx domain.Tx) error {
		var err error
		itemID, _, err = tx.UpsertItem(context.Background(), src.ID, guid, payload, time.Now())
		if err != nil {
			return err
		}
		return tx.EnqueuePending(context.Background(), itemID, time.Now())
	}))
	return itemID
}

// seedScored inserts one item straight into the scored queue with a rank.
func seedScored(t *testing.T, store *storemem.Store, src domain.Source, guid string, rank float64) int64 {
	t.Helper()
	itemID := seedPending(t, store, src, guid, entryPayload(t, "https://example.com/"+guid))
	require.NoError(t, store.WithTx(context.Background(), func(tx domain.Tx) error {
		return tx.RecordScore(context.Background(), itemID, rank, time.Now())
	}))
	return itemID
}

func TestPollerAdaptiveIntervalSpeedsUp(t *testing.T) {
	store := storemem.New()
	src := seedSource(t, store, 3600*time.Second)
	decoder := &fakeDecoder{items: []domain.DecodedItem{
		{GUID: "a", Title: "A", Payload: "<entry/>"},
		{GUID: "b", Title: "B", Payload: "<entry/>"},
	}}
	p := NewPoller(store, decoder, testConfig())

	base := time.Now().UTC()
	p.now = func() time.Time { return base }

	processed, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	require.True(t, processed)

	after := getSource(t, store, src.ID)
	assert.Equal(t, 3540*time.Second, after.Interval)
	assert.EqualValues(t, 2, queueSizes(t, store)[domain.QueuePending])

	// Same guids again: no duplicates, interval backs off.
	p.now = func() time.Time { return base.Add(2 * time.Hour) }
	processed, err = p.PollOnce(context.Background())
	require.NoError(t, err)
	require.True(t, processed)

	after = getSource(t, store, src.ID)
	assert.Equal(t, 3600*time.Second, after.Interval)
	assert.EqualValues(t, 2, queueSizes(t, store)[domain.QueuePending])
}

func TestPollerIntervalClampsAtFloor(t *testing.T) {
	store := storemem.New()
	src := seedSource(t, store, 300*time.Second)
	decoder := &fakeDecoder{items: []domain.DecodedItem{{GUID: "fresh-1", Payload: "<entry/>"}}}
	p := NewPoller(store, decoder, testConfig())

	processed, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	require.True(t, processed)

	after := getSource(t, store, src.ID)
	assert.Equal(t, 300*time.Second, after.Interval)
}

func TestPollerIntervalClampsAtCeiling(t *testing.T) {
	store := storemem.New()
	src := seedSource(t, store, 14400*time.Second)
	decoder := &fakeDecoder{}
	p := NewPoller(store, decoder, testConfig())

	processed, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	require.True(t, processed)

	after := getSource(t, store, src.ID)
	assert.Equal(t, 14400*time.Second, after.Interval)
}

func TestPollerNotDueIdles(t *testing.T) {
	store := storemem.New()
	src := seedSource(t, store, 3600*time.Second)
	decoder := &fakeDecoder{}
	p := NewPoller(store, decoder, testConfig())

	_, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, decoder.calls)

	// Just checked, not due: the decoder must not be touched.
	processed, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
	assert.Equal(t, 1, decoder.calls)
	_ = src
}

func TestPollerSkipsEntriesWithoutGUID(t *testing.T) {
	store := storemem.New()
	seedSource(t, store, 300*time.Second)
	decoder := &fakeDecoder{items: []domain.DecodedItem{
		{GUID: "", Title: "nameless", Payload: "<entry/>"},
		{GUID: "ok", Title: "ok", Payload: "<entry/>"},
	}}
	p := NewPoller(store, decoder, testConfig())

	_, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, queueSizes(t, store)[domain.QueuePending])
}

func TestPollerDecoderFailureLeavesStateClean(t *testing.T) {
	store := storemem.New()
	src := seedSource(t, store, 3600*time.Second)
	seedPending(t, store, src, "existing", "<entry/>")

	decoder := &fakeDecoder{err: fmt.Errorf("%w: connection refused", domain.ErrDecode)}
	p := NewPoller(store, decoder, testConfig())

	processed, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	require.True(t, processed)

	after := getSource(t, store, src.ID)
	require.NotNil(t, after.LastChecked)
	assert.Equal(t, 3600*time.Second, after.Interval)

	sizes := queueSizes(t, store)
	assert.EqualValues(t, 1, sizes[domain.QueuePending])
	assert.EqualValues(t, 0, sizes[domain.QueueScored])
	assert.EqualValues(t, 0, sizes[domain.QueueError])
}

func TestPollerSourceDeletedMidPoll(t *testing.T) {
	store := storemem.New()
	src := seedSource(t, store, 300*time.Second)
	decoder := &fakeDecoder{items: []domain.DecodedItem{{GUID: "a", Payload: "<entry/>"}}}
	decoder.onCall = func() {
		require.NoError(t, store.WithTx(context.Background(), func(tx domain.Tx) error {
			return tx.DeleteSource(context.Background(), src.ID)
		}))
	}
	p := NewPoller(store, decoder, testConfig())

	processed, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)

	require.NoError(t, store.WithTx(context.Background(), func(tx domain.Tx) error {
		st, err := tx.Stats(context.Background())
		require.NoError(t, err)
		assert.Zero(t, st.Items)
		assert.Zero(t, st.QueueSizes[domain.QueuePending])
		return err
	}))
}

func TestScorerOutcomeRouting(t *testing.T) {
	store := storemem.New()
	src := seedSource(t, store, 3600*time.Second)
	seedPending(t, store, src, "good", entryPayload(t, "https://example.com/good"))
	seedPending(t, store, src, "zero", entryPayload(t, "https://example.com/zero"))
	seedPending(t, store, src, "broken", entryPayload(t, "https://example.com/broken"))

	ranker := fakeRanker{fn: func(link string) (float64, error) {
		switch link {
		case "https://example.com/good":
			return 9.0, nil
		case "https://example.com/zero":
			return 0, nil
		default:
			return 0, fmt.Errorf("%w: request timed out after 120s", domain.ErrRanker)
		}
	}}
	s := NewScorer(store, ranker, testConfig())

	for range 3 {
		processed, err := s.ScoreOnce(context.Background())
		require.NoError(t, err)
		require.True(t, processed)
	}

	sizes := queueSizes(t, store)
	assert.EqualValues(t, 0, sizes[domain.QueuePending])
	assert.EqualValues(t, 1, sizes[domain.QueueScored])
	assert.EqualValues(t, 2, sizes[domain.QueueError])

	require.NoError(t, store.WithTx(context.Background(), func(tx domain.Tx) error {
		c, err := tx.ClaimNextScored(context.Background())
		require.NoError(t, err)
		require.NotNil(t, c)
		assert.Equal(t, "good", c.Item.GUID)
		require.NotNil(t, c.Item.Rank)
		assert.InDelta(t, 9.0, *c.Item.Rank, 0.001)
		return nil
	}))
}

func TestScorerZeroRankMessage(t *testing.T) {
	store := storemem.New()
	src := seedSource(t, store, 3600*time.Second)
	itemID := seedPending(t, store, src, "zero", entryPayload(t, "https://example.com/zero"))

	s := NewScorer(store, fakeRanker{fn: func(string) (float64, error) { return 0, nil }}, testConfig())
	processed, err := s.ScoreOnce(context.Background())
	require.NoError(t, err)
	require.True(t, processed)

	// Exactly one of scored/error holds the item, with the literal message.
	require.NoError(t, store.WithTx(context.Background(), func(tx domain.Tx) error {
		scored, err := tx.ClaimNextScored(context.Background())
		require.NoError(t, err)
		assert.Nil(t, scored)
		return nil
	}))
	sizes := queueSizes(t, store)
	assert.EqualValues(t, 1, sizes[domain.QueueError])
	_ = itemID
}

func TestScorerFallsBackToGUIDWhenNoLink(t *testing.T) {
	store := storemem.New()
	src := seedSource(t, store, 3600*time.Second)
	seedPending(t, store, src, "https://example.com/fallback-guid", "<entry><title>no link</title></entry>")

	var ranked string
	s := NewScorer(store, fakeRanker{fn: func(link string) (float64, error) {
		ranked = link
		return 5, nil
	}}, testConfig())

	processed, err := s.ScoreOnce(context.Background())
	require.NoError(t, err)
	require.True(t, processed)
	assert.Equal(t, "https://example.com/fallback-guid", ranked)
}

func TestPublisherThresholdSkip(t *testing.T) {
	store := storemem.New()
	src := seedSource(t, store, 3600*time.Second)
	seedScored(t, store, src, "low", 7.9)

	pub := &fakePublisher{}
	w := NewPubDispatcher(store, pub, testConfig())

	processed, err := w.PublishOnce(context.Background())
	require.NoError(t, err)
	require.True(t, processed)

	assert.Empty(t, pub.messages)
	assert.EqualValues(t, 0, queueSizes(t, store)[domain.QueueScored])
}

func TestPublisherSuccessFinishesSlot(t *testing.T) {
	store := storemem.New()
	src := seedSource(t, store, 3600*time.Second)
	seedScored(t, store, src, "hit", 9.0)

	pub := &fakePublisher{}
	w := NewPubDispatcher(store, pub, testConfig())

	processed, err := w.PublishOnce(context.Background())
	require.NoError(t, err)
	require.True(t, processed)

	require.Len(t, pub.messages, 1)
	assert.Contains(t, pub.messages[0], "**9.0** · example")
	assert.Contains(t, pub.messages[0], "https://example.com/hit")
	assert.EqualValues(t, 0, queueSizes(t, store)[domain.QueueScored])
}

func TestPublisherRateLimitBackoff(t *testing.T) {
	store := storemem.New()
	src := seedSource(t, store, 3600*time.Second)
	seedScored(t, store, src, "one", 9.0)
	seedScored(t, store, src, "two", 9.0)

	pub := &fakePublisher{errs: []error{errors.New("rate limit hit")}}
	cfg := testConfig()
	w := NewPubDispatcher(store, pub, cfg)

	base := time.Now()
	w.now = func() time.Time { return base }

	processed, err := w.PublishOnce(context.Background())
	require.NoError(t, err)
	require.True(t, processed)

	// Slot stays and the backoff is armed for the full window.
	assert.EqualValues(t, 2, queueSizes(t, store)[domain.QueueScored])
	assert.False(t, w.backoffUntil.Before(base.Add(cfg.RateLimitBackoff)))
}

func TestPublisherTypedRateLimitSignal(t *testing.T) {
	store := storemem.New()
	src := seedSource(t, store, 3600*time.Second)
	seedScored(t, store, src, "one", 9.0)

	pub := &fakePublisher{errs: []error{fmt.Errorf("send: %w", domain.ErrRateLimited)}}
	w := NewPubDispatcher(store, pub, testConfig())

	processed, err := w.PublishOnce(context.Background())
	require.NoError(t, err)
	require.True(t, processed)
	assert.EqualValues(t, 1, queueSizes(t, store)[domain.QueueScored])
	assert.False(t, w.backoffUntil.IsZero())
}

func TestPublisherGenericFailureDropsSlot(t *testing.T) {
	store := storemem.New()
	src := seedSource(t, store, 3600*time.Second)
	seedScored(t, store, src, "one", 9.0)

	pub := &fakePublisher{errs: []error{errors.New("channel deleted")}}
	w := NewPubDispatcher(store, pub, testConfig())

	processed, err := w.PublishOnce(context.Background())
	require.NoError(t, err)
	require.True(t, processed)

	assert.EqualValues(t, 0, queueSizes(t, store)[domain.QueueScored])
	assert.True(t, w.backoffUntil.IsZero())
}

// End to end through all three workers on the in-memory store: every item
// lands in at most one queue at every step, and the published message
// carries the formatted payload.
func TestPipelineEndToEnd(t *testing.T) {
	store := storemem.New()
	seedSource(t, store, 300*time.Second)

	decoder := &fakeDecoder{items: []domain.DecodedItem{
		{GUID: "hit", Title: "Big story", Payload: entryPayload(t, "https://example.com/hit")},
		{GUID: "miss", Title: "Small story", Payload: entryPayload(t, "https://example.com/miss")},
	}}
	ranker := fakeRanker{fn: func(link string) (float64, error) {
		if link == "https://example.com/hit" {
			return 9.5, nil
		}
		return 3.0, nil
	}}
	pub := &fakePublisher{}
	cfg := testConfig()

	p := NewPoller(store, decoder, cfg)
	s := NewScorer(store, ranker, cfg)
	w := NewPubDispatcher(store, pub, cfg)

	_, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	assertExclusive(t, store)

	for range 2 {
		_, err := s.ScoreOnce(context.Background())
		require.NoError(t, err)
		assertExclusive(t, store)
	}
	for range 2 {
		_, err := w.PublishOnce(context.Background())
		require.NoError(t, err)
		assertExclusive(t, store)
	}

	require.Len(t, pub.messages, 1)
	assert.Contains(t, pub.messages[0], "**9.5** · example")

	sizes := queueSizes(t, store)
	assert.EqualValues(t, 0, sizes[domain.QueuePending])
	assert.EqualValues(t, 0, sizes[domain.QueueScored])
	assert.EqualValues(t, 0, sizes[domain.QueueError])
}

// assertExclusive checks that no item sits in more than one queue.
func assertExclusive(t *testing.T, store *storemem.Store) {
	t.Helper()
	require.NoError(t, store.WithTx(context.Background(), func(tx domain.Tx) error {
		st, err := tx.Stats(context.Background())
		require.NoError(t, err)
		var total int64
		for _, n := range st.QueueSizes {
			total += n
		}
		assert.LessOrEqual(t, total, st.Items)
		return nil
	}))
}
