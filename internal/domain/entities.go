package domain

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrRateLimited     = errors.New("rate limited")
	ErrStore           = errors.New("store failure")
	ErrDecode          = errors.New("decode failure")
	ErrRanker          = errors.New("ranker failure")
	ErrInternal        = errors.New("internal error")
)

// Queue names the three persistent holding tables.
type Queue string

const (
	QueuePending Queue = "pending"
	QueueScored  Queue = "scored"
	QueueError   Queue = "error"
)

// Source is a remote feed URL plus its polling metadata.
// Invariants: URL unique; Interval within [MinInterval, MaxInterval];
// LastChecked nil until the first poll completes.
type Source struct {
	ID          int64
	URL         string
	Name        string
	LastChecked *time.Time
	Interval    time.Duration
	CreatedAt   time.Time
}

// NextCheck returns the earliest instant the source is due again.
// A source that has never been checked is due immediately.
func (s Source) NextCheck() time.Time {
	if s.LastChecked == nil {
		return time.Time{}
	}
	return s.LastChecked.Add(s.Interval)
}

// Item is one entry discovered from a source, identified by (SourceID, GUID).
// Payload is the decoder's output stored verbatim; everything else about the
// entry (title, link, summary) is read back out of it. Rank and RankedAt are
// set once by the scoring dispatcher.
type Item struct {
	ID           int64
	SourceID     int64
	GUID         string
	Payload      string
	DiscoveredAt time.Time
	Rank         *float64
	RankedAt     *time.Time
}

// Slot is a single queue row referring to exactly one item. For error slots
// Message carries the failure text; it is empty for the other queues.
type Slot struct {
	ID        int64
	ItemID    int64
	Message   string
	CreatedAt time.Time
}

// Claim bundles a queue slot with its item and owning source, as returned by
// the claim operations.
type Claim struct {
	Slot   Slot
	Item   Item
	Source Source
}

// DecodedItem is one (guid, title, payload) triple produced by a SourceDecoder.
type DecodedItem struct {
	GUID    string
	Title   string
	Payload string
}

// TrainingItem is one (url, score) pair from the ranker's training set.
type TrainingItem struct {
	URL   string
	Score float64
}

// Stats is the read-only aggregate served by the control surface.
type Stats struct {
	Sources        int64
	Items          int64
	ItemsToday     int64
	ScoredToday    int64
	QueueSizes     map[Queue]int64
	AvgItemsPerSrc float64
	TopByItemCount []SourceCount
	TopByAvgRank   []SourceRank
	EmptySources   int64
}

// SourceCount pairs a source name with its item count.
type SourceCount struct {
	Name  string
	Items int64
}

// SourceRank pairs a source name with the average rank of its ranked items.
type SourceRank struct {
	Name    string
	AvgRank float64
}

// Store ports

// Tx is the scoped transaction handle every pipeline mutation goes through.
// Multi-effect operations (upsert+enqueue, score+promote) must run on one Tx.
//
// Claim operations return nil when the queue is empty. ClaimNextPending and
// ClaimNextScored read the oldest slot (createdAt, then row id) and leave it
// in place; the successor write removes it.
type Tx interface {
	NextSourceDue(ctx Context) (*Source, error)
	GetSource(ctx Context, id int64) (Source, error)
	CreateSource(ctx Context, url, name string, interval time.Duration) (Source, error)
	ListSources(ctx Context) ([]Source, error)
	DeleteSource(ctx Context, id int64) error
	UpdateSourceAfterPoll(ctx Context, id int64, interval time.Duration, now time.Time) error
	MarkSourceChecked(ctx Context, id int64, now time.Time) error

	UpsertItem(ctx Context, sourceID int64, guid, payload string, now time.Time) (int64, bool, error)
	EnqueuePending(ctx Context, itemID int64, now time.Time) error
	ClaimNextPending(ctx Context) (*Claim, error)
	RecordScore(ctx Context, itemID int64, rank float64, now time.Time) error
	RecordScoreError(ctx Context, itemID int64, message string, now time.Time) error
	ClaimNextScored(ctx Context) (*Claim, error)
	FinishScored(ctx Context, slotID int64) error
	ReturnScored(ctx Context, slotID int64) error

	RankedItems(ctx Context, minRank float64) ([]Item, error)
	ApplyTrainingScores(ctx Context, scores map[string]float64, now time.Time) (int64, error)
	SourceItemCounts(ctx Context) (map[int64]int64, error)
	Stats(ctx Context) (*Stats, error)
}

// Store is the single source of truth for the pipeline. WithTx runs fn inside
// one transaction: commit on nil return, rollback otherwise. Implementations
// surface persistence errors wrapped with ErrStore.
type Store interface {
	WithTx(ctx Context, fn func(tx Tx) error) error
}

// Capability ports (the external collaborators, exchanged only as these)

// SourceDecoder fetches a source URL and projects it into decoded items.
// Failures are reported, never retried internally.
type SourceDecoder interface {
	Decode(ctx Context, url string) ([]DecodedItem, error)
}

// Ranker scores an item link. Rank is a single bounded attempt; TrainingSet
// returns the reference (url, score) pairs the ranker was trained on.
type Ranker interface {
	Rank(ctx Context, link string) (float64, error)
	TrainingSet(ctx Context) ([]TrainingItem, error)
}

// Publisher delivers one formatted message to the configured chat channel.
type Publisher interface {
	Send(ctx Context, message string) error
}

// IsRateLimited reports whether a publisher failure is a rate-limit signal:
// either the ErrRateLimited sentinel or failure text containing "rate limit"
// or "too many" (case-insensitive), matching what chat backends emit.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many")
}

// Context is an alias to allow decoupling from std context in domain
// Adapters and usecases should pass context.Context through
type Context = context.Context
