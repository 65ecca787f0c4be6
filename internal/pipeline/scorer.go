package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/feedloom/curator/internal/adapter/observability"
	"github.com/feedloom/curator/internal/config"
	"github.com/feedloom/curator/internal/domain"
)

// Scorer is the scoring dispatcher: it drains the pending queue roughly in
// arrival order, asks the ranker for a score, and promotes each item to the
// scored queue or parks it in the error queue. The pending slot is deleted
// only inside the success/error transaction, so a crash mid-scoring leaves
// the item claimable again.
type Scorer struct {
	store  domain.Store
	ranker domain.Ranker
	cfg    config.Config
	now    func() time.Time
}

// NewScorer builds the scoring dispatcher worker.
func NewScorer(store domain.Store, ranker domain.Ranker, cfg config.Config) *Scorer {
	return &Scorer{store: store, ranker: ranker, cfg: cfg, now: time.Now}
}

// Name identifies the worker in logs.
func (s *Scorer) Name() string { return "scorer" }

// Run loops until cancellation, idling when the pending queue is empty.
func (s *Scorer) Run(ctx context.Context) error {
	slog.Info("scoring dispatcher started")
	for {
		if ctx.Err() != nil {
			return nil
		}
		processed, err := s.ScoreOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("scoring iteration failed", slog.Any("error", err))
			if !sleepCtx(ctx, s.cfg.ScoreIdleSleep) {
				return nil
			}
			continue
		}
		if !processed {
			if !sleepCtx(ctx, s.cfg.ScoreIdleSleep) {
				return nil
			}
		}
	}
}

// ScoreOnce scores the oldest pending item, reporting whether there was one.
func (s *Scorer) ScoreOnce(ctx context.Context) (bool, error) {
	var claim *domain.Claim
	err := s.store.WithTx(ctx, func(tx domain.Tx) error {
		var err error
		claim, err = tx.ClaimNextPending(ctx)
		return err
	})
	if err != nil {
		return false, err
	}
	if claim == nil {
		return false, nil
	}

	entry, err := domain.DecodeEntry(claim.Item.Payload)
	if err != nil {
		slog.Warn("unparseable payload, scoring by guid",
			slog.String("source", claim.Source.Name),
			slog.String("guid", claim.Item.GUID),
			slog.Any("error", err))
	}
	link := entry.BestLink()
	if link == "" {
		link = claim.Item.GUID
	}

	slog.Info("scoring item",
		slog.String("source", claim.Source.Name),
		slog.String("link", link))

	// The ranker call runs outside any transaction and under its own
	// deadline; a hung scoring service costs one worker, not the store.
	rankCtx, cancel := context.WithTimeout(ctx, s.cfg.RankerTimeout)
	rank, rankErr := s.ranker.Rank(rankCtx, link)
	cancel()

	itemID := claim.Item.ID
	now := s.now().UTC()
	switch {
	case rankErr != nil:
		slog.Error("score failed",
			slog.String("source", claim.Source.Name),
			slog.String("link", link),
			slog.Any("error", rankErr))
		observability.ObserveScore(observability.ScoreError, 0)
		err = s.store.WithTx(ctx, func(tx domain.Tx) error {
			return tx.RecordScoreError(ctx, itemID, rankErr.Error(), now)
		})
	case rank == 0:
		slog.Warn("score returned zero",
			slog.String("source", claim.Source.Name),
			slog.String("link", link))
		observability.ObserveScore(observability.ScoreZero, 0)
		err = s.store.WithTx(ctx, func(tx domain.Tx) error {
			return tx.RecordScoreError(ctx, itemID, "Score returned 0", now)
		})
	default:
		slog.Info("scored",
			slog.String("source", claim.Source.Name),
			slog.String("link", link),
			slog.Float64("rank", rank))
		observability.ObserveScore(observability.ScoreOK, rank)
		err = s.store.WithTx(ctx, func(tx domain.Tx) error {
			return tx.RecordScore(ctx, itemID, rank, now)
		})
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
