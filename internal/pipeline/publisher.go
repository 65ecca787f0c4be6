package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/feedloom/curator/internal/adapter/observability"
	"github.com/feedloom/curator/internal/config"
	"github.com/feedloom/curator/internal/domain"
)

// maxBackoffSlice caps how long one backoff sleep lasts so cancellation is
// still observed promptly during a long rate-limit window.
const maxBackoffSlice = time.Minute

// PubDispatcher is the publishing dispatcher: it drains the scored queue,
// drops items under the threshold, and delivers the rest to the chat
// channel. One delivery attempt per item is the policy; only rate limits
// keep the slot for later.
//
// backoffUntil is deliberately worker-local and unpersisted. After a restart
// every scored slot is immediately eligible again; a fresh burst of
// rate-limit responses simply re-arms it.
type PubDispatcher struct {
	store     domain.Store
	publisher domain.Publisher
	cfg       config.Config
	now       func() time.Time

	backoffUntil time.Time
}

// NewPubDispatcher builds the publishing dispatcher worker.
func NewPubDispatcher(store domain.Store, publisher domain.Publisher, cfg config.Config) *PubDispatcher {
	return &PubDispatcher{store: store, publisher: publisher, cfg: cfg, now: time.Now}
}

// Name identifies the worker in logs.
func (w *PubDispatcher) Name() string { return "publisher" }

// Run loops until cancellation, honouring the rate-limit backoff before
// touching the scored queue.
func (w *PubDispatcher) Run(ctx context.Context) error {
	slog.Info("publishing dispatcher started")
	for {
		if ctx.Err() != nil {
			return nil
		}
		if remaining := w.backoffUntil.Sub(w.now()); remaining > 0 {
			slog.Info("publisher rate limited, waiting",
				slog.Duration("remaining", remaining))
			if !sleepCtx(ctx, min(remaining, maxBackoffSlice)) {
				return nil
			}
			continue
		}
		processed, err := w.PublishOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("publish iteration failed", slog.Any("error", err))
			if !sleepCtx(ctx, w.cfg.PubIdleSleep) {
				return nil
			}
			continue
		}
		if !processed {
			if !sleepCtx(ctx, w.cfg.PubIdleSleep) {
				return nil
			}
		}
	}
}

// PublishOnce handles the oldest scored slot, reporting whether there was
// one. Threshold skips, delivery failures and successes all release the
// slot; a rate limit leaves it in place and arms the backoff.
func (w *PubDispatcher) PublishOnce(ctx context.Context) (bool, error) {
	var claim *domain.Claim
	err := w.store.WithTx(ctx, func(tx domain.Tx) error {
		var err error
		claim, err = tx.ClaimNextScored(ctx)
		return err
	})
	if err != nil {
		return false, err
	}
	if claim == nil {
		return false, nil
	}

	var rank float64
	if claim.Item.Rank != nil {
		rank = *claim.Item.Rank
	}
	slotID := claim.Slot.ID

	if rank < w.cfg.PublishThreshold {
		slog.Info("skipping below threshold",
			slog.String("source", claim.Source.Name),
			slog.Float64("rank", rank),
			slog.Float64("threshold", w.cfg.PublishThreshold))
		observability.ObservePublish(observability.PublishSkipped)
		err = w.store.WithTx(ctx, func(tx domain.Tx) error {
			return tx.FinishScored(ctx, slotID)
		})
		return err == nil, err
	}

	entry, decErr := domain.DecodeEntry(claim.Item.Payload)
	if decErr != nil {
		slog.Warn("unparseable payload, publishing what we have",
			slog.String("source", claim.Source.Name),
			slog.String("guid", claim.Item.GUID),
			slog.Any("error", decErr))
	}
	message := FormatMessage(rank, claim.Source.Name, entry)

	slog.Info("publishing",
		slog.String("source", claim.Source.Name),
		slog.String("title", nonEmpty(entry.Title, claim.Item.GUID)),
		slog.Float64("rank", rank))

	// Delivery runs outside any transaction.
	sendErr := w.publisher.Send(ctx, message)
	switch {
	case sendErr == nil:
		observability.ObservePublish(observability.PublishOK)
		err = w.store.WithTx(ctx, func(tx domain.Tx) error {
			return tx.FinishScored(ctx, slotID)
		})
	case domain.IsRateLimited(sendErr):
		w.backoffUntil = w.now().Add(w.cfg.RateLimitBackoff)
		slog.Warn("publisher rate limited, backing off",
			slog.Duration("backoff", w.cfg.RateLimitBackoff),
			slog.Any("error", sendErr))
		observability.ObservePublish(observability.PublishRateLimited)
		err = w.store.WithTx(ctx, func(tx domain.Tx) error {
			return tx.ReturnScored(ctx, slotID)
		})
	default:
		// Single attempt: the item was already judged worth publishing, a
		// failed delivery does not earn it another trip through the queue.
		slog.Error("publish failed, dropping item",
			slog.String("source", claim.Source.Name),
			slog.String("guid", claim.Item.GUID),
			slog.Any("error", sendErr))
		observability.ObservePublish(observability.PublishFailed)
		err = w.store.WithTx(ctx, func(tx domain.Tx) error {
			return tx.FinishScored(ctx, slotID)
		})
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
