package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/feedloom/curator/internal/adapter/observability"
	"github.com/feedloom/curator/internal/config"
	"github.com/feedloom/curator/internal/domain"
)

// Poller is the polling scheduler. One iteration handles at most one source:
// the one checked longest ago. The per-source interval is a clamped
// proportional regulator: down one step when the poll found fresh items, up
// one step when it found none.
type Poller struct {
	store   domain.Store
	decoder domain.SourceDecoder
	cfg     config.Config
	now     func() time.Time
}

// NewPoller builds the polling scheduler worker.
func NewPoller(store domain.Store, decoder domain.SourceDecoder, cfg config.Config) *Poller {
	return &Poller{store: store, decoder: decoder, cfg: cfg, now: time.Now}
}

// Name identifies the worker in logs.
func (p *Poller) Name() string { return "poller" }

// Run loops until cancellation. Store failures are logged and absorbed by an
// idle sleep; the aborted transaction left queue state untouched, so the
// next iteration picks the work up again.
func (p *Poller) Run(ctx context.Context) error {
	slog.Info("polling scheduler started")
	for {
		if ctx.Err() != nil {
			return nil
		}
		processed, err := p.PollOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("poll iteration failed", slog.Any("error", err))
			observability.ObservePoll(observability.PollStoreError, 0)
			if !sleepCtx(ctx, p.cfg.IdleSleep) {
				return nil
			}
			continue
		}
		if !processed {
			if !sleepCtx(ctx, p.cfg.IdleSleep) {
				return nil
			}
		}
	}
}

// PollOnce processes the next due source, reporting whether it did anything.
// False means no source was due and the caller should idle.
func (p *Poller) PollOnce(ctx context.Context) (bool, error) {
	var src *domain.Source
	err := p.store.WithTx(ctx, func(tx domain.Tx) error {
		var err error
		src, err = tx.NextSourceDue(ctx)
		return err
	})
	if err != nil {
		return false, err
	}
	if src == nil {
		return false, nil
	}

	now := p.now().UTC()
	if src.NextCheck().After(now) {
		return false, nil
	}

	slog.Info("checking source",
		slog.String("name", src.Name),
		slog.String("url", src.URL),
		slog.Duration("interval", src.Interval))

	// Decode holds no transaction; a slow feed must not stall the store.
	items, err := p.decoder.Decode(ctx, src.URL)
	if err != nil {
		slog.Error("source decode failed",
			slog.String("name", src.Name),
			slog.String("url", src.URL),
			slog.Any("error", err))
		observability.ObservePoll(observability.PollDecodeError, 0)
		// Record the attempt so the source is not retried immediately; the
		// interval stays as it was.
		markErr := p.store.WithTx(ctx, func(tx domain.Tx) error {
			return tx.MarkSourceChecked(ctx, src.ID, p.now().UTC())
		})
		if markErr != nil && !errors.Is(markErr, domain.ErrNotFound) {
			return false, markErr
		}
		return true, nil
	}

	var newCount int
	err = p.store.WithTx(ctx, func(tx domain.Tx) error {
		newCount = 0
		for _, item := range items {
			if item.GUID == "" {
				continue
			}
			itemID, fresh, err := tx.UpsertItem(ctx, src.ID, item.GUID, item.Payload, p.now().UTC())
			if err != nil {
				return err
			}
			if !fresh {
				continue
			}
			if err := tx.EnqueuePending(ctx, itemID, p.now().UTC()); err != nil {
				return err
			}
			newCount++
			slog.Info("new item",
				slog.String("source", src.Name),
				slog.String("title", nonEmpty(item.Title, item.GUID)))
		}

		interval := src.Interval
		if newCount > 0 {
			interval -= p.cfg.AdjustStep
		} else {
			interval += p.cfg.AdjustStep
		}
		interval = clampInterval(interval, p.cfg.MinInterval, p.cfg.MaxInterval)
		return tx.UpdateSourceAfterPoll(ctx, src.ID, interval, p.now().UTC())
	})
	if err != nil {
		// The source went away mid-poll; the whole batch was discarded with
		// the transaction, which is exactly the contract.
		if errors.Is(err, domain.ErrNotFound) {
			slog.Warn("source deleted during poll, batch discarded",
				slog.String("name", src.Name), slog.String("url", src.URL))
			return true, nil
		}
		return false, err
	}

	if newCount > 0 {
		slog.Info("poll found new items",
			slog.String("source", src.Name), slog.Int("new", newCount))
		observability.ObservePoll(observability.PollNewItems, newCount)
	} else {
		observability.ObservePoll(observability.PollNoItems, 0)
	}
	return true, nil
}

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}
