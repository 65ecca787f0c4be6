// Package usecase contains the application services behind the control
// surface.
package usecase

import (
	"fmt"
	"net/url"
	"time"

	"github.com/feedloom/curator/internal/domain"
)

// FeedService manages the polled sources on behalf of the control surface.
type FeedService struct {
	Store           domain.Store
	DefaultInterval time.Duration
}

// NewFeedService constructs a FeedService.
func NewFeedService(store domain.Store, defaultInterval time.Duration) FeedService {
	return FeedService{Store: store, DefaultInterval: defaultInterval}
}

// FeedWithCount is one source plus its item count, the list shape the
// control surface serves.
type FeedWithCount struct {
	Source domain.Source
	Items  int64
}

// List returns every source with its item count.
func (s FeedService) List(ctx domain.Context) ([]FeedWithCount, error) {
	var out []FeedWithCount
	err := s.Store.WithTx(ctx, func(tx domain.Tx) error {
		sources, err := tx.ListSources(ctx)
		if err != nil {
			return err
		}
		counts, err := tx.SourceItemCounts(ctx)
		if err != nil {
			return err
		}
		out = make([]FeedWithCount, 0, len(sources))
		for _, src := range sources {
			out = append(out, FeedWithCount{Source: src, Items: counts[src.ID]})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Add creates a source with the default polling interval. An empty name
// defaults to the URL host. Duplicate URLs surface as ErrConflict.
func (s FeedService) Add(ctx domain.Context, rawURL, name string) (domain.Source, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return domain.Source{}, fmt.Errorf("%w: feed url must be absolute", domain.ErrInvalidArgument)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return domain.Source{}, fmt.Errorf("%w: unsupported scheme %q", domain.ErrInvalidArgument, parsed.Scheme)
	}
	if name == "" {
		name = parsed.Host
	}

	var src domain.Source
	err = s.Store.WithTx(ctx, func(tx domain.Tx) error {
		var err error
		src, err = tx.CreateSource(ctx, rawURL, name, s.DefaultInterval)
		return err
	})
	if err != nil {
		return domain.Source{}, err
	}
	return src, nil
}

// Delete removes a source; its items and queue slots cascade away with it.
func (s FeedService) Delete(ctx domain.Context, id int64) error {
	return s.Store.WithTx(ctx, func(tx domain.Tx) error {
		return tx.DeleteSource(ctx, id)
	})
}
