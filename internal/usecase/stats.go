package usecase

import (
	"github.com/feedloom/curator/internal/domain"
)

// StatsService serves the read-only pipeline aggregate.
type StatsService struct {
	Store domain.Store
}

// NewStatsService constructs a StatsService.
func NewStatsService(store domain.Store) StatsService { return StatsService{Store: store} }

// Collect gathers the aggregate in one transaction snapshot.
func (s StatsService) Collect(ctx domain.Context) (*domain.Stats, error) {
	var out *domain.Stats
	err := s.Store.WithTx(ctx, func(tx domain.Tx) error {
		var err error
		out, err = tx.Stats(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
