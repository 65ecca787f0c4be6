package usecase

import (
	"time"

	"github.com/feedloom/curator/internal/domain"
)

// TrainingService syncs ranks back from the scoring service's training set:
// every stored item whose link appears in the set gets the trained score,
// everything else is untouched.
type TrainingService struct {
	Store  domain.Store
	Ranker domain.Ranker
}

// NewTrainingService constructs a TrainingService.
func NewTrainingService(store domain.Store, ranker domain.Ranker) TrainingService {
	return TrainingService{Store: store, Ranker: ranker}
}

// SyncResult reports how much a sync touched.
type SyncResult struct {
	Fetched int64
	Updated int64
}

// Sync fetches the training set and overwrites matching item ranks in one
// transaction.
func (s TrainingService) Sync(ctx domain.Context) (SyncResult, error) {
	items, err := s.Ranker.TrainingSet(ctx)
	if err != nil {
		return SyncResult{}, err
	}
	if len(items) == 0 {
		return SyncResult{}, nil
	}

	scores := make(map[string]float64, len(items))
	for _, it := range items {
		scores[it.URL] = it.Score
	}

	var updated int64
	err = s.Store.WithTx(ctx, func(tx domain.Tx) error {
		var err error
		updated, err = tx.ApplyTrainingScores(ctx, scores, time.Now().UTC())
		return err
	})
	if err != nil {
		return SyncResult{}, err
	}
	return SyncResult{Fetched: int64(len(items)), Updated: updated}, nil
}
