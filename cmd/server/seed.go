package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/feedloom/curator/internal/config"
	"github.com/feedloom/curator/internal/domain"
	"github.com/feedloom/curator/internal/usecase"
)

// seedFeeds registers the feeds listed in a YAML file. Already-registered
// URLs are skipped, so seeding is idempotent across restarts.
func seedFeeds(ctx context.Context, feeds usecase.FeedService, path string) error {
	list, err := config.LoadSeedFeeds(path)
	if err != nil {
		return err
	}

	var added int
	for _, f := range list {
		src, err := feeds.Add(ctx, f.URL, f.Name)
		if errors.Is(err, domain.ErrConflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("seed %s: %w", f.URL, err)
		}
		added++
		slog.Info("feed seeded", slog.Int64("id", src.ID), slog.String("url", src.URL))
	}
	slog.Info("feed seeding done", slog.Int("seeded", added), slog.Int("listed", len(list)))
	return nil
}
