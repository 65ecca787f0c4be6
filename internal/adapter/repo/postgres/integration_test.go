//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/feedloom/curator/internal/adapter/repo/postgres"
	"github.com/feedloom/curator/internal/domain"
)

// startPostgres spins up a throwaway database for the duration of the test.
func startPostgres(t *testing.T) *postgres.Store {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "curator",
			"POSTGRES_PASSWORD": "curator",
			"POSTGRES_DB":       "curator",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432")
	require.NoError(t, err)
	dsn := fmt.Sprintf("postgres://curator:curator@%s:%s/curator?sslmode=disable", host, port.Port())

	pool, err := postgres.NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, postgres.WaitForDB(ctx, pool, 30*time.Second))
	require.NoError(t, postgres.EnsureSchema(ctx, pool))
	return postgres.NewStore(pool)
}

func TestStoreContract(t *testing.T) {
	store := startPostgres(t)
	ctx := context.Background()

	var src domain.Source
	require.NoError(t, store.WithTx(ctx, func(tx domain.Tx) error {
		var err error
		src, err = tx.CreateSource(ctx, "https://news.example.com/rss", "news", time.Hour)
		return err
	}))
	require.NotZero(t, src.ID)

	// Duplicate URL surfaces the conflict sentinel.
	err := store.WithTx(ctx, func(tx domain.Tx) error {
		_, err := tx.CreateSource(ctx, "https://news.example.com/rss", "other", time.Hour)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrConflict)

	// Upsert is idempotent per (source, guid).
	var firstID int64
	require.NoError(t, store.WithTx(ctx, func(tx domain.Tx) error {
		id, isNew, err := tx.UpsertItem(ctx, src.ID, "g1", "<payload/>", time.Now())
		if err != nil {
			return err
		}
		require.True(t, isNew)
		firstID = id
		id2, isNew2, err := tx.UpsertItem(ctx, src.ID, "g1", "<payload/>", time.Now())
		if err != nil {
			return err
		}
		assert.False(t, isNew2)
		assert.Equal(t, id, id2)
		return tx.EnqueuePending(ctx, id, time.Now())
	}))

	// pending -> scored -> done, exactly once.
	require.NoError(t, store.WithTx(ctx, func(tx domain.Tx) error {
		claim, err := tx.ClaimNextPending(ctx)
		if err != nil {
			return err
		}
		require.NotNil(t, claim)
		assert.Equal(t, firstID, claim.Item.ID)
		return tx.RecordScore(ctx, claim.Item.ID, 8.5, time.Now())
	}))
	require.NoError(t, store.WithTx(ctx, func(tx domain.Tx) error {
		claim, err := tx.ClaimNextPending(ctx)
		if err != nil {
			return err
		}
		assert.Nil(t, claim)
		sc, err := tx.ClaimNextScored(ctx)
		if err != nil {
			return err
		}
		require.NotNil(t, sc)
		require.NotNil(t, sc.Item.Rank)
		assert.InDelta(t, 8.5, *sc.Item.Rank, 0.001)
		return tx.FinishScored(ctx, sc.Slot.ID)
	}))

	// Rollback leaves no trace.
	boom := fmt.Errorf("boom")
	err = store.WithTx(ctx, func(tx domain.Tx) error {
		if _, _, err := tx.UpsertItem(ctx, src.ID, "g2", "<p/>", time.Now()); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	// Cascade delete clears items with the source.
	require.NoError(t, store.WithTx(ctx, func(tx domain.Tx) error {
		return tx.DeleteSource(ctx, src.ID)
	}))
	require.NoError(t, store.WithTx(ctx, func(tx domain.Tx) error {
		st, err := tx.Stats(ctx)
		if err != nil {
			return err
		}
		assert.Zero(t, st.Items)
		assert.Zero(t, st.Sources)
		return nil
	}))
}
