// Package postgres implements the pipeline store on PostgreSQL.
//
// All queue transitions are single short transactions; claims read the
// oldest slot and leave it in place for the successor write to remove.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"

	"github.com/feedloom/curator/internal/domain"
)

// PgxPool is a minimal subset of pgxpool used by the store for easy testing.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Store implements domain.Store. Every mutation the pipeline performs runs
// through WithTx so a crash between steps can never leave a half transition.
type Store struct{ Pool PgxPool }

// NewStore constructs a Store with the given pool.
func NewStore(p PgxPool) *Store { return &Store{Pool: p} }

// WithTx runs fn inside one transaction: commit on nil return, rollback on
// error or panic.
func (s *Store) WithTx(ctx domain.Context, fn func(tx domain.Tx) error) error {
	tracer := otel.Tracer("repo.store")
	ctx, span := tracer.Start(ctx, "store.WithTx")
	defer span.End()

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("op=store.begin: %w: %v", domain.ErrStore, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapErr("store.commit", err)
	}
	return nil
}

// pgTx implements domain.Tx on one pgx transaction.
type pgTx struct{ tx pgx.Tx }

// mapErr converts driver errors into the sentinels callers branch on:
// unique violations to ErrConflict, missing rows and broken FK targets to
// ErrNotFound, anything else to ErrStore.
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("op=%s: %w", op, domain.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("op=%s: %w", op, domain.ErrConflict)
		case "23503":
			return fmt.Errorf("op=%s: %w", op, domain.ErrNotFound)
		}
	}
	return fmt.Errorf("op=%s: %w: %v", op, domain.ErrStore, err)
}

// rowScanner lets the scan helpers accept pgx.Row and pgx.Rows alike.
type rowScanner interface{ Scan(dest ...any) error }

const itemColumns = `id, source_id, guid, payload, discovered_at, rank, ranked_at`

func scanSource(r rowScanner) (domain.Source, error) {
	var (
		src  domain.Source
		secs int64
	)
	if err := r.Scan(&src.ID, &src.URL, &src.Name, &src.LastChecked, &secs, &src.CreatedAt); err != nil {
		return domain.Source{}, err
	}
	src.Interval = time.Duration(secs) * time.Second
	return src, nil
}

func scanItem(r rowScanner) (domain.Item, error) {
	var it domain.Item
	if err := r.Scan(&it.ID, &it.SourceID, &it.GUID, &it.Payload, &it.DiscoveredAt, &it.Rank, &it.RankedAt); err != nil {
		return domain.Item{}, err
	}
	return it, nil
}
