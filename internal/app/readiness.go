package app

import (
	"context"
	"fmt"
)

// Pinger is the minimal interface for a database pool capable of Ping.
type Pinger interface{ Ping(ctx context.Context) error }

// BuildDBCheck returns the readiness check for the backing store. A nil pool
// (the in-memory store) is always ready.
func BuildDBCheck(pool Pinger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if pool == nil {
			return nil
		}
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("db ping: %w", err)
		}
		return nil
	}
}
