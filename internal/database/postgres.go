package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pingTimeout  = 3 * time.Second
	pingDeadline = 30 * time.Second
	pingBackoff  = 1500 * time.Millisecond
)

// NewPool opens a pgx pool and waits for the database to become reachable,
// retrying pings until the deadline so the server can start alongside a
// database container that is still booting.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("database pool init failed: %w", err)
	}

	deadline := time.Now().Add(pingDeadline)
	for {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err = pool.Ping(pingCtx)
		cancel()
		if err == nil {
			return pool, nil
		}
		if time.Now().After(deadline) {
			pool.Close()
			return nil, fmt.Errorf("database ping failed after retries: %w", err)
		}
		time.Sleep(pingBackoff)
	}
}
