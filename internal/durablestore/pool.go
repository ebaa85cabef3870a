// Package durablestore is the relational home for conversations once they
// close: Project, Conversation, ArchivedMessages, Classification, Topic,
// and SubTopic rows, plus the per-project daily resolution counters the
// billing aggregator reads.
package durablestore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool opens a pgxpool.Pool against dsn, pinning every connection's
// session time zone to UTC so timestamp arithmetic in the migration and
// billing paths never depends on the server's local zone.
func NewPool(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse durable store dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, "SET TIME ZONE 'UTC'")
		return err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect durable store: %w", err)
	}
	return pool, nil
}
