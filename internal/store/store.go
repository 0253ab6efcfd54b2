// Package store provides the durable repositories over PostgreSQL.
//
// One contract holds everywhere: write methods never commit. They take an
// sqlx.ExtContext — either the *sqlx.DB for standalone statements or the
// *sqlx.Tx of an enclosing transaction — and the caller owns the
// transaction boundary. This is the mechanism by which the symbol processor
// settles an order atomically across orders, trades, ledger entries,
// positions and the outbox. The single exception is the outbox batch
// publisher, which runs an autonomous claim-publish-flip transaction.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
)

// Store bundles the database handle with the repository methods defined
// across this package (orders.go, trades.go, positions.go, ledger.go,
// outbox.go, traders.go).
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the raw handle, usable as the ExtContext for standalone reads.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// InTx runs fn inside a transaction, committing on nil and rolling back on
// error or panic. All repository writes performed through the provided
// *sqlx.Tx become visible atomically at commit.
func (s *Store) InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("rollback failed", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
