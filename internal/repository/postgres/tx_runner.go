package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/allocation/internal/repository"
	"github.com/utafrali/allocation/pkg/database"
)

var _ repository.TxRunner = (*TxRunner)(nil)

// TxRunner runs callbacks inside a ReadCommitted PostgreSQL transaction.
type TxRunner struct {
	db database.TxStarter
}

// NewTxRunner creates a runner on db, usually a *pgxpool.Pool.
func NewTxRunner(db database.TxStarter) *TxRunner {
	return &TxRunner{db: db}
}

// Run begins a transaction, calls fn with a repository bound to it and
// commits or rolls back.
func (r *TxRunner) Run(ctx context.Context, fn func(repo repository.BatchRepository) error) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(NewBatchRepository(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
