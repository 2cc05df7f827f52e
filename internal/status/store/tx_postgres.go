package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dErrors "smregister/pkg/domain-errors"
	txcontext "smregister/pkg/platform/tx"
)

const defaultTxTimeout = 5 * time.Second

// PostgresTx runs units of work in a database transaction.
type PostgresTx struct {
	db      *sql.DB
	store   *PostgresStore
	timeout time.Duration
}

// NewPostgresTx creates a transaction runner over db.
func NewPostgresTx(db *sql.DB) *PostgresTx {
	return &PostgresTx{db: db, store: NewPostgres(db), timeout: defaultTxTimeout}
}

// RunInTx begins a transaction, binds it to ctx and commits when fn succeeds.
// Any error from fn rolls back every write made inside it.
func (t *PostgresTx) RunInTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(txcontext.WithTx(ctx, tx), t.store); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
