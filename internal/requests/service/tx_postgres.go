package service

import (
	"context"
	"database/sql"
	"time"

	id "opsflow/pkg/domain"
	dErrors "opsflow/pkg/domain-errors"
	txcontext "opsflow/pkg/platform/tx"
)

// postgresTx runs the body inside one database transaction. The stores pick
// the *sql.Tx up from ctx, so the same store values serve both in and out of
// transactions.
type postgresTx struct {
	db      *sql.DB
	stores  Stores
	timeout time.Duration
}

// NewPostgresTx returns a StoreTx over db. stores must be postgres stores that
// resolve their executor with txcontext.Exec.
func NewPostgresTx(db *sql.DB, stores Stores) StoreTx {
	return &postgresTx{db: db, stores: stores}
}

func (t *postgresTx) RunInTx(ctx context.Context, _ id.RequestID, fn func(ctx context.Context, s Stores) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "begin transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(txcontext.WithTx(ctx, tx), t.stores); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "commit transaction")
	}
	return nil
}
