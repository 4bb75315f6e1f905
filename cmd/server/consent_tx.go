package main

import (
	"context"
	"database/sql"
	"errors"
	"time"

	consentservice "privileges/internal/consent/service"
	consentstore "privileges/internal/consent/store"
	dErrors "privileges/pkg/domain-errors"
	txcontext "privileges/pkg/platform/tx"
)

const defaultConsentTxTimeout = 5 * time.Second

// consentPostgresTx runs a consent batch in one database transaction. The
// store and the compliance audit store both pick the *sql.Tx up from the
// context, so records and audit rows commit or roll back together.
type consentPostgresTx struct {
	db      *sql.DB
	store   *consentstore.PostgresStore
	timeout time.Duration
}

func newConsentPostgresTx(db *sql.DB, timeout time.Duration) *consentPostgresTx {
	return &consentPostgresTx{db: db, store: consentstore.NewPostgres(db), timeout: timeout}
}

func (t *consentPostgresTx) RunInTx(ctx context.Context, fn func(ctx context.Context, store consentservice.Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultConsentTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(txcontext.WithTx(ctx, tx), t.store); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction commit timed out")
		}
		return err
	}
	return nil
}
