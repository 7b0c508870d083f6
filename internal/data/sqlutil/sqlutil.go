// Package sqlutil holds database/sql helpers shared by the repositories.
package sqlutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// TxConfig groups the options and body of a transaction.
type TxConfig struct {
	Opts *sql.TxOptions
	Fn   func(*sql.Tx) error
}

// WithTx runs cfg.Fn within a database/sql transaction. The transaction commits when
// Fn returns nil and rolls back otherwise.
func WithTx(ctx context.Context, db *sql.DB, cfg TxConfig) (err error) {
	if cfg.Fn == nil {
		return errors.New("transaction body is required")
	}
	tx, err := db.BeginTx(ctx, cfg.Opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rerr))
		}
	}()
	if err = cfg.Fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
