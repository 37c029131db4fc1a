package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// withTx runs fn in the provided tx, or opens and commits an internal one
// when tx is nil.
func withTx(ctx context.Context, db *sqlx.DB, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}
	t, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = t.Rollback() }()
	if err := fn(t); err != nil {
		return err
	}
	return t.Commit()
}
