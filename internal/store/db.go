// Package store provides the durable-store primitives shared across the
// money-and-trust core's engines: transaction composition, the
// authoritative idempotency guard, and admin locks. Each engine
// (moneystate, reward, proof) still owns its own table-specific Store
// interface and postgres/memory implementations — this package only holds
// what is genuinely cross-cutting.
package store

import (
	"context"
	"database/sql"
)

// DB wraps *sql.DB with the transaction-composition helper every engine
// needs: run a sequence of mutations atomically, let the caller decide
// when to commit by returning nil or an error from fn.
type DB struct {
	*sql.DB
}

// New wraps an existing *sql.DB.
func New(db *sql.DB) *DB {
	return &DB{DB: db}
}

// WithTx runs fn inside a transaction, committing on nil return and rolling
// back otherwise (including on panic, which is re-raised after rollback).
func (d *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
