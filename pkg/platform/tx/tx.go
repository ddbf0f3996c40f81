package tx

import (
	"context"
	"database/sql"
	"fmt"
)

type ctxKey struct{}

var txKey = ctxKey{}

// WithTx stores a SQL transaction in context for downstream store usage.
// SQLRunner is the production writer; stores whose execer consults From
// join the transaction transparently.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, tx)
}

// From extracts a SQL transaction from context if present.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey).(*sql.Tx)
	return tx, ok
}

// Runner composes several store writes into one atomic unit when the
// backing storage supports it.
type Runner interface {
	RunTx(ctx context.Context, fn func(context.Context) error) error
}

// SQLRunner begins a database/sql transaction, places it in the context via
// WithTx, and commits when fn returns nil. A transaction already present in
// the context is joined instead, so nested calls share one commit.
type SQLRunner struct {
	DB *sql.DB
}

func (r SQLRunner) RunTx(ctx context.Context, fn func(context.Context) error) error {
	if _, ok := From(ctx); ok {
		return fn(ctx)
	}
	sqlTx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(WithTx(ctx, sqlTx)); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Passthrough runs fn directly. The in-memory stores have no shared
// transactional backend, so each write stands on its own.
type Passthrough struct{}

func (Passthrough) RunTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
