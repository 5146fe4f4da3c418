// Package dbx holds the small database plumbing shared by the picocash
// repositories: a query interface satisfied by both *sql.DB and *sql.Tx,
// and a transaction runner giving the datastore its all-or-nothing
// write semantics.
package dbx

import (
	"context"
	"database/sql"
)

// Querier is the subset of database/sql operations the repositories use.
// Passing a *sql.Tx makes a repository participate in an enclosing
// transaction; passing a *sql.DB runs each statement standalone.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// InTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back when fn returns an error or panics; a panic
// is rethrown after rollback. Either every write in fn becomes visible
// or none does.
func InTx(ctx context.Context, db *sql.DB, fn func(ctx context.Context, tx Querier) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	return fn(ctx, tx)
}
