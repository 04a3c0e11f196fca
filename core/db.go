package core

import (
	"context"

	"github.com/jmoiron/sqlx"
)

type (
	// DBExecutor is satisfied by both *sqlx.DB and *sqlx.Tx.
	DBExecutor interface {
		sqlx.ExtContext
		GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
		SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	}

	// Transactor runs fn inside a single transaction; fn's error rolls everything back.
	// Repositories called from fn must be given `exec`.
	Transactor interface {
		WithinTx(ctx context.Context, fn func(ctx context.Context, exec DBExecutor) error) error
		// WithinSavepoint undoes fn's writes when it fails, leaving the enclosing transaction usable.
		WithinSavepoint(ctx context.Context, exec DBExecutor, fn func(ctx context.Context) error) error
	}
)

type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}
