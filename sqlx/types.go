package sqlx

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

// DB is the common interface between *[sqlx.DB] and *[sqlx.Tx].
type DB interface {
	// database/sql methods

	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row

	// sqlx methods

	GetContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	PrepareNamedContext(ctx context.Context, query string) (*sqlx.NamedStmt, error)
	PreparexContext(ctx context.Context, query string) (*sqlx.Stmt, error)
	QueryRowxContext(ctx context.Context, query string, args ...any) *sqlx.Row
	QueryxContext(ctx context.Context, query string, args ...any) (*sqlx.Rows, error)
	SelectContext(ctx context.Context, dest any, query string, args ...any) error

	Rebind(query string) string
	BindNamed(query string, arg any) (string, []any, error)
	DriverName() string
}

var (
	_ DB = &sqlx.DB{}
	_ DB = &sqlx.Tx{}
)

// DBGetter returns the current DB handler from the context: the active
// transaction if there is one, otherwise the Manager's original *sqlx.DB.
type DBGetter func(context.Context) DB
