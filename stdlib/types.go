// Package stdlib is the database/sql backend for txscope: the full
// execution-context registry, connection holder, synchronization list,
// savepoint dialects, exception translation, and transaction-aware facade
// described in SPEC_FULL.md §6 live here.
package stdlib

import (
	"context"
	"database/sql"
)

// DB is the common interface between *sql.DB, *sql.Tx, and *sql.Conn that
// callback code uses to run statements, mirroring the teacher's
// per-driver DB interface. It only lists the context-taking methods:
// *sql.Conn has no non-context variants, and every caller in this module
// already carries a context.Context.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ DB = &sql.DB{}
	_ DB = &sql.Tx{}
	_ DB = &sql.Conn{}
)

// DBGetter returns the connection bound to ctx if a transaction is
// currently active for this manager's source, otherwise the manager's
// underlying *sql.DB.
type DBGetter func(ctx context.Context) DB
