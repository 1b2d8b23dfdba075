package pgx

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the common interface between *[pgx.Conn], *[pgx.Tx], *[pgxpool.Conn], *[pgxpool.Pool] and *[pgxpool.Tx].
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (commandTag pgconn.CommandTag, err error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row

	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// pgxDB additionally exposes Begin, which is what lets Manager start a
// transaction (or, for a *pgx.Tx already bound as pgxDB, a savepoint)
// against whichever handle is currently ambient.
type pgxDB interface {
	DB
	Begin(ctx context.Context) (pgx.Tx, error)
}

var (
	_ DB    = &pgx.Conn{}
	_ DB    = pgx.Tx(nil)
	_ DB    = &pgxpool.Conn{}
	_ DB    = &pgxpool.Pool{}
	_ DB    = &pgxpool.Tx{}
	_ pgxDB = &pgx.Conn{}
	_ pgxDB = pgx.Tx(nil)
	_ pgxDB = &pgxpool.Pool{}
)

// DBGetter returns the current DB handler from the context: the active
// transaction if there is one, otherwise the Manager's original handle.
type DBGetter func(context.Context) DB
