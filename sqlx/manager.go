package sqlx

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/relaycore/txscope"
	"github.com/relaycore/txscope/stdlib"
)

// Manager is a thin adapter over stdlib.Manager: all propagation,
// synchronization, savepoint, and translation logic is delegated to it.
// This package's only job is to re-wrap the *sql.Tx stdlib.Manager binds
// to a context back into a *sqlx.Tx, so callback code can keep using
// sqlx's Get/Select/NamedExec helpers inside a transaction.
type Manager struct {
	db       *sqlx.DB
	delegate *stdlib.Manager
}

// NewManager builds a Manager over db, applying opts to the underlying
// stdlib.Manager.
func NewManager(db *sqlx.DB, opts ...stdlib.Option) *Manager {
	return &Manager{
		db:       db,
		delegate: stdlib.NewManager(db.DB, opts...),
	}
}

// DBGetter returns the sqlx-typed DB getter application code uses to run
// queries: the *sqlx.DB itself outside a transaction, or a *sqlx.Tx wrapping the
// ambient *sql.Tx once one is active.
func (m *Manager) DBGetter() DBGetter {
	raw := m.delegate.DBGetter()
	return func(ctx context.Context) DB {
		switch conn := raw(ctx).(type) {
		case *sql.Tx:
			return sqlx.NewTx(conn, m.db.DriverName())
		default:
			return m.db
		}
	}
}

func (m *Manager) Begin(ctx context.Context, def txscope.Definition) (context.Context, txscope.Status, error) {
	return m.delegate.Begin(ctx, def)
}

func (m *Manager) Commit(ctx context.Context, status txscope.Status) error {
	return m.delegate.Commit(ctx, status)
}

func (m *Manager) Rollback(ctx context.Context, status txscope.Status) error {
	return m.delegate.Rollback(ctx, status)
}

// IsWithinTransaction reports whether ctx carries a resource bound by
// this Manager specifically.
func (m *Manager) IsWithinTransaction(ctx context.Context) bool {
	return m.delegate.IsWithinTransaction(ctx)
}

// IsWithinTransaction reports whether ctx carries an active transaction
// started by any Manager in this package.
func IsWithinTransaction(ctx context.Context) bool {
	return stdlib.IsWithinTransaction(ctx)
}
