package stdlib

import (
	"context"
	"database/sql"

	"github.com/relaycore/txscope"
)

// TransactionAwareDB is a facade over a *sql.DB and its Manager: callers
// that don't want to route every query through a DBGetter closure can
// instead call TransactionAwareDB.Conn(ctx) and get either the ambient
// transaction's *sql.Tx or a connection checked out fresh from the pool,
// with the returned BoundConn accounting for the connectionHolder's
// reference count and deadline (spec component C9).
type TransactionAwareDB struct {
	db  *sql.DB
	mgr *Manager
}

// NewTransactionAwareDB wraps db and mgr into a single facade. mgr must
// have been constructed with NewManager(db, ...).
func NewTransactionAwareDB(db *sql.DB, mgr *Manager) *TransactionAwareDB {
	return &TransactionAwareDB{db: db, mgr: mgr}
}

// BoundConn is a DB acquired through TransactionAwareDB.Conn. Close
// releases it: for a connection bound to the ambient transaction, Close
// only decrements the holder's reference count, leaving the physical
// connection open for Commit/Rollback to finish with. For a connection
// acquired outside any transaction, Close returns it to the pool
// immediately.
type BoundConn struct {
	DB
	holder *connectionHolder
	raw    *sql.Conn
}

// Close releases the connection this BoundConn wraps.
func (b *BoundConn) Close() error {
	if b.holder != nil {
		b.holder.referenceCount--
		return nil
	}
	if b.raw != nil {
		return b.raw.Close()
	}
	return nil
}

// checkDeadline re-checks the bound transaction's deadline before every
// delegated call: the deadline can expire between Conn() returning a
// BoundConn and a later statement running inside the same callback, and
// a BoundConn acquired outside any transaction has no deadline to check.
func (b *BoundConn) checkDeadline() error {
	if b.holder == nil {
		return nil
	}
	return b.holder.checkDeadline()
}

// ExecContext delegates to the wrapped DB after checking the deadline.
func (b *BoundConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if err := b.checkDeadline(); err != nil {
		return nil, err
	}
	return b.DB.ExecContext(ctx, query, args...)
}

// PrepareContext delegates to the wrapped DB after checking the deadline.
func (b *BoundConn) PrepareContext(ctx context.Context, query string) (*sql.Stmt, error) {
	if err := b.checkDeadline(); err != nil {
		return nil, err
	}
	return b.DB.PrepareContext(ctx, query)
}

// QueryContext delegates to the wrapped DB after checking the deadline.
func (b *BoundConn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if err := b.checkDeadline(); err != nil {
		return nil, err
	}
	return b.DB.QueryContext(ctx, query, args...)
}

// QueryRowContext delegates to the wrapped DB after checking the
// deadline. *sql.Row has no exported way to carry an arbitrary error, so
// an expired deadline is surfaced by canceling a derived context before
// delegating: the returned Row's Scan reports ctx.Err() the same way it
// would for any other context cancellation.
func (b *BoundConn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	if err := b.checkDeadline(); err != nil {
		cancelCtx, cancel := context.WithCancel(ctx)
		cancel()
		return b.DB.QueryRowContext(cancelCtx, query, args...)
	}
	return b.DB.QueryRowContext(ctx, query, args...)
}

// Conn resolves the connection ctx should use: the transaction bound to
// mgr's execution-context state if one is active, otherwise a connection
// checked out directly from the pool. Every delegated statement method on
// the returned BoundConn re-checks the deadline before running, so a
// callback that holds a BoundConn past the transaction's
// Definition.Timeout gets a TransactionTimedOutError on its next call
// rather than only at acquisition time.
func (t *TransactionAwareDB) Conn(ctx context.Context) (*BoundConn, error) {
	state := stateFromContext(ctx)
	if state != nil {
		state.mu.Lock()
		holder, ok := state.resources[t.mgr]
		state.mu.Unlock()

		if ok && holder.tx != nil {
			if err := holder.checkDeadline(); err != nil {
				return nil, err
			}
			holder.referenceCount++
			return &BoundConn{DB: holder.tx, holder: holder}, nil
		}
	}

	conn, err := t.db.Conn(ctx)
	if err != nil {
		return nil, &txscope.CannotCreateTransactionError{Err: err}
	}
	return &BoundConn{DB: conn, raw: conn}, nil
}
