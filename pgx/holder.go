package pgx

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/relaycore/txscope"
)

// holder tracks the pgx.Tx bound to one execution context plus the flags
// txscope.Manager implementations need, generalized down to what pgx's
// own transaction object already gives for free: pgx.Tx.Begin(ctx)
// creates a nested transaction backed by a real SQL savepoint without
// this package having to speak SAVEPOINT SQL itself.
type holder struct {
	tx pgx.Tx

	referenceCount int
	rollbackOnly   bool
	deadline       time.Time
}

func (h *holder) checkDeadline() error {
	if h.deadline.IsZero() {
		return nil
	}
	if time.Now().After(h.deadline) {
		return &txscope.TransactionTimedOutError{}
	}
	return nil
}

type stateKey struct{}

// syncRegistry holds the Synchronization listeners for one logical
// transaction tree. It is shared by pointer across a physical
// transaction's join/savepoint descendants so a listener registered at
// any nesting level sees the same commit/rollback lifecycle; a fresh
// registry is created only when a physical transaction actually starts
// (startNew) or when execution continues non-transactionally.
type syncRegistry struct {
	list                 []txscope.Synchronization
	completionInProgress bool
}

type contextState struct {
	holder    *holder
	name      string
	readOnly  bool
	isolation txscope.Isolation
	reg       *syncRegistry
}

func stateFromContext(ctx context.Context) *contextState {
	state, _ := ctx.Value(stateKey{}).(*contextState)
	return state
}

func withState(ctx context.Context, state *contextState) context.Context {
	return context.WithValue(ctx, stateKey{}, state)
}

// IsWithinTransaction reports whether ctx carries an active transaction
// bound by a Manager in this package.
func IsWithinTransaction(ctx context.Context) bool {
	state := stateFromContext(ctx)
	return state != nil && state.holder != nil
}
