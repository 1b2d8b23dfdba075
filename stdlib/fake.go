package stdlib

import (
	"context"
	"database/sql"

	"github.com/relaycore/txscope"
)

// NewFakeManager initializes a Manager double and DBGetter that do
// nothing: Begin/Commit/Rollback are no-ops that always succeed, and the
// DBGetter always returns db directly. Use it in tests exercising code
// that takes a txscope.Manager or DBGetter but doesn't itself test the
// transaction system.
func NewFakeManager(db *sql.DB) (FakeManager, DBGetter) {
	return FakeManager{}, func(context.Context) DB {
		return db
	}
}

type FakeManager struct{}

func (FakeManager) Begin(ctx context.Context, _ txscope.Definition) (context.Context, txscope.Status, error) {
	return ctx, fakeStatus{}, nil
}

func (FakeManager) Commit(context.Context, txscope.Status) error   { return nil }
func (FakeManager) Rollback(context.Context, txscope.Status) error { return nil }

type fakeStatus struct{}

func (fakeStatus) IsNewTransaction() bool                                        { return true }
func (fakeStatus) HasSavepoint() bool                                            { return false }
func (fakeStatus) SetRollbackOnly()                                              {}
func (fakeStatus) IsRollbackOnly() bool                                          { return false }
func (fakeStatus) IsCompleted() bool                                             { return false }
func (fakeStatus) RegisterSynchronization(txscope.Synchronization) error         { return nil }
