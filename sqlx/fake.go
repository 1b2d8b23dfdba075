package sqlx

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/relaycore/txscope"
)

// NewFakeManager initializes a Manager double and DBGetter that do
// nothing: Begin/Commit/Rollback always succeed without touching the
// database, and the DBGetter always returns db directly.
func NewFakeManager(db *sqlx.DB) (FakeManager, DBGetter) {
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

func (fakeStatus) IsNewTransaction() bool                                { return true }
func (fakeStatus) HasSavepoint() bool                                    { return false }
func (fakeStatus) SetRollbackOnly()                                      {}
func (fakeStatus) IsRollbackOnly() bool                                  { return false }
func (fakeStatus) IsCompleted() bool                                     { return false }
func (fakeStatus) RegisterSynchronization(txscope.Synchronization) error { return nil }
