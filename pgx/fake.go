package pgx

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/relaycore/txscope"
)

// NewFakeManager initializes a Manager double and DBGetter that do
// nothing: Begin/Commit/Rollback always succeed without touching the
// database, and the DBGetter always returns db directly.
func NewFakeManager(db *pgx.Conn) (FakeManager, DBGetter) {
	return FakeManager{}, func(context.Context) DB {
		return db
	}
}

// NewFakeManagerFromPool is NewFakeManager for a *pgxpool.Pool.
func NewFakeManagerFromPool(pool *pgxpool.Pool) (FakeManager, DBGetter) {
	return FakeManager{}, func(context.Context) DB {
		return pool
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
