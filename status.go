package txscope

// Status is the handle a driver adapter hands back from Begin and a
// callback receives to influence the eventual outcome of the transaction
// it is running inside. It is the exported face of the per-begin
// TransactionObject (spec component C4): created by Begin, consumed by
// exactly one of Commit or Rollback, never reused afterwards.
type Status interface {
	// IsNewTransaction reports whether this Begin call started the
	// physical transaction, as opposed to joining one already active on
	// the execution context.
	IsNewTransaction() bool

	// HasSavepoint reports whether this Begin call created a savepoint
	// (propagation NESTED joining an active transaction).
	HasSavepoint() bool

	// SetRollbackOnly marks the transaction so that, regardless of what
	// Commit is later called with, the eventual outcome is a rollback.
	SetRollbackOnly()

	// IsRollbackOnly reports whether SetRollbackOnly has been called on
	// this status, or whether the holder it shares was already marked
	// rollback-only by a participant that completed before it.
	IsRollbackOnly() bool

	// IsCompleted reports whether Commit or Rollback has already run for
	// this status.
	IsCompleted() bool

	// RegisterSynchronization attaches a lifecycle listener to the
	// active transaction. It returns ErrIllegalState if called while
	// afterCompletion is in progress for the current transaction.
	RegisterSynchronization(Synchronization) error
}
