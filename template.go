package txscope

import "context"

// Execute is the Template Executor (spec component C7): it begins a
// transaction per def, runs fn, and commits or rolls back based on fn's
// outcome and the rollback-only flag fn may have set on the status. It
// never swallows fn's error: whatever fn returns (or whatever Commit
// returns) is what Execute returns. A panic inside fn still rolls back
// the transaction before propagating, matching the teacher's unconditional
// deferred rollback, generalized from "always roll back, then commit on
// success" to "roll back only if we never got a clean return from fn".
func Execute(ctx context.Context, m Manager, def Definition, fn func(ctx context.Context, status Status) error) error {
	txCtx, status, err := m.Begin(ctx, def)
	if err != nil {
		return err
	}

	panicked := true
	defer func() {
		if panicked {
			_ = m.Rollback(txCtx, status)
		}
	}()

	ferr := fn(txCtx, status)
	panicked = false

	if ferr != nil {
		_ = m.Rollback(txCtx, status)
		return ferr
	}

	// Commit decides what a rollback-only status means: for a
	// participating transaction it escalates the flag to the shared
	// holder, for the transaction that owns the physical commit it rolls
	// back and reports UnexpectedRollbackError, matching the teacher's
	// stance that a caller who saw fn return nil should still learn its
	// work didn't actually land.
	return m.Commit(txCtx, status)
}

// WithinTransaction is the simple entry point matching the Transactor
// interface: always REQUIRED propagation, no access to the Status from
// the callback. Most call sites that don't need propagation control use
// this instead of Execute.
func WithinTransaction(ctx context.Context, m Manager, fn func(ctx context.Context) error) error {
	return Execute(ctx, m, Definition{}, func(ctx context.Context, _ Status) error {
		return fn(ctx)
	})
}
