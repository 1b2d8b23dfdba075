package stdlib

import (
	"time"

	"go.uber.org/zap"
)

// SynchronizationMode controls when Manager runs registered
// Synchronization callbacks, mirroring the teacher's transactor Option
// for synchronization behavior but generalized to the three modes
// spec.md §5 documents.
type SynchronizationMode int

const (
	// SynchronizationAlways runs synchronizations for every transaction,
	// including ones that merely joined an existing one non-newly. This
	// is the default.
	SynchronizationAlways SynchronizationMode = iota
	// SynchronizationOnActualTransaction only runs synchronizations for
	// executions bound to an actual transaction (new, joined, or
	// savepoint), never for ActionNonTransactional executions.
	SynchronizationOnActualTransaction
	// SynchronizationNever disables the synchronization list entirely;
	// RegisterSynchronization becomes a no-op.
	SynchronizationNever
)

type config struct {
	synchronizationMode SynchronizationMode
	savepoints          SavepointDialect
	translate           ExceptionTranslator
	defaultTimeout      time.Duration
	validateExisting    bool
	rollbackOnCommitFailure bool
	failEarlyOnGlobalRollbackOnly bool
	nestedTransactionAllowed bool
	logger              *zap.Logger
	nameGenerator       func() string
}

func defaultConfig() config {
	return config{
		synchronizationMode: SynchronizationAlways,
		savepoints:          NoSavepoints,
		translate:           defaultTranslate,
		defaultTimeout:      0,
		validateExisting:    false,
		rollbackOnCommitFailure:       false,
		failEarlyOnGlobalRollbackOnly: false,
		nestedTransactionAllowed:      true,
		logger:        zap.NewNop(),
		nameGenerator: newUUIDName,
	}
}

// Option configures a Manager, following the functional options pattern
// the teacher uses throughout its transactor construction.
type Option func(*config)

// WithSavepoints selects the SQL grammar NESTED propagation uses. The
// default, NoSavepoints, rejects every NESTED request.
func WithSavepoints(d SavepointDialect) Option {
	return func(c *config) { c.savepoints = d }
}

// WithExceptionTranslator overrides the default driver-error
// classification (spec component C8).
func WithExceptionTranslator(t ExceptionTranslator) Option {
	return func(c *config) { c.translate = t }
}

// WithDefaultTimeout sets the transaction deadline applied to every
// Definition that doesn't specify its own Timeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *config) { c.defaultTimeout = d }
}

// WithSynchronizationMode overrides the default SynchronizationAlways.
func WithSynchronizationMode(m SynchronizationMode) Option {
	return func(c *config) { c.synchronizationMode = m }
}

// WithValidateExistingTransaction turns on strict isolation/read-only
// compatibility checking when REQUIRED, SUPPORTS, or MANDATORY join an
// already-active transaction (spec.md §4.1's validateExistingTransaction
// note). Off by default, matching database/sql drivers that silently
// accept a Definition's isolation being ignored once joined.
func WithValidateExistingTransaction(v bool) Option {
	return func(c *config) { c.validateExisting = v }
}

// WithRollbackOnCommitFailure makes Commit issue a physical rollback
// before returning a commit error, matching the teacher's handling of a
// failed COMMIT leaving the connection in an unknown state. Off by
// default: most drivers already roll back a failed commit themselves,
// and issuing a second rollback against a connection that already
// dropped its transaction can itself error.
func WithRollbackOnCommitFailure(v bool) Option {
	return func(c *config) { c.rollbackOnCommitFailure = v }
}

// WithFailEarlyOnGlobalRollbackOnly makes a participating (joined, not
// new) transaction return an UnexpectedRollbackError immediately when it
// notices the shared holder's rollback-only flag is set, rather than
// waiting for the outermost Commit to discover it. Off by default.
func WithFailEarlyOnGlobalRollbackOnly(v bool) Option {
	return func(c *config) { c.failEarlyOnGlobalRollbackOnly = v }
}

// WithNestedTransactionAllowed gates NESTED propagation at the manager
// policy level, independent of whether the configured SavepointDialect
// is capable of emitting savepoint SQL at all. On by default: turning it
// off rejects every NESTED request with NestedTransactionNotSupportedError
// even when a capable dialect (e.g. PostgresSavepoints) is configured,
// for deployments that want to forbid NESTED as a matter of policy rather
// than driver capability.
func WithNestedTransactionAllowed(v bool) Option {
	return func(c *config) { c.nestedTransactionAllowed = v }
}

// WithLogger routes suppressed cleanup failures (a synchronization
// AfterCompletion panic, a failed Rollback issued while already unwinding
// a commit error, ...) through the given zap logger instead of dropping
// them silently.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithNameGenerator overrides how Manager names a Definition that leaves
// Name empty. The default draws a random UUID via google/uuid.
func WithNameGenerator(f func() string) Option {
	return func(c *config) { c.nameGenerator = f }
}
