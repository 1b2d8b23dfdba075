package pgx

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/relaycore/txscope"
)

// Manager is the pgx realization of txscope.Manager. It reuses the
// driver-agnostic propagation decision table (txscope.DecidePropagation)
// but keeps its own holder/registry because pgx's Tx/Conn/Pool shapes
// don't fit database/sql's *sql.Conn-based holder: pgx.Tx.Begin already
// gives NESTED a real savepoint for free, so there is no dialect table
// to plug in here.
type Manager struct {
	root pgxDB

	defaultTimeout   time.Duration
	validateExisting bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithDefaultTimeout sets the deadline applied to a Definition that
// leaves Timeout unset.
func WithDefaultTimeout(d time.Duration) Option {
	return func(m *Manager) { m.defaultTimeout = d }
}

// WithValidateExistingTransaction turns on isolation/read-only
// compatibility checking when joining an active transaction.
func WithValidateExistingTransaction(v bool) Option {
	return func(m *Manager) { m.validateExisting = v }
}

// NewManager builds a Manager bound to a single *pgx.Conn.
func NewManager(conn pgxDB, opts ...Option) *Manager {
	m := &Manager{root: conn}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewManagerFromPool builds a Manager bound to a *pgxpool.Pool.
func NewManagerFromPool(pool *pgxpool.Pool, opts ...Option) *Manager {
	return NewManager(pool, opts...)
}

// DBGetter returns the DBGetter application code uses to fetch whichever
// handle (pool, connection, or active tx/savepoint) is current for ctx.
func (m *Manager) DBGetter() DBGetter {
	return func(ctx context.Context) DB {
		if state := stateFromContext(ctx); state != nil && state.holder != nil {
			return state.holder.tx
		}
		return m.root
	}
}

type status struct {
	h              *holder
	state          *contextState
	suspended      *contextState
	newTransaction bool
	savepoint      bool
	completed      bool
	ctx            context.Context
}

func (s *status) IsNewTransaction() bool { return s.newTransaction }
func (s *status) HasSavepoint() bool     { return s.savepoint }
func (s *status) IsCompleted() bool      { return s.completed }

func (s *status) SetRollbackOnly() {
	if s.h != nil {
		s.h.rollbackOnly = true
	}
}

func (s *status) IsRollbackOnly() bool {
	return s.h != nil && s.h.rollbackOnly
}

func (s *status) RegisterSynchronization(sync txscope.Synchronization) error {
	if s.state != nil && s.state.reg != nil && s.state.reg.completionInProgress {
		return &txscope.ErrIllegalState{Reason: "cannot register a new synchronization from within AfterCompletion"}
	}
	if s.completed {
		return &txscope.IllegalTransactionStateError{Reason: "cannot register a synchronization after completion"}
	}
	if s.state == nil || s.state.reg == nil {
		return &txscope.IllegalTransactionStateError{Reason: "no active execution context"}
	}
	s.state.reg.list = append(s.state.reg.list, sync)
	return nil
}

// safeCall recovers from a panicking listener callback so one broken
// Synchronization can't take down commit/rollback for every other one.
func safeCall(fn func()) {
	defer func() { _ = recover() }()
	fn()
}

func triggerBeforeCommit(state *contextState, readOnly bool) error {
	if state == nil || state.reg == nil {
		return nil
	}
	for _, sync := range state.reg.list {
		if err := sync.BeforeCommit(readOnly); err != nil {
			return err
		}
	}
	return nil
}

func triggerBeforeCompletion(state *contextState) {
	if state == nil || state.reg == nil {
		return
	}
	for _, sync := range state.reg.list {
		sync := sync
		safeCall(sync.BeforeCompletion)
	}
}

func triggerAfterCommit(state *contextState) {
	if state == nil || state.reg == nil {
		return
	}
	for _, sync := range state.reg.list {
		sync := sync
		safeCall(sync.AfterCommit)
	}
}

func triggerAfterCompletion(state *contextState, result txscope.CompletionStatus) {
	if state == nil || state.reg == nil {
		return
	}
	state.reg.completionInProgress = true
	for _, sync := range state.reg.list {
		sync := sync
		safeCall(func() { sync.AfterCompletion(result) })
	}
	state.reg.completionInProgress = false
}

func triggerSuspend(state *contextState) {
	if state == nil || state.reg == nil {
		return
	}
	for _, sync := range state.reg.list {
		sync := sync
		safeCall(sync.Suspend)
	}
}

func triggerResume(state *contextState) {
	if state == nil || state.reg == nil {
		return
	}
	for _, sync := range state.reg.list {
		sync := sync
		safeCall(sync.Resume)
	}
}

// Begin implements txscope.Manager.
func (m *Manager) Begin(ctx context.Context, def txscope.Definition) (context.Context, txscope.Status, error) {
	existing := stateFromContext(ctx)
	existingActive := existing != nil && existing.holder != nil

	input := txscope.PropagationInput{
		ExistingActive:   existingActive,
		Propagation:      def.Propagation,
		Isolation:        def.Isolation,
		ReadOnly:         def.ReadOnly,
		ValidateExisting: m.validateExisting,
	}
	if existingActive {
		input.OuterIsolation = existing.isolation
		input.OuterReadOnly = existing.readOnly
	}

	action, err := txscope.DecidePropagation(input)
	if err != nil {
		return ctx, nil, err
	}

	suspend := action == txscope.ActionSuspendAndStartNew || action == txscope.ActionSuspendAndNonTransactional
	if suspend {
		triggerSuspend(existing)
	}

	switch action {
	case txscope.ActionJoin, txscope.ActionSavepoint:
		return m.join(ctx, existing, def, action == txscope.ActionSavepoint)
	case txscope.ActionStartNew, txscope.ActionSuspendAndStartNew:
		return m.startNew(ctx, def, suspendedState(suspend, existing))
	case txscope.ActionNonTransactional, txscope.ActionSuspendAndNonTransactional:
		newState := &contextState{reg: &syncRegistry{}}
		return withState(ctx, newState), &status{newTransaction: false, state: newState, suspended: suspendedState(suspend, existing)}, nil
	default:
		return ctx, nil, &txscope.IllegalTransactionStateError{Reason: "unrecognized propagation action"}
	}
}

func suspendedState(suspend bool, existing *contextState) *contextState {
	if !suspend {
		return nil
	}
	return existing
}

func (m *Manager) join(ctx context.Context, existing *contextState, def txscope.Definition, wantSavepoint bool) (context.Context, txscope.Status, error) {
	if !wantSavepoint {
		return ctx, &status{h: existing.holder, newTransaction: false, ctx: ctx, state: existing}, nil
	}

	tx, err := existing.holder.tx.Begin(ctx)
	if err != nil {
		return ctx, nil, &txscope.CannotCreateTransactionError{Err: err}
	}

	h := &holder{tx: tx, referenceCount: 1, deadline: existing.holder.deadline}
	newState := &contextState{holder: h, name: existing.name, readOnly: existing.readOnly, isolation: existing.isolation, reg: existing.reg}
	newCtx := withState(ctx, newState)

	return newCtx, &status{h: h, newTransaction: false, savepoint: true, ctx: newCtx, state: newState}, nil
}

func (m *Manager) startNew(ctx context.Context, def txscope.Definition, suspended *contextState) (context.Context, txscope.Status, error) {
	tx, err := m.root.Begin(ctx)
	if err != nil {
		return ctx, nil, &txscope.CannotCreateTransactionError{Err: err}
	}

	h := &holder{tx: tx, referenceCount: 1}

	timeout := def.Timeout
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}
	if timeout > 0 {
		h.deadline = time.Now().Add(timeout)
	}

	newState := &contextState{holder: h, name: def.Name, readOnly: def.ReadOnly, isolation: def.Isolation, reg: &syncRegistry{}}
	newCtx := withState(ctx, newState)

	return newCtx, &status{h: h, newTransaction: true, ctx: newCtx, state: newState, suspended: suspended}, nil
}

// Commit implements txscope.Manager.
func (m *Manager) Commit(ctx context.Context, s txscope.Status) error {
	st := s.(*status)
	if st.completed {
		return &txscope.IllegalTransactionStateError{Reason: "transaction already completed"}
	}

	if st.h != nil && st.h.rollbackOnly {
		err := m.physicalRollback(ctx, st)
		st.completed = true
		triggerBeforeCompletion(st.state)
		if st.suspended != nil {
			triggerResume(st.suspended)
		}
		triggerAfterCompletion(st.state, txscope.RolledBack)
		if err != nil {
			return err
		}
		if !st.newTransaction && !st.savepoint {
			// A plain participant only escalates the flag; the owner of the
			// physical transaction reports the rollback at its own Commit.
			return nil
		}
		return &txscope.UnexpectedRollbackError{Reason: "transaction was marked rollback-only"}
	}

	readOnly := st.state != nil && st.state.readOnly
	if err := triggerBeforeCommit(st.state, readOnly); err != nil {
		triggerBeforeCompletion(st.state)
		_ = m.physicalRollback(ctx, st)
		st.completed = true
		if st.suspended != nil {
			triggerResume(st.suspended)
		}
		triggerAfterCompletion(st.state, txscope.RolledBack)
		return err
	}
	triggerBeforeCompletion(st.state)

	var commitErr error
	switch {
	case st.h == nil:
		// non-transactional: nothing to commit physically.
	case st.savepoint:
		commitErr = st.h.tx.Commit(ctx)
	case st.newTransaction:
		if err := st.h.checkDeadline(); err != nil {
			commitErr = err
		} else {
			commitErr = st.h.tx.Commit(ctx)
		}
	}
	st.completed = true

	if st.suspended != nil {
		triggerResume(st.suspended)
	}

	if commitErr != nil {
		triggerAfterCompletion(st.state, txscope.RolledBack)
		if _, ok := commitErr.(*txscope.TransactionTimedOutError); ok {
			return commitErr
		}
		return &txscope.TransactionSystemError{Err: commitErr}
	}

	triggerAfterCommit(st.state)
	triggerAfterCompletion(st.state, txscope.Committed)
	return nil
}

// Rollback implements txscope.Manager.
func (m *Manager) Rollback(ctx context.Context, s txscope.Status) error {
	st := s.(*status)
	if st.completed {
		return &txscope.IllegalTransactionStateError{Reason: "transaction already completed"}
	}

	triggerBeforeCompletion(st.state)
	err := m.physicalRollback(ctx, st)
	st.completed = true

	if st.suspended != nil {
		triggerResume(st.suspended)
	}
	triggerAfterCompletion(st.state, txscope.RolledBack)

	return err
}

// physicalRollback performs whatever rollback action st's kind requires:
// a real ROLLBACK for a new physical transaction, ROLLBACK TO SAVEPOINT
// for a nested one, or escalating rollbackOnly on the shared holder for
// a plain participant that doesn't own the physical transaction.
func (m *Manager) physicalRollback(ctx context.Context, st *status) error {
	switch {
	case st.h == nil:
		return nil
	case st.savepoint:
		if err := st.h.tx.Rollback(ctx); err != nil {
			return &txscope.TransactionSystemError{Err: err}
		}
		return nil
	case st.newTransaction:
		if err := st.h.tx.Rollback(ctx); err != nil {
			return &txscope.TransactionSystemError{Err: err}
		}
		return nil
	default:
		st.h.rollbackOnly = true
		return nil
	}
}
