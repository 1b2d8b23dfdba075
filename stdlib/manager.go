package stdlib

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/relaycore/txscope"
	"go.uber.org/zap"
)

func newUUIDName() string { return uuid.NewString() }

// Manager is the database/sql realization of txscope.Manager (spec
// component C4/C6): it owns one *sql.DB and drives the full propagation
// state machine, connection holder lifecycle, synchronization list, and
// exception translation for it. It generalizes the teacher's transactor
// implementation, which hard-coded REQUIRED-or-nothing semantics, into
// the full propagation table of SPEC_FULL.md §6.1.
type Manager struct {
	db  *sql.DB
	cfg config
}

// NewManager builds a Manager bound to db, matching the teacher's
// NewTransactor(db, opts...) constructor shape.
func NewManager(db *sql.DB, opts ...Option) *Manager {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Manager{db: db, cfg: cfg}
}

// IsWithinTransaction reports whether ctx carries a resource bound by
// this specific Manager. Two Managers sharing the same *sql.DB each
// track their own holder, so a context active for one reports false for
// the other.
func (m *Manager) IsWithinTransaction(ctx context.Context) bool {
	state := stateFromContext(ctx)
	if state == nil {
		return false
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	holder, ok := state.resources[m]
	return ok && holder.tx != nil
}

// DBGetter returns a function resolving the connection bound to ctx for
// this manager's source, or the raw *sql.DB when no transaction is
// active. Callback code in application layers takes a DBGetter, not a
// Manager, matching the teacher's Transactor-returns-a-getter pattern.
func (m *Manager) DBGetter() DBGetter {
	return func(ctx context.Context) DB {
		state := stateFromContext(ctx)
		if state == nil {
			return m.db
		}

		state.mu.Lock()
		holder, ok := state.resources[m]
		state.mu.Unlock()

		if !ok || holder.tx == nil {
			return m.db
		}
		return holder.tx
	}
}

// transactionStatus implements txscope.Status for one Begin/Commit(or
// Rollback) pair.
type transactionStatus struct {
	mgr    *Manager
	holder *connectionHolder
	ctx    context.Context

	newTransaction bool
	savepointName  string

	suspended *suspendedResources

	completed bool
}

func (s *transactionStatus) IsNewTransaction() bool { return s.newTransaction }
func (s *transactionStatus) HasSavepoint() bool     { return s.savepointName != "" }
func (s *transactionStatus) IsCompleted() bool      { return s.completed }

func (s *transactionStatus) SetRollbackOnly() {
	if s.holder != nil {
		s.holder.rollbackOnly = true
	}
}

func (s *transactionStatus) IsRollbackOnly() bool {
	return s.holder != nil && s.holder.rollbackOnly
}

func (s *transactionStatus) RegisterSynchronization(sync txscope.Synchronization) error {
	state := stateFromContext(contextForStatus(s))
	if state != nil {
		state.mu.Lock()
		inCompletion := state.completionInProgress
		state.mu.Unlock()
		if inCompletion {
			return &txscope.ErrIllegalState{Reason: "cannot register a new synchronization from within AfterCompletion"}
		}
	}

	if s.completed {
		return &txscope.IllegalTransactionStateError{Reason: "cannot register a synchronization after completion"}
	}
	if s.mgr.cfg.synchronizationMode == SynchronizationNever {
		return nil
	}
	if state == nil {
		return &txscope.IllegalTransactionStateError{Reason: "no active execution context"}
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	state.synchronizations = append(state.synchronizations, sync)
	state.syncActive = true
	return nil
}

func contextForStatus(s *transactionStatus) context.Context {
	return s.ctx
}

// Begin implements txscope.Manager. It runs the propagation decision
// table (txscope.DecidePropagation) against the current registry state
// and dispatches to the matching action.
func (m *Manager) Begin(ctx context.Context, def txscope.Definition) (context.Context, txscope.Status, error) {
	ctx, state := ensureState(ctx)

	state.mu.Lock()
	existing, hasExisting := state.resources[m]
	existingActive := hasExisting && existing.transactionActive
	input := txscope.PropagationInput{
		ExistingActive:   existingActive,
		Propagation:      def.Propagation,
		Isolation:        def.Isolation,
		ReadOnly:         def.ReadOnly,
		ValidateExisting: m.cfg.validateExisting,
		OuterIsolation:   state.currentIsolation,
		OuterReadOnly:    state.currentReadOnly,
	}
	state.mu.Unlock()

	action, err := txscope.DecidePropagation(input)
	if err != nil {
		return ctx, nil, err
	}

	name := def.Name
	if name == "" {
		name = m.cfg.nameGenerator()
	}

	var status *transactionStatus
	switch action {
	case txscope.ActionJoin:
		status, err = m.join(ctx, state, existing)
	case txscope.ActionStartNew:
		status, err = m.startNew(ctx, state, def, name)
	case txscope.ActionSuspendAndStartNew:
		status, err = m.suspendAndStartNew(ctx, state, def, name)
	case txscope.ActionSavepoint:
		status, err = m.savepoint(ctx, state, existing)
	case txscope.ActionNonTransactional:
		status, err = m.nonTransactional(ctx, state)
	case txscope.ActionSuspendAndNonTransactional:
		status, err = m.suspendAndNonTransactional(ctx, state)
	default:
		err = &txscope.IllegalTransactionStateError{Reason: "unrecognized propagation action"}
	}
	if err != nil {
		return ctx, nil, m.translateBegin(err)
	}

	status.ctx = ctx
	return ctx, status, nil
}

func (m *Manager) join(ctx context.Context, state *contextState, holder *connectionHolder) (*transactionStatus, error) {
	if m.cfg.failEarlyOnGlobalRollbackOnly && holder.rollbackOnly {
		return nil, &txscope.UnexpectedRollbackError{Reason: "transaction was already marked rollback-only"}
	}
	return &transactionStatus{mgr: m, holder: holder, newTransaction: false}, nil
}

func (m *Manager) startNew(ctx context.Context, state *contextState, def txscope.Definition, name string) (*transactionStatus, error) {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return nil, &txscope.CannotCreateTransactionError{Err: err}
	}

	tx, err := conn.BeginTx(ctx, &sql.TxOptions{
		Isolation: isolationLevel(def.Isolation),
		ReadOnly:  def.ReadOnly,
	})
	if err != nil {
		_ = conn.Close()
		return nil, &txscope.CannotCreateTransactionError{Err: err}
	}

	holder := &connectionHolder{
		conn:                conn,
		tx:                  tx,
		referenceCount:       1,
		transactionActive:    true,
		savepointsSupported: m.cfg.savepoints.SupportsSavepoints(),
	}
	if deadline, ok := deadlineFor(def, m.cfg.defaultTimeout); ok {
		holder.deadline = deadline
	}

	state.mu.Lock()
	state.resources[m] = holder
	state.currentTxName = name
	state.currentReadOnly = def.ReadOnly
	state.currentIsolation = def.Isolation
	state.actualTxActive = true
	state.mu.Unlock()

	return &transactionStatus{mgr: m, holder: holder, newTransaction: true}, nil
}

func (m *Manager) suspendAndStartNew(ctx context.Context, state *contextState, def txscope.Definition, name string) (*transactionStatus, error) {
	suspended, err := m.doSuspend(state)
	if err != nil {
		return nil, err
	}

	status, err := m.startNew(ctx, state, def, name)
	if err != nil {
		m.doResume(state, suspended)
		return nil, err
	}
	status.suspended = suspended
	return status, nil
}

func (m *Manager) savepoint(ctx context.Context, state *contextState, holder *connectionHolder) (*transactionStatus, error) {
	if !m.cfg.nestedTransactionAllowed || !holder.savepointsSupported {
		return nil, &txscope.NestedTransactionNotSupportedError{}
	}

	holder.savepointCounter++
	name := fmt.Sprintf("SAVEPOINT_%d", holder.savepointCounter)

	if err := m.cfg.savepoints.SetSavepoint(ctx, holder.tx, name); err != nil {
		holder.savepointCounter--
		return nil, err
	}

	return &transactionStatus{mgr: m, holder: holder, newTransaction: false, savepointName: name}, nil
}

func (m *Manager) nonTransactional(ctx context.Context, state *contextState) (*transactionStatus, error) {
	return &transactionStatus{mgr: m, holder: nil, newTransaction: false}, nil
}

func (m *Manager) suspendAndNonTransactional(ctx context.Context, state *contextState) (*transactionStatus, error) {
	suspended, err := m.doSuspend(state)
	if err != nil {
		return nil, err
	}
	status, err := m.nonTransactional(ctx, state)
	if err != nil {
		m.doResume(state, suspended)
		return nil, err
	}
	status.suspended = suspended
	return status, nil
}

func (m *Manager) doSuspend(state *contextState) (*suspendedResources, error) {
	state.mu.Lock()
	defer state.mu.Unlock()

	holder := state.resources[m]
	suspended := &suspendedResources{
		holder:           holder,
		name:             state.currentTxName,
		readOnly:         state.currentReadOnly,
		isolation:        state.currentIsolation,
		active:           state.actualTxActive,
		synchronizations: state.synchronizations,
		syncActive:       state.syncActive,
	}

	for _, sync := range state.synchronizations {
		safeCall(m.cfg.logger, "suspend", sync.Suspend)
	}

	delete(state.resources, m)
	state.synchronizations = nil
	state.syncActive = false
	state.currentTxName = ""
	state.currentReadOnly = false
	state.currentIsolation = txscope.IsolationDefault
	state.actualTxActive = false

	return suspended, nil
}

func (m *Manager) doResume(state *contextState, suspended *suspendedResources) {
	state.mu.Lock()
	defer state.mu.Unlock()

	if suspended.holder != nil {
		state.resources[m] = suspended.holder
	}
	state.synchronizations = suspended.synchronizations
	state.syncActive = suspended.syncActive
	state.currentTxName = suspended.name
	state.currentReadOnly = suspended.readOnly
	state.currentIsolation = suspended.isolation
	state.actualTxActive = suspended.active

	for _, sync := range suspended.synchronizations {
		safeCall(m.cfg.logger, "resume", sync.Resume)
	}
}

// Commit implements txscope.Manager.
func (m *Manager) Commit(ctx context.Context, s txscope.Status) error {
	status := s.(*transactionStatus)
	if status.completed {
		return &txscope.IllegalTransactionStateError{Reason: "transaction already completed"}
	}

	state := stateFromContext(ctx)

	if status.holder != nil && status.holder.rollbackOnly {
		if err := m.doRollback(ctx, state, status); err != nil {
			return err
		}
		if !status.newTransaction && !status.HasSavepoint() && !m.cfg.failEarlyOnGlobalRollbackOnly {
			// A plain participant only escalates the flag; the owner of the
			// physical transaction reports the rollback at its own Commit.
			return nil
		}
		return &txscope.UnexpectedRollbackError{Reason: "transaction was marked rollback-only"}
	}

	if err := m.triggerBeforeCommit(state, status); err != nil {
		m.triggerBeforeCompletion(state, status)
		m.physicalRollback(status)
		m.cleanup(state, status)
		m.triggerAfterCompletion(state, status, txscope.RolledBack)
		return m.translateListener(err)
	}
	m.triggerBeforeCompletion(state, status)

	var commitErr error
	switch {
	case status.holder == nil:
		// non-transactional: nothing to commit physically.
	case status.HasSavepoint():
		commitErr = m.cfg.savepoints.ReleaseSavepoint(ctx, status.holder.tx, status.savepointName)
	case status.newTransaction:
		if err := status.holder.checkDeadline(); err != nil {
			commitErr = err
			m.physicalRollback(status)
		} else if err := status.holder.tx.Commit(); err != nil {
			commitErr = err
		}
	}

	if commitErr != nil {
		translated := m.translate("commit", commitErr)
		if m.cfg.rollbackOnCommitFailure && status.newTransaction {
			m.physicalRollback(status)
		}
		m.cleanup(state, status)
		m.triggerAfterCompletion(state, status, txscope.RolledBack)
		return translated
	}

	m.cleanup(state, status)
	m.triggerAfterCommit(state, status)
	m.triggerAfterCompletion(state, status, txscope.Committed)
	return nil
}

// Rollback implements txscope.Manager.
func (m *Manager) Rollback(ctx context.Context, s txscope.Status) error {
	status := s.(*transactionStatus)
	if status.completed {
		return &txscope.IllegalTransactionStateError{Reason: "transaction already completed"}
	}

	state := stateFromContext(ctx)
	return m.doRollback(ctx, state, status)
}

func (m *Manager) doRollback(ctx context.Context, state *contextState, status *transactionStatus) error {
	m.triggerBeforeCompletion(state, status)

	var rollbackErr error
	switch {
	case status.holder == nil:
		// non-transactional: nothing to roll back physically.
	case status.HasSavepoint():
		rollbackErr = m.cfg.savepoints.RollbackToSavepoint(ctx, status.holder.tx, status.savepointName)
	case status.newTransaction:
		rollbackErr = status.holder.tx.Rollback()
	default:
		// participating in someone else's transaction: escalate instead
		// of rolling back physically.
		status.holder.rollbackOnly = true
	}

	m.cleanup(state, status)
	m.triggerAfterCompletion(state, status, txscope.RolledBack)

	if rollbackErr != nil {
		return m.translate("rollback", rollbackErr)
	}
	return nil
}

func (m *Manager) physicalRollback(status *transactionStatus) {
	if status.holder != nil && status.holder.tx != nil {
		if err := status.holder.tx.Rollback(); err != nil {
			m.cfg.logger.Warn("suppressed rollback failure", zap.Error(err))
		}
	}
}

func (m *Manager) cleanup(state *contextState, status *transactionStatus) {
	status.completed = true

	if status.newTransaction && status.holder != nil {
		if status.holder.conn != nil {
			_ = status.holder.conn.Close()
		}

		state.mu.Lock()
		delete(state.resources, m)
		state.currentTxName = ""
		state.currentReadOnly = false
		state.currentIsolation = txscope.IsolationDefault
		state.actualTxActive = false
		state.mu.Unlock()
	}

	if status.suspended != nil {
		m.doResume(state, status.suspended)
	}
}

// Flush lets application code (typically an ORM integration buffering
// writes) ask every synchronization registered on ctx's active
// transaction to flush before the eventual commit, mirroring Spring's
// TransactionSynchronizationManager.triggerFlush(). It is never called
// automatically by Commit: flush timing is the caller's decision.
func (m *Manager) Flush(ctx context.Context) {
	state := stateFromContext(ctx)
	if state == nil {
		return
	}

	state.mu.Lock()
	syncs := append([]txscope.Synchronization(nil), state.synchronizations...)
	state.mu.Unlock()

	for _, sync := range syncs {
		safeCall(m.cfg.logger, "Flush", sync.Flush)
	}
}

// triggerBeforeCommit runs BeforeCommit on every registered
// synchronization. The first error aborts the commit (spec.md §7): the
// caller is expected to roll back instead.
func (m *Manager) triggerBeforeCommit(state *contextState, status *transactionStatus) error {
	if !m.shouldSynchronize(status) || state == nil {
		return nil
	}
	readOnly := state.currentReadOnly
	for _, sync := range state.synchronizations {
		if err := sync.BeforeCommit(readOnly); err != nil {
			return err
		}
	}
	return nil
}

// translateListener applies exception translation only when the
// synchronization-callback failure is itself driver-originated,
// otherwise the application error passes through untouched (spec.md
// §7).
func (m *Manager) translateListener(err error) error {
	if !isDriverError(err) {
		return err
	}
	return m.cfg.translate("before-commit", "", err)
}

func (m *Manager) triggerBeforeCompletion(state *contextState, status *transactionStatus) {
	if !m.shouldSynchronize(status) || state == nil {
		return
	}
	for _, sync := range state.synchronizations {
		safeCall(m.cfg.logger, "BeforeCompletion", sync.BeforeCompletion)
	}
}

func (m *Manager) triggerAfterCommit(state *contextState, status *transactionStatus) {
	if !m.shouldSynchronize(status) || state == nil {
		return
	}
	for _, sync := range state.synchronizations {
		safeCall(m.cfg.logger, "AfterCommit", sync.AfterCommit)
	}
}

func (m *Manager) triggerAfterCompletion(state *contextState, status *transactionStatus, result txscope.CompletionStatus) {
	if !m.shouldSynchronize(status) || state == nil {
		return
	}

	state.mu.Lock()
	state.completionInProgress = true
	syncs := state.synchronizations
	if status.newTransaction {
		state.synchronizations = nil
		state.syncActive = false
	}
	state.mu.Unlock()

	for _, sync := range syncs {
		sync := sync
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.cfg.logger.Error("synchronization AfterCompletion panicked", zap.Any("recovered", r))
				}
			}()
			sync.AfterCompletion(result)
		}()
	}

	state.mu.Lock()
	state.completionInProgress = false
	state.mu.Unlock()
}

func (m *Manager) shouldSynchronize(status *transactionStatus) bool {
	switch m.cfg.synchronizationMode {
	case SynchronizationNever:
		return false
	case SynchronizationOnActualTransaction:
		return status.holder != nil
	default:
		return true
	}
}

func safeCall(logger *zap.Logger, phase string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("synchronization callback panicked", zap.String("phase", phase), zap.Any("recovered", r))
		}
	}()
	fn()
}

func (m *Manager) translateBegin(err error) error {
	return m.translate("begin", err)
}

// translate applies the configured ExceptionTranslator, but leaves
// already-typed txscope errors and application errors coming from a
// synchronization listener untouched (spec.md §7).
func (m *Manager) translate(task string, err error) error {
	if err == nil {
		return nil
	}
	switch err.(type) {
	case *txscope.CannotCreateTransactionError,
		*txscope.TransactionSystemError,
		*txscope.UnexpectedRollbackError,
		*txscope.IllegalTransactionStateError,
		*txscope.NestedTransactionNotSupportedError,
		*txscope.TransactionTimedOutError,
		*txscope.ConcurrencyFailureError:
		return err
	}
	if !isDriverError(err) {
		return err
	}
	return m.cfg.translate(task, "", err)
}
