package stdlib

import (
	"context"
	"sync"

	"github.com/relaycore/txscope"
)

// contextState is the execution-context resource registry (spec
// component C1): a per-caller-context map from connection-source identity
// to connection holder, plus the flag set spec.md §3 names. It is carried
// through context.Context by pointer (Design Note §9: "goroutine-scoped
// map threaded via context") so that nested Begin/Commit/Rollback calls
// within the same call chain observe and mutate the same registry.
type contextState struct {
	mu sync.Mutex

	resources map[any]*connectionHolder

	synchronizations     []txscope.Synchronization
	syncActive           bool
	completionInProgress bool

	currentTxName     string
	currentReadOnly   bool
	currentIsolation  txscope.Isolation
	actualTxActive    bool
}

type stateKey struct{}

// ensureState returns a context guaranteed to carry a *contextState,
// creating and attaching a fresh one if ctx didn't already have one.
func ensureState(ctx context.Context) (context.Context, *contextState) {
	if state, ok := ctx.Value(stateKey{}).(*contextState); ok {
		return ctx, state
	}

	state := &contextState{resources: make(map[any]*connectionHolder)}
	return context.WithValue(ctx, stateKey{}, state), state
}

// stateFromContext returns ctx's registry, or nil if it never went
// through a Begin call.
func stateFromContext(ctx context.Context) *contextState {
	state, _ := ctx.Value(stateKey{}).(*contextState)
	return state
}

// IsWithinTransaction reports whether ctx carries an actual database
// transaction started by a Manager in this package. It returns false for
// a NOT_SUPPORTED/NEVER-style non-transactional execution context.
func IsWithinTransaction(ctx context.Context) bool {
	state := stateFromContext(ctx)
	return state != nil && state.actualTxActive
}

// isEmpty reports whether the registry matches the post-condition
// spec.md §3 asserts after every completed transaction pair: no bound
// resources, synchronization inactive, every flag back to zero.
func (s *contextState) isEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.resources) == 0 &&
		!s.syncActive &&
		len(s.synchronizations) == 0 &&
		s.currentTxName == "" &&
		!s.currentReadOnly &&
		!s.actualTxActive
}
