package txscope

// PropagationAction is the decision DecidePropagation reaches for a given
// Begin call. It carries no driver I/O: adapters switch on it and perform
// the actual connection work.
type PropagationAction int

const (
	// ActionJoin joins the existing transaction; the holder is shared,
	// no new physical transaction is started.
	ActionJoin PropagationAction = iota
	// ActionStartNew acquires a fresh connection and starts a new
	// physical transaction; there was no existing transaction to
	// suspend.
	ActionStartNew
	// ActionSuspendAndStartNew suspends the existing transaction, then
	// behaves like ActionStartNew.
	ActionSuspendAndStartNew
	// ActionSavepoint creates a savepoint on the existing transaction's
	// connection; the holder is shared.
	ActionSavepoint
	// ActionNonTransactional runs the guarded work without a transaction
	// binding at all.
	ActionNonTransactional
	// ActionSuspendAndNonTransactional suspends the existing
	// transaction, then behaves like ActionNonTransactional.
	ActionSuspendAndNonTransactional
)

// PropagationInput is everything DecidePropagation needs to resolve a
// Begin call into an action. It is entirely driver-agnostic: no
// connections, no contexts.
type PropagationInput struct {
	// ExistingActive reports whether a holder is bound on the execution
	// context for this connection source and has an active transaction.
	ExistingActive bool
	// Propagation is the mode requested by the caller's Definition.
	Propagation Propagation
	// Isolation and ReadOnly are the caller's requested settings, only
	// consulted when ExistingActive and ValidateExisting are both true.
	Isolation Isolation
	ReadOnly  bool
	// ValidateExisting mirrors the manager's validateExistingTransaction
	// option.
	ValidateExisting bool
	// OuterIsolation and OuterReadOnly describe the existing
	// transaction's current settings, used only for validation.
	OuterIsolation Isolation
	OuterReadOnly  bool
}

// DecidePropagation implements the table in spec.md §4.1. It is a pure
// function: given the same input it always returns the same action or
// error, and it performs no I/O, which is why it lives in the
// driver-agnostic root package and is shared verbatim by every adapter.
func DecidePropagation(in PropagationInput) (PropagationAction, error) {
	switch in.Propagation {
	case REQUIRED:
		if in.ExistingActive {
			if err := validateJoin(in); err != nil {
				return 0, err
			}
			return ActionJoin, nil
		}
		return ActionStartNew, nil

	case REQUIRES_NEW:
		if in.ExistingActive {
			return ActionSuspendAndStartNew, nil
		}
		return ActionStartNew, nil

	case NESTED:
		if in.ExistingActive {
			return ActionSavepoint, nil
		}
		return ActionStartNew, nil

	case SUPPORTS:
		if in.ExistingActive {
			if err := validateJoin(in); err != nil {
				return 0, err
			}
			return ActionJoin, nil
		}
		return ActionNonTransactional, nil

	case NOT_SUPPORTED:
		if in.ExistingActive {
			return ActionSuspendAndNonTransactional, nil
		}
		return ActionNonTransactional, nil

	case NEVER:
		if in.ExistingActive {
			return 0, &IllegalTransactionStateError{
				Reason: "propagation NEVER does not allow an existing transaction",
			}
		}
		return ActionNonTransactional, nil

	case MANDATORY:
		if in.ExistingActive {
			if err := validateJoin(in); err != nil {
				return 0, err
			}
			return ActionJoin, nil
		}
		return 0, &IllegalTransactionStateError{
			Reason: "propagation MANDATORY requires an existing transaction",
		}

	default:
		return 0, &IllegalTransactionStateError{
			Reason: "unknown propagation mode",
		}
	}
}

// validateJoin applies the validateExistingTransaction check from
// spec.md §4.1: reject if a non-default requested isolation differs from
// the outer's (IsolationDefault always joins), or if the requested read-only is less strict than the outer's
// (outer read-only, inner read-write is the only rejected combination).
func validateJoin(in PropagationInput) error {
	if !in.ValidateExisting {
		return nil
	}

	if in.Isolation != IsolationDefault && in.Isolation != in.OuterIsolation {
		return &IllegalTransactionStateError{
			Reason: "requested isolation level does not match the existing transaction's isolation level",
		}
	}

	if in.OuterReadOnly && !in.ReadOnly {
		return &IllegalTransactionStateError{
			Reason: "participating transaction requested read-write access to a read-only transaction",
		}
	}

	return nil
}
