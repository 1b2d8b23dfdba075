package stdlib

import (
	"database/sql"
	"time"

	"github.com/relaycore/txscope"
)

// connectionHolder is the per-source owner of a physical connection plus
// its transactional state flags (spec component C2). It is exclusively
// owned, at any given moment, by either the registry's resources map or a
// suspendedResources snapshot.
type connectionHolder struct {
	conn *sql.Conn
	tx   *sql.Tx

	referenceCount      int
	transactionActive   bool
	rollbackOnly        bool
	savepointsSupported bool
	savepointCounter    int
	deadline            time.Time

	synchronizedWithTransaction bool
}

// remainingTime reports how long is left before the holder's deadline,
// and whether a deadline is set at all. Downstream statement execution
// consults this through BoundConn before running.
func (h *connectionHolder) remainingTime() (time.Duration, bool) {
	if h.deadline.IsZero() {
		return 0, false
	}
	return time.Until(h.deadline), true
}

func (h *connectionHolder) expired() bool {
	remaining, hasDeadline := h.remainingTime()
	return hasDeadline && remaining <= 0
}

func (h *connectionHolder) checkDeadline() error {
	if h.expired() {
		return &txscope.TransactionTimedOutError{}
	}
	return nil
}

// suspendedResources is the snapshot captured by suspend and restored
// atomically by resume (spec's SuspendedResources).
type suspendedResources struct {
	holder           *connectionHolder
	name             string
	readOnly         bool
	isolation        txscope.Isolation
	active           bool
	synchronizations []txscope.Synchronization
	syncActive       bool
}
