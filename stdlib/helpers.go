package stdlib

import (
	"database/sql"
	"time"

	"github.com/relaycore/txscope"
)

// isolationLevel maps a txscope.Isolation onto the database/sql constant
// BeginTx expects.
func isolationLevel(i txscope.Isolation) sql.IsolationLevel {
	switch i {
	case txscope.IsolationReadUncommitted:
		return sql.LevelReadUncommitted
	case txscope.IsolationReadCommitted:
		return sql.LevelReadCommitted
	case txscope.IsolationRepeatableRead:
		return sql.LevelRepeatableRead
	case txscope.IsolationSerializable:
		return sql.LevelSerializable
	default:
		return sql.LevelDefault
	}
}

// deadlineFor resolves the absolute deadline a new holder should enforce,
// preferring the Definition's own Timeout over the manager's configured
// default. Returns ok=false when neither specifies one.
func deadlineFor(def txscope.Definition, defaultTimeout time.Duration) (time.Time, bool) {
	timeout := def.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if timeout <= 0 {
		return time.Time{}, false
	}
	return time.Now().Add(timeout), true
}
