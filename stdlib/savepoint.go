package stdlib

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/relaycore/txscope"
)

// SavepointDialect knows how to emit the three statements a NESTED
// propagation needs for a given driver (spec component C5's "driver
// reports savepoint support" and §4.2 step 3). It generalizes the
// teacher's five NestedTransactions* functions, which each hard-coded
// both the dialect and the depth-tracking; here the savepoint counter
// lives on the connectionHolder (spec.md §3) and the dialect only knows
// the SQL grammar.
type SavepointDialect interface {
	// SupportsSavepoints reports whether NESTED can be honored at all
	// with this dialect.
	SupportsSavepoints() bool
	SetSavepoint(ctx context.Context, tx *sql.Tx, name string) error
	ReleaseSavepoint(ctx context.Context, tx *sql.Tx, name string) error
	RollbackToSavepoint(ctx context.Context, tx *sql.Tx, name string) error
}

// PostgresSavepoints is compatible with PostgreSQL, MySQL, MariaDB, and
// SQLite: all four accept the standard SAVEPOINT / RELEASE SAVEPOINT /
// ROLLBACK TO SAVEPOINT grammar, mirroring the teacher's
// NestedTransactionsSavepoints.
var PostgresSavepoints SavepointDialect = standardSavepoints{}

type standardSavepoints struct{}

func (standardSavepoints) SupportsSavepoints() bool { return true }

func (standardSavepoints) SetSavepoint(ctx context.Context, tx *sql.Tx, name string) error {
	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to create savepoint: %w", err)
	}
	return nil
}

func (standardSavepoints) ReleaseSavepoint(ctx context.Context, tx *sql.Tx, name string) error {
	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", err)
	}
	return nil
}

func (standardSavepoints) RollbackToSavepoint(ctx context.Context, tx *sql.Tx, name string) error {
	if _, err := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to rollback to savepoint: %w", err)
	}
	return nil
}

// MSSQLSavepoints mirrors the teacher's NestedTransactionsMSSQL: SQL
// Server names this SAVE TRANSACTION / ROLLBACK TRANSACTION and has no
// release statement at all (the savepoint is implicitly released on
// commit of the enclosing transaction).
var MSSQLSavepoints SavepointDialect = mssqlSavepoints{}

type mssqlSavepoints struct{}

func (mssqlSavepoints) SupportsSavepoints() bool { return true }

func (mssqlSavepoints) SetSavepoint(ctx context.Context, tx *sql.Tx, name string) error {
	if _, err := tx.ExecContext(ctx, "SAVE TRANSACTION "+name); err != nil {
		return fmt.Errorf("failed to create savepoint: %w", err)
	}
	return nil
}

func (mssqlSavepoints) ReleaseSavepoint(context.Context, *sql.Tx, string) error {
	return nil
}

func (mssqlSavepoints) RollbackToSavepoint(ctx context.Context, tx *sql.Tx, name string) error {
	if _, err := tx.ExecContext(ctx, "ROLLBACK TRANSACTION "+name); err != nil {
		return fmt.Errorf("failed to rollback to savepoint: %w", err)
	}
	return nil
}

// OracleSavepoints mirrors the teacher's NestedTransactionsOracle: Oracle
// supports SAVEPOINT and ROLLBACK TO SAVEPOINT, but has no RELEASE
// SAVEPOINT statement; a savepoint is dropped implicitly when its
// enclosing transaction ends.
var OracleSavepoints SavepointDialect = oracleSavepoints{}

type oracleSavepoints struct{}

func (oracleSavepoints) SupportsSavepoints() bool { return true }

func (oracleSavepoints) SetSavepoint(ctx context.Context, tx *sql.Tx, name string) error {
	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to create savepoint: %w", err)
	}
	return nil
}

func (oracleSavepoints) ReleaseSavepoint(context.Context, *sql.Tx, string) error {
	return nil
}

func (oracleSavepoints) RollbackToSavepoint(ctx context.Context, tx *sql.Tx, name string) error {
	if _, err := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to rollback to savepoint: %w", err)
	}
	return nil
}

// NoSavepoints mirrors the teacher's NestedTransactionsNone: it is the
// default dialect, matching the teacher's stance that nested transactions
// must be opted into explicitly rather than silently assumed available.
var NoSavepoints SavepointDialect = noSavepoints{}

type noSavepoints struct{}

func (noSavepoints) SupportsSavepoints() bool { return false }

func (noSavepoints) SetSavepoint(context.Context, *sql.Tx, string) error {
	return &txscope.NestedTransactionNotSupportedError{}
}

func (noSavepoints) ReleaseSavepoint(context.Context, *sql.Tx, string) error {
	return &txscope.NestedTransactionNotSupportedError{}
}

func (noSavepoints) RollbackToSavepoint(context.Context, *sql.Tx, string) error {
	return &txscope.NestedTransactionNotSupportedError{}
}
