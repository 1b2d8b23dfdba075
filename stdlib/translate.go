package stdlib

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/microsoft/go-mssqldb"
	"github.com/relaycore/txscope"
	"github.com/sijms/go-ora/v2/network"

	mysqldriver "github.com/go-sql-driver/mysql"
)

// ExceptionTranslator is the pluggable function (task, sql, driverError)
// -> domainError (spec component C8). When not configured, defaultTranslate
// is used.
type ExceptionTranslator func(task, sql string, driverErr error) error

// defaultTranslate inspects the driver error against every SQL driver the
// module wires (pgx, go-sql-driver/mysql, go-mssqldb, go-ora) and
// classifies serialization conflicts and lock-wait timeouts as
// txscope.ConcurrencyFailureError, falling back to
// txscope.TransactionSystemError for anything else.
func defaultTranslate(task, _ string, err error) error {
	if err == nil {
		return nil
	}

	if isConcurrencyFailure(err) {
		return &txscope.ConcurrencyFailureError{Err: err}
	}

	return &txscope.TransactionSystemError{Err: err}
}

func isConcurrencyFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// SQLSTATE class 40 is "transaction rollback", which covers
		// serialization_failure and deadlock_detected.
		return strings.HasPrefix(pgErr.Code, "40")
	}

	var mysqlErr *mysqldriver.MySQLError
	if errors.As(err, &mysqlErr) {
		// 1213: deadlock found when trying to get lock.
		// 1205: lock wait timeout exceeded.
		return mysqlErr.Number == 1213 || mysqlErr.Number == 1205
	}

	var mssqlErr mssql.Error
	if errors.As(err, &mssqlErr) {
		// 1205: transaction was deadlocked on lock resources.
		return mssqlErr.Number == 1205
	}

	var oraErr *network.OracleError
	if errors.As(err, &oraErr) {
		// ORA-00060: deadlock detected while waiting for resource.
		return oraErr.ErrCode == 60
	}

	return false
}

// isDriverError reports whether err originated from one of the SQL
// drivers this module recognizes, as opposed to an application error
// returned by a synchronization listener. Spec.md §7: "Synchronization-
// callback failures in the before phases... are translated if
// driver-originated", implying application errors pass through untouched.
func isDriverError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return true
	}

	var mysqlErr *mysqldriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return true
	}

	var mssqlErr mssql.Error
	if errors.As(err, &mssqlErr) {
		return true
	}

	var oraErr *network.OracleError
	return errors.As(err, &oraErr)
}
