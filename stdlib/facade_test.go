package stdlib_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/relaycore/txscope"
	"github.com/relaycore/txscope/stdlib"
	"github.com/stretchr/testify/require"
)

func TestTransactionAwareDB_ConnReturnsBoundTx(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mgr := stdlib.NewManager(db)
	facade := stdlib.NewTransactionAwareDB(db, mgr)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE balances").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = txscope.WithinTransaction(context.Background(), mgr, func(ctx context.Context) error {
		conn, connErr := facade.Conn(ctx)
		require.NoError(t, connErr)
		defer conn.Close()

		_, execErr := conn.ExecContext(ctx, "UPDATE balances SET amount = 1")
		return execErr
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionAwareDB_ConnChecksDeadlineMidCallback(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mgr := stdlib.NewManager(db)
	facade := stdlib.NewTransactionAwareDB(db, mgr)

	mock.ExpectBegin()
	mock.ExpectRollback()

	def := txscope.Definition{Timeout: 5 * time.Millisecond}

	err = txscope.Execute(context.Background(), mgr, def, func(ctx context.Context, _ txscope.Status) error {
		conn, connErr := facade.Conn(ctx)
		require.NoError(t, connErr)
		defer conn.Close()

		time.Sleep(10 * time.Millisecond)

		_, prepErr := conn.PrepareContext(ctx, "SELECT amount FROM balances WHERE id = 1")
		return prepErr
	})

	var timedOut *txscope.TransactionTimedOutError
	require.True(t, errors.As(err, &timedOut))
	require.NoError(t, mock.ExpectationsWereMet())
}
