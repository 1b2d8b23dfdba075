package txscope_test

import (
	"errors"
	"testing"

	"github.com/relaycore/txscope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecidePropagation(t *testing.T) {
	t.Parallel()

	t.Run("REQUIRED joins when active", func(t *testing.T) {
		t.Parallel()
		action, err := txscope.DecidePropagation(txscope.PropagationInput{
			ExistingActive: true,
			Propagation:    txscope.REQUIRED,
		})
		require.NoError(t, err)
		assert.Equal(t, txscope.ActionJoin, action)
	})

	t.Run("REQUIRED starts new when absent", func(t *testing.T) {
		t.Parallel()
		action, err := txscope.DecidePropagation(txscope.PropagationInput{
			Propagation: txscope.REQUIRED,
		})
		require.NoError(t, err)
		assert.Equal(t, txscope.ActionStartNew, action)
	})

	t.Run("REQUIRES_NEW suspends an existing transaction", func(t *testing.T) {
		t.Parallel()
		action, err := txscope.DecidePropagation(txscope.PropagationInput{
			ExistingActive: true,
			Propagation:    txscope.REQUIRES_NEW,
		})
		require.NoError(t, err)
		assert.Equal(t, txscope.ActionSuspendAndStartNew, action)
	})

	t.Run("NESTED creates a savepoint when active", func(t *testing.T) {
		t.Parallel()
		action, err := txscope.DecidePropagation(txscope.PropagationInput{
			ExistingActive: true,
			Propagation:    txscope.NESTED,
		})
		require.NoError(t, err)
		assert.Equal(t, txscope.ActionSavepoint, action)
	})

	t.Run("NESTED starts new when absent", func(t *testing.T) {
		t.Parallel()
		action, err := txscope.DecidePropagation(txscope.PropagationInput{
			Propagation: txscope.NESTED,
		})
		require.NoError(t, err)
		assert.Equal(t, txscope.ActionStartNew, action)
	})

	t.Run("SUPPORTS runs without a transaction when absent", func(t *testing.T) {
		t.Parallel()
		action, err := txscope.DecidePropagation(txscope.PropagationInput{
			Propagation: txscope.SUPPORTS,
		})
		require.NoError(t, err)
		assert.Equal(t, txscope.ActionNonTransactional, action)
	})

	t.Run("NOT_SUPPORTED suspends an existing transaction", func(t *testing.T) {
		t.Parallel()
		action, err := txscope.DecidePropagation(txscope.PropagationInput{
			ExistingActive: true,
			Propagation:    txscope.NOT_SUPPORTED,
		})
		require.NoError(t, err)
		assert.Equal(t, txscope.ActionSuspendAndNonTransactional, action)
	})

	t.Run("NEVER fails with an existing transaction", func(t *testing.T) {
		t.Parallel()
		_, err := txscope.DecidePropagation(txscope.PropagationInput{
			ExistingActive: true,
			Propagation:    txscope.NEVER,
		})
		var illegalState *txscope.IllegalTransactionStateError
		require.Error(t, err)
		assert.True(t, errors.As(err, &illegalState))
	})

	t.Run("MANDATORY fails without an existing transaction", func(t *testing.T) {
		t.Parallel()
		_, err := txscope.DecidePropagation(txscope.PropagationInput{
			Propagation: txscope.MANDATORY,
		})
		var illegalState *txscope.IllegalTransactionStateError
		require.Error(t, err)
		assert.True(t, errors.As(err, &illegalState))
	})

	t.Run("validateExistingTransaction rejects an isolation mismatch", func(t *testing.T) {
		t.Parallel()
		_, err := txscope.DecidePropagation(txscope.PropagationInput{
			ExistingActive:   true,
			Propagation:      txscope.REQUIRED,
			ValidateExisting: true,
			Isolation:        txscope.IsolationSerializable,
			OuterIsolation:   txscope.IsolationReadCommitted,
		})
		var illegalState *txscope.IllegalTransactionStateError
		require.Error(t, err)
		assert.True(t, errors.As(err, &illegalState))
	})

	t.Run("validateExistingTransaction allows a read-only inner joining a read-write outer", func(t *testing.T) {
		t.Parallel()
		action, err := txscope.DecidePropagation(txscope.PropagationInput{
			ExistingActive:   true,
			Propagation:      txscope.REQUIRED,
			ValidateExisting: true,
			ReadOnly:         true,
			OuterReadOnly:    false,
		})
		require.NoError(t, err)
		assert.Equal(t, txscope.ActionJoin, action)
	})

	t.Run("validateExistingTransaction rejects a read-write inner joining a read-only outer", func(t *testing.T) {
		t.Parallel()
		_, err := txscope.DecidePropagation(txscope.PropagationInput{
			ExistingActive:   true,
			Propagation:      txscope.REQUIRED,
			ValidateExisting: true,
			ReadOnly:         false,
			OuterReadOnly:    true,
		})
		var illegalState *txscope.IllegalTransactionStateError
		require.Error(t, err)
		assert.True(t, errors.As(err, &illegalState))
	})
}
