package adapters

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cvadapt/internal/billing/domain"
	"cvadapt/internal/billing/ports"
)

func TestSQLiteLedgerStoreContract(t *testing.T) {
	runLedgerStoreContract(t, func(t *testing.T) ports.LedgerStore {
		store, err := OpenSQLiteLedgerStore(filepath.Join(t.TempDir(), "ledger.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}

func TestSQLiteLedgerStorePreservesTimestamps(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLiteLedgerStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Commit(ctx, "u1", addCredits("u1", 2, ""))
	require.NoError(t, err)

	acct, ok, err := store.LoadAccount(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, acct.CreatedAt.Equal(contractNow))
	txs, err := store.ListTransactions(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.True(t, txs[0].CreatedAt.Equal(contractNow))
}

type stubResult struct {
	rows int64
	err  error
}

func (r stubResult) LastInsertId() (int64, error) { return 0, nil }
func (r stubResult) RowsAffected() (int64, error) { return r.rows, r.err }

func TestSessionClaimedSeparatesDriverErrorsFromDuplicates(t *testing.T) {
	require.NoError(t, sessionClaimed(stubResult{rows: 1}))
	assert.ErrorIs(t, sessionClaimed(stubResult{rows: 0}), domain.ErrSessionAlreadySettled)

	driverErr := errors.New("rows affected unsupported")
	err := sessionClaimed(stubResult{err: driverErr})
	require.ErrorIs(t, err, driverErr)
	assert.NotErrorIs(t, err, domain.ErrSessionAlreadySettled)
}
