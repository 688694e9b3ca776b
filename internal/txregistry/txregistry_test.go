package txregistry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/neebdev/valoradb/internal/walog"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	w, err := walog.Open(t.TempDir(), walog.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return New(w, nil)
}

func TestBegin_RegistersActiveTransaction(t *testing.T) {
	r := newTestRegistry(t)

	txn, err := r.Begin()
	require.NoError(t, err)
	require.Equal(t, StatusActive, txn.Status)

	active := r.ActiveTransactions()
	require.Contains(t, active, txn.ID)
}

func TestFinalize_OnlyFromActiveIsTerminal(t *testing.T) {
	r := newTestRegistry(t)
	txn, err := r.Begin()
	require.NoError(t, err)

	require.NoError(t, r.Finalize(txn.ID, StatusCommitted))
	require.ErrorIs(t, r.Finalize(txn.ID, StatusCommitted), ErrInvalidTransaction)
	require.ErrorIs(t, r.Finalize(txn.ID, StatusAborted), ErrInvalidTransaction)
}

func TestRequireActive_RejectsUnknownAndFinalized(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.RequireActive("nonexistent")
	require.ErrorIs(t, err, ErrInvalidTransaction)

	txn, err := r.Begin()
	require.NoError(t, err)
	require.NoError(t, r.Finalize(txn.ID, StatusAborted))

	_, err = r.RequireActive(txn.ID)
	require.ErrorIs(t, err, ErrInvalidTransaction)
}

func TestRecordOp_AppendsToOperationsInOrder(t *testing.T) {
	r := newTestRegistry(t)
	txn, err := r.Begin()
	require.NoError(t, err)

	require.NoError(t, r.RecordOp(txn.ID, Op{Key: "a", Kind: OpWrite}))
	require.NoError(t, r.RecordOp(txn.ID, Op{Key: "b", Kind: OpDelete}))

	got, ok := r.Get(txn.ID)
	require.True(t, ok)
	require.Equal(t, []Op{{Key: "a", Kind: OpWrite}, {Key: "b", Kind: OpDelete}}, got.Operations)
}

func TestRemove_DropsBookkeeping(t *testing.T) {
	r := newTestRegistry(t)
	txn, err := r.Begin()
	require.NoError(t, err)

	r.Remove(txn.ID)

	_, ok := r.Get(txn.ID)
	require.False(t, ok)
}
