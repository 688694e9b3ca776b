package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/neebdev/valoradb/internal/walog"
)

func openTestEngine(t *testing.T, dir string) *Engine {
	t.Helper()
	e, err := Open(Options{DBRoot: dir})
	require.NoError(t, err)
	return e
}

func TestWriteReadCommit_PersistsDocument(t *testing.T) {
	dir := t.TempDir()
	e := openTestEngine(t, dir)
	t.Cleanup(func() { _ = e.Shutdown() })

	txn, err := e.Begin()
	require.NoError(t, err)
	require.NoError(t, e.Write(txn, "user-1", map[string]any{"name": "ada"}))
	require.NoError(t, e.Commit(txn))

	data, err := os.ReadFile(filepath.Join(dir, "user-1.json"))
	require.NoError(t, err)
	require.Contains(t, string(data), "ada")
}

func TestWrite_MergesOnTopOfExistingDocument(t *testing.T) {
	dir := t.TempDir()
	e := openTestEngine(t, dir)
	t.Cleanup(func() { _ = e.Shutdown() })

	txn1, err := e.Begin()
	require.NoError(t, err)
	require.NoError(t, e.Write(txn1, "doc", map[string]any{"a": 1, "nested": map[string]any{"x": 1}}))
	require.NoError(t, e.Commit(txn1))

	txn2, err := e.Begin()
	require.NoError(t, err)
	require.NoError(t, e.Write(txn2, "doc", map[string]any{"nested": map[string]any{"y": 2}}))
	got, err := e.Read(txn2, "doc")
	require.NoError(t, err)
	require.Equal(t, map[string]any{"a": 1.0, "nested": map[string]any{"x": 1.0, "y": 2}}, got)
	require.NoError(t, e.Commit(txn2))
}

func TestRead_SeesOwnUncommittedWriteNotOtherTransactions(t *testing.T) {
	dir := t.TempDir()
	e := openTestEngine(t, dir)
	t.Cleanup(func() { _ = e.Shutdown() })

	writer, err := e.Begin()
	require.NoError(t, err)
	require.NoError(t, e.Write(writer, "doc", map[string]any{"a": 1}))

	got, err := e.Read(writer, "doc")
	require.NoError(t, err)
	require.Equal(t, map[string]any{"a": 1}, got)

	_, err = os.Stat(filepath.Join(dir, "doc.json"))
	require.True(t, os.IsNotExist(err))
}

func TestRollback_DiscardsUncommittedEffects(t *testing.T) {
	dir := t.TempDir()
	e := openTestEngine(t, dir)
	t.Cleanup(func() { _ = e.Shutdown() })

	txn, err := e.Begin()
	require.NoError(t, err)
	require.NoError(t, e.Write(txn, "doc", map[string]any{"a": 1}))
	require.NoError(t, e.Rollback(txn))

	_, err = os.Stat(filepath.Join(dir, "doc.json"))
	require.True(t, os.IsNotExist(err))

	_, err = e.Read(txn, "doc")
	require.ErrorIs(t, err, ErrInvalidTransaction)
}

func TestDelete_RemovesCommittedDocument(t *testing.T) {
	dir := t.TempDir()
	e := openTestEngine(t, dir)
	t.Cleanup(func() { _ = e.Shutdown() })

	txn1, err := e.Begin()
	require.NoError(t, err)
	require.NoError(t, e.Write(txn1, "doc", map[string]any{"a": 1}))
	require.NoError(t, e.Commit(txn1))

	txn2, err := e.Begin()
	require.NoError(t, err)
	require.NoError(t, e.Delete(txn2, "doc"))
	require.NoError(t, e.Commit(txn2))

	_, err = os.Stat(filepath.Join(dir, "doc.json"))
	require.True(t, os.IsNotExist(err))
}

func TestWrite_RejectsInvalidKey(t *testing.T) {
	dir := t.TempDir()
	e := openTestEngine(t, dir)
	t.Cleanup(func() { _ = e.Shutdown() })

	txn, err := e.Begin()
	require.NoError(t, err)
	err = e.Write(txn, "../escape", map[string]any{"a": 1})
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestExclusiveLock_BlocksConcurrentWriters(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(Options{DBRoot: dir, LockTimeout: 50 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Shutdown() })

	txn1, err := e.Begin()
	require.NoError(t, err)
	require.NoError(t, e.Write(txn1, "doc", map[string]any{"a": 1}))

	txn2, err := e.Begin()
	require.NoError(t, err)
	err = e.Write(txn2, "doc", map[string]any{"b": 2})
	require.ErrorIs(t, err, ErrLockTimeout)
}

func TestRecover_RedoesCommittedWriteNotYetApplied(t *testing.T) {
	dir := t.TempDir()
	e1 := openTestEngine(t, dir)

	txn, err := e1.Begin()
	require.NoError(t, err)
	require.NoError(t, e1.Write(txn, "doc", map[string]any{"a": 1}))

	// Simulate a crash between the durable COMMIT record and the
	// apply-on-commit step: append COMMIT directly, skip applyCommitted.
	committed, err := walogCommitOnly(e1, txn)
	require.NoError(t, err)
	require.True(t, committed)
	require.NoError(t, e1.wal.Close())

	_, err = os.Stat(filepath.Join(dir, "doc.json"))
	require.True(t, os.IsNotExist(err))

	e2 := openTestEngine(t, dir)
	t.Cleanup(func() { _ = e2.Shutdown() })

	data, err := os.ReadFile(filepath.Join(dir, "doc.json"))
	require.NoError(t, err)
	require.Contains(t, string(data), `"a": 1`)
}

func TestRecover_UndoesUncommittedWrite(t *testing.T) {
	dir := t.TempDir()
	e1 := openTestEngine(t, dir)

	txn1, err := e1.Begin()
	require.NoError(t, err)
	require.NoError(t, e1.Write(txn1, "doc", map[string]any{"a": 1}))
	require.NoError(t, e1.Commit(txn1))

	txn2, err := e1.Begin()
	require.NoError(t, err)
	require.NoError(t, e1.Write(txn2, "doc", map[string]any{"a": 2}))
	// Crash before COMMIT/ROLLBACK: txn2 is neither committed nor aborted.
	require.NoError(t, e1.wal.ForceFlush())
	require.NoError(t, e1.wal.Close())

	e2 := openTestEngine(t, dir)
	t.Cleanup(func() { _ = e2.Shutdown() })

	data, err := os.ReadFile(filepath.Join(dir, "doc.json"))
	require.NoError(t, err)
	require.Contains(t, string(data), `"a": 1`)
	require.NotContains(t, string(data), `"a": 2`)
}

// walogCommitOnly appends a COMMIT record for txn directly to the engine's
// WAL without running applyCommitted, to simulate a crash between the
// durable commit and the apply step.
func walogCommitOnly(e *Engine, txnID string) (bool, error) {
	if _, err := e.registry.RequireActive(txnID); err != nil {
		return false, err
	}
	if _, err := e.wal.Append(walog.NewCommitEntry(txnID)); err != nil {
		return false, err
	}
	return true, e.wal.ForceFlush()
}
