package storage

import (
	"errors"

	"github.com/neebdev/valoradb/internal/ids"
	"github.com/neebdev/valoradb/internal/lockmgr"
	"github.com/neebdev/valoradb/internal/txregistry"
)

// Error kinds surfaced by the engine, per spec §6.
var (
	ErrInvalidKey         = ids.ErrInvalidKey
	ErrInvalidTransaction = txregistry.ErrInvalidTransaction
	ErrLockTimeout        = lockmgr.ErrLockTimeout
	ErrTransactionAborted = lockmgr.ErrTransactionAborted
	ErrWalIO              = errors.New("storage: WAL I/O error")
	// ErrCommitFailed is returned when applying a transaction's effects to
	// the data files fails after its COMMIT record is already durable.
	// The transaction is, durably, committed; the caller sees failure
	// anyway, and the recovery pass run by the next Open redoes the apply.
	ErrCommitFailed = errors.New("storage: commit failed after durable COMMIT; next recovery will redo it")
)
