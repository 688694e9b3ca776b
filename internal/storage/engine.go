// Package storage implements the document store's transactional engine: it
// wires the write-ahead log, the two-phase lock manager and the
// transaction registry into the operations a client sees — begin, write,
// read, delete, commit, rollback — and runs ARIES-style crash recovery on
// open. Grounded on the teacher's internal/engine/storage.go and
// internal/transaction/operations.go, generalized from in-memory values to
// the document-per-key, WAL-backed model this store uses.
package storage

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/neebdev/valoradb/internal/ids"
	"github.com/neebdev/valoradb/internal/lockmgr"
	"github.com/neebdev/valoradb/internal/merge"
	"github.com/neebdev/valoradb/internal/metrics"
	"github.com/neebdev/valoradb/internal/txregistry"
	"github.com/neebdev/valoradb/internal/walog"
)

// Engine is the document store's entry point: one per open database
// directory.
type Engine struct {
	dbRoot string

	wal      *walog.WAL
	locks    *lockmgr.Manager
	registry *txregistry.Registry
	overlay  *overlay

	log *logrus.Entry
}

// Open opens (creating if absent) the database at opts.DBRoot, replays its
// WAL to bring the data files to a consistent state, and returns a ready
// Engine.
func Open(opts Options) (*Engine, error) {
	logger := opts.logger()

	wal, err := walog.Open(opts.DBRoot, opts.WAL)
	if err != nil {
		return nil, fmt.Errorf("storage: open wal: %w", err)
	}

	e := &Engine{
		dbRoot:   opts.DBRoot,
		wal:      wal,
		locks:    lockmgr.New(opts.LockTimeout, logger),
		registry: txregistry.New(wal, logger),
		overlay:  newOverlay(),
		log:      logger.WithField("component", "storage"),
	}

	if err := e.recover(); err != nil {
		wal.Close()
		return nil, fmt.Errorf("storage: recover: %w", err)
	}

	return e, nil
}

// Begin starts a new transaction and returns its ID.
func (e *Engine) Begin() (string, error) {
	txn, err := e.registry.Begin()
	if err != nil {
		return "", err
	}
	return txn.ID, nil
}

// Write merges patch into the current value of key within txnID, visible
// only to txnID until commit.
func (e *Engine) Write(txnID, key string, patch any) error {
	if err := ids.ValidateKey(key); err != nil {
		return err
	}
	if _, err := e.registry.RequireActive(txnID); err != nil {
		return err
	}
	if err := e.locks.Acquire(key, txnID, lockmgr.Exclusive); err != nil {
		return fmt.Errorf("storage: lock %s: %w", key, err)
	}

	before, err := e.visibleForWrite(txnID, key)
	if err != nil {
		return err
	}
	after := merge.Merge(before, patch)

	entry, err := walog.NewWriteEntry(txnID, key, before, after)
	if err != nil {
		return fmt.Errorf("storage: encode write entry: %w", err)
	}
	if _, err := e.wal.Append(entry); err != nil {
		return fmt.Errorf("%w: %v", ErrWalIO, err)
	}

	e.overlay.set(txnID, key, effect{after: after})
	if err := e.registry.RecordOp(txnID, txregistry.Op{Key: key, Kind: txregistry.OpWrite}); err != nil {
		return err
	}
	return nil
}

// Read returns the value of key as visible to txnID: its own uncommitted
// effect if any, otherwise the committed on-disk value.
func (e *Engine) Read(txnID, key string) (any, error) {
	if err := ids.ValidateKey(key); err != nil {
		return nil, err
	}
	if _, err := e.registry.RequireActive(txnID); err != nil {
		return nil, err
	}
	if err := e.locks.Acquire(key, txnID, lockmgr.Shared); err != nil {
		return nil, fmt.Errorf("storage: lock %s: %w", key, err)
	}

	if eff, ok := e.overlay.get(txnID, key); ok {
		if eff.deleted {
			return nil, nil
		}
		return eff.after, nil
	}
	return e.readOnDiskStrict(key)
}

// Delete removes key within txnID, visible only to txnID until commit.
func (e *Engine) Delete(txnID, key string) error {
	if err := ids.ValidateKey(key); err != nil {
		return err
	}
	if _, err := e.registry.RequireActive(txnID); err != nil {
		return err
	}
	if err := e.locks.Acquire(key, txnID, lockmgr.Exclusive); err != nil {
		return fmt.Errorf("storage: lock %s: %w", key, err)
	}

	before, err := e.visibleForWrite(txnID, key)
	if err != nil {
		return err
	}

	entry, err := walog.NewDeleteEntry(txnID, key, before)
	if err != nil {
		return fmt.Errorf("storage: encode delete entry: %w", err)
	}
	if _, err := e.wal.Append(entry); err != nil {
		return fmt.Errorf("%w: %v", ErrWalIO, err)
	}

	e.overlay.set(txnID, key, effect{deleted: true})
	if err := e.registry.RecordOp(txnID, txregistry.Op{Key: key, Kind: txregistry.OpDelete}); err != nil {
		return err
	}
	return nil
}

// visibleForWrite is the before-image lookup shared by Write and Delete: a
// transaction's own prior effect on key within the same transaction, else
// the on-disk value (malformed content treated as an empty object). This
// applies the same visibility rule invariant I3 requires of every WRITE and
// DELETE entry's before-image uniformly to both operations, rather than
// the narrower "on-disk value" phrasing that would otherwise make a
// write-then-delete-same-key sequence within one transaction record a
// stale before-image on the DELETE.
func (e *Engine) visibleForWrite(txnID, key string) (any, error) {
	if eff, ok := e.overlay.get(txnID, key); ok {
		if eff.deleted {
			return nil, nil
		}
		return eff.after, nil
	}
	return e.readOnDiskForMerge(key)
}

// Commit durably records txnID's commit, applies its effects to the data
// files, and releases its locks. If applying the effects fails after the
// COMMIT record is already durable, the transaction is still finalized as
// committed — the WAL is the source of truth — and ErrCommitFailed is
// returned so the caller knows the data files may lag until the next
// recovery pass.
func (e *Engine) Commit(txnID string) error {
	txn, err := e.registry.RequireActive(txnID)
	if err != nil {
		return err
	}

	if _, err := e.wal.Append(walog.NewCommitEntry(txnID)); err != nil {
		return fmt.Errorf("%w: %v", ErrWalIO, err)
	}
	if err := e.wal.ForceFlush(); err != nil {
		return fmt.Errorf("%w: %v", ErrWalIO, err)
	}

	applyErr := e.applyCommitted(txn.ID)

	_ = e.registry.Finalize(txn.ID, txregistry.StatusCommitted)
	if applyErr == nil {
		e.wal.TrimCommittedTransaction(txn.ID)
	}
	e.locks.ReleaseAll(txn.ID)
	e.overlay.clear(txn.ID)
	e.registry.Remove(txn.ID)

	if applyErr != nil {
		metrics.TransactionsTotal.WithLabelValues("commit_failed").Inc()
		e.log.WithError(applyErr).WithField("txn", txn.ID).Error("apply-on-commit failed after durable COMMIT")
		return fmt.Errorf("%w: %v", ErrCommitFailed, applyErr)
	}

	metrics.TransactionsTotal.WithLabelValues("committed").Inc()
	return nil
}

// applyCommitted writes txnID's final per-key effects to the data files.
// Because the overlay already holds each key's latest after-image, this is
// equivalent to replaying the transaction's WAL entries in LSN order and
// converges to the same end state.
func (e *Engine) applyCommitted(txnID string) error {
	for key, eff := range e.overlay.snapshot(txnID) {
		if eff.deleted {
			if err := e.unlinkKey(key); err != nil {
				return err
			}
			continue
		}
		if err := e.writeKeyFile(key, eff.after); err != nil {
			return err
		}
	}
	return nil
}

// Rollback durably records txnID's abort, discards its effects (which were
// never applied to the data files) and releases its locks.
func (e *Engine) Rollback(txnID string) error {
	txn, err := e.registry.RequireActive(txnID)
	if err != nil {
		return err
	}

	if _, err := e.wal.Append(walog.NewRollbackEntry(txnID)); err != nil {
		return fmt.Errorf("%w: %v", ErrWalIO, err)
	}

	if err := e.registry.Finalize(txn.ID, txregistry.StatusAborted); err != nil {
		return err
	}
	e.locks.ReleaseAll(txn.ID)
	e.overlay.clear(txn.ID)
	e.registry.Remove(txn.ID)

	metrics.TransactionsTotal.WithLabelValues("aborted").Inc()
	return nil
}

// ActiveTransactions returns the IDs of every transaction currently in
// progress.
func (e *Engine) ActiveTransactions() []string {
	return e.registry.ActiveTransactions()
}

// ForceCheckpoint appends a CHECKPOINT record and flushes the WAL.
func (e *Engine) ForceCheckpoint() error {
	_, err := e.wal.Checkpoint()
	return err
}

// Shutdown rolls back every active transaction and closes the WAL.
func (e *Engine) Shutdown() error {
	for _, id := range e.registry.ActiveTransactions() {
		if err := e.Rollback(id); err != nil {
			e.log.WithError(err).WithField("txn", id).Warn("shutdown: rollback of active transaction failed")
		}
	}
	return e.wal.Close()
}
