package storage

import (
	"fmt"

	"github.com/neebdev/valoradb/internal/walog"
)

// recover runs the three-pass ARIES-style recovery spec §6 describes:
// Analysis partitions every transaction ID the log mentions into committed
// or aborted; Redo replays committed WRITE/DELETE entries in LSN order so
// the data files reflect every durable commit even if the apply step
// never ran before a crash; Undo restores the before-image of every
// WRITE/DELETE whose transaction is neither committed nor aborted — one
// that was left active when the process died — in reverse LSN order.
func (e *Engine) recover() error {
	entries, err := e.wal.Scan(0)
	if err != nil {
		return fmt.Errorf("scan wal: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	committed := make(map[string]bool)
	aborted := make(map[string]bool)
	for _, ent := range entries {
		switch ent.Operation {
		case walog.OpCommit:
			committed[ent.TransactionID] = true
		case walog.OpRollback:
			if !committed[ent.TransactionID] {
				aborted[ent.TransactionID] = true
			}
		}
	}

	for _, ent := range entries {
		if !isDataOp(ent.Operation) || !committed[ent.TransactionID] {
			continue
		}
		if err := e.redoEntry(ent); err != nil {
			return fmt.Errorf("redo lsn %d: %w", ent.LSN, err)
		}
	}

	for i := len(entries) - 1; i >= 0; i-- {
		ent := entries[i]
		if !isDataOp(ent.Operation) {
			continue
		}
		if committed[ent.TransactionID] || aborted[ent.TransactionID] {
			continue
		}
		if err := e.undoEntry(ent); err != nil {
			return fmt.Errorf("undo lsn %d: %w", ent.LSN, err)
		}
	}

	e.log.WithFields(map[string]any{
		"entries":   len(entries),
		"committed": len(committed),
		"aborted":   len(aborted),
	}).Info("recovery complete")

	return nil
}

func isDataOp(op walog.Operation) bool {
	return op == walog.OpWrite || op == walog.OpDelete
}

func (e *Engine) redoEntry(ent walog.Entry) error {
	switch ent.Operation {
	case walog.OpWrite:
		after, err := walog.DecodeImage(ent.AfterImage)
		if err != nil {
			return err
		}
		return e.writeKeyFile(ent.Key, after)
	case walog.OpDelete:
		return e.unlinkKey(ent.Key)
	default:
		return nil
	}
}

// undoEntry restores ent's before-image regardless of whether ent was a
// WRITE or a DELETE: a nil before-image means the key did not exist prior
// to the operation, so undoing either kind means removing the file.
func (e *Engine) undoEntry(ent walog.Entry) error {
	before, err := walog.DecodeImage(ent.BeforeImage)
	if err != nil {
		return err
	}
	if before == nil {
		return e.unlinkKey(ent.Key)
	}
	return e.writeKeyFile(ent.Key, before)
}
