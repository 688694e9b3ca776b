// Package txregistry tracks per-transaction state: status, operation
// list, and start-LSN, enforcing the engine's transaction state machine
// (active → committed | aborted, both terminal).
package txregistry

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/neebdev/valoradb/internal/ids"
	"github.com/neebdev/valoradb/internal/walog"
)

// ErrInvalidTransaction is returned for any operation against a
// transaction ID that does not exist or is no longer active.
var ErrInvalidTransaction = errors.New("txregistry: invalid or inactive transaction")

// Status is a transaction's position in its state machine.
type Status int

const (
	StatusActive Status = iota
	StatusCommitted
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusCommitted:
		return "committed"
	case StatusAborted:
		return "aborted"
	default:
		return "active"
	}
}

// OpKind distinguishes the two kinds of data-modifying operations a
// transaction records against a key.
type OpKind int

const (
	OpWrite OpKind = iota
	OpDelete
)

// Op is one entry in a transaction's ordered operation list.
type Op struct {
	Key  string
	Kind OpKind
}

// Transaction is the registry's record for one in-flight or finished
// transaction.
type Transaction struct {
	ID         string
	StartLSN   uint64
	Operations []Op
	Status     Status
}

// Registry is the set of known transactions, keyed by ID.
type Registry struct {
	mu   sync.Mutex
	txns map[string]*Transaction
	wal  *walog.WAL
	log  *logrus.Entry
}

// New creates a registry backed by wal; Begin appends a BEGIN record to it.
func New(wal *walog.WAL, logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Registry{
		txns: make(map[string]*Transaction),
		wal:  wal,
		log:  logger.WithField("component", "txregistry"),
	}
}

// Begin allocates a new UUID transaction ID, appends its BEGIN record, and
// registers it as active. Never blocks (WAL append to a growable buffer is
// not a suspension point).
func (r *Registry) Begin() (*Transaction, error) {
	id := ids.NewTransactionID().String()

	lsn, err := r.wal.Append(walog.NewBeginEntry(id))
	if err != nil {
		return nil, err
	}

	txn := &Transaction{ID: id, StartLSN: lsn, Status: StatusActive}

	r.mu.Lock()
	r.txns[id] = txn
	r.mu.Unlock()

	r.log.WithField("txn", id).Debug("began transaction")
	return txn, nil
}

// RequireActive returns txn's record if it exists and is active, else
// ErrInvalidTransaction.
func (r *Registry) RequireActive(id string) (*Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	txn, ok := r.txns[id]
	if !ok || txn.Status != StatusActive {
		return nil, ErrInvalidTransaction
	}
	return txn, nil
}

// Get returns txn's record regardless of status, for diagnostics.
func (r *Registry) Get(id string) (*Transaction, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	txn, ok := r.txns[id]
	return txn, ok
}

// RecordOp appends op to txn's operation list. txn must be active.
func (r *Registry) RecordOp(id string, op Op) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	txn, ok := r.txns[id]
	if !ok || txn.Status != StatusActive {
		return ErrInvalidTransaction
	}
	txn.Operations = append(txn.Operations, op)
	return nil
}

// Finalize transitions txn to status, which must be terminal
// (StatusCommitted or StatusAborted). The transition is itself terminal:
// finalizing a non-active transaction fails.
func (r *Registry) Finalize(id string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	txn, ok := r.txns[id]
	if !ok || txn.Status != StatusActive {
		return ErrInvalidTransaction
	}
	txn.Status = status
	return nil
}

// Remove drops a finalized transaction's bookkeeping entry from the
// registry; called once the storage engine has finished applying its
// commit or rollback effects.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.txns, id)
}

// ActiveTransactions returns a snapshot of every currently active
// transaction ID.
func (r *Registry) ActiveTransactions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.txns))
	for id, txn := range r.txns {
		if txn.Status == StatusActive {
			ids = append(ids, id)
		}
	}
	return ids
}
