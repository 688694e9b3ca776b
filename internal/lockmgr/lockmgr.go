// Package lockmgr implements per-key shared/exclusive locking with FIFO
// wait queues and deadlock-timeout abort — the document store's two-phase
// locking substrate.
//
// Design note: rather than scattering futures across call sites, the
// manager keeps a small table of wait continuations keyed by (key, txnID);
// each continuation is a buffered channel resumed exactly once: by the
// grant path (drain), by ReleaseAll's cancellation, or by the waiter's own
// timeout. Continuations are always signalled after the manager's mutex is
// released.
package lockmgr

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/neebdev/valoradb/internal/metrics"
)

// Mode is the granted or requested access mode on a key's lock.
type Mode uint8

const (
	Shared Mode = iota
	Exclusive
)

func (m Mode) String() string {
	if m == Exclusive {
		return "exclusive"
	}
	return "shared"
}

var (
	// ErrLockTimeout is returned when an acquire waits longer than the
	// deadlock timeout without being granted.
	ErrLockTimeout = errors.New("lockmgr: timed out waiting for lock")
	// ErrTransactionAborted is delivered to a waiter whose owning
	// transaction was aborted while the request was still queued.
	ErrTransactionAborted = errors.New("lockmgr: transaction aborted while waiting")
)

// DefaultTimeout is the spec's default deadlock timeout.
const DefaultTimeout = 30 * time.Second

// QueueWarnThreshold is the waiter-queue length at or above which the
// manager logs a "suspicious queue" diagnostic. Purely observational.
const QueueWarnThreshold = 8

type waiter struct {
	key   string
	txnID string
	mode  Mode
	grant chan error
}

type lockState struct {
	mode    Mode
	holders map[string]struct{}
	waiters []*waiter
}

func newLockState() *lockState {
	return &lockState{holders: make(map[string]struct{})}
}

func (ls *lockState) empty() bool {
	return len(ls.holders) == 0 && len(ls.waiters) == 0
}

// Manager coordinates locking for an entire key space behind one mutex; the
// hot path (check-and-grant) is a short critical section, per spec §4.2.
type Manager struct {
	mu      sync.Mutex
	locks   map[string]*lockState
	timeout time.Duration

	heldByTxn    map[string]map[string]struct{}
	waitingByTxn map[string]map[string]*waiter

	log *logrus.Entry
}

// New creates a lock manager with the given deadlock timeout. A zero or
// negative timeout falls back to DefaultTimeout.
func New(timeout time.Duration, logger *logrus.Logger) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{
		locks:        make(map[string]*lockState),
		timeout:      timeout,
		heldByTxn:    make(map[string]map[string]struct{}),
		waitingByTxn: make(map[string]map[string]*waiter),
		log:          logger.WithField("component", "lockmgr"),
	}
}

// Acquire blocks the calling goroutine until key is granted to txnID in
// mode, or fails with ErrLockTimeout after the deadlock timeout, or with
// ErrTransactionAborted if txnID is aborted by ReleaseAll while waiting.
func (m *Manager) Acquire(key, txnID string, mode Mode) error {
	start := time.Now()
	defer func() { metrics.LockWaitSeconds.Observe(time.Since(start).Seconds()) }()

	m.mu.Lock()

	ls, ok := m.locks[key]
	if !ok {
		ls = newLockState()
		m.locks[key] = ls
	}

	if _, isHolder := ls.holders[txnID]; isHolder {
		if mode == Shared || ls.mode == Exclusive {
			m.mu.Unlock()
			return nil
		}
		// Requesting exclusive while holding shared.
		if len(ls.holders) == 1 {
			ls.mode = Exclusive
			m.mu.Unlock()
			return nil
		}
		w := m.enqueueLocked(key, txnID, mode, ls)
		m.mu.Unlock()
		return m.await(key, w)
	}

	if canGrantImmediately(ls, mode) {
		if len(ls.holders) == 0 {
			ls.mode = mode
		}
		ls.holders[txnID] = struct{}{}
		m.recordHeldLocked(txnID, key)
		m.mu.Unlock()
		return nil
	}

	w := m.enqueueLocked(key, txnID, mode, ls)
	m.mu.Unlock()
	return m.await(key, w)
}

func canGrantImmediately(ls *lockState, mode Mode) bool {
	if len(ls.holders) == 0 {
		return true
	}
	return mode == Shared && ls.mode == Shared
}

func (m *Manager) enqueueLocked(key, txnID string, mode Mode, ls *lockState) *waiter {
	w := &waiter{key: key, txnID: txnID, mode: mode, grant: make(chan error, 1)}
	ls.waiters = append(ls.waiters, w)
	if m.waitingByTxn[txnID] == nil {
		m.waitingByTxn[txnID] = make(map[string]*waiter)
	}
	m.waitingByTxn[txnID][key] = w

	depth := len(ls.waiters)
	metrics.LockQueueDepth.Set(float64(depth))
	if depth >= QueueWarnThreshold {
		m.log.WithFields(logrus.Fields{"key": key, "depth": depth}).Warn("lock waiter queue exceeds suspicious threshold")
	}
	return w
}

func (m *Manager) await(key string, w *waiter) error {
	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	select {
	case err := <-w.grant:
		return err
	case <-timer.C:
		m.mu.Lock()
		ls, ok := m.locks[key]
		if ok && removeWaiterLocked(ls, w) {
			delete(m.waitingByTxn[w.txnID], key)
			if len(m.waitingByTxn[w.txnID]) == 0 {
				delete(m.waitingByTxn, w.txnID)
			}
			if ls.empty() {
				delete(m.locks, key)
			}
			m.mu.Unlock()
			metrics.LockTimeoutsTotal.Inc()
			return ErrLockTimeout
		}
		m.mu.Unlock()
		// Lost the race: a grant or cancellation is already in flight.
		return <-w.grant
	}
}

func removeWaiterLocked(ls *lockState, w *waiter) bool {
	for i, ww := range ls.waiters {
		if ww == w {
			ls.waiters = append(ls.waiters[:i], ls.waiters[i+1:]...)
			return true
		}
	}
	return false
}

func (m *Manager) recordHeldLocked(txnID, key string) {
	if m.heldByTxn[txnID] == nil {
		m.heldByTxn[txnID] = make(map[string]struct{})
	}
	m.heldByTxn[txnID][key] = struct{}{}
}

// Release releases txnID's single hold on key and advances the waiter
// queue if releasing emptied the holder set or left a sole remaining holder
// whose upgrade request is at the queue head.
func (m *Manager) Release(key, txnID string) {
	m.mu.Lock()
	grants := m.releaseKeyLocked(key, txnID)
	m.mu.Unlock()
	deliver(grants, nil)
}

// ReleaseAll releases every lock txnID holds and cancels every request of
// txnID still queued; cancelled waiters fail with ErrTransactionAborted.
func (m *Manager) ReleaseAll(txnID string) {
	m.mu.Lock()

	keys := make([]string, 0, len(m.heldByTxn[txnID]))
	for key := range m.heldByTxn[txnID] {
		keys = append(keys, key)
	}

	var grants []*waiter
	for _, key := range keys {
		grants = append(grants, m.releaseKeyLocked(key, txnID)...)
	}

	var cancelled []*waiter
	for key, w := range m.waitingByTxn[txnID] {
		if ls, ok := m.locks[key]; ok {
			if removeWaiterLocked(ls, w) && ls.empty() {
				delete(m.locks, key)
			}
		}
		cancelled = append(cancelled, w)
	}
	delete(m.waitingByTxn, txnID)

	m.mu.Unlock()

	deliver(grants, nil)
	deliver(cancelled, ErrTransactionAborted)
}

// releaseKeyLocked removes txnID's hold on key and returns the waiters now
// granted as a result (to be signalled after the mutex is released).
func (m *Manager) releaseKeyLocked(key, txnID string) []*waiter {
	ls, ok := m.locks[key]
	if !ok {
		return nil
	}
	if _, held := ls.holders[txnID]; !held {
		return nil
	}
	delete(ls.holders, txnID)
	if set := m.heldByTxn[txnID]; set != nil {
		delete(set, key)
		if len(set) == 0 {
			delete(m.heldByTxn, txnID)
		}
	}

	var granted []*waiter

	switch {
	case len(ls.holders) == 0:
		granted = m.drainLocked(key, ls)
	case len(ls.holders) == 1 && len(ls.waiters) > 0:
		// Upgrade-in-place: the queue head may be the sole remaining
		// holder waiting to upgrade from shared to exclusive.
		head := ls.waiters[0]
		if head.mode == Exclusive {
			if _, isSoleHolder := ls.holders[head.txnID]; isSoleHolder {
				ls.waiters = ls.waiters[1:]
				ls.mode = Exclusive
				delete(m.waitingByTxn[head.txnID], key)
				if len(m.waitingByTxn[head.txnID]) == 0 {
					delete(m.waitingByTxn, head.txnID)
				}
				granted = append(granted, head)
			}
		}
	}

	if ls.empty() {
		delete(m.locks, key)
	}
	return granted
}

// drainLocked grants the new head of the queue once the holder set is
// empty: a lone exclusive waiter, or the entire consecutive prefix of
// shared waiters.
func (m *Manager) drainLocked(key string, ls *lockState) []*waiter {
	if len(ls.waiters) == 0 {
		return nil
	}

	head := ls.waiters[0]
	var granted []*waiter

	if head.mode == Exclusive {
		ls.waiters = ls.waiters[1:]
		ls.holders[head.txnID] = struct{}{}
		ls.mode = Exclusive
		m.recordHeldLocked(head.txnID, key)
		delete(m.waitingByTxn[head.txnID], key)
		if len(m.waitingByTxn[head.txnID]) == 0 {
			delete(m.waitingByTxn, head.txnID)
		}
		granted = append(granted, head)
		return granted
	}

	i := 0
	for i < len(ls.waiters) && ls.waiters[i].mode == Shared {
		w := ls.waiters[i]
		ls.holders[w.txnID] = struct{}{}
		m.recordHeldLocked(w.txnID, key)
		delete(m.waitingByTxn[w.txnID], key)
		if len(m.waitingByTxn[w.txnID]) == 0 {
			delete(m.waitingByTxn, w.txnID)
		}
		granted = append(granted, w)
		i++
	}
	ls.waiters = ls.waiters[i:]
	ls.mode = Shared
	return granted
}

func deliver(waiters []*waiter, err error) {
	for _, w := range waiters {
		w.grant <- err
	}
}
