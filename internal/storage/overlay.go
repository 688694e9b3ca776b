package storage

import "sync"

// effect is the latest write or delete a transaction has applied to a key,
// kept in memory so a transaction observes its own uncommitted writes
// without re-scanning the WAL (spec §6 open question, resolved in favor of
// an in-memory overlay: cheaper than a rescan per read and the overlay is
// already bounded by the transaction's own operation count).
type effect struct {
	after   any
	deleted bool
}

// overlay holds every in-flight transaction's key effects, keyed first by
// transaction ID and then by key.
type overlay struct {
	mu    sync.Mutex
	byTxn map[string]map[string]effect
}

func newOverlay() *overlay {
	return &overlay{byTxn: make(map[string]map[string]effect)}
}

func (o *overlay) get(txnID, key string) (effect, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	keys, ok := o.byTxn[txnID]
	if !ok {
		return effect{}, false
	}
	eff, ok := keys[key]
	return eff, ok
}

func (o *overlay) set(txnID, key string, eff effect) {
	o.mu.Lock()
	defer o.mu.Unlock()
	keys, ok := o.byTxn[txnID]
	if !ok {
		keys = make(map[string]effect)
		o.byTxn[txnID] = keys
	}
	keys[key] = eff
}

// snapshot returns a copy of txnID's final per-key effects, for applying on
// commit.
func (o *overlay) snapshot(txnID string) map[string]effect {
	o.mu.Lock()
	defer o.mu.Unlock()
	keys := o.byTxn[txnID]
	out := make(map[string]effect, len(keys))
	for k, v := range keys {
		out[k] = v
	}
	return out
}

func (o *overlay) clear(txnID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.byTxn, txnID)
}
