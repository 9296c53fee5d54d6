// Package completion implements the completion table (component B):
// a thread-safe txn_id -> pending-op map with timeout metadata, shared
// by the I/O reader, the writer path, the timeout sweeper, and the
// disconnect/close handler (spec.md §3, §4.2, §5).
package completion

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/liufeiit/bookkeeper/pkg/bookie/wire"
)

// CompleteFunc is invoked exactly once per Pending, by whichever caller
// wins the race to remove it from the table. Arguments are primitive so
// this package stays free of a dependency on the façade package:
// status is the client-visible error kind (bookie.ErrorKind as a
// uint8, already translated from the server status or set directly for
// timeouts/disconnects), reportedEntryID is the entry id to report back
// (may differ from the requested one for the LAST_ADD_CONFIRMED case),
// body is the entry payload for a successful read, and peerAddr labels
// which peer completed the write.
type CompleteFunc func(status uint8, reportedEntryID int64, body []byte, peerAddr string)

// Pending is the value half of the completion table: the discriminated
// union of AddPending/ReadPending collapses to a single struct here
// because both variants carry the same fields (spec.md §3) — OpType is
// what a caller switches on if it needs variant-specific behavior.
type Pending struct {
	LedgerID  int64
	EntryID   int64
	OpType    wire.OpType
	StartedAt time.Time
	Deadline  time.Time
	Complete  CompleteFunc
}

// Table is the completion table. The zero value is not usable; use New.
type Table struct {
	entries sync.Map // txn_id (int64) -> *Pending
	size    int64
}

// New returns an empty completion table.
func New() *Table {
	return &Table{}
}

// Insert adds a pending op under txnID. It reports false if an entry
// for txnID already exists — per spec.md §4.2 this "should not occur if
// the generator is monotonic and the table is bounded," so a false
// return is an invariant violation the caller should log loudly, not a
// normal outcome to branch on.
func (t *Table) Insert(txnID int64, p *Pending) bool {
	_, loaded := t.entries.LoadOrStore(txnID, p)
	if loaded {
		return false
	}
	atomic.AddInt64(&t.size, 1)
	return true
}

// Remove atomically takes the entry for txnID out of the table. The
// caller that observes ok == true is the sole caller obliged to invoke
// p.Complete — removal is the synchronization point (spec.md §4.2).
func (t *Table) Remove(txnID int64) (p *Pending, ok bool) {
	v, loaded := t.entries.LoadAndDelete(txnID)
	if !loaded {
		return nil, false
	}
	atomic.AddInt64(&t.size, -1)
	return v.(*Pending), true
}

// RemoveIfExpired removes and returns the entry for txnID only if its
// deadline has passed by now. Used by the sweeper (component F); a
// response arriving concurrently and winning Remove first is the common
// race, and this method's no-op-on-miss behavior handles that cleanly.
func (t *Table) RemoveIfExpired(txnID int64, now time.Time) (p *Pending, ok bool) {
	v, loaded := t.entries.Load(txnID)
	if !loaded {
		return nil, false
	}
	candidate := v.(*Pending)
	if now.Before(candidate.Deadline) {
		return nil, false
	}
	if !t.entries.CompareAndDelete(txnID, candidate) {
		// Someone else (a response, or another sweep pass) already
		// removed or replaced this entry; treat as a miss.
		return nil, false
	}
	atomic.AddInt64(&t.size, -1)
	return candidate, true
}

// Sweep scans the whole table and removes every entry whose deadline
// has passed by now, returning them for the caller to fail with
// RequestTimeout. Iteration order is unspecified and the scan is not
// atomic across the table (spec.md §4.6) — each individual removal is.
func (t *Table) Sweep(now time.Time) []*Pending {
	var expired []*Pending
	t.entries.Range(func(key, value interface{}) bool {
		txnID := key.(int64)
		if removed, ok := t.RemoveIfExpired(txnID, now); ok {
			expired = append(expired, removed)
		}
		return true
	})
	return expired
}

// Drain removes and returns every entry currently in the table. Used on
// close() and on transport disconnect to fail everything outstanding
// with PeerUnavailable (spec.md §4.2, §4.4).
func (t *Table) Drain() []*Pending {
	var all []*Pending
	t.entries.Range(func(key, value interface{}) bool {
		if _, ok := t.Remove(key.(int64)); ok {
			all = append(all, value.(*Pending))
		}
		return true
	})
	return all
}

// Len reports how many entries are currently pending. Intended for
// tests and diagnostics, not for correctness decisions (it is
// inherently stale the instant it returns under concurrent access).
func (t *Table) Len() int {
	return int(atomic.LoadInt64(&t.size))
}
