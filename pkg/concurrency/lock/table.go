package lock

import (
	"slices"

	"hearth/pkg/concurrency/transaction"
	"hearth/pkg/storage/page"
)

// Table is the lock table: a dual-index over granted page locks.
//
//   - pageLocks: for each page, the ordered list of granted locks. A page
//     has either any number of shared holders or exactly one exclusive
//     holder; the sole legal overlap is a transaction upgrading its own
//     shared lock.
//   - txnLocks: the reverse index, mapping each transaction to the pages it
//     holds and in which mode. This is the per-transaction inventory that
//     commit and abort release in one sweep.
//
// Table performs no synchronization of its own; the page store serializes
// every call under its bookkeeping monitor.
type Table struct {
	pageLocks map[page.ID][]*Lock
	txnLocks  map[*transaction.TransactionID]map[page.ID]LockType
}

func NewTable() *Table {
	return &Table{
		pageLocks: make(map[page.ID][]*Lock),
		txnLocks:  make(map[*transaction.TransactionID]map[page.ID]LockType),
	}
}

// HasSufficient reports whether tid already holds a lock on pid that covers
// the requested mode: any lock covers a shared request, only an exclusive
// lock covers an exclusive request.
func (t *Table) HasSufficient(tid *transaction.TransactionID, pid page.ID, lockType LockType) bool {
	held, ok := t.txnLocks[tid][pid]
	if !ok {
		return false
	}
	return lockType == SharedLock || held == ExclusiveLock
}

// TryAcquire makes a single non-blocking grant attempt and reports whether
// the lock is now held.
//
// An exclusive request is granted iff every lock currently on the page
// belongs to tid; a lone shared lock held by tid is upgraded in place. A
// shared request is granted iff no other transaction holds the page
// exclusively. Re-acquiring an already-sufficient lock succeeds without
// changing the table.
func (t *Table) TryAcquire(tid *transaction.TransactionID, pid page.ID, lockType LockType) bool {
	if t.HasSufficient(tid, pid, lockType) {
		return true
	}

	locks := t.pageLocks[pid]

	if lockType == ExclusiveLock {
		if slices.ContainsFunc(locks, func(l *Lock) bool { return l.TID != tid }) {
			return false
		}
		if held := t.findLock(tid, pid); held != nil {
			held.LockType = ExclusiveLock
		} else {
			t.pageLocks[pid] = append(locks, NewLock(tid, ExclusiveLock))
		}
		t.recordHeld(tid, pid, ExclusiveLock)
		return true
	}

	if slices.ContainsFunc(locks, func(l *Lock) bool {
		return l.TID != tid && l.LockType == ExclusiveLock
	}) {
		return false
	}
	t.pageLocks[pid] = append(locks, NewLock(tid, SharedLock))
	t.recordHeld(tid, pid, SharedLock)
	return true
}

// Release idempotently removes tid's lock on pid, whatever its mode.
func (t *Table) Release(tid *transaction.TransactionID, pid page.ID) {
	remaining := slices.DeleteFunc(slices.Clone(t.pageLocks[pid]), func(l *Lock) bool {
		return l.TID == tid
	})
	updateOrDelete(t.pageLocks, pid, remaining)

	if held, ok := t.txnLocks[tid]; ok {
		delete(held, pid)
		if len(held) == 0 {
			delete(t.txnLocks, tid)
		}
	}
}

// ReleaseAll releases every lock in tid's inventory and returns the pages
// that were held, so the caller can wake their waiters.
func (t *Table) ReleaseAll(tid *transaction.TransactionID) []page.ID {
	held, ok := t.txnLocks[tid]
	if !ok {
		return nil
	}

	pages := make([]page.ID, 0, len(held))
	for pid := range held {
		pages = append(pages, pid)
	}
	for _, pid := range pages {
		t.Release(tid, pid)
	}
	return pages
}

// Holds reports whether tid currently holds pid in either mode.
func (t *Table) Holds(tid *transaction.TransactionID, pid page.ID) bool {
	_, ok := t.txnLocks[tid][pid]
	return ok
}

// HoldsExclusive reports whether tid currently holds pid exclusively.
func (t *Table) HoldsExclusive(tid *transaction.TransactionID, pid page.ID) bool {
	return t.txnLocks[tid][pid] == ExclusiveLock
}

// HeldPages returns the pages in tid's inventory.
func (t *Table) HeldPages(tid *transaction.TransactionID) []page.ID {
	held := t.txnLocks[tid]
	pages := make([]page.ID, 0, len(held))
	for pid := range held {
		pages = append(pages, pid)
	}
	return pages
}

// PageLocks returns a copy of the granted locks on pid, in grant order.
func (t *Table) PageLocks(pid page.ID) []*Lock {
	return slices.Clone(t.pageLocks[pid])
}

// IsPageLocked reports whether any transaction holds a lock on pid.
func (t *Table) IsPageLocked(pid page.ID) bool {
	return len(t.pageLocks[pid]) > 0
}

func (t *Table) findLock(tid *transaction.TransactionID, pid page.ID) *Lock {
	for _, l := range t.pageLocks[pid] {
		if l.TID == tid {
			return l
		}
	}
	return nil
}

func (t *Table) recordHeld(tid *transaction.TransactionID, pid page.ID, lockType LockType) {
	held, ok := t.txnLocks[tid]
	if !ok {
		held = make(map[page.ID]LockType)
		t.txnLocks[tid] = held
	}
	held[pid] = lockType
}
