package lock

import (
	"time"

	"hearth/pkg/concurrency/transaction"
	"hearth/pkg/storage/page"
)

// Manager ties the lock table and the wait queues together: it answers
// single-shot grant attempts, parks waiters that cannot be granted, and on
// every release grants the affected page's queue from the front for as far
// as compatibility allows.
//
// Manager never blocks and carries no mutex. The page store calls it under
// one coarse bookkeeping monitor and layers the blocking/timeout protocol
// on top of the Waiter channels.
type Manager struct {
	table *Table
	queue *WaitQueue
}

func NewManager() *Manager {
	return &Manager{
		table: NewTable(),
		queue: NewWaitQueue(),
	}
}

// TryAcquire makes a single non-blocking attempt to take pid for tid in the
// given mode, reporting whether the lock is now held. Grant rules, upgrade,
// and idempotent re-acquire are handled by the lock table.
func (m *Manager) TryAcquire(tid *transaction.TransactionID, pid page.ID, lockType LockType) bool {
	return m.table.TryAcquire(tid, pid, lockType)
}

// Enqueue parks tid at the tail of pid's wait queue. The returned waiter's
// Ready channel is closed once the lock has been granted.
func (m *Manager) Enqueue(tid *transaction.TransactionID, pid page.ID, lockType LockType) (*Waiter, error) {
	return m.queue.Enqueue(tid, pid, lockType)
}

// Dequeue abandons tid's pending request for pid (timeout or abort path),
// then re-runs the grant pass: removing a request from the middle of the
// queue can unblock compatible waiters behind it — a shared request parked
// behind an abandoned exclusive one must not sit out its own deadline on a
// share-available page.
func (m *Manager) Dequeue(tid *transaction.TransactionID, pid page.ID) {
	m.queue.Dequeue(tid, pid)
	m.grantWaiters(pid)
}

// Release idempotently drops tid's lock on pid and grants the page's
// waiters whatever the new lock state admits.
func (m *Manager) Release(tid *transaction.TransactionID, pid page.ID) {
	m.table.Release(tid, pid)
	m.grantWaiters(pid)
}

// ReleaseAll drops every lock in tid's inventory, waking waiters page by
// page, and returns the pages that were held. Used at commit and abort.
func (m *Manager) ReleaseAll(tid *transaction.TransactionID) []page.ID {
	pages := m.table.ReleaseAll(tid)
	for _, pid := range pages {
		m.grantWaiters(pid)
	}
	return pages
}

// grantWaiters grants pid's waiters from the front of the queue for as long
// as the lock table admits them, so a run of compatible readers is woken
// together. The scan stops at the first request that cannot be granted;
// waiters behind it never overtake, which keeps a queued writer from being
// starved by a stream of later readers. Each granted waiter is removed from
// the queue before its Ready channel is closed, so a woken waiter already
// holds the lock.
func (m *Manager) grantWaiters(pid page.ID) {
	for _, w := range m.queue.Waiters(pid) {
		if !m.table.TryAcquire(w.TID, pid, w.LockType) {
			return
		}
		m.queue.Dequeue(w.TID, pid)
		close(w.Ready)
	}
}

// Holds reports whether tid currently holds pid in either mode.
func (m *Manager) Holds(tid *transaction.TransactionID, pid page.ID) bool {
	return m.table.Holds(tid, pid)
}

// HoldsExclusive reports whether tid currently holds pid exclusively.
func (m *Manager) HoldsExclusive(tid *transaction.TransactionID, pid page.ID) bool {
	return m.table.HoldsExclusive(tid, pid)
}

// HasSufficient reports whether tid already holds a lock covering lockType on pid.
func (m *Manager) HasSufficient(tid *transaction.TransactionID, pid page.ID, lockType LockType) bool {
	return m.table.HasSufficient(tid, pid, lockType)
}

// HeldPages returns the pages in tid's inventory.
func (m *Manager) HeldPages(tid *transaction.TransactionID) []page.ID {
	return m.table.HeldPages(tid)
}

// IsPageLocked reports whether any transaction holds a lock on pid.
func (m *Manager) IsPageLocked(pid page.ID) bool {
	return m.table.IsPageLocked(pid)
}

// Waiting returns the pages tid is currently parked on.
func (m *Manager) Waiting(tid *transaction.TransactionID) []page.ID {
	return m.queue.Waiting(tid)
}

// QueueLen reports how many requests are waiting on pid.
func (m *Manager) QueueLen(pid page.ID) int {
	return m.queue.Len(pid)
}

// HeldLock is a diagnostic snapshot of one granted lock.
type HeldLock struct {
	Page      page.ID
	TID       *transaction.TransactionID
	LockType  LockType
	GrantTime time.Time
}

// Snapshot returns every granted lock, for inspection tooling.
func (m *Manager) Snapshot() []HeldLock {
	out := make([]HeldLock, 0, len(m.table.pageLocks))
	for pid, locks := range m.table.pageLocks {
		for _, l := range locks {
			out = append(out, HeldLock{
				Page:      pid,
				TID:       l.TID,
				LockType:  l.LockType,
				GrantTime: l.GrantTime,
			})
		}
	}
	return out
}
