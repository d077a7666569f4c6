// Package lock implements page-level Two-Phase Locking (2PL) for hearth's
// concurrency control layer.
//
// # Overview
//
// The package enforces the standard 2PL protocol: a transaction acquires all
// locks it needs during the growing phase and releases them all at once during
// commit or abort (the shrinking phase). Locks are never released mid-transaction.
//
// Two lock modes are supported:
//
//   - [SharedLock]    — required to read a page; compatible with other shared locks.
//   - [ExclusiveLock] — required to write a page; incompatible with all other locks.
//
// A transaction holding a shared lock may upgrade it to exclusive provided no
// other transaction holds any lock on that page. Downgrading (exclusive →
// shared) is never permitted.
//
// # Components
//
// [Manager] is the single entry point. It coordinates two subsystems:
//
//   - [Table]     — dual-index tracking which pages each transaction holds
//     locks on, and which transactions hold locks on each page.
//   - [WaitQueue] — per-page FIFO queues of pending [Waiter] entries for
//     transactions that could not be granted a lock immediately.
//
// # Ownership and blocking
//
// Everything in this package is passive and unsynchronized: the page store
// serializes every call under its single bookkeeping monitor, together with
// its cache and transaction registry. Blocking lives with the caller, not
// here — [Manager.TryAcquire] is a single grant attempt, and a refused
// caller parks a [Waiter] via [Manager.Enqueue] and then waits on the
// waiter's Ready channel outside the monitor, racing it against its
// timeout and its transaction's abort signal.
//
// On every release the manager grants the page's queue from the front for
// as far as compatibility allows, stopping at the first request the table
// refuses so later arrivals never overtake a queued writer. Each grant
// inserts the lock into the table and dequeues the waiter before Ready is
// closed, so a woken goroutine already holds its lock. There is no wait-for
// graph: the caller's timeout is the only deadlock-breaking mechanism, so a
// slow-but-live conflict and a true deadlock are indistinguishable and both
// end in the waiter aborting its transaction.
package lock
