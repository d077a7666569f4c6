// Package memory implements hearth's buffer pool: a bounded page cache
// with transaction-aware locking and rollback.
//
// # Overview
//
// [PageStore] is the single entry point for page access. Every page read
// or written by a transaction flows through [PageStore.Get], which faults
// the page into the cache, arbitrates the page lock implied by the
// requested permission, and returns a checked-out [Handle].
// [TransactionCoordinator] ends transactions: Commit flushes the
// transaction's dirtied pages (no-force otherwise — nothing is flushed
// before then), Abort restores them from before-images captured at each
// page's first clean-to-dirty transition.
//
// # Concurrency model
//
// One coarse monitor serializes all bookkeeping: cache residency, lock
// table, wait queues, and the transaction registry change only under the
// store's mutex. What never happens under the monitor is waiting — a
// blocked lock request parks on a channel outside the critical section and
// races the grant against a timeout and its transaction's termination.
// The timeout is the only deadlock-breaking mechanism: a transaction that
// waits too long is automatically aborted and its caller receives an error
// carrying the TXN_ABORTED code, with the timeout preserved in the cause
// chain.
//
// # Caching
//
// The cache never exceeds its configured capacity. Room is made by
// evicting a clean page chosen by the configured [EvictionPolicy] (LRU by
// default, Clock and LFU available); dirty pages are never evicted
// (no-steal), so a cache full of uncommitted writes refuses new faults
// with RESOURCE_EXHAUSTED rather than stealing. Pages absent from the
// backing store are synthesized as zero-filled blocks.
package memory
