package memory

import (
	"slices"
	"time"

	"hearth/pkg/concurrency/transaction"
	"hearth/pkg/storage/page"
)

// txnState is the per-transaction bookkeeping record. It lives in the
// store's registry and is only ever touched under the monitor; the done
// channel is the one field observed from outside (by goroutines blocked in
// a lock wait, racing it against their grant and their timeout).
//
// Terminal states are kept as tombstones rather than deleted, so a commit
// or abort against an already-finished transaction is distinguishable from
// one against a transaction that never existed.
type txnState struct {
	tid       *transaction.TransactionID
	status    transaction.Status
	startedAt time.Time

	// dirtied is the set of pages this transaction has modified.
	dirtied map[page.ID]struct{}

	// stash preserves before-images whose on-page copy is no longer
	// trustworthy: once a dirty page is flushed mid-transaction its dirty
	// flag clears, the page may be evicted or even re-dirtied, and only
	// the stashed image can still undo the flushed write on abort.
	stash map[page.ID][]byte

	// done closes on the transition to a terminal status.
	done chan struct{}
}

func newTxnState(tid *transaction.TransactionID) *txnState {
	return &txnState{
		tid:       tid,
		status:    transaction.StatusActive,
		startedAt: time.Now(),
		dirtied:   make(map[page.ID]struct{}),
		stash:     make(map[page.ID][]byte),
		done:      make(chan struct{}),
	}
}

func (st *txnState) terminal() bool {
	return st.status.Terminal()
}

// stashBeforeImage preserves img as pid's rollback image. The first stash
// wins: later flushes of the same page must not overwrite the image from
// the transaction's first clean-to-dirty transition.
func (st *txnState) stashBeforeImage(pid page.ID, img []byte) {
	if _, ok := st.stash[pid]; ok {
		return
	}
	st.stash[pid] = slices.Clone(img)
}

// finish moves the transaction to a terminal status, wakes everyone
// blocked on it, and drops the per-page bookkeeping. The tombstone keeps
// only the status and timestamps.
func (st *txnState) finish(status transaction.Status) {
	st.status = status
	close(st.done)
	st.dirtied = nil
	st.stash = nil
}
