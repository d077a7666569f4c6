package lock

import (
	"fmt"
	"slices"

	"hearth/pkg/concurrency/transaction"
	"hearth/pkg/storage/page"
)

// WaitQueue implements a two-way mapping over pending lock requests.
//
// It maintains two data structures:
//
//   - pageWaiters: a map from page ID to an ordered slice of Waiter
//     pointers, the FIFO queue of transactions waiting on each page. The
//     order determines who is considered first when a lock frees up.
//
//   - txnWaiting: a reverse index mapping each transaction to the pages it
//     is currently waiting for, for diagnostics and cleanup.
//
// Like Table, WaitQueue is unsynchronized; the page store's monitor owns it.
type WaitQueue struct {
	pageWaiters map[page.ID][]*Waiter
	txnWaiting  map[*transaction.TransactionID][]page.ID
}

func NewWaitQueue() *WaitQueue {
	return &WaitQueue{
		pageWaiters: make(map[page.ID][]*Waiter),
		txnWaiting:  make(map[*transaction.TransactionID][]page.ID),
	}
}

// Enqueue parks a new waiter at the tail of the page's queue, maintaining
// FIFO ordering. A transaction can wait on a given page only once; a second
// enqueue for the same (transaction, page) pair is an error.
func (wq *WaitQueue) Enqueue(tid *transaction.TransactionID, pid page.ID, lockType LockType) (*Waiter, error) {
	if wq.isWaiting(tid, pid) {
		return nil, fmt.Errorf("transaction %s is already waiting for %s", tid, pid)
	}

	w := newWaiter(tid, lockType)
	wq.pageWaiters[pid] = append(wq.pageWaiters[pid], w)
	wq.txnWaiting[tid] = append(wq.txnWaiting[tid], pid)
	return w, nil
}

// Dequeue removes tid's pending request for pid from both indexes. It is
// called when the request is granted, times out, or is cancelled by an
// abort; removing an absent request is a no-op.
func (wq *WaitQueue) Dequeue(tid *transaction.TransactionID, pid page.ID) {
	waiters := slices.DeleteFunc(slices.Clone(wq.pageWaiters[pid]), func(w *Waiter) bool {
		return w.TID == tid
	})
	updateOrDelete(wq.pageWaiters, pid, waiters)

	pages := slices.DeleteFunc(slices.Clone(wq.txnWaiting[tid]), func(p page.ID) bool {
		return p == pid
	})
	updateOrDelete(wq.txnWaiting, tid, pages)
}

// Waiters returns the pending requests for pid in FIFO order.
func (wq *WaitQueue) Waiters(pid page.ID) []*Waiter {
	return slices.Clone(wq.pageWaiters[pid])
}

// Waiting returns the pages tid is currently parked on.
func (wq *WaitQueue) Waiting(tid *transaction.TransactionID) []page.ID {
	return slices.Clone(wq.txnWaiting[tid])
}

// Len reports how many requests are queued for pid.
func (wq *WaitQueue) Len(pid page.ID) int {
	return len(wq.pageWaiters[pid])
}

func (wq *WaitQueue) isWaiting(tid *transaction.TransactionID, pid page.ID) bool {
	return slices.Contains(wq.txnWaiting[tid], pid)
}
