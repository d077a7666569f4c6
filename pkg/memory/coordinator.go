package memory

import (
	"slices"
	"time"

	"go.uber.org/zap"

	"hearth/pkg/concurrency/transaction"
	"hearth/pkg/dberr"
	"hearth/pkg/storage/page"
)

// TransactionCoordinator ends transactions: commit flushes the
// transaction's pages and makes them visible, abort undoes them. It is a
// thin orchestrator over the page store's monitor — it owns no state of
// its own, so store-level operations and coordinator-level ones can never
// disagree about a transaction.
type TransactionCoordinator struct {
	store *PageStore
}

func NewTransactionCoordinator(store *PageStore) *TransactionCoordinator {
	return &TransactionCoordinator{store: store}
}

// Begin mints a fresh transaction and registers it as active. Registration
// is optional — the store registers unseen transactions on first Get — but
// beginning explicitly makes the transaction visible to diagnostics before
// its first page access.
func (c *TransactionCoordinator) Begin() *transaction.TransactionID {
	tid := transaction.NewTransactionID()

	c.store.mu.Lock()
	c.store.txns[tid] = newTxnState(tid)
	c.store.mu.Unlock()

	c.store.logger.Debug("transaction begun", zap.String("txn", tid.String()))
	return tid
}

// Commit makes tid's writes durable and releases its locks.
//
// The dirtied pages are flushed one by one; there is no log, so atomicity
// across pages is not guaranteed — a crash mid-commit can persist a prefix
// of the transaction's pages. If a flush fails the transaction is left
// active with its locks intact: the caller chooses between retrying the
// commit and aborting.
func (c *TransactionCoordinator) Commit(tid *transaction.TransactionID) error {
	return c.store.commit(tid)
}

// Abort undoes every write tid has made and releases its locks. Pages
// still resident are restored from their before-images in place; writes
// that reached the backing store mid-transaction (FlushAll, FlushPage) are
// undone there from the stashed images. After Abort returns the
// transaction appears to have never executed.
func (c *TransactionCoordinator) Abort(tid *transaction.TransactionID) error {
	return c.store.abort(tid)
}

// Complete commits when commit is true and aborts otherwise.
func (c *TransactionCoordinator) Complete(tid *transaction.TransactionID, commit bool) error {
	if commit {
		return c.Commit(tid)
	}
	return c.Abort(tid)
}

// Active reports whether tid is registered and not terminal.
func (c *TransactionCoordinator) Active(tid *transaction.TransactionID) bool {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	st, ok := c.store.txns[tid]
	return ok && !st.terminal()
}

// ActiveTransactions returns the live transactions ordered by id.
func (c *TransactionCoordinator) ActiveTransactions() []*transaction.TransactionID {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	tids := make([]*transaction.TransactionID, 0, len(c.store.txns))
	for tid, st := range c.store.txns {
		if !st.terminal() {
			tids = append(tids, tid)
		}
	}
	slices.SortFunc(tids, func(a, b *transaction.TransactionID) int {
		return int(a.ID() - b.ID())
	})
	return tids
}

// TransactionView is a diagnostic snapshot of one registered transaction.
type TransactionView struct {
	TID        *transaction.TransactionID
	Status     transaction.Status
	StartedAt  time.Time
	DirtyPages int
	HeldPages  int
	WaitingOn  int
}

// Snapshot returns a view of every registered transaction, terminal
// tombstones included, ordered by id. Inspection tooling filters as it
// pleases.
func (c *TransactionCoordinator) Snapshot() []TransactionView {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	views := make([]TransactionView, 0, len(c.store.txns))
	for tid, st := range c.store.txns {
		views = append(views, TransactionView{
			TID:        tid,
			Status:     st.status,
			StartedAt:  st.startedAt,
			DirtyPages: len(st.dirtied),
			HeldPages:  len(c.store.locks.HeldPages(tid)),
			WaitingOn:  len(c.store.locks.Waiting(tid)),
		})
	}
	slices.SortFunc(views, func(a, b TransactionView) int {
		return int(a.TID.ID() - b.TID.ID())
	})
	return views
}

func (s *PageStore) commit(tid *transaction.TransactionID) error {
	if tid == nil {
		return dberr.New(dberr.ErrCategoryUser, dberr.CodeInvalidState, "transaction id cannot be nil").
			WithOperation("Commit").WithComponent("memory")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.txns[tid]
	if !ok || st.terminal() {
		return s.terminalError(st, "Commit")
	}

	if err := s.flushDirtiedLocked(st); err != nil {
		// The transaction stays active with its locks; the caller may
		// retry the commit or abort.
		return err
	}

	flushed := len(st.dirtied)
	st.finish(transaction.StatusCommitted)
	s.locks.ReleaseAll(tid)
	s.metrics.TxnCommitted()
	s.logger.Info("transaction committed",
		zap.String("txn", tid.String()),
		zap.Int("pages_flushed", flushed),
		zap.Duration("age", time.Since(st.startedAt)))
	return nil
}

func (s *PageStore) abort(tid *transaction.TransactionID) error {
	if tid == nil {
		return dberr.New(dberr.ErrCategoryUser, dberr.CodeInvalidState, "transaction id cannot be nil").
			WithOperation("Abort").WithComponent("memory")
	}

	s.mu.Lock()
	st, ok := s.txns[tid]
	if !ok || st.terminal() {
		terr := s.terminalError(st, "Abort")
		s.mu.Unlock()
		return terr
	}
	err := s.abortLocked(st, "abort requested")
	s.mu.Unlock()
	return err
}

// abortLocked rolls st back under the monitor. The abort always completes
// — status becomes terminal and every lock is released — even when a
// write-back fails; the failure is returned so the caller can escalate.
func (s *PageStore) abortLocked(st *txnState, reason string) error {
	tid := st.tid

	// Cancel pending lock waits first so a release below can never grant
	// a lock to the dying transaction.
	for _, pid := range s.locks.Waiting(tid) {
		s.locks.Dequeue(tid, pid)
	}

	pids := make([]page.ID, 0, len(st.dirtied))
	for pid := range st.dirtied {
		pids = append(pids, pid)
	}
	slices.SortFunc(pids, comparePageIDs)

	var restoreErr error
	for _, pid := range pids {
		ent, resident := s.cache.get(pid)
		if img, stashed := st.stash[pid]; stashed {
			// The write escaped to the backing store mid-transaction;
			// undo it there and bring any resident copy to the same image.
			if resident {
				if err := ent.page.SetData(img); err != nil && restoreErr == nil {
					restoreErr = err
				}
				ent.page.MarkClean()
			}
			if err := s.provider.WritePage(pid, img); err != nil && restoreErr == nil {
				restoreErr = err
			}
		} else if resident {
			ent.page.RestoreBeforeImage()
		}
	}

	st.finish(transaction.StatusAborted)
	s.locks.ReleaseAll(tid)
	s.metrics.TxnAborted()
	s.logger.Info("transaction aborted",
		zap.String("txn", tid.String()),
		zap.Int("pages_restored", len(pids)),
		zap.String("reason", reason))

	if restoreErr != nil {
		return dberr.Wrap(restoreErr, dberr.ErrCategorySystem, dberr.CodeIOFailure,
			"failed to restore a before-image on the backing store").
			WithOperation("Abort").WithComponent("memory")
	}
	return nil
}
