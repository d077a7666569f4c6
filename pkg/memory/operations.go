package memory

import (
	"slices"
	"time"

	"go.uber.org/zap"

	"hearth/pkg/concurrency/lock"
	"hearth/pkg/concurrency/transaction"
	"hearth/pkg/dberr"
	"hearth/pkg/storage/page"
)

// MarkDirty records that tid has modified pid. On the page's first
// clean-to-dirty transition its before-image is captured for rollback.
//
// The caller must hold the exclusive lock on the page — the write path
// through Handle.Write guarantees that; direct callers mutating page bytes
// themselves must obey the same rule.
func (s *PageStore) MarkDirty(tid *transaction.TransactionID, pid page.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.ensureActive(tid, "MarkDirty")
	if err != nil {
		return err
	}
	if !s.locks.HoldsExclusive(tid, pid) {
		return dberr.New(dberr.ErrCategoryUser, dberr.CodeInvalidState, "page is not held exclusively").
			WithDetail("transaction %s, page %s", tid, pid).
			WithHint("acquire the page with ReadWrite permission before writing").
			WithOperation("MarkDirty").WithComponent("memory")
	}

	ent, ok := s.cache.get(pid)
	if !ok {
		return dberr.New(dberr.ErrCategoryUser, dberr.CodeInvalidState, "page is not resident").
			WithDetail("page %s", pid).
			WithOperation("MarkDirty").WithComponent("memory")
	}

	s.markDirtyLocked(st, ent)
	return nil
}

// markDirtyLocked dirties ent's page for st under the monitor. Exclusive
// ownership has been checked by the caller.
func (s *PageStore) markDirtyLocked(st *txnState, ent *cacheEntry) {
	ent.page.MarkDirty(st.tid)
	st.dirtied[ent.pid] = struct{}{}
	ent.touch()
}

// FlushPage writes pid to the backing store if it is dirty and clears its
// dirty flag. Flushing does not release locks and does not commit: when
// the page belongs to a live transaction its before-image is stashed in
// that transaction's state first, so a later abort can still undo the
// flushed write.
func (s *PageStore) FlushPage(pid page.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(pid)
}

// FlushAll writes every dirty cached page to the backing store.
//
// Under no-force this persists uncommitted state; rollback remains
// possible through the stashed before-images, but a crash between this
// flush and the owning transaction's commit leaves the uncommitted bytes
// on disk. Intended for shutdown and diagnostics, not as a durability
// point.
func (s *PageStore) FlushAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pids := s.cache.pageIDs()
	slices.SortFunc(pids, comparePageIDs)
	for _, pid := range pids {
		if err := s.flushLocked(pid); err != nil {
			return err
		}
	}
	return nil
}

// FlushPages writes tid's dirtied pages to the backing store. This is the
// commit path's flush; it is also useful on its own when a caller wants a
// transaction's writes persisted without ending it.
func (s *PageStore) FlushPages(tid *transaction.TransactionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.txns[tid]
	if !ok || st.terminal() {
		return s.terminalError(st, "FlushPages")
	}
	return s.flushDirtiedLocked(st)
}

// flushDirtiedLocked flushes st's dirtied set in deterministic order.
func (s *PageStore) flushDirtiedLocked(st *txnState) error {
	pids := make([]page.ID, 0, len(st.dirtied))
	for pid := range st.dirtied {
		pids = append(pids, pid)
	}
	slices.SortFunc(pids, comparePageIDs)

	for _, pid := range pids {
		if err := s.flushLocked(pid); err != nil {
			return err
		}
	}
	return nil
}

// flushLocked writes one page if it is dirty. Absent and clean pages are
// no-ops. Called under the monitor.
func (s *PageStore) flushLocked(pid page.ID) error {
	ent, ok := s.cache.get(pid)
	if !ok {
		return nil
	}
	owner := ent.page.IsDirty()
	if owner == nil {
		return nil
	}

	// Clearing the dirty flag makes the page evictable and re-dirtiable;
	// the owner's stash keeps the rollback image alive past both.
	if st, ok := s.txns[owner]; ok && !st.terminal() {
		st.stashBeforeImage(pid, ent.page.BeforeImage())
	}

	if err := s.provider.WritePage(pid, ent.page.Data()); err != nil {
		return dberr.Wrap(err, dberr.ErrCategorySystem, dberr.CodeIOFailure, "failed to flush page").
			WithDetail("page %s", pid).
			WithOperation("FlushPage").WithComponent("memory")
	}
	ent.page.MarkClean()
	s.metrics.PageFlush()
	s.logger.Debug("flushed page", zap.String("page", pid.String()), zap.String("owner", owner.String()))
	return nil
}

// Discard drops pid from the cache without flushing it. Uncommitted
// changes on the page are lost to the cache (their rollback images
// survive in the owner's state where required), and the next access
// refetches from the backing store. Diagnostics and tests only.
func (s *PageStore) Discard(pid page.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.remove(pid)
}

// CacheSize returns the number of resident pages.
func (s *PageStore) CacheSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.size()
}

// Capacity returns the configured cache bound.
func (s *PageStore) Capacity() int {
	return s.capacity
}

// CachedPages returns the resident page IDs in deterministic order.
func (s *PageStore) CachedPages() []page.ID {
	s.mu.Lock()
	defer s.mu.Unlock()

	pids := s.cache.pageIDs()
	slices.SortFunc(pids, comparePageIDs)
	return pids
}

// PageView is a diagnostic snapshot of one resident page.
type PageView struct {
	Page       page.ID
	Dirty      bool
	Owner      *transaction.TransactionID // dirtying transaction, nil when clean
	LoadedAt   time.Time
	LastAccess time.Time
	Accesses   uint64
}

// CacheSnapshot returns a view of every resident page in deterministic
// order, for inspection tooling.
func (s *PageStore) CacheSnapshot() []PageView {
	s.mu.Lock()
	defer s.mu.Unlock()

	views := make([]PageView, 0, s.cache.size())
	for pid, ent := range s.cache.entries {
		owner := ent.page.IsDirty()
		views = append(views, PageView{
			Page:       pid,
			Dirty:      owner != nil,
			Owner:      owner,
			LoadedAt:   ent.loadedAt,
			LastAccess: ent.lastAccess,
			Accesses:   ent.accesses,
		})
	}
	slices.SortFunc(views, func(a, b PageView) int {
		return comparePageIDs(a.Page, b.Page)
	})
	return views
}

// Holds reports whether tid holds a lock of any mode on pid.
func (s *PageStore) Holds(tid *transaction.TransactionID, pid page.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locks.Holds(tid, pid)
}

// HoldsExclusive reports whether tid holds the exclusive lock on pid.
func (s *PageStore) HoldsExclusive(tid *transaction.TransactionID, pid page.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locks.HoldsExclusive(tid, pid)
}

// LockSnapshot returns every granted lock, for inspection tooling.
func (s *PageStore) LockSnapshot() []lock.HeldLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locks.Snapshot()
}

// ResidentPages reports cache occupancy for the telemetry gauge; it is
// safe for concurrent use and registered via Metrics.RegisterResidentPages.
func (s *PageStore) ResidentPages() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(s.cache.size())
}

// comparePageIDs orders page IDs by table then page number.
func comparePageIDs(a, b page.ID) int {
	switch {
	case a.Table != b.Table:
		if a.Table < b.Table {
			return -1
		}
		return 1
	case a.Number != b.Number:
		if a.Number < b.Number {
			return -1
		}
		return 1
	default:
		return 0
	}
}
