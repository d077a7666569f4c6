package memory

import (
	"sync/atomic"

	"hearth/pkg/concurrency/transaction"
	"hearth/pkg/dberr"
	"hearth/pkg/storage/page"
)

// Handle is a checked-out page reference. It records the transaction and
// permission it was issued under, so misuse — writing through a read-only
// checkout, touching a released handle — fails structurally instead of
// corrupting pages.
//
// A handle stays valid until released or until its transaction ends.
// Releasing does NOT drop the page lock: under strict two-phase locking
// locks live until commit or abort. Release only ends the checked-out
// scope.
type Handle struct {
	store    *PageStore
	tid      *transaction.TransactionID
	pid      page.ID
	perm     transaction.Permissions
	pg       *page.Page
	released atomic.Bool
}

func newHandle(s *PageStore, tid *transaction.TransactionID, pid page.ID, perm transaction.Permissions, pg *page.Page) *Handle {
	return &Handle{store: s, tid: tid, pid: pid, perm: perm, pg: pg}
}

// ID returns the page this handle is checked out on.
func (h *Handle) ID() page.ID {
	return h.pid
}

// TID returns the transaction the handle was issued to.
func (h *Handle) TID() *transaction.TransactionID {
	return h.tid
}

// Perm returns the permission the page was requested under.
func (h *Handle) Perm() transaction.Permissions {
	return h.perm
}

// Bytes returns the live page content. The slice aliases the page; it is
// only safe to read while the handle is checked out, and must never be
// written through — use Write or WriteAt.
func (h *Handle) Bytes() ([]byte, error) {
	if err := h.guard("Bytes"); err != nil {
		return nil, err
	}
	return h.pg.Data(), nil
}

// Snapshot returns a defensive copy of the page content.
func (h *Handle) Snapshot() ([]byte, error) {
	if err := h.guard("Snapshot"); err != nil {
		return nil, err
	}
	return h.pg.Snapshot(), nil
}

// Write replaces the whole page content. The handle must have been issued
// with ReadWrite permission; the before-image is captured on the page's
// first clean-to-dirty transition, before the new bytes land.
func (h *Handle) Write(data []byte) error {
	if len(data) != page.PageSize {
		return dberr.New(dberr.ErrCategoryUser, dberr.CodeInvalidState, "write must cover the whole page").
			WithDetail("got %d bytes, page size is %d", len(data), page.PageSize).
			WithOperation("Write").WithComponent("memory")
	}
	return h.write(0, data, "Write")
}

// WriteAt writes data at the given offset within the page, under the same
// rules as Write.
func (h *Handle) WriteAt(off int, data []byte) error {
	return h.write(off, data, "WriteAt")
}

func (h *Handle) write(off int, data []byte, op string) error {
	if err := h.guard(op); err != nil {
		return err
	}
	if !h.perm.Exclusive() {
		return dberr.New(dberr.ErrCategoryUser, dberr.CodeInvalidState, "handle is read-only").
			WithDetail("page %s was checked out with %s permission", h.pid, h.perm).
			WithHint("request the page with ReadWrite permission to write it").
			WithOperation(op).WithComponent("memory")
	}
	if off < 0 || off+len(data) > page.PageSize {
		return dberr.New(dberr.ErrCategoryUser, dberr.CodeInvalidState, "write outside page bounds").
			WithDetail("offset %d, length %d, page size %d", off, len(data), page.PageSize).
			WithOperation(op).WithComponent("memory")
	}
	return h.store.writeThrough(h, off, data, op)
}

// Release ends the checked-out scope. It is idempotent; afterwards every
// accessor fails with a state error. The page lock is unaffected.
func (h *Handle) Release() {
	h.released.Store(true)
}

func (h *Handle) guard(op string) error {
	if h.released.Load() {
		return dberr.New(dberr.ErrCategoryUser, dberr.CodeInvalidState, "handle has been released").
			WithDetail("page %s, transaction %s", h.pid, h.tid).
			WithOperation(op).WithComponent("memory")
	}
	return nil
}

// writeThrough lands a handle write on the page under the monitor: dirty
// bookkeeping first (capturing the before-image), then the bytes.
func (s *PageStore) writeThrough(h *Handle, off int, data []byte, op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.txns[h.tid]
	if !ok || st.terminal() {
		return s.terminalError(st, op)
	}

	// Re-anchor the page if it fell out of the cache while checked out.
	// A clean resident copy can only be a refetch of the same flushed
	// bytes (dirty pages are never evicted), so the handle's object is
	// authoritative and replaces it. A dirty resident copy is different:
	// dirtying requires the exclusive lock this transaction holds, so it
	// was written through a newer handle of the same transaction, and
	// anchoring the stale object would silently discard those writes.
	ent, ok := s.cache.get(h.pid)
	if !ok || ent.page != h.pg {
		if ok && ent.page.IsDirty() != nil {
			return dberr.New(dberr.ErrCategoryUser, dberr.CodeInvalidState, "handle is stale").
				WithDetail("page %s was rewritten through a newer checkout", h.pid).
				WithHint("write through the handle returned by the most recent Get").
				WithOperation(op).WithComponent("memory")
		}
		if s.cache.full() {
			if err := s.evictLocked(); err != nil {
				return err
			}
		}
		ent = s.cache.put(h.pid, h.pg)
	}

	s.markDirtyLocked(st, ent)
	copy(ent.page.Data()[off:], data)
	return nil
}
