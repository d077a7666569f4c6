package page

import (
	"fmt"

	"hearth/pkg/concurrency/transaction"
)

const (
	// PageSize is the size of each page in bytes (4KB)
	PageSize = 4096
)

// Page is a fixed-size content block resident in the page store's cache.
// Pages may be "dirty", indicating they have been modified since last
// written to disk; a dirty page carries the transaction that modified it.
//
// At the moment a page first transitions from clean to dirty it captures a
// before-image: a full copy of its content used to undo the transaction's
// writes on abort.
//
// Page performs no locking of its own. While resident it is owned by the
// page store, which serializes all bookkeeping mutations; content access is
// protected by the page-level lock the caller holds.
type Page struct {
	id          ID
	data        []byte
	dirtyBy     *transaction.TransactionID
	beforeImage []byte
}

// NewPage creates a page from content read off the backing store.
// The content is copied, so the caller may reuse its buffer.
func NewPage(id ID, data []byte) (*Page, error) {
	if len(data) != PageSize {
		return nil, fmt.Errorf("invalid page data size: expected %d, got %d", PageSize, len(data))
	}
	p := &Page{id: id, data: make([]byte, PageSize)}
	copy(p.data, data)
	return p, nil
}

// NewZeroPage creates an empty zero-filled page, used when the backing
// store reports that the page does not exist yet.
func NewZeroPage(id ID) *Page {
	return &Page{id: id, data: make([]byte, PageSize)}
}

// ID returns the identifier of this page.
func (p *Page) ID() ID {
	return p.id
}

// Data returns the live page content. Callers must hold the appropriate
// page lock before reading, and must mutate only through the page store so
// dirty bookkeeping stays consistent.
func (p *Page) Data() []byte {
	return p.data
}

// Snapshot returns a defensive copy of the current content.
func (p *Page) Snapshot() []byte {
	out := make([]byte, PageSize)
	copy(out, p.data)
	return out
}

// SetData overwrites the page content in place.
func (p *Page) SetData(data []byte) error {
	if len(data) != PageSize {
		return fmt.Errorf("invalid page data size: expected %d, got %d", PageSize, len(data))
	}
	copy(p.data, data)
	return nil
}

// IsDirty returns the transaction that dirtied this page, or nil if clean.
func (p *Page) IsDirty() *transaction.TransactionID {
	return p.dirtyBy
}

// MarkDirty records tid as the owner of this page's uncommitted changes.
// On the clean-to-dirty transition the current content is captured as the
// before-image; marking an already-dirty page again only updates the owner.
func (p *Page) MarkDirty(tid *transaction.TransactionID) {
	if p.dirtyBy == nil {
		p.beforeImage = p.Snapshot()
	}
	p.dirtyBy = tid
}

// MarkClean clears the dirty flag and owner, typically after a flush.
// The captured before-image is kept until the next clean-to-dirty
// transition overwrites it.
func (p *Page) MarkClean() {
	p.dirtyBy = nil
}

// BeforeImage returns the content captured at the last clean-to-dirty
// transition, or nil if this page has never been dirtied. The returned
// slice is the internal snapshot; callers must not modify it.
func (p *Page) BeforeImage() []byte {
	return p.beforeImage
}

// RestoreBeforeImage copies the before-image back over the content and
// clears the dirty flag, undoing every write since the snapshot was taken.
// It is a no-op on a page that was never dirtied.
func (p *Page) RestoreBeforeImage() {
	if p.beforeImage == nil {
		return
	}
	copy(p.data, p.beforeImage)
	p.dirtyBy = nil
}
