package memory

import (
	"time"

	"hearth/pkg/storage/page"
)

// cacheEntry is a resident page plus the bookkeeping the eviction policies
// order candidates by. The timestamps and counters have no semantic weight
// beyond victim selection.
type cacheEntry struct {
	pid  page.ID
	page *page.Page

	seq        uint64    // insertion sequence, stable ring position for Clock
	loadedAt   time.Time // when the page entered the cache
	lastAccess time.Time // refreshed on every Get hit (LRU ordering)
	accesses   uint64    // access count (LFU ordering)
	referenced bool      // reference bit (Clock second chance)
}

// touch refreshes the entry's access bookkeeping.
func (e *cacheEntry) touch() {
	e.lastAccess = time.Now()
	e.accesses++
	e.referenced = true
}

// pageCache is the bounded page table of the store. It is a passive map:
// the page store's monitor serializes every call, and capacity is enforced
// by the store (which must evict before inserting into a full cache).
type pageCache struct {
	capacity int
	entries  map[page.ID]*cacheEntry
	nextSeq  uint64
}

func newPageCache(capacity int) *pageCache {
	return &pageCache{
		capacity: capacity,
		entries:  make(map[page.ID]*cacheEntry, capacity),
	}
}

// get returns the entry for pid without touching its bookkeeping; hits
// that should count as accesses call touch on the returned entry.
func (c *pageCache) get(pid page.ID) (*cacheEntry, bool) {
	e, ok := c.entries[pid]
	return e, ok
}

// put inserts a freshly loaded page and returns its entry. The caller has
// already made room; inserting over an existing entry replaces it.
func (c *pageCache) put(pid page.ID, p *page.Page) *cacheEntry {
	now := time.Now()
	e := &cacheEntry{
		pid:        pid,
		page:       p,
		seq:        c.nextSeq,
		loadedAt:   now,
		lastAccess: now,
		accesses:   1,
		referenced: true,
	}
	c.nextSeq++
	c.entries[pid] = e
	return e
}

func (c *pageCache) remove(pid page.ID) {
	delete(c.entries, pid)
}

func (c *pageCache) size() int {
	return len(c.entries)
}

func (c *pageCache) full() bool {
	return len(c.entries) >= c.capacity
}

// pageIDs returns the resident page IDs in no particular order.
func (c *pageCache) pageIDs() []page.ID {
	pids := make([]page.ID, 0, len(c.entries))
	for pid := range c.entries {
		pids = append(pids, pid)
	}
	return pids
}

// evictionCandidates returns the clean resident entries, the only pages
// eviction may choose from under no-steal.
func (c *pageCache) evictionCandidates() []*cacheEntry {
	out := make([]*cacheEntry, 0, len(c.entries))
	for _, e := range c.entries {
		if e.page.IsDirty() == nil {
			out = append(out, e)
		}
	}
	return out
}
