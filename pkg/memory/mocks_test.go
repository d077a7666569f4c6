package memory

import (
	"bytes"
	"slices"
	"sync"

	"hearth/pkg/dberr"
	"hearth/pkg/primitives"
	"hearth/pkg/storage/page"
)

// memProvider is an in-memory page.Provider test double. It starts empty,
// so reads of unwritten pages fail with the NotFound code exactly like a
// backing store that has never seen the page.
type memProvider struct {
	mu         sync.Mutex
	pages      map[page.ID][]byte
	reads      int
	writes     int
	failReads  map[page.ID]error
	failWrites map[page.ID]error
	closed     bool
}

func newMemProvider() *memProvider {
	return &memProvider{
		pages:      make(map[page.ID][]byte),
		failReads:  make(map[page.ID]error),
		failWrites: make(map[page.ID]error),
	}
}

func (p *memProvider) ReadPage(id page.ID) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.reads++
	if err := p.failReads[id]; err != nil {
		return nil, err
	}
	data, ok := p.pages[id]
	if !ok {
		return nil, dberr.New(dberr.ErrCategoryData, dberr.CodeNotFound, "page not on backing store")
	}
	return slices.Clone(data), nil
}

func (p *memProvider) WritePage(id page.ID, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.failWrites[id]; err != nil {
		return err
	}
	p.pages[id] = slices.Clone(data)
	p.writes++
	return nil
}

func (p *memProvider) NumPages(table primitives.TableID) (primitives.PageNumber, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var n primitives.PageNumber
	for id := range p.pages {
		if id.Table == table {
			n++
		}
	}
	return n, nil
}

func (p *memProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// seed stores a page filled with b directly on the provider.
func (p *memProvider) seed(id page.ID, b byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pages[id] = filled(b)
}

// stored returns a copy of the page as the provider last persisted it, or
// nil if it was never written.
func (p *memProvider) stored(id page.ID) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.pages[id])
}

// readCount and writeCount expose the op counters.
func (p *memProvider) readCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reads
}

func (p *memProvider) writeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes
}

// failNextWrite makes writes of id fail with err until cleared.
func (p *memProvider) failNextWrite(id page.ID, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failWrites[id] = err
}

func (p *memProvider) clearFailures() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failReads = make(map[page.ID]error)
	p.failWrites = make(map[page.ID]error)
}

// filled returns a full page of b bytes.
func filled(b byte) []byte {
	return bytes.Repeat([]byte{b}, page.PageSize)
}
