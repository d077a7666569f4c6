package page

import (
	"hearth/pkg/dberr"
	"hearth/pkg/primitives"
)

// Provider is the storage backend a page store reads pages from and flushes
// pages to. Implementations serve fixed-size blocks addressed by page ID.
//
// ReadPage returns exactly PageSize bytes. When the requested page does not
// exist yet on the backing store it fails with dberr.CodeNotFound; the page
// store recovers by synthesizing a zero-filled page, so that signal never
// reaches callers. All other failures carry dberr.CodeIOFailure.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	ReadPage(id ID) ([]byte, error)
	WritePage(id ID, data []byte) error
	NumPages(table primitives.TableID) (primitives.PageNumber, error)
	Close() error
}

// Mux routes provider calls to per-table backends, letting one page store
// serve pages from several table files. Registration happens at setup time;
// the zero value is not usable, use NewMux.
type Mux struct {
	backends map[primitives.TableID]Provider
}

func NewMux() *Mux {
	return &Mux{backends: make(map[primitives.TableID]Provider)}
}

// Register associates a table with its backend. Registering the same table
// twice replaces the previous backend.
func (m *Mux) Register(table primitives.TableID, p Provider) {
	m.backends[table] = p
}

// Tables returns the registered table IDs.
func (m *Mux) Tables() []primitives.TableID {
	out := make([]primitives.TableID, 0, len(m.backends))
	for t := range m.backends {
		out = append(out, t)
	}
	return out
}

func (m *Mux) backend(table primitives.TableID) (Provider, error) {
	p, ok := m.backends[table]
	if !ok {
		return nil, dberr.New(dberr.ErrCategoryUser, dberr.CodeInvalidState, "no backend registered for table").
			WithDetail("table %d", table).
			WithComponent("Mux")
	}
	return p, nil
}

func (m *Mux) ReadPage(id ID) ([]byte, error) {
	p, err := m.backend(id.Table)
	if err != nil {
		return nil, err
	}
	return p.ReadPage(id)
}

func (m *Mux) WritePage(id ID, data []byte) error {
	p, err := m.backend(id.Table)
	if err != nil {
		return err
	}
	return p.WritePage(id, data)
}

func (m *Mux) NumPages(table primitives.TableID) (primitives.PageNumber, error) {
	p, err := m.backend(table)
	if err != nil {
		return 0, err
	}
	return p.NumPages(table)
}

// Close closes every registered backend, returning the first error seen.
func (m *Mux) Close() error {
	var first error
	for _, p := range m.backends {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
