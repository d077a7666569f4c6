package page

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"

	"hearth/pkg/primitives"
)

// ID uniquely identifies a page: the table it belongs to plus its ordinal
// within that table. It is a comparable value type, equal and hashable by
// both fields, and is used directly as the cache and lock-table key.
type ID struct {
	Table  primitives.TableID
	Number primitives.PageNumber
}

// NewID creates a page identifier for the given table and page number.
func NewID(table primitives.TableID, number primitives.PageNumber) ID {
	return ID{Table: table, Number: number}
}

// Serialize returns this page ID as a fixed 16-byte little-endian encoding.
func (id ID) Serialize() []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(id.Table))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(id.Number))
	return buf
}

// Hash returns a hash code for this page ID.
func (id ID) Hash() primitives.HashCode {
	h := fnv.New64a()
	h.Write(id.Serialize())
	return primitives.HashCode(h.Sum64())
}

func (id ID) String() string {
	return fmt.Sprintf("table:%d page:%d", id.Table, id.Number)
}
