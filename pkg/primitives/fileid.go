package primitives

import "fmt"

// FileID Methods
// =============================================================================

// IsValid checks if the FileID is a valid non-zero identifier.
// A FileID of 0 is considered invalid or uninitialized.
func (f FileID) IsValid() bool {
	return f != 0
}

// AsUint64 returns the FileID as a uint64 for serialization or storage.
func (f FileID) AsUint64() uint64 {
	return uint64(f)
}

// String returns a string representation of the FileID.
func (f FileID) String() string {
	return fmt.Sprintf("FileID(%d)", f)
}

// AsTableID converts the FileID into a TableID with the same underlying value.
func (f FileID) AsTableID() TableID {
	return TableID(f)
}

// TableID Methods
// =============================================================================

// ToFileID converts the TableID back to its underlying FileID.
func (t TableID) ToFileID() FileID {
	return FileID(t)
}

// IsValid checks if the TableID is a valid non-zero identifier.
func (t TableID) IsValid() bool {
	return t != 0
}

// AsUint64 returns the TableID as a uint64 for serialization or storage.
func (t TableID) AsUint64() uint64 {
	return uint64(t)
}

// String returns a string representation of the TableID.
func (t TableID) String() string {
	return fmt.Sprintf("TableID(%d)", t)
}

// Constructors
// =============================================================================

// NewFileIDFromUint64 reconstructs a FileID from a stored uint64 value.
func NewFileIDFromUint64(v uint64) FileID {
	return FileID(v)
}

// NewTableIDFromUint64 reconstructs a TableID from a stored uint64 value.
func NewTableIDFromUint64(v uint64) TableID {
	return TableID(v)
}
