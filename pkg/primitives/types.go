package primitives

// HashCode represents a hash value (e.g., for keys, page IDs, etc.)
// It is typically computed for fast comparisons or lookups.
type HashCode uint64

// FileID is the base type representing a unique file identifier derived from hashing a file path.
// It is the foundation for TableID, representing the physical file's identity.
//
// FileID is generated using FNV-1a hash of the file path and provides:
//   - Deterministic identification: Same path always produces same ID
//   - Fast lookups in hash-based data structures
//   - Collision resistance for different paths
//
// This type is typically not used directly - use TableID for semantic clarity.
type FileID uint64

// TableID identifies a table and, by extension, the backing file that stores
// its pages. Every page identifier carries the TableID of the table it
// belongs to.
type TableID uint64

// PageNumber represents a page number within a table
type PageNumber uint64

// Sentinel values for invalid/unset identifiers
const (
	// InvalidPageNumber represents an invalid or unset page number
	InvalidPageNumber PageNumber = 0

	// InvalidFileID represents an invalid or unset file ID
	InvalidFileID FileID = 0
)
