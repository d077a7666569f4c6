package primitives

import (
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
)

// Filepath is a type-safe wrapper around file paths used throughout the system.
// It provides convenient methods for path manipulation and file operations while
// maintaining type safety and reducing the need for string conversions.
//
// The Filepath type is used for:
//   - Table file paths (page data storage)
//   - Checksum sidecar paths
//   - Snapshot archive paths
//
// Example usage:
//
//	dataDir := primitives.Filepath("/data")
//	tablePath := dataDir.Join("users.dat")
//	if tablePath.Exists() {
//	    tablePath.Remove()
//	}
type Filepath string

// Hash generates a unique FileID from the file path using FNV-1a hashing.
// This hash is used as the physical file identifier throughout the system.
//
// The hash provides:
//   - Deterministic IDs for the same file path
//   - Fast lookup in hash-based data structures
//   - Collision resistance for different paths
//
// Returns:
//   - FileID: A 64-bit hash value representing this file path
func (f Filepath) Hash() FileID {
	h := fnv.New64a()
	h.Write([]byte(f))
	return FileID(h.Sum64())
}

// HashAsTableID generates a TableID by hashing the file path.
// This is a convenience method for when the path represents a table file.
func (f Filepath) HashAsTableID() TableID {
	return TableID(f.Hash())
}

// Dir returns the directory portion of the file path.
func (f Filepath) Dir() string {
	return filepath.Dir(string(f))
}

// String converts the Filepath to a standard string.
func (f Filepath) String() string {
	return string(f)
}

// Join concatenates path elements to this path and returns a new Filepath.
//
// Example:
//
//	dataDir := primitives.Filepath("/data")
//	tablePath := dataDir.Join("tables", "users.dat")
//	// Returns Filepath("/data/tables/users.dat")
func (f Filepath) Join(elem ...string) Filepath {
	parts := append([]string{string(f)}, elem...)
	return Filepath(filepath.Join(parts...))
}

// Base returns the last element of the path (the filename).
func (f Filepath) Base() string {
	return filepath.Base(string(f))
}

// Exists checks whether the file exists on the filesystem.
func (f Filepath) Exists() bool {
	_, err := os.Stat(string(f))
	return err == nil
}

// Remove deletes the file from the filesystem.
// This operation is idempotent - it succeeds if the file doesn't exist.
func (f Filepath) Remove() error {
	if !f.Exists() {
		return nil
	}
	return os.Remove(string(f))
}

// IsEmpty checks whether the filepath is an empty string.
func (f Filepath) IsEmpty() bool {
	return string(f) == ""
}

// MkdirAll creates the parent directory and any necessary parents.
//
// Parameters:
//   - perm: File permissions for created directories (e.g., 0755)
func (f Filepath) MkdirAll(perm os.FileMode) error {
	return os.MkdirAll(f.Dir(), perm)
}

// Ext returns the file extension including the dot.
// Returns empty string if the file has no extension.
func (f Filepath) Ext() string {
	return filepath.Ext(string(f))
}

// WithExt returns a new Filepath with the extension replaced.
// If the new extension doesn't start with a dot, one is automatically added.
//
// Example:
//
//	path := primitives.Filepath("/data/users.dat")
//	sums := path.WithExt(".sums") // Returns "/data/users.sums"
func (f Filepath) WithExt(newExt string) Filepath {
	ext := f.Ext()
	base := strings.TrimSuffix(string(f), ext)
	if newExt != "" && !strings.HasPrefix(newExt, ".") {
		newExt = "." + newExt
	}
	return Filepath(base + newExt)
}

// Stat returns file information from the filesystem.
func (f Filepath) Stat() (os.FileInfo, error) {
	return os.Stat(string(f))
}
