package heap

import (
	"fmt"

	"hearth/pkg/dberr"
	"hearth/pkg/primitives"
	"hearth/pkg/storage/page"
)

// File is a collection of pages stored in a single OS file on disk.
// It implements page.Provider for exactly one table: the table whose ID is
// the hash of the file's path.
//
// Storage layout:
//   - Each page is exactly page.PageSize bytes
//   - Pages are numbered sequentially starting from 0
//   - Page offsets are calculated as: pageNo * page.PageSize
//
// Alongside the data file, File maintains a checksum sidecar (same path
// with a .sums extension) holding one BLAKE3-256 digest per page. Digests
// are recorded on every write and verified on every read, so torn or
// corrupted pages surface as errors instead of silently feeding bad bytes
// into the cache.
type File struct {
	*page.BaseFile
	tableID primitives.TableID
	sums    *checksumFile
}

// NewFile opens (creating if necessary) a heap file and its checksum
// sidecar. The table ID is derived from the file path.
//
// Parameters:
//   - filename: Path to the heap file on disk (cannot be empty)
//
// Returns:
//   - *File: The initialized heap file
//   - error: If the filename is empty or either file cannot be opened
func NewFile(filename primitives.Filepath) (*File, error) {
	baseFile, err := page.NewBaseFile(filename)
	if err != nil {
		return nil, err
	}

	sums, err := openChecksumFile(filename.WithExt(".sums"))
	if err != nil {
		baseFile.Close()
		return nil, fmt.Errorf("failed to open checksum sidecar: %w", err)
	}

	return &File{
		BaseFile: baseFile,
		tableID:  filename.HashAsTableID(),
		sums:     sums,
	}, nil
}

// TableID returns the table this file stores pages for.
func (f *File) TableID() primitives.TableID {
	return f.tableID
}

// ReadPage reads the page's raw content from disk and verifies it against
// the recorded digest when one exists.
//
// A read past EOF fails with dberr.CodeNotFound, the signal that the page
// does not exist yet. A digest disagreement fails with
// dberr.CodeChecksumMismatch.
func (f *File) ReadPage(id page.ID) ([]byte, error) {
	if err := f.validateID(id); err != nil {
		return nil, err
	}

	data, err := f.ReadPageData(id.Number)
	if err != nil {
		return nil, err
	}

	if err := f.sums.verify(id.Number, data); err != nil {
		return nil, err
	}
	return data, nil
}

// WritePage persists the page content at its logical offset and records its
// digest in the sidecar.
func (f *File) WritePage(id page.ID, data []byte) error {
	if err := f.validateID(id); err != nil {
		return err
	}

	if err := f.WritePageData(id.Number, data); err != nil {
		return err
	}
	return f.sums.record(id.Number, data)
}

// NumPages reports how many pages the file currently holds.
func (f *File) NumPages(table primitives.TableID) (primitives.PageNumber, error) {
	if table != f.tableID {
		return 0, f.foreignTableError(table)
	}
	return f.BaseFile.NumPages()
}

// AllocatePage reserves the next page number, zero-filled, and records its
// digest so the fresh page reads back cleanly.
func (f *File) AllocatePage() (page.ID, error) {
	pageNo, err := f.AllocateNewPage()
	if err != nil {
		return page.ID{}, err
	}

	if err := f.sums.record(pageNo, make([]byte, page.PageSize)); err != nil {
		return page.ID{}, err
	}
	return page.NewID(f.tableID, pageNo), nil
}

// Close closes the data file and the checksum sidecar.
func (f *File) Close() error {
	dataErr := f.BaseFile.Close()
	sumsErr := f.sums.close()
	if dataErr != nil {
		return dataErr
	}
	return sumsErr
}

func (f *File) validateID(id page.ID) error {
	if id.Table != f.tableID {
		return f.foreignTableError(id.Table)
	}
	return nil
}

func (f *File) foreignTableError(table primitives.TableID) error {
	return dberr.New(dberr.ErrCategoryUser, dberr.CodeInvalidState, "page does not belong to this file").
		WithDetail("requested table %d, file serves table %d", table, f.tableID).
		WithComponent("HeapFile")
}
