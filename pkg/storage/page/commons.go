package page

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"hearth/pkg/dberr"
	"hearth/pkg/primitives"
)

// BaseFile provides common file operations for page-oriented storage files.
// It handles file I/O, page counting, and thread-safety concerns.
//
// BaseFile is the foundational layer for table files: it manages the
// underlying OS file handle, provides thread-safe reads and writes at page
// granularity, tracks page counts, and generates the file's unique
// identifier from its path.
//
// Thread-safety: All public methods use read/write locks to ensure safe
// concurrent access.
type BaseFile struct {
	file     *os.File            // The underlying OS file handle for I/O operations
	fileID   primitives.FileID   // Unique identifier generated from the file path hash
	mutex    sync.RWMutex        // Read-write mutex for thread-safe operations
	filePath primitives.Filepath // Path to the backing file
}

// NewBaseFile opens (creating if necessary) a page file and initializes the
// BaseFile structure. The file ID is the FNV-1a hash of the path.
//
// Parameters:
//   - filePath: The path to the page file to open
//
// Returns:
//   - *BaseFile: A pointer to the initialized BaseFile structure
//   - error: An error if the path is empty or the file cannot be opened
func NewBaseFile(filePath primitives.Filepath) (*BaseFile, error) {
	if filePath.IsEmpty() {
		return nil, fmt.Errorf("filePath cannot be empty")
	}

	file, err := openFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	return &BaseFile{
		file:     file,
		fileID:   filePath.Hash(),
		filePath: filePath,
	}, nil
}

// GetID returns the unique identifier for this file.
//
// The file ID is generated using a hash of the file path and remains
// constant throughout the lifetime of the BaseFile instance.
func (bf *BaseFile) GetID() primitives.FileID {
	return bf.fileID
}

// NumPages returns the total number of pages in this file.
//
// The count is the file size divided by the page size, rounded up to
// include a partial trailing page.
//
// Returns:
//   - primitives.PageNumber: The total number of pages in the file
//   - error: An error if the file is closed or stat fails
func (bf *BaseFile) NumPages() (primitives.PageNumber, error) {
	bf.mutex.RLock()
	defer bf.mutex.RUnlock()

	if bf.file == nil {
		return 0, fmt.Errorf("file is closed")
	}

	fileInfo, err := bf.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat file: %v", err)
	}

	numPages := primitives.PageNumber(fileInfo.Size() / int64(PageSize))
	if fileInfo.Size()%int64(PageSize) != 0 {
		numPages++
	}

	return numPages, nil
}

// ReadPageData reads raw page data from disk at the specified page number.
//
// Exactly PageSize bytes are read from the offset corresponding to the page
// number. A read at or past the end of the file fails with
// dberr.CodeNotFound, the signal that the page does not exist yet; other
// failures carry dberr.CodeIOFailure.
//
// Parameters:
//   - pageNo: The zero-based page number to read
//
// Returns:
//   - []byte: A slice containing the raw page data (always PageSize bytes)
//   - error: An error if the file is closed or the read fails
func (bf *BaseFile) ReadPageData(pageNo primitives.PageNumber) ([]byte, error) {
	bf.mutex.RLock()
	defer bf.mutex.RUnlock()

	if bf.file == nil {
		return nil, fmt.Errorf("file is closed")
	}

	offset := int64(pageNo) * int64(PageSize)
	pageData := make([]byte, PageSize)

	_, err := bf.file.ReadAt(pageData, offset)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, dberr.Wrap(err, dberr.ErrCategoryData, dberr.CodeNotFound, "page not on disk").
				WithDetail("page %d of %s", pageNo, bf.filePath)
		}
		return nil, dberr.Wrap(err, dberr.ErrCategorySystem, dberr.CodeIOFailure, "page read failed").
			WithDetail("page %d of %s", pageNo, bf.filePath)
	}

	return pageData, nil
}

// WritePageData writes raw page data to disk at the specified page number.
//
// Exactly PageSize bytes are written at the offset corresponding to the
// page number, then the file is synced so the data is persisted.
//
// Parameters:
//   - pageNo: The zero-based page number to write
//   - pageData: The raw page data to write (must be exactly PageSize bytes)
//
// Returns:
//   - error: An error if the file is closed, the data size is invalid, or
//     I/O fails (dberr.CodeIOFailure)
func (bf *BaseFile) WritePageData(pageNo primitives.PageNumber, pageData []byte) error {
	bf.mutex.Lock()
	defer bf.mutex.Unlock()

	if bf.file == nil {
		return fmt.Errorf("file is closed")
	}

	if len(pageData) != PageSize {
		return fmt.Errorf("invalid page data size: expected %d, got %d", PageSize, len(pageData))
	}

	offset := int64(pageNo) * int64(PageSize)

	if _, err := bf.file.WriteAt(pageData, offset); err != nil {
		return dberr.Wrap(err, dberr.ErrCategorySystem, dberr.CodeIOFailure, "page write failed").
			WithDetail("page %d of %s", pageNo, bf.filePath)
	}

	if err := bf.file.Sync(); err != nil {
		return dberr.Wrap(err, dberr.ErrCategorySystem, dberr.CodeIOFailure, "file sync failed").
			WithDetail("page %d of %s", pageNo, bf.filePath)
	}

	return nil
}

// Close closes the underlying file handle. After Close, all other methods
// return errors. Closing an already-closed file is a no-op.
func (bf *BaseFile) Close() error {
	bf.mutex.Lock()
	defer bf.mutex.Unlock()

	if bf.file != nil {
		err := bf.file.Close()
		bf.file = nil
		return err
	}

	return nil
}

// AllocateNewPage atomically allocates and reserves the next available page
// number. Concurrent calls receive unique page numbers.
//
// The allocation:
//  1. Reads the current page count
//  2. Extends the file by one zero-filled page to reserve the space
//  3. Returns the allocated page number
//
// All steps occur while holding the write lock, so no other goroutine can
// observe an intermediate state or allocate the same page number. The
// caller overwrites the zero-filled page with actual data via WritePageData.
//
// Returns:
//   - primitives.PageNumber: The allocated page number (equal to the old NumPages)
//   - error: An error if the file is closed, stat fails, or the write fails
func (bf *BaseFile) AllocateNewPage() (primitives.PageNumber, error) {
	bf.mutex.Lock()
	defer bf.mutex.Unlock()

	if bf.file == nil {
		return 0, fmt.Errorf("file is closed")
	}

	fileInfo, err := bf.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat file: %v", err)
	}

	currentSize := fileInfo.Size()
	numPages := currentSize / int64(PageSize)
	if currentSize%int64(PageSize) != 0 {
		numPages++
	}

	allocatedPageNo := primitives.PageNumber(numPages)

	zeroPage := make([]byte, PageSize)
	offset := int64(allocatedPageNo) * int64(PageSize)

	if _, err := bf.file.WriteAt(zeroPage, offset); err != nil {
		return 0, dberr.Wrap(err, dberr.ErrCategorySystem, dberr.CodeIOFailure, "failed to reserve page space").
			WithDetail("page %d of %s", allocatedPageNo, bf.filePath)
	}

	if err := bf.file.Sync(); err != nil {
		return 0, dberr.Wrap(err, dberr.ErrCategorySystem, dberr.CodeIOFailure, "file sync failed after page allocation").
			WithDetail("page %d of %s", allocatedPageNo, bf.filePath)
	}

	return allocatedPageNo, nil
}

// FilePath returns the path to the backing file.
func (bf *BaseFile) FilePath() primitives.Filepath {
	return bf.filePath
}

func openFile(filename primitives.Filepath) (*os.File, error) {
	file, err := os.OpenFile(filename.String(), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %v", filename, err)
	}
	return file, nil
}
