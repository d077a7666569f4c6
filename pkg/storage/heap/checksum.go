package heap

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/zeebo/blake3"

	"hearth/pkg/dberr"
	"hearth/pkg/primitives"
)

// digestSize is the length of a BLAKE3-256 digest.
const digestSize = 32

// checksumFile is the sidecar holding one digest per page, stored at
// pageNo*digestSize. A slot of all zero bytes means "no digest recorded"
// (pages written out of order leave zero gaps); BLAKE3 never produces an
// all-zero digest in practice, so the sentinel is unambiguous.
type checksumFile struct {
	file  *os.File
	path  primitives.Filepath
	mutex sync.Mutex
}

func openChecksumFile(path primitives.Filepath) (*checksumFile, error) {
	file, err := os.OpenFile(path.String(), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %v", path, err)
	}
	return &checksumFile{file: file, path: path}, nil
}

// record computes and stores the digest for the given page content.
func (cf *checksumFile) record(pageNo primitives.PageNumber, data []byte) error {
	cf.mutex.Lock()
	defer cf.mutex.Unlock()

	if cf.file == nil {
		return fmt.Errorf("checksum sidecar is closed")
	}

	sum := blake3.Sum256(data)
	offset := int64(pageNo) * digestSize

	if _, err := cf.file.WriteAt(sum[:], offset); err != nil {
		return dberr.Wrap(err, dberr.ErrCategorySystem, dberr.CodeIOFailure, "checksum write failed").
			WithDetail("page %d of %s", pageNo, cf.path)
	}
	if err := cf.file.Sync(); err != nil {
		return dberr.Wrap(err, dberr.ErrCategorySystem, dberr.CodeIOFailure, "checksum sync failed").
			WithDetail("page %d of %s", pageNo, cf.path)
	}
	return nil
}

// verify checks the page content against its recorded digest. Pages without
// a recorded digest pass (sidecars may predate some pages).
func (cf *checksumFile) verify(pageNo primitives.PageNumber, data []byte) error {
	cf.mutex.Lock()
	defer cf.mutex.Unlock()

	if cf.file == nil {
		return fmt.Errorf("checksum sidecar is closed")
	}

	stored := make([]byte, digestSize)
	offset := int64(pageNo) * digestSize

	if _, err := cf.file.ReadAt(stored, offset); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		return dberr.Wrap(err, dberr.ErrCategorySystem, dberr.CodeIOFailure, "checksum read failed").
			WithDetail("page %d of %s", pageNo, cf.path)
	}

	if bytes.Equal(stored, make([]byte, digestSize)) {
		return nil
	}

	sum := blake3.Sum256(data)
	if !bytes.Equal(stored, sum[:]) {
		return dberr.New(dberr.ErrCategorySystem, dberr.CodeChecksumMismatch, "page content disagrees with recorded digest").
			WithDetail("page %d of %s", pageNo, cf.path).
			WithHint("the page or its sidecar is corrupted; restore from a snapshot").
			WithComponent("HeapFile")
	}
	return nil
}

func (cf *checksumFile) close() error {
	cf.mutex.Lock()
	defer cf.mutex.Unlock()

	if cf.file != nil {
		err := cf.file.Close()
		cf.file = nil
		return err
	}
	return nil
}
