// Package backup creates and restores snapshots of table files.
//
// A snapshot is a tar archive compressed with xz. Its first entry is
// manifest.yaml — a UUID naming the snapshot, the creation time, and a
// BLAKE3-256 digest for every archived file — followed by the files
// themselves under their base names. Restore unpacks into a directory and
// verifies every file against the manifest, so a damaged archive is
// detected before the engine ever reads a page from it.
//
// The archive holds whatever files it is given; callers are expected to
// quiesce the store (flush all dirty pages) before snapshotting so the
// files on disk are a consistent image.
package backup

import (
	"archive/tar"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ulikunitz/xz"
	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"

	"hearth/pkg/dberr"
	"hearth/pkg/primitives"
)

// manifestName is the archive entry holding the serialized Manifest.
const manifestName = "manifest.yaml"

// FileDigest records one archived file: its base name, size in bytes, and
// the hex-encoded BLAKE3-256 digest of its content.
type FileDigest struct {
	Name   string `yaml:"name"`
	Size   int64  `yaml:"size"`
	Digest string `yaml:"digest"`
}

// Manifest describes a snapshot. It is serialized as the archive's first
// entry and returned by Create and Restore.
type Manifest struct {
	Snapshot  string       `yaml:"snapshot"`
	CreatedAt time.Time    `yaml:"created_at"`
	Files     []FileDigest `yaml:"files"`

	// Archive is where the snapshot lives on disk. It is filled in by
	// Create and Restore, not stored in the manifest itself.
	Archive primitives.Filepath `yaml:"-"`
}

// Create archives the given files into a new snapshot under dir, named
// snapshot-<uuid>.tar.xz. Files are stored under their base names, so two
// inputs may not share one.
//
// Parameters:
//   - dir: Directory to write the archive into (created if absent)
//   - files: Table files (and sidecars) to include; at least one
//
// Returns:
//   - *Manifest: The snapshot's manifest, Archive field set
//   - error: If a file cannot be read or the archive cannot be written
func Create(dir primitives.Filepath, files ...primitives.Filepath) (*Manifest, error) {
	if len(files) == 0 {
		return nil, dberr.New(dberr.ErrCategoryUser, dberr.CodeInvalidState, "a snapshot needs at least one file").
			WithOperation("Create").WithComponent("backup")
	}

	manifest := &Manifest{
		Snapshot:  uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}

	contents := make(map[string][]byte, len(files))
	for _, f := range files {
		name := f.Base()
		if _, dup := contents[name]; dup {
			return nil, dberr.New(dberr.ErrCategoryUser, dberr.CodeInvalidState, "snapshot files must have distinct base names").
				WithDetail("duplicate name %q", name).
				WithOperation("Create").WithComponent("backup")
		}

		data, err := os.ReadFile(f.String())
		if err != nil {
			return nil, dberr.Wrap(err, dberr.ErrCategorySystem, dberr.CodeIOFailure, "failed to read snapshot input").
				WithDetail("file %s", f).
				WithOperation("Create").WithComponent("backup")
		}

		sum := blake3.Sum256(data)
		contents[name] = data
		manifest.Files = append(manifest.Files, FileDigest{
			Name:   name,
			Size:   int64(len(data)),
			Digest: hex.EncodeToString(sum[:]),
		})
	}

	if err := os.MkdirAll(dir.String(), 0o755); err != nil {
		return nil, dberr.Wrap(err, dberr.ErrCategorySystem, dberr.CodeIOFailure, "failed to create snapshot directory").
			WithDetail("directory %s", dir).
			WithOperation("Create").WithComponent("backup")
	}

	manifest.Archive = dir.Join("snapshot-" + manifest.Snapshot + ".tar.xz")
	if err := writeArchive(manifest, contents); err != nil {
		manifest.Archive.Remove()
		return nil, err
	}
	return manifest, nil
}

func writeArchive(manifest *Manifest, contents map[string][]byte) error {
	out, err := os.Create(manifest.Archive.String())
	if err != nil {
		return dberr.Wrap(err, dberr.ErrCategorySystem, dberr.CodeIOFailure, "failed to create snapshot archive").
			WithDetail("archive %s", manifest.Archive).
			WithOperation("Create").WithComponent("backup")
	}
	defer out.Close()

	compressor, err := xz.NewWriter(out)
	if err != nil {
		return wrapArchiveErr(err, manifest.Archive, "failed to start xz stream", "Create")
	}
	tw := tar.NewWriter(compressor)

	encoded, err := yaml.Marshal(manifest)
	if err != nil {
		return wrapArchiveErr(err, manifest.Archive, "failed to encode manifest", "Create")
	}
	if err := writeEntry(tw, manifestName, encoded); err != nil {
		return wrapArchiveErr(err, manifest.Archive, "failed to write manifest entry", "Create")
	}

	// Manifest order is the authoritative file order.
	for _, fd := range manifest.Files {
		if err := writeEntry(tw, fd.Name, contents[fd.Name]); err != nil {
			return wrapArchiveErr(err, manifest.Archive, "failed to write file entry", "Create")
		}
	}

	if err := tw.Close(); err != nil {
		return wrapArchiveErr(err, manifest.Archive, "failed to finish tar stream", "Create")
	}
	if err := compressor.Close(); err != nil {
		return wrapArchiveErr(err, manifest.Archive, "failed to finish xz stream", "Create")
	}
	if err := out.Sync(); err != nil {
		return wrapArchiveErr(err, manifest.Archive, "failed to sync archive", "Create")
	}
	return nil
}

func writeEntry(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{
		Name: name,
		Mode: 0o644,
		Size: int64(len(data)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := tw.Write(data)
	return err
}

// Restore unpacks the snapshot archive into dir and verifies every file
// against the manifest's digests. On a digest mismatch the mismatching
// files are reported and the unpacked content must not be trusted.
//
// Parameters:
//   - archive: Path to a snapshot produced by Create
//   - dir: Directory to unpack into (created if absent)
//
// Returns:
//   - *Manifest: The archive's manifest, Archive field set
//   - error: If the archive is unreadable, malformed, or fails verification
func Restore(archive, dir primitives.Filepath) (*Manifest, error) {
	in, err := os.Open(archive.String())
	if err != nil {
		return nil, dberr.Wrap(err, dberr.ErrCategorySystem, dberr.CodeIOFailure, "failed to open snapshot archive").
			WithDetail("archive %s", archive).
			WithOperation("Restore").WithComponent("backup")
	}
	defer in.Close()

	if err := os.MkdirAll(dir.String(), 0o755); err != nil {
		return nil, dberr.Wrap(err, dberr.ErrCategorySystem, dberr.CodeIOFailure, "failed to create restore directory").
			WithDetail("directory %s", dir).
			WithOperation("Restore").WithComponent("backup")
	}

	decompressor, err := xz.NewReader(in)
	if err != nil {
		return nil, wrapArchiveErr(err, archive, "archive is not an xz stream", "Restore")
	}

	var manifest *Manifest
	unpacked := make(map[string]string)
	tr := tar.NewReader(decompressor)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, wrapArchiveErr(err, archive, "failed to read tar stream", "Restore")
		}

		if hdr.Name == manifestName {
			encoded, err := io.ReadAll(tr)
			if err != nil {
				return nil, wrapArchiveErr(err, archive, "failed to read manifest entry", "Restore")
			}
			manifest = &Manifest{}
			if err := yaml.Unmarshal(encoded, manifest); err != nil {
				return nil, wrapArchiveErr(err, archive, "failed to decode manifest", "Restore")
			}
			continue
		}

		digest, err := unpackEntry(tr, hdr.Name, dir)
		if err != nil {
			return nil, err
		}
		unpacked[hdr.Name] = digest
	}

	if manifest == nil {
		return nil, dberr.New(dberr.ErrCategorySystem, dberr.CodeInvalidState, "archive carries no manifest").
			WithDetail("archive %s", archive).
			WithHint("only archives produced by Create can be restored").
			WithOperation("Restore").WithComponent("backup")
	}
	manifest.Archive = archive

	if err := verify(manifest, unpacked, archive); err != nil {
		return nil, err
	}
	return manifest, nil
}

// unpackEntry streams one tar entry to disk while hashing it, and returns
// the hex digest. Entry names outside the target directory are refused.
func unpackEntry(tr *tar.Reader, name string, dir primitives.Filepath) (string, error) {
	clean := filepath.Clean(name)
	if clean != filepath.Base(clean) || strings.HasPrefix(clean, "..") {
		return "", dberr.New(dberr.ErrCategorySystem, dberr.CodeInvalidState, "archive entry escapes the restore directory").
			WithDetail("entry %q", name).
			WithOperation("Restore").WithComponent("backup")
	}

	target := dir.Join(clean)
	out, err := os.OpenFile(target.String(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return "", dberr.Wrap(err, dberr.ErrCategorySystem, dberr.CodeIOFailure, "failed to create restored file").
			WithDetail("file %s", target).
			WithOperation("Restore").WithComponent("backup")
	}
	defer out.Close()

	hasher := blake3.New()
	if _, err := io.Copy(io.MultiWriter(out, hasher), tr); err != nil {
		return "", dberr.Wrap(err, dberr.ErrCategorySystem, dberr.CodeIOFailure, "failed to unpack archive entry").
			WithDetail("entry %q", name).
			WithOperation("Restore").WithComponent("backup")
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func verify(manifest *Manifest, unpacked map[string]string, archive primitives.Filepath) error {
	for _, fd := range manifest.Files {
		digest, ok := unpacked[fd.Name]
		if !ok {
			return dberr.New(dberr.ErrCategorySystem, dberr.CodeChecksumMismatch, "manifest names a file the archive does not carry").
				WithDetail("file %q in %s", fd.Name, archive).
				WithOperation("Restore").WithComponent("backup")
		}
		if digest != fd.Digest {
			return dberr.New(dberr.ErrCategorySystem, dberr.CodeChecksumMismatch, "restored file disagrees with its manifest digest").
				WithDetail("file %q in %s", fd.Name, archive).
				WithHint("the archive is corrupted; do not use the restored files").
				WithOperation("Restore").WithComponent("backup")
		}
		delete(unpacked, fd.Name)
	}
	for name := range unpacked {
		return dberr.New(dberr.ErrCategorySystem, dberr.CodeInvalidState, "archive carries a file the manifest does not name").
			WithDetail("file %q in %s", name, archive).
			WithOperation("Restore").WithComponent("backup")
	}
	return nil
}

func wrapArchiveErr(err error, archive primitives.Filepath, msg, op string) error {
	return dberr.Wrap(err, dberr.ErrCategorySystem, dberr.CodeIOFailure, msg).
		WithDetail("archive %s", archive).
		WithOperation(op).WithComponent("backup")
}
