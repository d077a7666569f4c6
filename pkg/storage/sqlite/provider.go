// Package sqlite implements page.Provider on top of a SQLite database,
// using the pure Go modernc.org/sqlite driver (no CGO).
//
// Pages are rows in a single table keyed by (table_id, page_no). This
// backend trades the heap file's raw-offset layout for transactional
// storage in one portable file, which is convenient for tooling and for
// provider-conformance testing.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // pure Go SQLite driver (no CGO)

	"hearth/pkg/dberr"
	"hearth/pkg/primitives"
	"hearth/pkg/storage/page"
)

const schema = `
CREATE TABLE IF NOT EXISTS pages (
	table_id INTEGER NOT NULL,
	page_no  INTEGER NOT NULL,
	data     BLOB    NOT NULL,
	PRIMARY KEY (table_id, page_no)
)`

// Provider stores fixed-size pages as BLOB rows in a SQLite database.
type Provider struct {
	db  *sql.DB
	dsn string
}

// Open opens (creating if necessary) the database at dsn and ensures the
// pages table exists. The dsn is a file path or a SQLite URI.
func Open(dsn string) (*Provider, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", dsn, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create pages table: %w", err)
	}

	return &Provider{db: db, dsn: dsn}, nil
}

// ReadPage returns the stored content for id, or dberr.CodeNotFound when no
// row exists yet.
func (p *Provider) ReadPage(id page.ID) ([]byte, error) {
	var data []byte
	err := p.db.QueryRow(
		`SELECT data FROM pages WHERE table_id = ? AND page_no = ?`,
		int64(id.Table), int64(id.Number),
	).Scan(&data)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, dberr.New(dberr.ErrCategoryData, dberr.CodeNotFound, "page not in database").
			WithDetail("%s (%s)", id, p.dsn)
	}
	if err != nil {
		return nil, dberr.Wrap(err, dberr.ErrCategorySystem, dberr.CodeIOFailure, "page select failed").
			WithDetail("%s (%s)", id, p.dsn)
	}

	if len(data) != page.PageSize {
		return nil, dberr.New(dberr.ErrCategorySystem, dberr.CodeChecksumMismatch, "stored page has wrong size").
			WithDetail("%s: %d bytes", id, len(data)).
			WithComponent("SQLiteProvider")
	}
	return data, nil
}

// WritePage upserts the content for id.
func (p *Provider) WritePage(id page.ID, data []byte) error {
	if len(data) != page.PageSize {
		return fmt.Errorf("invalid page data size: expected %d, got %d", page.PageSize, len(data))
	}

	_, err := p.db.Exec(
		`INSERT INTO pages (table_id, page_no, data) VALUES (?, ?, ?)
		 ON CONFLICT (table_id, page_no) DO UPDATE SET data = excluded.data`,
		int64(id.Table), int64(id.Number), data,
	)
	if err != nil {
		return dberr.Wrap(err, dberr.ErrCategorySystem, dberr.CodeIOFailure, "page upsert failed").
			WithDetail("%s (%s)", id, p.dsn)
	}
	return nil
}

// NumPages reports how many pages are stored for the given table.
func (p *Provider) NumPages(table primitives.TableID) (primitives.PageNumber, error) {
	var n int64
	err := p.db.QueryRow(
		`SELECT COUNT(*) FROM pages WHERE table_id = ?`, int64(table),
	).Scan(&n)
	if err != nil {
		return 0, dberr.Wrap(err, dberr.ErrCategorySystem, dberr.CodeIOFailure, "page count failed").
			WithDetail("table %d (%s)", table, p.dsn)
	}
	return primitives.PageNumber(n), nil
}

// Close closes the underlying database handle.
func (p *Provider) Close() error {
	return p.db.Close()
}
