package index

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/varden/mindloom/internal/apperr"
)

// MapRow represents a row in the maps table.
type MapRow struct {
	Path      string
	Title     string
	Checksum  string
	NodeCount int
	UpdatedAt time.Time
}

// SearchResult represents one search hit.
type SearchResult struct {
	Path    string
	Title   string
	Snippet string
}

// UpsertMap inserts or replaces a map and its FTS entry within a
// transaction.
func (db *DB) UpsertMap(m MapRow, body string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	_, err = tx.Exec(`
		INSERT INTO maps (path, title, checksum, node_count, body, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			title      = excluded.title,
			checksum   = excluded.checksum,
			node_count = excluded.node_count,
			body       = excluded.body,
			updated_at = excluded.updated_at
	`, m.Path, m.Title, m.Checksum, m.NodeCount, body, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert map: %w", err)
	}

	// FTS upsert (no-op when the FTS5 tag is absent).
	if err := ftsUpsert(tx, m.Path, m.Title, body); err != nil {
		return err
	}

	return tx.Commit()
}

// DeleteMap removes a map and its FTS entry.
func (db *DB) DeleteMap(path string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsDelete(tx, path)
	_, _ = tx.Exec(`DELETE FROM maps WHERE path = ?`, path)

	return tx.Commit()
}

// GetChecksum returns the stored checksum for a map, or empty string if
// not found.
func (db *DB) GetChecksum(path string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM maps WHERE path = ?`, path).Scan(&cs)
	if err != nil {
		return "", nil // not found is fine
	}
	return cs, nil
}

// GetMap returns one indexed map row.
func (db *DB) GetMap(path string) (*MapRow, error) {
	var m MapRow
	err := db.conn.QueryRow(`
		SELECT path, title, checksum, node_count, updated_at
		FROM maps WHERE path = ?
	`, path).Scan(&m.Path, &m.Title, &m.Checksum, &m.NodeCount, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("index: get map: %w", err)
	}
	return &m, nil
}

// ListMaps returns paginated map rows and the total count.
func (db *DB) ListMaps(limit, offset int, sort string) ([]MapRow, int, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	order := "updated_at DESC"
	switch sort {
	case "title":
		order = "title COLLATE NOCASE ASC"
	case "path":
		order = "path ASC"
	}

	var total int
	if err := db.conn.QueryRow(`SELECT count(*) FROM maps`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: count maps: %w", err)
	}

	rows, err := db.conn.Query(`
		SELECT path, title, checksum, node_count, updated_at
		FROM maps ORDER BY `+order+` LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("index: list maps: %w", err)
	}
	defer rows.Close()

	var out []MapRow
	for rows.Next() {
		var m MapRow
		if err := rows.Scan(&m.Path, &m.Title, &m.Checksum, &m.NodeCount, &m.UpdatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, m)
	}
	return out, total, rows.Err()
}

// AllChecksums returns path -> checksum for every indexed map.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM maps`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}
