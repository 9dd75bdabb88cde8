// Package journal implements the periodic entity-snapshot journal: a
// SQLite index of snapshot files on disk, written on a schedule and pruned
// to the most recent N.
package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// index wraps the SQLite database that tracks which snapshot files exist,
// in a WAL-mode, single-writer configuration.
type index struct {
	db *sql.DB
}

func openIndex(dir string) (*index, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}

	dbPath := filepath.Join(dir, "journal.db")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal index: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping journal index: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	idx := &index{db: db}
	if err := idx.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *index) migrate() error {
	_, err := idx.db.Exec(`CREATE TABLE IF NOT EXISTS snapshots (
		unix_ts  INTEGER PRIMARY KEY,
		filename TEXT NOT NULL,
		bytes    INTEGER NOT NULL,
		corrupt  BOOLEAN NOT NULL DEFAULT 0
	)`)
	return err
}

func (idx *index) record(unixTS int64, filename string, size int64) error {
	_, err := idx.db.Exec(
		`INSERT INTO snapshots (unix_ts, filename, bytes) VALUES (?, ?, ?)
		 ON CONFLICT(unix_ts) DO UPDATE SET filename=excluded.filename, bytes=excluded.bytes`,
		unixTS, filename, size,
	)
	return err
}

func (idx *index) markCorrupt(unixTS int64) error {
	_, err := idx.db.Exec(`UPDATE snapshots SET corrupt = 1 WHERE unix_ts = ?`, unixTS)
	return err
}

type snapshotRow struct {
	UnixTS   int64
	Filename string
	Bytes    int64
	Corrupt  bool
}

func (idx *index) list() ([]snapshotRow, error) {
	rows, err := idx.db.Query(`SELECT unix_ts, filename, bytes, corrupt FROM snapshots ORDER BY unix_ts DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []snapshotRow
	for rows.Next() {
		var r snapshotRow
		if err := rows.Scan(&r.UnixTS, &r.Filename, &r.Bytes, &r.Corrupt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (idx *index) deleteOlderThan(cutoffTS int64) ([]string, error) {
	rows, err := idx.db.Query(`SELECT filename FROM snapshots WHERE unix_ts < ?`, cutoffTS)
	if err != nil {
		return nil, err
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, err
		}
		names = append(names, name)
	}
	rows.Close()

	if _, err := idx.db.Exec(`DELETE FROM snapshots WHERE unix_ts < ?`, cutoffTS); err != nil {
		return nil, err
	}
	return names, nil
}

func (idx *index) close() error {
	return idx.db.Close()
}
