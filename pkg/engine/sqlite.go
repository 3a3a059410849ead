package engine

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	_ "modernc.org/sqlite"
)

// SQLitePersistence keeps one row per table snapshot in a SQLite file.
type SQLitePersistence struct {
	db *sql.DB
}

// NewSQLitePersistence opens (and creates if needed) the database at path.
func NewSQLitePersistence(path string) (*SQLitePersistence, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.E("engine: open sqlite", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS tables (
			id         TEXT PRIMARY KEY,
			snapshot   BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, errors.E("engine: init sqlite", err)
		}
	}
	return &SQLitePersistence{db: db}, nil
}

// SaveTable upserts a table snapshot.
func (p *SQLitePersistence) SaveTable(tableID string, snap *TableSnapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = p.db.Exec(
		`INSERT INTO tables (id, snapshot, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET snapshot = excluded.snapshot, updated_at = excluded.updated_at`,
		tableID, b, time.Now().UnixNano())
	return err
}

// DeleteTable removes a table's row.
func (p *SQLitePersistence) DeleteTable(tableID string) error {
	_, err := p.db.Exec(`DELETE FROM tables WHERE id = ?`, tableID)
	return err
}

// LoadAll returns every stored table. Rows that fail to decode are skipped.
func (p *SQLitePersistence) LoadAll() (map[string]*TableSnapshot, error) {
	rows, err := p.db.Query(`SELECT id, snapshot FROM tables`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	all := make(map[string]*TableSnapshot)
	for rows.Next() {
		var (
			id string
			b  []byte
		)
		if err := rows.Scan(&id, &b); err != nil {
			return nil, err
		}
		var snap TableSnapshot
		if err := json.Unmarshal(b, &snap); err != nil {
			log.Error.Printf("engine: could not unmarshal table %s: %v", id, err)
			continue
		}
		all[id] = &snap
	}
	return all, rows.Err()
}

// Close closes the database.
func (p *SQLitePersistence) Close() error {
	return p.db.Close()
}
