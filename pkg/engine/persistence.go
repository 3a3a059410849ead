package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/celerix-dev/celerix-tablecrypt/pkg/schema"
	"github.com/grailbio/base/log"
)

// TableSnapshot is the persisted state of one table.
type TableSnapshot struct {
	Schema  *schema.TableSchema   `json:"schema"`
	Records []schema.StoredRecord `json:"records"`

	version uint64
	deleted bool
}

// Persister stores table snapshots durably.
type Persister interface {
	SaveTable(tableID string, snap *TableSnapshot) error
	DeleteTable(tableID string) error
	LoadAll() (map[string]*TableSnapshot, error)
}

// Persistence handles the disk I/O for the MemStore, one JSON file per table.
type Persistence struct {
	DataDir string
	mu      sync.Mutex // Protects concurrent writes to the filesystem
}

// NewPersistence initializes a persistence handler.
func NewPersistence(dir string) (*Persistence, error) {
	// Ensure the data directory exists
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &Persistence{DataDir: dir}, nil
}

// SaveTable writes a single table's data to a JSON file atomically.
func (p *Persistence) SaveTable(tableID string, snap *TableSnapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	filePath := filepath.Join(p.DataDir, fmt.Sprintf("%s.json", tableID))
	tempPath := filePath + ".tmp"

	bytes, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(tempPath, bytes, 0600); err != nil {
		return err
	}
	// Either the old file or the new one survives a crash, never a torn one.
	return os.Rename(tempPath, filePath)
}

// DeleteTable removes a table's file. A missing file is not an error.
func (p *Persistence) DeleteTable(tableID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := os.Remove(filepath.Join(p.DataDir, tableID+".json"))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// LoadAll returns all table data found in the data directory.
func (p *Persistence) LoadAll() (map[string]*TableSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	all := make(map[string]*TableSnapshot)

	files, err := os.ReadDir(p.DataDir)
	if err != nil {
		return nil, err
	}
	for _, file := range files {
		if filepath.Ext(file.Name()) != ".json" {
			continue
		}
		tableID := strings.TrimSuffix(file.Name(), ".json")

		content, err := os.ReadFile(filepath.Join(p.DataDir, file.Name()))
		if err != nil {
			log.Error.Printf("engine: could not read table file %s: %v", file.Name(), err)
			continue // Skip corrupted/unreadable files
		}
		var snap TableSnapshot
		if err := json.Unmarshal(content, &snap); err != nil {
			log.Error.Printf("engine: could not unmarshal table data from %s: %v", file.Name(), err)
			continue
		}
		all[tableID] = &snap
	}
	return all, nil
}

// OpenPersister opens the persistence backend named by storage: "sqlite"
// keeps every table in dataDir/tables.db, anything else one JSON file
// per table.
func OpenPersister(dataDir, storage string) (Persister, error) {
	if storage == "sqlite" {
		return NewSQLitePersistence(filepath.Join(dataDir, "tables.db"))
	}
	return NewPersistence(dataDir)
}
