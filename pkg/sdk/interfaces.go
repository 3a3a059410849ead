package sdk

import (
	"github.com/celerix-dev/celerix-tablecrypt/pkg/engine"
	"github.com/celerix-dev/celerix-tablecrypt/pkg/schema"
)

// --- Functional Interfaces (Interface Segregation) ---

// TableReader returns table schemas.
type TableReader interface {
	GetTable(tableID string) (*schema.TableSchema, error)
	ListTables() ([]string, error)
}

// TableWriter creates and drops tables.
type TableWriter interface {
	CreateTable(s *schema.TableSchema, mode schema.EncryptionMode) (*schema.TableSchema, error)
	DeleteTable(tableID string) error
}

// RecordReader reads stored (wire form) records.
type RecordReader interface {
	GetRecord(tableID, recordID string) (*schema.StoredRecord, error)
	ListRecords(tableID string, offset, limit int) (*schema.RecordPage, error)
	SearchRecords(tableID string, q schema.Query) ([]schema.StoredRecord, error)
}

// RecordWriter writes payloads built by the payload builders.
type RecordWriter interface {
	CreateRecord(tableID string, p *schema.Payload) (*schema.StoredRecord, error)
	UpdateRecord(tableID, recordID string, p *schema.Payload) (*schema.StoredRecord, error)
	UpdateField(tableID, recordID, field string, p *schema.Payload) (*schema.StoredRecord, error)
	DeleteRecord(tableID, recordID string) error
}

// --- Composite Interfaces ---

// RecordStore is what a TableScope needs from a backend.
type RecordStore interface {
	TableReader
	RecordReader
	RecordWriter
}

// TableStore is the complete store surface. Both the embedded
// engine.MemStore and the remote Client implement it.
type TableStore interface {
	engine.Store
}

var (
	_ TableStore = (*engine.MemStore)(nil)
	_ TableStore = (*Client)(nil)
)
