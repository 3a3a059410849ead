// Package engine implements the record store behind the table API. It
// only ever holds wire payloads: ciphertext for encrypted fields plus
// the derived equality and keyword hashes used to search them.
package engine

import (
	"github.com/celerix-dev/celerix-tablecrypt/pkg/schema"
	"github.com/grailbio/base/errors"
)

var (
	// ErrTableNotFound is returned when a requested table does not exist.
	ErrTableNotFound = errors.E(errors.NotExist, "table not found")
	// ErrRecordNotFound is returned when a requested record does not exist within a table.
	ErrRecordNotFound = errors.E(errors.NotExist, "record not found")
	// ErrTableExists is returned when creating a table whose ID is taken.
	ErrTableExists = errors.E(errors.Exists, "table already exists")
)

// DefaultPageSize is the page size used when a listing does not set one.
const DefaultPageSize = 100

// Store is the contract shared by the embedded MemStore and the remote
// SDK client. Migrate works against it.
type Store interface {
	// CreateTable registers a table. The mode decides who holds the key.
	CreateTable(s *schema.TableSchema, mode schema.EncryptionMode) (*schema.TableSchema, error)
	// GetTable returns a table's schema. Server-assisted tables carry their key.
	GetTable(tableID string) (*schema.TableSchema, error)
	// ListTables returns the IDs of all tables.
	ListTables() ([]string, error)
	// DeleteTable removes a table and all of its records.
	DeleteTable(tableID string) error

	// CreateRecord stores a new record built from a payload.
	CreateRecord(tableID string, p *schema.Payload) (*schema.StoredRecord, error)
	// UpdateRecord replaces a record's values and indexes.
	UpdateRecord(tableID, recordID string, p *schema.Payload) (*schema.StoredRecord, error)
	// UpdateField replaces one field's value and indexes. A payload
	// without the field clears it.
	UpdateField(tableID, recordID, field string, p *schema.Payload) (*schema.StoredRecord, error)
	// RestoreRecord writes a record verbatim, keeping its ID and timestamps.
	RestoreRecord(tableID string, rec *schema.StoredRecord) error
	// GetRecord returns one record.
	GetRecord(tableID, recordID string) (*schema.StoredRecord, error)
	// ListRecords returns records in insertion order.
	ListRecords(tableID string, offset, limit int) (*schema.RecordPage, error)
	// SearchRecords returns the records matching every condition of q.
	SearchRecords(tableID string, q schema.Query) ([]schema.StoredRecord, error)
	// DeleteRecord removes a record.
	DeleteRecord(tableID, recordID string) error
}
