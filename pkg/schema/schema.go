// Package schema defines the table and record structures shared by the
// Celerix table encryption core, its store and its SDK.
package schema

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// FieldOption is one choice of a select-like field.
type FieldOption struct {
	Value           string `json:"value"`
	Text            string `json:"text"`
	TextColor       string `json:"text_color,omitempty"`
	BackgroundColor string `json:"background_color,omitempty"`
}

// FieldDefinition describes one column of a table.
type FieldDefinition struct {
	Name                string        `json:"name"`
	Type                FieldType     `json:"type"`
	Options             []FieldOption `json:"options,omitempty"`
	ReferenceTableID    string        `json:"referenceTableId,omitempty"`
	ReferenceLabelField string        `json:"referenceLabelField,omitempty"`
}

// EncryptionMode selects where a table's key lives.
type EncryptionMode string

const (
	// ModeNone stores records in plaintext.
	ModeNone EncryptionMode = "none"
	// ModeServer has the store generate a key and hand it out with the schema.
	ModeServer EncryptionMode = "server"
	// ModeE2EE has the client hold the only copy of the key.
	ModeE2EE EncryptionMode = "e2ee"
)

// TableSchema is the ordered field list of a table plus its encryption settings.
// Field order is display order and carries no meaning for encryption.
type TableSchema struct {
	ID                  string            `json:"id"`
	Name                string            `json:"name,omitempty"`
	Fields              []FieldDefinition `json:"fields"`
	E2EEEncryption      bool              `json:"e2eeEncryption"`
	EncryptionKey       string            `json:"encryptionKey,omitempty"`
	HashedKeywordFields []string          `json:"hashedKeywordFields,omitempty"`
}

// Encrypted reports whether records of the table are encrypted.
func (s *TableSchema) Encrypted() bool {
	return s.E2EEEncryption || s.EncryptionKey != ""
}

// Mode returns the encryption mode the schema is configured for.
func (s *TableSchema) Mode() EncryptionMode {
	switch {
	case s.E2EEEncryption:
		return ModeE2EE
	case s.EncryptionKey != "":
		return ModeServer
	}
	return ModeNone
}

// Field returns the definition of the named field.
func (s *TableSchema) Field(name string) (FieldDefinition, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDefinition{}, false
}

// IsKeywordField reports whether name is listed in HashedKeywordFields.
func (s *TableSchema) IsKeywordField(name string) bool {
	for _, n := range s.HashedKeywordFields {
		if n == name {
			return true
		}
	}
	return false
}

// KeywordFieldSet returns HashedKeywordFields as a set.
func (s *TableSchema) KeywordFieldSet() map[string]bool {
	set := make(map[string]bool, len(s.HashedKeywordFields))
	for _, n := range s.HashedKeywordFields {
		set[n] = true
	}
	return set
}

// Redacted returns a copy of the schema without key material.
func (s *TableSchema) Redacted() *TableSchema {
	c := s.Clone()
	c.EncryptionKey = ""
	return c
}

// Clone returns a deep copy of the schema.
func (s *TableSchema) Clone() *TableSchema {
	c := *s
	c.Fields = make([]FieldDefinition, len(s.Fields))
	for i, f := range s.Fields {
		if f.Options != nil {
			f.Options = append([]FieldOption(nil), f.Options...)
		}
		c.Fields[i] = f
	}
	if s.HashedKeywordFields != nil {
		c.HashedKeywordFields = append([]string(nil), s.HashedKeywordFields...)
	}
	return &c
}

// Validate checks the structural invariants of the schema: unique
// non-empty field names, registered types, keyword fields that name
// keyword-eligible fields, and at most one key source.
func (s *TableSchema) Validate() error {
	if s.E2EEEncryption && s.EncryptionKey != "" {
		return errors.E(errors.Invalid, "schema: e2eeEncryption and encryptionKey are mutually exclusive")
	}
	seen := make(map[string]bool, len(s.Fields))
	for i, f := range s.Fields {
		if f.Name == "" {
			return errors.E(errors.Invalid, fmt.Sprintf("schema: field %d has no name", i))
		}
		if seen[f.Name] {
			return errors.E(errors.Invalid, fmt.Sprintf("schema: duplicate field %q", f.Name))
		}
		seen[f.Name] = true
		if !f.Type.Valid() {
			return errors.E(errors.Invalid, fmt.Sprintf("schema: field %q has unknown type %q", f.Name, f.Type))
		}
	}
	for _, name := range s.HashedKeywordFields {
		f, ok := s.Field(name)
		if !ok {
			return errors.E(errors.Invalid, fmt.Sprintf("schema: keyword field %q is not defined", name))
		}
		if !f.Type.KeywordEligible() {
			return errors.E(errors.Invalid, fmt.Sprintf("schema: field %q of type %s cannot hold keyword hashes", name, f.Type))
		}
	}
	return nil
}
