package sdk

import (
	"fmt"

	"github.com/celerix-dev/celerix-tablecrypt/internal/vault"
	"github.com/celerix-dev/celerix-tablecrypt/pkg/fieldcrypt"
	"github.com/celerix-dev/celerix-tablecrypt/pkg/schema"
	"github.com/grailbio/base/errors"
)

// ResolveKey returns the key that protects records of s: the user's key
// for end-to-end encrypted tables, the schema's own key otherwise.
func ResolveKey(s *schema.TableSchema, userKey string) string {
	if s.E2EEEncryption {
		return userKey
	}
	return s.EncryptionKey
}

// BuildEncryptedCreatePayload encrypts rec for a new record of s.
func BuildEncryptedCreatePayload(rec schema.Record, s *schema.TableSchema, rawKey string) (*schema.Payload, error) {
	key, err := vault.ParseKey(rawKey)
	if err != nil {
		return nil, err
	}
	return fieldcrypt.BuildEncryptedPayload(rec, s, key)
}

// BuildEncryptedUpdatePayload encrypts rec as the full replacement of an
// existing record. Hashes are regenerated from the new values.
func BuildEncryptedUpdatePayload(rec schema.Record, s *schema.TableSchema, rawKey string) (*schema.Payload, error) {
	return BuildEncryptedCreatePayload(rec, s, rawKey)
}

// BuildEncryptedFieldUpdatePayload encrypts a change to the single field
// name. An empty value clears the field.
func BuildEncryptedFieldUpdatePayload(name string, value any, s *schema.TableSchema, rawKey string) (*schema.Payload, error) {
	def, ok := s.Field(name)
	if !ok {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("sdk: table %s has no field %q", s.ID, name))
	}
	key, err := vault.ParseKey(rawKey)
	if err != nil {
		return nil, err
	}
	return fieldcrypt.BuildEncryptedUpdatePayload(name, value, def, key, s.HashedKeywordFields)
}

// BuildPlaintextCreatePayload wraps rec for an unencrypted table.
func BuildPlaintextCreatePayload(rec schema.Record) *schema.Payload {
	return fieldcrypt.BuildPlaintextPayload(rec)
}

// BuildPlaintextUpdatePayload wraps rec as the replacement of a record of
// an unencrypted table.
func BuildPlaintextUpdatePayload(rec schema.Record) *schema.Payload {
	return fieldcrypt.BuildPlaintextPayload(rec)
}

// BuildPlaintextFieldUpdatePayload wraps a single field change. An empty
// value clears the field.
func BuildPlaintextFieldUpdatePayload(name string, value any) *schema.Payload {
	p := schema.NewPayload()
	if !schema.IsEmpty(value) {
		p.Record[name] = value
	}
	return p
}

// BuildCreatePayload picks the encrypted or plaintext builder by the
// table's settings.
func BuildCreatePayload(rec schema.Record, s *schema.TableSchema, userKey string) (*schema.Payload, error) {
	if s.Encrypted() {
		return BuildEncryptedCreatePayload(rec, s, ResolveKey(s, userKey))
	}
	return BuildPlaintextCreatePayload(rec), nil
}

// BuildUpdatePayload is the update counterpart of BuildCreatePayload.
func BuildUpdatePayload(rec schema.Record, s *schema.TableSchema, userKey string) (*schema.Payload, error) {
	if s.Encrypted() {
		return BuildEncryptedUpdatePayload(rec, s, ResolveKey(s, userKey))
	}
	return BuildPlaintextUpdatePayload(rec), nil
}

// BuildFieldUpdatePayload is the single-field counterpart of BuildUpdatePayload.
func BuildFieldUpdatePayload(name string, value any, s *schema.TableSchema, userKey string) (*schema.Payload, error) {
	if s.Encrypted() {
		return BuildEncryptedFieldUpdatePayload(name, value, s, ResolveKey(s, userKey))
	}
	if _, ok := s.Field(name); !ok {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("sdk: table %s has no field %q", s.ID, name))
	}
	return BuildPlaintextFieldUpdatePayload(name, value), nil
}
