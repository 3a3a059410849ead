package fieldcrypt

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/celerix-dev/celerix-tablecrypt/internal/vault"
	"github.com/celerix-dev/celerix-tablecrypt/pkg/schema"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

var markup = regexp.MustCompile(`<[^>]*>`)

// BuildEncryptedPayload encrypts every schema field present in rec and
// derives its equality hash and, for keyword fields, its keyword hashes.
// Empty values are left out. Record keys that the schema does not define
// are copied through unencrypted and logged; use UnknownFields to reject
// such records instead.
func BuildEncryptedPayload(rec schema.Record, s *schema.TableSchema, key *vault.Key) (*schema.Payload, error) {
	if key == nil {
		return nil, vault.ErrMissingKey
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	keywords := s.KeywordFieldSet()
	p := schema.NewPayload()
	for _, f := range s.Fields {
		v, ok := rec[f.Name]
		if !ok {
			continue
		}
		if err := addField(p, f, v, key, keywords[f.Name]); err != nil {
			return nil, err
		}
	}
	if unknown := UnknownFields(rec, s); len(unknown) > 0 {
		log.Printf("fieldcrypt: table %s: passing through fields not in schema: %v", s.ID, unknown)
		for _, name := range unknown {
			p.Record[name] = rec[name]
		}
	}
	return p, nil
}

// BuildPlaintextPayload is the counterpart for unencrypted tables: the
// record is copied as is and no hashes are produced.
func BuildPlaintextPayload(rec schema.Record) *schema.Payload {
	p := schema.NewPayload()
	for k, v := range rec {
		p.Record[k] = v
	}
	return p
}

// BuildEncryptedUpdatePayload builds the payload for a change to a single
// field. When value is empty the payload carries no entry at all for the
// field, so the update clears both the value and its search index.
func BuildEncryptedUpdatePayload(fieldName string, value any, def schema.FieldDefinition, key *vault.Key, hashedKeywordFields []string) (*schema.Payload, error) {
	if key == nil {
		return nil, vault.ErrMissingKey
	}
	if def.Name == "" {
		def.Name = fieldName
	}
	if def.Name != fieldName {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("fieldcrypt: field definition %q does not match %q", def.Name, fieldName))
	}
	if !def.Type.Valid() {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("fieldcrypt: field %q has unknown type %q", fieldName, def.Type))
	}
	keyword := false
	for _, n := range hashedKeywordFields {
		if n == fieldName {
			keyword = true
			break
		}
	}
	p := schema.NewPayload()
	if err := addField(p, def, value, key, keyword); err != nil {
		return nil, err
	}
	return p, nil
}

// UnknownFields returns the keys of rec that s does not define, sorted.
func UnknownFields(rec schema.Record, s *schema.TableSchema) []string {
	var unknown []string
	for name := range rec {
		if _, ok := s.Field(name); !ok {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	return unknown
}

// KeywordText returns the text of a field value that keyword search
// indexes. Rich text is indexed without its markup.
func KeywordText(ft schema.FieldType, text string) string {
	if ft == schema.RichText {
		return markup.ReplaceAllString(text, " ")
	}
	return text
}

// EqualityHash returns the record hash stored for value v of a field of
// type ft. It reports false for empty values and for reference types,
// which are never hashed.
func EqualityHash(ft schema.FieldType, v any, key *vault.Key) (string, bool, error) {
	if !ft.Valid() {
		return "", false, errors.E(errors.Invalid, fmt.Sprintf("fieldcrypt: unknown field type %q", ft))
	}
	if !ft.Encrypted() || schema.IsEmpty(v) {
		return "", false, nil
	}
	if key == nil {
		return "", false, vault.ErrMissingKey
	}
	if ft.Shape() == schema.ShapeArray {
		elems, err := stringList(v)
		if err != nil {
			return "", false, err
		}
		return vault.HashArray(elems, key), true, nil
	}
	str, err := Stringify(v)
	if err != nil || str == "" {
		return "", false, err
	}
	return vault.HMAC(str, key), true, nil
}

// addField writes the encrypted value and hashes of one field into p.
func addField(p *schema.Payload, f schema.FieldDefinition, v any, key *vault.Key, keyword bool) error {
	wire, ok, err := EncryptField(f.Type, v, key)
	if err != nil {
		return errors.E(fmt.Sprintf("fieldcrypt: field %q", f.Name), err)
	}
	if !ok {
		return nil
	}
	p.Record[f.Name] = wire
	if !f.Type.Encrypted() {
		return nil
	}
	if h, ok, err := EqualityHash(f.Type, v, key); err != nil {
		return err
	} else if ok {
		p.RecordHashes[f.Name] = h
	}
	if !keyword || !f.Type.KeywordEligible() {
		return nil
	}
	text, isText := v.(string)
	if !isText || text == "" {
		return nil
	}
	if hashes := vault.HashKeyword(KeywordText(f.Type, text), key); len(hashes) > 0 {
		p.HashedKeywords[f.Name] = hashes
	}
	return nil
}
