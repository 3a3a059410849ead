package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/celerix-dev/celerix-tablecrypt/internal/vault"
	"github.com/celerix-dev/celerix-tablecrypt/pkg/engine"
	"github.com/celerix-dev/celerix-tablecrypt/pkg/fieldcrypt"
	"github.com/celerix-dev/celerix-tablecrypt/pkg/schema"
	"github.com/grailbio/base/errors"
)

// Row is a record in plaintext, as far as it could be decrypted. Fields
// listed in Errors still hold their ciphertext.
type Row struct {
	ID        string                   `json:"id"`
	Record    schema.Record            `json:"record"`
	CreatedAt time.Time                `json:"created_at"`
	UpdatedAt time.Time                `json:"updated_at"`
	Errors    []*fieldcrypt.FieldError `json:"-"`
}

// Rows is a decrypted listing.
type Rows struct {
	Rows   []Row
	Total  int
	Status fieldcrypt.KeyStatus
}

// TableScope pins a store, a table and the user's key. It builds
// payloads on the way in and decrypts records on the way out, so callers
// only ever see plaintext.
type TableScope struct {
	store   RecordStore
	schema  *schema.TableSchema
	userKey string
	dec     *fieldcrypt.Decryptor

	// StrictFields rejects records carrying fields the schema does not
	// define instead of passing them through unencrypted.
	StrictFields bool
	// UseCache enables the decryptor's cache on reads.
	UseCache bool
}

// Table loads the schema of tableID and returns a scope for it. userKey
// is only consulted for end-to-end encrypted tables. dec may be nil.
func Table(store RecordStore, tableID, userKey string, dec *fieldcrypt.Decryptor) (*TableScope, error) {
	s, err := store.GetTable(tableID)
	if err != nil {
		return nil, err
	}
	if dec == nil {
		dec = fieldcrypt.NewDecryptor(nil)
	}
	return &TableScope{store: store, schema: s, userKey: userKey, dec: dec, UseCache: dec.Cache != nil}, nil
}

// Schema returns a copy of the table's schema without key material.
func (ts *TableScope) Schema() *schema.TableSchema {
	return ts.schema.Redacted()
}

func (ts *TableScope) key() string {
	return ResolveKey(ts.schema, ts.userKey)
}

func (ts *TableScope) checkFields(rec schema.Record) error {
	if !ts.StrictFields {
		return nil
	}
	if unknown := fieldcrypt.UnknownFields(rec, ts.schema); len(unknown) > 0 {
		return errors.E(errors.Invalid, fmt.Sprintf("sdk: table %s does not define %v", ts.schema.ID, unknown))
	}
	return nil
}

// Create stores rec as a new record.
func (ts *TableScope) Create(rec schema.Record) (*schema.StoredRecord, error) {
	if err := ts.checkFields(rec); err != nil {
		return nil, err
	}
	p, err := BuildCreatePayload(rec, ts.schema, ts.userKey)
	if err != nil {
		return nil, err
	}
	return ts.store.CreateRecord(ts.schema.ID, p)
}

// Update replaces the record recordID with rec.
func (ts *TableScope) Update(recordID string, rec schema.Record) (*schema.StoredRecord, error) {
	if err := ts.checkFields(rec); err != nil {
		return nil, err
	}
	p, err := BuildUpdatePayload(rec, ts.schema, ts.userKey)
	if err != nil {
		return nil, err
	}
	return ts.store.UpdateRecord(ts.schema.ID, recordID, p)
}

// UpdateField sets a single field. An empty value clears it together
// with its search index.
func (ts *TableScope) UpdateField(recordID, field string, value any) (*schema.StoredRecord, error) {
	p, err := BuildFieldUpdatePayload(field, value, ts.schema, ts.userKey)
	if err != nil {
		return nil, err
	}
	return ts.store.UpdateField(ts.schema.ID, recordID, field, p)
}

// Delete removes a record.
func (ts *TableScope) Delete(recordID string) error {
	return ts.store.DeleteRecord(ts.schema.ID, recordID)
}

// Get fetches and decrypts one record. A missing or invalid key returns
// the record with its ciphertext together with the key error.
func (ts *TableScope) Get(recordID string) (*Row, error) {
	r, err := ts.store.GetRecord(ts.schema.ID, recordID)
	if err != nil {
		return nil, err
	}
	row := &Row{ID: r.ID, Record: r.Record, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}
	if !ts.schema.Encrypted() {
		return row, nil
	}
	res, err := ts.dec.DecryptRecord(r.Record, ts.schema.Fields, ts.key(), ts.options())
	row.Record, row.Errors = res.Record, res.Errors
	return row, err
}

// List fetches and decrypts one page of records in insertion order.
func (ts *TableScope) List(ctx context.Context, offset, limit int) (*Rows, error) {
	page, err := ts.store.ListRecords(ts.schema.ID, offset, limit)
	if err != nil {
		return nil, err
	}
	return ts.decrypt(ctx, page.Records, page.Total)
}

// SearchKeyword returns the records whose keyword field contains every
// token of text.
func (ts *TableScope) SearchKeyword(ctx context.Context, field, text string) (*Rows, error) {
	if !ts.schema.IsKeywordField(field) {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("sdk: %q is not a keyword field of table %s", field, ts.schema.ID))
	}
	tokens := vault.Tokenize(text)
	if len(tokens) == 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("sdk: %q has no searchable words", text))
	}
	if !ts.schema.Encrypted() {
		def, _ := ts.schema.Field(field)
		return ts.scan(ctx, func(r schema.Record) bool {
			s, _ := r[field].(string)
			return containsAll(vault.Tokenize(fieldcrypt.KeywordText(def.Type, s)), tokens)
		})
	}
	key, err := vault.ParseKey(ts.key())
	if err != nil {
		return nil, err
	}
	hashes := vault.HashKeyword(text, key)
	recs, err := ts.store.SearchRecords(ts.schema.ID, schema.Query{Keywords: map[string][]string{field: hashes}})
	if err != nil {
		return nil, err
	}
	return ts.decrypt(ctx, recs, len(recs))
}

// FilterEquals returns the records whose field equals value exactly.
func (ts *TableScope) FilterEquals(ctx context.Context, field string, value any) (*Rows, error) {
	def, ok := ts.schema.Field(field)
	if !ok {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("sdk: table %s has no field %q", ts.schema.ID, field))
	}
	if !ts.schema.Encrypted() || !def.Type.Encrypted() {
		want, err := json.Marshal(value)
		if err != nil {
			return nil, errors.E(errors.Invalid, "sdk: filter value", err)
		}
		return ts.scan(ctx, func(r schema.Record) bool {
			got, err := json.Marshal(r[field])
			return err == nil && string(got) == string(want)
		})
	}
	key, err := vault.ParseKey(ts.key())
	if err != nil {
		return nil, err
	}
	h, ok, err := fieldcrypt.EqualityHash(def.Type, value, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.E(errors.Invalid, "sdk: cannot filter on an empty value")
	}
	recs, err := ts.store.SearchRecords(ts.schema.ID, schema.Query{Equals: map[string]string{field: h}})
	if err != nil {
		return nil, err
	}
	return ts.decrypt(ctx, recs, len(recs))
}

func (ts *TableScope) options() fieldcrypt.Options {
	return fieldcrypt.Options{Scope: ts.schema.ID, UseCache: ts.UseCache}
}

// decrypt turns stored records into rows. On a key error the rows hold
// ciphertext and the error is returned with them.
func (ts *TableScope) decrypt(ctx context.Context, recs []schema.StoredRecord, total int) (*Rows, error) {
	out := &Rows{Rows: make([]Row, len(recs)), Total: total}
	for i, r := range recs {
		out.Rows[i] = Row{ID: r.ID, Record: r.Record, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}
	}
	if !ts.schema.Encrypted() || len(recs) == 0 {
		return out, nil
	}
	plain := make([]schema.Record, len(recs))
	for i, r := range recs {
		plain[i] = r.Record
	}
	res, err := ts.dec.DecryptRecords(ctx, plain, ts.schema.Fields, ts.key(), ts.options())
	if res == nil {
		return nil, err
	}
	out.Status = res.Status
	for i := range out.Rows {
		out.Rows[i].Record = res.Records[i]
		out.Rows[i].Errors = res.Errors[i]
	}
	return out, err
}

// scan walks every page of the table and keeps the stored records for
// which keep returns true. keep sees the record as stored, so it may
// only look at fields that are not encrypted.
func (ts *TableScope) scan(ctx context.Context, keep func(schema.Record) bool) (*Rows, error) {
	var matched []schema.StoredRecord
	for offset := 0; ; {
		if err := ctx.Err(); err != nil {
			return nil, errors.E(errors.Canceled, "sdk: scan abandoned", err)
		}
		page, err := ts.store.ListRecords(ts.schema.ID, offset, engine.DefaultPageSize)
		if err != nil {
			return nil, err
		}
		for _, r := range page.Records {
			if keep(r.Record) {
				matched = append(matched, r)
			}
		}
		offset += len(page.Records)
		if len(page.Records) == 0 || offset >= page.Total {
			break
		}
	}
	return ts.decrypt(ctx, matched, len(matched))
}

func containsAll(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, h := range have {
		set[h] = true
	}
	for _, w := range want {
		if !set[w] {
			return false
		}
	}
	return true
}

// --- Generics Support ---

// Decode converts a row's record into T through its JSON form.
func Decode[T any](r *Row) (T, error) {
	var target T
	b, err := json.Marshal(r.Record)
	if err != nil {
		return target, err
	}
	err = json.Unmarshal(b, &target)
	return target, err
}
