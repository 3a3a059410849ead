package fieldcrypt

import (
	"context"
	"runtime"

	"github.com/celerix-dev/celerix-tablecrypt/internal/vault"
	"github.com/celerix-dev/celerix-tablecrypt/pkg/schema"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/sync/multierror"
	"github.com/grailbio/base/traverse"
)

// DefaultBatchSize is the number of records decrypted per chunk.
const DefaultBatchSize = 50

// KeyStatus reports whether a batch could be decrypted at all.
type KeyStatus int

const (
	StatusOK KeyStatus = iota
	// StatusMissingKey means no key was supplied; nothing was decrypted.
	StatusMissingKey
	// StatusInvalidKey means the key was malformed; nothing was decrypted.
	StatusInvalidKey
)

func (s KeyStatus) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusMissingKey:
		return "key missing"
	case StatusInvalidKey:
		return "key invalid"
	}
	return "unknown"
}

// Options tune a single decryption call.
type Options struct {
	// Scope separates cache entries of different tables. It is usually
	// the table ID.
	Scope string
	// UseCache enables the decryptor's cache for this call.
	UseCache bool
	// BatchSize overrides the decryptor's chunk size.
	BatchSize int
}

// RecordResult is a decrypted record together with the fields that
// could not be decrypted. Failed fields keep their ciphertext.
type RecordResult struct {
	Record schema.Record
	Errors []*FieldError
}

// Err returns the field errors as a single error, or nil.
func (r *RecordResult) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	b := multierror.NewBuilder(len(r.Errors))
	for _, e := range r.Errors {
		b.Add(e)
	}
	return b.Err()
}

// BatchResult holds the records of a DecryptRecords call in input order.
type BatchResult struct {
	Records []schema.Record
	// Errors maps the index of each partially decrypted record to its
	// failed fields.
	Errors map[int][]*FieldError
	Status KeyStatus
}

// Partial reports whether any record was only partially decrypted.
func (b *BatchResult) Partial() bool {
	return len(b.Errors) > 0
}

// A Decryptor decrypts record sets. Its Cache is optional and may be
// shared between decryptors. A Decryptor is safe for concurrent use.
type Decryptor struct {
	Cache *Cache
	// BatchSize is the number of records per chunk; zero selects
	// DefaultBatchSize.
	BatchSize int
	// Parallelism bounds the number of records decrypted concurrently
	// within a chunk; zero selects GOMAXPROCS.
	Parallelism int
}

// NewDecryptor returns a decryptor using cache, which may be nil.
func NewDecryptor(cache *Cache) *Decryptor {
	return &Decryptor{Cache: cache}
}

func keyStatus(err error) KeyStatus {
	if errors.Is(errors.Precondition, err) {
		return StatusMissingKey
	}
	return StatusInvalidKey
}

func cloneAll(records []schema.Record) []schema.Record {
	out := make([]schema.Record, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}

// DecryptRecords decrypts records chunk by chunk. The result has one
// record per input record, in input order; per-field failures are
// reported in BatchResult.Errors and never abort the batch.
//
// If rawKey is missing or malformed, no decryption is attempted: the
// records are returned with their ciphertext untouched, Status says
// why, and the key error is returned alongside. If ctx is canceled
// between chunks, DecryptRecords abandons the batch and returns only
// the error.
func (d *Decryptor) DecryptRecords(ctx context.Context, records []schema.Record, fields []schema.FieldDefinition, rawKey string, opts Options) (*BatchResult, error) {
	key, err := vault.ParseKey(rawKey)
	if err != nil {
		return &BatchResult{Records: cloneAll(records), Status: keyStatus(err)}, err
	}
	size := opts.BatchSize
	if size <= 0 {
		size = d.BatchSize
	}
	if size <= 0 {
		size = DefaultBatchSize
	}
	par := d.Parallelism
	if par <= 0 {
		par = runtime.GOMAXPROCS(0)
	}
	var (
		n    = len(records)
		out  = make([]schema.Record, n)
		errs = make([][]*FieldError, n)
	)
	for start := 0; start < n; start += size {
		if err := ctx.Err(); err != nil {
			return nil, errors.E(errors.Canceled, "fieldcrypt: decryption abandoned", err)
		}
		end := start + size
		if end > n {
			end = n
		}
		err := traverse.Limit(par).Each(end-start, func(i int) error {
			r := d.decrypt(records[start+i], fields, key, opts)
			out[start+i] = r.Record
			errs[start+i] = r.Errors
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	res := &BatchResult{Records: out, Errors: map[int][]*FieldError{}}
	for i, e := range errs {
		if len(e) > 0 {
			res.Errors[i] = e
		}
	}
	if res.Partial() {
		log.Printf("fieldcrypt: %s: %d of %d records partially decrypted", opts.Scope, len(res.Errors), n)
	}
	return res, nil
}

// DecryptRecord decrypts a single record without batching. A missing or
// malformed key returns the record untouched together with the key error.
func (d *Decryptor) DecryptRecord(rec schema.Record, fields []schema.FieldDefinition, rawKey string, opts Options) (*RecordResult, error) {
	key, err := vault.ParseKey(rawKey)
	if err != nil {
		return &RecordResult{Record: rec.Clone()}, err
	}
	return d.decrypt(rec, fields, key, opts), nil
}

func (d *Decryptor) decrypt(rec schema.Record, fields []schema.FieldDefinition, key *vault.Key, opts Options) *RecordResult {
	res := &RecordResult{Record: rec.Clone()}
	if res.Record == nil {
		res.Record = schema.Record{}
	}
	for _, f := range fields {
		v, ok := rec[f.Name]
		if !ok || !f.Type.Encrypted() || schema.IsEmpty(v) {
			continue
		}
		val, err := decryptField(f.Type, v, d.opener(f.Name, key, opts))
		if err != nil {
			log.Debug.Printf("fieldcrypt: %s: field %q: %v", opts.Scope, f.Name, err)
			res.Errors = append(res.Errors, &FieldError{Field: f.Name, Err: err})
			continue
		}
		res.Record[f.Name] = val
	}
	return res
}

// opener returns the function that turns one ciphertext of field into
// plaintext, consulting the cache when enabled.
func (d *Decryptor) opener(field string, key *vault.Key, opts Options) func(string) (string, error) {
	cache := d.Cache
	if !opts.UseCache {
		cache = nil
	}
	return func(ct string) (string, error) {
		if cache == nil {
			return vault.Decrypt(ct, key)
		}
		k := cacheKey{scope: opts.Scope, field: field, ciphertext: ct, fingerprint: key.Fingerprint()}
		if pt, ok := cache.get(k); ok {
			return pt, nil
		}
		pt, err := vault.Decrypt(ct, key)
		if err != nil {
			return "", err
		}
		cache.add(k, pt)
		return pt, nil
	}
}
