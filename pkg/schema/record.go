package schema

import "time"

// Record is a flat map from field name to value. The same shape carries
// plaintext values in the client and ciphertext on the wire.
type Record map[string]any

// Clone returns a shallow copy of r. Slice values are copied so that the
// copy can be rewritten in place.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	c := make(Record, len(r))
	for k, v := range r {
		switch v := v.(type) {
		case []any:
			c[k] = append([]any(nil), v...)
		case []string:
			c[k] = append([]string(nil), v...)
		default:
			c[k] = v
		}
	}
	return c
}

// Payload is the body of a create or update call. The backend expects
// exactly these three keys.
type Payload struct {
	Record         Record              `json:"record"`
	HashedKeywords map[string][]string `json:"hashed_keywords"`
	RecordHashes   map[string]string   `json:"record_hashes"`
}

// NewPayload returns a payload with empty, non-nil maps.
func NewPayload() *Payload {
	return &Payload{
		Record:         Record{},
		HashedKeywords: map[string][]string{},
		RecordHashes:   map[string]string{},
	}
}

// StoredRecord is a record as held and returned by the store.
type StoredRecord struct {
	ID             string              `json:"id"`
	Record         Record              `json:"record"`
	RecordHashes   map[string]string   `json:"record_hashes,omitempty"`
	HashedKeywords map[string][]string `json:"hashed_keywords,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// RecordPage is one page of a record listing.
type RecordPage struct {
	Records []StoredRecord `json:"records"`
	Total   int            `json:"total"`
}

// Query selects records by their blind indexes. Every listed keyword
// hash must be present on the named field, and every equality hash
// must match.
type Query struct {
	Keywords map[string][]string `json:"keywords,omitempty"`
	Equals   map[string]string   `json:"equals,omitempty"`
}

// IsEmpty reports whether v counts as "not set": nil, the empty string,
// or an empty list.
func IsEmpty(v any) bool {
	switch v := v.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []any:
		return len(v) == 0
	case []string:
		return len(v) == 0
	}
	return false
}
