package fieldcrypt

import (
	"testing"

	"github.com/celerix-dev/celerix-tablecrypt/internal/vault"
	"github.com/celerix-dev/celerix-tablecrypt/pkg/schema"
	"github.com/grailbio/base/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func peopleSchema() *schema.TableSchema {
	return &schema.TableSchema{
		ID: "people",
		Fields: []schema.FieldDefinition{
			{Name: "name", Type: schema.ShortText},
			{Name: "owner", Type: schema.SelectOneRecord, ReferenceTableID: "users"},
			{Name: "age", Type: schema.Integer},
			{Name: "tags", Type: schema.SelectList},
			{Name: "bio", Type: schema.RichText},
			{Name: "active", Type: schema.CheckboxYesNo},
		},
		E2EEEncryption:      true,
		HashedKeywordFields: []string{"name", "bio"},
	}
}

func TestCreatePayloadScenario(t *testing.T) {
	key := newKey(t)
	p, err := BuildEncryptedPayload(schema.Record{"name": "Alice Smith", "owner": "rec-42"}, peopleSchema(), key)
	require.NoError(t, err)

	require.Contains(t, p.Record, "name")
	assert.NotEqual(t, "Alice Smith", p.Record["name"])
	assert.Equal(t, "rec-42", p.Record["owner"])

	assert.Equal(t, vault.HMAC("Alice Smith", key), p.RecordHashes["name"])
	assert.NotContains(t, p.RecordHashes, "owner")
	assert.NotContains(t, p.HashedKeywords, "owner")

	require.Len(t, p.HashedKeywords["name"], 2)
	assert.Equal(t, vault.HashKeyword("alice", key)[0], p.HashedKeywords["name"][0])
	assert.Equal(t, vault.HashKeyword("smith", key)[0], p.HashedKeywords["name"][1])

	got, err := DecryptField(schema.ShortText, p.Record["name"], key)
	require.NoError(t, err)
	assert.Equal(t, "Alice Smith", got)
}

func TestPayloadSkipsEmptyValues(t *testing.T) {
	p, err := BuildEncryptedPayload(schema.Record{
		"name":  "",
		"owner": nil,
		"tags":  []any{},
		"age":   float64(0),
	}, peopleSchema(), newKey(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"age"}, keys(p.Record))
	assert.Equal(t, []string{"age"}, keys(p.RecordHashes))
	assert.Empty(t, p.HashedKeywords)
}

func TestPayloadHashes(t *testing.T) {
	key := newKey(t)
	p, err := BuildEncryptedPayload(schema.Record{
		"tags":   []any{"a", "b"},
		"active": false,
		"age":    float64(30),
		"bio":    "<p>Gardening <em>expert</em></p>",
	}, peopleSchema(), key)
	require.NoError(t, err)
	assert.Equal(t, vault.HashArray([]string{"a", "b"}, key), p.RecordHashes["tags"])
	assert.Equal(t, vault.HMAC("false", key), p.RecordHashes["active"])
	assert.Equal(t, vault.HMAC("30", key), p.RecordHashes["age"])
	// Markup is not indexed.
	assert.Equal(t, vault.HashKeyword("gardening expert", key), p.HashedKeywords["bio"])
	assert.NotContains(t, p.HashedKeywords, "tags")
}

func TestPayloadHashesAreRegenerated(t *testing.T) {
	key := newKey(t)
	s := peopleSchema()
	before, err := BuildEncryptedPayload(schema.Record{"name": "Alice Smith"}, s, key)
	require.NoError(t, err)
	after, err := BuildEncryptedPayload(schema.Record{"name": "Alice Jones"}, s, key)
	require.NoError(t, err)
	assert.NotEqual(t, before.RecordHashes["name"], after.RecordHashes["name"])
	assert.NotContains(t, after.HashedKeywords["name"], before.HashedKeywords["name"][1])
	assert.Equal(t, before.HashedKeywords["name"][0], after.HashedKeywords["name"][0])
}

func TestPayloadUnknownFieldsPassThrough(t *testing.T) {
	rec := schema.Record{"name": "Alice", "legacy": "plain"}
	s := peopleSchema()
	assert.Equal(t, []string{"legacy"}, UnknownFields(rec, s))
	p, err := BuildEncryptedPayload(rec, s, newKey(t))
	require.NoError(t, err)
	assert.Equal(t, "plain", p.Record["legacy"])
	assert.NotContains(t, p.RecordHashes, "legacy")
}

func TestPayloadRequiresKey(t *testing.T) {
	_, err := BuildEncryptedPayload(schema.Record{"name": "Alice"}, peopleSchema(), nil)
	assert.True(t, errors.Is(errors.Precondition, err))
	_, err = BuildEncryptedUpdatePayload("name", "Alice", schema.FieldDefinition{Name: "name", Type: schema.ShortText}, nil, nil)
	assert.True(t, errors.Is(errors.Precondition, err))
}

func TestPayloadRejectsBadValue(t *testing.T) {
	_, err := BuildEncryptedPayload(schema.Record{"name": []any{"x"}}, peopleSchema(), newKey(t))
	assert.True(t, errors.Is(errors.Invalid, err), "%v", err)
}

func TestPayloadRejectsUnknownFieldType(t *testing.T) {
	key := newKey(t)
	s := peopleSchema()
	s.Fields = append(s.Fields, schema.FieldDefinition{Name: "ssn", Type: "TEXT"})
	p, err := BuildEncryptedPayload(schema.Record{"name": "Alice", "ssn": "123-45-6789"}, s, key)
	assert.True(t, errors.Is(errors.Invalid, err), "%v", err)
	assert.Nil(t, p)

	p, err = BuildEncryptedUpdatePayload("ssn", "123-45-6789", schema.FieldDefinition{Name: "ssn", Type: "SHORTTEXT"}, key, nil)
	assert.True(t, errors.Is(errors.Invalid, err), "%v", err)
	assert.Nil(t, p)
}

func TestPayloadRejectsUndecodableValue(t *testing.T) {
	_, err := BuildEncryptedPayload(schema.Record{"name": "Alice", "age": "forty"}, peopleSchema(), newKey(t))
	assert.True(t, errors.Is(errors.Invalid, err), "%v", err)
}

func TestRichTextKeywordsIgnoreMarkup(t *testing.T) {
	assert.Equal(t, "<b>x</b>", KeywordText(schema.LongText, "<b>x</b>"))
	assert.Equal(t, vault.Tokenize("hello world"), vault.Tokenize(KeywordText(schema.RichText, `<p class="lead">hello</p> world`)))
}

func TestPlaintextPayload(t *testing.T) {
	rec := schema.Record{"name": "Alice", "age": 3}
	p := BuildPlaintextPayload(rec)
	assert.Equal(t, rec, p.Record)
	assert.Empty(t, p.RecordHashes)
	assert.Empty(t, p.HashedKeywords)
}

func TestUpdatePayload(t *testing.T) {
	key := newKey(t)
	def := schema.FieldDefinition{Name: "name", Type: schema.ShortText}
	kw := []string{"name"}

	p, err := BuildEncryptedUpdatePayload("name", "Alice Smith", def, key, kw)
	require.NoError(t, err)
	assert.Equal(t, []string{"name"}, keys(p.Record))
	assert.Contains(t, p.RecordHashes, "name")
	assert.Len(t, p.HashedKeywords["name"], 2)

	// Clearing the field clears its index too.
	p, err = BuildEncryptedUpdatePayload("name", "", def, key, kw)
	require.NoError(t, err)
	assert.NotContains(t, p.Record, "name")
	assert.NotContains(t, p.RecordHashes, "name")
	assert.NotContains(t, p.HashedKeywords, "name")

	p, err = BuildEncryptedUpdatePayload("owner", "rec-7", schema.FieldDefinition{Name: "owner", Type: schema.SelectOneRecord}, key, kw)
	require.NoError(t, err)
	assert.Equal(t, "rec-7", p.Record["owner"])
	assert.Empty(t, p.RecordHashes)

	_, err = BuildEncryptedUpdatePayload("name", "x", schema.FieldDefinition{Name: "other", Type: schema.ShortText}, key, kw)
	assert.True(t, errors.Is(errors.Invalid, err))
}

func keys[V any](m map[string]V) []string {
	var out []string
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestEqualityHashMatchesPayload(t *testing.T) {
	key := newKey(t)
	rec := schema.Record{"name": "Alice", "tags": []any{"x", "y"}, "age": float64(7), "owner": "rec-1"}
	p, err := BuildEncryptedPayload(rec, peopleSchema(), key)
	require.NoError(t, err)

	for _, f := range peopleSchema().Fields {
		h, ok, err := EqualityHash(f.Type, rec[f.Name], key)
		require.NoError(t, err, f.Name)
		want, indexed := p.RecordHashes[f.Name]
		assert.Equal(t, indexed, ok, f.Name)
		assert.Equal(t, want, h, f.Name)
	}

	_, _, err = EqualityHash(schema.ShortText, "x", nil)
	assert.True(t, errors.Is(errors.Precondition, err))
}
