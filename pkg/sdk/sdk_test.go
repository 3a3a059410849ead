package sdk_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/celerix-dev/celerix-tablecrypt/internal/api"
	"github.com/celerix-dev/celerix-tablecrypt/internal/vault"
	"github.com/celerix-dev/celerix-tablecrypt/pkg/engine"
	"github.com/celerix-dev/celerix-tablecrypt/pkg/fieldcrypt"
	"github.com/celerix-dev/celerix-tablecrypt/pkg/schema"
	"github.com/celerix-dev/celerix-tablecrypt/pkg/sdk"
	"github.com/gin-gonic/gin"
	"github.com/grailbio/base/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const userKey = "01234567890123456789012345678901"

func peopleSchema() *schema.TableSchema {
	return &schema.TableSchema{
		ID: "people",
		Fields: []schema.FieldDefinition{
			{Name: "name", Type: schema.ShortText},
			{Name: "owner", Type: schema.SelectOneRecord, ReferenceTableID: "users"},
			{Name: "age", Type: schema.Integer},
			{Name: "tags", Type: schema.SelectList},
			{Name: "active", Type: schema.CheckboxYesNo},
		},
		E2EEEncryption:      true,
		HashedKeywordFields: []string{"name"},
	}
}

func newScope(t *testing.T, store sdk.TableStore, s *schema.TableSchema, mode schema.EncryptionMode, key string) *sdk.TableScope {
	t.Helper()
	_, err := store.CreateTable(s, mode)
	require.NoError(t, err)
	cache, err := fieldcrypt.NewCache(100)
	require.NoError(t, err)
	ts, err := sdk.Table(store, s.ID, key, fieldcrypt.NewDecryptor(cache))
	require.NoError(t, err)
	return ts
}

func TestCreateScenario(t *testing.T) {
	store := engine.NewMemStore(nil, nil)
	ts := newScope(t, store, peopleSchema(), schema.ModeE2EE, userKey)

	created, err := ts.Create(schema.Record{"name": "Alice Smith", "owner": "rec-42"})
	require.NoError(t, err)

	// The store only sees ciphertext and hashes
	stored, err := store.GetRecord("people", created.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "Alice Smith", stored.Record["name"])
	assert.Equal(t, "rec-42", stored.Record["owner"])
	assert.Contains(t, stored.RecordHashes, "name")
	assert.NotContains(t, stored.RecordHashes, "owner")
	assert.Len(t, stored.HashedKeywords["name"], 2)

	row, err := ts.Get(created.ID)
	require.NoError(t, err)
	assert.Empty(t, row.Errors)
	assert.Equal(t, schema.Record{"name": "Alice Smith", "owner": "rec-42"}, row.Record)
}

func TestClearFieldScenario(t *testing.T) {
	store := engine.NewMemStore(nil, nil)
	ts := newScope(t, store, peopleSchema(), schema.ModeE2EE, userKey)

	created, err := ts.Create(schema.Record{"name": "Alice Smith", "age": 30})
	require.NoError(t, err)

	_, err = ts.UpdateField(created.ID, "name", "")
	require.NoError(t, err)

	stored, _ := store.GetRecord("people", created.ID)
	assert.NotContains(t, stored.Record, "name")
	assert.NotContains(t, stored.RecordHashes, "name")
	assert.NotContains(t, stored.HashedKeywords, "name")
	assert.Contains(t, stored.Record, "age")

	rows, err := ts.SearchKeyword(context.Background(), "name", "alice")
	require.NoError(t, err)
	assert.Empty(t, rows.Rows)
}

func TestMissingKeyScenario(t *testing.T) {
	store := engine.NewMemStore(nil, nil)
	owner := newScope(t, store, peopleSchema(), schema.ModeE2EE, userKey)
	created, err := owner.Create(schema.Record{"name": "Alice"})
	require.NoError(t, err)

	stranger, err := sdk.Table(store, "people", "", nil)
	require.NoError(t, err)

	_, err = stranger.Create(schema.Record{"name": "Mallory"})
	assert.True(t, errors.Is(errors.Precondition, err), "got %v", err)

	rows, err := stranger.List(context.Background(), 0, 10)
	assert.True(t, errors.Is(errors.Precondition, err), "got %v", err)
	require.NotNil(t, rows)
	assert.Equal(t, fieldcrypt.StatusMissingKey, rows.Status)
	require.Len(t, rows.Rows, 1)
	stored, _ := store.GetRecord("people", created.ID)
	assert.Equal(t, stored.Record["name"], rows.Rows[0].Record["name"])

	bad, err := sdk.Table(store, "people", "short", nil)
	require.NoError(t, err)
	rows, err = bad.List(context.Background(), 0, 10)
	assert.True(t, errors.Is(errors.Invalid, err), "got %v", err)
	assert.Equal(t, fieldcrypt.StatusInvalidKey, rows.Status)
}

func TestWrongKeyLeavesCiphertext(t *testing.T) {
	store := engine.NewMemStore(nil, nil)
	owner := newScope(t, store, peopleSchema(), schema.ModeE2EE, userKey)
	created, _ := owner.Create(schema.Record{"name": "Alice", "owner": "rec-1"})

	other, err := sdk.Table(store, "people", "another32byteslongsecretkey65432", nil)
	require.NoError(t, err)
	row, err := other.Get(created.ID)
	require.NoError(t, err)
	require.Len(t, row.Errors, 1)
	assert.Equal(t, "name", row.Errors[0].Field)
	assert.Equal(t, "rec-1", row.Record["owner"])
}

func TestSearchAndFilter(t *testing.T) {
	store := engine.NewMemStore(nil, nil)
	ts := newScope(t, store, peopleSchema(), schema.ModeE2EE, userKey)
	ctx := context.Background()

	alice, _ := ts.Create(schema.Record{"name": "Alice Smith", "tags": []any{"red", "blue"}, "age": 30})
	ts.Create(schema.Record{"name": "Bob Smith", "tags": []any{"blue"}, "age": 40})
	ts.Create(schema.Record{"name": "Carol Jones", "active": true})

	rows, err := ts.SearchKeyword(ctx, "name", "SMITH")
	require.NoError(t, err)
	require.Len(t, rows.Rows, 2)
	assert.Equal(t, "Alice Smith", rows.Rows[0].Record["name"])

	rows, err = ts.SearchKeyword(ctx, "name", "smith alice")
	require.NoError(t, err)
	require.Len(t, rows.Rows, 1)
	assert.Equal(t, alice.ID, rows.Rows[0].ID)

	rows, err = ts.FilterEquals(ctx, "tags", []string{"red", "blue"})
	require.NoError(t, err)
	require.Len(t, rows.Rows, 1)
	assert.Equal(t, []string{"red", "blue"}, rows.Rows[0].Record["tags"])

	rows, err = ts.FilterEquals(ctx, "age", 40)
	require.NoError(t, err)
	require.Len(t, rows.Rows, 1)
	assert.Equal(t, int64(40), rows.Rows[0].Record["age"])

	rows, err = ts.FilterEquals(ctx, "active", true)
	require.NoError(t, err)
	require.Len(t, rows.Rows, 1)
	assert.Equal(t, true, rows.Rows[0].Record["active"])

	_, err = ts.SearchKeyword(ctx, "tags", "red")
	assert.True(t, errors.Is(errors.Invalid, err))
	_, err = ts.SearchKeyword(ctx, "name", "a")
	assert.True(t, errors.Is(errors.Invalid, err))
	_, err = ts.FilterEquals(ctx, "nope", "x")
	assert.True(t, errors.Is(errors.Invalid, err))
}

func TestServerAssistedTable(t *testing.T) {
	store := engine.NewMemStore(nil, nil)
	s := peopleSchema()
	s.E2EEEncryption = false
	// The user key is not consulted for server-assisted tables
	ts := newScope(t, store, s, schema.ModeServer, "")

	assert.Empty(t, ts.Schema().EncryptionKey)
	created, err := ts.Create(schema.Record{"name": "Dana"})
	require.NoError(t, err)
	assert.NotEqual(t, "Dana", created.Record["name"])

	rows, err := ts.List(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Equal(t, "Dana", rows.Rows[0].Record["name"])
}

func TestPlaintextTable(t *testing.T) {
	store := engine.NewMemStore(nil, nil)
	s := peopleSchema()
	s.E2EEEncryption = false
	ts := newScope(t, store, s, schema.ModeNone, "")
	ctx := context.Background()

	created, err := ts.Create(schema.Record{"name": "Erin Smith", "tags": []any{"x"}})
	require.NoError(t, err)
	assert.Equal(t, "Erin Smith", created.Record["name"])
	assert.Empty(t, created.RecordHashes)

	rows, err := ts.SearchKeyword(ctx, "name", "smith")
	require.NoError(t, err)
	require.Len(t, rows.Rows, 1)

	rows, err = ts.FilterEquals(ctx, "tags", []string{"x"})
	require.NoError(t, err)
	require.Len(t, rows.Rows, 1)

	_, err = ts.UpdateField(created.ID, "name", nil)
	require.NoError(t, err)
	row, _ := ts.Get(created.ID)
	assert.NotContains(t, row.Record, "name")
}

func TestPlaintextRichTextSearchIgnoresMarkup(t *testing.T) {
	store := engine.NewMemStore(nil, nil)
	s := &schema.TableSchema{
		ID:                  "notes",
		Fields:              []schema.FieldDefinition{{Name: "body", Type: schema.RichText}},
		HashedKeywordFields: []string{"body"},
	}
	ts := newScope(t, store, s, schema.ModeNone, "")
	ctx := context.Background()

	_, err := ts.Create(schema.Record{"body": `<span class="note">hello</span> world`})
	require.NoError(t, err)

	rows, err := ts.SearchKeyword(ctx, "body", "hello world")
	require.NoError(t, err)
	assert.Len(t, rows.Rows, 1)

	for _, q := range []string{"span", "class", "note"} {
		rows, err = ts.SearchKeyword(ctx, "body", q)
		require.NoError(t, err)
		assert.Empty(t, rows.Rows, "query %q matched markup", q)
	}
}

func TestStrictFields(t *testing.T) {
	store := engine.NewMemStore(nil, nil)
	ts := newScope(t, store, peopleSchema(), schema.ModeE2EE, userKey)

	// Unknown fields pass through by default
	created, err := ts.Create(schema.Record{"name": "Alice", "nickname": "Al"})
	require.NoError(t, err)
	assert.Equal(t, "Al", created.Record["nickname"])

	ts.StrictFields = true
	_, err = ts.Create(schema.Record{"name": "Alice", "nickname": "Al"})
	assert.True(t, errors.Is(errors.Invalid, err))
	_, err = ts.Update(created.ID, schema.Record{"nickname": "Al"})
	assert.True(t, errors.Is(errors.Invalid, err))
}

func TestPayloadBuilders(t *testing.T) {
	s := peopleSchema()
	assert.Equal(t, userKey, sdk.ResolveKey(s, userKey))

	srv := peopleSchema()
	srv.E2EEEncryption = false
	srv.EncryptionKey = "another32byteslongsecretkey65432"
	assert.Equal(t, srv.EncryptionKey, sdk.ResolveKey(srv, userKey))

	p, err := sdk.BuildCreatePayload(schema.Record{"name": "Alice"}, s, userKey)
	require.NoError(t, err)
	key, _ := vault.ParseKey(userKey)
	assert.Equal(t, vault.HMAC("Alice", key), p.RecordHashes["name"])

	p, err = sdk.BuildUpdatePayload(schema.Record{"name": "Alice"}, srv, userKey)
	require.NoError(t, err)
	srvKey, _ := vault.ParseKey(srv.EncryptionKey)
	assert.Equal(t, vault.HMAC("Alice", srvKey), p.RecordHashes["name"])

	plain := peopleSchema()
	plain.E2EEEncryption = false
	p, err = sdk.BuildCreatePayload(schema.Record{"name": "Alice"}, plain, "")
	require.NoError(t, err)
	assert.Equal(t, "Alice", p.Record["name"])
	assert.Empty(t, p.RecordHashes)

	p, err = sdk.BuildEncryptedFieldUpdatePayload("name", "", s, userKey)
	require.NoError(t, err)
	assert.Empty(t, p.Record)
	assert.Empty(t, p.RecordHashes)
	assert.Empty(t, p.HashedKeywords)

	_, err = sdk.BuildFieldUpdatePayload("nope", "x", s, userKey)
	assert.True(t, errors.Is(errors.Invalid, err))
	_, err = sdk.BuildEncryptedCreatePayload(schema.Record{"name": "x"}, s, "")
	assert.True(t, errors.Is(errors.Precondition, err))
}

func TestDecode(t *testing.T) {
	store := engine.NewMemStore(nil, nil)
	ts := newScope(t, store, peopleSchema(), schema.ModeE2EE, userKey)
	created, _ := ts.Create(schema.Record{"name": "Alice", "age": 30, "tags": []any{"a"}})

	type Person struct {
		Name string   `json:"name"`
		Age  int      `json:"age"`
		Tags []string `json:"tags"`
	}
	row, err := ts.Get(created.ID)
	require.NoError(t, err)
	p, err := sdk.Decode[Person](row)
	require.NoError(t, err)
	assert.Equal(t, Person{Name: "Alice", Age: 30, Tags: []string{"a"}}, p)
}

func startServer(t *testing.T) (*httptest.Server, *engine.MemStore) {
	gin.SetMode(gin.TestMode)
	store := engine.NewMemStore(nil, nil)
	r := gin.New()
	(&api.Handler{Store: store}).Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, store
}

func TestClient_Integration(t *testing.T) {
	srv, _ := startServer(t)

	client, err := sdk.Connect(srv.URL)
	require.NoError(t, err)

	ts := newScope(t, client, peopleSchema(), schema.ModeE2EE, userKey)
	created, err := ts.Create(schema.Record{"name": "Alice Smith", "tags": []any{"a", "b"}, "age": 30})
	require.NoError(t, err)

	row, err := ts.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice Smith", row.Record["name"])
	assert.Equal(t, []string{"a", "b"}, row.Record["tags"])
	assert.Equal(t, int64(30), row.Record["age"])

	rows, err := ts.SearchKeyword(context.Background(), "name", "smith")
	require.NoError(t, err)
	assert.Len(t, rows.Rows, 1)

	_, err = ts.UpdateField(created.ID, "name", "")
	require.NoError(t, err)
	rows, err = ts.SearchKeyword(context.Background(), "name", "smith")
	require.NoError(t, err)
	assert.Empty(t, rows.Rows)

	require.NoError(t, ts.Delete(created.ID))
	_, err = ts.Get(created.ID)
	assert.True(t, errors.Is(errors.NotExist, err), "got %v", err)

	_, err = client.CreateTable(peopleSchema(), schema.ModeE2EE)
	assert.True(t, errors.Is(errors.Exists, err), "got %v", err)
}

func TestMigrateEmbeddedToRemote(t *testing.T) {
	srv, remoteStore := startServer(t)
	client, err := sdk.Connect(srv.URL)
	require.NoError(t, err)

	local := engine.NewMemStore(nil, nil)
	ts := newScope(t, local, peopleSchema(), schema.ModeE2EE, userKey)
	created, _ := ts.Create(schema.Record{"name": "Alice"})

	require.NoError(t, engine.Migrate(local, client))

	got, err := remoteStore.GetRecord("people", created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Record["name"], got.Record["name"])
}

func TestNewEmbedded(t *testing.T) {
	t.Setenv("CELERIX_TABLE_ADDR", "")
	t.Setenv("CELERIX_STORAGE", "sqlite")

	store, err := sdk.New(t.TempDir())
	require.NoError(t, err)
	_, ok := store.(*engine.MemStore)
	assert.True(t, ok)
}

func TestFilterByReferenceField(t *testing.T) {
	store := engine.NewMemStore(nil, nil)
	ts := newScope(t, store, peopleSchema(), schema.ModeE2EE, userKey)
	ts.Create(schema.Record{"name": "Alice", "owner": "rec-1"})
	ts.Create(schema.Record{"name": "Bob", "owner": "rec-9"})

	// Reference values are stored in plaintext and matched by scanning
	rows, err := ts.FilterEquals(context.Background(), "owner", "rec-9")
	require.NoError(t, err)
	require.Len(t, rows.Rows, 1)
	assert.Equal(t, "Bob", rows.Rows[0].Record["name"])
}
