package engine

import (
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/celerix-dev/celerix-tablecrypt/internal/vault"
	"github.com/celerix-dev/celerix-tablecrypt/pkg/schema"
	"github.com/google/uuid"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

var validID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

type table struct {
	schema  *schema.TableSchema
	records map[string]*schema.StoredRecord
	order   []string
}

// MemStore is a thread-safe in-memory Store. Every change is written
// through to the persister in the background.
type MemStore struct {
	mu     sync.RWMutex
	tables map[string]*table

	persister Persister
	seq       uint64 // guarded by mu
	persistMu sync.Mutex
	saved     map[string]uint64
	wg        sync.WaitGroup

	now func() time.Time
}

// NewMemStore initializes a store.
// It accepts existing data (from LoadAll) and a persister, which may be nil.
func NewMemStore(initialData map[string]*TableSnapshot, p Persister) *MemStore {
	m := &MemStore{
		tables:    make(map[string]*table),
		persister: p,
		saved:     make(map[string]uint64),
		now:       time.Now,
	}
	for id, snap := range initialData {
		if snap == nil || snap.Schema == nil {
			log.Error.Printf("engine: skipping table %s without schema", id)
			continue
		}
		t := &table{schema: snap.Schema.Clone(), records: make(map[string]*schema.StoredRecord, len(snap.Records))}
		t.schema.ID = id
		for i := range snap.Records {
			r := cloneRecord(&snap.Records[i])
			if _, dup := t.records[r.ID]; !dup {
				t.order = append(t.order, r.ID)
			}
			t.records[r.ID] = r
		}
		m.tables[id] = t
	}
	return m
}

// Wait waits for all background persistence tasks to complete.
func (m *MemStore) Wait() {
	m.wg.Wait()
}

// --- Tables ---

func (m *MemStore) CreateTable(s *schema.TableSchema, mode schema.EncryptionMode) (*schema.TableSchema, error) {
	if s == nil {
		return nil, errors.E(errors.Invalid, "engine: schema required")
	}
	s = s.Clone()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if !validID.MatchString(s.ID) {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("engine: invalid table id %q", s.ID))
	}
	if mode == "" {
		mode = s.Mode()
	}
	switch mode {
	case schema.ModeNone:
		s.E2EEEncryption, s.EncryptionKey = false, ""
	case schema.ModeE2EE:
		if s.EncryptionKey != "" {
			return nil, errors.E(errors.Invalid, "engine: an end-to-end encrypted table must not carry a key")
		}
		s.E2EEEncryption = true
	case schema.ModeServer:
		s.E2EEEncryption = false
		if s.EncryptionKey == "" {
			key, err := vault.GenerateKey()
			if err != nil {
				return nil, err
			}
			s.EncryptionKey = key
		} else if _, err := vault.ParseKey(s.EncryptionKey); err != nil {
			return nil, err
		}
	default:
		return nil, errors.E(errors.Invalid, fmt.Sprintf("engine: unknown encryption mode %q", mode))
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if _, ok := m.tables[s.ID]; ok {
		m.mu.Unlock()
		return nil, ErrTableExists
	}
	t := &table{schema: s, records: make(map[string]*schema.StoredRecord)}
	m.tables[s.ID] = t
	snap := m.snapshotLocked(t)
	m.mu.Unlock()

	log.Printf("engine: created table %s (%s)", s.ID, mode)
	m.persist(s.ID, snap)
	return s.Clone(), nil
}

func (m *MemStore) GetTable(tableID string) (*schema.TableSchema, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tables[tableID]
	if !ok {
		return nil, ErrTableNotFound
	}
	return t.schema.Clone(), nil
}

func (m *MemStore) ListTables() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]string, 0, len(m.tables))
	for id := range m.tables {
		list = append(list, id)
	}
	sort.Strings(list)
	return list, nil
}

func (m *MemStore) DeleteTable(tableID string) error {
	m.mu.Lock()
	t, ok := m.tables[tableID]
	if !ok {
		m.mu.Unlock()
		return ErrTableNotFound
	}
	delete(m.tables, tableID)
	m.seq++
	snap := &TableSnapshot{Schema: t.schema, version: m.seq, deleted: true}
	m.mu.Unlock()

	log.Printf("engine: deleted table %s", tableID)
	m.persist(tableID, snap)
	return nil
}

// --- Records ---

func (m *MemStore) CreateRecord(tableID string, p *schema.Payload) (*schema.StoredRecord, error) {
	m.mu.Lock()
	t, ok := m.tables[tableID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrTableNotFound
	}
	if err := checkPayload(t.schema, p, ""); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	now := m.now().UTC()
	r := &schema.StoredRecord{ID: uuid.NewString(), CreatedAt: now, UpdatedAt: now}
	applyPayload(r, p)
	t.records[r.ID] = r
	t.order = append(t.order, r.ID)
	out, snap := cloneRecord(r), m.snapshotLocked(t)
	m.mu.Unlock()

	m.persist(tableID, snap)
	return out, nil
}

func (m *MemStore) UpdateRecord(tableID, recordID string, p *schema.Payload) (*schema.StoredRecord, error) {
	return m.modify(tableID, recordID, func(t *table, r *schema.StoredRecord) error {
		if err := checkPayload(t.schema, p, ""); err != nil {
			return err
		}
		applyPayload(r, p)
		return nil
	})
}

func (m *MemStore) UpdateField(tableID, recordID, field string, p *schema.Payload) (*schema.StoredRecord, error) {
	return m.modify(tableID, recordID, func(t *table, r *schema.StoredRecord) error {
		if _, ok := t.schema.Field(field); !ok {
			return errors.E(errors.Invalid, fmt.Sprintf("engine: table %s has no field %q", tableID, field))
		}
		if err := checkPayload(t.schema, p, field); err != nil {
			return err
		}
		if v, ok := p.Record[field]; ok {
			r.Record[field] = v
		} else {
			delete(r.Record, field)
		}
		if h, ok := p.RecordHashes[field]; ok {
			r.RecordHashes[field] = h
		} else {
			delete(r.RecordHashes, field)
		}
		if kw, ok := p.HashedKeywords[field]; ok {
			r.HashedKeywords[field] = append([]string(nil), kw...)
		} else {
			delete(r.HashedKeywords, field)
		}
		return nil
	})
}

// modify applies fn to a copy of the record and commits the copy when fn succeeds.
func (m *MemStore) modify(tableID, recordID string, fn func(*table, *schema.StoredRecord) error) (*schema.StoredRecord, error) {
	m.mu.Lock()
	t, ok := m.tables[tableID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrTableNotFound
	}
	cur, ok := t.records[recordID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrRecordNotFound
	}
	r := cloneRecord(cur)
	if err := fn(t, r); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	r.UpdatedAt = m.now().UTC()
	t.records[recordID] = r
	out, snap := cloneRecord(r), m.snapshotLocked(t)
	m.mu.Unlock()

	m.persist(tableID, snap)
	return out, nil
}

func (m *MemStore) RestoreRecord(tableID string, rec *schema.StoredRecord) error {
	if rec == nil || rec.ID == "" {
		return errors.E(errors.Invalid, "engine: restored record needs an id")
	}
	m.mu.Lock()
	t, ok := m.tables[tableID]
	if !ok {
		m.mu.Unlock()
		return ErrTableNotFound
	}
	r := cloneRecord(rec)
	if _, exists := t.records[r.ID]; !exists {
		t.order = append(t.order, r.ID)
	}
	t.records[r.ID] = r
	snap := m.snapshotLocked(t)
	m.mu.Unlock()

	m.persist(tableID, snap)
	return nil
}

func (m *MemStore) GetRecord(tableID, recordID string) (*schema.StoredRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tables[tableID]
	if !ok {
		return nil, ErrTableNotFound
	}
	r, ok := t.records[recordID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return cloneRecord(r), nil
}

func (m *MemStore) ListRecords(tableID string, offset, limit int) (*schema.RecordPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tables[tableID]
	if !ok {
		return nil, ErrTableNotFound
	}
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	page := &schema.RecordPage{Records: []schema.StoredRecord{}, Total: len(t.order)}
	for i := offset; i < len(t.order) && i < offset+limit; i++ {
		page.Records = append(page.Records, *cloneRecord(t.records[t.order[i]]))
	}
	return page, nil
}

func (m *MemStore) SearchRecords(tableID string, q schema.Query) ([]schema.StoredRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tables[tableID]
	if !ok {
		return nil, ErrTableNotFound
	}
	out := []schema.StoredRecord{}
	for _, id := range t.order {
		r := t.records[id]
		if matches(r, q) {
			out = append(out, *cloneRecord(r))
		}
	}
	return out, nil
}

func (m *MemStore) DeleteRecord(tableID, recordID string) error {
	m.mu.Lock()
	t, ok := m.tables[tableID]
	if !ok {
		m.mu.Unlock()
		return ErrTableNotFound
	}
	if _, ok := t.records[recordID]; !ok {
		m.mu.Unlock()
		return ErrRecordNotFound
	}
	delete(t.records, recordID)
	for i, id := range t.order {
		if id == recordID {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	snap := m.snapshotLocked(t)
	m.mu.Unlock()

	m.persist(tableID, snap)
	return nil
}

// --- Persistence ---

// snapshotLocked deep copies a table's state, stamped with the next
// store-wide sequence number.
// It MUST be called while holding m.mu.Lock.
func (m *MemStore) snapshotLocked(t *table) *TableSnapshot {
	m.seq++
	if m.persister == nil {
		return nil
	}
	snap := &TableSnapshot{Schema: t.schema.Clone(), Records: make([]schema.StoredRecord, 0, len(t.order)), version: m.seq}
	for _, id := range t.order {
		snap.Records = append(snap.Records, *cloneRecord(t.records[id]))
	}
	return snap
}

// persist writes snap in the background. Saves of one table are
// serialized and a snapshot older than the last one written is dropped.
func (m *MemStore) persist(tableID string, snap *TableSnapshot) {
	if m.persister == nil || snap == nil {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.persistMu.Lock()
		defer m.persistMu.Unlock()
		if snap.version <= m.saved[tableID] {
			return
		}
		var err error
		if snap.deleted {
			err = m.persister.DeleteTable(tableID)
		} else {
			err = m.persister.SaveTable(tableID, snap)
		}
		if err != nil {
			log.Error.Printf("engine: persisting table %s: %v", tableID, err)
			return
		}
		m.saved[tableID] = snap.version
	}()
}

// --- Helpers ---

// checkPayload rejects payloads whose indexes name fields that are not
// set, or, for single-field updates, that touch any other field.
func checkPayload(s *schema.TableSchema, p *schema.Payload, only string) error {
	if p == nil {
		return errors.E(errors.Invalid, "engine: payload required")
	}
	for name := range p.Record {
		if only != "" && name != only {
			return errors.E(errors.Invalid, fmt.Sprintf("engine: update of %q carries field %q", only, name))
		}
	}
	for name := range p.RecordHashes {
		if _, ok := p.Record[name]; !ok {
			return errors.E(errors.Invalid, fmt.Sprintf("engine: record hash for unset field %q", name))
		}
	}
	for name := range p.HashedKeywords {
		if _, ok := p.Record[name]; !ok {
			return errors.E(errors.Invalid, fmt.Sprintf("engine: keyword hashes for unset field %q", name))
		}
		if !s.IsKeywordField(name) {
			return errors.E(errors.Invalid, fmt.Sprintf("engine: field %q is not a keyword field", name))
		}
	}
	return nil
}

func applyPayload(r *schema.StoredRecord, p *schema.Payload) {
	clone := cloneRecord(&schema.StoredRecord{Record: p.Record, RecordHashes: p.RecordHashes, HashedKeywords: p.HashedKeywords})
	r.Record, r.RecordHashes, r.HashedKeywords = clone.Record, clone.RecordHashes, clone.HashedKeywords
}

func matches(r *schema.StoredRecord, q schema.Query) bool {
	for field, want := range q.Equals {
		if r.RecordHashes[field] != want {
			return false
		}
	}
	for field, hashes := range q.Keywords {
		have := r.HashedKeywords[field]
		for _, h := range hashes {
			found := false
			for _, x := range have {
				if x == h {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	return true
}

func cloneRecord(r *schema.StoredRecord) *schema.StoredRecord {
	c := *r
	c.Record = r.Record.Clone()
	if c.Record == nil {
		c.Record = schema.Record{}
	}
	c.RecordHashes = make(map[string]string, len(r.RecordHashes))
	for k, v := range r.RecordHashes {
		c.RecordHashes[k] = v
	}
	c.HashedKeywords = make(map[string][]string, len(r.HashedKeywords))
	for k, v := range r.HashedKeywords {
		c.HashedKeywords[k] = append([]string(nil), v...)
	}
	return &c
}
