package rates

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrRecordNotFound is returned when a record id does not exist.
var ErrRecordNotFound = errors.New("rate record not found")

// Store is the persisted rate table and carrier catalogue.
type Store interface {
	// FindRecords returns the active records matching the lookup.
	FindRecords(ctx context.Context, l Lookup) ([]Record, error)
	// ListRecords returns every record in scope, active or not.
	ListRecords(ctx context.Context, s Scope) ([]Record, error)
	GetRecord(ctx context.Context, id int64) (*Record, error)
	InsertRecord(ctx context.Context, r *Record) error
	UpdateRecord(ctx context.Context, r *Record) error
	DeleteRecord(ctx context.Context, id int64) error

	Carriers(ctx context.Context) ([]Carrier, error)
	InsertCarrier(ctx context.Context, c *Carrier) error
	ShippingMethods(ctx context.Context) ([]ShippingMethod, error)
	InsertShippingMethod(ctx context.Context, m *ShippingMethod) error
}

// MemoryStore is an in-process Store. Records are copied in and out, so
// readers never see a record while it is being written.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[int64]Record
	carriers map[int64]Carrier
	methods  map[int64]ShippingMethod
	nextID   int64
}

// NewMemoryStore creates an empty in-memory rate table.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[int64]Record),
		carriers: make(map[int64]Carrier),
		methods:  make(map[int64]ShippingMethod),
	}
}

func (m *MemoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

// FindRecords implements Store.
func (m *MemoryStore) FindRecords(ctx context.Context, l Lookup) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for _, r := range m.records {
		if l.Matches(r) {
			out = append(out, r)
		}
	}
	sortRecords(out)
	return out, nil
}

// ListRecords implements Store.
func (m *MemoryStore) ListRecords(ctx context.Context, s Scope) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for _, r := range m.records {
		if s.Includes(r) {
			out = append(out, r)
		}
	}
	sortRecords(out)
	return out, nil
}

// GetRecord implements Store.
func (m *MemoryStore) GetRecord(ctx context.Context, id int64) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return &r, nil
}

// InsertRecord implements Store.
func (m *MemoryStore) InsertRecord(ctx context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = m.id()
	m.records[r.ID] = *r
	return nil
}

// UpdateRecord implements Store.
func (m *MemoryStore) UpdateRecord(ctx context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[r.ID]; !ok {
		return ErrRecordNotFound
	}
	m.records[r.ID] = *r
	return nil
}

// DeleteRecord implements Store.
func (m *MemoryStore) DeleteRecord(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return ErrRecordNotFound
	}
	delete(m.records, id)
	return nil
}

// Carriers implements Store.
func (m *MemoryStore) Carriers(ctx context.Context) ([]Carrier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Carrier, 0, len(m.carriers))
	for _, c := range m.carriers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// InsertCarrier implements Store.
func (m *MemoryStore) InsertCarrier(ctx context.Context, c *Carrier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = m.id()
	m.carriers[c.ID] = *c
	return nil
}

// ShippingMethods implements Store.
func (m *MemoryStore) ShippingMethods(ctx context.Context) ([]ShippingMethod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ShippingMethod, 0, len(m.methods))
	for _, sm := range m.methods {
		out = append(out, sm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// InsertShippingMethod implements Store.
func (m *MemoryStore) InsertShippingMethod(ctx context.Context, sm *ShippingMethod) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sm.ID = m.id()
	m.methods[sm.ID] = *sm
	return nil
}

func sortRecords(rs []Record) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].DisplayOrder != rs[j].DisplayOrder {
			return rs[i].DisplayOrder < rs[j].DisplayOrder
		}
		return rs[i].ID < rs[j].ID
	})
}

var _ Store = (*MemoryStore)(nil)
