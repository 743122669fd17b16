package fulfillment

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tournevent/fulfillment/pkg/shipper"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.Mutex
	rows   map[int64]Shipment
	nextID int64
	now    func() time.Time
}

// NewMemoryStore creates an empty shipment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[int64]Shipment), now: time.Now}
}

// Create implements Store. A zero ID is assigned.
func (m *MemoryStore) Create(ctx context.Context, s *Shipment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == 0 {
		m.nextID++
		s.ID = m.nextID
	} else if _, exists := m.rows[s.ID]; exists {
		return fmt.Errorf("shipment %d already exists", s.ID)
	} else if s.ID > m.nextID {
		m.nextID = s.ID
	}
	now := m.now()
	s.CreatedAt, s.UpdatedAt = now, now
	m.rows[s.ID] = clone(s)
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(ctx context.Context, id int64) (*Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrShipmentNotFound, id)
	}
	cp := clone(&s)
	return &cp, nil
}

// Save implements Store.
func (m *MemoryStore) Save(ctx context.Context, s *Shipment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[s.ID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrShipmentNotFound, s.ID)
	}
	if row.LockToken != s.LockToken {
		return fmt.Errorf("%w: %d", ErrLeaseLost, s.ID)
	}
	s.UpdatedAt = m.now()
	m.rows[s.ID] = clone(s)
	return nil
}

// Claim implements Store.
func (m *MemoryStore) Claim(ctx context.Context, id int64, lease time.Duration) (*Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrShipmentNotFound, id)
	}
	now := m.now()
	if now.Before(s.LockedUntil) {
		return nil, fmt.Errorf("%w: %d", ErrBusy, id)
	}
	s.LockedUntil = now.Add(lease)
	s.LockToken = uuid.NewString()
	m.rows[id] = s
	cp := clone(&s)
	return &cp, nil
}

// Release implements Store.
func (m *MemoryStore) Release(ctx context.Context, id int64, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrShipmentNotFound, id)
	}
	if s.LockToken != token {
		return fmt.Errorf("%w: %d", ErrLeaseLost, id)
	}
	s.LockedUntil, s.LockToken = time.Time{}, ""
	m.rows[id] = s
	return nil
}

// ListByState implements Store. Rows are ordered by id.
func (m *MemoryStore) ListByState(ctx context.Context, q Query) ([]*Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Shipment
	for _, s := range m.rows {
		if q.Matches(&s) {
			cp := clone(&s)
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// RecordDetails implements Store and shipper.DetailsRecorder.
func (m *MemoryStore) RecordDetails(ctx context.Context, d *shipper.ShipmentDetails) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[d.ID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrShipmentNotFound, d.ID)
	}
	s.ShipmentDetails = *d
	s.UpdatedAt = m.now()
	m.rows[d.ID] = s
	return nil
}

func clone(s *Shipment) Shipment {
	cp := *s
	if s.PackagingOption != nil {
		p := *s.PackagingOption
		cp.PackagingOption = &p
	}
	if s.ScheduledShipDate != nil {
		t := *s.ScheduledShipDate
		cp.ScheduledShipDate = &t
	}
	return cp
}

// MemoryOrders is an in-process OrderSource.
type MemoryOrders struct {
	mu     sync.RWMutex
	orders map[int64]shipper.Order
}

// NewMemoryOrders creates an OrderSource holding orders.
func NewMemoryOrders(orders ...shipper.Order) *MemoryOrders {
	m := &MemoryOrders{orders: make(map[int64]shipper.Order)}
	for _, o := range orders {
		m.Put(o)
	}
	return m
}

// Put adds or replaces an order.
func (m *MemoryOrders) Put(o shipper.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
}

// PutOrder stores o, replacing an order with the same id.
func (m *MemoryOrders) PutOrder(ctx context.Context, o *shipper.Order) error {
	if o.ID <= 0 {
		return fmt.Errorf("order id %d is not positive", o.ID)
	}
	m.Put(*o)
	return nil
}

// Order implements OrderSource.
func (m *MemoryOrders) Order(ctx context.Context, id int64) (*shipper.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d not found", id)
	}
	return &o, nil
}

var (
	_ Store                   = (*MemoryStore)(nil)
	_ shipper.DetailsRecorder = (*MemoryStore)(nil)
	_ OrderSource             = (*MemoryOrders)(nil)
)
