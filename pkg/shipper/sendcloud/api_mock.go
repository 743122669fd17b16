package sendcloud

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// MockAPIClient is a mock implementation of APIClient for testing.
// Without hooks it behaves like a small in-memory SendCloud account.
type MockAPIClient struct {
	SimulateErrors  bool
	SimulateLatency time.Duration

	OnGetShippingMethods func(ctx context.Context, req *ShippingMethodsRequest) ([]ShippingMethod, error)
	OnGetServicePoint    func(ctx context.Context, id int) (*ServicePoint, error)
	OnCreateParcel       func(ctx context.Context, req *ParcelRequest) ([]Parcel, error)
	OnGetParcel          func(ctx context.Context, id int) (*Parcel, error)
	OnRequestLabel       func(ctx context.Context, id int) (*Parcel, error)
	OnCancelParcel       func(ctx context.Context, id int) (*CancelResponse, error)

	mu      sync.Mutex
	nextID  int
	parcels map[int]*Parcel
	created int
}

// NewMockAPIClient creates a new mock API client with default behavior.
func NewMockAPIClient() *MockAPIClient {
	return &MockAPIClient{nextID: 1000, parcels: make(map[int]*Parcel)}
}

// CreatedParcels returns how many CreateParcel calls reached the account.
func (m *MockAPIClient) CreatedParcels() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.created
}

func (m *MockAPIClient) simulate() error {
	if m.SimulateLatency > 0 {
		time.Sleep(m.SimulateLatency)
	}
	if m.SimulateErrors {
		return &APIError{StatusCode: http.StatusInternalServerError, Message: "Simulated API error"}
	}
	return nil
}

// GetShippingMethods returns mock shipping methods.
func (m *MockAPIClient) GetShippingMethods(ctx context.Context, req *ShippingMethodsRequest) ([]ShippingMethod, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnGetShippingMethods != nil {
		return m.OnGetShippingMethods(ctx, req)
	}
	country := req.ToCountry
	if country == "" {
		country = "NL"
	}
	return []ShippingMethod{
		{ID: 8, Name: "PostNL Standard 0-23kg", Carrier: "postnl", MinWeight: "0.001", MaxWeight: "23.001", ServicePointInput: "none",
			Countries: []Country{{ID: 1, ISO2: country, Price: 6.95}}},
		{ID: 9, Name: "PostNL Signature 0-23kg", Carrier: "postnl", MinWeight: "0.001", MaxWeight: "23.001", ServicePointInput: "none",
			Countries: []Country{{ID: 1, ISO2: country, Price: 8.10}}},
		{ID: 12, Name: "DHL ServicePoint 0-20kg", Carrier: "dhl", MinWeight: "0.001", MaxWeight: "20.001", ServicePointInput: "required",
			Countries: []Country{{ID: 1, ISO2: country, Price: 4.50}}},
	}, nil
}

// GetServicePoint returns an active service point.
func (m *MockAPIClient) GetServicePoint(ctx context.Context, id int) (*ServicePoint, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnGetServicePoint != nil {
		return m.OnGetServicePoint(ctx, id)
	}
	return &ServicePoint{
		ID: id, Code: fmt.Sprintf("SP%d", id), Name: "Mock pick-up point",
		Street: "Stationsplein", HouseNumber: "1", PostalCode: "1012AB", City: "Amsterdam",
		Country: "NL", Carrier: "dhl", IsActive: true,
	}, nil
}

// CreateParcel creates mock parcels, one per colli.
func (m *MockAPIClient) CreateParcel(ctx context.Context, req *ParcelRequest) ([]Parcel, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnCreateParcel != nil {
		return m.OnCreateParcel(ctx, req)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.created++
	qty := req.Parcel.Quantity
	if qty <= 0 {
		qty = 1
	}
	out := make([]Parcel, qty)
	for i := range out {
		m.nextID++
		p := &Parcel{
			ID:          m.nextID,
			Weight:      req.Parcel.Weight,
			OrderNumber: req.Parcel.OrderNumber,
			Status:      ParcelStatus{ID: 999, Message: "No label"},
		}
		p.Shipment.ID = req.Parcel.Shipment.ID
		if req.Parcel.RequestLabel {
			announce(p)
		}
		m.parcels[p.ID] = p
		out[i] = *p
	}
	return out, nil
}

// GetParcel returns a parcel created earlier.
func (m *MockAPIClient) GetParcel(ctx context.Context, id int) (*Parcel, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnGetParcel != nil {
		return m.OnGetParcel(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.parcels[id]
	if !ok {
		return nil, &APIError{StatusCode: http.StatusNotFound, Message: "No Parcel matches the given query."}
	}
	cp := *p
	return &cp, nil
}

// RequestLabel announces a parcel.
func (m *MockAPIClient) RequestLabel(ctx context.Context, id int) (*Parcel, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnRequestLabel != nil {
		return m.OnRequestLabel(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.parcels[id]
	if !ok {
		return nil, &APIError{StatusCode: http.StatusNotFound, Message: "No Parcel matches the given query."}
	}
	announce(p)
	cp := *p
	return &cp, nil
}

// CancelParcel cancels a parcel created earlier.
func (m *MockAPIClient) CancelParcel(ctx context.Context, id int) (*CancelResponse, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnCancelParcel != nil {
		return m.OnCancelParcel(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.parcels[id]; !ok {
		return nil, &APIError{StatusCode: http.StatusNotFound, Message: "No Parcel matches the given query."}
	}
	delete(m.parcels, id)
	return &CancelResponse{Status: "cancelled", Message: "Parcel has been cancelled"}, nil
}

func announce(p *Parcel) {
	p.TrackingNumber = fmt.Sprintf("3SSEND%07d", p.ID)
	p.Status = ParcelStatus{ID: 1000, Message: "Ready to send"}
	p.Label = &ParcelLabel{
		LabelPrinter:  fmt.Sprintf("https://panel.sendcloud.sc/api/v2/labels/label_printer/%d", p.ID),
		NormalPrinter: []string{fmt.Sprintf("https://panel.sendcloud.sc/api/v2/labels/normal_printer/%d?start_from=0", p.ID)},
	}
}

var _ APIClient = (*MockAPIClient)(nil)
