package fastway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// MockAPIClient is a mock implementation of APIClient for testing.
// Without hooks it behaves like a small in-memory Fastway account.
type MockAPIClient struct {
	SimulateErrors  bool
	SimulateLatency time.Duration

	OnLookup            func(ctx context.Context, req *LookupRequest) (*LookupResult, error)
	OnListFranchises    func(ctx context.Context, countryCode int) ([]Franchise, error)
	OnCreateConsignment func(ctx context.Context, req *ConsignmentRequest) (*Consignment, error)
	OnGetConsignment    func(ctx context.Context, id int) (*Consignment, error)
	OnGetLabels         func(ctx context.Context, id int) (*Labels, error)
	OnDeleteConsignment func(ctx context.Context, id int) error

	mu           sync.Mutex
	consignments map[int]*Consignment
	created      int
}

// NewMockAPIClient creates a new mock API client with default behavior.
func NewMockAPIClient() *MockAPIClient {
	return &MockAPIClient{
		consignments: make(map[int]*Consignment),
	}
}

// CreatedConsignments returns how many CreateConsignment calls reached the
// account.
func (m *MockAPIClient) CreatedConsignments() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.created
}

func (m *MockAPIClient) simulate() error {
	if m.SimulateLatency > 0 {
		time.Sleep(m.SimulateLatency)
	}
	if m.SimulateErrors {
		return &APIError{StatusCode: http.StatusServiceUnavailable, Message: "Simulated API error"}
	}
	return nil
}

var mockFranchises = []Franchise{
	{Code: "SYD", Name: "Sydney", Phone: "02 9737 8288"},
	{Code: "MEL", Name: "Melbourne", Phone: "03 9330 7888"},
}

var mockServices = []FranchiseService{
	{Code: "RED", Name: "Parcel Red"},
	{Code: "ORANGE", Name: "Parcel Orange"},
	{Code: "GREEN", Name: "Parcel Green"},
	{Code: "GREY", Name: "Parcel Grey"},
}

var mockPrices = map[string]float64{
	"RED": 7.95, "ORANGE": 9.95, "GREEN": 12.45, "GREY": 18.90,
}

// Lookup quotes every service of a known franchise. The price grows by
// 1.00 per kilogram.
func (m *MockAPIClient) Lookup(ctx context.Context, req *LookupRequest) (*LookupResult, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnLookup != nil {
		return m.OnLookup(ctx, req)
	}
	if franchise(req.Franchise) == nil {
		return nil, &APIError{StatusCode: http.StatusNotFound, Message: fmt.Sprintf("franchise %s was not found", req.Franchise)}
	}
	res := &LookupResult{
		Franchise:             req.Franchise,
		DeliveryFranchise:     req.Franchise,
		DeliveryTimeframeDays: "2-3",
	}
	for _, s := range mockServices {
		res.Services = append(res.Services, QuotedService{
			Type:        "Parcel",
			Name:        s.Name,
			LabelColour: s.Code,
			TotalPrice:  mockPrices[s.Code] + float64(req.Weight),
			WeightLimit: 25,
		})
	}
	return res, nil
}

// ListFranchises lists the mock franchises with their services.
func (m *MockAPIClient) ListFranchises(ctx context.Context, countryCode int) ([]Franchise, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnListFranchises != nil {
		return m.OnListFranchises(ctx, countryCode)
	}
	out := make([]Franchise, len(mockFranchises))
	for i, f := range mockFranchises {
		f.Services = append([]FranchiseService(nil), mockServices...)
		out[i] = f
	}
	return out, nil
}

// CreateConsignment creates a mock consignment with one label per item.
func (m *MockAPIClient) CreateConsignment(ctx context.Context, req *ConsignmentRequest) (*Consignment, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnCreateConsignment != nil {
		return m.OnCreateConsignment(ctx, req)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.created++
	c := &Consignment{
		ID:        1000 + m.created,
		Reference: req.Reference,
		Status:    "created",
	}
	for i, item := range req.Items {
		c.LabelNumbers = append(c.LabelNumbers, fmt.Sprintf("%s%08d", item.LabelColour[:min(2, len(item.LabelColour))], c.ID*100+i+1))
		c.Cost += mockPrices[item.LabelColour] + float64(item.WeightDead)
	}
	if req.CreateLabels {
		produceLabel(c)
	}
	m.consignments[c.ID] = c
	return clone(c), nil
}

// GetConsignment returns a consignment created earlier.
func (m *MockAPIClient) GetConsignment(ctx context.Context, id int) (*Consignment, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnGetConsignment != nil {
		return m.OnGetConsignment(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.consignments[id]
	if !ok {
		return nil, notFound(id)
	}
	return clone(c), nil
}

// GetLabels produces the labels of a consignment created earlier.
func (m *MockAPIClient) GetLabels(ctx context.Context, id int) (*Labels, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnGetLabels != nil {
		return m.OnGetLabels(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.consignments[id]
	if !ok {
		return nil, notFound(id)
	}
	produceLabel(c)
	return &Labels{ConsignmentID: c.ID, LabelNumbers: append([]string(nil), c.LabelNumbers...), URL: c.LabelURL}, nil
}

// DeleteConsignment removes a consignment created earlier.
func (m *MockAPIClient) DeleteConsignment(ctx context.Context, id int) error {
	if err := m.simulate(); err != nil {
		return err
	}
	if m.OnDeleteConsignment != nil {
		return m.OnDeleteConsignment(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.consignments[id]; !ok {
		return notFound(id)
	}
	delete(m.consignments, id)
	return nil
}

func franchise(code string) *Franchise {
	for i := range mockFranchises {
		if strings.EqualFold(mockFranchises[i].Code, code) {
			return &mockFranchises[i]
		}
	}
	return nil
}

func produceLabel(c *Consignment) {
	c.LabelURL = fmt.Sprintf("https://api.fastway.org/v6/consignments/%d/labels.pdf", c.ID)
}

func clone(c *Consignment) *Consignment {
	cp := *c
	cp.LabelNumbers = append([]string(nil), c.LabelNumbers...)
	return &cp
}

func notFound(id int) error {
	return &APIError{StatusCode: http.StatusNotFound, Message: fmt.Sprintf("consignment %d was not found", id)}
}

var _ APIClient = (*MockAPIClient)(nil)
