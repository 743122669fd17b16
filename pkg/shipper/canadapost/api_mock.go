package canadapost

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockAPIClient is a mock implementation of APIClient for testing.
// Without hooks it behaves like a small in-memory Canada Post account.
type MockAPIClient struct {
	SimulateErrors  bool
	SimulateLatency time.Duration

	OnGetRates          func(ctx context.Context, req *RatesRequest) ([]Quote, error)
	OnGetServices       func(ctx context.Context, country string) ([]Service, error)
	OnCreateShipment    func(ctx context.Context, req *ShipmentRequest) (*Shipment, error)
	OnGetShipment       func(ctx context.Context, shipmentID string) (*Shipment, error)
	OnGetLabel          func(ctx context.Context, shipmentID string) (*Label, error)
	OnVoidShipment      func(ctx context.Context, shipmentID string) error
	OnTransmitShipments func(ctx context.Context, req *TransmitRequest) ([]string, error)
	OnGetManifest       func(ctx context.Context, link string) (*ManifestInfo, error)

	mu        sync.Mutex
	shipments map[string]*Shipment
	groups    map[string][]string
	manifests map[string]*ManifestInfo
	created   int
}

// NewMockAPIClient creates a new mock API client with default behavior.
func NewMockAPIClient() *MockAPIClient {
	return &MockAPIClient{
		shipments: make(map[string]*Shipment),
		groups:    make(map[string][]string),
		manifests: make(map[string]*ManifestInfo),
	}
}

// CreatedShipments returns how many CreateShipment calls reached the account.
func (m *MockAPIClient) CreatedShipments() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.created
}

func (m *MockAPIClient) simulate() error {
	if m.SimulateLatency > 0 {
		time.Sleep(m.SimulateLatency)
	}
	if m.SimulateErrors {
		return &APIError{StatusCode: http.StatusServiceUnavailable, Code: "MOCK_ERROR", Description: "Simulated API error"}
	}
	return nil
}

var mockServices = map[string][]Service{
	"CA": {
		{Code: "DOM.RP", Name: "Regular Parcel"},
		{Code: "DOM.EP", Name: "Expedited Parcel"},
		{Code: "DOM.XP", Name: "Xpresspost"},
	},
	"US": {
		{Code: "USA.EP", Name: "Expedited Parcel USA"},
		{Code: "USA.XP", Name: "Xpresspost USA"},
	},
	"": {
		{Code: "INT.IP.AIR", Name: "International Parcel Air"},
		{Code: "INT.XP", Name: "Xpresspost International"},
	},
}

// GetRates quotes the services of the destination country. The price grows
// by 1.00 per kilogram and by 2.00 per add-on option.
func (m *MockAPIClient) GetRates(ctx context.Context, req *RatesRequest) ([]Quote, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnGetRates != nil {
		return m.OnGetRates(ctx, req)
	}
	base := map[string]float64{
		"DOM.RP": 10.50, "DOM.EP": 12.25, "DOM.XP": 18.40,
		"USA.EP": 21.00, "USA.XP": 29.50,
		"INT.IP.AIR": 42.00, "INT.XP": 55.00,
	}
	transit := map[string]int{
		"DOM.RP": 5, "DOM.EP": 4, "DOM.XP": 2,
		"USA.EP": 6, "USA.XP": 3,
		"INT.IP.AIR": 10, "INT.XP": 6,
	}
	svcs := servicesFor(req.Destination.CountryCode)
	out := make([]Quote, 0, len(svcs))
	for _, s := range svcs {
		price := base[s.Code] + req.Weight + 2*float64(len(req.Options))
		out = append(out, Quote{
			ServiceCode: s.Code,
			ServiceName: s.Name,
			Base:        price,
			Due:         price,
			TransitDays: transit[s.Code],
		})
	}
	return out, nil
}

// GetServices lists the services of a country, or every service.
func (m *MockAPIClient) GetServices(ctx context.Context, country string) ([]Service, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnGetServices != nil {
		return m.OnGetServices(ctx, country)
	}
	if country != "" {
		return servicesFor(country), nil
	}
	var out []Service
	for _, key := range []string{"CA", "US", ""} {
		out = append(out, mockServices[key]...)
	}
	return out, nil
}

// CreateShipment creates a mock shipment.
func (m *MockAPIClient) CreateShipment(ctx context.Context, req *ShipmentRequest) (*Shipment, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnCreateShipment != nil {
		return m.OnCreateShipment(ctx, req)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.created++
	s := &Shipment{
		ID:      fmt.Sprintf("%d", 340000000000+m.created),
		Status:  "created",
		GroupID: req.GroupID,
	}
	s.TrackingPIN = "7023" + s.ID[len(s.ID)-8:]
	if req.WithLabel {
		produceLabel(s)
	}
	m.shipments[s.ID] = s
	if req.GroupID != "" {
		m.groups[req.GroupID] = append(m.groups[req.GroupID], s.ID)
	}
	cp := *s
	return &cp, nil
}

// GetShipment returns a shipment created earlier.
func (m *MockAPIClient) GetShipment(ctx context.Context, shipmentID string) (*Shipment, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnGetShipment != nil {
		return m.OnGetShipment(ctx, shipmentID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shipments[shipmentID]
	if !ok {
		return nil, notFound(shipmentID)
	}
	cp := *s
	return &cp, nil
}

// GetLabel produces the label of a shipment created earlier.
func (m *MockAPIClient) GetLabel(ctx context.Context, shipmentID string) (*Label, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnGetLabel != nil {
		return m.OnGetLabel(ctx, shipmentID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shipments[shipmentID]
	if !ok {
		return nil, notFound(shipmentID)
	}
	produceLabel(s)
	return &Label{ShipmentID: s.ID, URL: s.LabelURL, ContentType: "application/pdf", Data: []byte("%PDF-1.4 mock")}, nil
}

// VoidShipment removes a shipment created earlier.
func (m *MockAPIClient) VoidShipment(ctx context.Context, shipmentID string) error {
	if err := m.simulate(); err != nil {
		return err
	}
	if m.OnVoidShipment != nil {
		return m.OnVoidShipment(ctx, shipmentID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shipments[shipmentID]
	if !ok {
		return notFound(shipmentID)
	}
	if s.Status == "transmitted" {
		return &APIError{StatusCode: http.StatusBadRequest, Code: "8064", Description: "Shipment has already been transmitted"}
	}
	delete(m.shipments, shipmentID)
	return nil
}

// TransmitShipments produces one manifest per call.
func (m *MockAPIClient) TransmitShipments(ctx context.Context, req *TransmitRequest) ([]string, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnTransmitShipments != nil {
		return m.OnTransmitShipments(ctx, req)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int
	for _, g := range req.GroupIDs {
		for _, id := range m.groups[g] {
			if s, ok := m.shipments[id]; ok {
				s.Status = "transmitted"
				count++
			}
		}
		delete(m.groups, g)
	}
	if count == 0 {
		return nil, &APIError{StatusCode: http.StatusBadRequest, Code: "7291", Description: "No shipments to transmit"}
	}
	po := strings.ToUpper(uuid.New().String()[:8])
	link := "https://ct.soa-gw.canadapost.ca/rs/manifest/" + po
	m.manifests[link] = &ManifestInfo{
		PONumber:    po,
		ArtifactURL: "https://ct.soa-gw.canadapost.ca/rs/artifact/manifest/" + po + "/0",
		TotalDue:    float64(count) * 10.50,
	}
	return []string{link}, nil
}

// GetManifest returns a manifest produced by TransmitShipments.
func (m *MockAPIClient) GetManifest(ctx context.Context, link string) (*ManifestInfo, error) {
	if err := m.simulate(); err != nil {
		return nil, err
	}
	if m.OnGetManifest != nil {
		return m.OnGetManifest(ctx, link)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	mf, ok := m.manifests[link]
	if !ok {
		return nil, notFound(link)
	}
	cp := *mf
	return &cp, nil
}

func servicesFor(country string) []Service {
	switch strings.ToUpper(country) {
	case "CA", "":
		return mockServices["CA"]
	case "US":
		return mockServices["US"]
	default:
		return mockServices[""]
	}
}

func produceLabel(s *Shipment) {
	s.LabelURL = "https://ct.soa-gw.canadapost.ca/rs/artifact/mock/" + s.ID + "/0"
}

func notFound(id string) error {
	return &APIError{StatusCode: http.StatusNotFound, Code: "9999", Description: fmt.Sprintf("%s was not found", id)}
}

var _ APIClient = (*MockAPIClient)(nil)
