package canadapost

import (
	"context"
	"fmt"
	"net/http"
)

// APIClient defines the interface for Canada Post API operations.
// This abstraction allows for mock implementations during testing
// and real implementations in production.
type APIClient interface {
	// GetRates quotes every service for one parcel.
	GetRates(ctx context.Context, req *RatesRequest) ([]Quote, error)

	// GetServices discovers the services offered to a destination country.
	// An empty country lists every service.
	GetServices(ctx context.Context, country string) ([]Service, error)

	// CreateShipment creates a shipment for one parcel.
	CreateShipment(ctx context.Context, req *ShipmentRequest) (*Shipment, error)

	// GetShipment returns a shipment created earlier.
	GetShipment(ctx context.Context, shipmentID string) (*Shipment, error)

	// GetLabel fetches the label artifact of a shipment.
	GetLabel(ctx context.Context, shipmentID string) (*Label, error)

	// VoidShipment voids a shipment that has not been transmitted.
	VoidShipment(ctx context.Context, shipmentID string) error

	// TransmitShipments closes the given groups and returns the links of
	// the manifests produced.
	TransmitShipments(ctx context.Context, req *TransmitRequest) ([]string, error)

	// GetManifest returns the manifest behind a link from TransmitShipments.
	GetManifest(ctx context.Context, link string) (*ManifestInfo, error)
}

// ============================================================================
// API Request/Response Types (match Canada Post REST/XML API structure)
// ============================================================================

// RatesRequest is a rate quote request for one parcel.
type RatesRequest struct {
	CustomerNumber string
	ContractID     string
	OriginPostal   string
	Weight         float64
	Dimensions     *Dimensions
	Destination    Destination
	Options        []string
}

// Dimensions represents package dimensions in centimetres.
type Dimensions struct {
	Length float64
	Width  float64
	Height float64
}

// Destination is where a quoted parcel goes. PostalCode is ignored for
// international destinations.
type Destination struct {
	CountryCode string
	PostalCode  string
}

// Quote is the price of one service for one parcel.
type Quote struct {
	ServiceCode string
	ServiceName string
	Base        float64
	Due         float64
	TransitDays int
	Guaranteed  bool
}

// Service is a catalogue entry from service discovery.
type Service struct {
	Code string
	Name string
}

// Address is a sender or destination address.
type Address struct {
	Name         string
	Company      string
	Phone        string
	AddressLine1 string
	AddressLine2 string
	City         string
	Province     string
	PostalCode   string
	CountryCode  string
}

// ShipmentRequest creates a shipment for one parcel.
type ShipmentRequest struct {
	GroupID     string
	ContractID  string
	ServiceCode string
	Options     []string
	Sender      Address
	Destination Address
	Weight      float64
	Dimensions  *Dimensions
	Reference   string
	// WithLabel asks for the label to be produced with the shipment.
	WithLabel bool
}

// Shipment is a created shipment.
type Shipment struct {
	ID          string
	Status      string
	TrackingPIN string
	GroupID     string
	LabelURL    string
}

// HasLabel reports whether the label artifact is available.
func (s *Shipment) HasLabel() bool {
	return s.LabelURL != ""
}

// Label is a label artifact.
type Label struct {
	ShipmentID  string
	URL         string
	ContentType string
	Data        []byte
}

// TransmitRequest closes groups of contract shipments.
type TransmitRequest struct {
	GroupIDs        []string
	ShippingPoint   string
	ManifestAddress Address
}

// ManifestInfo is a transmitted manifest.
type ManifestInfo struct {
	PONumber    string
	ArtifactURL string
	TotalDue    float64
}

// APIError represents a Canada Post API error.
type APIError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("canada post API error %s (HTTP %d): %s", e.Code, e.StatusCode, e.Description)
}

// LabelNotPermitted reports whether the shipment cannot be labelled yet.
func (e *APIError) LabelNotPermitted() bool {
	return e.StatusCode == http.StatusPreconditionFailed
}
