package fastway

import (
	"context"
	"fmt"
	"net/http"
)

// APIClient defines the interface for Fastway API operations.
// This abstraction allows for mock implementations during testing
// and real implementations in production.
type APIClient interface {
	// Lookup quotes the services of a pickup franchise for one parcel.
	// GET /psc/lookup/{franchise}/{suburb}/{postcode}/{weight}
	Lookup(ctx context.Context, req *LookupRequest) (*LookupResult, error)

	// ListFranchises lists the regional franchises and their services.
	// GET /psc/listrfs
	ListFranchises(ctx context.Context, countryCode int) ([]Franchise, error)

	// CreateConsignment creates a consignment with one item per parcel.
	// POST /consignments
	CreateConsignment(ctx context.Context, req *ConsignmentRequest) (*Consignment, error)

	// GetConsignment returns a consignment created earlier.
	// GET /consignments/{id}
	GetConsignment(ctx context.Context, id int) (*Consignment, error)

	// GetLabels produces the labels of a consignment.
	// GET /consignments/{id}/labels
	GetLabels(ctx context.Context, id int) (*Labels, error)

	// DeleteConsignment deletes a consignment that has not been picked up.
	// DELETE /consignments/{id}
	DeleteConsignment(ctx context.Context, id int) error
}

// ============================================================================
// API Request/Response Types (match Fastway REST API structure)
// ============================================================================

// LookupRequest is a parcel quote request. Weight is in whole kilograms and
// dimensions in centimetres.
type LookupRequest struct {
	Franchise string
	Suburb    string
	Postcode  string
	Weight    int
	Length    int
	Width     int
	Height    int
}

// LookupResult is the quote for one parcel.
type LookupResult struct {
	Franchise             string          `json:"pickuprfcode"`
	DeliveryFranchise     string          `json:"delivery_franchise"`
	DeliveryTimeframeDays string          `json:"delivery_timeframe_days"`
	Services              []QuotedService `json:"services"`
}

// QuotedService is one priced service of a lookup.
type QuotedService struct {
	Type             string  `json:"type"`
	Name             string  `json:"name"`
	LabelColour      string  `json:"labelcolour"`
	TotalPrice       float64 `json:"totalprice_normal"`
	ExcessLabels     int     `json:"excess_labels_required"`
	WeightLimit      float64 `json:"weightlimit"`
	SatchelAvailable bool    `json:"satchel,omitempty"`
}

// Franchise is a regional franchise.
type Franchise struct {
	Code     string             `json:"FranchiseCode"`
	Name     string             `json:"FranchiseName"`
	Phone    string             `json:"Phone,omitempty"`
	Services []FranchiseService `json:"Services"`
}

// FranchiseService is a service a franchise offers.
type FranchiseService struct {
	Code string `json:"LabelColour"`
	Name string `json:"Name"`
}

// ConsignmentRequest creates a consignment.
type ConsignmentRequest struct {
	Franchise    string            `json:"pickupFranchise"`
	To           Contact           `json:"To"`
	Items        []ConsignmentItem `json:"Items"`
	Reference    string            `json:"CustomerReference,omitempty"`
	Instructions string            `json:"SpecialInstruction1,omitempty"`
	CreateLabels bool              `json:"CreateLabels"`
}

// Contact is the receiver of a consignment.
type Contact struct {
	ContactName  string         `json:"ContactName"`
	BusinessName string         `json:"BusinessName,omitempty"`
	PhoneNumber  string         `json:"PhoneNumber,omitempty"`
	Email        string         `json:"Email,omitempty"`
	Address      ContactAddress `json:"Address"`
}

// ContactAddress is a receiver's street address.
type ContactAddress struct {
	StreetAddress string `json:"StreetAddress"`
	Additional    string `json:"AdditionalDetails,omitempty"`
	Locality      string `json:"Locality"`
	StateOrProv   string `json:"StateOrProvince,omitempty"`
	PostalCode    string `json:"PostalCode"`
	Country       string `json:"Country"`
}

// ConsignmentItem is one parcel of a consignment.
type ConsignmentItem struct {
	Quantity    int    `json:"Quantity"`
	Reference   string `json:"Reference,omitempty"`
	PackageType string `json:"PackageType"`
	LabelColour string `json:"LabelColour"`
	WeightDead  int    `json:"WeightDead"`
	Length      int    `json:"Length"`
	Width       int    `json:"Width"`
	Height      int    `json:"Height"`
}

// Consignment is a created consignment.
type Consignment struct {
	ID           int      `json:"ConId"`
	Reference    string   `json:"CustomerReference"`
	Status       string   `json:"Status"`
	LabelNumbers []string `json:"LabelNumbers"`
	LabelURL     string   `json:"LabelUrl"`
	Cost         float64  `json:"Cost"`
}

// HasLabel reports whether the consignment labels have been produced.
func (c *Consignment) HasLabel() bool {
	return c.LabelURL != ""
}

// Labels are the produced labels of a consignment.
type Labels struct {
	ConsignmentID int      `json:"ConId"`
	LabelNumbers  []string `json:"LabelNumbers"`
	URL           string   `json:"Url"`
}

// APIError represents a Fastway API error.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("fastway API error (HTTP %d): %s", e.StatusCode, e.Message)
}

// LabelNotPermitted reports whether labels cannot be produced yet.
func (e *APIError) LabelNotPermitted() bool {
	return e.StatusCode == http.StatusPreconditionFailed
}
