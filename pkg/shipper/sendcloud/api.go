package sendcloud

import (
	"context"
	"fmt"
	"net/http"
)

// APIClient defines the interface for SendCloud API operations.
// This abstraction allows for mock implementations during testing
// and real implementations in production.
type APIClient interface {
	// GetShippingMethods lists the methods available to a destination country.
	GetShippingMethods(ctx context.Context, req *ShippingMethodsRequest) ([]ShippingMethod, error)

	// GetServicePoint fetches a single service point.
	GetServicePoint(ctx context.Context, id int) (*ServicePoint, error)

	// CreateParcel creates a parcel, with one colli per split package.
	CreateParcel(ctx context.Context, req *ParcelRequest) ([]Parcel, error)

	// GetParcel fetches a parcel by id.
	GetParcel(ctx context.Context, id int) (*Parcel, error)

	// RequestLabel asks for the label of an existing parcel.
	RequestLabel(ctx context.Context, id int) (*Parcel, error)

	// CancelParcel cancels or deletes a parcel.
	CancelParcel(ctx context.Context, id int) (*CancelResponse, error)
}

// ============================================================================
// API Request/Response Types (match SendCloud Panel API v2 structure)
// ============================================================================

// ShippingMethodsRequest filters GET /shipping_methods.
type ShippingMethodsRequest struct {
	ToCountry     string
	SenderAddress int
	ServicePoint  int
}

// ShippingMethodsResponse wraps GET /shipping_methods.
type ShippingMethodsResponse struct {
	ShippingMethods []ShippingMethod `json:"shipping_methods"`
}

// ShippingMethod is a SendCloud shipping method.
type ShippingMethod struct {
	ID                int       `json:"id"`
	Name              string    `json:"name"`
	Carrier           string    `json:"carrier"`
	MinWeight         string    `json:"min_weight"` // kg
	MaxWeight         string    `json:"max_weight"` // kg
	ServicePointInput string    `json:"service_point_input"` // "none" or "required"
	Price             float64   `json:"price"`
	Countries         []Country `json:"countries"`
}

// RequiresServicePoint reports whether parcels must go to a service point.
func (m ShippingMethod) RequiresServicePoint() bool {
	return m.ServicePointInput == "required"
}

// Country is a destination a method ships to.
type Country struct {
	ID        int     `json:"id"`
	ISO2      string  `json:"iso_2"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	LeadTimeH int     `json:"lead_time_hours,omitempty"`
}

// ServicePoint is a SendCloud pick-up location.
type ServicePoint struct {
	ID          int    `json:"id"`
	Code        string `json:"code"`
	Name        string `json:"name"`
	Street      string `json:"street"`
	HouseNumber string `json:"house_number"`
	PostalCode  string `json:"postal_code"`
	City        string `json:"city"`
	Country     string `json:"country"`
	Carrier     string `json:"carrier"`
	IsActive    bool   `json:"is_active"`
}

// ParcelRequest wraps POST /parcels.
type ParcelRequest struct {
	Parcel ParcelPayload `json:"parcel"`
}

// ParcelPayload is the parcel to create.
type ParcelPayload struct {
	Name                    string         `json:"name"`
	CompanyName             string         `json:"company_name,omitempty"`
	Address                 string         `json:"address"`
	Address2                string         `json:"address_2,omitempty"`
	City                    string         `json:"city"`
	PostalCode              string         `json:"postal_code"`
	Country                 string         `json:"country"`
	CountryState            string         `json:"country_state,omitempty"`
	Telephone               string         `json:"telephone,omitempty"`
	Email                   string         `json:"email,omitempty"`
	OrderNumber             string         `json:"order_number"`
	ExternalReference       string         `json:"external_reference,omitempty"`
	Weight                  string         `json:"weight"` // kg per colli
	Length                  string         `json:"length,omitempty"`
	Width                   string         `json:"width,omitempty"`
	Height                  string         `json:"height,omitempty"`
	Quantity                int            `json:"quantity"`
	RequestLabel            bool           `json:"request_label"`
	Shipment                ShipmentMethod `json:"shipment"`
	ToServicePoint          *int           `json:"to_service_point,omitempty"`
	SenderAddress           int            `json:"sender_address,omitempty"`
	TotalOrderValue         string         `json:"total_order_value,omitempty"`
	TotalOrderValueCurrency string         `json:"total_order_value_currency,omitempty"`
}

// ShipmentMethod selects the shipping method of a parcel.
type ShipmentMethod struct {
	ID int `json:"id"`
}

// ParcelResponse wraps single parcel responses.
type ParcelResponse struct {
	Parcel Parcel `json:"parcel"`
}

// ParcelsResponse wraps multi-collo responses.
type ParcelsResponse struct {
	Parcels []Parcel `json:"parcels"`
}

// Parcel is a created parcel.
type Parcel struct {
	ID             int          `json:"id"`
	TrackingNumber string       `json:"tracking_number"`
	TrackingURL    string       `json:"tracking_url,omitempty"`
	Status         ParcelStatus `json:"status"`
	Label          *ParcelLabel `json:"label,omitempty"`
	Weight         string       `json:"weight"`
	OrderNumber    string       `json:"order_number"`
	Shipment       struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"shipment"`
}

// HasLabel reports whether the parcel carries a printable label.
func (p Parcel) HasLabel() bool {
	return p.Label != nil && len(p.Label.NormalPrinter) > 0
}

// ParcelStatus is the parcel processing status.
type ParcelStatus struct {
	ID      int    `json:"id"`
	Message string `json:"message"`
}

// ParcelLabel holds label download URLs.
type ParcelLabel struct {
	LabelPrinter  string   `json:"label_printer"`
	NormalPrinter []string `json:"normal_printer"`
}

// LabelUpdate wraps PUT /parcels.
type LabelUpdate struct {
	Parcel struct {
		ID           int  `json:"id"`
		RequestLabel bool `json:"request_label"`
	} `json:"parcel"`
}

// CancelResponse is returned by POST /parcels/{id}/cancel.
type CancelResponse struct {
	Status  string `json:"status"` // "cancelled", "queued", "deleted"
	Message string `json:"message"`
}

// APIError represents an error from the SendCloud API.
type APIError struct {
	StatusCode int    `json:"code"`
	Message    string `json:"message"`
	Request    string `json:"request,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d: %s", e.StatusCode, e.Message)
}

// LabelNotPermitted reports the 412 SendCloud answers with when a parcel
// may be created but its label cannot be announced yet.
func (e *APIError) LabelNotPermitted() bool {
	return e.StatusCode == http.StatusPreconditionFailed
}

// errorEnvelope is the body of a failed SendCloud call.
type errorEnvelope struct {
	Error APIError `json:"error"`
}
