package shipper

import (
	"time"

	"github.com/tournevent/fulfillment/pkg/units"
)

// Address represents a shipping address. CountryID and StateProvinceID are
// the rate table keys; the codes are what carriers receive.
type Address struct {
	Name            string
	Company         string
	Line1           string
	Line2           string
	City            string
	StateCode       string // e.g., "ON", "NH"
	PostalCode      string
	CountryCode     string // ISO 3166-1 alpha-2, e.g., "CA", "NL"
	CountryID       int64
	StateProvinceID int64
	Phone           string
	Email           string
}

// Item is one order line in the store's base units.
type Item struct {
	SKU          string
	Name         string
	Quantity     int
	Weight       float64
	Length       float64
	Width        float64
	Height       float64
	Price        float64
	FreeShipping bool
	// HSCode and OriginCountry are only needed for customs documents.
	HSCode        string
	OriginCountry string
}

// PackagingOption is a predefined box in base units.
type PackagingOption struct {
	Name   string
	Length float64
	Width  float64
	Height float64
	Weight float64
}

// PickupPoint is a service point chosen at checkout. It travels with the
// order as opaque metadata.
type PickupPoint struct {
	ID      string
	Name    string
	Carrier string
	Address Address
}

// OptionRequest is one package group to price.
type OptionRequest struct {
	StoreID     int64
	VendorID    int64
	WarehouseID int64

	// From is the origin; when nil the carrier's default sender is used.
	From *Address
	To   *Address

	Items     []Item
	Subtotal  float64
	Currency  string
	Packaging *PackagingOption

	PickupPoint *PickupPoint
}

// Option is a priced shipping option.
type Option struct {
	Name             string
	Description      string
	Rate             float64
	Currency         string
	TransitDays      int
	DisplayOrder     int
	Carrier          string
	ServiceCode      string
	ShippingMethodID int64
	// RequiresPickupPoint is set for methods delivered to a service point.
	RequiresPickupPoint bool
}

// OptionResult carries the options or the reasons none could be offered.
type OptionResult struct {
	Options []Option
	Errors  []string
}

// AddError appends a user-facing error.
func (r *OptionResult) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
}

// Success reports whether the result carries no errors.
func (r *OptionResult) Success() bool {
	return len(r.Errors) == 0
}

// Order is the host order a shipment is created for.
type Order struct {
	ID                 int64
	StoreID            int64
	VendorID           int64
	WarehouseID        int64
	Reference          string
	ShippingMethodName string
	ShippingAddress    Address
	Items              []Item
	Subtotal           float64
	Currency           string
	PickupPoint        *PickupPoint
}

// ShipmentDetails are the carrier-facing fields of a shipment row.
type ShipmentDetails struct {
	ID                int64
	OrderID           int64
	Carrier           string
	ExternalID        string
	TrackingNumber    string
	LabelURL          string
	ManifestURL       string
	GroupID           string
	Cost              float64
	Currency          string
	ScheduledShipDate *time.Time
	PackagingOption   *PackagingOption
	LabelPending      bool
}

// ClearExternal drops every identifier the provider issued.
func (d *ShipmentDetails) ClearExternal() {
	d.ExternalID = ""
	d.TrackingNumber = ""
	d.LabelURL = ""
	d.LabelPending = false
}

// ShipmentOutcome is the result of CreateShipment.
type ShipmentOutcome struct {
	TrackingNumber string
	ExternalID     string
	LabelURI       string
	Cost           float64
	LabelPending   bool
	// Resumed is set when an earlier partially created order was reused.
	Resumed bool
}

// Manifest is a transmitted end-of-day manifest.
type Manifest struct {
	ID          string
	URL         string
	Cost        float64
	ShipmentIDs []int64
}

// UnitItems converts order items to the units package form.
func UnitItems(items []Item) []units.Item {
	out := make([]units.Item, len(items))
	for i, it := range items {
		out[i] = units.Item{
			Weight:       it.Weight,
			Length:       it.Length,
			Width:        it.Width,
			Height:       it.Height,
			Quantity:     it.Quantity,
			FreeShipping: it.FreeShipping,
		}
	}
	return out
}

// Box converts a packaging option to the units package form.
func (p *PackagingOption) Box() *units.Box {
	if p == nil {
		return nil
	}
	return &units.Box{Length: p.Length, Width: p.Width, Height: p.Height, Weight: p.Weight}
}
