package shipper

import (
	"strings"

	"github.com/tournevent/fulfillment/pkg/rates"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// User-facing option errors.
const (
	MsgAddressRequired = "shipping address is not set"
	MsgCountryRequired = "shipping address country is not set"
	MsgNoItems         = "there are no items to ship"
)

// CheckRequest returns the problems that prevent pricing req.
func CheckRequest(req *OptionRequest) []string {
	var errs []string
	switch {
	case req.To == nil:
		errs = append(errs, MsgAddressRequired)
	case req.To.CountryCode == "" && req.To.CountryID == 0:
		errs = append(errs, MsgCountryRequired)
	}
	if len(req.Items) == 0 {
		errs = append(errs, MsgNoItems)
	}
	return errs
}

// BaseWeight is the rate table weight of items packed in p, in base units.
// Free shipping items weigh nothing and an all-free group weighs zero.
func BaseWeight(items []Item, p *PackagingOption) float64 {
	var w float64
	allFree := len(items) > 0
	for _, it := range items {
		if it.FreeShipping {
			continue
		}
		allFree = false
		qty := it.Quantity
		if qty <= 0 {
			qty = 1
		}
		w += it.Weight * float64(qty)
	}
	if p != nil && !allFree {
		w += p.Weight
	}
	return w
}

// Lookup builds the rate table lookup for one carrier method.
func (r *OptionRequest) Lookup(b rates.Binding, weight, volume float64) rates.Lookup {
	l := rates.Lookup{
		StoreID:          r.StoreID,
		VendorID:         r.VendorID,
		WarehouseID:      r.WarehouseID,
		CarrierID:        b.Carrier.ID,
		ShippingMethodID: b.Method.ID,
		Weight:           weight,
		Subtotal:         r.Subtotal,
		Volume:           volume,
	}
	if r.To != nil {
		l.CountryID = r.To.CountryID
		l.StateProvinceID = r.To.StateProvinceID
		l.Zip = r.To.PostalCode
	}
	return l
}

// OrderLookup builds the rate table lookup used to cost a created shipment.
func (o *Order) Lookup(b rates.Binding, weight, volume float64) rates.Lookup {
	return rates.Lookup{
		StoreID:          o.StoreID,
		VendorID:         o.VendorID,
		WarehouseID:      o.WarehouseID,
		CarrierID:        b.Carrier.ID,
		ShippingMethodID: b.Method.ID,
		CountryID:        o.ShippingAddress.CountryID,
		StateProvinceID:  o.ShippingAddress.StateProvinceID,
		Zip:              o.ShippingAddress.PostalCode,
		Weight:           weight,
		Subtotal:         o.Subtotal,
		Volume:           volume,
	}
}

// ParseServiceCode splits a service code into the base service and its
// add-on option codes, e.g. "DOM.XP+DC+SO" is DOM.XP with DC and SO.
func ParseServiceCode(code string) (string, []string) {
	parts := strings.Split(strings.TrimSpace(code), "+")
	base := strings.TrimSpace(parts[0])
	var addons []string
	for _, p := range parts[1:] {
		if p = strings.TrimSpace(p); p != "" {
			addons = append(addons, p)
		}
	}
	return base, addons
}

// Tracer returns t, or a no-op tracer when t is nil.
func Tracer(t trace.Tracer) trace.Tracer {
	if t == nil {
		return noop.NewTracerProvider().Tracer("")
	}
	return t
}

// LogFields are the fields every adapter attaches to shipment log lines.
func LogFields(carrier, operation string, details *ShipmentDetails) []zap.Field {
	fields := []zap.Field{
		zap.String("carrier", carrier),
		zap.String("operation", operation),
	}
	if details != nil {
		fields = append(fields,
			zap.Int64("order_id", details.OrderID),
			zap.Int64("shipment_id", details.ID),
		)
	}
	return fields
}
