package server

import (
	"time"

	"github.com/tournevent/fulfillment/pkg/fulfillment"
	"github.com/tournevent/fulfillment/pkg/shipper"
)

// Request and response bodies.

type addressInput struct {
	Name            string `json:"name"`
	Company         string `json:"company,omitempty"`
	Line1           string `json:"line1"`
	Line2           string `json:"line2,omitempty"`
	City            string `json:"city"`
	StateCode       string `json:"stateCode,omitempty"`
	PostalCode      string `json:"postalCode"`
	CountryCode     string `json:"countryCode"`
	CountryID       int64  `json:"countryId,omitempty"`
	StateProvinceID int64  `json:"stateProvinceId,omitempty"`
	Phone           string `json:"phone,omitempty"`
	Email           string `json:"email,omitempty"`
}

func (a *addressInput) toShipper() *shipper.Address {
	if a == nil {
		return nil
	}
	return &shipper.Address{
		Name:            a.Name,
		Company:         a.Company,
		Line1:           a.Line1,
		Line2:           a.Line2,
		City:            a.City,
		StateCode:       a.StateCode,
		PostalCode:      a.PostalCode,
		CountryCode:     a.CountryCode,
		CountryID:       a.CountryID,
		StateProvinceID: a.StateProvinceID,
		Phone:           a.Phone,
		Email:           a.Email,
	}
}

type itemInput struct {
	SKU          string  `json:"sku"`
	Name         string  `json:"name"`
	Quantity     int     `json:"quantity"`
	Weight       float64 `json:"weight"`
	Length       float64 `json:"length"`
	Width        float64 `json:"width"`
	Height       float64 `json:"height"`
	Price        float64 `json:"price"`
	FreeShipping bool    `json:"freeShipping,omitempty"`
}

func (it itemInput) toShipper() shipper.Item {
	return shipper.Item{
		SKU:          it.SKU,
		Name:         it.Name,
		Quantity:     it.Quantity,
		Weight:       it.Weight,
		Length:       it.Length,
		Width:        it.Width,
		Height:       it.Height,
		Price:        it.Price,
		FreeShipping: it.FreeShipping,
	}
}

type pickupPointInput struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Carrier string `json:"carrier,omitempty"`
}

func (p *pickupPointInput) toShipper() *shipper.PickupPoint {
	if p == nil {
		return nil
	}
	return &shipper.PickupPoint{ID: p.ID, Name: p.Name, Carrier: p.Carrier}
}

type groupInput struct {
	StoreID     int64             `json:"storeId"`
	VendorID    int64             `json:"vendorId"`
	WarehouseID int64             `json:"warehouseId"`
	From        *addressInput     `json:"from,omitempty"`
	To          *addressInput     `json:"to"`
	Items       []itemInput       `json:"items"`
	Subtotal    float64           `json:"subtotal"`
	Currency    string            `json:"currency"`
	Packaging   string            `json:"packaging,omitempty"`
	PickupPoint *pickupPointInput `json:"pickupPoint,omitempty"`
}

type optionsRequest struct {
	Groups []*groupInput `json:"groups"`
}

type optionOutput struct {
	Name                string  `json:"name"`
	Description         string  `json:"description,omitempty"`
	Rate                float64 `json:"rate"`
	Currency            string  `json:"currency,omitempty"`
	TransitDays         int     `json:"transitDays,omitempty"`
	Carrier             string  `json:"carrier"`
	ServiceCode         string  `json:"serviceCode,omitempty"`
	RequiresPickupPoint bool    `json:"requiresPickupPoint,omitempty"`
}

type optionsResponse struct {
	Options []optionOutput `json:"options"`
	Errors  []string       `json:"errors,omitempty"`
}

func toOptionsResponse(res *shipper.OptionResult) optionsResponse {
	out := optionsResponse{Options: make([]optionOutput, 0, len(res.Options)), Errors: res.Errors}
	for _, o := range res.Options {
		out.Options = append(out.Options, optionOutput{
			Name:                o.Name,
			Description:         o.Description,
			Rate:                o.Rate,
			Currency:            o.Currency,
			TransitDays:         o.TransitDays,
			Carrier:             o.Carrier,
			ServiceCode:         o.ServiceCode,
			RequiresPickupPoint: o.RequiresPickupPoint,
		})
	}
	return out
}

type orderInput struct {
	StoreID         int64             `json:"storeId"`
	VendorID        int64             `json:"vendorId"`
	WarehouseID     int64             `json:"warehouseId"`
	Reference       string            `json:"reference,omitempty"`
	ShippingMethod  string            `json:"shippingMethod"`
	ShippingAddress *addressInput     `json:"shippingAddress"`
	Items           []itemInput       `json:"items"`
	Subtotal        float64           `json:"subtotal"`
	Currency        string            `json:"currency"`
	PickupPoint     *pickupPointInput `json:"pickupPoint,omitempty"`
}

func (o *orderInput) toShipper(id int64) *shipper.Order {
	order := &shipper.Order{
		ID:                 id,
		StoreID:            o.StoreID,
		VendorID:           o.VendorID,
		WarehouseID:        o.WarehouseID,
		Reference:          o.Reference,
		ShippingMethodName: o.ShippingMethod,
		Subtotal:           o.Subtotal,
		Currency:           o.Currency,
		PickupPoint:        o.PickupPoint.toShipper(),
	}
	if a := o.ShippingAddress.toShipper(); a != nil {
		order.ShippingAddress = *a
	}
	for _, it := range o.Items {
		order.Items = append(order.Items, it.toShipper())
	}
	return order
}

type createShipmentRequest struct {
	OrderID           int64      `json:"orderId"`
	GroupID           string     `json:"groupId,omitempty"`
	Currency          string     `json:"currency,omitempty"`
	Packaging         string     `json:"packaging,omitempty"`
	ScheduledShipDate *time.Time `json:"scheduledShipDate,omitempty"`
}

type shipmentOutput struct {
	ID                int64      `json:"id"`
	OrderID           int64      `json:"orderId"`
	State             string     `json:"state"`
	LabelStatus       string     `json:"labelStatus,omitempty"`
	Carrier           string     `json:"carrier,omitempty"`
	TrackingNumber    string     `json:"trackingNumber,omitempty"`
	LabelURL          string     `json:"labelUrl,omitempty"`
	ManifestURL       string     `json:"manifestUrl,omitempty"`
	Cost              float64    `json:"cost,omitempty"`
	Currency          string     `json:"currency,omitempty"`
	ScheduledShipDate *time.Time `json:"scheduledShipDate,omitempty"`
	FailureReason     string     `json:"failureReason,omitempty"`
	LastError         string     `json:"lastError,omitempty"`
	Attempts          int        `json:"attempts"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

func toShipmentOutput(s *fulfillment.Shipment) shipmentOutput {
	return shipmentOutput{
		ID:                s.ID,
		OrderID:           s.OrderID,
		State:             string(s.State),
		LabelStatus:       string(s.LabelStatus),
		Carrier:           s.Carrier,
		TrackingNumber:    s.TrackingNumber,
		LabelURL:          s.LabelURL,
		ManifestURL:       s.ManifestURL,
		Cost:              s.Cost,
		Currency:          s.Currency,
		ScheduledShipDate: s.ScheduledShipDate,
		FailureReason:     s.FailureReason,
		LastError:         s.LastError,
		Attempts:          s.Attempts,
		UpdatedAt:         s.UpdatedAt,
	}
}

type cancelResponse struct {
	Found bool `json:"found"`
}

type manifestResponse struct {
	ID          string  `json:"id,omitempty"`
	URL         string  `json:"url,omitempty"`
	Cost        float64 `json:"cost,omitempty"`
	ShipmentIDs []int64 `json:"shipmentIds"`
}

type validateResponse struct {
	Report     string   `json:"report"`
	Mismatches []string `json:"mismatches"`
}

type syncResponse struct {
	CarriersCreated int `json:"carriersCreated"`
	MethodsCreated  int `json:"methodsCreated"`
	RecordsCreated  int `json:"recordsCreated"`
	Skipped         int `json:"skipped"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
