// Package sendcloud provides integration with the SendCloud parcel and
// service point API.
package sendcloud

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tournevent/fulfillment/pkg/rates"
	"github.com/tournevent/fulfillment/pkg/shipper"
	"github.com/tournevent/fulfillment/pkg/units"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const carrierName = "sendcloud"

// Policy is the unit policy SendCloud parcels are converted with.
var Policy = units.Policy{
	WeightUnit:     units.Kilogram,
	DimensionUnit:  units.Centimetre,
	WeightStep:     0.001,
	WeightRounding: units.RoundUp,
	MinWeight:      0.001,
	MaxWeight:      50,
	DimensionStep:  1,
	MinDimension:   1,
	MaxLength:      175,
}

var recipientFields = []shipper.AddressField{
	shipper.FieldName, shipper.FieldLine1, shipper.FieldCity, shipper.FieldPostalCode, shipper.FieldCountry,
}

// Config holds SendCloud configuration.
type Config struct {
	APIKey          string
	APISecret       string
	BaseURL         string
	ServicePointURL string
	SenderAddressID int
	// DefaultRecipient fills recipient fields the order leaves blank.
	DefaultRecipient shipper.Address
	Currency         string
	UseMock          bool // When true, uses mock API client
}

// Client is the SendCloud carrier adapter.
// It implements the shipper.Carrier interface and delegates
// API calls to the underlying APIClient (mock or HTTP).
type Client struct {
	config    Config
	apiClient APIClient
	deps      shipper.Deps
	logger    *otelzap.Logger
	tracer    trace.Tracer
}

// New creates a new SendCloud client.
// If cfg.UseMock is true, it uses a mock API client for testing.
// Otherwise, it uses the real HTTP API client.
func New(cfg Config, deps shipper.Deps, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	var apiClient APIClient

	if cfg.UseMock {
		apiClient = NewMockAPIClient()
	} else {
		apiClient = NewHTTPAPIClient(HTTPAPIClientConfig{
			BaseURL:         cfg.BaseURL,
			ServicePointURL: cfg.ServicePointURL,
			APIKey:          cfg.APIKey,
			APISecret:       cfg.APISecret,
			Timeout:         30 * time.Second,
		})
	}

	return NewWithAPIClient(cfg, apiClient, deps, logger, tracer)
}

// NewWithAPIClient creates a new SendCloud client with a custom API client.
// This is useful for injecting mock clients in tests.
func NewWithAPIClient(cfg Config, apiClient APIClient, deps shipper.Deps, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	if cfg.Currency == "" {
		cfg.Currency = "EUR"
	}
	return &Client{
		config:    cfg,
		apiClient: apiClient,
		deps:      deps,
		logger:    logger,
		tracer:    shipper.Tracer(tracer),
	}
}

// Name returns the carrier name.
func (c *Client) Name() string {
	return carrierName
}

// GetOptions prices every live SendCloud method that has a local shipping
// method for the destination and parcel weight.
func (c *Client) GetOptions(ctx context.Context, req *shipper.OptionRequest) (*shipper.OptionResult, error) {
	ctx, span := c.tracer.Start(ctx, "sendcloud.GetOptions")
	defer span.End()

	res := &shipper.OptionResult{}
	if errs := shipper.CheckRequest(req); len(errs) > 0 {
		res.Errors = errs
		return res, nil
	}

	parcel, err := units.BuildParcel(shipper.UnitItems(req.Items), req.Packaging.Box(), c.deps.Units, Policy)
	if err != nil {
		return nil, fmt.Errorf("build parcel: %w", err)
	}
	parcels := units.Split(parcel, Policy)
	country := req.To.CountryCode

	c.logger.Info("Getting SendCloud options",
		zap.String("country", country),
		zap.Int("parcel_count", len(parcels)),
		zap.Float64("weight", parcel.Weight),
	)
	span.SetAttributes(attribute.String("country", country), attribute.Int("parcel_count", len(parcels)))

	live, err := c.apiClient.GetShippingMethods(ctx, &ShippingMethodsRequest{
		ToCountry:     country,
		SenderAddress: c.config.SenderAddressID,
	})
	if err != nil {
		return nil, c.fail(span, shipper.LogFields(carrierName, "get_options", nil), c.classify(err, "list shipping methods"))
	}

	bindings, err := rates.Bindings(ctx, c.deps.RateStore(), carrierName)
	if err != nil {
		return nil, err
	}
	byCode := make(map[string][]rates.Binding)
	for _, b := range bindings {
		code, _ := shipper.ParseServiceCode(b.Method.ServiceCode)
		byCode[code] = append(byCode[code], b)
	}

	weight := shipper.BaseWeight(req.Items, req.Packaging)
	for _, m := range live {
		if _, ok := m.priceFor(country); !ok || !m.carries(parcels[0].Weight) {
			continue
		}
		if m.RequiresServicePoint() && req.PickupPoint == nil {
			continue
		}
		for _, b := range byCode[strconv.Itoa(m.ID)] {
			match, err := c.deps.Engine.Match(ctx, req.Lookup(b, weight, parcel.Volume()))
			if err != nil {
				return nil, err
			}
			r := match.Record
			if r == nil {
				if c.deps.Engine.Strict() {
					res.AddError(fmt.Sprintf("%s: no rate configured for %s", carrierName, b.Method.Name))
				}
				continue
			}
			opt := shipper.Option{
				Name:                b.Method.Name,
				Description:         b.Method.Description,
				Rate:                rates.Calculate(*r, match.ChargeableWeight, req.Subtotal),
				Currency:            c.config.Currency,
				TransitDays:         r.TransitDays,
				DisplayOrder:        r.DisplayOrder,
				Carrier:             carrierName,
				ServiceCode:         b.Method.ServiceCode,
				ShippingMethodID:    b.Method.ID,
				RequiresPickupPoint: m.RequiresServicePoint(),
			}
			if r.FriendlyName != "" {
				opt.Name = r.FriendlyName
			}
			if r.Description != "" {
				opt.Description = r.Description
			}
			res.Options = append(res.Options, opt)
		}
	}
	return res, nil
}

// CreateShipment creates the SendCloud parcel for a shipment. A shipment
// whose tracking number holds a marker resumes the parcel created earlier.
func (c *Client) CreateShipment(ctx context.Context, details *shipper.ShipmentDetails, order *shipper.Order) (*shipper.ShipmentOutcome, error) {
	ctx, span := c.tracer.Start(ctx, "sendcloud.CreateShipment")
	defer span.End()
	fields := shipper.LogFields(carrierName, "create_shipment", details)

	if ids, ok := shipper.ParseMarker(details.TrackingNumber); ok {
		return c.resume(ctx, span, details, ids, fields)
	}

	c.logger.Info("Creating SendCloud parcel", append(fields, zap.String("method", order.ShippingMethodName))...)

	b, _, err := c.deps.Engine.BindingFor(ctx, order.StoreID, carrierName, order.ShippingMethodName)
	if err != nil {
		if errors.Is(err, rates.ErrMethodNotFound) {
			return nil, c.fail(span, fields, shipper.NewShipperError(carrierName, shipper.CodeInvalidMethod, err.Error()))
		}
		return nil, err
	}
	code, _ := shipper.ParseServiceCode(b.Method.ServiceCode)
	methodID, err := strconv.Atoi(code)
	if err != nil {
		return nil, c.fail(span, fields, shipper.NewShipperError(carrierName, shipper.CodeInvalidMethod,
			fmt.Sprintf("service code %q is not a SendCloud method id", b.Method.ServiceCode)))
	}

	parcel, err := units.BuildParcel(shipper.UnitItems(order.Items), details.PackagingOption.Box(), c.deps.Units, Policy)
	if err != nil {
		return nil, fmt.Errorf("build parcel: %w", err)
	}
	parcels := units.Split(parcel, Policy)

	to := shipper.WithFallback(order.ShippingAddress, c.config.DefaultRecipient, recipientFields...)
	if missing := to.Missing(recipientFields...); len(missing) > 0 {
		return nil, c.fail(span, fields, shipper.NewShipperError(carrierName, shipper.CodeBadRequest,
			fmt.Sprintf("recipient address is missing %v", missing)))
	}

	payload := ParcelPayload{
		Name:                    to.Name,
		CompanyName:             to.Company,
		Address:                 to.Line1,
		Address2:                to.Line2,
		City:                    to.City,
		PostalCode:              to.PostalCode,
		Country:                 to.CountryCode,
		CountryState:            to.StateCode,
		Telephone:               to.Phone,
		Email:                   to.Email,
		OrderNumber:             orderNumber(order),
		ExternalReference:       fmt.Sprintf("shipment-%d", details.ID),
		Weight:                  formatDecimal(math.Max(parcels[0].Weight, Policy.MinWeight), 3),
		Length:                  formatDecimal(parcels[0].Length, 0),
		Width:                   formatDecimal(parcels[0].Width, 0),
		Height:                  formatDecimal(parcels[0].Height, 0),
		Quantity:                len(parcels),
		RequestLabel:            true,
		Shipment:                ShipmentMethod{ID: methodID},
		SenderAddress:           c.config.SenderAddressID,
		TotalOrderValue:         formatDecimal(order.Subtotal, 2),
		TotalOrderValueCurrency: order.Currency,
	}

	if order.PickupPoint != nil {
		spID, err := c.servicePoint(ctx, order.PickupPoint)
		if err != nil {
			return nil, c.fail(span, fields, err)
		}
		payload.ToServicePoint = &spID
	}

	var cost float64
	match, err := c.deps.Engine.Match(ctx, order.Lookup(*b, shipper.BaseWeight(order.Items, details.PackagingOption), parcel.Volume()))
	if err != nil {
		return nil, err
	}
	if match.Record != nil {
		cost = rates.Calculate(*match.Record, match.ChargeableWeight, order.Subtotal)
	}

	created, err := c.apiClient.CreateParcel(ctx, &ParcelRequest{Parcel: payload})
	if apiErr := (*APIError)(nil); errors.As(err, &apiErr) && apiErr.LabelNotPermitted() {
		c.logger.Warn("SendCloud label not permitted, creating parcel without label", append(fields, zap.String("reason", apiErr.Message))...)
		payload.RequestLabel = false
		created, err = c.apiClient.CreateParcel(ctx, &ParcelRequest{Parcel: payload})
		if err != nil {
			return nil, c.fail(span, fields, c.classify(err, "create parcel without label"))
		}
		return c.pending(ctx, details, created, cost, false)
	}
	if err != nil {
		return nil, c.fail(span, fields, c.classify(err, "create parcel"))
	}
	return c.complete(ctx, details, created, cost, false)
}

// resume finishes the parcels a marker points at.
func (c *Client) resume(ctx context.Context, span trace.Span, details *shipper.ShipmentDetails, marker string, fields []zap.Field) (*shipper.ShipmentOutcome, error) {
	c.logger.Info("Resuming SendCloud parcel", append(fields, zap.String("external_id", marker))...)

	ids, err := parseIDs(marker)
	if err != nil {
		return nil, c.fail(span, fields, shipper.NewShipperError(carrierName, shipper.CodeUnresolvableMarker, err.Error()))
	}
	parcels := make([]Parcel, 0, len(ids))
	for _, id := range ids {
		p, err := c.apiClient.GetParcel(ctx, id)
		if err != nil {
			err = c.classify(err, fmt.Sprintf("get parcel %d", id))
			if shipper.IsCode(err, shipper.CodeNotFound) {
				err = shipper.NewShipperError(carrierName, shipper.CodeUnresolvableMarker,
					fmt.Sprintf("parcel %d from marker %s no longer exists", id, details.TrackingNumber)).WithCause(err)
			}
			return nil, c.fail(span, fields, err)
		}
		if !p.HasLabel() {
			p, err = c.apiClient.RequestLabel(ctx, id)
			if apiErr := (*APIError)(nil); errors.As(err, &apiErr) && apiErr.LabelNotPermitted() {
				c.logger.Warn("SendCloud label still not permitted", append(fields, zap.Int("parcel_id", id))...)
				return &shipper.ShipmentOutcome{
					TrackingNumber: details.TrackingNumber,
					ExternalID:     marker,
					Cost:           details.Cost,
					LabelPending:   true,
					Resumed:        true,
				}, nil
			}
			if err != nil {
				return nil, c.fail(span, fields, c.classify(err, fmt.Sprintf("request label for parcel %d", id)))
			}
		}
		parcels = append(parcels, *p)
	}
	return c.complete(ctx, details, parcels, details.Cost, true)
}

// pending records the marker for parcels created without a label.
func (c *Client) pending(ctx context.Context, details *shipper.ShipmentDetails, parcels []Parcel, cost float64, resumed bool) (*shipper.ShipmentOutcome, error) {
	ids := joinIDs(parcels)
	details.ExternalID = ids
	details.TrackingNumber = shipper.Marker(ids)
	details.LabelURL = ""
	details.LabelPending = true
	details.Cost = cost
	details.Currency = c.config.Currency
	if err := c.deps.RecordDetails(ctx, details); err != nil {
		return nil, fmt.Errorf("record marker %s: %w", details.TrackingNumber, err)
	}
	return &shipper.ShipmentOutcome{
		TrackingNumber: details.TrackingNumber,
		ExternalID:     ids,
		Cost:           cost,
		LabelPending:   true,
		Resumed:        resumed,
	}, nil
}

// complete stores the identifiers of labelled parcels.
func (c *Client) complete(ctx context.Context, details *shipper.ShipmentDetails, parcels []Parcel, cost float64, resumed bool) (*shipper.ShipmentOutcome, error) {
	for _, p := range parcels {
		if !p.HasLabel() {
			return c.pending(ctx, details, parcels, cost, resumed)
		}
	}
	tracking := make([]string, len(parcels))
	for i, p := range parcels {
		tracking[i] = p.TrackingNumber
	}
	details.ExternalID = joinIDs(parcels)
	details.TrackingNumber = strings.Join(tracking, ",")
	details.LabelURL = parcels[0].Label.NormalPrinter[0]
	details.LabelPending = false
	details.Cost = cost
	details.Currency = c.config.Currency
	if err := c.deps.RecordDetails(ctx, details); err != nil {
		c.logger.Error("Failed to record SendCloud parcel", append(shipper.LogFields(carrierName, "create_shipment", details), zap.Error(err))...)
	}
	return &shipper.ShipmentOutcome{
		TrackingNumber: details.TrackingNumber,
		ExternalID:     details.ExternalID,
		LabelURI:       details.LabelURL,
		Cost:           cost,
		Resumed:        resumed,
	}, nil
}

// CancelShipment cancels every parcel of the shipment.
func (c *Client) CancelShipment(ctx context.Context, details *shipper.ShipmentDetails) (bool, error) {
	ctx, span := c.tracer.Start(ctx, "sendcloud.CancelShipment")
	defer span.End()
	fields := shipper.LogFields(carrierName, "cancel_shipment", details)

	ref := details.ExternalID
	if ref == "" {
		ref, _ = shipper.ParseMarker(details.TrackingNumber)
	}
	ids, err := parseIDs(ref)
	if err != nil {
		c.logger.Warn("SendCloud shipment has no parcel to cancel", fields...)
		details.ClearExternal()
		return false, nil
	}

	c.logger.Info("Cancelling SendCloud parcels", append(fields, zap.String("external_id", ref))...)
	found := false
	for _, id := range ids {
		if _, err := c.apiClient.CancelParcel(ctx, id); err != nil {
			err = c.classify(err, fmt.Sprintf("cancel parcel %d", id))
			if shipper.IsCode(err, shipper.CodeNotFound) {
				continue
			}
			return false, c.fail(span, fields, err)
		}
		found = true
	}
	details.ClearExternal()
	return found, nil
}

// ValidateConfiguration compares the rate table against the live methods.
func (c *Client) ValidateConfiguration(ctx context.Context, storeID, vendorID int64) (string, []string, error) {
	ctx, span := c.tracer.Start(ctx, "sendcloud.ValidateConfiguration")
	defer span.End()

	live, err := c.catalogue(ctx)
	if err != nil {
		return "", nil, c.fail(span, shipper.LogFields(carrierName, "validate_configuration", nil), err)
	}
	report, findings, err := rates.Validate(ctx, c.deps.RateStore(), carrierName, storeID, vendorID, live)
	if err != nil {
		return "", nil, err
	}
	for _, f := range findings {
		c.logger.Warn("SendCloud configuration mismatch", zap.String("finding", f))
	}
	return report, findings, nil
}

// SyncCatalogue creates the carriers and methods SendCloud offers.
func (c *Client) SyncCatalogue(ctx context.Context) (*rates.SyncReport, error) {
	ctx, span := c.tracer.Start(ctx, "sendcloud.SyncCatalogue")
	defer span.End()

	live, err := c.catalogue(ctx)
	if err != nil {
		return nil, c.fail(span, shipper.LogFields(carrierName, "sync_catalogue", nil), err)
	}
	report, err := rates.Sync(ctx, c.deps.RateStore(), carrierName, live, rates.SyncDefaults{MaxWeight: c.maxBaseWeight()})
	if err != nil {
		return nil, err
	}
	c.logger.Info("SendCloud catalogue synced",
		zap.Int("carriers_created", report.CarriersCreated),
		zap.Int("methods_created", report.MethodsCreated),
		zap.Int("records_created", report.RecordsCreated),
	)
	return report, nil
}

func (c *Client) catalogue(ctx context.Context) ([]rates.CatalogueEntry, error) {
	live, err := c.apiClient.GetShippingMethods(ctx, &ShippingMethodsRequest{SenderAddress: c.config.SenderAddressID})
	if err != nil {
		return nil, c.classify(err, "list shipping methods")
	}
	entries := make([]rates.CatalogueEntry, 0, len(live))
	for _, m := range live {
		entries = append(entries, rates.CatalogueEntry{
			CarrierCode: m.Carrier,
			CarrierName: strings.ToUpper(m.Carrier),
			MethodName:  m.Name,
			ServiceCode: strconv.Itoa(m.ID),
		})
	}
	return entries, nil
}

// maxBaseWeight is the SendCloud parcel limit in the store weight unit.
func (c *Client) maxBaseWeight() float64 {
	w, err := units.ConvertWeightValue(Policy.MaxWeight, Policy.WeightUnit, c.deps.Units.Weight)
	if err != nil {
		return 0
	}
	return w
}

// servicePoint checks that the chosen pick-up point still exists and is
// active, and returns its id.
func (c *Client) servicePoint(ctx context.Context, pp *shipper.PickupPoint) (int, error) {
	id, err := strconv.Atoi(pp.ID)
	if err != nil {
		return 0, shipper.NewShipperError(carrierName, shipper.CodeBadRequest, fmt.Sprintf("service point id %q is not numeric", pp.ID))
	}
	sp, err := c.apiClient.GetServicePoint(ctx, id)
	if err != nil {
		return 0, c.classify(err, fmt.Sprintf("get service point %d", id))
	}
	if !sp.IsActive {
		return 0, shipper.NewShipperError(carrierName, shipper.CodeBadRequest, fmt.Sprintf("service point %d is no longer active", id))
	}
	return sp.ID, nil
}

// fail logs err with the shipment fields, marks the span and returns err.
func (c *Client) fail(span trace.Span, fields []zap.Field, err error) error {
	c.logger.Error("SendCloud API error", append(fields, zap.Error(err))...)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// classify converts an API failure to a typed shipper error.
func (c *Client) classify(err error, msg string) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.LabelNotPermitted() {
			return shipper.NewShipperError(carrierName, shipper.CodeLabelNotPermitted, msg+": "+apiErr.Message).
				WithStatusCode(apiErr.StatusCode).WithCause(err)
		}
		return shipper.FromStatus(carrierName, apiErr.StatusCode, msg+": "+apiErr.Message).WithCause(err)
	}
	return shipper.Wrap(carrierName, msg, err)
}

// ============================================================================
// Conversion helpers
// ============================================================================

func (m ShippingMethod) priceFor(country string) (float64, bool) {
	if len(m.Countries) == 0 {
		return m.Price, true
	}
	for _, c := range m.Countries {
		if strings.EqualFold(c.ISO2, country) {
			return c.Price, true
		}
	}
	return 0, false
}

func (m ShippingMethod) carries(weight float64) bool {
	lo, errLo := strconv.ParseFloat(m.MinWeight, 64)
	hi, errHi := strconv.ParseFloat(m.MaxWeight, 64)
	if errLo == nil && weight < lo {
		return false
	}
	if errHi == nil && hi > 0 && weight >= hi {
		return false
	}
	return true
}

func orderNumber(o *shipper.Order) string {
	if o.Reference != "" {
		return o.Reference
	}
	return strconv.FormatInt(o.ID, 10)
}

func formatDecimal(v float64, decimals int) string {
	return strconv.FormatFloat(v, 'f', decimals, 64)
}

func joinIDs(parcels []Parcel) string {
	ids := make([]string, len(parcels))
	for i, p := range parcels {
		ids[i] = strconv.Itoa(p.ID)
	}
	return strings.Join(ids, ",")
}

func parseIDs(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("no parcel id")
	}
	parts := strings.Split(s, ",")
	ids := make([]int, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("parcel id %q is not numeric", p)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

var _ shipper.Carrier = (*Client)(nil)
