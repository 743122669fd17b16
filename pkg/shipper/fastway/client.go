// Package fastway provides integration with the Fastway (Aramex) parcel
// quote and consignment API.
package fastway

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
	"golang.org/x/sync/errgroup"
)

const carrierName = "fastway"

// Policy is the unit policy Fastway parcels are converted with.
var Policy = units.Policy{
	WeightUnit:        units.Kilogram,
	DimensionUnit:     units.Centimetre,
	WeightStep:        1,
	WeightRounding:    units.RoundUp,
	MinWeight:         1,
	MaxWeight:         25,
	DimensionStep:     1,
	DimensionRounding: units.RoundUp,
	MinDimension:      1,
	MaxLength:         120,
}

var recipientFields = []shipper.AddressField{
	shipper.FieldName, shipper.FieldLine1, shipper.FieldCity, shipper.FieldPostalCode, shipper.FieldCountry,
}

// Config holds Fastway configuration.
type Config struct {
	APIKey  string
	BaseURL string
	// Franchise is the pickup regional franchise code, e.g. "SYD".
	Franchise string
	// CountryCode is the only destination country quoted.
	CountryCode string
	// CountryID is the Fastway country number used to list franchises.
	CountryID        int
	DefaultRecipient shipper.Address
	Currency         string
	UseMock          bool // When true, uses mock API client
}

// Client is the Fastway carrier adapter.
// It implements the shipper.Carrier interface and delegates API calls
// to the underlying APIClient (mock or HTTP).
type Client struct {
	config    Config
	apiClient APIClient
	deps      shipper.Deps
	logger    *otelzap.Logger
	tracer    trace.Tracer
}

// New creates a new Fastway client.
// If cfg.UseMock is true, it uses a mock API client for testing.
// Otherwise, it uses the real HTTP API client.
func New(cfg Config, deps shipper.Deps, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	var apiClient APIClient

	if cfg.UseMock {
		apiClient = NewMockAPIClient()
	} else {
		apiClient = NewHTTPAPIClient(HTTPAPIClientConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Timeout: 30 * time.Second,
		})
	}

	return NewWithAPIClient(cfg, apiClient, deps, logger, tracer)
}

// NewWithAPIClient creates a new Fastway client with a custom API client.
// This is useful for injecting mock clients in tests.
func NewWithAPIClient(cfg Config, apiClient APIClient, deps shipper.Deps, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	if cfg.Currency == "" {
		cfg.Currency = "AUD"
	}
	if cfg.CountryCode == "" {
		cfg.CountryCode = "AU"
	}
	if cfg.CountryID == 0 {
		cfg.CountryID = 1
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

// Price is the Fastway rate of a live quote marked up by record r:
//
//	base  = live + AdditionalFixedCost + max(weight − LowerWeightLimit, 0) × RatePerWeightUnit
//	total = base + base × PercentageRateOfSubtotal / 100
//
// The percentage applies to the marked-up total, not to the order subtotal.
func Price(r rates.Record, live, weight float64) float64 {
	base := live + r.AdditionalFixedCost + math.Max(weight-r.LowerWeightLimit, 0)*r.RatePerWeightUnit
	total := base + base*r.PercentageRateOfSubtotal/100
	return rates.RoundMoney(math.Max(total, 0))
}

// GetOptions quotes the services of the configured franchise. Destinations
// outside the configured country get no options.
func (c *Client) GetOptions(ctx context.Context, req *shipper.OptionRequest) (*shipper.OptionResult, error) {
	ctx, span := c.tracer.Start(ctx, "fastway.GetOptions")
	defer span.End()
	fields := shipper.LogFields(carrierName, "get_options", nil)

	res := &shipper.OptionResult{}
	if errs := shipper.CheckRequest(req); len(errs) > 0 {
		res.Errors = errs
		return res, nil
	}
	if req.To.CountryCode != "" && !strings.EqualFold(req.To.CountryCode, c.config.CountryCode) {
		c.logger.Debug("Fastway does not ship to country", zap.String("country", req.To.CountryCode))
		return res, nil
	}

	parcel, err := units.BuildParcel(shipper.UnitItems(req.Items), req.Packaging.Box(), c.deps.Units, Policy)
	if err != nil {
		return nil, fmt.Errorf("build parcel: %w", err)
	}
	parcels := units.Split(parcel, Policy)

	c.logger.Info("Getting Fastway options",
		zap.String("franchise", c.config.Franchise),
		zap.String("postcode", req.To.PostalCode),
		zap.Int("parcel_count", len(parcels)),
	)
	span.SetAttributes(attribute.String("franchise", c.config.Franchise), attribute.Int("parcel_count", len(parcels)))

	bindings, err := c.bindings(ctx)
	if err != nil {
		return nil, err
	}
	if len(bindings) == 0 {
		return res, nil
	}

	live, err := c.quote(ctx, parcels, *req.To)
	if err != nil {
		return nil, c.fail(span, fields, err)
	}

	weight := shipper.BaseWeight(req.Items, req.Packaging)
	for _, b := range bindings {
		code, _ := shipper.ParseServiceCode(b.Method.ServiceCode)
		q, ok := live[code]
		if !ok {
			continue
		}
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
			Name:             b.Method.Name,
			Description:      b.Method.Description,
			Rate:             Price(*r, q.price, match.ChargeableWeight),
			Currency:         c.config.Currency,
			TransitDays:      q.transitDays,
			DisplayOrder:     r.DisplayOrder,
			Carrier:          carrierName,
			ServiceCode:      b.Method.ServiceCode,
			ShippingMethodID: b.Method.ID,
		}
		if r.TransitDays > 0 {
			opt.TransitDays = r.TransitDays
		}
		if r.FriendlyName != "" {
			opt.Name = r.FriendlyName
		}
		if r.Description != "" {
			opt.Description = r.Description
		}
		res.Options = append(res.Options, opt)
	}
	return res, nil
}

type liveQuote struct {
	price       float64
	transitDays int
}

// quote looks every parcel up concurrently and keeps the services quoted
// for all of them, summed.
func (c *Client) quote(ctx context.Context, parcels []units.Parcel, to shipper.Address) (map[string]liveQuote, error) {
	perParcel := make([]*LookupResult, len(parcels))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range parcels {
		g.Go(func() error {
			res, err := c.apiClient.Lookup(gctx, &LookupRequest{
				Franchise: c.config.Franchise,
				Suburb:    to.City,
				Postcode:  to.PostalCode,
				Weight:    wholeKilos(p.Weight),
				Length:    int(math.Ceil(p.Length)),
				Width:     int(math.Ceil(p.Width)),
				Height:    int(math.Ceil(p.Height)),
			})
			if err != nil {
				return c.classify(err, "lookup")
			}
			perParcel[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sums := make(map[string]liveQuote)
	seen := make(map[string]int)
	for _, res := range perParcel {
		days := transitDays(res.DeliveryTimeframeDays)
		for _, s := range res.Services {
			q := sums[s.LabelColour]
			q.price += s.TotalPrice
			q.transitDays = max(q.transitDays, days)
			sums[s.LabelColour] = q
			seen[s.LabelColour]++
		}
	}
	for code := range sums {
		if seen[code] != len(parcels) {
			delete(sums, code)
		}
	}
	return sums, nil
}

// bindings are the local methods of the configured franchise.
func (c *Client) bindings(ctx context.Context) ([]rates.Binding, error) {
	all, err := rates.Bindings(ctx, c.deps.RateStore(), carrierName)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, b := range all {
		if strings.EqualFold(b.Carrier.ExternalCode, c.config.Franchise) {
			out = append(out, b)
		}
	}
	return out, nil
}

// CreateShipment creates one consignment with an item per parcel. A
// shipment whose tracking number holds a marker resumes that consignment.
func (c *Client) CreateShipment(ctx context.Context, details *shipper.ShipmentDetails, order *shipper.Order) (*shipper.ShipmentOutcome, error) {
	ctx, span := c.tracer.Start(ctx, "fastway.CreateShipment")
	defer span.End()
	fields := shipper.LogFields(carrierName, "create_shipment", details)

	if marker, ok := shipper.ParseMarker(details.TrackingNumber); ok {
		return c.resume(ctx, span, details, marker, fields)
	}

	c.logger.Info("Creating Fastway consignment", append(fields, zap.String("method", order.ShippingMethodName))...)

	b, _, err := c.deps.Engine.BindingFor(ctx, order.StoreID, carrierName, order.ShippingMethodName)
	if err != nil {
		if errors.Is(err, rates.ErrMethodNotFound) {
			return nil, c.fail(span, fields, shipper.NewShipperError(carrierName, shipper.CodeInvalidMethod, err.Error()))
		}
		return nil, err
	}
	code, _ := shipper.ParseServiceCode(b.Method.ServiceCode)
	if code == "" {
		return nil, c.fail(span, fields, shipper.NewShipperError(carrierName, shipper.CodeInvalidMethod,
			fmt.Sprintf("shipping method %q has no label colour", b.Method.Name)))
	}

	to := shipper.WithFallback(order.ShippingAddress, c.config.DefaultRecipient, recipientFields...)
	if missing := to.Missing(recipientFields...); len(missing) > 0 {
		return nil, c.fail(span, fields, shipper.NewShipperError(carrierName, shipper.CodeBadRequest,
			fmt.Sprintf("recipient address is missing %v", missing)))
	}

	parcel, err := units.BuildParcel(shipper.UnitItems(order.Items), details.PackagingOption.Box(), c.deps.Units, Policy)
	if err != nil {
		return nil, fmt.Errorf("build parcel: %w", err)
	}
	parcels := units.Split(parcel, Policy)

	var live float64
	if q, err := c.quote(ctx, parcels, to); err != nil {
		c.logger.Warn("Fastway lookup failed, costing the markup only", append(fields, zap.Error(err))...)
	} else {
		live = q[code].price
	}
	cost := rates.RoundMoney(live)
	match, err := c.deps.Engine.Match(ctx, order.Lookup(*b, shipper.BaseWeight(order.Items, details.PackagingOption), parcel.Volume()))
	if err != nil {
		return nil, err
	}
	if match.Record != nil {
		cost = Price(*match.Record, live, match.ChargeableWeight)
	}

	req := &ConsignmentRequest{
		Franchise:    c.config.Franchise,
		To:           toContact(to),
		Reference:    orderNumber(order),
		CreateLabels: true,
	}
	for i, p := range parcels {
		req.Items = append(req.Items, ConsignmentItem{
			Quantity:    1,
			Reference:   fmt.Sprintf("%s-%d", req.Reference, i+1),
			PackageType: "P",
			LabelColour: code,
			WeightDead:  wholeKilos(p.Weight),
			Length:      int(math.Ceil(p.Length)),
			Width:       int(math.Ceil(p.Width)),
			Height:      int(math.Ceil(p.Height)),
		})
	}

	con, err := c.apiClient.CreateConsignment(ctx, req)
	if apiErr := (*APIError)(nil); errors.As(err, &apiErr) && apiErr.LabelNotPermitted() {
		c.logger.Warn("Fastway labels not permitted, creating consignment without labels",
			append(fields, zap.String("reason", apiErr.Message))...)
		req.CreateLabels = false
		con, err = c.apiClient.CreateConsignment(ctx, req)
	}
	if err != nil {
		return nil, c.fail(span, fields, c.classify(err, "create consignment"))
	}

	if !con.HasLabel() {
		return c.pending(ctx, details, con, cost, false)
	}
	return c.complete(ctx, details, con, cost, false)
}

// resume finishes the consignment a marker points at.
func (c *Client) resume(ctx context.Context, span trace.Span, details *shipper.ShipmentDetails, marker string, fields []zap.Field) (*shipper.ShipmentOutcome, error) {
	c.logger.Info("Resuming Fastway consignment", append(fields, zap.String("external_id", marker))...)

	id, err := strconv.Atoi(marker)
	if err != nil {
		return nil, c.fail(span, fields, shipper.NewShipperError(carrierName, shipper.CodeUnresolvableMarker,
			fmt.Sprintf("marker %s is not a consignment id", details.TrackingNumber)))
	}
	con, err := c.apiClient.GetConsignment(ctx, id)
	if err != nil {
		err = c.classify(err, "get consignment "+marker)
		if shipper.IsCode(err, shipper.CodeNotFound) {
			err = shipper.NewShipperError(carrierName, shipper.CodeUnresolvableMarker,
				fmt.Sprintf("consignment from marker %s no longer exists", details.TrackingNumber)).WithCause(err)
		}
		return nil, c.fail(span, fields, err)
	}
	if !con.HasLabel() {
		lbl, err := c.apiClient.GetLabels(ctx, id)
		if apiErr := (*APIError)(nil); errors.As(err, &apiErr) && apiErr.LabelNotPermitted() {
			c.logger.Warn("Fastway labels still not permitted", append(fields, zap.Int("consignment", id))...)
			return &shipper.ShipmentOutcome{
				TrackingNumber: details.TrackingNumber,
				ExternalID:     marker,
				Cost:           details.Cost,
				LabelPending:   true,
				Resumed:        true,
			}, nil
		}
		if err != nil {
			return nil, c.fail(span, fields, c.classify(err, "get labels for consignment "+marker))
		}
		con.LabelURL = lbl.URL
		if len(lbl.LabelNumbers) > 0 {
			con.LabelNumbers = lbl.LabelNumbers
		}
	}
	return c.complete(ctx, details, con, details.Cost, true)
}

// pending records the marker for a consignment created without labels.
func (c *Client) pending(ctx context.Context, details *shipper.ShipmentDetails, con *Consignment, cost float64, resumed bool) (*shipper.ShipmentOutcome, error) {
	id := strconv.Itoa(con.ID)
	details.ExternalID = id
	details.TrackingNumber = shipper.Marker(id)
	details.LabelURL = ""
	details.LabelPending = true
	details.Cost = cost
	details.Currency = c.config.Currency
	if err := c.deps.RecordDetails(ctx, details); err != nil {
		return nil, fmt.Errorf("record marker %s: %w", details.TrackingNumber, err)
	}
	return &shipper.ShipmentOutcome{
		TrackingNumber: details.TrackingNumber,
		ExternalID:     id,
		Cost:           cost,
		LabelPending:   true,
		Resumed:        resumed,
	}, nil
}

// complete stores the identifiers of a labelled consignment.
func (c *Client) complete(ctx context.Context, details *shipper.ShipmentDetails, con *Consignment, cost float64, resumed bool) (*shipper.ShipmentOutcome, error) {
	details.ExternalID = strconv.Itoa(con.ID)
	details.TrackingNumber = strings.Join(con.LabelNumbers, ",")
	details.LabelURL = con.LabelURL
	details.LabelPending = false
	details.Cost = cost
	details.Currency = c.config.Currency
	if err := c.deps.RecordDetails(ctx, details); err != nil {
		c.logger.Error("Failed to record Fastway consignment", append(shipper.LogFields(carrierName, "create_shipment", details), zap.Error(err))...)
	}
	return &shipper.ShipmentOutcome{
		TrackingNumber: details.TrackingNumber,
		ExternalID:     details.ExternalID,
		LabelURI:       details.LabelURL,
		Cost:           cost,
		Resumed:        resumed,
	}, nil
}

// CancelShipment deletes the consignment.
func (c *Client) CancelShipment(ctx context.Context, details *shipper.ShipmentDetails) (bool, error) {
	ctx, span := c.tracer.Start(ctx, "fastway.CancelShipment")
	defer span.End()
	fields := shipper.LogFields(carrierName, "cancel_shipment", details)

	ref := details.ExternalID
	if ref == "" {
		ref, _ = shipper.ParseMarker(details.TrackingNumber)
	}
	id, err := strconv.Atoi(ref)
	if err != nil {
		c.logger.Warn("Fastway shipment has no consignment to delete", append(fields, zap.String("external_id", ref))...)
		details.ClearExternal()
		return false, nil
	}

	c.logger.Info("Deleting Fastway consignment", append(fields, zap.Int("consignment", id))...)
	if err := c.apiClient.DeleteConsignment(ctx, id); err != nil {
		err = c.classify(err, "delete consignment "+ref)
		if !shipper.IsCode(err, shipper.CodeNotFound) {
			return false, c.fail(span, fields, err)
		}
		c.logger.Warn("Fastway consignment not found", append(fields, zap.Int("consignment", id))...)
		details.ClearExternal()
		return false, nil
	}
	details.ClearExternal()
	return true, nil
}

// ValidateConfiguration compares the rate table against the franchise
// services.
func (c *Client) ValidateConfiguration(ctx context.Context, storeID, vendorID int64) (string, []string, error) {
	ctx, span := c.tracer.Start(ctx, "fastway.ValidateConfiguration")
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
		c.logger.Warn("Fastway configuration mismatch", zap.String("finding", f))
	}
	return report, findings, nil
}

// SyncCatalogue creates the methods the configured franchise offers.
func (c *Client) SyncCatalogue(ctx context.Context) (*rates.SyncReport, error) {
	ctx, span := c.tracer.Start(ctx, "fastway.SyncCatalogue")
	defer span.End()

	live, err := c.catalogue(ctx)
	if err != nil {
		return nil, c.fail(span, shipper.LogFields(carrierName, "sync_catalogue", nil), err)
	}
	maxWeight, _ := units.ConvertWeightValue(Policy.MaxWeight, Policy.WeightUnit, c.deps.Units.Weight)
	report, err := rates.Sync(ctx, c.deps.RateStore(), carrierName, live, rates.SyncDefaults{MaxWeight: maxWeight})
	if err != nil {
		return nil, err
	}
	c.logger.Info("Fastway catalogue synced",
		zap.String("franchise", c.config.Franchise),
		zap.Int("methods_created", report.MethodsCreated),
		zap.Int("records_created", report.RecordsCreated),
	)
	return report, nil
}

func (c *Client) catalogue(ctx context.Context) ([]rates.CatalogueEntry, error) {
	franchises, err := c.apiClient.ListFranchises(ctx, c.config.CountryID)
	if err != nil {
		return nil, c.classify(err, "list franchises")
	}
	var entries []rates.CatalogueEntry
	for _, f := range franchises {
		if !strings.EqualFold(f.Code, c.config.Franchise) {
			continue
		}
		for _, s := range f.Services {
			entries = append(entries, rates.CatalogueEntry{
				CarrierCode: f.Code,
				CarrierName: "Fastway " + f.Name,
				MethodName:  s.Name,
				ServiceCode: s.Code,
			})
		}
	}
	if entries == nil {
		return nil, shipper.NewShipperError(carrierName, shipper.CodeBadRequest,
			fmt.Sprintf("franchise %q offers no services", c.config.Franchise))
	}
	return entries, nil
}

// fail logs err with the shipment fields, marks the span and returns err.
func (c *Client) fail(span trace.Span, fields []zap.Field, err error) error {
	c.logger.Error("Fastway API error", append(fields, zap.Error(err))...)
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

func toContact(addr shipper.Address) Contact {
	return Contact{
		ContactName:  addr.Name,
		BusinessName: addr.Company,
		PhoneNumber:  addr.Phone,
		Email:        addr.Email,
		Address: ContactAddress{
			StreetAddress: addr.Line1,
			Additional:    addr.Line2,
			Locality:      addr.City,
			StateOrProv:   addr.StateCode,
			PostalCode:    addr.PostalCode,
			Country:       addr.CountryCode,
		},
	}
}

func orderNumber(o *shipper.Order) string {
	if o.Reference != "" {
		return o.Reference
	}
	return strconv.FormatInt(o.ID, 10)
}

// wholeKilos is the lookup weight; free shipping parcels still weigh 1 kg.
func wholeKilos(w float64) int {
	return max(1, int(math.Ceil(w)))
}

// transitDays reads the upper bound of a timeframe such as "2-3".
func transitDays(timeframe string) int {
	var days int
	for _, part := range strings.FieldsFunc(timeframe, func(r rune) bool { return r < '0' || r > '9' }) {
		if n, err := strconv.Atoi(part); err == nil {
			days = max(days, n)
		}
	}
	return days
}

var _ shipper.Carrier = (*Client)(nil)
