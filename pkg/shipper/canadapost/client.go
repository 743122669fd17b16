// Package canadapost provides integration with the Canada Post rating,
// shipping and manifest web services.
package canadapost

import (
	"context"
	"errors"
	"fmt"
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

const carrierName = "canadapost"

// Policy is the unit policy Canada Post parcels are converted with.
var Policy = units.Policy{
	WeightUnit:        units.Kilogram,
	DimensionUnit:     units.Centimetre,
	WeightStep:        0.001,
	WeightRounding:    units.RoundUp,
	MinWeight:         0,
	MaxWeight:         30,
	DimensionStep:     0.1,
	DimensionRounding: units.RoundUp,
	MaxLength:         200,
}

var (
	senderFields = []shipper.AddressField{
		shipper.FieldName, shipper.FieldLine1, shipper.FieldCity, shipper.FieldState,
		shipper.FieldPostalCode, shipper.FieldCountry, shipper.FieldPhone,
	}
	recipientFields = []shipper.AddressField{
		shipper.FieldName, shipper.FieldLine1, shipper.FieldCity, shipper.FieldPostalCode, shipper.FieldCountry,
	}
)

// Config holds Canada Post configuration.
type Config struct {
	APIKey         string
	APISecret      string
	BaseURL        string
	CustomerNumber string
	ContractID     string
	// ManifestEnabled creates contract shipments that are handed over by
	// transmitting a manifest for their group.
	ManifestEnabled bool
	// GroupID is the manifest group for new shipments. Empty means one
	// group per day.
	GroupID          string
	DefaultSender    shipper.Address
	DefaultRecipient shipper.Address
	Currency         string
	UseMock          bool // When true, uses mock API client
}

// Client is the Canada Post carrier adapter.
// It implements the shipper.Carrier and shipper.Manifester interfaces
// and delegates API calls to the underlying APIClient (mock or HTTP).
type Client struct {
	config    Config
	apiClient APIClient
	deps      shipper.Deps
	logger    *otelzap.Logger
	tracer    trace.Tracer
}

// New creates a new Canada Post client.
// If cfg.UseMock is true, it uses a mock API client for testing.
// Otherwise, it uses the real HTTP API client.
func New(cfg Config, deps shipper.Deps, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	var apiClient APIClient

	if cfg.UseMock {
		apiClient = NewMockAPIClient()
	} else {
		apiClient = NewHTTPAPIClient(HTTPAPIClientConfig{
			BaseURL:        cfg.BaseURL,
			APIKey:         cfg.APIKey,
			APISecret:      cfg.APISecret,
			CustomerNumber: cfg.CustomerNumber,
			Contract:       cfg.ManifestEnabled,
			Timeout:        30 * time.Second,
		})
	}

	return NewWithAPIClient(cfg, apiClient, deps, logger, tracer)
}

// NewWithAPIClient creates a new Canada Post client with a custom API client.
// This is useful for injecting mock clients in tests.
func NewWithAPIClient(cfg Config, apiClient APIClient, deps shipper.Deps, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	if cfg.Currency == "" {
		cfg.Currency = "CAD"
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

// RequiresManifest reports whether shipments wait for a manifest.
func (c *Client) RequiresManifest() bool {
	return c.config.ManifestEnabled
}

// GetOptions quotes every local Canada Post method. The rate is the live
// quote summed over the parcels plus the rate record as a markup.
func (c *Client) GetOptions(ctx context.Context, req *shipper.OptionRequest) (*shipper.OptionResult, error) {
	ctx, span := c.tracer.Start(ctx, "canadapost.GetOptions")
	defer span.End()
	fields := shipper.LogFields(carrierName, "get_options", nil)

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
	from := c.sender(req.From)
	if from.PostalCode == "" {
		return nil, c.fail(span, fields, shipper.NewShipperError(carrierName, shipper.CodeBadRequest, "sender postal code is not configured"))
	}

	c.logger.Info("Getting Canada Post options",
		zap.String("country", req.To.CountryCode),
		zap.Int("parcel_count", len(parcels)),
		zap.Float64("weight", parcel.Weight),
	)
	span.SetAttributes(attribute.String("country", req.To.CountryCode), attribute.Int("parcel_count", len(parcels)))

	bindings, err := rates.Bindings(ctx, c.deps.RateStore(), carrierName)
	if err != nil {
		return nil, err
	}

	weight := shipper.BaseWeight(req.Items, req.Packaging)
	quotes := make(map[string]map[string]liveQuote)
	for _, b := range bindings {
		code, addons := shipper.ParseServiceCode(b.Method.ServiceCode)
		key := strings.Join(addons, "+")
		q, ok := quotes[key]
		if !ok {
			if q, err = c.quote(ctx, parcels, from.PostalCode, *req.To, addons); err != nil {
				return nil, c.fail(span, fields, err)
			}
			quotes[key] = q
		}
		live, ok := q[code]
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
			Rate:             rates.RoundMoney(live.due + rates.Calculate(*r, match.ChargeableWeight, req.Subtotal)),
			Currency:         c.config.Currency,
			TransitDays:      live.transitDays,
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
	due         float64
	transitDays int
}

// quote rates every parcel concurrently and keeps the services quoted for
// all of them, summed.
func (c *Client) quote(ctx context.Context, parcels []units.Parcel, origin string, to shipper.Address, addons []string) (map[string]liveQuote, error) {
	perParcel := make([][]Quote, len(parcels))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range parcels {
		g.Go(func() error {
			q, err := c.apiClient.GetRates(gctx, &RatesRequest{
				CustomerNumber: c.config.CustomerNumber,
				ContractID:     c.contractID(),
				OriginPostal:   origin,
				Weight:         p.Weight,
				Dimensions:     &Dimensions{Length: p.Length, Width: p.Width, Height: p.Height},
				Destination:    Destination{CountryCode: to.CountryCode, PostalCode: to.PostalCode},
				Options:        addons,
			})
			if err != nil {
				return c.classify(err, "get rates")
			}
			perParcel[i] = q
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sums := make(map[string]liveQuote)
	seen := make(map[string]int)
	for _, quotes := range perParcel {
		for _, q := range quotes {
			s := sums[q.ServiceCode]
			s.due += q.Due
			s.transitDays = max(s.transitDays, q.TransitDays)
			sums[q.ServiceCode] = s
			seen[q.ServiceCode]++
		}
	}
	for code := range sums {
		if seen[code] != len(parcels) {
			delete(sums, code)
		}
	}
	return sums, nil
}

// CreateShipment creates one Canada Post shipment per parcel. A shipment
// whose tracking number holds a marker resumes the shipments created earlier.
func (c *Client) CreateShipment(ctx context.Context, details *shipper.ShipmentDetails, order *shipper.Order) (*shipper.ShipmentOutcome, error) {
	ctx, span := c.tracer.Start(ctx, "canadapost.CreateShipment")
	defer span.End()
	fields := shipper.LogFields(carrierName, "create_shipment", details)

	if marker, ok := shipper.ParseMarker(details.TrackingNumber); ok {
		return c.resume(ctx, span, details, marker, fields)
	}

	c.logger.Info("Creating Canada Post shipment", append(fields, zap.String("method", order.ShippingMethodName))...)

	b, _, err := c.deps.Engine.BindingFor(ctx, order.StoreID, carrierName, order.ShippingMethodName)
	if err != nil {
		if errors.Is(err, rates.ErrMethodNotFound) {
			return nil, c.fail(span, fields, shipper.NewShipperError(carrierName, shipper.CodeInvalidMethod, err.Error()))
		}
		return nil, err
	}
	code, addons := shipper.ParseServiceCode(b.Method.ServiceCode)
	if code == "" {
		return nil, c.fail(span, fields, shipper.NewShipperError(carrierName, shipper.CodeInvalidMethod,
			fmt.Sprintf("shipping method %q has no service code", b.Method.Name)))
	}

	parcel, err := units.BuildParcel(shipper.UnitItems(order.Items), details.PackagingOption.Box(), c.deps.Units, Policy)
	if err != nil {
		return nil, fmt.Errorf("build parcel: %w", err)
	}
	parcels := units.Split(parcel, Policy)

	from := c.sender(nil)
	if missing := from.Missing(senderFields...); len(missing) > 0 {
		return nil, c.fail(span, fields, shipper.NewShipperError(carrierName, shipper.CodeBadRequest,
			fmt.Sprintf("sender address is missing %v", missing)))
	}
	to := shipper.WithFallback(order.ShippingAddress, c.config.DefaultRecipient, recipientFields...)
	if missing := to.Missing(recipientFields...); len(missing) > 0 {
		return nil, c.fail(span, fields, shipper.NewShipperError(carrierName, shipper.CodeBadRequest,
			fmt.Sprintf("recipient address is missing %v", missing)))
	}

	var cost float64
	if q, err := c.quote(ctx, parcels, from.PostalCode, to, addons); err != nil {
		c.logger.Warn("Canada Post quote failed, costing the markup only", append(fields, zap.Error(err))...)
	} else {
		cost = q[code].due
	}
	match, err := c.deps.Engine.Match(ctx, order.Lookup(*b, shipper.BaseWeight(order.Items, details.PackagingOption), parcel.Volume()))
	if err != nil {
		return nil, err
	}
	if match.Record != nil {
		cost += rates.Calculate(*match.Record, match.ChargeableWeight, order.Subtotal)
	}
	cost = rates.RoundMoney(cost)

	groupID := c.groupID(details)
	withLabel := true
	created := make([]Shipment, 0, len(parcels))
	for _, p := range parcels {
		req := &ShipmentRequest{
			GroupID:     groupID,
			ContractID:  c.contractID(),
			ServiceCode: code,
			Options:     addons,
			Sender:      toAPIAddress(from),
			Destination: toAPIAddress(to),
			Weight:      p.Weight,
			Dimensions:  &Dimensions{Length: p.Length, Width: p.Width, Height: p.Height},
			Reference:   orderNumber(order),
			WithLabel:   withLabel,
		}
		s, err := c.apiClient.CreateShipment(ctx, req)
		if apiErr := (*APIError)(nil); withLabel && errors.As(err, &apiErr) && apiErr.LabelNotPermitted() {
			c.logger.Warn("Canada Post label not permitted, creating shipment without label",
				append(fields, zap.String("reason", apiErr.Description))...)
			withLabel = false
			req.WithLabel = false
			s, err = c.apiClient.CreateShipment(ctx, req)
		}
		if err != nil {
			c.rollback(ctx, created, fields)
			return nil, c.fail(span, fields, c.classify(err, "create shipment"))
		}
		created = append(created, *s)
	}

	details.GroupID = groupID
	if !withLabel {
		return c.pending(ctx, details, created, cost, false)
	}
	return c.complete(ctx, details, created, cost, false)
}

// resume finishes the shipments a marker points at.
func (c *Client) resume(ctx context.Context, span trace.Span, details *shipper.ShipmentDetails, marker string, fields []zap.Field) (*shipper.ShipmentOutcome, error) {
	c.logger.Info("Resuming Canada Post shipment", append(fields, zap.String("external_id", marker))...)

	ids := splitIDs(marker)
	shipments := make([]Shipment, 0, len(ids))
	for _, id := range ids {
		s, err := c.apiClient.GetShipment(ctx, id)
		if err != nil {
			err = c.classify(err, "get shipment "+id)
			if shipper.IsCode(err, shipper.CodeNotFound) {
				err = shipper.NewShipperError(carrierName, shipper.CodeUnresolvableMarker,
					fmt.Sprintf("shipment %s from marker %s no longer exists", id, details.TrackingNumber)).WithCause(err)
			}
			return nil, c.fail(span, fields, err)
		}
		if !s.HasLabel() {
			lbl, err := c.apiClient.GetLabel(ctx, id)
			if apiErr := (*APIError)(nil); errors.As(err, &apiErr) && apiErr.LabelNotPermitted() {
				c.logger.Warn("Canada Post label still not permitted", append(fields, zap.String("shipment", id))...)
				return &shipper.ShipmentOutcome{
					TrackingNumber: details.TrackingNumber,
					ExternalID:     marker,
					Cost:           details.Cost,
					LabelPending:   true,
					Resumed:        true,
				}, nil
			}
			if err != nil {
				return nil, c.fail(span, fields, c.classify(err, "get label for shipment "+id))
			}
			s.LabelURL = lbl.URL
		}
		shipments = append(shipments, *s)
	}
	return c.complete(ctx, details, shipments, details.Cost, true)
}

// pending records the marker for shipments created without a label.
func (c *Client) pending(ctx context.Context, details *shipper.ShipmentDetails, shipments []Shipment, cost float64, resumed bool) (*shipper.ShipmentOutcome, error) {
	ids := joinIDs(shipments)
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

// complete stores the identifiers of labelled shipments.
func (c *Client) complete(ctx context.Context, details *shipper.ShipmentDetails, shipments []Shipment, cost float64, resumed bool) (*shipper.ShipmentOutcome, error) {
	for _, s := range shipments {
		if !s.HasLabel() {
			return c.pending(ctx, details, shipments, cost, resumed)
		}
	}
	pins := make([]string, len(shipments))
	for i, s := range shipments {
		pins[i] = s.TrackingPIN
	}
	details.ExternalID = joinIDs(shipments)
	details.TrackingNumber = strings.Join(pins, ",")
	details.LabelURL = shipments[0].LabelURL
	details.LabelPending = false
	details.Cost = cost
	details.Currency = c.config.Currency
	if err := c.deps.RecordDetails(ctx, details); err != nil {
		c.logger.Error("Failed to record Canada Post shipment", append(shipper.LogFields(carrierName, "create_shipment", details), zap.Error(err))...)
	}
	return &shipper.ShipmentOutcome{
		TrackingNumber: details.TrackingNumber,
		ExternalID:     details.ExternalID,
		LabelURI:       details.LabelURL,
		Cost:           cost,
		Resumed:        resumed,
	}, nil
}

// rollback voids the shipments of a partially created order.
func (c *Client) rollback(ctx context.Context, created []Shipment, fields []zap.Field) {
	for _, s := range created {
		if err := c.apiClient.VoidShipment(ctx, s.ID); err != nil {
			c.logger.Error("Failed to void partial Canada Post shipment", append(fields, zap.String("shipment", s.ID), zap.Error(err))...)
		}
	}
}

// CancelShipment voids every shipment of the order.
func (c *Client) CancelShipment(ctx context.Context, details *shipper.ShipmentDetails) (bool, error) {
	ctx, span := c.tracer.Start(ctx, "canadapost.CancelShipment")
	defer span.End()
	fields := shipper.LogFields(carrierName, "cancel_shipment", details)

	ref := details.ExternalID
	if ref == "" {
		ref, _ = shipper.ParseMarker(details.TrackingNumber)
	}
	ids := splitIDs(ref)
	if len(ids) == 0 {
		c.logger.Warn("Canada Post shipment has nothing to void", fields...)
		details.ClearExternal()
		return false, nil
	}

	c.logger.Info("Voiding Canada Post shipments", append(fields, zap.String("external_id", ref))...)
	found := false
	for _, id := range ids {
		if err := c.apiClient.VoidShipment(ctx, id); err != nil {
			err = c.classify(err, "void shipment "+id)
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

// TransmitManifest transmits the groups of the given shipments and returns
// the resulting manifest. Every shipment gets the manifest URL.
func (c *Client) TransmitManifest(ctx context.Context, shipments []*shipper.ShipmentDetails) (*shipper.Manifest, error) {
	ctx, span := c.tracer.Start(ctx, "canadapost.TransmitManifest")
	defer span.End()
	fields := shipper.LogFields(carrierName, "transmit_manifest", nil)

	if !c.config.ManifestEnabled {
		return nil, c.fail(span, fields, shipper.NewShipperError(carrierName, shipper.CodeBadRequest, "manifests are not enabled"))
	}

	var groups []string
	seen := make(map[string]bool)
	ids := make([]int64, 0, len(shipments))
	for _, d := range shipments {
		ids = append(ids, d.ID)
		g := firstNonEmpty(d.GroupID, c.config.GroupID)
		if g != "" && !seen[g] {
			seen[g] = true
			groups = append(groups, g)
		}
	}
	if len(groups) == 0 {
		return nil, c.fail(span, fields, shipper.NewShipperError(carrierName, shipper.CodeBadRequest, "no shipment group to transmit"))
	}

	c.logger.Info("Transmitting Canada Post manifest",
		append(fields, zap.Strings("groups", groups), zap.Int("shipment_count", len(shipments)))...)
	span.SetAttributes(attribute.StringSlice("groups", groups))

	from := c.sender(nil)
	links, err := c.apiClient.TransmitShipments(ctx, &TransmitRequest{
		GroupIDs:        groups,
		ShippingPoint:   from.PostalCode,
		ManifestAddress: toAPIAddress(from),
	})
	if err != nil {
		return nil, c.fail(span, fields, c.classify(err, "transmit shipments"))
	}

	m := &shipper.Manifest{ShipmentIDs: ids}
	var numbers []string
	for _, link := range links {
		info, err := c.apiClient.GetManifest(ctx, link)
		if err != nil {
			return nil, c.fail(span, fields, c.classify(err, "get manifest"))
		}
		numbers = append(numbers, info.PONumber)
		m.Cost += info.TotalDue
		if m.URL == "" {
			m.URL = info.ArtifactURL
		}
	}
	m.ID = strings.Join(numbers, ",")
	m.Cost = rates.RoundMoney(m.Cost)
	for _, d := range shipments {
		d.ManifestURL = m.URL
	}
	return m, nil
}

// ValidateConfiguration compares the rate table against service discovery.
func (c *Client) ValidateConfiguration(ctx context.Context, storeID, vendorID int64) (string, []string, error) {
	ctx, span := c.tracer.Start(ctx, "canadapost.ValidateConfiguration")
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
		c.logger.Warn("Canada Post configuration mismatch", zap.String("finding", f))
	}
	return report, findings, nil
}

// SyncCatalogue creates the methods Canada Post offers.
func (c *Client) SyncCatalogue(ctx context.Context) (*rates.SyncReport, error) {
	ctx, span := c.tracer.Start(ctx, "canadapost.SyncCatalogue")
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
	c.logger.Info("Canada Post catalogue synced",
		zap.Int("methods_created", report.MethodsCreated),
		zap.Int("records_created", report.RecordsCreated),
	)
	return report, nil
}

func (c *Client) catalogue(ctx context.Context) ([]rates.CatalogueEntry, error) {
	svcs, err := c.apiClient.GetServices(ctx, "")
	if err != nil {
		return nil, c.classify(err, "discover services")
	}
	entries := make([]rates.CatalogueEntry, 0, len(svcs))
	for _, s := range svcs {
		entries = append(entries, rates.CatalogueEntry{
			CarrierCode: carrierName,
			CarrierName: "Canada Post",
			MethodName:  s.Name,
			ServiceCode: s.Code,
		})
	}
	return entries, nil
}

// sender fills the blank fields of from with the configured sender.
func (c *Client) sender(from *shipper.Address) shipper.Address {
	if from == nil {
		return c.config.DefaultSender
	}
	return shipper.WithFallback(*from, c.config.DefaultSender, senderFields...)
}

// groupID is the manifest group of a contract shipment. Non-contract
// shipments have none.
func (c *Client) groupID(details *shipper.ShipmentDetails) string {
	if !c.config.ManifestEnabled {
		return ""
	}
	if details.GroupID != "" {
		return details.GroupID
	}
	if c.config.GroupID != "" {
		return c.config.GroupID
	}
	return time.Now().UTC().Format("20060102")
}

func (c *Client) contractID() string {
	if !c.config.ManifestEnabled {
		return ""
	}
	return c.config.ContractID
}

// fail logs err with the shipment fields, marks the span and returns err.
func (c *Client) fail(span trace.Span, fields []zap.Field, err error) error {
	c.logger.Error("Canada Post API error", append(fields, zap.Error(err))...)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// classify converts an API failure to a typed shipper error.
func (c *Client) classify(err error, msg string) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.LabelNotPermitted() {
			return shipper.NewShipperError(carrierName, shipper.CodeLabelNotPermitted, msg+": "+apiErr.Description).
				WithStatusCode(apiErr.StatusCode).WithCause(err)
		}
		return shipper.FromStatus(carrierName, apiErr.StatusCode, msg+": "+apiErr.Description).WithCause(err)
	}
	return shipper.Wrap(carrierName, msg, err)
}

// ============================================================================
// Conversion helpers
// ============================================================================

func toAPIAddress(addr shipper.Address) Address {
	return Address{
		Name:         addr.Name,
		Company:      addr.Company,
		Phone:        addr.Phone,
		AddressLine1: addr.Line1,
		AddressLine2: addr.Line2,
		City:         addr.City,
		Province:     addr.StateCode,
		PostalCode:   addr.PostalCode,
		CountryCode:  addr.CountryCode,
	}
}

func orderNumber(o *shipper.Order) string {
	if o.Reference != "" {
		return o.Reference
	}
	return strconv.FormatInt(o.ID, 10)
}

func joinIDs(shipments []Shipment) string {
	ids := make([]string, len(shipments))
	for i, s := range shipments {
		ids[i] = s.ID
	}
	return strings.Join(ids, ",")
}

func splitIDs(s string) []string {
	var ids []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			ids = append(ids, p)
		}
	}
	return ids
}

func formatDecimal(v float64, decimals int) string {
	return strconv.FormatFloat(v, 'f', decimals, 64)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

var (
	_ shipper.Carrier    = (*Client)(nil)
	_ shipper.Manifester = (*Client)(nil)
)
