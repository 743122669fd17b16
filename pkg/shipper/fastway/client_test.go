package fastway_test

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/fulfillment/pkg/rates"
	"github.com/tournevent/fulfillment/pkg/shipper"
	"github.com/tournevent/fulfillment/pkg/shipper/fastway"
	"github.com/tournevent/fulfillment/pkg/units"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

type recorder struct {
	mu    sync.Mutex
	calls []shipper.ShipmentDetails
}

func (r *recorder) RecordDetails(ctx context.Context, d *shipper.ShipmentDetails) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, *d)
	return nil
}

type fixture struct {
	client *fastway.Client
	api    *fastway.MockAPIClient
	store  *rates.MemoryStore
	rec    *recorder
}

func newFixture(t *testing.T, cfg fastway.Config, strict bool) *fixture {
	t.Helper()
	logger := otelzap.New(zap.NewNop())
	store := rates.NewMemoryStore()
	api := fastway.NewMockAPIClient()
	rec := &recorder{}
	if cfg.Franchise == "" {
		cfg.Franchise = "SYD"
	}
	client := fastway.NewWithAPIClient(cfg, api, shipper.Deps{
		Engine:   rates.NewEngine(store, logger, rates.WithStrictMatching(strict)),
		Store:    store,
		Recorder: rec,
		Units:    units.Base{Weight: units.Kilogram, Dimension: units.Centimetre},
	}, logger, nil)

	report, err := client.SyncCatalogue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.CarriersCreated)
	require.Equal(t, 4, report.MethodsCreated)
	return &fixture{client: client, api: api, store: store, rec: rec}
}

func (f *fixture) record(t *testing.T, name string) rates.Record {
	t.Helper()
	records, err := f.store.ListRecords(context.Background(), rates.Scope{})
	require.NoError(t, err)
	for _, r := range records {
		if r.FriendlyName == name {
			return r
		}
	}
	t.Fatalf("no record %q", name)
	return rates.Record{}
}

func (f *fixture) capWeights(t *testing.T, limit float64) {
	t.Helper()
	ctx := context.Background()
	records, err := f.store.ListRecords(ctx, rates.Scope{})
	require.NoError(t, err)
	for _, r := range records {
		r.WeightTo = limit
		require.NoError(t, f.store.UpdateRecord(ctx, &r))
	}
}

func optionRequest() *shipper.OptionRequest {
	return &shipper.OptionRequest{
		To:       &shipper.Address{Name: "Ada", Line1: "1 Martin Pl", City: "Sydney", StateCode: "NSW", PostalCode: "2000", CountryCode: "AU"},
		Items:    []shipper.Item{{SKU: "A", Quantity: 1, Weight: 2, Length: 30, Width: 20, Height: 10}},
		Subtotal: 80,
	}
}

func order(method string) *shipper.Order {
	return &shipper.Order{
		ID:                 7,
		ShippingMethodName: method,
		ShippingAddress:    *optionRequest().To,
		Items:              []shipper.Item{{SKU: "A", Quantity: 1, Weight: 2, Length: 30, Width: 20, Height: 10}},
		Subtotal:           80,
		Currency:           "AUD",
	}
}

func TestPrice_PercentageAppliesToMarkedUpTotal(t *testing.T) {
	tests := []struct {
		name   string
		record rates.Record
		live   float64
		weight float64
		want   float64
	}{
		{"live only", rates.Record{}, 9.95, 2, 9.95},
		{"fixed and per kilo", rates.Record{AdditionalFixedCost: 3, RatePerWeightUnit: 0.5, LowerWeightLimit: 1}, 10, 5, 15},
		{"below lower limit", rates.Record{RatePerWeightUnit: 2, LowerWeightLimit: 5}, 10, 3, 10},
		{"percentage of total", rates.Record{AdditionalFixedCost: 2, PercentageRateOfSubtotal: 10}, 8, 1, 11},
		{"never negative", rates.Record{AdditionalFixedCost: -20}, 5, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fastway.Price(tt.record, tt.live, tt.weight))
		})
	}
}

func TestClient_GetOptions_MissingAddress(t *testing.T) {
	f := newFixture(t, fastway.Config{}, false)
	req := optionRequest()
	req.To = nil

	res, err := f.client.GetOptions(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, res.Options)
	assert.Equal(t, []string{shipper.MsgAddressRequired}, res.Errors)
}

func TestClient_GetOptions_LiveQuotePlusMarkup(t *testing.T) {
	f := newFixture(t, fastway.Config{}, false)
	r := f.record(t, "Parcel Red")
	r.AdditionalFixedCost = 3.05
	r.RatePerWeightUnit = 1
	r.LowerWeightLimit = 1
	r.PercentageRateOfSubtotal = 10
	require.NoError(t, f.store.UpdateRecord(context.Background(), &r))

	res, err := f.client.GetOptions(context.Background(), optionRequest())
	require.NoError(t, err)
	require.Len(t, res.Options, 4)
	red := res.Options[0]
	assert.Equal(t, "Parcel Red", red.Name)
	assert.Equal(t, "RED", red.ServiceCode)
	// (9.95 live + 3.05 + 1 kg × 1.00) × 1.10; the subtotal plays no part
	assert.Equal(t, 15.40, red.Rate)
	assert.Equal(t, 3, red.TransitDays)
	assert.Equal(t, "AUD", red.Currency)
	assert.Equal(t, 11.95, res.Options[1].Rate, "orange is the live quote")
}

func TestClient_GetOptions_OtherCountry(t *testing.T) {
	f := newFixture(t, fastway.Config{}, false)
	var calls atomic.Int32
	f.api.OnLookup = func(ctx context.Context, req *fastway.LookupRequest) (*fastway.LookupResult, error) {
		calls.Add(1)
		return &fastway.LookupResult{}, nil
	}
	req := optionRequest()
	req.To.CountryCode = "NZ"

	res, err := f.client.GetOptions(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, res.Options)
	assert.Empty(t, res.Errors)
	assert.Zero(t, calls.Load())
}

func TestClient_GetOptions_SumsSplitParcels(t *testing.T) {
	f := newFixture(t, fastway.Config{}, false)
	var calls atomic.Int32
	f.api.OnLookup = func(ctx context.Context, req *fastway.LookupRequest) (*fastway.LookupResult, error) {
		calls.Add(1)
		assert.Equal(t, 20, req.Weight)
		assert.Equal(t, "SYD", req.Franchise)
		assert.Equal(t, "2000", req.Postcode)
		return &fastway.LookupResult{
			DeliveryTimeframeDays: "1-2",
			Services:              []fastway.QuotedService{{LabelColour: "RED", TotalPrice: 10}},
		}, nil
	}
	req := optionRequest()
	req.Items[0].Weight = 60

	res, err := f.client.GetOptions(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	require.Len(t, res.Options, 1)
	assert.Equal(t, 30.00, res.Options[0].Rate)
	assert.Equal(t, 2, res.Options[0].TransitDays)
}

func TestClient_GetOptions_UnpricedServices(t *testing.T) {
	tests := []struct {
		name    string
		strict  bool
		options int
	}{
		{"skipped silently", false, 3},
		{"reported when strict", true, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, fastway.Config{}, tt.strict)
			grey := f.record(t, "Parcel Grey")
			require.NoError(t, f.store.DeleteRecord(context.Background(), grey.ID))

			res, err := f.client.GetOptions(context.Background(), optionRequest())
			require.NoError(t, err)
			assert.Len(t, res.Options, tt.options)
			for _, o := range res.Options {
				assert.NotEqual(t, "Parcel Grey", o.Name)
			}
			if !tt.strict {
				assert.Empty(t, res.Errors)
				return
			}
			require.Len(t, res.Errors, 1)
			assert.Contains(t, res.Errors[0], "Parcel Grey")
		})
	}
}

func TestClient_GetOptions_WeightOutsideEveryRecord(t *testing.T) {
	for _, strict := range []bool{false, true} {
		f := newFixture(t, fastway.Config{}, strict)
		f.capWeights(t, 1)

		res, err := f.client.GetOptions(context.Background(), optionRequest())
		require.NoError(t, err)
		assert.Empty(t, res.Options)
		if strict {
			assert.Len(t, res.Errors, 4, "one error per service")
			assert.False(t, res.Success())
			continue
		}
		assert.Empty(t, res.Errors)
	}
}

func TestClient_GetOptions_OtherFranchiseIgnored(t *testing.T) {
	f := newFixture(t, fastway.Config{}, false)
	ctx := context.Background()
	other := &rates.Carrier{Name: "Fastway Melbourne", SystemName: "fastway", ExternalCode: "MEL", Active: true}
	require.NoError(t, f.store.InsertCarrier(ctx, other))
	require.NoError(t, f.store.InsertShippingMethod(ctx, &rates.ShippingMethod{CarrierID: other.ID, Name: "Melbourne Red", ServiceCode: "RED"}))

	res, err := f.client.GetOptions(ctx, optionRequest())
	require.NoError(t, err)
	for _, o := range res.Options {
		assert.NotEqual(t, "Melbourne Red", o.Name)
	}
}

func TestClient_GetOptions_APIError(t *testing.T) {
	f := newFixture(t, fastway.Config{}, false)
	f.api.SimulateErrors = true

	_, err := f.client.GetOptions(context.Background(), optionRequest())
	require.Error(t, err)
	assert.True(t, shipper.IsRetryable(err))
}

func TestClient_CreateShipment_Success(t *testing.T) {
	f := newFixture(t, fastway.Config{}, false)
	details := &shipper.ShipmentDetails{ID: 1, OrderID: 7, Carrier: "fastway"}

	out, err := f.client.CreateShipment(context.Background(), details, order("Parcel Red"))
	require.NoError(t, err)
	assert.False(t, out.LabelPending)
	assert.Equal(t, "1001", out.ExternalID)
	assert.Equal(t, "RE00100101", out.TrackingNumber)
	assert.NotEmpty(t, out.LabelURI)
	assert.Equal(t, 9.95, out.Cost)
	require.Len(t, f.rec.calls, 1)
	assert.Equal(t, "AUD", f.rec.calls[0].Currency)
}

func TestClient_CreateShipment_OneItemPerParcel(t *testing.T) {
	f := newFixture(t, fastway.Config{}, false)
	var sent fastway.ConsignmentRequest
	f.api.OnCreateConsignment = func(ctx context.Context, req *fastway.ConsignmentRequest) (*fastway.Consignment, error) {
		sent = *req
		return &fastway.Consignment{ID: 5, LabelNumbers: []string{"A", "B", "C"}, LabelURL: "https://label/5"}, nil
	}
	o := order("Parcel Green")
	o.Items[0].Weight = 60

	out, err := f.client.CreateShipment(context.Background(), &shipper.ShipmentDetails{ID: 2}, o)
	require.NoError(t, err)
	assert.Equal(t, "SYD", sent.Franchise)
	assert.Equal(t, "7", sent.Reference)
	assert.Equal(t, "Sydney", sent.To.Address.Locality)
	require.Len(t, sent.Items, 3)
	for _, item := range sent.Items {
		assert.Equal(t, "GREEN", item.LabelColour)
		assert.Equal(t, 20, item.WeightDead)
	}
	assert.Equal(t, "A,B,C", out.TrackingNumber)
}

func TestClient_CreateShipment_LabelNotPermittedThenResume(t *testing.T) {
	f := newFixture(t, fastway.Config{}, false)
	f.api.OnCreateConsignment = func(ctx context.Context, req *fastway.ConsignmentRequest) (*fastway.Consignment, error) {
		if req.CreateLabels {
			return nil, &fastway.APIError{StatusCode: http.StatusPreconditionFailed, Message: "labels cannot be printed"}
		}
		f.api.OnCreateConsignment = nil
		return f.api.CreateConsignment(ctx, req)
	}
	details := &shipper.ShipmentDetails{ID: 3, OrderID: 7}
	ctx := context.Background()

	out, err := f.client.CreateShipment(ctx, details, order("Parcel Red"))
	require.NoError(t, err)
	assert.True(t, out.LabelPending)
	assert.Equal(t, "EOID:1001", out.TrackingNumber)
	require.Len(t, f.rec.calls, 1)
	assert.Equal(t, "EOID:1001", f.rec.calls[0].TrackingNumber)

	out, err = f.client.CreateShipment(ctx, details, order("Parcel Red"))
	require.NoError(t, err)
	assert.True(t, out.Resumed)
	assert.False(t, out.LabelPending)
	assert.Equal(t, "RE00100101", out.TrackingNumber)
	assert.NotEmpty(t, out.LabelURI)
	assert.Equal(t, 1, f.api.CreatedConsignments(), "resume never creates a second consignment")
}

func TestClient_CreateShipment_ResumeStillPending(t *testing.T) {
	f := newFixture(t, fastway.Config{}, false)
	f.api.OnGetConsignment = func(ctx context.Context, id int) (*fastway.Consignment, error) {
		return &fastway.Consignment{ID: id}, nil
	}
	f.api.OnGetLabels = func(ctx context.Context, id int) (*fastway.Labels, error) {
		return nil, &fastway.APIError{StatusCode: http.StatusPreconditionFailed}
	}
	details := &shipper.ShipmentDetails{ID: 4, TrackingNumber: shipper.Marker("55"), Cost: 9}

	out, err := f.client.CreateShipment(context.Background(), details, order("Parcel Red"))
	require.NoError(t, err)
	assert.True(t, out.LabelPending)
	assert.True(t, out.Resumed)
	assert.Equal(t, "EOID:55", out.TrackingNumber)
	assert.Equal(t, 9.0, out.Cost)
}

func TestClient_CreateShipment_UnresolvableMarker(t *testing.T) {
	for _, marker := range []string{"999", "not-a-number"} {
		f := newFixture(t, fastway.Config{}, false)
		details := &shipper.ShipmentDetails{ID: 5, TrackingNumber: shipper.Marker(marker)}

		_, err := f.client.CreateShipment(context.Background(), details, order("Parcel Red"))
		require.Error(t, err, marker)
		assert.True(t, shipper.IsCode(err, shipper.CodeUnresolvableMarker), marker)
		assert.True(t, shipper.IsFatal(err), marker)
	}
}

func TestClient_CreateShipment_InvalidMethod(t *testing.T) {
	f := newFixture(t, fastway.Config{}, false)

	_, err := f.client.CreateShipment(context.Background(), &shipper.ShipmentDetails{ID: 6}, order("Pigeon"))
	assert.True(t, shipper.IsCode(err, shipper.CodeInvalidMethod))
}

func TestClient_CreateShipment_MissingRecipient(t *testing.T) {
	f := newFixture(t, fastway.Config{}, false)
	o := order("Parcel Red")
	o.ShippingAddress.Line1 = ""

	_, err := f.client.CreateShipment(context.Background(), &shipper.ShipmentDetails{ID: 7}, o)
	assert.True(t, shipper.IsCode(err, shipper.CodeBadRequest))
	assert.Zero(t, f.api.CreatedConsignments())
}

func TestClient_CreateShipment_DefaultRecipientFillsBlanks(t *testing.T) {
	f := newFixture(t, fastway.Config{DefaultRecipient: shipper.Address{Line1: "Dock 4"}}, false)
	o := order("Parcel Red")
	o.ShippingAddress.Line1 = ""

	_, err := f.client.CreateShipment(context.Background(), &shipper.ShipmentDetails{ID: 7}, o)
	require.NoError(t, err)
	assert.Equal(t, 1, f.api.CreatedConsignments())
}

func TestClient_CancelShipment(t *testing.T) {
	f := newFixture(t, fastway.Config{}, false)
	ctx := context.Background()
	details := &shipper.ShipmentDetails{ID: 9}
	_, err := f.client.CreateShipment(ctx, details, order("Parcel Red"))
	require.NoError(t, err)

	found, err := f.client.CancelShipment(ctx, details)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, details.ExternalID)
	assert.Empty(t, details.TrackingNumber)
	assert.Empty(t, details.LabelURL)
}

func TestClient_CancelShipment_NotFound(t *testing.T) {
	f := newFixture(t, fastway.Config{}, false)
	details := &shipper.ShipmentDetails{ID: 10, ExternalID: "123", TrackingNumber: "RE1"}

	found, err := f.client.CancelShipment(context.Background(), details)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, details.ExternalID)
}

func TestClient_CancelShipment_ProviderDown(t *testing.T) {
	f := newFixture(t, fastway.Config{}, false)
	f.api.SimulateErrors = true
	details := &shipper.ShipmentDetails{ID: 11, ExternalID: "123", TrackingNumber: "RE1"}

	_, err := f.client.CancelShipment(context.Background(), details)
	require.Error(t, err)
	assert.True(t, shipper.IsRetryable(err))
	assert.Equal(t, "123", details.ExternalID, "details stay untouched on failure")
}

func TestClient_ValidateConfiguration(t *testing.T) {
	f := newFixture(t, fastway.Config{}, false)
	f.api.OnListFranchises = func(ctx context.Context, countryCode int) ([]fastway.Franchise, error) {
		assert.Equal(t, 1, countryCode)
		return []fastway.Franchise{{Code: "SYD", Name: "Sydney", Services: []fastway.FranchiseService{{Code: "RED", Name: "Parcel Red"}}}}, nil
	}

	report, findings, err := f.client.ValidateConfiguration(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Contains(t, report, "fastway")
	assert.Len(t, findings, 3)
}

func TestClient_SyncCatalogue_UnknownFranchise(t *testing.T) {
	logger := otelzap.New(zap.NewNop())
	store := rates.NewMemoryStore()
	client := fastway.NewWithAPIClient(fastway.Config{Franchise: "PER"}, fastway.NewMockAPIClient(), shipper.Deps{
		Engine: rates.NewEngine(store, logger),
		Units:  units.Base{Weight: units.Kilogram, Dimension: units.Centimetre},
	}, logger, nil)

	_, err := client.SyncCatalogue(context.Background())
	assert.True(t, shipper.IsCode(err, shipper.CodeBadRequest))
}
