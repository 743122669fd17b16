package rates_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/fulfillment/pkg/rates"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

func newEngine(t *testing.T, records ...rates.Record) (*rates.Engine, *rates.MemoryStore) {
	t.Helper()
	store := rates.NewMemoryStore()
	for i := range records {
		require.NoError(t, store.InsertRecord(context.Background(), &records[i]))
	}
	return rates.NewEngine(store, otelzap.New(zap.NewNop())), store
}

func lane(overrides func(*rates.Record)) rates.Record {
	r := rates.Record{
		CarrierID:         1,
		CountryID:         124,
		WeightFrom:        0,
		WeightTo:          5,
		OrderSubtotalFrom: 0,
		OrderSubtotalTo:   100,
		Active:            true,
	}
	if overrides != nil {
		overrides(&r)
	}
	return r
}

func TestCalculate_Scenarios(t *testing.T) {
	r := rates.Record{
		WeightFrom: 0, WeightTo: 5,
		OrderSubtotalFrom: 0, OrderSubtotalTo: 100,
		AdditionalFixedCost: 4.00,
		RatePerWeightUnit:   1.00,
		LowerWeightLimit:    1.0,
	}
	assert.Equal(t, 6.00, rates.Calculate(r, 3.0, 50.00))

	r.PercentageRateOfSubtotal = 2
	assert.Equal(t, 7.00, rates.Calculate(r, 3.0, 50.00))
}

func TestCalculate_NeverNegative(t *testing.T) {
	r := rates.Record{AdditionalFixedCost: -10, RatePerWeightUnit: 1}
	assert.Equal(t, 0.0, rates.Calculate(r, 2, 0))
}

func TestCalculate_Monotonic(t *testing.T) {
	r := rates.Record{AdditionalFixedCost: 1.5, RatePerWeightUnit: 0.75, LowerWeightLimit: 2, PercentageRateOfSubtotal: 3}

	prev := rates.Calculate(r, 0, 40)
	for w := 0.25; w <= 20; w += 0.25 {
		got := rates.Calculate(r, w, 40)
		assert.GreaterOrEqual(t, got, prev, "weight %v", w)
		prev = got
	}

	prev = rates.Calculate(r, 3, 0)
	for s := 1.0; s <= 500; s += 7.3 {
		got := rates.Calculate(r, 3, s)
		assert.GreaterOrEqual(t, got, prev, "subtotal %v", s)
		prev = got
	}
}

func TestCalculate_RoundsToCents(t *testing.T) {
	r := rates.Record{PercentageRateOfSubtotal: 3.333}
	assert.Equal(t, 3.33, rates.Calculate(r, 0, 100))
}

func TestEngine_FindCandidates_Determinism(t *testing.T) {
	engine, _ := newEngine(t,
		lane(func(r *rates.Record) { r.DisplayOrder = 2; r.FriendlyName = "b" }),
		lane(func(r *rates.Record) { r.DisplayOrder = 1; r.FriendlyName = "a" }),
		lane(func(r *rates.Record) { r.StateProvinceID = 9; r.FriendlyName = "state" }),
	)
	l := rates.Lookup{CarrierID: 1, CountryID: 124, StateProvinceID: 7, Weight: 2, Subtotal: 10}

	first, err := engine.FindCandidates(context.Background(), l)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "a", first.FriendlyName)

	for i := 0; i < 20; i++ {
		got, err := engine.FindCandidates(context.Background(), l)
		require.NoError(t, err)
		assert.Equal(t, first.ID, got.ID)
	}
}

func TestEngine_FindCandidates_PrefersSpecificVendor(t *testing.T) {
	engine, _ := newEngine(t,
		lane(func(r *rates.Record) { r.FriendlyName = "wildcard" }),
		lane(func(r *rates.Record) { r.VendorID = 42; r.FriendlyName = "vendor"; r.DisplayOrder = 10 }),
	)

	got, err := engine.FindCandidates(context.Background(), rates.Lookup{VendorID: 42, CarrierID: 1, CountryID: 124, Weight: 1, Subtotal: 1})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "vendor", got.FriendlyName)

	got, err = engine.FindCandidates(context.Background(), rates.Lookup{VendorID: 7, CarrierID: 1, CountryID: 124, Weight: 1, Subtotal: 1})
	require.NoError(t, err)
	assert.Equal(t, "wildcard", got.FriendlyName)
}

func TestEngine_FindCandidates_ZipSpecificity(t *testing.T) {
	engine, _ := newEngine(t,
		lane(func(r *rates.Record) { r.FriendlyName = "any" }),
		lane(func(r *rates.Record) { r.Zip = "K1A*"; r.FriendlyName = "prefix" }),
		lane(func(r *rates.Record) { r.Zip = "k1a 0b1"; r.FriendlyName = "exact" }),
	)
	ctx := context.Background()

	got, err := engine.FindCandidates(ctx, rates.Lookup{CarrierID: 1, CountryID: 124, Zip: "K1A0B1", Weight: 1, Subtotal: 1})
	require.NoError(t, err)
	assert.Equal(t, "exact", got.FriendlyName)

	got, err = engine.FindCandidates(ctx, rates.Lookup{CarrierID: 1, CountryID: 124, Zip: "K1A 9Z9", Weight: 1, Subtotal: 1})
	require.NoError(t, err)
	assert.Equal(t, "prefix", got.FriendlyName)

	got, err = engine.FindCandidates(ctx, rates.Lookup{CarrierID: 1, CountryID: 124, Zip: "M5V1A1", Weight: 1, Subtotal: 1})
	require.NoError(t, err)
	assert.Equal(t, "any", got.FriendlyName)
}

func TestEngine_FindCandidates_InclusiveRanges(t *testing.T) {
	engine, _ := newEngine(t, lane(nil))
	ctx := context.Background()

	for _, w := range []float64{0, 5} {
		got, err := engine.FindCandidates(ctx, rates.Lookup{CarrierID: 1, CountryID: 124, Weight: w, Subtotal: 100})
		require.NoError(t, err)
		assert.NotNil(t, got, "weight %v", w)
	}
}

func TestEngine_FindCandidates_OutOfRange(t *testing.T) {
	engine, _ := newEngine(t, lane(nil))

	got, err := engine.FindCandidates(context.Background(), rates.Lookup{CarrierID: 1, CountryID: 124, Weight: 5.01, Subtotal: 10})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEngine_FindCandidates_SkipsInactive(t *testing.T) {
	engine, _ := newEngine(t, lane(func(r *rates.Record) { r.Active = false }))

	got, err := engine.FindCandidates(context.Background(), rates.Lookup{CarrierID: 1, CountryID: 124, Weight: 1, Subtotal: 10})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEngine_Match_Ambiguous(t *testing.T) {
	engine, _ := newEngine(t,
		lane(func(r *rates.Record) { r.FriendlyName = "first"; r.AdditionalFixedCost = 9 }),
		lane(func(r *rates.Record) { r.FriendlyName = "second"; r.AdditionalFixedCost = 1 }),
	)

	m, err := engine.Match(context.Background(), rates.Lookup{CarrierID: 1, CountryID: 124, Weight: 1, Subtotal: 1})
	require.NoError(t, err)
	require.NotNil(t, m.Record)
	assert.True(t, m.Ambiguous)
	assert.Equal(t, 2, m.Candidates)
	// the cheaper record does not win on price
	assert.Equal(t, "first", m.Record.FriendlyName)
}

func TestEngine_Match_CubicWeight(t *testing.T) {
	engine, _ := newEngine(t,
		lane(func(r *rates.Record) {
			r.FriendlyName = "light"
			r.WeightTo = 5
			r.CalculateCubicWeight = true
			r.CubicWeightFactor = 250
		}),
		lane(func(r *rates.Record) {
			r.FriendlyName = "heavy"
			r.WeightFrom = 5.001
			r.WeightTo = 50
		}),
	)

	// 0.4 × 0.3 × 0.2 m = 0.024 m³ × 250 = 6 kg chargeable
	m, err := engine.Match(context.Background(), rates.Lookup{CarrierID: 1, CountryID: 124, Weight: 2, Subtotal: 1, Volume: 0.024})
	require.NoError(t, err)
	require.NotNil(t, m.Record)
	assert.Equal(t, "heavy", m.Record.FriendlyName)
	assert.InDelta(t, 6.0, m.ChargeableWeight, 1e-9)
}

func TestChargeableWeight(t *testing.T) {
	r := rates.Record{CalculateCubicWeight: true, CubicWeightFactor: 0.0002}
	assert.InDelta(t, 12.0, rates.ChargeableWeight(r, 3, 60000), 1e-9)
	assert.Equal(t, 3.0, rates.ChargeableWeight(rates.Record{}, 3, 60000))
}

func TestEngine_ResolveMethod(t *testing.T) {
	ctx := context.Background()
	store := rates.NewMemoryStore()
	carrier := rates.Carrier{Name: "PostNL", SystemName: "sendcloud", ExternalCode: "postnl", Active: true}
	require.NoError(t, store.InsertCarrier(ctx, &carrier))
	method := rates.ShippingMethod{CarrierID: carrier.ID, Name: "PostNL Standard", ServiceCode: "8"}
	require.NoError(t, store.InsertShippingMethod(ctx, &method))
	record := rates.Record{CarrierID: carrier.ID, ShippingMethodID: method.ID, FriendlyName: "Home delivery", WeightTo: 10, OrderSubtotalTo: 100, Active: true}
	require.NoError(t, store.InsertRecord(ctx, &record))

	engine := rates.NewEngine(store, otelzap.New(zap.NewNop()))

	res, err := engine.ResolveMethod(ctx, 0, "  home   DELIVERY ")
	require.NoError(t, err)
	assert.Equal(t, method.ID, res.Method.ID)
	assert.Equal(t, "sendcloud", res.Carrier.SystemName)
	require.NotNil(t, res.Record)

	res, err = engine.ResolveMethod(ctx, 0, "PostNL Standard")
	require.NoError(t, err)
	assert.Nil(t, res.Record)
	assert.Equal(t, "8", res.Method.ServiceCode)

	_, err = engine.ResolveMethod(ctx, 0, "Carrier pigeon")
	assert.True(t, errors.Is(err, rates.ErrMethodNotFound))
}

func TestEngine_ResolveMethod_RefusesSharedName(t *testing.T) {
	ctx := context.Background()
	store := rates.NewMemoryStore()
	for _, code := range []string{"postnl", "dhl"} {
		c := rates.Carrier{Name: code, SystemName: "sendcloud", ExternalCode: code, Active: true}
		require.NoError(t, store.InsertCarrier(ctx, &c))
		m := rates.ShippingMethod{CarrierID: c.ID, Name: "Standard", ServiceCode: code + "-std"}
		require.NoError(t, store.InsertShippingMethod(ctx, &m))
		r := rates.Record{CarrierID: c.ID, ShippingMethodID: m.ID, FriendlyName: "Standard", WeightTo: 10, OrderSubtotalTo: 100, Active: true}
		require.NoError(t, store.InsertRecord(ctx, &r))
	}
	engine := rates.NewEngine(store, otelzap.New(zap.NewNop()))

	_, err := engine.ResolveMethod(ctx, 0, "Standard")
	require.Error(t, err)
	assert.True(t, errors.Is(err, rates.ErrMethodNotFound))
	assert.Contains(t, err.Error(), "postnl")
	assert.Contains(t, err.Error(), "dhl")
}

func TestEngine_ResolveMethod_RefusesSharedMethodName(t *testing.T) {
	ctx := context.Background()
	store := rates.NewMemoryStore()
	for _, code := range []string{"postnl", "dhl"} {
		c := rates.Carrier{Name: code, SystemName: "sendcloud", ExternalCode: code, Active: true}
		require.NoError(t, store.InsertCarrier(ctx, &c))
		m := rates.ShippingMethod{CarrierID: c.ID, Name: "Standard", ServiceCode: code + "-std"}
		require.NoError(t, store.InsertShippingMethod(ctx, &m))
	}
	engine := rates.NewEngine(store, otelzap.New(zap.NewNop()))

	_, err := engine.ResolveMethod(ctx, 0, "standard")
	assert.True(t, errors.Is(err, rates.ErrMethodNotFound))
}

func TestEngine_Strict(t *testing.T) {
	e := rates.NewEngine(rates.NewMemoryStore(), otelzap.New(zap.NewNop()), rates.WithStrictMatching(true))
	assert.True(t, e.Strict())
}
