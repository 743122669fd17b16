package rates

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// ErrMethodNotFound is returned when a shipping method name cannot be
// resolved to a configured method and carrier.
var ErrMethodNotFound = errors.New("shipping method not found")

// Engine resolves the applicable rate record for a package and prices it.
// It only reads from the store.
type Engine struct {
	store  Store
	logger *otelzap.Logger
	strict bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithStrictMatching makes adapters report a service with no matching rate
// record as an option-result error. Without it such a service is left out
// of the result silently.
func WithStrictMatching(strict bool) Option {
	return func(e *Engine) { e.strict = strict }
}

// NewEngine creates a rate matching engine over store.
func NewEngine(store Store, logger *otelzap.Logger, opts ...Option) *Engine {
	e := &Engine{store: store, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Strict reports whether a service without a rate record is an error.
func (e *Engine) Strict() bool {
	return e.strict
}

// Store returns the underlying rate table.
func (e *Engine) Store() Store {
	return e.store
}

// Match is the result of resolving a lookup.
type Match struct {
	Record           *Record
	ChargeableWeight float64
	// Ambiguous is set when another active record had the same specificity
	// and display order as the chosen one.
	Ambiguous  bool
	Candidates int
}

// FindCandidates returns the single applicable record, or nil when no record
// covers the lookup.
func (e *Engine) FindCandidates(ctx context.Context, l Lookup) (*Record, error) {
	m, err := e.Match(ctx, l)
	if err != nil {
		return nil, err
	}
	return m.Record, nil
}

// Match resolves the most specific record for l. When that record asks for
// cubic weight, the lookup is repeated with the chargeable weight.
func (e *Engine) Match(ctx context.Context, l Lookup) (*Match, error) {
	m, err := e.pick(ctx, l)
	if err != nil {
		return nil, err
	}
	if m.Record != nil && m.Record.CalculateCubicWeight && m.Record.CubicWeightFactor > 0 {
		if cw := ChargeableWeight(*m.Record, l.Weight, l.Volume); cw != l.Weight {
			cubic := l
			cubic.Weight = cw
			if m, err = e.pick(ctx, cubic); err != nil {
				return nil, err
			}
		}
	}
	if m.Ambiguous {
		e.logger.Warn("Ambiguous rate records",
			zap.Int64("record_id", m.Record.ID),
			zap.Int64("store_id", l.StoreID),
			zap.Int64("vendor_id", l.VendorID),
			zap.Int64("carrier_id", l.CarrierID),
			zap.Int64("shipping_method_id", l.ShippingMethodID),
			zap.Float64("weight", m.ChargeableWeight),
			zap.Int("candidates", m.Candidates),
		)
	}
	return m, nil
}

func (e *Engine) pick(ctx context.Context, l Lookup) (*Match, error) {
	records, err := e.store.FindRecords(ctx, l)
	if err != nil {
		return nil, fmt.Errorf("find rate records: %w", err)
	}
	m := &Match{ChargeableWeight: l.Weight}
	var best Record
	bestScore := -1
	for _, r := range records {
		if !l.Matches(r) {
			continue
		}
		m.Candidates++
		score := specificity(r, l)
		switch {
		case score > bestScore,
			score == bestScore && r.DisplayOrder < best.DisplayOrder,
			score == bestScore && r.DisplayOrder == best.DisplayOrder && r.ID < best.ID:
			m.Ambiguous = score == bestScore && r.DisplayOrder == best.DisplayOrder
			best, bestScore = r, score
		case score == bestScore && r.DisplayOrder == best.DisplayOrder:
			m.Ambiguous = true
		}
	}
	if bestScore < 0 {
		return m, nil
	}
	m.Record = &best
	return m, nil
}

// specificity ranks a matching record: vendor, warehouse, country, state,
// then zip (exact over prefix over wildcard).
func specificity(r Record, l Lookup) int {
	score := 0
	if r.VendorID != 0 {
		score += 32
	}
	if r.WarehouseID != 0 {
		score += 16
	}
	if r.CountryID != 0 {
		score += 8
	}
	if r.StateProvinceID != 0 {
		score += 4
	}
	if z := ZipScore(r.Zip, l.Zip); z > 0 {
		score += z
	}
	return score
}

// ChargeableWeight returns max(weight, volume × CubicWeightFactor) for a
// cubic-weight record and weight otherwise.
func ChargeableWeight(r Record, weight, volume float64) float64 {
	if !r.CalculateCubicWeight || r.CubicWeightFactor <= 0 {
		return weight
	}
	return math.Max(weight, volume*r.CubicWeightFactor)
}

// Calculate prices a record:
//
//	AdditionalFixedCost + max(weight − LowerWeightLimit, 0) × RatePerWeightUnit
//	  + subtotal × PercentageRateOfSubtotal / 100
//
// floored at zero and rounded to cents.
func Calculate(r Record, weight, subtotal float64) float64 {
	total := r.AdditionalFixedCost +
		math.Max(weight-r.LowerWeightLimit, 0)*r.RatePerWeightUnit +
		subtotal*r.PercentageRateOfSubtotal/100
	return RoundMoney(math.Max(total, 0))
}

// RoundMoney rounds half away from zero to two decimals.
func RoundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}

// Resolution is a shipping method name resolved to its configuration.
type Resolution struct {
	Method  ShippingMethod
	Carrier Carrier
	Record  *Record
}

// ResolveMethod maps a shipping method display name, as recorded on an
// order, back to its method and carrier. Rate record friendly names win over
// method names. A name that matches more than one method is refused rather
// than resolved to an arbitrary carrier.
func (e *Engine) ResolveMethod(ctx context.Context, storeID int64, name string) (*Resolution, error) {
	want := normalizeName(name)
	if want == "" {
		return nil, fmt.Errorf("%w: empty name", ErrMethodNotFound)
	}

	methods, err := e.store.ShippingMethods(ctx)
	if err != nil {
		return nil, fmt.Errorf("list shipping methods: %w", err)
	}
	carriers, err := e.store.Carriers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list carriers: %w", err)
	}
	methodByID := make(map[int64]ShippingMethod, len(methods))
	for _, m := range methods {
		methodByID[m.ID] = m
	}
	carrierByID := make(map[int64]Carrier, len(carriers))
	for _, c := range carriers {
		carrierByID[c.ID] = c
	}

	records, err := e.store.ListRecords(ctx, Scope{StoreID: storeID})
	if err != nil {
		return nil, fmt.Errorf("list rate records: %w", err)
	}
	var found *Resolution
	for i := range records {
		r := records[i]
		if normalizeName(r.FriendlyName) != want {
			continue
		}
		m, ok := methodByID[r.ShippingMethodID]
		if !ok {
			continue
		}
		carrierID := r.CarrierID
		if carrierID == 0 {
			carrierID = m.CarrierID
		}
		c, ok := carrierByID[carrierID]
		if !ok {
			continue
		}
		if found == nil {
			found = &Resolution{Method: m, Carrier: c, Record: &r}
		} else if found.Method.ID != m.ID || found.Carrier.ID != c.ID {
			return nil, ambiguous(name, found.Carrier, c)
		}
	}
	if found != nil {
		return found, nil
	}

	for _, m := range methods {
		if normalizeName(m.Name) != want {
			continue
		}
		c, ok := carrierByID[m.CarrierID]
		if !ok {
			continue
		}
		if found != nil {
			return nil, ambiguous(name, found.Carrier, c)
		}
		found = &Resolution{Method: m, Carrier: c}
	}
	if found != nil {
		return found, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrMethodNotFound, name)
}

func ambiguous(name string, a, b Carrier) error {
	return fmt.Errorf("%w: %q is offered by both %s and %s", ErrMethodNotFound, name, a.Name, b.Name)
}
