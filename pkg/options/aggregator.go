// Package options combines the shipping options of every package group of
// a shipment into one offer set.
package options

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/tournevent/fulfillment/pkg/rates"
	"github.com/tournevent/fulfillment/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNoGroups is returned when GetOptions is called without groups.
	ErrNoGroups = errors.New("no package groups")
	// ErrNilGroup is returned when a group is nil.
	ErrNilGroup = errors.New("nil package group")
)

// Source prices one package group. *shipper.Registry implements it.
type Source interface {
	CollectOptions(ctx context.Context, req *shipper.OptionRequest, names ...string) (*shipper.OptionResult, error)
}

// Metrics records aggregation outcomes.
type Metrics interface {
	RecordAggregation(outcome string, groups, options int, duration float64)
}

// Aggregation outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeEmpty    = "empty"
)

// Aggregator intersects the options offered for every package group.
type Aggregator struct {
	source           Source
	logger           *otelzap.Logger
	metrics          Metrics
	returnValidIfAny bool
	carriers         []string
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithReturnValidOptionsIfAny keeps the surviving options when a group
// failed, dropping the errors instead.
func WithReturnValidOptionsIfAny(enabled bool) Option {
	return func(a *Aggregator) { a.returnValidIfAny = enabled }
}

// WithCarriers restricts pricing to the named carriers.
func WithCarriers(names ...string) Option {
	return func(a *Aggregator) { a.carriers = names }
}

// New creates an aggregator. metrics may be nil.
func New(source Source, logger *otelzap.Logger, metrics Metrics, opts ...Option) *Aggregator {
	if logger == nil {
		logger = otelzap.New(zap.NewNop())
	}
	a := &Aggregator{source: source, logger: logger, metrics: metrics}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// GetOptions prices every group concurrently and returns the options
// offered for all of them. Rates are summed and transit days take the
// slowest group. The result is never an empty success: with no options and
// no errors it carries the generic no-option message.
func (a *Aggregator) GetOptions(ctx context.Context, groups []*shipper.OptionRequest) (*shipper.OptionResult, error) {
	if len(groups) == 0 {
		return nil, ErrNoGroups
	}
	for i, g := range groups {
		if g == nil {
			return nil, fmt.Errorf("%w at index %d", ErrNilGroup, i)
		}
	}
	start := time.Now()

	results := make([]*shipper.OptionResult, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	for i, req := range groups {
		g.Go(func() error {
			res, err := a.source.CollectOptions(gctx, req, a.carriers...)
			if err != nil {
				a.logger.Ctx(ctx).Error("Package group options failed",
					zap.Int("group", i),
					zap.Int64("warehouse_id", req.WarehouseID),
					zap.Error(err),
				)
				res = &shipper.OptionResult{Errors: []string{shipper.ErrNoShippingOption.Error()}}
			}
			if res == nil {
				res = &shipper.OptionResult{}
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	merged := intersect(results)
	outcome := OutcomeOK
	switch {
	case len(merged.Errors) > 0 && a.returnValidIfAny && len(merged.Options) > 0:
		a.logger.Ctx(ctx).Warn("Returning valid options despite group errors", zap.Strings("errors", merged.Errors))
		merged.Errors = nil
	case len(merged.Errors) > 0:
		merged.Options = nil
		outcome = OutcomeRejected
	case len(merged.Options) == 0:
		merged.AddError(shipper.ErrNoShippingOption.Error())
		outcome = OutcomeEmpty
	}

	if a.metrics != nil {
		a.metrics.RecordAggregation(outcome, len(groups), len(merged.Options), time.Since(start).Seconds())
	}
	a.logger.Ctx(ctx).Debug("Options aggregated",
		zap.String("outcome", outcome),
		zap.Int("groups", len(groups)),
		zap.Int("options", len(merged.Options)),
	)
	return merged, nil
}

// intersect keeps the options named in every result. The first group
// provides description, display order and the other descriptive fields.
func intersect(results []*shipper.OptionResult) *shipper.OptionResult {
	merged := &shipper.OptionResult{}
	seenErr := make(map[string]bool)
	for _, res := range results {
		for _, e := range res.Errors {
			if !seenErr[e] {
				seenErr[e] = true
				merged.AddError(e)
			}
		}
	}

	acc := make(map[string]*shipper.Option)
	var order []string
	for _, o := range results[0].Options {
		if _, dup := acc[o.Name]; dup {
			continue
		}
		o := o
		acc[o.Name] = &o
		order = append(order, o.Name)
	}
	for _, res := range results[1:] {
		byName := make(map[string]shipper.Option, len(res.Options))
		for _, o := range res.Options {
			if _, dup := byName[o.Name]; !dup {
				byName[o.Name] = o
			}
		}
		for name, o := range acc {
			other, ok := byName[name]
			if !ok {
				delete(acc, name)
				continue
			}
			o.Rate += other.Rate
			o.TransitDays = max(o.TransitDays, other.TransitDays)
		}
	}

	for _, name := range order {
		if o, ok := acc[name]; ok {
			o.Rate = rates.RoundMoney(o.Rate)
			merged.Options = append(merged.Options, *o)
		}
	}
	sort.SliceStable(merged.Options, func(i, j int) bool {
		if merged.Options[i].DisplayOrder != merged.Options[j].DisplayOrder {
			return merged.Options[i].DisplayOrder < merged.Options[j].DisplayOrder
		}
		return merged.Options[i].Name < merged.Options[j].Name
	})
	return merged
}
