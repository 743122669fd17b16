package shipper

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Registry manages registered carrier adapters.
type Registry struct {
	carriers map[string]Carrier
	logger   *otelzap.Logger
	mu       sync.RWMutex
}

// NewRegistry creates a new carrier registry.
func NewRegistry(logger *otelzap.Logger) *Registry {
	if logger == nil {
		logger = otelzap.New(zap.NewNop())
	}
	return &Registry{
		carriers: make(map[string]Carrier),
		logger:   logger,
	}
}

// Register adds a carrier to the registry.
func (r *Registry) Register(c Carrier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.carriers[c.Name()] = c
}

// Get returns a carrier by name.
func (r *Registry) Get(name string) (Carrier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.carriers[name]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrCarrierNotFound, name)
}

// All returns all registered carriers ordered by name.
func (r *Registry) All() []Carrier {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Carrier, 0, len(r.carriers))
	for _, c := range r.carriers {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result
}

// Names returns the names of all registered carriers in order.
func (r *Registry) Names() []string {
	all := r.All()
	names := make([]string, len(all))
	for i, c := range all {
		names[i] = c.Name()
	}
	return names
}

// Count returns the number of registered carriers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.carriers)
}

// CollectOptions prices req with every registered carrier in parallel, or
// only with the named carriers when given. Options are concatenated in
// carrier order. A carrier that fails is logged and reported with a generic
// per-carrier message so provider details never reach checkout.
func (r *Registry) CollectOptions(ctx context.Context, req *OptionRequest, names ...string) (*OptionResult, error) {
	var carriers []Carrier
	if len(names) == 0 {
		carriers = r.All()
	} else {
		for _, name := range names {
			c, err := r.Get(name)
			if err != nil {
				return nil, err
			}
			carriers = append(carriers, c)
		}
	}
	if len(carriers) == 0 {
		return nil, ErrCarrierNotFound
	}

	results := make([]*OptionResult, len(carriers))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range carriers {
		g.Go(func() error {
			res, err := c.GetOptions(gctx, req)
			if err != nil {
				r.logger.Ctx(ctx).Error("Carrier options failed",
					zap.String("carrier", c.Name()),
					zap.String("operation", "get_options"),
					zap.Error(err),
				)
				res = &OptionResult{Errors: []string{fmt.Sprintf("%s: %s", c.Name(), ErrNoShippingOption)}}
			}
			if res == nil {
				res = &OptionResult{}
			}
			results[i] = res
			return nil // Don't fail the group, continue with other carriers
		})
	}
	_ = g.Wait()

	merged := &OptionResult{}
	seen := make(map[string]bool)
	for _, res := range results {
		merged.Options = append(merged.Options, res.Options...)
		for _, e := range res.Errors {
			if !seen[e] {
				seen[e] = true
				merged.AddError(e)
			}
		}
	}
	return merged, nil
}
