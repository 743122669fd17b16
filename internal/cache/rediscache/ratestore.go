package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tournevent/fulfillment/pkg/rates"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// DefaultPrefix namespaces rate table keys.
const DefaultPrefix = "rates:"

// RateStore is a rates.Store that serves reads from Redis and falls through
// to the wrapped store on a miss. Any write drops every cached key. Cache
// failures are logged and never fail the read.
type RateStore struct {
	next   rates.Store
	cache  *RedisCache
	ttl    time.Duration
	prefix string
	logger *otelzap.Logger
}

// NewRateStore wraps next.
func NewRateStore(next rates.Store, cache *RedisCache, ttl time.Duration, logger *otelzap.Logger) *RateStore {
	return &RateStore{next: next, cache: cache, ttl: ttl, prefix: DefaultPrefix, logger: logger}
}

func cached[T any](ctx context.Context, s *RateStore, key string, load func() (T, error)) (T, error) {
	key = s.prefix + key
	if b, ok, err := s.cache.Get(ctx, key); err != nil {
		s.logger.Ctx(ctx).Warn("Rate cache read failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		var v T
		if err := json.Unmarshal(b, &v); err == nil {
			return v, nil
		}
		s.logger.Ctx(ctx).Warn("Discarding undecodable rate cache entry", zap.String("key", key))
	}

	v, err := load()
	if err != nil {
		return v, err
	}
	b, err := json.Marshal(v)
	if err == nil {
		err = s.cache.Set(ctx, key, b, s.ttl)
	}
	if err != nil {
		s.logger.Ctx(ctx).Warn("Rate cache write failed", zap.String("key", key), zap.Error(err))
	}
	return v, nil
}

// Invalidate drops every cached rate table read.
func (s *RateStore) Invalidate(ctx context.Context) {
	if err := s.cache.DeletePrefix(ctx, s.prefix); err != nil {
		s.logger.Ctx(ctx).Error("Rate cache invalidation failed", zap.Error(err))
	}
}

func (s *RateStore) FindRecords(ctx context.Context, l rates.Lookup) ([]rates.Record, error) {
	key := fmt.Sprintf("find:%d:%d:%d:%d:%d:%d:%d:%s:%g:%g:%g",
		l.StoreID, l.VendorID, l.WarehouseID, l.CarrierID, l.ShippingMethodID,
		l.CountryID, l.StateProvinceID, l.Zip, l.Weight, l.Subtotal, l.Volume)
	return cached(ctx, s, key, func() ([]rates.Record, error) { return s.next.FindRecords(ctx, l) })
}

func (s *RateStore) ListRecords(ctx context.Context, sc rates.Scope) ([]rates.Record, error) {
	key := fmt.Sprintf("list:%d:%d:%d", sc.StoreID, sc.VendorID, sc.CarrierID)
	return cached(ctx, s, key, func() ([]rates.Record, error) { return s.next.ListRecords(ctx, sc) })
}

func (s *RateStore) GetRecord(ctx context.Context, id int64) (*rates.Record, error) {
	return s.next.GetRecord(ctx, id)
}

func (s *RateStore) Carriers(ctx context.Context) ([]rates.Carrier, error) {
	return cached(ctx, s, "carriers", func() ([]rates.Carrier, error) { return s.next.Carriers(ctx) })
}

func (s *RateStore) ShippingMethods(ctx context.Context) ([]rates.ShippingMethod, error) {
	return cached(ctx, s, "methods", func() ([]rates.ShippingMethod, error) { return s.next.ShippingMethods(ctx) })
}

func (s *RateStore) InsertRecord(ctx context.Context, r *rates.Record) error {
	defer s.Invalidate(ctx)
	return s.next.InsertRecord(ctx, r)
}

func (s *RateStore) UpdateRecord(ctx context.Context, r *rates.Record) error {
	defer s.Invalidate(ctx)
	return s.next.UpdateRecord(ctx, r)
}

func (s *RateStore) DeleteRecord(ctx context.Context, id int64) error {
	defer s.Invalidate(ctx)
	return s.next.DeleteRecord(ctx, id)
}

func (s *RateStore) InsertCarrier(ctx context.Context, c *rates.Carrier) error {
	defer s.Invalidate(ctx)
	return s.next.InsertCarrier(ctx, c)
}

func (s *RateStore) InsertShippingMethod(ctx context.Context, m *rates.ShippingMethod) error {
	defer s.Invalidate(ctx)
	return s.next.InsertShippingMethod(ctx, m)
}

var _ rates.Store = (*RateStore)(nil)
