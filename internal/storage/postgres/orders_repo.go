package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/tournevent/fulfillment/pkg/fulfillment"
	"github.com/tournevent/fulfillment/pkg/shipper"
)

// ErrOrderNotFound is returned for an unknown order id.
var ErrOrderNotFound = errors.New("order not found")

// PutOrder stores the host order a shipment is created for.
func (s *Storage) PutOrder(ctx context.Context, o *shipper.Order) error {
	payload, err := json.Marshal(o)
	if err != nil {
		return errors.Wrap(err, "encode order")
	}
	_, err = s.db.Exec(ctx, `
INSERT INTO orders (id, payload, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (id)
DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at
`, o.ID, payload)
	return errors.Wrap(err, "upsert order")
}

// Order implements fulfillment.OrderSource.
func (s *Storage) Order(ctx context.Context, id int64) (*shipper.Order, error) {
	var payload []byte
	err := s.db.QueryRow(ctx, `SELECT payload FROM orders WHERE id = $1`, id).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select order")
	}
	var o shipper.Order
	if err := json.Unmarshal(payload, &o); err != nil {
		return nil, errors.Wrap(err, "decode order")
	}
	return &o, nil
}

var _ fulfillment.OrderSource = (*Storage)(nil)
