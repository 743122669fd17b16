package postgres

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS carriers (
  id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL,
  system_name TEXT NOT NULL,
  external_code TEXT NOT NULL DEFAULT '',
  address_id BIGINT NOT NULL DEFAULT 0,
  active BOOLEAN NOT NULL DEFAULT TRUE
)`,
		`CREATE INDEX IF NOT EXISTS idx_carriers_system_name ON carriers(system_name)`,
		`
CREATE TABLE IF NOT EXISTS shipping_methods (
  id BIGSERIAL PRIMARY KEY,
  carrier_id BIGINT NOT NULL DEFAULT 0,
  name TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  service_code TEXT NOT NULL DEFAULT '',
  display_order INT NOT NULL DEFAULT 0
)`,
		`
CREATE TABLE IF NOT EXISTS rate_records (
  id BIGSERIAL PRIMARY KEY,
  store_id BIGINT NOT NULL DEFAULT 0,
  vendor_id BIGINT NOT NULL DEFAULT 0,
  warehouse_id BIGINT NOT NULL DEFAULT 0,
  carrier_id BIGINT NOT NULL DEFAULT 0,
  country_id BIGINT NOT NULL DEFAULT 0,
  state_province_id BIGINT NOT NULL DEFAULT 0,
  zip TEXT NOT NULL DEFAULT '',
  shipping_method_id BIGINT NOT NULL DEFAULT 0,
  weight_from DOUBLE PRECISION NOT NULL DEFAULT 0,
  weight_to DOUBLE PRECISION NOT NULL DEFAULT 0,
  order_subtotal_from DOUBLE PRECISION NOT NULL DEFAULT 0,
  order_subtotal_to DOUBLE PRECISION NOT NULL DEFAULT 0,
  additional_fixed_cost DOUBLE PRECISION NOT NULL DEFAULT 0,
  rate_per_weight_unit DOUBLE PRECISION NOT NULL DEFAULT 0,
  lower_weight_limit DOUBLE PRECISION NOT NULL DEFAULT 0,
  percentage_rate_of_subtotal DOUBLE PRECISION NOT NULL DEFAULT 0,
  calculate_cubic_weight BOOLEAN NOT NULL DEFAULT FALSE,
  cubic_weight_factor DOUBLE PRECISION NOT NULL DEFAULT 0,
  friendly_name TEXT NOT NULL DEFAULT '',
  description TEXT NOT NULL DEFAULT '',
  display_order INT NOT NULL DEFAULT 0,
  active BOOLEAN NOT NULL DEFAULT TRUE,
  transit_days INT NOT NULL DEFAULT 0,
  cut_off_time_id BIGINT NOT NULL DEFAULT 0,
  send_from_address_id BIGINT NOT NULL DEFAULT 0
)`,
		`CREATE INDEX IF NOT EXISTS idx_rate_records_method ON rate_records(shipping_method_id, carrier_id)`,
		`
CREATE TABLE IF NOT EXISTS orders (
  id BIGINT PRIMARY KEY,
  payload JSONB NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS shipments (
  id BIGSERIAL PRIMARY KEY,
  order_id BIGINT NOT NULL,
  carrier TEXT NOT NULL DEFAULT '',
  external_id TEXT NOT NULL DEFAULT '',
  tracking_number TEXT NOT NULL DEFAULT '',
  label_url TEXT NOT NULL DEFAULT '',
  manifest_url TEXT NOT NULL DEFAULT '',
  group_id TEXT NOT NULL DEFAULT '',
  cost DOUBLE PRECISION NOT NULL DEFAULT 0,
  currency TEXT NOT NULL DEFAULT '',
  scheduled_ship_date TIMESTAMPTZ NULL,
  packaging_option JSONB NULL,
  label_pending BOOLEAN NOT NULL DEFAULT FALSE,
  state TEXT NOT NULL,
  label_status TEXT NOT NULL DEFAULT '',
  failure_reason TEXT NOT NULL DEFAULT '',
  last_error TEXT NOT NULL DEFAULT '',
  attempts INT NOT NULL DEFAULT 0,
  locked_until TIMESTAMPTZ NULL,
  lock_token TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`ALTER TABLE shipments ADD COLUMN IF NOT EXISTS lock_token TEXT NOT NULL DEFAULT ''`,
		`CREATE INDEX IF NOT EXISTS idx_shipments_state ON shipments(state, label_status, carrier)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
