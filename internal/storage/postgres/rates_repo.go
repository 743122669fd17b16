package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/tournevent/fulfillment/pkg/rates"
)

const recordColumns = `
  id, store_id, vendor_id, warehouse_id, carrier_id,
  country_id, state_province_id, zip, shipping_method_id,
  weight_from, weight_to, order_subtotal_from, order_subtotal_to,
  additional_fixed_cost, rate_per_weight_unit, lower_weight_limit,
  percentage_rate_of_subtotal, calculate_cubic_weight, cubic_weight_factor,
  friendly_name, description, display_order, active, transit_days,
  cut_off_time_id, send_from_address_id`

func scanRecord(row scanner) (rates.Record, error) {
	var r rates.Record
	err := row.Scan(
		&r.ID, &r.StoreID, &r.VendorID, &r.WarehouseID, &r.CarrierID,
		&r.CountryID, &r.StateProvinceID, &r.Zip, &r.ShippingMethodID,
		&r.WeightFrom, &r.WeightTo, &r.OrderSubtotalFrom, &r.OrderSubtotalTo,
		&r.AdditionalFixedCost, &r.RatePerWeightUnit, &r.LowerWeightLimit,
		&r.PercentageRateOfSubtotal, &r.CalculateCubicWeight, &r.CubicWeightFactor,
		&r.FriendlyName, &r.Description, &r.DisplayOrder, &r.Active, &r.TransitDays,
		&r.CutOffTimeID, &r.SendFromAddressID,
	)
	return r, err
}

func recordArgs(r *rates.Record) []any {
	return []any{
		r.StoreID, r.VendorID, r.WarehouseID, r.CarrierID,
		r.CountryID, r.StateProvinceID, r.Zip, r.ShippingMethodID,
		r.WeightFrom, r.WeightTo, r.OrderSubtotalFrom, r.OrderSubtotalTo,
		r.AdditionalFixedCost, r.RatePerWeightUnit, r.LowerWeightLimit,
		r.PercentageRateOfSubtotal, r.CalculateCubicWeight, r.CubicWeightFactor,
		r.FriendlyName, r.Description, r.DisplayOrder, r.Active, r.TransitDays,
		r.CutOffTimeID, r.SendFromAddressID,
	}
}

func (s *Storage) queryRecords(ctx context.Context, q string, args ...any) ([]rates.Record, error) {
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select rate records")
	}
	defer rows.Close()

	var out []rates.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan rate record")
		}
		out = append(out, r)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// FindRecords implements rates.Store. Keys and ranges are filtered in SQL;
// the zip pattern is applied on the result.
func (s *Storage) FindRecords(ctx context.Context, l rates.Lookup) ([]rates.Record, error) {
	candidates, err := s.queryRecords(ctx, `
SELECT`+recordColumns+`
FROM rate_records
WHERE active
  AND store_id IN (0, $1)
  AND vendor_id IN (0, $2)
  AND warehouse_id IN (0, $3)
  AND carrier_id IN (0, $4)
  AND shipping_method_id IN (0, $5)
  AND country_id IN (0, $6)
  AND state_province_id IN (0, $7)
  AND $8 BETWEEN weight_from AND weight_to
  AND $9 BETWEEN order_subtotal_from AND order_subtotal_to
ORDER BY display_order, id
`, l.StoreID, l.VendorID, l.WarehouseID, l.CarrierID, l.ShippingMethodID,
		l.CountryID, l.StateProvinceID, l.Weight, l.Subtotal)
	if err != nil {
		return nil, err
	}
	out := candidates[:0]
	for _, r := range candidates {
		if l.Matches(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

// ListRecords implements rates.Store.
func (s *Storage) ListRecords(ctx context.Context, sc rates.Scope) ([]rates.Record, error) {
	return s.queryRecords(ctx, `
SELECT`+recordColumns+`
FROM rate_records
WHERE ($1::bigint = 0 OR store_id IN (0, $1))
  AND ($2::bigint = 0 OR vendor_id IN (0, $2))
  AND ($3::bigint = 0 OR carrier_id = $3)
ORDER BY display_order, id
`, sc.StoreID, sc.VendorID, sc.CarrierID)
}

// GetRecord implements rates.Store.
func (s *Storage) GetRecord(ctx context.Context, id int64) (*rates.Record, error) {
	r, err := scanRecord(s.db.QueryRow(ctx, `SELECT`+recordColumns+` FROM rate_records WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, rates.ErrRecordNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select rate record")
	}
	return &r, nil
}

// InsertRecord implements rates.Store.
func (s *Storage) InsertRecord(ctx context.Context, r *rates.Record) error {
	err := s.db.QueryRow(ctx, `
INSERT INTO rate_records (
  store_id, vendor_id, warehouse_id, carrier_id,
  country_id, state_province_id, zip, shipping_method_id,
  weight_from, weight_to, order_subtotal_from, order_subtotal_to,
  additional_fixed_cost, rate_per_weight_unit, lower_weight_limit,
  percentage_rate_of_subtotal, calculate_cubic_weight, cubic_weight_factor,
  friendly_name, description, display_order, active, transit_days,
  cut_off_time_id, send_from_address_id
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25)
RETURNING id
`, recordArgs(r)...).Scan(&r.ID)
	return errors.Wrap(err, "insert rate record")
}

// UpdateRecord implements rates.Store.
func (s *Storage) UpdateRecord(ctx context.Context, r *rates.Record) error {
	args := append(recordArgs(r), r.ID)
	tag, err := s.db.Exec(ctx, `
UPDATE rate_records SET
  store_id = $1, vendor_id = $2, warehouse_id = $3, carrier_id = $4,
  country_id = $5, state_province_id = $6, zip = $7, shipping_method_id = $8,
  weight_from = $9, weight_to = $10, order_subtotal_from = $11, order_subtotal_to = $12,
  additional_fixed_cost = $13, rate_per_weight_unit = $14, lower_weight_limit = $15,
  percentage_rate_of_subtotal = $16, calculate_cubic_weight = $17, cubic_weight_factor = $18,
  friendly_name = $19, description = $20, display_order = $21, active = $22, transit_days = $23,
  cut_off_time_id = $24, send_from_address_id = $25
WHERE id = $26
`, args...)
	if err != nil {
		return errors.Wrap(err, "update rate record")
	}
	if tag.RowsAffected() == 0 {
		return rates.ErrRecordNotFound
	}
	return nil
}

// DeleteRecord implements rates.Store.
func (s *Storage) DeleteRecord(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM rate_records WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "delete rate record")
	}
	if tag.RowsAffected() == 0 {
		return rates.ErrRecordNotFound
	}
	return nil
}

// Carriers implements rates.Store.
func (s *Storage) Carriers(ctx context.Context) ([]rates.Carrier, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, name, system_name, external_code, address_id, active
FROM carriers
ORDER BY id
`)
	if err != nil {
		return nil, errors.Wrap(err, "select carriers")
	}
	defer rows.Close()

	var out []rates.Carrier
	for rows.Next() {
		var c rates.Carrier
		if err := rows.Scan(&c.ID, &c.Name, &c.SystemName, &c.ExternalCode, &c.AddressID, &c.Active); err != nil {
			return nil, errors.Wrap(err, "scan carrier")
		}
		out = append(out, c)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// InsertCarrier implements rates.Store.
func (s *Storage) InsertCarrier(ctx context.Context, c *rates.Carrier) error {
	err := s.db.QueryRow(ctx, `
INSERT INTO carriers (name, system_name, external_code, address_id, active)
VALUES ($1,$2,$3,$4,$5)
RETURNING id
`, c.Name, c.SystemName, c.ExternalCode, c.AddressID, c.Active).Scan(&c.ID)
	return errors.Wrap(err, "insert carrier")
}

// ShippingMethods implements rates.Store.
func (s *Storage) ShippingMethods(ctx context.Context) ([]rates.ShippingMethod, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, carrier_id, name, description, service_code, display_order
FROM shipping_methods
ORDER BY id
`)
	if err != nil {
		return nil, errors.Wrap(err, "select shipping methods")
	}
	defer rows.Close()

	var out []rates.ShippingMethod
	for rows.Next() {
		var m rates.ShippingMethod
		if err := rows.Scan(&m.ID, &m.CarrierID, &m.Name, &m.Description, &m.ServiceCode, &m.DisplayOrder); err != nil {
			return nil, errors.Wrap(err, "scan shipping method")
		}
		out = append(out, m)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// InsertShippingMethod implements rates.Store.
func (s *Storage) InsertShippingMethod(ctx context.Context, m *rates.ShippingMethod) error {
	err := s.db.QueryRow(ctx, `
INSERT INTO shipping_methods (carrier_id, name, description, service_code, display_order)
VALUES ($1,$2,$3,$4,$5)
RETURNING id
`, m.CarrierID, m.Name, m.Description, m.ServiceCode, m.DisplayOrder).Scan(&m.ID)
	return errors.Wrap(err, "insert shipping method")
}

var _ rates.Store = (*Storage)(nil)
