package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/tournevent/fulfillment/pkg/fulfillment"
	"github.com/tournevent/fulfillment/pkg/shipper"
)

const shipmentColumns = `
  id, order_id, carrier, external_id, tracking_number,
  label_url, manifest_url, group_id, cost, currency,
  scheduled_ship_date, packaging_option, label_pending,
  state, label_status, failure_reason, last_error, attempts,
  locked_until, lock_token, created_at, updated_at`

func scanShipment(row scanner) (*fulfillment.Shipment, error) {
	var (
		s           fulfillment.Shipment
		packaging   []byte
		lockedUntil *time.Time
	)
	if err := row.Scan(
		&s.ID, &s.OrderID, &s.Carrier, &s.ExternalID, &s.TrackingNumber,
		&s.LabelURL, &s.ManifestURL, &s.GroupID, &s.Cost, &s.Currency,
		&s.ScheduledShipDate, &packaging, &s.LabelPending,
		&s.State, &s.LabelStatus, &s.FailureReason, &s.LastError, &s.Attempts,
		&lockedUntil, &s.LockToken, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(packaging) > 0 {
		s.PackagingOption = &shipper.PackagingOption{}
		if err := json.Unmarshal(packaging, s.PackagingOption); err != nil {
			return nil, errors.Wrap(err, "decode packaging option")
		}
	}
	if lockedUntil != nil {
		s.LockedUntil = *lockedUntil
	}
	return &s, nil
}

func packagingJSON(p *shipper.PackagingOption) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	b, err := json.Marshal(p)
	return b, errors.Wrap(err, "encode packaging option")
}

func lockedUntil(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func notFound(id int64) error {
	return fmt.Errorf("%w: %d", fulfillment.ErrShipmentNotFound, id)
}

// Create implements fulfillment.Store.
func (s *Storage) Create(ctx context.Context, sh *fulfillment.Shipment) error {
	packaging, err := packagingJSON(sh.PackagingOption)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	err = s.db.QueryRow(ctx, `
INSERT INTO shipments (
  order_id, carrier, external_id, tracking_number,
  label_url, manifest_url, group_id, cost, currency,
  scheduled_ship_date, packaging_option, label_pending,
  state, label_status, failure_reason, last_error, attempts,
  created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$18)
RETURNING id
`, sh.OrderID, sh.Carrier, sh.ExternalID, sh.TrackingNumber,
		sh.LabelURL, sh.ManifestURL, sh.GroupID, sh.Cost, sh.Currency,
		sh.ScheduledShipDate, packaging, sh.LabelPending,
		sh.State, sh.LabelStatus, sh.FailureReason, sh.LastError, sh.Attempts,
		now).Scan(&sh.ID)
	if err != nil {
		return errors.Wrap(err, "insert shipment")
	}
	sh.CreatedAt, sh.UpdatedAt = now, now
	return nil
}

// Get implements fulfillment.Store.
func (s *Storage) Get(ctx context.Context, id int64) (*fulfillment.Shipment, error) {
	sh, err := scanShipment(s.db.QueryRow(ctx, `SELECT`+shipmentColumns+` FROM shipments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select shipment")
	}
	return sh, nil
}

// Save implements fulfillment.Store. The write only lands while the row
// still carries the caller's lease token.
func (s *Storage) Save(ctx context.Context, sh *fulfillment.Shipment) error {
	packaging, err := packagingJSON(sh.PackagingOption)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	tag, err := s.db.Exec(ctx, `
UPDATE shipments SET
  order_id = $2, carrier = $3, external_id = $4, tracking_number = $5,
  label_url = $6, manifest_url = $7, group_id = $8, cost = $9, currency = $10,
  scheduled_ship_date = $11, packaging_option = $12, label_pending = $13,
  state = $14, label_status = $15, failure_reason = $16, last_error = $17, attempts = $18,
  locked_until = $19, updated_at = $20
WHERE id = $1 AND lock_token = $21
`, sh.ID, sh.OrderID, sh.Carrier, sh.ExternalID, sh.TrackingNumber,
		sh.LabelURL, sh.ManifestURL, sh.GroupID, sh.Cost, sh.Currency,
		sh.ScheduledShipDate, packaging, sh.LabelPending,
		sh.State, sh.LabelStatus, sh.FailureReason, sh.LastError, sh.Attempts,
		lockedUntil(sh.LockedUntil), now, sh.LockToken)
	if err != nil {
		return errors.Wrap(err, "update shipment")
	}
	if tag.RowsAffected() == 0 {
		return s.fenced(ctx, sh.ID)
	}
	sh.UpdatedAt = now
	return nil
}

// fenced explains a fenced write that touched no row.
func (s *Storage) fenced(ctx context.Context, id int64) error {
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM shipments WHERE id = $1)`, id).Scan(&exists); err != nil {
		return errors.Wrap(err, "check shipment")
	}
	if !exists {
		return notFound(id)
	}
	return fmt.Errorf("%w: %d", fulfillment.ErrLeaseLost, id)
}

// Claim implements fulfillment.Store. The row is locked with SKIP LOCKED so
// a concurrent claimer sees it as busy instead of waiting.
func (s *Storage) Claim(ctx context.Context, id int64, lease time.Duration) (*fulfillment.Shipment, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sh, err := scanShipment(tx.QueryRow(ctx, `
SELECT`+shipmentColumns+`
FROM shipments
WHERE id = $1
FOR UPDATE SKIP LOCKED
`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM shipments WHERE id = $1)`, id).Scan(&exists); err != nil {
			return nil, errors.Wrap(err, "check shipment")
		}
		if !exists {
			return nil, notFound(id)
		}
		return nil, fmt.Errorf("%w: %d", fulfillment.ErrBusy, id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select shipment for claim")
	}

	now := time.Now().UTC()
	if now.Before(sh.LockedUntil) {
		return nil, fmt.Errorf("%w: %d", fulfillment.ErrBusy, id)
	}
	sh.LockedUntil = now.Add(lease)
	sh.LockToken = uuid.NewString()
	if _, err := tx.Exec(ctx, `UPDATE shipments SET locked_until = $2, lock_token = $3 WHERE id = $1`, id, sh.LockedUntil, sh.LockToken); err != nil {
		return nil, errors.Wrap(err, "lease shipment")
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return sh, nil
}

// Release implements fulfillment.Store.
func (s *Storage) Release(ctx context.Context, id int64, token string) error {
	tag, err := s.db.Exec(ctx, `
UPDATE shipments SET locked_until = NULL, lock_token = ''
WHERE id = $1 AND lock_token = $2
`, id, token)
	if err != nil {
		return errors.Wrap(err, "release shipment")
	}
	if tag.RowsAffected() == 0 {
		return s.fenced(ctx, id)
	}
	return nil
}

// ListByState implements fulfillment.Store.
func (s *Storage) ListByState(ctx context.Context, q fulfillment.Query) ([]*fulfillment.Shipment, error) {
	limit := any(nil)
	if q.Limit > 0 {
		limit = q.Limit
	}
	rows, err := s.db.Query(ctx, `
SELECT`+shipmentColumns+`
FROM shipments
WHERE ($1 = '' OR state = $1)
  AND ($2 = '' OR label_status = $2)
  AND ($3 = '' OR carrier = $3)
ORDER BY id
LIMIT $4
`, string(q.State), string(q.LabelStatus), q.Carrier, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select shipments")
	}
	defer rows.Close()

	var out []*fulfillment.Shipment
	for rows.Next() {
		sh, err := scanShipment(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan shipment")
		}
		out = append(out, sh)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// RecordDetails implements fulfillment.Store.
func (s *Storage) RecordDetails(ctx context.Context, d *shipper.ShipmentDetails) error {
	packaging, err := packagingJSON(d.PackagingOption)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
UPDATE shipments SET
  carrier = $2, external_id = $3, tracking_number = $4,
  label_url = $5, manifest_url = $6, group_id = $7, cost = $8, currency = $9,
  scheduled_ship_date = $10, packaging_option = $11, label_pending = $12,
  updated_at = now()
WHERE id = $1
`, d.ID, d.Carrier, d.ExternalID, d.TrackingNumber,
		d.LabelURL, d.ManifestURL, d.GroupID, d.Cost, d.Currency,
		d.ScheduledShipDate, packaging, d.LabelPending)
	if err != nil {
		return errors.Wrap(err, "record shipment details")
	}
	if tag.RowsAffected() == 0 {
		return notFound(d.ID)
	}
	return nil
}

var (
	_ fulfillment.Store       = (*Storage)(nil)
	_ shipper.DetailsRecorder = (*Storage)(nil)
)
