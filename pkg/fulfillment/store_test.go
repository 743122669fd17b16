package fulfillment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/fulfillment/pkg/shipper"
)

func TestMemoryStore_ClaimAndRelease(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	m := NewMemoryStore()
	m.now = func() time.Time { return now }

	s := &Shipment{ShipmentDetails: shipper.ShipmentDetails{OrderID: 1}, State: StateUnsubmitted}
	require.NoError(t, m.Create(ctx, s))
	assert.Equal(t, int64(1), s.ID)

	claimed, err := m.Claim(ctx, s.ID, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Minute), claimed.LockedUntil)

	_, err = m.Claim(ctx, s.ID, time.Minute)
	assert.True(t, errors.Is(err, ErrBusy))

	now = now.Add(2 * time.Minute)
	again, err := m.Claim(ctx, s.ID, time.Minute)
	require.NoError(t, err, "an expired lease can be taken over")
	assert.NotEqual(t, claimed.LockToken, again.LockToken)

	require.NoError(t, m.Release(ctx, s.ID, again.LockToken))
	_, err = m.Claim(ctx, s.ID, time.Minute)
	require.NoError(t, err)
}

func TestMemoryStore_LeaseTokenFencesWrites(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	m := NewMemoryStore()
	m.now = func() time.Time { return now }
	s := &Shipment{State: StateUnsubmitted}
	require.NoError(t, m.Create(ctx, s))

	stale, err := m.Claim(ctx, s.ID, time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, stale.LockToken)
	now = now.Add(2 * time.Minute)
	current, err := m.Claim(ctx, s.ID, time.Minute)
	require.NoError(t, err)

	stale.State = StateFailed
	err = m.Save(ctx, stale)
	assert.True(t, errors.Is(err, ErrLeaseLost))
	assert.True(t, errors.Is(err, ErrBusy))
	assert.True(t, errors.Is(m.Release(ctx, s.ID, stale.LockToken), ErrLeaseLost))

	_, err = m.Claim(ctx, s.ID, time.Minute)
	assert.True(t, errors.Is(err, ErrBusy), "a stale release leaves the current lease alone")

	current.State = StateSubmitted
	require.NoError(t, m.Save(ctx, current))
	require.NoError(t, m.Release(ctx, s.ID, current.LockToken))

	got, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StateSubmitted, got.State)
	assert.Empty(t, got.LockToken)
	assert.True(t, got.LockedUntil.IsZero())
}

func TestMemoryStore_UnleasedSaveRejectedWhileLeased(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	s := &Shipment{State: StateUnsubmitted}
	require.NoError(t, m.Create(ctx, s))
	require.NoError(t, m.Save(ctx, s), "no lease, no token")

	_, err := m.Claim(ctx, s.ID, time.Minute)
	require.NoError(t, err)
	assert.True(t, errors.Is(m.Save(ctx, s), ErrLeaseLost))
}

func TestMemoryStore_NotFound(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	_, err := m.Get(ctx, 9)
	assert.True(t, errors.Is(err, ErrShipmentNotFound))
	_, err = m.Claim(ctx, 9, time.Minute)
	assert.True(t, errors.Is(err, ErrShipmentNotFound))
	assert.True(t, errors.Is(m.Save(ctx, &Shipment{ShipmentDetails: shipper.ShipmentDetails{ID: 9}}), ErrShipmentNotFound))
	assert.True(t, errors.Is(m.RecordDetails(ctx, &shipper.ShipmentDetails{ID: 9}), ErrShipmentNotFound))
}

func TestMemoryStore_ListByState(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	for _, st := range []State{StateSubmitted, StateUnsubmitted, StateSubmitted, StateSubmitted} {
		require.NoError(t, m.Create(ctx, &Shipment{State: st, LabelStatus: LabelPending}))
	}

	got, err := m.ListByState(ctx, Query{State: StateSubmitted, LabelStatus: LabelPending, Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].ID)
	assert.Equal(t, int64(3), got[1].ID)

	got, err = m.ListByState(ctx, Query{Carrier: "nobody"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryStore_RecordDetailsKeepsLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	s := &Shipment{State: StateSubmitting, Attempts: 2}
	require.NoError(t, m.Create(ctx, s))

	d := s.ShipmentDetails
	d.TrackingNumber = shipper.Marker("55")
	require.NoError(t, m.RecordDetails(ctx, &d))

	got, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StateSubmitting, got.State)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, shipper.Marker("55"), got.TrackingNumber)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	s := &Shipment{ShipmentDetails: shipper.ShipmentDetails{PackagingOption: &shipper.PackagingOption{Name: "Box"}}}
	require.NoError(t, m.Create(ctx, s))

	got, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	got.PackagingOption.Name = "Envelope"
	got.State = StateFailed

	again, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "Box", again.PackagingOption.Name)
	assert.Empty(t, again.State)
}
