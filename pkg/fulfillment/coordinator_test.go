package fulfillment_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/fulfillment/pkg/fulfillment"
	"github.com/tournevent/fulfillment/pkg/rates"
	"github.com/tournevent/fulfillment/pkg/shipper"
	"github.com/tournevent/fulfillment/pkg/shipper/mock"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

type publisher struct {
	mu     sync.Mutex
	events []fulfillment.Event
	err    error
}

func (p *publisher) Publish(ctx context.Context, e fulfillment.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *publisher) transitions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, string(e.From)+">"+string(e.To))
	}
	return out
}

type transitions struct {
	mu    sync.Mutex
	count map[string]int
}

func (m *transitions) RecordTransition(carrier, from, to string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.count == nil {
		m.count = make(map[string]int)
	}
	m.count[carrier+":"+to]++
}

type fixture struct {
	coord   *fulfillment.Coordinator
	store   *fulfillment.MemoryStore
	carrier *mock.Client
	pub     *publisher
	metrics *transitions
}

func newFixture(t *testing.T, carrier *mock.Client, opts ...fulfillment.Option) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := otelzap.New(zap.NewNop())

	rateStore := rates.NewMemoryStore()
	c := &rates.Carrier{Name: "Mock Carrier", SystemName: carrier.Name(), Active: true}
	require.NoError(t, rateStore.InsertCarrier(ctx, c))
	require.NoError(t, rateStore.InsertShippingMethod(ctx, &rates.ShippingMethod{CarrierID: c.ID, Name: "Standard", ServiceCode: "STD"}))

	registry := shipper.NewRegistry(logger)
	registry.Register(carrier)

	orders := fulfillment.NewMemoryOrders(
		shipper.Order{ID: 7, ShippingMethodName: "Standard"},
		shipper.Order{ID: 8, ShippingMethodName: "Carrier Pigeon"},
	)
	store := fulfillment.NewMemoryStore()
	pub := &publisher{}
	metrics := &transitions{}
	opts = append([]fulfillment.Option{fulfillment.WithPublisher(pub), fulfillment.WithMetrics(metrics)}, opts...)
	coord := fulfillment.New(store, orders, registry, rates.NewEngine(rateStore, logger), logger, opts...)
	return &fixture{coord: coord, store: store, carrier: carrier, pub: pub, metrics: metrics}
}

func (f *fixture) create(t *testing.T, orderID int64) *fulfillment.Shipment {
	t.Helper()
	s, err := f.coord.Create(context.Background(), shipper.ShipmentDetails{OrderID: orderID})
	require.NoError(t, err)
	return s
}

func TestCoordinator_Create(t *testing.T) {
	f := newFixture(t, mock.New("mc"))
	s := f.create(t, 7)

	assert.NotZero(t, s.ID)
	assert.Equal(t, fulfillment.StateUnsubmitted, s.State)
	assert.Equal(t, []string{">unsubmitted"}, f.pub.transitions())
}

func TestCoordinator_Submit(t *testing.T) {
	f := newFixture(t, mock.New("mc"))
	s := f.create(t, 7)

	got, err := f.coord.Submit(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, fulfillment.StateSubmitted, got.State)
	assert.Equal(t, fulfillment.LabelReady, got.LabelStatus)
	assert.Equal(t, "mc", got.Carrier)
	assert.NotEmpty(t, got.TrackingNumber)
	assert.Equal(t, 12.50, got.Cost)

	stored, err := f.store.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, got.TrackingNumber, stored.TrackingNumber)
	assert.True(t, stored.LockedUntil.IsZero(), "the lease is released")
	assert.Equal(t, []string{">unsubmitted", "unsubmitted>submitting", "submitting>submitted"}, f.pub.transitions())
	assert.Equal(t, 1, f.metrics.count["mc:submitted"])
}

func TestCoordinator_Submit_InvalidTransition(t *testing.T) {
	f := newFixture(t, mock.New("mc"))
	s := f.create(t, 7)
	_, err := f.coord.Submit(context.Background(), s.ID)
	require.NoError(t, err)

	_, err = f.coord.Submit(context.Background(), s.ID)
	assert.True(t, errors.Is(err, fulfillment.ErrInvalidTransition))
	assert.Equal(t, 1, f.carrier.Calls("CreateShipment"))
}

func TestCoordinator_Submit_NotFound(t *testing.T) {
	f := newFixture(t, mock.New("mc"))

	_, err := f.coord.Submit(context.Background(), 404)
	assert.True(t, errors.Is(err, fulfillment.ErrShipmentNotFound))
}

func TestCoordinator_Submit_LabelPendingThenRetry(t *testing.T) {
	carrier := mock.New("mc")
	pending := true
	carrier.OnCreateShipment = func(ctx context.Context, d *shipper.ShipmentDetails, o *shipper.Order) (*shipper.ShipmentOutcome, error) {
		if pending {
			return &shipper.ShipmentOutcome{TrackingNumber: shipper.Marker("X1"), ExternalID: "X1", Cost: 5, LabelPending: true}, nil
		}
		assert.Equal(t, shipper.Marker("X1"), d.TrackingNumber, "the retry sees the marker")
		return &shipper.ShipmentOutcome{TrackingNumber: "TRK1", ExternalID: "X1", LabelURI: "https://label", Cost: 5, Resumed: true}, nil
	}
	f := newFixture(t, carrier)
	s := f.create(t, 7)
	ctx := context.Background()

	got, err := f.coord.Submit(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, fulfillment.StateSubmitted, got.State)
	assert.Equal(t, fulfillment.LabelPending, got.LabelStatus)

	ready, err := f.coord.RetryPendingLabels(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, ready, "still pending")

	pending = false
	ready, err = f.coord.RetryPendingLabels(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, ready)

	stored, err := f.store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, fulfillment.LabelReady, stored.LabelStatus)
	assert.Equal(t, "TRK1", stored.TrackingNumber)
	assert.Equal(t, 3, carrier.Calls("CreateShipment"))
}

func TestCoordinator_Submit_FatalErrorFails(t *testing.T) {
	carrier := mock.New("mc")
	carrier.OnCreateShipment = func(ctx context.Context, d *shipper.ShipmentDetails, o *shipper.Order) (*shipper.ShipmentOutcome, error) {
		return nil, shipper.FromStatus("mc", http.StatusBadRequest, "postal code rejected")
	}
	f := newFixture(t, carrier)
	s := f.create(t, 7)
	ctx := context.Background()

	got, err := f.coord.Submit(ctx, s.ID)
	require.Error(t, err)
	assert.True(t, shipper.IsFatal(err))
	assert.Equal(t, fulfillment.StateFailed, got.State)
	assert.Contains(t, got.FailureReason, "postal code rejected")

	carrier.OnCreateShipment = nil
	got, err = f.coord.Submit(ctx, s.ID)
	require.NoError(t, err, "operators may resubmit failed shipments")
	assert.Equal(t, fulfillment.StateSubmitted, got.State)
	assert.Empty(t, got.FailureReason)
}

func TestCoordinator_Submit_RetryableErrorRestoresState(t *testing.T) {
	carrier := mock.New("mc")
	carrier.OnCreateShipment = func(ctx context.Context, d *shipper.ShipmentDetails, o *shipper.Order) (*shipper.ShipmentOutcome, error) {
		return nil, shipper.FromStatus("mc", http.StatusServiceUnavailable, "maintenance")
	}
	f := newFixture(t, carrier)
	s := f.create(t, 7)

	_, err := f.coord.Submit(context.Background(), s.ID)
	require.Error(t, err)
	assert.True(t, shipper.IsRetryable(err))

	stored, err := f.store.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, fulfillment.StateUnsubmitted, stored.State)
	assert.Contains(t, stored.LastError, "maintenance")
	assert.Equal(t, 1, stored.Attempts)
}

func TestCoordinator_Submit_UnknownMethodFails(t *testing.T) {
	f := newFixture(t, mock.New("mc"))
	s := f.create(t, 8)

	got, err := f.coord.Submit(context.Background(), s.ID)
	require.Error(t, err)
	assert.True(t, shipper.IsCode(err, shipper.CodeInvalidMethod))
	assert.Equal(t, fulfillment.StateFailed, got.State)
	assert.Zero(t, f.carrier.Calls("CreateShipment"))
}

func TestCoordinator_Submit_SerializesAttempts(t *testing.T) {
	carrier := mock.New("mc")
	started := make(chan struct{})
	proceed := make(chan struct{})
	carrier.OnCreateShipment = func(ctx context.Context, d *shipper.ShipmentDetails, o *shipper.Order) (*shipper.ShipmentOutcome, error) {
		close(started)
		<-proceed
		return &shipper.ShipmentOutcome{TrackingNumber: "TRK", ExternalID: "E"}, nil
	}
	f := newFixture(t, carrier)
	s := f.create(t, 7)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := f.coord.Submit(ctx, s.ID)
		done <- err
	}()
	<-started

	_, err := f.coord.Submit(ctx, s.ID)
	assert.True(t, errors.Is(err, fulfillment.ErrBusy))
	_, err = f.coord.Cancel(ctx, s.ID)
	assert.True(t, errors.Is(err, fulfillment.ErrBusy))

	close(proceed)
	require.NoError(t, <-done)
	assert.Equal(t, 1, carrier.Calls("CreateShipment"))
}

func TestCoordinator_Submit_RecoversExpiredSubmitting(t *testing.T) {
	f := newFixture(t, mock.New("mc"))
	s := f.create(t, 7)
	ctx := context.Background()
	claimed, err := f.store.Claim(ctx, s.ID, time.Millisecond)
	require.NoError(t, err)
	claimed.State = fulfillment.StateSubmitting
	require.NoError(t, f.store.Save(ctx, claimed))
	time.Sleep(5 * time.Millisecond)

	got, err := f.coord.Submit(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, fulfillment.StateSubmitted, got.State)
}

func TestCoordinator_Submit_LeaseBoundsCarrierCall(t *testing.T) {
	carrier := mock.New("mc")
	var (
		calls, inFlight, maxInFlight atomic.Int32
		firstErr                     = make(chan error, 1)
	)
	carrier.OnCreateShipment = func(ctx context.Context, d *shipper.ShipmentDetails, o *shipper.Order) (*shipper.ShipmentOutcome, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		if calls.Add(1) > 1 {
			return &shipper.ShipmentOutcome{TrackingNumber: "TRK2", ExternalID: "E2"}, nil
		}
		select {
		case <-ctx.Done():
			firstErr <- ctx.Err()
			return nil, ctx.Err()
		case <-time.After(80 * time.Millisecond):
			firstErr <- nil
			return &shipper.ShipmentOutcome{TrackingNumber: "TRK1", ExternalID: "E1"}, nil
		}
	}
	f := newFixture(t, carrier, fulfillment.WithLease(30*time.Millisecond))
	s := f.create(t, 7)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := f.coord.Submit(ctx, s.ID)
		done <- err
	}()
	time.Sleep(45 * time.Millisecond)

	got, err := f.coord.Submit(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, fulfillment.StateSubmitted, got.State)
	assert.Equal(t, "TRK2", got.TrackingNumber)

	assert.ErrorIs(t, <-firstErr, context.DeadlineExceeded)
	err = <-done
	require.Error(t, err)
	assert.True(t, shipper.IsRetryable(err))
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int32(1), maxInFlight.Load(), "carrier calls never overlap")

	stored, err := f.store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "TRK2", stored.TrackingNumber)
	assert.True(t, stored.LockedUntil.IsZero())
}

func TestCoordinator_Submit_StaleAttemptCannotOverwrite(t *testing.T) {
	carrier := mock.New("mc")
	var calls atomic.Int32
	started := make(chan struct{})
	proceed := make(chan struct{})
	carrier.OnCreateShipment = func(ctx context.Context, d *shipper.ShipmentDetails, o *shipper.Order) (*shipper.ShipmentOutcome, error) {
		if calls.Add(1) > 1 {
			return &shipper.ShipmentOutcome{TrackingNumber: "TRK2", ExternalID: "E2"}, nil
		}
		// ignores ctx like a client without deadline support
		close(started)
		<-proceed
		return &shipper.ShipmentOutcome{TrackingNumber: "TRK1", ExternalID: "E1"}, nil
	}
	f := newFixture(t, carrier, fulfillment.WithLease(20*time.Millisecond))
	s := f.create(t, 7)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := f.coord.Submit(ctx, s.ID)
		done <- err
	}()
	<-started
	time.Sleep(30 * time.Millisecond)

	got, err := f.coord.Submit(ctx, s.ID)
	require.NoError(t, err, "the expired lease is taken over")
	assert.Equal(t, "TRK2", got.TrackingNumber)

	close(proceed)
	err = <-done
	assert.ErrorIs(t, err, fulfillment.ErrLeaseLost)
	assert.ErrorIs(t, err, fulfillment.ErrBusy)

	stored, err := f.store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, fulfillment.StateSubmitted, stored.State)
	assert.Equal(t, "TRK2", stored.TrackingNumber, "the stale result is not written")
	assert.True(t, stored.LockedUntil.IsZero())
}

func TestCoordinator_ManifestFlow(t *testing.T) {
	f := newFixture(t, mock.New("mc", mock.WithManifest()))
	ctx := context.Background()
	var ids []int64
	for range 2 {
		s := f.create(t, 7)
		got, err := f.coord.Submit(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, fulfillment.StateManifestPending, got.State)
		ids = append(ids, s.ID)
	}

	m, err := f.coord.TransmitManifests(ctx, "mc")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, ids, m.ShipmentIDs)
	for _, id := range ids {
		s, err := f.store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, fulfillment.StateTransmitted, s.State)
		assert.Equal(t, m.URL, s.ManifestURL)
	}

	m, err = f.coord.TransmitManifests(ctx, "mc")
	require.NoError(t, err)
	assert.Nil(t, m, "nothing left to transmit")

	_, err = f.coord.Cancel(ctx, ids[0])
	assert.True(t, errors.Is(err, fulfillment.ErrInvalidTransition))
}

func TestCoordinator_ManifestFailureKeepsShipmentsPending(t *testing.T) {
	carrier := mock.New("mc", mock.WithManifest())
	carrier.OnTransmitManifest = func(ctx context.Context, shipments []*shipper.ShipmentDetails) (*shipper.Manifest, error) {
		return nil, shipper.FromStatus("mc", http.StatusBadGateway, "down")
	}
	f := newFixture(t, carrier)
	ctx := context.Background()
	s := f.create(t, 7)
	_, err := f.coord.Submit(ctx, s.ID)
	require.NoError(t, err)

	_, err = f.coord.TransmitManifests(ctx, "mc")
	require.Error(t, err)
	stored, err := f.store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, fulfillment.StateManifestPending, stored.State)
	assert.Contains(t, stored.LastError, "down")
	assert.True(t, stored.LockedUntil.IsZero())
}

func TestCoordinator_TransmitManifests_NoManifestCarrier(t *testing.T) {
	f := newFixture(t, mock.New("mc"))

	m, err := f.coord.TransmitManifests(context.Background(), "mc")
	require.NoError(t, err)
	assert.Nil(t, m)
	assert.Zero(t, f.carrier.Calls("TransmitManifest"))
}

func TestCoordinator_Cancel(t *testing.T) {
	f := newFixture(t, mock.New("mc"))
	ctx := context.Background()
	s := f.create(t, 7)
	_, err := f.coord.Submit(ctx, s.ID)
	require.NoError(t, err)

	found, err := f.coord.Cancel(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, found)

	stored, err := f.store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, fulfillment.StateCancelled, stored.State)
	assert.Empty(t, stored.TrackingNumber)
	assert.Empty(t, stored.ExternalID)

	_, err = f.coord.Cancel(ctx, s.ID)
	assert.True(t, errors.Is(err, fulfillment.ErrInvalidTransition))
}

func TestCoordinator_Cancel_Unsubmitted(t *testing.T) {
	f := newFixture(t, mock.New("mc"))
	s := f.create(t, 7)

	found, err := f.coord.Cancel(context.Background(), s.ID)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Zero(t, f.carrier.Calls("CancelShipment"))
}

func TestCoordinator_Cancel_CarrierError(t *testing.T) {
	carrier := mock.New("mc")
	carrier.OnCancelShipment = func(ctx context.Context, d *shipper.ShipmentDetails) (bool, error) {
		return false, shipper.FromStatus("mc", http.StatusServiceUnavailable, "down")
	}
	f := newFixture(t, carrier)
	ctx := context.Background()
	s := f.create(t, 7)
	_, err := f.coord.Submit(ctx, s.ID)
	require.NoError(t, err)

	_, err = f.coord.Cancel(ctx, s.ID)
	require.Error(t, err)
	stored, err := f.store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, fulfillment.StateSubmitted, stored.State)
	assert.NotEmpty(t, stored.TrackingNumber)
	assert.Contains(t, stored.LastError, "down")
}

func TestCoordinator_Handle(t *testing.T) {
	f := newFixture(t, mock.New("mc"))
	ctx := context.Background()
	s := f.create(t, 7)

	require.NoError(t, f.coord.Handle(ctx, fulfillment.Command{Action: fulfillment.ActionSubmit, ShipmentID: s.ID}))
	require.NoError(t, f.coord.Handle(ctx, fulfillment.Command{Action: fulfillment.ActionCancel, ShipmentID: s.ID}))
	err := f.coord.Handle(ctx, fulfillment.Command{Action: "teleport", ShipmentID: s.ID})
	assert.True(t, errors.Is(err, fulfillment.ErrUnknownCommand))
}

func TestCoordinator_PublishFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, mock.New("mc"))
	f.pub.err = errors.New("broker down")
	s := f.create(t, 7)

	got, err := f.coord.Submit(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, fulfillment.StateSubmitted, got.State)
}
