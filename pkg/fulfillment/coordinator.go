package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tournevent/fulfillment/pkg/rates"
	"github.com/tournevent/fulfillment/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultLease is how long one attempt holds a shipment.
const DefaultLease = 2 * time.Minute

// Carriers looks adapters up by system name. *shipper.Registry implements it.
type Carriers interface {
	Get(name string) (shipper.Carrier, error)
}

// MethodResolver maps an order's shipping method name to its carrier.
// *rates.Engine implements it.
type MethodResolver interface {
	ResolveMethod(ctx context.Context, storeID int64, name string) (*rates.Resolution, error)
}

// Metrics records lifecycle transitions.
type Metrics interface {
	RecordTransition(carrier, from, to string)
}

// Coordinator runs the shipment state machine.
type Coordinator struct {
	store     Store
	orders    OrderSource
	carriers  Carriers
	resolver  MethodResolver
	publisher Publisher
	metrics   Metrics
	logger    *otelzap.Logger
	tracer    trace.Tracer
	lease     time.Duration
	now       func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPublisher sets the event publisher.
func WithPublisher(p Publisher) Option {
	return func(c *Coordinator) { c.publisher = p }
}

// WithMetrics sets the transition metrics.
func WithMetrics(m Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) { c.tracer = t }
}

// WithLease sets how long one attempt holds a shipment.
func WithLease(d time.Duration) Option {
	return func(c *Coordinator) { c.lease = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New creates a coordinator.
func New(store Store, orders OrderSource, carriers Carriers, resolver MethodResolver, logger *otelzap.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = otelzap.New(zap.NewNop())
	}
	c := &Coordinator{
		store:    store,
		orders:   orders,
		carriers: carriers,
		resolver: resolver,
		logger:   logger,
		lease:    DefaultLease,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.tracer = shipper.Tracer(c.tracer)
	return c
}

// Create inserts an unsubmitted shipment.
func (c *Coordinator) Create(ctx context.Context, details shipper.ShipmentDetails) (*Shipment, error) {
	s := &Shipment{ShipmentDetails: details, State: StateUnsubmitted}
	if err := c.store.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("create shipment: %w", err)
	}
	c.logger.Ctx(ctx).Info("Shipment created", zap.Int64("shipment_id", s.ID), zap.Int64("order_id", s.OrderID))
	c.transitioned(ctx, s, "", "")
	return s, nil
}

// Get returns a shipment.
func (c *Coordinator) Get(ctx context.Context, id int64) (*Shipment, error) {
	return c.store.Get(ctx, id)
}

// Submit creates the shipment with its carrier. It is allowed from
// unsubmitted, from failed as an operator resubmit, from submitted while
// the label is pending, and from submitting once the lease of the attempt
// that set it has expired.
func (c *Coordinator) Submit(ctx context.Context, id int64) (*Shipment, error) {
	ctx, span := c.tracer.Start(ctx, "fulfillment.Submit", trace.WithAttributes(attribute.Int64("shipment_id", id)))
	defer span.End()

	// started before the claim so the carrier call ends before the lease
	callCtx, cancel := context.WithTimeout(ctx, c.lease)
	defer cancel()
	s, err := c.store.Claim(ctx, id, c.lease)
	if err != nil {
		return nil, err
	}
	defer c.release(ctx, id, s.LockToken)

	prev, prevLabel := s.State, s.LabelStatus
	if prev == StateSubmitting {
		// the attempt that held the expired lease died mid-submission
		prev = StateUnsubmitted
	}
	if !submittable(s) {
		return s, fmt.Errorf("%w: cannot submit from %s", ErrInvalidTransition, describe(s))
	}

	order, err := c.orders.Order(ctx, s.OrderID)
	if err != nil {
		return s, c.record(ctx, span, s, fmt.Errorf("load order %d: %w", s.OrderID, err))
	}
	res, err := c.resolver.ResolveMethod(ctx, order.StoreID, order.ShippingMethodName)
	if err != nil {
		if errors.Is(err, rates.ErrMethodNotFound) {
			return s, c.fail(ctx, span, s, shipper.NewShipperError(s.Carrier, shipper.CodeInvalidMethod, err.Error()))
		}
		return s, c.record(ctx, span, s, err)
	}
	carrier, err := c.carriers.Get(res.Carrier.SystemName)
	if err != nil {
		return s, c.fail(ctx, span, s, shipper.NewShipperError(res.Carrier.SystemName, shipper.CodeInvalidMethod, err.Error()))
	}

	s.Carrier = carrier.Name()
	s.State = StateSubmitting
	if err := c.store.Save(ctx, s); err != nil {
		return s, fmt.Errorf("save shipment %d: %w", id, err)
	}
	c.transitioned(ctx, s, prev, "")
	span.SetAttributes(attribute.String("carrier", s.Carrier))

	out, err := carrier.CreateShipment(callCtx, &s.ShipmentDetails, order)
	if err != nil {
		if callCtx.Err() != nil && ctx.Err() == nil {
			err = shipper.NewShipperError(s.Carrier, shipper.CodeUnavailable,
				fmt.Sprintf("carrier call outlived the %s lease", c.lease)).WithCause(err).WithRetryable(true)
		}
		if shipper.IsFatal(err) {
			return s, c.fail(ctx, span, s, err)
		}
		s.State, s.LabelStatus = prev, prevLabel
		c.transitioned(ctx, s, StateSubmitting, err.Error())
		return s, c.record(ctx, span, s, err)
	}

	s.TrackingNumber = out.TrackingNumber
	s.ExternalID = out.ExternalID
	s.LabelURL = out.LabelURI
	s.Cost = out.Cost
	s.FailureReason, s.LastError = "", ""
	s.LabelStatus = LabelReady
	s.LabelPending = out.LabelPending
	s.State = StateSubmitted
	if out.LabelPending {
		s.LabelStatus = LabelPending
	} else if m, ok := carrier.(shipper.Manifester); ok && m.RequiresManifest() {
		s.State = StateManifestPending
	}
	if err := c.store.Save(ctx, s); err != nil {
		return s, fmt.Errorf("save shipment %d: %w", id, err)
	}
	c.logger.Ctx(ctx).Info("Shipment submitted",
		zap.Int64("shipment_id", s.ID),
		zap.String("carrier", s.Carrier),
		zap.String("state", string(s.State)),
		zap.String("label_status", string(s.LabelStatus)),
		zap.Bool("resumed", out.Resumed),
	)
	c.transitioned(ctx, s, StateSubmitting, "")
	return s, nil
}

// Cancel voids the shipment with its carrier and moves it to cancelled.
// It returns whether the carrier still knew the shipment.
func (c *Coordinator) Cancel(ctx context.Context, id int64) (bool, error) {
	ctx, span := c.tracer.Start(ctx, "fulfillment.Cancel", trace.WithAttributes(attribute.Int64("shipment_id", id)))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, c.lease)
	defer cancel()
	s, err := c.store.Claim(ctx, id, c.lease)
	if err != nil {
		return false, err
	}
	defer c.release(ctx, id, s.LockToken)

	if s.State.Terminal() {
		return false, fmt.Errorf("%w: cannot cancel from %s", ErrInvalidTransition, s.State)
	}

	found := false
	if s.Carrier != "" && (s.ExternalID != "" || s.TrackingNumber != "") {
		carrier, err := c.carriers.Get(s.Carrier)
		if err != nil {
			return false, c.record(ctx, span, s, err)
		}
		if found, err = carrier.CancelShipment(callCtx, &s.ShipmentDetails); err != nil {
			return false, c.record(ctx, span, s, err)
		}
	}

	prev := s.State
	s.ClearExternal()
	s.State = StateCancelled
	s.LabelStatus = ""
	s.LastError = ""
	if err := c.store.Save(ctx, s); err != nil {
		return found, fmt.Errorf("save shipment %d: %w", id, err)
	}
	c.logger.Ctx(ctx).Info("Shipment cancelled",
		zap.Int64("shipment_id", s.ID),
		zap.String("carrier", s.Carrier),
		zap.Bool("found", found),
	)
	c.transitioned(ctx, s, prev, "")
	return found, nil
}

// TransmitManifests hands every manifest-pending shipment of a carrier
// over in one manifest. Carriers without manifests are a no-op.
func (c *Coordinator) TransmitManifests(ctx context.Context, carrierName string) (*shipper.Manifest, error) {
	ctx, span := c.tracer.Start(ctx, "fulfillment.TransmitManifests", trace.WithAttributes(attribute.String("carrier", carrierName)))
	defer span.End()

	carrier, err := c.carriers.Get(carrierName)
	if err != nil {
		return nil, err
	}
	m, ok := carrier.(shipper.Manifester)
	if !ok || !m.RequiresManifest() {
		return nil, nil
	}

	pending, err := c.store.ListByState(ctx, Query{State: StateManifestPending, Carrier: carrierName})
	if err != nil {
		return nil, fmt.Errorf("list manifest pending shipments: %w", err)
	}
	callCtx, cancel := context.WithTimeout(ctx, c.lease)
	defer cancel()
	var batch []*Shipment
	for _, p := range pending {
		s, err := c.store.Claim(ctx, p.ID, c.lease)
		if errors.Is(err, ErrBusy) {
			c.logger.Ctx(ctx).Warn("Shipment busy, left for the next manifest", zap.Int64("shipment_id", p.ID))
			continue
		}
		if err != nil {
			c.releaseAll(ctx, batch)
			return nil, err
		}
		if s.State != StateManifestPending {
			c.release(ctx, s.ID, s.LockToken)
			continue
		}
		batch = append(batch, s)
	}
	defer c.releaseAll(ctx, batch)
	if len(batch) == 0 {
		return nil, nil
	}

	details := make([]*shipper.ShipmentDetails, len(batch))
	for i, s := range batch {
		details[i] = &s.ShipmentDetails
	}
	manifest, err := m.TransmitManifest(callCtx, details)
	if err != nil {
		for _, s := range batch {
			_ = c.record(ctx, span, s, err)
		}
		return nil, err
	}

	for _, s := range batch {
		s.ManifestURL = manifest.URL
		s.State = StateTransmitted
		s.LastError = ""
		if err := c.store.Save(ctx, s); err != nil {
			return manifest, fmt.Errorf("save shipment %d: %w", s.ID, err)
		}
		c.transitioned(ctx, s, StateManifestPending, "")
	}
	c.logger.Ctx(ctx).Info("Manifest transmitted",
		zap.String("carrier", carrierName),
		zap.String("manifest_id", manifest.ID),
		zap.Int("shipment_count", len(batch)),
	)
	return manifest, nil
}

// RetryPendingLabels submits again up to limit shipments whose label is
// pending and returns how many now have one. Busy and failing shipments
// are logged and skipped.
func (c *Coordinator) RetryPendingLabels(ctx context.Context, limit int) (int, error) {
	pending, err := c.store.ListByState(ctx, Query{State: StateSubmitted, LabelStatus: LabelPending, Limit: limit})
	if err != nil {
		return 0, fmt.Errorf("list label pending shipments: %w", err)
	}
	ready := 0
	for _, p := range pending {
		s, err := c.Submit(ctx, p.ID)
		switch {
		case errors.Is(err, ErrBusy):
			continue
		case err != nil:
			c.logger.Ctx(ctx).Warn("Label retry failed", zap.Int64("shipment_id", p.ID), zap.Error(err))
		case s.LabelStatus == LabelReady:
			ready++
		}
	}
	return ready, nil
}

// Handle executes a queued command.
func (c *Coordinator) Handle(ctx context.Context, cmd Command) error {
	switch cmd.Action {
	case ActionSubmit:
		_, err := c.Submit(ctx, cmd.ShipmentID)
		return err
	case ActionCancel:
		_, err := c.Cancel(ctx, cmd.ShipmentID)
		return err
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Action)
	}
}

// fail moves s to failed with the error as reason.
func (c *Coordinator) fail(ctx context.Context, span trace.Span, s *Shipment, err error) error {
	prev := s.State
	s.State = StateFailed
	s.FailureReason = err.Error()
	s.LastError = err.Error()
	s.Attempts++
	c.logger.Ctx(ctx).Error("Shipment failed",
		zap.Int64("shipment_id", s.ID),
		zap.Int64("order_id", s.OrderID),
		zap.String("carrier", s.Carrier),
		zap.Error(err),
	)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if saveErr := c.store.Save(ctx, s); saveErr != nil {
		return errors.Join(err, fmt.Errorf("save shipment %d: %w", s.ID, saveErr))
	}
	c.transitioned(ctx, s, prev, s.FailureReason)
	return err
}

// record keeps the state and stores err as the last error.
func (c *Coordinator) record(ctx context.Context, span trace.Span, s *Shipment, err error) error {
	s.LastError = err.Error()
	s.Attempts++
	c.logger.Ctx(ctx).Warn("Shipment attempt failed",
		zap.Int64("shipment_id", s.ID),
		zap.String("carrier", s.Carrier),
		zap.String("state", string(s.State)),
		zap.Bool("retryable", shipper.IsRetryable(err)),
		zap.Error(err),
	)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if saveErr := c.store.Save(ctx, s); saveErr != nil {
		return errors.Join(err, fmt.Errorf("save shipment %d: %w", s.ID, saveErr))
	}
	return err
}

// transitioned publishes the move of s from one state to its current one.
func (c *Coordinator) transitioned(ctx context.Context, s *Shipment, from State, reason string) {
	if c.metrics != nil {
		c.metrics.RecordTransition(s.Carrier, string(from), string(s.State))
	}
	if c.publisher == nil {
		return
	}
	e := Event{
		ID:             uuid.New().String(),
		ShipmentID:     s.ID,
		OrderID:        s.OrderID,
		Carrier:        s.Carrier,
		From:           from,
		To:             s.State,
		LabelStatus:    s.LabelStatus,
		TrackingNumber: s.TrackingNumber,
		Reason:         reason,
		At:             c.now().UTC(),
	}
	if err := c.publisher.Publish(ctx, e); err != nil {
		c.logger.Ctx(ctx).Error("Failed to publish shipment event",
			zap.Int64("shipment_id", s.ID),
			zap.String("to", string(e.To)),
			zap.Error(err),
		)
	}
}

func (c *Coordinator) release(ctx context.Context, id int64, token string) {
	err := c.store.Release(context.WithoutCancel(ctx), id, token)
	switch {
	case errors.Is(err, ErrLeaseLost):
		c.logger.Ctx(ctx).Warn("Lease expired before release", zap.Int64("shipment_id", id))
	case err != nil:
		c.logger.Ctx(ctx).Error("Failed to release shipment", zap.Int64("shipment_id", id), zap.Error(err))
	}
}

func (c *Coordinator) releaseAll(ctx context.Context, batch []*Shipment) {
	for _, s := range batch {
		c.release(ctx, s.ID, s.LockToken)
	}
}

func submittable(s *Shipment) bool {
	switch s.State {
	case StateUnsubmitted, StateFailed, StateSubmitting:
		return true
	case StateSubmitted:
		return s.LabelStatus == LabelPending
	default:
		return false
	}
}

func describe(s *Shipment) string {
	if s.LabelStatus == "" {
		return string(s.State)
	}
	return string(s.State) + "/" + string(s.LabelStatus)
}
