// Package fulfillment drives shipments from purchase to hand-over: it
// submits them to their carrier, cancels them, retries pending labels and
// transmits manifests, persisting every transition.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tournevent/fulfillment/pkg/shipper"
)

// State is the lifecycle state of a shipment.
type State string

const (
	StateUnsubmitted     State = "unsubmitted"
	StateSubmitting      State = "submitting"
	StateSubmitted       State = "submitted"
	StateManifestPending State = "manifest_pending"
	StateTransmitted     State = "transmitted"
	StateCancelled       State = "cancelled"
	StateFailed          State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCancelled || s == StateTransmitted
}

// LabelStatus tells whether the carrier has produced the label.
type LabelStatus string

const (
	LabelPending LabelStatus = "pending"
	LabelReady   LabelStatus = "ready"
)

var (
	// ErrShipmentNotFound is returned for an unknown shipment id.
	ErrShipmentNotFound = errors.New("shipment not found")
	// ErrBusy is returned when another attempt holds the shipment.
	ErrBusy = errors.New("shipment is being processed")
	// ErrLeaseLost is returned by Save and Release when the caller's lease
	// expired and another attempt claimed the shipment since.
	ErrLeaseLost = fmt.Errorf("%w: lease lost", ErrBusy)
	// ErrInvalidTransition is returned when the operation is not allowed
	// from the current state.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrUnknownCommand is returned by Handle for unsupported actions.
	ErrUnknownCommand = errors.New("unknown command")
)

// Shipment is a persisted shipment row.
type Shipment struct {
	shipper.ShipmentDetails

	State         State
	LabelStatus   LabelStatus
	FailureReason string
	LastError     string
	Attempts      int
	LockedUntil   time.Time
	// LockToken identifies the lease held by the attempt that claimed the
	// row. It is empty while the row is not leased.
	LockToken string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Event is published on every state transition.
type Event struct {
	ID             string      `json:"id"`
	ShipmentID     int64       `json:"shipment_id"`
	OrderID        int64       `json:"order_id"`
	Carrier        string      `json:"carrier"`
	From           State       `json:"from,omitempty"`
	To             State       `json:"to"`
	LabelStatus    LabelStatus `json:"label_status,omitempty"`
	TrackingNumber string      `json:"tracking_number,omitempty"`
	Reason         string      `json:"reason,omitempty"`
	At             time.Time   `json:"at"`
}

// Command actions.
const (
	ActionSubmit = "submit"
	ActionCancel = "cancel"
)

// Command is a queued fulfillment request.
type Command struct {
	Action     string `json:"action"`
	ShipmentID int64  `json:"shipment_id"`
}

// OrderSource loads the host order a shipment belongs to.
type OrderSource interface {
	Order(ctx context.Context, id int64) (*shipper.Order, error)
}

// Publisher delivers lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Query selects shipments. Zero fields match any value; Limit zero means
// unlimited.
type Query struct {
	State       State
	LabelStatus LabelStatus
	Carrier     string
	Limit       int
}

// Matches reports whether s is selected by q.
func (q Query) Matches(s *Shipment) bool {
	return (q.State == "" || s.State == q.State) &&
		(q.LabelStatus == "" || s.LabelStatus == q.LabelStatus) &&
		(q.Carrier == "" || s.Carrier == q.Carrier)
}

// Store persists shipments. The row is the lock boundary: Claim leases it
// to one attempt at a time and the lease token fences later writes.
type Store interface {
	Create(ctx context.Context, s *Shipment) error
	Get(ctx context.Context, id int64) (*Shipment, error)
	// Save writes every field of s. It returns ErrLeaseLost unless
	// s.LockToken is the token currently stored on the row.
	Save(ctx context.Context, s *Shipment) error
	// Claim leases the shipment for lease and returns it with a fresh
	// LockToken. It returns ErrBusy while another lease is live.
	Claim(ctx context.Context, id int64, lease time.Duration) (*Shipment, error)
	// Release ends the lease identified by token. A stale token leaves the
	// current lease in place and returns ErrLeaseLost.
	Release(ctx context.Context, id int64, token string) error
	ListByState(ctx context.Context, q Query) ([]*Shipment, error)
	// RecordDetails writes the carrier-facing fields only.
	RecordDetails(ctx context.Context, d *shipper.ShipmentDetails) error
}
