// Package mock provides a scripted carrier for testing.
package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/tournevent/fulfillment/pkg/rates"
	"github.com/tournevent/fulfillment/pkg/shipper"
)

// Client is a mock carrier for testing. Set the On* hooks to script
// responses; unset hooks return canned success values.
type Client struct {
	name     string
	options  []shipper.Option
	manifest bool

	OnGetOptions       func(ctx context.Context, req *shipper.OptionRequest) (*shipper.OptionResult, error)
	OnCreateShipment   func(ctx context.Context, details *shipper.ShipmentDetails, order *shipper.Order) (*shipper.ShipmentOutcome, error)
	OnCancelShipment   func(ctx context.Context, details *shipper.ShipmentDetails) (bool, error)
	OnTransmitManifest func(ctx context.Context, shipments []*shipper.ShipmentDetails) (*shipper.Manifest, error)

	mu    sync.Mutex
	calls map[string]int
}

// Option configures a mock carrier.
type Option func(*Client)

// WithOptions sets the options GetOptions returns by default.
func WithOptions(options ...shipper.Option) Option {
	return func(c *Client) { c.options = options }
}

// WithManifest makes the carrier require a manifest.
func WithManifest() Option {
	return func(c *Client) { c.manifest = true }
}

// New creates a new mock carrier.
func New(name string, opts ...Option) *Client {
	c := &Client{name: name, calls: make(map[string]int)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the carrier name.
func (c *Client) Name() string {
	return c.name
}

// Calls returns how many times op was invoked.
func (c *Client) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

func (c *Client) record(op string) {
	c.mu.Lock()
	c.calls[op]++
	c.mu.Unlock()
}

// GetOptions returns the scripted options.
func (c *Client) GetOptions(ctx context.Context, req *shipper.OptionRequest) (*shipper.OptionResult, error) {
	c.record("GetOptions")
	if c.OnGetOptions != nil {
		return c.OnGetOptions(ctx, req)
	}
	res := &shipper.OptionResult{}
	for _, o := range c.options {
		o.Carrier = c.name
		res.Options = append(res.Options, o)
	}
	return res, nil
}

// CreateShipment creates a mock shipment.
func (c *Client) CreateShipment(ctx context.Context, details *shipper.ShipmentDetails, order *shipper.Order) (*shipper.ShipmentOutcome, error) {
	c.record("CreateShipment")
	if c.OnCreateShipment != nil {
		return c.OnCreateShipment(ctx, details, order)
	}
	id := uuid.New().String()
	tracking := fmt.Sprintf("%s%s", strings.ToUpper(c.name[:min(3, len(c.name))]), id[:8])
	return &shipper.ShipmentOutcome{
		TrackingNumber: tracking,
		ExternalID:     id,
		LabelURI:       fmt.Sprintf("https://labels.%s.mock/%s.pdf", c.name, id),
		Cost:           12.50,
	}, nil
}

// CancelShipment cancels a mock shipment.
func (c *Client) CancelShipment(ctx context.Context, details *shipper.ShipmentDetails) (bool, error) {
	c.record("CancelShipment")
	if c.OnCancelShipment != nil {
		return c.OnCancelShipment(ctx, details)
	}
	details.ClearExternal()
	return true, nil
}

// ValidateConfiguration always reports a matching configuration.
func (c *Client) ValidateConfiguration(ctx context.Context, storeID, vendorID int64) (string, []string, error) {
	c.record("ValidateConfiguration")
	return fmt.Sprintf("%s: configuration matches", c.name), nil, nil
}

// SyncCatalogue reports nothing created.
func (c *Client) SyncCatalogue(ctx context.Context) (*rates.SyncReport, error) {
	c.record("SyncCatalogue")
	return &rates.SyncReport{}, nil
}

// RequiresManifest reports whether WithManifest was given.
func (c *Client) RequiresManifest() bool {
	return c.manifest
}

// TransmitManifest returns a manifest covering every shipment.
func (c *Client) TransmitManifest(ctx context.Context, shipments []*shipper.ShipmentDetails) (*shipper.Manifest, error) {
	c.record("TransmitManifest")
	if c.OnTransmitManifest != nil {
		return c.OnTransmitManifest(ctx, shipments)
	}
	m := &shipper.Manifest{ID: uuid.New().String()}
	m.URL = fmt.Sprintf("https://manifests.%s.mock/%s.pdf", c.name, m.ID)
	for _, s := range shipments {
		m.ShipmentIDs = append(m.ShipmentIDs, s.ID)
	}
	return m, nil
}

var (
	_ shipper.Carrier    = (*Client)(nil)
	_ shipper.Manifester = (*Client)(nil)
)
