// Package shipper provides an abstraction layer for shipping carriers.
package shipper

import (
	"context"

	"github.com/tournevent/fulfillment/pkg/rates"
	"github.com/tournevent/fulfillment/pkg/units"
)

// Carrier defines the interface that all carrier adapters must implement.
type Carrier interface {
	// Name returns the carrier system name (e.g., "sendcloud", "canadapost", "fastway").
	Name() string

	// GetOptions returns the priced shipping options for one package group.
	// Input problems are reported in OptionResult.Errors, not as an error.
	GetOptions(ctx context.Context, req *OptionRequest) (*OptionResult, error)

	// CreateShipment registers the shipment with the provider. It is safe to
	// call again after a partial failure.
	CreateShipment(ctx context.Context, details *ShipmentDetails, order *Order) (*ShipmentOutcome, error)

	// CancelShipment voids the shipment. It returns false when the provider
	// no longer knows it; the external identifiers are cleared either way.
	CancelShipment(ctx context.Context, details *ShipmentDetails) (bool, error)

	// ValidateConfiguration cross-checks the rate table against the live
	// catalogue and returns a report plus the mismatches found.
	ValidateConfiguration(ctx context.Context, storeID, vendorID int64) (string, []string, error)

	// SyncCatalogue creates missing carriers, methods and default records
	// from the live catalogue.
	SyncCatalogue(ctx context.Context) (*rates.SyncReport, error)
}

// Manifester is implemented by carriers whose shipments are only handed
// over once a manifest has been transmitted.
type Manifester interface {
	RequiresManifest() bool
	TransmitManifest(ctx context.Context, shipments []*ShipmentDetails) (*Manifest, error)
}

// DetailsRecorder persists shipment details while a carrier operation is
// still in progress.
type DetailsRecorder interface {
	RecordDetails(ctx context.Context, details *ShipmentDetails) error
}

// Deps are the collaborators shared by every adapter.
type Deps struct {
	Engine   *rates.Engine
	Store    rates.Store
	Recorder DetailsRecorder
	// Units are the store base units items and packaging are expressed in.
	Units units.Base
}

// RecordDetails persists details through the recorder when one is set.
func (d Deps) RecordDetails(ctx context.Context, details *ShipmentDetails) error {
	if d.Recorder == nil {
		return nil
	}
	return d.Recorder.RecordDetails(ctx, details)
}

// RateStore returns Store, or the engine's store when Store is unset.
func (d Deps) RateStore() rates.Store {
	if d.Store != nil {
		return d.Store
	}
	if d.Engine != nil {
		return d.Engine.Store()
	}
	return nil
}
