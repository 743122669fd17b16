package kafka

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/tournevent/fulfillment/pkg/fulfillment"
	"github.com/tournevent/fulfillment/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// CommandHandler executes a decoded command.
type CommandHandler interface {
	Handle(ctx context.Context, cmd fulfillment.Command) error
}

// Commands adapts h to Consume. Messages that can never succeed are logged
// and acknowledged: undecodable payloads, unknown commands, unknown
// shipments, disallowed transitions and fatal carrier errors. Anything else
// is returned so the message is handled again, including a shipment another
// attempt holds: once that attempt ends the command either applies or meets
// an invalid transition.
func Commands(h CommandHandler, logger *otelzap.Logger) func(ctx context.Context, key, value []byte) error {
	return func(ctx context.Context, key, value []byte) error {
		var cmd fulfillment.Command
		if err := json.Unmarshal(value, &cmd); err != nil {
			logger.Ctx(ctx).Error("Dropping undecodable command", zap.ByteString("key", key), zap.Error(err))
			return nil
		}
		err := h.Handle(ctx, cmd)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, fulfillment.ErrUnknownCommand),
			errors.Is(err, fulfillment.ErrShipmentNotFound),
			errors.Is(err, fulfillment.ErrInvalidTransition),
			shipper.IsFatal(err):
			logger.Ctx(ctx).Warn("Command not applied",
				zap.String("action", cmd.Action),
				zap.Int64("shipment_id", cmd.ShipmentID),
				zap.Error(err),
			)
			return nil
		default:
			return errors.Wrapf(err, "%s shipment %d", cmd.Action, cmd.ShipmentID)
		}
	}
}
