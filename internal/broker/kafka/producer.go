// Package kafka publishes shipment lifecycle events and carries queued
// fulfillment commands.
package kafka

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/tournevent/fulfillment/pkg/fulfillment"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer writes lifecycle events and commands. Both are keyed by
// shipment id so every message of a shipment lands on one partition.
type Producer struct {
	w             messageWriter
	eventsTopic   string
	commandsTopic string
}

func NewProducer(brokers []string, eventsTopic, commandsTopic string) *Producer {
	return newProducerWithWriter(&kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Balancer: &kafka.Hash{},
	}, eventsTopic, commandsTopic)
}

func newProducerWithWriter(w messageWriter, eventsTopic, commandsTopic string) *Producer {
	return &Producer{w: w, eventsTopic: eventsTopic, commandsTopic: commandsTopic}
}

func (p *Producer) write(ctx context.Context, topic string, shipmentID int64, v any) error {
	value, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "encode message")
	}
	if err := p.w.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(strconv.FormatInt(shipmentID, 10)),
		Value: value,
	}); err != nil {
		return errors.Wrap(err, "kafka publish")
	}
	return nil
}

// Publish implements fulfillment.Publisher.
func (p *Producer) Publish(ctx context.Context, e fulfillment.Event) error {
	return p.write(ctx, p.eventsTopic, e.ShipmentID, e)
}

// Enqueue queues a command for the worker.
func (p *Producer) Enqueue(ctx context.Context, cmd fulfillment.Command) error {
	return p.write(ctx, p.commandsTopic, cmd.ShipmentID, cmd)
}

func (p *Producer) Close() error {
	return p.w.Close()
}

var _ fulfillment.Publisher = (*Producer)(nil)
