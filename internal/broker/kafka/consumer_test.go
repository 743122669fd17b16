package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/fulfillment/pkg/fulfillment"
	"github.com/tournevent/fulfillment/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

type fakeReader struct {
	msgs         []kafka.Message
	err          error
	i            int
	committed    []kafka.Message
	commitErrors int
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if r.i < len(r.msgs) {
		m := r.msgs[r.i]
		r.i++
		return m, nil
	}
	if r.err != nil {
		return kafka.Message{}, r.err
	}
	return kafka.Message{}, errors.New("eof")
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	if r.commitErrors > 0 {
		r.commitErrors--
		return errors.New("coordinator not available")
	}
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func TestConsumer_Consume_CommitsHandled(t *testing.T) {
	fr := &fakeReader{
		msgs: []kafka.Message{{Key: []byte("k"), Value: []byte("v")}},
		err:  errors.New("stop"),
	}
	c := newConsumerWithReader(fr)

	var gotK, gotV []byte
	err := c.Consume(context.Background(), func(ctx context.Context, k, v []byte) error {
		gotK, gotV = k, v
		return nil
	})
	require.Error(t, err)
	require.Equal(t, []byte("k"), gotK)
	require.Equal(t, []byte("v"), gotV)
	require.Len(t, fr.committed, 1)
}

func TestConsumer_Consume_RetriesFailedMessage(t *testing.T) {
	fr := &fakeReader{
		msgs: []kafka.Message{{Key: []byte("1"), Value: []byte("a"), Offset: 10}, {Key: []byte("2"), Value: []byte("b"), Offset: 11}},
		err:  errors.New("stop"),
	}
	c := newConsumerWithReader(fr, WithBackoff(time.Millisecond, 2*time.Millisecond))

	var seen []string
	failures := 2
	err := c.Consume(context.Background(), func(ctx context.Context, k, v []byte) error {
		seen = append(seen, string(v))
		if string(v) == "a" && failures > 0 {
			failures--
			return errors.New("handler failed")
		}
		return nil
	})
	require.ErrorContains(t, err, "stop")
	require.Equal(t, []string{"a", "a", "a", "b"}, seen, "the failed message is handled again before the next one")
	require.Len(t, fr.committed, 2)
	require.Equal(t, int64(10), fr.committed[0].Offset)
	require.Equal(t, int64(11), fr.committed[1].Offset)
}

func TestConsumer_Consume_RetriesCommit(t *testing.T) {
	fr := &fakeReader{msgs: []kafka.Message{{Value: []byte("a")}}, err: errors.New("stop"), commitErrors: 1}
	c := newConsumerWithReader(fr, WithBackoff(time.Millisecond, time.Millisecond))

	calls := 0
	err := c.Consume(context.Background(), func(ctx context.Context, k, v []byte) error {
		calls++
		return nil
	})
	require.ErrorContains(t, err, "stop")
	require.Equal(t, 1, calls)
	require.Len(t, fr.committed, 1)
}

func TestConsumer_Consume_ContextEndsRetries(t *testing.T) {
	fr := &fakeReader{msgs: []kafka.Message{{Value: []byte("a")}}}
	c := newConsumerWithReader(fr, WithBackoff(time.Millisecond, time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	want := errors.New("handler failed")
	err := c.Consume(ctx, func(ctx context.Context, k, v []byte) error { return want })
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Empty(t, fr.committed)
	require.Equal(t, 1, fr.i, "no later message is fetched")
}

func TestNewConsumer_Close(t *testing.T) {
	c := NewConsumer([]string{"localhost:0"}, "t", "g")
	require.NotNil(t, c)
	require.NoError(t, c.Close())
}

type handlerFunc func(ctx context.Context, cmd fulfillment.Command) error

func (f handlerFunc) Handle(ctx context.Context, cmd fulfillment.Command) error { return f(ctx, cmd) }

func TestCommands(t *testing.T) {
	logger := otelzap.New(zap.NewNop())
	retryable := shipper.FromStatus("fastway", 503, "down")

	tests := []struct {
		name    string
		value   string
		err     error
		wantErr bool
	}{
		{name: "applied", value: `{"action":"submit","shipment_id":1}`},
		{name: "undecodable", value: `{`},
		{name: "unknown command", value: `{"action":"x","shipment_id":1}`, err: fulfillment.ErrUnknownCommand},
		{name: "invalid transition", value: `{"action":"submit","shipment_id":1}`, err: fulfillment.ErrInvalidTransition},
		{name: "busy", value: `{"action":"submit","shipment_id":1}`, err: fulfillment.ErrBusy, wantErr: true},
		{name: "lease lost", value: `{"action":"submit","shipment_id":1}`, err: fulfillment.ErrLeaseLost, wantErr: true},
		{name: "fatal carrier error", value: `{"action":"submit","shipment_id":1}`, err: shipper.FromStatus("fastway", 400, "bad")},
		{name: "retryable carrier error", value: `{"action":"submit","shipment_id":1}`, err: retryable, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got fulfillment.Command
			h := Commands(handlerFunc(func(ctx context.Context, cmd fulfillment.Command) error {
				got = cmd
				return tt.err
			}), logger)

			err := h(context.Background(), []byte("1"), []byte(tt.value))
			if tt.wantErr {
				require.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			if tt.name == "applied" {
				require.Equal(t, fulfillment.Command{Action: fulfillment.ActionSubmit, ShipmentID: 1}, got)
			}
		})
	}
}
