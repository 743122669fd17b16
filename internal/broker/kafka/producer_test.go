package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"github.com/tournevent/fulfillment/pkg/fulfillment"
)

type writerMock struct {
	mock.Mock
}

func (m *writerMock) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *writerMock) Close() error { return nil }

type ProducerSuite struct {
	suite.Suite
	wm *writerMock
	p  *Producer
}

func (s *ProducerSuite) SetupTest() {
	s.wm = &writerMock{}
	s.p = newProducerWithWriter(s.wm, "shipment-events", "fulfillment-commands")
}

func (s *ProducerSuite) TestNewProducer_NotNil() {
	p := NewProducer([]string{"localhost:0"}, "e", "c")
	s.Require().NotNil(p)
}

func (s *ProducerSuite) TestPublish_KeyedByShipment() {
	var got []kafka.Message
	s.wm.On("WriteMessages", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { got = args.Get(1).([]kafka.Message) }).
		Return(nil).
		Once()

	err := s.p.Publish(context.Background(), fulfillment.Event{
		ShipmentID: 12,
		From:       fulfillment.StateSubmitting,
		To:         fulfillment.StateSubmitted,
	})
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal("shipment-events", got[0].Topic)
	s.Equal("12", string(got[0].Key))

	var e fulfillment.Event
	s.Require().NoError(json.Unmarshal(got[0].Value, &e))
	s.Equal(fulfillment.StateSubmitted, e.To)
	s.wm.AssertExpectations(s.T())
}

func (s *ProducerSuite) TestEnqueue() {
	s.wm.
		On("WriteMessages", mock.Anything, mock.MatchedBy(func(msgs []kafka.Message) bool {
			return len(msgs) == 1 &&
				msgs[0].Topic == "fulfillment-commands" &&
				string(msgs[0].Key) == "5" &&
				string(msgs[0].Value) == `{"action":"cancel","shipment_id":5}`
		})).
		Return(nil).
		Once()

	s.Require().NoError(s.p.Enqueue(context.Background(), fulfillment.Command{Action: fulfillment.ActionCancel, ShipmentID: 5}))
	s.wm.AssertExpectations(s.T())
}

func (s *ProducerSuite) TestPublish_ErrorWrapped() {
	want := errors.New("boom")
	s.wm.On("WriteMessages", mock.Anything, mock.Anything).Return(want).Once()

	err := s.p.Publish(context.Background(), fulfillment.Event{ShipmentID: 1})
	s.Require().Error(err)
	s.Require().ErrorIs(err, want)
	s.Require().Contains(err.Error(), "kafka publish")
	s.wm.AssertExpectations(s.T())
}

func TestProducerSuite(t *testing.T) {
	suite.Run(t, new(ProducerSuite))
}
