package telemetry

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestMetrics_RecordTransition(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordTransition("fastway", "", "unsubmitted")
	m.RecordTransition("fastway", "submitting", "submitted")
	m.RecordTransition("fastway", "submitting", "submitted")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("fastway", "none", "unsubmitted")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Transitions.WithLabelValues("fastway", "submitting", "submitted")))
}

func TestMetrics_RecordAggregation(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordAggregation("ok", 2, 3, 0.01)
	m.RecordAggregation("empty", 5, 0, 0.02)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Aggregations.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Aggregations.WithLabelValues("empty")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.AggregationOptions))
}

func TestMetrics_RecordRequest(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordRequest("get_options", "sendcloud", "ok", 0.2)
	m.RecordError("sendcloud", "unavailable")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("get_options", "sendcloud", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CarrierErrors.WithLabelValues("sendcloud", "unavailable")))
}

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"debug", "info", "WARN", "error", "bogus"} {
		logger, err := NewLogger(level)
		require.NoError(t, err)
		require.NotNil(t, logger)
	}
}

func TestNewLogger_Fields(t *testing.T) {
	logger, err := NewLogger("debug", zap.String("service", "fulfillment"))
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = NewLogger("bogus")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
}

func TestInitTracer(t *testing.T) {
	ctx := context.Background()
	tp, shutdown, err := InitTracer(ctx, "http://localhost:4318", "fulfillment", "test")
	require.NoError(t, err)
	require.NotNil(t, tp)
	require.NoError(t, shutdown(ctx))
}
