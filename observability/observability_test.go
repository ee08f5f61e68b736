package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	logger := NewLogger("debug", "text")
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)

	logger = NewLogger("nonsense", "")
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	m.ObserveRequest("PING", "PING", 200, 5*time.Millisecond)
	m.ObserveRequest("PING", "PING", 200, 5*time.Millisecond)
	m.ObserveRequest("PING", "NOPE", 404, time.Millisecond)
	m.ObserveHeartbeat("PING", nil)
	m.ObserveHeartbeat("PING", errors.New("down"))
	m.ObserveCall("PING", "PING", "ok", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("PING", "PING", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("PING", "NOPE", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.heartbeatsTotal.WithLabelValues("PING", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.callsTotal.WithLabelValues("PING", "PING", "ok")))

	_, err = NewMetrics(reg)
	assert.Error(t, err, "collectors register once per registry")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRequest("PING", "PING", 200, time.Millisecond)
		m.ObserveHeartbeat("PING", nil)
		m.ObserveCall("PING", "PING", "ok", time.Millisecond)
	})
}
