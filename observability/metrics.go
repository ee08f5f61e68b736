package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the ZSS collectors. Every method is a no-op on a nil *Metrics.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	heartbeatsTotal *prometheus.CounterVec
	callsTotal      *prometheus.CounterVec
	callDuration    *prometheus.HistogramVec
}

func newCounterVec(subsystem, name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zss",
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newHistogramVec(subsystem, name, help string, labels []string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "zss",
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
			Buckets:   prometheus.DefBuckets,
		},
		labels,
	)
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which tests use to avoid global state.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requestsTotal:   newCounterVec("service", "requests_total", "Requests handled by a service, by verb and reply status.", []string{"sid", "verb", "status"}),
		requestDuration: newHistogramVec("service", "request_duration_seconds", "Time spent dispatching a request.", []string{"sid", "verb"}),
		heartbeatsTotal: newCounterVec("service", "heartbeats_total", "SMI heartbeats sent, by result.", []string{"sid", "result"}),
		callsTotal:      newCounterVec("client", "calls_total", "Client calls, by outcome.", []string{"sid", "verb", "outcome"}),
		callDuration:    newHistogramVec("client", "call_duration_seconds", "Client call round-trip time.", []string{"sid", "verb"}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.requestsTotal, m.requestDuration, m.heartbeatsTotal, m.callsTotal, m.callDuration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) ObserveRequest(sid, verb string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(sid, verb, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(sid, verb).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveHeartbeat(sid string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.heartbeatsTotal.WithLabelValues(sid, result).Inc()
}

// ObserveCall records a client call. outcome is "ok", "error_reply",
// "timeout" or "transport_error".
func (m *Metrics) ObserveCall(sid, verb, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.callsTotal.WithLabelValues(sid, verb, outcome).Inc()
	m.callDuration.WithLabelValues(sid, verb).Observe(elapsed.Seconds())
}
