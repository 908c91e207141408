// internal/connection/metrics.go
package connection

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type counter int

const (
	ctrSent counter = iota
	ctrSendFailed
	ctrMatched
	ctrUnmatched
	ctrEvicted
	ctrMalformed
	ctrUnknown
	ctrNotified
	ctrRecords
	numCounters
)

var counterDefs = [numCounters]struct{ name, help string }{
	ctrSent:       {"requests_sent_total", "Requests written to the transport"},
	ctrSendFailed: {"send_failures_total", "Requests the transport failed to write"},
	ctrMatched:    {"replies_matched_total", "Replies correlated to a pending request"},
	ctrUnmatched:  {"replies_unmatched_total", "Replies with no live pending request"},
	ctrEvicted:    {"requests_evicted_total", "Pending requests evicted past their deadline"},
	ctrMalformed:  {"malformed_packets_total", "Inbound packets dropped as malformed"},
	ctrUnknown:    {"unknown_packets_total", "Inbound packets dropped as unknown commands"},
	ctrNotified:   {"notifications_total", "Spontaneous mailbox notifications received"},
	ctrRecords:    {"telemetry_records_total", "Telemetry records decoded"},
}

// Metrics holds the engine collectors, labelled by device id.
// One Metrics is shared by every connection of a process. A nil *Metrics
// records nothing.
type Metrics struct {
	counters [numCounters]*prometheus.CounterVec
	pending  *prometheus.GaugeVec
	latency  *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil registry disables metrics.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil // Metrics disabled
	}

	m := &Metrics{}
	for i, d := range counterDefs {
		cv := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "brickbridge",
			Subsystem: "connection",
			Name:      d.name,
			Help:      d.help,
		}, []string{"device"})
		if err := register(reg, cv, &cv); err != nil {
			return nil, err
		}
		m.counters[i] = cv
	}

	m.pending = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "brickbridge",
		Subsystem: "connection",
		Name:      "pending_requests",
		Help:      "Requests awaiting a reply",
	}, []string{"device"})
	if err := register(reg, m.pending, &m.pending); err != nil {
		return nil, err
	}

	m.latency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "brickbridge",
		Subsystem: "connection",
		Name:      "reply_latency_seconds",
		Help:      "Time from send to matched reply",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"device"})
	if err := register(reg, m.latency, &m.latency); err != nil {
		return nil, err
	}

	return m, nil
}

// register adopts an already registered collector of the same shape.
func register[C prometheus.Collector](reg prometheus.Registerer, c C, dst *C) error {
	err := reg.Register(c)
	if err == nil {
		return nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			*dst = existing
			return nil
		}
	}
	return err
}

func (m *Metrics) inc(c counter, device string) {
	if m == nil {
		return
	}
	m.counters[c].WithLabelValues(device).Inc()
}

func (m *Metrics) add(c counter, device string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.counters[c].WithLabelValues(device).Add(float64(n))
}

func (m *Metrics) setPending(device string, n int) {
	if m == nil {
		return
	}
	m.pending.WithLabelValues(device).Set(float64(n))
}

func (m *Metrics) observeLatency(device string, seconds float64) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(device).Observe(seconds)
}
