package publisher

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "chanpub"

// Metrics instruments publisher buffering and signaling.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	delivered *prometheus.CounterVec
	buffered  *prometheus.GaugeVec
	pauses    *prometheus.CounterVec
	resumes   *prometheus.CounterVec
	terminals *prometheus.CounterVec
}

// NewMetrics creates publisher collectors and registers them with reg.
// Collectors already registered with reg are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	metrics := &Metrics{
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "elements_delivered_total",
			Help:      "Elements delivered to subscribers.",
		}, []string{"publisher"}),
		buffered: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "elements_buffered",
			Help:      "Elements received from upstream and awaiting demand.",
		}, []string{"publisher"}),
		pauses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "read_pauses_total",
			Help:      "Upstream read pauses issued at the high-water mark.",
		}, []string{"publisher"}),
		resumes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "read_resumes_total",
			Help:      "Upstream read resumes issued at the low-water mark.",
		}, []string{"publisher"}),
		terminals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "terminal_signals_total",
			Help:      "Terminal transitions by kind (complete, error, cancel).",
		}, []string{"publisher", "signal"}),
	}

	if reg == nil {
		return metrics, nil
	}

	metrics.delivered = registerOrReuse(reg, metrics.delivered)
	metrics.buffered = registerOrReuse(reg, metrics.buffered)
	metrics.pauses = registerOrReuse(reg, metrics.pauses)
	metrics.resumes = registerOrReuse(reg, metrics.resumes)
	metrics.terminals = registerOrReuse(reg, metrics.terminals)
	if metrics.delivered == nil || metrics.buffered == nil || metrics.pauses == nil ||
		metrics.resumes == nil || metrics.terminals == nil {
		return nil, fmt.Errorf("register publisher metrics: incompatible collector already registered")
	}

	return metrics, nil
}

// registerOrReuse returns the collector registered under the same descriptor
// when one exists, or nil when an incompatible collector holds the name.
func registerOrReuse[C prometheus.Collector](reg prometheus.Registerer, collector C) C {
	err := reg.Register(collector)
	if err == nil {
		return collector
	}

	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(C); ok {
			return existing
		}
	}

	var zero C
	return zero
}

func (m *Metrics) observeDelivered(name string) {
	if m == nil {
		return
	}
	m.delivered.WithLabelValues(name).Inc()
}

func (m *Metrics) observeBuffered(name string, size int) {
	if m == nil {
		return
	}
	m.buffered.WithLabelValues(name).Set(float64(size))
}

func (m *Metrics) observePause(name string) {
	if m == nil {
		return
	}
	m.pauses.WithLabelValues(name).Inc()
}

func (m *Metrics) observeResume(name string) {
	if m == nil {
		return
	}
	m.resumes.WithLabelValues(name).Inc()
}

func (m *Metrics) observeTerminal(name string, signal string) {
	if m == nil {
		return
	}
	m.terminals.WithLabelValues(name, signal).Inc()
}
