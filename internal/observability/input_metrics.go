package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// InputMetrics tracks the state of the raw input pipeline.
type InputMetrics struct {
	keysHeld      prometheus.Gauge
	modifiersHeld prometheus.Gauge
	lastEvent     prometheus.Gauge
	sourceErrors  prometheus.Counter
}

var (
	defaultInputMetrics     *InputMetrics
	defaultInputMetricsOnce sync.Once
)

// NewInputMetrics builds an InputMetrics recorder using the default registry.
func NewInputMetrics() *InputMetrics {
	defaultInputMetricsOnce.Do(func() {
		defaultInputMetrics = newInputMetrics(prometheus.DefaultRegisterer)
	})
	return defaultInputMetrics
}

// NewInputMetricsWithRegisterer allows tests to provide a dedicated registry.
func NewInputMetricsWithRegisterer(reg prometheus.Registerer) *InputMetrics {
	return newInputMetrics(reg)
}

func newInputMetrics(reg prometheus.Registerer) *InputMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &InputMetrics{
		keysHeld: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "keyrelay",
			Subsystem: "input",
			Name:      "keys_held",
			Help:      "Non-modifier keys currently held down",
		}),
		modifiersHeld: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "keyrelay",
			Subsystem: "input",
			Name:      "modifiers_held",
			Help:      "Modifier keys currently held down",
		}),
		lastEvent: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "keyrelay",
			Subsystem: "input",
			Name:      "last_event_timestamp_seconds",
			Help:      "Wall-clock time the most recent raw event was processed",
		}),
		sourceErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "keyrelay",
			Subsystem: "input",
			Name:      "source_errors_total",
			Help:      "Read errors returned by the raw event source",
		}),
	}
}

// RecordState sets the held key and modifier gauges after an event.
func (m *InputMetrics) RecordState(keys, modifiers int, at time.Time) {
	if m == nil {
		return
	}
	m.keysHeld.Set(float64(keys))
	m.modifiersHeld.Set(float64(modifiers))
	m.lastEvent.Set(float64(at.UnixNano()) / 1e9)
}

// RecordSourceError increments the source error counter.
func (m *InputMetrics) RecordSourceError() {
	if m == nil || m.sourceErrors == nil {
		return
	}
	m.sourceErrors.Inc()
}
