package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsCollector manages all metrics for keyrelay
type MetricsCollector struct {
	meter metric.Meter

	// Input metrics
	rawEvents metric.Int64Counter

	// Action metrics
	actions        metric.Int64Counter
	publishLatency metric.Float64Histogram

	// Subscriber metrics
	subscribersActive metric.Int64UpDownCounter
	deliveries        metric.Int64Counter

	// Server for Prometheus scraping
	prometheusServer *http.Server
	logger           *Logger
}

// MetricsConfig configures the metrics collector
type MetricsConfig struct {
	Enabled        bool `yaml:"enabled"`
	PrometheusPort int  `yaml:"prometheus_port"`
}

// NewMetricsCollector creates a new metrics collector. A disabled collector
// accepts every Record call and does nothing.
func NewMetricsCollector(config MetricsConfig, logger *Logger) (*MetricsCollector, error) {
	logger = OrNop(logger)
	if !config.Enabled {
		return &MetricsCollector{logger: logger}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)

	meter := provider.Meter("keyrelay")

	rawEvents, err := meter.Int64Counter(
		"keyrelay.raw_events.total",
		metric.WithDescription("Raw key events read from the input source"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create raw_events counter: %w", err)
	}

	actions, err := meter.Int64Counter(
		"keyrelay.actions.total",
		metric.WithDescription("Semantic actions emitted by the state machine"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create actions counter: %w", err)
	}

	publishLatency, err := meter.Float64Histogram(
		"keyrelay.publish.latency",
		metric.WithDescription("Time to fan one action out to all subscribers"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create publish_latency histogram: %w", err)
	}

	subscribersActive, err := meter.Int64UpDownCounter(
		"keyrelay.subscribers.active",
		metric.WithDescription("Number of connected subscribers"),
		metric.WithUnit("{subscriber}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscribers_active gauge: %w", err)
	}

	deliveries, err := meter.Int64Counter(
		"keyrelay.deliveries.total",
		metric.WithDescription("Per-subscriber delivery attempts"),
		metric.WithUnit("{delivery}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create deliveries counter: %w", err)
	}

	collector := &MetricsCollector{
		meter:             meter,
		rawEvents:         rawEvents,
		actions:           actions,
		publishLatency:    publishLatency,
		subscribersActive: subscribersActive,
		deliveries:        deliveries,
		logger:            logger,
	}

	if config.PrometheusPort > 0 {
		if err := collector.StartPrometheusServer(config.PrometheusPort); err != nil {
			return nil, fmt.Errorf("failed to start prometheus server: %w", err)
		}
	}

	return collector, nil
}

// Handler returns the Prometheus scrape handler.
func (m *MetricsCollector) Handler() http.Handler {
	return promclient.Handler()
}

// StartPrometheusServer starts a dedicated Prometheus metrics server
func (m *MetricsCollector) StartPrometheusServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	m.prometheusServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		m.logger.Info("prometheus metrics server listening", "port", port)
		if err := m.prometheusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("prometheus server error", "error", err)
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the metrics collector
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m.prometheusServer != nil {
		return m.prometheusServer.Shutdown(ctx)
	}
	return nil
}

// RecordRawEvent counts one raw input event
func (m *MetricsCollector) RecordRawEvent(ctx context.Context, state string) {
	if m == nil || m.rawEvents == nil {
		return
	}
	m.rawEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

// RecordAction records one published action and how long fan-out took
func (m *MetricsCollector) RecordAction(ctx context.Context, kind string, latency time.Duration) {
	if m == nil || m.actions == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("kind", kind))
	m.actions.Add(ctx, 1, attrs)
	m.publishLatency.Record(ctx, latency.Seconds(), attrs)
}

// SubscriberAdded increments the active subscribers gauge
func (m *MetricsCollector) SubscriberAdded() {
	if m == nil || m.subscribersActive == nil {
		return
	}
	m.subscribersActive.Add(context.Background(), 1)
}

// SubscriberRemoved decrements the active subscribers gauge
func (m *MetricsCollector) SubscriberRemoved() {
	if m == nil || m.subscribersActive == nil {
		return
	}
	m.subscribersActive.Add(context.Background(), -1)
}

// DeliveryResult counts one delivery attempt with its status
func (m *MetricsCollector) DeliveryResult(ok bool) {
	if m == nil || m.deliveries == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "failed"
	}
	m.deliveries.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
}
