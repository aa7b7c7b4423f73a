package observability

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	promreg "github.com/prometheus/client_golang/prometheus"
	promclient "github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsCollector records request-level metrics through OpenTelemetry and
// exposes them in Prometheus format.
type MetricsCollector struct {
	meter metric.Meter

	// HTTP metrics
	httpRequests metric.Int64Counter
	httpLatency  metric.Float64Histogram
	httpBytes    metric.Int64Counter

	// AI collaborator metrics
	llmRequests metric.Int64Counter
	llmLatency  metric.Float64Histogram

	// Offer analysis cache
	offerCache metric.Int64Counter

	prometheusServer *http.Server
}

// MetricsConfig configures the metrics collector
type MetricsConfig struct {
	Enabled        bool `yaml:"enabled" mapstructure:"enabled"`
	PrometheusPort int  `yaml:"prometheus_port" mapstructure:"prometheus_port"`
	// Registerer overrides the Prometheus registry, mostly for tests.
	Registerer promreg.Registerer `yaml:"-" mapstructure:"-"`
}

// NewMetricsCollector creates a new metrics collector. A disabled config
// yields a collector whose Record methods are no-ops.
func NewMetricsCollector(config MetricsConfig) (*MetricsCollector, error) {
	if !config.Enabled {
		return &MetricsCollector{}, nil
	}

	var exporterOpts []otelprom.Option
	if config.Registerer != nil {
		exporterOpts = append(exporterOpts, otelprom.WithRegisterer(config.Registerer))
	}
	exporter, err := otelprom.New(exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	meter := provider.Meter("cvadapt")

	collector := &MetricsCollector{meter: meter}

	if collector.httpRequests, err = meter.Int64Counter(
		"cvadapt_http_requests",
		metric.WithDescription("Total number of HTTP requests served"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create http_requests counter: %w", err)
	}
	if collector.httpLatency, err = meter.Float64Histogram(
		"cvadapt_http_latency",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create http_latency histogram: %w", err)
	}
	if collector.httpBytes, err = meter.Int64Counter(
		"cvadapt_http_response_size",
		metric.WithDescription("Bytes written in HTTP responses"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, fmt.Errorf("failed to create http_bytes counter: %w", err)
	}
	if collector.llmRequests, err = meter.Int64Counter(
		"cvadapt_llm_requests",
		metric.WithDescription("Total number of AI completion requests"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create llm_requests counter: %w", err)
	}
	if collector.llmLatency, err = meter.Float64Histogram(
		"cvadapt_llm_latency",
		metric.WithDescription("AI completion latency in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create llm_latency histogram: %w", err)
	}
	if collector.offerCache, err = meter.Int64Counter(
		"cvadapt_offer_cache_lookups",
		metric.WithDescription("Offer analysis cache lookups by result"),
		metric.WithUnit("{lookup}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create offer_cache counter: %w", err)
	}

	if config.PrometheusPort > 0 {
		if err := collector.StartPrometheusServer(config.PrometheusPort); err != nil {
			return nil, fmt.Errorf("failed to start prometheus server: %w", err)
		}
	}

	return collector, nil
}

// StartPrometheusServer starts the Prometheus metrics server
func (m *MetricsCollector) StartPrometheusServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promclient.Handler())

	m.prometheusServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("Prometheus metrics server listening on :%d", port)
		if err := m.prometheusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Prometheus server error: %v", err)
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the metrics collector
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m == nil || m.prometheusServer == nil {
		return nil
	}
	return m.prometheusServer.Shutdown(ctx)
}

// RecordHTTPServerRequest records one served request
func (m *MetricsCollector) RecordHTTPServerRequest(ctx context.Context, method, route string, status int, latency time.Duration, bytes int64) {
	if m == nil || m.httpRequests == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status", strconv.Itoa(status)),
	)
	m.httpRequests.Add(ctx, 1, attrs)
	m.httpLatency.Record(ctx, latency.Seconds(), attrs)
	if bytes > 0 {
		m.httpBytes.Add(ctx, bytes, metric.WithAttributes(attribute.String("route", route)))
	}
}

// RecordLLMRequest records an AI completion call
func (m *MetricsCollector) RecordLLMRequest(ctx context.Context, model, status string, latency time.Duration) {
	if m == nil || m.llmRequests == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("status", status),
	)
	m.llmRequests.Add(ctx, 1, attrs)
	m.llmLatency.Record(ctx, latency.Seconds(), attrs)
}

// RecordOfferCacheLookup records a hit or miss of the offer analysis cache
func (m *MetricsCollector) RecordOfferCacheLookup(ctx context.Context, hit bool) {
	if m == nil || m.offerCache == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.offerCache.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
