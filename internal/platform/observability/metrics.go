package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// Metrics holds all application metrics
type Metrics struct {
	meter    metric.Meter
	provider *sdkmetric.MeterProvider

	// Feed metrics
	QuoteUpdates       metric.Int64Counter
	FeedConnected      metric.Int64Gauge
	FeedReconnections  metric.Int64Counter
	FeedDroppedUpdates metric.Int64Counter

	// Account decoding and pricing
	DecodeErrors     metric.Int64Counter
	PricingFallbacks metric.Int64Counter

	// Detection
	Evaluations           metric.Int64Counter
	EvaluationsSuppressed metric.Int64Counter
	OpportunitiesDetected metric.Int64Counter
	OpportunitySpread     metric.Float64Histogram
	OpportunityStaleness  metric.Float64Histogram

	// Solana RPC
	RPCCalls          metric.Int64Counter
	RPCDuration       metric.Float64Histogram
	RPCEndpointHealth metric.Int64Gauge

	// Cache metrics
	CacheHits   metric.Int64Counter
	CacheMisses metric.Int64Counter

	// Circuit breaker metrics
	CircuitBreakerState metric.Int64Gauge

	// Notification metrics
	NotificationsPublished metric.Int64Counter
	NotificationsDropped   metric.Int64Counter

	// Error metrics
	Errors metric.Int64Counter
}

// NewMetrics creates a new Metrics instance. When disabled every instrument
// is a no-op, so callers never need to nil-check.
func NewMetrics(serviceName string, enabled bool) (*Metrics, error) {
	if !enabled {
		m := &Metrics{meter: noop.NewMeterProvider().Meter(serviceName)}
		if err := m.initMetrics(); err != nil {
			return nil, fmt.Errorf("failed to initialize metrics: %w", err)
		}
		return m, nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	// Registers with the default Prometheus registry served by Handler.
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	m := &Metrics{
		meter:    provider.Meter(serviceName),
		provider: provider,
	}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return m, nil
}

// NewNoopMetrics returns metrics that record nothing. Intended for tests.
func NewNoopMetrics() *Metrics {
	m, _ := NewMetrics("noop", false)
	return m
}

func (m *Metrics) initMetrics() error {
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.QuoteUpdates, "arbitrage.feed.updates", "Quote updates received per venue"},
		{&m.FeedReconnections, "arbitrage.feed.reconnections", "Feed resubscriptions after the stream ended"},
		{&m.FeedDroppedUpdates, "arbitrage.feed.dropped", "Updates dropped because the consumer was slow"},
		{&m.DecodeErrors, "arbitrage.decode.errors", "Account payloads that failed to decode"},
		{&m.PricingFallbacks, "arbitrage.pricing.fallbacks", "Pool quotes produced by the mid/half-spread fallback"},
		{&m.Evaluations, "arbitrage.evaluations", "Detector evaluations of the fused snapshot"},
		{&m.EvaluationsSuppressed, "arbitrage.evaluations.suppressed", "Evaluations skipped because a quote was too old"},
		{&m.OpportunitiesDetected, "arbitrage.opportunities.detected", "Total arbitrage opportunities detected"},
		{&m.RPCCalls, "arbitrage.rpc.calls", "Solana JSON-RPC calls"},
		{&m.CacheHits, "arbitrage.cache.hits", "Total cache hits"},
		{&m.CacheMisses, "arbitrage.cache.misses", "Total cache misses"},
		{&m.NotificationsPublished, "arbitrage.notifications.published", "Opportunity notifications handed to a publisher"},
		{&m.NotificationsDropped, "arbitrage.notifications.dropped", "Opportunity notifications dropped under backpressure"},
		{&m.Errors, "arbitrage.errors", "Total errors encountered"},
	}
	for _, c := range counters {
		inst, err := m.meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return err
		}
		*c.dst = inst
	}

	var err error

	m.OpportunitySpread, err = m.meter.Float64Histogram(
		"arbitrage.opportunities.spread",
		metric.WithDescription("Gross spread of detected opportunities in quote currency"),
	)
	if err != nil {
		return err
	}

	m.OpportunityStaleness, err = m.meter.Float64Histogram(
		"arbitrage.opportunities.staleness",
		metric.WithDescription("Age of the oldest quote behind an opportunity"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	m.RPCDuration, err = m.meter.Float64Histogram(
		"arbitrage.rpc.duration",
		metric.WithDescription("Solana JSON-RPC call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	m.FeedConnected, err = m.meter.Int64Gauge(
		"arbitrage.feed.connected",
		metric.WithDescription("Feed connection status (1=connected, 0=disconnected)"),
	)
	if err != nil {
		return err
	}

	m.RPCEndpointHealth, err = m.meter.Int64Gauge(
		"arbitrage.rpc.endpoint.health",
		metric.WithDescription("RPC endpoint health status (1=healthy, 0=unhealthy)"),
	)
	if err != nil {
		return err
	}

	m.CircuitBreakerState, err = m.meter.Int64Gauge(
		"arbitrage.circuit_breaker.state",
		metric.WithDescription("Circuit breaker state (0=closed, 1=open, 2=half-open)"),
	)
	return err
}

// RecordQuoteUpdate counts a normalized update from venue.
func (m *Metrics) RecordQuoteUpdate(ctx context.Context, venue, instrument string) {
	m.QuoteUpdates.Add(ctx, 1, metric.WithAttributes(
		attribute.String("venue", venue),
		attribute.String("instrument", instrument),
	))
}

// SetFeedConnected records whether venue's stream is up.
func (m *Metrics) SetFeedConnected(ctx context.Context, venue string, connected bool) {
	m.FeedConnected.Record(ctx, boolToInt(connected), metric.WithAttributes(attribute.String("venue", venue)))
}

func (m *Metrics) RecordFeedReconnection(ctx context.Context, venue string, attempt int) {
	m.FeedReconnections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("venue", venue),
		attribute.Int("attempt", attempt),
	))
}

func (m *Metrics) RecordFeedDropped(ctx context.Context, venue string) {
	m.FeedDroppedUpdates.Add(ctx, 1, metric.WithAttributes(attribute.String("venue", venue)))
}

// RecordDecodeError counts a failed account decode by failure kind.
func (m *Metrics) RecordDecodeError(ctx context.Context, layout, kind string) {
	m.DecodeErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("layout", layout),
		attribute.String("kind", kind),
	))
}

func (m *Metrics) RecordPricingFallback(ctx context.Context, reason string) {
	m.PricingFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordEvaluation counts one detector pass and how many opportunities it found.
func (m *Metrics) RecordEvaluation(ctx context.Context, venues, found int) {
	m.Evaluations.Add(ctx, 1, metric.WithAttributes(
		attribute.Int("venues", venues),
		attribute.Bool("found", found > 0),
	))
}

// RecordEvaluationSuppressed counts an evaluation skipped for a stale venue.
func (m *Metrics) RecordEvaluationSuppressed(ctx context.Context, staleVenue string) {
	m.EvaluationsSuppressed.Add(ctx, 1, metric.WithAttributes(attribute.String("venue", staleVenue)))
}

// RecordOpportunity records a detected opportunity
func (m *Metrics) RecordOpportunity(ctx context.Context, buyVenue, sellVenue string, spread float64, staleness time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("buy_venue", buyVenue),
		attribute.String("sell_venue", sellVenue),
	)
	m.OpportunitiesDetected.Add(ctx, 1, attrs)
	m.OpportunitySpread.Record(ctx, spread, attrs)
	m.OpportunityStaleness.Record(ctx, float64(staleness.Milliseconds()), attrs)
}

// RecordRPCCall records a JSON-RPC call against an endpoint
func (m *Metrics) RecordRPCCall(ctx context.Context, method, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("status", status),
	)
	m.RPCCalls.Add(ctx, 1, attrs)
	m.RPCDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordRPCEndpointHealth records RPC endpoint health status
func (m *Metrics) RecordRPCEndpointHealth(ctx context.Context, url string, healthy bool) {
	m.RPCEndpointHealth.Record(ctx, boolToInt(healthy), metric.WithAttributes(attribute.String("url", url)))
}

func (m *Metrics) RecordCacheHit(ctx context.Context, layer string) {
	m.CacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("layer", layer)))
}

func (m *Metrics) RecordCacheMiss(ctx context.Context, layer string) {
	m.CacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("layer", layer)))
}

// SetCircuitBreakerState sets circuit breaker state
// 0 = closed, 1 = open, 2 = half-open
func (m *Metrics) SetCircuitBreakerState(ctx context.Context, service string, state int64) {
	m.CircuitBreakerState.Record(ctx, state, metric.WithAttributes(attribute.String("service", service)))
}

func (m *Metrics) RecordNotification(ctx context.Context, publisher string, success bool) {
	m.NotificationsPublished.Add(ctx, 1, metric.WithAttributes(
		attribute.String("publisher", publisher),
		attribute.Bool("success", success),
	))
}

func (m *Metrics) RecordNotificationDropped(ctx context.Context, publisher string) {
	m.NotificationsDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("publisher", publisher)))
}

// RecordError records an error
func (m *Metrics) RecordError(ctx context.Context, errorType string) {
	m.Errors.Add(ctx, 1, metric.WithAttributes(attribute.String("type", errorType)))
}

// Handler returns the HTTP handler for Prometheus metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

// Shutdown flushes and stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
