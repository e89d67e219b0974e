package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// ShutdownFunc releases telemetry resources.
type ShutdownFunc func(ctx context.Context) error

// Setup initializes OpenTelemetry with a Prometheus exporter.
// Returns a shutdown function that must be called on exit.
func Setup(ctx context.Context, serviceName string) (ShutdownFunc, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	return provider.Shutdown, nil
}

// MetricsHandler returns an http.Handler that serves Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// Metrics holds all OTel instruments for the POS API.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	httpRequestsTotal       otelmetric.Int64Counter
	httpRequestDuration     otelmetric.Float64Histogram
	authValidationsTotal    otelmetric.Int64Counter
	jwksRefreshesTotal      otelmetric.Int64Counter
	rateLimitDecisionsTotal otelmetric.Int64Counter
	storeAccessTotal        otelmetric.Int64Counter
	storeOpsTotal           otelmetric.Int64Counter
	storeOpDuration         otelmetric.Float64Histogram
}

// NewMetrics creates and registers all metrics.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("posapi")
	m := &Metrics{}
	var err error

	latencyBuckets := otelmetric.WithExplicitBucketBoundaries(
		0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
	)

	if m.httpRequestsTotal, err = meter.Int64Counter("pos_http_requests_total",
		otelmetric.WithDescription("Total HTTP requests")); err != nil {
		return nil, fmt.Errorf("creating http_requests_total: %w", err)
	}
	if m.httpRequestDuration, err = meter.Float64Histogram("pos_http_request_duration_seconds",
		otelmetric.WithDescription("HTTP request duration"), latencyBuckets); err != nil {
		return nil, fmt.Errorf("creating http_request_duration: %w", err)
	}
	if m.authValidationsTotal, err = meter.Int64Counter("pos_auth_validations_total",
		otelmetric.WithDescription("Total auth validations")); err != nil {
		return nil, fmt.Errorf("creating auth_validations_total: %w", err)
	}
	if m.jwksRefreshesTotal, err = meter.Int64Counter("pos_jwks_refreshes_total",
		otelmetric.WithDescription("Total JWKS refreshes")); err != nil {
		return nil, fmt.Errorf("creating jwks_refreshes_total: %w", err)
	}
	if m.rateLimitDecisionsTotal, err = meter.Int64Counter("pos_ratelimit_decisions_total",
		otelmetric.WithDescription("Total rate limit decisions")); err != nil {
		return nil, fmt.Errorf("creating ratelimit_decisions_total: %w", err)
	}
	if m.storeAccessTotal, err = meter.Int64Counter("pos_store_access_decisions_total",
		otelmetric.WithDescription("Total store access gate decisions")); err != nil {
		return nil, fmt.Errorf("creating store_access_decisions_total: %w", err)
	}
	if m.storeOpsTotal, err = meter.Int64Counter("pos_store_operations_total",
		otelmetric.WithDescription("Total persistence operations")); err != nil {
		return nil, fmt.Errorf("creating store_operations_total: %w", err)
	}
	if m.storeOpDuration, err = meter.Float64Histogram("pos_store_operation_duration_seconds",
		otelmetric.WithDescription("Persistence operation duration"), latencyBuckets); err != nil {
		return nil, fmt.Errorf("creating store_operation_duration: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request metric. route is the matched
// route pattern, not the raw path, to keep label cardinality bounded.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, durationSec float64) {
	if m == nil {
		return
	}
	attrs := otelmetric.WithAttributes(
		methodAttr(method),
		routeAttr(route),
		statusAttr(status),
	)
	m.httpRequestsTotal.Add(ctx, 1, attrs)
	m.httpRequestDuration.Record(ctx, durationSec, attrs)
}

// RecordAuthValidation records an auth validation result.
func (m *Metrics) RecordAuthValidation(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.authValidationsTotal.Add(ctx, 1, otelmetric.WithAttributes(resultAttr(result)))
}

// RecordJWKSRefresh records a JWKS refresh attempt.
func (m *Metrics) RecordJWKSRefresh(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.jwksRefreshesTotal.Add(ctx, 1, otelmetric.WithAttributes(resultAttr(result)))
}

// RecordRateLimitDecision records a rate limit decision.
func (m *Metrics) RecordRateLimitDecision(ctx context.Context, layer, result string) {
	if m == nil {
		return
	}
	m.rateLimitDecisionsTotal.Add(ctx, 1, otelmetric.WithAttributes(
		layerAttr(layer),
		resultAttr(result),
	))
}

// RecordStoreAccess records a store access gate decision.
func (m *Metrics) RecordStoreAccess(ctx context.Context, mode, result string) {
	if m == nil {
		return
	}
	m.storeAccessTotal.Add(ctx, 1, otelmetric.WithAttributes(
		modeAttr(mode),
		resultAttr(result),
	))
}

// RecordStoreOperation records a persistence call.
func (m *Metrics) RecordStoreOperation(ctx context.Context, op, result string, durationSec float64) {
	if m == nil {
		return
	}
	attrs := otelmetric.WithAttributes(
		operationAttr(op),
		resultAttr(result),
	)
	m.storeOpsTotal.Add(ctx, 1, attrs)
	m.storeOpDuration.Record(ctx, durationSec, attrs)
}
