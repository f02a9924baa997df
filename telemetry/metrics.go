package telemetry

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

const (
	meterName = "github.com/wolfeidau/halnet"
)

// MetricsConfig configures the metrics system.
type MetricsConfig struct {
	// ServiceName is the name of the service for resource attributes.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// OTLPEndpoint is the OTLP gRPC endpoint (e.g., "localhost:4317").
	// If empty, OTLP export is disabled.
	OTLPEndpoint string

	// EnablePrometheus enables the Prometheus /metrics endpoint.
	EnablePrometheus bool

	// FlushInterval is how often to export metrics (default: 10s).
	FlushInterval time.Duration
}

// Metrics holds the OpenTelemetry metric instruments.
type Metrics struct {
	requestsTotal      metric.Int64Counter
	responseBytesTotal metric.Int64Counter
	requestDuration    metric.Float64Histogram

	storeRequestDuration metric.Float64Histogram
	storeRequestsTotal   metric.Int64Counter
	storeBytesTotal      metric.Int64Counter

	generationDuration   metric.Float64Histogram
	generationTotal      metric.Int64Counter
	generationBytesTotal metric.Int64Counter
	generationShared     metric.Int64Counter

	providerFetchDuration   metric.Float64Histogram
	providerFetchTotal      metric.Int64Counter
	providerFetchBytesTotal metric.Int64Counter

	meterProvider *sdkmetric.MeterProvider
	promHandler   http.Handler
}

var (
	globalMetrics *Metrics
	initOnce      sync.Once
	initErr       error
)

// InitMetrics initializes the OpenTelemetry metrics system.
// Returns a shutdown function that should be called on application exit.
// Uses sync.Once to ensure single initialisation.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (shutdown func(context.Context) error, err error) {
	initOnce.Do(func() {
		initErr = doInitMetrics(ctx, cfg)
	})

	if initErr != nil {
		return nil, initErr
	}

	return shutdownMetrics, nil
}

func doInitMetrics(ctx context.Context, cfg MetricsConfig) error {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "halnet"
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return err
	}

	var readers []sdkmetric.Reader
	var promHandler http.Handler

	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(), // Use WithTLSCredentials for production
		)
		if err != nil {
			return err
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(otlpExporter,
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	if cfg.EnablePrometheus {
		promExp, err := promexporter.New()
		if err != nil {
			return err
		}
		readers = append(readers, promExp)
		promHandler = promhttp.Handler()
	}

	// If no exporters configured, use a no-op periodic reader to still collect metrics
	if len(readers) == 0 {
		readers = append(readers, sdkmetric.NewPeriodicReader(noopExporter{},
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	m, err := newMetrics(mp.Meter(meterName))
	if err != nil {
		return err
	}
	m.meterProvider = mp
	m.promHandler = promHandler
	globalMetrics = m

	return nil
}

// newMetrics creates every instrument from meter.
func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.requestsTotal, err = meter.Int64Counter(
		"halnet_http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	m.responseBytesTotal, err = meter.Int64Counter(
		"halnet_http_response_bytes_total",
		metric.WithDescription("Total bytes sent in HTTP responses"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	m.requestDuration, err = meter.Float64Histogram(
		"halnet_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40),
	)
	if err != nil {
		return nil, err
	}

	m.storeRequestDuration, err = meter.Float64Histogram(
		"halnet_store_request_duration_seconds",
		metric.WithDescription("Duration of content store operations"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	)
	if err != nil {
		return nil, err
	}

	m.storeRequestsTotal, err = meter.Int64Counter(
		"halnet_store_requests_total",
		metric.WithDescription("Total number of content store operations"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	m.storeBytesTotal, err = meter.Int64Counter(
		"halnet_store_bytes_total",
		metric.WithDescription("Total bytes transferred in content store operations"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	m.generationDuration, err = meter.Float64Histogram(
		"halnet_generation_duration_seconds",
		metric.WithDescription("Duration of content generation calls"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 45, 60),
	)
	if err != nil {
		return nil, err
	}

	m.generationTotal, err = meter.Int64Counter(
		"halnet_generation_total",
		metric.WithDescription("Total number of content generation calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	m.generationBytesTotal, err = meter.Int64Counter(
		"halnet_generation_bytes_total",
		metric.WithDescription("Total bytes of generated content"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	m.generationShared, err = meter.Int64Counter(
		"halnet_generation_shared_total",
		metric.WithDescription("Requests that joined an in-flight generation instead of starting one"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	m.providerFetchDuration, err = meter.Float64Histogram(
		"halnet_provider_fetch_duration_seconds",
		metric.WithDescription("Duration of HTTP calls to the generation provider"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 45, 60),
	)
	if err != nil {
		return nil, err
	}

	m.providerFetchTotal, err = meter.Int64Counter(
		"halnet_provider_fetch_total",
		metric.WithDescription("Total number of HTTP calls to the generation provider"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	m.providerFetchBytesTotal, err = meter.Int64Counter(
		"halnet_provider_fetch_bytes_total",
		metric.WithDescription("Total bytes read from the generation provider"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// shutdownMetrics shuts down the metrics provider and clears the global state.
func shutdownMetrics(ctx context.Context) error {
	if globalMetrics == nil {
		return nil
	}
	err := globalMetrics.meterProvider.Shutdown(ctx)
	globalMetrics = nil
	return err
}

// RecordHTTP records HTTP request metrics.
// Call this from the logging middleware after the request completes.
// Kind and cache result are read from request tags set by the handler.
func RecordHTTP(ctx context.Context, r *http.Request, status int, bytesSent int64, duration time.Duration) {
	if globalMetrics == nil {
		return
	}

	tags := GetTags(r)

	kind := "none"
	cacheResult := string(CacheNA)
	if tags != nil {
		if tags.Kind != "" {
			kind = tags.Kind
		}
		if tags.CacheResult != "" {
			cacheResult = string(tags.CacheResult)
		}
	}

	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status_class", StatusClass(status)),
		attribute.String("cache_result", cacheResult),
	)
	globalMetrics.requestsTotal.Add(ctx, 1, attrs)
	globalMetrics.responseBytesTotal.Add(ctx, bytesSent, attrs)
	globalMetrics.requestDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordStoreOp records content store operation metrics.
func RecordStoreOp(ctx context.Context, store, op, outcome string, duration time.Duration, bytes int64) {
	if globalMetrics == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("store", store),
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	)
	globalMetrics.storeRequestsTotal.Add(ctx, 1, attrs)
	globalMetrics.storeRequestDuration.Record(ctx, duration.Seconds(), attrs)
	if bytes > 0 {
		globalMetrics.storeBytesTotal.Add(ctx, bytes, attrs)
	}
}

// RecordGeneration records one generation call by provider, outcome and resource kind.
func RecordGeneration(ctx context.Context, provider, outcome string, duration time.Duration, bytes int64) {
	if globalMetrics == nil {
		return
	}

	kind := KindFromContext(ctx)
	if kind == "" {
		kind = "none"
	}
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	)
	globalMetrics.generationTotal.Add(ctx, 1, attrs)
	globalMetrics.generationDuration.Record(ctx, duration.Seconds(), attrs)
	if bytes > 0 {
		globalMetrics.generationBytesTotal.Add(ctx, bytes, attrs)
	}
}

// RecordGenerationShared records a request that joined an in-flight generation.
func RecordGenerationShared(ctx context.Context) {
	if globalMetrics == nil {
		return
	}
	kind := KindFromContext(ctx)
	if kind == "" {
		kind = "none"
	}
	globalMetrics.generationShared.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordProviderFetch records an HTTP call to the generation provider.
func RecordProviderFetch(ctx context.Context, provider string, duration time.Duration, bytesRead int64, outcome string) {
	if globalMetrics == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("outcome", outcome),
	)
	globalMetrics.providerFetchDuration.Record(ctx, duration.Seconds(), attrs)
	globalMetrics.providerFetchTotal.Add(ctx, 1, attrs)
	if bytesRead > 0 {
		globalMetrics.providerFetchBytesTotal.Add(ctx, bytesRead, attrs)
	}
}

// PrometheusHandler returns the Prometheus metrics HTTP handler.
// Returns a handler that returns 404 if Prometheus export is not enabled,
// allowing safe registration regardless of initialization order.
func PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if globalMetrics == nil || globalMetrics.promHandler == nil {
			http.NotFound(w, r)
			return
		}
		globalMetrics.promHandler.ServeHTTP(w, r)
	})
}

// StatusClass returns the HTTP status class (2xx, 3xx, 4xx, 5xx).
func StatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// noopExporter is a no-op metrics exporter for when no exporters are configured.
type noopExporter struct{}

func (noopExporter) Temporality(_ sdkmetric.InstrumentKind) metricdata.Temporality {
	return metricdata.CumulativeTemporality
}

func (noopExporter) Aggregation(_ sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return nil
}

func (noopExporter) Export(_ context.Context, _ *metricdata.ResourceMetrics) error {
	return nil
}

func (noopExporter) ForceFlush(_ context.Context) error {
	return nil
}

func (noopExporter) Shutdown(_ context.Context) error {
	return nil
}
