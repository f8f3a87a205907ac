package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopfront/shopfront-api/pkg/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"
)

// AppMetrics holds all application metrics
type AppMetrics struct {
	// HTTP Metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestsErrors  metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Database Metrics
	DBQueriesTotal  metric.Int64Counter
	DBQueryDuration metric.Float64Histogram

	// Business Metrics
	OrdersCreated      metric.Int64Counter
	OrderStatusChanges metric.Int64Counter
	RevenueTotal       metric.Float64Counter
	StockRejections    metric.Int64Counter
	ProductsViewed     metric.Int64Counter
	CartItemsCount     metric.Int64Gauge
	InventoryLevel     metric.Int64Gauge

	// Application Metrics
	LoginAttempts       metric.Int64Counter
	NotificationsSent   metric.Int64Counter
	NotificationsFailed metric.Int64Counter
	EventsPublished     metric.Int64Counter
	CacheHits           metric.Int64Counter
	CacheMisses         metric.Int64Counter

	// Service name for adding to all metrics
	serviceName string
}

// Shutdown flushes and stops the exporter, if any.
type Shutdown func(context.Context) error

// InitMetrics configures the OTLP/HTTP exporter and builds the instruments.
// With metrics disabled the instruments are backed by a no-op meter.
func InitMetrics(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*AppMetrics, Shutdown, error) {
	if !cfg.OTELMetricsEnabled {
		logger.Info("metrics export disabled")
		m, err := NewAppMetrics(noop.NewMeterProvider().Meter(cfg.OTELServiceName), cfg.OTELServiceName)
		return m, func(context.Context) error { return nil }, err
	}

	envRes, err := resource.New(ctx, resource.WithFromEnv())
	if err != nil {
		envRes = resource.Empty()
	}

	// Explicit attributes take precedence over env
	explicitRes, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.OTELServiceName),
			semconv.ServiceVersion(cfg.OTELServiceVersion),
			attribute.String("deployment.environment", cfg.OTELDeploymentEnvironment),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create explicit resource: %w", err)
	}

	res, err := resource.Merge(envRes, explicitRes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to merge resources: %w", err)
	}

	// WithEndpoint expects host:port without a scheme
	exporterOpts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(cfg.OTELExporterOTLPEndpoint),
		otlpmetrichttp.WithURLPath("/v1/metrics"),
	}
	if cfg.OTELExporterOTLPHeaders != "" {
		exporterOpts = append(exporterOpts, otlpmetrichttp.WithHeaders(parseHeaders(cfg.OTELExporterOTLPHeaders)))
	}
	if cfg.OTELExporterOTLPInsecure {
		exporterOpts = append(exporterOpts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, exporterOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter,
		sdkmetric.WithInterval(10*time.Second),
	)

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(meterProvider)

	logger.Info("metrics exporter configured",
		zap.String("endpoint", cfg.OTELExporterOTLPEndpoint),
		zap.Bool("insecure", cfg.OTELExporterOTLPInsecure),
		zap.String("service", cfg.OTELServiceName),
	)

	m, err := NewAppMetrics(meterProvider.Meter(cfg.OTELServiceName), cfg.OTELServiceName)
	if err != nil {
		return nil, nil, err
	}
	return m, meterProvider.Shutdown, nil
}

// NewAppMetrics creates every instrument on the given meter.
func NewAppMetrics(meter metric.Meter, serviceName string) (*AppMetrics, error) {
	// latency buckets in milliseconds, up to 60s
	buckets := []float64{2, 4, 6, 8, 10, 50, 100, 200, 400, 800, 1000, 1400, 2000, 5000, 10000, 15000, 20000, 30000, 45000, 60000}

	m := &AppMetrics{serviceName: serviceName}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.HTTPRequestsTotal, "http.server.request.count", "Total number of HTTP requests"},
		{&m.HTTPRequestsErrors, "http.server.request.error.count", "Total number of HTTP error requests"},
		{&m.DBQueriesTotal, "db.client.queries.count", "Total number of database queries"},
		{&m.OrdersCreated, "orders_created_total", "Total number of orders created"},
		{&m.OrderStatusChanges, "order_status_changes_total", "Total number of order status transitions"},
		{&m.StockRejections, "stock_rejections_total", "Checkouts rejected for insufficient stock"},
		{&m.ProductsViewed, "products_viewed_total", "Total number of product views"},
		{&m.LoginAttempts, "login_attempts_total", "Login attempts by outcome"},
		{&m.NotificationsSent, "notifications_sent_total", "Emails delivered to the SMTP relay"},
		{&m.NotificationsFailed, "notifications_failed_total", "Emails that failed to send"},
		{&m.EventsPublished, "events_published_total", "Order events published by outcome"},
		{&m.CacheHits, "cache_hits_total", "Total number of cache hits"},
		{&m.CacheMisses, "cache_misses_total", "Total number of cache misses"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit("1"))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
	}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http.server.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(buckets...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}

	m.DBQueryDuration, err = meter.Float64Histogram(
		"db.client.queries.duration",
		metric.WithDescription("Database query duration in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(buckets...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create db duration histogram: %w", err)
	}

	m.RevenueTotal, err = meter.Float64Counter(
		"revenue_total",
		metric.WithDescription("Total revenue generated"),
		metric.WithUnit("USD"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create revenue counter: %w", err)
	}

	m.CartItemsCount, err = meter.Int64Gauge(
		"cart_items_count",
		metric.WithDescription("Current number of items in user carts"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cart items gauge: %w", err)
	}

	m.InventoryLevel, err = meter.Int64Gauge(
		"inventory_level",
		metric.WithDescription("Current inventory level for products"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create inventory gauge: %w", err)
	}

	return m, nil
}

// NewNoop returns instruments that record nothing.
func NewNoop() *AppMetrics {
	m, err := NewAppMetrics(noop.NewMeterProvider().Meter("noop"), "noop")
	if err != nil {
		panic(err)
	}
	return m
}

// WithServiceName adds service.name to attributes
func (m *AppMetrics) WithServiceName(attrs []attribute.KeyValue) []attribute.KeyValue {
	return append(attrs, attribute.String("service.name", m.serviceName))
}

// Attrs is shorthand for metric.WithAttributes(m.WithServiceName(attrs)).
func (m *AppMetrics) Attrs(attrs ...attribute.KeyValue) metric.MeasurementOption {
	return metric.WithAttributes(m.WithServiceName(attrs)...)
}

// RecordDBQuery records database query metrics including the SQL statement
func (m *AppMetrics) RecordDBQuery(ctx context.Context, operation, table, statement string, start time.Time, success bool) {
	duration := time.Since(start).Milliseconds()

	status := "success"
	if !success {
		status = "error"
	}

	attrs := []attribute.KeyValue{
		attribute.String("db.operation", operation),
		attribute.String("db.sql.table", table),
		attribute.String("db.statement", statement),
		attribute.String("db.system", "mysql"),
		attribute.String("status", status),
	}

	m.DBQueriesTotal.Add(ctx, 1, m.Attrs(attrs...))
	m.DBQueryDuration.Record(ctx, float64(duration), m.Attrs(attrs...))
}

// parseHeaders parses header string in format "key1=value1,key2=value2"
func parseHeaders(headerStr string) map[string]string {
	headers := make(map[string]string)
	if headerStr == "" {
		return headers
	}

	pairs := strings.Split(headerStr, ",")
	for _, pair := range pairs {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) == 2 {
			headers[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return headers
}
