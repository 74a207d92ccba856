// Package metrics wires the OpenTelemetry meter provider and its readers.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"

	"github.com/fd1az/triarb/internal/apm"
	"github.com/fd1az/triarb/internal/config"
	"github.com/fd1az/triarb/internal/logger"
)

type MetricProvider interface {
	Meter(name string, options ...metric.MeterOption) metric.Meter
	Shutdown(ctx context.Context) error
}

func readers(ctx context.Context, cfg config.TelemetryConfig) ([]sdkmetric.Reader, error) {
	var out []sdkmetric.Reader

	if cfg.PrometheusPort > 0 {
		promExporter, err := prometheus.New()
		if err != nil {
			return nil, fmt.Errorf("prometheus exporter: %w", err)
		}
		out = append(out, promExporter)
	}

	if cfg.OTLPEndpoint != "" && apm.Provider(cfg.TraceExporter) == apm.OTLPGRPCProvider {
		exp, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpointURL(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithHeaders(apm.ParseHeaders(cfg.OTLPHeaders)),
		)
		if err != nil {
			return nil, fmt.Errorf("otlp metric exporter: %w", err)
		}
		out = append(out, sdkmetric.NewPeriodicReader(exp))
	}

	return out, nil
}

// NewMetricProvider installs the global meter provider. With telemetry
// disabled it still returns a provider, with no readers attached.
func NewMetricProvider(ctx context.Context, cfg config.TelemetryConfig) (MetricProvider, error) {
	opts := []sdkmetric.Option{
		sdkmetric.WithResource(resource.NewSchemaless(semconv.ServiceNameKey.String(cfg.ServiceName))),
	}

	if cfg.Enabled {
		rs, err := readers(ctx, cfg)
		if err != nil {
			return nil, err
		}
		for _, r := range rs {
			opts = append(opts, sdkmetric.WithReader(r))
		}
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)
	return mp, nil
}

// PromServer exposes /metrics for the prometheus reader.
type PromServer struct {
	srv *http.Server
	log logger.LoggerInterface
}

func NewPromServer(port int, log logger.LoggerInterface) *PromServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &PromServer{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}
}

// Start serves in the background.
func (p *PromServer) Start(ctx context.Context) {
	p.log.Info(ctx, "serving metrics", "addr", p.srv.Addr, "path", "/metrics")
	go func() {
		if err := p.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.log.Error(ctx, "metrics server stopped", "error", err)
		}
	}()
}

func (p *PromServer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.srv.Shutdown(ctx)
}
