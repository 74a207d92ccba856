package httpclient

import (
	"context"
	"net"
	"net/http"
	"net/http/httptrace"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/httptrace/otelhttptrace"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultRequestTimeout  = 10 * time.Second
	defaultDialKeepAlive   = 10 * time.Second
	defaultMaxConnsPerHost = 8
	defaultIdleConnTimeout = 2 * time.Minute

	metricRequests = "http_client_requests_total"
	metricLatency  = "http_client_request_duration_ms"
)

// Client builds and executes instrumented requests.
type Client interface {
	NewRequest(opts ...RequestOption) Request
}

type instrumentedClient struct {
	http        *http.Client
	requests    metric.Int64Counter
	latency     metric.Float64Histogram
	tracer      trace.Tracer
	provider    string
	baseURL     string
	headers     map[string]string
	traceBodies bool
}

// NewInstrumentedClient creates a Client with OTEL transport instrumentation.
func NewInstrumentedClient(opts ...ClientOption) (Client, error) {
	o := newClientOptions(opts...)

	hc := o.client
	if hc == nil {
		hc = &http.Client{Timeout: defaultRequestTimeout}
	}
	switch {
	case o.roundTripper != nil:
		hc.Transport = o.roundTripper
	case hc.Transport == nil:
		hc.Transport = &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			DialContext:     (&net.Dialer{KeepAlive: defaultDialKeepAlive}).DialContext,
			MaxConnsPerHost: defaultMaxConnsPerHost,
			IdleConnTimeout: defaultIdleConnTimeout,
		}
	}
	if o.requestTimeout > 0 {
		hc.Timeout = o.requestTimeout
	}
	hc.Transport = otelhttp.NewTransport(hc.Transport,
		otelhttp.WithClientTrace(func(ctx context.Context) *httptrace.ClientTrace {
			return otelhttptrace.NewClientTrace(ctx)
		}),
	)

	provider := o.providerName
	if provider == "" {
		provider = "default"
	}

	mp := o.meterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter("httpclient", metric.WithInstrumentationAttributes(attribute.String("provider", provider)))

	requests, err := meter.Int64Counter(metricRequests, metric.WithDescription("HTTP requests by provider and outcome"))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram(metricLatency, metric.WithDescription("HTTP request latency"), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	tracer := o.tracer
	if tracer == nil {
		tracer = otel.Tracer("httpclient")
	}

	return &instrumentedClient{
		http:        hc,
		requests:    requests,
		latency:     latency,
		tracer:      tracer,
		provider:    provider,
		baseURL:     o.baseURL,
		headers:     o.headers,
		traceBodies: o.traceBodies,
	}, nil
}

func (c *instrumentedClient) NewRequest(opts ...RequestOption) Request {
	ro := &RequestOptions{}
	for _, opt := range opts {
		opt(ro)
	}
	headers := make(map[string]string, len(c.headers))
	for k, v := range c.headers {
		headers[k] = v
	}
	return &requestBuilder{
		client:  c,
		opts:    ro,
		headers: headers,
	}
}
