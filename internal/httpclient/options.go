// Package httpclient provides an HTTP client instrumented with OpenTelemetry tracing and metrics.
package httpclient

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Signer authenticates an outgoing request. body is the exact payload sent.
type Signer interface {
	Sign(req *http.Request, body []byte) error
}

// SignerFunc adapts a function to Signer.
type SignerFunc func(req *http.Request, body []byte) error

func (f SignerFunc) Sign(req *http.Request, body []byte) error { return f(req, body) }

// ClientOptions holds configuration for the instrumented client.
type ClientOptions struct {
	client         *http.Client
	meterProvider  metric.MeterProvider
	tracer         trace.Tracer
	providerName   string
	roundTripper   http.RoundTripper
	requestTimeout time.Duration
	headers        map[string]string
	baseURL        string
	traceBodies    bool
}

// ClientOption configures ClientOptions.
type ClientOption func(*ClientOptions)

func newClientOptions(opts ...ClientOption) *ClientOptions {
	o := &ClientOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func WithHTTPClient(c *http.Client) ClientOption {
	return func(o *ClientOptions) { o.client = c }
}

func WithMeterProvider(mp metric.MeterProvider) ClientOption {
	return func(o *ClientOptions) { o.meterProvider = mp }
}

// WithProviderName labels metrics and spans with the upstream name.
func WithProviderName(name string) ClientOption {
	return func(o *ClientOptions) { o.providerName = name }
}

func WithRoundTripper(rt http.RoundTripper) ClientOption {
	return func(o *ClientOptions) { o.roundTripper = rt }
}

func WithRequestTimeout(timeout time.Duration) ClientOption {
	return func(o *ClientOptions) { o.requestTimeout = timeout }
}

// WithHeaders sets headers sent on every request.
func WithHeaders(headers map[string]string) ClientOption {
	return func(o *ClientOptions) { o.headers = headers }
}

func WithBaseURL(url string) ClientOption {
	return func(o *ClientOptions) { o.baseURL = url }
}

// WithTracer sets the tracer; traceBodies records request and response bodies as span events.
func WithTracer(tracer trace.Tracer, traceBodies bool) ClientOption {
	return func(o *ClientOptions) {
		o.tracer = tracer
		o.traceBodies = traceBodies
	}
}

// RequestOptions holds per-request configuration.
type RequestOptions struct {
	errorHandler ResponseErrorHandler
	labels       []Label
	signer       Signer
}

// RequestOption configures a single request.
type RequestOption func(*RequestOptions)

// ResponseErrorHandler turns a response into an error, or nil when it is a success.
type ResponseErrorHandler func(statusCode int, body []byte) error

func WithResponseErrorHandler(h ResponseErrorHandler) RequestOption {
	return func(o *RequestOptions) { o.errorHandler = h }
}

// WithSigner signs the request after the body and query are final.
func WithSigner(s Signer) RequestOption {
	return func(o *RequestOptions) { o.signer = s }
}

// Label is a metric attribute.
type Label struct {
	Key   string
	Value string
}

func NewLabel(key, value string) Label {
	return Label{Key: key, Value: value}
}

func WithLabels(labels ...Label) RequestOption {
	return func(o *RequestOptions) { o.labels = append(o.labels, labels...) }
}
