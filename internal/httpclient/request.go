package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Request is a fluent request builder.
type Request interface {
	SetBody(body any) Request
	SetHeader(key, value string) Request
	SetQueryParam(key, value string) Request
	SetResult(result any) Request

	Get(ctx context.Context, path string) (*Response, error)
	Post(ctx context.Context, path string) (*Response, error)
	Delete(ctx context.Context, path string) (*Response, error)
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	body       []byte
}

func (r *Response) Body() []byte   { return r.body }
func (r *Response) String() string { return string(r.body) }
func (r *Response) IsError() bool  { return r.StatusCode >= 400 }

type requestBuilder struct {
	client  *instrumentedClient
	opts    *RequestOptions
	headers map[string]string
	query   url.Values
	body    any
	result  any
}

func (r *requestBuilder) SetBody(body any) Request {
	r.body = body
	return r
}

func (r *requestBuilder) SetHeader(key, value string) Request {
	r.headers[key] = value
	return r
}

func (r *requestBuilder) SetQueryParam(key, value string) Request {
	if r.query == nil {
		r.query = url.Values{}
	}
	r.query.Set(key, value)
	return r
}

func (r *requestBuilder) SetResult(result any) Request {
	r.result = result
	return r
}

func (r *requestBuilder) Get(ctx context.Context, path string) (*Response, error) {
	return r.execute(ctx, http.MethodGet, path)
}

func (r *requestBuilder) Post(ctx context.Context, path string) (*Response, error) {
	return r.execute(ctx, http.MethodPost, path)
}

func (r *requestBuilder) Delete(ctx context.Context, path string) (*Response, error) {
	return r.execute(ctx, http.MethodDelete, path)
}

func (r *requestBuilder) encodeBody() ([]byte, error) {
	switch b := r.body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			return nil, err
		}
		if _, ok := r.headers["Content-Type"]; !ok {
			r.headers["Content-Type"] = "application/json"
		}
		return raw, nil
	}
}

// execute sends the request. Query params are encoded in sorted order so
// signers see a deterministic URL.
func (r *requestBuilder) execute(ctx context.Context, method, path string) (*Response, error) {
	c := r.client
	ctx, span := c.tracer.Start(ctx, "http.request", trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.path", path),
		attribute.String("provider", c.provider),
	))
	defer span.End()
	start := time.Now()

	fullURL := path
	if c.baseURL != "" && !strings.HasPrefix(path, "http") {
		fullURL = strings.TrimSuffix(c.baseURL, "/") + "/" + strings.TrimPrefix(path, "/")
	}
	if len(r.query) > 0 {
		sep := "?"
		if strings.Contains(fullURL, "?") {
			sep = "&"
		}
		fullURL += sep + r.query.Encode()
	}

	body, err := r.encodeBody()
	if err != nil {
		return nil, r.fail(ctx, span, start, fmt.Errorf("marshal body: %w", err))
	}
	if c.traceBodies && len(body) > 0 {
		span.AddEvent("request.body", trace.WithAttributes(attribute.String("body", string(body))))
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bytes.NewReader(body))
	if err != nil {
		return nil, r.fail(ctx, span, start, fmt.Errorf("build request: %w", err))
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	if r.opts.signer != nil {
		if err := r.opts.signer.Sign(req, body); err != nil {
			return nil, r.fail(ctx, span, start, fmt.Errorf("sign request: %w", err))
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, r.fail(ctx, span, start, err)
	}
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, r.fail(ctx, span, start, fmt.Errorf("read body: %w", err))
	}

	out := &Response{StatusCode: resp.StatusCode, Header: resp.Header, body: raw}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if c.traceBodies {
		span.AddEvent("response.body", trace.WithAttributes(attribute.String("body", string(raw))))
	}

	if r.opts.errorHandler != nil {
		if herr := r.opts.errorHandler(resp.StatusCode, raw); herr != nil {
			span.SetStatus(codes.Error, herr.Error())
			r.record(ctx, start, false)
			return out, herr
		}
	}

	if r.result != nil && len(raw) > 0 && !out.IsError() {
		if err := json.Unmarshal(raw, r.result); err != nil {
			return out, r.fail(ctx, span, start, fmt.Errorf("decode response: %w", err))
		}
	}

	r.record(ctx, start, !out.IsError())
	return out, nil
}

func (r *requestBuilder) fail(ctx context.Context, span trace.Span, start time.Time, err error) error {
	span.RecordError(err)
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		span.SetAttributes(attribute.Bool("request.timeout", true))
	}
	span.SetStatus(codes.Error, err.Error())
	r.record(ctx, start, false)
	return err
}

func (r *requestBuilder) record(ctx context.Context, start time.Time, success bool) {
	attrs := []attribute.KeyValue{
		attribute.String("provider", r.client.provider),
		attribute.Bool("success", success),
	}
	for _, l := range r.opts.labels {
		attrs = append(attrs, attribute.String(l.Key, l.Value))
	}
	set := metric.WithAttributes(attrs...)
	r.client.requests.Add(ctx, 1, set)
	r.client.latency.Record(ctx, float64(time.Since(start).Microseconds())/1000.0, set)
}
