// Package forwarder relays a caller's request to a vendor API and the vendor's
// response back to the caller, either streamed chunk by chunk or buffered.
package forwarder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/nulzo/bot-router/internal/httpclient"
	"github.com/nulzo/bot-router/internal/platform/metrics"
	routerotel "github.com/nulzo/bot-router/internal/platform/otel"
	"github.com/nulzo/bot-router/internal/vendor"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	// ErrUpstream covers network failures talking to the vendor.
	ErrUpstream = errors.New("upstream error")
	// ErrUpstreamTimeout means the vendor went quiet for longer than the idle timeout.
	ErrUpstreamTimeout = fmt.Errorf("%w: idle timeout", ErrUpstream)

	errIdle = errors.New("idle timeout elapsed")
)

const (
	// DefaultIdleTimeout bounds the silence between two upstream reads.
	DefaultIdleTimeout = 120 * time.Second

	bufferSize = 32 * 1024

	modeStream   = "stream"
	modeBuffered = "buffered"
)

var bufferPool = sync.Pool{
	New: func() any {
		buf := make([]byte, bufferSize)
		return &buf
	},
}

// Request is the caller side of a forward. Path is relative to the vendor's
// base path.
type Request struct {
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     []byte
}

// Response is a fully buffered vendor response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

type Forwarder struct {
	client      httpclient.HTTPClient
	logger      *zap.Logger
	idleTimeout time.Duration
	tracer      trace.Tracer
}

type Option func(*Forwarder)

func WithIdleTimeout(d time.Duration) Option {
	return func(f *Forwarder) {
		if d > 0 {
			f.idleTimeout = d
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(f *Forwarder) {
		f.tracer = t
	}
}

func New(client httpclient.HTTPClient, logger *zap.Logger, opts ...Option) *Forwarder {
	f := &Forwarder{
		client:      client,
		logger:      logger,
		idleTimeout: DefaultIdleTimeout,
		tracer:      routerotel.Tracer(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// IdleTimeout reports the configured idle timeout.
func (f *Forwarder) IdleTimeout() time.Duration {
	return f.idleTimeout
}

// Stream forwards req and relays the response to w as it arrives, flushing
// after every upstream read. It returns the vendor status code, or 0 when no
// response was received. A non-2xx vendor status is relayed, not an error.
// Nothing is written to w until the vendor sends its first body bytes.
func (f *Forwarder) Stream(ctx context.Context, w http.ResponseWriter, vc vendor.Config, secret string, req *Request) (int, error) {
	ctx, span := f.tracer.Start(ctx, "forwarder.Stream", trace.WithAttributes(
		attribute.String("vendor", vc.ID),
		attribute.String("http.method", req.Method),
		attribute.String("upstream.host", vc.Host),
	))
	defer span.End()

	start := time.Now()
	status, err := f.stream(ctx, w, vc, secret, req)
	f.observe(span, vc.ID, modeStream, status, start, err)
	return status, err
}

func (f *Forwarder) stream(ctx context.Context, w http.ResponseWriter, vc vendor.Config, secret string, req *Request) (int, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	timer := time.AfterFunc(f.idleTimeout, func() { cancel(errIdle) })
	defer timer.Stop()

	upstreamReq, err := f.build(ctx, vc, secret, req)
	if err != nil {
		return 0, err
	}

	resp, err := f.client.Do(upstreamReq)
	if err != nil {
		return 0, f.classify(ctx, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	timer.Reset(f.idleTimeout)

	flusher, canFlush := w.(http.Flusher)
	buf := bufferPool.Get().(*[]byte)
	defer bufferPool.Put(buf)

	// headers go out with the first bytes, so a failure before that leaves
	// the caller's response untouched
	committed := false
	commit := func() {
		if committed {
			return
		}
		committed = true
		copyResponseHeaders(w.Header(), resp.Header)
		if isEventStream(resp.Header) {
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.Header().Set("X-Accel-Buffering", "no")
		}
		w.WriteHeader(resp.StatusCode)
	}

	for {
		n, readErr := resp.Body.Read(*buf)
		if n > 0 {
			timer.Reset(f.idleTimeout)
			commit()
			if _, writeErr := w.Write((*buf)[:n]); writeErr != nil {
				return resp.StatusCode, fmt.Errorf("write to caller: %w", writeErr)
			}
			if canFlush {
				flusher.Flush()
			}
		}
		if readErr == io.EOF {
			commit()
			return resp.StatusCode, nil
		}
		if readErr != nil {
			return resp.StatusCode, f.classify(ctx, readErr)
		}
	}
}

// Do forwards req and buffers the whole response.
func (f *Forwarder) Do(ctx context.Context, vc vendor.Config, secret string, req *Request) (*Response, error) {
	ctx, span := f.tracer.Start(ctx, "forwarder.Do", trace.WithAttributes(
		attribute.String("vendor", vc.ID),
		attribute.String("http.method", req.Method),
		attribute.String("upstream.host", vc.Host),
	))
	defer span.End()

	start := time.Now()
	resp, err := f.do(ctx, vc, secret, req)
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	f.observe(span, vc.ID, modeBuffered, status, start, err)
	return resp, err
}

func (f *Forwarder) do(ctx context.Context, vc vendor.Config, secret string, req *Request) (*Response, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	timer := time.AfterFunc(f.idleTimeout, func() { cancel(errIdle) })
	defer timer.Stop()

	upstreamReq, err := f.build(ctx, vc, secret, req)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(upstreamReq)
	if err != nil {
		return nil, f.classify(ctx, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	timer.Reset(f.idleTimeout)

	body, err := io.ReadAll(&idleReader{r: resp.Body, timer: timer, d: f.idleTimeout})
	if err != nil {
		return nil, f.classify(ctx, err)
	}

	header := make(http.Header, len(resp.Header))
	copyResponseHeaders(header, resp.Header)
	header.Del("Content-Length")

	return &Response{StatusCode: resp.StatusCode, Header: header, Body: body}, nil
}

// build constructs the outbound request. It performs no I/O.
func (f *Forwarder) build(ctx context.Context, vc vendor.Config, secret string, req *Request) (*http.Request, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	upstreamReq, err := http.NewRequestWithContext(ctx, method, vc.URL(req.Path, req.RawQuery), body)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrUpstream, err)
	}

	upstreamReq.Header = RewriteHeaders(req.Header, vc, secret)
	upstreamReq.Host = vc.Host
	if len(req.Body) > 0 {
		upstreamReq.ContentLength = int64(len(req.Body))
	}
	return upstreamReq, nil
}

func (f *Forwarder) classify(ctx context.Context, err error) error {
	if errors.Is(context.Cause(ctx), errIdle) {
		return fmt.Errorf("%w after %s", ErrUpstreamTimeout, f.idleTimeout)
	}
	return fmt.Errorf("%w: %v", ErrUpstream, err)
}

func (f *Forwarder) observe(span trace.Span, vendorID, mode string, status int, start time.Time, err error) {
	elapsed := time.Since(start)
	metrics.UpstreamRequests.WithLabelValues(vendorID, mode, metrics.StatusLabel(status)).Inc()
	metrics.UpstreamLatency.WithLabelValues(vendorID, mode).Observe(elapsed.Seconds())

	span.SetAttributes(attribute.Int("http.status_code", status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		f.logger.Debug("Upstream forward failed",
			zap.String("vendor", vendorID),
			zap.String("mode", mode),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
	}
}

// idleReader pushes the idle deadline forward on every successful read.
type idleReader struct {
	r     io.Reader
	timer *time.Timer
	d     time.Duration
}

func (i *idleReader) Read(p []byte) (int, error) {
	n, err := i.r.Read(p)
	if n > 0 {
		i.timer.Reset(i.d)
	}
	return n, err
}
