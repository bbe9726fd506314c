// Package web serves HTTP by handing each request to a guest handler.
package web

import (
	"context"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wippyai/wasm-bridge/fetch"
	"github.com/wippyai/wasm-bridge/telemetry"
)

// RequestIDHeader carries the id assigned to every request.
const RequestIDHeader = "X-Request-Id"

// Dispatcher runs guest handlers. *host.Pool implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *fetch.Request, body io.ReadCloser) (*fetch.Response, error)
	ReadBody(ctx context.Context, resp *fetch.Response, fn func([]byte) error) error
}

// Options configures a Server.
type Options struct {
	// RequestsPerSecond limits requests globally. Zero disables the limit.
	RequestsPerSecond float64
	Burst             int

	// StaticDir is served under StaticPrefix ahead of the guest when set.
	StaticPrefix string
	StaticDir    string

	Logger *zap.Logger
}

// Server is an http.Handler in front of a Dispatcher.
type Server struct {
	d       Dispatcher
	limiter *rate.Limiter
	prefix  string
	static  http.Handler
	logger  *zap.Logger
}

// New creates a server dispatching to d.
func New(d Dispatcher, opts Options) *Server {
	s := &Server{d: d, logger: opts.Logger}
	if s.logger == nil {
		s.logger = Logger()
	}
	if opts.RequestsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), max(opts.Burst, 1))
	}
	if opts.StaticDir != "" {
		s.prefix = strings.TrimSuffix(opts.StaticPrefix, "/")
		s.static = http.StripPrefix(s.prefix, http.FileServer(http.Dir(opts.StaticDir)))
	}
	return s
}

func newRequestID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id := newRequestID()
	w.Header().Set(RequestIDHeader, id)
	log := s.logger.With(zap.String("request_id", id))

	ctx, span := telemetry.StartSpan(r.Context(), "http.request",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			telemetry.StringAttr("http.method", r.Method),
			telemetry.StringAttr("http.target", r.URL.RequestURI()),
			telemetry.StringAttr("request.id", id),
		))
	defer span.End()

	if s.limiter != nil && !s.limiter.Allow() {
		span.SetAttributes(telemetry.IntAttr("http.status_code", http.StatusTooManyRequests))
		http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	if s.static != nil && s.isStatic(r.URL.Path) {
		log.Debug("serving static file", zap.String("path", r.URL.Path))
		s.static.ServeHTTP(w, r)
		return
	}

	var body io.ReadCloser
	if r.Body != nil && r.Body != http.NoBody {
		body = r.Body
	}
	resp, err := s.d.Dispatch(ctx, toFetchRequest(r), body)
	if err != nil {
		telemetry.RecordError(span, err)
		status := writeError(w, err)
		span.SetAttributes(telemetry.IntAttr("http.status_code", status))
		log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
		return
	}

	span.SetAttributes(telemetry.IntAttr("http.status_code", resp.Status))
	if err := s.writeResponse(ctx, w, resp); err != nil {
		telemetry.RecordError(span, err)
		log.Warn("response body aborted", zap.Error(err))
		return
	}
	telemetry.SetOK(span)
	log.Debug("request served",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", resp.Status),
		zap.Duration("elapsed", time.Since(start)))
}

func (s *Server) isStatic(path string) bool {
	return path == s.prefix || strings.HasPrefix(path, s.prefix+"/")
}

// toFetchRequest converts the incoming request without its body.
func toFetchRequest(r *http.Request) *fetch.Request {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	headers := fetch.FromHTTP(r.Header)
	if !headers.Has("host") && r.Host != "" {
		headers.Set("host", r.Host)
	}
	return &fetch.Request{
		Method:     r.Method,
		URL:        scheme + "://" + r.Host + r.URL.RequestURI(),
		Headers:    headers,
		RemoteAddr: remoteAddr(r.RemoteAddr),
	}
}

// remoteAddr normalizes addr to host:port with IPv6 hosts in brackets.
func remoteAddr(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return net.JoinHostPort(host, port)
}

func (s *Server) writeResponse(ctx context.Context, w http.ResponseWriter, resp *fetch.Response) error {
	h := w.Header()
	for k, vals := range resp.Headers.ToHTTP() {
		h[k] = vals
	}
	w.WriteHeader(resp.Status)

	flusher, _ := w.(http.Flusher)
	return s.d.ReadBody(ctx, resp, func(b []byte) error {
		if _, err := w.Write(b); err != nil {
			return err
		}
		if flusher != nil && resp.Stream != nil {
			flusher.Flush()
		}
		return nil
	})
}
