package proxy

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"mercator-hq/throttle/pkg/telemetry/tracing"
)

// Forwarder relays admitted requests to the upstream service.
type Forwarder struct {
	target *url.URL
	proxy  *httputil.ReverseProxy
	logger *slog.Logger

	// onError is called with the request and error for every failed round
	// trip, after the error response is written.
	onError func(r *http.Request, err error)
}

// ForwarderOption configures a Forwarder.
type ForwarderOption func(*Forwarder)

// WithForwarderLogger sets the logger for upstream errors.
func WithForwarderLogger(logger *slog.Logger) ForwarderOption {
	return func(f *Forwarder) { f.logger = logger }
}

// WithUpstreamErrorHook registers a callback for failed round trips.
func WithUpstreamErrorHook(fn func(r *http.Request, err error)) ForwarderOption {
	return func(f *Forwarder) { f.onError = fn }
}

// WithTransport replaces the upstream transport.
func WithTransport(rt http.RoundTripper) ForwarderOption {
	return func(f *Forwarder) { f.proxy.Transport = rt }
}

// NewForwarder creates a Forwarder for upstreamURL. responseTimeout bounds
// the wait for upstream response headers; zero means no limit.
func NewForwarder(upstreamURL string, responseTimeout time.Duration, opts ...ForwarderOption) (*Forwarder, error) {
	target, err := url.Parse(upstreamURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, fmt.Errorf("upstream URL must be http or https, got %q", target.Scheme)
	}
	if target.Host == "" {
		return nil, fmt.Errorf("upstream URL has no host")
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = responseTimeout
	transport.DialContext = (&net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext

	f := &Forwarder{
		target: target,
		logger: slog.Default().With("component", "proxy.forwarder"),
	}
	f.proxy = &httputil.ReverseProxy{
		Rewrite:      f.rewrite,
		Transport:    transport,
		ErrorHandler: f.handleError,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f, nil
}

// ServeHTTP forwards r upstream.
func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.proxy.ServeHTTP(w, r)
}

// Target returns the upstream URL.
func (f *Forwarder) Target() *url.URL {
	return f.target
}

func (f *Forwarder) rewrite(pr *httputil.ProxyRequest) {
	pr.SetURL(f.target)
	pr.SetXForwarded()
	pr.Out.Host = pr.In.Host
	tracing.Inject(pr.In.Context(), pr.Out.Header)
}

func (f *Forwarder) handleError(w http.ResponseWriter, r *http.Request, err error) {
	f.logger.WarnContext(r.Context(), "upstream request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"upstream", f.target.Host,
		"error", err,
	)

	_ = WriteErrorResponse(w, HandleUpstreamError(err))

	if f.onError != nil {
		f.onError(r, err)
	}
}
