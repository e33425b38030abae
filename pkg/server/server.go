package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"mercator-hq/throttle/pkg/config"
	"mercator-hq/throttle/pkg/limits"
	"mercator-hq/throttle/pkg/limits/reaper"
	"mercator-hq/throttle/pkg/proxy"
	"mercator-hq/throttle/pkg/proxy/middleware"
	"mercator-hq/throttle/pkg/telemetry"
)

// Server runs the public gateway listener and the admin listener.
type Server struct {
	cfg       *config.Config
	limiter   *limits.Limiter
	reaper    *reaper.Reaper
	telemetry *telemetry.Telemetry
	identity  *proxy.IdentityExtractor
	logger    *slog.Logger
	dryRun    bool
	forwarder http.Handler

	publicHandler http.Handler
	adminHandler  http.Handler

	mu           sync.Mutex
	started      bool
	running      bool
	public       *http.Server
	admin        *http.Server
	publicAddr   net.Addr
	adminAddr    net.Addr
	ready        chan struct{}
	shutdownOnce sync.Once
	shutdownErr  error
}

// Option configures a Server.
type Option func(*Server)

// WithReaper enables POST /admin/v1/reap.
func WithReaper(r *reaper.Reaper) Option {
	return func(s *Server) { s.reaper = r }
}

// WithDryRun forwards requests that would be denied.
func WithDryRun(dryRun bool) Option {
	return func(s *Server) { s.dryRun = dryRun }
}

// WithLogger sets the logger for both listeners.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithUpstream replaces the forwarder built from proxy.upstream_url.
func WithUpstream(h http.Handler) Option {
	return func(s *Server) { s.forwarder = h }
}

// New builds both handlers. It fails when the upstream URL or the identity
// settings are invalid, and panics when a route names an unknown class.
func New(cfg *config.Config, limiter *limits.Limiter, tel *telemetry.Telemetry, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if limiter == nil {
		return nil, errors.New("limiter is required")
	}
	if tel == nil {
		return nil, errors.New("telemetry is required")
	}

	s := &Server{
		cfg:       cfg,
		limiter:   limiter,
		telemetry: tel,
		logger:    slog.Default().With("component", "server"),
		ready:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	identity, err := proxy.NewIdentityExtractor(&cfg.Proxy.Identity)
	if err != nil {
		return nil, fmt.Errorf("invalid identity config: %w", err)
	}
	s.identity = identity

	if s.forwarder == nil {
		collector := tel.Metrics()
		fwd, err := proxy.NewForwarder(cfg.Proxy.UpstreamURL, cfg.Proxy.UpstreamTimeout,
			proxy.WithForwarderLogger(s.logger),
			proxy.WithUpstreamErrorHook(func(r *http.Request, _ error) {
				collector.RecordUpstreamError(middleware.GetClass(r.Context()))
			}),
		)
		if err != nil {
			return nil, err
		}
		s.forwarder = fwd
	}

	tel.Health().RegisterNonCriticalCheck("store", limiter.Ping)

	s.publicHandler = s.newPublicRouter(s.forwarder)
	s.adminHandler = s.newAdminRouter()

	return s, nil
}

// PublicHandler returns the gateway handler.
func (s *Server) PublicHandler() http.Handler {
	return s.publicHandler
}

// AdminHandler returns the admin handler.
func (s *Server) AdminHandler() http.Handler {
	return s.adminHandler
}

// Start listens on both addresses and serves until ctx is done or a
// listener fails, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("server has already been started")
	}

	publicLn, err := net.Listen("tcp", s.cfg.Proxy.ListenAddress)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Proxy.ListenAddress, err)
	}

	var adminLn net.Listener
	if s.cfg.Admin.Enabled {
		adminLn, err = net.Listen("tcp", s.cfg.Admin.ListenAddress)
		if err != nil {
			publicLn.Close()
			s.mu.Unlock()
			return fmt.Errorf("failed to listen on %s: %w", s.cfg.Admin.ListenAddress, err)
		}
	}

	s.public = s.newHTTPServer(s.publicHandler)
	s.publicAddr = publicLn.Addr()
	if adminLn != nil {
		s.admin = s.newHTTPServer(s.adminHandler)
		s.adminAddr = adminLn.Addr()
	}
	s.started = true
	s.running = true
	close(s.ready)
	s.mu.Unlock()

	errChan := make(chan error, 2)
	serve := func(name string, srv *http.Server, ln net.Listener) {
		s.logger.Info("starting listener", "listener", name, "address", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("%s listener: %w", name, err)
		}
	}
	go serve("gateway", s.public, publicLn)
	if adminLn != nil {
		go serve("admin", s.admin, adminLn)
	}

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case err := <-errChan:
		_ = s.Shutdown(context.Background())
		return err
	}
}

func (s *Server) newHTTPServer(h http.Handler) *http.Server {
	pc := s.cfg.Proxy
	return &http.Server{
		Handler:        h,
		ReadTimeout:    pc.ReadTimeout,
		WriteTimeout:   pc.WriteTimeout,
		IdleTimeout:    pc.IdleTimeout,
		MaxHeaderBytes: pc.MaxHeaderBytes,
		ErrorLog:       slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
}

// Ready is closed once both listeners are bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// PublicAddr returns the bound gateway address, nil before Start.
func (s *Server) PublicAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.publicAddr
}

// AdminAddr returns the bound admin address, nil before Start or when the
// admin listener is disabled.
func (s *Server) AdminAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adminAddr
}

// IsRunning reports whether the listeners are serving.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Shutdown stops both listeners, waiting up to proxy.shutdown_timeout for
// in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		running := s.running
		s.mu.Unlock()
		if !running {
			return
		}

		s.logger.Info("initiating graceful shutdown", "timeout", s.cfg.Proxy.ShutdownTimeout.String())

		shutdownCtx := ctx
		if s.cfg.Proxy.ShutdownTimeout > 0 {
			var cancel context.CancelFunc
			shutdownCtx, cancel = context.WithTimeout(ctx, s.cfg.Proxy.ShutdownTimeout)
			defer cancel()
		}

		var errs []error
		if err := s.public.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("gateway shutdown: %w", err))
		}
		if s.admin != nil {
			if err := s.admin.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("admin shutdown: %w", err))
			}
		}
		s.shutdownErr = errors.Join(errs...)

		s.mu.Lock()
		s.running = false
		s.mu.Unlock()

		s.logger.Info("servers stopped")
	})

	return s.shutdownErr
}
