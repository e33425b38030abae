package server

import (
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"mercator-hq/throttle/pkg/config"
	"mercator-hq/throttle/pkg/limits/policy"
	"mercator-hq/throttle/pkg/proxy/middleware"
)

// route sends requests under prefix through the admission check of class.
type route struct {
	prefix  string
	class   policy.EndpointClass
	handler http.Handler
}

// routeTable dispatches on the longest matching path prefix. Requests that
// match no route go to fallback unchecked.
type routeTable struct {
	routes   []route
	fallback http.Handler
}

// newRouteTable builds the table. Admission.For panics for an unknown class,
// so a bad route table fails here.
func newRouteTable(cfgs []config.RouteConfig, admission *middleware.Admission, next http.Handler) *routeTable {
	t := &routeTable{fallback: next}
	for _, rc := range cfgs {
		class := policy.EndpointClass(rc.Class)
		t.routes = append(t.routes, route{
			prefix:  rc.PathPrefix,
			class:   class,
			handler: admission.For(class)(next),
		})
	}
	sort.SliceStable(t.routes, func(i, j int) bool {
		return len(t.routes[i].prefix) > len(t.routes[j].prefix)
	})
	return t
}

// match returns the route for path, or nil.
func (t *routeTable) match(path string) *route {
	for i := range t.routes {
		if strings.HasPrefix(path, t.routes[i].prefix) {
			return &t.routes[i]
		}
	}
	return nil
}

func (t *routeTable) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if rt := t.match(r.URL.Path); rt != nil {
		rt.handler.ServeHTTP(w, r)
		return
	}
	t.fallback.ServeHTTP(w, r)
}

// newPublicRouter builds the gateway handler. Middleware order, outermost
// first: request id, recovery, logging, CORS, metrics, tracing, then the
// per-route admission check in front of the forwarder.
func (s *Server) newPublicRouter(forwarder http.Handler) http.Handler {
	admission := middleware.NewAdmission(s.limiter, s.identity,
		middleware.WithAdmissionLogger(s.logger),
		middleware.WithEnforcement(s.cfg.Limits.Enabled),
		middleware.WithDryRun(s.dryRun),
	)

	r := chi.NewRouter()
	r.Use(
		middleware.RequestIDMiddleware,
		middleware.RecoveryMiddleware,
		middleware.LoggingMiddleware(s.logger),
		middleware.CORSMiddleware(&s.cfg.Proxy.CORS),
		middleware.MetricsMiddleware(s.telemetry.Metrics()),
		s.telemetry.Tracer().HTTPMiddleware,
	)
	table := newRouteTable(s.cfg.Proxy.Routes, admission, forwarder)
	r.Handle("/", table)
	r.Handle("/*", table)

	return r
}
