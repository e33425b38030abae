// Package middleware provides the HTTP middleware of the gateway: request
// IDs, structured logging, CORS, panic recovery, request metrics and rate
// limit admission.
//
// # Middleware Chain
//
// The public router chains the middleware outermost first:
//
//	RequestID -> Recovery -> Logging -> CORS -> Metrics -> Tracing -> Admission -> forwarder
//
// Admission is attached per route, so requests that match no route skip it.
//
// # Admission
//
// Admission.For returns middleware enforcing one endpoint class. The class
// is resolved when the route is registered; an unknown class panics there.
// Each request is attributed to the client IP (and user id when the user
// header is present) and checked against both tiers:
//
//	X-RateLimit-Limit: 20
//	X-RateLimit-Remaining: 0
//	X-RateLimit-Reset: 1772366410
//	X-RateLimit-Burst-Limit: 20
//	X-RateLimit-Burst-Remaining: 0
//	X-RateLimit-Burst-Reset: 1772366410
//	Retry-After: 7
//
// A denied request gets 429 with a JSON body:
//
//	{
//	  "error": {
//	    "message": "Too many requests. Retry after the number of seconds in Retry-After.",
//	    "type": "rate_limit_exceeded",
//	    "code": "burst_limit_exceeded",
//	    "limit_type": "burst",
//	    "class": "auth",
//	    "retry_after_seconds": 7
//	  }
//	}
//
// When the store is unavailable the request is forwarded with
// X-RateLimit-Degraded: true and no quota headers.
//
// # Request State
//
// Logging and Metrics sit outside the route and cannot see the class chosen
// for a request through the context they pass down. They place a mutable
// request state in the context, which Admission fills in; GetClass and
// GetDecision read it.
//
// # Logging
//
// LoggingMiddleware writes one line per request:
//
//	{
//	  "level": "WARN",
//	  "msg": "request completed",
//	  "method": "POST",
//	  "path": "/api/auth/login",
//	  "status": 429,
//	  "latency_ms": 1,
//	  "request_id": "550e8400-e29b-41d4-a716-446655440000",
//	  "class": "auth",
//	  "client_ip": "203.0.113.x",
//	  "allowed": false,
//	  "limit_type": "burst",
//	  "degraded": false
//	}
//
// Client addresses are masked by the redacting log handler.
//
// # CORS
//
// CORSMiddleware always exposes the rate limit headers so browser clients
// can back off.
package middleware
