// Package proxy implements the request path of the gateway: caller
// identification, forwarding admitted requests to the protected upstream,
// and JSON error responses.
//
// # Identity
//
// IdentityExtractor attributes each request to a client IP and an optional
// user id. The IP is the connection peer unless forwarded headers are
// trusted and the peer is in a trusted proxy range:
//
//	proxy:
//	  identity:
//	    user_header: X-User-ID
//	    trust_user_header: true
//	    trust_forwarded_headers: true
//	    trusted_proxies: ["10.0.0.0/8"]
//
// X-Forwarded-For is then walked from the right and the first address
// outside the trusted ranges is the client. The user header is read only
// from trusted proxies; a client talking to the gateway directly is keyed
// by its IP whatever it sends.
//
// # Forwarding
//
// Forwarder is an httputil.ReverseProxy for the configured upstream. It
// keeps the original Host, sets X-Forwarded-* and injects the trace context.
// A failed round trip becomes a 502 (or 504 on timeout) with a JSON body;
// the rate limit headers already set on the response are kept.
//
// # Errors
//
// Every error the gateway itself writes has the same shape:
//
//	{
//	  "error": {
//	    "message": "The upstream service is unavailable.",
//	    "type": "bad_gateway",
//	    "code": "upstream_error"
//	  }
//	}
//
// See the types package for the error types and codes.
package proxy
