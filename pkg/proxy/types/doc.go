// Package types defines the JSON bodies written by the gateway and the admin
// API.
//
// Every error is an ErrorResponse:
//
//	{
//	  "error": {
//	    "type": "rate_limit_exceeded",
//	    "code": "burst_limit_exceeded",
//	    "message": "Too many requests. Retry after the number of seconds in Retry-After.",
//	    "limit_type": "burst",
//	    "class": "auth",
//	    "retry_after_seconds": 7
//	  }
//	}
//
// The HTTP status follows from the type via ErrorDetail.HTTPStatusCode.
package types
