// Package logging builds the process *slog.Logger.
//
// New picks a JSON or text handler and wraps it twice: the redactor runs as
// the handler's ReplaceAttr, and a context handler copies request fields
// (request_id, client_ip, user, class, trace_id, span_id) from the context
// of every *Context call. Middleware stores those fields with WithRequestID,
// WithClientIP, WithUser and WithEndpointClass.
//
//	logger, err := logging.New(logging.Config{Level: "info", Format: "json", RedactPII: true})
//	log := logger.Slog()
//
//	ctx := logging.WithEndpointClass(logging.WithClientIP(ctx, "203.0.113.42"), "auth")
//	log.WarnContext(ctx, "request denied", "limit_type", "burst")
//	// {"level":"WARN","msg":"request denied","limit_type":"burst","client_ip":"203.0.113.0/24","class":"auth"}
//
// NewWithOutput writes to "stderr", "stdout" or an appended file and is
// used for the degraded-mode log, which operators often route apart from
// the request log.
//
// With RedactPII on, client IPs keep their /24 (IPv4) or /48 (IPv6),
// bearer tokens and emails are masked, and keys named like password,
// secret or token keep four characters.
package logging
