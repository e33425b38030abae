package logging

import (
	"log/slog"
	"net"
	"regexp"
	"strings"
)

// Pattern is an additional redaction rule.
type Pattern struct {
	// Name identifies the rule; a name matching a built-in replaces it.
	Name string

	// Pattern is a regular expression matched against string values.
	Pattern string

	// Replacement is the regexp replacement template.
	Replacement string
}

// Redactor redacts PII (Personally Identifiable Information) from log fields.
type Redactor struct {
	patterns map[string]*redactPattern
	order    []string
}

// redactPattern contains a compiled regex and replacement.
type redactPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
	replace     func(string) string
}

// Built-in pattern names.
const (
	PatternAPIKey      = "api_key"
	PatternEmail       = "email"
	PatternIPv4        = "ipv4"
	PatternPassword    = "password"
	PatternBearerToken = "bearer_token"
)

// NewRedactor creates a new Redactor with default and custom patterns.
// Invalid custom patterns are skipped.
func NewRedactor(customPatterns []Pattern) *Redactor {
	r := &Redactor{
		patterns: make(map[string]*redactPattern),
	}

	r.addDefaultPatterns()

	for _, p := range customPatterns {
		regex, err := regexp.Compile(p.Pattern)
		if err != nil {
			continue
		}
		r.add(&redactPattern{
			name:        p.Name,
			regex:       regex,
			replacement: p.Replacement,
		})
	}

	return r
}

func (r *Redactor) add(p *redactPattern) {
	if _, exists := r.patterns[p.name]; !exists {
		r.order = append(r.order, p.name)
	}
	r.patterns[p.name] = p
}

// addDefaultPatterns adds built-in PII redaction patterns. Bearer tokens run
// before the generic API key rule so the scheme survives.
func (r *Redactor) addDefaultPatterns() {
	r.add(&redactPattern{
		name:        PatternBearerToken,
		regex:       regexp.MustCompile(`Bearer\s+[a-zA-Z0-9\-._~+/]+=*`),
		replacement: "Bearer ***",
	})
	r.add(&redactPattern{
		name:        PatternAPIKey,
		regex:       regexp.MustCompile(`(sk-[a-zA-Z0-9]+|api[-_]?key[-_:=]\s*[a-zA-Z0-9]+)`),
		replacement: "sk-***",
	})
	r.add(&redactPattern{
		name:        PatternPassword,
		regex:       regexp.MustCompile(`(password|passwd|pwd)[:=]\s*[^\s]+`),
		replacement: "$1: ***",
	})
	r.add(&redactPattern{
		name:  PatternEmail,
		regex: regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`),
		replace: func(s string) string {
			return RedactEmail(s)
		},
	})
	r.add(&redactPattern{
		name:  PatternIPv4,
		regex: regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
		replace: func(s string) string {
			return MaskIP(s)
		},
	})
}

// RedactString redacts PII from a string value.
func (r *Redactor) RedactString(value string) string {
	if r == nil || value == "" {
		return value
	}

	redacted := value
	for _, name := range r.order {
		p := r.patterns[name]
		if p.replace != nil {
			redacted = p.regex.ReplaceAllStringFunc(redacted, p.replace)
		} else {
			redacted = p.regex.ReplaceAllString(redacted, p.replacement)
		}
	}

	return redacted
}

// ReplaceAttr is a slog.HandlerOptions.ReplaceAttr hook. Sensitive keys are
// masked entirely, IP keys keep their network prefix and other string values
// are scanned for known patterns.
func (r *Redactor) ReplaceAttr(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 {
		switch a.Key {
		case slog.TimeKey, slog.LevelKey, slog.SourceKey, slog.MessageKey:
			return a
		}
	}

	v := a.Value.Resolve()
	switch {
	case isSensitiveKey(a.Key):
		return slog.String(a.Key, redactValue(v.String()))
	case isIPKey(a.Key):
		return slog.String(a.Key, MaskIP(v.String()))
	}

	switch v.Kind() {
	case slog.KindString:
		return slog.String(a.Key, r.RedactString(v.String()))
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return slog.String(a.Key, r.RedactString(err.Error()))
		}
	}
	return a
}

// isSensitiveKey checks if a key name indicates sensitive data.
func isSensitiveKey(key string) bool {
	lowerKey := strings.ToLower(key)

	sensitiveKeys := []string{
		"password", "passwd", "pwd",
		"secret", "token", "api_key", "apikey",
		"authorization",
		"private_key", "privatekey",
	}

	for _, sensitive := range sensitiveKeys {
		if strings.Contains(lowerKey, sensitive) {
			return true
		}
	}

	return false
}

// isIPKey checks if a key holds a client address.
func isIPKey(key string) bool {
	switch strings.ToLower(key) {
	case "ip", "client_ip", "remote_addr", "remote_ip", "identifier":
		return true
	}
	return false
}

// redactValue masks a sensitive value, keeping a short prefix for debugging.
func redactValue(v string) string {
	if v == "" {
		return ""
	}
	if len(v) <= 4 {
		return "***"
	}
	return v[:4] + "***"
}

// MaskIP replaces the host part of an address with its network: IPv4 keeps
// the /24 and IPv6 keeps the /48. A port, if present, is dropped. Values that
// are not IP addresses are returned unchanged.
func MaskIP(addr string) string {
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return addr
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.Mask(net.CIDRMask(24, 32)).String() + "/24"
	}
	return ip.Mask(net.CIDRMask(48, 128)).String() + "/48"
}

// RedactEmail redacts an email address partially (shows first char and domain).
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return email
	}

	username := parts[0]
	domain := parts[1]

	if len(username) == 0 {
		return "***@" + domain
	}

	return string(username[0]) + "***@" + domain
}
