package policy

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// EndpointClass names a group of routes that share one LimitPolicy.
type EndpointClass string

// Built-in endpoint classes. Configuration may add more.
const (
	// ClassAuth covers login, signup and token endpoints.
	ClassAuth EndpointClass = "auth"

	// ClassAPI is the general-purpose class for ordinary reads.
	ClassAPI EndpointClass = "api"

	// ClassSearch covers search and other expensive fan-out queries.
	ClassSearch EndpointClass = "search"

	// ClassWrite covers mutating endpoints.
	ClassWrite EndpointClass = "write"

	// ClassAdmin covers operator endpoints exposed to end users.
	ClassAdmin EndpointClass = "admin"
)

// String returns the class name.
func (c EndpointClass) String() string {
	return string(c)
}

// Tier identifies one of the two windows of a policy.
type Tier string

const (
	// TierBurst is the short window checked first.
	TierBurst Tier = "burst"

	// TierSustained is the long window checked second.
	TierSustained Tier = "sustained"
)

// LimitPolicy is the pair of sliding-window limits applied to one class.
type LimitPolicy struct {
	// SustainedLimit is the maximum number of requests in SustainedWindow.
	SustainedLimit int64

	// SustainedWindow is the length of the long trailing window.
	SustainedWindow time.Duration

	// BurstLimit is the maximum number of requests in BurstWindow.
	BurstLimit int64

	// BurstWindow is the length of the short trailing window.
	BurstWindow time.Duration

	// Cooldown is the minimum Retry-After advertised after a denial.
	Cooldown time.Duration
}

// MinWindow is the shortest window a policy may use.
const MinWindow = time.Millisecond

// Window returns the limit and window length for a tier.
func (p LimitPolicy) Window(tier Tier) (int64, time.Duration) {
	if tier == TierBurst {
		return p.BurstLimit, p.BurstWindow
	}
	return p.SustainedLimit, p.SustainedWindow
}

// Validate reports every broken invariant of the policy.
func (p LimitPolicy) Validate() error {
	var errs []FieldError

	if p.SustainedWindow < MinWindow {
		errs = append(errs, FieldError{Field: "sustained_window", Message: fmt.Sprintf("must be at least %s", MinWindow)})
	}
	if p.BurstWindow < MinWindow {
		errs = append(errs, FieldError{Field: "burst_window", Message: fmt.Sprintf("must be at least %s", MinWindow)})
	}
	if p.SustainedLimit < 0 {
		errs = append(errs, FieldError{Field: "sustained_limit", Message: "must not be negative"})
	}
	if p.BurstLimit < 0 {
		errs = append(errs, FieldError{Field: "burst_limit", Message: "must not be negative"})
	}
	if p.Cooldown < 0 {
		errs = append(errs, FieldError{Field: "cooldown", Message: "must not be negative"})
	}
	if p.BurstWindow > p.SustainedWindow {
		errs = append(errs, FieldError{
			Field:   "burst_window",
			Message: fmt.Sprintf("burst window %s exceeds sustained window %s", p.BurstWindow, p.SustainedWindow),
		})
	}
	if p.BurstLimit > p.SustainedLimit {
		errs = append(errs, FieldError{
			Field:   "burst_limit",
			Message: fmt.Sprintf("burst limit %d exceeds sustained limit %d", p.BurstLimit, p.SustainedLimit),
		})
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

var (
	// ErrUnknownEndpointClass is returned when a class is not in the registry.
	ErrUnknownEndpointClass = errors.New("unknown endpoint class")

	// ErrInvalidPolicy is returned when a policy breaks an invariant.
	ErrInvalidPolicy = errors.New("invalid limit policy")
)

// ClassError ties a registry failure to the class that caused it.
type ClassError struct {
	Class EndpointClass
	Err   error
}

func (e *ClassError) Error() string {
	return fmt.Sprintf("endpoint class %q: %v", e.Class, e.Err)
}

func (e *ClassError) Unwrap() error {
	return e.Err
}

// FieldError is a single broken policy invariant.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError collects every FieldError of a policy.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fe.Error())
	}
	return fmt.Sprintf("%v: %s", ErrInvalidPolicy, strings.Join(parts, "; "))
}

// Unwrap makes errors.Is(err, ErrInvalidPolicy) hold.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidPolicy
}
