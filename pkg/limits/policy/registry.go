package policy

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Registry maps endpoint classes to their LimitPolicy.
//
// The set of classes is fixed when the registry is built. Set may replace the
// policy of an existing class but never adds one, so every route resolved at
// startup stays valid for the life of the process.
type Registry struct {
	// table holds the current immutable snapshot.
	table atomic.Pointer[map[EndpointClass]LimitPolicy]

	// writeMu serialises copy-on-write updates.
	writeMu sync.Mutex
}

// NewRegistry validates every policy and returns a registry seeded with them.
// All invalid entries are reported together.
func NewRegistry(policies map[EndpointClass]LimitPolicy) (*Registry, error) {
	if len(policies) == 0 {
		return nil, fmt.Errorf("%w: no endpoint classes configured", ErrInvalidPolicy)
	}

	table := make(map[EndpointClass]LimitPolicy, len(policies))
	var errs []error
	for class, p := range policies {
		if class == "" {
			errs = append(errs, fmt.Errorf("%w: empty endpoint class name", ErrInvalidPolicy))
			continue
		}
		if err := p.Validate(); err != nil {
			errs = append(errs, &ClassError{Class: class, Err: err})
			continue
		}
		table[class] = p
	}
	if len(errs) > 0 {
		return nil, joinErrors(errs)
	}

	r := &Registry{}
	r.table.Store(&table)
	return r, nil
}

// NewDefaultRegistry returns a registry holding the built-in classes.
func NewDefaultRegistry() *Registry {
	r, err := NewRegistry(Defaults())
	if err != nil {
		panic(fmt.Sprintf("policy: built-in defaults are invalid: %v", err))
	}
	return r
}

// Get returns the policy for class. Unknown classes are an error, never a
// silent default.
func (r *Registry) Get(class EndpointClass) (LimitPolicy, error) {
	p, ok := (*r.table.Load())[class]
	if !ok {
		return LimitPolicy{}, &ClassError{Class: class, Err: ErrUnknownEndpointClass}
	}
	return p, nil
}

// Has reports whether class is registered.
func (r *Registry) Has(class EndpointClass) bool {
	_, ok := (*r.table.Load())[class]
	return ok
}

// Set replaces the policy of an existing class. The new policy applies to
// checks that start after Set returns.
func (r *Registry) Set(class EndpointClass, p LimitPolicy) error {
	if err := p.Validate(); err != nil {
		return &ClassError{Class: class, Err: err}
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	current := *r.table.Load()
	if _, ok := current[class]; !ok {
		return &ClassError{Class: class, Err: ErrUnknownEndpointClass}
	}

	next := make(map[EndpointClass]LimitPolicy, len(current))
	for k, v := range current {
		next[k] = v
	}
	next[class] = p
	r.table.Store(&next)

	return nil
}

// Classes returns the registered classes in sorted order.
func (r *Registry) Classes() []EndpointClass {
	table := *r.table.Load()
	classes := make([]EndpointClass, 0, len(table))
	for class := range table {
		classes = append(classes, class)
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i] < classes[j] })
	return classes
}

// Snapshot returns a copy of the current table.
func (r *Registry) Snapshot() map[EndpointClass]LimitPolicy {
	table := *r.table.Load()
	out := make(map[EndpointClass]LimitPolicy, len(table))
	for k, v := range table {
		out[k] = v
	}
	return out
}

// MaxWindow returns the longest window of any class.
func (r *Registry) MaxWindow() time.Duration {
	var longest time.Duration
	for _, p := range *r.table.Load() {
		if p.SustainedWindow > longest {
			longest = p.SustainedWindow
		}
		if p.BurstWindow > longest {
			longest = p.BurstWindow
		}
	}
	return longest
}

func joinErrors(errs []error) error {
	if len(errs) == 1 {
		return errs[0]
	}
	msg := fmt.Sprintf("%d invalid endpoint classes:", len(errs))
	for _, err := range errs {
		msg += "\n  - " + err.Error()
	}
	return &multiError{msg: msg, errs: errs}
}

type multiError struct {
	msg  string
	errs []error
}

func (e *multiError) Error() string   { return e.msg }
func (e *multiError) Unwrap() []error { return e.errs }
