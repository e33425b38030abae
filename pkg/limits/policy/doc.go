// Package policy holds the endpoint-class limit table.
//
// Every protected route belongs to exactly one EndpointClass. Each class maps
// to a LimitPolicy made of two sliding windows: a short, tight burst window
// and a longer, looser sustained window. The Registry is seeded once at
// startup and only changes through an explicit admin override.
//
// # Reads
//
// Registry reads never take a lock. The table is published as an immutable
// snapshot behind an atomic pointer, and Set swaps in a new copy. A check
// that is already running keeps the snapshot it started with.
//
// # Validation
//
// Policies are checked when they enter the registry, both at load time and
// on override:
//
//   - windows must be positive
//   - limits must not be negative
//   - the burst window must not exceed the sustained window
//   - the burst limit must not exceed the sustained limit
package policy
