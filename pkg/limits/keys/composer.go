// Package keys builds the store keys that identify one counting bucket.
//
// A bucket is the triple (identifier, endpoint class, optional user id). The
// composite form is
//
//	{identifier}:{class}[:user:{userId}]
//
// and each bucket owns two store keys, one per tier:
//
//	{namespace}:sustained:{composite}
//	{namespace}:burst:{composite}
//
// The characters '%' and ':' are percent-escaped inside the identifier and
// the user id, so an IPv6 address or a crafted user id cannot forge a
// delimiter and land in someone else's bucket.
package keys

import (
	"errors"
	"fmt"
	"strings"

	"mercator-hq/throttle/pkg/limits/policy"
)

// DefaultNamespace prefixes every key written by the limiter.
const DefaultNamespace = "throttle"

const userSegment = "user"

var (
	// ErrMissingEndpointClass is returned when no endpoint class is given.
	ErrMissingEndpointClass = errors.New("endpoint class is required")

	// ErrMissingIdentifier is returned when no caller identifier is given.
	ErrMissingIdentifier = errors.New("caller identifier is required")

	// ErrForeignKey is returned by Parse for keys outside the namespace.
	ErrForeignKey = errors.New("key does not belong to namespace")
)

var escaper = strings.NewReplacer("%", "%25", ":", "%3A")
var unescaper = strings.NewReplacer("%3A", ":", "%25", "%")

// Keys is the pair of store keys for one bucket.
type Keys struct {
	// Sustained counts entries for the long window.
	Sustained string

	// Burst counts entries for the short window.
	Burst string
}

// For returns the key of the given tier.
func (k Keys) For(tier policy.Tier) string {
	if tier == policy.TierBurst {
		return k.Burst
	}
	return k.Sustained
}

// Composer turns caller identity into store keys.
type Composer struct {
	namespace string
}

// NewComposer returns a Composer writing under namespace. An empty namespace
// selects DefaultNamespace.
func NewComposer(namespace string) *Composer {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Composer{namespace: namespace}
}

// Namespace returns the key prefix, without a trailing colon.
func (c *Composer) Namespace() string {
	return c.namespace
}

// Compose returns the keys for the bucket. The same inputs always produce
// the same keys.
func (c *Composer) Compose(identifier string, class policy.EndpointClass, userID string) (Keys, error) {
	if class == "" {
		return Keys{}, ErrMissingEndpointClass
	}
	if identifier == "" {
		return Keys{}, ErrMissingIdentifier
	}

	composite := Composite(identifier, class, userID)
	return Keys{
		Sustained: c.namespace + ":" + string(policy.TierSustained) + ":" + composite,
		Burst:     c.namespace + ":" + string(policy.TierBurst) + ":" + composite,
	}, nil
}

// MustCompose is Compose for wiring code where bad input is a bug.
func (c *Composer) MustCompose(identifier string, class policy.EndpointClass, userID string) Keys {
	k, err := c.Compose(identifier, class, userID)
	if err != nil {
		panic(fmt.Sprintf("keys: %v", err))
	}
	return k
}

// Composite returns the namespace-free form of a bucket.
func Composite(identifier string, class policy.EndpointClass, userID string) string {
	var sb strings.Builder
	sb.WriteString(escaper.Replace(identifier))
	sb.WriteByte(':')
	sb.WriteString(escaper.Replace(string(class)))
	if userID != "" {
		sb.WriteByte(':')
		sb.WriteString(userSegment)
		sb.WriteByte(':')
		sb.WriteString(escaper.Replace(userID))
	}
	return sb.String()
}

// Bucket is a parsed store key.
type Bucket struct {
	Tier       policy.Tier
	Identifier string
	Class      policy.EndpointClass
	UserID     string
}

// Parse reverses Compose for one store key. The reaper uses it to find the
// window that applies to a key it found while scanning.
func (c *Composer) Parse(key string) (Bucket, error) {
	rest, ok := strings.CutPrefix(key, c.namespace+":")
	if !ok {
		return Bucket{}, ErrForeignKey
	}

	parts := strings.Split(rest, ":")
	if len(parts) != 3 && len(parts) != 5 {
		return Bucket{}, fmt.Errorf("malformed key %q", key)
	}

	tier := policy.Tier(parts[0])
	if tier != policy.TierBurst && tier != policy.TierSustained {
		return Bucket{}, fmt.Errorf("malformed key %q: unknown tier %q", key, parts[0])
	}

	b := Bucket{
		Tier:       tier,
		Identifier: unescaper.Replace(parts[1]),
		Class:      policy.EndpointClass(unescaper.Replace(parts[2])),
	}
	if len(parts) == 5 {
		if parts[3] != userSegment {
			return Bucket{}, fmt.Errorf("malformed key %q", key)
		}
		b.UserID = unescaper.Replace(parts[4])
	}
	return b, nil
}
