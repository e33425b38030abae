package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// ErrNotFound is returned when a provider has no value for a secret.
var ErrNotFound = errors.New("secret not found")

// secretRefRegex matches ${secret:name} patterns in configuration.
var secretRefRegex = regexp.MustCompile(`\$\{secret:([^}]+)\}`)

// Manager tries its providers in order; the first one returning a value wins.
type Manager struct {
	providers []SecretProvider
	logger    *slog.Logger
}

// NewManager creates a new secret manager.
func NewManager(logger *slog.Logger, providers ...SecretProvider) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{providers: providers, logger: logger}
}

// GetSecret retrieves a secret from the first provider that has it.
func (m *Manager) GetSecret(ctx context.Context, name string) (string, error) {
	var errs []error
	for _, provider := range m.providers {
		value, err := provider.GetSecret(ctx, name)
		if err != nil {
			m.logger.Debug("provider failed to get secret",
				"provider", provider.Provider(),
				"name", redactSecretName(name),
				"error", err,
			)
			errs = append(errs, fmt.Errorf("%s: %w", provider.Provider(), err))
			continue
		}
		return value, nil
	}

	if len(errs) == 0 {
		return "", fmt.Errorf("%w: %q (no providers configured)", ErrNotFound, name)
	}
	return "", fmt.Errorf("failed to get secret %q: %w", name, errors.Join(errs...))
}

// ResolveReferences replaces ${secret:name} patterns with secret values.
// Strings without references are returned unchanged. On failure the
// unresolved references are left in the output and an error is returned.
func (m *Manager) ResolveReferences(ctx context.Context, input string) (string, error) {
	var failures []string

	output := secretRefRegex.ReplaceAllStringFunc(input, func(match string) string {
		name := secretRefRegex.FindStringSubmatch(match)[1]
		value, err := m.GetSecret(ctx, name)
		if err != nil {
			failures = append(failures, err.Error())
			return match
		}
		return value
	})

	if len(failures) > 0 {
		return output, fmt.Errorf("failed to resolve secret references: %s", strings.Join(failures, "; "))
	}
	return output, nil
}

// ResolveAll resolves every field pointer in place and reports all failures.
func (m *Manager) ResolveAll(ctx context.Context, fields map[string]*string) error {
	var errs []error
	for name, ptr := range fields {
		if ptr == nil || !HasReference(*ptr) {
			continue
		}
		resolved, err := m.ResolveReferences(ctx, *ptr)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		*ptr = resolved
	}
	return errors.Join(errs...)
}

// HasReference reports whether s contains a ${secret:name} reference.
func HasReference(s string) bool {
	return secretRefRegex.MatchString(s)
}

// redactSecretName keeps the first characters of a secret name for logs.
func redactSecretName(name string) string {
	if len(name) <= 4 {
		return "***"
	}
	return name[:4] + "***"
}
