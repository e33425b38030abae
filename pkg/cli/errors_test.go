package cli

import (
	"errors"
	"fmt"
	"testing"
)

func TestConfigError(t *testing.T) {
	tests := []struct {
		name string
		err  *ConfigError
		want string
	}{
		{
			name: "with field",
			err:  NewConfigError("limits.store.backend", "unknown backend \"etcd\""),
			want: "config error in limits.store.backend: unknown backend \"etcd\"",
		},
		{
			name: "without field",
			err:  NewConfigError("", "failed to load config"),
			want: "config error: failed to load config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCommandErrorUnwrap(t *testing.T) {
	underlyingErr := errors.New("store unavailable")
	err := NewCommandError("reap", underlyingErr)

	if got := err.Error(); got != "command reap failed: store unavailable" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, underlyingErr) {
		t.Error("errors.Is() should work with CommandError.Unwrap()")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"plain", errors.New("boom"), ExitFailure},
		{"command", NewCommandError("run", errors.New("boom")), ExitFailure},
		{"config", NewConfigError("proxy", "bad"), ExitConfig},
		{"wrapped config", fmt.Errorf("load: %w", NewConfigError("proxy", "bad")), ExitConfig},
		{"exit error", &ExitError{Code: ExitLimited}, ExitLimited},
		{"command wrapping exit", NewCommandError("status", &ExitError{Code: 7}), 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSilent(t *testing.T) {
	if !Silent(&ExitError{Code: ExitLimited}) {
		t.Error("ExitError should be silent")
	}
	if Silent(errors.New("boom")) {
		t.Error("plain errors should not be silent")
	}
}
