package main

import (
	"strings"
	"testing"

	"mercator-hq/throttle/pkg/cli"
)

func TestValidateConfig(t *testing.T) {
	useConfig(t, `
proxy:
  upstream_url: "http://127.0.0.1:9000"
  routes:
    - path_prefix: "/api/auth/"
      class: "auth"
limits:
  store:
    backend: "memory"
  policies:
    auth: {sustained_limit: 20, sustained_window_seconds: 60, burst_limit: 4, burst_window_seconds: 10, cooldown_seconds: 30}
`)

	cmd, buf := newTestCmd()
	if err := validateConfig(cmd, nil); err != nil {
		t.Fatalf("validateConfig() error = %v", err)
	}

	output := buf.String()
	for _, want := range []string{"✓ Configuration valid", "Store:     memory", "/api/auth/"} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, output)
		}
	}

	auth := tableRow(output, "auth")
	if len(auth) != 4 || auth[1] != "4/10s" || auth[2] != "20/60s" || auth[3] != "30s" {
		t.Errorf("auth row = %v, want [auth 4/10s 20/60s 30s]", auth)
	}
	if api := tableRow(output, "api"); len(api) != 4 || api[1] != "20/10s" {
		t.Errorf("api row = %v, want the built-in api policy", api)
	}
}

// tableRow returns the fields of the first line whose first field is name.
func tableRow(output, name string) []string {
	for _, line := range strings.Split(output, "\n") {
		if f := strings.Fields(line); len(f) > 0 && f[0] == name {
			return f
		}
	}
	return nil
}

func TestValidateConfig_Invalid(t *testing.T) {
	useConfig(t, `
limits:
  store:
    backend: "memory"
  policies:
    auth: {sustained_limit: 2, sustained_window_seconds: 60, burst_limit: 5, burst_window_seconds: 10}
`)

	cmd, _ := newTestCmd()
	err := validateConfig(cmd, nil)
	if err == nil {
		t.Fatal("validateConfig() should fail when burst exceeds sustained")
	}
	if cli.ExitCode(err) != cli.ExitConfig {
		t.Errorf("ExitCode() = %d, want %d", cli.ExitCode(err), cli.ExitConfig)
	}
	if !strings.Contains(err.Error(), "burst_limit") {
		t.Errorf("Expected burst_limit in error, got %v", err)
	}
}
