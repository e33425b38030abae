package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
)

// useConfig writes a config file into a temp dir, points --config at it and
// restores the previous value when the test ends.
func useConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	prev := cfgFile
	cfgFile = path
	t.Cleanup(func() { cfgFile = prev })
	return path
}

// useSQLiteConfig configures a SQLite store in a temp dir.
func useSQLiteConfig(t *testing.T) {
	t.Helper()
	db := filepath.Join(t.TempDir(), "windows.db")
	useConfig(t, fmt.Sprintf(`
proxy:
  upstream_url: "http://127.0.0.1:1"
  routes:
    - path_prefix: "/api/auth/"
      class: "auth"
    - path_prefix: "/api/"
      class: "api"
limits:
  store:
    backend: "sqlite"
    sqlite:
      path: %q
`, db))
}

// newTestCmd returns a command whose output is captured.
func newTestCmd() (*cobra.Command, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	cmd := &cobra.Command{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	return cmd, buf
}
