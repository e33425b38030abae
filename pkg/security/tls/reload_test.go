package tls

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestNewCertificateReloader_InvalidFiles(t *testing.T) {
	if _, err := NewCertificateReloader("nonexistent.crt", "nonexistent.key", nil); err == nil {
		t.Fatal("NewCertificateReloader() should fail with nonexistent files")
	}
}

func TestNewCertificateReloader_Expired(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	certFile, keyFile := writeTestCert(t, dir, "old", "old", now.Add(-48*time.Hour), now.Add(-24*time.Hour))

	if _, err := NewCertificateReloader(certFile, keyFile, nil); err == nil {
		t.Fatal("NewCertificateReloader() should reject an expired certificate")
	}
}

func TestCertificateReloader_ReloadOnFileChange(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := writeValidCert(t, dir, "client", "first")

	reloader, err := NewCertificateReloader(certFile, keyFile, nil)
	if err != nil {
		t.Fatalf("NewCertificateReloader() error = %v", err)
	}
	defer reloader.Close()
	reloader.reloaded = make(chan error, 16)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reloader.Start(ctx)

	// Rotate by writing a new pair elsewhere and renaming it into place.
	staging := t.TempDir()
	newCert, newKey := writeValidCert(t, staging, "client", "second")
	if err := os.Rename(newKey, keyFile); err != nil {
		t.Fatalf("Rename key: %v", err)
	}
	if err := os.Rename(newCert, certFile); err != nil {
		t.Fatalf("Rename cert: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		cert := reloader.GetCertificate()
		if leafCN(t, cert.Certificate[0]) == "second" {
			return
		}
		select {
		case <-reloader.reloaded:
		case <-deadline:
			t.Fatal("certificate was not reloaded")
		}
	}
}

func TestCertificateReloader_KeepsPreviousOnBadReload(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := writeValidCert(t, dir, "client", "original")

	reloader, err := NewCertificateReloader(certFile, keyFile, nil)
	if err != nil {
		t.Fatalf("NewCertificateReloader() error = %v", err)
	}
	defer reloader.Close()

	if err := os.WriteFile(certFile, []byte("garbage"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := reloader.reload(); err == nil {
		t.Fatal("reload() should fail on a corrupt certificate")
	}

	if got := reloader.Leaf().Subject; got != "original" {
		t.Errorf("certificate CN = %q, want original", got)
	}
}

func TestCertificateReloader_IgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := writeValidCert(t, dir, "client", "client")

	reloader, err := NewCertificateReloader(certFile, keyFile, nil)
	if err != nil {
		t.Fatalf("NewCertificateReloader() error = %v", err)
	}
	defer reloader.Close()
	reloader.reloaded = make(chan error, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reloader.Start(ctx)

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case <-reloader.reloaded:
		t.Error("reload triggered by an unrelated file")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestCertificateReloader_ConcurrentAccess(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := writeValidCert(t, dir, "client", "client")

	reloader, err := NewCertificateReloader(certFile, keyFile, nil)
	if err != nil {
		t.Fatalf("NewCertificateReloader() error = %v", err)
	}
	defer reloader.Close()

	get := reloader.GetClientCertificateFunc()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if c, _ := get(nil); c == nil {
					t.Error("GetClientCertificate returned nil")
					return
				}
			}
		}()
		go func() {
			defer wg.Done()
			_ = reloader.reload()
		}()
	}
	wg.Wait()
}

func TestCertificateReloader_CloseIdempotent(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := writeValidCert(t, dir, "client", "client")

	reloader, err := NewCertificateReloader(certFile, keyFile, nil)
	if err != nil {
		t.Fatalf("NewCertificateReloader() error = %v", err)
	}
	if err := reloader.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := reloader.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
