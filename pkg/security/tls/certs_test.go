package tls

import (
	"crypto/tls"
	"testing"
	"time"
)

func TestInspect(t *testing.T) {
	if _, err := Inspect(nil); err == nil {
		t.Error("Inspect(nil) should fail")
	}
	if _, err := Inspect(&tls.Certificate{}); err == nil {
		t.Error("Inspect() of an empty chain should fail")
	}
	if _, err := Inspect(&tls.Certificate{Certificate: [][]byte{[]byte("garbage")}}); err == nil {
		t.Error("Inspect() of an unparseable leaf should fail")
	}

	certFile, keyFile := writeValidCert(t, t.TempDir(), "client", "throttle-01")
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		t.Fatal(err)
	}
	leaf, err := Inspect(&cert)
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	if leaf.Subject != "throttle-01" || leaf.Issuer != "throttle-01" {
		t.Errorf("Expected self-signed throttle-01, got subject %q issuer %q", leaf.Subject, leaf.Issuer)
	}
}

func TestLeafInfo_ValidAt(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	leaf := &LeafInfo{Subject: "c", NotBefore: start, NotAfter: start.Add(24 * time.Hour)}

	tests := []struct {
		name    string
		now     time.Time
		wantErr bool
	}{
		{"inside", start.Add(time.Hour), false},
		{"at not before", start, false},
		{"at not after", start.Add(24 * time.Hour), false},
		{"before", start.Add(-time.Second), true},
		{"after", start.Add(24*time.Hour + time.Second), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := leaf.ValidAt(tt.now); (err != nil) != tt.wantErr {
				t.Errorf("ValidAt(%v) error = %v, wantErr %v", tt.now, err, tt.wantErr)
			}
		})
	}
}

func TestLeafInfo_Expiry(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	far := &LeafInfo{NotAfter: now.Add(90*24*time.Hour + time.Hour)}
	if far.ExpiringAt(now) {
		t.Error("90 days out should not be expiring")
	}
	if got := far.DaysLeft(now); got != 90 {
		t.Errorf("DaysLeft() = %d, want 90", got)
	}

	near := &LeafInfo{NotAfter: now.Add(10 * 24 * time.Hour)}
	if !near.ExpiringAt(now) {
		t.Error("10 days out should be expiring")
	}
}
