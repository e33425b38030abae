package tls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"time"
)

// ExpiryWarning is how far ahead of NotAfter a loaded client certificate
// starts being logged as expiring.
const ExpiryWarning = 30 * 24 * time.Hour

// LeafInfo is the part of a client certificate's leaf the reloader checks
// and logs.
type LeafInfo struct {
	Subject   string
	Issuer    string
	NotBefore time.Time
	NotAfter  time.Time
}

// Inspect parses the leaf of a key pair.
func Inspect(cert *tls.Certificate) (*LeafInfo, error) {
	if cert == nil || len(cert.Certificate) == 0 {
		return nil, errors.New("certificate chain is empty")
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return leafInfo(leaf), nil
}

func leafInfo(c *x509.Certificate) *LeafInfo {
	return &LeafInfo{
		Subject:   c.Subject.CommonName,
		Issuer:    c.Issuer.CommonName,
		NotBefore: c.NotBefore,
		NotAfter:  c.NotAfter,
	}
}

// ValidAt returns an error when now falls outside the validity period.
// Redis rejects the handshake in that case, so the reloader refuses to swap
// such a certificate in.
func (l *LeafInfo) ValidAt(now time.Time) error {
	if now.Before(l.NotBefore) {
		return fmt.Errorf("certificate %q is not valid before %s", l.Subject, l.NotBefore.Format(time.RFC3339))
	}
	if now.After(l.NotAfter) {
		return fmt.Errorf("certificate %q expired on %s", l.Subject, l.NotAfter.Format(time.RFC3339))
	}
	return nil
}

// DaysLeft is the number of whole days until NotAfter.
func (l *LeafInfo) DaysLeft(now time.Time) int {
	return int(l.NotAfter.Sub(now).Hours() / 24)
}

// ExpiringAt reports whether the certificate is inside the ExpiryWarning
// window at now.
func (l *LeafInfo) ExpiringAt(now time.Time) bool {
	return l.NotAfter.Sub(now) < ExpiryWarning
}
