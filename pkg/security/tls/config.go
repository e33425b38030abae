package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"mercator-hq/throttle/pkg/config"
)

// ClientConfig builds the tls.Config used to dial Redis.
//
// It returns nil when TLS is disabled. When a client certificate is
// configured, the returned CertificateReloader serves it through
// GetClientCertificate; the caller must Start it before dialing and Close it
// on shutdown. The reloader is nil otherwise.
func ClientConfig(cfg *config.RedisTLSConfig) (*tls.Config, *CertificateReloader, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil, nil
	}

	// #nosec G402 - InsecureSkipVerify is opt-in and documented as testing only
	tlsConfig := &tls.Config{
		MinVersion:         parseTLSVersion(cfg.MinVersion),
		ServerName:         cfg.ServerName,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}

	if cfg.CAFile != "" {
		pool, err := loadCertPool(cfg.CAFile)
		if err != nil {
			return nil, nil, err
		}
		tlsConfig.RootCAs = pool
	}

	if (cfg.CertFile == "") != (cfg.KeyFile == "") {
		return nil, nil, fmt.Errorf("cert_file and key_file must be set together")
	}
	if cfg.CertFile == "" {
		return tlsConfig, nil, nil
	}

	reloader, err := NewCertificateReloader(cfg.CertFile, cfg.KeyFile, nil)
	if err != nil {
		return nil, nil, err
	}
	tlsConfig.GetClientCertificate = reloader.GetClientCertificateFunc()

	return tlsConfig, reloader, nil
}

// parseTLSVersion converts the MinVersion string to a tls.Version constant.
// TLS 1.0 and 1.1 are not supported.
func parseTLSVersion(v string) uint16 {
	switch v {
	case "1.3":
		return tls.VersionTLS13
	default:
		return tls.VersionTLS12
	}
}

func loadCertPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("failed to parse CA certificate in %s", path)
	}
	return pool, nil
}
