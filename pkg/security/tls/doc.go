/*
Package tls builds the client TLS configuration used to reach Redis.

# Client Configuration

ClientConfig turns a config.RedisTLSConfig into a crypto/tls.Config:

	tlsConfig, reloader, err := tls.ClientConfig(&cfg.Limits.Store.Redis.TLS)
	if err != nil {
		return err
	}
	if reloader != nil {
		reloader.Start(ctx)
		defer reloader.Close()
	}

Only TLS 1.2 and 1.3 are offered. An empty CA file means the system roots.

# Certificate Rotation

When a client certificate is configured, CertificateReloader watches the
directories holding the certificate and key with fsnotify and reloads the
pair when either file is written, created or renamed into place. New
connections pick up the new certificate through GetClientCertificate;
existing pooled connections keep the certificate they were opened with.
A certificate that fails to load or has expired is rejected and the
previous one stays in use.
*/
package tls
