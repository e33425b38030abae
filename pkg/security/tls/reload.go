package tls

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// CertificateReloader keeps a client certificate in memory and reloads it
// when the certificate or key file changes on disk. A failed reload keeps
// the previous certificate.
type CertificateReloader struct {
	certFile string
	keyFile  string
	logger   *slog.Logger

	watcher *fsnotify.Watcher

	mu   sync.RWMutex
	cert *tls.Certificate
	leaf *LeafInfo

	// reloaded receives a value after every reload attempt. Tests only.
	reloaded chan error

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewCertificateReloader loads the key pair and prepares a watcher on the
// directories holding it. Directories are watched rather than files so
// that atomic replacement through rename is noticed.
func NewCertificateReloader(certFile, keyFile string, logger *slog.Logger) (*CertificateReloader, error) {
	if logger == nil {
		logger = slog.Default()
	}

	r := &CertificateReloader{
		certFile: filepath.Clean(certFile),
		keyFile:  filepath.Clean(keyFile),
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	if err := r.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	for _, dir := range uniqueDirs(r.certFile, r.keyFile) {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("failed to watch %q: %w", dir, err)
		}
	}
	r.watcher = watcher

	r.logCertificateInfo()
	return r, nil
}

// Start runs the watch loop in the background until ctx is cancelled or
// Close is called.
func (r *CertificateReloader) Start(ctx context.Context) {
	go r.watch(ctx)
}

func (r *CertificateReloader) watch(ctx context.Context) {
	defer close(r.doneCh)

	for {
		select {
		case <-ctx.Done():
			return

		case <-r.stopCh:
			return

		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if !r.isRelevant(event) {
				continue
			}

			err := r.reload()
			if err != nil {
				r.logger.Error("failed to reload certificate",
					"error", err,
					"cert_file", r.certFile,
					"key_file", r.keyFile,
				)
			} else {
				r.logger.Info("certificate reloaded", "cert_file", r.certFile)
				r.logCertificateInfo()
			}
			if r.reloaded != nil {
				select {
				case r.reloaded <- err:
				default:
				}
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error("certificate watcher error", "error", err)
		}
	}
}

// isRelevant reports whether an event touches the certificate or key.
func (r *CertificateReloader) isRelevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	name := filepath.Clean(event.Name)
	return name == r.certFile || name == r.keyFile
}

// reload loads the key pair from disk and swaps it in.
func (r *CertificateReloader) reload() error {
	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return fmt.Errorf("failed to load certificate: %w", err)
	}

	leaf, err := Inspect(&cert)
	if err != nil {
		return err
	}
	if err := leaf.ValidAt(time.Now()); err != nil {
		return err
	}

	r.mu.Lock()
	r.cert = &cert
	r.leaf = leaf
	r.mu.Unlock()

	return nil
}

// GetCertificate returns the current certificate.
func (r *CertificateReloader) GetCertificate() *tls.Certificate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cert
}

// GetClientCertificateFunc returns a function compatible with
// tls.Config.GetClientCertificate.
func (r *CertificateReloader) GetClientCertificateFunc() func(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
	return func(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
		return r.GetCertificate(), nil
	}
}

// Close stops the watch loop and releases the watcher.
func (r *CertificateReloader) Close() error {
	var err error
	r.stopOnce.Do(func() {
		close(r.stopCh)
		err = r.watcher.Close()
	})
	return err
}

// Leaf returns the parsed leaf of the current certificate.
func (r *CertificateReloader) Leaf() *LeafInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.leaf
}

func (r *CertificateReloader) logCertificateInfo() {
	leaf := r.Leaf()
	now := time.Now()
	if leaf.ExpiringAt(now) {
		r.logger.Warn("redis client certificate expiring soon",
			"subject", leaf.Subject,
			"expires_in_days", leaf.DaysLeft(now),
			"expires_at", leaf.NotAfter.Format(time.RFC3339),
		)
		return
	}
	r.logger.Info("redis client certificate loaded",
		"subject", leaf.Subject,
		"issuer", leaf.Issuer,
		"expires_in_days", leaf.DaysLeft(now),
	)
}

func uniqueDirs(paths ...string) []string {
	var dirs []string
	seen := make(map[string]bool)
	for _, p := range paths {
		d := filepath.Dir(p)
		if !seen[d] {
			seen[d] = true
			dirs = append(dirs, d)
		}
	}
	return dirs
}
