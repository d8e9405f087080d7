package certs

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/harrylevesque/equipscan/internal/utils"
)

// RenewWindow is how long before expiry the server starts warning.
const RenewWindow = 30 * 24 * time.Hour

// CertManager manages the server's TLS certificate pair.
type CertManager struct {
	certFile string
	keyFile  string
	logger   *slog.Logger
	now      func() time.Time
}

// NewCertManager creates a new CertManager for the given pair.
func NewCertManager(certFile, keyFile string, logger *slog.Logger) *CertManager {
	return &CertManager{certFile: certFile, keyFile: keyFile, logger: utils.OrDefault(logger), now: time.Now}
}

// LoadCertificate parses the leaf certificate from the cert file.
func (cm *CertManager) LoadCertificate() (*x509.Certificate, error) {
	data, err := os.ReadFile(cm.certFile)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, errors.New("failed to parse certificate PEM")
	}
	return x509.ParseCertificate(block.Bytes)
}

// IsExpired checks if a certificate is expired.
func (cm *CertManager) IsExpired(cert *x509.Certificate) bool {
	return cert.NotAfter.Before(cm.now())
}

// ExpiresWithin reports whether cert expires within d.
func (cm *CertManager) ExpiresWithin(cert *x509.Certificate, d time.Duration) bool {
	return cert.NotAfter.Before(cm.now().Add(d))
}

// TLSConfig loads the key pair for serving. An expired certificate is an
// error; one close to expiry only logs a warning.
func (cm *CertManager) TLSConfig() (*tls.Config, error) {
	leaf, err := cm.LoadCertificate()
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", cm.certFile, err)
	}
	if cm.IsExpired(leaf) {
		return nil, fmt.Errorf("certificate %s expired on %s", cm.certFile, leaf.NotAfter.Format(time.RFC3339))
	}
	if cm.ExpiresWithin(leaf, RenewWindow) {
		cm.logger.Warn("TLS certificate expires soon",
			"file", cm.certFile,
			"subject", leaf.Subject.CommonName,
			"not_after", leaf.NotAfter)
	}
	pair, err := tls.LoadX509KeyPair(cm.certFile, cm.keyFile)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{pair},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
