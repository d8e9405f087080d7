package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePair(t *testing.T, notAfter time.Time) (string, string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "equipscan.test"},
		NotBefore:    notAfter.Add(-365 * 24 * time.Hour),
		NotAfter:     notAfter,
		DNSNames:     []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	dir := t.TempDir()
	certFile := filepath.Join(dir, "server.crt")
	keyFile := filepath.Join(dir, "server.key")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certFile, keyFile
}

func TestTLSConfig(t *testing.T) {
	certFile, keyFile := writePair(t, time.Now().Add(90*24*time.Hour))
	cm := NewCertManager(certFile, keyFile, nil)

	cfg, err := cm.TLSConfig()
	require.NoError(t, err)
	assert.Len(t, cfg.Certificates, 1)

	leaf, err := cm.LoadCertificate()
	require.NoError(t, err)
	assert.Equal(t, "equipscan.test", leaf.Subject.CommonName)
	assert.False(t, cm.IsExpired(leaf))
	assert.False(t, cm.ExpiresWithin(leaf, RenewWindow))
	assert.True(t, cm.ExpiresWithin(leaf, 100*24*time.Hour))
}

func TestTLSConfigExpired(t *testing.T) {
	certFile, keyFile := writePair(t, time.Now().Add(-time.Hour))
	_, err := NewCertManager(certFile, keyFile, nil).TLSConfig()
	assert.ErrorContains(t, err, "expired")
}

func TestLoadCertificateBadPEM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.crt")
	require.NoError(t, os.WriteFile(path, []byte("nope"), 0o600))
	_, err := NewCertManager(path, "", nil).LoadCertificate()
	assert.Error(t, err)
}
