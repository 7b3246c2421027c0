package tls

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bootstrapPaths(dir string) Bootstrap {
	return Bootstrap{
		CertFile:    filepath.Join(dir, "server", "cert.pem"),
		KeyFile:     filepath.Join(dir, "server", "key.pem"),
		CAFile:      filepath.Join(dir, "ca", "ca.pem"),
		CAKeyFile:   filepath.Join(dir, "ca", "ca-key.pem"),
		DomainNames: []string{"portal.local"},
		IPAddresses: []net.IP{net.ParseIP("10.0.0.1")},
	}
}

func TestEnsureServerCertificate_GeneratesChain(t *testing.T) {
	b := bootstrapPaths(t.TempDir())

	created, err := EnsureServerCertificate(b)
	require.NoError(t, err)
	assert.True(t, created)

	pair, err := tls.LoadX509KeyPair(b.CertFile, b.KeyFile)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(pair.Certificate[0])
	require.NoError(t, err)

	pool, err := loadCAPool(b.CAFile)
	require.NoError(t, err)
	_, err = leaf.Verify(x509.VerifyOptions{DNSName: "portal.local", Roots: pool})
	assert.NoError(t, err)

	info, err := os.Stat(b.KeyFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	cfg, err := ServerConfig(b.CertFile, b.KeyFile, b.CAFile, tls.NoClientCert)
	require.NoError(t, err)
	assert.Len(t, cfg.Certificates, 1)
}

func TestEnsureServerCertificate_KeepsExistingFiles(t *testing.T) {
	b := bootstrapPaths(t.TempDir())
	_, err := EnsureServerCertificate(b)
	require.NoError(t, err)
	before, err := os.ReadFile(b.CertFile)
	require.NoError(t, err)

	created, err := EnsureServerCertificate(b)
	require.NoError(t, err)
	assert.False(t, created)
	after, err := os.ReadFile(b.CertFile)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestEnsureServerCertificate_ReusesCA(t *testing.T) {
	b := bootstrapPaths(t.TempDir())
	_, err := EnsureServerCertificate(b)
	require.NoError(t, err)
	caBefore, err := os.ReadFile(b.CAFile)
	require.NoError(t, err)

	require.NoError(t, os.Remove(b.CertFile))
	created, err := EnsureServerCertificate(b)
	require.NoError(t, err)
	assert.True(t, created)

	caAfter, err := os.ReadFile(b.CAFile)
	require.NoError(t, err)
	assert.Equal(t, caBefore, caAfter)
}

func TestEnsureServerCertificate_RequiresPaths(t *testing.T) {
	_, err := EnsureServerCertificate(Bootstrap{CertFile: "a", KeyFile: "b"})
	assert.Error(t, err)
}
