package tls

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

// Bootstrap describes the certificate files the portal serves wss with.
// Missing files are generated: a local CA first, then a server certificate
// signed by it. Existing files are never overwritten.
type Bootstrap struct {
	CertFile    string
	KeyFile     string
	CAFile      string
	CAKeyFile   string
	DomainNames []string
	IPAddresses []net.IP
}

func (b Bootstrap) withDefaults() Bootstrap {
	if len(b.DomainNames) == 0 {
		b.DomainNames = []string{"localhost"}
	}
	if len(b.IPAddresses) == 0 {
		b.IPAddresses = []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")}
	}
	return b
}

// EnsureServerCertificate generates whatever part of the chain is missing.
// It reports whether anything was written.
func EnsureServerCertificate(b Bootstrap) (bool, error) {
	b = b.withDefaults()
	if b.CertFile == "" || b.KeyFile == "" || b.CAFile == "" || b.CAKeyFile == "" {
		return false, errors.New("cert, key, CA and CA key paths are required to bootstrap TLS")
	}
	if fileExists(b.CertFile) && fileExists(b.KeyFile) {
		slog.Debug("Using existing server certificate", "cert_path", b.CertFile)
		return false, nil
	}

	var caCert *x509.Certificate
	var caKey crypto.Signer
	var err error
	if fileExists(b.CAFile) && fileExists(b.CAKeyFile) {
		caCert, caKey, err = loadCA(b.CAFile, b.CAKeyFile)
		if err != nil {
			return false, err
		}
	} else {
		slog.Info("CA certificate not found, generating new CA", "cert_path", b.CAFile)
		caCert, caKey, err = generateCA()
		if err != nil {
			return false, err
		}
		if err := writePEM(b.CAFile, caCert, nil); err != nil {
			return false, err
		}
		if err := writePEM(b.CAKeyFile, nil, caKey); err != nil {
			return false, err
		}
	}

	slog.Info("Server certificate not found, generating new server certificate",
		"cert_path", b.CertFile, "domains", b.DomainNames, "ips", b.IPAddresses)
	serverCert, serverKey, err := generateServerCert(caCert, caKey, b.DomainNames, b.IPAddresses)
	if err != nil {
		return false, err
	}
	if err := writePEM(b.CertFile, serverCert, nil); err != nil {
		return false, err
	}
	if err := writePEM(b.KeyFile, nil, serverKey); err != nil {
		return false, err
	}
	return true, nil
}

func generateCA() (*x509.Certificate, crypto.Signer, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate CA key: %w", err)
	}
	serial, err := serialNumber()
	if err != nil {
		return nil, nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"Silo Portal CA"},
			CommonName:   "Silo Portal Root CA",
		},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create CA certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse CA certificate: %w", err)
	}
	return cert, key, nil
}

func generateServerCert(caCert *x509.Certificate, caKey crypto.Signer, domainNames []string, ipAddresses []net.IP) (*x509.Certificate, crypto.Signer, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate server key: %w", err)
	}
	serial, err := serialNumber()
	if err != nil {
		return nil, nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"Silo Portal"},
			CommonName:   domainNames[0],
		},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              domainNames,
		IPAddresses:           ipAddresses,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, caCert, &key.PublicKey, caKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create server certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse server certificate: %w", err)
	}
	return cert, key, nil
}

func loadCA(certPath, keyPath string) (*x509.Certificate, crypto.Signer, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, nil, errors.New("failed to decode CA certificate PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse CA certificate: %w", err)
	}

	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read CA key: %w", err)
	}
	block, _ = pem.Decode(keyPEM)
	if block == nil {
		return nil, nil, errors.New("failed to decode CA key PEM")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse CA key: %w", err)
	}
	key, ok := parsed.(crypto.Signer)
	if !ok {
		return nil, nil, errors.New("CA key cannot sign")
	}
	return cert, key, nil
}

// writePEM writes either a certificate or a private key. Keys are written
// as PKCS#8 with owner-only permissions.
func writePEM(path string, cert *x509.Certificate, key crypto.Signer) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	block := &pem.Block{}
	mode := os.FileMode(0o644)
	if cert != nil {
		block.Type = "CERTIFICATE"
		block.Bytes = cert.Raw
	} else {
		der, err := x509.MarshalPKCS8PrivateKey(key)
		if err != nil {
			return fmt.Errorf("failed to marshal key: %w", err)
		}
		block.Type = "PRIVATE KEY"
		block.Bytes = der
		mode = 0o600
	}

	if err := os.WriteFile(path, pem.EncodeToMemory(block), mode); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func serialNumber() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}
	return serial, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
