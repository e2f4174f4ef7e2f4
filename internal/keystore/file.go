package keystore

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/brbxai/recommand-peppol-sub001/pkg/smp"
)

var (
	_ smp.CertificateSource = (*FileProvider)(nil)
	_ smp.CertificateSource = (*StaticProvider)(nil)
)

// FileProvider implements CertificateProvider using a PEM file on disk.
// The parsed certificate is cached until the file's modification time
// changes.
type FileProvider struct {
	path    string
	mu      sync.RWMutex
	cert    *x509.Certificate
	modTime time.Time
}

// NewFileProvider creates a provider and loads the certificate once
func NewFileProvider(path string) (*FileProvider, error) {
	p := &FileProvider{path: path}
	if _, err := p.Certificate(context.Background()); err != nil {
		return nil, err
	}
	return p, nil
}

// Certificate returns the certificate, reloading it if the file changed
func (p *FileProvider) Certificate(ctx context.Context) (*x509.Certificate, error) {
	info, err := os.Stat(p.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCertificateNotFound, err)
	}

	p.mu.RLock()
	if p.cert != nil && info.ModTime().Equal(p.modTime) {
		cert := p.cert
		p.mu.RUnlock()
		return cert, nil
	}
	p.mu.RUnlock()

	cert, err := loadCertificate(p.path)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.cert = cert
	p.modTime = info.ModTime()
	p.mu.Unlock()

	return cert, nil
}

// StaticProvider serves a certificate parsed once from inline PEM
type StaticProvider struct {
	cert *x509.Certificate
}

// NewStaticProvider parses pemText, accepting escaped newlines
func NewStaticProvider(pemText string) (*StaticProvider, error) {
	cert, err := smp.ParseCertificatePEM(pemText)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCertificateNotFound, err)
	}
	return &StaticProvider{cert: cert}, nil
}

// Certificate returns the parsed certificate
func (p *StaticProvider) Certificate(ctx context.Context) (*x509.Certificate, error) {
	return p.cert, nil
}

func loadCertificate(path string) (*x509.Certificate, error) {
	certPEM, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading certificate file: %w", err)
	}
	cert, err := smp.ParseCertificatePEM(string(certPEM))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCertificateNotFound, path, err)
	}
	return cert, nil
}

func keyAlgorithmName(pub crypto.PublicKey) string {
	switch pub.(type) {
	case *ecdsa.PublicKey:
		return "EC"
	case *rsa.PublicKey:
		return "RSA"
	case ed25519.PublicKey:
		return "Ed25519"
	default:
		return "Unknown"
	}
}

func keySize(pub crypto.PublicKey) int {
	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		return k.Curve.Params().BitSize
	case *rsa.PublicKey:
		return k.N.BitLen()
	case ed25519.PublicKey:
		return 256
	default:
		return 0
	}
}
