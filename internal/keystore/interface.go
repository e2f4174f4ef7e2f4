// Package keystore loads the access point certificate the operator
// publishes in service metadata.
//
// The certificate is operator-wide: every participant's metadata carries the
// same AS4 certificate. Two sources are supported:
//
//   - File: a PEM file on disk, reloaded when it changes
//   - Inline: PEM text from configuration, where newlines may be escaped
//     as "\n" (typical for environment variables)
//
// A provider satisfies smp.CertificateSource. Service metadata asks it for
// the certificate on every publish, so a rotated file is picked up without
// a restart.
package keystore

import (
	"context"
	"crypto/x509"
	"errors"
	"time"
)

// Common errors
var (
	ErrCertificateNotFound = errors.New("access point certificate not found")
	ErrCertificateExpired  = errors.New("access point certificate has expired")
)

// CertificateProvider provides the access point certificate
//
// Implementations must be safe for concurrent use.
type CertificateProvider interface {
	// Certificate returns the current certificate
	Certificate(ctx context.Context) (*x509.Certificate, error)
}

// CertificateInfo describes a certificate for logs and health output
type CertificateInfo struct {
	Subject   string    `json:"subject"`
	Issuer    string    `json:"issuer"`
	NotAfter  time.Time `json:"notAfter"`
	Algorithm string    `json:"algorithm"`
	KeySize   int       `json:"keySize"`
}

// Describe summarizes cert
func Describe(cert *x509.Certificate) CertificateInfo {
	return CertificateInfo{
		Subject:   cert.Subject.String(),
		Issuer:    cert.Issuer.String(),
		NotAfter:  cert.NotAfter,
		Algorithm: keyAlgorithmName(cert.PublicKey),
		KeySize:   keySize(cert.PublicKey),
	}
}
