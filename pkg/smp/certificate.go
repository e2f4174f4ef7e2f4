package smp

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

// ErrNoCertificate is returned when PEM input holds no certificate block
var ErrNoCertificate = errors.New("no certificate found in PEM data")

// NormalizePEM turns escaped "\n" sequences (as found in environment
// variables) into real newlines and drops carriage returns.
func NormalizePEM(raw string) string {
	s := strings.ReplaceAll(raw, `\n`, "\n")
	s = strings.ReplaceAll(s, "\r", "")
	return strings.TrimSpace(s) + "\n"
}

// ParseCertificatePEM parses the first certificate of a PEM document,
// normalizing newlines first.
func ParseCertificatePEM(raw string) (*x509.Certificate, error) {
	block, _ := pem.Decode([]byte(NormalizePEM(raw)))
	if block == nil {
		return nil, ErrNoCertificate
	}
	if block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("%w: found %s block", ErrNoCertificate, block.Type)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert, nil
}

// EncodeCertificate encodes an X.509 certificate for SMP publishing
func EncodeCertificate(cert *x509.Certificate) string {
	return base64.StdEncoding.EncodeToString(cert.Raw)
}
