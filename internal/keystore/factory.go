package keystore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brbxai/recommand-peppol-sub001/internal/config"
)

// expiryWarning is how long before expiry a warning is logged at startup
const expiryWarning = 30 * 24 * time.Hour

// NewProvider creates a certificate provider from configuration. A file
// takes precedence over inline PEM. Expired certificates are rejected.
func NewProvider(cfg *config.EndpointConfig, logger *slog.Logger) (CertificateProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		provider CertificateProvider
		err      error
	)
	switch {
	case cfg.CertificateFile != "":
		provider, err = NewFileProvider(cfg.CertificateFile)
	case cfg.CertificatePEM != "":
		provider, err = NewStaticProvider(cfg.CertificatePEM)
	default:
		return nil, ErrCertificateNotFound
	}
	if err != nil {
		return nil, err
	}

	cert, err := provider.Certificate(context.Background())
	if err != nil {
		return nil, err
	}
	info := Describe(cert)
	now := time.Now()
	if now.After(cert.NotAfter) {
		return nil, fmt.Errorf("%w: %s expired %s", ErrCertificateExpired, info.Subject, cert.NotAfter.Format(time.RFC3339))
	}
	if cert.NotAfter.Sub(now) < expiryWarning {
		logger.Warn("access point certificate expires soon", "subject", info.Subject, "notAfter", info.NotAfter)
	}
	logger.Info("loaded access point certificate",
		"subject", info.Subject,
		"algorithm", info.Algorithm,
		"keySize", info.KeySize,
		"notAfter", info.NotAfter,
	)
	return provider, nil
}
