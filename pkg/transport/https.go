package transport

import (
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"time"
)

// DefaultTimeout bounds every registry request
const DefaultTimeout = 30 * time.Second

// DefaultUserAgent identifies this client to SMP registries
const DefaultUserAgent = "recommand-peppol-smp-client/1.0"

// cipherSuites are the TLS 1.2 suites offered to registries. TLS 1.3 suites
// are not configurable.
var cipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
}

// Config contains registry client settings. Zero values take defaults.
type Config struct {
	// Timeout bounds a whole request, including reading the body
	Timeout time.Duration
	// UserAgent is set on requests that carry none
	UserAgent string
	// RootCAs overrides the system pool, mostly for tests
	RootCAs *x509.CertPool
	// MaxConnsPerHost bounds parallel connections to one registry; 0 means
	// no limit
	MaxConnsPerHost int
}

// DefaultConfig returns the settings used when none are given
func DefaultConfig() *Config {
	return &Config{
		Timeout:   DefaultTimeout,
		UserAgent: DefaultUserAgent,
	}
}

// NewHTTPClient creates the client shared by registry writes and discovery
// reads: TLS 1.2 minimum, bounded timeout, fixed user agent. A nil config
// yields DefaultConfig.
func NewHTTPClient(config *Config) *http.Client {
	if config == nil {
		config = DefaultConfig()
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	userAgent := config.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	base := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			MinVersion:   tls.VersionTLS12,
			CipherSuites: cipherSuites,
			RootCAs:      config.RootCAs,
		},
		IdleConnTimeout:     90 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     config.MaxConnsPerHost,
	}

	return &http.Client{
		Transport: &userAgentTransport{base: base, userAgent: userAgent},
		Timeout:   timeout,
	}
}

type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.base.RoundTrip(req)
	}
	// RoundTrippers must not modify the caller's request
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(clone)
}
