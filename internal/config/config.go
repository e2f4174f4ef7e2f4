// Package config handles configuration loading for the registration service.
//
// Configuration is loaded from a YAML file with support for environment
// variable expansion (${VAR} or $VAR syntax). Registry tokens and database
// credentials are expected to be injected this way.
//
// # Configuration Sections
//
//   - server: HTTP server settings (port, admin key)
//   - storage: Database backend (mongodb or sqlite)
//   - smp: Operator registry, SML zones and the published AS4 endpoint
//   - alerts: Where compensation failures are reported
//   - observability: Metrics endpoint
//
// # Example Configuration
//
//	server:
//	  port: 8080
//	  adminKey: ${ADMIN_KEY}
//
//	storage:
//	  type: mongodb
//	  mongodb:
//	    uri: ${MONGODB_URI}
//	    database: peppol
//
//	smp:
//	  domain: example.com
//	  production:
//	    token: ${SMP_TOKEN}
//	  test:
//	    token: ${SMP_TEST_TOKEN}
//	  endpoint:
//	    url: https://ap.example.com/as4
//	    certificateFile: /etc/peppol/ap.pem
//
// See [Load] for loading configuration from a file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/brbxai/recommand-peppol-sub001/pkg/discovery"
)

// Config is the root configuration structure
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	SMP     SMPConfig     `yaml:"smp"`
	Alerts  AlertsConfig  `yaml:"alerts"`
	Metrics MetricsConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port     int    `yaml:"port"`
	AdminKey string `yaml:"adminKey"` // API key for /api endpoints
	TLS      struct {
		Enabled  bool   `yaml:"enabled"`
		CertFile string `yaml:"certFile"`
		KeyFile  string `yaml:"keyFile"`
	} `yaml:"tls"`
}

// StorageConfig holds database settings
type StorageConfig struct {
	// Type is "mongodb" or "sqlite"
	Type    string        `yaml:"type"`
	MongoDB MongoDBConfig `yaml:"mongodb"`
	SQLite  SQLiteConfig  `yaml:"sqlite"`
}

// MongoDBConfig holds MongoDB connection settings
type MongoDBConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// SQLiteConfig holds SQLite settings
type SQLiteConfig struct {
	// Path is the database file; ":memory:" for an ephemeral database
	Path string `yaml:"path"`
}

// SMPConfig holds the operator registry and published endpoint settings
type SMPConfig struct {
	// Domain derives the default registry URLs: https://smp.<domain> and
	// https://test-smp.<domain>
	Domain     string         `yaml:"domain"`
	Production RegistryConfig `yaml:"production"`
	Test       RegistryConfig `yaml:"test"`
	// DNSServer is "ip:port"; empty uses /etc/resolv.conf
	DNSServer string         `yaml:"dnsServer"`
	Endpoint  EndpointConfig `yaml:"endpoint"`
	// Timeout bounds every registry call
	Timeout time.Duration `yaml:"timeout"`
	// DiscoveryConcurrency bounds parallel metadata reads
	DiscoveryConcurrency int `yaml:"discoveryConcurrency"`
	// TeamCacheTTL is how long team flags are cached
	TeamCacheTTL time.Duration `yaml:"teamCacheTTL"`
}

// RegistryConfig holds one network's registry settings
type RegistryConfig struct {
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	SMLZone string `yaml:"smlZone"`
}

// EndpointConfig describes the AS4 access point published in service
// metadata
type EndpointConfig struct {
	URL             string `yaml:"url"`
	CertificateFile string `yaml:"certificateFile"`
	// CertificatePEM may hold the certificate inline, with "\n" escapes
	CertificatePEM      string `yaml:"certificatePem"`
	ServiceDescription  string `yaml:"serviceDescription"`
	TechnicalContactURL string `yaml:"technicalContactUrl"`
}

// AlertsConfig holds alerting settings
type AlertsConfig struct {
	// WebhookURL receives alerts as JSON; empty logs them only
	WebhookURL string        `yaml:"webhookUrl"`
	Timeout    time.Duration `yaml:"timeout"`
}

// MetricsConfig holds observability settings
type MetricsConfig struct {
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse expands environment variables in data and decodes it
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Storage.Type == "" {
		c.Storage.Type = "mongodb"
	}
	if c.Storage.MongoDB.Database == "" {
		c.Storage.MongoDB.Database = "peppol"
	}
	if c.Storage.SQLite.Path == "" {
		c.Storage.SQLite.Path = "peppol.db"
	}
	if c.SMP.Production.URL == "" && c.SMP.Domain != "" {
		c.SMP.Production.URL = "https://smp." + c.SMP.Domain
	}
	if c.SMP.Test.URL == "" && c.SMP.Domain != "" {
		c.SMP.Test.URL = "https://test-smp." + c.SMP.Domain
	}
	if c.SMP.Production.SMLZone == "" {
		c.SMP.Production.SMLZone = discovery.ProductionSMLZone
	}
	if c.SMP.Test.SMLZone == "" {
		c.SMP.Test.SMLZone = discovery.TestSMLZone
	}
	if c.SMP.Timeout == 0 {
		c.SMP.Timeout = 30 * time.Second
	}
	if c.SMP.DiscoveryConcurrency == 0 {
		c.SMP.DiscoveryConcurrency = 4
	}
	if c.SMP.TeamCacheTTL == 0 {
		c.SMP.TeamCacheTTL = time.Minute
	}
	if c.Alerts.Timeout == 0 {
		c.Alerts.Timeout = 5 * time.Second
	}
	if c.Metrics.Metrics.Path == "" {
		c.Metrics.Metrics.Path = "/metrics"
	}
}

func (c *Config) validate() error {
	switch c.Storage.Type {
	case "mongodb":
		if c.Storage.MongoDB.URI == "" {
			return errors.New("storage.mongodb.uri is required")
		}
	case "sqlite":
	default:
		return fmt.Errorf("storage.type must be 'mongodb' or 'sqlite', got '%s'", c.Storage.Type)
	}

	if c.SMP.Production.URL == "" || c.SMP.Test.URL == "" {
		return errors.New("smp.domain or both smp.production.url and smp.test.url are required")
	}
	if c.SMP.Endpoint.URL == "" {
		return errors.New("smp.endpoint.url is required")
	}
	if c.SMP.Endpoint.CertificateFile == "" && c.SMP.Endpoint.CertificatePEM == "" {
		return errors.New("smp.endpoint.certificateFile or smp.endpoint.certificatePem is required")
	}
	if c.Server.TLS.Enabled && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		return errors.New("server.tls.certFile and server.tls.keyFile are required when TLS is enabled")
	}

	return nil
}
