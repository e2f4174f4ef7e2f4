package discovery

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/miekg/dns"

	"github.com/brbxai/recommand-peppol-sub001/pkg/identifier"
)

// Common errors
var (
	// ErrNoRecordsFound is returned when no U-NAPTR records are found for the participant
	ErrNoRecordsFound = errors.New("no SML records found for participant identifier")
	// ErrServiceNotFound is returned when no matching service is found
	ErrServiceNotFound = errors.New("no matching service found in SML records")
	// ErrInvalidNAPTRRecord is returned when a NAPTR record has invalid format
	ErrInvalidNAPTRRecord = errors.New("invalid NAPTR record format")
)

// ServiceTypeSMP is the U-NAPTR service published by the Peppol SML
const ServiceTypeSMP = "Meta:SMP"

// Network selects the Peppol network a participant is looked up on.
type Network string

const (
	// NetworkProduction is the Peppol production network
	NetworkProduction Network = "production"
	// NetworkTest is the Peppol test (acceptance) network
	NetworkTest Network = "test"
)

// NetworkFor maps a test-network flag to a Network.
func NetworkFor(useTestNetwork bool) Network {
	if useTestNetwork {
		return NetworkTest
	}
	return NetworkProduction
}

// SML DNS zones
const (
	ProductionSMLZone = "edelivery.tech.ec.europa.eu"
	TestSMLZone       = "acc.edelivery.tech.ec.europa.eu"
)

// NAPTRLookup resolves NAPTR records for a fully qualified domain name.
type NAPTRLookup interface {
	LookupNAPTR(ctx context.Context, name string) ([]*dns.NAPTR, error)
}

// DNSLookup queries a DNS server for NAPTR records using miekg/dns.
type DNSLookup struct {
	// Server is the DNS server to use, "ip:port". Empty means the first
	// nameserver from /etc/resolv.conf.
	Server string
	client *dns.Client
}

// NewDNSLookup creates a DNSLookup against server (may be empty).
func NewDNSLookup(server string) *DNSLookup {
	return &DNSLookup{Server: server, client: new(dns.Client)}
}

// LookupNAPTR performs the DNS NAPTR query.
func (l *DNSLookup) LookupNAPTR(ctx context.Context, name string) ([]*dns.NAPTR, error) {
	dnsServer := l.Server
	if dnsServer == "" {
		config, err := dns.ClientConfigFromFile("/etc/resolv.conf")
		if err != nil {
			return nil, fmt.Errorf("failed to read DNS config: %w", err)
		}
		if len(config.Servers) == 0 {
			return nil, errors.New("no DNS servers configured")
		}
		dnsServer = config.Servers[0] + ":" + config.Port
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeNAPTR)
	msg.RecursionDesired = true

	resp, _, err := l.client.ExchangeContext(ctx, msg, dnsServer)
	if err != nil {
		return nil, fmt.Errorf("DNS lookup failed for %s: %w", name, err)
	}
	if resp.Rcode == dns.RcodeNameError {
		return nil, fmt.Errorf("%w: %s", ErrNoRecordsFound, name)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("DNS lookup failed for %s: rcode=%d", name, resp.Rcode)
	}

	var records []*dns.NAPTR
	for _, rr := range resp.Answer {
		if naptr, ok := rr.(*dns.NAPTR); ok {
			records = append(records, naptr)
		}
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoRecordsFound, name)
	}
	return records, nil
}

// SMLResolverConfig contains configuration for the SML resolver
type SMLResolverConfig struct {
	// ProductionZone is the SML DNS zone of the production network
	ProductionZone string
	// TestZone is the SML DNS zone of the test network
	TestZone string
	// Lookup performs NAPTR queries; defaults to DNSLookup against resolv.conf
	Lookup NAPTRLookup
	Logger *slog.Logger
}

// SMLResolver maps participant addresses to the base URL of the SMP that
// publishes their metadata.
type SMLResolver struct {
	productionZone string
	testZone       string
	lookup         NAPTRLookup
	logger         *slog.Logger
}

// NewSMLResolver creates a resolver. Zero-valued fields take defaults.
func NewSMLResolver(config SMLResolverConfig) *SMLResolver {
	if config.ProductionZone == "" {
		config.ProductionZone = ProductionSMLZone
	}
	if config.TestZone == "" {
		config.TestZone = TestSMLZone
	}
	if config.Lookup == nil {
		config.Lookup = NewDNSLookup("")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &SMLResolver{
		productionZone: config.ProductionZone,
		testZone:       config.TestZone,
		lookup:         config.Lookup,
		logger:         config.Logger,
	}
}

// Location is where a participant's metadata is published.
type Location struct {
	// BaseURL is the SMP root, without trailing slash
	BaseURL string
	// ParticipantURL is the service group URL of the participant
	ParticipantURL string
	// ViaNAPTR is false when the deterministic fallback host was used
	ViaNAPTR bool
}

// Zone returns the SML DNS zone of a network.
func (r *SMLResolver) Zone(network Network) string {
	if network == NetworkTest {
		return r.testZone
	}
	return r.productionZone
}

// Resolve computes the SMP location of participant. It never fails: when no
// NAPTR record resolves, the fixed "B-<md5>" convention is returned, which
// is not guaranteed to be reachable.
func (r *SMLResolver) Resolve(ctx context.Context, participant identifier.ParticipantID, network Network) Location {
	address := participant.Address()
	zone := r.Zone(network)
	domain := HashedDomain(address, zone)

	records, err := r.lookup.LookupNAPTR(ctx, domain)
	if err == nil {
		target, selErr := selectSMPRecord(records)
		if selErr == nil {
			base := strings.TrimRight(target, "/")
			return Location{
				BaseURL:        base,
				ParticipantURL: base + "/" + participantPath(address),
				ViaNAPTR:       true,
			}
		}
		err = selErr
	}

	r.logger.Debug("NAPTR lookup failed, using fallback SMP host",
		"participant", address,
		"domain", domain,
		"error", err,
	)
	base := FallbackBaseURL(address, zone)
	return Location{
		BaseURL:        base,
		ParticipantURL: base + "/" + participantPath(address),
	}
}

// HashedDomain returns the SML DNS name of a participant address:
// lowercase unpadded base32 of SHA-256(lowercase(address)), followed by the
// participant scheme and the zone.
func HashedDomain(address, zone string) string {
	hash := sha256.Sum256([]byte(strings.ToLower(address)))
	encoded := strings.TrimRight(base32.StdEncoding.EncodeToString(hash[:]), "=")
	return fmt.Sprintf("%s.%s.%s", strings.ToLower(encoded), identifier.ParticipantScheme, zone)
}

// FallbackBaseURL returns the legacy "B-<md5hex>" SMP host of a participant.
func FallbackBaseURL(address, zone string) string {
	sum := md5.Sum([]byte(strings.ToLower(address)))
	return fmt.Sprintf("http://B-%s.%s.%s", hex.EncodeToString(sum[:]), identifier.ParticipantScheme, zone)
}

// participantPath is the service group path segment of an address.
func participantPath(address string) string {
	return identifier.ParticipantScheme + "::" + url.QueryEscape(address)
}

// selectSMPRecord picks the U-NAPTR record with the lowest order and
// preference that advertises the SMP service, and returns its target URL.
func selectSMPRecord(records []*dns.NAPTR) (string, error) {
	var best *dns.NAPTR
	bestPriority := 0

	for _, record := range records {
		if strings.ToUpper(record.Flags) != "U" {
			continue
		}
		if !strings.EqualFold(record.Service, ServiceTypeSMP) {
			continue
		}
		priority := int(record.Order)*0x10000 + int(record.Preference)
		if best == nil || priority < bestPriority {
			best = record
			bestPriority = priority
		}
	}

	if best == nil {
		return "", ErrServiceNotFound
	}
	return extractURLFromRegexp(best.Regexp)
}

// extractURLFromRegexp extracts the URL from a NAPTR regexp field.
// NAPTR regexp format: "!<pattern>!<replacement>!"
func extractURLFromRegexp(regexpField string) (string, error) {
	if regexpField == "" {
		return "", ErrInvalidNAPTRRecord
	}
	if len(regexpField) < 2 {
		return "", fmt.Errorf("%w: invalid regexp format: %s", ErrInvalidNAPTRRecord, regexpField)
	}

	// The first character is the delimiter, usually '!'
	delim := string(regexpField[0])
	parts := strings.Split(regexpField, delim)
	if len(parts) < 3 {
		return "", fmt.Errorf("%w: invalid regexp format: %s", ErrInvalidNAPTRRecord, regexpField)
	}

	replacement := parts[2]
	if replacement == "" {
		return "", fmt.Errorf("%w: empty URL in regexp: %s", ErrInvalidNAPTRRecord, regexpField)
	}

	parsedURL, err := url.Parse(replacement)
	if err != nil {
		return "", fmt.Errorf("invalid URL in NAPTR record: %w", err)
	}
	if parsedURL.Scheme != "https" && parsedURL.Scheme != "http" {
		return "", fmt.Errorf("invalid URL scheme in NAPTR record: %s", parsedURL.Scheme)
	}

	return replacement, nil
}
