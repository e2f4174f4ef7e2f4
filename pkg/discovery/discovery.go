package discovery

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/leifj/signedxml"
	"golang.org/x/sync/errgroup"

	"github.com/brbxai/recommand-peppol-sub001/pkg/identifier"
)

// Discovery errors
var (
	// ErrParticipantNotFound is returned when no service group can be read
	// for the participant
	ErrParticipantNotFound = errors.New("participant not found on the Peppol network")
	// ErrEndpointNotFound is returned when the participant publishes no
	// endpoint for the document type
	ErrEndpointNotFound = errors.New("no endpoint found for document type")
)

// transportPeppolAS4 is the preferred transport profile when several
// endpoints are published.
const transportPeppolAS4 = "peppol-transport-as4-v2_0"

// DocumentTypeRef is one document type listed in a service group.
type DocumentTypeRef struct {
	ID string `json:"id"`
	// Name is the human-readable name, or ID when the type is unknown
	Name string `json:"name"`
}

// Recipient is the result of VerifyRecipient.
type Recipient struct {
	Address       string            `json:"address"`
	SMPURL        string            `json:"smpUrl"`
	DocumentTypes []DocumentTypeRef `json:"documentTypes"`
}

// DocumentSupport is the result of VerifyDocumentSupport. Pointer fields are
// nil when the registry did not publish a usable value.
type DocumentSupport struct {
	DocumentType        string     `json:"documentType"`
	Processes           []string   `json:"processes"`
	Endpoint            string     `json:"endpoint"`
	TransportProfile    string     `json:"transportProfile"`
	ServiceDescription  *string    `json:"serviceDescription,omitempty"`
	TechnicalContactURL *string    `json:"technicalContactUrl,omitempty"`
	CertificateExpiry   *time.Time `json:"certificateExpiry,omitempty"`
	ServiceProvider     *string    `json:"serviceProvider,omitempty"`
	// SignatureVerified is nil for unsigned metadata
	SignatureVerified *bool `json:"signatureVerified,omitempty"`
}

// BusinessCard is a participant's public directory entry.
type BusinessCard struct {
	Participant string           `json:"participant"`
	Entities    []BusinessEntity `json:"entities"`
}

// BusinessEntity is one legal entity of a business card.
type BusinessEntity struct {
	Name                    string             `json:"name"`
	CountryCode             string             `json:"countryCode"`
	GeographicalInformation *string            `json:"geographicalInformation,omitempty"`
	RegistrationDate        *string            `json:"registrationDate,omitempty"`
	Identifiers             []EntityIdentifier `json:"identifiers,omitempty"`
}

// EntityIdentifier is an additional identifier of a business entity.
type EntityIdentifier struct {
	Scheme string `json:"scheme"`
	Value  string `json:"value"`
}

// ParticipantDescription is the result of DescribeParticipant.
type ParticipantDescription struct {
	Recipient    *Recipient        `json:"recipient"`
	Documents    []DocumentSupport `json:"documents"`
	BusinessCard *BusinessCard     `json:"businessCard,omitempty"`
	// Failures maps document types whose metadata could not be read to the
	// reason
	Failures map[string]string `json:"failures,omitempty"`
}

// Observer receives one callback per discovery operation.
type Observer interface {
	ObserveDiscovery(operation string, err error, start time.Time)
}

// ClientConfig contains configuration for the discovery client
type ClientConfig struct {
	Resolver *SMLResolver
	Reader   *Reader
	// Concurrency bounds DescribeParticipant fan-out (default 4)
	Concurrency int
	Observer    Observer
	Logger      *slog.Logger
}

// Client answers discovery questions about any Peppol participant. It
// only reads.
type Client struct {
	resolver    *SMLResolver
	reader      *Reader
	concurrency int
	observer    Observer
	logger      *slog.Logger
}

// NewClient creates a new discovery client
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Resolver == nil {
		config.Resolver = NewSMLResolver(SMLResolverConfig{Logger: config.Logger})
	}
	if config.Reader == nil {
		config.Reader = NewReader(ReaderConfig{Logger: config.Logger})
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	return &Client{
		resolver:    config.Resolver,
		reader:      config.Reader,
		concurrency: config.Concurrency,
		observer:    config.Observer,
		logger:      config.Logger,
	}
}

// ResolveSMPURL returns the service group URL of address. It only fails for
// malformed addresses.
func (c *Client) ResolveSMPURL(ctx context.Context, address string, testNetwork bool) (string, error) {
	start := time.Now()
	loc, _, err := c.locate(ctx, address, testNetwork)
	c.observe("resolve", err, start)
	if err != nil {
		return "", err
	}
	return loc.ParticipantURL, nil
}

// VerifyRecipient reads the participant's service group and lists the
// document types it accepts.
func (c *Client) VerifyRecipient(ctx context.Context, address string, testNetwork bool) (*Recipient, error) {
	start := time.Now()
	loc, participant, err := c.locate(ctx, address, testNetwork)
	var recipient *Recipient
	if err == nil {
		recipient, err = c.serviceGroup(ctx, loc, participant)
	}
	c.observe("verify_recipient", err, start)
	return recipient, err
}

func (c *Client) serviceGroup(ctx context.Context, loc Location, participant identifier.ParticipantID) (*Recipient, error) {
	body, err := c.reader.Get(ctx, loc.ParticipantURL)
	if err != nil {
		c.logger.Debug("service group not readable", "participant", participant.Address(), "url", loc.ParticipantURL, "error", err)
		return nil, fmt.Errorf("%w: %s: %v", ErrParticipantNotFound, participant.Address(), err)
	}
	hrefs, err := parseServiceGroup(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrParticipantNotFound, participant.Address(), err)
	}

	recipient := &Recipient{
		Address:       participant.Address(),
		SMPURL:        loc.ParticipantURL,
		DocumentTypes: make([]DocumentTypeRef, 0, len(hrefs)),
	}
	for _, href := range hrefs {
		id := documentTypeFromHref(href)
		name, ok := identifier.DocumentTypeName(id)
		if !ok {
			name = id
		}
		recipient.DocumentTypes = append(recipient.DocumentTypes, DocumentTypeRef{ID: id, Name: name})
	}
	return recipient, nil
}

// VerifyDocumentSupport reads the participant's metadata for documentType
// and returns the endpoint that would receive it.
func (c *Client) VerifyDocumentSupport(ctx context.Context, address, documentType string, testNetwork bool) (*DocumentSupport, error) {
	start := time.Now()
	loc, participant, err := c.locate(ctx, address, testNetwork)
	var support *DocumentSupport
	if err == nil {
		support, err = c.documentSupport(ctx, loc, participant, documentType)
	}
	c.observe("verify_document", err, start)
	return support, err
}

func (c *Client) documentSupport(ctx context.Context, loc Location, participant identifier.ParticipantID, documentType string) (*DocumentSupport, error) {
	documentType = strings.TrimSpace(documentType)
	body, err := c.reader.Get(ctx, metadataURL(loc.ParticipantURL, documentType))
	if err != nil {
		return nil, fmt.Errorf("%w: %s for %s: %v", ErrEndpointNotFound, documentType, participant.Address(), err)
	}
	info, signed, err := parseServiceMetadata(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s for %s: %v", ErrEndpointNotFound, documentType, participant.Address(), err)
	}

	support := &DocumentSupport{DocumentType: documentType}
	if id := strings.TrimSpace(info.DocumentIdentifier.Value); id != "" {
		support.DocumentType = id
	}

	var chosen *endpointXML
	for _, proc := range info.Processes {
		support.Processes = append(support.Processes, strings.TrimSpace(proc.ProcessIdentifier.Value))
		for i := range proc.Endpoints {
			ep := &proc.Endpoints[i]
			if endpointAddress(ep) == "" {
				continue
			}
			if chosen == nil || (ep.TransportProfile == transportPeppolAS4 && chosen.TransportProfile != transportPeppolAS4) {
				chosen = ep
			}
		}
	}
	if chosen == nil {
		return nil, fmt.Errorf("%w: %s for %s", ErrEndpointNotFound, documentType, participant.Address())
	}

	support.Endpoint = endpointAddress(chosen)
	support.TransportProfile = chosen.TransportProfile
	support.ServiceDescription = optionalString(chosen.ServiceDescription)
	support.TechnicalContactURL = optionalString(chosen.TechnicalContactURL)
	if cert, err := parseEndpointCertificate(chosen.Certificate); err == nil {
		support.CertificateExpiry = optionalTime(cert.NotAfter)
		support.ServiceProvider = certificateProvider(cert)
	} else {
		c.logger.Debug("endpoint certificate not parsed", "participant", participant.Address(), "error", err)
	}
	if signed {
		verified := verifySignature(body)
		support.SignatureVerified = &verified
	}
	return support, nil
}

// FetchBusinessCard reads the participant's directory entry. A missing card
// yields nil without error.
func (c *Client) FetchBusinessCard(ctx context.Context, address string, testNetwork bool) (*BusinessCard, error) {
	start := time.Now()
	loc, participant, err := c.locate(ctx, address, testNetwork)
	var card *BusinessCard
	if err == nil {
		card, err = c.businessCard(ctx, loc, participant)
	}
	c.observe("business_card", err, start)
	return card, err
}

func (c *Client) businessCard(ctx context.Context, loc Location, participant identifier.ParticipantID) (*BusinessCard, error) {
	body, err := c.reader.Get(ctx, businessCardURL(loc, participant.Address()))
	if errors.Is(err, ErrNotPublished) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch business card of %s: %w", participant.Address(), err)
	}
	return parseBusinessCard(body)
}

// DescribeParticipant combines the service group, the metadata of every
// listed document type and the business card. Metadata reads run
// concurrently; a document type that cannot be read is reported in
// Failures instead of failing the whole description.
func (c *Client) DescribeParticipant(ctx context.Context, address string, testNetwork bool) (*ParticipantDescription, error) {
	start := time.Now()
	desc, err := c.describe(ctx, address, testNetwork)
	c.observe("describe", err, start)
	return desc, err
}

func (c *Client) describe(ctx context.Context, address string, testNetwork bool) (*ParticipantDescription, error) {
	loc, participant, err := c.locate(ctx, address, testNetwork)
	if err != nil {
		return nil, err
	}
	recipient, err := c.serviceGroup(ctx, loc, participant)
	if err != nil {
		return nil, err
	}

	desc := &ParticipantDescription{
		Recipient: recipient,
		Documents: make([]DocumentSupport, len(recipient.DocumentTypes)),
	}
	found := make([]bool, len(recipient.DocumentTypes))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, ref := range recipient.DocumentTypes {
		g.Go(func() error {
			support, err := c.documentSupport(gctx, loc, participant, ref.ID)
			if err != nil {
				mu.Lock()
				if desc.Failures == nil {
					desc.Failures = make(map[string]string)
				}
				desc.Failures[ref.ID] = err.Error()
				mu.Unlock()
				return nil
			}
			desc.Documents[i] = *support
			found[i] = true
			return nil
		})
	}
	g.Go(func() error {
		card, err := c.businessCard(gctx, loc, participant)
		if err != nil {
			c.logger.Debug("business card not readable", "participant", participant.Address(), "error", err)
			return nil
		}
		desc.BusinessCard = card
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	documents := desc.Documents[:0]
	for i, ok := range found {
		if ok {
			documents = append(documents, desc.Documents[i])
		}
	}
	desc.Documents = documents
	return desc, nil
}

func (c *Client) locate(ctx context.Context, address string, testNetwork bool) (Location, identifier.ParticipantID, error) {
	participant, err := identifier.ParseAddress(address)
	if err != nil {
		return Location{}, identifier.ParticipantID{}, err
	}
	return c.resolver.Resolve(ctx, participant, NetworkFor(testNetwork)), participant, nil
}

func (c *Client) observe(operation string, err error, start time.Time) {
	if c.observer != nil {
		c.observer.ObserveDiscovery(operation, err, start)
	}
}

func endpointAddress(ep *endpointXML) string {
	if addr := strings.TrimSpace(ep.Address); addr != "" {
		return addr
	}
	return strings.TrimSpace(ep.EndpointURI)
}

// parseEndpointCertificate accepts base64 DER (with or without line breaks)
// or a PEM document.
func parseEndpointCertificate(raw string) (*x509.Certificate, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("no certificate published")
	}
	if strings.Contains(raw, "-----BEGIN") {
		block, _ := pem.Decode([]byte(raw))
		if block == nil {
			return nil, errors.New("invalid PEM certificate")
		}
		return x509.ParseCertificate(block.Bytes)
	}
	der, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(raw), ""))
	if err != nil {
		return nil, fmt.Errorf("invalid base64 certificate: %w", err)
	}
	return x509.ParseCertificate(der)
}

// certificateProvider names the access point operator from the certificate
// subject.
func certificateProvider(cert *x509.Certificate) *string {
	if len(cert.Subject.Organization) > 0 {
		return optionalString(cert.Subject.Organization[0])
	}
	return optionalString(cert.Subject.CommonName)
}

// verifySignature checks the XML digital signature of a
// SignedServiceMetadata document against its embedded certificate. It does
// not validate the certificate chain.
func verifySignature(body []byte) bool {
	validator, err := signedxml.NewValidator(string(body))
	if err != nil {
		return false
	}
	_, err = validator.ValidateReferences()
	return err == nil
}
