package discovery

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/brbxai/recommand-peppol-sub001/pkg/identifier"
	"github.com/brbxai/recommand-peppol-sub001/pkg/transport"
)

// ErrNotPublished is returned by Reader.Get when the registry answers 404
var ErrNotPublished = errors.New("resource not published")

// maxResponseSize bounds the size of a third-party registry response
const maxResponseSize = 4 << 20

// ReaderConfig contains configuration for the anonymous registry reader
type ReaderConfig struct {
	// HTTPClient is the HTTP client to use (optional)
	// If nil, transport.NewHTTPClient(nil) is used
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Reader fetches published records from third-party registries.
type Reader struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewReader creates a new registry reader
func NewReader(config ReaderConfig) *Reader {
	client := config.HTTPClient
	if client == nil {
		client = transport.NewHTTPClient(nil)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Reader{httpClient: client, logger: config.Logger}
}

// Get fetches rawURL. A 404 yields ErrNotPublished; any other non-200
// status is an error carrying the status code.
func (r *Reader) Get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/xml")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("SMP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotPublished, rawURL)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("SMP returned status %d for %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	r.logger.Debug("SMP read", "url", rawURL, "bytes", len(body))
	return body, nil
}

// Wire structures. Tags carry no namespace so that both prefixed and
// default-namespace documents decode; repeated elements always decode into
// slices.

type identifierXML struct {
	Scheme string `xml:"scheme,attr"`
	Value  string `xml:",chardata"`
}

type serviceGroupXML struct {
	ParticipantIdentifier identifierXML `xml:"ParticipantIdentifier"`
	References            []struct {
		Href string `xml:"href,attr"`
	} `xml:"ServiceMetadataReferenceCollection>ServiceMetadataReference"`
}

type endpointXML struct {
	TransportProfile    string `xml:"transportProfile,attr"`
	Address             string `xml:"EndpointReference>Address"`
	EndpointURI         string `xml:"EndpointURI"`
	Certificate         string `xml:"Certificate"`
	ServiceDescription  string `xml:"ServiceDescription"`
	TechnicalContactURL string `xml:"TechnicalContactUrl"`
}

type serviceInformationXML struct {
	ParticipantIdentifier identifierXML `xml:"ParticipantIdentifier"`
	DocumentIdentifier    identifierXML `xml:"DocumentIdentifier"`
	Processes             []struct {
		ProcessIdentifier identifierXML `xml:"ProcessIdentifier"`
		Endpoints         []endpointXML `xml:"ServiceEndpointList>Endpoint"`
	} `xml:"ProcessList>Process"`
}

// metadataXML decodes both a bare ServiceMetadata root and one wrapped in
// SignedServiceMetadata.
type metadataXML struct {
	XMLName            xml.Name
	ServiceInformation *serviceInformationXML `xml:"ServiceInformation"`
	ServiceMetadata    *struct {
		ServiceInformation *serviceInformationXML `xml:"ServiceInformation"`
	} `xml:"ServiceMetadata"`
}

type businessCardXML struct {
	ParticipantIdentifier identifierXML `xml:"ParticipantIdentifier"`
	Entities              []struct {
		Names                   []nameXML       `xml:"Name"`
		CountryCode             string          `xml:"CountryCode"`
		GeographicalInformation string          `xml:"GeographicalInformation"`
		Identifiers             []identifierXML `xml:"Identifier"`
		RegistrationDate        string          `xml:"RegistrationDate"`
	} `xml:"BusinessEntity"`
}

// nameXML covers directory versions that carry the name as an attribute
// instead of element text.
type nameXML struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

func (n nameXML) text() string {
	if v := strings.TrimSpace(n.Value); v != "" {
		return v
	}
	return strings.TrimSpace(n.Name)
}

func parseServiceGroup(data []byte) ([]string, error) {
	var sg serviceGroupXML
	if err := xml.Unmarshal(data, &sg); err != nil {
		return nil, fmt.Errorf("failed to parse ServiceGroup: %w", err)
	}
	hrefs := make([]string, 0, len(sg.References))
	for _, ref := range sg.References {
		if href := strings.TrimSpace(ref.Href); href != "" {
			hrefs = append(hrefs, href)
		}
	}
	return hrefs, nil
}

// parseServiceMetadata returns the service information and whether the
// document was a SignedServiceMetadata.
func parseServiceMetadata(data []byte) (*serviceInformationXML, bool, error) {
	var doc metadataXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, false, fmt.Errorf("failed to parse ServiceMetadata: %w", err)
	}
	switch {
	case doc.XMLName.Local == "SignedServiceMetadata" && doc.ServiceMetadata != nil && doc.ServiceMetadata.ServiceInformation != nil:
		return doc.ServiceMetadata.ServiceInformation, true, nil
	case doc.XMLName.Local == "ServiceMetadata" && doc.ServiceInformation != nil:
		return doc.ServiceInformation, false, nil
	}
	return nil, false, fmt.Errorf("unexpected metadata root %q without ServiceInformation", doc.XMLName.Local)
}

func parseBusinessCard(data []byte) (*BusinessCard, error) {
	var bc businessCardXML
	if err := xml.Unmarshal(data, &bc); err != nil {
		return nil, fmt.Errorf("failed to parse BusinessCard: %w", err)
	}
	card := &BusinessCard{Participant: strings.TrimSpace(bc.ParticipantIdentifier.Value)}
	for _, e := range bc.Entities {
		entity := BusinessEntity{CountryCode: strings.TrimSpace(e.CountryCode)}
		if len(e.Names) > 0 {
			entity.Name = e.Names[0].text()
		}
		entity.GeographicalInformation = optionalString(e.GeographicalInformation)
		entity.RegistrationDate = optionalString(e.RegistrationDate)
		for _, id := range e.Identifiers {
			entity.Identifiers = append(entity.Identifiers, EntityIdentifier{
				Scheme: strings.TrimSpace(id.Scheme),
				Value:  strings.TrimSpace(id.Value),
			})
		}
		card.Entities = append(card.Entities, entity)
	}
	return card, nil
}

// documentTypeFromHref extracts the document type identifier from a
// service metadata reference URL: the segment after "/services/" (or the
// last segment), URL-decoded, with a leading "<scheme>::" removed.
func documentTypeFromHref(href string) string {
	segment := href
	if i := strings.LastIndex(href, "/services/"); i >= 0 {
		segment = href[i+len("/services/"):]
	} else if i := strings.LastIndex(href, "/"); i >= 0 {
		segment = href[i+1:]
	}
	if decoded, err := url.PathUnescape(segment); err == nil {
		segment = decoded
	}
	if scheme, rest, ok := strings.Cut(segment, "::"); ok && !strings.Contains(scheme, ":") {
		segment = rest
	}
	return segment
}

func metadataURL(participantURL, documentType string) string {
	return participantURL + "/services/" + identifier.DocumentScheme + "::" + url.QueryEscape(documentType)
}

func businessCardURL(loc Location, address string) string {
	return loc.BaseURL + "/businesscard/" + participantPath(address)
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
