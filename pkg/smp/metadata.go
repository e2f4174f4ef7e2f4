package smp

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"strconv"

	"github.com/brbxai/recommand-peppol-sub001/pkg/identifier"
)

// TransportPeppolAS4 is the Peppol AS4 transport profile
const TransportPeppolAS4 = "peppol-transport-as4-v2_0"

// ErrNoProcesses is returned when service metadata would list no process
var ErrNoProcesses = errors.New("service metadata requires at least one process")

// Endpoint describes the operator's AS4 access point. It is the same for
// every participant the operator publishes.
type Endpoint struct {
	// URL is the AS4 endpoint address
	URL string
	// TransportProfile defaults to TransportPeppolAS4
	TransportProfile string
	// Certificate is the AS4 certificate of the access point
	Certificate *x509.Certificate
	// Certificates, when set, is asked for the certificate on every publish
	// and takes precedence over Certificate
	Certificates CertificateSource
	// ServiceDescription is a human-readable description
	ServiceDescription string
	// TechnicalContactURL is the URL or mailto for technical contact
	TechnicalContactURL string
	// RequireBusinessLevelSignature is published as-is
	RequireBusinessLevelSignature bool
}

// CertificateSource yields the current access point certificate.
type CertificateSource interface {
	Certificate(ctx context.Context) (*x509.Certificate, error)
}

// ServiceMetadata manages per-document-type service metadata records.
type ServiceMetadata struct {
	writer   *Writer
	endpoint Endpoint
}

// NewServiceMetadata creates a service metadata manager publishing endpoint
func NewServiceMetadata(writer *Writer, endpoint Endpoint) *ServiceMetadata {
	if endpoint.TransportProfile == "" {
		endpoint.TransportProfile = TransportPeppolAS4
	}
	return &ServiceMetadata{writer: writer, endpoint: endpoint}
}

// BuildServiceMetadata renders the service metadata envelope of one
// document type with one Process element per process identifier.
func BuildServiceMetadata(p identifier.ParticipantID, documentType string, processes []string, endpoint Endpoint) ([]byte, error) {
	if len(processes) == 0 {
		return nil, ErrNoProcesses
	}
	if endpoint.Certificate == nil {
		return nil, errors.New("endpoint certificate is required")
	}
	if endpoint.TransportProfile == "" {
		endpoint.TransportProfile = TransportPeppolAS4
	}

	doc := newDocument()
	root := newSMPRoot(doc, "ServiceMetadata")
	root.CreateAttr("xmlns:wsa", NamespaceAddressing)

	info := root.CreateElement("ServiceInformation")
	addIdentifier(info, "ids:ParticipantIdentifier", identifier.ParticipantScheme, p.Address())
	addIdentifier(info, "ids:DocumentIdentifier", identifier.DocumentScheme, documentType)

	list := info.CreateElement("ProcessList")
	for _, process := range processes {
		proc := list.CreateElement("Process")
		addIdentifier(proc, "ids:ProcessIdentifier", identifier.ProcessScheme, process)

		ep := proc.CreateElement("ServiceEndpointList").CreateElement("Endpoint")
		ep.CreateAttr("transportProfile", endpoint.TransportProfile)
		ep.CreateElement("wsa:EndpointReference").CreateElement("wsa:Address").SetText(endpoint.URL)
		ep.CreateElement("RequireBusinessLevelSignature").SetText(strconv.FormatBool(endpoint.RequireBusinessLevelSignature))
		ep.CreateElement("Certificate").SetText(EncodeCertificate(endpoint.Certificate))
		ep.CreateElement("ServiceDescription").SetText(endpoint.ServiceDescription)
		ep.CreateElement("TechnicalContactUrl").SetText(endpoint.TechnicalContactURL)
	}

	return serialize(doc)
}

// Register creates or replaces the metadata of documentType for p.
func (s *ServiceMetadata) Register(ctx context.Context, p identifier.ParticipantID, documentType string, processes []string) error {
	endpoint := s.endpoint
	if endpoint.Certificates != nil {
		cert, err := endpoint.Certificates.Certificate(ctx)
		if err != nil {
			return fmt.Errorf("loading access point certificate: %w", err)
		}
		endpoint.Certificate = cert
	}
	body, err := BuildServiceMetadata(p, documentType, processes, endpoint)
	if err != nil {
		return err
	}
	if err := s.writer.Put(ctx, MetadataPath(p, documentType), body); err != nil {
		return fmt.Errorf("registering service metadata %s for %s: %w", documentType, p, err)
	}
	return nil
}

// Delete removes the metadata of documentType for p.
func (s *ServiceMetadata) Delete(ctx context.Context, p identifier.ParticipantID, documentType string) error {
	if err := s.writer.Delete(ctx, MetadataPath(p, documentType)); err != nil {
		return fmt.Errorf("deleting service metadata %s for %s: %w", documentType, p, err)
	}
	return nil
}
