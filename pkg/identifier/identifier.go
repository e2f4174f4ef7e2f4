package identifier

import (
	"errors"
	"fmt"
	"strings"
)

// Peppol identifier schemes used in registry URLs and XML envelopes.
const (
	// ParticipantScheme is the Peppol participant identifier scheme
	ParticipantScheme = "iso6523-actorid-upis"
	// DocumentScheme is the Peppol document type identifier scheme
	DocumentScheme = "busdox-docid-qns"
	// ProcessScheme is the Peppol process identifier scheme
	ProcessScheme = "cenbii-procid-ubl"
)

// ISO 6523 ICD codes with local meaning.
const (
	// SchemeEnterpriseNumber is the Belgian enterprise number (KBO/BCE) registry
	SchemeEnterpriseNumber = "0208"
	// SchemeBelgianVAT is the Belgian VAT number registry
	SchemeBelgianVAT = "9925"
)

var (
	// ErrInvalidIdentifier is returned when an identifier or scheme is empty
	// after normalization
	ErrInvalidIdentifier = errors.New("invalid identifier")
	// ErrInvalidCapability is returned when a document type or process is empty
	ErrInvalidCapability = errors.New("invalid capability")
)

// NormalizeScheme returns the canonical form of a scheme code: the digits of
// raw, in order. It fails when no digit remains.
func NormalizeScheme(raw string) (string, error) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("%w: scheme %q", ErrInvalidIdentifier, raw)
	}
	return b.String(), nil
}

// NormalizeIdentifier lower-cases raw and keeps only ASCII letters and
// digits. It fails when nothing remains.
func NormalizeIdentifier(raw string) (string, error) {
	var b strings.Builder
	for _, r := range strings.ToLower(raw) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("%w: value %q", ErrInvalidIdentifier, raw)
	}
	return b.String(), nil
}

// ParticipantID identifies a legal entity on the Peppol network.
// The zero value is not valid; use NewParticipantID or ParseAddress.
type ParticipantID struct {
	Scheme string `json:"scheme" bson:"scheme"`
	Value  string `json:"value" bson:"value"`
}

// NewParticipantID normalizes scheme and value into a ParticipantID.
func NewParticipantID(scheme, value string) (ParticipantID, error) {
	s, err := NormalizeScheme(scheme)
	if err != nil {
		return ParticipantID{}, err
	}
	v, err := NormalizeIdentifier(value)
	if err != nil {
		return ParticipantID{}, err
	}
	return ParticipantID{Scheme: s, Value: v}, nil
}

// ParseAddress parses a participant address of the form "scheme:value".
// A leading "iso6523-actorid-upis::" prefix is accepted and dropped.
func ParseAddress(address string) (ParticipantID, error) {
	address = strings.TrimSpace(address)
	address = strings.TrimPrefix(address, ParticipantScheme+"::")
	scheme, value, ok := strings.Cut(address, ":")
	if !ok {
		return ParticipantID{}, fmt.Errorf("%w: address %q must be scheme:value", ErrInvalidIdentifier, address)
	}
	return NewParticipantID(scheme, value)
}

// FromEnterpriseNumber derives the 0208 participant identifier from a
// Belgian enterprise number such as "0659.689.080" or "BE0659689080".
func FromEnterpriseNumber(enterpriseNumber string) (ParticipantID, error) {
	var b strings.Builder
	for _, r := range enterpriseNumber {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return NewParticipantID(SchemeEnterpriseNumber, b.String())
}

// FromVATNumber derives the 9925 participant identifier from a VAT number.
func FromVATNumber(vatNumber string) (ParticipantID, error) {
	return NewParticipantID(SchemeBelgianVAT, vatNumber)
}

// Address returns the "scheme:value" participant address.
func (p ParticipantID) Address() string {
	return p.Scheme + ":" + p.Value
}

// URN returns the identifier qualified with the Peppol participant scheme,
// as used in registry paths.
func (p ParticipantID) URN() string {
	return ParticipantScheme + "::" + p.Address()
}

// IsZero reports whether p is the zero value.
func (p ParticipantID) IsZero() bool {
	return p.Scheme == "" && p.Value == ""
}

func (p ParticipantID) String() string {
	return p.Address()
}

// Capability is a (document type, process) pair a participant declares it
// can receive.
type Capability struct {
	DocumentType string `json:"documentType" bson:"doc_type_id"`
	Process      string `json:"process" bson:"process_id"`
}

// NewCapability trims both halves and rejects empty ones. Document type and
// process identifiers are case-sensitive in Peppol and are kept verbatim.
func NewCapability(documentType, process string) (Capability, error) {
	c := Capability{
		DocumentType: strings.TrimSpace(documentType),
		Process:      strings.TrimSpace(process),
	}
	if c.DocumentType == "" || c.Process == "" {
		return Capability{}, fmt.Errorf("%w: document type and process are required", ErrInvalidCapability)
	}
	return c, nil
}

// Key returns the uniqueness key of the capability.
func (c Capability) Key() string {
	return c.DocumentType + "|" + c.Process
}

// Equal reports whether c and o name the same capability.
func (c Capability) Equal(o Capability) bool {
	return c.Key() == o.Key()
}
