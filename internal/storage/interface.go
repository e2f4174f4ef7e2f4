// Package storage provides data storage interfaces and implementations
// for the registration service.
//
// # Interface Design
//
// The storage layer is organized into focused interfaces:
//
//   - [TeamStore]: Teams and their network flags
//   - [CompanyStore]: Companies whose participants are published
//   - [IdentifierStore]: Peppol identifiers of companies, including the
//     identifiers derived from enterprise and VAT numbers
//   - [DocumentTypeStore]: Declared (document type, process) capabilities
//
// The [Store] interface combines all sub-stores for convenience.
//
// # Implementations
//
// The mongodb sub-package is the production backend. The sqlite
// sub-package serves development and tests.
//
// # Uniqueness
//
// Identifier rows carry a scope key (see [ScopeKey]). Backends enforce
// uniqueness of (scheme, value, scope key) and report violations as
// [ErrDuplicate].
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a write violates a uniqueness constraint
	ErrDuplicate = errors.New("duplicate record")
)

// Store is the main storage interface combining all sub-stores
type Store interface {
	TeamStore
	CompanyStore
	IdentifierStore
	DocumentTypeStore

	// Close releases storage resources
	Close(ctx context.Context) error

	// Ping checks database connectivity
	Ping(ctx context.Context) error
}

// TeamStore manages team data
type TeamStore interface {
	CreateTeam(ctx context.Context, team *Team) error
	GetTeam(ctx context.Context, id string) (*Team, error)
	UpdateTeam(ctx context.Context, team *Team) error
}

// CompanyStore manages company data
type CompanyStore interface {
	CreateCompany(ctx context.Context, company *Company) error
	GetCompany(ctx context.Context, id string) (*Company, error)
	UpdateCompany(ctx context.Context, company *Company) error

	// DeleteCompany deletes a company together with its identifiers and
	// document types
	DeleteCompany(ctx context.Context, id string) error

	ListCompanies(ctx context.Context, teamID string) ([]*Company, error)
}

// IdentifierStore manages identifier data
type IdentifierStore interface {
	CreateIdentifier(ctx context.Context, id *Identifier) error
	GetIdentifier(ctx context.Context, id string) (*Identifier, error)
	UpdateIdentifier(ctx context.Context, id *Identifier) error
	DeleteIdentifier(ctx context.Context, id string) error
	ListIdentifiers(ctx context.Context, companyID string) ([]*Identifier, error)

	// FindIdentifierOwners returns every stored identifier with the given
	// normalized scheme and value, joined with its team's flags
	FindIdentifierOwners(ctx context.Context, scheme, value string) ([]IdentifierOwner, error)
}

// DocumentTypeStore manages declared capabilities
type DocumentTypeStore interface {
	CreateDocumentType(ctx context.Context, dt *DocumentType) error
	GetDocumentType(ctx context.Context, id string) (*DocumentType, error)
	UpdateDocumentType(ctx context.Context, dt *DocumentType) error
	DeleteDocumentType(ctx context.Context, id string) error
	ListDocumentTypes(ctx context.Context, companyID string) ([]*DocumentType, error)
}

// Domain models

// Team owns companies. Its flags decide which network they are published on.
type Team struct {
	ID           string `bson:"_id" json:"id"`
	Name         string `bson:"name" json:"name"`
	IsPlayground bool   `bson:"is_playground" json:"isPlayground"`
	// UseTestNetwork publishes playground companies on the Peppol test network
	UseTestNetwork bool `bson:"use_test_network" json:"useTestNetwork"`
	// SkipSMPRegistration disables all registry writes for the team
	SkipSMPRegistration bool      `bson:"skip_smp_registration" json:"skipSmpRegistration"`
	CreatedAt           time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt           time.Time `bson:"updated_at" json:"updatedAt"`
}

// Company is a legal entity that may receive documents over Peppol
type Company struct {
	ID               string `bson:"_id" json:"id"`
	TeamID           string `bson:"team_id" json:"teamId"`
	Name             string `bson:"name" json:"name"`
	Address          string `bson:"address" json:"address"`
	PostalCode       string `bson:"postal_code" json:"postalCode"`
	City             string `bson:"city" json:"city"`
	Country          string `bson:"country" json:"country"`
	EnterpriseNumber string `bson:"enterprise_number,omitempty" json:"enterpriseNumber,omitempty"`
	VATNumber        string `bson:"vat_number,omitempty" json:"vatNumber,omitempty"`
	// IsSMPRecipient controls whether the company is published at all
	IsSMPRecipient bool      `bson:"is_smp_recipient" json:"isSmpRecipient"`
	CreatedAt      time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt      time.Time `bson:"updated_at" json:"updatedAt"`
}

// IdentifierSource records why an identifier row exists
type IdentifierSource string

const (
	SourceEnterpriseNumber IdentifierSource = "enterprise_number"
	SourceVATNumber        IdentifierSource = "vat_number"
	SourceCustom           IdentifierSource = "custom"
)

// Identifier is a Peppol participant identifier of a company. Scheme and
// Value are stored normalized.
type Identifier struct {
	ID        string           `bson:"_id" json:"id"`
	CompanyID string           `bson:"company_id" json:"companyId"`
	TeamID    string           `bson:"team_id" json:"teamId"`
	Scheme    string           `bson:"scheme" json:"scheme"`
	Value     string           `bson:"value" json:"value"`
	Source    IdentifierSource `bson:"source" json:"source"`
	ScopeKey  string           `bson:"scope_key" json:"-"`
	// RegisteredNetwork is the network the identifier was last published
	// on, empty when it is not published
	RegisteredNetwork string    `bson:"registered_network,omitempty" json:"registeredNetwork,omitempty"`
	CreatedAt         time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt         time.Time `bson:"updated_at" json:"updatedAt"`
}

// IdentifierOwner is a stored identifier joined with the flags of the team
// that owns it
type IdentifierOwner struct {
	IdentifierID   string
	CompanyID      string
	TeamID         string
	IsPlayground   bool
	UseTestNetwork bool
}

// DocumentType is a (document type, process) capability of a company
type DocumentType struct {
	ID        string    `bson:"_id" json:"id"`
	CompanyID string    `bson:"company_id" json:"companyId"`
	DocTypeID string    `bson:"doc_type_id" json:"docTypeId"`
	ProcessID string    `bson:"process_id" json:"processId"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
}

// ScopeKey is the uniqueness scope of identifiers owned by team:
// "production" for regular teams, "testnet" for playground teams on the
// test network and "team:<id>" for other playground teams.
func ScopeKey(team *Team) string {
	switch {
	case !team.IsPlayground:
		return "production"
	case team.UseTestNetwork:
		return "testnet"
	default:
		return "team:" + team.ID
	}
}
