// Package sqlite implements storage interfaces on SQLite, for development
// and tests.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/brbxai/recommand-peppol-sub001/internal/storage"
)

//go:embed schema.sql
var schema string

// Store implements storage.Store using SQLite
type Store struct {
	db *sql.DB
}

// Open opens (and migrates) the database at path. ":memory:" yields an
// ephemeral database.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening SQLite: %w", err)
	}
	// One connection: every connection to ":memory:" is a separate database,
	// and SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close(ctx context.Context) error {
	return s.db.Close()
}

// Ping verifies database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return storage.ErrNotFound
	case errors.Is(err, sqlite3.CONSTRAINT_UNIQUE), errors.Is(err, sqlite3.CONSTRAINT_PRIMARYKEY):
		return fmt.Errorf("%w: %v", storage.ErrDuplicate, err)
	}
	return err
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

// timeLayout is fixed-width so that stored timestamps sort as text
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func stamp(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

type timeScanner struct {
	dst *time.Time
}

func (ts timeScanner) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*ts.dst = time.Time{}
	case time.Time:
		*ts.dst = v
	case string:
		return ts.parse(v)
	case []byte:
		return ts.parse(string(v))
	case int64:
		*ts.dst = time.Unix(v, 0).UTC()
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
	return nil
}

func (ts timeScanner) parse(v string) error {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return fmt.Errorf("parsing timestamp %q: %w", v, err)
	}
	*ts.dst = t
	return nil
}

// TeamStore implementation

const teamColumns = `id, name, is_playground, use_test_network, skip_smp_registration, created_at, updated_at`

func scanTeam(row scanner) (*storage.Team, error) {
	var t storage.Team
	err := row.Scan(&t.ID, &t.Name, &t.IsPlayground, &t.UseTestNetwork, &t.SkipSMPRegistration, timeScanner{&t.CreatedAt}, timeScanner{&t.UpdatedAt})
	if err != nil {
		return nil, mapError(err)
	}
	return &t, nil
}

func (s *Store) CreateTeam(ctx context.Context, team *storage.Team) error {
	team.CreatedAt = time.Now().UTC()
	team.UpdatedAt = team.CreatedAt
	if team.ID == "" {
		team.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO teams (`+teamColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		team.ID, team.Name, team.IsPlayground, team.UseTestNetwork, team.SkipSMPRegistration, stamp(team.CreatedAt), stamp(team.UpdatedAt))
	return mapError(err)
}

func (s *Store) GetTeam(ctx context.Context, id string) (*storage.Team, error) {
	return scanTeam(s.db.QueryRowContext(ctx, `SELECT `+teamColumns+` FROM teams WHERE id = ?`, id))
}

func (s *Store) UpdateTeam(ctx context.Context, team *storage.Team) error {
	team.UpdatedAt = time.Now().UTC()
	return s.exec(ctx, `UPDATE teams SET name = ?, is_playground = ?, use_test_network = ?, skip_smp_registration = ?, updated_at = ? WHERE id = ?`,
		team.Name, team.IsPlayground, team.UseTestNetwork, team.SkipSMPRegistration, stamp(team.UpdatedAt), team.ID)
}

// CompanyStore implementation

const companyColumns = `id, team_id, name, address, postal_code, city, country, enterprise_number, vat_number, is_smp_recipient, created_at, updated_at`

func scanCompany(row scanner) (*storage.Company, error) {
	var c storage.Company
	err := row.Scan(&c.ID, &c.TeamID, &c.Name, &c.Address, &c.PostalCode, &c.City, &c.Country,
		&c.EnterpriseNumber, &c.VATNumber, &c.IsSMPRecipient, timeScanner{&c.CreatedAt}, timeScanner{&c.UpdatedAt})
	if err != nil {
		return nil, mapError(err)
	}
	return &c, nil
}

func (s *Store) CreateCompany(ctx context.Context, c *storage.Company) error {
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO companies (`+companyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.TeamID, c.Name, c.Address, c.PostalCode, c.City, c.Country, c.EnterpriseNumber, c.VATNumber, c.IsSMPRecipient, stamp(c.CreatedAt), stamp(c.UpdatedAt))
	return mapError(err)
}

func (s *Store) GetCompany(ctx context.Context, id string) (*storage.Company, error) {
	return scanCompany(s.db.QueryRowContext(ctx, `SELECT `+companyColumns+` FROM companies WHERE id = ?`, id))
}

func (s *Store) UpdateCompany(ctx context.Context, c *storage.Company) error {
	c.UpdatedAt = time.Now().UTC()
	return s.exec(ctx, `UPDATE companies SET team_id = ?, name = ?, address = ?, postal_code = ?, city = ?, country = ?,
		enterprise_number = ?, vat_number = ?, is_smp_recipient = ?, updated_at = ? WHERE id = ?`,
		c.TeamID, c.Name, c.Address, c.PostalCode, c.City, c.Country, c.EnterpriseNumber, c.VATNumber, c.IsSMPRecipient, stamp(c.UpdatedAt), c.ID)
}

func (s *Store) DeleteCompany(ctx context.Context, id string) error {
	return s.exec(ctx, `DELETE FROM companies WHERE id = ?`, id)
}

func (s *Store) ListCompanies(ctx context.Context, teamID string) ([]*storage.Company, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+companyColumns+` FROM companies WHERE team_id = ? ORDER BY created_at, id`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var companies []*storage.Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, err
		}
		companies = append(companies, c)
	}
	return companies, rows.Err()
}

// IdentifierStore implementation

const identifierColumns = `id, company_id, team_id, scheme, value, source, scope_key, registered_network, created_at, updated_at`

func scanIdentifier(row scanner) (*storage.Identifier, error) {
	var i storage.Identifier
	err := row.Scan(&i.ID, &i.CompanyID, &i.TeamID, &i.Scheme, &i.Value, &i.Source, &i.ScopeKey, &i.RegisteredNetwork, timeScanner{&i.CreatedAt}, timeScanner{&i.UpdatedAt})
	if err != nil {
		return nil, mapError(err)
	}
	return &i, nil
}

func (s *Store) CreateIdentifier(ctx context.Context, i *storage.Identifier) error {
	i.CreatedAt = time.Now().UTC()
	i.UpdatedAt = i.CreatedAt
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO identifiers (`+identifierColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		i.ID, i.CompanyID, i.TeamID, i.Scheme, i.Value, string(i.Source), i.ScopeKey, i.RegisteredNetwork, stamp(i.CreatedAt), stamp(i.UpdatedAt))
	return mapError(err)
}

func (s *Store) GetIdentifier(ctx context.Context, id string) (*storage.Identifier, error) {
	return scanIdentifier(s.db.QueryRowContext(ctx, `SELECT `+identifierColumns+` FROM identifiers WHERE id = ?`, id))
}

func (s *Store) UpdateIdentifier(ctx context.Context, i *storage.Identifier) error {
	i.UpdatedAt = time.Now().UTC()
	return s.exec(ctx, `UPDATE identifiers SET scheme = ?, value = ?, source = ?, scope_key = ?, registered_network = ?, updated_at = ? WHERE id = ?`,
		i.Scheme, i.Value, string(i.Source), i.ScopeKey, i.RegisteredNetwork, stamp(i.UpdatedAt), i.ID)
}

func (s *Store) DeleteIdentifier(ctx context.Context, id string) error {
	return s.exec(ctx, `DELETE FROM identifiers WHERE id = ?`, id)
}

func (s *Store) ListIdentifiers(ctx context.Context, companyID string) ([]*storage.Identifier, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+identifierColumns+` FROM identifiers WHERE company_id = ? ORDER BY created_at, id`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []*storage.Identifier
	for rows.Next() {
		i, err := scanIdentifier(rows)
		if err != nil {
			return nil, err
		}
		ids = append(ids, i)
	}
	return ids, rows.Err()
}

func (s *Store) FindIdentifierOwners(ctx context.Context, scheme, value string) ([]storage.IdentifierOwner, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT i.id, i.company_id, i.team_id, t.is_playground, t.use_test_network
		FROM identifiers i JOIN teams t ON t.id = i.team_id
		WHERE i.scheme = ? AND i.value = ?`, scheme, value)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var owners []storage.IdentifierOwner
	for rows.Next() {
		var o storage.IdentifierOwner
		if err := rows.Scan(&o.IdentifierID, &o.CompanyID, &o.TeamID, &o.IsPlayground, &o.UseTestNetwork); err != nil {
			return nil, err
		}
		owners = append(owners, o)
	}
	return owners, rows.Err()
}

// DocumentTypeStore implementation

const documentTypeColumns = `id, company_id, doc_type_id, process_id, created_at`

func scanDocumentType(row scanner) (*storage.DocumentType, error) {
	var d storage.DocumentType
	if err := row.Scan(&d.ID, &d.CompanyID, &d.DocTypeID, &d.ProcessID, timeScanner{&d.CreatedAt}); err != nil {
		return nil, mapError(err)
	}
	return &d, nil
}

func (s *Store) CreateDocumentType(ctx context.Context, d *storage.DocumentType) error {
	d.CreatedAt = time.Now().UTC()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO document_types (`+documentTypeColumns+`) VALUES (?, ?, ?, ?, ?)`,
		d.ID, d.CompanyID, d.DocTypeID, d.ProcessID, stamp(d.CreatedAt))
	return mapError(err)
}

func (s *Store) GetDocumentType(ctx context.Context, id string) (*storage.DocumentType, error) {
	return scanDocumentType(s.db.QueryRowContext(ctx, `SELECT `+documentTypeColumns+` FROM document_types WHERE id = ?`, id))
}

func (s *Store) UpdateDocumentType(ctx context.Context, d *storage.DocumentType) error {
	return s.exec(ctx, `UPDATE document_types SET doc_type_id = ?, process_id = ? WHERE id = ?`, d.DocTypeID, d.ProcessID, d.ID)
}

func (s *Store) DeleteDocumentType(ctx context.Context, id string) error {
	return s.exec(ctx, `DELETE FROM document_types WHERE id = ?`, id)
}

func (s *Store) ListDocumentTypes(ctx context.Context, companyID string) ([]*storage.DocumentType, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+documentTypeColumns+` FROM document_types WHERE company_id = ? ORDER BY created_at, id`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dts []*storage.DocumentType
	for rows.Next() {
		d, err := scanDocumentType(rows)
		if err != nil {
			return nil, err
		}
		dts = append(dts, d)
	}
	return dts, rows.Err()
}

var _ storage.Store = (*Store)(nil)
