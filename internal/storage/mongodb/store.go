// Package mongodb implements storage interfaces using MongoDB
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/brbxai/recommand-peppol-sub001/internal/storage"
)

// Store implements storage.Store using MongoDB
type Store struct {
	client *mongo.Client
	db     *mongo.Database

	// Collections
	teams         *mongo.Collection
	companies     *mongo.Collection
	identifiers   *mongo.Collection
	documentTypes *mongo.Collection
}

// Config holds MongoDB connection settings
type Config struct {
	URI      string
	Database string
}

// NewStore creates a new MongoDB store
func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("pinging MongoDB: %w", err)
	}

	db := client.Database(cfg.Database)
	s := &Store{
		client:        client,
		db:            db,
		teams:         db.Collection("teams"),
		companies:     db.Collection("companies"),
		identifiers:   db.Collection("identifiers"),
		documentTypes: db.Collection("document_types"),
	}

	if err := s.createIndexes(ctx); err != nil {
		return nil, fmt.Errorf("creating indexes: %w", err)
	}

	return s, nil
}

func (s *Store) createIndexes(ctx context.Context) error {
	_, err := s.companies.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "team_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("creating company indexes: %w", err)
	}

	// The unique index closes the check-then-insert race between concurrent
	// registrations of the same identifier.
	_, err = s.identifiers.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "scheme", Value: 1}, {Key: "value", Value: 1}, {Key: "scope_key", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "company_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("creating identifier indexes: %w", err)
	}

	_, err = s.documentTypes.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "company_id", Value: 1}, {Key: "doc_type_id", Value: 1}, {Key: "process_id", Value: 1}}, Options: options.Index().SetUnique(true)},
	})
	if err != nil {
		return fmt.Errorf("creating document type indexes: %w", err)
	}

	return nil
}

// Close closes the MongoDB connection
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping verifies database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func newID() string {
	return primitive.NewObjectID().Hex()
}

// insert wraps InsertOne, mapping duplicate keys to storage.ErrDuplicate
func insert(ctx context.Context, coll *mongo.Collection, doc any) error {
	_, err := coll.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", storage.ErrDuplicate, err)
	}
	return err
}

// replace wraps ReplaceOne, mapping a missed filter to storage.ErrNotFound
func replace(ctx context.Context, coll *mongo.Collection, id string, doc any) error {
	res, err := coll.ReplaceOne(ctx, bson.M{"_id": id}, doc)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", storage.ErrDuplicate, err)
	}
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func findOne[T any](ctx context.Context, coll *mongo.Collection, id string) (*T, error) {
	var doc T
	err := coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func findAll[T any](ctx context.Context, coll *mongo.Collection, filter bson.M) ([]*T, error) {
	cursor, err := coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []*T
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func deleteOne(ctx context.Context, coll *mongo.Collection, id string) error {
	res, err := coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// TeamStore implementation

func (s *Store) CreateTeam(ctx context.Context, team *storage.Team) error {
	team.CreatedAt = time.Now()
	team.UpdatedAt = team.CreatedAt
	if team.ID == "" {
		team.ID = newID()
	}
	return insert(ctx, s.teams, team)
}

func (s *Store) GetTeam(ctx context.Context, id string) (*storage.Team, error) {
	return findOne[storage.Team](ctx, s.teams, id)
}

func (s *Store) UpdateTeam(ctx context.Context, team *storage.Team) error {
	team.UpdatedAt = time.Now()
	return replace(ctx, s.teams, team.ID, team)
}

// CompanyStore implementation

func (s *Store) CreateCompany(ctx context.Context, company *storage.Company) error {
	company.CreatedAt = time.Now()
	company.UpdatedAt = company.CreatedAt
	if company.ID == "" {
		company.ID = newID()
	}
	return insert(ctx, s.companies, company)
}

func (s *Store) GetCompany(ctx context.Context, id string) (*storage.Company, error) {
	return findOne[storage.Company](ctx, s.companies, id)
}

func (s *Store) UpdateCompany(ctx context.Context, company *storage.Company) error {
	company.UpdatedAt = time.Now()
	return replace(ctx, s.companies, company.ID, company)
}

func (s *Store) DeleteCompany(ctx context.Context, id string) error {
	if _, err := s.identifiers.DeleteMany(ctx, bson.M{"company_id": id}); err != nil {
		return fmt.Errorf("deleting identifiers: %w", err)
	}
	if _, err := s.documentTypes.DeleteMany(ctx, bson.M{"company_id": id}); err != nil {
		return fmt.Errorf("deleting document types: %w", err)
	}
	return deleteOne(ctx, s.companies, id)
}

func (s *Store) ListCompanies(ctx context.Context, teamID string) ([]*storage.Company, error) {
	return findAll[storage.Company](ctx, s.companies, bson.M{"team_id": teamID})
}

// IdentifierStore implementation

func (s *Store) CreateIdentifier(ctx context.Context, id *storage.Identifier) error {
	id.CreatedAt = time.Now()
	id.UpdatedAt = id.CreatedAt
	if id.ID == "" {
		id.ID = newID()
	}
	return insert(ctx, s.identifiers, id)
}

func (s *Store) GetIdentifier(ctx context.Context, id string) (*storage.Identifier, error) {
	return findOne[storage.Identifier](ctx, s.identifiers, id)
}

func (s *Store) UpdateIdentifier(ctx context.Context, id *storage.Identifier) error {
	id.UpdatedAt = time.Now()
	return replace(ctx, s.identifiers, id.ID, id)
}

func (s *Store) DeleteIdentifier(ctx context.Context, id string) error {
	return deleteOne(ctx, s.identifiers, id)
}

func (s *Store) ListIdentifiers(ctx context.Context, companyID string) ([]*storage.Identifier, error) {
	return findAll[storage.Identifier](ctx, s.identifiers, bson.M{"company_id": companyID})
}

func (s *Store) FindIdentifierOwners(ctx context.Context, scheme, value string) ([]storage.IdentifierOwner, error) {
	rows, err := findAll[storage.Identifier](ctx, s.identifiers, bson.M{"scheme": scheme, "value": value})
	if err != nil {
		return nil, err
	}

	owners := make([]storage.IdentifierOwner, 0, len(rows))
	teams := make(map[string]*storage.Team)
	for _, row := range rows {
		team, ok := teams[row.TeamID]
		if !ok {
			team, err = s.GetTeam(ctx, row.TeamID)
			if err != nil {
				return nil, fmt.Errorf("loading team %s: %w", row.TeamID, err)
			}
			teams[row.TeamID] = team
		}
		owners = append(owners, storage.IdentifierOwner{
			IdentifierID:   row.ID,
			CompanyID:      row.CompanyID,
			TeamID:         row.TeamID,
			IsPlayground:   team.IsPlayground,
			UseTestNetwork: team.UseTestNetwork,
		})
	}
	return owners, nil
}

// DocumentTypeStore implementation

func (s *Store) CreateDocumentType(ctx context.Context, dt *storage.DocumentType) error {
	dt.CreatedAt = time.Now()
	if dt.ID == "" {
		dt.ID = newID()
	}
	return insert(ctx, s.documentTypes, dt)
}

func (s *Store) GetDocumentType(ctx context.Context, id string) (*storage.DocumentType, error) {
	return findOne[storage.DocumentType](ctx, s.documentTypes, id)
}

func (s *Store) UpdateDocumentType(ctx context.Context, dt *storage.DocumentType) error {
	return replace(ctx, s.documentTypes, dt.ID, dt)
}

func (s *Store) DeleteDocumentType(ctx context.Context, id string) error {
	return deleteOne(ctx, s.documentTypes, id)
}

func (s *Store) ListDocumentTypes(ctx context.Context, companyID string) ([]*storage.DocumentType, error) {
	return findAll[storage.DocumentType](ctx, s.documentTypes, bson.M{"company_id": companyID})
}

var _ storage.Store = (*Store)(nil)
