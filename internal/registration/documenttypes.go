package registration

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/brbxai/recommand-peppol-sub001/internal/storage"
	"github.com/brbxai/recommand-peppol-sub001/internal/team"
	"github.com/brbxai/recommand-peppol-sub001/pkg/identifier"
)

// capabilityState is what a document type operation needs to know about
// the company it changes
type capabilityState struct {
	company   *storage.Company
	rc        *team.RegistryContext
	rows      []*storage.DocumentType
	published []*storage.Identifier
}

func (s *Service) loadCapabilityState(ctx context.Context, companyID string) (*capabilityState, error) {
	company, err := s.store.GetCompany(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("loading company %s: %w", companyID, err)
	}
	rows, err := s.store.ListDocumentTypes(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("listing document types: %w", err)
	}
	ids, err := s.store.ListIdentifiers(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("listing identifiers: %w", err)
	}
	rc, err := s.teams.Resolve(ctx, company.TeamID)
	if err != nil {
		return nil, err
	}

	st := &capabilityState{company: company, rc: rc, rows: rows}
	if company.IsSMPRecipient && !rc.Skip {
		if st.published, err = published(ids, rc); err != nil {
			return nil, err
		}
	}
	return st, nil
}

func duplicateOf(rows []*storage.DocumentType, c identifier.Capability, ignoreID string) bool {
	for _, r := range rows {
		if r.ID != ignoreID && r.DocTypeID == c.DocumentType && r.ProcessID == c.Process {
			return true
		}
	}
	return false
}

// replaceRow returns rows with the row of id replaced by with, or removed
// when with is nil
func replaceRow(rows []*storage.DocumentType, id string, with *storage.DocumentType) []*storage.DocumentType {
	out := make([]*storage.DocumentType, 0, len(rows))
	for _, r := range rows {
		if r.ID != id {
			out = append(out, r)
		} else if with != nil {
			out = append(out, with)
		}
	}
	return out
}

// lockDocumentTypeCompany locks the company owning a capability and returns
// the capability as read under that lock.
func (s *Service) lockDocumentTypeCompany(ctx context.Context, documentTypeID string) (*storage.DocumentType, func(), error) {
	row, err := s.store.GetDocumentType(ctx, documentTypeID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading document type %s: %w", documentTypeID, err)
	}
	unlock := s.lockCompany(row.CompanyID)
	row, err = s.store.GetDocumentType(ctx, documentTypeID)
	if err != nil {
		unlock()
		return nil, nil, fmt.Errorf("loading document type %s: %w", documentTypeID, err)
	}
	return row, unlock, nil
}

// AddDocumentType declares a new capability and republishes the metadata
// of every published identifier of the company.
func (s *Service) AddDocumentType(ctx context.Context, companyID, documentType, process string) (row *storage.DocumentType, err error) {
	defer func() { s.observer.ObserveOperation("add_document_type", err) }()

	c, err := identifier.NewCapability(documentType, process)
	if err != nil {
		return nil, err
	}

	unlock := s.lockCompany(companyID)
	defer unlock()

	st, err := s.loadCapabilityState(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if duplicateOf(st.rows, c, "") {
		return nil, fmt.Errorf("%w: %s for %s", ErrDuplicateCapability, c.DocumentType, c.Process)
	}

	row = &storage.DocumentType{
		ID:        uuid.NewString(),
		CompanyID: companyID,
		DocTypeID: c.DocumentType,
		ProcessID: c.Process,
	}
	prev := groupCapabilities(capabilitiesOf(st.rows))
	next := groupCapabilities(capabilitiesOf(append(st.rows, row)))

	g := s.newSaga("add_document_type")
	g.add("store document type",
		func(ctx context.Context) error {
			if err := s.store.CreateDocumentType(ctx, row); err != nil {
				return fmt.Errorf("storing document type: %w", err)
			}
			return nil
		},
		func(ctx context.Context) error {
			return s.store.DeleteDocumentType(ctx, row.ID)
		},
	)
	s.addMetadataSyncSteps(g, st.rc.Publisher, st.published, prev, next, nil, true)

	if err := g.run(ctx); err != nil {
		return nil, err
	}
	return row, nil
}

// UpdateDocumentType replaces a capability. The metadata record of the old
// document type is removed first, then the full metadata set is pushed.
func (s *Service) UpdateDocumentType(ctx context.Context, documentTypeID, documentType, process string) (row *storage.DocumentType, err error) {
	defer func() { s.observer.ObserveOperation("update_document_type", err) }()

	c, err := identifier.NewCapability(documentType, process)
	if err != nil {
		return nil, err
	}
	old, unlock, err := s.lockDocumentTypeCompany(ctx, documentTypeID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if old.DocTypeID == c.DocumentType && old.ProcessID == c.Process {
		return old, nil
	}

	st, err := s.loadCapabilityState(ctx, old.CompanyID)
	if err != nil {
		return nil, err
	}
	if duplicateOf(st.rows, c, old.ID) {
		return nil, fmt.Errorf("%w: %s for %s", ErrDuplicateCapability, c.DocumentType, c.Process)
	}

	prior := *old
	row = &storage.DocumentType{}
	*row = *old
	row.DocTypeID = c.DocumentType
	row.ProcessID = c.Process

	prev := groupCapabilities(capabilitiesOf(st.rows))
	next := groupCapabilities(capabilitiesOf(replaceRow(st.rows, old.ID, row)))

	g := s.newSaga("update_document_type")
	g.add("update document type",
		func(ctx context.Context) error {
			if err := s.store.UpdateDocumentType(ctx, row); err != nil {
				return fmt.Errorf("updating document type: %w", err)
			}
			return nil
		},
		func(ctx context.Context) error {
			return s.store.UpdateDocumentType(ctx, &prior)
		},
	)
	s.addMetadataSyncSteps(g, st.rc.Publisher, st.published, prev, next, []string{prior.DocTypeID}, true)

	if err := g.run(ctx); err != nil {
		return nil, err
	}
	return row, nil
}

// RemoveDocumentType removes a capability. When its document type is no
// longer declared the metadata record is deleted, and a registry that does
// not have it fails the removal.
func (s *Service) RemoveDocumentType(ctx context.Context, documentTypeID string) (err error) {
	defer func() { s.observer.ObserveOperation("remove_document_type", err) }()

	old, unlock, err := s.lockDocumentTypeCompany(ctx, documentTypeID)
	if err != nil {
		return err
	}
	defer unlock()

	st, err := s.loadCapabilityState(ctx, old.CompanyID)
	if err != nil {
		return err
	}

	prior := *old
	prev := groupCapabilities(capabilitiesOf(st.rows))
	next := groupCapabilities(capabilitiesOf(replaceRow(st.rows, old.ID, nil)))

	g := s.newSaga("remove_document_type")
	g.add("delete document type",
		func(ctx context.Context) error {
			if err := s.store.DeleteDocumentType(ctx, prior.ID); err != nil {
				return fmt.Errorf("deleting document type: %w", err)
			}
			return nil
		},
		func(ctx context.Context) error {
			return s.store.CreateDocumentType(ctx, &prior)
		},
	)
	s.addMetadataSyncSteps(g, st.rc.Publisher, st.published, prev, next, nil, false)

	return g.run(ctx)
}
