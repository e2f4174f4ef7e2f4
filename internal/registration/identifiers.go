package registration

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/brbxai/recommand-peppol-sub001/internal/storage"
	"github.com/brbxai/recommand-peppol-sub001/pkg/identifier"
)

// AddIdentifier adds a custom participant identifier to a company and
// publishes it when the company is a recipient.
func (s *Service) AddIdentifier(ctx context.Context, companyID, scheme, value string) (row *storage.Identifier, err error) {
	defer func() { s.observer.ObserveOperation("add_identifier", err) }()

	p, err := identifier.NewParticipantID(scheme, value)
	if err != nil {
		return nil, err
	}

	unlockCompany := s.lockCompany(companyID)
	defer unlockCompany()

	company, err := s.store.GetCompany(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("loading company %s: %w", companyID, err)
	}
	t, err := s.teams.GetTeam(ctx, company.TeamID)
	if err != nil {
		return nil, err
	}
	rc, err := s.teams.Resolve(ctx, company.TeamID)
	if err != nil {
		return nil, err
	}

	unlock := s.lockParticipants(p)
	defer unlock()

	if err := s.checkConflict(ctx, t, p, nil); err != nil {
		return nil, err
	}
	groups, err := s.metadataGroups(ctx, companyID)
	if err != nil {
		return nil, err
	}

	row = &storage.Identifier{
		ID:        uuid.NewString(),
		CompanyID: company.ID,
		TeamID:    company.TeamID,
		Scheme:    p.Scheme,
		Value:     p.Value,
		Source:    storage.SourceCustom,
		ScopeKey:  rc.ScopeKey,
	}

	g := s.newSaga("add_identifier")
	g.add("store identifier "+p.Address(),
		func(ctx context.Context) error {
			if err := s.store.CreateIdentifier(ctx, row); err != nil {
				return storeFailure(p.Address(), err)
			}
			return nil
		},
		func(ctx context.Context) error {
			return s.store.DeleteIdentifier(ctx, row.ID)
		},
	)
	if company.IsSMPRecipient && !rc.Skip {
		s.addPublishSteps(g, rc.Publisher, p, company, groups, true)
		s.addRecordNetwork(g, row, rc.Network)
	}

	if err := g.run(ctx); err != nil {
		return nil, err
	}
	return row, nil
}

func customIdentifier(ctx context.Context, store storage.IdentifierStore, identifierID string) (*storage.Identifier, error) {
	row, err := store.GetIdentifier(ctx, identifierID)
	if err != nil {
		return nil, fmt.Errorf("loading identifier %s: %w", identifierID, err)
	}
	if row.Source != storage.SourceCustom {
		return nil, fmt.Errorf("%w: identifier %s is derived from the company's %s, update the company instead",
			ErrInvalidInput, participantOf(row), row.Source)
	}
	return row, nil
}

// lockIdentifierCompany locks the company owning a custom identifier and
// returns the identifier as read under that lock.
func (s *Service) lockIdentifierCompany(ctx context.Context, identifierID string) (*storage.Identifier, func(), error) {
	row, err := customIdentifier(ctx, s.store, identifierID)
	if err != nil {
		return nil, nil, err
	}
	unlock := s.lockCompany(row.CompanyID)
	row, err = customIdentifier(ctx, s.store, identifierID)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return row, unlock, nil
}

// UpdateIdentifier changes the value of a custom identifier. The old value
// is unpublished before the new one is published. Updating to the same
// normalized value does nothing.
func (s *Service) UpdateIdentifier(ctx context.Context, identifierID, scheme, value string) (row *storage.Identifier, err error) {
	defer func() { s.observer.ObserveOperation("update_identifier", err) }()

	p, err := identifier.NewParticipantID(scheme, value)
	if err != nil {
		return nil, err
	}
	old, unlockCompany, err := s.lockIdentifierCompany(ctx, identifierID)
	if err != nil {
		return nil, err
	}
	defer unlockCompany()
	if participantOf(old) == p {
		return old, nil
	}

	company, err := s.store.GetCompany(ctx, old.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("loading company %s: %w", old.CompanyID, err)
	}
	t, err := s.teams.GetTeam(ctx, company.TeamID)
	if err != nil {
		return nil, err
	}
	rc, err := s.teams.Resolve(ctx, company.TeamID)
	if err != nil {
		return nil, err
	}

	unlock := s.lockParticipants(participantOf(old), p)
	defer unlock()

	if err := s.checkConflict(ctx, t, p, map[string]bool{old.ID: true}); err != nil {
		return nil, err
	}
	groups, err := s.metadataGroups(ctx, company.ID)
	if err != nil {
		return nil, err
	}

	g := s.newSaga("update_identifier")
	if old.RegisteredNetwork != "" {
		if err := s.addUnpublishSteps(g, old, company, groups); err != nil {
			return nil, err
		}
	}
	row, err = s.addIdentifierChangeSteps(g, identifierChange{source: old.Source, old: old, new: &p}, company, rc.ScopeKey)
	if err != nil {
		return nil, err
	}
	if company.IsSMPRecipient && !rc.Skip {
		s.addPublishSteps(g, rc.Publisher, p, company, groups, true)
		s.addRecordNetwork(g, row, rc.Network)
	}

	if err := g.run(ctx); err != nil {
		return nil, err
	}
	return row, nil
}

// RemoveIdentifier unpublishes a custom identifier from the registry it
// was published on and deletes it.
func (s *Service) RemoveIdentifier(ctx context.Context, identifierID string) (err error) {
	defer func() { s.observer.ObserveOperation("remove_identifier", err) }()

	row, unlockCompany, err := s.lockIdentifierCompany(ctx, identifierID)
	if err != nil {
		return err
	}
	defer unlockCompany()

	company, err := s.store.GetCompany(ctx, row.CompanyID)
	if err != nil {
		return fmt.Errorf("loading company %s: %w", row.CompanyID, err)
	}
	groups, err := s.metadataGroups(ctx, company.ID)
	if err != nil {
		return err
	}

	unlock := s.lockParticipants(participantOf(row))
	defer unlock()

	g := s.newSaga("remove_identifier")
	if row.RegisteredNetwork != "" {
		if err := s.addUnpublishSteps(g, row, company, groups); err != nil {
			return err
		}
	}
	if _, err := s.addIdentifierChangeSteps(g, identifierChange{source: row.Source, old: row}, company, row.ScopeKey); err != nil {
		return err
	}
	return g.run(ctx)
}
