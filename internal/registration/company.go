package registration

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/brbxai/recommand-peppol-sub001/internal/storage"
	"github.com/brbxai/recommand-peppol-sub001/pkg/identifier"
)

// CompanyInput is the registry-relevant state of a company
type CompanyInput struct {
	TeamID           string `json:"teamId"`
	Name             string `json:"name"`
	Address          string `json:"address"`
	PostalCode       string `json:"postalCode"`
	City             string `json:"city"`
	Country          string `json:"country"`
	EnterpriseNumber string `json:"enterpriseNumber"`
	VATNumber        string `json:"vatNumber"`
	IsSMPRecipient   bool   `json:"isSmpRecipient"`
}

type derivedIdentifier struct {
	source      storage.IdentifierSource
	participant identifier.ParticipantID
}

func (in *CompanyInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: company name is required", ErrInvalidInput)
	}
	return nil
}

// derived returns the identifiers derived from the enterprise and VAT
// numbers, skipping empty ones.
func (in *CompanyInput) derived() ([]derivedIdentifier, error) {
	var out []derivedIdentifier
	if strings.TrimSpace(in.EnterpriseNumber) != "" {
		p, err := identifier.FromEnterpriseNumber(in.EnterpriseNumber)
		if err != nil {
			return nil, fmt.Errorf("enterprise number: %w", err)
		}
		out = append(out, derivedIdentifier{source: storage.SourceEnterpriseNumber, participant: p})
	}
	if strings.TrimSpace(in.VATNumber) != "" {
		p, err := identifier.FromVATNumber(in.VATNumber)
		if err != nil {
			return nil, fmt.Errorf("VAT number: %w", err)
		}
		out = append(out, derivedIdentifier{source: storage.SourceVATNumber, participant: p})
	}
	return out, nil
}

func (in *CompanyInput) apply(c *storage.Company) {
	c.Name = strings.TrimSpace(in.Name)
	c.Address = strings.TrimSpace(in.Address)
	c.PostalCode = strings.TrimSpace(in.PostalCode)
	c.City = strings.TrimSpace(in.City)
	c.Country = strings.TrimSpace(in.Country)
	c.EnterpriseNumber = strings.TrimSpace(in.EnterpriseNumber)
	c.VATNumber = strings.TrimSpace(in.VATNumber)
	c.IsSMPRecipient = in.IsSMPRecipient
}

// CreateCompany stores a company with its derived identifiers and publishes
// it. When publishing fails the stored rows and published records are
// removed again.
func (s *Service) CreateCompany(ctx context.Context, in CompanyInput) (company *storage.Company, err error) {
	defer func() { s.observer.ObserveOperation("create_company", err) }()

	if err := in.validate(); err != nil {
		return nil, err
	}
	if in.TeamID == "" {
		return nil, fmt.Errorf("%w: team is required", ErrInvalidInput)
	}
	derived, err := in.derived()
	if err != nil {
		return nil, err
	}

	t, err := s.teams.GetTeam(ctx, in.TeamID)
	if err != nil {
		return nil, err
	}
	rc, err := s.teams.Resolve(ctx, in.TeamID)
	if err != nil {
		return nil, err
	}

	company = &storage.Company{ID: uuid.NewString(), TeamID: t.ID}
	in.apply(company)

	participants := make([]identifier.ParticipantID, 0, len(derived))
	for _, d := range derived {
		participants = append(participants, d.participant)
	}
	unlockCompany := s.lockCompany(company.ID)
	defer unlockCompany()
	unlock := s.lockParticipants(participants...)
	defer unlock()

	for _, d := range derived {
		if err := s.checkConflict(ctx, t, d.participant, nil); err != nil {
			return nil, err
		}
	}

	g := s.newSaga("create_company")
	g.add("store company",
		func(ctx context.Context) error {
			if err := s.store.CreateCompany(ctx, company); err != nil {
				return fmt.Errorf("storing company: %w", err)
			}
			return nil
		},
		func(ctx context.Context) error {
			return s.store.DeleteCompany(ctx, company.ID)
		},
	)

	rows := make([]*storage.Identifier, 0, len(derived))
	for _, d := range derived {
		row := &storage.Identifier{
			ID:        uuid.NewString(),
			CompanyID: company.ID,
			TeamID:    t.ID,
			Scheme:    d.participant.Scheme,
			Value:     d.participant.Value,
			Source:    d.source,
			ScopeKey:  rc.ScopeKey,
		}
		rows = append(rows, row)
		// removed with the company on compensation
		g.add("store identifier "+d.participant.Address(),
			func(ctx context.Context) error {
				if err := s.store.CreateIdentifier(ctx, row); err != nil {
					return storeFailure(d.participant.Address(), err)
				}
				return nil
			},
			nil,
		)
	}

	if company.IsSMPRecipient && !rc.Skip {
		groups := groupCapabilities(identifier.DefaultCapabilities())
		for _, row := range rows {
			s.addPublishSteps(g, rc.Publisher, participantOf(row), company, groups, true)
			s.addRecordNetwork(g, row, rc.Network)
		}
	}

	if err := g.run(ctx); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "company created",
		"company", company.ID,
		"team", t.ID,
		"identifiers", len(rows),
		"published", company.IsSMPRecipient && !rc.Skip,
		"network", rc.Network,
	)
	return company, nil
}

// identifierChange is a derived identifier that is added, replaced or
// removed by a company update
type identifierChange struct {
	source storage.IdentifierSource
	old    *storage.Identifier
	new    *identifier.ParticipantID
}

// UpdateCompany stores the new company state. Derived identifiers whose
// value changed are unpublished before their replacement is published.
// Companies that are no longer recipients are unpublished entirely.
func (s *Service) UpdateCompany(ctx context.Context, companyID string, in CompanyInput) (company *storage.Company, err error) {
	defer func() { s.observer.ObserveOperation("update_company", err) }()

	if err := in.validate(); err != nil {
		return nil, err
	}
	derived, err := in.derived()
	if err != nil {
		return nil, err
	}

	unlockCompany := s.lockCompany(companyID)
	defer unlockCompany()

	prior, err := s.store.GetCompany(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("loading company %s: %w", companyID, err)
	}
	rows, err := s.store.ListIdentifiers(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("listing identifiers: %w", err)
	}
	t, err := s.teams.GetTeam(ctx, prior.TeamID)
	if err != nil {
		return nil, err
	}
	rc, err := s.teams.Resolve(ctx, prior.TeamID)
	if err != nil {
		return nil, err
	}

	existing := make(map[storage.IdentifierSource]*storage.Identifier)
	for _, row := range rows {
		if row.Source != storage.SourceCustom {
			existing[row.Source] = row
		}
	}
	wanted := make(map[storage.IdentifierSource]identifier.ParticipantID)
	for _, d := range derived {
		wanted[d.source] = d.participant
	}

	var changes []identifierChange
	lockSet := participantsOf(rows)
	for _, source := range []storage.IdentifierSource{storage.SourceEnterpriseNumber, storage.SourceVATNumber} {
		old := existing[source]
		p, ok := wanted[source]
		switch {
		case old == nil && !ok:
			continue
		case old != nil && ok && participantOf(old) == p:
			continue
		}
		change := identifierChange{source: source, old: old}
		if ok {
			change.new = &p
			lockSet = append(lockSet, p)
		}
		changes = append(changes, change)
	}

	unlock := s.lockParticipants(lockSet...)
	defer unlock()

	for _, c := range changes {
		if c.new == nil {
			continue
		}
		ignore := map[string]bool{}
		if c.old != nil {
			ignore[c.old.ID] = true
		}
		if err := s.checkConflict(ctx, t, *c.new, ignore); err != nil {
			return nil, err
		}
	}

	groups, err := s.metadataGroups(ctx, companyID)
	if err != nil {
		return nil, err
	}

	replaced := make(map[string]bool)
	for _, c := range changes {
		if c.old != nil {
			replaced[c.old.ID] = true
		}
	}
	var kept []*storage.Identifier
	for _, row := range rows {
		if !replaced[row.ID] {
			kept = append(kept, row)
		}
	}

	publish := in.IsSMPRecipient && !rc.Skip
	if publish {
		for _, row := range kept {
			if err := checkNetwork(row, rc); err != nil {
				return nil, err
			}
		}
	}

	company = &storage.Company{}
	*company = *prior
	in.apply(company)
	restore := *prior

	g := s.newSaga("update_company")
	g.add("update company",
		func(ctx context.Context) error {
			if err := s.store.UpdateCompany(ctx, company); err != nil {
				return fmt.Errorf("updating company: %w", err)
			}
			return nil
		},
		func(ctx context.Context) error {
			return s.store.UpdateCompany(ctx, &restore)
		},
	)

	current := kept
	for _, c := range changes {
		if c.old != nil && c.old.RegisteredNetwork != "" {
			if err := s.addUnpublishSteps(g, c.old, prior, groups); err != nil {
				return nil, err
			}
		}
		row, err := s.addIdentifierChangeSteps(g, c, company, rc.ScopeKey)
		if err != nil {
			return nil, err
		}
		if row != nil {
			current = append(current, row)
		}
	}

	switch {
	case publish:
		for _, row := range current {
			s.addPublishSteps(g, rc.Publisher, participantOf(row), company, groups, row.RegisteredNetwork == "")
			s.addRecordNetwork(g, row, rc.Network)
		}
	case !in.IsSMPRecipient:
		for _, row := range kept {
			if row.RegisteredNetwork == "" {
				continue
			}
			if err := s.addUnpublishSteps(g, row, prior, groups); err != nil {
				return nil, err
			}
		}
	}

	if err := g.run(ctx); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "company updated",
		"company", company.ID,
		"changed_identifiers", len(changes),
		"published", publish,
	)
	return company, nil
}

// addIdentifierChangeSteps appends the storage steps of one derived
// identifier change and returns the row that will hold the new value.
func (s *Service) addIdentifierChangeSteps(g *saga, c identifierChange, company *storage.Company, scopeKey string) (*storage.Identifier, error) {
	switch {
	case c.old != nil && c.new != nil:
		prior := *c.old
		row := &storage.Identifier{}
		*row = *c.old
		row.Scheme = c.new.Scheme
		row.Value = c.new.Value
		row.ScopeKey = scopeKey
		row.RegisteredNetwork = ""
		g.add("replace identifier "+prior.Scheme+":"+prior.Value,
			func(ctx context.Context) error {
				if err := s.store.UpdateIdentifier(ctx, row); err != nil {
					return storeFailure(c.new.Address(), err)
				}
				return nil
			},
			func(ctx context.Context) error {
				return s.store.UpdateIdentifier(ctx, &prior)
			},
		)
		return row, nil

	case c.old != nil:
		prior := *c.old
		g.add("remove identifier "+prior.Scheme+":"+prior.Value,
			func(ctx context.Context) error {
				if err := s.store.DeleteIdentifier(ctx, prior.ID); err != nil {
					return fmt.Errorf("removing identifier: %w", err)
				}
				return nil
			},
			func(ctx context.Context) error {
				return s.store.CreateIdentifier(ctx, &prior)
			},
		)
		return nil, nil

	case c.new != nil:
		row := &storage.Identifier{
			ID:        uuid.NewString(),
			CompanyID: company.ID,
			TeamID:    company.TeamID,
			Scheme:    c.new.Scheme,
			Value:     c.new.Value,
			Source:    c.source,
			ScopeKey:  scopeKey,
		}
		g.add("store identifier "+c.new.Address(),
			func(ctx context.Context) error {
				if err := s.store.CreateIdentifier(ctx, row); err != nil {
					return storeFailure(c.new.Address(), err)
				}
				return nil
			},
			func(ctx context.Context) error {
				return s.store.DeleteIdentifier(ctx, row.ID)
			},
		)
		return row, nil
	}
	return nil, fmt.Errorf("empty identifier change")
}

// DeleteCompany unpublishes all identifiers of a company and deletes it
// with its identifiers and document types.
func (s *Service) DeleteCompany(ctx context.Context, companyID string) (err error) {
	defer func() { s.observer.ObserveOperation("delete_company", err) }()

	unlockCompany := s.lockCompany(companyID)
	defer unlockCompany()

	company, err := s.store.GetCompany(ctx, companyID)
	if err != nil {
		return fmt.Errorf("loading company %s: %w", companyID, err)
	}
	rows, err := s.store.ListIdentifiers(ctx, companyID)
	if err != nil {
		return fmt.Errorf("listing identifiers: %w", err)
	}
	groups, err := s.metadataGroups(ctx, companyID)
	if err != nil {
		return err
	}

	unlock := s.lockParticipants(participantsOf(rows)...)
	defer unlock()

	g := s.newSaga("delete_company")
	for _, row := range rows {
		if row.RegisteredNetwork == "" {
			continue
		}
		if err := s.addUnpublishSteps(g, row, company, groups); err != nil {
			return err
		}
	}
	g.add("delete company",
		func(ctx context.Context) error {
			if err := s.store.DeleteCompany(ctx, companyID); err != nil {
				return fmt.Errorf("deleting company: %w", err)
			}
			return nil
		},
		nil,
	)

	if err := g.run(ctx); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "company deleted", "company", companyID)
	return nil
}

// SyncCompany pushes the full desired state of a company to the registry:
// every identifier with its service group, metadata records and business
// card, or nothing at all for companies that are not recipients.
func (s *Service) SyncCompany(ctx context.Context, companyID string) (err error) {
	defer func() { s.observer.ObserveOperation("sync_company", err) }()

	unlockCompany := s.lockCompany(companyID)
	defer unlockCompany()

	company, err := s.store.GetCompany(ctx, companyID)
	if err != nil {
		return fmt.Errorf("loading company %s: %w", companyID, err)
	}
	rows, err := s.store.ListIdentifiers(ctx, companyID)
	if err != nil {
		return fmt.Errorf("listing identifiers: %w", err)
	}
	rc, err := s.teams.Resolve(ctx, company.TeamID)
	if err != nil {
		return err
	}
	groups, err := s.metadataGroups(ctx, companyID)
	if err != nil {
		return err
	}

	unlock := s.lockParticipants(participantsOf(rows)...)
	defer unlock()

	g := s.newSaga("sync_company")
	switch {
	case !company.IsSMPRecipient:
		for _, row := range rows {
			if row.RegisteredNetwork == "" {
				continue
			}
			if err := s.addUnpublishSteps(g, row, company, groups); err != nil {
				return err
			}
		}
	case rc.Skip:
		s.logger.DebugContext(ctx, "registry writes skipped for team", "company", companyID, "team", company.TeamID)
		return nil
	default:
		for _, row := range rows {
			if err := checkNetwork(row, rc); err != nil {
				return err
			}
		}
		for _, row := range rows {
			s.addPublishSteps(g, rc.Publisher, participantOf(row), company, groups, row.RegisteredNetwork == "")
			s.addRecordNetwork(g, row, rc.Network)
		}
	}

	return g.run(ctx)
}
