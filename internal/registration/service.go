// Package registration keeps the operator's SMP registry in line with the
// companies, identifiers and document types stored locally.
package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/brbxai/recommand-peppol-sub001/internal/alert"
	"github.com/brbxai/recommand-peppol-sub001/internal/storage"
	"github.com/brbxai/recommand-peppol-sub001/internal/team"
	"github.com/brbxai/recommand-peppol-sub001/pkg/discovery"
	"github.com/brbxai/recommand-peppol-sub001/pkg/identifier"
	"github.com/brbxai/recommand-peppol-sub001/pkg/smp"
)

var (
	// ErrInvalidInput is returned for malformed requests
	ErrInvalidInput = errors.New("invalid input")
	// ErrConflict is returned when an identifier is already registered by
	// another company in the same scope
	ErrConflict = errors.New("identifier conflict")
	// ErrDuplicateCapability is returned when a company already declares a
	// (document type, process) pair
	ErrDuplicateCapability = errors.New("duplicate capability")
	// ErrRegistrationFailed wraps errors returned by the registry
	ErrRegistrationFailed = errors.New("registration failed")
	// ErrNetworkMismatch is returned when an identifier would be published
	// on another network than the one it is already published on
	ErrNetworkMismatch = errors.New("network mismatch")
)

// Observer receives operation outcomes
type Observer interface {
	ObserveOperation(operation string, err error)
	ObserveCompensation(err error)
}

type nopObserver struct{}

func (nopObserver) ObserveOperation(string, error) {}
func (nopObserver) ObserveCompensation(error)      {}

// Config holds service configuration
type Config struct {
	// Alerts receives compensation failures. Defaults to a log sink.
	Alerts   alert.Sink
	Observer Observer
	Logger   *slog.Logger
}

// Service orchestrates registry writes for company changes
type Service struct {
	store    storage.Store
	teams    *team.Service
	locks    *keyedMutex
	alerts   alert.Sink
	observer Observer
	logger   *slog.Logger
}

// NewService creates a registration service
func NewService(store storage.Store, teams *team.Service, cfg *Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	alerts := cfg.Alerts
	if alerts == nil {
		alerts = alert.NewLogSink(logger)
	}
	observer := cfg.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	return &Service{
		store:    store,
		teams:    teams,
		locks:    newKeyedMutex(),
		alerts:   alerts,
		observer: observer,
		logger:   logger.With("component", "registration"),
	}
}

// metadataGroup is one service metadata record: a document type and the
// processes it is accepted under.
type metadataGroup struct {
	documentType string
	processes    []string
}

// groupCapabilities groups caps by document type in first-seen order
func groupCapabilities(caps []identifier.Capability) []metadataGroup {
	var groups []metadataGroup
	index := make(map[string]int)
	for _, c := range caps {
		i, ok := index[c.DocumentType]
		if !ok {
			i = len(groups)
			index[c.DocumentType] = i
			groups = append(groups, metadataGroup{documentType: c.DocumentType})
		}
		groups[i].processes = append(groups[i].processes, c.Process)
	}
	return groups
}

// capabilitiesOf converts stored document types, falling back to the
// default capability set when there are none.
func capabilitiesOf(rows []*storage.DocumentType) []identifier.Capability {
	if len(rows) == 0 {
		return identifier.DefaultCapabilities()
	}
	caps := make([]identifier.Capability, 0, len(rows))
	for _, r := range rows {
		caps = append(caps, identifier.Capability{DocumentType: r.DocTypeID, Process: r.ProcessID})
	}
	return caps
}

func (s *Service) metadataGroups(ctx context.Context, companyID string) ([]metadataGroup, error) {
	rows, err := s.store.ListDocumentTypes(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("listing document types: %w", err)
	}
	return groupCapabilities(capabilitiesOf(rows)), nil
}

func participantOf(row *storage.Identifier) identifier.ParticipantID {
	return identifier.ParticipantID{Scheme: row.Scheme, Value: row.Value}
}

func businessCardOf(c *storage.Company) smp.BusinessCard {
	var parts []string
	if a := strings.TrimSpace(c.Address); a != "" {
		parts = append(parts, a)
	}
	if city := strings.TrimSpace(strings.TrimSpace(c.PostalCode) + " " + strings.TrimSpace(c.City)); city != "" {
		parts = append(parts, city)
	}
	return smp.BusinessCard{
		Name:             c.Name,
		CountryCode:      strings.ToUpper(strings.TrimSpace(c.Country)),
		Address:          strings.Join(parts, ", "),
		VATNumber:        strings.TrimSpace(c.VATNumber),
		RegistrationDate: c.CreatedAt,
	}
}

func registryFailure(step string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrRegistrationFailed, step, err)
}

func storeFailure(what string, err error) error {
	if errors.Is(err, storage.ErrDuplicate) {
		return fmt.Errorf("%w: %s", ErrConflict, what)
	}
	return fmt.Errorf("storing %s: %w", what, err)
}

// checkNetwork rejects publishing row on another network than the one it
// is already published on.
func checkNetwork(row *storage.Identifier, rc *team.RegistryContext) error {
	if row.RegisteredNetwork != "" && row.RegisteredNetwork != string(rc.Network) {
		return fmt.Errorf("%w: %s is published on the %s network, the team targets %s",
			ErrNetworkMismatch, participantOf(row), row.RegisteredNetwork, rc.Network)
	}
	return nil
}

func (s *Service) publisherOf(row *storage.Identifier) (*smp.Publisher, error) {
	pub := s.teams.Publisher(discovery.Network(row.RegisteredNetwork))
	if pub == nil {
		return nil, fmt.Errorf("no registry configured for the %s network", row.RegisteredNetwork)
	}
	return pub, nil
}

func (s *Service) tolerateNotFound(ctx context.Context, record string, p identifier.ParticipantID, err error) error {
	if smp.IsNotFound(err) {
		s.logger.InfoContext(ctx, "record already absent from registry",
			"record", record,
			"participant", p.Address(),
		)
		return nil
	}
	return err
}

// addPublishSteps appends the steps publishing p: its service group, one
// metadata record per group, then its business card. With undo set every
// record is deleted again on compensation.
func (s *Service) addPublishSteps(g *saga, pub *smp.Publisher, p identifier.ParticipantID, company *storage.Company, groups []metadataGroup, undo bool) {
	compensate := func(fn func(ctx context.Context) error) func(ctx context.Context) error {
		if !undo {
			return nil
		}
		return fn
	}

	g.add("service group "+p.Address(),
		func(ctx context.Context) error {
			if err := pub.ServiceGroups.Register(ctx, p); err != nil {
				return registryFailure("service group", err)
			}
			return nil
		},
		compensate(func(ctx context.Context) error {
			return pub.ServiceGroups.Delete(ctx, p)
		}),
	)

	for _, group := range groups {
		g.add("service metadata "+p.Address()+" "+group.documentType,
			func(ctx context.Context) error {
				if err := pub.ServiceMetadata.Register(ctx, p, group.documentType, group.processes); err != nil {
					return registryFailure("service metadata", err)
				}
				return nil
			},
			compensate(func(ctx context.Context) error {
				return pub.ServiceMetadata.Delete(ctx, p, group.documentType)
			}),
		)
	}

	g.add("business card "+p.Address(),
		func(ctx context.Context) error {
			if err := pub.BusinessCards.Register(ctx, p, businessCardOf(company)); err != nil {
				return registryFailure("business card", err)
			}
			return nil
		},
		compensate(func(ctx context.Context) error {
			return pub.BusinessCards.Delete(ctx, p)
		}),
	)
}

// publish writes all records of p outside of a saga
func (s *Service) publish(ctx context.Context, pub *smp.Publisher, p identifier.ParticipantID, company *storage.Company, groups []metadataGroup) error {
	if err := pub.ServiceGroups.Register(ctx, p); err != nil {
		return err
	}
	for _, group := range groups {
		if err := pub.ServiceMetadata.Register(ctx, p, group.documentType, group.processes); err != nil {
			return err
		}
	}
	return pub.BusinessCards.Register(ctx, p, businessCardOf(company))
}

// addUnpublishSteps appends the steps removing row's business card and
// service group from the registry it was published on, followed by
// clearing its recorded network. Records that are already gone are
// skipped. On compensation the participant is published again.
func (s *Service) addUnpublishSteps(g *saga, row *storage.Identifier, company *storage.Company, groups []metadataGroup) error {
	pub, err := s.publisherOf(row)
	if err != nil {
		return err
	}
	p := participantOf(row)

	g.add("unpublish "+p.Address(),
		func(ctx context.Context) error {
			if err := s.tolerateNotFound(ctx, "business card", p, pub.BusinessCards.Delete(ctx, p)); err != nil {
				return registryFailure("business card", err)
			}
			if err := s.tolerateNotFound(ctx, "service group", p, pub.ServiceGroups.Delete(ctx, p)); err != nil {
				return registryFailure("service group", err)
			}
			return nil
		},
		func(ctx context.Context) error {
			return s.publish(ctx, pub, p, company, groups)
		},
	)
	s.addRecordNetwork(g, row, "")
	return nil
}

// addRecordNetwork appends the step storing the network row is published on
func (s *Service) addRecordNetwork(g *saga, row *storage.Identifier, network discovery.Network) {
	var prior string
	g.add("record network "+participantOf(row).Address(),
		func(ctx context.Context) error {
			prior = row.RegisteredNetwork
			row.RegisteredNetwork = string(network)
			if err := s.store.UpdateIdentifier(ctx, row); err != nil {
				row.RegisteredNetwork = prior
				return fmt.Errorf("recording network of %s: %w", participantOf(row), err)
			}
			return nil
		},
		func(ctx context.Context) error {
			row.RegisteredNetwork = prior
			return s.store.UpdateIdentifier(ctx, row)
		},
	)
}

// addMetadataSyncSteps appends the steps moving the metadata records of
// each published row from prev to next. Document types listed in first are
// deleted before anything else; a missing record is tolerated for those
// only when tolerate is set.
func (s *Service) addMetadataSyncSteps(g *saga, pub *smp.Publisher, rows []*storage.Identifier, prev, next []metadataGroup, first []string, tolerate bool) {
	wanted := make(map[string]bool, len(next))
	for _, group := range next {
		wanted[group.documentType] = true
	}
	var stale []string
	seen := make(map[string]bool)
	for _, dt := range first {
		if !seen[dt] {
			seen[dt] = true
			stale = append(stale, dt)
		}
	}
	for _, group := range prev {
		if !wanted[group.documentType] && !seen[group.documentType] {
			seen[group.documentType] = true
			stale = append(stale, group.documentType)
		}
	}

	for _, row := range rows {
		p := participantOf(row)
		for _, dt := range stale {
			g.add("delete service metadata "+p.Address()+" "+dt,
				func(ctx context.Context) error {
					err := pub.ServiceMetadata.Delete(ctx, p, dt)
					if tolerate {
						err = s.tolerateNotFound(ctx, "service metadata", p, err)
					}
					if err != nil {
						return registryFailure("service metadata", err)
					}
					return nil
				},
				nil,
			)
		}
		for _, group := range next {
			g.add("service metadata "+p.Address()+" "+group.documentType,
				func(ctx context.Context) error {
					if err := pub.ServiceMetadata.Register(ctx, p, group.documentType, group.processes); err != nil {
						return registryFailure("service metadata", err)
					}
					return nil
				},
				nil,
			)
		}
	}
}

// published returns the rows that are currently published and checks they
// are on the network of rc.
func published(rows []*storage.Identifier, rc *team.RegistryContext) ([]*storage.Identifier, error) {
	var out []*storage.Identifier
	for _, row := range rows {
		if row.RegisteredNetwork == "" {
			continue
		}
		if err := checkNetwork(row, rc); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

// lockCompany serializes every operation on one company. State of the
// company is read only after this lock is held.
func (s *Service) lockCompany(companyID string) func() {
	return s.locks.Lock("company:" + companyID)
}

// lockParticipants serializes conflict checks and writes per participant
// address. Callers already hold their company lock.
func (s *Service) lockParticipants(participants ...identifier.ParticipantID) func() {
	keys := make([]string, 0, len(participants))
	for _, p := range participants {
		keys = append(keys, "participant:"+p.Address())
	}
	return s.locks.Lock(keys...)
}

func participantsOf(rows []*storage.Identifier) []identifier.ParticipantID {
	out := make([]identifier.ParticipantID, 0, len(rows))
	for _, row := range rows {
		out = append(out, participantOf(row))
	}
	return out
}
