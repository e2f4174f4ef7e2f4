// Package team resolves which registry a team's companies are published to.
package team

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/brbxai/recommand-peppol-sub001/internal/storage"
	"github.com/brbxai/recommand-peppol-sub001/pkg/discovery"
	"github.com/brbxai/recommand-peppol-sub001/pkg/smp"
)

// RegistryContext is resolved once per registration operation. Every
// registry call of that operation uses it, so one operation never mixes
// networks.
type RegistryContext struct {
	TeamID string
	// Skip disables all registry writes
	Skip    bool
	Network discovery.Network
	// ScopeKey is the uniqueness scope of the team's identifiers
	ScopeKey string
	// Publisher writes to the registry of Network
	Publisher *smp.Publisher
}

// Service manages team lookups and registry selection
type Service struct {
	store      storage.TeamStore
	publishers map[discovery.Network]*smp.Publisher
	logger     *slog.Logger

	// Cache for team lookups
	cache *gocache.Cache
}

// Config holds service configuration
type Config struct {
	CacheTTL time.Duration
	Logger   *slog.Logger
}

// NewService creates a new team service. production and test publish to
// the operator's registry on the respective network.
func NewService(store storage.TeamStore, production, test *smp.Publisher, cfg *Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = time.Minute
	}

	return &Service{
		store: store,
		publishers: map[discovery.Network]*smp.Publisher{
			discovery.NetworkProduction: production,
			discovery.NetworkTest:       test,
		},
		logger: logger,
		cache:  gocache.New(cacheTTL, 2*cacheTTL),
	}
}

// GetTeam returns a team by ID, using cache
func (s *Service) GetTeam(ctx context.Context, id string) (*storage.Team, error) {
	if cached, ok := s.cache.Get(id); ok {
		return cached.(*storage.Team), nil
	}

	team, err := s.store.GetTeam(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading team %s: %w", id, err)
	}
	s.cache.SetDefault(id, team)
	return team, nil
}

// UpdateTeam stores team and drops its cached copy
func (s *Service) UpdateTeam(ctx context.Context, team *storage.Team) error {
	if err := s.store.UpdateTeam(ctx, team); err != nil {
		return err
	}
	s.Invalidate(team.ID)
	return nil
}

// Invalidate drops a cached team
func (s *Service) Invalidate(id string) {
	s.cache.Delete(id)
}

// Resolve builds the registry context of a team. Playground teams that are
// not on the test network are never published.
func (s *Service) Resolve(ctx context.Context, teamID string) (*RegistryContext, error) {
	team, err := s.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}

	network := discovery.NetworkFor(team.UseTestNetwork)
	rc := &RegistryContext{
		TeamID:    team.ID,
		Skip:      team.SkipSMPRegistration || (team.IsPlayground && !team.UseTestNetwork),
		Network:   network,
		ScopeKey:  storage.ScopeKey(team),
		Publisher: s.publishers[network],
	}
	if rc.Publisher == nil && !rc.Skip {
		return nil, fmt.Errorf("no registry configured for the %s network", network)
	}
	s.logger.Debug("resolved registry context",
		"team", team.ID,
		"network", network,
		"skip", rc.Skip,
	)
	return rc, nil
}

// Publisher returns the registry publisher of network, for cleaning up
// records on the network they were published on.
func (s *Service) Publisher(network discovery.Network) *smp.Publisher {
	return s.publishers[network]
}
