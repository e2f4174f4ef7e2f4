package registration

import (
	"context"
	"fmt"

	"github.com/brbxai/recommand-peppol-sub001/internal/storage"
	"github.com/brbxai/recommand-peppol-sub001/pkg/identifier"
)

// findConflict returns the first owner that prevents team from registering
// the identifier the owners were found for. Owners whose identifier ID is
// in ignore belong to the row being changed.
//
//   - regular teams conflict with every non-playground owner
//   - playground teams conflict with their own team
//   - playground teams on the test network also conflict with every other
//     playground team on the test network
func findConflict(team *storage.Team, owners []storage.IdentifierOwner, ignore map[string]bool) (storage.IdentifierOwner, bool) {
	for _, o := range owners {
		if ignore[o.IdentifierID] {
			continue
		}
		var conflict bool
		switch {
		case !team.IsPlayground:
			conflict = !o.IsPlayground
		case team.UseTestNetwork:
			conflict = o.TeamID == team.ID || (o.IsPlayground && o.UseTestNetwork)
		default:
			conflict = o.TeamID == team.ID
		}
		if conflict {
			return o, true
		}
	}
	return storage.IdentifierOwner{}, false
}

func (s *Service) checkConflict(ctx context.Context, team *storage.Team, p identifier.ParticipantID, ignore map[string]bool) error {
	owners, err := s.store.FindIdentifierOwners(ctx, p.Scheme, p.Value)
	if err != nil {
		return fmt.Errorf("looking up owners of %s: %w", p, err)
	}
	if o, ok := findConflict(team, owners, ignore); ok {
		return fmt.Errorf("%w: %s is already registered by company %s", ErrConflict, p, o.CompanyID)
	}
	return nil
}
