package smp

import (
	"context"
	"fmt"

	"github.com/brbxai/recommand-peppol-sub001/pkg/identifier"
)

// ServiceGroups manages participant service group records.
type ServiceGroups struct {
	writer *Writer
}

// NewServiceGroups creates a service group manager
func NewServiceGroups(writer *Writer) *ServiceGroups {
	return &ServiceGroups{writer: writer}
}

// BuildServiceGroup renders the service group envelope of a participant.
func BuildServiceGroup(p identifier.ParticipantID) ([]byte, error) {
	doc := newDocument()
	root := newSMPRoot(doc, "ServiceGroup")
	addIdentifier(root, "ids:ParticipantIdentifier", identifier.ParticipantScheme, p.Address())
	root.CreateElement("ServiceMetadataReferenceCollection")
	return serialize(doc)
}

// Register creates or replaces the service group of p.
func (s *ServiceGroups) Register(ctx context.Context, p identifier.ParticipantID) error {
	body, err := BuildServiceGroup(p)
	if err != nil {
		return err
	}
	if err := s.writer.Put(ctx, ParticipantPath(p), body); err != nil {
		return fmt.Errorf("registering service group %s: %w", p, err)
	}
	return nil
}

// Delete removes the service group of p. The registry cascades the delete
// to the participant's service metadata.
func (s *ServiceGroups) Delete(ctx context.Context, p identifier.ParticipantID) error {
	if err := s.writer.Delete(ctx, ParticipantPath(p)); err != nil {
		return fmt.Errorf("deleting service group %s: %w", p, err)
	}
	return nil
}
