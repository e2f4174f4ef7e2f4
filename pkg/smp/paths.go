package smp

import (
	"net/url"

	"github.com/brbxai/recommand-peppol-sub001/pkg/identifier"
)

// ParticipantPath is the service group path of a participant.
func ParticipantPath(p identifier.ParticipantID) string {
	return url.PathEscape(p.URN())
}

// MetadataPath is the service metadata path of a participant's document type.
func MetadataPath(p identifier.ParticipantID, documentType string) string {
	return ParticipantPath(p) + "/services/" + identifier.DocumentScheme + "::" + url.QueryEscape(documentType)
}

// BusinessCardPath is the directory business card path of a participant.
func BusinessCardPath(p identifier.ParticipantID) string {
	return "businesscard/" + ParticipantPath(p)
}
