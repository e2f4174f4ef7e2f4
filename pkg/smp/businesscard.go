package smp

import (
	"context"
	"fmt"
	"time"

	"github.com/brbxai/recommand-peppol-sub001/pkg/identifier"
)

// BusinessCard is the public directory entry of a participant.
type BusinessCard struct {
	Name        string
	CountryCode string
	// Address is published as geographical information
	Address string
	// VATNumber is optional
	VATNumber        string
	RegistrationDate time.Time
}

// BusinessCards manages directory business card records.
type BusinessCards struct {
	writer *Writer
}

// NewBusinessCards creates a business card manager
func NewBusinessCards(writer *Writer) *BusinessCards {
	return &BusinessCards{writer: writer}
}

// BuildBusinessCard renders the business card envelope of p.
func BuildBusinessCard(p identifier.ParticipantID, card BusinessCard) ([]byte, error) {
	doc := newDocument()
	root := doc.CreateElement("BusinessCard")
	root.CreateAttr("xmlns", NamespaceBusinessCard)
	addIdentifier(root, "ParticipantIdentifier", identifier.ParticipantScheme, p.Address())

	entity := root.CreateElement("BusinessEntity")
	entity.CreateElement("Name").SetText(card.Name)
	entity.CreateElement("CountryCode").SetText(card.CountryCode)
	if card.Address != "" {
		entity.CreateElement("GeographicalInformation").SetText(card.Address)
	}
	if card.VATNumber != "" {
		addIdentifier(entity, "Identifier", "VAT", card.VATNumber)
	}
	if !card.RegistrationDate.IsZero() {
		entity.CreateElement("RegistrationDate").SetText(card.RegistrationDate.UTC().Format("2006-01-02"))
	}

	return serialize(doc)
}

// Register creates or replaces the business card of p.
func (b *BusinessCards) Register(ctx context.Context, p identifier.ParticipantID, card BusinessCard) error {
	body, err := BuildBusinessCard(p, card)
	if err != nil {
		return err
	}
	if err := b.writer.Put(ctx, BusinessCardPath(p), body); err != nil {
		return fmt.Errorf("registering business card %s: %w", p, err)
	}
	return nil
}

// Delete removes the business card of p.
func (b *BusinessCards) Delete(ctx context.Context, p identifier.ParticipantID) error {
	if err := b.writer.Delete(ctx, BusinessCardPath(p)); err != nil {
		return fmt.Errorf("deleting business card %s: %w", p, err)
	}
	return nil
}
