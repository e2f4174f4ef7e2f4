// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

// Package discovery locates and reads the published metadata of any Peppol
// participant.
//
// # Locating the SMP
//
// The Peppol SML publishes one U-NAPTR record per registered participant.
// The query name is the lowercase, unpadded BASE32 encoding of
// SHA-256(lowercase("scheme:value")), followed by "iso6523-actorid-upis" and
// the network zone:
//
//	resolver := discovery.NewSMLResolver(discovery.SMLResolverConfig{})
//	loc := resolver.Resolve(ctx, participant, discovery.NetworkProduction)
//	// loc.ParticipantURL == "https://smp.example.com/iso6523-actorid-upis::0208%3A0659689080"
//
// When no record resolves, the legacy "B-<md5hex>" host under the same zone
// is returned instead. Resolution itself never fails; an unreachable host
// shows up when the registry is read.
//
// # Reading metadata
//
// Client combines the resolver with an anonymous registry Reader:
//
//	client := discovery.NewClient(discovery.ClientConfig{})
//	recipient, err := client.VerifyRecipient(ctx, "0208:0659689080", false)
//	support, err := client.VerifyDocumentSupport(ctx, "0208:0659689080", docType, false)
//	card, err := client.FetchBusinessCard(ctx, "0208:0659689080", false)
//
// Service groups and service metadata are decoded without regard to XML
// namespace prefixes. Fields a registry may omit (service description,
// contact, certificate expiry, signature check) are pointers and nil when
// absent.
//
// # Networks
//
//   - production: edelivery.tech.ec.europa.eu
//   - test:       acc.edelivery.tech.ec.europa.eu
package discovery
