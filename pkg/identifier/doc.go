// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

// Package identifier canonicalizes Peppol participant identifiers and
// capabilities.
//
// A participant identifier is a (scheme, value) pair where the scheme is a
// numeric ISO 6523 ICD code and the value is the registry-specific number.
// Both halves are normalized before any comparison or registry lookup, so
// that incidental casing or punctuation never produces a false duplicate or a
// false miss:
//
//	id, err := identifier.NewParticipantID("0208", "0659.689.080")
//	// id.Address() == "0208:0659689080"
//	// id.URN()     == "iso6523-actorid-upis::0208:0659689080"
//
// Capabilities pair a document type identifier with a process identifier and
// are keyed by their normalized form.
package identifier
