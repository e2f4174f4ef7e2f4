// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package peppol registers the companies of a Peppol access point on its
Service Metadata Publisher (SMP) and discovers other participants on the
Peppol network.

# Overview

A Peppol participant is reachable when three things are published: the SML
(Service Metadata Locator) maps its identifier to an SMP, the SMP serves a
service group listing the document types it accepts, and for every document
type a service metadata record names the AS4 endpoint and certificate of the
access point. A business card adds the directory entry.

This module covers both directions:

  - Registration keeps the operator SMP in sync with the companies, custom
    identifiers and capabilities stored locally. Every operation is a saga:
    registry writes that succeeded are undone when a later step fails.
  - Discovery answers read-only questions about any participant: where its
    SMP is, whether it is registered, which endpoint receives a document
    type and what its business card says.

# Package Structure

	github.com/brbxai/recommand-peppol-sub001/pkg/identifier    - Participant identifiers, document types, processes
	github.com/brbxai/recommand-peppol-sub001/pkg/smp           - SMP 1.0 documents and authenticated registry writes
	github.com/brbxai/recommand-peppol-sub001/pkg/discovery     - SML resolution and anonymous registry reads
	github.com/brbxai/recommand-peppol-sub001/pkg/transport     - HTTPS client settings
	github.com/brbxai/recommand-peppol-sub001/internal/registration - Company registration sagas
	github.com/brbxai/recommand-peppol-sub001/internal/team     - Team flags and registry selection
	github.com/brbxai/recommand-peppol-sub001/internal/server   - HTTP API
	github.com/brbxai/recommand-peppol-sub001/cmd/peppol-smp    - Server and operator commands

# Networks

Production teams publish on the production SMP. Playground teams publish
only when they opt into the Peppol test network, and then on the test SMP;
otherwise their data stays local.

# Example

	client := discovery.NewClient(discovery.ClientConfig{})
	support, err := client.VerifyDocumentSupport(ctx, "0208:0659689080", identifier.DocTypeInvoice, false)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(support.Endpoint)
*/
package peppol
