// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package smp publishes participant records to the operator's own SMP
(Service Metadata Publisher).

Three resources are kept per participant, each created or replaced with an
idempotent PUT and removed with a DELETE:

  - Service group: existence record, PUT <scheme>::<participant>
  - Service metadata: one record per document type, listing every process
    the participant accepts it under, the AS4 endpoint URL and the operator
    AS4 certificate; PUT <scheme>::<participant>/services/<docScheme>::<docType>
  - Business card: Peppol Directory entry, PUT businesscard/<scheme>::<participant>

The [Writer] is the authenticated transport (bearer token); [ServiceGroups],
[ServiceMetadata] and [BusinessCards] build the XML envelopes. [Publisher]
bundles the three for callers that drive complete registrations.

Any non-2xx answer is returned as a [*RegistryError] that carries the remote
response body:

	w := smp.NewWriter(smp.WriterConfig{BaseURL: "https://smp.example.com", Token: token})
	groups := smp.NewServiceGroups(w)
	if err := groups.Register(ctx, participant); err != nil {
	    var regErr *smp.RegistryError
	    if errors.As(err, &regErr) {
	        log.Printf("SMP said %d: %s", regErr.StatusCode, regErr.Body)
	    }
	}

# References

  - Peppol SMP specification 1.x: https://docs.peppol.eu/edelivery/
  - Peppol Directory business card: https://docs.peppol.eu/edelivery/directory/
*/
package smp
