// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package transport builds the HTTP client used to talk to SMP registries.

The operator registry writer and the anonymous discovery reader share one
client: TLS 1.2 minimum, a bounded request timeout and a fixed user agent.

	client := transport.NewHTTPClient(&transport.Config{
	    Timeout:         10 * time.Second,
	    MaxConnsPerHost: 4,
	})

SML fallback hosts are plain HTTP; the TLS settings only apply when the
registry URL uses https.
*/
package transport
