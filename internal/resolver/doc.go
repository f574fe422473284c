// Package resolver provides IPv4 resolution of domain names over two
// interchangeable transports.
//
// The package exposes a single Clienter interface so the rest of the
// daemon never cares how answers are obtained. The primary transport is
// DNS-over-HTTPS with JSON answers (the application/dns-json format
// served by public endpoints such as Cloudflare's); a classic DNS
// transport over UDP is available for environments where HTTPS egress
// is not an option.
//
// # Transports
//
//   - HTTPSClient: one GET per lookup against a configurable endpoint,
//     answers parsed from the JSON Answer array (type 1 entries only)
//   - PlainClient: TypeA queries via github.com/miekg/dns with retries
//     and random selection across the configured resolvers
//
// Both return the IPv4 addresses in answer order, which callers rely on
// when comparing consecutive resolutions of the same domain.
//
// # Basic Usage
//
// Create a resolver with default settings:
//
//	client := resolver.NewHTTPS(5 * time.Second)
//	ips, err := client.Resolve(ctx, "example.com")
//	if err != nil {
//		log.Fatal(err)
//	}
//	for _, ip := range ips {
//		fmt.Printf("Resolved IP: %s\n", ip)
//	}
//
// Configure a custom endpoint, or switch transports entirely:
//
//	client := resolver.NewHTTPS(
//		5 * time.Second,
//		resolver.WithEndpoint("https://dns.google/resolve"),
//	)
//
//	plain := resolver.NewPlain(
//		5 * time.Second,
//		resolver.WithResolvers([]string{"1.1.1.1:53", "8.8.8.8:53"}),
//		resolver.WithRetries(2),
//	)
//
// # Error Handling
//
// The package defines several error types:
//   - ErrNoRecords: the lookup succeeded but returned no A records;
//     the error is annotated with the DNS response code when available
//   - ErrEmptyMsg: an empty DNS response was received
//   - ErrEmptyDomain: an empty domain was provided
//
// Transport failures (HTTP status, network, decoding) are wrapped with
// the queried domain so log lines stay attributable.
//
// # Answer Filtering
//
// DoH JSON answers mix record types: a query for a CNAME'd name returns
// both the CNAME chain and the terminal A records in one Answer array.
// Only type 1 (A) entries become results; everything else is skipped.
// The plain transport applies the same filter to its answer section.
//
// Neither client retries beyond its own attempt budget and neither
// caches: the daemon owns re-resolution policy and record lifetimes.
package resolver
