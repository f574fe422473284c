// Package resolver turns domain names into IPv4 addresses. It ships two
// interchangeable transports: DNS-over-HTTPS JSON queries and classic
// DNS over UDP.
package resolver

import (
	"context"
	"fmt"
	"strconv"

	"github.com/miekg/dns"
)

var (
	// ErrNoRecords is returned when a lookup succeeds but carries no A records.
	ErrNoRecords = fmt.Errorf("no A records found")
	// ErrEmptyMsg is returned when the transport produced no response
	// message at all.
	ErrEmptyMsg = fmt.Errorf("empty message")
	// ErrEmptyDomain is returned when an empty domain is provided.
	ErrEmptyDomain = fmt.Errorf("empty domain")
)

// Clienter defines the interface for domain resolution.
type Clienter interface {
	// Resolve returns the domain's IPv4 addresses in answer order.
	Resolve(ctx context.Context, domain string) ([]string, error)
}

// rcodeName renders a DNS response code for error messages.
func rcodeName(code int) string {
	if name, ok := dns.RcodeToString[code]; ok {
		return name
	}
	return strconv.Itoa(code)
}
