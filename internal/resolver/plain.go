package resolver

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/miekg/dns"
)

var _defaultResolver = "1.1.1.1:53"

var _ Clienter = (*PlainClient)(nil)

// Exchanger is the slice of *dns.Client the plain transport needs;
// tests substitute canned exchanges.
type Exchanger interface {
	ExchangeContext(ctx context.Context, m *dns.Msg, a string) (r *dns.Msg, rtt time.Duration, err error)
}

// PlainClient resolves domains with classic DNS TypeA queries over UDP.
type PlainClient struct {
	Client    Exchanger
	Timeout   time.Duration
	Resolvers []string
	Retries   uint
}

// PlainOpt is a function option for configuring the PlainClient.
type PlainOpt func(c *PlainClient)

// NewPlain creates a new PlainClient with the given timeout and optional
// configurations. The returned client is ready to use for lookups.
func NewPlain(timeout time.Duration, opts ...PlainOpt) *PlainClient {
	c := &PlainClient{
		Client: &dns.Client{
			Timeout: timeout,
		},
		Timeout: timeout,
	}

	for _, o := range opts {
		o(c)
	}

	return c
}

// WithResolvers sets the upstream resolvers queries go to. Without it
// every query goes to 1.1.1.1:53.
func WithResolvers(resolvers []string) PlainOpt {
	return func(c *PlainClient) {
		c.Resolvers = resolvers
	}
}

// WithRetries returns an option to set the number of additional attempts
// made per query before giving up.
func WithRetries(retries uint) PlainOpt {
	return func(c *PlainClient) {
		c.Retries = retries
	}
}

// Resolve queries a resolver for the domain's A records and returns the
// addresses in answer order. Returns an error if the domain is empty or
// if every attempt fails.
func (c *PlainClient) Resolve(ctx context.Context, domain string) ([]string, error) {
	if strings.TrimSpace(domain) == "" {
		return nil, ErrEmptyDomain
	}

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	var lastErr error
	for attempt := uint(0); attempt <= c.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// ExchangeContext mutates the message, so build a fresh one
		// per attempt.
		req := &dns.Msg{}
		req.SetQuestion(dns.Fqdn(domain), dns.TypeA)

		resp, _, err := c.Client.ExchangeContext(ctx, req, c.getResolver())
		if err != nil {
			lastErr = err
			continue // retry
		}

		ips, err := parseA(resp)
		if err != nil {
			lastErr = err
			continue // retry
		}
		return ips, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("dns lookup failed for %q", domain)
	}
	return nil, fmt.Errorf("dns lookup for %q: %w", domain, lastErr)
}

// parseA parses the DNS response and returns the IPv4 addresses from its
// A answers, preserving answer order.
func parseA(resp *dns.Msg) ([]string, error) {
	if resp == nil {
		return nil, ErrEmptyMsg
	}

	var ips []string
	for _, rr := range resp.Answer {
		if record, ok := rr.(*dns.A); ok {
			ips = append(ips, record.A.String())
		}
	}

	if len(ips) == 0 {
		if resp.Rcode != dns.RcodeSuccess {
			return nil, fmt.Errorf("%w (rcode %s)", ErrNoRecords, rcodeName(resp.Rcode))
		}
		return nil, ErrNoRecords
	}

	return ips, nil
}

// getResolver picks one of the configured resolvers at random so load
// spreads across them.
func (c *PlainClient) getResolver() string {
	if len(c.Resolvers) == 0 {
		return _defaultResolver
	}

	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(c.Resolvers))))
	if err != nil {
		return c.Resolvers[0]
	}

	return c.Resolvers[n.Int64()]
}
