package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/miekg/dns"
)

var _defaultEndpoint = "https://cloudflare-dns.com/dns-query"

var _ Clienter = (*HTTPSClient)(nil)

// HTTPSClient resolves domains with DNS-over-HTTPS JSON queries
// (application/dns-json). Each Resolve is a single GET against the
// configured endpoint; callers own any retry policy.
type HTTPSClient struct {
	HTTPClient *http.Client
	Endpoint   string
	Timeout    time.Duration
}

// HTTPSOpt is a function option for configuring the HTTPSClient.
type HTTPSOpt func(c *HTTPSClient)

// NewHTTPS creates a new HTTPSClient with the given timeout and optional
// configurations. The returned client is ready to use for lookups.
func NewHTTPS(timeout time.Duration, opts ...HTTPSOpt) *HTTPSClient {
	c := &HTTPSClient{
		HTTPClient: &http.Client{Timeout: timeout},
		Endpoint:   _defaultEndpoint,
		Timeout:    timeout,
	}

	for _, o := range opts {
		o(c)
	}

	return c
}

// WithEndpoint returns an option to set a custom DoH endpoint.
// If not provided, Cloudflare's public endpoint is used.
func WithEndpoint(endpoint string) HTTPSOpt {
	return func(c *HTTPSClient) {
		c.Endpoint = endpoint
	}
}

// WithHTTPClient returns an option to replace the underlying HTTP client.
func WithHTTPClient(hc *http.Client) HTTPSOpt {
	return func(c *HTTPSClient) {
		c.HTTPClient = hc
	}
}

// dohAnswer is one entry of the JSON response's Answer array. Type uses
// the DNS numeric registry, so A records carry dns.TypeA.
type dohAnswer struct {
	Name string `json:"name"`
	Type uint16 `json:"type"`
	TTL  uint32 `json:"TTL"`
	Data string `json:"data"`
}

type dohResponse struct {
	Status int         `json:"Status"`
	Answer []dohAnswer `json:"Answer"`
}

// Resolve queries the endpoint for the domain's A records and returns
// the addresses in answer order. CNAME and other non-A entries in the
// answer section are skipped.
func (c *HTTPSClient) Resolve(ctx context.Context, domain string) ([]string, error) {
	if strings.TrimSpace(domain) == "" {
		return nil, ErrEmptyDomain
	}

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	query := url.Values{}
	query.Set("name", domain)
	query.Set("type", "A")

	req, err := http.NewRequestWithContext(ctx, "GET", c.Endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/dns-json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("doh query for %q: %w", domain, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("doh query for %q: endpoint returned %s", domain, resp.Status)
	}

	var out dohResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response for %q: %w", domain, err)
	}

	var ips []string
	for _, ans := range out.Answer {
		if ans.Type == dns.TypeA {
			ips = append(ips, ans.Data)
		}
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("doh query for %q: %w (rcode %s)", domain, ErrNoRecords, rcodeName(out.Status))
	}

	return ips, nil
}
