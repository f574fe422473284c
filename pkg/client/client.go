// Package client wraps the driftwatch daemon's JSON API over its
// Unix-domain socket in typed method calls, so CLI tools never touch
// HTTP plumbing or generic maps.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/driftwatch/driftwatch/internal/ledger"
	"github.com/driftwatch/driftwatch/internal/notify"
	"github.com/driftwatch/driftwatch/internal/socket"
	"github.com/driftwatch/driftwatch/pkg/api"
)

// Client speaks the daemon's JSON API through a socket-bound transport.
type Client struct {
	hc   *http.Client
	base string // dummy scheme+host for Request.URL (http://unix)
}

// New returns a Client that dials the given Unix-domain socket path.
// Dialing goes through the socket package, so a CLI invocation that
// races a starting daemon waits for it instead of failing outright.
func New(socketPath string) *Client {
	sock := socket.New(socketPath)
	dial := func(ctx context.Context, _, _ string) (net.Conn, error) {
		return sock.Dial(ctx)
	}
	tr := &http.Transport{DialContext: dial}
	return &Client{hc: &http.Client{Transport: tr}, base: "http://unix"}
}

// --------------------------- commands ------------------------------

// AddDomains queues one or more comma-separated domains for resolution.
func (c *Client) AddDomains(ctx context.Context, input string) (api.AddDomainsResponse, error) {
	var out api.AddDomainsResponse
	err := c.post(ctx, "/v1/domains/add", api.AddDomainsRequest{Input: input}, &out)
	return out, err
}

// RemoveDomain drops a domain from the unresolved queue.
// It reports whether anything was removed.
func (c *Client) RemoveDomain(ctx context.Context, domain string) (bool, error) {
	var out api.ChangedResponse
	err := c.post(ctx, "/v1/domains/remove", api.RemoveDomainRequest{Domain: domain}, &out)
	return out.Changed, err
}

// AddServer adds an entry to the known-server table. It reports whether
// the entry was accepted.
func (c *Client) AddServer(ctx context.Context, name, ip string) (bool, error) {
	var out api.ChangedResponse
	err := c.post(ctx, "/v1/servers/add", api.AddServerRequest{Name: name, IP: ip}, &out)
	return out.Changed, err
}

// RemoveServer drops the known server at the given list position and
// returns the removed entry.
func (c *Client) RemoveServer(ctx context.Context, index int) (ledger.KnownServer, error) {
	var out ledger.KnownServer
	err := c.post(ctx, "/v1/servers/remove", api.IndexRequest{Index: index}, &out)
	return out, err
}

// RemoveRecord drops the resolved record at the given list position and
// returns the removed entry.
func (c *Client) RemoveRecord(ctx context.Context, index int) (ledger.Record, error) {
	var out ledger.Record
	err := c.post(ctx, "/v1/records/remove", api.IndexRequest{Index: index}, &out)
	return out, err
}

// PruneUnmatched drops every record that matched no known server and
// returns how many were removed.
func (c *Client) PruneUnmatched(ctx context.Context) (int, error) {
	var out api.PruneResponse
	err := c.post(ctx, "/v1/records/remove-unmatched", nil, &out)
	return out.Removed, err
}

// Resolve resolves a single domain, or the whole unresolved queue when
// domain is empty.
func (c *Client) Resolve(ctx context.Context, domain string) (api.ResolveSummary, error) {
	var out api.ResolveSummary
	err := c.post(ctx, "/v1/resolve", api.ResolveRequest{Domain: domain}, &out)
	return out, err
}

// Retry re-resolves every resolved domain.
func (c *Client) Retry(ctx context.Context) (api.ResolveSummary, error) {
	var out api.ResolveSummary
	err := c.post(ctx, "/v1/retry", nil, &out)
	return out, err
}

// State retrieves the full working set from the daemon.
func (c *Client) State(ctx context.Context) (api.StateResponse, error) {
	var out api.StateResponse
	err := c.get(ctx, "/v1/state", &out)
	return out, err
}

// Groups retrieves resolved records grouped by matched server.
func (c *Client) Groups(ctx context.Context) ([]ledger.Group, error) {
	var out []ledger.Group
	err := c.get(ctx, "/v1/groups", &out)
	return out, err
}

// Notifications retrieves the live notification buffer.
func (c *Client) Notifications(ctx context.Context) ([]notify.Notification, error) {
	var out []notify.Notification
	err := c.get(ctx, "/v1/notifications", &out)
	return out, err
}

// Status reports the daemon's version and working-set counters.
// It returns set sizes, uptime, and version.
func (c *Client) Status(ctx context.Context) (api.StatusResponse, error) {
	var out api.StatusResponse
	err := c.get(ctx, "/v1/status", &out)
	return out, err
}

// --------------------------- HTTP helpers --------------------------

func (c *Client) post(ctx context.Context, path string, payload, v any) error {
	buf, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.base+path, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return statusError(resp)
	}
	if v == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *Client) get(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.base+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return statusError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// statusError surfaces the daemon's error text when it sent one.
func statusError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if text := strings.TrimSpace(string(msg)); text != "" {
		return fmt.Errorf("daemon returned %s: %s", resp.Status, text)
	}
	return fmt.Errorf("daemon returned %s", resp.Status)
}
