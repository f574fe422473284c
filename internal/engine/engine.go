// Package engine orchestrates the domain/IP reconciliation lifecycle.
// It owns the ledger store, invokes the resolver, classifies answers
// against the known-server table, detects IP drift on re-resolution,
// and mirrors every mutation to persistent storage. All resolution
// paths share one single-flight guard so batch passes and manual
// retries never interleave their writes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"go.uber.org/atomic"

	"github.com/driftwatch/driftwatch/internal/ledger"
	"github.com/driftwatch/driftwatch/internal/log"
	"github.com/driftwatch/driftwatch/internal/notify"
	"github.com/driftwatch/driftwatch/internal/persist"
	"github.com/driftwatch/driftwatch/internal/resolver"
)

const (
	// Pause between consecutive lookups in a retry batch.
	_retryPause = 100 * time.Millisecond
	// How long a domain stays marked after a successful re-resolution.
	_retryFlashWindow = 3 * time.Second
)

var (
	// ErrResolveInFlight is returned when a resolution pass is already running.
	ErrResolveInFlight = errors.New("resolution already in flight")
	// ErrNotTracked is returned when a domain is neither queued nor resolved.
	ErrNotTracked = errors.New("domain not tracked")
)

var (
	_resolutionsTotal   = metrics.NewCounter("driftwatch_resolutions_total")
	_resolutionFailures = metrics.NewCounter("driftwatch_resolution_failures_total")
	_ipDriftTotal       = metrics.NewCounter("driftwatch_ip_drift_total")
)

// Engine coordinates the store, resolver, persistence, and notifications.
type Engine struct {
	store  *ledger.Store
	saver  persist.Saver
	center *notify.Center

	resolverMu sync.RWMutex
	resolver   resolver.Clienter

	// resolving guards every resolution path: a second entry point while
	// one is in flight fails fast instead of queueing.
	resolving atomic.Bool

	retriedMu sync.Mutex
	retried   map[string]time.Time // domain -> flash expiry
}

// New creates a new Engine instance operating on the given store.
func New(store *ledger.Store, res resolver.Clienter, saver persist.Saver, center *notify.Center) *Engine {
	return &Engine{
		store:    store,
		resolver: res,
		saver:    saver,
		center:   center,
		retried:  make(map[string]time.Time),
	}
}

// SetResolver swaps the resolver client. Used when a config reload
// changes resolver settings; lookups already in flight keep the client
// they started with.
func (e *Engine) SetResolver(res resolver.Clienter) {
	e.resolverMu.Lock()
	defer e.resolverMu.Unlock()
	e.resolver = res
}

func (e *Engine) currentResolver() resolver.Clienter {
	e.resolverMu.RLock()
	defer e.resolverMu.RUnlock()
	return e.resolver
}

// AddDomains splits raw input on commas and queues each new domain for
// resolution. Duplicates of queued or resolved domains are skipped and
// reported back; all warnings of one batch become a single aggregated
// notification.
func (e *Engine) AddDomains(raw string) (added, warnings []string) {
	var candidates []string
	for _, token := range strings.Split(raw, ",") {
		if token = strings.TrimSpace(token); token != "" {
			candidates = append(candidates, token)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	added, dupPending, dupResolved := e.store.AddDomains(candidates)
	for _, domain := range dupPending {
		warnings = append(warnings, fmt.Sprintf("domain %q is already queued", domain))
	}
	for _, domain := range dupResolved {
		warnings = append(warnings, fmt.Sprintf("domain %q is already resolved", domain))
	}

	if len(added) > 0 {
		log.Infof("engine: queued %d domain(s)", len(added))
		e.flush()
	}
	if len(warnings) > 0 {
		e.center.Warn(strings.Join(warnings, "; "))
	}

	return added, warnings
}

// AddKnownServer records a name/IP pairing used to classify resolved
// addresses. Blank input is silently ignored; a taken name is skipped
// with a warning. Existing records are not re-matched.
func (e *Engine) AddKnownServer(name, ip string) bool {
	name = strings.TrimSpace(name)
	ip = strings.TrimSpace(ip)
	if name == "" || ip == "" {
		return false
	}

	if !e.store.AddServer(name, ip) {
		e.center.Warn(fmt.Sprintf("server %q already exists", name))
		return false
	}

	log.Infof("engine: added known server %q (%s)", name, ip)
	e.flush()
	return true
}

// RemoveKnownServer drops the server at the given position. Records that
// were matched to it keep their stored server name.
func (e *Engine) RemoveKnownServer(index int) (ledger.KnownServer, error) {
	srv, err := e.store.RemoveServer(index)
	if err != nil {
		return ledger.KnownServer{}, err
	}

	log.Infof("engine: removed known server %q", srv.Name)
	e.flush()
	return srv, nil
}

// RemoveDomain drops a domain from the unresolved set. Resolved records
// are never touched by this path.
func (e *Engine) RemoveDomain(domain string) bool {
	removed := e.store.RemoveUnresolved(strings.TrimSpace(domain))
	if removed {
		log.Infof("engine: removed queued domain %q", domain)
		e.flush()
	}
	return removed
}

// RemoveRecord drops the resolved record at the given position.
func (e *Engine) RemoveRecord(index int) (ledger.Record, error) {
	rec, err := e.store.RemoveRecord(index)
	if err != nil {
		return ledger.Record{}, err
	}

	log.Infof("engine: removed record %s (%s)", rec.Domain, rec.IP)
	e.flush()
	return rec, nil
}

// RemoveAllUnmatched drops every record that no known server claimed.
func (e *Engine) RemoveAllUnmatched() int {
	removed := e.store.RemoveUnmatched()
	if removed > 0 {
		log.Infof("engine: pruned %d unmatched record(s)", removed)
		e.flush()
	}
	return removed
}

// Resolve resolves a single tracked domain, queued or already resolved.
func (e *Engine) Resolve(ctx context.Context, domain string) error {
	domain = strings.TrimSpace(domain)
	if !e.store.Tracked(domain) {
		return fmt.Errorf("%w: %s", ErrNotTracked, domain)
	}

	if !e.resolving.CompareAndSwap(false, true) {
		return ErrResolveInFlight
	}
	defer e.resolving.Store(false)

	return e.resolveOne(ctx, domain)
}

// ResolveAll works through a snapshot of the unresolved set in order.
// Failed domains stay queued for a later pass.
func (e *Engine) ResolveAll(ctx context.Context) (done, failed []string, err error) {
	if !e.resolving.CompareAndSwap(false, true) {
		return nil, nil, ErrResolveInFlight
	}
	defer e.resolving.Store(false)

	pending := e.store.Unresolved()
	log.Infof("engine: resolving %d queued domain(s)", len(pending))

	for _, domain := range pending {
		if err := e.resolveOne(ctx, domain); err != nil {
			failed = append(failed, domain)
			continue
		}
		done = append(done, domain)
	}

	return done, failed, nil
}

// RetryAll re-resolves every currently resolved domain with a fixed
// pause between consecutive lookups. The pass runs to completion over
// its snapshot; individual failures leave that domain's records as
// they were.
func (e *Engine) RetryAll(ctx context.Context) (done, failed []string, err error) {
	if !e.resolving.CompareAndSwap(false, true) {
		return nil, nil, ErrResolveInFlight
	}
	defer e.resolving.Store(false)

	domains := e.store.ResolvedDomains()
	log.Infof("engine: retrying %d resolved domain(s)", len(domains))

	for i, domain := range domains {
		if i > 0 {
			select {
			case <-time.After(_retryPause):
			case <-ctx.Done():
				// Skip the pause; remaining lookups fail fast below.
			}
		}
		if err := e.resolveOne(ctx, domain); err != nil {
			failed = append(failed, domain)
			continue
		}
		done = append(done, domain)
	}

	return done, failed, nil
}

// resolveOne is the shared resolution routine. On success it atomically
// replaces the domain's records with freshly matched ones and reports
// drift against the previous IP set; on failure nothing changes and no
// notification is emitted, the error goes to the caller alone.
func (e *Engine) resolveOne(ctx context.Context, domain string) error {
	ips, err := e.currentResolver().Resolve(ctx, domain)
	if err != nil {
		_resolutionFailures.Inc()
		log.Warnf("engine: resolution failed for %q: %v", domain, err)
		return err
	}
	_resolutionsTotal.Inc()

	now := time.Now()
	servers := e.store.Servers()
	recs := make([]ledger.Record, 0, len(ips))
	for _, ip := range ips {
		name, _ := ledger.Match(ip, servers)
		recs = append(recs, ledger.NewRecord(domain, ip, name, now))
	}

	prev := e.store.ApplyResolution(domain, recs)

	switch {
	case len(prev) == 0:
		e.center.Info(fmt.Sprintf("%s resolved to %s", domain, describePairings(recs)))
	case !ipSetEqual(recordIPs(prev), ips):
		_ipDriftTotal.Inc()
		e.center.Warn(fmt.Sprintf("IP change for %s: was %s, now %s",
			domain, describePairings(prev), describePairings(recs)))
	}

	e.markRetried(domain, now)
	e.flush()
	return nil
}

// Snapshot returns a read-only copy of the current ledger state.
func (e *Engine) Snapshot() ledger.Snapshot {
	return e.store.Snapshot()
}

// Groups returns the resolved records grouped by known server. The view
// is recomputed from the current records and server table on every call.
func (e *Engine) Groups() []ledger.Group {
	return ledger.GroupByServer(e.store.Records(), e.store.Servers())
}

// Notifications returns the live notification feed.
func (e *Engine) Notifications() []notify.Notification {
	return e.center.List()
}

// RecentlyRetried returns the domains still inside the post-resolution
// flash window, sorted. Expired marks are swept on the way out.
func (e *Engine) RecentlyRetried() []string {
	e.retriedMu.Lock()
	defer e.retriedMu.Unlock()

	now := time.Now()
	var out []string
	for domain, expires := range e.retried {
		if now.After(expires) {
			delete(e.retried, domain)
			continue
		}
		out = append(out, domain)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) markRetried(domain string, now time.Time) {
	e.retriedMu.Lock()
	defer e.retriedMu.Unlock()
	e.retried[domain] = now.Add(_retryFlashWindow)
}

// flush mirrors the current state to storage. Failures are logged and
// swallowed; the in-memory state stays authoritative.
func (e *Engine) flush() {
	if err := e.saver.Save(e.store.Snapshot()); err != nil {
		log.Errorf("engine: persistence flush failed: %v", err)
	}
}

// recordIPs extracts the address column of a record list.
func recordIPs(recs []ledger.Record) []string {
	ips := make([]string, 0, len(recs))
	for _, rec := range recs {
		ips = append(ips, rec.IP)
	}
	return ips
}

// describePairings renders records as "name (ip)" pairs for notifications.
func describePairings(recs []ledger.Record) string {
	parts := make([]string, 0, len(recs))
	for _, rec := range recs {
		name := rec.ServerName
		if name == "" {
			name = "unmatched"
		}
		parts = append(parts, fmt.Sprintf("%s (%s)", name, rec.IP))
	}
	return strings.Join(parts, ", ")
}

// ipSetEqual checks if two address lists contain the same IPs, ignoring order.
func ipSetEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}

	counts := make(map[string]int, len(a))
	for _, ip := range a {
		counts[ip]++
	}
	for _, ip := range b {
		if counts[ip] == 0 {
			return false
		}
		counts[ip]--
	}
	return true
}
