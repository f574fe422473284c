// Package ledger holds the authoritative reconciliation state for driftwatch:
// the set of domains awaiting resolution, the resolved address records, and
// the user-maintained table of known servers. The Store guards a single
// invariant above all others: a domain is never present in both the
// unresolved set and the resolved collection at the same time.
package ledger

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// TimeFormat is the display format used for Record.ResolvedAt.
const TimeFormat = "2006-01-02 15:04:05"

// ErrIndexOutOfRange is returned by positional removals with a bad index.
var ErrIndexOutOfRange = errors.New("index out of range")

// KnownServer is a user-declared name/IP pair used to label resolved
// addresses. Names are unique within the table; IPs are free-form and may
// repeat.
type KnownServer struct {
	Name string `json:"name"`
	IP   string `json:"ip"`
}

// Record is one (domain, IP) pairing produced by a successful resolution.
// A domain resolving to N addresses yields N records, all sharing the same
// ResolvedAt/Timestamp. ServerName is empty when the IP matched no known
// server at resolution time; the match is never recomputed afterwards.
type Record struct {
	Domain     string `json:"domain"`
	IP         string `json:"ip"`
	ServerName string `json:"serverName,omitempty"`
	ResolvedAt string `json:"resolvedAt"`
	Timestamp  int64  `json:"timestamp"`
}

// Matched reports whether the record was labeled with a known server.
func (r Record) Matched() bool { return r.ServerName != "" }

// NewRecord builds a resolved record stamped with now.
func NewRecord(domain, ip, serverName string, now time.Time) Record {
	return Record{
		Domain:     domain,
		IP:         ip,
		ServerName: serverName,
		ResolvedAt: now.Format(TimeFormat),
		Timestamp:  now.UnixMilli(),
	}
}

// Snapshot is a point-in-time copy of the three collections, used for
// persistence and for read-only API responses.
type Snapshot struct {
	Unresolved []string      `json:"unresolved"`
	Servers    []KnownServer `json:"servers"`
	Records    []Record      `json:"records"`
}

// Store is the in-memory reconciliation state. It is safe for concurrent
// use; every method takes a consistent view under the store lock, so
// multi-step operations (classify-and-insert, replace-and-dequeue) are
// atomic with respect to each other.
type Store struct {
	mu         sync.RWMutex
	unresolved []string      // sorted lexicographically
	servers    []KnownServer // insertion order
	records    []Record      // sorted by domain, answer order within a domain
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{}
}

// AddDomains classifies each candidate against the current state and inserts
// the new ones. Candidates already awaiting resolution land in dupPending,
// candidates with live resolved records in dupResolved; everything else is
// inserted and returned in added. The unresolved set is re-sorted once if
// anything was inserted. The whole batch runs under one lock acquisition.
func (s *Store) AddDomains(candidates []string) (added, dupPending, dupResolved []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, domain := range candidates {
		switch {
		case s.hasUnresolvedLocked(domain):
			dupPending = append(dupPending, domain)
		case s.hasRecordsLocked(domain):
			dupResolved = append(dupResolved, domain)
		default:
			s.unresolved = append(s.unresolved, domain)
			added = append(added, domain)
		}
	}

	if len(added) > 0 {
		sort.Strings(s.unresolved)
	}
	return added, dupPending, dupResolved
}

// RemoveUnresolved drops a domain from the unresolved set. It reports
// whether the domain was present; resolved records are never touched.
func (s *Store) RemoveUnresolved(domain string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeUnresolvedLocked(domain)
}

// AddServer appends a known server. It reports false without modifying the
// table when the name is already taken, keeping names usable as grouping
// keys and as persistence keys.
func (s *Store) AddServer(name, ip string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, srv := range s.servers {
		if srv.Name == name {
			return false
		}
	}
	s.servers = append(s.servers, KnownServer{Name: name, IP: ip})
	return true
}

// RemoveServer removes a known server by positional index and returns it.
// Existing records keep whatever label they were resolved with.
func (s *Store) RemoveServer(index int) (KnownServer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.servers) {
		return KnownServer{}, ErrIndexOutOfRange
	}
	removed := s.servers[index]
	s.servers = append(s.servers[:index], s.servers[index+1:]...)
	return removed, nil
}

// RemoveRecord removes one resolved record by positional index within the
// resolved collection and returns it.
func (s *Store) RemoveRecord(index int) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.records) {
		return Record{}, ErrIndexOutOfRange
	}
	removed := s.records[index]
	s.records = append(s.records[:index], s.records[index+1:]...)
	return removed, nil
}

// RemoveUnmatched drops every record that matched no known server at
// resolution time and returns how many were removed.
func (s *Store) RemoveUnmatched() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	for _, rec := range s.records {
		if rec.Matched() {
			kept = append(kept, rec)
		}
	}
	removed := len(s.records) - len(kept)
	s.records = kept
	return removed
}

// ApplyResolution atomically installs the outcome of one successful
// resolution: all prior records for the domain are replaced by recs, the
// domain leaves the unresolved set if it was queued there, and the resolved
// collection is re-sorted by domain. The replaced records are returned so
// the caller can diff the old and new address sets.
func (s *Store) ApplyResolution(domain string, recs []Record) (prev []Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make([]Record, 0, len(s.records)+len(recs))
	for _, rec := range s.records {
		if rec.Domain == domain {
			prev = append(prev, rec)
			continue
		}
		kept = append(kept, rec)
	}
	kept = append(kept, recs...)
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Domain < kept[j].Domain })
	s.records = kept

	s.removeUnresolvedLocked(domain)
	return prev
}

// Tracked reports whether the domain is known to the store, either queued
// for resolution or carrying resolved records.
func (s *Store) Tracked(domain string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasUnresolvedLocked(domain) || s.hasRecordsLocked(domain)
}

// Unresolved returns a copy of the unresolved set in canonical order.
func (s *Store) Unresolved() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, len(s.unresolved))
	copy(out, s.unresolved)
	return out
}

// Servers returns a copy of the known-server table in insertion order.
func (s *Store) Servers() []KnownServer {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]KnownServer, len(s.servers))
	copy(out, s.servers)
	return out
}

// Records returns a copy of the resolved collection in canonical order.
func (s *Store) Records() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// ResolvedDomains returns the distinct domains of the resolved collection,
// in collection order.
func (s *Store) ResolvedDomains() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	seen := make(map[string]struct{}, len(s.records))
	for _, rec := range s.records {
		if _, ok := seen[rec.Domain]; ok {
			continue
		}
		seen[rec.Domain] = struct{}{}
		out = append(out, rec.Domain)
	}
	return out
}

// RecordsFor returns copies of the records currently held for domain.
func (s *Store) RecordsFor(domain string) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, rec := range s.records {
		if rec.Domain == domain {
			out = append(out, rec)
		}
	}
	return out
}

// Snapshot copies all three collections under one lock acquisition.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Unresolved: make([]string, len(s.unresolved)),
		Servers:    make([]KnownServer, len(s.servers)),
		Records:    make([]Record, len(s.records)),
	}
	copy(snap.Unresolved, s.unresolved)
	copy(snap.Servers, s.servers)
	copy(snap.Records, s.records)
	return snap
}

// Restore replaces the full store contents, re-establishing canonical sort
// order. Used once at startup to rehydrate from the persistence layer.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.unresolved = append([]string(nil), snap.Unresolved...)
	s.servers = append([]KnownServer(nil), snap.Servers...)
	s.records = append([]Record(nil), snap.Records...)

	sort.Strings(s.unresolved)
	sort.SliceStable(s.records, func(i, j int) bool { return s.records[i].Domain < s.records[j].Domain })
}

func (s *Store) hasUnresolvedLocked(domain string) bool {
	for _, d := range s.unresolved {
		if d == domain {
			return true
		}
	}
	return false
}

func (s *Store) hasRecordsLocked(domain string) bool {
	for _, rec := range s.records {
		if rec.Domain == domain {
			return true
		}
	}
	return false
}

func (s *Store) removeUnresolvedLocked(domain string) bool {
	for i, d := range s.unresolved {
		if d == domain {
			s.unresolved = append(s.unresolved[:i], s.unresolved[i+1:]...)
			return true
		}
	}
	return false
}
