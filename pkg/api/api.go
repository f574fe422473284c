// Package api exposes a tiny JSON-over-HTTP API for the driftwatch daemon.
// It listens on a Unix domain socket (path comes from config) and delegates
// all business logic to internal/engine.Engine.  No third-party HTTP
// framework is used, just net/http + encoding/json, keeping the binary
// small and dependency-free.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"github.com/driftwatch/driftwatch/internal/buildinfo"
	"github.com/driftwatch/driftwatch/internal/engine"
	"github.com/driftwatch/driftwatch/internal/ledger"
	"github.com/driftwatch/driftwatch/internal/socket"
)

// AddDomainsRequest carries one or more comma-separated domains to track.
type AddDomainsRequest struct {
	Input string `json:"input"`
}

// AddDomainsResponse reports which domains were queued and which were
// rejected as duplicates.
type AddDomainsResponse struct {
	Added    []string `json:"added"`
	Warnings []string `json:"warnings,omitempty"`
}

// RemoveDomainRequest names a queued domain to drop.
type RemoveDomainRequest struct {
	Domain string `json:"domain"`
}

// AddServerRequest carries a known-server table entry.
type AddServerRequest struct {
	Name string `json:"name"`
	IP   string `json:"ip"`
}

// IndexRequest selects a positional entry for removal.
type IndexRequest struct {
	Index int `json:"index"`
}

// ResolveRequest optionally narrows a resolution pass to one domain.
// An empty domain resolves the whole unresolved queue.
type ResolveRequest struct {
	Domain string `json:"domain,omitempty"`
}

// ResolveSummary reports the outcome of a resolution pass.
type ResolveSummary struct {
	Done   []string `json:"done"`
	Failed []string `json:"failed,omitempty"`
}

// ChangedResponse reports whether a mutation took effect.
type ChangedResponse struct {
	Changed bool `json:"changed"`
}

// PruneResponse reports how many unmatched records were dropped.
type PruneResponse struct {
	Removed int `json:"removed"`
}

// StateResponse is the full working set plus the recently retried marks.
type StateResponse struct {
	ledger.Snapshot
	RecentlyRetried []string `json:"recentlyRetried"`
}

// StatusResponse represents the server status response.
type StatusResponse struct {
	Unresolved int           `json:"unresolved"`
	Servers    int           `json:"servers"`
	Records    int           `json:"records"`
	Uptime     time.Duration `json:"uptime"`
	Version    string        `json:"version"`
	Commit     string        `json:"commit"`
}

// -------- server -----------------------------------------------------

// Server handles HTTP API requests over a Unix domain socket.
type Server struct {
	eng   *engine.Engine
	start time.Time
	mux   *http.ServeMux
	srv   *http.Server
}

// New creates a new API server with the given engine.
// It sets up the HTTP routes and returns a server ready to listen.
func New(eng *engine.Engine) *Server {
	s := &Server{
		eng:   eng,
		start: time.Now(),
		mux:   http.NewServeMux(),
	}

	s.mux.HandleFunc("/v1/domains/add", s.handleDomainAdd)
	s.mux.HandleFunc("/v1/domains/remove", s.handleDomainRemove)
	s.mux.HandleFunc("/v1/servers/add", s.handleServerAdd)
	s.mux.HandleFunc("/v1/servers/remove", s.handleServerRemove)
	s.mux.HandleFunc("/v1/records/remove", s.handleRecordRemove)
	s.mux.HandleFunc("/v1/records/remove-unmatched", s.handleRecordPrune)
	s.mux.HandleFunc("/v1/resolve", s.handleResolve)
	s.mux.HandleFunc("/v1/retry", s.handleRetry)
	s.mux.HandleFunc("/v1/state", s.handleState)
	s.mux.HandleFunc("/v1/groups", s.handleGroups)
	s.mux.HandleFunc("/v1/notifications", s.handleNotifications)
	s.mux.HandleFunc("/v1/status", s.handleStatus)
	s.mux.HandleFunc("/v1/metrics", s.handleMetrics)

	s.srv = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe starts the Unix-socket HTTP server.
func (s *Server) ListenAndServe(path string) error {
	ln, err := socket.Listen(path)
	if err != nil {
		return err
	}
	return s.srv.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error { return s.srv.Shutdown(ctx) }

// handleDomainAdd queues domains for resolution.
func (s *Server) handleDomainAdd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req AddDomainsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Input == "" {
		http.Error(w, "input required", http.StatusBadRequest)
		return
	}
	added, warnings := s.eng.AddDomains(req.Input)
	s.writeJSON(w, AddDomainsResponse{Added: added, Warnings: warnings})
}

// handleDomainRemove drops a domain from the unresolved queue.
func (s *Server) handleDomainRemove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req RemoveDomainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Domain == "" {
		http.Error(w, "domain required", http.StatusBadRequest)
		return
	}
	s.writeJSON(w, ChangedResponse{Changed: s.eng.RemoveDomain(req.Domain)})
}

// handleServerAdd adds an entry to the known-server table.
func (s *Server) handleServerAdd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req AddServerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.IP == "" {
		http.Error(w, "name and ip required", http.StatusBadRequest)
		return
	}
	s.writeJSON(w, ChangedResponse{Changed: s.eng.AddKnownServer(req.Name, req.IP)})
}

// handleServerRemove drops a known server by list position.
func (s *Server) handleServerRemove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req IndexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	srv, err := s.eng.RemoveKnownServer(req.Index)
	if err != nil {
		httpError(w, err)
		return
	}
	s.writeJSON(w, srv)
}

// handleRecordRemove drops a resolved record by list position.
func (s *Server) handleRecordRemove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req IndexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rec, err := s.eng.RemoveRecord(req.Index)
	if err != nil {
		httpError(w, err)
		return
	}
	s.writeJSON(w, rec)
}

// handleRecordPrune drops every record that matched no known server.
func (s *Server) handleRecordPrune(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, PruneResponse{Removed: s.eng.RemoveAllUnmatched()})
}

// handleResolve resolves one domain, or the whole unresolved queue when
// the request names none.
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Domain != "" {
		if err := s.eng.Resolve(r.Context(), req.Domain); err != nil {
			httpError(w, err)
			return
		}
		s.writeJSON(w, ResolveSummary{Done: []string{req.Domain}})
		return
	}
	done, failed, err := s.eng.ResolveAll(r.Context())
	if err != nil {
		httpError(w, err)
		return
	}
	s.writeJSON(w, ResolveSummary{Done: done, Failed: failed})
}

// handleRetry re-resolves every resolved domain.
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	done, failed, err := s.eng.RetryAll(r.Context())
	if err != nil {
		httpError(w, err)
		return
	}
	s.writeJSON(w, ResolveSummary{Done: done, Failed: failed})
}

// handleState returns the full working set.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, StateResponse{
		Snapshot:        s.eng.Snapshot(),
		RecentlyRetried: s.eng.RecentlyRetried(),
	})
}

// handleGroups returns records grouped by matched server.
func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, s.eng.Groups())
}

// handleNotifications returns the live notification buffer.
func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, s.eng.Notifications())
}

// handleStatus returns the server status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snap := s.eng.Snapshot()
	s.writeJSON(w, StatusResponse{
		Unresolved: len(snap.Unresolved),
		Servers:    len(snap.Servers),
		Records:    len(snap.Records),
		Uptime:     time.Since(s.start),
		Version:    buildinfo.Version,
		Commit:     buildinfo.Commit,
	})
}

// handleMetrics writes all registered metrics in Prometheus text format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	metrics.WritePrometheus(w, true)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, fmt.Sprintf("Error encoding response: %v", err), http.StatusInternalServerError)
	}
}

// httpError maps engine sentinels onto HTTP status codes.
func httpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrResolveInFlight):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, engine.ErrNotTracked):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ledger.ErrIndexOutOfRange):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
