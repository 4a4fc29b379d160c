// Package webui serves the HTTP surface of cruxview: the CrUX JSON API, an
// embedded dashboard page, a WebSocket that pushes views as the session
// changes, and Prometheus metrics.
package webui

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/tobert/cruxview/internal/crux"
	"github.com/tobert/cruxview/internal/report"
	"github.com/tobert/cruxview/internal/session"
)

//go:embed static/index.html
var staticFiles embed.FS

const maxBodyBytes = 1 << 20

// Options configures a Server.
type Options struct {
	// Fetcher backs POST /api/crux. Usually the same one the session searches
	// with; nil makes the proxy answer 500.
	Fetcher        crux.Fetcher
	Metrics        *Metrics // nil disables /metrics and instrumentation
	AllowedOrigins []string // CORS; empty means any origin
	SearchTimeout  time.Duration
	Verbose        bool
}

// Server serves the web UI, JSON API and WebSocket updates for one session.
type Server struct {
	session *session.Session
	opts    Options
}

// New creates a new web UI server.
func New(sess *session.Session, opts Options) *Server {
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = 60 * time.Second
	}
	return &Server{session: sess, opts: opts}
}

// RegisterRoutes attaches the API and UI routes to an existing ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	m := s.opts.Metrics

	mux.HandleFunc("GET /api/health", m.instrument("/api/health", s.handleHealth))
	mux.HandleFunc("POST /api/crux", m.instrument("/api/crux", s.handleCrux))
	mux.HandleFunc("POST /api/search", m.instrument("/api/search", s.handleSearch))
	mux.HandleFunc("GET /api/views", m.instrument("/api/views", s.handleViews))
	mux.HandleFunc("POST /api/filter", m.instrument("/api/filter", s.handleFilter))
	mux.HandleFunc("POST /api/sort", m.instrument("/api/sort", s.handleSort))
	mux.HandleFunc("GET /ui/", s.handleUI)
	mux.HandleFunc("GET /ui", s.handleUIRedirect)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	if m != nil {
		mux.Handle("GET /metrics", m.Handler())
	}
}

// Handler returns a mux with every route registered, wrapped in CORS.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return CORS(s.opts.AllowedOrigins, mux)
}

// Serve runs handler on addr until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// handleUIRedirect redirects /ui to /ui/ for consistent routing.
func (s *Server) handleUIRedirect(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/ui/", http.StatusMovedPermanently)
}

// handleUI serves the embedded index.html.
func (s *Server) handleUI(w http.ResponseWriter, r *http.Request) {
	data, err := staticFiles.ReadFile("static/index.html")
	if err != nil {
		http.Error(w, "UI not found", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Server is up and running!"})
}

type cruxRequest struct {
	URL string `json:"url"`
}

// handleCrux proxies one origin to the CrUX API and relays the reply body
// untouched.
func (s *Server) handleCrux(w http.ResponseWriter, r *http.Request) {
	var req cruxRequest
	if err := decodeBody(w, r, &req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "URL is required")
		return
	}

	if s.opts.Fetcher == nil {
		log.Printf("⚠️  webui: /api/crux called without a CrUX client configured")
		writeError(w, http.StatusInternalServerError, "Failed to fetch CrUX data")
		return
	}

	body, err := s.opts.Fetcher.QueryRecord(r.Context(), req.URL)
	if err != nil {
		log.Printf("⚠️  webui: CrUX API error: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch CrUX data")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

type searchRequest struct {
	Origins []string `json:"origins"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(crux.CleanOrigins(req.Origins)) == 0 {
		writeError(w, http.StatusBadRequest, "at least one origin is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.SearchTimeout)
	defer cancel()

	snap, err := s.session.Search(ctx, req.Origins)
	switch {
	case errors.Is(err, session.ErrNoFetcher):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusGatewayTimeout, err.Error())
		return
	}
	if s.opts.Verbose {
		log.Printf("🔎 webui: searched %d origins, %d failed", len(snap.Results), countFailed(snap.Results))
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleViews(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

// filterRequest updates only the fields that are present.
type filterRequest struct {
	Origins   *report.Set `json:"origins"`
	Metrics   *report.Set `json:"metrics"`
	Threshold *float64    `json:"threshold"`
}

func (f filterRequest) apply(cur report.FilterState) report.FilterState {
	if f.Origins != nil {
		cur.Origins = *f.Origins
	}
	if f.Metrics != nil {
		cur.Metrics = *f.Metrics
	}
	if f.Threshold != nil {
		cur.Threshold = *f.Threshold
	}
	return cur
}

func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	var req filterRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	writeJSON(w, http.StatusOK, s.session.UpdateFilter(req.apply))
}

// sortRequest is either {"key","direction"} or {"toggle"}.
type sortRequest struct {
	Key       string `json:"key"`
	Direction string `json:"direction"`
	Toggle    string `json:"toggle"`
}

func (s *Server) applySort(req sortRequest) (session.Snapshot, error) {
	if req.Toggle != "" {
		return s.session.ToggleSort(report.SortKey(req.Toggle))
	}
	return s.session.SetSort(report.SortState{
		Key:       report.SortKey(req.Key),
		Direction: report.Direction(req.Direction),
	})
}

func (s *Server) handleSort(w http.ResponseWriter, r *http.Request) {
	var req sortRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	snap, err := s.applySort(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func countFailed(results []report.OriginResult) int {
	n := 0
	for _, r := range results {
		if !r.OK() {
			n++
		}
	}
	return n
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("webui: failed to encode JSON: %v", err)
		code = http.StatusInternalServerError
		data, _ = json.Marshal(map[string]string{"error": "failed to encode response"})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(append(data, '\n')); err != nil {
		log.Printf("webui: failed to write JSON: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
