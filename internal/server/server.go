// internal/server/server.go
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/user/memorial/internal/conversation"
	"github.com/user/memorial/internal/functions"
	"github.com/user/memorial/internal/types"
)

// Backend bundles the stores the HTTP surface reads and writes.
type Backend struct {
	Turns         types.TurnStore
	Sources       types.SourceStore
	Tributes      types.TributeStore
	Answerer      types.Answerer
	Conversations *conversation.Store
	// Functions is mounted under /functions/v1/ when set.
	Functions *functions.Registry
}

type Config struct {
	// NotebookID is used when a request names no notebook.
	NotebookID types.NotebookID
	UserID     string
	// TributeRate and TributeBurst limit tribute submissions per client IP.
	TributeRate  rate.Limit
	TributeBurst int
	// IngestKey enables POST /api/chat-histories for bearer holders.
	IngestKey string
}

// Server is the memorial site's JSON API.
type Server struct {
	backend Backend
	cfg     Config
	limiter *ipLimiter
	mux     *http.ServeMux
	handler http.Handler
}

func New(backend Backend, cfg Config) *Server {
	if cfg.TributeRate == 0 {
		cfg.TributeRate = rate.Limit(0.2)
	}
	if cfg.TributeBurst <= 0 {
		cfg.TributeBurst = 5
	}
	if cfg.UserID == "" {
		cfg.UserID = conversation.DefaultUserID
	}
	s := &Server{
		backend: backend,
		cfg:     cfg,
		limiter: newIPLimiter(cfg.TributeRate, cfg.TributeBurst),
		mux:     http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /api/tributes", s.handleCreateTribute)
	s.mux.HandleFunc("GET /api/tributes", s.handleListTributes)
	s.mux.HandleFunc("GET /api/notebooks/{id}/sources", s.handleListSources)
	s.mux.HandleFunc("GET /api/sources/{id}/view", s.handleSourceView)
	s.mux.HandleFunc("GET /api/sessions/{id}/messages", s.handleListMessages)
	s.mux.HandleFunc("POST /api/sessions/{id}/messages", s.handleSendMessage)
	s.mux.HandleFunc("GET /api/sessions/{id}/events", s.handleEvents)
	if backend.Functions != nil {
		s.mux.HandleFunc("POST /functions/v1/{name}", s.handleFunction)
	}
	if cfg.IngestKey != "" {
		s.mux.HandleFunc("POST /api/chat-histories", s.handleIngest)
	}
	s.handler = recoverer(requestLogger(s.mux))
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) notebookID(r *http.Request) types.NotebookID {
	if nb := r.URL.Query().Get("notebook_id"); nb != "" {
		return types.NotebookID(nb)
	}
	return s.cfg.NotebookID
}
