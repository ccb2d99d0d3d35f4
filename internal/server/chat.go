package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/user/memorial/internal/citation"
	"github.com/user/memorial/internal/conversation"
	"github.com/user/memorial/internal/types"
)

// keepAlive is the interval of SSE comment lines that hold idle proxies open.
const keepAlive = 25 * time.Second

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.backend.Sources.ListSources(r.Context(), types.NotebookID(r.PathValue("id")))
	if err != nil {
		slog.Error("list sources failed", "error", err)
		writeError(w, http.StatusInternalServerError, msgQueryFailed)
		return
	}
	if sources == nil {
		sources = []types.Source{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sources":       sources,
		"has_processed": types.HasProcessedSource(sources),
	})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	sid := types.SessionID(r.PathValue("id"))
	nb := s.notebookID(r)
	if nb == "" {
		writeError(w, http.StatusBadRequest, "notebook_id is required")
		return
	}
	msgs, _, err := conversation.Load(r.Context(), s.backend.Turns, s.backend.Sources, sid, nb)
	if err != nil {
		slog.Error("load conversation failed", "session_id", sid, "error", err)
		writeError(w, http.StatusInternalServerError, msgQueryFailed)
		return
	}
	if msgs == nil {
		msgs = []types.NormalizedMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

type sendBody struct {
	Message    string           `json:"message"`
	NotebookID types.NotebookID `json:"notebook_id"`
	UserID     string           `json:"user_id"`
}

// handleSendMessage acknowledges a question once the answer pipeline has
// accepted it. The answer arrives later through the events stream.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var body sendBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req := types.SendRequest{
		SessionID:  types.SessionID(r.PathValue("id")),
		NotebookID: body.NotebookID,
		Message:    strings.TrimSpace(body.Message),
		UserID:     body.UserID,
	}
	if req.NotebookID == "" {
		req.NotebookID = s.notebookID(r)
	}
	if req.UserID == "" {
		req.UserID = s.cfg.UserID
	}
	switch {
	case req.Message == "":
		writeError(w, http.StatusBadRequest, "message is required")
		return
	case req.NotebookID == "":
		writeError(w, http.StatusBadRequest, "notebook_id is required")
		return
	}

	if err := s.backend.Answerer.SendChatMessage(r.Context(), req); err != nil {
		derr := &conversation.DeliveryError{SessionID: req.SessionID, Err: err}
		slog.Warn("question delivery failed", "session_id", req.SessionID, "error", err)
		writeError(w, http.StatusBadGateway, derr.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"success": true})
}

// handleEvents streams the normalized conversation as Server-Sent Events:
// one "messages" event with the full list on connect and after every
// change.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.backend.Conversations == nil {
		writeError(w, http.StatusServiceUnavailable, "live updates are not configured")
		return
	}
	nb := s.notebookID(r)
	if nb == "" {
		writeError(w, http.StatusBadRequest, "notebook_id is required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctx := r.Context()
	view, err := s.backend.Conversations.Subscribe(ctx, types.SessionID(r.PathValue("id")), nb)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer view.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	select {
	case <-view.Loaded():
	case <-ctx.Done():
		return
	}

	// Merges only ever add messages, so an unchanged count and error means
	// there is nothing new to send.
	lastCount, lastErr := -1, ""
	send := func() error {
		msgs := view.Messages()
		errText := ""
		if err := view.Err(); err != nil {
			errText = err.Error()
		}
		if len(msgs) == lastCount && errText == lastErr {
			return nil
		}
		lastCount, lastErr = len(msgs), errText

		payload := map[string]any{"messages": msgs}
		if errText != "" {
			payload["error"] = errText
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: messages\ndata: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}
	if err := send(); err != nil {
		return
	}

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-view.Changes():
			if !ok {
				return
			}
			if err := send(); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleSourceView resolves a citation against its source. Line bounds and
// chunk index come from the query; from_source_list=true opens the source
// without a highlight.
func (s *Server) handleSourceView(w http.ResponseWriter, r *http.Request) {
	src, err := s.backend.Sources.GetSource(r.Context(), types.SourceID(r.PathValue("id")))
	if errors.Is(err, types.ErrNotFound) {
		writeError(w, http.StatusNotFound, "source not found")
		return
	}
	if err != nil {
		slog.Error("get source failed", "error", err)
		writeError(w, http.StatusInternalServerError, msgQueryFailed)
		return
	}

	q := r.URL.Query()
	c := citation.SourceCitation(*src)
	if q.Get("from_source_list") != "true" {
		c.ChunkLinesFrom = queryInt(q.Get("from"))
		c.ChunkLinesTo = queryInt(q.Get("to"))
		c.ChunkIndex = queryInt(q.Get("index"))
	}

	view, err := citation.Open(c, src)
	if errors.Is(err, citation.ErrNothingToShow) {
		writeJSON(w, http.StatusOK, map[string]any{"empty": true, "message": citation.EmptyState})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, msgServerError)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func queryInt(v string) *int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil
	}
	return &n
}
