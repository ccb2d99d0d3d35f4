package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/user/memorial/internal/functions"
	"github.com/user/memorial/internal/types"
)

// handleFunction mirrors the hosted edge-function endpoint so the hosted
// client can target a self-hosted server.
func (s *Server) handleFunction(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body failed")
		return
	}
	name := r.PathValue("name")
	out, err := s.backend.Functions.Invoke(r.Context(), name, body)
	var reqErr *functions.RequestError
	switch {
	case errors.Is(err, functions.ErrUnknownFunction):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &reqErr):
		writeError(w, http.StatusBadRequest, reqErr.Error())
	case err != nil:
		slog.Error("function failed", "function", name, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeJSON(w, http.StatusOK, out)
	}
}

type ingestBody struct {
	SessionID types.SessionID `json:"session_id"`
	Message   json.RawMessage `json:"message"`
}

// handleIngest lets an external answer pipeline write chat history rows,
// as it would write to the hosted table.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if !bearerMatches(r, s.cfg.IngestKey) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var body ingestBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<20)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if body.SessionID == "" || len(body.Message) == 0 {
		writeError(w, http.StatusBadRequest, "session_id and message are required")
		return
	}
	turn, err := s.backend.Turns.AppendTurn(r.Context(), body.SessionID, body.Message)
	if err != nil {
		slog.Error("ingest turn failed", "session_id", body.SessionID, "error", err)
		writeError(w, http.StatusInternalServerError, msgSaveFailed)
		return
	}
	writeJSON(w, http.StatusCreated, turn)
}
