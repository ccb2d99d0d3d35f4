package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/user/memorial/internal/tribute"
	"github.com/user/memorial/internal/types"
)

const (
	msgTributeSaved = "Cảm ơn bạn! Lời tri ân của bạn đã được ghi nhận."
	msgSaveFailed   = "Lỗi khi lưu dữ liệu"
	msgQueryFailed  = "Lỗi khi truy vấn dữ liệu"
	msgServerError  = "Đã xảy ra lỗi trên server"
	msgRateLimited  = "Bạn gửi quá nhanh, vui lòng thử lại sau."
)

func (s *Server) handleCreateTribute(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow(clientIP(r)) {
		w.Header().Set("Retry-After", "10")
		writeError(w, http.StatusTooManyRequests, msgRateLimited)
		return
	}

	var in types.NewTribute
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&in); err != nil {
		slog.Warn("decode tribute failed", "error", err)
		writeError(w, http.StatusInternalServerError, msgServerError)
		return
	}

	row, err := tribute.Validate(in)
	if errors.Is(err, tribute.ErrContentRequired) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, msgServerError)
		return
	}

	created, err := s.backend.Tributes.CreateTribute(r.Context(), row)
	if err != nil {
		slog.Error("create tribute failed", "error", err)
		writeError(w, http.StatusInternalServerError, msgSaveFailed)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"data":    created,
		"message": msgTributeSaved,
	})
}

// handleListTributes serves rows as stored, or display cards with
// ?view=cards.
func (s *Server) handleListTributes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := tribute.Page(q.Get("limit"), q.Get("offset"))

	rows, total, err := s.backend.Tributes.ListTributes(r.Context(), limit, offset)
	if err != nil {
		slog.Error("list tributes failed", "error", err)
		writeError(w, http.StatusInternalServerError, msgQueryFailed)
		return
	}
	if rows == nil {
		rows = []types.Tribute{}
	}

	var data any = rows
	if q.Get("view") == "cards" {
		data = tribute.Cards(rows)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"data":       data,
		"pagination": tribute.Pagination(total, limit, offset),
	})
}
