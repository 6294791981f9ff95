package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/notifyhub/stock-alerts/internal/domain"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// mapError translates domain sentinel errors to HTTP status codes.
// All mapping lives here so individual handlers stay concise.
func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrNegativeCounter):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrInvalidMovementKind),
		errors.Is(err, domain.ErrInvalidSafetyStock),
		errors.Is(err, domain.ErrInvalidProductName),
		errors.Is(err, domain.ErrInvalidSettings),
		errors.Is(err, domain.ErrInvalidQuietHours),
		errors.Is(err, domain.ErrInvalidChannel),
		errors.Is(err, domain.ErrInvalidLevel),
		errors.Is(err, domain.ErrEmptyMessage):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

// pagination reads page and limit, falling back to 1 and 20.
func pagination(r *http.Request) (page, limit int) {
	q := r.URL.Query()
	page, limit = 1, defaultPageSize
	if p, err := strconv.Atoi(q.Get("page")); err == nil && p > 0 {
		page = p
	}
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 && l <= maxPageSize {
		limit = l
	}
	return page, limit
}

func respondPage(w http.ResponseWriter, data any, total, page, limit int) {
	respondJSON(w, http.StatusOK, map[string]any{
		"data":  data,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}
