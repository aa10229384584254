package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"commenergy/internal/core"
)

const dayFormat = "2006-01-02"

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// respondError maps domain errors to HTTP status codes:
// not found -> 404, duplicate -> 409, invalid values -> 422,
// anything else -> 500 with a generic message.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		respondJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, core.ErrDuplicate):
		respondJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case isValidationErr(err):
		respondJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	default:
		slog.ErrorContext(r.Context(), "Request failed", "method", r.Method, "url", r.URL.Path, "error", err)
		respondJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func isValidationErr(err error) bool {
	return errors.Is(err, core.ErrInvalidAmount) ||
		errors.Is(err, core.ErrInvalidPodType) ||
		errors.Is(err, core.ErrInvalidGroupType) ||
		errors.Is(err, core.ErrInvalidPaymentStatus) ||
		errors.Is(err, core.ErrInvalidMonth) ||
		errors.Is(err, core.ErrInvalidYear) ||
		errors.Is(err, core.ErrEmptyName) ||
		errors.Is(err, core.ErrEmptyLabel)
}

func respondValidation(w http.ResponseWriter, err error) {
	respondJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	respondJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

// decodeJSON reads the request body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// pathID extracts a positive integer path parameter.
func pathID(r *http.Request, name string) (int64, error) {
	v := r.PathValue(name)
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, v)
	}
	return id, nil
}

// parseAmount converts a decimal amount field ("75.50" or "75,50") to Money.
func parseAmount(s string) (core.Money, error) {
	cents, err := core.ParseDecimalToCents(s)
	if err != nil {
		return core.Money{}, err
	}
	return core.Money{Cents: cents}, nil
}

// parseOptionalDay parses an optional "YYYY-MM-DD" field.
func parseOptionalDay(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(dayFormat, s)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q (expected YYYY-MM-DD)", s)
	}
	return &t, nil
}

func formatOptionalDay(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(dayFormat)
}
