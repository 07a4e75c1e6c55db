package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 64 << 10

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusRule maps one error kind to a response code. Order matters: a
// simulation failure also wraps the decoded revert kind, which wins.
type statusRule struct {
	err    error
	status int
}

var statusRules = []statusRule{
	{domain.ErrInvalidAmount, http.StatusBadRequest},
	// ErrReadOnly wraps ErrUnauthorized and must be matched first.
	{domain.ErrReadOnly, http.StatusForbidden},
	{domain.ErrUnauthorized, http.StatusUnauthorized},
	{domain.ErrInsufficientPayment, http.StatusPaymentRequired},
	{domain.ErrNotFound, http.StatusNotFound},
	{domain.ErrAlreadySold, http.StatusConflict},
	{domain.ErrSelfPurchase, http.StatusConflict},
	{domain.ErrLockHeld, http.StatusConflict},
	{domain.ErrSimulationFailure, http.StatusUnprocessableEntity},
	{domain.ErrTransactionReverted, http.StatusUnprocessableEntity},
	{domain.ErrTransportFailure, http.StatusBadGateway},
}

// statusFor returns the HTTP status for err, defaulting to 500.
func statusFor(err error) int {
	for _, r := range statusRules {
		if errors.Is(err, r.err) {
			return r.status
		}
	}
	return http.StatusInternalServerError
}

// decodeJSON reads a size-limited JSON body into v, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

// parseListOpts extracts pagination and filter parameters from the query
// string. Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	opts := domain.ListOpts{
		Limit:   limit,
		Offset:  offset,
		Account: q.Get("account"),
	}
	if v := q.Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			opts.Since = &t
		}
	}
	return opts
}
