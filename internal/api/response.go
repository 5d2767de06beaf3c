package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/erazemk/lostfound/internal/model"
)

// jsonResponse writes a JSON response with the given status code.
func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("encoding response", "error", err)
		}
	}
}

// jsonError writes a JSON error response.
func jsonError(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

// decodeJSON decodes a JSON request body into the given target.
func decodeJSON(r *http.Request, target any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(target)
}

type existingClaim struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type duplicateResponse struct {
	Error    string         `json:"error"`
	Existing *existingClaim `json:"existing_claim,omitempty"`
}

// ErrorStatus maps a lifecycle error to its HTTP status and the message
// shown to the caller.
func ErrorStatus(err error) (int, string) {
	var ve *model.ValidationError
	var dup *model.DuplicateClaimError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, ve.Message
	case errors.As(err, &dup):
		return http.StatusConflict, dup.Error()
	case errors.Is(err, model.ErrDanglingReference):
		return http.StatusGone, model.ErrDanglingReference.Error()
	case errors.Is(err, model.ErrInvalidTransition):
		return http.StatusConflict, err.Error()
	case errors.Is(err, model.ErrUnauthorized):
		return http.StatusForbidden, model.ErrUnauthorized.Error()
	case errors.Is(err, model.ErrTransient):
		return http.StatusServiceUnavailable, model.ErrTransient.Error()
	}
	return http.StatusInternalServerError, "internal error"
}

// writeError maps err onto the error taxonomy and writes it. Duplicate
// claims carry the prior claim's date and status.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := ErrorStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}

	var dup *model.DuplicateClaimError
	if errors.As(err, &dup) {
		resp := duplicateResponse{Error: message}
		if dup.Existing != nil {
			resp.Existing = &existingClaim{
				ID:        dup.Existing.ID,
				Status:    dup.Existing.Status,
				CreatedAt: dup.Existing.CreatedAt,
			}
		}
		jsonResponse(w, status, resp)
		return
	}

	jsonError(w, status, message)
}
