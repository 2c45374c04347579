package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	ierr "github.com/PortNumber53/saas-starter/internal/errors"
	"github.com/PortNumber53/saas-starter/internal/logger"
)

const maxBodyBytes = 1 << 16

var validate = validator.New(validator.WithRequiredStructEnabled())

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps err to its class status. 5xx bodies never carry internal
// detail: 500 uses fallback, 503 adds retryable so clients can tell transient
// failures from permanent ones.
func writeError(w http.ResponseWriter, log *logger.Logger, err error, fallback string) {
	status := ierr.HTTPStatusFromErr(err)

	switch {
	case status == http.StatusServiceUnavailable:
		log.Warnw("dependency failure", "error", err)
		writeJSON(w, status, map[string]any{
			"error":     ierr.Hint(err, "Service temporarily unavailable"),
			"retryable": true,
		})
	case status >= http.StatusInternalServerError:
		log.Errorw("request failed", "error", err, "invariant", ierr.IsInvariant(err))
		writeJSON(w, status, map[string]string{"error": fallback})
	default:
		log.Infow("request rejected", "status", status, "error", err)
		writeJSON(w, status, map[string]string{"error": ierr.Hint(err, http.StatusText(status))})
	}
}

// decodeJSON reads and validates a request body into dst. Any failure is a
// Validation error carrying hint.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, hint string) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return ierr.WithError(err).
			WithHint(hint).
			Mark(ierr.ErrValidation)
	}
	if err := validate.Struct(dst); err != nil {
		return ierr.WithError(err).
			WithHint(hint).
			Mark(ierr.ErrValidation)
	}
	return nil
}

func requestLogger(log *logger.Logger, r *http.Request) *logger.Logger {
	if id := middleware.GetReqID(r.Context()); id != "" {
		return log.With("request_id", id)
	}
	return log
}
