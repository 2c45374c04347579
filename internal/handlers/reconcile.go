package handlers

import (
	"context"
	"net/http"

	"github.com/PortNumber53/saas-starter/internal/auth"
	"github.com/PortNumber53/saas-starter/internal/billing"
	ierr "github.com/PortNumber53/saas-starter/internal/errors"
	"github.com/PortNumber53/saas-starter/internal/logger"
)

const (
	missingReconcileFields = "Missing required fields: sessionId and userEmail are required"
	reconcileFailed        = "Internal server error during reconciliation"
)

// Reconciler links a guest checkout session to an account.
type Reconciler interface {
	Reconcile(ctx context.Context, req billing.ReconcileRequest) (*billing.ReconcileResult, error)
}

type reconcilePayload struct {
	SessionID        string `json:"sessionId" validate:"required,max=255"`
	UserEmail        string `json:"userEmail" validate:"required,max=320"`
	StripeCustomerID string `json:"stripeCustomerId,omitempty" validate:"omitempty,max=255"`
}

// Reconcile handles POST /api/reconcile for an authenticated user.
func Reconcile(rec Reconciler, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := requestLogger(log, r)

		user, ok := auth.UserFromContext(r.Context())
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			return
		}

		var payload reconcilePayload
		if err := decodeJSON(w, r, &payload, missingReconcileFields); err != nil {
			writeError(w, log, err, reconcileFailed)
			return
		}

		// payments are matched against the email the identity provider verified
		if user.Email == "" {
			log.Warnw("reconciliation refused for identity without email", "user_id", user.ID)
			writeJSON(w, http.StatusForbidden, map[string]string{
				"error": "Your account has no email address; sign in with the email used at checkout",
			})
			return
		}
		if payload.UserEmail != user.Email {
			writeJSON(w, http.StatusForbidden, map[string]string{
				"error": "Email mismatch: userEmail does not match the signed-in account",
			})
			return
		}

		result, err := rec.Reconcile(r.Context(), billing.ReconcileRequest{
			SessionID:        payload.SessionID,
			UserEmail:        user.Email,
			UserID:           user.ID,
			StripeCustomerID: payload.StripeCustomerID,
		})
		if err != nil {
			if ierr.Is(err, billing.ErrDuplicateEmail) && result != nil {
				log.Warnw("reconciliation requires support", "session_id", payload.SessionID, "user_id", user.ID)
				writeJSON(w, http.StatusConflict, map[string]any{
					"success":         false,
					"message":         result.Message,
					"error":           result.Error,
					"requiresSupport": true,
				})
				return
			}
			writeError(w, log.With("session_id", payload.SessionID, "user_id", user.ID), err, reconcileFailed)
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}
