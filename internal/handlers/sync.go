package handlers

import (
	"context"
	"net/http"

	"github.com/PortNumber53/saas-starter/internal/auth"
	"github.com/PortNumber53/saas-starter/internal/billing"
	ierr "github.com/PortNumber53/saas-starter/internal/errors"
	"github.com/PortNumber53/saas-starter/internal/logger"
	"github.com/PortNumber53/saas-starter/internal/models"
)

const syncFailed = "Failed to sync subscription data"

// UserSyncer refreshes the cached subscription of a user's billing customer.
type UserSyncer interface {
	SyncUser(ctx context.Context, userID string) (*models.SubscriptionSnapshot, error)
}

// SnapshotReader returns a user's cached subscription snapshot.
type SnapshotReader interface {
	GetSnapshotByUserID(ctx context.Context, userID string) (*models.SubscriptionSnapshot, error)
}

type syncPayload struct {
	UserID string `json:"userId" validate:"required,max=255"`
}

// Sync handles POST /api/sync. Users may only sync their own account.
func Sync(syncer UserSyncer, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := requestLogger(log, r)

		user, ok := auth.UserFromContext(r.Context())
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			return
		}

		var payload syncPayload
		if err := decodeJSON(w, r, &payload, "Missing required fields: userId"); err != nil {
			writeError(w, log, err, syncFailed)
			return
		}
		if payload.UserID != user.ID {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "Cannot sync another user's billing data"})
			return
		}

		snap, err := syncer.SyncUser(r.Context(), user.ID)
		if err != nil {
			log = log.With("user_id", user.ID)
			if ierr.Is(err, billing.ErrSyncFailed) && !ierr.IsNotFound(err) {
				log.Errorw("subscription sync failed", "error", err)
				writeJSON(w, http.StatusInternalServerError, map[string]any{
					"error":     syncFailed,
					"retryable": ierr.IsRetryable(err),
				})
				return
			}
			writeError(w, log, err, syncFailed)
			return
		}

		writeJSON(w, http.StatusOK, snap)
	}
}

// Subscription handles GET /api/billing/subscription.
func Subscription(reader SnapshotReader, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := requestLogger(log, r)

		user, ok := auth.UserFromContext(r.Context())
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			return
		}

		snap, err := reader.GetSnapshotByUserID(r.Context(), user.ID)
		if err != nil {
			writeError(w, log.With("user_id", user.ID), err, "Failed to load subscription")
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}
