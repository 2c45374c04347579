package billing

import (
	"context"

	"github.com/PortNumber53/saas-starter/internal/logger"
	"github.com/PortNumber53/saas-starter/internal/models"
)

// SessionTracker guards a checkout session against being reconciled twice.
type SessionTracker struct {
	store SessionStore
	log   *logger.Logger
}

func NewSessionTracker(store SessionStore, log *logger.Logger) *SessionTracker {
	return &SessionTracker{store: store, log: log}
}

// EnsureNotConsumed fails with ErrSessionConsumed when the session was
// already used.
func (t *SessionTracker) EnsureNotConsumed(ctx context.Context, sessionID string) error {
	consumed, err := t.store.IsSessionConsumed(ctx, sessionID)
	if err != nil {
		return err
	}
	if consumed {
		return sessionConsumedErr(sessionID)
	}
	return nil
}

// Record stores what the platform reported for the session. Failures are
// logged only; the consumption mark writes the full row anyway.
func (t *SessionTracker) Record(ctx context.Context, info *models.GuestPaymentInfo) {
	if err := t.store.RecordGuestSession(ctx, models.SessionFromPaymentInfo(info)); err != nil {
		t.log.Warnw("failed to record guest session", "session_id", info.SessionID, "error", err)
	}
}

// MarkConsumed sets the consumption flag with check-and-set semantics.
// Losing the race to another reconciliation yields ErrSessionConsumed.
func (t *SessionTracker) MarkConsumed(ctx context.Context, info *models.GuestPaymentInfo, userID string) error {
	won, err := t.store.MarkSessionConsumed(ctx, models.SessionFromPaymentInfo(info), userID)
	if err != nil {
		return err
	}
	if !won {
		return sessionConsumedErr(info.SessionID)
	}
	return nil
}
