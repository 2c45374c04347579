package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/PortNumber53/saas-starter/internal/models"
)

// RecordGuestSession stores what the payment platform reported for a
// checkout session. It refreshes payment details but never touches the
// consumption columns.
func (s *Store) RecordGuestSession(ctx context.Context, gs *models.GuestCheckoutSession) error {
	if gs == nil || gs.SessionID == "" {
		return validationErr("session id is required")
	}

	const query = `
INSERT INTO guest_sessions (session_id, payment_status, customer_email, stripe_customer_id, stripe_subscription_id, plan_name)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (session_id) DO UPDATE
SET payment_status = EXCLUDED.payment_status,
    customer_email = EXCLUDED.customer_email,
    stripe_customer_id = COALESCE(EXCLUDED.stripe_customer_id, guest_sessions.stripe_customer_id),
    stripe_subscription_id = COALESCE(EXCLUDED.stripe_subscription_id, guest_sessions.stripe_subscription_id),
    plan_name = COALESCE(EXCLUDED.plan_name, guest_sessions.plan_name),
    updated_at = NOW()
`

	_, err := s.db.ExecContext(ctx, query,
		gs.SessionID,
		string(gs.PaymentStatus),
		gs.CustomerEmail,
		gs.StripeCustomerID,
		gs.StripeSubscriptionID,
		gs.PlanName,
	)
	if err != nil {
		return storageErr(err, "record guest session")
	}
	return nil
}

// IsSessionConsumed reports whether the session has already been used to
// reconcile an account. Unknown sessions are not consumed.
func (s *Store) IsSessionConsumed(ctx context.Context, sessionID string) (bool, error) {
	var consumed bool
	err := s.db.QueryRowContext(ctx, `SELECT consumed FROM guest_sessions WHERE session_id = $1`, sessionID).Scan(&consumed)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storageErr(err, "check session consumption")
	}
	return consumed, nil
}

// MarkSessionConsumed flips the consumption flag in one check-and-set
// statement. It returns false when the session was already consumed, which
// means another reconciliation got there first.
func (s *Store) MarkSessionConsumed(ctx context.Context, gs *models.GuestCheckoutSession, userID string) (bool, error) {
	if gs == nil || gs.SessionID == "" || userID == "" {
		return false, validationErr("session id and user id are required")
	}

	const query = `
INSERT INTO guest_sessions (session_id, payment_status, customer_email, stripe_customer_id, stripe_subscription_id, plan_name, consumed, consumed_by, consumed_at)
VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7, NOW())
ON CONFLICT (session_id) DO UPDATE
SET consumed = TRUE,
    consumed_by = EXCLUDED.consumed_by,
    consumed_at = EXCLUDED.consumed_at,
    updated_at = NOW()
WHERE guest_sessions.consumed = FALSE
RETURNING session_id
`

	var id string
	err := s.db.QueryRowContext(ctx, query,
		gs.SessionID,
		string(gs.PaymentStatus),
		gs.CustomerEmail,
		gs.StripeCustomerID,
		gs.StripeSubscriptionID,
		gs.PlanName,
		userID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storageErr(err, "mark session consumed")
	}
	return true, nil
}
