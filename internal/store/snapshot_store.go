package store

import (
	"context"
	"database/sql"
	"errors"

	ierr "github.com/PortNumber53/saas-starter/internal/errors"
	"github.com/PortNumber53/saas-starter/internal/models"
)

const snapshotColumns = `s.stripe_customer_id, s.user_id, s.stripe_subscription_id, s.status, s.price_id, s.plan_name,
       s.current_period_start, s.current_period_end, s.cancel_at_period_end, s.trial_start, s.trial_end,
       s.currency, s.unit_amount, s.billing_interval, s.payment_method_summary, s.synced_at`

// ReplaceSnapshot overwrites every column of the customer's cached
// subscription row. Fields absent from snap are written as NULL so nothing
// from a previous plan survives. The owning user is resolved from profiles
// in the same statement.
func (s *Store) ReplaceSnapshot(ctx context.Context, snap *models.SubscriptionSnapshot) error {
	if snap == nil || snap.StripeCustomerID == "" {
		return validationErr("customer id is required")
	}

	const query = `
INSERT INTO subscriptions (
  stripe_customer_id, user_id, stripe_subscription_id, status, price_id, plan_name,
  current_period_start, current_period_end, cancel_at_period_end, trial_start, trial_end,
  currency, unit_amount, billing_interval, payment_method_summary, synced_at
)
VALUES (
  $1, (SELECT user_id FROM profiles WHERE stripe_customer_id = $1), $2, $3, $4, $5,
  $6, $7, $8, $9, $10,
  $11, $12, $13, $14, $15
)
ON CONFLICT (stripe_customer_id) DO UPDATE
SET user_id = EXCLUDED.user_id,
    stripe_subscription_id = EXCLUDED.stripe_subscription_id,
    status = EXCLUDED.status,
    price_id = EXCLUDED.price_id,
    plan_name = EXCLUDED.plan_name,
    current_period_start = EXCLUDED.current_period_start,
    current_period_end = EXCLUDED.current_period_end,
    cancel_at_period_end = EXCLUDED.cancel_at_period_end,
    trial_start = EXCLUDED.trial_start,
    trial_end = EXCLUDED.trial_end,
    currency = EXCLUDED.currency,
    unit_amount = EXCLUDED.unit_amount,
    billing_interval = EXCLUDED.billing_interval,
    payment_method_summary = EXCLUDED.payment_method_summary,
    synced_at = EXCLUDED.synced_at
RETURNING user_id
`

	var userID sql.NullString
	err := s.db.QueryRowContext(ctx, query,
		snap.StripeCustomerID,
		snap.StripeSubscriptionID,
		string(snap.Status),
		snap.PriceID,
		snap.PlanName,
		snap.CurrentPeriodStart,
		snap.CurrentPeriodEnd,
		snap.CancelAtPeriodEnd,
		snap.TrialStart,
		snap.TrialEnd,
		snap.Currency,
		snap.UnitAmount,
		snap.BillingInterval,
		snap.PaymentMethodSummary,
		snap.SyncedAt,
	).Scan(&userID)
	if err != nil {
		return storageErr(err, "replace subscription snapshot")
	}

	snap.UserID = nullStringPtr(userID)
	return nil
}

// GetSnapshotByUserID returns the cached snapshot of the customer bound to userID.
func (s *Store) GetSnapshotByUserID(ctx context.Context, userID string) (*models.SubscriptionSnapshot, error) {
	return s.getSnapshot(ctx, `
SELECT `+snapshotColumns+`
FROM subscriptions s
JOIN profiles p ON p.stripe_customer_id = s.stripe_customer_id
WHERE p.user_id = $1`, userID)
}

func (s *Store) getSnapshot(ctx context.Context, query, arg string) (*models.SubscriptionSnapshot, error) {
	var (
		snap                                   models.SubscriptionSnapshot
		status                                 string
		userID, subID, priceID, plan, currency sql.NullString
		interval, pm                           sql.NullString
		periodStart, periodEnd                 sql.NullTime
		trialStart, trialEnd                   sql.NullTime
		amount                                 sql.NullInt64
	)

	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&snap.StripeCustomerID, &userID, &subID, &status, &priceID, &plan,
		&periodStart, &periodEnd, &snap.CancelAtPeriodEnd, &trialStart, &trialEnd,
		&currency, &amount, &interval, &pm, &snap.SyncedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ierr.NewError("subscription snapshot not found").
			WithHint("No subscription data found").
			Mark(ierr.ErrNotFound)
	}
	if err != nil {
		return nil, storageErr(err, "get subscription snapshot")
	}

	snap.Status = models.SubscriptionStatus(status)
	snap.UserID = nullStringPtr(userID)
	snap.StripeSubscriptionID = nullStringPtr(subID)
	snap.PriceID = nullStringPtr(priceID)
	snap.PlanName = nullStringPtr(plan)
	snap.CurrentPeriodStart = nullTimePtr(periodStart)
	snap.CurrentPeriodEnd = nullTimePtr(periodEnd)
	snap.TrialStart = nullTimePtr(trialStart)
	snap.TrialEnd = nullTimePtr(trialEnd)
	snap.Currency = nullStringPtr(currency)
	snap.UnitAmount = nullInt64Ptr(amount)
	snap.BillingInterval = nullStringPtr(interval)
	snap.PaymentMethodSummary = nullStringPtr(pm)
	return &snap, nil
}
