package models

import "time"

// PaymentStatus mirrors the checkout session payment_status values.
type PaymentStatus string

const (
	PaymentStatusPaid            PaymentStatus = "paid"
	PaymentStatusUnpaid          PaymentStatus = "unpaid"
	PaymentStatusNoPaymentNeeded PaymentStatus = "no_payment_required"
	PaymentStatusFailed          PaymentStatus = "failed"
)

// GuestPaymentInfo is the normalized view of a completed checkout session.
type GuestPaymentInfo struct {
	SessionID      string        `json:"session_id"`
	CustomerID     string        `json:"customer_id,omitempty"`
	SubscriptionID *string       `json:"subscription_id,omitempty"`
	CustomerEmail  string        `json:"customer_email"`
	CustomerName   *string       `json:"customer_name,omitempty"`
	PlanName       *string       `json:"plan_name,omitempty"`
	PriceID        *string       `json:"price_id,omitempty"`
	PaymentStatus  PaymentStatus `json:"payment_status"`
}

// GuestCheckoutSession is a completed payment that may not be linked to an
// account yet. Consumed flips to true exactly once.
type GuestCheckoutSession struct {
	SessionID            string        `json:"session_id"`
	PaymentStatus        PaymentStatus `json:"payment_status"`
	CustomerEmail        string        `json:"customer_email"`
	StripeCustomerID     *string       `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID *string       `json:"stripe_subscription_id,omitempty"`
	PlanName             *string       `json:"plan_name,omitempty"`
	Consumed             bool          `json:"consumed"`
	ConsumedBy           *string       `json:"consumed_by,omitempty"`
	ConsumedAt           *time.Time    `json:"consumed_at,omitempty"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

// SessionFromPaymentInfo builds an unconsumed session record from extracted info.
func SessionFromPaymentInfo(info *GuestPaymentInfo) *GuestCheckoutSession {
	s := &GuestCheckoutSession{
		SessionID:            info.SessionID,
		PaymentStatus:        info.PaymentStatus,
		CustomerEmail:        info.CustomerEmail,
		StripeSubscriptionID: info.SubscriptionID,
		PlanName:             info.PlanName,
	}
	if info.CustomerID != "" {
		id := info.CustomerID
		s.StripeCustomerID = &id
	}
	return s
}

// SubscriptionStatus is the fixed set of statuses a snapshot can hold.
type SubscriptionStatus string

const (
	SubscriptionStatusIncomplete        SubscriptionStatus = "incomplete"
	SubscriptionStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubscriptionStatusTrialing          SubscriptionStatus = "trialing"
	SubscriptionStatusActive            SubscriptionStatus = "active"
	SubscriptionStatusPastDue           SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled          SubscriptionStatus = "canceled"
	SubscriptionStatusUnpaid            SubscriptionStatus = "unpaid"
	SubscriptionStatusPaused            SubscriptionStatus = "paused"
	SubscriptionStatusNone              SubscriptionStatus = "none"
)

// IsCurrent reports whether the status counts as a live subscription.
func (s SubscriptionStatus) IsCurrent() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusTrialing
}

// SubscriptionSnapshot is the cached mirror of a customer's subscription.
// Every sync replaces the whole row.
type SubscriptionSnapshot struct {
	StripeCustomerID     string             `json:"stripe_customer_id"`
	UserID               *string            `json:"user_id,omitempty"`
	StripeSubscriptionID *string            `json:"stripe_subscription_id"`
	Status               SubscriptionStatus `json:"status"`
	PriceID              *string            `json:"price_id"`
	PlanName             *string            `json:"plan_name"`
	CurrentPeriodStart   *time.Time         `json:"current_period_start"`
	CurrentPeriodEnd     *time.Time         `json:"current_period_end"`
	CancelAtPeriodEnd    bool               `json:"cancel_at_period_end"`
	TrialStart           *time.Time         `json:"trial_start"`
	TrialEnd             *time.Time         `json:"trial_end"`
	Currency             *string            `json:"currency"`
	UnitAmount           *int64             `json:"unit_amount"`
	BillingInterval      *string            `json:"billing_interval"`
	PaymentMethodSummary *string            `json:"payment_method_summary"`
	SyncedAt             time.Time          `json:"synced_at"`
}

// EmptySnapshot is the snapshot stored when no subscription qualifies.
func EmptySnapshot(customerID string, syncedAt time.Time) *SubscriptionSnapshot {
	return &SubscriptionSnapshot{
		StripeCustomerID: customerID,
		Status:           SubscriptionStatusNone,
		SyncedAt:         syncedAt,
	}
}
