package models

import "time"

// Profile is the local account record for an authenticated user. The
// StripeCustomerID stays nil until the first payment is reconciled.
type Profile struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	Email            string    `json:"email"`
	StripeCustomerID *string   `json:"stripe_customer_id,omitempty"`
	FullName         *string   `json:"full_name,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// HasCustomer reports whether the profile is bound to a billing customer.
func (p *Profile) HasCustomer() bool {
	return p != nil && p.StripeCustomerID != nil && *p.StripeCustomerID != ""
}

// EnsureResult is returned by the ensure step of the profile upsert.
// An empty CustomerID means no billing customer is mapped to the user yet.
type EnsureResult struct {
	CustomerID string
	ProfileID  string
	WasCreated bool
}

// LinkResult is returned once a billing customer has been bound to a profile.
type LinkResult struct {
	Profile       Profile
	IsNewCustomer bool
	IsNewProfile  bool
}
