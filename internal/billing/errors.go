package billing

import (
	ierr "github.com/PortNumber53/saas-starter/internal/errors"
)

var (
	ErrSessionNotFound   = ierr.Sentinel("session_not_found", "checkout session not found")
	ErrNoCustomerInfo    = ierr.Sentinel("no_customer_info", "checkout session has no customer information")
	ErrPaymentIncomplete = ierr.Sentinel("payment_incomplete", "checkout session payment is not complete")
	ErrEmailMismatch     = ierr.Sentinel("email_mismatch", "payment email does not match account email")
	ErrDuplicateEmail    = ierr.Sentinel("duplicate_email", "billing customer already bound elsewhere")
	ErrSessionConsumed   = ierr.Sentinel("session_consumed", "checkout session already reconciled")
	ErrSyncFailed        = ierr.Sentinel("sync_failed", "subscription sync failed")
	ErrNoBillingAccount  = ierr.Sentinel("no_billing_account", "no billing account for user")
)

func sessionConsumedErr(sessionID string) error {
	return ierr.NewErrorf("checkout session %s already consumed", sessionID).
		WithHint("This checkout session has already been linked to an account").
		WithMark(ErrSessionConsumed).
		Mark(ierr.ErrConflict)
}
