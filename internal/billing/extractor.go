package billing

import (
	"context"
	"strings"

	"github.com/samber/lo"
	"github.com/stripe/stripe-go/v82"

	ierr "github.com/PortNumber53/saas-starter/internal/errors"
	"github.com/PortNumber53/saas-starter/internal/models"
)

const planNameMetadataKey = "plan_name"

// Extractor reads a checkout session from the payment platform and
// normalizes it. It never writes anything.
type Extractor struct {
	platform PaymentPlatform
}

func NewExtractor(platform PaymentPlatform) *Extractor {
	return &Extractor{platform: platform}
}

// Extract retrieves the session with customer, subscription and line items
// expanded in a single call. Failures are NotFound, NoCustomerInfo or
// PaymentIncomplete, checked in that order; anything else the platform
// returns is passed through.
func (e *Extractor) Extract(ctx context.Context, sessionID string) (*models.GuestPaymentInfo, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ierr.NewError("session id is required").
			WithHint("Missing required fields: sessionId").
			Mark(ierr.ErrValidation)
	}

	session, err := e.platform.RetrieveCheckoutSession(ctx, sessionID)
	if err != nil {
		if ierr.IsNotFound(err) {
			return nil, ierr.WithError(err).
				WithMessagef("checkout session %s", sessionID).
				WithHint("Checkout session not found").
				WithMark(ErrSessionNotFound).
				Mark(ierr.ErrNotFound)
		}
		return nil, err
	}

	var customerID string
	if session.Customer != nil {
		customerID = session.Customer.ID
	}
	email := paymentEmail(session)

	if customerID == "" && email == "" {
		return nil, ierr.NewErrorf("checkout session %s has no customer or email", sessionID).
			WithHint("No customer information found for this checkout session").
			WithMark(ErrNoCustomerInfo).
			Mark(ierr.ErrValidation)
	}

	if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return nil, ierr.NewErrorf("checkout session %s payment status is %s", sessionID, session.PaymentStatus).
			WithHint("Payment has not been completed").
			WithReportableDetails(map[string]any{"payment_status": string(session.PaymentStatus)}).
			WithMark(ErrPaymentIncomplete).
			Mark(ierr.ErrValidation)
	}

	info := &models.GuestPaymentInfo{
		SessionID:     session.ID,
		CustomerID:    customerID,
		CustomerEmail: email,
		PaymentStatus: models.PaymentStatus(session.PaymentStatus),
		PlanName:      nonEmpty(session.Metadata[planNameMetadataKey]),
	}
	if info.SessionID == "" {
		info.SessionID = sessionID
	}
	if session.Subscription != nil {
		info.SubscriptionID = nonEmpty(session.Subscription.ID)
	}
	if session.CustomerDetails != nil {
		info.CustomerName = nonEmpty(session.CustomerDetails.Name)
	}
	if session.LineItems != nil && len(session.LineItems.Data) > 0 {
		if price := session.LineItems.Data[0].Price; price != nil {
			info.PriceID = nonEmpty(price.ID)
		}
	}

	return info, nil
}

// paymentEmail prefers the email typed at checkout over the customer record.
func paymentEmail(session *stripe.CheckoutSession) string {
	candidates := []string{session.CustomerEmail}
	if session.CustomerDetails != nil {
		candidates = append([]string{session.CustomerDetails.Email}, candidates...)
	}
	if session.Customer != nil {
		candidates = append(candidates, session.Customer.Email)
	}

	email, _ := lo.Find(candidates, func(s string) bool { return strings.TrimSpace(s) != "" })
	return strings.TrimSpace(email)
}

func nonEmpty(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return lo.ToPtr(s)
}
