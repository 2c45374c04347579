package stripe

import (
	"context"
	"errors"
	"net/http"

	stripeapi "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	ierr "github.com/PortNumber53/saas-starter/internal/errors"
)

// ErrPlatform marks failures of the payment platform that the caller may retry.
var ErrPlatform = ierr.Sentinel("payment_platform_error", "payment platform unavailable")

// ErrInvalidSignature is returned when a webhook payload fails verification.
var ErrInvalidSignature = ierr.Sentinel("invalid_webhook_signature", "invalid webhook signature")

// Client wraps the Stripe SDK client with the calls the reconciliation flow
// needs. SDK errors are translated into the service error classes.
type Client struct {
	api           *stripeapi.Client
	webhookSecret string
}

// NewClient creates a new Stripe API client
func NewClient(secretKey, webhookSecret string) *Client {
	return &Client{
		api:           stripeapi.NewClient(secretKey, nil),
		webhookSecret: webhookSecret,
	}
}

// RetrieveCheckoutSession loads a checkout session with its customer,
// subscription and line items expanded in one request.
func (c *Client) RetrieveCheckoutSession(ctx context.Context, sessionID string) (*stripeapi.CheckoutSession, error) {
	params := &stripeapi.CheckoutSessionRetrieveParams{
		Expand: []*string{
			stripeapi.String("customer"),
			stripeapi.String("subscription"),
			stripeapi.String("line_items"),
		},
	}

	session, err := c.api.V1CheckoutSessions.Retrieve(ctx, sessionID, params)
	if err != nil {
		return nil, translateError(err, "retrieve checkout session")
	}
	return session, nil
}

// ListSubscriptions returns every subscription of the customer regardless of
// status, with the default payment method expanded.
func (c *Client) ListSubscriptions(ctx context.Context, customerID string) ([]*stripeapi.Subscription, error) {
	params := &stripeapi.SubscriptionListParams{
		Customer: stripeapi.String(customerID),
		Status:   stripeapi.String("all"),
	}
	params.AddExpand("data.default_payment_method")

	var subs []*stripeapi.Subscription
	for sub, err := range c.api.V1Subscriptions.List(ctx, params) {
		if err != nil {
			return nil, translateError(err, "list subscriptions")
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// RetrieveProduct loads a product, used to name a plan when neither the
// subscription nor the price carries a name.
func (c *Client) RetrieveProduct(ctx context.Context, productID string) (*stripeapi.Product, error) {
	product, err := c.api.V1Products.Retrieve(ctx, productID, nil)
	if err != nil {
		return nil, translateError(err, "retrieve product")
	}
	return product, nil
}

// CreateCustomer creates a billing customer. The idempotency key makes
// concurrent creations for the same user resolve to a single customer.
func (c *Client) CreateCustomer(ctx context.Context, email, name string, metadata map[string]string, idempotencyKey string) (*stripeapi.Customer, error) {
	params := &stripeapi.CustomerCreateParams{
		Email:    stripeapi.String(email),
		Metadata: metadata,
	}
	if name != "" {
		params.Name = stripeapi.String(name)
	}
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}

	customer, err := c.api.V1Customers.Create(ctx, params)
	if err != nil {
		return nil, translateError(err, "create customer")
	}
	return customer, nil
}

// UpdateCustomerMetadata merges the given keys into the customer's metadata.
func (c *Client) UpdateCustomerMetadata(ctx context.Context, customerID string, metadata map[string]string) error {
	params := &stripeapi.CustomerUpdateParams{}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	if _, err := c.api.V1Customers.Update(ctx, customerID, params); err != nil {
		return translateError(err, "update customer metadata")
	}
	return nil
}

// ConstructEvent verifies the webhook signature and decodes the event.
func (c *Client) ConstructEvent(payload []byte, signature string) (stripeapi.Event, error) {
	return VerifyEvent(payload, signature, c.webhookSecret)
}

// VerifyEvent checks the HMAC signature of a webhook payload against secret.
func VerifyEvent(payload []byte, signature, secret string) (stripeapi.Event, error) {
	if secret == "" {
		return stripeapi.Event{}, ierr.NewError("webhook secret not configured").
			WithHint("Webhook intake is disabled").
			Mark(ierr.ErrDependency)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripeapi.Event{}, ierr.WithError(err).
			WithHint("Invalid webhook signature").
			WithMark(ErrInvalidSignature).
			Mark(ierr.ErrValidation)
	}
	return event, nil
}

func translateError(err error, op string) error {
	var stripeErr *stripeapi.Error
	if !errors.As(err, &stripeErr) {
		return ierr.WithError(err).
			WithMessage(op).
			WithHint("Payment platform is temporarily unavailable").
			WithMark(ErrPlatform).
			Mark(ierr.ErrDependency)
	}

	details := map[string]any{
		"operation":   op,
		"status_code": stripeErr.HTTPStatusCode,
		"code":        string(stripeErr.Code),
		"request_id":  stripeErr.RequestID,
	}

	switch {
	case stripeErr.HTTPStatusCode == http.StatusNotFound || stripeErr.Code == stripeapi.ErrorCodeResourceMissing:
		return ierr.WithError(err).
			WithMessage(op).
			WithHint("Not found on the payment platform").
			WithReportableDetails(details).
			Mark(ierr.ErrNotFound)
	case stripeErr.HTTPStatusCode == http.StatusBadRequest || stripeErr.HTTPStatusCode == http.StatusPaymentRequired:
		return ierr.WithError(err).
			WithMessage(op).
			WithHint(stripeErr.Msg).
			WithReportableDetails(details).
			Mark(ierr.ErrValidation)
	default:
		return ierr.WithError(err).
			WithMessage(op).
			WithHint("Payment platform is temporarily unavailable").
			WithReportableDetails(details).
			WithMark(ErrPlatform).
			Mark(ierr.ErrDependency)
	}
}
