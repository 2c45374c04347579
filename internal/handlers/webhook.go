package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v82"

	"github.com/PortNumber53/saas-starter/internal/billing"
	ierr "github.com/PortNumber53/saas-starter/internal/errors"
	"github.com/PortNumber53/saas-starter/internal/logger"
	"github.com/PortNumber53/saas-starter/internal/models"
)

const signatureHeader = "Stripe-Signature"

// EventVerifier checks a webhook payload against its signature header.
type EventVerifier interface {
	ConstructEvent(payload []byte, signature string) (stripe.Event, error)
}

// GuestSessionRecorder stores completed checkout sessions.
type GuestSessionRecorder interface {
	RecordGuestSession(ctx context.Context, gs *models.GuestCheckoutSession) error
}

// CustomerLookup resolves the profile bound to a billing customer.
type CustomerLookup interface {
	GetProfileByCustomerID(ctx context.Context, customerID string) (*models.Profile, error)
}

// CustomerSyncer refreshes a customer's cached subscription snapshot.
type CustomerSyncer interface {
	Sync(ctx context.Context, customerID string) (*models.SubscriptionSnapshot, error)
}

// WebhookHandler takes payment platform events and keeps guest sessions and
// subscription snapshots current between reconciliations.
type WebhookHandler struct {
	verifier EventVerifier
	sessions GuestSessionRecorder
	profiles CustomerLookup
	syncer   CustomerSyncer
	queue    billing.JobQueue
	log      *logger.Logger
}

// NewWebhookHandler wires the webhook dependencies. queue may be nil.
func NewWebhookHandler(verifier EventVerifier, sessions GuestSessionRecorder, profiles CustomerLookup, syncer CustomerSyncer, queue billing.JobQueue, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		verifier: verifier,
		sessions: sessions,
		profiles: profiles,
		syncer:   syncer,
		queue:    queue,
		log:      log,
	}
}

// ServeHTTP handles POST /api/webhooks/stripe.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := requestLogger(h.log, r)

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Failed to read request body"})
		return
	}

	event, err := h.verifier.ConstructEvent(payload, r.Header.Get(signatureHeader))
	if err != nil {
		writeError(w, log, err, "Webhook verification failed")
		return
	}

	log = log.With("event_id", event.ID, "event_type", event.Type)

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		err = h.checkoutCompleted(r.Context(), log, event)
	case stripe.EventTypeCustomerSubscriptionCreated,
		stripe.EventTypeCustomerSubscriptionUpdated,
		stripe.EventTypeCustomerSubscriptionDeleted,
		stripe.EventTypeCustomerSubscriptionPaused,
		stripe.EventTypeCustomerSubscriptionResumed:
		err = h.subscriptionChanged(r.Context(), log, event)
	default:
		log.Debugw("ignoring webhook event")
	}

	if err != nil {
		writeError(w, log, err, "Webhook processing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *WebhookHandler) checkoutCompleted(ctx context.Context, log *logger.Logger, event stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return ierr.WithError(err).
			WithHint("Malformed checkout session payload").
			Mark(ierr.ErrValidation)
	}

	gs := &models.GuestCheckoutSession{
		SessionID:     session.ID,
		PaymentStatus: models.PaymentStatus(session.PaymentStatus),
		CustomerEmail: session.CustomerEmail,
	}
	if session.CustomerDetails != nil && session.CustomerDetails.Email != "" {
		gs.CustomerEmail = session.CustomerDetails.Email
	}
	if session.Customer != nil && session.Customer.ID != "" {
		gs.StripeCustomerID = &session.Customer.ID
	}
	if session.Subscription != nil && session.Subscription.ID != "" {
		gs.StripeSubscriptionID = &session.Subscription.ID
	}
	if name := session.Metadata["plan_name"]; name != "" {
		gs.PlanName = &name
	}

	if err := h.sessions.RecordGuestSession(ctx, gs); err != nil {
		return err
	}
	log.Infow("guest session recorded", "session_id", gs.SessionID)

	if gs.StripeCustomerID == nil {
		return nil
	}
	if _, err := h.profiles.GetProfileByCustomerID(ctx, *gs.StripeCustomerID); err != nil {
		if ierr.IsNotFound(err) {
			// not reconciled yet; the reconcile call syncs
			return nil
		}
		return err
	}
	return h.resync(ctx, log, *gs.StripeCustomerID)
}

func (h *WebhookHandler) subscriptionChanged(ctx context.Context, log *logger.Logger, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return ierr.WithError(err).
			WithHint("Malformed subscription payload").
			Mark(ierr.ErrValidation)
	}
	if sub.Customer == nil || sub.Customer.ID == "" {
		log.Warnw("subscription event without customer", "subscription_id", sub.ID)
		return nil
	}
	return h.resync(ctx, log, sub.Customer.ID)
}

// resync refreshes the snapshot, falling back to a queued job. Only a failure
// to do either is reported, so the platform redelivers the event.
func (h *WebhookHandler) resync(ctx context.Context, log *logger.Logger, customerID string) error {
	_, err := h.syncer.Sync(ctx, customerID)
	if err == nil {
		return nil
	}

	log.Warnw("webhook re-sync failed", "customer_id", customerID, "error", err)
	if h.queue == nil {
		return err
	}
	job := models.NewJob(models.JobTypeSubscriptionResync, models.JSONB{"customer_id": customerID})
	if qerr := h.queue.Enqueue(ctx, job); qerr != nil {
		log.Errorw("failed to enqueue re-sync", "customer_id", customerID, "error", qerr)
		return err
	}
	return nil
}
