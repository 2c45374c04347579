package worker

import (
	"context"
	"fmt"

	"github.com/PortNumber53/saas-starter/internal/billing"
	"github.com/PortNumber53/saas-starter/internal/models"
)

// CustomerTagger writes account ids into a billing customer's metadata.
type CustomerTagger interface {
	UpdateCustomerMetadata(ctx context.Context, customerID string, metadata map[string]string) error
}

// SubscriptionSyncer refreshes a customer's cached subscription snapshot.
type SubscriptionSyncer interface {
	Sync(ctx context.Context, customerID string) (*models.SubscriptionSnapshot, error)
}

// RegisterBillingJobs registers the follow-up handlers queued by reconciliation.
func RegisterBillingJobs(w *Worker, tagger CustomerTagger, syncer SubscriptionSyncer) {
	w.RegisterHandler(models.JobTypeStripeCustomerTag, customerTagHandler(tagger))
	w.RegisterHandler(models.JobTypeSubscriptionResync, subscriptionResyncHandler(syncer))

	w.log.Infow("registered billing job handlers",
		"job_types", []string{models.JobTypeStripeCustomerTag, models.JobTypeSubscriptionResync})
}

func customerTagHandler(tagger CustomerTagger) Handler {
	return func(ctx context.Context, job *models.Job) error {
		customerID := job.PayloadString("customer_id")
		userID := job.PayloadString("user_id")
		if customerID == "" || userID == "" {
			return Permanent(fmt.Errorf("customer_id and user_id are required in payload"))
		}

		metadata := billing.CustomerMetadata(userID, job.PayloadString("profile_id"))
		if err := tagger.UpdateCustomerMetadata(ctx, customerID, metadata); err != nil {
			return fmt.Errorf("tag customer %s: %w", customerID, err)
		}
		return nil
	}
}

func subscriptionResyncHandler(syncer SubscriptionSyncer) Handler {
	return func(ctx context.Context, job *models.Job) error {
		customerID := job.PayloadString("customer_id")
		if customerID == "" {
			return Permanent(fmt.Errorf("customer_id is required in payload"))
		}

		if _, err := syncer.Sync(ctx, customerID); err != nil {
			return fmt.Errorf("resync customer %s: %w", customerID, err)
		}
		return nil
	}
}
