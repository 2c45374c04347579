package billing

import (
	"context"

	"github.com/stripe/stripe-go/v82"

	"github.com/PortNumber53/saas-starter/internal/models"
)

// PaymentPlatform is the subset of the payment platform API used by the
// reconciliation flow. *internal/stripe.Client implements it.
type PaymentPlatform interface {
	RetrieveCheckoutSession(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error)
	ListSubscriptions(ctx context.Context, customerID string) ([]*stripe.Subscription, error)
	RetrieveProduct(ctx context.Context, productID string) (*stripe.Product, error)
	CreateCustomer(ctx context.Context, email, name string, metadata map[string]string, idempotencyKey string) (*stripe.Customer, error)
	UpdateCustomerMetadata(ctx context.Context, customerID string, metadata map[string]string) error
}

// ProfileStore is the atomic customer/profile upsert.
type ProfileStore interface {
	EnsureCustomer(ctx context.Context, userID, email string) (models.EnsureResult, error)
	CreateOrLinkProfile(ctx context.Context, userID, email, customerID string, fullName *string) (models.LinkResult, error)
}

// ProfileLookup resolves profiles for sync requests and webhooks.
type ProfileLookup interface {
	GetProfileByUserID(ctx context.Context, userID string) (*models.Profile, error)
	GetProfileByCustomerID(ctx context.Context, customerID string) (*models.Profile, error)
}

// SessionStore persists guest checkout sessions and their consumption flag.
type SessionStore interface {
	RecordGuestSession(ctx context.Context, gs *models.GuestCheckoutSession) error
	IsSessionConsumed(ctx context.Context, sessionID string) (bool, error)
	MarkSessionConsumed(ctx context.Context, gs *models.GuestCheckoutSession, userID string) (bool, error)
}

// SnapshotStore is written only by the Syncer.
type SnapshotStore interface {
	ReplaceSnapshot(ctx context.Context, snap *models.SubscriptionSnapshot) error
}

// OperationRecorder appends to the reconciliation audit trail.
type OperationRecorder interface {
	RecordOperation(ctx context.Context, op *models.ReconciliationOperation) error
}

// JobQueue schedules follow-up work for steps that failed after linkage.
type JobQueue interface {
	Enqueue(ctx context.Context, job *models.Job) error
}

// CustomerMetadata is the metadata a bound billing customer is tagged with.
func CustomerMetadata(userID, profileID string) map[string]string {
	return map[string]string{
		"user_id":    userID,
		"profile_id": profileID,
	}
}
