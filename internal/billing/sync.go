package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/stripe/stripe-go/v82"

	ierr "github.com/PortNumber53/saas-starter/internal/errors"
	"github.com/PortNumber53/saas-starter/internal/logger"
	"github.com/PortNumber53/saas-starter/internal/models"
)

// Syncer refreshes the cached subscription snapshot of a customer from the
// payment platform. It is the only writer of snapshots.
type Syncer struct {
	platform  PaymentPlatform
	snapshots SnapshotStore
	profiles  ProfileLookup
	log       *logger.Logger
	now       func() time.Time
}

func NewSyncer(platform PaymentPlatform, snapshots SnapshotStore, profiles ProfileLookup, log *logger.Logger) *Syncer {
	return &Syncer{
		platform:  platform,
		snapshots: snapshots,
		profiles:  profiles,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Sync lists every subscription of the customer, picks the newest active or
// trialing one and overwrites the cached snapshot with it. When none
// qualifies the snapshot becomes status "none" with every plan field empty.
func (s *Syncer) Sync(ctx context.Context, customerID string) (*models.SubscriptionSnapshot, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, ierr.NewError("customer id is required").
			WithHint("Missing required fields: customerId").
			Mark(ierr.ErrValidation)
	}

	subs, err := s.platform.ListSubscriptions(ctx, customerID)
	if err != nil {
		class := ierr.ErrDependency
		if ierr.IsNotFound(err) {
			class = ierr.ErrNotFound
		}
		return nil, ierr.WithError(err).
			WithMessagef("sync customer %s", customerID).
			WithHint("Failed to sync subscription data").
			WithMark(ErrSyncFailed).
			Mark(class)
	}

	snap := models.EmptySnapshot(customerID, s.now())
	if current := selectCurrent(subs); current != nil {
		s.fillSnapshot(ctx, snap, current)
	}

	if err := s.snapshots.ReplaceSnapshot(ctx, snap); err != nil {
		return nil, ierr.WithError(err).
			WithMessagef("store snapshot for %s", customerID).
			WithHint("Failed to sync subscription data").
			WithMark(ErrSyncFailed).
			Mark(ierr.ErrDependency)
	}

	s.log.Infow("subscription snapshot synced",
		"customer_id", customerID,
		"status", snap.Status,
		"subscription_id", lo.FromPtr(snap.StripeSubscriptionID),
	)
	return snap, nil
}

// SyncUser resolves the user's billing customer and syncs it.
func (s *Syncer) SyncUser(ctx context.Context, userID string) (*models.SubscriptionSnapshot, error) {
	profile, err := s.profiles.GetProfileByUserID(ctx, userID)
	if err != nil && !ierr.IsNotFound(err) {
		return nil, ierr.WithError(err).
			WithMessagef("load profile of %s", userID).
			WithHint("Failed to sync subscription data").
			WithMark(ErrSyncFailed).
			Mark(ierr.ErrDependency)
	}
	if !profile.HasCustomer() {
		return nil, ierr.NewErrorf("user %s has no billing customer", userID).
			WithHint("No billing account found").
			WithMark(ErrNoBillingAccount).
			Mark(ierr.ErrNotFound)
	}
	return s.Sync(ctx, *profile.StripeCustomerID)
}

// selectCurrent returns the most recently created active or trialing
// subscription. Equal creation times prefer active, then the larger id.
func selectCurrent(subs []*stripe.Subscription) *stripe.Subscription {
	var best *stripe.Subscription
	for _, sub := range subs {
		if sub == nil || !models.SubscriptionStatus(sub.Status).IsCurrent() {
			continue
		}
		if best == nil || newer(sub, best) {
			best = sub
		}
	}
	return best
}

func newer(a, b *stripe.Subscription) bool {
	if a.Created != b.Created {
		return a.Created > b.Created
	}
	if a.Status != b.Status {
		return a.Status == stripe.SubscriptionStatusActive
	}
	return a.ID > b.ID
}

func (s *Syncer) fillSnapshot(ctx context.Context, snap *models.SubscriptionSnapshot, sub *stripe.Subscription) {
	snap.StripeSubscriptionID = lo.ToPtr(sub.ID)
	snap.Status = models.SubscriptionStatus(sub.Status)
	snap.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
	snap.TrialStart = unixPtr(sub.TrialStart)
	snap.TrialEnd = unixPtr(sub.TrialEnd)
	snap.Currency = nonEmpty(string(sub.Currency))
	snap.PaymentMethodSummary = paymentMethodSummary(sub.DefaultPaymentMethod)

	var price *stripe.Price
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		// period bounds live on the item in current API versions
		snap.CurrentPeriodStart = unixPtr(item.CurrentPeriodStart)
		snap.CurrentPeriodEnd = unixPtr(item.CurrentPeriodEnd)
		price = item.Price
	}

	if price != nil {
		snap.PriceID = nonEmpty(price.ID)
		if price.Currency != "" {
			snap.Currency = nonEmpty(string(price.Currency))
		}
		snap.UnitAmount = lo.ToPtr(price.UnitAmount)
		if price.Recurring != nil {
			snap.BillingInterval = nonEmpty(string(price.Recurring.Interval))
		}
	}

	snap.PlanName = s.planName(ctx, sub, price)
}

// planName prefers explicit subscription metadata, then the price nickname,
// then the product name.
func (s *Syncer) planName(ctx context.Context, sub *stripe.Subscription, price *stripe.Price) *string {
	if name := nonEmpty(sub.Metadata[planNameMetadataKey]); name != nil {
		return name
	}
	if price == nil {
		return nil
	}
	if name := nonEmpty(price.Nickname); name != nil {
		return name
	}
	if price.Product == nil {
		return nil
	}
	if name := nonEmpty(price.Product.Name); name != nil {
		return name
	}
	if price.Product.ID == "" {
		return nil
	}

	product, err := s.platform.RetrieveProduct(ctx, price.Product.ID)
	if err != nil {
		s.log.Warnw("failed to resolve plan name", "product_id", price.Product.ID, "error", err)
		return nil
	}
	return nonEmpty(product.Name)
}

func paymentMethodSummary(pm *stripe.PaymentMethod) *string {
	if pm == nil {
		return nil
	}
	if pm.Card != nil && pm.Card.Last4 != "" {
		return lo.ToPtr(fmt.Sprintf("%s •••• %s", pm.Card.Brand, pm.Card.Last4))
	}
	return nonEmpty(string(pm.Type))
}

func unixPtr(ts int64) *time.Time {
	if ts <= 0 {
		return nil
	}
	return lo.ToPtr(time.Unix(ts, 0).UTC())
}
