package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"

	ierr "github.com/PortNumber53/saas-starter/internal/errors"
	"github.com/PortNumber53/saas-starter/internal/logger"
	"github.com/PortNumber53/saas-starter/internal/models"
)

var syncedAt = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestSyncer(p *fakePlatform, s *memStore) *Syncer {
	syncer := NewSyncer(p, s, s, logger.NewNop())
	syncer.now = func() time.Time { return syncedAt }
	return syncer
}

func TestSyncFillsSnapshot(t *testing.T) {
	p := newFakePlatform()
	sub := activeSubscription("sub_1", 100)
	sub.CancelAtPeriodEnd = true
	p.subs["cus_1"] = []*stripe.Subscription{sub}
	store := newMemStore()

	snap, err := newTestSyncer(p, store).Sync(context.Background(), "cus_1")
	require.NoError(t, err)

	assert.Equal(t, "cus_1", snap.StripeCustomerID)
	assert.Equal(t, models.SubscriptionStatusActive, snap.Status)
	assert.Equal(t, "sub_1", *snap.StripeSubscriptionID)
	assert.Equal(t, "price_pro", *snap.PriceID)
	assert.Equal(t, "Pro", *snap.PlanName)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), *snap.CurrentPeriodStart)
	assert.Equal(t, time.Unix(1702592000, 0).UTC(), *snap.CurrentPeriodEnd)
	assert.True(t, snap.CancelAtPeriodEnd)
	assert.Nil(t, snap.TrialStart)
	assert.Equal(t, "usd", *snap.Currency)
	assert.Equal(t, int64(2000), *snap.UnitAmount)
	assert.Equal(t, "month", *snap.BillingInterval)
	assert.Equal(t, "visa •••• 4242", *snap.PaymentMethodSummary)
	assert.Equal(t, syncedAt, snap.SyncedAt)

	assert.Equal(t, snap, store.snapshots["cus_1"])
}

func TestSyncReplacesWholeSnapshot(t *testing.T) {
	p := newFakePlatform()
	p.subs["cus_1"] = []*stripe.Subscription{activeSubscription("sub_1", 100)}
	store := newMemStore()
	syncer := newTestSyncer(p, store)

	_, err := syncer.Sync(context.Background(), "cus_1")
	require.NoError(t, err)

	canceled := activeSubscription("sub_1", 100)
	canceled.Status = "canceled"
	p.subs["cus_1"] = []*stripe.Subscription{canceled}

	snap, err := syncer.Sync(context.Background(), "cus_1")
	require.NoError(t, err)

	assert.Equal(t, models.SubscriptionStatusNone, snap.Status)
	assert.Nil(t, snap.StripeSubscriptionID)
	assert.Nil(t, snap.PriceID)
	assert.Nil(t, snap.PlanName)
	assert.Nil(t, snap.CurrentPeriodEnd)
	assert.Nil(t, snap.UnitAmount)
	assert.Nil(t, snap.PaymentMethodSummary)
	assert.False(t, snap.CancelAtPeriodEnd)

	stored := store.snapshots["cus_1"]
	assert.Equal(t, models.SubscriptionStatusNone, stored.Status)
	assert.Nil(t, stored.PlanName)
	assert.Equal(t, 2, store.replaceCalls)
}

func TestSelectCurrent(t *testing.T) {
	canceled := activeSubscription("sub_canceled", 300)
	canceled.Status = "canceled"
	older := activeSubscription("sub_old", 100)
	trialing := activeSubscription("sub_trial", 200)
	trialing.Status = "trialing"

	t.Run("newest live wins", func(t *testing.T) {
		got := selectCurrent([]*stripe.Subscription{older, canceled, trialing})
		require.NotNil(t, got)
		assert.Equal(t, "sub_trial", got.ID)
	})

	t.Run("active breaks creation ties", func(t *testing.T) {
		tiedActive := activeSubscription("sub_a", 200)
		got := selectCurrent([]*stripe.Subscription{trialing, tiedActive})
		assert.Equal(t, "sub_a", got.ID)
	})

	t.Run("id breaks remaining ties", func(t *testing.T) {
		a := activeSubscription("sub_a", 50)
		b := activeSubscription("sub_b", 50)
		assert.Equal(t, "sub_b", selectCurrent([]*stripe.Subscription{b, a}).ID)
		assert.Equal(t, "sub_b", selectCurrent([]*stripe.Subscription{a, b}).ID)
	})

	t.Run("nothing live", func(t *testing.T) {
		assert.Nil(t, selectCurrent([]*stripe.Subscription{canceled, nil}))
		assert.Nil(t, selectCurrent(nil))
	})
}

func TestSyncPlanNameFallbacks(t *testing.T) {
	p := newFakePlatform()
	p.products["prod_team"] = &stripe.Product{ID: "prod_team", Name: "Team"}
	store := newMemStore()
	syncer := newTestSyncer(p, store)

	sub := activeSubscription("sub_1", 100)
	price := sub.Items.Data[0].Price
	price.Nickname = ""
	price.Product = &stripe.Product{ID: "prod_team"}
	p.subs["cus_1"] = []*stripe.Subscription{sub}

	snap, err := syncer.Sync(context.Background(), "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "Team", *snap.PlanName)

	sub.Metadata = map[string]string{"plan_name": "Enterprise"}
	snap, err = syncer.Sync(context.Background(), "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "Enterprise", *snap.PlanName)

	sub.Metadata = nil
	price.Product = &stripe.Product{ID: "prod_gone"}
	snap, err = syncer.Sync(context.Background(), "cus_1")
	require.NoError(t, err)
	assert.Nil(t, snap.PlanName)
	assert.Equal(t, models.SubscriptionStatusActive, snap.Status)
}

func TestPaymentMethodSummary(t *testing.T) {
	assert.Nil(t, paymentMethodSummary(nil))
	assert.Equal(t, "sepa_debit", *paymentMethodSummary(&stripe.PaymentMethod{Type: "sepa_debit"}))
	assert.Equal(t, "mastercard •••• 5454", *paymentMethodSummary(&stripe.PaymentMethod{
		Type: "card",
		Card: &stripe.PaymentMethodCard{Brand: "mastercard", Last4: "5454"},
	}))
}

func TestSyncFailures(t *testing.T) {
	p := newFakePlatform()
	store := newMemStore()
	syncer := newTestSyncer(p, store)

	t.Run("platform unavailable", func(t *testing.T) {
		p.listErr = ierr.NewError("timeout").Mark(ierr.ErrDependency)
		defer func() { p.listErr = nil }()

		_, err := syncer.Sync(context.Background(), "cus_1")
		assert.True(t, ierr.Is(err, ErrSyncFailed))
		assert.True(t, ierr.IsRetryable(err))
		assert.Equal(t, "Failed to sync subscription data", ierr.Hint(err, ""))
	})

	t.Run("unknown customer", func(t *testing.T) {
		p.listErr = ierr.NewError("No such customer").Mark(ierr.ErrNotFound)
		defer func() { p.listErr = nil }()

		_, err := syncer.Sync(context.Background(), "cus_gone")
		assert.True(t, ierr.Is(err, ErrSyncFailed))
		assert.True(t, ierr.IsNotFound(err))
	})

	t.Run("empty customer", func(t *testing.T) {
		_, err := syncer.Sync(context.Background(), "")
		assert.True(t, ierr.IsValidation(err))
	})

	assert.Zero(t, store.replaceCalls)
}

func TestSyncUser(t *testing.T) {
	p := newFakePlatform()
	p.subs["cus_1"] = []*stripe.Subscription{activeSubscription("sub_1", 100)}
	store := newMemStore()
	syncer := newTestSyncer(p, store)

	_, err := syncer.SyncUser(context.Background(), "u1")
	assert.True(t, ierr.Is(err, ErrNoBillingAccount))
	assert.True(t, ierr.IsNotFound(err))

	store.profiles["u1"] = &models.Profile{ID: "prof_1", UserID: "u1"}
	_, err = syncer.SyncUser(context.Background(), "u1")
	assert.True(t, ierr.Is(err, ErrNoBillingAccount))

	bindProfile(store, "u1", "cus_1")
	snap, err := syncer.SyncUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "sub_1", *snap.StripeSubscriptionID)
}

func TestSyncUserLookupFailureIsSyncFailure(t *testing.T) {
	store := newMemStore()
	store.lookupErr = ierr.NewError("connection refused").Mark(ierr.ErrDependency)
	syncer := newTestSyncer(newFakePlatform(), store)

	_, err := syncer.SyncUser(context.Background(), "u1")
	require.Error(t, err)
	assert.True(t, ierr.Is(err, ErrSyncFailed))
	assert.True(t, ierr.IsRetryable(err))
	assert.False(t, ierr.IsNotFound(err))
	assert.Equal(t, "Failed to sync subscription data", ierr.Hint(err, ""))
}
