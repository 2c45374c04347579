package billing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierr "github.com/PortNumber53/saas-starter/internal/errors"
	"github.com/PortNumber53/saas-starter/internal/logger"
	"github.com/PortNumber53/saas-starter/internal/models"
)

func TestHandleDuplicateEmail(t *testing.T) {
	out := HandleDuplicateEmail("user@acme.com", "u1", "cs_dup")

	assert.False(t, out.Success)
	assert.True(t, out.RequiresSupport)
	assert.Contains(t, out.Message, "user@acme.com")
	assert.Contains(t, out.Message, "cs_dup")
	assert.Contains(t, out.Message, "contact support")
	assert.Contains(t, out.Error, "u1")

	assert.Equal(t, out, HandleDuplicateEmail("user@acme.com", "u1", "cs_dup"))
}

func TestSessionTracker(t *testing.T) {
	store := newMemStore()
	tracker := NewSessionTracker(store, logger.NewNop())
	ctx := context.Background()
	info := &models.GuestPaymentInfo{SessionID: "cs_1", CustomerID: "cus_1", CustomerEmail: "user@acme.com", PaymentStatus: models.PaymentStatusPaid}

	require.NoError(t, tracker.EnsureNotConsumed(ctx, "cs_1"))

	tracker.Record(ctx, info)
	require.NoError(t, tracker.EnsureNotConsumed(ctx, "cs_1"))
	assert.Equal(t, "cus_1", *store.sessions["cs_1"].StripeCustomerID)

	require.NoError(t, tracker.MarkConsumed(ctx, info, "u1"))

	err := tracker.EnsureNotConsumed(ctx, "cs_1")
	assert.True(t, ierr.Is(err, ErrSessionConsumed))
	assert.True(t, ierr.IsConflict(err))

	err = tracker.MarkConsumed(ctx, info, "u2")
	assert.True(t, ierr.Is(err, ErrSessionConsumed))
	assert.Equal(t, "u1", *store.sessions["cs_1"].ConsumedBy)

	// re-recording must not clear the flag
	tracker.Record(ctx, info)
	assert.True(t, store.sessions["cs_1"].Consumed)
}
