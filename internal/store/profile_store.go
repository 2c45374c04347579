package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	ierr "github.com/PortNumber53/saas-starter/internal/errors"
	"github.com/PortNumber53/saas-starter/internal/models"
	"github.com/google/uuid"
)

// ErrCustomerConflict marks an attempt to bind a profile to a billing customer
// when the profile, or another profile, is already bound to a different one.
var ErrCustomerConflict = ierr.Sentinel("customer_conflict", "billing customer already bound")

const profileColumns = `id::text, user_id, email, stripe_customer_id, full_name, created_at, updated_at`

// EnsureCustomer makes sure a profile row exists for userID and reports the
// billing customer already mapped to it, if any. It is a single upsert keyed
// by user_id, so concurrent callers for the same user always observe the same
// row. It never talks to the payment platform: an empty CustomerID tells the
// caller a customer still has to be created.
func (s *Store) EnsureCustomer(ctx context.Context, userID, email string) (models.EnsureResult, error) {
	userID = strings.TrimSpace(userID)
	email = strings.TrimSpace(email)
	if userID == "" || email == "" {
		return models.EnsureResult{}, validationErr("user id and email are required")
	}

	const query = `
INSERT INTO profiles (id, user_id, email)
VALUES ($1, $2, $3)
ON CONFLICT (user_id) DO UPDATE
SET email = EXCLUDED.email,
    updated_at = NOW()
RETURNING id::text, COALESCE(stripe_customer_id, ''), (xmax = 0) AS inserted
`

	var res models.EnsureResult
	err := s.db.QueryRowContext(ctx, query, uuid.NewString(), userID, email).
		Scan(&res.ProfileID, &res.CustomerID, &res.WasCreated)
	if err != nil {
		return models.EnsureResult{}, storageErr(err, "ensure profile")
	}

	return res, nil
}

// CreateOrLinkProfile binds customerID to the user's profile, creating the
// profile when missing. The bind is one conditional upsert: it only applies
// when the stored customer is null or already equal to customerID. Anything
// else returns a Conflict without writing.
func (s *Store) CreateOrLinkProfile(ctx context.Context, userID, email, customerID string, fullName *string) (models.LinkResult, error) {
	userID = strings.TrimSpace(userID)
	email = strings.TrimSpace(email)
	customerID = strings.TrimSpace(customerID)
	if userID == "" || email == "" {
		return models.LinkResult{}, validationErr("user id and email are required")
	}
	if customerID == "" {
		return models.LinkResult{}, validationErr("customer id is required")
	}

	const query = `
WITH prior AS (
  SELECT stripe_customer_id FROM profiles WHERE user_id = $2
)
INSERT INTO profiles (id, user_id, email, stripe_customer_id, full_name)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (user_id) DO UPDATE
SET stripe_customer_id = EXCLUDED.stripe_customer_id,
    email = EXCLUDED.email,
    full_name = COALESCE(profiles.full_name, EXCLUDED.full_name),
    updated_at = NOW()
WHERE profiles.stripe_customer_id IS NULL
   OR profiles.stripe_customer_id = EXCLUDED.stripe_customer_id
RETURNING ` + profileColumns + `,
  (xmax = 0) AS inserted,
  COALESCE((SELECT stripe_customer_id FROM prior), '') AS prior_customer
`

	var res models.LinkResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			p             models.Profile
			stripeID      sql.NullString
			name          sql.NullString
			inserted      bool
			priorCustomer string
		)

		err := tx.QueryRowContext(ctx, query, uuid.NewString(), userID, email, customerID, fullName).Scan(
			&p.ID, &p.UserID, &p.Email, &stripeID, &name, &p.CreatedAt, &p.UpdatedAt,
			&inserted, &priorCustomer,
		)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return conflictErr(userID, customerID)
		case isUniqueViolation(err):
			return conflictErr(userID, customerID)
		case err != nil:
			return storageErr(err, "link profile")
		}

		p.StripeCustomerID = nullStringPtr(stripeID)
		p.FullName = nullStringPtr(name)
		res = models.LinkResult{
			Profile:       p,
			IsNewProfile:  inserted,
			IsNewCustomer: priorCustomer == "",
		}
		return nil
	})
	if err != nil {
		return models.LinkResult{}, err
	}

	return res, nil
}

// GetProfileByUserID returns the profile of an auth user.
func (s *Store) GetProfileByUserID(ctx context.Context, userID string) (*models.Profile, error) {
	return s.getProfile(ctx, `SELECT `+profileColumns+` FROM profiles WHERE user_id = $1`, userID)
}

// GetProfileByCustomerID returns the profile bound to a billing customer.
func (s *Store) GetProfileByCustomerID(ctx context.Context, customerID string) (*models.Profile, error) {
	return s.getProfile(ctx, `SELECT `+profileColumns+` FROM profiles WHERE stripe_customer_id = $1`, customerID)
}

func (s *Store) getProfile(ctx context.Context, query, arg string) (*models.Profile, error) {
	var (
		p        models.Profile
		stripeID sql.NullString
		name     sql.NullString
	)

	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&p.ID, &p.UserID, &p.Email, &stripeID, &name, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ierr.NewError("profile not found").
			WithHint("No billing account found").
			Mark(ierr.ErrNotFound)
	}
	if err != nil {
		return nil, storageErr(err, "get profile")
	}

	p.StripeCustomerID = nullStringPtr(stripeID)
	p.FullName = nullStringPtr(name)
	return &p, nil
}

func conflictErr(userID, customerID string) error {
	return ierr.NewErrorf("customer %s cannot be bound to user %s", customerID, userID).
		WithHint("This account is already linked to a different billing customer").
		WithReportableDetails(map[string]any{"user_id": userID, "customer_id": customerID}).
		WithMark(ErrCustomerConflict).
		Mark(ierr.ErrConflict)
}
