package billing

import (
	"context"
	"fmt"
	"sync"

	"github.com/stripe/stripe-go/v82"

	ierr "github.com/PortNumber53/saas-starter/internal/errors"
	"github.com/PortNumber53/saas-starter/internal/logger"
	"github.com/PortNumber53/saas-starter/internal/models"
)

type fakePlatform struct {
	mu sync.Mutex

	sessions    map[string]*stripe.CheckoutSession
	subs        map[string][]*stripe.Subscription
	products    map[string]*stripe.Product
	retrieveErr error
	listErr     error
	updateErr   error
	blockOnCtx  bool

	customersByKey map[string]string
	createCalls    int
	metadata       map[string]map[string]string
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		sessions:       map[string]*stripe.CheckoutSession{},
		subs:           map[string][]*stripe.Subscription{},
		products:       map[string]*stripe.Product{},
		customersByKey: map[string]string{},
		metadata:       map[string]map[string]string{},
	}
}

func (f *fakePlatform) RetrieveCheckoutSession(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error) {
	if f.blockOnCtx {
		<-ctx.Done()
		return nil, ierr.WithError(ctx.Err()).Mark(ierr.ErrDependency)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.retrieveErr != nil {
		return nil, f.retrieveErr
	}
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, ierr.NewErrorf("No such checkout.session: '%s'", sessionID).Mark(ierr.ErrNotFound)
	}
	return s, nil
}

func (f *fakePlatform) ListSubscriptions(_ context.Context, customerID string) ([]*stripe.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.subs[customerID], nil
}

func (f *fakePlatform) RetrieveProduct(_ context.Context, productID string) (*stripe.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[productID]
	if !ok {
		return nil, ierr.NewError("No such product").Mark(ierr.ErrNotFound)
	}
	return p, nil
}

func (f *fakePlatform) CreateCustomer(_ context.Context, email, _ string, metadata map[string]string, idempotencyKey string) (*stripe.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.customersByKey[idempotencyKey]; ok && idempotencyKey != "" {
		return &stripe.Customer{ID: id, Email: email}, nil
	}
	f.createCalls++
	id := fmt.Sprintf("cus_new_%d", f.createCalls)
	f.customersByKey[idempotencyKey] = id
	f.metadata[id] = metadata
	return &stripe.Customer{ID: id, Email: email, Metadata: metadata}, nil
}

func (f *fakePlatform) UpdateCustomerMetadata(_ context.Context, customerID string, metadata map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.metadata[customerID] = metadata
	return nil
}

// memStore emulates the single-statement upserts of the Postgres store
// with a mutex.
type memStore struct {
	mu sync.Mutex

	profiles     map[string]*models.Profile
	sessions     map[string]*models.GuestCheckoutSession
	snapshots    map[string]*models.SubscriptionSnapshot
	ops          []*models.ReconciliationOperation
	jobs         []*models.Job
	replaceCalls int
	nextID       int

	lookupErr error
	// linkOverride replaces the profile returned by CreateOrLinkProfile
	linkOverride *models.Profile
}

func newMemStore() *memStore {
	return &memStore{
		profiles:  map[string]*models.Profile{},
		sessions:  map[string]*models.GuestCheckoutSession{},
		snapshots: map[string]*models.SubscriptionSnapshot{},
	}
}

func (m *memStore) EnsureCustomer(_ context.Context, userID, email string) (models.EnsureResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.profiles[userID]; ok {
		var customerID string
		if p.StripeCustomerID != nil {
			customerID = *p.StripeCustomerID
		}
		return models.EnsureResult{CustomerID: customerID, ProfileID: p.ID}, nil
	}
	m.nextID++
	p := &models.Profile{ID: fmt.Sprintf("prof_%d", m.nextID), UserID: userID, Email: email}
	m.profiles[userID] = p
	return models.EnsureResult{ProfileID: p.ID, WasCreated: true}, nil
}

func (m *memStore) CreateOrLinkProfile(_ context.Context, userID, email, customerID string, fullName *string) (models.LinkResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for uid, p := range m.profiles {
		if uid != userID && p.StripeCustomerID != nil && *p.StripeCustomerID == customerID {
			return models.LinkResult{}, ierr.NewError("unique violation").Mark(ierr.ErrConflict)
		}
	}

	p, exists := m.profiles[userID]
	if exists && p.StripeCustomerID != nil && *p.StripeCustomerID != customerID {
		return models.LinkResult{}, ierr.NewError("bound elsewhere").Mark(ierr.ErrConflict)
	}
	if !exists {
		m.nextID++
		p = &models.Profile{ID: fmt.Sprintf("prof_%d", m.nextID), UserID: userID}
		m.profiles[userID] = p
	}

	prior := p.StripeCustomerID
	id := customerID
	p.StripeCustomerID = &id
	p.Email = email
	if p.FullName == nil {
		p.FullName = fullName
	}

	result := *p
	if m.linkOverride != nil {
		result = *m.linkOverride
	}
	return models.LinkResult{
		Profile:       result,
		IsNewProfile:  !exists,
		IsNewCustomer: prior == nil,
	}, nil
}

func (m *memStore) GetProfileByUserID(_ context.Context, userID string) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	p, ok := m.profiles[userID]
	if !ok {
		return nil, ierr.NewError("profile not found").Mark(ierr.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) GetProfileByCustomerID(_ context.Context, customerID string) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.profiles {
		if p.StripeCustomerID != nil && *p.StripeCustomerID == customerID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ierr.NewError("profile not found").Mark(ierr.ErrNotFound)
}

func (m *memStore) RecordGuestSession(_ context.Context, gs *models.GuestCheckoutSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[gs.SessionID]; ok {
		gs.Consumed = existing.Consumed
		gs.ConsumedBy = existing.ConsumedBy
	}
	m.sessions[gs.SessionID] = gs
	return nil
}

func (m *memStore) IsSessionConsumed(_ context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	return ok && s.Consumed, nil
}

func (m *memStore) MarkSessionConsumed(_ context.Context, gs *models.GuestCheckoutSession, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[gs.SessionID]; ok && s.Consumed {
		return false, nil
	}
	gs.Consumed = true
	gs.ConsumedBy = &userID
	m.sessions[gs.SessionID] = gs
	return true, nil
}

func (m *memStore) ReplaceSnapshot(_ context.Context, snap *models.SubscriptionSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replaceCalls++
	cp := *snap
	m.snapshots[snap.StripeCustomerID] = &cp
	return nil
}

func (m *memStore) RecordOperation(_ context.Context, op *models.ReconciliationOperation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, op)
	return nil
}

func (m *memStore) Enqueue(_ context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	job.ID = int64(m.nextID)
	m.jobs = append(m.jobs, job)
	return nil
}

func (m *memStore) profile(userID string) *models.Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profiles[userID]
}

func newTestReconciler(p *fakePlatform, s *memStore) *Reconciler {
	return NewReconciler(ReconcilerDeps{
		Platform:   p,
		Profiles:   s,
		Sessions:   s,
		Snapshots:  s,
		Lookup:     s,
		Operations: s,
		Queue:      s,
		Logger:     logger.NewNop(),
	})
}

func paidSession(id, email, customerID string) *stripe.CheckoutSession {
	s := &stripe.CheckoutSession{
		ID:              id,
		PaymentStatus:   stripe.CheckoutSessionPaymentStatusPaid,
		CustomerDetails: &stripe.CheckoutSessionCustomerDetails{Email: email},
		Metadata:        map[string]string{},
	}
	if customerID != "" {
		s.Customer = &stripe.Customer{ID: customerID}
	}
	return s
}

func activeSubscription(id string, created int64) *stripe.Subscription {
	return &stripe.Subscription{
		ID:       id,
		Status:   "active",
		Created:  created,
		Currency: "usd",
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{{
				CurrentPeriodStart: 1700000000,
				CurrentPeriodEnd:   1702592000,
				Price: &stripe.Price{
					ID:         "price_pro",
					Nickname:   "Pro",
					Currency:   "usd",
					UnitAmount: 2000,
					Recurring:  &stripe.PriceRecurring{Interval: "month"},
				},
			}},
		},
		DefaultPaymentMethod: &stripe.PaymentMethod{
			Type: "card",
			Card: &stripe.PaymentMethodCard{Brand: "visa", Last4: "4242"},
		},
	}
}
