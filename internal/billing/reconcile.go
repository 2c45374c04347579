package billing

import (
	"context"
	"strings"
	"time"

	"github.com/samber/lo"

	ierr "github.com/PortNumber53/saas-starter/internal/errors"
	"github.com/PortNumber53/saas-starter/internal/logger"
	"github.com/PortNumber53/saas-starter/internal/models"
)

const (
	followUpEnqueueTimeout = 3 * time.Second
	customerIdempotencyTag = "reconcile-customer-"
)

// ReconcileRequest links the checkout session to the authenticated user.
type ReconcileRequest struct {
	SessionID        string
	UserEmail        string
	UserID           string
	StripeCustomerID string
}

// ReconcileResult is returned on success and, with Success false, on the
// duplicate branch.
type ReconcileResult struct {
	Success            bool                 `json:"success"`
	Message            string               `json:"message"`
	ProfileID          string               `json:"profileId,omitempty"`
	SubscriptionLinked bool                 `json:"subscriptionLinked"`
	Operation          models.OperationType `json:"operation"`
	MetadataTagged     bool                 `json:"metadataTagged"`
	Synced             bool                 `json:"synced"`
	Error              string               `json:"error,omitempty"`
	RequiresSupport    bool                 `json:"requiresSupport,omitempty"`
}

// Reconciler binds a guest checkout to an account.
type Reconciler struct {
	extractor *Extractor
	profiles  ProfileStore
	tracker   *SessionTracker
	syncer    *Syncer
	platform  PaymentPlatform
	ops       OperationRecorder
	queue     JobQueue
	log       *logger.Logger
	timeout   time.Duration
}

// ReconcilerDeps groups the collaborators of a Reconciler. Queue may be nil,
// in which case failed follow-up steps are only logged.
type ReconcilerDeps struct {
	Platform   PaymentPlatform
	Profiles   ProfileStore
	Sessions   SessionStore
	Snapshots  SnapshotStore
	Lookup     ProfileLookup
	Operations OperationRecorder
	Queue      JobQueue
	Logger     *logger.Logger
	Timeout    time.Duration
}

func NewReconciler(deps ReconcilerDeps) *Reconciler {
	return &Reconciler{
		extractor: NewExtractor(deps.Platform),
		profiles:  deps.Profiles,
		tracker:   NewSessionTracker(deps.Sessions, deps.Logger),
		syncer:    NewSyncer(deps.Platform, deps.Snapshots, deps.Lookup, deps.Logger),
		platform:  deps.Platform,
		ops:       deps.Operations,
		queue:     deps.Queue,
		log:       deps.Logger,
		timeout:   deps.Timeout,
	}
}

// Syncer exposes the syncer sharing this reconciler's collaborators.
func (r *Reconciler) Syncer() *Syncer {
	return r.syncer
}

// Reconcile runs the linear reconciliation flow: reject consumed sessions,
// extract the payment, check the email, bind the customer atomically, mark
// the session consumed, then tag the customer and re-sync. Only the steps up
// to the consumption mark can fail the call; tagging and sync failures are
// logged and queued for retry.
func (r *Reconciler) Reconcile(ctx context.Context, req ReconcileRequest) (*ReconcileResult, error) {
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.UserID = strings.TrimSpace(req.UserID)
	req.StripeCustomerID = strings.TrimSpace(req.StripeCustomerID)
	if req.SessionID == "" || req.UserEmail == "" || req.UserID == "" {
		return nil, ierr.NewError("session id, user email and user id are required").
			WithHint("Missing required fields: sessionId and userEmail are required").
			Mark(ierr.ErrValidation)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	log := r.log.With("session_id", req.SessionID, "user_id", req.UserID)

	if err := r.tracker.EnsureNotConsumed(ctx, req.SessionID); err != nil {
		log.Infow("reconciliation rejected", "reason", err)
		return nil, err
	}

	info, err := r.extractor.Extract(ctx, req.SessionID)
	if err != nil {
		log.Infow("payment extraction failed", "error", err)
		return nil, err
	}
	r.tracker.Record(ctx, info)
	log = log.With("payment_customer_id", info.CustomerID)

	if info.CustomerEmail != req.UserEmail {
		log.Warnw("payment email does not match account email")
		return nil, ierr.NewError("email mismatch").
			WithHintf("Email mismatch: payment was made with %s but you are signed in as %s", info.CustomerEmail, req.UserEmail).
			WithReportableDetails(map[string]any{"payment_email": info.CustomerEmail, "user_email": req.UserEmail}).
			WithMark(ErrEmailMismatch).
			Mark(ierr.ErrPermissionDenied)
	}

	if req.StripeCustomerID != "" && req.StripeCustomerID != info.CustomerID {
		return nil, ierr.NewErrorf("customer %s does not belong to session %s", req.StripeCustomerID, req.SessionID).
			WithHint("stripeCustomerId does not match the checkout session").
			Mark(ierr.ErrValidation)
	}

	ensured, err := r.profiles.EnsureCustomer(ctx, req.UserID, req.UserEmail)
	if err != nil {
		log.Errorw("ensure customer failed", "error", err)
		return nil, err
	}

	customerID := info.CustomerID
	operation := models.OperationLinkedExisting
	tagged := false

	switch {
	case customerID != "" && ensured.CustomerID != "" && ensured.CustomerID != customerID:
		return r.duplicate(ctx, log, req, "account already bound to "+ensured.CustomerID)
	case customerID == "" && ensured.CustomerID != "":
		customerID = ensured.CustomerID
	case customerID == "":
		// created outside any transaction; the key collapses concurrent attempts
		customer, err := r.platform.CreateCustomer(ctx, req.UserEmail, "",
			CustomerMetadata(req.UserID, ensured.ProfileID), customerIdempotencyTag+req.UserID)
		if err != nil {
			log.Errorw("create customer failed", "error", err)
			return nil, err
		}
		customerID = customer.ID
		operation = models.OperationCreatedNew
		tagged = true
	}

	link, err := r.profiles.CreateOrLinkProfile(ctx, req.UserID, req.UserEmail, customerID, info.CustomerName)
	if err != nil {
		if ierr.IsConflict(err) {
			return r.duplicate(ctx, log, req, "customer "+customerID+" is bound to another account")
		}
		log.Errorw("link profile failed", "error", err)
		return nil, err
	}
	if bound := link.Profile.StripeCustomerID; bound == nil || *bound != customerID {
		log.Errorw("profile not bound to customer after link", "customer_id", customerID, "profile_id", link.Profile.ID)
		return nil, ierr.NewErrorf("profile %s not bound to customer %s after link", link.Profile.ID, customerID).
			WithReportableDetails(map[string]any{"profile_id": link.Profile.ID, "customer_id": customerID}).
			Mark(ierr.ErrInvariant)
	}

	if err := r.tracker.MarkConsumed(ctx, info, req.UserID); err != nil {
		log.Warnw("consumption mark failed", "error", err)
		return nil, err
	}

	log = log.With("customer_id", customerID, "profile_id", link.Profile.ID)

	if link.IsNewCustomer && !tagged {
		tagged = r.tagCustomer(ctx, log, customerID, req.UserID, link.Profile.ID)
	} else if !link.IsNewCustomer {
		tagged = true
	}

	synced := true
	if _, err := r.syncer.Sync(ctx, customerID); err != nil {
		synced = false
		log.Warnw("subscription re-sync failed", "error", err)
		r.enqueue(ctx, log, models.NewJob(models.JobTypeSubscriptionResync, models.JSONB{
			"customer_id": customerID,
		}))
	}

	r.recordOperation(ctx, log, operation, req, "success", nil)

	message := "Payment successfully linked to your account"
	if operation == models.OperationCreatedNew {
		message = "Billing account created and payment linked to your account"
	}

	log.Infow("reconciliation completed", "operation", operation, "metadata_tagged", tagged, "synced", synced)
	return &ReconcileResult{
		Success:            true,
		Message:            message,
		ProfileID:          link.Profile.ID,
		SubscriptionLinked: info.SubscriptionID != nil,
		Operation:          operation,
		MetadataTagged:     tagged,
		Synced:             synced,
	}, nil
}

func (r *Reconciler) duplicate(ctx context.Context, log *logger.Logger, req ReconcileRequest, reason string) (*ReconcileResult, error) {
	outcome := HandleDuplicateEmail(req.UserEmail, req.UserID, req.SessionID)
	log.Warnw("duplicate billing customer detected", "reason", reason)
	r.recordOperation(ctx, log, models.OperationDuplicateDetected, req, "requires_support", lo.ToPtr(reason))

	result := &ReconcileResult{
		Success:         false,
		Message:         outcome.Message,
		Error:           outcome.Error,
		RequiresSupport: outcome.RequiresSupport,
		Operation:       models.OperationDuplicateDetected,
	}
	return result, ierr.NewError(reason).
		WithHint(outcome.Message).
		WithMark(ErrDuplicateEmail).
		Mark(ierr.ErrConflict)
}

// tagCustomer writes the account ids into the customer's metadata. Failure
// leaves the linkage in place and queues a retry.
func (r *Reconciler) tagCustomer(ctx context.Context, log *logger.Logger, customerID, userID, profileID string) bool {
	err := r.platform.UpdateCustomerMetadata(ctx, customerID, CustomerMetadata(userID, profileID))
	if err == nil {
		return true
	}

	log.Warnw("customer metadata update failed", "error", err)
	r.enqueue(ctx, log, models.NewJob(models.JobTypeStripeCustomerTag, models.JSONB{
		"customer_id": customerID,
		"user_id":     userID,
		"profile_id":  profileID,
	}))
	return false
}

func (r *Reconciler) enqueue(ctx context.Context, log *logger.Logger, job *models.Job) {
	if r.queue == nil {
		return
	}

	// the request deadline may already be spent
	enqueueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), followUpEnqueueTimeout)
	defer cancel()

	if err := r.queue.Enqueue(enqueueCtx, job); err != nil {
		log.Errorw("failed to enqueue follow-up job", "job_type", job.JobType, "error", err)
		return
	}
	log.Infow("follow-up job enqueued", "job_type", job.JobType, "job_id", job.ID)
}

func (r *Reconciler) recordOperation(ctx context.Context, log *logger.Logger, opType models.OperationType, req ReconcileRequest, outcome string, detail *string) {
	if r.ops == nil {
		return
	}

	op := &models.ReconciliationOperation{
		OperationType: opType,
		UserID:        req.UserID,
		SessionID:     req.SessionID,
		Outcome:       outcome,
		Detail:        detail,
	}
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), followUpEnqueueTimeout)
	defer cancel()

	if err := r.ops.RecordOperation(recordCtx, op); err != nil {
		log.Warnw("failed to record reconciliation operation", "operation", opType, "error", err)
	}
}
