package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PortNumber53/saas-starter/internal/auth"
	"github.com/PortNumber53/saas-starter/internal/billing"
	ierr "github.com/PortNumber53/saas-starter/internal/errors"
	"github.com/PortNumber53/saas-starter/internal/logger"
	"github.com/PortNumber53/saas-starter/internal/models"
	"github.com/PortNumber53/saas-starter/internal/worker"
)

type mockReconciler struct {
	last   billing.ReconcileRequest
	result *billing.ReconcileResult
	err    error
}

func (m *mockReconciler) Reconcile(_ context.Context, req billing.ReconcileRequest) (*billing.ReconcileResult, error) {
	m.last = req
	return m.result, m.err
}

func authed(req *http.Request, id, email string) *http.Request {
	return req.WithContext(auth.WithUser(req.Context(), &auth.User{ID: id, Email: email}))
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func postReconcile(h http.Handler, body string, user bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/reconcile", strings.NewReader(body))
	if user {
		req = authed(req, "u1", "user@acme.com")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestReconcileHandlerSuccess(t *testing.T) {
	rec := &mockReconciler{result: &billing.ReconcileResult{
		Success:   true,
		Message:   "Payment successfully linked to your account",
		ProfileID: "prof_1",
		Operation: models.OperationLinkedExisting,
	}}
	h := Reconcile(rec, logger.NewNop())

	rr := postReconcile(h, `{"sessionId":"cs_test_1","userEmail":"user@acme.com"}`, true)
	require.Equal(t, http.StatusOK, rr.Code)

	body := decodeBody(t, rr)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "linked_existing", body["operation"])
	assert.Equal(t, "prof_1", body["profileId"])

	assert.Equal(t, "u1", rec.last.UserID)
	assert.Equal(t, "cs_test_1", rec.last.SessionID)
}

func TestReconcileHandlerErrors(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		noUser    bool
		result    *billing.ReconcileResult
		err       error
		status    int
		errPrefix string
		check     func(t *testing.T, body map[string]any)
	}{
		{
			name:   "unauthenticated",
			body:   `{"sessionId":"cs_1","userEmail":"user@acme.com"}`,
			noUser: true,
			status: http.StatusUnauthorized,
		},
		{
			name:      "missing fields",
			body:      `{"sessionId":"cs_1"}`,
			status:    http.StatusBadRequest,
			errPrefix: "Missing required fields",
		},
		{
			name:      "malformed json",
			body:      `{`,
			status:    http.StatusBadRequest,
			errPrefix: "Missing required fields",
		},
		{
			name:      "body email differs from session",
			body:      `{"sessionId":"cs_1","userEmail":"other@acme.com"}`,
			status:    http.StatusForbidden,
			errPrefix: "Email mismatch",
		},
		{
			name: "payment email mismatch",
			body: `{"sessionId":"cs_1","userEmail":"user@acme.com"}`,
			err: ierr.NewError("email mismatch").
				WithHint("Email mismatch: payment was made with b@x.com but you are signed in as user@acme.com").
				WithMark(billing.ErrEmailMismatch).
				Mark(ierr.ErrPermissionDenied),
			status:    http.StatusForbidden,
			errPrefix: "Email mismatch",
		},
		{
			name: "duplicate",
			body: `{"sessionId":"cs_dup","userEmail":"user@acme.com"}`,
			result: &billing.ReconcileResult{
				Message:         "Please contact support",
				Error:           "duplicate billing account for user u1",
				RequiresSupport: true,
			},
			err:    ierr.NewError("dup").WithMark(billing.ErrDuplicateEmail).Mark(ierr.ErrConflict),
			status: http.StatusConflict,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, false, body["success"])
				assert.Equal(t, true, body["requiresSupport"])
				assert.Equal(t, "Please contact support", body["message"])
			},
		},
		{
			name: "already consumed",
			body: `{"sessionId":"cs_1","userEmail":"user@acme.com"}`,
			err: ierr.NewError("consumed").
				WithHint("This checkout session has already been linked to an account").
				WithMark(billing.ErrSessionConsumed).
				Mark(ierr.ErrConflict),
			status:    http.StatusConflict,
			errPrefix: "This checkout session",
			check: func(t *testing.T, body map[string]any) {
				assert.NotContains(t, body, "requiresSupport")
			},
		},
		{
			name:      "session not found",
			body:      `{"sessionId":"cs_missing","userEmail":"user@acme.com"}`,
			err:       ierr.NewError("missing").WithHint("Checkout session not found").Mark(ierr.ErrNotFound),
			status:    http.StatusNotFound,
			errPrefix: "Checkout session not found",
		},
		{
			name:   "platform unavailable",
			body:   `{"sessionId":"cs_1","userEmail":"user@acme.com"}`,
			err:    ierr.NewError("timeout").Mark(ierr.ErrDependency),
			status: http.StatusServiceUnavailable,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, true, body["retryable"])
			},
		},
		{
			name:      "unexpected",
			body:      `{"sessionId":"cs_1","userEmail":"user@acme.com"}`,
			err:       ierr.NewError("boom").WithHint("secret detail").Mark(ierr.ErrInvariant),
			status:    http.StatusInternalServerError,
			errPrefix: "Internal server error during reconciliation",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := Reconcile(&mockReconciler{result: tt.result, err: tt.err}, logger.NewNop())
			rr := postReconcile(h, tt.body, !tt.noUser)
			require.Equal(t, tt.status, rr.Code, rr.Body.String())

			body := decodeBody(t, rr)
			if tt.errPrefix != "" {
				msg, _ := body["error"].(string)
				assert.True(t, strings.HasPrefix(msg, tt.errPrefix), "error %q", msg)
			}
			if tt.check != nil {
				tt.check(t, body)
			}
		})
	}
}

func TestReconcileHandlerRequiresAccountEmail(t *testing.T) {
	rec := &mockReconciler{result: &billing.ReconcileResult{Success: true}}
	h := Reconcile(rec, logger.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/reconcile",
		strings.NewReader(`{"sessionId":"cs_other","userEmail":"someone@acme.com"}`))
	req = authed(req, "u_phone", "")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusForbidden, rr.Code, rr.Body.String())
	assert.Empty(t, rec.last.SessionID, "reconciler must not be called")
}

func TestReconcileHandlerPassesAccountEmail(t *testing.T) {
	rec := &mockReconciler{result: &billing.ReconcileResult{Success: true}}
	h := Reconcile(rec, logger.NewNop())

	rr := postReconcile(h, `{"sessionId":"cs_test_1","userEmail":"user@acme.com"}`, true)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "user@acme.com", rec.last.UserEmail)
	assert.Equal(t, "u1", rec.last.UserID)
}

type mockSyncer struct {
	snap *models.SubscriptionSnapshot
	err  error
}

func (m *mockSyncer) SyncUser(context.Context, string) (*models.SubscriptionSnapshot, error) {
	return m.snap, m.err
}

func (m *mockSyncer) GetSnapshotByUserID(context.Context, string) (*models.SubscriptionSnapshot, error) {
	return m.snap, m.err
}

func TestSyncHandler(t *testing.T) {
	snap := &models.SubscriptionSnapshot{StripeCustomerID: "cus_1", Status: models.SubscriptionStatusActive}

	tests := []struct {
		name   string
		body   string
		syncer *mockSyncer
		status int
		errMsg string
	}{
		{"ok", `{"userId":"u1"}`, &mockSyncer{snap: snap}, http.StatusOK, ""},
		{"missing user id", `{}`, &mockSyncer{}, http.StatusBadRequest, "Missing required fields: userId"},
		{"other user", `{"userId":"u2"}`, &mockSyncer{snap: snap}, http.StatusForbidden, "Cannot sync another user's billing data"},
		{
			"no billing account", `{"userId":"u1"}`,
			&mockSyncer{err: ierr.NewError("none").WithHint("No billing account found").WithMark(billing.ErrNoBillingAccount).Mark(ierr.ErrNotFound)},
			http.StatusNotFound, "No billing account found",
		},
		{
			"sync failure", `{"userId":"u1"}`,
			&mockSyncer{err: ierr.NewError("down").WithHint("Failed to sync subscription data").WithMark(billing.ErrSyncFailed).Mark(ierr.ErrDependency)},
			http.StatusInternalServerError, "Failed to sync subscription data",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := authed(httptest.NewRequest(http.MethodPost, "/api/sync", strings.NewReader(tt.body)), "u1", "user@acme.com")
			rr := httptest.NewRecorder()
			Sync(tt.syncer, logger.NewNop()).ServeHTTP(rr, req)

			require.Equal(t, tt.status, rr.Code, rr.Body.String())
			body := decodeBody(t, rr)
			if tt.errMsg != "" {
				assert.Equal(t, tt.errMsg, body["error"])
			} else {
				assert.Equal(t, "cus_1", body["stripe_customer_id"])
				assert.Equal(t, "active", body["status"])
			}
		})
	}

	t.Run("unauthenticated", func(t *testing.T) {
		rr := httptest.NewRecorder()
		Sync(&mockSyncer{}, logger.NewNop()).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/sync", strings.NewReader(`{"userId":"u1"}`)))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestSubscriptionHandler(t *testing.T) {
	req := authed(httptest.NewRequest(http.MethodGet, "/api/billing/subscription", nil), "u1", "user@acme.com")
	rr := httptest.NewRecorder()
	Subscription(&mockSyncer{err: ierr.NewError("none").WithHint("No subscription data found").Mark(ierr.ErrNotFound)}, logger.NewNop()).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.JSONEq(t, `{"error":"No subscription data found"}`, rr.Body.String())
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type stubStats struct{}

func (stubStats) GetStats() worker.Stats { return worker.Stats{JobsProcessed: 3} }

func TestHealth(t *testing.T) {
	rr := httptest.NewRecorder()
	Health(stubPinger{}, stubStats{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	body := decodeBody(t, rr)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["database"])
	assert.Equal(t, float64(3), body["worker"].(map[string]any)["jobs_processed"])

	rr = httptest.NewRecorder()
	Health(stubPinger{err: context.DeadlineExceeded}, nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "degraded", decodeBody(t, rr)["status"])
}
