package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"zenvoice/internal/core"
	"zenvoice/internal/types"
)

// --- Mocks ---

type mockSubscriptionService struct {
	mock.Mock
}

func (m *mockSubscriptionService) Initialize(ctx context.Context, tenantID, email string, tier types.PlanTier) types.InitializeResult {
	args := m.Called(ctx, tenantID, email, tier)
	return args.Get(0).(types.InitializeResult)
}

func (m *mockSubscriptionService) VerifyAndActivate(ctx context.Context, tenantID, reference string) types.VerifyResult {
	args := m.Called(ctx, tenantID, reference)
	return args.Get(0).(types.VerifyResult)
}

func (m *mockSubscriptionService) Cancel(ctx context.Context, tenantID string) types.ActionResult {
	args := m.Called(ctx, tenantID)
	return args.Get(0).(types.ActionResult)
}

func (m *mockSubscriptionService) Enable(ctx context.Context, tenantID string) types.ActionResult {
	args := m.Called(ctx, tenantID)
	return args.Get(0).(types.ActionResult)
}

type mockReader struct {
	mock.Mock
}

func (m *mockReader) Current(ctx context.Context, tenantID string) (*types.Subscription, types.Plan, error) {
	args := m.Called(ctx, tenantID)
	if s := args.Get(0); s != nil {
		return s.(*types.Subscription), args.Get(1).(types.Plan), args.Error(2)
	}
	return nil, types.Plan{}, args.Error(2)
}

func (m *mockReader) Usage(ctx context.Context, tenantID string) ([]types.UsageView, error) {
	args := m.Called(ctx, tenantID)
	if v := args.Get(0); v != nil {
		return v.([]types.UsageView), args.Error(1)
	}
	return nil, args.Error(1)
}

type staticPlans struct{}

func (staticPlans) Plans() []types.Plan {
	return []types.Plan{{Tier: types.PlanFree, Name: "Free"}}
}

// --- Helpers ---

func newSubscriptionRouter(svc SubscriptionService, reader SubscriptionReader) *chi.Mux {
	h := NewSubscriptionHandler(svc, reader, staticPlans{}, core.NewValidator(nil), nil)
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func doTenantRequest(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reqBody *strings.Reader
	if body == "" {
		reqBody = strings.NewReader("")
	} else {
		reqBody = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reqBody)
	req = req.WithContext(types.WithTenantID(req.Context(), "tenant_1"))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// --- Tests ---

func TestSubscriptionHandler_Initialize_Success(t *testing.T) {
	svc := new(mockSubscriptionService)
	svc.On("Initialize", mock.Anything, "tenant_1", "billing@tenant.io", types.PlanEssentials).
		Return(types.InitializeResult{
			Success:          true,
			AuthorizationURL: "https://checkout.example.com/x",
			Reference:        "ref_1",
		})

	router := newSubscriptionRouter(svc, new(mockReader))
	rec := doTenantRequest(t, router, http.MethodPost, "/subscriptions/initialize",
		`{"plan":"essentials","email":"billing@tenant.io"}`)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data types.InitializeResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Data.Success)
	assert.Equal(t, "ref_1", resp.Data.Reference)
}

func TestSubscriptionHandler_Initialize_FreePlanFailsValidation(t *testing.T) {
	svc := new(mockSubscriptionService)
	router := newSubscriptionRouter(svc, new(mockReader))

	rec := doTenantRequest(t, router, http.MethodPost, "/subscriptions/initialize", `{"plan":"free"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	svc.AssertNotCalled(t, "Initialize")
}

func TestSubscriptionHandler_Initialize_MalformedBody(t *testing.T) {
	svc := new(mockSubscriptionService)
	router := newSubscriptionRouter(svc, new(mockReader))

	rec := doTenantRequest(t, router, http.MethodPost, "/subscriptions/initialize", `{not json`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	svc.AssertNotCalled(t, "Initialize")
}

func TestSubscriptionHandler_Initialize_EngineFailureIsStillHTTP200(t *testing.T) {
	svc := new(mockSubscriptionService)
	svc.On("Initialize", mock.Anything, "tenant_1", "", types.PlanBusiness).
		Return(types.InitializeResult{Message: "could not start checkout with the payment provider, try again shortly"})

	router := newSubscriptionRouter(svc, new(mockReader))
	rec := doTenantRequest(t, router, http.MethodPost, "/subscriptions/initialize", `{"plan":"business"}`)

	// A reportable failure is part of the endpoint contract, not an HTTP error.
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data types.InitializeResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Data.Success)
	assert.NotEmpty(t, resp.Data.Message)
}

func TestSubscriptionHandler_MissingTenantIdentity(t *testing.T) {
	router := newSubscriptionRouter(new(mockSubscriptionService), new(mockReader))

	req := httptest.NewRequest(http.MethodPost, "/subscriptions/cancel", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubscriptionHandler_Verify(t *testing.T) {
	svc := new(mockSubscriptionService)
	svc.On("VerifyAndActivate", mock.Anything, "tenant_1", "ref_42").
		Return(types.VerifyResult{Success: true, Plan: types.PlanEssentials, Status: types.SubStatusActive})

	router := newSubscriptionRouter(svc, new(mockReader))
	rec := doTenantRequest(t, router, http.MethodGet, "/subscriptions/verify/ref_42", "")

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data types.VerifyResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Data.Success)
	assert.Equal(t, types.PlanEssentials, resp.Data.Plan)
}

func TestSubscriptionHandler_GetCurrent(t *testing.T) {
	reader := new(mockReader)
	sub := &types.Subscription{
		Status:             types.SubStatusActive,
		CurrentPeriodStart: mustTime(t, "2026-08-01T00:00:00Z"),
		CurrentPeriodEnd:   mustTime(t, "2026-09-01T00:00:00Z"),
	}
	reader.On("Current", mock.Anything, "tenant_1").
		Return(sub, types.Plan{Tier: types.PlanEssentials, Name: "Essentials"}, nil)
	reader.On("Usage", mock.Anything, "tenant_1").
		Return([]types.UsageView{{Resource: types.ResourceInvoice, Used: 4, Quota: 10}}, nil)

	router := newSubscriptionRouter(new(mockSubscriptionService), reader)
	rec := doTenantRequest(t, router, http.MethodGet, "/subscriptions/current", "")

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data SubscriptionResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, types.SubStatusActive, resp.Data.Status)
	assert.Equal(t, types.PlanEssentials, resp.Data.Plan.Tier)
	require.Len(t, resp.Data.Usage, 1)
	assert.Equal(t, 4, resp.Data.Usage[0].Used)
}

func TestSubscriptionHandler_ListPlans(t *testing.T) {
	router := newSubscriptionRouter(new(mockSubscriptionService), new(mockReader))
	rec := doTenantRequest(t, router, http.MethodGet, "/subscriptions/plans", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"free"`)
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}
