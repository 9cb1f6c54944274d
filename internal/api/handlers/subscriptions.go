// Package handlers contains the HTTP handler implementations for the
// Zenvoice billing API.
//
// This file implements the tenant-facing subscription endpoints: the plan
// catalog, the current subscription and usage snapshot, checkout
// initialization, payment verification, and cancel/enable actions.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"zenvoice/internal/core"
	"zenvoice/internal/types"
)

// --- Service Interfaces ---
//
// Defined locally so the handler depends on a contract, not on the concrete
// engine, and can be mocked in tests.

// SubscriptionService is the billing engine surface the handler drives.
// User-initiated actions return structured results; failures the tenant can
// act on arrive as Success=false with a message, not as errors.
type SubscriptionService interface {
	Initialize(ctx context.Context, tenantID, email string, tier types.PlanTier) types.InitializeResult
	VerifyAndActivate(ctx context.Context, tenantID, reference string) types.VerifyResult
	Cancel(ctx context.Context, tenantID string) types.ActionResult
	Enable(ctx context.Context, tenantID string) types.ActionResult
}

// SubscriptionReader provides the current subscription state and quota
// snapshot, materializing the free tier on first touch.
type SubscriptionReader interface {
	Current(ctx context.Context, tenantID string) (*types.Subscription, types.Plan, error)
	Usage(ctx context.Context, tenantID string) ([]types.UsageView, error)
}

// PlanLister exposes the plan catalog.
type PlanLister interface {
	Plans() []types.Plan
}

// --- Request/Response Models ---

// InitializeRequest is the request body for POST /v1/subscriptions/initialize.
//
// Email is optional: when omitted, the billing email already on file is used.
type InitializeRequest struct {
	Plan  types.PlanTier `json:"plan" validate:"required,oneof=essentials business"`
	Email string         `json:"email" validate:"omitempty,email"`
}

// SubscriptionResponse is the response for GET /v1/subscriptions/current.
type SubscriptionResponse struct {
	Plan          types.Plan               `json:"plan"`
	Status        types.SubscriptionStatus `json:"status"`
	PeriodStart   string                   `json:"period_start"`
	PeriodEnd     string                   `json:"period_end"`
	NextPaymentAt *string                  `json:"next_payment_at,omitempty"`
	CancelledAt   *string                  `json:"cancelled_at,omitempty"`
	Usage         []types.UsageView        `json:"usage"`
}

// --- Subscription Handler ---

// SubscriptionHandler handles synchronous billing actions initiated by the
// tenant.
type SubscriptionHandler struct {
	service   SubscriptionService
	reader    SubscriptionReader
	catalog   PlanLister
	validator *core.Validator
	logger    *slog.Logger
}

// NewSubscriptionHandler creates a SubscriptionHandler with the provided
// dependencies.
func NewSubscriptionHandler(
	svc SubscriptionService,
	reader SubscriptionReader,
	catalog PlanLister,
	v *core.Validator,
	l *slog.Logger,
) *SubscriptionHandler {
	if l == nil {
		l = slog.Default()
	}
	return &SubscriptionHandler{
		service:   svc,
		reader:    reader,
		catalog:   catalog,
		validator: v,
		logger:    l,
	}
}

// RegisterRoutes mounts the subscription endpoints. The parent router has
// already applied tenant identity middleware.
func (h *SubscriptionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/subscriptions", func(r chi.Router) {
		r.Get("/plans", h.ListPlans)
		r.Get("/current", h.GetCurrent)
		r.Get("/usage", h.GetUsage)
		r.Post("/initialize", h.Initialize)
		r.Get("/verify/{reference}", h.Verify)
		r.Post("/cancel", h.Cancel)
		r.Post("/enable", h.Enable)
	})
}

// ListPlans handles GET /v1/subscriptions/plans.
func (h *SubscriptionHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: h.catalog.Plans()})
}

// GetCurrent handles GET /v1/subscriptions/current. The first call for a new
// tenant materializes the free-tier subscription.
func (h *SubscriptionHandler) GetCurrent(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := types.GetTenantID(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTenantMissing, "tenant identity required", nil))
		return
	}

	sub, plan, err := h.reader.Current(r.Context(), tenantID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	usage, err := h.reader.Usage(r.Context(), tenantID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	resp := SubscriptionResponse{
		Plan:        plan,
		Status:      sub.Status,
		PeriodStart: sub.CurrentPeriodStart.Format(time.RFC3339),
		PeriodEnd:   sub.CurrentPeriodEnd.Format(time.RFC3339),
		Usage:       usage,
	}
	if sub.NextPaymentAt != nil {
		s := sub.NextPaymentAt.Format(time.RFC3339)
		resp.NextPaymentAt = &s
	}
	if sub.CancelledAt != nil {
		s := sub.CancelledAt.Format(time.RFC3339)
		resp.CancelledAt = &s
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: resp})
}

// GetUsage handles GET /v1/subscriptions/usage: the quota snapshot alone,
// for dashboards that poll it frequently.
func (h *SubscriptionHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := types.GetTenantID(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTenantMissing, "tenant identity required", nil))
		return
	}

	usage, err := h.reader.Usage(r.Context(), tenantID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: usage})
}

// Initialize handles POST /v1/subscriptions/initialize.
//
// The free plan is rejected by validation before the engine is reached: it
// has no checkout. Redirect targets are constructed server-side by the
// engine, never accepted from client input.
func (h *SubscriptionHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := types.GetTenantID(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTenantMissing, "tenant identity required", nil))
		return
	}

	var req InitializeRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	result := h.service.Initialize(r.Context(), tenantID, req.Email, req.Plan)
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: result})
}

// Verify handles GET /v1/subscriptions/verify/{reference}. A failed payment
// is a normal outcome: 200 with Success=false, subscription unchanged.
func (h *SubscriptionHandler) Verify(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := types.GetTenantID(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTenantMissing, "tenant identity required", nil))
		return
	}

	reference := chi.URLParam(r, "reference")
	result := h.service.VerifyAndActivate(r.Context(), tenantID, reference)
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: result})
}

// Cancel handles POST /v1/subscriptions/cancel.
func (h *SubscriptionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := types.GetTenantID(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTenantMissing, "tenant identity required", nil))
		return
	}

	result := h.service.Cancel(r.Context(), tenantID)
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: result})
}

// Enable handles POST /v1/subscriptions/enable.
func (h *SubscriptionHandler) Enable(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := types.GetTenantID(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTenantMissing, "tenant identity required", nil))
		return
	}

	result := h.service.Enable(r.Context(), tenantID)
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: result})
}
