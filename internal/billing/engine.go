package billing

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"zenvoice/internal/gateway"
	"zenvoice/internal/types"
)

// Engine is the subscription state machine. State changes come from two
// directions: tenant actions (initialize, verify, cancel, enable) and
// gateway webhooks. User actions are guarded by the version column; webhook
// writes are guarded by the event timestamp so out-of-order or redelivered
// events degrade to idempotent no-ops.
//
// Action methods return structured results rather than errors: a failed
// checkout or an unreachable gateway is a reportable outcome for the tenant,
// not a fault. Gateway calls always happen before the local write, so a
// gateway failure leaves the row untouched.
type Engine struct {
	store        SubscriptionStore
	catalog      *Catalog
	gateway      GatewayClient
	verifier     *TransactionVerifier
	quotas       *QuotaManager
	publisher    EventPublisher
	dashboardURL string
	logger       *slog.Logger
	now          func() time.Time
}

// NewEngine wires the state machine.
func NewEngine(
	store SubscriptionStore,
	catalog *Catalog,
	gatewayClient GatewayClient,
	verifier *TransactionVerifier,
	quotas *QuotaManager,
	publisher EventPublisher,
	dashboardURL string,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:        store,
		catalog:      catalog,
		gateway:      gatewayClient,
		verifier:     verifier,
		quotas:       quotas,
		publisher:    publisher,
		dashboardURL: strings.TrimSuffix(dashboardURL, "/"),
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Initialize starts a hosted-payment checkout for a paid tier. The free tier
// is rejected before any gateway call or row mutation: it never transacts.
// On success the row records the target plan with status INACTIVE; the
// subscription activates only after verify or the subscription.create
// webhook confirms payment.
func (e *Engine) Initialize(ctx context.Context, tenantID, email string, tier types.PlanTier) types.InitializeResult {
	plan, err := e.catalog.Resolve(tier)
	if err != nil {
		return types.InitializeResult{Message: "unknown plan: " + string(tier)}
	}
	if plan.IsFree() {
		return types.InitializeResult{Message: "the free plan does not require payment"}
	}

	planCode, err := e.catalog.GatewayPlanCode(tier)
	if err != nil {
		e.logger.ErrorContext(ctx, "paid tier has no gateway plan code configured",
			slog.String("plan", string(tier)),
		)
		return types.InitializeResult{Message: "this plan is not available for purchase right now"}
	}

	sub, _, err := e.quotas.Current(ctx, tenantID)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to load subscription for initialize",
			slog.String("tenant_id", tenantID),
			slog.Any("error", err),
		)
		return types.InitializeResult{Message: "could not load your subscription, try again shortly"}
	}

	email = strings.TrimSpace(email)
	if email == "" {
		email = sub.BillingEmail
	}
	if email == "" {
		return types.InitializeResult{Message: "a billing email is required to start checkout"}
	}

	callback := e.dashboardURL + "/billing/verify"
	resp, err := e.gateway.InitializeTransaction(ctx, email, plan.PriceMinor, planCode, callback)
	if err != nil {
		e.logger.WarnContext(ctx, "gateway initialize failed",
			slog.String("tenant_id", tenantID),
			slog.String("plan", string(tier)),
			slog.Any("error", err),
		)
		return types.InitializeResult{Message: "could not start checkout with the payment provider, try again shortly"}
	}

	sub.Plan = tier
	sub.Status = types.SubStatusInactive
	sub.BillingEmail = email
	if err := e.store.Update(ctx, sub); err != nil {
		e.logger.ErrorContext(ctx, "failed to record pending checkout",
			slog.String("tenant_id", tenantID),
			slog.Any("error", err),
		)
		return types.InitializeResult{Message: "could not record the checkout, try again shortly"}
	}

	e.logger.InfoContext(ctx, "checkout initialized",
		slog.String("tenant_id", tenantID),
		slog.String("plan", string(tier)),
		slog.String("reference", resp.Reference),
	)

	return types.InitializeResult{
		Success:          true,
		AuthorizationURL: resp.AuthorizationURL,
		AccessCode:       resp.AccessCode,
		Reference:        resp.Reference,
	}
}

// VerifyAndActivate confirms a checkout reference with the gateway and, on a
// successful payment, activates the subscription and starts a fresh quota
// period. A failed or unverifiable transaction leaves the row INACTIVE.
//
// Activation only fires from INACTIVE, the state Initialize leaves behind.
// The gateway reports a completed reference as successful forever, so a
// replayed verify against an already-active row must not restart the quota
// period or wipe usage counters.
func (e *Engine) VerifyAndActivate(ctx context.Context, tenantID, reference string) types.VerifyResult {
	outcome := e.verifier.Verify(ctx, reference)
	if !outcome.Succeeded {
		return types.VerifyResult{Message: outcome.Reason}
	}

	sub, err := e.store.GetByTenant(ctx, tenantID)
	if err != nil {
		e.logger.ErrorContext(ctx, "verified payment but no subscription row",
			slog.String("tenant_id", tenantID),
			slog.String("reference", reference),
			slog.Any("error", err),
		)
		return types.VerifyResult{Message: "payment confirmed but no subscription was found; contact support"}
	}

	if sub.Status != types.SubStatusInactive {
		e.logger.InfoContext(ctx, "verify on non-pending subscription is a no-op",
			slog.String("tenant_id", tenantID),
			slog.String("reference", reference),
			slog.String("status", string(sub.Status)),
		)
		return types.VerifyResult{
			Success: true,
			Message: "payment already processed; subscription unchanged",
			Plan:    sub.Plan,
			Status:  sub.Status,
		}
	}

	if tier, ok := e.catalog.TierForGatewayCode(outcome.GatewayPlanCode); ok {
		sub.Plan = tier
	}

	now := e.now()
	sub.Status = types.SubStatusActive
	sub.InvoicesUsed = 0
	sub.LogosUsed = 0
	sub.LastResetAt = &now
	sub.CurrentPeriodStart = now
	sub.CurrentPeriodEnd = now.AddDate(0, 1, 0)
	sub.CancelledAt = nil

	if err := e.store.Update(ctx, sub); err != nil {
		e.logger.ErrorContext(ctx, "failed to activate subscription after verify",
			slog.String("tenant_id", tenantID),
			slog.Any("error", err),
		)
		return types.VerifyResult{Message: "payment confirmed but activation failed, try again shortly"}
	}

	e.publish(ctx, types.BillingEventActivated, sub)

	return types.VerifyResult{
		Success: true,
		Message: "subscription activated",
		Plan:    sub.Plan,
		Status:  sub.Status,
	}
}

// Cancel stops the subscription. When a gateway link exists the gateway is
// told to disable first; if that call fails nothing is written locally, so
// the tenant can retry without the row and the gateway disagreeing. A tenant
// with no gateway link (free tier, or checkout never completed) cancels
// locally.
func (e *Engine) Cancel(ctx context.Context, tenantID string) types.ActionResult {
	sub, err := e.store.GetByTenant(ctx, tenantID)
	if err != nil {
		return types.ActionResult{Message: "no subscription to cancel"}
	}

	if sub.Status == types.SubStatusCancelled {
		return types.ActionResult{
			Success: true,
			Message: "subscription is already cancelled",
			Status:  sub.Status,
		}
	}

	if sub.HasGatewayLink() {
		token := ""
		if sub.GatewayEmailToken != nil {
			token = *sub.GatewayEmailToken
		}
		if err := e.gateway.DisableSubscription(ctx, *sub.GatewaySubscriptionCode, token); err != nil {
			e.logger.WarnContext(ctx, "gateway disable failed, cancel aborted",
				slog.String("tenant_id", tenantID),
				slog.Any("error", err),
			)
			return types.ActionResult{Message: "could not cancel with the payment provider, no changes were made"}
		}
	}

	now := e.now()
	sub.Status = types.SubStatusCancelled
	sub.CancelledAt = &now
	if err := e.store.Update(ctx, sub); err != nil {
		e.logger.ErrorContext(ctx, "failed to record cancellation",
			slog.String("tenant_id", tenantID),
			slog.Any("error", err),
		)
		return types.ActionResult{Message: "cancellation could not be saved, try again shortly"}
	}

	e.publish(ctx, types.BillingEventCancelled, sub)

	return types.ActionResult{
		Success: true,
		Message: "subscription cancelled",
		Status:  sub.Status,
	}
}

// Enable resumes billing on a subscription the gateway still knows about:
// one that is CANCELLED, NON_RENEWING, or in ATTENTION but retains its
// gateway code and email token. Without that link re-activation requires a
// fresh checkout.
func (e *Engine) Enable(ctx context.Context, tenantID string) types.ActionResult {
	sub, err := e.store.GetByTenant(ctx, tenantID)
	if err != nil {
		return types.ActionResult{Message: "no subscription to enable"}
	}

	if sub.Status == types.SubStatusActive {
		return types.ActionResult{
			Success: true,
			Message: "subscription is already active",
			Status:  sub.Status,
		}
	}

	switch sub.Status {
	case types.SubStatusCancelled, types.SubStatusNonRenewing, types.SubStatusAttention:
	default:
		return types.ActionResult{Message: "subscription cannot be enabled from its current state"}
	}

	if !sub.HasGatewayLink() || sub.GatewayEmailToken == nil || *sub.GatewayEmailToken == "" {
		return types.ActionResult{Message: "no payment method on file; start a new checkout to re-activate"}
	}

	if err := e.gateway.EnableSubscription(ctx, *sub.GatewaySubscriptionCode, *sub.GatewayEmailToken); err != nil {
		e.logger.WarnContext(ctx, "gateway enable failed",
			slog.String("tenant_id", tenantID),
			slog.Any("error", err),
		)
		return types.ActionResult{Message: "could not re-enable with the payment provider, no changes were made"}
	}

	sub.Status = types.SubStatusActive
	sub.CancelledAt = nil
	if err := e.store.Update(ctx, sub); err != nil {
		e.logger.ErrorContext(ctx, "failed to record re-enable",
			slog.String("tenant_id", tenantID),
			slog.Any("error", err),
		)
		return types.ActionResult{Message: "re-enable could not be saved, try again shortly"}
	}

	e.publish(ctx, types.BillingEventActivated, sub)

	return types.ActionResult{
		Success: true,
		Message: "subscription re-enabled",
		Status:  sub.Status,
	}
}

// ApplyEvent folds one gateway webhook event into local state. Events for
// subscriptions this system does not know are logged and dropped. All writes
// go through the event-timestamp guard, so an event older than the last
// applied one changes nothing.
//
// Only infrastructure failures return an error; the webhook router
// acknowledges the delivery regardless.
func (e *Engine) ApplyEvent(ctx context.Context, event *types.WebhookEvent) error {
	sub := e.locate(ctx, event)
	if sub == nil {
		e.logger.WarnContext(ctx, "gateway event for unknown subscription dropped",
			slog.String("event", event.Kind),
			slog.String("subscription_code", event.SubscriptionCode),
			slog.String("customer_email", event.CustomerEmail),
		)
		return nil
	}

	var kind types.BillingEventKind

	switch event.Kind {
	case gateway.EventSubscriptionCreate:
		e.attachGatewayLink(sub, event)
		sub.Status = types.SubStatusActive
		sub.CancelledAt = nil
		sub.CurrentPeriodStart = event.CreatedAt
		if event.NextPaymentAt != nil {
			sub.CurrentPeriodEnd = *event.NextPaymentAt
			sub.NextPaymentAt = event.NextPaymentAt
		} else {
			sub.CurrentPeriodEnd = event.CreatedAt.AddDate(0, 1, 0)
		}
		kind = types.BillingEventActivated

	case gateway.EventSubscriptionDisable:
		cancelledAt := event.CreatedAt
		sub.Status = types.SubStatusCancelled
		sub.CancelledAt = &cancelledAt
		kind = types.BillingEventCancelled

	case gateway.EventSubscriptionNotRenew:
		sub.Status = types.SubStatusNonRenewing
		kind = types.BillingEventNonRenewing

	case gateway.EventInvoicePaymentFailed:
		sub.Status = types.SubStatusAttention
		kind = types.BillingEventPaymentFailed

	case gateway.EventInvoiceUpdate:
		if event.Status != "success" {
			e.logger.InfoContext(ctx, "ignoring non-success invoice update",
				slog.String("subscription_id", sub.ID),
				slog.String("invoice_status", event.Status),
			)
			return nil
		}
		sub.Status = types.SubStatusActive
		sub.CancelledAt = nil
		if event.NextPaymentAt != nil {
			sub.NextPaymentAt = event.NextPaymentAt
			sub.CurrentPeriodEnd = *event.NextPaymentAt
		}

	case gateway.EventChargeSuccess:
		// A renewal charge re-affirms the subscription, but only when it
		// carries a plan this system sells; a bare card charge says nothing
		// about the subscription.
		if _, ok := e.catalog.TierForGatewayCode(event.PlanCode); !ok {
			e.logger.InfoContext(ctx, "charge without a recognized plan ignored",
				slog.String("subscription_id", sub.ID),
				slog.String("plan_code", event.PlanCode),
			)
			return nil
		}
		sub.Status = types.SubStatusActive
		sub.CancelledAt = nil

	default:
		e.logger.InfoContext(ctx, "unhandled gateway event ignored",
			slog.String("event", event.Kind),
		)
		return nil
	}

	if tier, ok := e.catalog.TierForGatewayCode(event.PlanCode); ok {
		sub.Plan = tier
	}

	applied, err := e.store.UpdateIfEventNewer(ctx, sub, event.CreatedAt)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	e.logger.InfoContext(ctx, "gateway event applied",
		slog.String("event", event.Kind),
		slog.String("subscription_id", sub.ID),
		slog.String("status", string(sub.Status)),
	)

	if kind != "" {
		e.publish(ctx, kind, sub)
	}
	return nil
}

// locate resolves the event's subscription: by gateway code first, falling
// back to the customer's billing email for events (like charge.success) that
// arrive before the code is linked.
func (e *Engine) locate(ctx context.Context, event *types.WebhookEvent) *types.Subscription {
	if event.SubscriptionCode != "" {
		if sub, err := e.store.GetByGatewayCode(ctx, event.SubscriptionCode); err == nil {
			return sub
		}
	}
	if event.CustomerEmail != "" {
		if sub, err := e.store.GetByBillingEmail(ctx, event.CustomerEmail); err == nil {
			return sub
		}
	}
	return nil
}

// attachGatewayLink records the identifiers the gateway issued for the
// subscription. The email token is required later to authorize disable and
// enable calls.
func (e *Engine) attachGatewayLink(sub *types.Subscription, event *types.WebhookEvent) {
	if event.SubscriptionCode != "" {
		code := event.SubscriptionCode
		sub.GatewaySubscriptionCode = &code
	}
	if event.CustomerCode != "" {
		customer := event.CustomerCode
		sub.GatewayCustomerCode = &customer
	}
	if event.EmailToken != "" {
		token := event.EmailToken
		sub.GatewayEmailToken = &token
	}
}

// publish pushes a billing decision to the notification queue. Publishing is
// best-effort: a queue failure is logged, never surfaced to the caller.
func (e *Engine) publish(ctx context.Context, kind types.BillingEventKind, sub *types.Subscription) {
	if e.publisher == nil {
		return
	}
	event := types.BillingEvent{
		Kind:       kind,
		TenantID:   sub.TenantID,
		Plan:       sub.Plan,
		Status:     sub.Status,
		OccurredAt: e.now(),
		TraceID:    types.GetRequestID(ctx),
	}
	if err := e.publisher.Publish(ctx, event); err != nil {
		e.logger.ErrorContext(ctx, "failed to publish billing event",
			slog.String("kind", string(kind)),
			slog.String("tenant_id", sub.TenantID),
			slog.Any("error", err),
		)
	}
}
