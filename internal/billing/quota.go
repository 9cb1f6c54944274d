package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"zenvoice/internal/types"
)

// QuotaManager evaluates and records per-period resource consumption.
//
// Quota periods are calendar months anchored to the subscription's
// last_reset_at. Resets are lazy: there is no scheduler, the roll happens on
// the first quota touch after the period elapses. The reset itself is a
// guarded UPDATE keyed on last_reset_at, so two racing requests reset at
// most once.
type QuotaManager struct {
	store   SubscriptionStore
	catalog *Catalog
	logger  *slog.Logger
	now     func() time.Time
}

// NewQuotaManager creates a QuotaManager.
func NewQuotaManager(store SubscriptionStore, catalog *Catalog, logger *slog.Logger) *QuotaManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &QuotaManager{
		store:   store,
		catalog: catalog,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CanConsume reports whether the tenant may consume one unit of the resource
// without recording the consumption. The returned view carries the current
// counters and, on denial, a human-readable message with UpgradeRequired set.
func (q *QuotaManager) CanConsume(ctx context.Context, tenantID string, resource types.Resource) (bool, types.UsageView, error) {
	sub, plan, err := q.currentState(ctx, tenantID)
	if err != nil {
		return false, types.UsageView{}, err
	}

	used, quota := usageFor(sub, plan, resource)
	view := buildUsageView(resource, used, quota)

	if view.Unlimited || used < quota {
		return true, view, nil
	}

	view.Message = denialMessage(resource, used, quota)
	view.UpgradeRequired = true
	return false, view, nil
}

// Consume records one unit of consumption for the tenant. The increment is a
// quota-guarded UPDATE, so a burst of concurrent requests can never push a
// counter past its quota; losers of the race get the limit error.
func (q *QuotaManager) Consume(ctx context.Context, tenantID string, resource types.Resource) (types.UsageView, error) {
	sub, plan, err := q.currentState(ctx, tenantID)
	if err != nil {
		return types.UsageView{}, err
	}

	_, quota := usageFor(sub, plan, resource)
	allowed, err := q.store.IncrementUsage(ctx, sub.ID, resource, quota)
	if err != nil {
		return types.UsageView{}, err
	}
	if !allowed {
		used, _ := usageFor(sub, plan, resource)
		view := buildUsageView(resource, used, quota)
		view.Message = denialMessage(resource, used, quota)
		view.UpgradeRequired = true
		return view, types.NewAppErrorWithDetails(
			limitErrorCode(resource),
			view.Message,
			nil,
			map[string]any{"used": used, "quota": quota},
		)
	}

	used, _ := usageFor(sub, plan, resource)
	if quota != types.UnlimitedQuota {
		used++
	}
	return buildUsageView(resource, used, quota), nil
}

// Usage returns the tenant's quota snapshot for every metered resource,
// rolling the period first if it has elapsed.
func (q *QuotaManager) Usage(ctx context.Context, tenantID string) ([]types.UsageView, error) {
	sub, plan, err := q.currentState(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	views := make([]types.UsageView, 0, 2)
	for _, resource := range []types.Resource{types.ResourceInvoice, types.ResourceLogo} {
		used, quota := usageFor(sub, plan, resource)
		views = append(views, buildUsageView(resource, used, quota))
	}
	return views, nil
}

// Current returns the tenant's subscription and resolved plan, materializing
// the implicit free-tier row on first touch and rolling the quota period when
// it has elapsed.
func (q *QuotaManager) Current(ctx context.Context, tenantID string) (*types.Subscription, types.Plan, error) {
	return q.currentState(ctx, tenantID)
}

// currentState loads the tenant's subscription, materializing the free-tier
// row on first touch and rolling the quota period when it has elapsed.
func (q *QuotaManager) currentState(ctx context.Context, tenantID string) (*types.Subscription, types.Plan, error) {
	sub, err := q.store.GetByTenant(ctx, tenantID)
	if err != nil {
		if types.HasErrorCode(err, types.ErrCodeNotFoundSubscription) {
			sub, err = q.materializeFree(ctx, tenantID)
		}
		if err != nil {
			return nil, types.Plan{}, err
		}
	}

	if err := q.resetIfPeriodElapsed(ctx, sub); err != nil {
		return nil, types.Plan{}, err
	}

	plan, err := q.catalog.Resolve(sub.Plan)
	if err != nil {
		// A row holding an unknown tier is a data problem; fail closed to
		// the free plan rather than erroring every quota check.
		q.logger.ErrorContext(ctx, "subscription holds unknown plan tier, treating as free",
			slog.String("tenant_id", tenantID),
			slog.String("plan", string(sub.Plan)),
		)
		plan = q.catalog.Free()
	}
	return sub, plan, nil
}

// materializeFree creates the tenant's implicit free-tier subscription on
// first quota touch. Tenants are never required to visit billing before
// using the product.
func (q *QuotaManager) materializeFree(ctx context.Context, tenantID string) (*types.Subscription, error) {
	now := q.now()
	sub := &types.Subscription{
		ID:                 uuid.New().String(),
		TenantID:           tenantID,
		Plan:               types.PlanFree,
		Status:             types.SubStatusActive,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
		LastResetAt:        &now,
		Version:            1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := q.store.Create(ctx, sub); err != nil {
		// Another request may have materialized the row concurrently; the
		// insert loser re-reads.
		if existing, getErr := q.store.GetByTenant(ctx, tenantID); getErr == nil {
			return existing, nil
		}
		return nil, err
	}

	q.logger.InfoContext(ctx, "materialized free-tier subscription",
		slog.String("tenant_id", tenantID),
		slog.String("subscription_id", sub.ID),
	)
	return sub, nil
}

// resetIfPeriodElapsed zeroes the usage counters and rolls the period bounds
// forward when a full calendar month has passed since the last reset.
// Calling it inside the current period is a no-op, and the persisted guard
// makes concurrent calls idempotent.
func (q *QuotaManager) resetIfPeriodElapsed(ctx context.Context, sub *types.Subscription) error {
	now := q.now()

	anchor := sub.LastResetAt
	if anchor != nil && anchor.AddDate(0, 1, 0).After(now) {
		return nil
	}

	// Roll the bounds forward one month at a time so a subscription idle for
	// several periods lands on the period containing now.
	start := sub.CurrentPeriodStart
	end := sub.CurrentPeriodEnd
	if anchor == nil || end.IsZero() {
		start = now
		end = now.AddDate(0, 1, 0)
	} else {
		for !end.After(now) {
			start = end
			end = end.AddDate(0, 1, 0)
		}
	}

	if err := q.store.ResetPeriod(ctx, sub.ID, now, start, end); err != nil {
		return err
	}

	sub.InvoicesUsed = 0
	sub.LogosUsed = 0
	sub.LastResetAt = &now
	sub.CurrentPeriodStart = start
	sub.CurrentPeriodEnd = end

	q.logger.InfoContext(ctx, "quota period reset",
		slog.String("subscription_id", sub.ID),
		slog.Time("period_start", start),
		slog.Time("period_end", end),
	)
	return nil
}

// usageFor returns the counter and quota pair for a resource.
func usageFor(sub *types.Subscription, plan types.Plan, resource types.Resource) (used, quota int) {
	switch resource {
	case types.ResourceLogo:
		return sub.LogosUsed, plan.LogoQuota
	default:
		return sub.InvoicesUsed, plan.InvoiceQuota
	}
}

func buildUsageView(resource types.Resource, used, quota int) types.UsageView {
	return types.UsageView{
		Resource:  resource,
		Used:      used,
		Quota:     quota,
		Unlimited: quota == types.UnlimitedQuota,
	}
}

func denialMessage(resource types.Resource, used, quota int) string {
	noun := "invoices"
	if resource == types.ResourceLogo {
		noun = "logos"
	}
	return fmt.Sprintf("%s limit reached: %d of %d used this period. Upgrade your plan to create more %s.",
		noun, used, quota, noun)
}

func limitErrorCode(resource types.Resource) types.ErrorCode {
	if resource == types.ResourceLogo {
		return types.ErrCodeLimitLogos
	}
	return types.ErrCodeLimitInvoices
}
