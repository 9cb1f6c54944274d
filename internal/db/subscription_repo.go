package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"zenvoice/internal/types"
)

// subscriptionColumns is the canonical column list for scanning Subscription
// rows. Keep in sync with scanSubscription.
const subscriptionColumns = `id, tenant_id, plan, status, billing_email,
	gateway_subscription_code, gateway_customer_code, gateway_email_token,
	current_period_start, current_period_end, next_payment_at,
	invoices_used, logos_used, last_reset_at, last_event_at,
	version, created_at, updated_at, cancelled_at`

// SubscriptionRepo manages the one-row-per-tenant subscription state.
//
// Key invariants:
//   - UpdateIfEventNewer uses optimistic locking via last_event_at to handle
//     out-of-order or redelivered gateway webhooks: stale events are silent
//     idempotent no-ops.
//   - Update uses a version column so a user-initiated cancel racing a
//     webhook never silently clobbers the other writer.
//   - IncrementUsage enforces quota at the point of increment with a guarded
//     UPDATE, so a counter can never exceed its quota.
//   - Rows are never deleted; cancellation sets status and cancelled_at.
type SubscriptionRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewSubscriptionRepo creates a new SubscriptionRepo backed by the given
// database connection (pool or transaction).
func NewSubscriptionRepo(db DBTX, logger *slog.Logger) *SubscriptionRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionRepo{db: db, logger: logger}
}

// GetByTenant returns the tenant's subscription row.
// Returns ErrCodeNotFoundSubscription when no row exists.
func (r *SubscriptionRepo) GetByTenant(ctx context.Context, tenantID string) (*types.Subscription, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE tenant_id = $1`,
		tenantID,
	)
	return r.scanOne(row, "tenant "+tenantID)
}

// GetByGatewayCode returns the subscription linked to the given gateway
// subscription code.
func (r *SubscriptionRepo) GetByGatewayCode(ctx context.Context, code string) (*types.Subscription, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE gateway_subscription_code = $1`,
		code,
	)
	return r.scanOne(row, "gateway code "+code)
}

// GetByBillingEmail returns the subscription whose billing email matches.
// Used for webhook events that carry only a customer email.
func (r *SubscriptionRepo) GetByBillingEmail(ctx context.Context, email string) (*types.Subscription, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE billing_email = $1`,
		email,
	)
	return r.scanOne(row, "billing email "+email)
}

// Create inserts a new subscription row. The caller supplies ID, timestamps,
// plan and status; counters start at the values on the struct.
func (r *SubscriptionRepo) Create(ctx context.Context, sub *types.Subscription) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO subscriptions (
			id, tenant_id, plan, status, billing_email,
			gateway_subscription_code, gateway_customer_code, gateway_email_token,
			current_period_start, current_period_end, next_payment_at,
			invoices_used, logos_used, last_reset_at, last_event_at,
			version, created_at, updated_at, cancelled_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		sub.ID, sub.TenantID, sub.Plan, sub.Status, sub.BillingEmail,
		sub.GatewaySubscriptionCode, sub.GatewayCustomerCode, sub.GatewayEmailToken,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.NextPaymentAt,
		sub.InvoicesUsed, sub.LogosUsed, sub.LastResetAt, sub.LastEventAt,
		sub.Version, sub.CreatedAt, sub.UpdatedAt, sub.CancelledAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert subscription", err)
	}
	return nil
}

// Update writes the full row guarded by the version column. The struct's
// Version field must hold the version that was read; on success it is bumped.
// A concurrent writer surfaces as ErrCodeConflictConcurrent so the caller can
// re-read and retry.
func (r *SubscriptionRepo) Update(ctx context.Context, sub *types.Subscription) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions
		 SET plan = $1,
		     status = $2,
		     billing_email = $3,
		     gateway_subscription_code = $4,
		     gateway_customer_code = $5,
		     gateway_email_token = $6,
		     current_period_start = $7,
		     current_period_end = $8,
		     next_payment_at = $9,
		     invoices_used = $10,
		     logos_used = $11,
		     last_reset_at = $12,
		     last_event_at = $13,
		     cancelled_at = $14,
		     version = version + 1,
		     updated_at = NOW()
		 WHERE id = $15
		   AND version = $16`,
		sub.Plan, sub.Status, sub.BillingEmail,
		sub.GatewaySubscriptionCode, sub.GatewayCustomerCode, sub.GatewayEmailToken,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.NextPaymentAt,
		sub.InvoicesUsed, sub.LogosUsed, sub.LastResetAt, sub.LastEventAt,
		sub.CancelledAt,
		sub.ID, sub.Version,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update subscription", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(
			types.ErrCodeConflictConcurrent,
			fmt.Sprintf("subscription %s was modified concurrently", sub.ID),
			nil,
		)
	}
	sub.Version++
	return nil
}

// UpdateIfEventNewer applies a webhook-originated state change only when the
// event is newer than the last applied one. Returns applied=false (with no
// error) for stale or duplicate events -- an idempotent no-op.
//
// The struct's fields are written wholesale, matching Update, but the guard
// is the event timestamp rather than the version column: webhook processing
// must not fail on version races with user actions, only order itself.
func (r *SubscriptionRepo) UpdateIfEventNewer(ctx context.Context, sub *types.Subscription, eventAt time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions
		 SET plan = $1,
		     status = $2,
		     gateway_subscription_code = $3,
		     gateway_customer_code = $4,
		     gateway_email_token = $5,
		     current_period_start = $6,
		     current_period_end = $7,
		     next_payment_at = $8,
		     cancelled_at = $9,
		     last_event_at = $10,
		     version = version + 1,
		     updated_at = NOW()
		 WHERE id = $11
		   AND (last_event_at IS NULL OR last_event_at < $10)`,
		sub.Plan, sub.Status,
		sub.GatewaySubscriptionCode, sub.GatewayCustomerCode, sub.GatewayEmailToken,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.NextPaymentAt,
		sub.CancelledAt,
		eventAt,
		sub.ID,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to apply gateway event", err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.InfoContext(ctx, "stale gateway event ignored (optimistic lock)",
			slog.String("subscription_id", sub.ID),
			slog.Time("event_at", eventAt),
		)
		return false, nil
	}
	return true, nil
}

// IncrementUsage bumps the counter for the given resource only while it is
// below quota. A quota of types.UnlimitedQuota disables the bound. Returns
// allowed=false when the guarded update matched no row, i.e. the quota is
// exhausted.
func (r *SubscriptionRepo) IncrementUsage(ctx context.Context, subID string, resource types.Resource, quota int) (bool, error) {
	column, err := usageColumn(resource)
	if err != nil {
		return false, err
	}

	tag, err := r.db.Exec(ctx,
		fmt.Sprintf(`UPDATE subscriptions
		 SET %s = %s + 1,
		     updated_at = NOW()
		 WHERE id = $1
		   AND ($2 = %d OR %s < $2)`, column, column, types.UnlimitedQuota, column),
		subID, quota,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to increment usage counter", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ResetPeriod zeroes both usage counters and rolls the quota period forward.
// Guarded on last_reset_at so two racing readers reset at most once.
func (r *SubscriptionRepo) ResetPeriod(ctx context.Context, subID string, now, periodStart, periodEnd time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE subscriptions
		 SET invoices_used = 0,
		     logos_used = 0,
		     last_reset_at = $2,
		     current_period_start = $3,
		     current_period_end = $4,
		     updated_at = NOW()
		 WHERE id = $1
		   AND (last_reset_at IS NULL OR last_reset_at < $2)`,
		subID, now, periodStart, periodEnd,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to reset quota period", err)
	}
	return nil
}

// scanOne scans a single subscription row, mapping pgx.ErrNoRows to the
// domain's not-found error.
func (r *SubscriptionRepo) scanOne(row pgx.Row, subject string) (*types.Subscription, error) {
	var sub types.Subscription
	err := row.Scan(
		&sub.ID, &sub.TenantID, &sub.Plan, &sub.Status, &sub.BillingEmail,
		&sub.GatewaySubscriptionCode, &sub.GatewayCustomerCode, &sub.GatewayEmailToken,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.NextPaymentAt,
		&sub.InvoicesUsed, &sub.LogosUsed, &sub.LastResetAt, &sub.LastEventAt,
		&sub.Version, &sub.CreatedAt, &sub.UpdatedAt, &sub.CancelledAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(
				types.ErrCodeNotFoundSubscription,
				fmt.Sprintf("no subscription for %s", subject),
				err,
			)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan subscription row", err)
	}
	return &sub, nil
}

// usageColumn maps a metered resource to its counter column. The column name
// is interpolated into SQL, so only known constants pass.
func usageColumn(resource types.Resource) (string, error) {
	switch resource {
	case types.ResourceInvoice:
		return "invoices_used", nil
	case types.ResourceLogo:
		return "logos_used", nil
	default:
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			fmt.Sprintf("unknown metered resource %q", resource),
			nil,
		)
	}
}
