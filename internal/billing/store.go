package billing

import (
	"context"
	"time"

	"zenvoice/internal/gateway"
	"zenvoice/internal/types"
)

// SubscriptionStore is the persistence surface the billing engine needs.
// Satisfied by *db.SubscriptionRepo; declared here so the engine and quota
// manager can be tested against a mock without a database.
type SubscriptionStore interface {
	GetByTenant(ctx context.Context, tenantID string) (*types.Subscription, error)
	GetByGatewayCode(ctx context.Context, code string) (*types.Subscription, error)
	GetByBillingEmail(ctx context.Context, email string) (*types.Subscription, error)
	Create(ctx context.Context, sub *types.Subscription) error
	Update(ctx context.Context, sub *types.Subscription) error
	UpdateIfEventNewer(ctx context.Context, sub *types.Subscription, eventAt time.Time) (bool, error)
	IncrementUsage(ctx context.Context, subID string, resource types.Resource, quota int) (bool, error)
	ResetPeriod(ctx context.Context, subID string, now, periodStart, periodEnd time.Time) error
}

// GatewayClient is the payment-provider surface the engine calls.
// Satisfied by *gateway.Client.
type GatewayClient interface {
	InitializeTransaction(ctx context.Context, email string, amountMinor int64, planCode, callbackURL string) (*gateway.InitializeResponse, error)
	VerifyTransaction(ctx context.Context, reference string) (*gateway.VerifyResponse, error)
	DisableSubscription(ctx context.Context, code, token string) error
	EnableSubscription(ctx context.Context, code, token string) error
}

// EventPublisher pushes billing decisions onto the notification queue.
// Satisfied by the SQS publisher; a nil-safe no-op is used when the queue is
// not configured.
type EventPublisher interface {
	Publish(ctx context.Context, event types.BillingEvent) error
}
