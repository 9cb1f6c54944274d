package types

import "time"

// Plan is an immutable catalog entry describing a billing tier.
// Quotas use UnlimitedQuota (-1) to mean "no limit".
type Plan struct {
	Tier           PlanTier `json:"tier"`
	Name           string   `json:"name"`
	PriceMinor     int64    `json:"price_minor"` // price in minor currency units
	InvoiceQuota   int      `json:"invoice_quota"`
	LogoQuota      int      `json:"logo_quota"`
	SharingEnabled bool     `json:"sharing_enabled"`
}

// IsFree reports whether this is the free tier.
func (p Plan) IsFree() bool {
	return p.Tier == PlanFree
}

// Subscription is the single mutable billing record for a tenant.
// Exactly one row exists per tenant; rows are never physically deleted --
// cancellation sets Status and CancelledAt to preserve audit history.
type Subscription struct {
	ID       string
	TenantID string
	Plan     PlanTier
	Status   SubscriptionStatus

	// BillingEmail is the address registered with the gateway; webhook
	// events that carry only a customer email are matched through it.
	BillingEmail string

	// Gateway linkage. Code and EmailToken are nil until the gateway
	// confirms the subscription; both are required to authorize
	// disable/enable calls.
	GatewaySubscriptionCode *string
	GatewayCustomerCode     *string
	GatewayEmailToken       *string

	// Billing period bounds and scheduling.
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	NextPaymentAt      *time.Time

	// Usage counters for the current quota period.
	InvoicesUsed int
	LogosUsed    int
	LastResetAt  *time.Time

	// LastEventAt is the created-at timestamp of the most recently applied
	// gateway event. Used as an optimistic ordering guard: older events are
	// silently ignored.
	LastEventAt *time.Time

	// Version is the optimistic-concurrency column bumped on every write.
	Version int

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CancelledAt *time.Time
}

// HasGatewayLink reports whether the subscription is attached to a gateway
// subscription (i.e. Initialize completed and the gateway confirmed it).
func (s *Subscription) HasGatewayLink() bool {
	return s.GatewaySubscriptionCode != nil && *s.GatewaySubscriptionCode != ""
}

// WebhookEvent is the typed payload parsed from an inbound gateway
// notification. It is ephemeral: the engine applies it and discards it.
type WebhookEvent struct {
	Kind             string
	SubscriptionCode string
	CustomerEmail    string
	CustomerCode     string
	EmailToken       string
	PlanCode         string
	Status           string
	NextPaymentAt    *time.Time
	CreatedAt        time.Time
}

// UsageView is the quota snapshot surfaced to tenants and to the CRUD layer
// when a consumption attempt is evaluated.
type UsageView struct {
	Resource  Resource `json:"resource"`
	Used      int      `json:"used"`
	Quota     int      `json:"quota"` // UnlimitedQuota means no limit
	Unlimited bool     `json:"unlimited"`
	Message   string   `json:"message,omitempty"`
	// UpgradeRequired distinguishes "buy a bigger plan" denials from
	// generic failures.
	UpgradeRequired bool `json:"upgrade_required,omitempty"`
}

// InitializeResult is the outcome of starting a hosted-payment transaction.
type InitializeResult struct {
	Success          bool   `json:"success"`
	Message          string `json:"message,omitempty"`
	AuthorizationURL string `json:"authorization_url,omitempty"`
	AccessCode       string `json:"access_code,omitempty"`
	Reference        string `json:"reference,omitempty"`
}

// VerifyResult is the outcome of confirming a payment reference and
// activating the subscription.
type VerifyResult struct {
	Success bool               `json:"success"`
	Message string             `json:"message,omitempty"`
	Plan    PlanTier           `json:"plan,omitempty"`
	Status  SubscriptionStatus `json:"status,omitempty"`
}

// ActionResult is the outcome of a cancel or enable action.
type ActionResult struct {
	Success bool               `json:"success"`
	Message string             `json:"message,omitempty"`
	Status  SubscriptionStatus `json:"status,omitempty"`
}

// BillingEvent is the envelope published to the notification queue when the
// engine makes a tenant-visible decision. Delivery (email/WhatsApp/Telegram)
// is handled by downstream workers.
type BillingEvent struct {
	Kind       BillingEventKind   `json:"kind"`
	TenantID   string             `json:"tenant_id"`
	Plan       PlanTier           `json:"plan"`
	Status     SubscriptionStatus `json:"status"`
	OccurredAt time.Time          `json:"occurred_at"`
	TraceID    string             `json:"trace_id,omitempty"`
}
