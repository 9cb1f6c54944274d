package types

// PlanTier identifies the billing plan for a tenant.
type PlanTier string

const (
	PlanFree       PlanTier = "free"
	PlanEssentials PlanTier = "essentials"
	PlanBusiness   PlanTier = "business"
)

// Valid reports whether the tier is one of the known plan identifiers.
func (p PlanTier) Valid() bool {
	switch p {
	case PlanFree, PlanEssentials, PlanBusiness:
		return true
	}
	return false
}

// SubscriptionStatus represents the lifecycle state of a tenant's subscription.
//
// State machine:
//   - A newly materialized FREE subscription starts ACTIVE.
//   - Initialize moves any state to INACTIVE until payment is confirmed.
//   - CANCELLED is terminal-ish: re-activatable only via a fresh Initialize,
//     never via Enable alone once the gateway subscription is gone.
type SubscriptionStatus string

const (
	SubStatusActive      SubscriptionStatus = "active"
	SubStatusInactive    SubscriptionStatus = "inactive"
	SubStatusCancelled   SubscriptionStatus = "cancelled"
	SubStatusNonRenewing SubscriptionStatus = "non_renewing"
	SubStatusAttention   SubscriptionStatus = "attention"
)

// Resource identifies a quota-metered resource.
type Resource string

const (
	ResourceInvoice Resource = "invoice"
	ResourceLogo    Resource = "logo"
)

// UnlimitedQuota is the sentinel quota value meaning "no limit".
// Enforcement code must treat it as no limit, never as a numeric bound.
const UnlimitedQuota = -1

// BillingEventKind classifies notifications published by the billing engine.
type BillingEventKind string

const (
	BillingEventActivated     BillingEventKind = "subscription_activated"
	BillingEventCancelled     BillingEventKind = "subscription_cancelled"
	BillingEventPaymentFailed BillingEventKind = "payment_failed"
	BillingEventNonRenewing   BillingEventKind = "subscription_non_renewing"
)
