// Package billing implements the subscription lifecycle and usage-quota
// engine: the plan catalog, per-period quota enforcement, the state machine
// driven by tenant actions and gateway webhooks, and transaction
// verification.
package billing

import (
	"fmt"

	"zenvoice/internal/config"
	"zenvoice/internal/types"
)

// Catalog is the immutable in-process plan registry. Plans are code-defined
// rather than database rows: the set changes with releases, not at runtime,
// and every quota check reads from it.
type Catalog struct {
	plans map[types.PlanTier]types.Plan
	// gatewayCodes maps paid tiers to the provider's billing-plan codes.
	// FREE has no entry: it never touches the gateway.
	gatewayCodes map[types.PlanTier]string
	tierByCode   map[string]types.PlanTier
}

// NewCatalog builds the catalog with the provider plan codes from config.
func NewCatalog(cfg config.GatewayConfig) *Catalog {
	plans := map[types.PlanTier]types.Plan{
		types.PlanFree: {
			Tier:           types.PlanFree,
			Name:           "Free",
			PriceMinor:     0,
			InvoiceQuota:   3,
			LogoQuota:      1,
			SharingEnabled: false,
		},
		types.PlanEssentials: {
			Tier:           types.PlanEssentials,
			Name:           "Essentials",
			PriceMinor:     500000,
			InvoiceQuota:   10,
			LogoQuota:      5,
			SharingEnabled: true,
		},
		types.PlanBusiness: {
			Tier:           types.PlanBusiness,
			Name:           "Business",
			PriceMinor:     1500000,
			InvoiceQuota:   types.UnlimitedQuota,
			LogoQuota:      types.UnlimitedQuota,
			SharingEnabled: true,
		},
	}

	codes := cfg.PlanCodes()
	gatewayCodes := make(map[types.PlanTier]string, len(codes))
	for tier, code := range codes {
		gatewayCodes[types.PlanTier(tier)] = code
	}

	tierByCode := make(map[string]types.PlanTier, len(gatewayCodes))
	for tier, code := range gatewayCodes {
		if code != "" {
			tierByCode[code] = tier
		}
	}

	return &Catalog{
		plans:        plans,
		gatewayCodes: gatewayCodes,
		tierByCode:   tierByCode,
	}
}

// Resolve returns the catalog entry for a tier.
func (c *Catalog) Resolve(tier types.PlanTier) (types.Plan, error) {
	plan, ok := c.plans[tier]
	if !ok {
		return types.Plan{}, types.NewAppError(
			types.ErrCodeValidationInvalidPlan,
			fmt.Sprintf("unknown plan %q", tier),
			nil,
		)
	}
	return plan, nil
}

// GatewayPlanCode returns the provider plan code for a paid tier. Asking for
// the FREE tier's code is a caller bug surfaced as an invalid-plan error:
// FREE subscriptions must never reach the gateway.
func (c *Catalog) GatewayPlanCode(tier types.PlanTier) (string, error) {
	code, ok := c.gatewayCodes[tier]
	if !ok || code == "" {
		return "", types.NewAppError(
			types.ErrCodeValidationInvalidPlan,
			fmt.Sprintf("plan %q has no gateway plan code", tier),
			nil,
		)
	}
	return code, nil
}

// TierForGatewayCode resolves a provider plan code back to the local tier.
func (c *Catalog) TierForGatewayCode(code string) (types.PlanTier, bool) {
	tier, ok := c.tierByCode[code]
	return tier, ok
}

// Plans returns all catalog entries in ascending price order.
func (c *Catalog) Plans() []types.Plan {
	return []types.Plan{
		c.plans[types.PlanFree],
		c.plans[types.PlanEssentials],
		c.plans[types.PlanBusiness],
	}
}

// Free returns the free-tier plan, the default for tenants who have never
// paid.
func (c *Catalog) Free() types.Plan {
	return c.plans[types.PlanFree]
}
