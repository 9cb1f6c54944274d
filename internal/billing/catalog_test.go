package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zenvoice/internal/types"
)

func TestCatalog_Resolve(t *testing.T) {
	catalog := testCatalog()

	plan, err := catalog.Resolve(types.PlanEssentials)
	require.NoError(t, err)
	assert.Equal(t, 10, plan.InvoiceQuota)
	assert.Equal(t, 5, plan.LogoQuota)
	assert.True(t, plan.SharingEnabled)

	_, err = catalog.Resolve(types.PlanTier("platinum"))
	require.Error(t, err)
	assert.True(t, types.HasErrorCode(err, types.ErrCodeValidationInvalidPlan))
}

func TestCatalog_FreeTierShape(t *testing.T) {
	free := testCatalog().Free()

	assert.Zero(t, free.PriceMinor)
	assert.Equal(t, 3, free.InvoiceQuota)
	assert.Equal(t, 1, free.LogoQuota)
	assert.False(t, free.SharingEnabled)
}

func TestCatalog_BusinessIsUnlimited(t *testing.T) {
	plan, err := testCatalog().Resolve(types.PlanBusiness)
	require.NoError(t, err)
	assert.Equal(t, types.UnlimitedQuota, plan.InvoiceQuota)
	assert.Equal(t, types.UnlimitedQuota, plan.LogoQuota)
}

func TestCatalog_GatewayPlanCode(t *testing.T) {
	catalog := testCatalog()

	code, err := catalog.GatewayPlanCode(types.PlanBusiness)
	require.NoError(t, err)
	assert.Equal(t, "PLN_biz", code)

	// FREE never transacts, so asking for its code is an error.
	_, err = catalog.GatewayPlanCode(types.PlanFree)
	require.Error(t, err)
	assert.True(t, types.HasErrorCode(err, types.ErrCodeValidationInvalidPlan))
}

func TestCatalog_TierForGatewayCode(t *testing.T) {
	catalog := testCatalog()

	tier, ok := catalog.TierForGatewayCode("PLN_ess")
	require.True(t, ok)
	assert.Equal(t, types.PlanEssentials, tier)

	_, ok = catalog.TierForGatewayCode("PLN_unknown")
	assert.False(t, ok)
}

func TestCatalog_PlansOrderedByPrice(t *testing.T) {
	plans := testCatalog().Plans()
	require.Len(t, plans, 3)
	assert.Equal(t, types.PlanFree, plans[0].Tier)
	assert.Equal(t, types.PlanEssentials, plans[1].Tier)
	assert.Equal(t, types.PlanBusiness, plans[2].Tier)
}
