package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zenvoice/internal/types"
)

func TestParseWebhookEvent_SubscriptionCreate(t *testing.T) {
	raw := []byte(`{
		"event": "subscription.create",
		"data": {
			"subscription_code": "SUB_abc",
			"email_token": "tok_xyz",
			"status": "active",
			"next_payment_date": "2026-09-28T00:00:00.000Z",
			"createdAt": "2026-08-28T10:15:00.000Z",
			"customer": {"email": "billing@tenant.io", "customer_code": "CUS_1"},
			"plan": {"plan_code": "PLN_ess", "name": "Essentials"}
		}
	}`)

	event, err := ParseWebhookEvent(raw)
	require.NoError(t, err)

	assert.Equal(t, EventSubscriptionCreate, event.Kind)
	assert.Equal(t, "SUB_abc", event.SubscriptionCode)
	assert.Equal(t, "tok_xyz", event.EmailToken)
	assert.Equal(t, "billing@tenant.io", event.CustomerEmail)
	assert.Equal(t, "CUS_1", event.CustomerCode)
	assert.Equal(t, "PLN_ess", event.PlanCode)
	assert.Equal(t, time.Date(2026, 8, 28, 10, 15, 0, 0, time.UTC), event.CreatedAt)
	require.NotNil(t, event.NextPaymentAt)
	assert.Equal(t, time.Date(2026, 9, 28, 0, 0, 0, 0, time.UTC), *event.NextPaymentAt)
}

func TestParseWebhookEvent_InvoiceNestsSubscriptionCode(t *testing.T) {
	raw := []byte(`{
		"event": "invoice.update",
		"data": {
			"status": "success",
			"paid_at": "2026-08-28 10:15:00",
			"createdAt": "2026-08-28T10:15:00.000Z",
			"subscription": {"subscription_code": "SUB_nested", "email_token": "tok_nested"},
			"customer": {"email": "billing@tenant.io"}
		}
	}`)

	event, err := ParseWebhookEvent(raw)
	require.NoError(t, err)

	assert.Equal(t, "SUB_nested", event.SubscriptionCode)
	assert.Equal(t, "tok_nested", event.EmailToken)
	assert.Equal(t, "success", event.Status)
}

func TestParseWebhookEvent_MissingCreatedAtDefaultsToNow(t *testing.T) {
	raw := []byte(`{"event": "charge.success", "data": {"customer": {"email": "x@y.z"}}}`)

	before := time.Now().UTC()
	event, err := ParseWebhookEvent(raw)
	require.NoError(t, err)

	assert.False(t, event.CreatedAt.IsZero())
	assert.False(t, event.CreatedAt.Before(before))
}

func TestParseWebhookEvent_RejectsBadPayloads(t *testing.T) {
	for name, raw := range map[string][]byte{
		"not json":      []byte("nope"),
		"missing event": []byte(`{"data": {}}`),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseWebhookEvent(raw)
			require.Error(t, err)
			assert.True(t, types.HasErrorCode(err, types.ErrCodeWebhookInvalidPayload))
		})
	}
}
