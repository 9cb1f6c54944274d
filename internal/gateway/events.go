package gateway

import (
	"encoding/json"
	"time"

	"zenvoice/internal/types"
)

// Gateway webhook event types handled by the billing engine.
const (
	EventSubscriptionCreate   = "subscription.create"
	EventSubscriptionDisable  = "subscription.disable"
	EventSubscriptionNotRenew = "subscription.not_renew"
	EventInvoicePaymentFailed = "invoice.payment_failed"
	EventInvoiceUpdate        = "invoice.update"
	EventChargeSuccess        = "charge.success"
)

// webhookPayload mirrors the subset of the provider's webhook JSON the
// engine needs. Subscription events put subscription_code at the top of
// data; invoice events nest it under data.subscription.
type webhookPayload struct {
	Event string `json:"event"`
	Data  struct {
		SubscriptionCode string  `json:"subscription_code"`
		EmailToken       string  `json:"email_token"`
		Status           string  `json:"status"`
		NextPaymentDate  *string `json:"next_payment_date"`
		CreatedAt        string  `json:"createdAt"`
		PaidAt           string  `json:"paid_at"`

		Customer struct {
			Email        string `json:"email"`
			CustomerCode string `json:"customer_code"`
		} `json:"customer"`

		Plan struct {
			PlanCode string `json:"plan_code"`
			Name     string `json:"name"`
		} `json:"plan"`

		Subscription struct {
			SubscriptionCode string `json:"subscription_code"`
			EmailToken       string `json:"email_token"`
		} `json:"subscription"`
	} `json:"data"`
}

// timestampLayouts lists the wire formats the provider uses for timestamps,
// tried in order.
var timestampLayouts = []string{
	"2006-01-02T15:04:05.000Z",
	time.RFC3339,
	"2006-01-02 15:04:05",
}

// ParseWebhookEvent decodes a raw webhook body into the engine's typed
// event. A body that is not valid JSON or carries no event type yields
// ErrCodeWebhookInvalidPayload.
func ParseWebhookEvent(raw []byte) (*types.WebhookEvent, error) {
	var payload webhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeWebhookInvalidPayload,
			"webhook payload is not valid JSON",
			err,
		)
	}
	if payload.Event == "" {
		return nil, types.NewAppError(
			types.ErrCodeWebhookInvalidPayload,
			"webhook payload has no event type",
			nil,
		)
	}

	event := &types.WebhookEvent{
		Kind:             payload.Event,
		SubscriptionCode: payload.Data.SubscriptionCode,
		CustomerEmail:    payload.Data.Customer.Email,
		CustomerCode:     payload.Data.Customer.CustomerCode,
		EmailToken:       payload.Data.EmailToken,
		PlanCode:         payload.Data.Plan.PlanCode,
		Status:           payload.Data.Status,
		CreatedAt:        parseTimestamp(payload.Data.CreatedAt),
	}

	// Invoice events nest the subscription linkage one level down.
	if event.SubscriptionCode == "" {
		event.SubscriptionCode = payload.Data.Subscription.SubscriptionCode
	}
	if event.EmailToken == "" {
		event.EmailToken = payload.Data.Subscription.EmailToken
	}

	if payload.Data.NextPaymentDate != nil && *payload.Data.NextPaymentDate != "" {
		if ts := parseTimestamp(*payload.Data.NextPaymentDate); !ts.IsZero() {
			event.NextPaymentAt = &ts
		}
	}

	// Events without a usable created-at still need an ordering timestamp;
	// arrival time is the best remaining approximation.
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	return event, nil
}

// parseTimestamp tries each known wire format, returning the zero time when
// none match.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}
