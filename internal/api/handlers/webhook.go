// This file implements the payment-gateway webhook handler.
//
// The handler is NOT behind tenant auth middleware; it is called directly by
// the gateway. Security is provided by verifying the signature header, a
// hex-encoded HMAC-SHA512 of the raw body keyed by the account secret.
package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"zenvoice/internal/core"
	"zenvoice/internal/gateway"
	"zenvoice/internal/types"
)

// maxWebhookBodySize caps gateway webhook payloads at 64 KB. Real payloads
// are a few kilobytes; the limit protects against abuse.
const maxWebhookBodySize = 64 * 1024

// EventApplier folds a parsed gateway event into local subscription state.
// This is the webhook-facing subset of the billing engine.
type EventApplier interface {
	ApplyEvent(ctx context.Context, event *types.WebhookEvent) error
}

// WebhookHandler receives asynchronous notifications from the payment
// gateway and routes them to the billing engine.
//
// Acknowledgement policy: once the signature checks out and the body parses,
// the gateway always gets a 200. Processing failures are logged and resolved
// by later events or redelivery; failing the delivery would only make the
// gateway hammer an endpoint that cannot do better on the retry.
type WebhookHandler struct {
	applier   EventApplier
	secretKey string
	logger    *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(applier EventApplier, secretKey string, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{
		applier:   applier,
		secretKey: secretKey,
		logger:    logger,
	}
}

// RegisterRoutes mounts the gateway webhook endpoint. Kept separate from the
// tenant routes because it must not sit behind tenant auth.
func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/subscriptions/webhook", h.Handle)
}

// Handle processes one inbound gateway delivery:
//  1. Read the raw body (size-limited).
//  2. Verify the signature header against the raw bytes.
//  3. Parse the event envelope.
//  4. Apply it through the billing engine.
//  5. Acknowledge with 200.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to read webhook body", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeWebhookInvalidPayload,
			"unable to read webhook payload",
			err,
		))
		return
	}

	if err := gateway.VerifySignature(payload, r.Header.Get(gateway.SignatureHeader), h.secretKey); err != nil {
		h.logger.WarnContext(ctx, "webhook signature rejected",
			"remote_addr", r.RemoteAddr,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	event, err := gateway.ParseWebhookEvent(payload)
	if err != nil {
		h.logger.WarnContext(ctx, "webhook payload rejected", "error", err)
		core.Error(w, r, err)
		return
	}

	// From here on the delivery is acknowledged regardless of outcome.
	if err := h.applier.ApplyEvent(ctx, event); err != nil {
		h.logger.ErrorContext(ctx, "failed to apply gateway event",
			"event", event.Kind,
			"subscription_code", event.SubscriptionCode,
			"error", err,
		)
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]string{"received": "true"}})
}
