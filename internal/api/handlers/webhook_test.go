package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"zenvoice/internal/gateway"
	"zenvoice/internal/types"
)

const webhookSecret = "sk_test_webhook_secret"

type mockApplier struct {
	mock.Mock
}

func (m *mockApplier) ApplyEvent(ctx context.Context, event *types.WebhookEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func newWebhookRouter(applier EventApplier) *chi.Mux {
	h := NewWebhookHandler(applier, webhookSecret, nil)
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func postWebhook(router http.Handler, body, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/subscriptions/webhook", strings.NewReader(body))
	if signature != "" {
		req.Header.Set(gateway.SignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestWebhookHandler_ValidDeliveryAcknowledged(t *testing.T) {
	applier := new(mockApplier)
	applier.On("ApplyEvent", mock.Anything, mock.AnythingOfType("*types.WebhookEvent")).
		Run(func(args mock.Arguments) {
			event := args.Get(1).(*types.WebhookEvent)
			assert.Equal(t, gateway.EventSubscriptionDisable, event.Kind)
			assert.Equal(t, "SUB_abc", event.SubscriptionCode)
		}).
		Return(nil)

	body := `{"event":"subscription.disable","data":{"subscription_code":"SUB_abc","createdAt":"2026-08-28T10:15:00.000Z"}}`
	rec := postWebhook(newWebhookRouter(applier), body, gateway.SignPayload([]byte(body), webhookSecret))

	assert.Equal(t, http.StatusOK, rec.Code)
	applier.AssertExpectations(t)
}

func TestWebhookHandler_MissingSignatureRejected(t *testing.T) {
	applier := new(mockApplier)
	body := `{"event":"charge.success","data":{}}`

	rec := postWebhook(newWebhookRouter(applier), body, "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	applier.AssertNotCalled(t, "ApplyEvent")
}

func TestWebhookHandler_BadSignatureRejected(t *testing.T) {
	applier := new(mockApplier)
	body := `{"event":"charge.success","data":{}}`

	rec := postWebhook(newWebhookRouter(applier), body, gateway.SignPayload([]byte(body), "sk_wrong_secret"))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	applier.AssertNotCalled(t, "ApplyEvent")
}

func TestWebhookHandler_MalformedPayloadRejected(t *testing.T) {
	applier := new(mockApplier)
	body := "this is not json"

	rec := postWebhook(newWebhookRouter(applier), body, gateway.SignPayload([]byte(body), webhookSecret))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	applier.AssertNotCalled(t, "ApplyEvent")
}

func TestWebhookHandler_ProcessingFailureStillAcknowledged(t *testing.T) {
	applier := new(mockApplier)
	applier.On("ApplyEvent", mock.Anything, mock.Anything).
		Return(errors.New("database unavailable"))

	body := `{"event":"invoice.payment_failed","data":{"subscription_code":"SUB_abc"}}`
	rec := postWebhook(newWebhookRouter(applier), body, gateway.SignPayload([]byte(body), webhookSecret))

	// The delivery must still be acknowledged; redelivery cannot do better.
	require.Equal(t, http.StatusOK, rec.Code)
}
