package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"zenvoice/internal/types"
)

// Client makes direct HTTP calls to the payment provider's REST API through
// a Transport. Routing every request through the resilient transport keeps
// the bot-block retry policy, circuit breaking, and error mapping in one
// place and makes testing with httptest straightforward.
type Client struct {
	transport Transport
	secretKey string
	baseURL   string
	logger    *slog.Logger
}

// ClientConfig holds the configuration for creating a gateway Client.
type ClientConfig struct {
	SecretKey string
	BaseURL   string
	Logger    *slog.Logger
}

// NewClient creates a gateway Client. The transport is injected so that mock
// mode can substitute a deterministic test-double at wiring time.
func NewClient(transport Transport, cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		transport: transport,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		logger:    logger,
	}
}

// InitializeResponse is the provider's hosted-payment initialization result.
type InitializeResponse struct {
	AuthorizationURL string
	AccessCode       string
	Reference        string
}

// VerifyResponse is the provider's transaction verification result.
type VerifyResponse struct {
	Status   string
	PlanCode string
	Amount   int64
}

// InitializeTransaction starts a hosted-payment transaction for the given
// billing email and plan code. The provider responds with a checkout URL the
// tenant is redirected to; payment is confirmed later via verify or webhook.
func (c *Client) InitializeTransaction(ctx context.Context, email string, amountMinor int64, planCode, callbackURL string) (*InitializeResponse, error) {
	body := map[string]any{
		"email":  email,
		"amount": amountMinor,
		"plan":   planCode,
	}
	if callbackURL != "" {
		body["callback_url"] = callbackURL
	}

	var data struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	}
	if err := c.call(ctx, http.MethodPost, "/transaction/initialize", body, &data); err != nil {
		return nil, err
	}

	return &InitializeResponse{
		AuthorizationURL: data.AuthorizationURL,
		AccessCode:       data.AccessCode,
		Reference:        data.Reference,
	}, nil
}

// VerifyTransaction fetches the status of a transaction reference.
func (c *Client) VerifyTransaction(ctx context.Context, reference string) (*VerifyResponse, error) {
	var data struct {
		Status string `json:"status"`
		Amount int64  `json:"amount"`
		Plan   string `json:"plan"`
		PlanObject struct {
			PlanCode string `json:"plan_code"`
		} `json:"plan_object"`
	}
	path := "/transaction/verify/" + reference
	if err := c.call(ctx, http.MethodGet, path, nil, &data); err != nil {
		return nil, err
	}

	planCode := data.PlanObject.PlanCode
	if planCode == "" {
		planCode = data.Plan
	}

	return &VerifyResponse{
		Status:   data.Status,
		PlanCode: planCode,
		Amount:   data.Amount,
	}, nil
}

// DisableSubscription asks the provider to stop billing the subscription.
// Requires both the subscription code and the email token issued when the
// subscription was created.
func (c *Client) DisableSubscription(ctx context.Context, code, token string) error {
	body := map[string]any{"code": code, "token": token}
	return c.call(ctx, http.MethodPost, "/subscription/disable", body, nil)
}

// EnableSubscription asks the provider to resume billing the subscription.
func (c *Client) EnableSubscription(ctx context.Context, code, token string) error {
	body := map[string]any{"code": code, "token": token}
	return c.call(ctx, http.MethodPost, "/subscription/enable", body, nil)
}

// providerEnvelope is the provider's standard response wrapper.
type providerEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// call performs one authenticated API call and decodes the enveloped
// response into out (when non-nil).
func (c *Client) call(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode gateway request", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build gateway request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.transport.Do(req)
	if err != nil {
		// Transport already maps its failures to AppErrors.
		return err
	}
	defer resp.Body.Close()

	c.logger.DebugContext(ctx, "gateway call completed",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.NewAppError(types.ErrCodeGatewayUnavailable, "failed to read gateway response", err)
	}

	var envelope providerEnvelope
	if jsonErr := json.Unmarshal(raw, &envelope); jsonErr != nil {
		return types.NewAppError(
			types.ErrCodeGatewayUnavailable,
			fmt.Sprintf("%s %s: gateway returned status %d with undecodable body", method, path, resp.StatusCode),
			jsonErr,
		)
	}

	if resp.StatusCode >= 400 || !envelope.Status {
		return c.mapRejection(method, path, resp.StatusCode, &envelope)
	}

	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return types.NewAppError(
				types.ErrCodeGatewayUnavailable,
				fmt.Sprintf("%s %s: failed to decode gateway response data", method, path),
				err,
			)
		}
	}

	return nil
}

// mapRejection translates a definitive provider rejection into an AppError.
func (c *Client) mapRejection(method, path string, statusCode int, envelope *providerEnvelope) error {
	message := envelope.Message
	if message == "" {
		message = "request rejected"
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return types.NewAppError(
			types.ErrCodeUpstreamRateLimited,
			fmt.Sprintf("%s %s: gateway rate limit exceeded", method, path),
			nil,
		)
	case statusCode >= 500:
		return types.NewAppError(
			types.ErrCodeGatewayUnavailable,
			fmt.Sprintf("%s %s: gateway server error: %s", method, path, message),
			nil,
		)
	default:
		return types.NewAppErrorWithDetails(
			types.ErrCodeGatewayRejected,
			fmt.Sprintf("%s %s: %s", method, path, message),
			nil,
			map[string]any{"gateway_status": statusCode},
		)
	}
}
