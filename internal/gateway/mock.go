package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MockTransport is a deterministic in-process stand-in for the provider API,
// substituted for HTTPTransport at wiring time when mock mode is enabled.
// It lets the full initialize -> verify -> activate flow run without network
// access: every initialize succeeds with a unique mock reference, and
// verifying that reference reports success with the plan code the
// transaction was initialized with.
//
// Keeping the mock behind the Transport interface keeps test logic out of
// the production call path entirely.
type MockTransport struct {
	mu sync.Mutex
	// planByReference remembers which plan each mock transaction was
	// initialized with so verify can echo it back.
	planByReference map[string]string
}

// NewMockTransport creates an empty MockTransport.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		planByReference: make(map[string]string),
	}
}

// Do synthesizes a success response for the known provider endpoints.
// Unknown paths get a 404 envelope so wiring mistakes stay visible.
func (m *MockTransport) Do(req *http.Request) (*http.Response, error) {
	path := req.URL.Path

	switch {
	case req.Method == http.MethodPost && strings.HasSuffix(path, "/transaction/initialize"):
		return m.initialize(req)
	case req.Method == http.MethodGet && strings.Contains(path, "/transaction/verify/"):
		return m.verify(path)
	case req.Method == http.MethodPost && strings.HasSuffix(path, "/subscription/disable"),
		req.Method == http.MethodPost && strings.HasSuffix(path, "/subscription/enable"):
		return jsonResponse(http.StatusOK, map[string]any{
			"status":  true,
			"message": "ok",
		})
	default:
		return jsonResponse(http.StatusNotFound, map[string]any{
			"status":  false,
			"message": fmt.Sprintf("mock gateway: unknown endpoint %s %s", req.Method, path),
		})
	}
}

func (m *MockTransport) initialize(req *http.Request) (*http.Response, error) {
	var body struct {
		Plan string `json:"plan"`
	}
	if req.Body != nil {
		raw, _ := io.ReadAll(req.Body)
		req.Body.Close()
		_ = json.Unmarshal(raw, &body)
	}

	reference := "mock_" + uuid.New().String()

	m.mu.Lock()
	m.planByReference[reference] = body.Plan
	m.mu.Unlock()

	return jsonResponse(http.StatusOK, map[string]any{
		"status":  true,
		"message": "Authorization URL created",
		"data": map[string]any{
			"authorization_url": "https://checkout.mock.gateway/" + reference,
			"access_code":       "mock_access_" + reference,
			"reference":         reference,
		},
	})
}

func (m *MockTransport) verify(path string) (*http.Response, error) {
	reference := path[strings.LastIndex(path, "/")+1:]

	m.mu.Lock()
	planCode, known := m.planByReference[reference]
	m.mu.Unlock()

	if !known {
		return jsonResponse(http.StatusNotFound, map[string]any{
			"status":  false,
			"message": "Transaction reference not found",
		})
	}

	return jsonResponse(http.StatusOK, map[string]any{
		"status":  true,
		"message": "Verification successful",
		"data": map[string]any{
			"status": "success",
			"plan":   planCode,
			"plan_object": map[string]any{
				"plan_code": planCode,
			},
		},
	})
}

// jsonResponse builds an *http.Response with a JSON body.
func jsonResponse(status int, body any) (*http.Response, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewReader(encoded)),
	}, nil
}
