package core

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zenvoice/internal/types"
)

func TestError_AppErrorMapping(t *testing.T) {
	tests := []struct {
		code       types.ErrorCode
		wantStatus int
	}{
		{types.ErrCodeValidationInvalidPlan, http.StatusBadRequest},
		{types.ErrCodeAuthSignatureMismatch, http.StatusUnauthorized},
		{types.ErrCodeLimitInvoices, http.StatusForbidden},
		{types.ErrCodeNotFoundSubscription, http.StatusNotFound},
		{types.ErrCodeConflictConcurrent, http.StatusConflict},
		{types.ErrCodeGatewayRejected, http.StatusUnprocessableEntity},
		{types.ErrCodeGatewayUnavailable, http.StatusBadGateway},
		{types.ErrCodeInternalDB, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			rec := httptest.NewRecorder()

			Error(rec, req, types.NewAppError(tt.code, "message for client", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)

			var resp APIErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, string(tt.code), resp.Error.Code)
			assert.Equal(t, "message for client", resp.Error.Message)
		})
	}
}

func TestError_WrappedAppErrorIsUnwrapped(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	inner := types.NewAppError(types.ErrCodeNotFoundSubscription, "gone", nil)
	Error(rec, req, fmt.Errorf("loading subscription: %w", inner))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestError_GenericErrorHidesDetails(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	Error(rec, req, fmt.Errorf("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestDecodeJSON_StrictContract(t *testing.T) {
	type payload struct {
		Plan string `json:"plan"`
	}

	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"malformed", `{"plan":`},
		{"unknown field", `{"plan":"essentials","extra":true}`},
		{"multiple values", `{"plan":"a"}{"plan":"b"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()

			var dst payload
			err := DecodeJSON(rec, req, &dst)
			require.Error(t, err)
			assert.True(t, types.HasErrorCode(err, types.ErrCodeValidationInvalidJSON))
		})
	}

	t.Run("valid body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"plan":"essentials"}`))
		var dst payload
		require.NoError(t, DecodeJSON(httptest.NewRecorder(), req, &dst))
		assert.Equal(t, "essentials", dst.Plan)
	})
}
