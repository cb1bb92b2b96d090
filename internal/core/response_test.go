package core

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recoverly/internal/types"
)

func requestWithID(id string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	return r.WithContext(types.WithRequestID(r.Context(), id))
}

func TestJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, requestWithID("r1"), http.StatusCreated, map[string]int{"n": 1})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"n":1}`, rec.Body.String())
}

func TestJSON_MarshalFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, requestWithID("r1"), http.StatusOK, map[string]any{"ch": make(chan int)})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	e := decodeError(t, rec)
	assert.Equal(t, string(types.ErrCodeInternalUnexpected), e.Code)
	assert.Equal(t, "r1", e.RequestID)
}

func TestError_MapsCodes(t *testing.T) {
	tests := []struct {
		code   types.ErrorCode
		status int
	}{
		{types.ErrCodeWebhookBadSignature, http.StatusBadRequest},
		{types.ErrCodeWebhookStaleTimestamp, http.StatusBadRequest},
		{types.ErrCodeTenantNotConfigured, http.StatusBadRequest},
		{types.ErrCodeValidationInvalidBody, http.StatusBadRequest},
		{types.ErrCodeAuthTokenInvalid, http.StatusUnauthorized},
		{types.ErrCodeNotFoundTenant, http.StatusNotFound},
		{types.ErrCodeConflictConcurrent, http.StatusConflict},
		{types.ErrCodeRateLimited, http.StatusTooManyRequests},
		{types.ErrCodeUpstreamStripe, http.StatusBadGateway},
		{types.ErrCodeInternalDB, http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(string(tc.code), func(t *testing.T) {
			rec := httptest.NewRecorder()
			Error(rec, requestWithID("req-9"), types.NewAppError(tc.code, "msg", errors.New("secret cause")))
			assert.Equal(t, tc.status, rec.Code)
			e := decodeError(t, rec)
			assert.Equal(t, string(tc.code), e.Code)
			assert.Equal(t, "msg", e.Message)
			assert.Equal(t, "req-9", e.RequestID)
			assert.NotContains(t, rec.Body.String(), "secret cause")
		})
	}
}

func TestError_WrappedAppErrorWithDetails(t *testing.T) {
	appErr := types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidBody, "bad", nil, map[string]any{"field": "email_subject"})
	rec := httptest.NewRecorder()
	Error(rec, requestWithID(""), fmt.Errorf("handler: %w", appErr))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "email_subject", decodeError(t, rec).Details["field"])
}

func TestError_GenericError(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, requestWithID("r2"), errors.New("pq: password authentication failed"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	e := decodeError(t, rec)
	assert.Equal(t, string(types.ErrCodeInternalUnexpected), e.Code)
	assert.NotContains(t, rec.Body.String(), "password")
}

type decodeTarget struct {
	Subject string `json:"email_subject"`
	Count   int    `json:"count"`
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"valid", `{"email_subject":"hi","count":2}`, ""},
		{"unknown field", `{"nope":1}`, "unknown field"},
		{"syntax", `{"email_subject":`, "JSON"},
		{"empty", ``, "must not be empty"},
		{"type mismatch", `{"count":"two"}`, "invalid value"},
		{"trailing value", `{"count":1}{"count":2}`, "single JSON object"},
		{"too large", `{"email_subject":"` + strings.Repeat("a", maxRequestBodySize) + `"}`, "1MB"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(tc.body))
			var dst decodeTarget
			err := DecodeJSON(httptest.NewRecorder(), r, &dst)
			if tc.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, decodeTarget{Subject: "hi", Count: 2}, dst)
				return
			}
			require.Error(t, err)
			assert.Equal(t, types.ErrCodeValidationInvalidBody, types.CodeOf(err))
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
