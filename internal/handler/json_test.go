package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IsaiahDupree/everreach/internal/domain"
)

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body struct {
		Error map[string]string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func Test_ErrorResponse_MapsDomainCodes(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		code    string
		message string
	}{
		{
			name:    "validation error",
			err:     domain.Errorf(domain.EINVALID, "sync.report", "tier is required"),
			status:  http.StatusBadRequest,
			code:    domain.EINVALID,
			message: "tier is required",
		},
		{
			name:    "not found",
			err:     domain.NotFound("entitlement.get", "entitlement", "9b9e7f2c"),
			status:  http.StatusNotFound,
			code:    domain.ENOTFOUND,
			message: "entitlement not found: 9b9e7f2c",
		},
		{
			name:    "upstream unavailable",
			err:     domain.Unavailable(assert.AnError, "verify.card", "Verification temporarily unavailable"),
			status:  http.StatusServiceUnavailable,
			code:    domain.EUNAVAILABLE,
			message: "Verification temporarily unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/entitlement", nil)
			rec := httptest.NewRecorder()
			ErrorResponse(rec, req, tt.err)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			body := errorBody(t, rec)
			assert.Equal(t, tt.code, body["code"])
			assert.Equal(t, tt.message, body["message"])
		})
	}
}

func Test_ErrorResponse_HidesInternalDetails(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/entitlement", nil)
	rec := httptest.NewRecorder()
	ErrorResponse(rec, req, domain.Errorf(domain.EINTERNAL, "postgres.upsert", "connection refused to 10.0.0.4"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := errorBody(t, rec)
	assert.Equal(t, domain.EINTERNAL, body["code"])
	assert.NotContains(t, body["message"], "10.0.0.4")
}

func Test_ErrorResponse_NonDomainErrorIsInternal(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/entitlement", nil)
	rec := httptest.NewRecorder()
	ErrorResponse(rec, req, assert.AnError)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, domain.EINTERNAL, errorBody(t, rec)["code"])
}

func Test_DecodeJSON_RejectsUnknownFields(t *testing.T) {
	var dst struct {
		Tier string `json:"tier"`
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", strings.NewReader(`{"tier":"pro","surprise":true}`))
	err := DecodeJSON(req, &dst)
	require.Error(t, err)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

func Test_DecodeJSON_RejectsMalformedBody(t *testing.T) {
	var dst struct {
		Tier string `json:"tier"`
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", strings.NewReader(`{"tier":`))
	err := DecodeJSON(req, &dst)
	require.Error(t, err)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

func Test_DecodeJSON_PopulatesDestination(t *testing.T) {
	var dst struct {
		Tier      string `json:"tier"`
		ExpiresAt string `json:"expires_at"`
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", strings.NewReader(`{"tier":"pro","expires_at":"2026-04-01T00:00:00Z"}`))
	require.NoError(t, DecodeJSON(req, &dst))
	assert.Equal(t, "pro", dst.Tier)
	assert.Equal(t, "2026-04-01T00:00:00Z", dst.ExpiresAt)
}
