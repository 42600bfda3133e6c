package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/IsaiahDupree/everreach/internal/middleware"
)

func syncPost(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	h := NewSyncHandler(nil, validator.New())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", strings.NewReader(body))
	ctx := context.WithValue(req.Context(), middleware.UserContextKey, uuid.New())
	rec := httptest.NewRecorder()
	h.Report(rec, req.WithContext(ctx))
	return rec
}

func Test_SyncHandler_RejectsPayloadWithoutPlatformAndHint(t *testing.T) {
	rec := syncPost(t, `{"tier":"pro"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func Test_SyncHandler_RejectsUnknownPlatform(t *testing.T) {
	rec := syncPost(t, `{"platform":"windows","reported_tier_hint":"pro"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func Test_SyncHandler_RequiresAuthenticatedUser(t *testing.T) {
	h := NewSyncHandler(nil, validator.New())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.Report(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
