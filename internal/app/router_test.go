package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/course-enrollment-api/internal/models"
	"github.com/noah-isme/course-enrollment-api/internal/service"
)

func bearer(t *testing.T, secret string, role models.ActorRole, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, models.JWTClaims{
		UserID:           userID,
		Role:             role,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return "Bearer " + signed
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := memoryConfig(t)
	cfg.APIPrefix = "/api/v1"
	cfg.JWT.Secret = "router-secret"
	storage, err := OpenStorage(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	svcs := NewServices(cfg, storage, nil, nil, service.NewMetricsService(), zap.NewNop())
	return NewRouter(cfg, svcs, nil, zap.NewNop())
}

func serve(r *gin.Engine, method, path, auth, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRouterEnrollmentLifecycle(t *testing.T) {
	r := newTestRouter(t)
	admin := bearer(t, "router-secret", models.ActorAdmin, "admin-1")
	student := bearer(t, "router-secret", models.ActorStudent, "stu-1")

	w := serve(r, http.MethodPost, "/api/v1/enrollments", student, `{"student_id":"stu-1","offering_id":"off-1"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"status":"CONFIRMED"`)

	w = serve(r, http.MethodPost, "/api/v1/enrollments", student, `{"student_id":"stu-2","offering_id":"off-1"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = serve(r, http.MethodPost, "/api/v1/enrollments", admin, `{"student_id":"stu-2","offering_id":"off-1"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"WAITLISTED"`)

	w = serve(r, http.MethodGet, "/api/v1/enrollments?offeringId=off-1", admin, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total_count":2`)

	w = serve(r, http.MethodGet, "/api/v1/offerings/off-1/calendar?upTo=2025-01-20", student, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "2025-01-13")
}

func TestRouterGuards(t *testing.T) {
	r := newTestRouter(t)

	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/api/v1/enrollments", "", "").Code)

	teacher := bearer(t, "router-secret", models.ActorTeacher, "t-1")
	assert.Equal(t, http.StatusForbidden, serve(r, http.MethodPost, "/api/v1/offerings/off-1/normalize", teacher, "").Code)

	forged := bearer(t, "other-secret", models.ActorAdmin, "admin-1")
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/api/v1/enrollments", forged, "").Code)

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/health", "", "").Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/ready", "", "").Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/metrics", "", "").Code)
}
