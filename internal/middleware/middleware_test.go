package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopfront/shopfront-api/internal/logging"
	"github.com/shopfront/shopfront-api/internal/metrics"
	"github.com/shopfront/shopfront-api/internal/models"
	"github.com/shopfront/shopfront-api/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func decodeMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["message"]
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logging.RequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestCORS(t *testing.T) {
	called := false
	h := CORS("http://shop.test")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/cart", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://shop.test", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.False(t, called)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/cart", nil))
	assert.True(t, called)
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestRecover(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	h := Recover(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Server error", decodeMessage(t, rec))
	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
}

func TestMetrics_LogsRouteTemplate(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := mux.NewRouter()
	r.Use(RequestID, Metrics(metrics.NewNoop(), zap.New(core)))
	r.HandleFunc("/products/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products/42", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/products/{id}", fields["route"])
	assert.EqualValues(t, http.StatusNotFound, fields["status"])
	assert.Equal(t, rec.Header().Get(RequestIDHeader), fields["request_id"])
}

type fakeAuthenticator struct {
	user *models.User
	err  error
}

func (f fakeAuthenticator) Authenticate(_ context.Context, token string) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.user, nil
}

func TestProtect(t *testing.T) {
	ada := &models.User{ID: 1, Role: models.RoleCustomer, IsActive: true}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		require.True(t, ok)
		assert.Equal(t, ada.ID, user.ID)
		w.WriteHeader(http.StatusTeapot)
	})

	cases := []struct {
		name   string
		header string
		auth   fakeAuthenticator
		status int
		msg    string
	}{
		{"no header", "", fakeAuthenticator{user: ada}, http.StatusUnauthorized, "Not authorized, no token"},
		{"wrong scheme", "Basic abc", fakeAuthenticator{user: ada}, http.StatusUnauthorized, "Not authorized, no token"},
		{"rejected", "Bearer abc", fakeAuthenticator{err: &services.AuthError{Message: "Not authorized, token failed", Kind: services.ErrUnauthorized}}, http.StatusUnauthorized, "Not authorized, token failed"},
		{"store down", "Bearer abc", fakeAuthenticator{err: errors.New("connection refused")}, http.StatusInternalServerError, "Server error"},
		{"ok", "Bearer abc", fakeAuthenticator{user: ada}, http.StatusTeapot, ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if c.header != "" {
				req.Header.Set("Authorization", c.header)
			}
			rec := httptest.NewRecorder()
			Protect(c.auth, zap.NewNop())(next).ServeHTTP(rec, req)

			assert.Equal(t, c.status, rec.Code)
			if c.msg != "" {
				assert.Equal(t, c.msg, decodeMessage(t, rec))
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	h := RequireRole(models.RoleSeller, models.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for role, want := range map[string]int{
		models.RoleSeller:   http.StatusOK,
		models.RoleAdmin:    http.StatusOK,
		models.RoleCustomer: http.StatusForbidden,
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(WithUser(req.Context(), &models.User{ID: 1, Role: role}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, role)
		if want == http.StatusForbidden {
			assert.Equal(t, "Not authorized as seller", decodeMessage(t, rec))
		}
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewRateLimiter(1, 2)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"))

	now = now.Add(time.Second)
	assert.True(t, l.Allow("10.0.0.1"))

	now = now.Add(limiterIdleTTL + time.Minute)
	l.Allow("10.0.0.3")
	assert.Len(t, l.visitors, 1)
}

func TestRateLimiterMiddleware(t *testing.T) {
	l := NewRateLimiter(0.001, 1)
	h := l.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req.RemoteAddr = "192.0.2.1:5555"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}
