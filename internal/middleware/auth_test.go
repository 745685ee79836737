package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/platoon-telemetry/internal/auth"
	"github.com/ukydev/platoon-telemetry/internal/models"
)

func newAuthService(t *testing.T) *auth.Service {
	t.Helper()
	svc, err := auth.NewService("middleware-secret", time.Hour)
	require.NoError(t, err)
	return svc
}

func tokenFor(t *testing.T, svc *auth.Service, role models.Role) string {
	t.Helper()
	token, _, err := svc.GenerateToken(&models.Operator{Username: "op-" + string(role), Role: role})
	require.NoError(t, err)
	return token
}

func serve(h http.Handler, req *http.Request) (*httptest.ResponseRecorder, bool) {
	called := false
	w := httptest.NewRecorder()
	wrapped := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		h.ServeHTTP(w, r)
	})
	wrapped.ServeHTTP(w, req)
	return w, called
}

func TestAuthMiddleware_Authenticate(t *testing.T) {
	authService := newAuthService(t)
	middleware := NewAuthMiddleware(authService)

	t.Run("valid token", func(t *testing.T) {
		token := tokenFor(t, authService, models.RoleViewer)
		req := httptest.NewRequest("GET", "/api/scene", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()

		handlerCalled := false
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handlerCalled = true
			claims, ok := GetOperatorFromContext(r.Context())
			assert.True(t, ok)
			assert.Equal(t, "op-viewer", claims.Username)
			assert.Equal(t, models.RoleViewer, claims.Role)
		})

		middleware.Authenticate(handler).ServeHTTP(w, req)
		assert.True(t, handlerCalled)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("missing authorization header", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/scene", nil)
		w := httptest.NewRecorder()

		handlerCalled := false
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handlerCalled = true
		})

		middleware.Authenticate(handler).ServeHTTP(w, req)
		assert.False(t, handlerCalled)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("invalid token", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/scene", nil)
		req.Header.Set("Authorization", "Bearer invalid-token")
		w := httptest.NewRecorder()

		handlerCalled := false
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handlerCalled = true
		})

		middleware.Authenticate(handler).ServeHTTP(w, req)
		assert.False(t, handlerCalled)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("skip auth path", func(t *testing.T) {
		for _, path := range []string{"/api/auth/login", "/health"} {
			req := httptest.NewRequest("GET", path, nil)
			w := httptest.NewRecorder()

			handlerCalled := false
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handlerCalled = true
			})

			middleware.Authenticate(handler).ServeHTTP(w, req)
			assert.True(t, handlerCalled, path)
			assert.Equal(t, http.StatusOK, w.Code, path)
		}
	})
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	middleware := NewAuthMiddleware(nil)

	req := httptest.NewRequest("POST", "/api/platoon/reset", nil)
	w := httptest.NewRecorder()

	handlerCalled := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
	})

	middleware.Authenticate(middleware.RequirePermission("reset_smoothing")(handler)).ServeHTTP(w, req)
	assert.True(t, handlerCalled)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddleware_RequirePermission(t *testing.T) {
	authService := newAuthService(t)
	middleware := NewAuthMiddleware(authService)

	tests := []struct {
		name       string
		role       models.Role
		action     string
		wantCalled bool
		wantStatus int
	}{
		{"admin resets smoothing", models.RoleAdmin, "reset_smoothing", true, http.StatusOK},
		{"viewer cannot reset smoothing", models.RoleViewer, "reset_smoothing", false, http.StatusForbidden},
		{"viewer reads scene", models.RoleViewer, "view_scene", true, http.StatusOK},
		{"viewer reads vehicles", models.RoleViewer, "view_vehicles", true, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/anything", nil)
			req.Header.Set("Authorization", "Bearer "+tokenFor(t, authService, tt.role))
			w := httptest.NewRecorder()

			handlerCalled := false
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handlerCalled = true
			})

			middleware.Authenticate(middleware.RequirePermission(tt.action)(handler)).ServeHTTP(w, req)
			assert.Equal(t, tt.wantCalled, handlerCalled)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}

	t.Run("no operator in context", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/scene", nil)
		w := httptest.NewRecorder()
		middleware.RequirePermission("view_scene")(http.NotFoundHandler()).ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	middleware := NewRateLimitMiddleware()
	now := time.Unix(1_700_000_000, 0)
	middleware.now = func() time.Time { return now }
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	t.Run("rate limit not exceeded", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/scene", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		w, called := serve(middleware.RateLimit(5, time.Minute)(ok), req)
		assert.True(t, called)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("rate limit exceeded then window slides", func(t *testing.T) {
		limited := middleware.RateLimit(1, time.Minute)(ok)
		req := httptest.NewRequest("GET", "/api/scene", nil)
		req.RemoteAddr = "192.168.1.2:12345"

		w, _ := serve(limited, req)
		assert.Equal(t, http.StatusOK, w.Code)

		w, _ = serve(limited, req)
		assert.Equal(t, http.StatusTooManyRequests, w.Code)

		now = now.Add(61 * time.Second)
		w, _ = serve(limited, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("disabled", func(t *testing.T) {
		limited := middleware.RateLimit(0, time.Minute)(ok)
		req := httptest.NewRequest("GET", "/api/scene", nil)
		for i := 0; i < 10; i++ {
			w, _ := serve(limited, req)
			assert.Equal(t, http.StatusOK, w.Code)
		}
	})
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.5:4999"
	assert.Equal(t, "10.0.0.5", getClientIP(req))

	req.Header.Set("X-Real-IP", "10.0.0.6")
	assert.Equal(t, "10.0.0.6", getClientIP(req))

	req.Header.Set("X-Forwarded-For", "10.0.0.7, 10.0.0.8")
	assert.Equal(t, "10.0.0.7", getClientIP(req))
}

func TestGetOperatorFromContext(t *testing.T) {
	claims := &models.Claims{
		Username: "testuser",
		Role:     models.RoleAdmin,
	}

	ctx := context.WithValue(context.Background(), OperatorContextKey, claims)

	retrieved, ok := GetOperatorFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, claims.Username, retrieved.Username)
	assert.Equal(t, claims.Role, retrieved.Role)

	_, ok = GetOperatorFromContext(context.Background())
	assert.False(t, ok)
}

func TestLogging(t *testing.T) {
	handler := Logging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
}
