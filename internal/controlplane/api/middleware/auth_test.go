package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ggnet/ggboot/internal/controlplane/api/auth"
	"github.com/ggnet/ggboot/internal/logger"
	"github.com/ggnet/ggboot/pkg/controlplane/models"
)

func newTestService(t *testing.T) *auth.JWTService {
	t.Helper()
	service, err := auth.NewJWTService(auth.JWTConfig{
		Secret: "test-secret-key-must-be-32-chars!",
	})
	if err != nil {
		t.Fatalf("failed to create jwt service: %v", err)
	}
	return service
}

func tokenFor(t *testing.T, service *auth.JWTService, role models.UserRole) string {
	t.Helper()
	pair, err := service.GenerateTokenPair(&models.User{
		ID:       1,
		Username: "tester",
		Role:     string(role),
		Active:   true,
	})
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	return pair.AccessToken
}

// okHandler records whether the request made it through the middleware chain.
func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

func TestJWTAuth(t *testing.T) {
	service := newTestService(t)

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"malformed header", "Token abc", http.StatusUnauthorized},
		{"garbage token", "Bearer not.a.token", http.StatusUnauthorized},
		{"valid token", "Bearer " + tokenFor(t, service, models.RoleViewer), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var called bool
			handler := JWTAuth(service)(okHandler(&called))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/machines", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if called != (tt.wantStatus == http.StatusOK) {
				t.Errorf("handler called = %v", called)
			}
		})
	}
}

func TestJWTAuthSetsActorOnLogContext(t *testing.T) {
	service := newTestService(t)

	var actor string
	handler := JWTAuth(service)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if lc := logger.FromContext(r.Context()); lc != nil {
			actor = lc.Actor
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/machines", nil)
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, service, models.RoleOperator))
	lc := logger.NewLogContext("192.168.1.10").WithTrace("req-123")
	req = req.WithContext(logger.WithContext(req.Context(), lc))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if actor != "tester" {
		t.Errorf("actor = %q, want %q", actor, "tester")
	}
}

func TestJWTAuth_RejectsRefreshToken(t *testing.T) {
	service := newTestService(t)
	pair, err := service.GenerateTokenPair(&models.User{ID: 1, Username: "tester", Role: string(models.RoleAdmin)})
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	var called bool
	handler := JWTAuth(service)(okHandler(&called))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+pair.RefreshToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if called {
		t.Error("handler should not run with a refresh token")
	}
}

func TestRequireAdmin(t *testing.T) {
	service := newTestService(t)

	tests := []struct {
		role       models.UserRole
		wantStatus int
	}{
		{models.RoleAdmin, http.StatusOK},
		{models.RoleOperator, http.StatusForbidden},
		{models.RoleViewer, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			var called bool
			handler := JWTAuth(service)(RequireAdmin()(okHandler(&called)))

			req := httptest.NewRequest(http.MethodDelete, "/api/v1/users/x", nil)
			req.Header.Set("Authorization", "Bearer "+tokenFor(t, service, tt.role))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestRequireAdmin_WithoutClaims(t *testing.T) {
	var called bool
	handler := RequireAdmin()(okHandler(&called))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestRequireOperator(t *testing.T) {
	service := newTestService(t)

	tests := []struct {
		role       models.UserRole
		wantStatus int
	}{
		{models.RoleAdmin, http.StatusOK},
		{models.RoleOperator, http.StatusOK},
		{models.RoleViewer, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			var called bool
			handler := JWTAuth(service)(RequireOperator()(okHandler(&called)))

			req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", nil)
			req.Header.Set("Authorization", "Bearer "+tokenFor(t, service, tt.role))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}
