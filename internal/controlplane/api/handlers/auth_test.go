//go:build integration

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ggnet/ggboot/internal/controlplane/api/auth"
	"github.com/ggnet/ggboot/pkg/controlplane/models"
	"github.com/ggnet/ggboot/pkg/controlplane/store"
)

func setupAuthTest(t *testing.T) (*store.GORMStore, *auth.JWTService, *AuthHandler) {
	t.Helper()

	cpStore, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: ":memory:"},
	})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	jwtService, err := auth.NewJWTService(auth.JWTConfig{
		Secret: "test-secret-key-that-is-at-least-32-characters-long",
	})
	if err != nil {
		t.Fatalf("Failed to create JWT service: %v", err)
	}

	return cpStore, jwtService, NewAuthHandler(cpStore, jwtService)
}

func createAuthTestUser(t *testing.T, cpStore *store.GORMStore, username, password string, role models.UserRole) {
	t.Helper()
	hash, err := models.HashPassword(password)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}
	user := &models.User{
		Username:     username,
		PasswordHash: hash,
		Role:         string(role),
		Active:       true,
	}
	if err := cpStore.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestAuthHandler_Login(t *testing.T) {
	cpStore, _, handler := setupAuthTest(t)
	createAuthTestUser(t, cpStore, "operator1", "correct-password", models.RoleOperator)

	t.Run("valid credentials", func(t *testing.T) {
		rec := postJSON(t, handler.Login, "/api/v1/auth/login", LoginRequest{
			Username: "operator1",
			Password: "correct-password",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
		}

		var resp LoginResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if resp.AccessToken == "" || resp.RefreshToken == "" {
			t.Error("Expected token pair in response")
		}
		if resp.User.Username != "operator1" {
			t.Errorf("user = %q, want operator1", resp.User.Username)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		rec := postJSON(t, handler.Login, "/api/v1/auth/login", LoginRequest{
			Username: "operator1",
			Password: "wrong",
		})
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != ContentTypeProblemJSON {
			t.Errorf("content type = %q, want problem+json", ct)
		}
	})

	t.Run("unknown user", func(t *testing.T) {
		rec := postJSON(t, handler.Login, "/api/v1/auth/login", LoginRequest{
			Username: "nobody",
			Password: "whatever",
		})
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		rec := postJSON(t, handler.Login, "/api/v1/auth/login", LoginRequest{})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("login audit trail", func(t *testing.T) {
		logs, err := cpStore.ListAuditLogs(context.Background(), store.AuditFilter{
			Action: models.AuditUserLogin,
		})
		if err != nil {
			t.Fatalf("Failed to list audit logs: %v", err)
		}
		if len(logs) == 0 {
			t.Error("Expected a login audit entry")
		}
		failures, err := cpStore.ListAuditLogs(context.Background(), store.AuditFilter{
			Action: models.AuditUserLoginFailed,
		})
		if err != nil {
			t.Fatalf("Failed to list audit logs: %v", err)
		}
		if len(failures) == 0 {
			t.Error("Expected failed-login audit entries")
		}
	})
}

func TestAuthHandler_LoginLockout(t *testing.T) {
	cpStore, _, handler := setupAuthTest(t)
	createAuthTestUser(t, cpStore, "bruteforce", "real-password", models.RoleViewer)

	// Hammer until the account locks.
	for i := 0; i < 5; i++ {
		postJSON(t, handler.Login, "/api/v1/auth/login", LoginRequest{
			Username: "bruteforce",
			Password: "guess",
		})
	}

	rec := postJSON(t, handler.Login, "/api/v1/auth/login", LoginRequest{
		Username: "bruteforce",
		Password: "real-password",
	})
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403 for locked account", rec.Code)
	}
}

func TestAuthHandler_Refresh(t *testing.T) {
	cpStore, jwtService, handler := setupAuthTest(t)
	createAuthTestUser(t, cpStore, "refresher", "password123", models.RoleAdmin)

	user, err := cpStore.GetUser(context.Background(), "refresher")
	if err != nil {
		t.Fatalf("Failed to fetch user: %v", err)
	}
	pair, err := jwtService.GenerateTokenPair(user)
	if err != nil {
		t.Fatalf("Failed to generate token pair: %v", err)
	}

	t.Run("valid refresh token", func(t *testing.T) {
		rec := postJSON(t, handler.Refresh, "/api/v1/auth/refresh", RefreshRequest{
			RefreshToken: pair.RefreshToken,
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("access token rejected", func(t *testing.T) {
		rec := postJSON(t, handler.Refresh, "/api/v1/auth/refresh", RefreshRequest{
			RefreshToken: pair.AccessToken,
		})
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("disabled user rejected", func(t *testing.T) {
		user.Active = false
		if err := cpStore.UpdateUser(context.Background(), user); err != nil {
			t.Fatalf("Failed to disable user: %v", err)
		}
		rec := postJSON(t, handler.Refresh, "/api/v1/auth/refresh", RefreshRequest{
			RefreshToken: pair.RefreshToken,
		})
		if rec.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", rec.Code)
		}
	})
}
