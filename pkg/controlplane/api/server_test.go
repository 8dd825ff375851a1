//go:build integration

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/ggnet/ggboot/pkg/controlplane/orchestrator"
	"github.com/ggnet/ggboot/pkg/controlplane/store"
)

// testSetup creates a control plane store and APIConfig for testing.
func testSetup(t *testing.T, port int) (Deps, APIConfig) {
	t.Helper()

	dbConfig := store.Config{
		Type: store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{
			Path: ":memory:",
		},
	}
	cpStore, err := store.New(&dbConfig)
	if err != nil {
		t.Fatalf("Failed to create control plane store: %v", err)
	}

	orch := orchestrator.New(orchestrator.Config{ServerIP: "127.0.0.1"}, cpStore, nil, nil, nil)

	cfg := APIConfig{
		Port:         port,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  10 * time.Second,
		JWT: JWTConfig{
			Secret:               "test-secret-key-for-testing-only-32chars",
			AccessTokenDuration:  15 * time.Minute,
			RefreshTokenDuration: 7 * 24 * time.Hour,
		},
	}

	return Deps{Store: cpStore, Orchestrator: orch}, cfg
}

// startServer runs the server in the background and waits for it to come up.
func startServer(t *testing.T, server *Server) (context.CancelFunc, chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start(ctx)
	}()
	time.Sleep(100 * time.Millisecond)
	return cancel, errChan
}

func TestAPIServer_Lifecycle(t *testing.T) {
	deps, cfg := testSetup(t, 18080)

	server, err := NewServer(cfg, deps)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	cancel, errChan := startServer(t, server)

	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/health", cfg.Port))
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected Content-Type 'application/json', got '%s'", ct)
	}

	cancel()

	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("Expected nil on graceful shutdown, got: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Server did not shutdown in time")
	}
}

func TestAPIServer_Port(t *testing.T) {
	deps, cfg := testSetup(t, 9999)

	server, err := NewServer(cfg, deps)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	if server.Port() != 9999 {
		t.Errorf("Expected port 9999, got %d", server.Port())
	}
}

func TestAPIServer_DefaultConfig(t *testing.T) {
	deps, _ := testSetup(t, 0)

	cfg := APIConfig{
		// Port and timeouts not set - should use defaults
		JWT: JWTConfig{
			Secret: "test-secret-key-for-testing-only-32chars",
		},
	}

	server, err := NewServer(cfg, deps)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	if server.Port() != 8080 {
		t.Errorf("Expected default port 8080, got %d", server.Port())
	}
}

func TestAPIServer_InvalidJWTSecret(t *testing.T) {
	deps, _ := testSetup(t, 0)

	cfg := APIConfig{
		JWT: JWTConfig{
			Secret: "short",
		},
	}

	if _, err := NewServer(cfg, deps); err == nil {
		t.Fatal("Expected error for invalid JWT secret, got nil")
	}
}

func TestAPIServer_RootRedirectsToHealth(t *testing.T) {
	deps, cfg := testSetup(t, 18082)

	server, err := NewServer(cfg, deps)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	cancel, _ := startServer(t, server)
	defer cancel()

	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Get(fmt.Sprintf("http://localhost:%d/", cfg.Port))
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusTemporaryRedirect {
		t.Errorf("Expected status %d, got %d", http.StatusTemporaryRedirect, resp.StatusCode)
	}
	if location := resp.Header.Get("Location"); location != "/health" {
		t.Errorf("Expected redirect to '/health', got '%s'", location)
	}
}

func TestAPIServer_ProtectedRoutesRequireAuth(t *testing.T) {
	deps, cfg := testSetup(t, 18083)

	server, err := NewServer(cfg, deps)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	cancel, _ := startServer(t, server)
	defer cancel()

	protected := []string{
		"/api/v1/machines",
		"/api/v1/images",
		"/api/v1/sessions",
		"/api/v1/users",
		"/api/v1/audit",
	}
	for _, path := range protected {
		resp, err := http.Get(fmt.Sprintf("http://localhost:%d%s", cfg.Port, path))
		if err != nil {
			t.Fatalf("Failed to make request to %s: %v", path, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s: expected 401 without token, got %d", path, resp.StatusCode)
		}
	}
}

func TestAPIServer_ProblemCarriesCorrelationID(t *testing.T) {
	deps, cfg := testSetup(t, 18085)

	server, err := NewServer(cfg, deps)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	cancel, _ := startServer(t, server)
	defer cancel()

	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/api/v1/boot/AA-BB-CC-DD-EE-FF/script", cfg.Port))
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	requestID := resp.Header.Get("X-Request-Id")
	if requestID == "" {
		t.Fatal("Expected X-Request-Id response header")
	}

	var problem struct {
		Title    string `json:"title"`
		Status   int    `json:"status"`
		Instance string `json:"instance"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&problem); err != nil {
		t.Fatalf("Failed to decode problem response: %v", err)
	}
	if problem.Status != http.StatusNotFound {
		t.Errorf("Expected problem status 404, got %d", problem.Status)
	}
	if problem.Instance != requestID {
		t.Errorf("Expected instance %q to match request id %q", problem.Instance, requestID)
	}
}

func TestAPIServer_BootScriptIsUnauthenticated(t *testing.T) {
	deps, cfg := testSetup(t, 18084)

	server, err := NewServer(cfg, deps)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	cancel, _ := startServer(t, server)
	defer cancel()

	// No machine and no session: the route must answer 404, not 401.
	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/api/v1/boot/AA-BB-CC-DD-EE-FF/script", cfg.Port))
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown machine, got %d", resp.StatusCode)
	}
}
