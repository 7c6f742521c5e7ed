// Package server_test provides unit tests for the HTTP server package.
package server_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/revisehq/revise/internal/catalog"
	"github.com/revisehq/revise/internal/config"
	"github.com/revisehq/revise/internal/scheduler"
	"github.com/revisehq/revise/internal/server"
	"github.com/revisehq/revise/internal/session"
	"github.com/revisehq/revise/internal/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startTestServer starts a server with an in-memory SQLite store, an empty
// catalog, and a running tracker. It returns the base URL and registers
// cleanup with t.Cleanup.
func startTestServer(t *testing.T, cfg *config.Config) string {
	t.Helper()

	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	cfg.Server.Port = 0 // random port for tests

	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err, "failed to create in-memory SQLite store")

	tracker := session.NewTracker(session.DefaultTrackerConfig())
	tracker.Start()

	fsrs, err := scheduler.NewFSRS(scheduler.DefaultParams())
	require.NoError(t, err)

	orchestrator := session.NewOrchestrator(store, catalog.NewStatic(), tracker,
		fsrs, scheduler.NewBKT(nil))

	ctx, cancel := context.WithCancel(context.Background())

	addrChan := make(chan string, 1)
	go func() {
		addr, _ := server.Start(ctx, cfg, store, orchestrator, tracker)
		addrChan <- addr
	}()

	var addr string
	select {
	case addr = <-addrChan:
	case <-time.After(5 * time.Second):
		cancel()
		_ = tracker.Stop()
		_ = store.Close()
		t.Fatal("server did not start within timeout")
	}

	// Give server a moment to be fully ready for connections
	time.Sleep(100 * time.Millisecond)

	t.Cleanup(func() {
		cancel()
		time.Sleep(100 * time.Millisecond) // Give server time to shut down
		_ = tracker.Stop()
		_ = store.Close()
	})

	return "http://" + addr
}

func devConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Host: "127.0.0.1",
			Port: 0,
		},
		Security: config.SecurityConfig{
			SecurityMode: "development",
		},
	}
}

// TestServer_StartsOnRandomPort verifies that the server can start on a random
// port (port 0) and returns a valid, non-zero address.
func TestServer_StartsOnRandomPort(t *testing.T) {
	baseURL := startTestServer(t, devConfig())

	assert.NotEmpty(t, baseURL, "baseURL should not be empty")
	assert.True(t, strings.HasPrefix(baseURL, "http://"), "baseURL should have http:// prefix")

	parts := strings.Split(baseURL, "://")
	require.Len(t, parts, 2)
	addr := parts[1]

	host, port, err := net.SplitHostPort(addr)
	assert.NoError(t, err, "address should be valid host:port format")
	assert.NotEmpty(t, host, "host should not be empty")
	assert.NotEqual(t, "0", port, "port should not be 0 in actual address")
}

// TestServer_HealthEndpoint verifies the health endpoint returns 200 with JSON content.
func TestServer_HealthEndpoint(t *testing.T) {
	baseURL := startTestServer(t, devConfig())

	resp, err := http.Get(baseURL + "/api/health")
	require.NoError(t, err, "failed to GET /api/health")
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode, "health endpoint should return 200")
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"), "health endpoint should return JSON")

	var healthResp map[string]interface{}
	err = json.NewDecoder(resp.Body).Decode(&healthResp)
	require.NoError(t, err, "failed to decode health response JSON")

	status, ok := healthResp["status"]
	assert.True(t, ok, "health response should have 'status' field")
	assert.Equal(t, "healthy", status, "status should be 'healthy'")
}

// TestServer_SecurityHeaders verifies all security headers are present in responses.
func TestServer_SecurityHeaders(t *testing.T) {
	baseURL := startTestServer(t, devConfig())

	resp, err := http.Get(baseURL + "/api/health")
	require.NoError(t, err, "failed to GET /api/health")
	defer func() { _ = resp.Body.Close() }()

	expectedHeaders := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"X-XSS-Protection":       "1; mode=block",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	}

	for headerName, expectedValue := range expectedHeaders {
		actualValue := resp.Header.Get(headerName)
		assert.Equal(t, expectedValue, actualValue,
			"header %q should be %q but got %q", headerName, expectedValue, actualValue)
	}
}

// TestServer_RouteRegistration verifies core API routes are registered and accessible.
func TestServer_RouteRegistration(t *testing.T) {
	baseURL := startTestServer(t, devConfig())

	apiPaths := []string{
		"/api/session",
		"/api/stats",
		"/api/activity",
		"/api/mastery",
		"/api/health",
	}

	for _, path := range apiPaths {
		t.Run(path, func(t *testing.T) {
			resp, err := http.Get(baseURL + path)
			require.NoError(t, err, "failed to GET %s", path)
			defer func() { _ = resp.Body.Close() }()

			assert.NotEqual(t, http.StatusNotFound, resp.StatusCode,
				"route %s should be registered (got 404)", path)
			assert.True(t, resp.StatusCode < 500,
				"route %s should not return 5xx (got %d)", path, resp.StatusCode)
		})
	}
}

// TestServer_GracefulShutdown verifies the server shuts down when the context
// is cancelled.
func TestServer_GracefulShutdown(t *testing.T) {
	cfg := devConfig()

	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	tracker := session.NewTracker(session.DefaultTrackerConfig())
	tracker.Start()
	defer func() { _ = tracker.Stop() }()

	fsrs, err := scheduler.NewFSRS(scheduler.DefaultParams())
	require.NoError(t, err)
	orchestrator := session.NewOrchestrator(store, catalog.NewStatic(), tracker,
		fsrs, scheduler.NewBKT(nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrChan := make(chan string, 1)
	go func() {
		addr, _ := server.Start(ctx, cfg, store, orchestrator, tracker)
		addrChan <- addr
	}()

	var addr string
	select {
	case addr = <-addrChan:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	time.Sleep(100 * time.Millisecond)
	baseURL := "http://" + addr

	resp, err := http.Get(baseURL + "/api/health")
	require.NoError(t, err, "server should be responding before shutdown")
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	time.Sleep(200 * time.Millisecond)

	checkCtx, checkCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer checkCancel()

	req, _ := http.NewRequestWithContext(checkCtx, "GET", baseURL+"/api/health", nil)
	_, err = http.DefaultClient.Do(req)
	assert.Error(t, err, "server should stop responding after shutdown")
}

// TestServer_DevelopmentMode_NoAuth verifies API endpoints are accessible
// without auth in development mode.
func TestServer_DevelopmentMode_NoAuth(t *testing.T) {
	baseURL := startTestServer(t, devConfig())

	resp, err := http.Get(baseURL + "/api/stats")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode,
		"in development mode, /api/stats should be accessible without auth")
}

// TestServer_ProductionMode_RequiresAuth verifies API endpoints require auth
// in production mode.
func TestServer_ProductionMode_RequiresAuth(t *testing.T) {
	testToken := "test-secret-token-xyz123"
	cfg := devConfig()
	cfg.Security.SecurityMode = "production"
	cfg.Security.APIToken = testToken

	baseURL := startTestServer(t, cfg)

	t.Run("without_auth_header", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/api/stats")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode,
			"in production mode without auth, /api/stats should return 401")
	})

	t.Run("with_valid_auth_header", func(t *testing.T) {
		req, err := http.NewRequest("GET", baseURL+"/api/stats", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+testToken)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		assert.Equal(t, http.StatusOK, resp.StatusCode,
			"with valid auth, /api/stats should return 200")
	})

	t.Run("with_invalid_auth_header", func(t *testing.T) {
		req, err := http.NewRequest("GET", baseURL+"/api/stats", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer wrong-token")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode,
			"with invalid auth, /api/stats should return 401")
	})
}

// TestServer_HealthEndpointNoAuth verifies the health endpoint is accessible
// without auth even in production mode.
func TestServer_HealthEndpointNoAuth(t *testing.T) {
	cfg := devConfig()
	cfg.Security.SecurityMode = "production"
	cfg.Security.APIToken = "test-token"

	baseURL := startTestServer(t, cfg)

	resp, err := http.Get(baseURL + "/api/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode,
		"/api/health should be accessible without auth even in production mode")
}

// TestServer_HTTPMethods verifies correct HTTP method handling.
func TestServer_HTTPMethods(t *testing.T) {
	baseURL := startTestServer(t, devConfig())

	tests := []struct {
		method   string
		path     string
		expectOK bool // true if method is allowed on the route
	}{
		{"POST", "/api/health", false},
		{"DELETE", "/api/health", false},
		{"GET", "/api/session", true},
		{"POST", "/api/session/load", true},
		{"GET", "/api/session/load", false},
		{"DELETE", "/api/session/grade", false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_%s", tt.method, tt.path), func(t *testing.T) {
			req, err := http.NewRequest(tt.method, baseURL+tt.path, nil)
			require.NoError(t, err)

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()

			if tt.expectOK {
				assert.NotEqual(t, http.StatusMethodNotAllowed, resp.StatusCode,
					"%s %s should be allowed", tt.method, tt.path)
			} else {
				assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode,
					"%s %s should not be allowed", tt.method, tt.path)
			}
		})
	}
}

// TestServer_NotFoundHandling verifies 404 behavior for non-existent routes.
func TestServer_NotFoundHandling(t *testing.T) {
	baseURL := startTestServer(t, devConfig())

	resp, err := http.Get(baseURL + "/nonexistent/route")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode,
		"non-existent route should return 404")
}
