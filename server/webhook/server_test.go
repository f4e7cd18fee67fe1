package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/ductor/config"
)

func newTestServer(t *testing.T) (*Server, *Manager) {
	t.Helper()
	manager := newTestManager(t)
	server := NewServer(config.WebhookConfig{
		Host:               "127.0.0.1",
		Port:               8787,
		Token:              "global-token",
		MaxBodyBytes:       1024,
		RateLimitPerMinute: 100,
	}, manager)
	return server, manager
}

func postHook(server *Server, hookID, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/hooks/"+hookID, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	server.echo.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	server.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHookRateLimited(t *testing.T) {
	server, _ := newTestServer(t)
	server.limiter = NewRateLimiter(0)

	rec := postHook(server, "ci", `{}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate_limited")
}

func TestHookWrongContentType(t *testing.T) {
	server, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/hooks/ci", strings.NewReader("x"))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	server.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Contains(t, rec.Body.String(), "content_type_must_be_json")
}

func TestHookInvalidJSON(t *testing.T) {
	server, _ := newTestServer(t)
	rec := postHook(server, "ci", "{not json", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_json")
}

func TestHookBodyNotObject(t *testing.T) {
	server, _ := newTestServer(t)
	rec := postHook(server, "ci", `[1,2,3]`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "body_must_be_object")
}

func TestHookBodyTooLarge(t *testing.T) {
	server, _ := newTestServer(t)
	big := `{"data":"` + strings.Repeat("x", 2048) + `"}`
	rec := postHook(server, "ci", big, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestHookNotFound(t *testing.T) {
	server, _ := newTestServer(t)
	rec := postHook(server, "absent", `{}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "hook_not_found")
}

func TestHookDisabled(t *testing.T) {
	server, manager := newTestServer(t)
	hook := sampleHook("ci")
	hook.Enabled = false
	require.NoError(t, manager.Add(hook))

	rec := postHook(server, "ci", `{}`, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "hook_disabled")
}

func TestHookUnauthorized(t *testing.T) {
	server, manager := newTestServer(t)
	require.NoError(t, manager.Add(sampleHook("ci")))

	rec := postHook(server, "ci", `{}`, map[string]string{
		"Authorization": "Bearer wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "unauthorized")
}

func TestHookAcceptedAndDispatched(t *testing.T) {
	server, manager := newTestServer(t)
	require.NoError(t, manager.Add(sampleHook("ci")))

	var mu sync.Mutex
	var gotHook string
	var gotPayload map[string]any
	done := make(chan struct{})
	server.SetDispatchHandler(func(_ context.Context, hookID string, payload map[string]any) {
		mu.Lock()
		gotHook = hookID
		gotPayload = payload
		mu.Unlock()
		close(done)
	})

	rec := postHook(server, "ci", `{"status":"green"}`, map[string]string{
		"Authorization": "Bearer global-token",
	})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"accepted":true,"hook_id":"ci"}`, rec.Body.String())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch handler was not invoked")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "ci", gotHook)
	assert.Equal(t, "green", gotPayload["status"])
}

func TestHookHMACAuth(t *testing.T) {
	server, manager := newTestServer(t)
	hook := sampleHook("gh")
	hook.AuthMode = AuthHMAC
	hook.HMACSecret = "s3cret"
	hook.HMACHeader = "X-Hub-Signature-256"
	require.NoError(t, manager.Add(hook))

	body := `{"ref":"main"}`
	sig := "sha256=" + signHex(t, "s3cret", []byte(body))

	rec := postHook(server, "gh", body, map[string]string{"X-Hub-Signature-256": sig})
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = postHook(server, "gh", body, map[string]string{"X-Hub-Signature-256": "sha256=bad"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
