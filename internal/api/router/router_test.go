package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/propelai/propelai-backend/internal/api/handler"
	apimw "github.com/propelai/propelai-backend/internal/api/middleware"
	"github.com/propelai/propelai-backend/internal/auth"
	"github.com/propelai/propelai-backend/internal/auth/ratelimit"
	"github.com/propelai/propelai-backend/internal/generation"
	"github.com/propelai/propelai-backend/internal/generative"
	"github.com/propelai/propelai-backend/internal/pipeline"
	"github.com/propelai/propelai-backend/internal/store/memory"
	"github.com/propelai/propelai-backend/pkg/config"
	"github.com/propelai/propelai-backend/pkg/health"
	"github.com/propelai/propelai-backend/pkg/metrics"
)

const page = `<html><body><nav>menu</nav><article>
<p>Remote teams lose hours every week to meetings that could have been written updates.</p>
<p>Managers struggle to see progress across time zones. Async tools exist but adoption is low
because they add yet another inbox to check.</p></article></body></html>`

type app struct {
	srv   *httptest.Server
	store *memory.Store
	reply string
}

func newApp(t *testing.T, reply string) *app {
	return newSlowApp(t, reply, 0, 10*time.Second)
}

// newSlowApp delays every Gemini reply by delay and bounds generation
// requests by timeout.
func newSlowApp(t *testing.T, reply string, delay, timeout time.Duration) *app {
	t.Helper()
	gemini := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		body, _ := json.Marshal(map[string]any{"candidates": []any{map[string]any{
			"content": map[string]any{"role": "model", "parts": []any{map[string]any{"text": reply}}},
		}}})
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}))
	t.Cleanup(gemini.Close)

	cfg := config.PipelineConfig{Language: "english", SummarySentences: 5, KeywordCount: 10, KeywordMaxNGram: 3, KeywordDedup: 0.9, MaxPromptChars: 8000, MinContentChars: 150}
	gen, err := generative.NewGemini(context.Background(), config.GeminiConfig{
		APIKey: "k", Model: "m", BaseURL: gemini.URL + "/", APIVersion: "v1beta", Timeout: 5 * time.Second,
	}, gemini.Client())
	require.NoError(t, err)
	p, err := pipeline.New(cfg, gen)
	require.NoError(t, err)

	st := memory.New()
	accounts, err := auth.NewService(st, config.AuthConfig{JWTSecret: "s", BcryptCost: bcrypt.MinCost}, 5)
	require.NoError(t, err)
	svc := generation.NewService(st, p, cfg, config.CreditsConfig{ClientSignupCredits: 3})

	limiter := ratelimit.New(1000, time.Minute)
	t.Cleanup(limiter.Close)
	checker := health.NewChecker()
	checker.Register("store", health.PingCheck(st))

	h := New(Deps{
		Handler:         handler.New(svc, accounts, st, limiter),
		Auth:            accounts,
		Limiter:         limiter,
		Health:          checker,
		Metrics:         metrics.New(prometheus.NewRegistry()),
		CORS:            apimw.DefaultCORSConfig(),
		GenerateTimeout: timeout,
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &app{srv: srv, store: st, reply: reply}
}

func (a *app) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, rd)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := a.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	} else if len(raw) > 0 {
		var list []any
		require.NoError(t, json.Unmarshal(raw, &list))
		out["list"] = list
	}
	return resp.StatusCode, out
}

func (a *app) signup(t *testing.T, email string) string {
	t.Helper()
	status, body := a.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"full_name": "Test", "email": email, "password": "pw-123456",
	})
	require.Equal(t, http.StatusCreated, status, body)
	return body["access_token"].(string)
}

func TestContentGeneration(t *testing.T) {
	a := newApp(t, `[{"Name":"A","Problem":"p","Solution":"s"},{"Name":"B","Problem":"p","Solution":"s"},{"Name":"C","Problem":"p","Solution":"s"}]`)

	status, body := a.do(t, http.MethodPost, "/generate", "", map[string]string{
		"url": "https://example.com", "text_content": page, "user_id": "ext-9",
	})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "Success! 2 credits remaining.", body["message"])
	ideas := body["ideas"].([]any)
	require.Len(t, ideas, 3)
	assert.Equal(t, "A", ideas[0].(map[string]any)["Name"])

	status, body = a.do(t, http.MethodPost, "/generate", "", map[string]string{"text_content": "too short", "user_id": "ext-9"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body["error"], "too short")
}

func TestContentGenerationUntilCreditsRunOut(t *testing.T) {
	a := newApp(t, `[{"Name":"A","Problem":"p","Solution":"s"},{"Name":"B","Problem":"p","Solution":"s"},{"Name":"C","Problem":"p","Solution":"s"}]`)
	req := map[string]string{"text_content": page, "user_id": "ext-limit"}
	for i := 2; i >= 0; i-- {
		status, body := a.do(t, http.MethodPost, "/generate", "", req)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, fmt.Sprintf("Success! %d credits remaining.", i), body["message"])
	}
	status, body := a.do(t, http.MethodPost, "/generate", "", req)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Contains(t, body["error"], "Upgrade to Pro")
}

func TestUpstreamSchemaFailureIs502(t *testing.T) {
	a := newApp(t, "not json at all")
	status, body := a.do(t, http.MethodPost, "/generate", "", map[string]string{"text_content": page, "user_id": "ext-bad"})
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "Invalid JSON structure returned by LLM.", body["error"])
}

func TestAccountFlowAndHistory(t *testing.T) {
	a := newApp(t, "NAME: Standup Bot | PROBLEM: meetings | SOLUTION: async notes --- NAME: Tz | PROBLEM: time zones | SOLUTION: overlap planner ---")
	token := a.signup(t, "dev@example.com")

	status, _ := a.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{"email": "dev@example.com", "password": "x"})
	assert.Equal(t, http.StatusConflict, status)

	status, body := a.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "dev@example.com", "password": "pw-123456"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "bearer", body["token_type"])
	user := body["user"].(map[string]any)
	assert.EqualValues(t, 5, user["idea_credits"])
	assert.NotContains(t, user, "hashed_password")

	status, body = a.do(t, http.MethodPost, "/api/generate", token, map[string]string{"prompt": "BRAINSTORM_MODE [Categories: Future of Work]"})
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, 4, body["credits_remaining"])
	created := body["ideas"].([]any)
	require.Len(t, created, 2)

	status, body = a.do(t, http.MethodGet, "/api/history", token, nil)
	require.Equal(t, http.StatusOK, status)
	hist := body["list"].([]any)
	require.Len(t, hist, 2)
	newest := hist[0].(map[string]any)
	id := int64(newest["id"].(float64))
	assert.Greater(t, id, int64(hist[1].(map[string]any)["id"].(float64)))

	path := fmt.Sprintf("/api/ideas/%d", id)
	status, body = a.do(t, http.MethodPatch, path+"/toggle-star", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["is_starred"])

	other := a.signup(t, "other@example.com")
	status, _ = a.do(t, http.MethodDelete, path, other, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, body = a.do(t, http.MethodDelete, path, token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Idea deleted", body["message"])
	status, _ = a.do(t, http.MethodDelete, path, token, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, body = a.do(t, http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 4, body["idea_credits"])
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	a := newApp(t, "x")
	for _, route := range []struct{ method, path string }{
		{http.MethodPost, "/api/generate"},
		{http.MethodGet, "/api/history"},
		{http.MethodPatch, "/api/ideas/1/toggle-star"},
		{http.MethodDelete, "/api/ideas/1"},
		{http.MethodGet, "/api/auth/me"},
	} {
		status, _ := a.do(t, route.method, route.path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, status, route.path)
	}
	status, _ := a.do(t, http.MethodGet, "/api/history", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestBadRequests(t *testing.T) {
	a := newApp(t, "x")
	token := a.signup(t, "bad@example.com")

	status, _ := a.do(t, http.MethodPost, "/api/generate", token, map[string]string{"prompt": ""})
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = a.do(t, http.MethodPatch, "/api/ideas/abc/toggle-star", token, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	resp, err := a.srv.Client().Post(a.srv.URL+"/generate", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthAndGreeting(t *testing.T) {
	a := newApp(t, "x")
	for _, path := range []string{"/health", "/health/live", "/health/ready", "/api/greeting"} {
		status, _ := a.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusOK, status, path)
	}
}

func TestGenerationTimeoutChargesNothing(t *testing.T) {
	a := newSlowApp(t, `[{"Name":"A","Problem":"p","Solution":"s"},{"Name":"B","Problem":"p","Solution":"s"},{"Name":"C","Problem":"p","Solution":"s"}]`,
		2*time.Second, 50*time.Millisecond)
	token := a.signup(t, "slow@example.com")

	status, body := a.do(t, http.MethodPost, "/api/generate", token, map[string]string{"prompt": "A marketplace for used lab equipment"})
	assert.Equal(t, http.StatusGatewayTimeout, status)
	assert.Equal(t, "request timed out", body["error"])

	status, body = a.do(t, http.MethodPost, "/generate", "", map[string]string{"text_content": page, "user_id": "ext-slow"})
	assert.Equal(t, http.StatusGatewayTimeout, status)
	assert.Equal(t, "request timed out", body["error"])

	// let the abandoned handlers finish before inspecting state
	time.Sleep(200 * time.Millisecond)

	status, body = a.do(t, http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 5, body["idea_credits"])
	status, body = a.do(t, http.MethodGet, "/api/history", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, body["list"])

	client, err := a.store.FindUserByExternalID(context.Background(), "ext-slow")
	require.NoError(t, err)
	assert.Equal(t, 3, client.Credits)
	ideas, err := a.store.ListIdeas(context.Background(), client.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, ideas)
}
