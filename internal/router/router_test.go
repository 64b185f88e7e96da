package router

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"CopilotLane/internal/biz"
	"CopilotLane/internal/conf"
	"CopilotLane/internal/data"
	pkgerrors "CopilotLane/pkg/errors"
	"CopilotLane/pkg/oauth"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport records outbound requests and answers from a queue. An
// empty queue answers 200.
type fakeTransport struct {
	mu        sync.Mutex
	requests  []*http.Request
	bodies    []string
	responses []*http.Response
}

func (f *fakeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
		req.Body.Close()
	}
	f.requests = append(f.requests, req)
	f.bodies = append(f.bodies, string(body))

	if len(f.responses) == 0 {
		return makeResponse(http.StatusOK, "", nil), nil
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, nil
}

func (f *fakeTransport) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func makeResponse(status int, body string, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

type staticRefresher struct {
	tokens *oauth.TokenSet
	err    error
	calls  int
}

func (s *staticRefresher) Refresh(context.Context, string, string) (*oauth.TokenSet, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.tokens, nil
}

type routerHarness struct {
	router    *Router
	registry  *biz.Registry
	transport *fakeTransport
	refresher *staticRefresher
}

func setupRouter(t *testing.T, strategy string) *routerHarness {
	t.Helper()
	pool := &conf.Pool{
		Strategy:         strategy,
		ModelCacheTTL:    time.Hour,
		DefaultBackoff:   30 * time.Second,
		MaxBackoff:       5 * time.Minute,
		StickyIdleWindow: 2 * time.Minute,
		RefreshWindow:    10 * time.Minute,
	}
	upstream := &conf.Upstream{PublicHost: "github.com", ClientID: "Iv1.test"}
	registry := biz.NewRegistry(pool, data.NewMemoryStore(),
		biz.NewModelAvailabilityCache(pool.ModelCacheTTL), biz.NoopNotifier{}, log.DefaultLogger)

	refresher := &staticRefresher{}
	rt, err := NewRouter(pool, upstream, registry, refresher, log.DefaultLogger)
	require.NoError(t, err)

	transport := &fakeTransport{}
	rt.next = transport
	return &routerHarness{router: rt, registry: registry, transport: transport, refresher: refresher}
}

func (h *routerHarness) addAccount(t *testing.T, label, host string, models ...string) *data.Account {
	t.Helper()
	account, err := h.registry.AddAccount(context.Background(), biz.AccountInput{
		Label:   label,
		Host:    host,
		Refresh: "ghr_" + label,
		Access:  "gho_" + label,
		Models:  models,
	})
	require.NoError(t, err)
	return account
}

func (h *routerHarness) account(t *testing.T, id string) *data.Account {
	t.Helper()
	for _, a := range h.registry.ListAccounts() {
		if a.ID == id {
			return a
		}
	}
	t.Fatalf("account %s not found", id)
	return nil
}

func chatRequest(t *testing.T, url, body string) *http.Request {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	}
	req, err := http.NewRequest(http.MethodPost, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	return req
}

const copilotURL = "https://api.githubcopilot.com/chat/completions"

func userBody(model string) string {
	return `{"model":"` + model + `","messages":[{"role":"user","content":"hi"}]}`
}

func agentBody(model string) string {
	return `{"model":"` + model + `","messages":[{"role":"user","content":"hi"},{"role":"assistant","content":"step"}]}`
}

func TestRouter_EmptyPoolRejectsWithoutNetwork(t *testing.T) {
	h := setupRouter(t, conf.StrategySticky)

	_, err := h.router.RoundTrip(chatRequest(t, copilotURL, userBody("gpt-5-mini")))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsPoolExhausted(err))
	assert.Zero(t, h.transport.calls(), "no network call on an exhausted pool")
}

func TestRouter_InjectsHeaders(t *testing.T) {
	h := setupRouter(t, conf.StrategySticky)
	h.addAccount(t, "a", "github.com")

	req := chatRequest(t, copilotURL, userBody("gpt-4o"))
	req.Header.Set("X-Api-Key", "inbound-key")

	resp, err := h.router.RoundTrip(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	sent := h.transport.requests[0]
	assert.Equal(t, "Bearer gho_a", sent.Header.Get("Authorization"))
	assert.Equal(t, "user", sent.Header.Get(initiatorHeader))
	assert.Empty(t, sent.Header.Get("X-Api-Key"), "api key header must be stripped")
	assert.Empty(t, sent.Header.Get(visionHeader))
}

func TestRouter_AgentAndVisionHeaders(t *testing.T) {
	h := setupRouter(t, conf.StrategySticky)
	h.addAccount(t, "a", "github.com")

	body := `{"model":"gpt-4o","messages":[{"role":"user","content":[{"type":"image_url","image_url":{"url":"data:"}}]},{"role":"assistant","content":"looking"}]}`
	_, err := h.router.RoundTrip(chatRequest(t, copilotURL, body))
	require.NoError(t, err)

	sent := h.transport.requests[0]
	assert.Equal(t, "agent", sent.Header.Get(initiatorHeader))
	assert.Equal(t, "true", sent.Header.Get(visionHeader))
}

func TestRouter_ModelAllowListGatesPool(t *testing.T) {
	h := setupRouter(t, conf.StrategySticky)
	h.addAccount(t, "a", "github.com", "gpt-5-mini")

	resp, err := h.router.RoundTrip(chatRequest(t, copilotURL, userBody("gpt-5-mini")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, err = h.router.RoundTrip(chatRequest(t, copilotURL, userBody("claude-3")))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsPoolExhausted(err))
}

func TestRouter_EnterpriseHostDetection(t *testing.T) {
	h := setupRouter(t, conf.StrategySticky)
	h.addAccount(t, "public", "github.com")
	enterprise := h.addAccount(t, "corp", "ghe.corp.example")

	_, err := h.router.RoundTrip(chatRequest(t,
		"https://copilot-api.ghe.corp.example/chat/completions", userBody("gpt-4o")))
	require.NoError(t, err)

	sent := h.transport.requests[0]
	assert.Equal(t, "Bearer gho_corp", sent.Header.Get("Authorization"))

	got := h.account(t, enterprise.ID)
	assert.Zero(t, got.ConsecutiveFailures)
}

func TestRouter_AuthFailureFallsBackOnce(t *testing.T) {
	h := setupRouter(t, conf.StrategySticky)
	first := h.addAccount(t, "first", "github.com")
	h.addAccount(t, "second", "github.com")

	h.transport.responses = []*http.Response{
		makeResponse(http.StatusUnauthorized, "", nil),
		makeResponse(http.StatusOK, `{"ok":true}`, nil),
	}

	resp, err := h.router.RoundTrip(chatRequest(t, copilotURL, userBody("gpt-4o")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 2, h.transport.calls())

	assert.Equal(t, "Bearer gho_first", h.transport.requests[0].Header.Get("Authorization"))
	assert.Equal(t, "Bearer gho_second", h.transport.requests[1].Header.Get("Authorization"))

	got := h.account(t, first.ID)
	assert.Equal(t, int32(1), got.ConsecutiveFailures)
	assert.True(t, got.Cooling(time.Now()))
	assert.True(t, got.Enabled)
}

func TestRouter_AuthFailureWithoutFallbackReturnsOriginal(t *testing.T) {
	h := setupRouter(t, conf.StrategySticky)
	h.addAccount(t, "only", "github.com")

	h.transport.responses = []*http.Response{
		makeResponse(http.StatusForbidden, "denied", nil),
	}

	resp, err := h.router.RoundTrip(chatRequest(t, copilotURL, userBody("gpt-4o")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 1, h.transport.calls())

	raw, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "denied", string(raw), "original response body untouched")
}

func TestRouter_RetriesAtMostOnce(t *testing.T) {
	h := setupRouter(t, conf.StrategySticky)
	h.addAccount(t, "first", "github.com")
	second := h.addAccount(t, "second", "github.com")
	h.addAccount(t, "third", "github.com")

	h.transport.responses = []*http.Response{
		makeResponse(http.StatusUnauthorized, "", nil),
		makeResponse(http.StatusUnauthorized, "", nil),
	}

	resp, err := h.router.RoundTrip(chatRequest(t, copilotURL, userBody("gpt-4o")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "second failure surfaces as-is")
	assert.Equal(t, 2, h.transport.calls(), "never more than one retry")

	got := h.account(t, second.ID)
	assert.Equal(t, int32(1), got.ConsecutiveFailures, "retry failure still recorded")
}

func TestRouter_RateLimitBackoff(t *testing.T) {
	t.Run("Retry-After seconds", func(t *testing.T) {
		h := setupRouter(t, conf.StrategySticky)
		first := h.addAccount(t, "first", "github.com")
		h.addAccount(t, "second", "github.com")

		h.transport.responses = []*http.Response{
			makeResponse(http.StatusTooManyRequests, "", http.Header{"Retry-After": []string{"2"}}),
			makeResponse(http.StatusOK, "", nil),
		}

		before := time.Now()
		resp, err := h.router.RoundTrip(chatRequest(t, copilotURL, userBody("gpt-4o")))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "Bearer gho_second", h.transport.requests[1].Header.Get("Authorization"))

		got := h.account(t, first.ID)
		assert.GreaterOrEqual(t, got.CooldownUntil, before.Add(2*time.Second).UnixMilli())
	})

	t.Run("Retry-After-Ms takes precedence", func(t *testing.T) {
		h := setupRouter(t, conf.StrategySticky)
		first := h.addAccount(t, "first", "github.com")

		h.transport.responses = []*http.Response{
			makeResponse(http.StatusTooManyRequests, "", http.Header{
				"Retry-After-Ms": []string{"1500"},
				"Retry-After":    []string{"120"},
			}),
		}

		before := time.Now()
		_, err := h.router.RoundTrip(chatRequest(t, copilotURL, userBody("gpt-4o")))
		require.NoError(t, err)

		got := h.account(t, first.ID)
		assert.GreaterOrEqual(t, got.CooldownUntil, before.Add(1500*time.Millisecond).UnixMilli())
		assert.Less(t, got.CooldownUntil, before.Add(10*time.Second).UnixMilli(),
			"the seconds header must not win over the ms header")
	})

	t.Run("Clamped to the configured maximum", func(t *testing.T) {
		h := setupRouter(t, conf.StrategySticky)
		first := h.addAccount(t, "first", "github.com")

		h.transport.responses = []*http.Response{
			makeResponse(http.StatusServiceUnavailable, "", http.Header{"Retry-After": []string{"86400"}}),
		}

		before := time.Now()
		_, err := h.router.RoundTrip(chatRequest(t, copilotURL, userBody("gpt-4o")))
		require.NoError(t, err)

		got := h.account(t, first.ID)
		assert.LessOrEqual(t, got.CooldownUntil, before.Add(5*time.Minute+time.Second).UnixMilli())
	})

	t.Run("No hint uses the default backoff", func(t *testing.T) {
		h := setupRouter(t, conf.StrategySticky)
		first := h.addAccount(t, "first", "github.com")

		h.transport.responses = []*http.Response{
			makeResponse(http.StatusTooManyRequests, "", nil),
		}

		before := time.Now()
		_, err := h.router.RoundTrip(chatRequest(t, copilotURL, userBody("gpt-4o")))
		require.NoError(t, err)

		got := h.account(t, first.ID)
		assert.GreaterOrEqual(t, got.CooldownUntil, before.Add(29*time.Second).UnixMilli())
	})
}

func TestRouter_ModelNotFound(t *testing.T) {
	h := setupRouter(t, conf.StrategySticky)
	account := h.addAccount(t, "a", "github.com", "gpt-4", "gpt-4o")
	h.addAccount(t, "b", "github.com", "gpt-4")

	h.transport.responses = []*http.Response{
		makeResponse(http.StatusNotFound, `{"error":{"message":"Model gpt-4 Not Found"}}`, nil),
	}

	resp, err := h.router.RoundTrip(chatRequest(t, copilotURL, userBody("gpt-4")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, 1, h.transport.calls(), "model-not-found is never retried")

	raw, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(raw), "Not Found", "body stays readable for the caller")

	got := h.account(t, account.ID)
	assert.Equal(t, []string{"gpt-4o"}, got.Models)
	assert.False(t, h.registry.Qualifies(account.ID, "gpt-4", "github.com"))
}

func TestRouter_PlainNotFoundDoesNotMarkModel(t *testing.T) {
	h := setupRouter(t, conf.StrategySticky)
	account := h.addAccount(t, "a", "github.com", "gpt-4")

	h.transport.responses = []*http.Response{
		makeResponse(http.StatusNotFound, "no such route", nil),
	}

	_, err := h.router.RoundTrip(chatRequest(t, copilotURL, userBody("gpt-4")))
	require.NoError(t, err)

	got := h.account(t, account.ID)
	assert.Equal(t, []string{"gpt-4"}, got.Models)
}

func TestRouter_OtherStatusesMarkSuccess(t *testing.T) {
	h := setupRouter(t, conf.StrategySticky)
	account := h.addAccount(t, "a", "github.com")
	require.NoError(t, h.registry.MarkFailure(context.Background(), account.ID, -time.Second))

	h.transport.responses = []*http.Response{
		makeResponse(http.StatusInternalServerError, "boom", nil),
	}

	resp, err := h.router.RoundTrip(chatRequest(t, copilotURL, userBody("gpt-4o")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	got := h.account(t, account.ID)
	assert.Zero(t, got.ConsecutiveFailures, "non-auth statuses reset the failure streak")
}

func TestRouter_StickyAffinity(t *testing.T) {
	h := setupRouter(t, conf.StrategyRoundRobin)
	h.addAccount(t, "a", "github.com")
	h.addAccount(t, "b", "github.com")

	_, err := h.router.RoundTrip(chatRequest(t, copilotURL, agentBody("gpt-4o")))
	require.NoError(t, err)
	pinned := h.transport.requests[0].Header.Get("Authorization")

	// Round-robin would rotate here; the sticky lock must pin the agent
	// task to the same credential.
	_, err = h.router.RoundTrip(chatRequest(t, copilotURL, agentBody("gpt-4o")))
	require.NoError(t, err)
	assert.Equal(t, pinned, h.transport.requests[1].Header.Get("Authorization"))
}

func TestRouter_StickyLockSkippedWhenAccountCooling(t *testing.T) {
	h := setupRouter(t, conf.StrategySticky)
	a := h.addAccount(t, "a", "github.com")
	h.addAccount(t, "b", "github.com")

	_, err := h.router.RoundTrip(chatRequest(t, copilotURL, agentBody("gpt-4o")))
	require.NoError(t, err)
	assert.Equal(t, "Bearer gho_a", h.transport.requests[0].Header.Get("Authorization"))

	require.NoError(t, h.registry.MarkFailure(context.Background(), a.ID, time.Minute))

	_, err = h.router.RoundTrip(chatRequest(t, copilotURL, agentBody("gpt-4o")))
	require.NoError(t, err)
	assert.Equal(t, "Bearer gho_b", h.transport.requests[1].Header.Get("Authorization"),
		"an ineligible pinned account falls through to normal selection")
}

func TestRouter_InlineTokenRefresh(t *testing.T) {
	t.Run("Expired token refreshed before dispatch", func(t *testing.T) {
		h := setupRouter(t, conf.StrategySticky)
		account := h.addAccount(t, "a", "github.com")
		expired := time.Now().Add(-time.Minute).UnixMilli()
		require.NoError(t, h.registry.UpdateAccountTokens(context.Background(), account.ID, "gho_stale", "ghr_stale", expired))

		newExpiry := time.Now().Add(time.Hour).UnixMilli()
		h.refresher.tokens = &oauth.TokenSet{Access: "gho_fresh", Refresh: "ghr_fresh", Expires: newExpiry}

		_, err := h.router.RoundTrip(chatRequest(t, copilotURL, userBody("gpt-4o")))
		require.NoError(t, err)
		assert.Equal(t, 1, h.refresher.calls)
		assert.Equal(t, "Bearer gho_fresh", h.transport.requests[0].Header.Get("Authorization"))

		got := h.account(t, account.ID)
		assert.Equal(t, "gho_fresh", got.Access)
		assert.Equal(t, newExpiry, got.Expires)
	})

	t.Run("Failed refresh proceeds with the stale token", func(t *testing.T) {
		h := setupRouter(t, conf.StrategySticky)
		account := h.addAccount(t, "a", "github.com")
		expired := time.Now().Add(-time.Minute).UnixMilli()
		require.NoError(t, h.registry.UpdateAccountTokens(context.Background(), account.ID, "gho_stale", "ghr_stale", expired))
		h.refresher.err = errors.New("exchange rejected")

		_, err := h.router.RoundTrip(chatRequest(t, copilotURL, userBody("gpt-4o")))
		require.NoError(t, err)
		assert.Equal(t, "Bearer gho_stale", h.transport.requests[0].Header.Get("Authorization"))
	})

	t.Run("Zero expiry never refreshes", func(t *testing.T) {
		h := setupRouter(t, conf.StrategySticky)
		h.addAccount(t, "a", "github.com")

		_, err := h.router.RoundTrip(chatRequest(t, copilotURL, userBody("gpt-4o")))
		require.NoError(t, err)
		assert.Zero(t, h.refresher.calls)
	})
}

func TestRouter_SanitizesOversizedMessageIDs(t *testing.T) {
	h := setupRouter(t, conf.StrategySticky)
	h.addAccount(t, "a", "github.com")

	longID := strings.Repeat("x", 80)
	body := `{"model":"gpt-4o","messages":[{"id":"` + longID + `","role":"user","content":"hi"}]}`

	_, err := h.router.RoundTrip(chatRequest(t, copilotURL, body))
	require.NoError(t, err)
	assert.NotContains(t, h.transport.bodies[0], longID)
	assert.Contains(t, h.transport.bodies[0], "gpt-4o")
}
