// Package router implements the outbound transport for Copilot API calls.
// It selects a pooled credential per request, applies per-host sticky
// affinity for agent tasks, injects auth headers, classifies the upstream
// response and retries once on a different account after auth or rate-limit
// failures.
package router

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"CopilotLane/internal/biz"
	"CopilotLane/internal/conf"
	pkgerrors "CopilotLane/pkg/errors"
	"CopilotLane/pkg/oauth/util"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// ProviderSet is router providers.
var ProviderSet = wire.NewSet(NewRouter)

// enterpriseAPIPrefix is the vendor's per-enterprise subdomain pattern; a
// request to copilot-api.<host> belongs to the <host> account pool.
const enterpriseAPIPrefix = "copilot-api."

const visionHeader = "Copilot-Vision-Request"

// maxClassifyBody caps how much of an upstream error body is read for the
// model-not-found heuristic.
const maxClassifyBody = 1 << 20

// Router is an http.RoundTripper that fronts every Copilot API call with
// credential selection, token injection and failure recovery.
type Router struct {
	pool     *conf.Pool
	upstream *conf.Upstream
	registry *biz.Registry
	refresh  biz.TokenRefresher
	next     http.RoundTripper
	locks    *stickyLocks
	logger   *log.Helper
}

// NewRouter builds the transport, honoring the configured outbound proxy.
func NewRouter(pool *conf.Pool, upstream *conf.Upstream, registry *biz.Registry, refresher biz.TokenRefresher, logger log.Logger) (*Router, error) {
	client, err := util.CreateHTTPClient(upstream.ProxyURL, 0)
	if err != nil {
		return nil, err
	}
	next := client.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	return &Router{
		pool:     pool,
		upstream: upstream,
		registry: registry,
		refresh:  refresher,
		next:     next,
		locks:    newStickyLocks(),
		logger:   log.NewHelper(logger),
	}, nil
}

// targetHost maps the request URL to the account pool serving it.
func (rt *Router) targetHost(req *http.Request) string {
	hostname := req.URL.Hostname()
	if rest, ok := strings.CutPrefix(hostname, enterpriseAPIPrefix); ok && rest != "" {
		return rest
	}
	return rt.upstream.PublicHost
}

// RoundTrip implements http.RoundTripper.
func (rt *Router) RoundTrip(req *http.Request) (*http.Response, error) {
	body, err := readBody(req)
	if err != nil {
		return nil, err
	}

	profile := profileRequest(body, req.Header)
	host := rt.targetHost(req)
	now := time.Now()

	var sel *biz.AccountSelection
	if id, ok := rt.locks.candidate(host, profile.Agent, now, rt.pool.StickyIdleWindow); ok {
		sel = rt.registry.ReuseAccount(id, profile.Model, host)
	}
	if sel == nil {
		sel = rt.registry.SelectAccount(profile.Model, host)
	}
	if sel == nil {
		return nil, pkgerrors.PoolExhausted(profile.Model, host)
	}

	rt.locks.record(host, sel.Account.ID, profile.Agent, now)
	rt.refreshIfExpired(req, sel, now)

	if profile.Agent {
		rt.registry.NotifySelection(req.Context(), sel, profile.Model)
	}

	body = sanitizeBody(body)
	resp, err := rt.next.RoundTrip(rt.buildRequest(req, body, profile, sel.Account.Access))
	if err != nil {
		return nil, err
	}
	return rt.classify(req, resp, body, profile, host, sel, true)
}

// refreshIfExpired renews the checked-out account's token inline when its
// expiry has passed, writing the new tokens back through the registry. A
// failed exchange keeps the stale token; the auth failure path recovers.
func (rt *Router) refreshIfExpired(req *http.Request, sel *biz.AccountSelection, now time.Time) {
	account := sel.Account
	if account.Expires == 0 || account.Expires > now.UnixMilli() {
		return
	}

	tokens, err := rt.refresh.Refresh(req.Context(), account.Host, account.Refresh)
	if err != nil {
		rt.logger.Warnw("msg", "inline token refresh failed, proceeding with stale token",
			"label", account.Label, "error", err.Error())
		return
	}
	if err := rt.registry.UpdateAccountTokens(req.Context(), account.ID, tokens.Access, tokens.Refresh, tokens.Expires); err != nil {
		rt.logger.Errorw("msg", "failed to persist refreshed tokens", "label", account.Label, "error", err.Error())
	}
	account.Access = tokens.Access
	account.Refresh = tokens.Refresh
	account.Expires = tokens.Expires
}

// buildRequest clones the inbound request with the pooled credential's
// headers and the sanitized body.
func (rt *Router) buildRequest(req *http.Request, body []byte, profile RequestProfile, access string) *http.Request {
	out := req.Clone(req.Context())
	if body != nil {
		out.Body = io.NopCloser(bytes.NewReader(body))
		out.ContentLength = int64(len(body))
	}

	out.Header.Set("Authorization", "Bearer "+access)
	if profile.Agent {
		out.Header.Set(initiatorHeader, "agent")
	} else {
		out.Header.Set(initiatorHeader, "user")
	}
	if profile.Vision {
		out.Header.Set(visionHeader, "true")
	}
	out.Header.Del("X-Api-Key")
	return out
}

// classify inspects the upstream response, records account health and
// performs at most one fallback retry on a different account.
func (rt *Router) classify(req *http.Request, resp *http.Response, body []byte, profile RequestProfile, host string, sel *biz.AccountSelection, canRetry bool) (*http.Response, error) {
	ctx := req.Context()

	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound:
		if rt.mentionsMissingModel(resp) {
			if err := rt.registry.MarkModelUnsupported(ctx, sel.Account.ID, profile.Model); err != nil {
				rt.logger.Errorw("msg", "failed to record unsupported model", "error", err.Error())
			}
		}
		return resp, nil

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		rt.logger.Warnw("msg", "upstream rejected credentials",
			"label", sel.Account.Label, "status", resp.StatusCode)
		if err := rt.registry.MarkFailure(ctx, sel.Account.ID, rt.pool.DefaultBackoff); err != nil {
			rt.logger.Errorw("msg", "failed to record account failure", "error", err.Error())
		}
		if !canRetry {
			return resp, nil
		}
		return rt.retryWithFallback(req, resp, body, profile, host)

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		backoff := rt.retryBackoff(resp)
		rt.logger.Warnw("msg", "upstream throttled account",
			"label", sel.Account.Label, "status", resp.StatusCode, "backoff", backoff.String())
		if err := rt.registry.MarkFailure(ctx, sel.Account.ID, backoff); err != nil {
			rt.logger.Errorw("msg", "failed to record account failure", "error", err.Error())
		}
		if !canRetry {
			return resp, nil
		}
		return rt.retryWithFallback(req, resp, body, profile, host)

	default:
		if err := rt.registry.MarkSuccess(ctx, sel.Account.ID); err != nil {
			rt.logger.Errorw("msg", "failed to record account success", "error", err.Error())
		}
		return resp, nil
	}
}

// retryWithFallback re-runs selection (the failed account is excluded by its
// fresh cooldown) and retries exactly once. Without a fallback the original
// response is returned untouched.
func (rt *Router) retryWithFallback(req *http.Request, original *http.Response, body []byte, profile RequestProfile, host string) (*http.Response, error) {
	fallback := rt.registry.SelectAccount(profile.Model, host)
	if fallback == nil {
		return original, nil
	}
	fallback.Reason = biz.ReasonFallback

	drainBody(original)
	rt.locks.record(host, fallback.Account.ID, profile.Agent, time.Now())
	if profile.Agent {
		rt.registry.NotifySelection(req.Context(), fallback, profile.Model)
	}
	rt.logger.Infow("msg", "retrying with fallback account",
		"label", fallback.Account.Label, "host", host, "model", profile.Model)

	resp, err := rt.next.RoundTrip(rt.buildRequest(req, body, profile, fallback.Account.Access))
	if err != nil {
		return nil, err
	}
	return rt.classify(req, resp, body, profile, host, fallback, false)
}

// mentionsMissingModel applies the model-not-found body heuristic, leaving
// the response body readable for the caller.
func (rt *Router) mentionsMissingModel(resp *http.Response) bool {
	if resp.Body == nil {
		return false
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxClassifyBody))
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil {
		return false
	}
	text := strings.ToLower(string(raw))
	return strings.Contains(text, "model") && strings.Contains(text, "not found")
}

// retryBackoff reads the server's backoff hint. Retry-After-Ms (ms) takes
// precedence over Retry-After (seconds); both clamp to the configured
// maximum, and the default backoff covers responses without a hint.
func (rt *Router) retryBackoff(resp *http.Response) time.Duration {
	backoff := rt.pool.DefaultBackoff
	if v := resp.Header.Get("Retry-After-Ms"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
			backoff = time.Duration(ms) * time.Millisecond
		}
	} else if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil && secs > 0 {
			backoff = time.Duration(secs) * time.Second
		}
	}
	if backoff > rt.pool.MaxBackoff {
		backoff = rt.pool.MaxBackoff
	}
	return backoff
}

// readBody buffers the request body so it can be profiled, sanitized and
// re-sent on the fallback retry.
func readBody(req *http.Request) ([]byte, error) {
	if req.Body == nil {
		return nil, nil
	}
	defer req.Body.Close()
	return io.ReadAll(req.Body)
}

func drainBody(resp *http.Response) {
	if resp.Body == nil {
		return
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxClassifyBody)) //nolint:errcheck
	resp.Body.Close()
}
