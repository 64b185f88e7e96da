package biz

import (
	"context"
	"sync"
	"time"

	"CopilotLane/internal/conf"
	"CopilotLane/internal/data"
	"CopilotLane/pkg/oauth"

	"github.com/go-kratos/kratos/v2/log"
)

// maxConcurrentRefresh bounds parallel token exchanges in the background
// refresh task.
const maxConcurrentRefresh = 5

// TokenRefresher performs the refresh exchange against an issuing host.
type TokenRefresher interface {
	Refresh(ctx context.Context, host, refreshToken string) (*oauth.TokenSet, error)
}

// RefreshTask proactively refreshes tokens that expire inside the configured
// window, so the request path rarely has to refresh inline. Refresh failures
// are logged and left for the request path's fallback handling; an account
// is never disabled here.
type RefreshTask struct {
	registry  *Registry
	refresher TokenRefresher
	window    time.Duration
	logger    *log.Helper
}

// NewRefreshTask creates the background refresh task.
func NewRefreshTask(c *conf.Pool, registry *Registry, refresher TokenRefresher, logger log.Logger) *RefreshTask {
	return &RefreshTask{
		registry:  registry,
		refresher: refresher,
		window:    c.RefreshWindow,
		logger:    log.NewHelper(logger),
	}
}

// RefreshExpiringTokens refreshes every enabled account whose token expires
// within the window. Exchanges run concurrently, bounded by a semaphore.
func (t *RefreshTask) RefreshExpiringTokens(ctx context.Context) error {
	threshold := time.Now().Add(t.window).UnixMilli()

	var expiring []*data.Account
	for _, a := range t.registry.ListAccounts() {
		if !a.Enabled || a.Expires == 0 || a.Expires > threshold {
			continue
		}
		expiring = append(expiring, a)
	}

	if len(expiring) == 0 {
		t.logger.Debug("no expiring tokens found")
		return nil
	}

	t.logger.Infow("msg", "starting token refresh", "accounts", len(expiring))

	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		successCount int
		failureCount int
		sem          = make(chan struct{}, maxConcurrentRefresh)
	)

	for _, acc := range expiring {
		wg.Add(1)
		sem <- struct{}{}

		go func(acc *data.Account) {
			defer wg.Done()
			defer func() { <-sem }()

			tokens, err := t.refresher.Refresh(ctx, acc.Host, acc.Refresh)
			if err != nil {
				t.logger.Warnw("msg", "token refresh failed",
					"label", acc.Label, "error", err.Error())
				mu.Lock()
				failureCount++
				mu.Unlock()
				return
			}

			if err := t.registry.UpdateAccountTokens(ctx, acc.ID, tokens.Access, tokens.Refresh, tokens.Expires); err != nil {
				t.logger.Errorw("msg", "failed to persist refreshed tokens",
					"label", acc.Label, "error", err.Error())
				mu.Lock()
				failureCount++
				mu.Unlock()
				return
			}

			mu.Lock()
			successCount++
			mu.Unlock()
		}(acc)
	}

	wg.Wait()

	t.logger.Infow("msg", "token refresh completed",
		"total", len(expiring),
		"success", successCount,
		"failure", failureCount)

	return nil
}
