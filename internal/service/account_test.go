package service

import (
	"context"
	"testing"
	"time"

	"CopilotLane/internal/biz"
	"CopilotLane/internal/conf"
	"CopilotLane/internal/data"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRegistry(t *testing.T) *biz.Registry {
	t.Helper()
	pool := &conf.Pool{
		Strategy:         conf.StrategyHybrid,
		ModelCacheTTL:    time.Hour,
		DefaultBackoff:   30 * time.Second,
		MaxBackoff:       5 * time.Minute,
		StickyIdleWindow: 2 * time.Minute,
		RefreshWindow:    10 * time.Minute,
	}
	return biz.NewRegistry(pool, data.NewMemoryStore(),
		biz.NewModelAvailabilityCache(pool.ModelCacheTTL), biz.NoopNotifier{}, log.DefaultLogger)
}

func TestAccountService_ListMasksTokens(t *testing.T) {
	registry := setupTestRegistry(t)
	svc := NewAccountService(registry, log.DefaultLogger)
	ctx := context.Background()

	_, err := svc.AddAccount(ctx, &AddAccountRequest{
		Label:   "work",
		Host:    "github.com",
		Refresh: "ghr_1234567890abcdefghij",
		Access:  "gho_1234567890abcdefghij",
	})
	require.NoError(t, err)

	resp := svc.ListAccounts(ctx)
	require.Len(t, resp.Accounts, 1)
	view := resp.Accounts[0]
	assert.NotContains(t, view.Access, "1234567890abcdef")
	assert.NotContains(t, view.Refresh, "1234567890abcdef")
	assert.Contains(t, view.Access, "gho_")
	assert.Equal(t, "work", view.Label)
}

func TestAccountService_ListCarriesHealthState(t *testing.T) {
	registry := setupTestRegistry(t)
	svc := NewAccountService(registry, log.DefaultLogger)
	ctx := context.Background()

	view, err := svc.AddAccount(ctx, &AddAccountRequest{Label: "a", Host: "github.com", Refresh: "ghr_a"})
	require.NoError(t, err)
	require.NoError(t, registry.MarkFailure(ctx, view.ID, 30*time.Second))
	require.NoError(t, registry.MarkFailure(ctx, view.ID, 30*time.Second))

	got := svc.ListAccounts(ctx).Accounts[0]
	assert.Equal(t, int32(2), got.ConsecutiveFailures)
	assert.True(t, got.Cooling)
	assert.True(t, got.Enabled)
	assert.Greater(t, got.CooldownUntil, time.Now().UnixMilli())
}

func TestAccountService_AddDeduplicatesOnCredential(t *testing.T) {
	registry := setupTestRegistry(t)
	svc := NewAccountService(registry, log.DefaultLogger)
	ctx := context.Background()

	first, err := svc.AddAccount(ctx, &AddAccountRequest{
		Label: "work", Host: "github.com", Refresh: "ghr_same", Access: "gho_old",
	})
	require.NoError(t, err)

	second, err := svc.AddAccount(ctx, &AddAccountRequest{
		Label: "other", Host: "github.com", Refresh: "ghr_same", Access: "gho_new",
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "same (host, refresh) updates instead of duplicating")
	assert.Len(t, registry.ListAccounts(), 1)
	assert.Equal(t, "gho_new", registry.ListAccounts()[0].Access)
}

func TestAccountService_Lifecycle(t *testing.T) {
	registry := setupTestRegistry(t)
	svc := NewAccountService(registry, log.DefaultLogger)
	ctx := context.Background()

	view, err := svc.AddAccount(ctx, &AddAccountRequest{Label: "a", Host: "github.com", Refresh: "ghr_a"})
	require.NoError(t, err)

	require.NoError(t, svc.DisableAccount(ctx, view.ID))
	assert.False(t, registry.ListAccounts()[0].Enabled)

	require.NoError(t, svc.EnableAccount(ctx, view.ID))
	assert.True(t, registry.ListAccounts()[0].Enabled)

	require.NoError(t, svc.UpdateModels(ctx, view.ID, &UpdateModelsRequest{Models: []string{"gpt-4o"}}))
	assert.Equal(t, []string{"gpt-4o"}, registry.ListAccounts()[0].Models)

	require.NoError(t, svc.RemoveAccount(ctx, view.ID))
	assert.Empty(t, registry.ListAccounts())
}
