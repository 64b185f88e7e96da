// Package biz contains business logic layer implementations.
// This layer holds the credential pool, selection strategies, and
// the proactive token refresh task.
package biz

import (
	"CopilotLane/internal/conf"

	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewRegistry,
	NewRefreshTask,
	NewLogNotifier,
	ProvideAvailabilityCache,
	wire.Bind(new(UsageNotifier), new(*LogNotifier)),
)

// ProvideAvailabilityCache builds the per-account model cache sized by
// the configured TTL.
func ProvideAvailabilityCache(c *conf.Pool) *ModelAvailabilityCache {
	return NewModelAvailabilityCache(c.ModelCacheTTL)
}
