package biz

import (
	"context"

	"CopilotLane/internal/data"

	"github.com/go-kratos/kratos/v2/log"
)

// Selection reasons propagated to the UsageNotifier.
const (
	ReasonSticky     = "sticky"
	ReasonRoundRobin = "round-robin"
	ReasonHybrid     = "hybrid"
	ReasonFallback   = "fallback"
)

// UsageNotifier receives "account X was selected for model Y because Z"
// events. Implementations must be non-blocking friendly: the request path
// calls this fire-and-forget and swallows every error.
type UsageNotifier interface {
	AccountSelected(ctx context.Context, account *data.Account, model, reason string) error
}

// LogNotifier reports selections through the structured log.
type LogNotifier struct {
	logger *log.Helper
}

// NewLogNotifier creates the logging UsageNotifier.
func NewLogNotifier(logger log.Logger) *LogNotifier {
	return &LogNotifier{
		logger: log.NewHelper(logger),
	}
}

// AccountSelected implements UsageNotifier.
func (n *LogNotifier) AccountSelected(_ context.Context, account *data.Account, model, reason string) error {
	shortID := account.ID
	if len(shortID) > 6 {
		shortID = shortID[:6]
	}
	n.logger.Infow(
		"msg", "account selected",
		"label", account.Label,
		"id", shortID,
		"host", account.Host,
		"model", model,
		"reason", reason,
	)
	return nil
}

// NoopNotifier discards every event.
type NoopNotifier struct{}

// AccountSelected implements UsageNotifier.
func (NoopNotifier) AccountSelected(context.Context, *data.Account, string, string) error {
	return nil
}
