package main

import (
	"context"
	"time"

	"CopilotLane/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

// newRefreshCron schedules the proactive token refresh: every 15 minutes,
// refresh every enabled account whose token expires within the configured
// window. Returns the started scheduler so the app can stop it on shutdown.
func newRefreshCron(task *biz.RefreshTask, logger log.Logger) (*cron.Cron, error) {
	helper := log.NewHelper(logger)

	c := cron.New()
	_, err := c.AddFunc("*/15 * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		if err := task.RefreshExpiringTokens(ctx); err != nil {
			helper.Errorw("msg", "token refresh run failed", "error", err.Error())
		}
	})
	if err != nil {
		return nil, err
	}

	c.Start()
	helper.Info("token refresh scheduler started, runs every 15 minutes")
	return c, nil
}
