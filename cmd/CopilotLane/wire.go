//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package main

import (
	"CopilotLane/internal/biz"
	"CopilotLane/internal/conf"
	"CopilotLane/internal/data"
	"CopilotLane/internal/router"
	"CopilotLane/internal/server"
	"CopilotLane/internal/service"
	"CopilotLane/pkg/oauth"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// wireApp init kratos application.
func wireApp(*conf.Server, *conf.Store, *conf.Pool, *conf.Upstream, log.Logger) (*kratos.App, func(), error) {
	panic(wire.Build(
		data.ProviderSet,
		biz.ProviderSet,
		oauth.ProviderSet,
		router.ProviderSet,
		service.ProviderSet,
		server.ProviderSet,
		newRefreshCron,
		newApp,
		wire.Bind(new(biz.TokenRefresher), new(*oauth.Client)),
	))
}
