// Package server assembles the daemon's HTTP surface: the management API
// for the account pool and the local proxy that fronts the Copilot API.
package server

import (
	"CopilotLane/internal/conf"
	"CopilotLane/internal/server/middleware"
	"CopilotLane/internal/service"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/google/wire"
)

// ProviderSet is server providers.
var ProviderSet = wire.NewSet(NewHTTPServer, NewProxyHandler)

// NewHTTPServer new an HTTP server.
func NewHTTPServer(c *conf.Server, accounts *service.AccountService, logins *service.LoginService, proxy *ProxyHandler, logger log.Logger) *http.Server {
	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
			middleware.Logging(logger),
		),
	}
	if c.Http.Network != "" {
		opts = append(opts, http.Network(c.Http.Network))
	}
	if c.Http.Addr != "" {
		opts = append(opts, http.Address(c.Http.Addr))
	}
	if c.Http.Timeout > 0 {
		opts = append(opts, http.Timeout(c.Http.Timeout))
	}
	srv := http.NewServer(opts...)

	registerAccountRoutes(srv, accounts)
	registerLoginRoutes(srv, logins)
	srv.HandlePrefix(proxyPrefix, proxy)

	return srv
}

func registerAccountRoutes(srv *http.Server, accounts *service.AccountService) {
	r := srv.Route("/v1")

	r.GET("/accounts", func(ctx http.Context) error {
		return ctx.Result(200, accounts.ListAccounts(ctx))
	})

	r.POST("/accounts", func(ctx http.Context) error {
		var req service.AddAccountRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		view, err := accounts.AddAccount(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(200, view)
	})

	r.POST("/accounts/{id}/enable", func(ctx http.Context) error {
		if err := accounts.EnableAccount(ctx, ctx.Vars().Get("id")); err != nil {
			return err
		}
		return ctx.Result(200, statusOK())
	})

	r.POST("/accounts/{id}/disable", func(ctx http.Context) error {
		if err := accounts.DisableAccount(ctx, ctx.Vars().Get("id")); err != nil {
			return err
		}
		return ctx.Result(200, statusOK())
	})

	r.DELETE("/accounts/{id}", func(ctx http.Context) error {
		if err := accounts.RemoveAccount(ctx, ctx.Vars().Get("id")); err != nil {
			return err
		}
		return ctx.Result(200, statusOK())
	})

	r.PUT("/accounts/{id}/models", func(ctx http.Context) error {
		var req service.UpdateModelsRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		if err := accounts.UpdateModels(ctx, ctx.Vars().Get("id"), &req); err != nil {
			return err
		}
		return ctx.Result(200, statusOK())
	})
}

func registerLoginRoutes(srv *http.Server, logins *service.LoginService) {
	r := srv.Route("/v1")

	r.POST("/logins", func(ctx http.Context) error {
		var req service.StartLoginRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		view, err := logins.StartLogin(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(200, view)
	})

	r.GET("/logins/{id}", func(ctx http.Context) error {
		view := logins.GetLogin(ctx.Vars().Get("id"))
		if view == nil {
			return ctx.Result(404, map[string]string{"error": "unknown login session"})
		}
		return ctx.Result(200, view)
	})

	r.DELETE("/logins/{id}", func(ctx http.Context) error {
		logins.CancelLogin(ctx.Vars().Get("id"))
		return ctx.Result(200, statusOK())
	})
}

func statusOK() map[string]string {
	return map[string]string{"status": "ok"}
}
