// Package main is the entry point of the CopilotLane daemon. It serves a
// local proxy for the GitHub Copilot API backed by a rotating pool of OAuth
// credentials, plus a management API for the pool itself.
package main

import (
	"context"
	"flag"
	"os"

	"CopilotLane/internal/biz"
	"CopilotLane/internal/conf"
	zapLogger "CopilotLane/pkg/log"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/robfig/cron/v3"

	_ "go.uber.org/automaxprocs"
)

// go build -ldflags "-X main.Version=x.y.z"
var (
	// Name is the name of the compiled software.
	Name = "CopilotLane"
	// Version is the version of the compiled software.
	Version string
	// flagconf is the config flag.
	flagconf string

	id, _ = os.Hostname()
)

func init() {
	flag.StringVar(&flagconf, "conf", "", "config path, eg: -conf config.yaml")
}

func newApp(logger log.Logger, hs *http.Server, refreshCron *cron.Cron, registry *biz.Registry) *kratos.App {
	helper := log.NewHelper(logger)

	return kratos.New(
		kratos.ID(id),
		kratos.Name(Name),
		kratos.Version(Version),
		kratos.Metadata(map[string]string{}),
		kratos.Logger(logger),
		kratos.Server(hs),
		kratos.BeforeStart(func(ctx context.Context) error {
			if err := registry.SeedFromAuth(ctx, seedAuth); err != nil {
				return err
			}
			if auth, err := registry.ActiveAuth(ctx, seedAuth); err == nil && auth != nil {
				helper.Infow("msg", "active auth resolved", "host", auth.Host, "base_url", auth.BaseURL)
			}
			return nil
		}),
		kratos.AfterStop(func(context.Context) error {
			refreshCron.Stop()
			return nil
		}),
	)
}

// seedAuth adapts the environment to the external auth provider contract:
// a single OAuth token handed to the daemon (for first-run migration from a
// one-account setup) seeds the pool when the store starts empty.
func seedAuth(ctx context.Context) (*biz.AuthInfo, error) {
	token := os.Getenv("COPILOT_OAUTH_TOKEN")
	if token == "" {
		return nil, nil
	}
	return &biz.AuthInfo{
		Type:          "oauth",
		Host:          "github.com",
		Access:        token,
		Refresh:       token,
		EnterpriseURL: os.Getenv("COPILOT_GHE_URL"),
	}, nil
}

func main() {
	flag.Parse()

	bc, err := conf.NewBootstrap(flagconf)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	zapLog, err := zapLogger.NewZapLogger(bc.Log)
	if err != nil {
		log.Fatalf("failed to initialize zap logger: %v", err)
	}
	defer zapLog.Sync()

	logger := log.With(zapLogger.NewKratosAdapter(zapLog),
		"service.id", id,
		"service.name", Name,
		"service.version", Version,
	)

	log.NewHelper(logger).Infow(
		"msg", "CopilotLane starting",
		"addr", bc.Server.Http.Addr,
		"store.backend", bc.Store.Backend,
		"pool.strategy", bc.Pool.Strategy,
		"log.level", bc.Log.Level,
	)

	app, cleanup, err := wireApp(bc.Server, bc.Store, bc.Pool, bc.Upstream, logger)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	if err := app.Run(); err != nil {
		panic(err)
	}
}
