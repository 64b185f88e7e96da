package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies
// defaults, and allows overrides from environment variables prefixed with
// COPILOTLANE_.
//
// Configuration priority: CLI flags > Environment variables > Config file > Defaults
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("COPILOTLANE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Direct environment variable names for values commonly set without the
	// prefix.
	_ = v.BindEnv("store.path", "COPILOT_ACCOUNTS_PATH", "COPILOTLANE_STORE_PATH")
	_ = v.BindEnv("store.redis.addr", "COPILOTLANE_STORE_REDIS_ADDR")
	_ = v.BindEnv("upstream.client_id", "COPILOT_CLIENT_ID", "COPILOTLANE_UPSTREAM_CLIENT_ID")
	_ = v.BindEnv("upstream.proxy_url", "HTTPS_PROXY", "COPILOTLANE_UPSTREAM_PROXY_URL")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	bc := &Bootstrap{
		Server: &Server{
			Http: &ServerHTTP{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: v.GetDuration("server.http.timeout"),
			},
		},
		Store: &Store{
			Backend: v.GetString("store.backend"),
			Path:    v.GetString("store.path"),
			Redis: &Redis{
				Network:      v.GetString("store.redis.network"),
				Addr:         v.GetString("store.redis.addr"),
				Key:          v.GetString("store.redis.key"),
				ReadTimeout:  v.GetDuration("store.redis.read_timeout"),
				WriteTimeout: v.GetDuration("store.redis.write_timeout"),
			},
		},
		Pool: &Pool{
			Strategy:         v.GetString("pool.strategy"),
			ModelCacheTTL:    v.GetDuration("pool.model_cache_ttl"),
			DefaultBackoff:   v.GetDuration("pool.default_backoff"),
			MaxBackoff:       v.GetDuration("pool.max_backoff"),
			StickyIdleWindow: v.GetDuration("pool.sticky_idle_window"),
			RefreshWindow:    v.GetDuration("pool.refresh_window"),
		},
		Upstream: &Upstream{
			PublicHost: v.GetString("upstream.public_host"),
			ClientID:   v.GetString("upstream.client_id"),
			ProxyURL:   v.GetString("upstream.proxy_url"),
			Timeout:    v.GetDuration("upstream.timeout"),
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			OutputFile: v.GetString("log.output_file"),
		},
	}

	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", "127.0.0.1:8191")
	v.SetDefault("server.http.timeout", 10*time.Minute)

	// Store defaults
	v.SetDefault("store.backend", BackendFile)
	// Note: store.path empty means the per-user default location
	v.SetDefault("store.redis.network", "tcp")
	v.SetDefault("store.redis.addr", "127.0.0.1:6379")
	v.SetDefault("store.redis.key", "copilotlane:accounts")
	v.SetDefault("store.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("store.redis.write_timeout", 200*time.Millisecond)

	// Pool defaults mirror the upstream plugin's documented behavior
	v.SetDefault("pool.strategy", StrategyHybrid)
	v.SetDefault("pool.model_cache_ttl", 24*time.Hour)
	v.SetDefault("pool.default_backoff", 30*time.Second)
	v.SetDefault("pool.max_backoff", 5*time.Minute)
	v.SetDefault("pool.sticky_idle_window", 120*time.Second)
	v.SetDefault("pool.refresh_window", 10*time.Minute)

	// Upstream defaults
	v.SetDefault("upstream.public_host", "github.com")
	v.SetDefault("upstream.client_id", "Iv1.b507a08c87ecfe98")
	v.SetDefault("upstream.timeout", 30*time.Second)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks that all required configuration fields are present and
// consistent. It returns an error listing every violation found.
func Validate(bc *Bootstrap) error {
	var problems []string

	switch bc.Pool.Strategy {
	case StrategySticky, StrategyRoundRobin, StrategyHybrid:
	default:
		problems = append(problems, fmt.Sprintf("pool.strategy must be one of %s|%s|%s, got %q",
			StrategySticky, StrategyRoundRobin, StrategyHybrid, bc.Pool.Strategy))
	}

	if bc.Pool.DefaultBackoff <= 0 {
		problems = append(problems, "pool.default_backoff must be positive")
	}
	if bc.Pool.MaxBackoff < bc.Pool.DefaultBackoff {
		problems = append(problems, "pool.max_backoff must be >= pool.default_backoff")
	}
	if bc.Pool.ModelCacheTTL <= 0 {
		problems = append(problems, "pool.model_cache_ttl must be positive")
	}

	switch bc.Store.Backend {
	case BackendFile, BackendMemory:
	case BackendRedis:
		if bc.Store.Redis == nil || bc.Store.Redis.Addr == "" {
			problems = append(problems, "store.redis.addr is required for the redis backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("store.backend must be one of %s|%s|%s, got %q",
			BackendFile, BackendMemory, BackendRedis, bc.Store.Backend))
	}

	if bc.Upstream.PublicHost == "" {
		problems = append(problems, "upstream.public_host must not be empty")
	}
	if bc.Upstream.ClientID == "" {
		problems = append(problems, "upstream.client_id must not be empty")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}

	return nil
}
