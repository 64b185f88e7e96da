// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment variables,
// with CLI flag overrides.
package conf

import "time"

// Selection strategies for the account pool.
const (
	// StrategySticky always serves the first eligible account in stored order.
	StrategySticky = "sticky"
	// StrategyRoundRobin rotates through eligible accounts with a cursor.
	StrategyRoundRobin = "round-robin"
	// StrategyHybrid scores accounts by failure streak and recency.
	StrategyHybrid = "hybrid"
)

// Store backends for the persisted account pool.
const (
	// BackendFile persists the store as an owner-only JSON file.
	BackendFile = "file"
	// BackendMemory keeps the store in memory only; nothing survives restart.
	BackendMemory = "memory"
	// BackendRedis persists the store document in a single Redis key.
	BackendRedis = "redis"
)

// MemoryPathSentinel is the accounts-path value that selects the in-memory
// ephemeral store regardless of the configured backend.
const MemoryPathSentinel = "memory"

// Bootstrap is the root configuration for the CopilotLane daemon.
type Bootstrap struct {
	Server   *Server
	Store    *Store
	Pool     *Pool
	Upstream *Upstream
	Log      *Log
}

// Server holds transport configuration.
type Server struct {
	Http *ServerHTTP
}

// ServerHTTP configures the local HTTP listener (management API + proxy).
type ServerHTTP struct {
	Network string
	Addr    string
	Timeout time.Duration
}

// Store configures where the account pool is persisted.
type Store struct {
	// Backend is one of file, memory, redis.
	Backend string
	// Path is the JSON file location for the file backend. Empty selects the
	// per-user default; the value "memory" forces the ephemeral store.
	Path string
	// Redis configures the redis backend.
	Redis *Redis
}

// Redis holds connection settings for the redis store backend.
type Redis struct {
	Network      string
	Addr         string
	Key          string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Pool configures account selection and health accounting.
type Pool struct {
	// Strategy is one of sticky, round-robin, hybrid.
	Strategy string
	// ModelCacheTTL bounds availability cache entries.
	ModelCacheTTL time.Duration
	// DefaultBackoff is the cooldown applied on auth failures and on rate
	// limits without a server-provided hint.
	DefaultBackoff time.Duration
	// MaxBackoff clamps server-provided retry hints.
	MaxBackoff time.Duration
	// StickyIdleWindow keeps an agent task pinned to one account while its
	// calls stay within this gap.
	StickyIdleWindow time.Duration
	// RefreshWindow is how far ahead of token expiry the background refresh
	// task acts.
	RefreshWindow time.Duration
}

// Upstream configures the Copilot API endpoints and OAuth client.
type Upstream struct {
	// PublicHost is the issuing authority for non-enterprise accounts.
	PublicHost string
	// ClientID is the OAuth client used for device flow and token refresh.
	ClientID string
	// ProxyURL routes outbound calls through an HTTP/HTTPS/SOCKS5 proxy.
	ProxyURL string
	// Timeout bounds a single upstream exchange.
	Timeout time.Duration
}

// Log holds logging configuration.
type Log struct {
	Level      string
	Format     string
	OutputFile string
}
