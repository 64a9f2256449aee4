// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package vproxy holds the process-wide configuration for the domain-routed proxy.
package vproxy

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is the prefix of every environment variable read by NewConfig.
const EnvPrefix = "VPROXY_"

// Config holds the application configuration. It is built once at startup and
// passed down by value; nothing reads it from global state.
type Config struct {
	// Listener
	Host string `env:"HOST" envDefault:"127.0.0.1"`
	Port string `env:"PORT" envDefault:"80"`

	// Routes
	RoutesFile  string `env:"ROUTES_FILE"  envDefault:"routes.txt"`
	WatchRoutes bool   `env:"WATCH_ROUTES" envDefault:"false"`
	PIDFile     string `env:"PID_FILE"     envDefault:"/tmp/vproxy.pid"`

	// Timeouts
	DialTimeout     time.Duration `env:"DIAL_TIMEOUT"     envDefault:"10s"`
	IdleTimeout     time.Duration `env:"IDLE_TIMEOUT"     envDefault:"60s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT"    envDefault:"60s"`
	HeadTimeout     time.Duration `env:"HEAD_TIMEOUT"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Resource limits
	BufferSize     int           `env:"BUFFER_SIZE"     envDefault:"4096"`
	MaxHeadBytes   int           `env:"MAX_HEAD_BYTES"  envDefault:"1048576"`
	MaxConnections int           `env:"MAX_CONNECTIONS" envDefault:"0"`
	TCPKeepAlive   time.Duration `env:"TCP_KEEPALIVE"   envDefault:"30s"`

	// Observability
	LogLevel    string `env:"LOG_LEVEL"    envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT"   envDefault:"json"`
	MetricsPort int    `env:"METRICS_PORT" envDefault:"9090"`
	HealthPort  int    `env:"HEALTH_PORT"  envDefault:"8080"`

	// Circuit breaker guarding upstream dials. Off unless BreakerMaxFailures is
	// set, so that by default a failed dial only affects its own connection.
	BreakerMaxFailures      int           `env:"BREAKER_MAX_FAILURES"      envDefault:"0"`
	BreakerResetTimeout     time.Duration `env:"BREAKER_RESET_TIMEOUT"     envDefault:"30s"`
	BreakerSuccessThreshold int           `env:"BREAKER_SUCCESS_THRESHOLD" envDefault:"1"`

	// Per-client accept rate limiting. RateLimitCapacity of 0 disables it.
	RateLimitCapacity   int64 `env:"RATE_LIMIT_CAPACITY"    envDefault:"0"`
	RateLimitRefill     int64 `env:"RATE_LIMIT_REFILL"      envDefault:"0"`
	RateLimitMaxClients int   `env:"RATE_LIMIT_MAX_CLIENTS" envDefault:"10000"`
}

// NewConfig parses the configuration from the environment. When opts.Prefix is
// empty, EnvPrefix is used.
func NewConfig(opts env.Options) (Config, error) {
	if opts.Prefix == "" {
		opts.Prefix = EnvPrefix
	}

	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, err
	}
	if cfg.HeadTimeout == 0 {
		cfg.HeadTimeout = cfg.IdleTimeout
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the values that cannot be caught by type parsing alone.
func (c Config) Validate() error {
	p, err := strconv.ParseUint(c.Port, 10, 16)
	if err != nil {
		return fmt.Errorf("invalid listen port %q: %w", c.Port, err)
	}
	if p == 0 {
		return fmt.Errorf("invalid listen port %q: must be non-zero", c.Port)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("invalid buffer size %d", c.BufferSize)
	}
	if c.RoutesFile == "" {
		return fmt.Errorf("routes file must be set")
	}
	return nil
}

// Address returns the listen address in host:port form.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}
