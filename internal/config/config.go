// Package config resolves proxy settings from command-line flags,
// environment variables, and defaults, in that priority order, the way
// the teacher's cmd/karoo/main.go resolves its own Config.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
)

// Config holds every tunable recognized by the proxy, per spec.md §4.6
// and SPEC_FULL.md §4.6.
type Config struct {
	ProxyHost    string
	ProxyPort    int
	OpenSongHost string
	OpenSongPort int

	BackoffMinMs        int
	BackoffMaxMs        int
	MaxConnectionsPerIP int
	LogLevel            string
}

// defaults mirror spec.md §4.6 and SPEC_FULL.md §4.6.
func defaults() Config {
	return Config{
		ProxyHost:           "localhost",
		ProxyPort:           8082,
		OpenSongHost:        "opensong",
		OpenSongPort:        8082,
		BackoffMinMs:        1000,
		BackoffMaxMs:        30000,
		MaxConnectionsPerIP: 50,
		LogLevel:            "info",
	}
}

// Load resolves Config from args (typically os.Args[1:]) and the
// process environment, applying defaults for anything neither source
// supplies. Command-line flags take priority over environment
// variables, which take priority over defaults.
func Load(args []string) (Config, error) {
	cfg := defaults()

	applyEnv(&cfg)

	fs := flag.NewFlagSet("opensong-proxy", flag.ContinueOnError)
	proxyHost := fs.String("proxy-host", cfg.ProxyHost, "bind address")
	proxyPort := fs.Int("proxy-port", cfg.ProxyPort, "bind port")
	opensongHost := fs.String("opensong-host", cfg.OpenSongHost, "upstream host")
	opensongPort := fs.Int("opensong-port", cfg.OpenSongPort, "upstream port")
	backoffMin := fs.Int("reconnect-backoff-min", cfg.BackoffMinMs, "minimum reconnect backoff in ms")
	backoffMax := fs.Int("reconnect-backoff-max", cfg.BackoffMaxMs, "maximum reconnect backoff in ms")
	maxPerIP := fs.Int("max-connections-per-ip", cfg.MaxConnectionsPerIP, "max concurrent connections per source IP")
	logLevel := fs.String("log-level", cfg.LogLevel, "log level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.ProxyHost = *proxyHost
	cfg.ProxyPort = *proxyPort
	cfg.OpenSongHost = *opensongHost
	cfg.OpenSongPort = *opensongPort
	cfg.BackoffMinMs = *backoffMin
	cfg.BackoffMaxMs = *backoffMax
	cfg.MaxConnectionsPerIP = *maxPerIP
	cfg.LogLevel = *logLevel

	if cfg.BackoffMaxMs < cfg.BackoffMinMs {
		return Config{}, fmt.Errorf("reconnect-backoff-max (%d) must be >= reconnect-backoff-min (%d)",
			cfg.BackoffMaxMs, cfg.BackoffMinMs)
	}

	return cfg, nil
}

// applyEnv overlays environment variables onto cfg's defaults, before
// flags are parsed (so flags still win when both are given).
func applyEnv(cfg *Config) {
	if v := os.Getenv("PROXY_HOST"); v != "" {
		cfg.ProxyHost = v
	}
	if v := os.Getenv("PROXY_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ProxyPort = n
		}
	}
	if v := os.Getenv("OPENSONG_HOST"); v != "" {
		cfg.OpenSongHost = v
	}
	if v := os.Getenv("OPENSONG_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.OpenSongPort = n
		}
	}
	if v := os.Getenv("RECONNECT_BACKOFF_MIN_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BackoffMinMs = n
		}
	}
	if v := os.Getenv("RECONNECT_BACKOFF_MAX_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BackoffMaxMs = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS_PER_IP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConnectionsPerIP = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}
