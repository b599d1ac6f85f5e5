// Package config loads gateway configuration from a JSON file, with
// environment variable overrides for container-friendly deployment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds the effective gateway configuration (spec.md §3).
type Config struct {
	Port int `json:"port"`

	WsMaxPayload               int64 `json:"wsMaxPayload"`
	WsHeartbeatIntervalMs      int64 `json:"wsHeartbeatIntervalMs"`
	WsAuthTimeoutMs            int64 `json:"wsAuthTimeoutMs"`
	WsTicketTtlMs              int64 `json:"wsTicketTtlMs"`
	WsTicketMaxKubeconfigBytes int64 `json:"wsTicketMaxKubeconfigBytes"`

	WsAllowedOrigins []string `json:"wsAllowedOrigins"`

	Debug bool `json:"debug"`
}

// Default returns the hardcoded defaults (spec.md §6's config.json example).
func Default() *Config {
	return &Config{
		Port:                       8080,
		WsMaxPayload:               1 << 20, // 1 MiB
		WsHeartbeatIntervalMs:      30_000,
		WsAuthTimeoutMs:            10_000,
		WsTicketTtlMs:              60_000,
		WsTicketMaxKubeconfigBytes: 64 * 1024,
		WsAllowedOrigins:           []string{},
		Debug:                      false,
	}
}

// Load reads configuration from path, falling back to defaults for a
// missing file (not an error) but failing on an unparsable one. Environment
// variables are applied on top, matching the teacher's env-override style.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				// Missing file: defaults + env overrides only.
				applyEnvOverrides(cfg)
				return cfg, nil
			}
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.Port = getIntEnvOrDefault("TTY_AGENT_PORT", cfg.Port)
	cfg.WsMaxPayload = getInt64EnvOrDefault("TTY_AGENT_WS_MAX_PAYLOAD", cfg.WsMaxPayload)
	cfg.WsHeartbeatIntervalMs = getInt64EnvOrDefault("TTY_AGENT_WS_HEARTBEAT_INTERVAL_MS", cfg.WsHeartbeatIntervalMs)
	cfg.WsAuthTimeoutMs = getInt64EnvOrDefault("TTY_AGENT_WS_AUTH_TIMEOUT_MS", cfg.WsAuthTimeoutMs)
	cfg.WsTicketTtlMs = getInt64EnvOrDefault("TTY_AGENT_WS_TICKET_TTL_MS", cfg.WsTicketTtlMs)
	cfg.WsTicketMaxKubeconfigBytes = getInt64EnvOrDefault("TTY_AGENT_WS_TICKET_MAX_KUBECONFIG_BYTES", cfg.WsTicketMaxKubeconfigBytes)

	if v := os.Getenv("TTY_AGENT_WS_ALLOWED_ORIGINS"); v != "" {
		cfg.WsAllowedOrigins = splitAndTrim(v)
	}
	if v := os.Getenv("TTY_AGENT_DEBUG"); v != "" {
		cfg.Debug = v == "true" || v == "1"
	}
}

func splitAndTrim(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getIntEnvOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getInt64EnvOrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

// OriginAllowed reports whether origin is accepted under the allowlist.
// An empty allowlist means "allow all" (spec.md §4.5/§9).
func (c *Config) OriginAllowed(origin string) bool {
	if len(c.WsAllowedOrigins) == 0 {
		return true
	}
	if origin == "" {
		return false
	}
	for _, allowed := range c.WsAllowedOrigins {
		if allowed == origin {
			return true
		}
	}
	return false
}
