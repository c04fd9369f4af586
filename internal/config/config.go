package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	Server  ServerConfig
	Redis   RedisConfig
	Bridge  BridgeConfig
	Tracker TrackerConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int
}

// RedisConfig holds the connection settings for the backing store.
// An empty Addr selects the in-memory store (tests, local development).
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// BridgeConfig holds aggregator and scoring configuration
type BridgeConfig struct {
	// EnabledProviders is the construction order of the provider registry
	EnabledProviders []string
	// PreferredProviders is the fixed preference order used by the
	// reliability sort priority; unknown providers sort last
	PreferredProviders []string
	// IntermediateChains is the fixed priority list of candidate
	// intermediate chains for the two-hop route search
	IntermediateChains []string
	MaxBridgeTime      time.Duration
	PreferFastFill     bool
	SupportCacheTTL    time.Duration
	QuoteTimeout       time.Duration
	AcrossEndpoint     string
}

// TrackerConfig holds status-record and event-log retention policy.
// These TTLs are part of the store contract: status records outlive typical
// polling windows, plans are short-lived, logs are capped and bounded.
type TrackerConfig struct {
	PlanTTL      time.Duration
	StatusTTL    time.Duration
	EventTTL     time.Duration
	HistoryTTL   time.Duration
	EventLogCap  int64
	HistoryCap   int64
	PollInterval time.Duration
}

// LoadConfig loads configuration from CHAINSWEEP_-prefixed environment variables
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CHAINSWEEP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.port", 8080)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("bridge.providers", "across,stargate,hop,cbridge,socket")
	v.SetDefault("bridge.preferred_providers", "across,stargate,hop,cbridge,socket")
	v.SetDefault("bridge.intermediate_chains", "ethereum,arbitrum,base,optimism,polygon")
	v.SetDefault("bridge.max_bridge_time", "30m")
	v.SetDefault("bridge.prefer_fast_fill", true)
	v.SetDefault("bridge.support_cache_ttl", "5m")
	v.SetDefault("bridge.quote_timeout", "15s")
	v.SetDefault("bridge.across_endpoint", "https://app.across.to/api")

	v.SetDefault("tracker.plan_ttl", "30m")
	v.SetDefault("tracker.status_ttl", "168h")
	v.SetDefault("tracker.event_ttl", "24h")
	v.SetDefault("tracker.history_ttl", "720h")
	v.SetDefault("tracker.event_log_cap", 100)
	v.SetDefault("tracker.history_cap", 100)
	v.SetDefault("tracker.poll_interval", "30s")

	cfg := &Config{
		Server: ServerConfig{
			Port: v.GetInt("server.port"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Bridge: BridgeConfig{
			EnabledProviders:   splitList(v.GetString("bridge.providers")),
			PreferredProviders: splitList(v.GetString("bridge.preferred_providers")),
			IntermediateChains: splitList(v.GetString("bridge.intermediate_chains")),
			MaxBridgeTime:      v.GetDuration("bridge.max_bridge_time"),
			PreferFastFill:     v.GetBool("bridge.prefer_fast_fill"),
			SupportCacheTTL:    v.GetDuration("bridge.support_cache_ttl"),
			QuoteTimeout:       v.GetDuration("bridge.quote_timeout"),
			AcrossEndpoint:     v.GetString("bridge.across_endpoint"),
		},
		Tracker: TrackerConfig{
			PlanTTL:      v.GetDuration("tracker.plan_ttl"),
			StatusTTL:    v.GetDuration("tracker.status_ttl"),
			EventTTL:     v.GetDuration("tracker.event_ttl"),
			HistoryTTL:   v.GetDuration("tracker.history_ttl"),
			EventLogCap:  v.GetInt64("tracker.event_log_cap"),
			HistoryCap:   v.GetInt64("tracker.history_cap"),
			PollInterval: v.GetDuration("tracker.poll_interval"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if len(c.Bridge.EnabledProviders) == 0 {
		return fmt.Errorf("at least one bridge provider must be enabled")
	}
	if c.Bridge.MaxBridgeTime <= 0 {
		return fmt.Errorf("max bridge time must be positive")
	}
	if c.Tracker.EventLogCap <= 0 || c.Tracker.HistoryCap <= 0 {
		return fmt.Errorf("event log and history caps must be positive")
	}
	return nil
}

func splitList(s string) []string {
	parts := make([]string, 0)
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
