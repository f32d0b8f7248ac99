package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"trading-connector-go/gateway"
	"trading-connector-go/infrastructure/logger"
	"trading-connector-go/order"
	"trading-connector-go/stream"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env      string                   `yaml:"env"`
	Gateway  GatewaySettings          `yaml:"gateway"`
	Tracker  TrackerSettings          `yaml:"tracker"`
	Monitor  MonitorSettings          `yaml:"monitor"`
	Stream   StreamSettings           `yaml:"stream"`
	Chains   map[string]ChainSettings `yaml:"chains"`
	Logger   logger.Config            `yaml:"logger"`
	Metrics  MetricsSettings          `yaml:"metrics"`
	Snapshot SnapshotSettings         `yaml:"snapshot"`
}

// GatewaySettings points the connector at the gateway relay.
type GatewaySettings struct {
	BaseURL          string  `yaml:"baseURL"`
	RequestTimeoutMs int     `yaml:"requestTimeoutMs"`
	RequestsPerSec   float64 `yaml:"requestsPerSec"`
	Burst            int     `yaml:"burst"`
}

// TrackerSettings tunes the order tracker partitions.
type TrackerSettings struct {
	CacheTTLSec       int `yaml:"cacheTTLSec"`
	CacheCapacity     int `yaml:"cacheCapacity"`
	NotFoundLimit     int `yaml:"notFoundLimit"`
	FillWaitTimeoutMs int `yaml:"fillWaitTimeoutMs"`
}

// TrackerConfig converts to the tracker's native config, leaving zero
// fields to its defaults.
func (t TrackerSettings) TrackerConfig() order.TrackerConfig {
	return order.TrackerConfig{
		CacheTTL:        time.Duration(t.CacheTTLSec) * time.Second,
		CacheCapacity:   t.CacheCapacity,
		NotFoundLimit:   t.NotFoundLimit,
		FillWaitTimeout: time.Duration(t.FillWaitTimeoutMs) * time.Millisecond,
	}
}

// MonitorSettings bounds transaction status polling.
type MonitorSettings struct {
	PollIntervalMs int `yaml:"pollIntervalMs"`
	MaxPollTimeSec int `yaml:"maxPollTimeSec"`
}

// MonitorConfig converts to the monitor's native config.
func (m MonitorSettings) MonitorConfig() gateway.MonitorConfig {
	return gateway.MonitorConfig{
		PollInterval: time.Duration(m.PollIntervalMs) * time.Millisecond,
		MaxPollTime:  time.Duration(m.MaxPollTimeSec) * time.Second,
	}
}

// StreamSettings configures the websocket event stream.
type StreamSettings struct {
	URL            string `yaml:"url"`
	MaxRetries     int    `yaml:"maxRetries"`
	RetryBackoffMs int    `yaml:"retryBackoffMs"`
	ReadTimeoutSec int    `yaml:"readTimeoutSec"`
}

// StreamConfig converts to the listener's native config.
func (s StreamSettings) StreamConfig() stream.Config {
	return stream.Config{
		URL:          s.URL,
		MaxRetries:   s.MaxRetries,
		RetryBackoff: time.Duration(s.RetryBackoffMs) * time.Millisecond,
		ReadTimeout:  time.Duration(s.ReadTimeoutSec) * time.Second,
	}
}

// ChainSettings holds the per-chain fee and retry policy. Total fees are
// denominated in the chain's native currency.
type ChainSettings struct {
	DefaultComputeUnits    uint64  `yaml:"defaultComputeUnits"`
	FeeEstimateIntervalSec int     `yaml:"feeEstimateIntervalSec"`
	MinTotalFee            float64 `yaml:"minTotalFee"`
	MaxTotalFee            float64 `yaml:"maxTotalFee"`
	RetryCount             int     `yaml:"retryCount"`
	RetryIntervalMs        int     `yaml:"retryIntervalMs"`
	RetryFeeMultiplier     float64 `yaml:"retryFeeMultiplier"`
}

// ChainConfig converts to the transaction handler's native config.
func (c ChainSettings) ChainConfig() gateway.ChainConfig {
	return gateway.ChainConfig{
		DefaultComputeUnits: c.DefaultComputeUnits,
		FeeEstimateInterval: time.Duration(c.FeeEstimateIntervalSec) * time.Second,
		MinTotalFee:         c.MinTotalFee,
		MaxTotalFee:         c.MaxTotalFee,
		RetryCount:          c.RetryCount,
		RetryInterval:       time.Duration(c.RetryIntervalMs) * time.Millisecond,
		RetryFeeMultiplier:  c.RetryFeeMultiplier,
	}
}

// ChainConfigs converts every configured chain.
func (c AppConfig) ChainConfigs() map[string]gateway.ChainConfig {
	out := make(map[string]gateway.ChainConfig, len(c.Chains))
	for name, cs := range c.Chains {
		out[name] = cs.ChainConfig()
	}
	return out
}

// MetricsSettings controls the Prometheus endpoint.
type MetricsSettings struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// SnapshotSettings controls order state persistence.
type SnapshotSettings struct {
	Path        string `yaml:"path"`
	IntervalSec int    `yaml:"intervalSec"`
}

// Load reads YAML config from path and applies basic validation.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides deployment-sensitive
// fields from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("CONNECTOR_GATEWAY_URL"); v != "" {
		cfg.Gateway.BaseURL = v
	}
	if v := os.Getenv("CONNECTOR_STREAM_URL"); v != "" {
		cfg.Stream.URL = v
	}
	if v := os.Getenv("CONNECTOR_LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	return cfg, Validate(cfg)
}

// Validate ensures required fields are present and bounds are sane.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if cfg.Gateway.BaseURL == "" {
		return errors.New("gateway.baseURL is required (or CONNECTOR_GATEWAY_URL)")
	}
	if cfg.Gateway.RequestTimeoutMs < 0 {
		return errors.New("gateway.requestTimeoutMs must be >= 0")
	}
	if cfg.Gateway.RequestsPerSec < 0 {
		return errors.New("gateway.requestsPerSec must be >= 0")
	}
	if cfg.Tracker.CacheTTLSec < 0 || cfg.Tracker.CacheCapacity < 0 ||
		cfg.Tracker.NotFoundLimit < 0 || cfg.Tracker.FillWaitTimeoutMs < 0 {
		return errors.New("tracker bounds must be >= 0")
	}
	if cfg.Monitor.PollIntervalMs < 0 || cfg.Monitor.MaxPollTimeSec < 0 {
		return errors.New("monitor bounds must be >= 0")
	}
	for name, cs := range cfg.Chains {
		if cs.MinTotalFee < 0 {
			return fmt.Errorf("chain %s minTotalFee must be >= 0", name)
		}
		if cs.MaxTotalFee < 0 {
			return fmt.Errorf("chain %s maxTotalFee must be >= 0", name)
		}
		if cs.MaxTotalFee > 0 && cs.MinTotalFee > cs.MaxTotalFee {
			return fmt.Errorf("chain %s minTotalFee exceeds maxTotalFee", name)
		}
		if cs.RetryCount < 0 {
			return fmt.Errorf("chain %s retryCount must be >= 0", name)
		}
		if cs.RetryFeeMultiplier < 0 {
			return fmt.Errorf("chain %s retryFeeMultiplier must be >= 0", name)
		}
		if cs.RetryFeeMultiplier > 0 && cs.RetryFeeMultiplier < 1 {
			return fmt.Errorf("chain %s retryFeeMultiplier must be >= 1", name)
		}
	}
	return nil
}
