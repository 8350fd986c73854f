// Package config loads the simulator configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"go.yaml.in/yaml/v2"
)

// Common configuration errors
var (
	ErrIntervalUnset = errors.New("transaction generation interval is not configured")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// MaxTxGenSlotMs is the largest slot, in milliseconds, representable as a
// time.Duration. It bounds both tx_gen_slot_ms and block_slot_ms.
const MaxTxGenSlotMs = uint64(math.MaxInt64 / int64(time.Millisecond))

// Failure policies accepted in FailurePolicy.
const (
	PolicyQuarantine = "quarantine"
	PolicyHalt       = "halt"
)

// Config holds the simulator settings.
type Config struct {
	// TxGenSlotMs is the pause between generated transactions, per client.
	// nil means unset; zero is a valid interval.
	TxGenSlotMs *uint64 `yaml:"tx_gen_slot_ms"`

	// BlockSlotMs is the pause between blocks mined by each node. Zero
	// disables mining.
	BlockSlotMs uint64 `yaml:"block_slot_ms"`

	Nodes   int `yaml:"nodes"`
	Clients int `yaml:"clients"`

	// FailurePolicy is "quarantine" or "halt".
	FailurePolicy string `yaml:"failure_policy"`

	MempoolSize int    `yaml:"mempool_size"`
	LogLevel    string `yaml:"log_level"`

	// MetricsAddr enables the Prometheus endpoint when non-empty.
	MetricsAddr string `yaml:"metrics_addr"`

	// EventsAddr enables the ZeroMQ quarantine feed when non-empty.
	EventsAddr string `yaml:"events_addr"`

	// ReportPath enables the Arrow delivery report when non-empty.
	ReportPath string `yaml:"report_path"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	slot := uint64(500)
	return &Config{
		TxGenSlotMs:   &slot,
		BlockSlotMs:   2000,
		Nodes:         4,
		Clients:       2,
		FailurePolicy: PolicyQuarantine,
		MempoolSize:   10000,
		LogLevel:      "info",
	}
}

// Load reads a YAML file on top of DefaultConfig and validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes YAML on top of DefaultConfig and validates the result.
// A document that sets tx_gen_slot_ms to null leaves the interval unset.
func Parse(raw []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.UnmarshalStrict(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field ranges. An unset interval is not a validation
// error; it surfaces when a trigger loop asks for it.
func (c *Config) Validate() error {
	if c.Nodes < 0 {
		return fmt.Errorf("%w: nodes must be >= 0, got %d", ErrInvalidConfig, c.Nodes)
	}
	if c.Clients < 0 {
		return fmt.Errorf("%w: clients must be >= 0, got %d", ErrInvalidConfig, c.Clients)
	}
	if c.MempoolSize <= 0 {
		return fmt.Errorf("%w: mempool_size must be > 0, got %d", ErrInvalidConfig, c.MempoolSize)
	}
	if c.TxGenSlotMs != nil && *c.TxGenSlotMs > MaxTxGenSlotMs {
		return fmt.Errorf("%w: tx_gen_slot_ms must be <= %d, got %d", ErrInvalidConfig, MaxTxGenSlotMs, *c.TxGenSlotMs)
	}
	if c.BlockSlotMs > MaxTxGenSlotMs {
		return fmt.Errorf("%w: block_slot_ms must be <= %d, got %d", ErrInvalidConfig, MaxTxGenSlotMs, c.BlockSlotMs)
	}
	switch c.FailurePolicy {
	case PolicyQuarantine, PolicyHalt:
	default:
		return fmt.Errorf("%w: unknown failure_policy %q", ErrInvalidConfig, c.FailurePolicy)
	}
	return nil
}

// TxGenInterval returns the configured transaction generation interval.
func (c *Config) TxGenInterval() (time.Duration, error) {
	if c == nil || c.TxGenSlotMs == nil {
		return 0, ErrIntervalUnset
	}
	if *c.TxGenSlotMs > MaxTxGenSlotMs {
		return 0, fmt.Errorf("%w: tx_gen_slot_ms %d overflows a duration", ErrInvalidConfig, *c.TxGenSlotMs)
	}
	return time.Duration(*c.TxGenSlotMs) * time.Millisecond, nil
}

// BlockInterval returns the per-node mining interval, or zero when mining
// is disabled. Validate bounds BlockSlotMs.
func (c *Config) BlockInterval() time.Duration {
	if c == nil || c.BlockSlotMs > MaxTxGenSlotMs {
		return 0
	}
	return time.Duration(c.BlockSlotMs) * time.Millisecond
}
