// Package config loads the driver's on-disk and environment configuration.
package config

import (
	"os"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

// Default path of the driver's TOML config file.
const DefaultPath = "/etc/bluerdma/config.toml"

// Ack holds the reliability-timer defaults from spec.md §6.
type Ack struct {
	InitRetryCount       uint32 `toml:"init_retry_count"`
	TimeoutCheckDuration uint32 `toml:"timeout_check_duration"`
	LocalAckTimeout      uint32 `toml:"local_ack_timeout"`
}

// Network describes the device's link configuration.
type Network struct {
	IPAddr  string `toml:"ip_addr"`
	NetMask string `toml:"net_mask"`
	MacAddr string `toml:"mac_addr"`
	Gateway string `toml:"gateway"`
}

// Config is the parsed content of the driver's TOML config file.
type Config struct {
	Ack     Ack     `toml:"ack"`
	Network Network `toml:"network"`
}

// DefaultConfig returns the literal defaults from spec.md §6, used whenever
// the config file or individual keys are absent.
func DefaultConfig() *Config {
	return &Config{
		Ack: Ack{
			InitRetryCount:       5,
			TimeoutCheckDuration: 8,
			LocalAckTimeout:      4,
		},
	}
}

// Load reads and decodes the TOML file at path, falling back to
// DefaultConfig for any field the file omits or if the file is missing.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	parsed := *cfg
	if err := toml.Unmarshal(data, &parsed); err != nil {
		return nil, err
	}
	return &parsed, nil
}

// DebugConfig carries the emulator-only environment overrides used by
// integration tests and the loopback device mode.
type DebugConfig struct {
	EnableLoopback bool
	DropThreshold  float64
	Seed           int64
}

// LoadDebugConfig reads ENABLE_LOOPBACK, DROP_THRESHOLD and SEED directly
// from the environment; unset or malformed values fall back to disabled
// loopback, zero drop rate, and seed 0.
func LoadDebugConfig() DebugConfig {
	dc := DebugConfig{}
	if v, ok := os.LookupEnv("ENABLE_LOOPBACK"); ok {
		b, err := strconv.ParseBool(v)
		dc.EnableLoopback = err == nil && b
	}
	if v, ok := os.LookupEnv("DROP_THRESHOLD"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			dc.DropThreshold = f
		}
	}
	if v, ok := os.LookupEnv("SEED"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			dc.Seed = n
		}
	}
	return dc
}
