// Package config loads the mixer's tunables from a TOML document.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds every knob the engine needs that isn't part of the musical
// data model itself: device format, timing cadences, and thresholds.
type Config struct {
	DeviceSampleRate int     `toml:"device_sample_rate"`
	DeviceChannels   int     `toml:"device_channels"`
	BlockSize        int     `toml:"block_size"`
	CatalogPath      string  `toml:"catalog_path"`
	CommandQueueSize int     `toml:"command_queue_size"`
	GainRampMillis   float64 `toml:"gain_ramp_millis"`
	DriftCheckMillis int     `toml:"drift_check_millis"`
	DriftThresholdMs float64 `toml:"drift_threshold_millis"`
	LogBufferEntries int     `toml:"log_buffer_entries"`
}

// Default returns the configuration the engine runs with absent a file on
// disk, matching the values named throughout the design document.
func Default() Config {
	return Config{
		DeviceSampleRate: 44100,
		DeviceChannels:   2,
		BlockSize:        512,
		CatalogPath:      "catalog.toml",
		CommandQueueSize: 64,
		GainRampMillis:   250,
		DriftCheckMillis: 500,
		DriftThresholdMs: 15,
		LogBufferEntries: 2000,
	}
}

// Load decodes a TOML config file, starting from Default and overwriting
// only the fields present in the document.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects a configuration that would make the clock or the drift
// monitor's "strictly greater than one block" requirement meaningless.
func (c Config) Validate() error {
	if c.DeviceSampleRate <= 0 {
		return fmt.Errorf("device_sample_rate must be positive, got %d", c.DeviceSampleRate)
	}
	if c.DeviceChannels != 1 && c.DeviceChannels != 2 {
		return fmt.Errorf("device_channels must be 1 or 2, got %d", c.DeviceChannels)
	}
	if c.BlockSize <= 0 {
		return fmt.Errorf("block_size must be positive, got %d", c.BlockSize)
	}
	if c.CommandQueueSize <= 0 {
		return fmt.Errorf("command_queue_size must be positive, got %d", c.CommandQueueSize)
	}
	blockMillis := 1000 * float64(c.BlockSize) / float64(c.DeviceSampleRate)
	if c.DriftThresholdMs <= blockMillis {
		return fmt.Errorf("drift_threshold_millis (%.3f) must exceed one block (%.3f ms)", c.DriftThresholdMs, blockMillis)
	}
	return nil
}

// DriftCheckInterval converts the configured cadence to a time.Duration.
func (c Config) DriftCheckInterval() time.Duration {
	return time.Duration(c.DriftCheckMillis) * time.Millisecond
}

// GainRampFrames converts the configured ramp duration to device frames.
func (c Config) GainRampFrames() int64 {
	return int64(c.GainRampMillis * float64(c.DeviceSampleRate) / 1000.0)
}

// DriftThresholdFrames converts the configured threshold to device frames.
func (c Config) DriftThresholdFrames() int64 {
	return int64(c.DriftThresholdMs * float64(c.DeviceSampleRate) / 1000.0)
}
