package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader loads a Config from an optional YAML file followed by environment
// variable overrides. Tests can override Lookup to inject a deterministic
// environment instead of the real one.
type Loader struct {
	Lookup func(string) (string, bool)
}

// Load reads cfgPath (if non-empty) as YAML over the defaults, then applies
// AVSYNC_* environment overrides, then validates the result.
func (l Loader) Load(cfgPath string) (Config, error) {
	if l.Lookup == nil {
		l.Lookup = os.LookupEnv
	}

	cfg := Default()
	if strings.TrimSpace(cfgPath) != "" {
		raw, err := os.ReadFile(cfgPath)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", cfgPath, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", cfgPath, err)
		}
	}

	overrideString(l.Lookup, "AVSYNC_LOG_LEVEL", &cfg.LogLevel)
	if err := overrideInt(l.Lookup, "AVSYNC_PACKET_QUEUE_CAPACITY", &cfg.PacketQueueCapacity); err != nil {
		return Config{}, err
	}
	if err := overrideInt(l.Lookup, "AVSYNC_FRAME_QUEUE_CAPACITY", &cfg.FrameQueueCapacity); err != nil {
		return Config{}, err
	}
	if err := overrideInt(l.Lookup, "AVSYNC_DRIFT_HARD_RESET_MS", &cfg.DriftHardResetMs); err != nil {
		return Config{}, err
	}
	if err := overrideFloat(l.Lookup, "AVSYNC_RESAMPLE_MAX_RATIO", &cfg.ResampleMaxRatio); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overrideString(lookup func(string) (string, bool), key string, dst *string) {
	if v, ok := lookup(key); ok && v != "" {
		*dst = v
	}
}

func overrideInt(lookup func(string) (string, bool), key string, dst *int) error {
	v, ok := lookup(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = n
	return nil
}

func overrideFloat(lookup func(string) (string, bool), key string, dst *float64) error {
	v, ok := lookup(key)
	if !ok || v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = f
	return nil
}
