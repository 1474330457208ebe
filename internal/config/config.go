// Package config holds the tunables of the sync engine: queue capacities,
// drift thresholds, stall timeouts and sink buffering. Every default mirrors
// a literal threshold named in the specification, so the engine behaves
// identically to a hardcoded build unless a host overrides it.
package config

import "time"

const (
	DefaultPacketQueueCapacity = 256
	DefaultFrameQueueCapacity  = 16

	DefaultAudioStallTimeout = 500 * time.Millisecond
	DefaultVideoStallTimeout = 700 * time.Millisecond
	DefaultSinkFreezeTimeout = 1000 * time.Millisecond
	DefaultSeekTimeout       = 2000 * time.Millisecond

	DefaultAudioLatencyFallback = 100 * time.Millisecond

	DefaultDriftNormalMs     = 150
	DefaultDriftDropMs       = 300
	DefaultDriftAggressiveMs = 800
	DefaultDriftHardResetMs  = 2000

	DefaultAudioLeadMs = 40  // audio sleeps if it gets this far ahead of master
	DefaultAudioLagMs  = -80 // audio drops a frame if it falls this far behind

	DefaultResampleEngageLowMs  = 40
	DefaultResampleEngageHighMs = 100
	DefaultResampleMaxRatio     = 0.005 // +/- 0.5%

	DefaultWatchdogPeriod = 500 * time.Millisecond
	DefaultDiagnosticRate = 1 * time.Second

	DefaultMinSpeed = 0.5
	DefaultMaxSpeed = 3.0
)

// Config is the full set of tunables for one Player instance.
type Config struct {
	LogLevel string `yaml:"log_level"`

	PacketQueueCapacity int `yaml:"packet_queue_capacity"`
	FrameQueueCapacity  int `yaml:"frame_queue_capacity"`

	AudioStallTimeoutMs int `yaml:"audio_stall_timeout_ms"`
	VideoStallTimeoutMs int `yaml:"video_stall_timeout_ms"`
	SinkFreezeTimeoutMs int `yaml:"sink_freeze_timeout_ms"`
	SeekTimeoutMs       int `yaml:"seek_timeout_ms"`

	AudioLatencyFallbackMs int `yaml:"audio_latency_fallback_ms"`

	DriftNormalMs     int `yaml:"drift_normal_ms"`
	DriftDropMs       int `yaml:"drift_drop_ms"`
	DriftAggressiveMs int `yaml:"drift_aggressive_ms"`
	DriftHardResetMs  int `yaml:"drift_hard_reset_ms"`

	AudioLeadMs int `yaml:"audio_lead_ms"`
	AudioLagMs  int `yaml:"audio_lag_ms"`

	ResampleEngageLowMs  int     `yaml:"resample_engage_low_ms"`
	ResampleEngageHighMs int     `yaml:"resample_engage_high_ms"`
	ResampleMaxRatio     float64 `yaml:"resample_max_ratio"`

	WatchdogPeriodMs int `yaml:"watchdog_period_ms"`
	DiagnosticRateMs int `yaml:"diagnostic_rate_ms"`

	MinSpeed float64 `yaml:"min_speed"`
	MaxSpeed float64 `yaml:"max_speed"`
}

// Default returns a Config matching every literal threshold in the
// specification.
func Default() Config {
	return Config{
		LogLevel:               "info",
		PacketQueueCapacity:    DefaultPacketQueueCapacity,
		FrameQueueCapacity:     DefaultFrameQueueCapacity,
		AudioStallTimeoutMs:    int(DefaultAudioStallTimeout / time.Millisecond),
		VideoStallTimeoutMs:    int(DefaultVideoStallTimeout / time.Millisecond),
		SinkFreezeTimeoutMs:    int(DefaultSinkFreezeTimeout / time.Millisecond),
		SeekTimeoutMs:          int(DefaultSeekTimeout / time.Millisecond),
		AudioLatencyFallbackMs: int(DefaultAudioLatencyFallback / time.Millisecond),
		DriftNormalMs:          DefaultDriftNormalMs,
		DriftDropMs:            DefaultDriftDropMs,
		DriftAggressiveMs:      DefaultDriftAggressiveMs,
		DriftHardResetMs:       DefaultDriftHardResetMs,
		AudioLeadMs:            DefaultAudioLeadMs,
		AudioLagMs:             DefaultAudioLagMs,
		ResampleEngageLowMs:    DefaultResampleEngageLowMs,
		ResampleEngageHighMs:   DefaultResampleEngageHighMs,
		ResampleMaxRatio:       DefaultResampleMaxRatio,
		WatchdogPeriodMs:       int(DefaultWatchdogPeriod / time.Millisecond),
		DiagnosticRateMs:       int(DefaultDiagnosticRate / time.Millisecond),
		MinSpeed:               DefaultMinSpeed,
		MaxSpeed:               DefaultMaxSpeed,
	}
}

// Validate rejects configurations that would break the sync invariants.
func (c Config) Validate() error {
	switch {
	case c.PacketQueueCapacity <= 0:
		return errConfig("packet_queue_capacity must be positive")
	case c.FrameQueueCapacity <= 0:
		return errConfig("frame_queue_capacity must be positive")
	case c.DriftNormalMs <= 0 || c.DriftDropMs <= c.DriftNormalMs ||
		c.DriftAggressiveMs <= c.DriftDropMs || c.DriftHardResetMs <= c.DriftAggressiveMs:
		return errConfig("drift thresholds must be strictly increasing and positive")
	case c.ResampleMaxRatio <= 0 || c.ResampleMaxRatio > 0.5:
		return errConfig("resample_max_ratio out of range")
	case c.MinSpeed <= 0 || c.MaxSpeed < c.MinSpeed:
		return errConfig("invalid speed range")
	}
	return nil
}

type errConfig string

func (e errConfig) Error() string { return "config: " + string(e) }
