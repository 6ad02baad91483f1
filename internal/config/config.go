// Package config provides the configuration structure for the voice-service.
package config

import (
	"fmt"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                    string `toml:"url"`
	JobStreamName          string `toml:"job_stream_name"`
	JobConsumerName        string `toml:"job_consumer_name"`
	JobSubmittedSubject    string `toml:"job_submitted_subject"`
	JobFinishedSubject     string `toml:"job_finished_subject"`
	JobBucket              string `toml:"job_bucket"`
	VoiceProfileBucket     string `toml:"voice_profile_bucket"`
	QualityProfileBucket   string `toml:"quality_profile_bucket"`
	ConversionModelBucket  string `toml:"conversion_model_bucket"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
}

// EngineConfig holds per-engine runner settings. Device names the requested
// placement ("cuda", "cpu"); whether an absent accelerator is fatal is
// decided by SynthesisConfig.FallbackEnabled.
type EngineConfig struct {
	RunnerURL string `toml:"runner_url"`
	ModelPath string `toml:"model_path"`
	Device    string `toml:"device"`
}

// SynthesisConfig holds the engine selection and resource policy.
type SynthesisConfig struct {
	DefaultEngine         string                  `toml:"default_engine"`
	FallbackEngine        string                  `toml:"fallback_engine"`
	FallbackEnabled       bool                    `toml:"fallback_enabled"`
	MemoryPressureMode    bool                    `toml:"memory_pressure_mode"`
	AcceptLicense         bool                    `toml:"accept_license"`
	DefaultQualityTier    string                  `toml:"default_quality_tier"`
	MinRefDurationSeconds float64                 `toml:"min_ref_duration_seconds"`
	MaxRefDurationSeconds float64                 `toml:"max_ref_duration_seconds"`
	ProfileTTLDays        int                     `toml:"profile_ttl_days"`
	TimeoutSeconds        int                     `toml:"timeout_seconds"`
	MaxAttempts           int                     `toml:"max_attempts"`
	RetryBackoffSeconds   int                     `toml:"retry_backoff_seconds"`
	Engines               map[string]EngineConfig `toml:"engines"`
}

// ConversionConfig holds settings for the voice-conversion runner.
type ConversionConfig struct {
	RunnerURL      string `toml:"runner_url"`
	Device         string `toml:"device"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// WhisperConfig holds settings for the transcription service used by the
// cloning fallback. Device defaults to the CPU so the accelerator stays
// free for synthesis.
type WhisperConfig struct {
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Device         string `toml:"device"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS       NATSConfig       `toml:"nats"`
	Synthesis  SynthesisConfig  `toml:"synthesis"`
	Conversion ConversionConfig `toml:"conversion"`
	Whisper    WhisperConfig    `toml:"whisper"`
	Paths      PathsConfig      `toml:"paths"`
}

// Load loads the configuration for the voice-service.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()

	return &cfg, nil
}

// Default resource-policy values, applied when the TOML leaves them unset.
const (
	defaultQualityTier      = "balanced"
	defaultMinRefDuration   = 3.0
	defaultMaxRefDuration   = 30.0
	defaultTimeoutSeconds   = 300
	defaultMaxAttempts      = 3
	defaultBackoffSeconds   = 2
	defaultWhisperDevice    = "cpu"
	defaultConversionDevice = "cpu"
)

// ApplyDefaults fills unset policy fields with their documented defaults.
func (c *Config) ApplyDefaults() {
	if c.Synthesis.DefaultQualityTier == "" {
		c.Synthesis.DefaultQualityTier = defaultQualityTier
	}

	if c.Synthesis.MinRefDurationSeconds == 0 {
		c.Synthesis.MinRefDurationSeconds = defaultMinRefDuration
	}

	if c.Synthesis.MaxRefDurationSeconds == 0 {
		c.Synthesis.MaxRefDurationSeconds = defaultMaxRefDuration
	}

	if c.Synthesis.TimeoutSeconds == 0 {
		c.Synthesis.TimeoutSeconds = defaultTimeoutSeconds
	}

	if c.Synthesis.MaxAttempts == 0 {
		c.Synthesis.MaxAttempts = defaultMaxAttempts
	}

	if c.Synthesis.RetryBackoffSeconds == 0 {
		c.Synthesis.RetryBackoffSeconds = defaultBackoffSeconds
	}

	if c.Whisper.Device == "" {
		c.Whisper.Device = defaultWhisperDevice
	}

	if c.Conversion.Device == "" {
		c.Conversion.Device = defaultConversionDevice
	}

	if c.Conversion.TimeoutSeconds == 0 {
		c.Conversion.TimeoutSeconds = defaultTimeoutSeconds
	}

	if c.Whisper.TimeoutSeconds == 0 {
		c.Whisper.TimeoutSeconds = defaultTimeoutSeconds
	}
}
