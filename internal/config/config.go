// Package config provides the configuration structure for the segment-service.
package config

import (
	"errors"
	"fmt"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// Documented defaults, applied by Validate when a field is unset.
const (
	DefaultHTTPPort          = 8080
	DefaultRetentionDays     = 7
	DefaultSweepIntervalHrs  = 24
	DefaultProviderCeiling   = 5000
	DefaultMaxChunkChars     = 4500
	DefaultTimeoutSeconds    = 60
	DefaultSynthesisWorkers  = 4
	DefaultRetryMaxAttempts  = 3
	DefaultRetryBaseDelayMS  = 500
	DefaultRetryMaxDelayMS   = 8000
	DefaultVoiceLanguage     = "en-US"
	DefaultVoiceName         = "en-US-Neural2-D"
	DefaultVoiceGender       = "MALE"
	DefaultAudioEncoding     = "MP3"
	DefaultAudioBackend      = "fs"
	DefaultEventsSubjectBase = "segment"
)

// Static validation errors.
var (
	ErrTranscriptPathEmpty = errors.New("transcript path cannot be empty")
	ErrQueuePathEmpty      = errors.New("queue path cannot be empty")
	ErrProviderURLEmpty    = errors.New("speech provider url cannot be empty")
	ErrUnknownAudioBackend = errors.New("unknown audio backend")
	ErrChunkExceedsCeiling = errors.New("max_chunk_chars must be below the provider ceiling")
	ErrAudioDirsEmpty      = errors.New("audio current and archive directories cannot be empty")
	ErrS3BucketEmpty       = errors.New("s3 bucket cannot be empty for the s3 backend")
	ErrNATSURLEmpty        = errors.New("nats url cannot be empty for the nats backend")
)

// HTTPConfig holds the delivery endpoint listener settings.
type HTTPConfig struct {
	Port    int    `toml:"port"`
	BaseURL string `toml:"base_url"`
}

// TranscriptConfig points at the externally produced append-only transcript.
type TranscriptConfig struct {
	Path string `toml:"path"`
}

// QueueConfig holds the durable segment queue record location.
type QueueConfig struct {
	Path string `toml:"path"`
}

// AudioConfig selects and configures the audio artifact store backend.
type AudioConfig struct {
	Backend    string `toml:"backend"`
	CurrentDir string `toml:"current_dir"`
	ArchiveDir string `toml:"archive_dir"`
}

// ProviderConfig holds the speech provider endpoint and voice settings.
// Voice, language, and encoding are held constant across the chunks of one
// segment.
type ProviderConfig struct {
	URL            string `toml:"url"`
	APIKey         string `toml:"api_key"`
	VoiceLanguage  string `toml:"voice_language"`
	VoiceName      string `toml:"voice_name"`
	VoiceGender    string `toml:"voice_gender"`
	AudioEncoding  string `toml:"audio_encoding"`
	CharCeiling    int    `toml:"char_ceiling"`
	MaxChunkChars  int    `toml:"max_chunk_chars"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	Workers        int    `toml:"workers"`
}

// RetryConfig holds the shared outbound-call retry policy settings.
type RetryConfig struct {
	MaxAttempts int `toml:"max_attempts"`
	BaseDelayMS int `toml:"base_delay_ms"`
	MaxDelayMS  int `toml:"max_delay_ms"`
}

// LifecycleConfig holds retention settings for spoken segments.
type LifecycleConfig struct {
	RetentionDays      int `toml:"retention_days"`
	SweepIntervalHours int `toml:"sweep_interval_hours"`
}

// NATSConfig holds the NATS connection and subject settings. NATS is optional:
// with an empty URL, lifecycle events are disabled and the nats audio backend
// is unavailable.
type NATSConfig struct {
	URL                  string `toml:"url"`
	CurrentBucket        string `toml:"current_bucket"`
	ArchiveBucket        string `toml:"archive_bucket"`
	EventsSubjectPrefix  string `toml:"events_subject_prefix"`
	ScriptUpdatedSubject string `toml:"script_updated_subject"`
}

// S3Config holds the S3 audio backend settings.
type S3Config struct {
	Bucket string `toml:"bucket"`
	Region string `toml:"region"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	HTTP       HTTPConfig       `toml:"http"`
	Transcript TranscriptConfig `toml:"transcript"`
	Queue      QueueConfig      `toml:"queue"`
	Audio      AudioConfig      `toml:"audio"`
	Provider   ProviderConfig   `toml:"provider"`
	Retry      RetryConfig      `toml:"retry"`
	Lifecycle  LifecycleConfig  `toml:"lifecycle"`
	NATS       NATSConfig       `toml:"nats"`
	S3         S3Config         `toml:"s3"`
	Paths      PathsConfig      `toml:"paths"`
}

// Load loads and validates the configuration for the segment-service.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &cfg, nil
}

// Validate applies documented defaults and rejects configurations the pipeline
// cannot run with. It is called once at startup; components trust the result.
func (c *Config) Validate() error {
	c.applyDefaults()

	requiredErr := c.validateRequired()
	if requiredErr != nil {
		return requiredErr
	}

	backendErr := c.validateBackend()
	if backendErr != nil {
		return backendErr
	}

	if c.Provider.MaxChunkChars >= c.Provider.CharCeiling {
		return ErrChunkExceedsCeiling
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = DefaultHTTPPort
	}

	if c.Audio.Backend == "" {
		c.Audio.Backend = DefaultAudioBackend
	}

	if c.Provider.CharCeiling == 0 {
		c.Provider.CharCeiling = DefaultProviderCeiling
	}

	if c.Provider.MaxChunkChars == 0 {
		c.Provider.MaxChunkChars = DefaultMaxChunkChars
	}

	if c.Provider.TimeoutSeconds == 0 {
		c.Provider.TimeoutSeconds = DefaultTimeoutSeconds
	}

	if c.Provider.Workers == 0 {
		c.Provider.Workers = DefaultSynthesisWorkers
	}

	if c.Provider.VoiceLanguage == "" {
		c.Provider.VoiceLanguage = DefaultVoiceLanguage
	}

	if c.Provider.VoiceName == "" {
		c.Provider.VoiceName = DefaultVoiceName
	}

	if c.Provider.VoiceGender == "" {
		c.Provider.VoiceGender = DefaultVoiceGender
	}

	if c.Provider.AudioEncoding == "" {
		c.Provider.AudioEncoding = DefaultAudioEncoding
	}

	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = DefaultRetryMaxAttempts
	}

	if c.Retry.BaseDelayMS == 0 {
		c.Retry.BaseDelayMS = DefaultRetryBaseDelayMS
	}

	if c.Retry.MaxDelayMS == 0 {
		c.Retry.MaxDelayMS = DefaultRetryMaxDelayMS
	}

	if c.Lifecycle.RetentionDays == 0 {
		c.Lifecycle.RetentionDays = DefaultRetentionDays
	}

	if c.Lifecycle.SweepIntervalHours == 0 {
		c.Lifecycle.SweepIntervalHours = DefaultSweepIntervalHrs
	}

	if c.NATS.EventsSubjectPrefix == "" {
		c.NATS.EventsSubjectPrefix = DefaultEventsSubjectBase
	}
}

func (c *Config) validateRequired() error {
	if c.Transcript.Path == "" {
		return ErrTranscriptPathEmpty
	}

	if c.Queue.Path == "" {
		return ErrQueuePathEmpty
	}

	if c.Provider.URL == "" {
		return ErrProviderURLEmpty
	}

	return nil
}

func (c *Config) validateBackend() error {
	switch c.Audio.Backend {
	case "fs":
		if c.Audio.CurrentDir == "" || c.Audio.ArchiveDir == "" {
			return ErrAudioDirsEmpty
		}
	case "nats":
		if c.NATS.URL == "" {
			return ErrNATSURLEmpty
		}
	case "s3":
		if c.S3.Bucket == "" {
			return ErrS3BucketEmpty
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAudioBackend, c.Audio.Backend)
	}

	return nil
}
