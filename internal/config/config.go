package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete client configuration.
type Config struct {
	Backend   BackendConfig   `yaml:"backend"`
	Audio     AudioConfig     `yaml:"audio"`
	Session   SessionConfig   `yaml:"session"`
	Recording RecordingConfig `yaml:"recording"`
	HTTP      HTTPConfig      `yaml:"http"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// BackendConfig contains transcription backend connection configuration.
type BackendConfig struct {
	Endpoint       string `yaml:"endpoint"`        // ws:// or wss:// streaming endpoint
	AuthToken      string `yaml:"auth_token"`      // Optional bearer token (SPEECH_AUTH_TOKEN overrides)
	ConnectTimeout int    `yaml:"connect_timeout"` // seconds
}

// AudioConfig contains capture and framing parameters.
type AudioConfig struct {
	DeviceSampleRate int     `yaml:"device_sample_rate"` // Native capture rate (44100/48000)
	TargetSampleRate int     `yaml:"target_sample_rate"` // Backend rate, 16000
	Channels         int     `yaml:"channels"`
	FramesPerBuffer  int     `yaml:"frames_per_buffer"`
	ChunkDuration    float64 `yaml:"chunk_duration"` // seconds per outbound frame
}

// SessionConfig contains transcription session parameters.
type SessionConfig struct {
	LanguageCode         string  `yaml:"language_code"`
	EnablePartialResults bool    `yaml:"enable_partial_results"`
	GracePeriod          float64 `yaml:"grace_period"`         // seconds to wait for session_ended after stop
	RetryBudget          int     `yaml:"retry_budget"`         // reconnect attempts after abnormal close
	RetryBackoff         float64 `yaml:"retry_backoff"`        // seconds between reconnect attempts
	InterChunkDelayMs    int     `yaml:"inter_chunk_delay_ms"` // pause between sub-chunks of a split frame
}

// RecordingConfig controls the optional WAV dump of outbound session audio.
type RecordingConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Directory string `yaml:"directory"`
}

// HTTPConfig contains the local status/metrics server configuration.
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file, applying environment
// overrides for secrets.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if token := os.Getenv("SPEECH_AUTH_TOKEN"); token != "" {
		config.Backend.AuthToken = token
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs validation of the full configuration.
func (c *Config) Validate() error {
	if err := c.Backend.Validate(); err != nil {
		return fmt.Errorf("backend config: %w", err)
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}
	if err := c.Recording.Validate(); err != nil {
		return fmt.Errorf("recording config: %w", err)
	}
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

// Validate validates backend configuration.
func (b *BackendConfig) Validate() error {
	if b.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}
	if !strings.HasPrefix(b.Endpoint, "ws://") && !strings.HasPrefix(b.Endpoint, "wss://") {
		return fmt.Errorf("endpoint must be a ws:// or wss:// URL, got %q", b.Endpoint)
	}
	if b.ConnectTimeout < 1 {
		return fmt.Errorf("connect_timeout must be at least 1 second, got %d", b.ConnectTimeout)
	}
	return nil
}

// Validate validates audio configuration.
func (a *AudioConfig) Validate() error {
	if a.DeviceSampleRate < 8000 {
		return fmt.Errorf("device_sample_rate must be at least 8000 Hz, got %d", a.DeviceSampleRate)
	}
	if a.TargetSampleRate != 16000 {
		return fmt.Errorf("target_sample_rate must be 16000 Hz for the backend protocol, got %d", a.TargetSampleRate)
	}
	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", a.Channels)
	}
	if a.FramesPerBuffer < 64 {
		return fmt.Errorf("frames_per_buffer must be at least 64, got %d", a.FramesPerBuffer)
	}
	if a.ChunkDuration <= 0 || a.ChunkDuration > 1 {
		return fmt.Errorf("chunk_duration must be in (0, 1] seconds, got %f", a.ChunkDuration)
	}
	return nil
}

// Validate validates session configuration.
func (s *SessionConfig) Validate() error {
	if s.LanguageCode == "" {
		return fmt.Errorf("language_code cannot be empty")
	}
	if s.GracePeriod <= 0 {
		return fmt.Errorf("grace_period must be positive, got %f", s.GracePeriod)
	}
	if s.RetryBudget < 0 {
		return fmt.Errorf("retry_budget cannot be negative, got %d", s.RetryBudget)
	}
	if s.RetryBackoff < 0 {
		return fmt.Errorf("retry_backoff cannot be negative, got %f", s.RetryBackoff)
	}
	if s.InterChunkDelayMs < 0 {
		return fmt.Errorf("inter_chunk_delay_ms cannot be negative, got %d", s.InterChunkDelayMs)
	}
	return nil
}

// Validate validates recording configuration.
func (r *RecordingConfig) Validate() error {
	if r.Enabled && r.Directory == "" {
		return fmt.Errorf("directory cannot be empty when recording is enabled")
	}
	return nil
}

// Validate validates HTTP configuration.
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("port must be between 1 and 65535, got %d", h.Port)
		}
		if h.Address == "" {
			return fmt.Errorf("address cannot be empty when the HTTP server is enabled")
		}
	}
	return nil
}

// Validate validates logging configuration.
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got %q", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got %q", l.Format)
	}

	return nil
}

// GetConnectTimeout returns the backend connect timeout as a time.Duration.
func (b *BackendConfig) GetConnectTimeout() time.Duration {
	return time.Duration(b.ConnectTimeout) * time.Second
}

// GetGracePeriod returns the teardown grace period as a time.Duration.
func (s *SessionConfig) GetGracePeriod() time.Duration {
	return time.Duration(s.GracePeriod * float64(time.Second))
}

// GetRetryBackoff returns the reconnect backoff as a time.Duration.
func (s *SessionConfig) GetRetryBackoff() time.Duration {
	return time.Duration(s.RetryBackoff * float64(time.Second))
}

// GetInterChunkDelay returns the split sub-chunk pacing delay.
func (s *SessionConfig) GetInterChunkDelay() time.Duration {
	return time.Duration(s.InterChunkDelayMs) * time.Millisecond
}
