// Package config resolves runtime settings from defaults, an optional YAML
// file, and environment variables, in that order.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config stores the runtime configuration for one voice session.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Audio       AudioConfig       `yaml:"audio"`
	Session     SessionConfig     `yaml:"session"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
}

// ServerConfig describes the voice backend endpoint.
type ServerConfig struct {
	URL            string `yaml:"url"`
	DialTimeoutMS  int    `yaml:"dial_timeout_ms"`
	PingIntervalMS int    `yaml:"ping_interval_ms"`
}

func (s ServerConfig) DialTimeout() time.Duration {
	return time.Duration(s.DialTimeoutMS) * time.Millisecond
}

func (s ServerConfig) PingInterval() time.Duration {
	return time.Duration(s.PingIntervalMS) * time.Millisecond
}

// AudioConfig describes capture and playback parameters.
type AudioConfig struct {
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	BitDepth        int    `yaml:"bit_depth"`
	FrameMS         int    `yaml:"frame_ms"`
	CaptureCommand  string `yaml:"capture_command"`
	InputFormat     string `yaml:"input_format"`
	InputDevice     string `yaml:"input_device"`
	PlaybackCommand string `yaml:"playback_command"`
	Playback        bool   `yaml:"playback"`
}

func (a AudioConfig) FrameDuration() time.Duration {
	return time.Duration(a.FrameMS) * time.Millisecond
}

// SessionConfig describes per-session behavior.
type SessionConfig struct {
	Voice         string `yaml:"voice"`
	Language      string `yaml:"language"`
	PushToTalk    bool   `yaml:"push_to_talk"`
	PTTDebounceMS int    `yaml:"ptt_debounce_ms"`
	JitterWindow  int    `yaml:"jitter_window"`
	WriteQueue    int    `yaml:"write_queue"`
}

func (s SessionConfig) PTTDebounce() time.Duration {
	return time.Duration(s.PTTDebounceMS) * time.Millisecond
}

// DiagnosticsConfig describes the optional HTTP diagnostics endpoint.
type DiagnosticsConfig struct {
	Listen string `yaml:"listen"`
}

// Default returns the built-in configuration. The server URL has no default
// and must come from the file or the environment.
func Default() Config {
	return Config{
		Server: ServerConfig{
			DialTimeoutMS:  10000,
			PingIntervalMS: 20000,
		},
		Audio: AudioConfig{
			SampleRate:      24000,
			Channels:        1,
			BitDepth:        16,
			FrameMS:         20,
			CaptureCommand:  "ffmpeg",
			InputFormat:     "pulse",
			InputDevice:     "default",
			PlaybackCommand: "ffplay",
			Playback:        false,
		},
		Session: SessionConfig{
			JitterWindow: 16,
			WriteQueue:   64,
		},
	}
}

// Load resolves configuration from defaults, the YAML file at path (skipped
// when path is empty), and VOICEWIRE_* environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.clamp()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.URL = envOrDefault("VOICEWIRE_SERVER_URL", c.Server.URL)
	c.Server.DialTimeoutMS = envOrDefaultInt("VOICEWIRE_DIAL_TIMEOUT_MS", c.Server.DialTimeoutMS)
	c.Server.PingIntervalMS = envOrDefaultInt("VOICEWIRE_PING_INTERVAL_MS", c.Server.PingIntervalMS)

	c.Audio.SampleRate = envOrDefaultInt("VOICEWIRE_SAMPLE_RATE", c.Audio.SampleRate)
	c.Audio.Channels = envOrDefaultInt("VOICEWIRE_CHANNELS", c.Audio.Channels)
	c.Audio.BitDepth = envOrDefaultInt("VOICEWIRE_BIT_DEPTH", c.Audio.BitDepth)
	c.Audio.FrameMS = envOrDefaultInt("VOICEWIRE_FRAME_MS", c.Audio.FrameMS)
	c.Audio.CaptureCommand = envOrDefault("VOICEWIRE_FFMPEG_COMMAND", c.Audio.CaptureCommand)
	c.Audio.InputFormat = envOrDefault("VOICEWIRE_AUDIO_INPUT_FORMAT", c.Audio.InputFormat)
	c.Audio.InputDevice = firstNonEmpty(
		os.Getenv("VOICEWIRE_AUDIO_INPUT_DEVICE"),
		os.Getenv("PULSE_SOURCE"),
		c.Audio.InputDevice,
	)
	c.Audio.PlaybackCommand = envOrDefault("VOICEWIRE_FFPLAY_COMMAND", c.Audio.PlaybackCommand)
	c.Audio.Playback = envOrDefaultBool("VOICEWIRE_PLAYBACK", c.Audio.Playback)

	c.Session.Voice = envOrDefault("VOICEWIRE_VOICE", c.Session.Voice)
	c.Session.Language = envOrDefault("VOICEWIRE_LANGUAGE", c.Session.Language)
	c.Session.PushToTalk = envOrDefaultBool("VOICEWIRE_PUSH_TO_TALK", c.Session.PushToTalk)
	c.Session.PTTDebounceMS = envOrDefaultInt("VOICEWIRE_PTT_DEBOUNCE_MS", c.Session.PTTDebounceMS)
	c.Session.JitterWindow = envOrDefaultInt("VOICEWIRE_JITTER_WINDOW", c.Session.JitterWindow)
	c.Session.WriteQueue = envOrDefaultInt("VOICEWIRE_WRITE_QUEUE", c.Session.WriteQueue)

	c.Diagnostics.Listen = envOrDefault("VOICEWIRE_DIAG_LISTEN", c.Diagnostics.Listen)
}

func (c *Config) clamp() {
	if c.Server.DialTimeoutMS <= 0 {
		c.Server.DialTimeoutMS = 10000
	}
	if c.Server.PingIntervalMS <= 0 {
		c.Server.PingIntervalMS = 20000
	}
	if c.Session.JitterWindow <= 0 {
		c.Session.JitterWindow = 16
	}
	if c.Session.WriteQueue < 1 {
		c.Session.WriteQueue = 64
	}
	if c.Session.PTTDebounceMS < 0 {
		c.Session.PTTDebounceMS = 0
	}
}

// Validate rejects configurations the session must never dial with.
func (c Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}
	return nil
}

// Validate validates the endpoint settings.
func (s ServerConfig) Validate() error {
	if strings.TrimSpace(s.URL) == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(s.URL)
	if err != nil {
		return fmt.Errorf("url %q is not parseable: %w", s.URL, err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("url scheme must be ws, wss, http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", s.URL)
	}
	return nil
}

// Validate validates the audio settings.
func (a AudioConfig) Validate() error {
	switch a.SampleRate {
	case 16000, 24000, 48000:
	default:
		return fmt.Errorf("sample_rate must be 16000, 24000 or 48000, got %d", a.SampleRate)
	}
	if a.Channels != 1 && a.Channels != 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", a.Channels)
	}
	if a.BitDepth != 16 && a.BitDepth != 24 {
		return fmt.Errorf("bit_depth must be 16 or 24, got %d", a.BitDepth)
	}
	if a.FrameMS < 10 || a.FrameMS > 100 {
		return fmt.Errorf("frame_ms must be between 10 and 100, got %d", a.FrameMS)
	}
	if a.CaptureCommand == "" {
		return fmt.Errorf("capture_command cannot be empty")
	}
	return nil
}

// Validate validates the session settings.
func (s SessionConfig) Validate() error {
	if s.JitterWindow < 1 || s.JitterWindow > 1024 {
		return fmt.Errorf("jitter_window must be between 1 and 1024 frames, got %d", s.JitterWindow)
	}
	if s.WriteQueue < 1 {
		return fmt.Errorf("write_queue must be at least 1, got %d", s.WriteQueue)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
