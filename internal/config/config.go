// Package config provides the configuration schema, loader, environment
// overlay and provider registry for the SkyStories server.
package config

import (
	"time"

	"github.com/MrWong99/skystories/internal/scene"
	"github.com/MrWong99/skystories/internal/starfield"
	"github.com/MrWong99/skystories/internal/story"
)

// LogLevel controls log verbosity for the SkyStories server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for SkyStories.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Conversation ConversationConfig `yaml:"conversation"`
	Story        StoryConfig        `yaml:"story"`
	AI           AIConfig           `yaml:"ai"`
	Starfield    StarfieldConfig    `yaml:"starfield"`
	Scene        SceneConfig        `yaml:"scene"`

	// CharactersFile optionally replaces the built-in character catalog with
	// a YAML file. Empty uses the built-in five characters.
	CharactersFile string `yaml:"characters_file"`
}

// ServerConfig holds network and logging settings for the HTTP server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// RateLimit bounds how often one client IP may open story, conversation
	// or starfield sessions.
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// StaticDir is served at "/" when set (the browser bundle).
	StaticDir string `yaml:"static_dir"`

	// AllowedOrigins are extra host patterns (path.Match syntax) whose pages
	// may open websockets, e.g. "localhost:5173" for a dev server. Same-origin
	// requests are always accepted.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// MaxSessions caps concurrent websocket sessions. Zero means unlimited.
	MaxSessions int `yaml:"max_sessions"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// RateLimitConfig is a token bucket per client IP. RPS <= 0 disables it.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "elevenlabs").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o-mini").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`
}

// ConversationConfig configures the voice conversation bridge.
type ConversationConfig struct {
	Provider ProviderEntry `yaml:"provider"`

	// AgentID selects the hosted agent. Conversations fail with a
	// configuration error while it or the API key is empty.
	AgentID string `yaml:"agent_id"`

	// Language optionally overrides the agent language (ISO 639-1).
	Language string `yaml:"language"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// GreetingWait is how long the listening mode is held back waiting for
	// the agent's first utterance. Negative disables the gate.
	GreetingWait time.Duration `yaml:"greeting_wait"`

	Thinking  ThinkingConfig  `yaml:"thinking"`
	Reconnect ReconnectConfig `yaml:"reconnect"`

	// SpeakingTail is added after the last agent audio chunk before the
	// agent counts as silent.
	SpeakingTail time.Duration `yaml:"speaking_tail"`
}

// ThinkingConfig configures the optional thinking heuristic.
type ThinkingConfig struct {
	Enabled bool          `yaml:"enabled"`
	Delay   time.Duration `yaml:"delay"`
	Timeout time.Duration `yaml:"timeout"`
}

// ReconnectConfig configures reconnection after clean backend disconnects.
type ReconnectConfig struct {
	Enabled    bool          `yaml:"enabled"`
	MaxRetries int           `yaml:"max_retries"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// StoryConfig holds the sequencer timings.
type StoryConfig struct {
	Typing time.Duration `yaml:"typing"`
	Pause  time.Duration `yaml:"pause"`
}

// AIConfig configures generated stories and follow-up answers.
type AIConfig struct {
	Enabled bool `yaml:"enabled"`

	// FallbackOnly keeps the backends configured but serves static content.
	// It can be changed while the server runs.
	FallbackOnly bool `yaml:"fallback_only"`

	LLM ProviderEntry `yaml:"llm"`

	// LLMFallbacks are tried in order when the primary LLM fails.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`

	Image ProviderEntry `yaml:"image"`

	CallTimeout time.Duration `yaml:"call_timeout"`
	Breaker     BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the circuit breakers guarding model calls.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// StarfieldConfig overrides the ambient animation parameters. Zero fields
// keep the defaults from [starfield.Defaults].
type StarfieldConfig struct {
	Count         int           `yaml:"count"`
	Palette       []string      `yaml:"palette"`
	Parallax      *bool         `yaml:"parallax"`
	Depth         float64       `yaml:"depth"`
	MinSize       float64       `yaml:"min_size"`
	MaxSize       float64       `yaml:"max_size"`
	MinSpeed      float64       `yaml:"min_speed"`
	MaxSpeed      float64       `yaml:"max_speed"`
	Twinkle       float64       `yaml:"twinkle"`
	MinOpacity    float64       `yaml:"min_opacity"`
	FrameInterval time.Duration `yaml:"frame_interval"`
}

// Params merges the overrides onto [starfield.Defaults].
func (s StarfieldConfig) Params() starfield.Params {
	p := starfield.Defaults()
	if s.Count != 0 {
		p.Count = s.Count
	}
	if len(s.Palette) > 0 {
		p.Palette = append([]string(nil), s.Palette...)
	}
	if s.Parallax != nil {
		p.Parallax = *s.Parallax
	}
	setFloat(&p.Depth, s.Depth)
	setFloat(&p.MinSize, s.MinSize)
	setFloat(&p.MaxSize, s.MaxSize)
	setFloat(&p.MinSpeed, s.MinSpeed)
	setFloat(&p.MaxSpeed, s.MaxSpeed)
	setFloat(&p.Twinkle, s.Twinkle)
	setFloat(&p.MinOpacity, s.MinOpacity)
	return p
}

func setFloat(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}

// SceneConfig overrides the 3D scene descriptor.
type SceneConfig struct {
	URL         string `yaml:"url"`
	AgentObject string `yaml:"agent_object"`
	UserObject  string `yaml:"user_object"`
}

// Descriptor returns the scene with defaults filled in.
func (s SceneConfig) Descriptor() scene.Descriptor {
	return scene.Descriptor{
		URL:         s.URL,
		AgentObject: s.AgentObject,
		UserObject:  s.UserObject,
	}.WithDefaults()
}

// Defaults returns the configuration used when no file is given.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			LogLevel:        LogInfo,
			RateLimit:       RateLimitConfig{RPS: 1, Burst: 5},
			ShutdownTimeout: 15 * time.Second,
		},
		Conversation: ConversationConfig{
			Provider:       ProviderEntry{Name: "elevenlabs"},
			ConnectTimeout: 10 * time.Second,
			GreetingWait:   5 * time.Second,
			Thinking: ThinkingConfig{
				Delay:   400 * time.Millisecond,
				Timeout: 8 * time.Second,
			},
			SpeakingTail: 250 * time.Millisecond,
		},
		Story: StoryConfig{
			Typing: story.DefaultTyping,
			Pause:  story.DefaultPause,
		},
		AI: AIConfig{
			LLM:         ProviderEntry{Name: "openai", Model: "gpt-4o-mini"},
			Image:       ProviderEntry{Name: "openai"},
			CallTimeout: 20 * time.Second,
			Breaker: BreakerConfig{
				MaxFailures:  5,
				ResetTimeout: 30 * time.Second,
				HalfOpenMax:  3,
			},
		},
		Starfield: StarfieldConfig{
			FrameInterval: starfield.DefaultFrameInterval,
		},
	}
}
