package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"convai": {"elevenlabs"},
	"llm":    {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"image":  {"openai"},
}

// Load reads the YAML configuration file at path on top of [Defaults] and
// returns a validated [Config]. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := Defaults()
		if err := Validate(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over [Defaults] and validates
// the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Defaults()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.RateLimit.RPS > 0 && cfg.Server.RateLimit.Burst < 1 {
		errs = append(errs, fmt.Errorf("server.rate_limit.burst must be at least 1 when rps is set"))
	}
	if cfg.Server.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("server.max_sessions must not be negative"))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, fmt.Errorf("server.tls requires both cert_file and key_file"))
	}
	errs = appendNegative(errs, "server.shutdown_timeout", cfg.Server.ShutdownTimeout)

	// Conversation
	conv := cfg.Conversation
	if conv.Provider.Name == "" {
		errs = append(errs, fmt.Errorf("conversation.provider.name is required"))
	}
	validateProviderName("convai", conv.Provider.Name)
	errs = appendNegative(errs, "conversation.connect_timeout", conv.ConnectTimeout)
	errs = appendNegative(errs, "conversation.speaking_tail", conv.SpeakingTail)
	if conv.Thinking.Enabled {
		if conv.Thinking.Delay <= 0 {
			errs = append(errs, fmt.Errorf("conversation.thinking.delay must be positive when thinking is enabled"))
		}
		if conv.Thinking.Timeout <= conv.Thinking.Delay {
			errs = append(errs, fmt.Errorf("conversation.thinking.timeout %s must exceed delay %s", conv.Thinking.Timeout, conv.Thinking.Delay))
		}
	}
	if conv.Reconnect.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("conversation.reconnect.max_retries %d is negative", conv.Reconnect.MaxRetries))
	}
	errs = appendNegative(errs, "conversation.reconnect.backoff", conv.Reconnect.Backoff)
	errs = appendNegative(errs, "conversation.reconnect.max_backoff", conv.Reconnect.MaxBackoff)

	// Story
	if cfg.Story.Typing <= 0 {
		errs = append(errs, fmt.Errorf("story.typing must be positive"))
	}
	errs = appendNegative(errs, "story.pause", cfg.Story.Pause)

	// AI
	ai := cfg.AI
	if ai.Enabled {
		if ai.LLM.Name == "" && ai.Image.Name == "" {
			errs = append(errs, fmt.Errorf("ai.enabled requires ai.llm or ai.image"))
		}
		validateProviderName("llm", ai.LLM.Name)
		validateProviderName("image", ai.Image.Name)
		for i, fb := range ai.LLMFallbacks {
			if fb.Name == "" {
				errs = append(errs, fmt.Errorf("ai.llm_fallbacks[%d].name is required", i))
			}
			validateProviderName("llm", fb.Name)
		}
	}
	errs = appendNegative(errs, "ai.call_timeout", ai.CallTimeout)
	if ai.Breaker.MaxFailures < 0 || ai.Breaker.HalfOpenMax < 0 {
		errs = append(errs, fmt.Errorf("ai.breaker counts must not be negative"))
	}
	errs = appendNegative(errs, "ai.breaker.reset_timeout", ai.Breaker.ResetTimeout)

	// Starfield
	if err := cfg.Starfield.Params().Validate(); err != nil {
		errs = append(errs, err)
	}
	errs = appendNegative(errs, "starfield.frame_interval", cfg.Starfield.FrameInterval)

	return errors.Join(errs...)
}

func appendNegative(errs []error, field string, d time.Duration) []error {
	if d < 0 {
		return append(errs, fmt.Errorf("%s must not be negative", field))
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
