package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// DotEnvFiles are loaded by [LoadDotEnv] in order. Variables already present
// in the process environment are never overwritten.
var DotEnvFiles = []string{".env.local", ".env"}

// LoadDotEnv loads the given files (or [DotEnvFiles]) into the process
// environment. Missing files are skipped.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = DotEnvFiles
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return nil
}

// envOverlay holds the environment variables that override the file config.
type envOverlay struct {
	ElevenLabsAPIKey  string `env:"ELEVENLABS_API_KEY"`
	ElevenLabsAgentID string `env:"ELEVENLABS_AGENT_ID"`
	OpenAIAPIKey      string `env:"OPENAI_API_KEY"`

	ListenAddr     string `env:"SKYSTORIES_LISTEN_ADDR"`
	LogLevel       string `env:"SKYSTORIES_LOG_LEVEL"`
	StaticDir      string `env:"SKYSTORIES_STATIC_DIR"`
	CharactersFile string `env:"SKYSTORIES_CHARACTERS_FILE"`
	AIEnabled      *bool  `env:"SKYSTORIES_AI_ENABLED"`
	AIFallbackOnly *bool  `env:"SKYSTORIES_AI_FALLBACK_ONLY"`
}

// ApplyEnv overlays the process environment onto cfg and re-validates it.
// Set variables win over file values.
func ApplyEnv(cfg *Config) error {
	return applyEnv(cfg, env.Options{})
}

// ApplyEnvFrom is [ApplyEnv] reading from environ instead of the process
// environment.
func ApplyEnvFrom(cfg *Config, environ map[string]string) error {
	return applyEnv(cfg, env.Options{Environment: environ})
}

func applyEnv(cfg *Config, opts env.Options) error {
	var raw envOverlay
	if err := env.ParseWithOptions(&raw, opts); err != nil {
		return fmt.Errorf("config: parse env: %w", err)
	}

	setString(&cfg.Conversation.Provider.APIKey, raw.ElevenLabsAPIKey)
	setString(&cfg.Conversation.AgentID, raw.ElevenLabsAgentID)
	setString(&cfg.Server.ListenAddr, raw.ListenAddr)
	setString(&cfg.Server.StaticDir, raw.StaticDir)
	setString(&cfg.CharactersFile, raw.CharactersFile)
	if raw.LogLevel != "" {
		cfg.Server.LogLevel = LogLevel(raw.LogLevel)
	}
	if raw.AIEnabled != nil {
		cfg.AI.Enabled = *raw.AIEnabled
	}
	if raw.AIFallbackOnly != nil {
		cfg.AI.FallbackOnly = *raw.AIFallbackOnly
	}

	// The OpenAI key only fills entries that name openai and have no key.
	if raw.OpenAIAPIKey != "" {
		fillKey(&cfg.AI.LLM, "openai", raw.OpenAIAPIKey)
		fillKey(&cfg.AI.Image, "openai", raw.OpenAIAPIKey)
		for i := range cfg.AI.LLMFallbacks {
			fillKey(&cfg.AI.LLMFallbacks[i], "openai", raw.OpenAIAPIKey)
		}
	}

	return Validate(cfg)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func fillKey(e *ProviderEntry, name, key string) {
	if e.Name == name && e.APIKey == "" {
		e.APIKey = key
	}
}
