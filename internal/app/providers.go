package app

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/skystories/internal/config"
	"github.com/MrWong99/skystories/internal/observe"
	"github.com/MrWong99/skystories/internal/resilience"
	"github.com/MrWong99/skystories/pkg/provider/convai"
	"github.com/MrWong99/skystories/pkg/provider/convai/elevenlabs"
	"github.com/MrWong99/skystories/pkg/provider/image"
	imageopenai "github.com/MrWong99/skystories/pkg/provider/image/openai"
	"github.com/MrWong99/skystories/pkg/provider/llm"
	"github.com/MrWong99/skystories/pkg/provider/llm/anyllm"
	llmopenai "github.com/MrWong99/skystories/pkg/provider/llm/openai"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured.
type Providers struct {
	ConvAI convai.Provider
	LLM    llm.Provider
	Image  image.Generator
}

// RegisterBuiltinProviders wires all built-in provider factories into reg.
func RegisterBuiltinProviders(reg *config.Registry) {
	// ── Conversation ──────────────────────────────────────────────────────────

	reg.RegisterConvAI("elevenlabs", func(entry config.ProviderEntry) (convai.Provider, error) {
		var opts []elevenlabs.Option
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if tail := optDuration(entry.Options, "speaking_tail"); tail > 0 {
			opts = append(opts, elevenlabs.WithSpeakingTail(tail))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	// openai talks to the API directly through openai-go; every other backend
	// goes through any-llm-go.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []llmopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, llmopenai.WithOrganization(org))
		}
		return llmopenai.New(entry.APIKey, entry.Model, opts...)
	})

	for _, backend := range anyllm.Backends {
		if backend == "openai" {
			continue
		}
		reg.RegisterLLM(backend, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backend, entry.Model, opts...)
		})
	}

	// ── Image ─────────────────────────────────────────────────────────────────

	reg.RegisterImage("openai", func(entry config.ProviderEntry) (image.Generator, error) {
		var opts []imageopenai.Option
		if entry.Model != "" {
			opts = append(opts, imageopenai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, imageopenai.WithBaseURL(entry.BaseURL))
		}
		return imageopenai.New(entry.APIKey, opts...)
	})

	for kind, names := range reg.Names() {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// BuildProviders instantiates every provider named in cfg through reg. Each
// backend is wrapped with request metrics; LLM fallbacks are chained behind
// the primary with one circuit breaker per backend.
//
// A provider without an API key is left unconfigured instead of failing:
// conversations then report a configuration error to the browser and stories
// use static content.
//
// A nil m records into [observe.DefaultMetrics].
func BuildProviders(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*Providers, error) {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	ps := &Providers{}

	entry := cfg.Conversation.Provider
	if cfg.Conversation.SpeakingTail > 0 && optString(entry.Options, "speaking_tail") == "" {
		entry.Options = withOption(entry.Options, "speaking_tail", cfg.Conversation.SpeakingTail.String())
	}
	p, err := createOptional("convai", entry, reg.CreateConvAI)
	if err != nil {
		return nil, err
	}
	if p != nil {
		ps.ConvAI = meteredConvAI{Provider: p, name: entry.Name, m: m}
	}

	if !cfg.AI.Enabled {
		return ps, nil
	}

	if ps.LLM, err = buildLLM(cfg.AI, reg, m); err != nil {
		return nil, err
	}

	ig, err := createOptional("image", cfg.AI.Image, reg.CreateImage)
	if err != nil {
		return nil, err
	}
	if ig != nil {
		ps.Image = meteredImage{Generator: ig, name: cfg.AI.Image.Name, m: m}
	}
	return ps, nil
}

func buildLLM(ai config.AIConfig, reg *config.Registry, m *observe.Metrics) (llm.Provider, error) {
	primary, err := createOptional("llm", ai.LLM, reg.CreateLLM)
	if err != nil || primary == nil {
		return nil, err
	}
	metered := meteredLLM{Provider: primary, name: ai.LLM.Name, m: m}
	if len(ai.LLMFallbacks) == 0 {
		return metered, nil
	}

	group := resilience.NewLLMFallback(metered, ai.LLM.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  ai.Breaker.MaxFailures,
			ResetTimeout: ai.Breaker.ResetTimeout,
			HalfOpenMax:  ai.Breaker.HalfOpenMax,
		},
	})
	for _, fb := range ai.LLMFallbacks {
		p, err := createOptional("llm", fb, reg.CreateLLM)
		if err != nil {
			return nil, err
		}
		if p != nil {
			group.AddFallback(fb.Name, meteredLLM{Provider: p, name: fb.Name, m: m})
		}
	}
	return group, nil
}

// createOptional runs create for entry. Empty names, unregistered names and
// missing API keys yield a nil provider; other factory errors are returned.
func createOptional[T any](kind string, entry config.ProviderEntry, create func(config.ProviderEntry) (T, error)) (T, error) {
	var zero T
	if entry.Name == "" {
		return zero, nil
	}
	if entry.APIKey == "" && needsAPIKey(kind, entry.Name) {
		slog.Warn("provider has no api key, leaving it unconfigured", "kind", kind, "name", entry.Name)
		return zero, nil
	}
	p, err := create(entry)
	switch {
	case errors.Is(err, config.ErrProviderNotRegistered):
		slog.Warn("provider not available, skipping", "kind", kind, "name", entry.Name)
		return zero, nil
	case err != nil:
		return zero, fmt.Errorf("app: create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name, "model", entry.Model)
	return p, nil
}

// needsAPIKey reports whether a backend refuses to start without a key.
// Local LLM servers and any-llm backends that read their own environment
// variable do not.
func needsAPIKey(kind, name string) bool {
	switch kind {
	case "convai", "image":
		return true
	default:
		return name == "openai"
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}

// optDuration parses a duration string option. Invalid values yield zero.
func optDuration(opts map[string]any, key string) time.Duration {
	d, err := time.ParseDuration(optString(opts, key))
	if err != nil {
		return 0
	}
	return d
}

func withOption(opts map[string]any, key string, v any) map[string]any {
	out := make(map[string]any, len(opts)+1)
	for k, val := range opts {
		out[k] = val
	}
	out[key] = v
	return out
}
