// Package storygen replaces the static parts of a character script with
// language-model and image-model output, and answers follow-up questions.
//
// Every model call runs behind a circuit breaker and degrades to the static
// catalog content when it fails, so a Generator always produces a complete
// script.
package storygen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/skystories/internal/character"
	"github.com/MrWong99/skystories/internal/resilience"
	"github.com/MrWong99/skystories/internal/story"
	"github.com/MrWong99/skystories/pkg/provider/image"
	"github.com/MrWong99/skystories/pkg/provider/llm"
)

// ErrEmptyQuestion is returned by [Generator.Ask] for blank questions.
var ErrEmptyQuestion = errors.New("storygen: empty question")

// Completion settings sent with every text request.
const (
	MaxTokens   = 500
	Temperature = 0.7

	// DefaultCallTimeout bounds each model call.
	DefaultCallTimeout = 20 * time.Second

	genericFallback = "Space weather is fascinating and affects us all!"
)

// Source tells where a piece of content came from.
type Source string

const (
	SourceAI       Source = "ai"
	SourceStatic   Source = "static"
	SourceCanned   Source = "canned"
	SourceFallback Source = "fallback"
)

// Part names used in [Result.Sources] and fallback callbacks.
const (
	PartIntro   = "intro"
	PartStory   = "story"
	PartCaption = "caption"
	PartImpact  = "impact"
	PartImage   = "image"
	PartAnswer  = "answer"
)

// Result is a generated set of script parts.
type Result struct {
	Parts   character.Parts
	Sources map[string]Source
}

// Answer is a reply to a follow-up question.
type Answer struct {
	Text   string `json:"text"`
	Source Source `json:"source"`
}

// Option configures a [Generator].
type Option func(*Generator)

// WithLLM sets the text backend. Without one every text part is static.
func WithLLM(p llm.Provider) Option {
	return func(g *Generator) { g.llm = p }
}

// WithImages sets the illustration backend. Without one the avatar is used.
func WithImages(ig image.Generator) Option {
	return func(g *Generator) { g.images = ig }
}

// WithFallbackOnly disables all model calls while keeping the backends
// configured.
func WithFallbackOnly(v bool) Option {
	return func(g *Generator) { g.fallbackOnly.Store(v) }
}

// WithBreaker configures the circuit breakers that guard the backends.
func WithBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(g *Generator) { g.breakerCfg = cfg }
}

// WithCallTimeout bounds every model call. Zero disables the bound.
func WithCallTimeout(d time.Duration) Option {
	return func(g *Generator) { g.callTimeout = d }
}

// WithFallbackHook is called whenever a part degrades to static content.
func WithFallbackHook(fn func(part string, err error)) Option {
	return func(g *Generator) { g.onFallback = fn }
}

// Generator produces character scripts and follow-up answers.
type Generator struct {
	catalog      *character.Catalog
	llm          llm.Provider
	images       image.Generator
	fallbackOnly atomic.Bool
	callTimeout  time.Duration
	breakerCfg   resilience.CircuitBreakerConfig
	onFallback   func(string, error)

	textBreaker  *resilience.CircuitBreaker
	imageBreaker *resilience.CircuitBreaker

	mu     sync.Mutex
	canned map[string]int
}

// New creates a Generator over catalog.
func New(catalog *character.Catalog, opts ...Option) *Generator {
	g := &Generator{
		catalog:     catalog,
		callTimeout: DefaultCallTimeout,
		canned:      make(map[string]int),
	}
	for _, o := range opts {
		o(g)
	}
	textCfg := g.breakerCfg
	textCfg.Name = "llm"
	g.textBreaker = resilience.NewCircuitBreaker(textCfg)
	imageCfg := g.breakerCfg
	imageCfg.Name = "image"
	g.imageBreaker = resilience.NewCircuitBreaker(imageCfg)
	return g
}

// TextEnabled reports whether text parts are requested from a model.
func (g *Generator) TextEnabled() bool { return g.llm != nil && !g.fallbackOnly.Load() }

// ImagesEnabled reports whether illustrations are requested from a model.
func (g *Generator) ImagesEnabled() bool { return g.images != nil && !g.fallbackOnly.Load() }

// SetFallbackOnly switches model calls off or back on for later requests.
func (g *Generator) SetFallbackOnly(v bool) { g.fallbackOnly.Store(v) }

// TextBreaker returns the breaker guarding language-model calls.
func (g *Generator) TextBreaker() *resilience.CircuitBreaker { return g.textBreaker }

// ImageBreaker returns the breaker guarding image-model calls.
func (g *Generator) ImageBreaker() *resilience.CircuitBreaker { return g.imageBreaker }

// ── Scripts ───────────────────────────────────────────────────────────────────

// Parts generates every replaceable part of id's script concurrently. Parts
// whose model call fails are static. The only errors are an unknown id and
// cancellation of ctx.
func (g *Generator) Parts(ctx context.Context, id string) (Result, error) {
	ch, err := g.catalog.Get(id)
	if err != nil {
		return Result{}, err
	}
	static := ch.StaticParts()
	res := Result{Parts: static, Sources: map[string]Source{
		PartIntro:   SourceStatic,
		PartStory:   SourceStatic,
		PartCaption: SourceStatic,
		PartImpact:  SourceStatic,
		PartImage:   SourceStatic,
	}}

	var mu sync.Mutex
	set := func(part string, apply func(*character.Parts)) {
		mu.Lock()
		defer mu.Unlock()
		apply(&res.Parts)
		res.Sources[part] = SourceAI
	}

	eg, egCtx := errgroup.WithContext(ctx)
	if g.TextEnabled() {
		for _, p := range storyPrompts(ch) {
			eg.Go(func() error {
				text, err := g.complete(egCtx, ch, p.prompt)
				if err != nil {
					g.fallback(p.part, err)
					return nil
				}
				set(p.part, func(parts *character.Parts) { p.assign(parts, text) })
				return nil
			})
		}
	}
	if g.ImagesEnabled() {
		eg.Go(func() error {
			url, err := g.illustrate(egCtx, ch, ch.Story)
			if err != nil {
				g.fallback(PartImage, err)
				return nil
			}
			set(PartImage, func(parts *character.Parts) { parts.Image = url })
			return nil
		})
	}
	_ = eg.Wait()
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("storygen: parts %q: %w", id, err)
	}
	return res, nil
}

// Script returns id's five-beat script with generated parts.
func (g *Generator) Script(ctx context.Context, id string) (story.Script, Result, error) {
	res, err := g.Parts(ctx, id)
	if err != nil {
		return story.Script{}, Result{}, err
	}
	ch, err := g.catalog.Get(id)
	if err != nil {
		return story.Script{}, Result{}, err
	}
	return ch.Script(res.Parts), res, nil
}

type storyPrompt struct {
	part   string
	prompt string
	assign func(*character.Parts, string)
}

func storyPrompts(ch character.Character) []storyPrompt {
	return []storyPrompt{
		{PartIntro, fmt.Sprintf("Introduce yourself and explain how space weather affects your work as a %s", ch.DisplayName()),
			func(p *character.Parts, s string) { p.Intro = s }},
		{PartStory, "Share a specific example of when space weather impacted your daily activities",
			func(p *character.Parts, s string) { p.Story = s }},
		{PartCaption, "Describe what space weather looks like from your perspective",
			func(p *character.Parts, s string) { p.Caption = s }},
		{PartImpact, "Explain what you've learned about space weather and how it connects us all",
			func(p *character.Parts, s string) { p.Impact = s }},
	}
}

// ── Follow-ups ────────────────────────────────────────────────────────────────

// Ask answers a follow-up question in character. Without a working model the
// character's canned answers are used in rotation, then its fallback line.
func (g *Generator) Ask(ctx context.Context, id, question string) (Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Answer{}, ErrEmptyQuestion
	}
	ch, err := g.catalog.Get(id)
	if err != nil {
		return Answer{}, err
	}
	if g.TextEnabled() {
		prompt := fmt.Sprintf("The user just said: %q. Respond as %s and continue the conversation about space weather.", question, ch.DisplayName())
		text, err := g.complete(ctx, ch, prompt)
		if err == nil {
			return Answer{Text: text, Source: SourceAI}, nil
		}
		if ctx.Err() != nil {
			return Answer{}, fmt.Errorf("storygen: ask %q: %w", id, ctx.Err())
		}
		g.fallback(PartAnswer, err)
	}
	return g.cannedAnswer(ch), nil
}

func (g *Generator) cannedAnswer(ch character.Character) Answer {
	if n := len(ch.FollowUps); n > 0 {
		g.mu.Lock()
		i := g.canned[ch.ID] % n
		g.canned[ch.ID]++
		g.mu.Unlock()
		return Answer{Text: ch.FollowUps[i], Source: SourceCanned}
	}
	if ch.Fallback != "" {
		return Answer{Text: ch.Fallback, Source: SourceFallback}
	}
	return Answer{Text: genericFallback, Source: SourceFallback}
}

// ── Model calls ───────────────────────────────────────────────────────────────

func systemPrompt(ch character.Character) string {
	return fmt.Sprintf("You are %s, a space weather expert. Respond in first person as this character, "+
		"sharing personal experiences about how space weather affects your profession. "+
		"Keep responses conversational and educational, suitable for children.", ch.DisplayName())
}

func (g *Generator) complete(ctx context.Context, ch character.Character, prompt string) (string, error) {
	var text string
	err := g.textBreaker.Execute(func() error {
		ctx, cancel := g.bound(ctx)
		defer cancel()
		resp, err := g.llm.Complete(ctx, llm.Request{
			SystemPrompt: systemPrompt(ch),
			Messages:     []llm.Message{llm.User(prompt)},
			Temperature:  Temperature,
			MaxTokens:    MaxTokens,
		})
		if err != nil {
			return err
		}
		text = strings.TrimSpace(resp.Content)
		if text == "" {
			return errors.New("empty completion")
		}
		return nil
	})
	return text, err
}

func (g *Generator) illustrate(ctx context.Context, ch character.Character, scene string) (string, error) {
	var url string
	err := g.imageBreaker.Execute(func() error {
		ctx, cancel := g.bound(ctx)
		defer cancel()
		res, err := g.images.Generate(ctx, image.Request{
			Prompt: fmt.Sprintf("A colorful, kid-friendly illustration showing %s experiencing space weather. %s. Cartoon style, bright colors, educational.",
				ch.DisplayName(), strings.TrimSuffix(scene, ".")),
		})
		if err != nil {
			return err
		}
		url = res.URL
		return nil
	})
	return url, err
}

func (g *Generator) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.callTimeout > 0 {
		return context.WithTimeout(ctx, g.callTimeout)
	}
	return context.WithCancel(ctx)
}

func (g *Generator) fallback(part string, err error) {
	slog.Warn("ai content unavailable, using static content", "part", part, "err", err)
	if g.onFallback != nil {
		g.onFallback(part, err)
	}
}
