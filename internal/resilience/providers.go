package resilience

import (
	"context"

	"github.com/MrWong99/skystories/pkg/provider/image"
	"github.com/MrWong99/skystories/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] by failing over across several
// backends.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred
// backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend.
func (f *LLMFallback) AddFallback(name string, p llm.Provider) { f.group.AddFallback(name, p) }

// Group exposes the underlying group, mostly for breaker inspection.
func (f *LLMFallback) Group() *FallbackGroup[llm.Provider] { return f.group }

// Complete implements llm.Provider.
func (f *LLMFallback) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (*llm.Response, error) {
		return p.Complete(ctx, req)
	})
}

// Model returns the primary backend's model.
func (f *LLMFallback) Model() string {
	return f.group.entries[0].value.Model()
}

// ImageFallback implements [image.Generator] by failing over across several
// generators.
type ImageFallback struct {
	group *FallbackGroup[image.Generator]
}

var _ image.Generator = (*ImageFallback)(nil)

// NewImageFallback creates an [ImageFallback] with primary as the preferred
// generator.
func NewImageFallback(primary image.Generator, primaryName string, cfg FallbackConfig) *ImageFallback {
	return &ImageFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another generator.
func (f *ImageFallback) AddFallback(name string, g image.Generator) { f.group.AddFallback(name, g) }

// Generate implements image.Generator.
func (f *ImageFallback) Generate(ctx context.Context, req image.Request) (*image.Result, error) {
	return ExecuteWithResult(f.group, func(g image.Generator) (*image.Result, error) {
		return g.Generate(ctx, req)
	})
}
