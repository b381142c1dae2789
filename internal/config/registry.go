package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/skystories/pkg/provider/convai"
	"github.com/MrWong99/skystories/pkg/provider/image"
	"github.com/MrWong99/skystories/pkg/provider/llm"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	convai map[string]func(ProviderEntry) (convai.Provider, error)
	llm    map[string]func(ProviderEntry) (llm.Provider, error)
	image  map[string]func(ProviderEntry) (image.Generator, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		convai: make(map[string]func(ProviderEntry) (convai.Provider, error)),
		llm:    make(map[string]func(ProviderEntry) (llm.Provider, error)),
		image:  make(map[string]func(ProviderEntry) (image.Generator, error)),
	}
}

// RegisterConvAI registers a conversation provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterConvAI(name string, factory func(ProviderEntry) (convai.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.convai[name] = factory
}

// RegisterLLM registers an LLM provider factory under name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterImage registers an image generator factory under name.
func (r *Registry) RegisterImage(name string, factory func(ProviderEntry) (image.Generator, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.image[name] = factory
}

// CreateConvAI instantiates a conversation provider using the factory
// registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateConvAI(entry ProviderEntry) (convai.Provider, error) {
	r.mu.RLock()
	factory, ok := r.convai[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: convai/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateLLM instantiates an LLM provider using the factory registered under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateImage instantiates an image generator using the factory registered under entry.Name.
func (r *Registry) CreateImage(entry ProviderEntry) (image.Generator, error) {
	r.mu.RLock()
	factory, ok := r.image[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: image/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// Names returns the sorted registered provider names per kind, for the
// startup summary.
func (r *Registry) Names() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string][]string{
		"convai": sortedKeys(r.convai),
		"llm":    sortedKeys(r.llm),
		"image":  sortedKeys(r.image),
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
