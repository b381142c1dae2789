// Package mock provides a test double for image.Generator.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/skystories/pkg/provider/image"
)

var _ image.Generator = (*Generator)(nil)

// Generator is a mock image.Generator.
type Generator struct {
	mu sync.Mutex

	// URL is returned in every successful result.
	URL string

	// Err, if non-nil, is returned by Generate.
	Err error

	// Requests records every request.
	Requests []image.Request
}

// Generate implements image.Generator.
func (g *Generator) Generate(_ context.Context, req image.Request) (*image.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Requests = append(g.Requests, req)
	if g.Err != nil {
		return nil, g.Err
	}
	return &image.Result{URL: g.URL}, nil
}

// Calls returns the number of Generate invocations.
func (g *Generator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Requests)
}
