// Package mock provides a test double for the llm.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Response: &llm.Response{Content: "Hello!"}}
//	resp, err := p.Complete(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/skystories/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// Provider is a mock implementation of llm.Provider. All fields may be set
// before use; call records are safe to read after the calls return.
type Provider struct {
	mu sync.Mutex

	// Response is returned by Complete when Respond is nil.
	Response *llm.Response

	// Respond, if set, computes the response for each request.
	Respond func(req llm.Request) (*llm.Response, error)

	// Err, if non-nil, is returned by Complete.
	Err error

	// Block makes Complete wait for ctx cancellation.
	Block bool

	// ModelName is returned by Model.
	ModelName string

	// Requests records every request passed to Complete.
	Requests []llm.Request
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	p.Requests = append(p.Requests, req)
	respond, resp, err, block := p.Respond, p.Response, p.Err, p.Block
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if respond != nil {
		return respond(req)
	}
	if resp == nil {
		return &llm.Response{}, nil
	}
	out := *resp
	return &out, nil
}

// Model implements llm.Provider.
func (p *Provider) Model() string { return p.ModelName }

// Calls returns the number of Complete invocations.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Requests)
}

// Reset clears the recorded requests.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Requests = nil
}
