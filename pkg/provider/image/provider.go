// Package image defines the Generator interface for illustration backends.
package image

import "context"

// Request describes one illustration.
type Request struct {
	Prompt string

	// Size is a backend size string such as "1024x1024". Empty uses the
	// backend default.
	Size string
}

// Result is a generated illustration.
type Result struct {
	// URL points at the hosted image.
	URL string

	// RevisedPrompt is the prompt the backend actually used, when reported.
	RevisedPrompt string
}

// Generator produces illustrations. Implementations must be safe for
// concurrent use.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}
