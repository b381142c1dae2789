// Package openai provides an image generator backed by the OpenAI images API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/skystories/pkg/provider/image"
)

// Defaults used when the request leaves them empty.
const (
	DefaultModel = oai.ImageModelDallE3
	DefaultSize  = "1024x1024"
)

var _ image.Generator = (*Generator)(nil)

// Generator implements image.Generator.
type Generator struct {
	client oai.Client
	model  oai.ImageModel
}

type config struct {
	baseURL string
	model   string
	timeout time.Duration
}

// Option configures a Generator.
type Option func(*config)

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel selects the image model.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New creates a Generator.
func New(apiKey string, opts ...Option) (*Generator, error) {
	if apiKey == "" {
		return nil, errors.New("openai image: apiKey must not be empty")
	}
	cfg := &config{model: string(DefaultModel)}
	for _, o := range opts {
		o(cfg)
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	return &Generator{client: oai.NewClient(reqOpts...), model: oai.ImageModel(cfg.model)}, nil
}

// Generate implements image.Generator.
func (g *Generator) Generate(ctx context.Context, req image.Request) (*image.Result, error) {
	if req.Prompt == "" {
		return nil, errors.New("openai image: prompt must not be empty")
	}
	size := req.Size
	if size == "" {
		size = DefaultSize
	}
	resp, err := g.client.Images.Generate(ctx, oai.ImageGenerateParams{
		Prompt:         req.Prompt,
		Model:          g.model,
		N:              param.NewOpt(int64(1)),
		Size:           oai.ImageGenerateParamsSize(size),
		ResponseFormat: oai.ImageGenerateParamsResponseFormatURL,
	})
	if err != nil {
		return nil, fmt.Errorf("openai image: generate: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return nil, errors.New("openai image: no image in response")
	}
	return &image.Result{URL: resp.Data[0].URL, RevisedPrompt: resp.Data[0].RevisedPrompt}, nil
}
