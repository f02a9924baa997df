// Package generate calls an external language model to produce page content.
package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/wolfeidau/halnet"
	"github.com/wolfeidau/halnet/telemetry"
)

const (
	// DefaultTimeout bounds a single generation call.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxTokens is the completion bound used when a request does not set one.
	DefaultMaxTokens = 4000
)

// Provider names.
const (
	ProviderOpenRouter = "openrouter"
	ProviderAnthropic  = "anthropic"
	ProviderGemini     = "gemini"
)

// ErrEmptyContent is returned when the provider responds without any usable content.
var ErrEmptyContent = errors.New("no content generated")

// Request is a single generation call.
type Request struct {
	Path      halnet.Path
	Prompt    string
	MaxTokens int
}

// Result is generated content for a request.
type Result struct {
	Content  []byte
	Provider string
	Model    string
	Duration time.Duration
}

// Generator produces content for a request.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Result, error)
	Name() string
}

// ConfigurationError is returned by New when the selected provider cannot be used.
type ConfigurationError struct {
	Provider string
	Setting  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s provider: %s is required", e.Provider, e.Setting)
}

// ProviderError wraps any failure to obtain content from the provider.
type ProviderError struct {
	Provider   string
	Path       string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("generating %s via %s: status %d: %v", e.Path, e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("generating %s via %s: %v", e.Path, e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Config selects and configures a provider.
type Config struct {
	// Provider is one of openrouter, anthropic or gemini. Defaults to openrouter.
	Provider string

	// APIKey is the provider credential.
	APIKey string

	// Model overrides the provider's default model.
	Model string

	// BaseURL overrides the provider endpoint.
	BaseURL string

	// MaxTokens is used for requests that do not set their own bound.
	MaxTokens int

	// Timeout bounds each call. Defaults to DefaultTimeout.
	Timeout time.Duration

	// Transport is the base round tripper for provider calls.
	Transport http.RoundTripper

	Logger *slog.Logger
}

// completer is implemented by each provider backend.
type completer interface {
	complete(ctx context.Context, model, prompt string, maxTokens int) (string, error)
	defaultModel() string
}

// Client implements Generator on top of a provider backend.
type Client struct {
	provider  string
	backend   completer
	model     string
	maxTokens int
	timeout   time.Duration
	logger    *slog.Logger
}

// New validates cfg and creates a client for the selected provider.
// It returns a *ConfigurationError when the credential is missing.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Provider == "" {
		cfg.Provider = ProviderOpenRouter
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	var backend completer
	switch cfg.Provider {
	case ProviderOpenRouter, ProviderAnthropic, ProviderGemini:
		if cfg.APIKey == "" {
			return nil, &ConfigurationError{Provider: cfg.Provider, Setting: "API key"}
		}
	default:
		return nil, &ConfigurationError{Provider: cfg.Provider, Setting: "a supported provider name"}
	}

	httpClient := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: telemetry.NewInstrumentedTransport(cfg.Transport, cfg.Provider),
	}

	switch cfg.Provider {
	case ProviderOpenRouter:
		backend = newOpenRouter(cfg.APIKey, cfg.BaseURL, httpClient)
	case ProviderAnthropic:
		backend = newAnthropic(cfg.APIKey, cfg.BaseURL, httpClient)
	case ProviderGemini:
		g, err := newGemini(ctx, cfg.APIKey, cfg.BaseURL, httpClient)
		if err != nil {
			return nil, fmt.Errorf("creating gemini client: %w", err)
		}
		backend = g
	}

	model := cfg.Model
	if model == "" {
		model = backend.defaultModel()
	}

	return &Client{
		provider:  cfg.Provider,
		backend:   backend,
		model:     model,
		maxTokens: cfg.MaxTokens,
		timeout:   cfg.Timeout,
		logger:    cfg.Logger.With("component", "generate", "provider", cfg.Provider),
	}, nil
}

// Name returns the provider name.
func (c *Client) Name() string {
	return c.provider
}

// Model returns the model used for every request.
func (c *Client) Model() string {
	return c.model
}

// Generate calls the provider once. Failures are returned as *ProviderError
// and are never retried.
func (c *Client) Generate(ctx context.Context, req Request) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	start := time.Now()
	content, err := c.backend.complete(ctx, c.model, req.Prompt, maxTokens)
	if err == nil {
		content = Clean(req.Path.Kind, content)
		if content == "" {
			err = ErrEmptyContent
		}
	}
	duration := time.Since(start)

	if err != nil {
		perr := c.providerError(req.Path, err)
		telemetry.RecordGeneration(ctx, c.provider, "error", duration, 0)
		c.logger.Error("generation failed", "path", req.Path.Normalized, "model", c.model, "duration", duration, "error", perr)
		return nil, perr
	}

	telemetry.RecordGeneration(ctx, c.provider, "success", duration, int64(len(content)))
	c.logger.Debug("generation complete", "path", req.Path.Normalized, "model", c.model, "bytes", len(content), "duration", duration)

	return &Result{
		Content:  []byte(content),
		Provider: c.provider,
		Model:    c.model,
		Duration: duration,
	}, nil
}

func (c *Client) providerError(p halnet.Path, err error) *ProviderError {
	var perr *ProviderError
	if errors.As(err, &perr) {
		perr.Provider = c.provider
		perr.Path = p.Normalized
		return perr
	}
	return &ProviderError{Provider: c.provider, Path: p.Normalized, Err: err}
}

var _ Generator = (*Client)(nil)
