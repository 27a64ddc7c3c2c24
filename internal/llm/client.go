// Package llm wraps Genkit's Gemini provider behind a small client used by
// every component that talks to the model: generation with bounded retry,
// query/document embedding, and tolerant JSON decoding of model output.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"golang.org/x/time/rate"
)

// ErrGenerationFailed indicates the model call failed after retries.
// Callers degrade to their canned fallback instead of propagating a 500.
var ErrGenerationFailed = errors.New("generation failed")

// Config contains all parameters for the LLM client.
type Config struct {
	// GenerativeModel is the Gemini model for text generation,
	// e.g. "gemini-2.5-flash". May be provider-qualified.
	GenerativeModel string

	// EmbedderModel is the embedding model, e.g. "text-embedding-004".
	// Must match the dimensionality the store was populated with.
	EmbedderModel string

	// GenerateTimeout bounds a single generation call (default 180s,
	// sized for slow self-hosted backends reached through a tunnel).
	GenerateTimeout time.Duration

	// EmbedTimeout bounds a single embedding call (default 30s).
	EmbedTimeout time.Duration

	// Limiter, when set, paces every Generate call through this client.
	// Meant for the background learning client; the request path uses an
	// unpaced client (nil = none).
	Limiter *rate.Limiter

	// Retry configures transient-failure retry (zero value = defaults).
	Retry RetryConfig

	Logger *slog.Logger
}

// Client is the shared LLM access point. Safe for concurrent use.
type Client struct {
	g         *genkit.Genkit
	modelName string
	embedder  *Embedder

	generateTimeout time.Duration
	limiter         *rate.Limiter
	retry           RetryConfig
	logger          *slog.Logger
}

// New initializes Genkit with the Google AI plugin and returns a client.
// GEMINI_API_KEY is read by the plugin from the environment.
func New(ctx context.Context, cfg Config) (*Client, error) {
	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, errors.New("initializing genkit with googleai provider")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	generateTimeout := cfg.GenerateTimeout
	if generateTimeout <= 0 {
		generateTimeout = 180 * time.Second
	}
	embedTimeout := cfg.EmbedTimeout
	if embedTimeout <= 0 {
		embedTimeout = 30 * time.Second
	}

	retry := cfg.Retry
	if retry.MaxRetries == 0 {
		retry = DefaultRetryConfig()
	}

	c := &Client{
		g:               g,
		modelName:       qualifyModelName(cfg.GenerativeModel),
		generateTimeout: generateTimeout,
		limiter:         cfg.Limiter,
		retry:           retry,
		logger:          logger,
	}
	c.embedder = &Embedder{
		embedder: googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel),
		timeout:  embedTimeout,
		logger:   logger.With("component", "embedder"),
	}
	return c, nil
}

// Genkit exposes the underlying instance for test model registration.
func (c *Client) Genkit() *genkit.Genkit { return c.g }

// Embedder returns the shared embedding client.
func (c *Client) Embedder() *Embedder { return c.embedder }

// SetModelName overrides the generation model. Used by tests to point the
// client at a registered mock model.
func (c *Client) SetModelName(name string) { c.modelName = name }

// WithLimiter returns a copy of the client whose Generate calls wait on l.
// The background loops get a limited copy while request handlers keep the
// unpaced original, so self-study paces itself without throttling users.
func (c *Client) WithLimiter(l *rate.Limiter) *Client {
	cc := *c
	cc.limiter = l
	return &cc
}

// Generate runs one prompt against the generative model and returns the raw
// text. Transient failures are retried with exponential backoff; exhausted
// retries and semantic failures are wrapped in ErrGenerationFailed so
// callers can degrade uniformly.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.generateTimeout)
	defer cancel()

	resp, err := c.generateWithRetry(callCtx, prompt)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("%w: model returned empty response", ErrGenerationFailed)
	}
	return text, nil
}

// qualifyModelName prefixes the googleai provider unless the name already
// carries one (tests pass "mock/test-model").
func qualifyModelName(name string) string {
	if strings.Contains(name, "/") {
		return name
	}
	return "googleai/" + name
}
