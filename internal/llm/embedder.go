package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
)

// ErrEmbeddingFailed indicates the embedding call failed or returned an
// empty vector. Callers treat it as "no retrieval possible", never a crash.
var ErrEmbeddingFailed = errors.New("embedding failed")

// Intent distinguishes query-time from document-time embedding. Gemini
// biases vector geometry by task type, so retrieval quality depends on
// using the matching intent on each side.
type Intent string

const (
	IntentQuery    Intent = "RETRIEVAL_QUERY"
	IntentDocument Intent = "RETRIEVAL_DOCUMENT"
)

// Embedder turns text into fixed-dimension vectors via the configured
// embedding model. Safe for concurrent use.
type Embedder struct {
	embedder ai.Embedder
	timeout  time.Duration
	logger   *slog.Logger
}

// NewEmbedder wraps an ai.Embedder directly. Production code gets one from
// Client; tests inject mock embedders here.
func NewEmbedder(e ai.Embedder, timeout time.Duration, logger *slog.Logger) *Embedder {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Embedder{embedder: e, timeout: timeout, logger: logger}
}

// EmbedQuery embeds a short search query.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text, IntentQuery)
}

// EmbedDocument embeds document content for storage.
func (e *Embedder) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text, IntentDocument)
}

func (e *Embedder) embed(ctx context.Context, text string, intent Intent) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: empty input", ErrEmbeddingFailed)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.embedder.Embed(callCtx, &ai.EmbedRequest{
		Input: []*ai.Document{
			ai.DocumentFromText(text, nil),
		},
		Options: map[string]any{"task_type": string(intent)},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: timeout after %v", ErrEmbeddingFailed, e.timeout)
		}
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}

	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding returned", ErrEmbeddingFailed)
	}

	return resp.Embeddings[0].Embedding, nil
}
