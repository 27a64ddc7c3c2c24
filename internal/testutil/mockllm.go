// Package testutil provides shared testing utilities: deterministic model
// and embedder mocks plus a disposable pgvector database.
package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// MockLLM provides deterministic model responses for testing.
// It matches prompt content against registered patterns and returns the
// corresponding response. First match wins; unmatched prompts get the
// fallback.
//
// Thread-safe for concurrent use.
type MockLLM struct {
	mu        sync.Mutex
	responses []mockRule
	fallback  string
	failWith  error
	calls     []MockCall
}

type mockRule struct {
	pattern  string // substring match, case-insensitive
	response string
}

// MockCall records a single call to the mock.
type MockCall struct {
	Prompt   string
	Response string
}

// NewMockLLM creates a mock with the given fallback response.
func NewMockLLM(fallback string) *MockLLM {
	return &MockLLM{fallback: fallback}
}

// AddResponse registers a pattern-response pair. When a prompt contains the
// pattern (case-insensitive), the response is returned.
func (m *MockLLM) AddResponse(pattern, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, mockRule{
		pattern:  strings.ToLower(pattern),
		response: response,
	})
}

// FailWith makes every subsequent call return err instead of a response.
// Pass nil to restore normal behavior.
func (m *MockLLM) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

// Calls returns a copy of all recorded calls.
func (m *MockLLM) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]MockCall, len(m.calls))
	copy(cp, m.calls)
	return cp
}

// Reset clears all recorded calls (keeps registered responses).
func (m *MockLLM) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Generate satisfies the Generator interface the pipeline, learning loop,
// and script composer all consume.
func (m *MockLLM) Generate(_ context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWith != nil {
		return "", m.failWith
	}

	responseText := m.fallback
	lower := strings.ToLower(prompt)
	for i := range m.responses {
		if strings.Contains(lower, m.responses[i].pattern) {
			responseText = m.responses[i].response
			break
		}
	}

	m.calls = append(m.calls, MockCall{Prompt: prompt, Response: responseText})
	if responseText == "" {
		return "", errors.New("mock: no response registered and no fallback")
	}
	return responseText, nil
}

// RegisterModel registers the mock as a Genkit model for tests that
// exercise the real client path. The model name is "mock/test-model".
func (m *MockLLM) RegisterModel(g *genkit.Genkit) ai.Model {
	return genkit.DefineModel(g, "mock/test-model", &ai.ModelOptions{
		Label: "Mock Test Model",
		Supports: &ai.ModelSupports{
			Multiturn:  true,
			SystemRole: true,
		},
	}, m.generate)
}

// generate is the Genkit model function.
func (m *MockLLM) generate(_ context.Context, req *ai.ModelRequest, _ ai.ModelStreamCallback) (*ai.ModelResponse, error) {
	var userText string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == ai.RoleUser {
			userText = req.Messages[i].Text()
			break
		}
	}

	responseText, err := m.Generate(context.Background(), userText)
	if err != nil {
		return nil, err
	}

	return &ai.ModelResponse{
		Request: req,
		Message: &ai.Message{
			Role:    ai.RoleModel,
			Content: []*ai.Part{ai.NewTextPart(responseText)},
		},
	}, nil
}

// MockEmbedder provides deterministic embedding vectors for testing.
//
// By default it derives a normalized vector from content using SHA-256.
// Explicit mappings can be added for precise cosine similarity control.
//
// Thread-safe for concurrent use.
type MockEmbedder struct {
	mu       sync.Mutex
	vectors  map[string][]float32
	dim      int
	failWith error
}

// NewMockEmbedder creates a mock embedder with the given dimensions.
func NewMockEmbedder(dim int) *MockEmbedder {
	return &MockEmbedder{
		vectors: make(map[string][]float32),
		dim:     dim,
	}
}

// SetVector registers an explicit vector for a content string.
// Use this to control exact cosine similarity between test inputs.
func (e *MockEmbedder) SetVector(content string, vec []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vectors[content] = vec
}

// FailWith makes every subsequent call return err. Pass nil to restore.
func (e *MockEmbedder) FailWith(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failWith = err
}

// EmbedQuery satisfies the retriever's QueryEmbedder interface.
func (e *MockEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return e.vectorFor(text)
}

// EmbedDocument satisfies the learning loop's DocumentEmbedder interface.
func (e *MockEmbedder) EmbedDocument(_ context.Context, text string) ([]float32, error) {
	return e.vectorFor(text)
}

func (e *MockEmbedder) vectorFor(content string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failWith != nil {
		return nil, e.failWith
	}
	if v, ok := e.vectors[content]; ok {
		return v, nil
	}
	return deterministicVector(content, e.dim), nil
}

// RegisterEmbedder registers the mock as a Genkit embedder for tests of
// the real embedder path. The name is "mock/test-embedder".
func (e *MockEmbedder) RegisterEmbedder(g *genkit.Genkit) ai.Embedder {
	return genkit.DefineEmbedder(g, "mock/test-embedder", &ai.EmbedderOptions{
		Label:      "Mock Test Embedder",
		Dimensions: e.dim,
	}, e.embed)
}

// embed is the Genkit embedder function.
func (e *MockEmbedder) embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	embeddings := make([]*ai.Embedding, len(req.Input))
	for i, doc := range req.Input {
		vec, err := e.vectorFor(documentText(doc))
		if err != nil {
			return nil, err
		}
		embeddings[i] = &ai.Embedding{Embedding: vec}
	}
	return &ai.EmbedResponse{Embeddings: embeddings}, nil
}

// documentText extracts all text content from a Document's parts.
func documentText(doc *ai.Document) string {
	var sb strings.Builder
	for _, p := range doc.Content {
		if p.Kind == ai.PartText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// deterministicVector generates a normalized vector from content using
// SHA-256. The same content always produces the same vector.
func deterministicVector(content string, dim int) []float32 {
	hash := sha256.Sum256([]byte(content))
	vec := make([]float32, dim)

	for i := range vec {
		idx := (i * 4) % len(hash)
		bits := binary.LittleEndian.Uint32([]byte{
			hash[idx%32],
			hash[(idx+1)%32],
			hash[(idx+2)%32],
			hash[(idx+3)%32],
		})
		vec[i] = (float32(bits)/float32(math.MaxUint32))*2 - 1
	}

	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	norm = float32(math.Sqrt(float64(norm)))
	if norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	}

	return vec
}
