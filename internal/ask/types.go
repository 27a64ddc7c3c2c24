// Package ask implements the retrieval-augmented answer pipeline:
// plan → retrieve → judge → compose, with graduated fallback at every
// stage so a user always gets a well-formed answer.
package ask

import (
	"context"

	"github.com/blentor/blentor/internal/knowledge"
)

// Generator is the LLM call shape the pipeline depends on.
// *llm.Client satisfies it.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Plan is the planner's per-request output. Never persisted.
type Plan struct {
	// Focus is an optional category hint. It is a soft boost signal,
	// never a hard filter.
	Focus string

	// Subqueries are 1-3 search-optimized rephrasings of the question.
	Subqueries []string
}

// FallbackPlan is the plan used when planning fails for any reason:
// no focus, the original question as the only subquery.
func FallbackPlan(question string) Plan {
	return Plan{Subqueries: []string{question}}
}

// Context is the ranked, deduplicated set of retrieved knowledge, plus the
// outgoing relations of the kept items for prompt-side expansion.
// Empty context is a first-class value meaning "nothing relevant found".
type Context struct {
	Items     []knowledge.ScoredItem
	Relations []knowledge.Relation
}

// Empty reports whether retrieval found nothing.
func (c Context) Empty() bool { return len(c.Items) == 0 }

// KeyPoint is one structured highlight of an answer.
type KeyPoint struct {
	Title       string `json:"titulo"`
	Description string `json:"descripcion"`
}

// Answer is the response object for /preguntar.
type Answer struct {
	MainText  string     `json:"respuesta_principal"`
	KeyPoints []KeyPoint `json:"puntos_clave"`
	Source    string     `json:"fuente"`
}

// User-visible fixed sentences. The not-found sentence is a contract: the
// frontend string-matches it, so it must never vary.
const (
	NotFoundText = "Lo siento, no pude encontrar información sobre eso en mi base de conocimiento."

	ConnectivityErrorText = "Lo siento, tuve un problema de conexión al generar la respuesta. Por favor, inténtalo de nuevo."

	GeneralKnowledgeSource = "Conocimiento General"
)

// NotFoundAnswer is returned when retrieval yields an empty context.
// KeyPoints is an empty slice, not nil, so it serializes as [].
func NotFoundAnswer() Answer {
	return Answer{MainText: NotFoundText, KeyPoints: []KeyPoint{}}
}

// DegradedAnswer is returned when generation itself failed.
func DegradedAnswer() Answer {
	return Answer{MainText: ConnectivityErrorText, KeyPoints: []KeyPoint{}}
}
