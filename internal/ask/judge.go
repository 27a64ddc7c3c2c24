package ask

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/blentor/blentor/internal/knowledge"
	"github.com/blentor/blentor/internal/llm"
)

const judgePrompt = `Eres un evaluador estricto. Decide si el contexto recuperado es suficiente para responder la pregunta del usuario de forma completa y correcta.

Responde ÚNICAMENTE con JSON en esta forma exacta:
{"suficiente": true|false, "razon": "<explicación breve>"}

Pregunta:
%s

Contexto recuperado:
%s`

// Judge asks the model whether the retrieved context can actually answer
// the question. Any failure defaults to insufficient — the pipeline fails
// toward doing more, never toward answering with inadequate context.
type Judge struct {
	gen    Generator
	logger *slog.Logger
}

// NewJudge creates a Judge.
func NewJudge(gen Generator, logger *slog.Logger) *Judge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Judge{gen: gen, logger: logger}
}

type judgeVerdict struct {
	Suficiente bool   `json:"suficiente"`
	Razon      string `json:"razon"`
}

// Sufficient returns whether the context is adequate plus the model's
// reason. Defaults to (false, reason) on any call or parse failure.
func (j *Judge) Sufficient(ctx context.Context, question string, kctx Context) (bool, string) {
	if kctx.Empty() {
		return false, "contexto vacío"
	}

	raw, err := j.gen.Generate(ctx, fmt.Sprintf(judgePrompt, question, serializeContext(kctx)))
	if err != nil {
		j.logger.Warn("sufficiency judge call failed, assuming insufficient", "error", err)
		return false, "fallo del evaluador"
	}

	verdict, err := llm.DecodeJSON[judgeVerdict](raw)
	if err != nil {
		j.logger.Warn("sufficiency verdict unparsable, assuming insufficient", "error", err)
		return false, "veredicto ilegible"
	}

	return verdict.Suficiente, verdict.Razon
}

// serializeContext renders the context set for judge and composer prompts,
// each item followed by its outgoing relations.
func serializeContext(kctx Context) string {
	rels := make(map[uuid.UUID][]knowledge.Relation, len(kctx.Relations))
	for _, rel := range kctx.Relations {
		rels[rel.ItemID] = append(rels[rel.ItemID], rel)
	}

	var b strings.Builder
	for i, si := range kctx.Items {
		fmt.Fprintf(&b, "[%d] (categoría: %s, similitud: %.2f)\n%s\n",
			i+1, si.Item.Category, si.Score, si.Item.Content())
		for _, rel := range rels[si.Item.ID] {
			fmt.Fprintf(&b, "Relacionado (%s): %s\n", rel.Label, rel.TargetTitle)
		}
		b.WriteString("\n")
	}
	return b.String()
}
