package ask

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/blentor/blentor/internal/knowledge"
	"github.com/blentor/blentor/internal/llm"
)

const composePrompt = `Eres un asistente experto en el manual de Blender. Responde la pregunta del usuario usando ÚNICAMENTE el contexto provisto.

Reglas:
1. Basa tu respuesta exclusivamente en el 'Contexto'. No inventes información.
2. Si el contexto no responde realmente la pregunta, responde exactamente: "%s"
3. Cita la fuente usando la etiqueta provista: "%s"

Responde ÚNICAMENTE con JSON en esta forma exacta:
{"respuesta_principal": "...", "puntos_clave": [{"titulo": "...", "descripcion": "..."}], "fuente": "%s"}

Contexto:
%s

Pregunta:
%s`

const generalKnowledgePrompt = `Eres un asistente experto en Blender. El contexto recuperado NO fue suficiente para responder, así que puedes usar tu conocimiento general. Aclara en la respuesta que la información no proviene del manual indexado.

Responde ÚNICAMENTE con JSON en esta forma exacta:
{"respuesta_principal": "...", "puntos_clave": [{"titulo": "...", "descripcion": "..."}], "fuente": "%s"}

Contexto parcial (puede ayudar):
%s

Pregunta:
%s`

// PathResolver resolves an item's citation hierarchy.
// *knowledge.Store satisfies it.
type PathResolver interface {
	SourcePath(ctx context.Context, itemID uuid.UUID) knowledge.SourcePath
}

// UsageSink receives best-effort usage reports for items that contributed
// to an accepted answer. *Reporter satisfies it.
type UsageSink interface {
	Report(itemID uuid.UUID)
}

// Composer assembles the final answer from question + context.
type Composer struct {
	gen    Generator
	paths  PathResolver
	usage  UsageSink
	logger *slog.Logger
}

// NewComposer creates a Composer. usage may be nil (reporting disabled).
func NewComposer(gen Generator, paths PathResolver, usage UsageSink, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{gen: gen, paths: paths, usage: usage, logger: logger}
}

// Compose runs the answer state machine:
//
//  1. Empty context → fixed not-found answer, no model call.
//  2. Insufficient context → general-knowledge prompt with disclaimer label.
//  3. Otherwise → strict context-only prompt with citation label.
//
// Model failure degrades to the connectivity answer; unparsable output is
// synthesized into a valid answer from the raw text. On success each
// contributing item is reported for a usage increment, fire-and-forget.
func (c *Composer) Compose(ctx context.Context, question string, kctx Context, sufficient bool) Answer {
	if kctx.Empty() {
		return NotFoundAnswer()
	}

	sourceLabel := c.sourceLabel(ctx, kctx)

	var prompt string
	if sufficient {
		prompt = fmt.Sprintf(composePrompt,
			NotFoundText, sourceLabel, sourceLabel, serializeContext(kctx), question)
	} else {
		sourceLabel = GeneralKnowledgeSource
		prompt = fmt.Sprintf(generalKnowledgePrompt,
			GeneralKnowledgeSource, serializeContext(kctx), question)
	}

	raw, err := c.gen.Generate(ctx, prompt)
	if err != nil {
		c.logger.Warn("answer generation failed", "error", err)
		return DegradedAnswer()
	}

	answer, err := llm.DecodeJSON[Answer](raw)
	if err != nil {
		var parseErr *llm.ParseError
		if errors.As(err, &parseErr) {
			// Keep whatever text the model produced rather than failing
			// the request over formatting.
			c.logger.Warn("answer output unparsable, synthesizing from raw text")
			answer = Answer{MainText: strings.TrimSpace(parseErr.Raw)}
		} else {
			return DegradedAnswer()
		}
	}

	if answer.MainText == "" {
		return DegradedAnswer()
	}
	if answer.KeyPoints == nil {
		answer.KeyPoints = []KeyPoint{}
	}
	// The source must come from the retrieved set, never from the model's
	// imagination.
	answer.Source = sourceLabel

	c.reportUsage(kctx)
	return answer
}

// sourceLabel builds the deduplicated citation string from the hierarchy
// of every item actually present in the context.
func (c *Composer) sourceLabel(ctx context.Context, kctx Context) string {
	seen := make(map[string]struct{}, len(kctx.Items))
	var labels []string
	for _, si := range kctx.Items {
		path := c.paths.SourcePath(ctx, si.Item.ID)
		label := path.Label()
		if path.ChapterTitle == knowledge.UncategorizedChapter && si.Item.Category != "" {
			// Items outside the manual hierarchy (learning loop output)
			// cite their category instead of placeholder titles.
			label = si.Item.Category
		}
		if _, ok := seen[label]; ok {
			continue
		}
		seen[label] = struct{}{}
		labels = append(labels, label)
	}
	return strings.Join(labels, ", ")
}

func (c *Composer) reportUsage(kctx Context) {
	if c.usage == nil {
		return
	}
	for _, si := range kctx.Items {
		c.usage.Report(si.Item.ID)
	}
}
