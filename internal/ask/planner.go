package ask

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/blentor/blentor/internal/llm"
)

// maxSubqueries caps how many rephrasings a plan may carry.
const maxSubqueries = 3

const plannerPrompt = `Eres el planificador de búsqueda de un asistente experto en Blender.

Dada la pregunta del usuario y las categorías de conocimiento disponibles:

1. Elige como máximo UNA categoría que mejor corresponda a la pregunta, o null si ninguna encaja claramente.
2. Genera 2 o 3 reformulaciones de la pregunta optimizadas para búsqueda semántica (términos técnicos, sin muletillas).

Responde ÚNICAMENTE con JSON en esta forma exacta:
{"categoria": "<clave o null>", "subconsultas": ["...", "..."]}

Categorías disponibles:
%s

Pregunta:
%s`

// Planner turns a user question into a small set of optimized subqueries
// plus an optional category focus. It must never be a hard failure point:
// any error degrades to FallbackPlan.
type Planner struct {
	gen    Generator
	logger *slog.Logger
}

// NewPlanner creates a Planner.
func NewPlanner(gen Generator, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{gen: gen, logger: logger}
}

// plannerVerdict is the JSON shape the model is instructed to emit.
type plannerVerdict struct {
	Categoria    string   `json:"categoria"`
	Subconsultas []string `json:"subconsultas"`
}

// Plan produces the retrieval plan for a question. knownCategories are the
// catalog keys; a focus outside them is discarded (mis-classification must
// not bias retrieval toward a partition that does not exist).
func (p *Planner) Plan(ctx context.Context, question string, knownCategories []string) Plan {
	prompt := fmt.Sprintf(plannerPrompt, formatCategories(knownCategories), question)

	raw, err := p.gen.Generate(ctx, prompt)
	if err != nil {
		p.logger.Warn("planner generation failed, using fallback plan", "error", err)
		return FallbackPlan(question)
	}

	verdict, err := llm.DecodeJSON[plannerVerdict](raw)
	if err != nil {
		p.logger.Warn("planner output unparsable, using fallback plan", "error", err)
		return FallbackPlan(question)
	}

	plan := Plan{Focus: normalizeFocus(verdict.Categoria, knownCategories)}
	for _, sq := range verdict.Subconsultas {
		sq = strings.TrimSpace(sq)
		if sq == "" {
			continue
		}
		plan.Subqueries = append(plan.Subqueries, sq)
		if len(plan.Subqueries) == maxSubqueries {
			break
		}
	}

	if len(plan.Subqueries) == 0 {
		p.logger.Warn("planner produced no usable subqueries, using fallback plan")
		return FallbackPlan(question)
	}

	p.logger.Debug("plan produced",
		"focus", plan.Focus,
		"subqueries", len(plan.Subqueries),
	)
	return plan
}

// normalizeFocus validates the model's category pick against the catalog.
func normalizeFocus(focus string, known []string) string {
	focus = strings.TrimSpace(strings.ToLower(focus))
	if focus == "" || focus == "null" {
		return ""
	}
	for _, k := range known {
		if focus == k {
			return focus
		}
	}
	return ""
}

func formatCategories(keys []string) string {
	if len(keys) == 0 {
		return "(ninguna)"
	}
	return "- " + strings.Join(keys, "\n- ")
}
