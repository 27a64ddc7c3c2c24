package ask

import (
	"context"
	"log/slog"
)

// CategorySource provides the current catalog keys for planning.
// *knowledge.Catalog satisfies it.
type CategorySource interface {
	Keys() []string
}

// Pipeline runs the full question-answering flow: plan, retrieve, judge,
// compose. It is the single entry point the HTTP layer calls; every stage
// degrades internally, so Answer never returns an error.
type Pipeline struct {
	planner    *Planner
	retriever  *Retriever
	judge      *Judge
	composer   *Composer
	categories CategorySource
	logger     *slog.Logger
}

// NewPipeline assembles the pipeline from its stages.
func NewPipeline(planner *Planner, retriever *Retriever, judge *Judge, composer *Composer, categories CategorySource, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		planner:    planner,
		retriever:  retriever,
		judge:      judge,
		composer:   composer,
		categories: categories,
		logger:     logger,
	}
}

// Answer produces the response for one user question.
func (p *Pipeline) Answer(ctx context.Context, question string) Answer {
	plan := p.planner.Plan(ctx, question, p.categories.Keys())

	kctx := p.retriever.Retrieve(ctx, plan)
	if kctx.Empty() {
		p.logger.Info("no relevant knowledge found", "focus", plan.Focus)
		return NotFoundAnswer()
	}

	sufficient, reason := p.judge.Sufficient(ctx, question, kctx)
	if !sufficient {
		p.logger.Debug("context judged insufficient", "reason", reason)
	}

	return p.composer.Compose(ctx, question, kctx, sufficient)
}
