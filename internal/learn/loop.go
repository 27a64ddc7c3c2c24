package learn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/blentor/blentor/internal/knowledge"
	"github.com/blentor/blentor/internal/llm"
)

// DefaultMaxTaskAttempts caps research retries per task. After the cap the
// task is parked as abandoned — a topic the model can never produce an
// acceptable answer for must not burn resources forever.
const DefaultMaxTaskAttempts = 3

// Tier names derive a research depth from how populated a category is.
const (
	TierNovice       = "novato"
	TierApprentice   = "aprendiz"
	TierProfessional = "profesional"
	TierExpert       = "experto"
)

// TierFor maps a category's item count to its tier.
func TierFor(count int) string {
	switch {
	case count < 5:
		return TierNovice
	case count < 20:
		return TierApprentice
	case count < 50:
		return TierProfessional
	default:
		return TierExpert
	}
}

// tierDepth maps a tier to the research-depth instruction for the model.
var tierDepth = map[string]string{
	TierNovice:       "Explica el concepto desde cero, con definiciones básicas y un ejemplo mínimo.",
	TierApprentice:   "Explica el flujo de trabajo completo con pasos concretos y un ejemplo práctico.",
	TierProfessional: "Profundiza en detalles técnicos, casos límite y parámetros avanzados.",
	TierExpert:       "Cubre aspectos de nivel experto: internals, rendimiento y técnicas poco documentadas.",
}

const proposePrompt = `Eres el tutor de un asistente de Blender que estudia por su cuenta. La categoría "%s" (%s) es la más débil de su base de conocimiento (nivel: %s).

Propón UN tema concreto y específico que falte en esa categoría, apropiado para ese nivel. Criterio de admisión de la categoría: %s

Responde ÚNICAMENTE con JSON:
{"tema": "<título del tema>"}`

const researchPrompt = `Eres un experto en Blender redactando una ficha técnica para la categoría "%s".

Tema: %s

%s

Si corresponde, incluye un ejemplo de código bpy funcional.

Responde ÚNICAMENTE con JSON:
{"concepto": "<título corto>", "explicacion": "<explicación técnica>", "codigo": "<código bpy o cadena vacía>"}`

const evaluatePrompt = `Eres un revisor técnico estricto de contenido sobre Blender. Evalúa si esta ficha es correcta, específica y útil para la categoría "%s" (criterio de admisión: %s).

Ficha:
Concepto: %s
Explicación: %s
Código: %s

Responde ÚNICAMENTE con JSON:
{"aceptable": true|false, "razon": "<breve>"}`

// Store is the persistence surface the loop needs.
// *knowledge.Store satisfies it.
type Store interface {
	CountByCategory(ctx context.Context) (map[string]int, error)
	CreateTask(ctx context.Context, topic, targetCategory string) (uuid.UUID, error)
	NextTask(ctx context.Context, maxAttempts int) (knowledge.ResearchTask, error)
	RejectTask(ctx context.Context, id uuid.UUID, maxAttempts int) (string, error)
	DeleteTask(ctx context.Context, id uuid.UUID) error
	Insert(ctx context.Context, p knowledge.InsertParams) (uuid.UUID, error)
}

// Generator is the model call the loop depends on.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// DocumentEmbedder embeds accepted research before insertion.
type DocumentEmbedder interface {
	EmbedDocument(ctx context.Context, text string) ([]float32, error)
}

// Config wires a Loop.
type Config struct {
	Store    Store
	Gen      Generator
	Embedder DocumentEmbedder
	Catalog  *knowledge.Catalog
	Activity *Activity

	// Interval between ticks (default 5m).
	Interval time.Duration

	// Cooldown: skip the tick entirely when a user interacted this
	// recently (default 60s).
	Cooldown time.Duration

	// MaxTaskAttempts before a task is abandoned (default 3).
	MaxTaskAttempts int

	Logger *slog.Logger
}

// Loop is the autonomous learning cycle: audit the weakest category,
// propose a study topic, research it, evaluate the result, and write
// accepted knowledge back to the store.
//
// Every external call is wrapped so a failed cycle logs and waits for the
// next tick; the loop never terminates on its own.
type Loop struct {
	store       Store
	gen         Generator
	embedder    DocumentEmbedder
	catalog     *knowledge.Catalog
	activity    *Activity
	interval    time.Duration
	cooldown    time.Duration
	maxAttempts int
	logger      *slog.Logger
}

// New creates a Loop.
func New(cfg Config) *Loop {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	maxAttempts := cfg.MaxTaskAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxTaskAttempts
	}
	return &Loop{
		store:       cfg.Store,
		gen:         cfg.Gen,
		embedder:    cfg.Embedder,
		catalog:     cfg.Catalog,
		activity:    cfg.Activity,
		interval:    interval,
		cooldown:    cooldown,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Run blocks until ctx is canceled, executing one cycle per tick.
// Callers must track the goroutine with a WaitGroup.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.logger.Info("learning loop started", "interval", l.interval, "cooldown", l.cooldown)
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("learning loop stopped")
			return
		case <-ticker.C:
			l.RunOnce(ctx)
		}
	}
}

// RunOnce executes a single learning cycle. Exported for tests and for a
// manual trigger; all failures are contained here.
func (l *Loop) RunOnce(ctx context.Context) {
	if !l.activity.IdleSince(l.cooldown) {
		l.logger.Debug("user active recently, yielding this cycle")
		return
	}

	task, err := l.store.NextTask(ctx, l.maxAttempts)
	switch {
	case errors.Is(err, knowledge.ErrNoPendingTask):
		if err := l.propose(ctx); err != nil {
			l.logger.Warn("propose step failed", "error", err)
		}
		return
	case err != nil:
		l.logger.Warn("fetching research task failed", "error", err)
		return
	}

	if err := l.research(ctx, task); err != nil {
		l.logger.Warn("research step failed", "task", task.ID, "topic", task.Topic, "error", err)
	}
}

type proposeVerdict struct {
	Tema string `json:"tema"`
}

// propose audits the store, picks the weakest category, and enqueues one
// study topic for it.
func (l *Loop) propose(ctx context.Context) error {
	counts, err := l.store.CountByCategory(ctx)
	if err != nil {
		return fmt.Errorf("auditing categories: %w", err)
	}
	if len(counts) == 0 {
		return errors.New("no categories in catalog")
	}

	weakest, count := weakestCategory(counts)
	tier := TierFor(count)

	cat, _ := l.catalog.Get(weakest)
	prompt := fmt.Sprintf(proposePrompt, weakest, cat.Description, tier, cat.AdmissionCriterion)

	raw, err := l.gen.Generate(ctx, prompt)
	if err != nil {
		return fmt.Errorf("proposing topic: %w", err)
	}
	verdict, err := llm.DecodeJSON[proposeVerdict](raw)
	if err != nil || verdict.Tema == "" {
		return fmt.Errorf("unusable topic proposal: %w", err)
	}

	id, err := l.store.CreateTask(ctx, verdict.Tema, weakest)
	if err != nil {
		return fmt.Errorf("persisting task: %w", err)
	}

	l.logger.Info("study topic proposed",
		"task", id, "topic", verdict.Tema, "category", weakest, "tier", tier)
	return nil
}

type researchVerdict struct {
	Concepto    string `json:"concepto"`
	Explicacion string `json:"explicacion"`
	Codigo      string `json:"codigo"`
}

type evalVerdict struct {
	Aceptable bool   `json:"aceptable"`
	Razon     string `json:"razon"`
}

// research produces content for one task, evaluates it, and either inserts
// accepted knowledge (deleting the task) or rejects the task.
func (l *Loop) research(ctx context.Context, task knowledge.ResearchTask) error {
	counts, err := l.store.CountByCategory(ctx)
	if err != nil {
		return fmt.Errorf("auditing for tier: %w", err)
	}
	tier := TierFor(counts[task.TargetCategory])

	raw, err := l.gen.Generate(ctx,
		fmt.Sprintf(researchPrompt, task.TargetCategory, task.Topic, tierDepth[tier]))
	if err != nil {
		return fmt.Errorf("researching topic: %w", err)
	}
	content, err := llm.DecodeJSON[researchVerdict](raw)
	if err != nil || content.Concepto == "" || content.Explicacion == "" {
		return l.reject(ctx, task, fmt.Errorf("unusable research output: %w", err))
	}

	cat, _ := l.catalog.Get(task.TargetCategory)
	rawEval, err := l.gen.Generate(ctx, fmt.Sprintf(evaluatePrompt,
		task.TargetCategory, cat.AdmissionCriterion,
		content.Concepto, content.Explicacion, content.Codigo))
	if err != nil {
		return fmt.Errorf("evaluating research: %w", err)
	}
	eval, err := llm.DecodeJSON[evalVerdict](rawEval)
	if err != nil {
		// Unreadable verdict counts as rejection: fail toward doing more
		// research, never toward storing unvetted content.
		return l.reject(ctx, task, fmt.Errorf("unreadable evaluation: %w", err))
	}
	if !eval.Aceptable {
		return l.reject(ctx, task, fmt.Errorf("rejected by evaluator: %s", eval.Razon))
	}

	vec, err := l.embedder.EmbedDocument(ctx, content.Concepto+": "+content.Explicacion)
	if err != nil {
		return fmt.Errorf("embedding accepted research: %w", err)
	}

	itemID, err := l.store.Insert(ctx, knowledge.InsertParams{
		Category:  task.TargetCategory,
		Concept:   content.Concepto,
		Detail:    content.Explicacion,
		Code:      content.Codigo,
		Embedding: vec,
	})
	if err != nil {
		return fmt.Errorf("inserting accepted research: %w", err)
	}

	if err := l.store.DeleteTask(ctx, task.ID); err != nil {
		return fmt.Errorf("deleting completed task: %w", err)
	}

	l.logger.Info("knowledge learned",
		"item", itemID, "task", task.ID, "topic", task.Topic, "category", task.TargetCategory)
	return nil
}

func (l *Loop) reject(ctx context.Context, task knowledge.ResearchTask, cause error) error {
	status, err := l.store.RejectTask(ctx, task.ID, l.maxAttempts)
	if err != nil {
		return fmt.Errorf("rejecting task (cause: %v): %w", cause, err)
	}
	l.logger.Info("research rejected",
		"task", task.ID, "topic", task.Topic, "status", status, "cause", cause)
	return nil
}

// weakestCategory returns the category with the lowest count,
// lexicographically first between ties for determinism.
func weakestCategory(counts map[string]int) (string, int) {
	var weakest string
	lowest := -1
	for key, n := range counts {
		if lowest == -1 || n < lowest || (n == lowest && key < weakest) {
			weakest, lowest = key, n
		}
	}
	return weakest, lowest
}
