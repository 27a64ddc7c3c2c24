package learn

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/blentor/blentor/internal/knowledge"
	"github.com/blentor/blentor/internal/llm"
)

// Sampling sizes for one curation pass.
const (
	curationItemsPerCategory = 10
	curationRecentQueries    = 50
)

const curatePrompt = `Eres el editor jefe de la base de conocimiento de un asistente de Blender. Revisa las fichas recientes y las preguntas reales de los usuarios.

Decisiones que debes tomar:
1. "eliminar": ids de fichas rotas, vacías, incorrectas o irrelevantes (sé conservador: solo elimina con motivo claro).
2. "nuevas_tareas": temas de estudio que cubran la brecha entre lo que preguntan los usuarios y lo que existe.

Responde ÚNICAMENTE con JSON:
{"eliminar": ["<id>"], "nuevas_tareas": [{"tema": "...", "categoria": "<clave de categoría>"}]}

Categorías válidas: %s

Fichas recientes:
%s

Preguntas recientes de usuarios:
%s`

// CuratorStore is the persistence surface the curation pass needs.
// *knowledge.Store satisfies it.
type CuratorStore interface {
	SampleRecent(ctx context.Context, category string, limit int) ([]knowledge.Item, error)
	RecentQueries(ctx context.Context, limit int) ([]string, error)
	Delete(ctx context.Context, id uuid.UUID) error
	CreateTask(ctx context.Context, topic, targetCategory string) (uuid.UUID, error)
	SaveCurationReport(ctx context.Context, report []byte) error
}

// Curator runs the slow editorial pass: sample recent knowledge and user
// queries, ask the model to flag deletions and gaps, and execute both.
type Curator struct {
	store    CuratorStore
	gen      Generator
	catalog  *knowledge.Catalog
	activity *Activity
	interval time.Duration
	cooldown time.Duration
	logger   *slog.Logger
}

// CuratorConfig wires a Curator.
type CuratorConfig struct {
	Store    CuratorStore
	Gen      Generator
	Catalog  *knowledge.Catalog
	Activity *Activity
	Interval time.Duration // default 1h
	Cooldown time.Duration // default 60s
	Logger   *slog.Logger
}

// NewCurator creates a Curator.
func NewCurator(cfg CuratorConfig) *Curator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	return &Curator{
		store:    cfg.Store,
		gen:      cfg.Gen,
		catalog:  cfg.Catalog,
		activity: cfg.Activity,
		interval: interval,
		cooldown: cooldown,
		logger:   logger,
	}
}

// Run blocks until ctx is canceled. After each completed pass the catalog
// is reloaded so request-path reads see curated categories.
func (c *Curator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Info("curator started", "interval", c.interval)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("curator stopped")
			return
		case <-ticker.C:
			if err := c.RunOnce(ctx); err != nil {
				c.logger.Warn("curation pass failed", "error", err)
				continue
			}
			if err := c.catalog.Reload(ctx); err != nil {
				c.logger.Warn("catalog reload after curation failed", "error", err)
			}
		}
	}
}

type curationDecision struct {
	Eliminar     []string `json:"eliminar"`
	NuevasTareas []struct {
		Tema      string `json:"tema"`
		Categoria string `json:"categoria"`
	} `json:"nuevas_tareas"`
}

// report is the audit row persisted after each pass.
type report struct {
	Deleted      []string  `json:"deleted"`
	TasksCreated []string  `json:"tasks_created"`
	Skipped      []string  `json:"skipped"`
	RanAt        time.Time `json:"ran_at"`
}

// RunOnce executes a single curation pass.
func (c *Curator) RunOnce(ctx context.Context) error {
	if !c.activity.IdleSince(c.cooldown) {
		c.logger.Debug("user active recently, postponing curation")
		return nil
	}

	keys := c.catalog.Keys()

	// Sampled ids become the whitelist for deletions: the model may only
	// delete items it was actually shown.
	sampled := make(map[uuid.UUID]struct{})
	var itemsSection strings.Builder
	for _, key := range keys {
		items, err := c.store.SampleRecent(ctx, key, curationItemsPerCategory)
		if err != nil {
			return fmt.Errorf("sampling category %q: %w", key, err)
		}
		for _, it := range items {
			sampled[it.ID] = struct{}{}
			fmt.Fprintf(&itemsSection, "- id=%s categoría=%s concepto=%s detalle=%s\n",
				it.ID, it.Category, it.Concept, truncateForPrompt(it.Detail, 200))
		}
	}

	queries, err := c.store.RecentQueries(ctx, curationRecentQueries)
	if err != nil {
		return fmt.Errorf("fetching recent queries: %w", err)
	}

	raw, err := c.gen.Generate(ctx, fmt.Sprintf(curatePrompt,
		strings.Join(keys, ", "), itemsSection.String(), formatQueries(queries)))
	if err != nil {
		return fmt.Errorf("curation generation: %w", err)
	}

	decision, err := llm.DecodeJSON[curationDecision](raw)
	if err != nil {
		return fmt.Errorf("curation verdict unparsable: %w", err)
	}

	rep := report{RanAt: time.Now().UTC()}

	for _, rawID := range decision.Eliminar {
		id, err := uuid.Parse(strings.TrimSpace(rawID))
		if err != nil {
			rep.Skipped = append(rep.Skipped, rawID+" (id inválido)")
			continue
		}
		if _, ok := sampled[id]; !ok {
			rep.Skipped = append(rep.Skipped, rawID+" (fuera de la muestra)")
			continue
		}
		if err := c.store.Delete(ctx, id); err != nil {
			rep.Skipped = append(rep.Skipped, rawID+" (error al eliminar)")
			c.logger.Warn("curation delete failed", "item", id, "error", err)
			continue
		}
		rep.Deleted = append(rep.Deleted, id.String())
	}

	for _, task := range decision.NuevasTareas {
		if task.Tema == "" {
			continue
		}
		if _, ok := c.catalog.Get(task.Categoria); !ok {
			rep.Skipped = append(rep.Skipped, task.Tema+" (categoría desconocida)")
			continue
		}
		if _, err := c.store.CreateTask(ctx, task.Tema, task.Categoria); err != nil {
			c.logger.Warn("curation task creation failed", "topic", task.Tema, "error", err)
			continue
		}
		rep.TasksCreated = append(rep.TasksCreated, task.Tema)
	}

	payload, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("marshaling curation report: %w", err)
	}
	if err := c.store.SaveCurationReport(ctx, payload); err != nil {
		return fmt.Errorf("saving curation report: %w", err)
	}

	c.logger.Info("curation pass completed",
		"deleted", len(rep.Deleted),
		"tasks_created", len(rep.TasksCreated),
		"skipped", len(rep.Skipped),
	)
	return nil
}

func formatQueries(queries []string) string {
	if len(queries) == 0 {
		return "(ninguna)"
	}
	return "- " + strings.Join(queries, "\n- ")
}

func truncateForPrompt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
