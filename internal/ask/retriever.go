package ask

import (
	"context"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/blentor/blentor/internal/knowledge"
)

// FocusBoost is added to an item's score when its category matches the
// plan's focus. Soft signal only: a boosted stranger still outranks a
// focused weak match if its raw similarity is high enough.
const FocusBoost = 0.1

// QueryEmbedder embeds search queries. *llm.Embedder satisfies it.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Searcher is the store access the retriever depends on: vector search and
// relation expansion for the matched items. *knowledge.Store satisfies it.
type Searcher interface {
	SearchSimilar(ctx context.Context, vec []float32, threshold float64, limit int, category string) ([]knowledge.ScoredItem, error)
	Relations(ctx context.Context, itemIDs []uuid.UUID) ([]knowledge.Relation, error)
}

// Retriever executes a plan against the knowledge store and assembles the
// ranked, deduplicated context set.
type Retriever struct {
	embedder  QueryEmbedder
	searcher  Searcher
	threshold float64
	topK      int
	logger    *slog.Logger
}

// NewRetriever creates a Retriever with the given similarity floor and
// context size.
func NewRetriever(embedder QueryEmbedder, searcher Searcher, threshold float64, topK int, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		embedder:  embedder,
		searcher:  searcher,
		threshold: threshold,
		topK:      topK,
		logger:    logger,
	}
}

// Retrieve runs every subquery, merges the results, applies the focus
// boost, deduplicates keeping the highest effective score, and truncates
// to top-K. An empty Context is a valid result, not an error: embedding
// failures and zero matches both land there and the composer handles it.
//
// When the soft pass finds nothing and the plan has a focus, one
// hard-filtered retry runs against that category. This is the only place a
// hard category filter is allowed.
func (r *Retriever) Retrieve(ctx context.Context, plan Plan) Context {
	merged := r.search(ctx, plan, "")

	if len(merged) == 0 && plan.Focus != "" {
		r.logger.Debug("soft retrieval empty, retrying hard-filtered", "focus", plan.Focus)
		merged = r.search(ctx, plan, plan.Focus)
	}

	if len(merged) == 0 {
		return Context{}
	}

	// Dedupe by item identity, keeping the best effective score.
	best := make(map[uuid.UUID]knowledge.ScoredItem, len(merged))
	for _, si := range merged {
		if si.Item.Category == plan.Focus && plan.Focus != "" {
			si.Score += FocusBoost
		}
		if prev, ok := best[si.Item.ID]; !ok || si.Score > prev.Score {
			best[si.Item.ID] = si
		}
	}

	ranked := make([]knowledge.ScoredItem, 0, len(best))
	for _, si := range best {
		ranked = append(ranked, si)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		// Deterministic order between equal scores.
		return ranked[i].Item.ID.String() < ranked[j].Item.ID.String()
	})

	if len(ranked) > r.topK {
		ranked = ranked[:r.topK]
	}

	r.logger.Debug("context assembled", "candidates", len(merged), "kept", len(ranked))
	return Context{Items: ranked, Relations: r.expandRelations(ctx, ranked)}
}

// expandRelations fetches the outgoing edges of the kept items so prompts
// can cite related topics. A failed lookup degrades to no relations; one
// missing edge never fails the request.
func (r *Retriever) expandRelations(ctx context.Context, items []knowledge.ScoredItem) []knowledge.Relation {
	ids := make([]uuid.UUID, len(items))
	for i, si := range items {
		ids[i] = si.Item.ID
	}

	rels, err := r.searcher.Relations(ctx, ids)
	if err != nil {
		r.logger.Warn("relation expansion failed", "items", len(ids), "error", err)
		return nil
	}
	return rels
}

// search embeds each subquery and collects raw matches. Per-subquery
// failures are logged and skipped; the remaining subqueries still count.
func (r *Retriever) search(ctx context.Context, plan Plan, category string) []knowledge.ScoredItem {
	var merged []knowledge.ScoredItem
	for _, sq := range plan.Subqueries {
		vec, err := r.embedder.EmbedQuery(ctx, sq)
		if err != nil {
			r.logger.Warn("subquery embedding failed", "subquery", sq, "error", err)
			continue
		}

		results, err := r.searcher.SearchSimilar(ctx, vec, r.threshold, r.topK, category)
		if err != nil {
			r.logger.Warn("subquery search failed", "subquery", sq, "error", err)
			continue
		}
		merged = append(merged, results...)
	}
	return merged
}
