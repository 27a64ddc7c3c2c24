package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
)

// searchTimeout bounds a single vector search so a slow ANN scan cannot
// hold a request hostage.
const searchTimeout = 10 * time.Second

// DB is the subset of pgxpool.Pool the store needs. Defined on the
// consumer side so tests can substitute a transaction or a fake.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides all persistent operations against the knowledge schema.
// Read operations are idempotent and side-effect free; writes are safe to
// call concurrently from the learning loop and the request path —
// usage_count uses a relative UPDATE, so interleaved increments never lose
// more than ordering.
type Store struct {
	db     DB
	logger *slog.Logger
}

// NewStore creates a Store on top of a pgx pool (or compatible DB).
func NewStore(db DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// SearchSimilar performs cosine similarity search with a minimum-score
// floor. An empty category searches the whole store; a non-empty category
// restricts to that partition (used only as the hard-filter fallback — the
// retriever's default is unfiltered search plus soft boosting).
func (s *Store) SearchSimilar(ctx context.Context, vec []float32, threshold float64, limit int, category string) ([]ScoredItem, error) {
	queryCtx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	const base = `
		SELECT id, category, concept, detail, code, usage_count, created_at,
		       1 - (embedding <=> $1) AS similarity
		FROM knowledge_items
		WHERE 1 - (embedding <=> $1) >= $2`

	var (
		rows pgx.Rows
		err  error
	)
	v := pgvector.NewVector(vec)
	if category == "" {
		rows, err = s.db.Query(queryCtx, base+` ORDER BY similarity DESC LIMIT $3`, v, threshold, limit)
	} else {
		rows, err = s.db.Query(queryCtx, base+` AND category = $4 ORDER BY similarity DESC LIMIT $3`, v, threshold, limit, category)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("vector search timeout: %w", err)
		}
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var results []ScoredItem
	for rows.Next() {
		var it Item
		var score float64
		if err := rows.Scan(&it.ID, &it.Category, &it.Concept, &it.Detail, &it.Code,
			&it.UsageCount, &it.CreatedAt, &score); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}
		results = append(results, ScoredItem{Item: it, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating search rows: %w", err)
	}
	return results, nil
}

// SourcePath fetches the chapter/part titles for an item's citation label.
// Missing hierarchy links degrade to placeholders — an item with no chapter
// is still a valid citation, never an error.
func (s *Store) SourcePath(ctx context.Context, itemID uuid.UUID) SourcePath {
	const q = `
		SELECT COALESCE(c.title, ''), COALESCE(p.title, '')
		FROM knowledge_items k
		LEFT JOIN chapters c ON c.id = k.chapter_id
		LEFT JOIN parts p ON p.id = c.part_id
		WHERE k.id = $1`

	var chapter, part string
	err := s.db.QueryRow(ctx, q, itemID).Scan(&chapter, &part)
	if err != nil {
		s.logger.Warn("source path lookup failed", "item_id", itemID, "error", err)
	}
	if chapter == "" {
		chapter = UncategorizedChapter
	}
	if part == "" {
		part = UnknownPart
	}
	return SourcePath{ChapterTitle: chapter, PartTitle: part}
}

// Relations fetches outgoing edges for the given items.
func (s *Store) Relations(ctx context.Context, itemIDs []uuid.UUID) ([]Relation, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}

	const q = `
		SELECT item_id, label, target_title
		FROM relations
		WHERE item_id = ANY($1)`

	rows, err := s.db.Query(ctx, q, itemIDs)
	if err != nil {
		return nil, fmt.Errorf("fetching relations: %w", err)
	}
	defer rows.Close()

	var rels []Relation
	for rows.Next() {
		var r Relation
		if err := rows.Scan(&r.ItemID, &r.Label, &r.TargetTitle); err != nil {
			return nil, fmt.Errorf("scanning relation: %w", err)
		}
		rels = append(rels, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating relations: %w", err)
	}
	return rels, nil
}

// InsertParams are the write-side fields for a new knowledge item.
type InsertParams struct {
	Category  string
	Concept   string
	Detail    string
	Code      string
	Embedding []float32
}

// Insert writes a new knowledge item and returns its generated id.
func (s *Store) Insert(ctx context.Context, p InsertParams) (uuid.UUID, error) {
	id := uuid.New()

	const q = `
		INSERT INTO knowledge_items (id, category, concept, detail, code, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := s.db.Exec(ctx, q, id, p.Category, p.Concept, p.Detail, p.Code,
		pgvector.NewVector(p.Embedding)); err != nil {
		return uuid.Nil, fmt.Errorf("inserting knowledge item: %w", err)
	}

	s.logger.Debug("inserted knowledge item", "id", id, "category", p.Category, "concept", p.Concept)
	return id, nil
}

// Delete removes a knowledge item (curation pass only).
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM knowledge_items WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting knowledge item %s: %w", id, err)
	}
	s.logger.Debug("deleted knowledge item", "id", id)
	return nil
}

// IncrementUsage bumps an item's usage counter. Relative update, so
// concurrent callers never clobber each other; eventual consistency is all
// the pipeline needs.
func (s *Store) IncrementUsage(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE knowledge_items SET usage_count = usage_count + 1 WHERE id = $1`
	if _, err := s.db.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("incrementing usage for %s: %w", id, err)
	}
	return nil
}

// CountByCategory returns item counts per category, including categories
// with zero items (the audit step picks the weakest one).
func (s *Store) CountByCategory(ctx context.Context) (map[string]int, error) {
	const q = `
		SELECT c.key, COUNT(k.id)
		FROM categories c
		LEFT JOIN knowledge_items k ON k.category = c.key
		GROUP BY c.key`

	rows, err := s.db.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("counting by category: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("scanning count row: %w", err)
		}
		counts[key] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating count rows: %w", err)
	}
	return counts, nil
}

// SampleRecent returns the newest items in a category, for curation review.
func (s *Store) SampleRecent(ctx context.Context, category string, limit int) ([]Item, error) {
	const q = `
		SELECT id, category, concept, detail, code, usage_count, created_at
		FROM knowledge_items
		WHERE category = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.db.Query(ctx, q, category, limit)
	if err != nil {
		return nil, fmt.Errorf("sampling recent items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.Category, &it.Concept, &it.Detail, &it.Code,
			&it.UsageCount, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating items: %w", err)
	}
	return items, nil
}

// ListCategories loads the category catalog rows.
func (s *Store) ListCategories(ctx context.Context) ([]Category, error) {
	const q = `
		SELECT key, title, description, admission_criterion
		FROM categories
		ORDER BY key`

	rows, err := s.db.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	defer rows.Close()

	var cats []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.Key, &c.Title, &c.Description, &c.AdmissionCriterion); err != nil {
			return nil, fmt.Errorf("scanning category: %w", err)
		}
		cats = append(cats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating categories: %w", err)
	}
	return cats, nil
}
