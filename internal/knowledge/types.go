// Package knowledge manages the vector-indexed knowledge store backing the
// assistant: similarity search, hierarchy expansion for citations, the
// category catalog, and the research task queue used by the learning loop.
package knowledge

import (
	"time"

	"github.com/google/uuid"
)

// Item is one retrievable unit of information.
type Item struct {
	ID         uuid.UUID
	Category   string
	Concept    string
	Detail     string
	Code       string
	UsageCount int
	CreatedAt  time.Time
}

// Content returns the text body used for deduplication and prompting.
func (i Item) Content() string {
	if i.Code == "" {
		return i.Concept + ": " + i.Detail
	}
	return i.Concept + ": " + i.Detail + "\n" + i.Code
}

// ScoredItem pairs an item with its similarity score from vector search.
type ScoredItem struct {
	Item  Item
	Score float64
}

// Relation is a directed edge from an item, used only for context
// expansion and citation labels. Never mutated after creation.
type Relation struct {
	ItemID      uuid.UUID
	Label       string
	TargetTitle string
}

// SourcePath holds the hierarchy titles for one item's citation label.
// Missing links are filled with placeholders, never left empty.
type SourcePath struct {
	ChapterTitle string
	PartTitle    string
}

// Placeholder titles for items with missing hierarchy links.
const (
	UncategorizedChapter = "Sin Categorizar"
	UnknownPart          = "Parte Desconocida"
)

// Label renders the human-readable citation for this path.
func (p SourcePath) Label() string {
	return p.ChapterTitle + " (Parte: " + p.PartTitle + ")"
}

// ResearchTask statuses. Tasks are deleted on acceptance; rejected tasks
// are retried until the attempt cap, then parked as abandoned forever.
const (
	TaskStatusDraft     = "draft"
	TaskStatusRejected  = "rejected"
	TaskStatusAbandoned = "abandoned"
)

// ResearchTask is a persisted pending self-study item.
type ResearchTask struct {
	ID             uuid.UUID
	Topic          string
	TargetCategory string
	Status         string
	AttemptCount   int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Category describes one knowledge partition from the catalog table.
type Category struct {
	Key                string
	Title              string
	Description        string
	AdmissionCriterion string
}
