package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// CatalogSource loads category rows from persistent storage.
// *Store satisfies this; tests inject fixtures.
type CatalogSource interface {
	ListCategories(ctx context.Context) ([]Category, error)
}

// Catalog is the in-memory cache of known categories. It is read-mostly:
// populated at startup and refreshed only through Reload, typically after a
// curation pass. Reads between reloads may observe stale data; that window
// is bounded by the curation interval and accepted.
//
// Safe for concurrent use.
type Catalog struct {
	source CatalogSource
	logger *slog.Logger

	mu         sync.RWMutex
	categories map[string]Category
	keys       []string
}

// NewCatalog creates an empty catalog. Call Reload before first use.
func NewCatalog(source CatalogSource, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		source:     source,
		logger:     logger,
		categories: make(map[string]Category),
	}
}

// Reload replaces the cached categories with the current store contents.
// On error the previous cache is kept.
func (c *Catalog) Reload(ctx context.Context) error {
	cats, err := c.source.ListCategories(ctx)
	if err != nil {
		return fmt.Errorf("reloading catalog: %w", err)
	}

	m := make(map[string]Category, len(cats))
	keys := make([]string, 0, len(cats))
	for _, cat := range cats {
		m[cat.Key] = cat
		keys = append(keys, cat.Key)
	}

	c.mu.Lock()
	c.categories = m
	c.keys = keys
	c.mu.Unlock()

	c.logger.Debug("catalog reloaded", "categories", len(keys))
	return nil
}

// Get returns the category for key, if known.
func (c *Catalog) Get(key string) (Category, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cat, ok := c.categories[key]
	return cat, ok
}

// Keys returns the known category keys in load order.
func (c *Catalog) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

// All returns all known categories in load order.
func (c *Catalog) All() []Category {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Category, 0, len(c.keys))
	for _, k := range c.keys {
		out = append(out, c.categories[k])
	}
	return out
}
