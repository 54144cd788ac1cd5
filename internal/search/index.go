// Package search retrieves stored memories through a handful of query
// modes sharing one pagination and access-tracking path.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DmitrySonora/chimera-ltm/internal/cache"
	"github.com/DmitrySonora/chimera-ltm/internal/config"
	"github.com/DmitrySonora/chimera-ltm/internal/memory"
	"github.com/DmitrySonora/chimera-ltm/internal/vectorstore"
)

// Mode selects the query strategy.
type Mode string

const (
	ModeVector     Mode = "vector"
	ModeTags       Mode = "tags"
	ModeRecency    Mode = "recency"
	ModeImportance Mode = "importance"
	ModeCategory   Mode = "category"
)

// Valid reports whether m is a known query mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeVector, ModeTags, ModeRecency, ModeImportance, ModeCategory:
		return true
	}
	return false
}

// Params carries the mode-specific query inputs; only the fields for the
// chosen mode are read.
type Params struct {
	Vector        []float32       `json:"vector,omitempty"`
	Tags          []string        `json:"tags,omitempty"`
	MatchAll      bool            `json:"match_all,omitempty"`
	Days          int             `json:"days,omitempty"`
	MinImportance float64         `json:"min_importance,omitempty"`
	Category      memory.Category `json:"category,omitempty"`
}

// Storage is the relational surface the index queries.
type Storage interface {
	RecentSince(ctx context.Context, userID string, since time.Time, limit, offset int) ([]*memory.Entry, error)
	SearchByTags(ctx context.Context, userID string, tags []string, matchAll bool, limit, offset int) ([]*memory.Entry, error)
	ByImportance(ctx context.Context, userID string, minImportance float64, limit, offset int) ([]*memory.Entry, error)
	ByCategory(ctx context.Context, userID string, category memory.Category, limit, offset int) ([]*memory.Entry, error)
	EntriesByIDs(ctx context.Context, ids []uuid.UUID) ([]*memory.Entry, error)
	UpdateAccessCounts(ctx context.Context, ids []uuid.UUID) error
}

// VectorSearcher runs the nearest-neighbor leg of vector mode.
type VectorSearcher interface {
	SearchUser(ctx context.Context, userID string, vector []float32, topK uint64) ([]*vectorstore.SearchResult, error)
}

// Index answers memory queries. Vector-mode ID lists are cached; returned
// entries get their access bookkeeping bumped best-effort.
type Index struct {
	storage   Storage
	vectors   VectorSearcher
	cache     *cache.Cache
	keys      cache.Keys
	cfg       config.SearchConfig
	searchTTL time.Duration
	dimension int
	logger    *zap.Logger

	now func() time.Time
}

// New wires an Index. dimension is the expected query vector length for
// vector mode.
func New(storage Storage, vectors VectorSearcher, c *cache.Cache, cacheCfg config.CacheConfig, cfg config.SearchConfig, dimension int, logger *zap.Logger) *Index {
	return &Index{
		storage:   storage,
		vectors:   vectors,
		cache:     c,
		keys:      cache.Keys{Prefix: cacheCfg.Prefix},
		cfg:       cfg,
		searchTTL: time.Duration(cacheCfg.SearchTTL) * time.Second,
		dimension: dimension,
		logger:    logger,
		now:       time.Now,
	}
}

// Search runs one query. Limit is defaulted and clamped, offset paginates.
// A failure to update access counts never fails the search.
func (i *Index) Search(ctx context.Context, userID string, mode Mode, p Params, limit, offset int) ([]*memory.Entry, error) {
	if userID == "" {
		return nil, fmt.Errorf("search: empty user id")
	}
	if limit <= 0 {
		limit = i.cfg.DefaultLimit
	}
	if limit > i.cfg.MaxLimit {
		limit = i.cfg.MaxLimit
	}
	if offset < 0 {
		offset = 0
	}

	var (
		entries []*memory.Entry
		err     error
	)
	switch mode {
	case ModeVector:
		entries, err = i.searchVector(ctx, userID, p, limit, offset)
	case ModeTags:
		if len(p.Tags) == 0 {
			return nil, fmt.Errorf("search: tag mode without tags")
		}
		entries, err = i.storage.SearchByTags(ctx, userID, memory.NormalizeTags(p.Tags), p.MatchAll, limit, offset)
	case ModeRecency:
		days := p.Days
		if days <= 0 {
			days = 7
		}
		since := i.now().AddDate(0, 0, -days)
		entries, err = i.storage.RecentSince(ctx, userID, since, limit, offset)
	case ModeImportance:
		entries, err = i.storage.ByImportance(ctx, userID, p.MinImportance, limit, offset)
	case ModeCategory:
		if !p.Category.Valid() {
			return nil, fmt.Errorf("search: unknown category %q", p.Category)
		}
		entries, err = i.storage.ByCategory(ctx, userID, p.Category, limit, offset)
	default:
		return nil, fmt.Errorf("search: unknown mode %q", mode)
	}
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", mode, err)
	}

	i.touch(ctx, entries)
	return entries, nil
}

// searchVector ranks by vector distance ascending. The ranked ID list is
// cached so repeated queries skip the vector store.
func (i *Index) searchVector(ctx context.Context, userID string, p Params, limit, offset int) ([]*memory.Entry, error) {
	if len(p.Vector) == 0 {
		return nil, fmt.Errorf("vector mode without query vector")
	}
	if i.dimension > 0 && len(p.Vector) != i.dimension {
		return nil, fmt.Errorf("query vector has dimension %d, want %d", len(p.Vector), i.dimension)
	}

	topK := limit + offset
	key := i.keys.VectorSearch(userID, p.Vector, topK)

	var ids []uuid.UUID
	if data, ok := i.cache.Get(ctx, key); ok {
		if err := json.Unmarshal(data, &ids); err != nil {
			i.cache.Delete(ctx, key)
			ids = nil
		}
	}
	if ids == nil {
		hits, err := i.vectors.SearchUser(ctx, userID, p.Vector, uint64(topK))
		if err != nil {
			return nil, err
		}
		ids = make([]uuid.UUID, 0, len(hits))
		for _, h := range hits {
			id, err := uuid.Parse(h.ID)
			if err != nil {
				i.logger.Warn("vector hit with malformed id", zap.String("id", h.ID))
				continue
			}
			ids = append(ids, id)
		}
		if data, err := json.Marshal(ids); err == nil {
			i.cache.Set(ctx, key, data, i.searchTTL)
		}
	}

	if offset >= len(ids) {
		return nil, nil
	}
	ids = ids[offset:]
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return i.storage.EntriesByIDs(ctx, ids)
}

// touch bumps access counts for returned entries. Best effort only.
func (i *Index) touch(ctx context.Context, entries []*memory.Entry) {
	if len(entries) == 0 {
		return
	}
	ids := make([]uuid.UUID, len(entries))
	for n, e := range entries {
		ids[n] = e.ID
	}
	if err := i.storage.UpdateAccessCounts(ctx, ids); err != nil {
		i.logger.Warn("access count update failed", zap.Error(err))
	}
}
