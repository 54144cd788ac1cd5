// Package engine is the composition root tying novelty evaluation,
// persistence, search and retention into the operations the surrounding
// application consumes.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DmitrySonora/chimera-ltm/internal/cache"
	"github.com/DmitrySonora/chimera-ltm/internal/config"
	"github.com/DmitrySonora/chimera-ltm/internal/embedding"
	"github.com/DmitrySonora/chimera-ltm/internal/memory"
	"github.com/DmitrySonora/chimera-ltm/internal/novelty"
	"github.com/DmitrySonora/chimera-ltm/internal/retention"
	"github.com/DmitrySonora/chimera-ltm/internal/search"
)

// ErrKind tags a degraded result so callers can tell apart rejection by
// policy from rejection by outage. Results never surface as panics or
// transport-level failures.
type ErrKind string

const (
	ErrKindNone         ErrKind = ""
	ErrKindInvalidInput ErrKind = "invalid_input"
	ErrKindStore        ErrKind = "store_unavailable"
	ErrKindInternal     ErrKind = "internal"
)

// Evaluator scores candidates for admission.
type Evaluator interface {
	Evaluate(ctx context.Context, userID, text string, emotions memory.Snapshot, tags []string) (*novelty.Result, error)
}

// Searcher answers memory queries.
type Searcher interface {
	Search(ctx context.Context, userID string, mode search.Mode, p search.Params, limit, offset int) ([]*memory.Entry, error)
}

// Sweeper runs retention sweeps.
type Sweeper interface {
	RunSweep(ctx context.Context, dryRun bool) (*retention.Report, error)
}

// EntryStore is the relational surface the engine writes and reads.
type EntryStore interface {
	InsertEntry(ctx context.Context, e *memory.Entry) error
	ListSummaries(ctx context.Context, userID string, from, to time.Time, limit int) ([]*memory.PeriodSummary, error)
}

// VectorUpserter stores the embedding of an admitted entry.
type VectorUpserter interface {
	Upsert(ctx context.Context, id string, userID string, vector []float32) error
}

// Engine exposes EvaluateForMemory, SearchMemory, RunCleanup and
// Summaries. All four return structured results instead of raising.
type Engine struct {
	cfg       *config.Config
	evaluator Evaluator
	index     Searcher
	sweeper   Sweeper
	store     EntryStore
	vectors   VectorUpserter
	embedder  embedding.Provider
	cache     *cache.Cache
	keys      cache.Keys
	logger    *zap.Logger

	events  chan Event
	metrics Metrics
}

// New wires an Engine.
func New(
	cfg *config.Config,
	evaluator Evaluator,
	index Searcher,
	sweeper Sweeper,
	store EntryStore,
	vectors VectorUpserter,
	embedder embedding.Provider,
	c *cache.Cache,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		cfg:       cfg,
		evaluator: evaluator,
		index:     index,
		sweeper:   sweeper,
		store:     store,
		vectors:   vectors,
		embedder:  embedder,
		cache:     c,
		keys:      cache.Keys{Prefix: cfg.Cache.Prefix},
		logger:    logger,
		events:    make(chan Event, eventBuffer),
	}
}

// EvaluateRequest is one memory candidate.
type EvaluateRequest struct {
	UserID        string               `json:"user_id"`
	Text          string               `json:"text"`
	Emotions      map[string]float64   `json:"emotions"`
	Tags          []string             `json:"tags"`
	Messages      []memory.Message     `json:"messages"`
	Category      memory.Category      `json:"category"`
	TriggerReason memory.TriggerReason `json:"trigger_reason"`
	SelfRelevance *float64             `json:"self_relevance,omitempty"`
}

// EvaluateResult is the structured verdict. EntryID is set only when the
// candidate was admitted and durably stored.
type EvaluateResult struct {
	Admitted    bool               `json:"admitted"`
	Score       float64            `json:"score"`
	Threshold   float64            `json:"threshold"`
	Factors     map[string]float64 `json:"factors,omitempty"`
	Calibrating bool               `json:"calibrating"`
	EntryID     *uuid.UUID         `json:"entry_id,omitempty"`
	ErrKind     ErrKind            `json:"error_kind,omitempty"`
}

// EvaluateForMemory scores a candidate and, on admission, persists the
// entry and its vector. It always returns a definite verdict: a store
// outage fails closed, an internal fault degrades to a neutral rejection.
func (e *Engine) EvaluateForMemory(ctx context.Context, req EvaluateRequest) (result *EvaluateResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("evaluation panicked", zap.Any("panic", r))
			result = &EvaluateResult{Score: 0.5, ErrKind: ErrKindInternal}
		}
	}()

	fragment, errKind := buildFragment(req)
	if errKind != ErrKindNone {
		return &EvaluateResult{ErrKind: errKind}
	}

	text := req.Text
	if text == "" {
		text = fragment.Text()
	}
	snapshot := memory.NewSnapshot(req.Emotions)
	tags := memory.NormalizeTags(req.Tags)
	if len(tags) == 0 {
		tags = memory.ExtractTags(fragment, memory.DefaultTagVocabulary)
	}

	verdict, err := e.evaluator.Evaluate(ctx, req.UserID, text, snapshot, tags)
	if err != nil {
		e.logger.Error("evaluation unavailable, rejecting",
			zap.String("user_id", req.UserID), zap.Error(err))
		e.metrics.Rejections.Add(1)
		return &EvaluateResult{ErrKind: ErrKindStore}
	}

	e.metrics.Evaluations.Add(1)
	result = &EvaluateResult{
		Admitted:    verdict.Admit,
		Score:       verdict.Score,
		Threshold:   verdict.Threshold,
		Factors:     verdict.Factors,
		Calibrating: verdict.Calibrating,
	}
	e.emit(Event{Type: EventEvaluated, UserID: req.UserID, Score: verdict.Score})

	if !verdict.Admit {
		e.metrics.Rejections.Add(1)
		e.emit(Event{Type: EventRejected, UserID: req.UserID, Score: verdict.Score})
		return result
	}

	entry := e.buildEntry(req, fragment, snapshot, tags)
	if err := entry.Validate(); err != nil {
		e.logger.Error("admitted entry failed validation",
			zap.String("user_id", req.UserID), zap.Error(err))
		result.Admitted = false
		result.ErrKind = ErrKindInvalidInput
		return result
	}
	if err := e.store.InsertEntry(ctx, entry); err != nil {
		e.logger.Error("entry persist failed, failing closed",
			zap.String("user_id", req.UserID), zap.Error(err))
		e.metrics.Rejections.Add(1)
		result.Admitted = false
		result.ErrKind = ErrKindStore
		return result
	}

	e.storeVector(ctx, entry, verdict.Vector)

	// A new entry changes this user's neighborhoods and tag recency.
	e.cache.DeletePattern(ctx, e.keys.UserPattern(cache.TypeKNN, req.UserID))
	e.cache.DeletePattern(ctx, e.keys.UserPattern(cache.TypeTemporal, req.UserID))

	e.metrics.Admissions.Add(1)
	result.EntryID = &entry.ID
	e.emit(Event{Type: EventAdmitted, UserID: req.UserID, EntryID: &entry.ID, Score: verdict.Score})
	return result
}

func buildFragment(req EvaluateRequest) (memory.Fragment, ErrKind) {
	if req.UserID == "" {
		return memory.Fragment{}, ErrKindInvalidInput
	}
	if len(req.Messages) == 0 && req.Text == "" {
		return memory.Fragment{}, ErrKindInvalidInput
	}
	messages := req.Messages
	if len(messages) == 0 {
		messages = []memory.Message{{
			Role:      "user",
			Content:   req.Text,
			Timestamp: time.Now().UTC(),
			MessageID: uuid.NewString(),
		}}
	}
	f := memory.Fragment{
		Messages:         messages,
		TriggerMessageID: messages[len(messages)-1].MessageID,
	}
	if err := f.Validate(); err != nil {
		return memory.Fragment{}, ErrKindInvalidInput
	}
	return f, ErrKindNone
}

func (e *Engine) buildEntry(req EvaluateRequest, fragment memory.Fragment, snapshot memory.Snapshot, tags []string) *memory.Entry {
	intensity := snapshot.Intensity()

	category := req.Category
	if !category.Valid() {
		category = memory.CategoryUserRelated
	}
	reason := req.TriggerReason
	if !reason.Valid() {
		if intensity >= 0.7 {
			reason = memory.TriggerEmotionalPeak
		} else {
			reason = memory.TriggerDeepInsight
		}
	}

	return &memory.Entry{
		ID:                 uuid.New(),
		UserID:             req.UserID,
		Fragment:           fragment,
		ImportanceScore:    memory.ComputeImportance(intensity, category, reason),
		EmotionalSnapshot:  snapshot,
		DominantEmotions:   snapshot.Dominant(memory.MaxDominantEmotions, e.cfg.Novelty.EmotionMinIntensity),
		EmotionalIntensity: intensity,
		Category:           category,
		SemanticTags:       tags,
		SelfRelevance:      req.SelfRelevance,
		TriggerReason:      reason,
		CreatedAt:          time.Now().UTC(),
	}
}

// storeVector reuses the evaluation embedding when one was computed, and
// falls back to the provider otherwise (a final-checkpoint cache hit
// leaves the verdict without a vector). A missing vector only costs
// vector-mode recall of this entry, never the entry itself.
func (e *Engine) storeVector(ctx context.Context, entry *memory.Entry, vector []float32) {
	if len(vector) == 0 {
		var err error
		vector, err = e.embedder.Embed(ctx, embedding.Request{
			Text:      entry.Fragment.Text(),
			Emotions:  entry.EmotionalSnapshot,
			Timestamp: entry.CreatedAt,
			Tags:      entry.SemanticTags,
			Category:  string(entry.Category),
		})
		if err != nil {
			e.logger.Warn("embedding unavailable, entry stored without vector",
				zap.String("entry_id", entry.ID.String()), zap.Error(err))
			return
		}
	}
	entry.Embedding = vector
	if err := e.vectors.Upsert(ctx, entry.ID.String(), entry.UserID, vector); err != nil {
		e.logger.Warn("vector upsert failed, entry stored without vector",
			zap.String("entry_id", entry.ID.String()), zap.Error(err))
	}
}

// SearchResult is the structured outcome of SearchMemory. A store outage
// yields an empty result with the kind set, never an error.
type SearchResult struct {
	Entries []*memory.Entry `json:"entries"`
	ErrKind ErrKind         `json:"error_kind,omitempty"`
}

// SearchMemory runs a query in one of the index modes.
func (e *Engine) SearchMemory(ctx context.Context, userID string, mode search.Mode, p search.Params, limit, offset int) *SearchResult {
	if userID == "" || !mode.Valid() {
		return &SearchResult{ErrKind: ErrKindInvalidInput}
	}
	e.metrics.SearchQueries.Add(1)

	entries, err := e.index.Search(ctx, userID, mode, p, limit, offset)
	if err != nil {
		e.logger.Error("search failed, returning empty result",
			zap.String("user_id", userID), zap.String("mode", string(mode)), zap.Error(err))
		return &SearchResult{ErrKind: ErrKindStore}
	}
	return &SearchResult{Entries: entries}
}

// CleanupResult is the structured outcome of RunCleanup.
type CleanupResult struct {
	Report  *retention.Report `json:"report"`
	ErrKind ErrKind           `json:"error_kind,omitempty"`
}

// RunCleanup triggers a retention sweep on demand.
func (e *Engine) RunCleanup(ctx context.Context, dryRun bool) *CleanupResult {
	e.metrics.SweepRuns.Add(1)
	e.emit(Event{Type: EventSweepStarted})

	report, err := e.sweeper.RunSweep(ctx, dryRun)
	if err != nil {
		e.logger.Error("cleanup sweep failed", zap.Error(err))
		if report == nil {
			report = &retention.Report{DryRun: dryRun}
		}
		return &CleanupResult{Report: report, ErrKind: ErrKindStore}
	}
	e.emit(Event{Type: EventSweepFinished})
	return &CleanupResult{Report: report}
}

// SummariesResult is the structured outcome of Summaries.
type SummariesResult struct {
	Summaries []*memory.PeriodSummary `json:"summaries"`
	ErrKind   ErrKind                 `json:"error_kind,omitempty"`
}

// Summaries lists a user's period summaries overlapping [from, to).
func (e *Engine) Summaries(ctx context.Context, userID string, from, to time.Time, limit int) *SummariesResult {
	if userID == "" {
		return &SummariesResult{ErrKind: ErrKindInvalidInput}
	}
	if limit <= 0 || limit > e.cfg.Search.MaxLimit {
		limit = e.cfg.Search.MaxLimit
	}
	summaries, err := e.store.ListSummaries(ctx, userID, from, to, limit)
	if err != nil {
		e.logger.Error("summaries lookup failed",
			zap.String("user_id", userID), zap.Error(err))
		return &SummariesResult{ErrKind: ErrKindStore}
	}
	return &SummariesResult{Summaries: summaries}
}
