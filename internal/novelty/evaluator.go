// Package novelty decides whether a conversation moment is surprising
// enough, relative to one user's history, to be worth remembering.
package novelty

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DmitrySonora/chimera-ltm/internal/cache"
	"github.com/DmitrySonora/chimera-ltm/internal/config"
	"github.com/DmitrySonora/chimera-ltm/internal/embedding"
	"github.com/DmitrySonora/chimera-ltm/internal/memory"
	"github.com/DmitrySonora/chimera-ltm/internal/vectorstore"
)

// VectorSearcher finds the nearest prior memory vectors for a user.
type VectorSearcher interface {
	SearchUser(ctx context.Context, userID string, vector []float32, topK uint64) ([]*vectorstore.SearchResult, error)
}

// TagRecency reports when a user last formed a memory sharing any of the
// given tags.
type TagRecency interface {
	LastTaggedAt(ctx context.Context, userID string, tags []string) (*time.Time, error)
}

// ProfileStore hands out and persists user profiles.
type ProfileStore interface {
	GetOrCreate(ctx context.Context, userID string) (*memory.Profile, error)
	Update(ctx context.Context, p *memory.Profile) error
}

// Result is one admission decision with its full factor breakdown.
type Result struct {
	Admit       bool               `json:"admit"`
	Score       float64            `json:"score"`
	Threshold   float64            `json:"threshold"`
	Factors     map[string]float64 `json:"factors"`
	Calibrating bool               `json:"calibrating"`

	// Vector is the candidate embedding when one was obtained. Not part
	// of the cached result; a cache hit leaves it nil.
	Vector []float32 `json:"-"`
}

// Evaluator scores candidates against a user's history. All heavy lookups
// (embedding, nearest neighbors, tag recency) go through per-type cache
// checkpoints, and the complete decision is cached at the final checkpoint
// so an identical retried request replays the same outcome.
type Evaluator struct {
	cfg      config.NoveltyConfig
	ttl      config.CacheConfig
	embedder embedding.Provider
	vectors  VectorSearcher
	recency  TagRecency
	profiles ProfileStore
	cache    *cache.Cache
	keys     cache.Keys
	logger   *zap.Logger

	now func() time.Time
}

// New wires an Evaluator.
func New(
	cfg config.NoveltyConfig,
	cacheCfg config.CacheConfig,
	embedder embedding.Provider,
	vectors VectorSearcher,
	recency TagRecency,
	profiles ProfileStore,
	c *cache.Cache,
	logger *zap.Logger,
) *Evaluator {
	return &Evaluator{
		cfg:      cfg,
		ttl:      cacheCfg,
		embedder: embedder,
		vectors:  vectors,
		recency:  recency,
		profiles: profiles,
		cache:    c,
		keys:     cache.Keys{Prefix: cacheCfg.Prefix},
		logger:   logger,
		now:      time.Now,
	}
}

// Evaluate scores one candidate and decides admission. It only errors when
// the profile store is unreachable; every other backend failure degrades
// into a factor default.
func (e *Evaluator) Evaluate(ctx context.Context, userID, text string, emotions memory.Snapshot, tags []string) (*Result, error) {
	finalKey := e.keys.Final(userID, text, emotions, tags)
	if data, ok := e.cache.Get(ctx, finalKey); ok {
		var cached Result
		if err := json.Unmarshal(data, &cached); err == nil {
			return &cached, nil
		}
		e.cache.Delete(ctx, finalKey)
	}

	profile, err := e.profiles.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("novelty: profile: %w", err)
	}

	vector := e.embedCandidate(ctx, text, emotions, tags)
	semantic, neighbors := e.semanticNovelty(ctx, userID, vector)
	emotional := e.emotionalRarity(profile, emotions)
	contextual := e.contextualRarity(profile, tags)
	temporal := e.temporalNovelty(ctx, userID, tags)
	density := e.densityModifier(neighbors)

	weighted := e.cfg.SemanticWeight*semantic +
		e.cfg.EmotionalWeight*emotional +
		e.cfg.ContextWeight*contextual +
		e.cfg.TemporalWeight*temporal
	score := clamp01(weighted * density)

	profile.TotalMessages++
	profile.RecordEmotions(emotions, e.cfg.EmotionMinIntensity)
	profile.RecordTags(tags)
	profile.RecordScore(score, e.cfg.ScoresWindow, e.cfg.PercentileMinSamples)
	calibrating := profile.TotalMessages < e.cfg.ColdStartBufferSize
	profile.CalibrationComplete = !calibrating

	threshold := e.threshold(profile)
	admit := !calibrating && score > threshold
	if admit {
		ts := e.now().UTC()
		profile.LastMemoryAt = &ts
	}

	if err := e.profiles.Update(ctx, profile); err != nil {
		return nil, fmt.Errorf("novelty: update profile: %w", err)
	}

	result := &Result{
		Admit:       admit,
		Score:       score,
		Threshold:   threshold,
		Calibrating: calibrating,
		Factors: map[string]float64{
			"semantic":         semantic,
			"emotional":        emotional,
			"contextual":       contextual,
			"temporal":         temporal,
			"density_modifier": density,
		},
		Vector: vector,
	}

	// During calibration the verdict depends on the evolving message
	// count, so only settled decisions are cached.
	if !calibrating {
		if data, err := json.Marshal(result); err == nil {
			e.cache.Set(ctx, finalKey, data, secondsTTL(e.ttl.FinalTTL))
		}
	}

	e.logger.Debug("novelty evaluated",
		zap.String("user_id", userID),
		zap.Float64("score", score),
		zap.Float64("threshold", threshold),
		zap.Bool("admit", result.Admit),
		zap.Bool("calibrating", calibrating))

	return result, nil
}

// threshold derives the admission bar from the profile's sliding
// percentile, floored for cold starts and relaxed as the profile matures.
func (e *Evaluator) threshold(p *memory.Profile) float64 {
	t := p.Percentile90 * e.cfg.PercentileAdjustment
	if t < e.cfg.ColdStartMinThreshold {
		t = e.cfg.ColdStartMinThreshold
	}
	ageDays := e.now().Sub(p.CreatedAt).Hours() / 24
	maturity := sigmoid(e.cfg.MaturitySigmoidRate * (ageDays - e.cfg.MaturityMidpointDays))
	t += (1 - t) * (1 - maturity) * e.cfg.MaturityImpact
	return clamp01(t)
}

func secondsTTL(s int) time.Duration {
	return time.Duration(s) * time.Second
}
