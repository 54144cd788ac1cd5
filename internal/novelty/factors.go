package novelty

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/DmitrySonora/chimera-ltm/internal/embedding"
	"github.com/DmitrySonora/chimera-ltm/internal/memory"
)

// embedCandidate obtains the candidate vector through the embedding cache
// checkpoint. Any failure yields nil; the semantic factor then defaults to
// maximally novel.
func (e *Evaluator) embedCandidate(ctx context.Context, text string, emotions memory.Snapshot, tags []string) []float32 {
	key := e.keys.Embedding(text)
	if data, ok := e.cache.Get(ctx, key); ok {
		var vec []float32
		if err := json.Unmarshal(data, &vec); err == nil && len(vec) > 0 {
			return vec
		}
		e.cache.Delete(ctx, key)
	}

	vec, err := e.embedder.Embed(ctx, embedding.Request{
		Text:      text,
		Emotions:  emotions,
		Timestamp: e.now(),
		Tags:      tags,
	})
	if err != nil {
		e.logger.Warn("embedding unavailable, treating candidate as novel", zap.Error(err))
		return nil
	}

	if data, err := json.Marshal(vec); err == nil {
		e.cache.Set(ctx, key, data, secondsTTL(e.ttl.EmbeddingTTL))
	}
	return vec
}

// semanticNovelty returns the semantic factor and the neighbor distances
// found, going through the KNN cache checkpoint. A missing vector or a
// vector store failure counts as maximally novel with no neighbors.
func (e *Evaluator) semanticNovelty(ctx context.Context, userID string, vector []float32) (float64, []float64) {
	if len(vector) == 0 {
		return 1.0, nil
	}

	key := e.keys.KNN(userID, vector, e.cfg.KNNLimit)
	var dists []float64
	if data, ok := e.cache.Get(ctx, key); ok {
		if err := json.Unmarshal(data, &dists); err != nil {
			e.cache.Delete(ctx, key)
			dists = nil
		}
	}
	if dists == nil {
		hits, err := e.vectors.SearchUser(ctx, userID, vector, uint64(e.cfg.KNNLimit))
		if err != nil {
			e.logger.Warn("vector search failed, treating candidate as novel", zap.Error(err))
			return 1.0, nil
		}
		dists = make([]float64, 0, len(hits))
		for _, h := range hits {
			dists = append(dists, h.Distance())
		}
		if data, err := json.Marshal(dists); err == nil {
			e.cache.Set(ctx, key, data, secondsTTL(e.ttl.KNNTTL))
		}
	}

	if len(dists) < e.cfg.KNNMinNeighbors {
		return 1.0, dists
	}
	top := dists
	if len(top) > 5 {
		top = top[:5]
	}
	var sum float64
	for _, d := range top {
		sum += d
	}
	return clamp01(sum / float64(len(top))), dists
}

// emotionalRarity sums intensity-weighted rarity over the candidate's
// non-neutral emotions, normalized by the empirical maximum.
func (e *Evaluator) emotionalRarity(p *memory.Profile, emotions memory.Snapshot) float64 {
	total := p.TotalEmotionCount()
	var sum float64
	for label, intensity := range emotions {
		if label == memory.EmotionNeutral || intensity <= e.cfg.EmotionMinIntensity {
			continue
		}
		rarity := 1.0
		if total > 0 {
			rarity = 1.0 - float64(p.EmotionFrequencies[label])/float64(total)
		}
		sum += intensity * rarity
	}
	return clamp01(sum / e.cfg.EmotionalRarityScale)
}

// contextualRarity is the mean tag rarity against the user's lifetime tag
// frequencies. A candidate with no tags contributes nothing; a user with
// no tag history makes everything rare.
func (e *Evaluator) contextualRarity(p *memory.Profile, tags []string) float64 {
	if len(tags) == 0 {
		return 0
	}
	total := p.TotalTagCount()
	if total == 0 {
		return 1.0
	}
	var sum float64
	for _, tag := range tags {
		sum += 1.0 - float64(p.TagFrequencies[tag])/float64(total)
	}
	return clamp01(sum / float64(len(tags)))
}

// temporalNovelty decays with how recently the user formed a memory
// sharing any candidate tag, through the temporal cache checkpoint.
func (e *Evaluator) temporalNovelty(ctx context.Context, userID string, tags []string) float64 {
	if len(tags) == 0 {
		return 1.0
	}

	key := e.keys.Temporal(userID, tags)
	var last *time.Time
	if data, ok := e.cache.Get(ctx, key); ok {
		var cached string
		if err := json.Unmarshal(data, &cached); err == nil {
			if cached == "" {
				return 1.0
			}
			if ts, err := time.Parse(time.RFC3339Nano, cached); err == nil {
				last = &ts
			}
		}
	} else {
		ts, err := e.recency.LastTaggedAt(ctx, userID, tags)
		if err != nil {
			e.logger.Warn("tag recency lookup failed, treating candidate as novel", zap.Error(err))
			return 1.0
		}
		last = ts
		cached := ""
		if ts != nil {
			cached = ts.Format(time.RFC3339Nano)
		}
		if data, err := json.Marshal(cached); err == nil {
			e.cache.Set(ctx, key, data, secondsTTL(e.ttl.TemporalTTL))
		}
	}

	if last == nil {
		return 1.0
	}
	days := e.now().Sub(*last).Hours() / 24
	if days < 0 {
		days = 0
	}
	return 1.0 - math.Exp(-days/e.cfg.TemporalDecayDays)
}

// densityModifier penalizes candidates sitting in an already dense
// neighborhood of prior memories.
func (e *Evaluator) densityModifier(dists []float64) float64 {
	if len(dists) < e.cfg.DensityMinNeighbors {
		return 1.0
	}
	var sum float64
	for _, d := range dists {
		sum += d
	}
	if sum/float64(len(dists)) < e.cfg.DensityThreshold {
		return 1.0 - e.cfg.DensityPenalty
	}
	return 1.0
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
