package memory

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Category classifies what a memory is about.
type Category string

const (
	CategorySelfRelated Category = "self_related"
	CategoryWorldModel  Category = "world_model"
	CategoryUserRelated Category = "user_related"
)

// Valid reports whether the category is one of the known values.
func (c Category) Valid() bool {
	switch c {
	case CategorySelfRelated, CategoryWorldModel, CategoryUserRelated:
		return true
	}
	return false
}

// TriggerReason records which qualifying event caused an entry to be retained.
type TriggerReason string

const (
	TriggerEmotionalPeak        TriggerReason = "emotional_peak"
	TriggerEmotionalShift       TriggerReason = "emotional_shift"
	TriggerSelfReference        TriggerReason = "self_reference"
	TriggerDeepInsight          TriggerReason = "deep_insight"
	TriggerPersonalRevelation   TriggerReason = "personal_revelation"
	TriggerRelationshipChange   TriggerReason = "relationship_change"
	TriggerCreativeBreakthrough TriggerReason = "creative_breakthrough"
)

// Valid reports whether the trigger reason is one of the known values.
func (r TriggerReason) Valid() bool {
	switch r {
	case TriggerEmotionalPeak, TriggerEmotionalShift, TriggerSelfReference,
		TriggerDeepInsight, TriggerPersonalRevelation, TriggerRelationshipChange,
		TriggerCreativeBreakthrough:
		return true
	}
	return false
}

// Size limits for entry fields.
const (
	MaxFragmentMessages  = 10
	MaxMessageContentLen = 2000
	MaxDominantEmotions  = 10
	MaxSemanticTags      = 20
)

// EmotionNeutral is the baseline label excluded from rarity and intensity
// calculations.
const EmotionNeutral = "neutral"

// EmotionLabels is the fixed emotion vocabulary produced by the external
// classifier. Snapshots are keyed by these labels only.
var EmotionLabels = []string{
	"admiration", "amusement", "anger", "annoyance",
	"approval", "caring", "confusion", "curiosity",
	"desire", "disappointment", "disapproval", "disgust",
	"embarrassment", "excitement", "fear", "gratitude",
	"grief", "joy", "love", "nervousness",
	"optimism", "pride", "realization", "relief",
	"remorse", "sadness", "surprise", "neutral",
}

var emotionLabelSet = func() map[string]bool {
	m := make(map[string]bool, len(EmotionLabels))
	for _, l := range EmotionLabels {
		m[l] = true
	}
	return m
}()

// KnownEmotion reports whether label is part of the classifier vocabulary.
func KnownEmotion(label string) bool {
	return emotionLabelSet[label]
}

// Snapshot is the full emotion-intensity vector of a moment.
// Keys are drawn from EmotionLabels, values are in [0,1].
type Snapshot map[string]float64

// NewSnapshot filters an arbitrary emotion map down to known labels with
// values clamped into [0,1].
func NewSnapshot(emotions map[string]float64) Snapshot {
	s := make(Snapshot, len(emotions))
	for label, v := range emotions {
		if !KnownEmotion(label) {
			continue
		}
		s[label] = clamp01(v)
	}
	return s
}

// Dominant returns the topN emotion labels above threshold, strongest first.
// Falls back to ["neutral"] when everything is below threshold.
func (s Snapshot) Dominant(topN int, threshold float64) []string {
	type le struct {
		label string
		v     float64
	}
	var above []le
	for label, v := range s {
		if v > threshold {
			above = append(above, le{label, v})
		}
	}
	sort.Slice(above, func(i, j int) bool {
		if above[i].v != above[j].v {
			return above[i].v > above[j].v
		}
		return above[i].label < above[j].label
	})
	if len(above) > topN {
		above = above[:topN]
	}
	if len(above) == 0 {
		return []string{EmotionNeutral}
	}
	out := make([]string, len(above))
	for i, e := range above {
		out[i] = e.label
	}
	return out
}

// Intensity is the strength of the strongest non-neutral emotion.
func (s Snapshot) Intensity() float64 {
	var max float64
	for label, v := range s {
		if label == EmotionNeutral {
			continue
		}
		if v > max {
			max = v
		}
	}
	return max
}

// Message is one turn inside a conversation fragment.
type Message struct {
	Role      string    `json:"role"` // "user" or "bot"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	MessageID string    `json:"message_id"`
}

// Fragment is the slice of conversation preserved with an entry.
type Fragment struct {
	Messages         []Message `json:"messages"`
	TriggerMessageID string    `json:"trigger_message_id"`
}

// Validate checks message count, content bounds and chronological order.
func (f Fragment) Validate() error {
	if len(f.Messages) == 0 {
		return fmt.Errorf("fragment has no messages")
	}
	if len(f.Messages) > MaxFragmentMessages {
		return fmt.Errorf("fragment has %d messages, max %d", len(f.Messages), MaxFragmentMessages)
	}
	for i, m := range f.Messages {
		if strings.TrimSpace(m.Content) == "" {
			return fmt.Errorf("message %d has empty content", i)
		}
		if len(m.Content) > MaxMessageContentLen {
			return fmt.Errorf("message %d content exceeds %d chars", i, MaxMessageContentLen)
		}
		if i > 0 && f.Messages[i].Timestamp.Before(f.Messages[i-1].Timestamp) {
			return fmt.Errorf("messages out of chronological order at index %d", i)
		}
	}
	return nil
}

// Text joins the fragment's message contents into a single string, used for
// embedding generation and tag extraction.
func (f Fragment) Text() string {
	parts := make([]string, 0, len(f.Messages))
	for _, m := range f.Messages {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, " ")
}

// Entry is an admitted, durable memory record. Immutable after creation
// except AccessCount and LastAccessedAt.
type Entry struct {
	ID                uuid.UUID     `json:"memory_id"`
	UserID            string        `json:"user_id"`
	Fragment          Fragment      `json:"conversation_fragment"`
	ImportanceScore   float64       `json:"importance_score"`
	EmotionalSnapshot Snapshot      `json:"emotional_snapshot"`
	DominantEmotions  []string      `json:"dominant_emotions"`
	EmotionalIntensity float64      `json:"emotional_intensity"`
	Category          Category      `json:"memory_type"`
	SemanticTags      []string      `json:"semantic_tags"`
	SelfRelevance     *float64      `json:"self_relevance_score,omitempty"`
	TriggerReason     TriggerReason `json:"trigger_reason"`
	Embedding         []float32     `json:"-"`
	CreatedAt         time.Time     `json:"created_at"`
	AccessCount       int           `json:"accessed_count"`
	LastAccessedAt    *time.Time    `json:"last_accessed_at,omitempty"`
}

// Validate checks entry invariants before persistence.
func (e *Entry) Validate() error {
	if e.UserID == "" {
		return fmt.Errorf("entry has no user id")
	}
	if err := e.Fragment.Validate(); err != nil {
		return fmt.Errorf("fragment: %w", err)
	}
	if e.ImportanceScore < 0 || e.ImportanceScore > 1 {
		return fmt.Errorf("importance score %.3f out of range", e.ImportanceScore)
	}
	if e.EmotionalIntensity < 0 || e.EmotionalIntensity > 1 {
		return fmt.Errorf("emotional intensity %.3f out of range", e.EmotionalIntensity)
	}
	for label, v := range e.EmotionalSnapshot {
		if !KnownEmotion(label) {
			return fmt.Errorf("unknown emotion label %q", label)
		}
		if v < 0 || v > 1 {
			return fmt.Errorf("emotion %s intensity %.3f out of range", label, v)
		}
	}
	if len(e.DominantEmotions) == 0 {
		return fmt.Errorf("entry has no dominant emotions")
	}
	if len(e.DominantEmotions) > MaxDominantEmotions {
		return fmt.Errorf("too many dominant emotions: %d", len(e.DominantEmotions))
	}
	for _, label := range e.DominantEmotions {
		if !KnownEmotion(label) {
			return fmt.Errorf("unknown dominant emotion %q", label)
		}
	}
	if !e.Category.Valid() {
		return fmt.Errorf("invalid category %q", e.Category)
	}
	if !e.TriggerReason.Valid() {
		return fmt.Errorf("invalid trigger reason %q", e.TriggerReason)
	}
	if len(e.SemanticTags) > MaxSemanticTags {
		return fmt.Errorf("too many semantic tags: %d", len(e.SemanticTags))
	}
	return nil
}

// NormalizeTags trims, lowercases, deduplicates and caps a tag list. The
// result is sorted so identical logical tag sets compare equal.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	if len(out) > MaxSemanticTags {
		out = out[:MaxSemanticTags]
	}
	return out
}

// ComputeImportance derives a fallback importance score when the caller did
// not supply one: emotional intensity and certain categories/triggers raise it.
func ComputeImportance(intensity float64, category Category, reason TriggerReason) float64 {
	importance := 0.5
	importance += intensity * 0.3
	if category == CategorySelfRelated {
		importance += 0.2
	}
	switch reason {
	case TriggerEmotionalPeak, TriggerSelfReference, TriggerPersonalRevelation:
		importance += 0.1
	}
	return clamp01(importance)
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
