package memory

import (
	"sort"
	"time"
)

// Profile is the evolving per-user statistical profile driving novelty
// evaluation. It is eventually consistent: concurrent evaluations for the
// same user follow read-modify-write without a version check (see the
// profile store for the tradeoff).
type Profile struct {
	UserID              string         `json:"user_id"`
	TotalMessages       int            `json:"total_messages"`
	CalibrationComplete bool           `json:"calibration_complete"`
	EmotionFrequencies  map[string]int `json:"emotion_frequencies"`
	TagFrequencies      map[string]int `json:"tag_frequencies"`
	RecentNoveltyScores []float64      `json:"recent_novelty_scores"`
	Percentile90        float64        `json:"current_percentile_90"`
	LastMemoryAt        *time.Time     `json:"last_memory_timestamp,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// DefaultPercentile90 is the admission bar assumed before a user has enough
// scored messages for a real percentile.
const DefaultPercentile90 = 0.8

// NewProfile returns a neutral profile for a user with no history.
func NewProfile(userID string) *Profile {
	now := time.Now().UTC()
	return &Profile{
		UserID:             userID,
		EmotionFrequencies: make(map[string]int),
		TagFrequencies:     make(map[string]int),
		Percentile90:       DefaultPercentile90,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// RecordEmotions bumps frequency counters for every emotion whose intensity
// exceeds minIntensity. Neutral is counted like any other label here; rarity
// computation excludes it instead.
func (p *Profile) RecordEmotions(emotions Snapshot, minIntensity float64) {
	for label, v := range emotions {
		if v > minIntensity {
			if p.EmotionFrequencies == nil {
				p.EmotionFrequencies = make(map[string]int)
			}
			p.EmotionFrequencies[label]++
		}
	}
}

// RecordTags bumps frequency counters for already-normalized tags.
func (p *Profile) RecordTags(tags []string) {
	for _, t := range tags {
		if p.TagFrequencies == nil {
			p.TagFrequencies = make(map[string]int)
		}
		p.TagFrequencies[t]++
	}
}

// RecordScore appends a novelty score to the sliding window, evicting the
// oldest score once the window is full, and recomputes the 90th percentile
// when the window holds at least minSamples entries. Below that the previous
// percentile is retained.
func (p *Profile) RecordScore(score float64, window, minSamples int) {
	p.RecentNoveltyScores = append(p.RecentNoveltyScores, score)
	if len(p.RecentNoveltyScores) > window {
		p.RecentNoveltyScores = p.RecentNoveltyScores[len(p.RecentNoveltyScores)-window:]
	}
	if len(p.RecentNoveltyScores) < minSamples {
		return
	}
	sorted := make([]float64, len(p.RecentNoveltyScores))
	copy(sorted, p.RecentNoveltyScores)
	sort.Float64s(sorted)
	p.Percentile90 = sorted[int(float64(len(sorted))*0.9)]
}

// TotalEmotionCount is the lifetime number of counted emotion occurrences.
func (p *Profile) TotalEmotionCount() int {
	var total int
	for _, n := range p.EmotionFrequencies {
		total += n
	}
	return total
}

// TotalTagCount is the lifetime number of counted tag occurrences.
func (p *Profile) TotalTagCount() int {
	var total int
	for _, n := range p.TagFrequencies {
		total += n
	}
	return total
}
