package memory

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Summary caps.
const (
	MaxSummaryEmotions = 10
	MaxSummaryTags     = 20
)

// PeriodSummary is the lossy aggregate that preserves historical signal for
// a (user, period) before the raw entries are reclaimed.
type PeriodSummary struct {
	ID               uuid.UUID `json:"summary_id"`
	UserID           string    `json:"user_id"`
	PeriodStart      time.Time `json:"period_start"`
	PeriodEnd        time.Time `json:"period_end"` // exclusive
	MemoriesCount    int       `json:"memories_count"`
	DominantEmotions []string  `json:"dominant_emotions"`
	FrequentTags     []string  `json:"frequent_tags"`
	AvgImportance    float64   `json:"avg_importance"`
}

// SummaryInput carries the per-entry fields needed to aggregate a summary.
type SummaryInput struct {
	DominantEmotions []string
	SemanticTags     []string
	Importance       float64
}

// SummarizeGroup aggregates a cleanup group into a PeriodSummary: top-N
// dominant emotions and tags by in-group frequency, plus the mean importance.
// Returns a summary with MemoriesCount 0 when rows is empty.
func SummarizeGroup(userID string, periodStart, periodEnd time.Time, rows []SummaryInput, topEmotions, topTags int) PeriodSummary {
	emoFreq := make(map[string]int)
	tagFreq := make(map[string]int)
	var importanceSum float64
	for _, r := range rows {
		for _, e := range r.DominantEmotions {
			emoFreq[e]++
		}
		for _, t := range r.SemanticTags {
			tagFreq[t]++
		}
		importanceSum += r.Importance
	}

	s := PeriodSummary{
		ID:               uuid.New(),
		UserID:           userID,
		PeriodStart:      periodStart,
		PeriodEnd:        periodEnd,
		MemoriesCount:    len(rows),
		DominantEmotions: topByFrequency(emoFreq, min(topEmotions, MaxSummaryEmotions)),
		FrequentTags:     topByFrequency(tagFreq, min(topTags, MaxSummaryTags)),
	}
	if len(rows) > 0 {
		s.AvgImportance = importanceSum / float64(len(rows))
	}
	return s
}

// topByFrequency returns the n most frequent keys, ties broken alphabetically
// so the result is deterministic.
func topByFrequency(freq map[string]int, n int) []string {
	keys := make([]string, 0, len(freq))
	for k := range freq {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if freq[keys[i]] != freq[keys[j]] {
			return freq[keys[i]] > freq[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}
