package memory

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSnapshotFiltersUnknownLabels(t *testing.T) {
	s := NewSnapshot(map[string]float64{
		"joy":      0.8,
		"euphoria": 0.9, // not in the classifier vocabulary
		"fear":     1.5, // clamped
	})
	if _, ok := s["euphoria"]; ok {
		t.Error("unknown label survived NewSnapshot")
	}
	if s["fear"] != 1.0 {
		t.Errorf("fear = %.2f, want clamped 1.0", s["fear"])
	}
}

func TestSnapshotDominant(t *testing.T) {
	s := Snapshot{"joy": 0.9, "fear": 0.5, "anger": 0.4, "relief": 0.1}
	got := s.Dominant(2, 0.3)
	if len(got) != 2 || got[0] != "joy" || got[1] != "fear" {
		t.Errorf("Dominant = %v, want [joy fear]", got)
	}

	flat := Snapshot{"joy": 0.05}
	if got := flat.Dominant(3, 0.3); len(got) != 1 || got[0] != "neutral" {
		t.Errorf("Dominant of flat snapshot = %v, want [neutral]", got)
	}
}

func TestSnapshotIntensityIgnoresNeutral(t *testing.T) {
	s := Snapshot{"neutral": 1.0, "sadness": 0.6}
	if got := s.Intensity(); got != 0.6 {
		t.Errorf("Intensity = %.2f, want 0.6", got)
	}
}

func TestFragmentValidateOrdering(t *testing.T) {
	now := time.Now()
	f := Fragment{Messages: []Message{
		{Role: "user", Content: "later", Timestamp: now.Add(time.Minute), MessageID: "m1"},
		{Role: "bot", Content: "earlier", Timestamp: now, MessageID: "m2"},
	}}
	if err := f.Validate(); err == nil {
		t.Error("out-of-order fragment passed validation")
	}

	f.Messages[0], f.Messages[1] = f.Messages[1], f.Messages[0]
	if err := f.Validate(); err != nil {
		t.Errorf("chronological fragment rejected: %v", err)
	}
}

func TestNormalizeTags(t *testing.T) {
	got := NormalizeTags([]string{" Work ", "work", "TRAVEL", "", "health"})
	want := []string{"health", "travel", "work"}
	if len(got) != len(want) {
		t.Fatalf("NormalizeTags = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("NormalizeTags = %v, want %v", got, want)
		}
	}
}

func TestRecordScoreWindowAndPercentile(t *testing.T) {
	p := NewProfile("u1")

	// Below the sample minimum the default percentile is retained.
	for i := 0; i < 10; i++ {
		p.RecordScore(0.1, 90, 15)
	}
	if p.Percentile90 != DefaultPercentile90 {
		t.Errorf("percentile = %.2f before min samples, want default %.2f", p.Percentile90, DefaultPercentile90)
	}

	// Past the minimum, the percentile reflects the window.
	for i := 0; i < 10; i++ {
		p.RecordScore(0.9, 90, 15)
	}
	if p.Percentile90 != 0.9 {
		t.Errorf("percentile = %.2f, want 0.9", p.Percentile90)
	}

	// The window evicts oldest-first.
	small := NewProfile("u2")
	for i := 0; i < 8; i++ {
		small.RecordScore(float64(i), 5, 3)
	}
	if len(small.RecentNoveltyScores) != 5 {
		t.Fatalf("window length = %d, want 5", len(small.RecentNoveltyScores))
	}
	if small.RecentNoveltyScores[0] != 3 {
		t.Errorf("oldest retained score = %.0f, want 3", small.RecentNoveltyScores[0])
	}
}

func TestComputeImportance(t *testing.T) {
	base := ComputeImportance(0, CategoryUserRelated, TriggerDeepInsight)
	if base != 0.5 {
		t.Errorf("baseline importance = %.2f, want 0.5", base)
	}

	peak := ComputeImportance(1.0, CategorySelfRelated, TriggerEmotionalPeak)
	if peak != 1.0 {
		t.Errorf("maximal importance = %.2f, want clamped 1.0", peak)
	}

	if a, b := ComputeImportance(0.5, CategoryUserRelated, TriggerDeepInsight),
		ComputeImportance(0.5, CategorySelfRelated, TriggerDeepInsight); b <= a {
		t.Errorf("self-related importance %.2f not above user-related %.2f", b, a)
	}
}

func TestSummarizeGroup(t *testing.T) {
	start := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	rows := []SummaryInput{
		{DominantEmotions: []string{"joy"}, SemanticTags: []string{"work"}, Importance: 0.2},
		{DominantEmotions: []string{"joy", "fear"}, SemanticTags: []string{"work", "health"}, Importance: 0.4},
		{DominantEmotions: []string{"fear"}, SemanticTags: []string{"travel"}, Importance: 0.6},
	}

	s := SummarizeGroup("u1", start, end, rows, 1, 2)
	if s.ID == uuid.Nil {
		t.Error("summary id not assigned")
	}
	if s.MemoriesCount != 3 {
		t.Errorf("count = %d, want 3", s.MemoriesCount)
	}
	// joy and fear tie at 2; alphabetical order makes the cut deterministic.
	if len(s.DominantEmotions) != 1 || s.DominantEmotions[0] != "fear" {
		t.Errorf("dominant emotions = %v, want [fear]", s.DominantEmotions)
	}
	if len(s.FrequentTags) != 2 || s.FrequentTags[0] != "work" {
		t.Errorf("frequent tags = %v, want work first", s.FrequentTags)
	}
	if got, want := s.AvgImportance, 0.4; got < want-1e-9 || got > want+1e-9 {
		t.Errorf("avg importance = %.3f, want %.3f", got, want)
	}
}

func TestExtractTags(t *testing.T) {
	now := time.Now()
	f := Fragment{Messages: []Message{
		{Role: "user", Content: "My boss moved the deadline and I can't sleep", Timestamp: now, MessageID: "m1"},
	}}
	got := ExtractTags(f, nil)
	if len(got) != 2 || got[0] != "health" || got[1] != "work" {
		t.Errorf("ExtractTags = %v, want [health work]", got)
	}

	empty := Fragment{Messages: []Message{
		{Role: "user", Content: "zzz qqq", Timestamp: now, MessageID: "m1"},
	}}
	if got := ExtractTags(empty, nil); len(got) != 0 {
		t.Errorf("ExtractTags on unmatched text = %v, want empty", got)
	}
}
