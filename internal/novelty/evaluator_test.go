package novelty

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/DmitrySonora/chimera-ltm/internal/cache"
	"github.com/DmitrySonora/chimera-ltm/internal/config"
	"github.com/DmitrySonora/chimera-ltm/internal/embedding"
	"github.com/DmitrySonora/chimera-ltm/internal/memory"
	"github.com/DmitrySonora/chimera-ltm/internal/vectorstore"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, req embedding.Request) ([]float32, error) {
	return f.vec, f.err
}

func (f *fakeEmbedder) Dimension() int { return len(f.vec) }

type fakeVectors struct {
	hits []*vectorstore.SearchResult
	err  error
}

func (f *fakeVectors) SearchUser(ctx context.Context, userID string, vector []float32, topK uint64) ([]*vectorstore.SearchResult, error) {
	return f.hits, f.err
}

type fakeRecency struct {
	last *time.Time
	err  error
}

func (f *fakeRecency) LastTaggedAt(ctx context.Context, userID string, tags []string) (*time.Time, error) {
	return f.last, f.err
}

type fakeProfiles struct {
	profile *memory.Profile
	getErr  error
	updErr  error
	updated *memory.Profile
}

func (f *fakeProfiles) GetOrCreate(ctx context.Context, userID string) (*memory.Profile, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.profile == nil {
		f.profile = memory.NewProfile(userID)
	}
	return f.profile, nil
}

func (f *fakeProfiles) Update(ctx context.Context, p *memory.Profile) error {
	if f.updErr != nil {
		return f.updErr
	}
	f.updated = p
	return nil
}

func newTestEvaluator(t *testing.T, cfg config.NoveltyConfig, emb *fakeEmbedder, vec *fakeVectors, rec *fakeRecency, prof *fakeProfiles) *Evaluator {
	t.Helper()
	e := New(cfg, config.Default().Cache, emb, vec, rec, prof, cache.Disabled(zap.NewNop()), zap.NewNop())
	e.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return e
}

func neighbors(scores ...float32) []*vectorstore.SearchResult {
	out := make([]*vectorstore.SearchResult, len(scores))
	for i, s := range scores {
		out[i] = &vectorstore.SearchResult{Score: s}
	}
	return out
}

func TestEvaluateCalibrationGateNeverAdmits(t *testing.T) {
	cfg := config.Default().Novelty
	prof := &fakeProfiles{}
	e := newTestEvaluator(t, cfg,
		&fakeEmbedder{err: errors.New("down")},
		&fakeVectors{}, &fakeRecency{}, prof)

	// Everything maximally novel: no history, rare emotion, fresh tags.
	res, err := e.Evaluate(context.Background(), "u1", "first message",
		memory.Snapshot{"joy": 1.0}, []string{"philosophy"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Admit {
		t.Error("admitted during calibration window")
	}
	if !res.Calibrating {
		t.Error("Calibrating = false, want true")
	}
	if res.Score <= 0.8 {
		t.Errorf("score = %.3f, want > 0.8 for a maximally novel candidate", res.Score)
	}
	if prof.updated == nil {
		t.Fatal("profile not updated during calibration")
	}
	if prof.updated.TotalMessages != 1 {
		t.Errorf("total messages = %d, want 1", prof.updated.TotalMessages)
	}
	if prof.updated.EmotionFrequencies["joy"] != 1 {
		t.Errorf("joy frequency = %d, want 1", prof.updated.EmotionFrequencies["joy"])
	}
	if prof.updated.TagFrequencies["philosophy"] != 1 {
		t.Errorf("philosophy frequency = %d, want 1", prof.updated.TagFrequencies["philosophy"])
	}
	if prof.updated.LastMemoryAt != nil {
		t.Errorf("LastMemoryAt = %v, want nil while nothing is admitted", prof.updated.LastMemoryAt)
	}
}

func TestEvaluateAdmitsAfterCalibration(t *testing.T) {
	cfg := config.Default().Novelty
	cfg.PercentileAdjustment = 1.0
	cfg.MaturityImpact = 0 // keep the threshold exactly at the percentile

	p := memory.NewProfile("u1")
	p.TotalMessages = 25
	p.CalibrationComplete = true
	p.Percentile90 = 0.6
	prof := &fakeProfiles{profile: p}

	e := newTestEvaluator(t, cfg,
		&fakeEmbedder{err: errors.New("down")}, // semantic 1.0
		&fakeVectors{}, &fakeRecency{}, prof)

	res, err := e.Evaluate(context.Background(), "u1", "a genuinely new topic",
		memory.Snapshot{"joy": 1.0}, []string{"astronomy"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	// semantic 1.0, emotional 0.5, contextual 1.0, temporal 1.0:
	// 0.4 + 0.25*0.5 + 0.2 + 0.15 = 0.875
	if got, want := res.Score, 0.875; !approx(got, want) {
		t.Errorf("score = %.4f, want %.4f", got, want)
	}
	if got, want := res.Threshold, 0.6; !approx(got, want) {
		t.Errorf("threshold = %.4f, want %.4f", got, want)
	}
	if !res.Admit {
		t.Error("not admitted above threshold")
	}
	if prof.updated.LastMemoryAt == nil {
		t.Fatal("admission did not stamp LastMemoryAt")
	}
	if got, want := *prof.updated.LastMemoryAt, e.now().UTC(); !got.Equal(want) {
		t.Errorf("LastMemoryAt = %v, want %v", got, want)
	}
}

func TestSemanticNoveltyNeighborRules(t *testing.T) {
	cfg := config.Default().Novelty
	e := newTestEvaluator(t, cfg, &fakeEmbedder{}, &fakeVectors{}, &fakeRecency{}, &fakeProfiles{})
	ctx := context.Background()

	// No vector at all.
	if got, _ := e.semanticNovelty(ctx, "u1", nil); got != 1.0 {
		t.Errorf("semantic without vector = %.3f, want 1.0", got)
	}

	// Fewer neighbors than the minimum.
	e.vectors = &fakeVectors{hits: neighbors(0.9, 0.8, 0.7)}
	if got, _ := e.semanticNovelty(ctx, "u1", []float32{1, 0}); got != 1.0 {
		t.Errorf("semantic with 3 neighbors = %.3f, want 1.0", got)
	}

	// Mean distance of the closest five. Scores are similarities, so
	// distances are 0.2, 0.3, 0.4, 0.5, 0.6 and the sixth is ignored.
	e.vectors = &fakeVectors{hits: neighbors(0.8, 0.7, 0.6, 0.5, 0.4, 0.1)}
	got, dists := e.semanticNovelty(ctx, "u1", []float32{1, 0})
	if want := 0.4; !approx(got, want) {
		t.Errorf("semantic = %.4f, want %.4f", got, want)
	}
	if len(dists) != 6 {
		t.Errorf("len(dists) = %d, want 6", len(dists))
	}

	// Vector store outage degrades to maximally novel.
	e.vectors = &fakeVectors{err: errors.New("unavailable")}
	if got, _ := e.semanticNovelty(ctx, "u1", []float32{1, 0}); got != 1.0 {
		t.Errorf("semantic on search error = %.3f, want 1.0", got)
	}
}

func TestEmotionalRarity(t *testing.T) {
	cfg := config.Default().Novelty
	e := newTestEvaluator(t, cfg, &fakeEmbedder{}, &fakeVectors{}, &fakeRecency{}, &fakeProfiles{})

	fresh := memory.NewProfile("u1")

	// New user: every emotion has rarity 1.0.
	got := e.emotionalRarity(fresh, memory.Snapshot{"joy": 0.8})
	if want := 0.4; !approx(got, want) {
		t.Errorf("rarity for new user = %.4f, want %.4f", got, want)
	}

	// A frequent emotion scores lower than a rare one.
	seasoned := memory.NewProfile("u1")
	seasoned.EmotionFrequencies = map[string]int{"joy": 90, "fear": 10}
	joyScore := e.emotionalRarity(seasoned, memory.Snapshot{"joy": 0.8})
	fearScore := e.emotionalRarity(seasoned, memory.Snapshot{"fear": 0.8})
	if joyScore >= fearScore {
		t.Errorf("frequent joy %.4f not below rare fear %.4f", joyScore, fearScore)
	}

	// Neutral and sub-threshold intensities are ignored.
	got = e.emotionalRarity(fresh, memory.Snapshot{"neutral": 1.0, "anger": 0.05})
	if got != 0 {
		t.Errorf("rarity of neutral-only snapshot = %.4f, want 0", got)
	}
}

func TestContextualRarity(t *testing.T) {
	cfg := config.Default().Novelty
	e := newTestEvaluator(t, cfg, &fakeEmbedder{}, &fakeVectors{}, &fakeRecency{}, &fakeProfiles{})

	fresh := memory.NewProfile("u1")
	if got := e.contextualRarity(fresh, nil); got != 0 {
		t.Errorf("rarity without tags = %.3f, want 0", got)
	}
	if got := e.contextualRarity(fresh, []string{"travel"}); got != 1.0 {
		t.Errorf("rarity without history = %.3f, want 1.0", got)
	}

	seasoned := memory.NewProfile("u1")
	seasoned.TagFrequencies = map[string]int{"work": 8, "travel": 2}
	got := e.contextualRarity(seasoned, []string{"work"})
	if want := 0.2; !approx(got, want) {
		t.Errorf("rarity of frequent tag = %.4f, want %.4f", got, want)
	}
}

func TestTemporalNovelty(t *testing.T) {
	cfg := config.Default().Novelty
	e := newTestEvaluator(t, cfg, &fakeEmbedder{}, &fakeVectors{}, &fakeRecency{}, &fakeProfiles{})
	ctx := context.Background()

	if got := e.temporalNovelty(ctx, "u1", nil); got != 1.0 {
		t.Errorf("temporal without tags = %.3f, want 1.0", got)
	}
	if got := e.temporalNovelty(ctx, "u1", []string{"travel"}); got != 1.0 {
		t.Errorf("temporal without prior shared tag = %.3f, want 1.0", got)
	}

	// A memory from an hour ago makes the topic stale.
	recent := e.now().Add(-time.Hour)
	e.recency = &fakeRecency{last: &recent}
	if got := e.temporalNovelty(ctx, "u1", []string{"travel"}); got > 0.01 {
		t.Errorf("temporal an hour after last memory = %.4f, want near 0", got)
	}

	// A memory from long ago barely registers.
	old := e.now().AddDate(0, -3, 0)
	e.recency = &fakeRecency{last: &old}
	if got := e.temporalNovelty(ctx, "u1", []string{"travel"}); got < 0.99 {
		t.Errorf("temporal three months after last memory = %.4f, want near 1", got)
	}
}

func TestDensityModifier(t *testing.T) {
	cfg := config.Default().Novelty
	e := newTestEvaluator(t, cfg, &fakeEmbedder{}, &fakeVectors{}, &fakeRecency{}, &fakeProfiles{})

	// Too few neighbors: never penalized.
	if got := e.densityModifier([]float64{0.01, 0.01, 0.01}); got != 1.0 {
		t.Errorf("modifier with 3 neighbors = %.3f, want 1.0", got)
	}

	// Dense neighborhood.
	dense := []float64{0.05, 0.05, 0.1, 0.1, 0.1}
	if got, want := e.densityModifier(dense), 0.75; !approx(got, want) {
		t.Errorf("modifier in dense neighborhood = %.3f, want %.3f", got, want)
	}

	// Spread-out neighborhood.
	sparse := []float64{0.4, 0.5, 0.6, 0.7, 0.8}
	if got := e.densityModifier(sparse); got != 1.0 {
		t.Errorf("modifier in sparse neighborhood = %.3f, want 1.0", got)
	}
}

func TestThresholdColdStartFloorAndMaturity(t *testing.T) {
	cfg := config.Default().Novelty
	cfg.MaturityImpact = 0
	e := newTestEvaluator(t, cfg, &fakeEmbedder{}, &fakeVectors{}, &fakeRecency{}, &fakeProfiles{})

	p := memory.NewProfile("u1")
	p.Percentile90 = 0.3 // 0.3 * 0.7 = 0.21, below the floor
	p.CreatedAt = e.now()
	if got, want := e.threshold(p), cfg.ColdStartMinThreshold; !approx(got, want) {
		t.Errorf("threshold = %.4f, want cold-start floor %.4f", got, want)
	}

	// With maturity impact on, a brand-new profile demands more than an
	// old one at the same percentile.
	cfg.MaturityImpact = 0.1
	e2 := newTestEvaluator(t, cfg, &fakeEmbedder{}, &fakeVectors{}, &fakeRecency{}, &fakeProfiles{})
	young := memory.NewProfile("u1")
	young.Percentile90 = 0.8
	young.CreatedAt = e2.now()
	old := memory.NewProfile("u1")
	old.Percentile90 = 0.8
	old.CreatedAt = e2.now().AddDate(-1, 0, 0)
	if yt, ot := e2.threshold(young), e2.threshold(old); yt <= ot {
		t.Errorf("young threshold %.4f not above mature threshold %.4f", yt, ot)
	}
}

func TestEvaluateProfileStoreOutage(t *testing.T) {
	cfg := config.Default().Novelty
	e := newTestEvaluator(t, cfg, &fakeEmbedder{}, &fakeVectors{}, &fakeRecency{},
		&fakeProfiles{getErr: errors.New("postgres down")})

	if _, err := e.Evaluate(context.Background(), "u1", "text", nil, nil); err == nil {
		t.Fatal("Evaluate with store outage: want error, got nil")
	}
}

func approx(got, want float64) bool {
	d := got - want
	return d < 1e-6 && d > -1e-6
}
