// Package retention reclaims aged low-value memories, condensing each
// reclaimed period into a summary before deletion.
package retention

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DmitrySonora/chimera-ltm/internal/cache"
	"github.com/DmitrySonora/chimera-ltm/internal/config"
	"github.com/DmitrySonora/chimera-ltm/internal/memory"
)

// Storage is the relational surface a sweep works against.
type Storage interface {
	CandidatesOlderThan(ctx context.Context, cutoff time.Time, limit, offset int) ([]*memory.Entry, error)
	DeleteEntries(ctx context.Context, ids []uuid.UUID) (int64, error)
	UpsertSummary(ctx context.Context, sum *memory.PeriodSummary) error
}

// VectorDeleter removes the vector points of deleted entries.
type VectorDeleter interface {
	DeleteByIDs(ctx context.Context, ids []string) error
}

// Report is the outcome of one sweep. AttemptedDelete counts entries sent
// to delete batches; Deleted counts rows that actually went away (or, on a
// dry run, would have), so the two diverge when a batch fails mid-sweep.
type Report struct {
	DryRun           bool          `json:"dry_run"`
	Scanned          int           `json:"scanned"`
	Qualified        int           `json:"qualified"`
	AttemptedDelete  int           `json:"attempted_delete"`
	Deleted          int           `json:"deleted"`
	SummariesCreated int           `json:"summaries_created"`
	Duration         time.Duration `json:"duration"`
}

// Sweeper applies the retention policy.
type Sweeper struct {
	cfg     config.RetentionConfig
	storage Storage
	vectors VectorDeleter
	cache   *cache.Cache
	keys    cache.Keys
	logger  *zap.Logger

	now func() time.Time
}

// New wires a Sweeper.
func New(cfg config.RetentionConfig, storage Storage, vectors VectorDeleter, c *cache.Cache, cacheCfg config.CacheConfig, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		cfg:     cfg,
		storage: storage,
		vectors: vectors,
		cache:   c,
		keys:    cache.Keys{Prefix: cacheCfg.Prefix},
		logger:  logger,
		now:     time.Now,
	}
}

type group struct {
	userID      string
	periodStart time.Time
	entries     []*memory.Entry
}

// RunSweep scans entries past the retention horizon, qualifies them
// against the importance and access thresholds, summarizes qualifying
// periods, and deletes in batches. With dryRun everything is computed and
// logged but nothing is written, deleted, or invalidated.
func (s *Sweeper) RunSweep(ctx context.Context, dryRun bool) (*Report, error) {
	start := s.now()
	cutoff := start.AddDate(0, 0, -s.cfg.RetentionDays)
	report := &Report{DryRun: dryRun}

	// Collect every candidate first so batch deletes cannot shift the
	// scan window underneath us.
	var qualified []*memory.Entry
	for offset := 0; ; offset += s.cfg.BatchSize {
		batch, err := s.storage.CandidatesOlderThan(ctx, cutoff, s.cfg.BatchSize, offset)
		if err != nil {
			return report, err
		}
		report.Scanned += len(batch)
		for _, e := range batch {
			if s.qualifies(e) {
				qualified = append(qualified, e)
			}
		}
		if len(batch) < s.cfg.BatchSize {
			break
		}
	}
	report.Qualified = len(qualified)

	groups := groupByPeriod(qualified, s.cfg.SummaryPeriod)
	for _, g := range groups {
		if !s.cfg.SummaryEnabled || len(g.entries) < s.cfg.MinMemoriesForSummary {
			continue
		}
		sum := s.summarize(g)
		if !dryRun {
			if err := s.storage.UpsertSummary(ctx, &sum); err != nil {
				s.logger.Error("summary upsert failed, entries will be reclaimed unsummarized",
					zap.String("user_id", g.userID),
					zap.Time("period_start", g.periodStart),
					zap.Error(err))
				continue
			}
		}
		report.SummariesCreated++
	}

	affected := make(map[string]bool)
	for _, e := range qualified {
		affected[e.UserID] = true
	}

	ids := make([]uuid.UUID, len(qualified))
	for i, e := range qualified {
		ids[i] = e.ID
	}
	for from := 0; from < len(ids); from += s.cfg.BatchSize {
		to := min(from+s.cfg.BatchSize, len(ids))
		batch := ids[from:to]
		report.AttemptedDelete += len(batch)
		if dryRun {
			// A dry run reports the deletions it would have made.
			report.Deleted += len(batch)
			continue
		}
		deleted, err := s.storage.DeleteEntries(ctx, batch)
		if err != nil {
			s.logger.Error("delete batch failed, continuing sweep",
				zap.Int("batch_size", len(batch)), zap.Error(err))
			continue
		}
		report.Deleted += int(deleted)
		s.deleteVectors(ctx, batch)

		// Honor cancellation between batches, never inside one.
		if err := ctx.Err(); err != nil {
			s.invalidate(ctx, affected)
			report.Duration = s.now().Sub(start)
			return report, err
		}
	}

	if !dryRun && report.Deleted > 0 {
		s.invalidate(ctx, affected)
	}
	report.Duration = s.now().Sub(start)

	s.logger.Info("retention sweep finished",
		zap.Bool("dry_run", dryRun),
		zap.Int("scanned", report.Scanned),
		zap.Int("qualified", report.Qualified),
		zap.Int("deleted", report.Deleted),
		zap.Int("summaries", report.SummariesCreated),
		zap.Duration("duration", report.Duration))
	return report, nil
}

// qualifies holds the full reclaim predicate: old entries survive when
// important, critical, or frequently accessed.
func (s *Sweeper) qualifies(e *memory.Entry) bool {
	if e.ImportanceScore >= s.cfg.MinImportance {
		return false
	}
	if e.ImportanceScore >= s.cfg.CriticalImportance {
		return false
	}
	if e.AccessCount >= s.cfg.MinAccessCount {
		return false
	}
	return true
}

func (s *Sweeper) summarize(g group) memory.PeriodSummary {
	rows := make([]memory.SummaryInput, len(g.entries))
	for i, e := range g.entries {
		rows[i] = memory.SummaryInput{
			DominantEmotions: e.DominantEmotions,
			SemanticTags:     e.SemanticTags,
			Importance:       e.ImportanceScore,
		}
	}
	end := nextPeriod(g.periodStart, s.cfg.SummaryPeriod)
	return memory.SummarizeGroup(g.userID, g.periodStart, end, rows,
		s.cfg.SummaryTopEmotions, s.cfg.SummaryTopTags)
}

func (s *Sweeper) deleteVectors(ctx context.Context, ids []uuid.UUID) {
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	if err := s.vectors.DeleteByIDs(ctx, strs); err != nil {
		s.logger.Warn("vector delete failed, leaving orphan points", zap.Error(err))
	}
}

// invalidate drops the per-user cache entries whose inputs the sweep just
// changed.
func (s *Sweeper) invalidate(ctx context.Context, users map[string]bool) {
	for userID := range users {
		for _, cacheType := range []string{cache.TypeKNN, cache.TypeTemporal, cache.TypeFinal} {
			s.cache.DeletePattern(ctx, s.keys.UserPattern(cacheType, userID))
		}
	}
}

// groupByPeriod buckets entries by (user, truncated creation period),
// keeping deterministic order of first appearance.
func groupByPeriod(entries []*memory.Entry, period string) []group {
	type key struct {
		user  string
		start time.Time
	}
	index := make(map[key]int)
	var groups []group
	for _, e := range entries {
		k := key{e.UserID, truncatePeriod(e.CreatedAt.UTC(), period)}
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, group{userID: k.user, periodStart: k.start})
		}
		groups[i].entries = append(groups[i].entries, e)
	}
	return groups
}

func truncatePeriod(t time.Time, period string) time.Time {
	switch period {
	case "day":
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case "week":
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7 // weeks start on Monday
		return day.AddDate(0, 0, -offset)
	default: // month
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
}

func nextPeriod(start time.Time, period string) time.Time {
	switch period {
	case "day":
		return start.AddDate(0, 0, 1)
	case "week":
		return start.AddDate(0, 0, 7)
	default:
		return start.AddDate(0, 1, 0)
	}
}
