package store

import (
	"context"
	"fmt"
	"time"

	"github.com/DmitrySonora/chimera-ltm/internal/memory"
)

// UpsertSummary records a period summary. A summary for the same user and
// period is merged: counts add up, emotion/tag lists union (deduplicated,
// capped to the summary size limits) and the average importance is
// re-weighted by the merged counts.
func (s *Store) UpsertSummary(ctx context.Context, sum *memory.PeriodSummary) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO ltm_period_summaries (
			summary_id, user_id, period_start, period_end,
			memories_count, dominant_emotions, frequent_tags, avg_importance
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, period_start)
		DO UPDATE SET
			memories_count = ltm_period_summaries.memories_count + EXCLUDED.memories_count,
			dominant_emotions = (
				SELECT array_agg(emotion) FROM (
					SELECT unnest(ltm_period_summaries.dominant_emotions) AS emotion
					UNION
					SELECT unnest(EXCLUDED.dominant_emotions)
					ORDER BY emotion
					LIMIT $9
				) merged
			),
			frequent_tags = (
				SELECT array_agg(tag) FROM (
					SELECT unnest(ltm_period_summaries.frequent_tags) AS tag
					UNION
					SELECT unnest(EXCLUDED.frequent_tags)
					ORDER BY tag
					LIMIT $10
				) merged
			),
			avg_importance = (
				ltm_period_summaries.avg_importance * ltm_period_summaries.memories_count
				+ EXCLUDED.avg_importance * EXCLUDED.memories_count
			) / (ltm_period_summaries.memories_count + EXCLUDED.memories_count)`,
		sum.ID, sum.UserID, sum.PeriodStart, sum.PeriodEnd,
		sum.MemoriesCount, sum.DominantEmotions, sum.FrequentTags, sum.AvgImportance,
		memory.MaxSummaryEmotions, memory.MaxSummaryTags,
	)
	if err != nil {
		return fmt.Errorf("upsert summary: %w", err)
	}
	return nil
}

// ListSummaries returns a user's period summaries overlapping [from, to),
// oldest period first. Zero bounds mean unbounded.
func (s *Store) ListSummaries(ctx context.Context, userID string, from, to time.Time, limit int) ([]*memory.PeriodSummary, error) {
	if to.IsZero() {
		to = time.Unix(1<<40, 0)
	}
	rows, err := s.db.Query(ctx, `
		SELECT summary_id, user_id, period_start, period_end,
		       memories_count, dominant_emotions, frequent_tags, avg_importance
		FROM ltm_period_summaries
		WHERE user_id = $1 AND period_end > $2 AND period_start < $3
		ORDER BY period_start ASC
		LIMIT $4`, userID, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	defer rows.Close()

	var summaries []*memory.PeriodSummary
	for rows.Next() {
		var sum memory.PeriodSummary
		if err := rows.Scan(
			&sum.ID, &sum.UserID, &sum.PeriodStart, &sum.PeriodEnd,
			&sum.MemoriesCount, &sum.DominantEmotions, &sum.FrequentTags, &sum.AvgImportance,
		); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		summaries = append(summaries, &sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summaries: %w", err)
	}
	return summaries, nil
}
