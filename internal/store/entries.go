package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/DmitrySonora/chimera-ltm/internal/memory"
)

const entryColumns = `
	memory_id, user_id, conversation_fragment, importance_score,
	emotional_snapshot, dominant_emotions, emotional_intensity,
	memory_type, semantic_tags, self_relevance_score, trigger_reason,
	created_at, accessed_count, last_accessed_at`

// InsertEntry persists an admitted memory entry. The entry ID must already
// be assigned.
func (s *Store) InsertEntry(ctx context.Context, e *memory.Entry) error {
	fragmentJSON, err := json.Marshal(e.Fragment)
	if err != nil {
		return fmt.Errorf("marshal fragment: %w", err)
	}
	snapshotJSON, err := json.Marshal(e.EmotionalSnapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO ltm_memories (
			memory_id, user_id, conversation_fragment, importance_score,
			emotional_snapshot, dominant_emotions, emotional_intensity,
			memory_type, semantic_tags, self_relevance_score, trigger_reason,
			created_at, accessed_count
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 0)`,
		e.ID, e.UserID, fragmentJSON, e.ImportanceScore,
		snapshotJSON, e.DominantEmotions, e.EmotionalIntensity,
		string(e.Category), e.SemanticTags, e.SelfRelevance, string(e.TriggerReason),
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

// Recent returns a user's entries ordered newest first.
func (s *Store) Recent(ctx context.Context, userID string, limit, offset int) ([]*memory.Entry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+entryColumns+`
		FROM ltm_memories
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("recent entries: %w", err)
	}
	return scanEntries(rows)
}

// RecentSince returns a user's entries created at or after since, newest
// first.
func (s *Store) RecentSince(ctx context.Context, userID string, since time.Time, limit, offset int) ([]*memory.Entry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+entryColumns+`
		FROM ltm_memories
		WHERE user_id = $1 AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`, userID, since, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("recent entries since: %w", err)
	}
	return scanEntries(rows)
}

// SearchByTags returns entries matching the given tags, newest first.
// With matchAll set, an entry must carry every tag; otherwise any overlap
// qualifies.
func (s *Store) SearchByTags(ctx context.Context, userID string, tags []string, matchAll bool, limit, offset int) ([]*memory.Entry, error) {
	op := "&&"
	if matchAll {
		op = "@>"
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+entryColumns+`
		FROM ltm_memories
		WHERE user_id = $1 AND semantic_tags `+op+` $2
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`, userID, tags, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("search by tags: %w", err)
	}
	return scanEntries(rows)
}

// ByImportance returns entries at or above the importance floor, most
// important first.
func (s *Store) ByImportance(ctx context.Context, userID string, minImportance float64, limit, offset int) ([]*memory.Entry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+entryColumns+`
		FROM ltm_memories
		WHERE user_id = $1 AND importance_score >= $2
		ORDER BY importance_score DESC, created_at DESC
		LIMIT $3 OFFSET $4`, userID, minImportance, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("search by importance: %w", err)
	}
	return scanEntries(rows)
}

// ByCategory returns entries of one memory category, newest first.
func (s *Store) ByCategory(ctx context.Context, userID string, category memory.Category, limit, offset int) ([]*memory.Entry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+entryColumns+`
		FROM ltm_memories
		WHERE user_id = $1 AND memory_type = $2
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`, userID, string(category), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("search by category: %w", err)
	}
	return scanEntries(rows)
}

// EntriesByIDs hydrates entries for a set of IDs, preserving the order of
// ids. Missing IDs are skipped.
func (s *Store) EntriesByIDs(ctx context.Context, ids []uuid.UUID) ([]*memory.Entry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+entryColumns+`
		FROM ltm_memories
		WHERE memory_id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("entries by ids: %w", err)
	}
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}

	byID := make(map[uuid.UUID]*memory.Entry, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
	}
	ordered := make([]*memory.Entry, 0, len(entries))
	for _, id := range ids {
		if e, ok := byID[id]; ok {
			ordered = append(ordered, e)
		}
	}
	return ordered, nil
}

// UpdateAccessCounts bumps access bookkeeping for entries returned by a
// search. Best effort: the caller treats a failure as non-fatal.
func (s *Store) UpdateAccessCounts(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.Exec(ctx, `
		UPDATE ltm_memories
		SET accessed_count = accessed_count + 1, last_accessed_at = now()
		WHERE memory_id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("update access counts: %w", err)
	}
	return nil
}

// LastTaggedAt returns the creation time of the user's most recent entry
// sharing any of the given tags, or nil when none exists.
func (s *Store) LastTaggedAt(ctx context.Context, userID string, tags []string) (*time.Time, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	var ts time.Time
	err := s.db.QueryRow(ctx, `
		SELECT created_at
		FROM ltm_memories
		WHERE user_id = $1 AND semantic_tags && $2
		ORDER BY created_at DESC
		LIMIT 1`, userID, tags).Scan(&ts)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last tagged at: %w", err)
	}
	return &ts, nil
}

// CandidatesOlderThan returns up to limit entries created before cutoff,
// oldest first. Retention sweeps page through them batch by batch.
func (s *Store) CandidatesOlderThan(ctx context.Context, cutoff time.Time, limit, offset int) ([]*memory.Entry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+entryColumns+`
		FROM ltm_memories
		WHERE created_at < $1
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3`, cutoff, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("retention candidates: %w", err)
	}
	return scanEntries(rows)
}

// DeleteEntries removes entries by ID and returns how many rows went away.
func (s *Store) DeleteEntries(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM ltm_memories WHERE memory_id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("delete entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanEntries(rows pgx.Rows) ([]*memory.Entry, error) {
	defer rows.Close()

	var entries []*memory.Entry
	for rows.Next() {
		var (
			e            memory.Entry
			fragmentJSON []byte
			snapshotJSON []byte
			category     string
			trigger      string
		)
		if err := rows.Scan(
			&e.ID, &e.UserID, &fragmentJSON, &e.ImportanceScore,
			&snapshotJSON, &e.DominantEmotions, &e.EmotionalIntensity,
			&category, &e.SemanticTags, &e.SelfRelevance, &trigger,
			&e.CreatedAt, &e.AccessCount, &e.LastAccessedAt,
		); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if err := json.Unmarshal(fragmentJSON, &e.Fragment); err != nil {
			return nil, fmt.Errorf("unmarshal fragment: %w", err)
		}
		if len(snapshotJSON) > 0 {
			if err := json.Unmarshal(snapshotJSON, &e.EmotionalSnapshot); err != nil {
				return nil, fmt.Errorf("unmarshal snapshot: %w", err)
			}
		}
		e.Category = memory.Category(category)
		e.TriggerReason = memory.TriggerReason(trigger)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}
