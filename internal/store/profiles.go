package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/DmitrySonora/chimera-ltm/internal/memory"
)

// GetProfile loads a user profile, or returns nil when the user has none.
func (s *Store) GetProfile(ctx context.Context, userID string) (*memory.Profile, error) {
	var (
		p             memory.Profile
		emotionsJSON  []byte
		tagsJSON      []byte
	)
	err := s.db.QueryRow(ctx, `
		SELECT user_id, total_messages, calibration_complete,
		       emotion_frequencies, tag_frequencies, recent_novelty_scores,
		       current_percentile_90, last_memory_at, created_at, updated_at
		FROM ltm_user_profiles
		WHERE user_id = $1`, userID,
	).Scan(
		&p.UserID, &p.TotalMessages, &p.CalibrationComplete,
		&emotionsJSON, &tagsJSON, &p.RecentNoveltyScores,
		&p.Percentile90, &p.LastMemoryAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	if err := json.Unmarshal(emotionsJSON, &p.EmotionFrequencies); err != nil {
		return nil, fmt.Errorf("unmarshal emotion frequencies: %w", err)
	}
	if err := json.Unmarshal(tagsJSON, &p.TagFrequencies); err != nil {
		return nil, fmt.Errorf("unmarshal tag frequencies: %w", err)
	}
	return &p, nil
}

// CreateProfile inserts a fresh profile. A concurrent insert for the same
// user wins silently; the caller re-reads afterwards.
func (s *Store) CreateProfile(ctx context.Context, p *memory.Profile) error {
	emotionsJSON, err := json.Marshal(p.EmotionFrequencies)
	if err != nil {
		return fmt.Errorf("marshal emotion frequencies: %w", err)
	}
	tagsJSON, err := json.Marshal(p.TagFrequencies)
	if err != nil {
		return fmt.Errorf("marshal tag frequencies: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO ltm_user_profiles (
			user_id, total_messages, calibration_complete,
			emotion_frequencies, tag_frequencies, recent_novelty_scores,
			current_percentile_90, last_memory_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id) DO NOTHING`,
		p.UserID, p.TotalMessages, p.CalibrationComplete,
		emotionsJSON, tagsJSON, p.RecentNoveltyScores,
		p.Percentile90, p.LastMemoryAt, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	return nil
}

// UpdateProfile replaces the stored profile state with p. Last write wins
// for concurrent evaluations of the same user.
func (s *Store) UpdateProfile(ctx context.Context, p *memory.Profile) error {
	emotionsJSON, err := json.Marshal(p.EmotionFrequencies)
	if err != nil {
		return fmt.Errorf("marshal emotion frequencies: %w", err)
	}
	tagsJSON, err := json.Marshal(p.TagFrequencies)
	if err != nil {
		return fmt.Errorf("marshal tag frequencies: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		UPDATE ltm_user_profiles
		SET total_messages = $2,
		    calibration_complete = $3,
		    emotion_frequencies = $4,
		    tag_frequencies = $5,
		    recent_novelty_scores = $6,
		    current_percentile_90 = $7,
		    last_memory_at = $8,
		    updated_at = now()
		WHERE user_id = $1`,
		p.UserID, p.TotalMessages, p.CalibrationComplete,
		emotionsJSON, tagsJSON, p.RecentNoveltyScores,
		p.Percentile90, p.LastMemoryAt,
	)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}
