// Package profile serves user memory profiles through a cache-aside layer
// over the relational store.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DmitrySonora/chimera-ltm/internal/cache"
	"github.com/DmitrySonora/chimera-ltm/internal/memory"
)

// Storage is the relational surface the profile store needs.
type Storage interface {
	GetProfile(ctx context.Context, userID string) (*memory.Profile, error)
	CreateProfile(ctx context.Context, p *memory.Profile) error
	UpdateProfile(ctx context.Context, p *memory.Profile) error
}

// Store hands out profiles, creating a neutral one on first contact.
type Store struct {
	storage Storage
	cache   *cache.Cache
	keys    cache.Keys
	ttl     time.Duration
	logger  *zap.Logger
}

// New creates a profile store. ttl bounds how long a cached profile may
// lag behind the database.
func New(storage Storage, c *cache.Cache, keys cache.Keys, ttl time.Duration, logger *zap.Logger) *Store {
	return &Store{storage: storage, cache: c, keys: keys, ttl: ttl, logger: logger}
}

// GetOrCreate returns the user's profile, creating a default one when the
// user is unknown. Concurrent first-contact calls converge on one row.
func (s *Store) GetOrCreate(ctx context.Context, userID string) (*memory.Profile, error) {
	key := s.keys.Profile(userID)
	if data, ok := s.cache.Get(ctx, key); ok {
		var p memory.Profile
		if err := json.Unmarshal(data, &p); err == nil {
			return &p, nil
		}
		s.cache.Delete(ctx, key)
	}

	p, err := s.storage.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", userID, err)
	}
	if p == nil {
		p = memory.NewProfile(userID)
		if err := s.storage.CreateProfile(ctx, p); err != nil {
			return nil, fmt.Errorf("create profile %s: %w", userID, err)
		}
		// A concurrent create may have won; re-read so both callers see
		// the same row.
		stored, err := s.storage.GetProfile(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("reload profile %s: %w", userID, err)
		}
		if stored != nil {
			p = stored
		}
	}

	if data, err := json.Marshal(p); err == nil {
		s.cache.Set(ctx, key, data, s.ttl)
	}
	return p, nil
}

// Update persists p and drops the cache keys derived from profile state.
func (s *Store) Update(ctx context.Context, p *memory.Profile) error {
	if err := s.storage.UpdateProfile(ctx, p); err != nil {
		return fmt.Errorf("update profile %s: %w", p.UserID, err)
	}
	s.Invalidate(ctx, p.UserID)
	return nil
}

// Invalidate drops the profile and every cache entry computed from it.
func (s *Store) Invalidate(ctx context.Context, userID string) {
	s.cache.Delete(ctx, s.keys.Profile(userID))
	s.cache.Delete(ctx, s.keys.Percentile(userID))
	s.cache.Delete(ctx, s.keys.Calibration(userID))
}
