package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"
)

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Embedding EmbeddingConfig `json:"embedding"`
	Cache     CacheConfig     `json:"cache"`
	Novelty   NoveltyConfig   `json:"novelty"`
	Search    SearchConfig    `json:"search"`
	Retention RetentionConfig `json:"retention"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
	Qdrant   QdrantConfig   `json:"qdrant"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type QdrantConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Collection string `json:"collection"`
}

type EmbeddingConfig struct {
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
	TimeoutMS int    `json:"timeout_ms"`
}

// CacheConfig holds the key namespace and per-type TTLs in seconds.
type CacheConfig struct {
	Prefix         string `json:"prefix"`
	DefaultTTL     int    `json:"default_ttl"`
	FinalTTL       int    `json:"final_ttl"`
	EmbeddingTTL   int    `json:"embedding_ttl"`
	KNNTTL         int    `json:"knn_ttl"`
	TemporalTTL    int    `json:"temporal_ttl"`
	ProfileTTL     int    `json:"profile_ttl"`
	PercentileTTL  int    `json:"percentile_ttl"`
	CalibrationTTL int    `json:"calibration_ttl"`
	SearchTTL      int    `json:"search_ttl"`
}

// NoveltyConfig exposes every heuristic constant of the evaluator. The four
// factor weights must sum to 1.0.
type NoveltyConfig struct {
	SemanticWeight  float64 `json:"semantic_weight"`
	EmotionalWeight float64 `json:"emotional_weight"`
	ContextWeight   float64 `json:"context_weight"`
	TemporalWeight  float64 `json:"temporal_weight"`

	KNNLimit            int     `json:"knn_limit"`
	KNNMinNeighbors     int     `json:"knn_min_neighbors"`
	DensityMinNeighbors int     `json:"density_min_neighbors"`
	DensityThreshold    float64 `json:"density_threshold"`
	DensityPenalty      float64 `json:"density_penalty"`

	ColdStartBufferSize   int     `json:"cold_start_buffer_size"`
	ColdStartMinThreshold float64 `json:"cold_start_min_threshold"`
	PercentileAdjustment  float64 `json:"percentile_adjustment"`
	ScoresWindow          int     `json:"scores_window"`
	PercentileMinSamples  int     `json:"percentile_min_samples"`
	MaturitySigmoidRate   float64 `json:"maturity_sigmoid_rate"`
	MaturityMidpointDays  float64 `json:"maturity_midpoint_days"`
	MaturityImpact        float64 `json:"maturity_impact"`

	EmotionMinIntensity  float64 `json:"emotion_min_intensity"`
	EmotionalRarityScale float64 `json:"emotional_rarity_scale"`
	TemporalDecayDays    float64 `json:"temporal_decay_days"`
}

type SearchConfig struct {
	MaxLimit     int `json:"max_limit"`
	DefaultLimit int `json:"default_limit"`
}

type RetentionConfig struct {
	Enabled               bool    `json:"enabled"`
	RetentionDays         int     `json:"retention_days"`
	MinImportance         float64 `json:"min_importance"`
	CriticalImportance    float64 `json:"critical_importance"`
	MinAccessCount        int     `json:"min_access_count"`
	BatchSize             int     `json:"batch_size"`
	ScheduleHourUTC       int     `json:"schedule_hour_utc"`
	SummaryEnabled        bool    `json:"summary_enabled"`
	SummaryPeriod         string  `json:"summary_period"` // "month", "week", "day"
	MinMemoriesForSummary int     `json:"min_memories_for_summary"`
	SummaryTopEmotions    int     `json:"summary_top_emotions"`
	SummaryTopTags        int     `json:"summary_top_tags"`
	DryRun                bool    `json:"dry_run"`
}

// Default returns the reference configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 3210, LogLevel: "info"},
		Database: DatabaseConfig{
			Qdrant: QdrantConfig{Host: "localhost", Port: 6334, Collection: "ltm_memories"},
		},
		Embedding: EmbeddingConfig{Dimension: 768, TimeoutMS: 2000},
		Cache: CacheConfig{
			Prefix:         "chimera:ltm",
			DefaultTTL:     1800,
			FinalTTL:       1800,
			EmbeddingTTL:   3600,
			KNNTTL:         900,
			TemporalTTL:    1200,
			ProfileTTL:     21600,
			PercentileTTL:  3600,
			CalibrationTTL: 7200,
			SearchTTL:      3600,
		},
		Novelty: NoveltyConfig{
			SemanticWeight:        0.40,
			EmotionalWeight:       0.25,
			ContextWeight:         0.20,
			TemporalWeight:        0.15,
			KNNLimit:              10,
			KNNMinNeighbors:       5,
			DensityMinNeighbors:   5,
			DensityThreshold:      0.2,
			DensityPenalty:        0.25,
			ColdStartBufferSize:   20,
			ColdStartMinThreshold: 0.4,
			PercentileAdjustment:  0.7,
			ScoresWindow:          90,
			PercentileMinSamples:  15,
			MaturitySigmoidRate:   0.1,
			MaturityMidpointDays:  30,
			MaturityImpact:        0.1,
			EmotionMinIntensity:   0.1,
			EmotionalRarityScale:  2.0,
			TemporalDecayDays:     7,
		},
		Search: SearchConfig{MaxLimit: 100, DefaultLimit: 10},
		Retention: RetentionConfig{
			Enabled:               true,
			RetentionDays:         365,
			MinImportance:         0.75,
			CriticalImportance:    0.95,
			MinAccessCount:        5,
			BatchSize:             1000,
			ScheduleHourUTC:       3,
			SummaryEnabled:        true,
			SummaryPeriod:         "month",
			MinMemoriesForSummary: 5,
			SummaryTopEmotions:    5,
			SummaryTopTags:        10,
		},
	}
}

// EmbedTimeout returns the per-call embedding timeout.
func (c EmbeddingConfig) EmbedTimeout() time.Duration {
	if c.TimeoutMS <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	w := c.Novelty.SemanticWeight + c.Novelty.EmotionalWeight +
		c.Novelty.ContextWeight + c.Novelty.TemporalWeight
	if w < 0.999 || w > 1.001 {
		return fmt.Errorf("novelty weights sum to %.3f, want 1.0", w)
	}
	if c.Novelty.ScoresWindow <= 0 {
		return fmt.Errorf("scores window must be positive")
	}
	if c.Retention.MinImportance > c.Retention.CriticalImportance {
		return fmt.Errorf("min importance %.2f above critical importance %.2f",
			c.Retention.MinImportance, c.Retention.CriticalImportance)
	}
	switch c.Retention.SummaryPeriod {
	case "day", "week", "month":
	default:
		return fmt.Errorf("unknown summary period %q", c.Retention.SummaryPeriod)
	}
	return nil
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file over the defaults and substitutes
// environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	cfg := Default()
	if err := json.Unmarshal([]byte(resolved), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}
