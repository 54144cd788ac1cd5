package embedding

import (
	"context"
	"time"
)

// Request carries the semantic context of one embedding. The model is
// opaque: vectors are not reproducible across model versions, so they are
// never compared across regenerations.
type Request struct {
	Text      string
	Emotions  map[string]float64
	Timestamp time.Time
	Tags      []string
	Category  string
}

// Provider generates a vector embedding for a memory candidate. A Provider
// failure must never fail the caller; novelty evaluation treats a missing
// vector as maximally novel.
type Provider interface {
	Embed(ctx context.Context, req Request) ([]float32, error)
	Dimension() int
}

// Config holds embedding provider configuration. Timeout bounds each API
// call; zero falls back to a conservative default.
type Config struct {
	Endpoint  string        `json:"endpoint"`
	Model     string        `json:"model"`
	APIKey    string        `json:"api_key"`
	Dimension int           `json:"dimension"`
	Timeout   time.Duration `json:"-"`
}
