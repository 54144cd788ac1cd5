package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned while the breaker refuses calls after
// repeated provider failures.
var ErrCircuitOpen = errors.New("embedding provider circuit open")

// BreakerProvider wraps a Provider with a circuit breaker so a
// misbehaving embedding endpoint stops eating request latency.
type BreakerProvider struct {
	inner   Provider
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewBreakerProvider wraps inner. The breaker trips after maxFailures
// consecutive failures and probes again after cooldown.
func NewBreakerProvider(inner Provider, maxFailures uint32, cooldown time.Duration, logger *zap.Logger) *BreakerProvider {
	bp := &BreakerProvider{inner: inner, logger: logger}
	bp.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "embedding",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("embedding breaker state change",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return bp
}

func (b *BreakerProvider) Embed(ctx context.Context, req Request) ([]float32, error) {
	out, err := b.breaker.Execute(func() (interface{}, error) {
		return b.inner.Embed(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrCircuitOpen
		}
		return nil, fmt.Errorf("embed: %w", err)
	}
	return out.([]float32), nil
}

func (b *BreakerProvider) Dimension() int { return b.inner.Dimension() }
