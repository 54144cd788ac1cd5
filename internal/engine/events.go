package engine

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const eventBuffer = 256

// EventType labels engine lifecycle events.
type EventType string

const (
	EventEvaluated     EventType = "evaluated"
	EventAdmitted      EventType = "admitted"
	EventRejected      EventType = "rejected"
	EventSweepStarted  EventType = "sweep_started"
	EventSweepFinished EventType = "sweep_finished"
)

// Event is one engine lifecycle notification.
type Event struct {
	Type    EventType  `json:"type"`
	UserID  string     `json:"user_id,omitempty"`
	EntryID *uuid.UUID `json:"entry_id,omitempty"`
	Score   float64    `json:"score,omitempty"`
	At      time.Time  `json:"at"`
}

// Events exposes the engine's outbound event stream. The channel is
// buffered; when no consumer keeps up, events are dropped and counted
// rather than blocking request paths.
func (e *Engine) Events() <-chan Event {
	return e.events
}

func (e *Engine) emit(ev Event) {
	ev.At = time.Now().UTC()
	select {
	case e.events <- ev:
	default:
		e.metrics.EventsDropped.Add(1)
	}
}

// Metrics holds the engine's lightweight operational counters.
type Metrics struct {
	Evaluations   atomic.Int64
	Admissions    atomic.Int64
	Rejections    atomic.Int64
	SearchQueries atomic.Int64
	SweepRuns     atomic.Int64
	EventsDropped atomic.Int64
}

// MetricsSnapshot returns the current counter values.
func (e *Engine) MetricsSnapshot() map[string]int64 {
	hits, misses := e.cache.Stats()
	return map[string]int64{
		"evaluations":    e.metrics.Evaluations.Load(),
		"admissions":     e.metrics.Admissions.Load(),
		"rejections":     e.metrics.Rejections.Load(),
		"search_queries": e.metrics.SearchQueries.Load(),
		"sweep_runs":     e.metrics.SweepRuns.Load(),
		"events_dropped": e.metrics.EventsDropped.Load(),
		"cache_hits":     hits,
		"cache_misses":   misses,
	}
}
