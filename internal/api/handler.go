package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/DmitrySonora/chimera-ltm/internal/engine"
	"github.com/DmitrySonora/chimera-ltm/internal/search"
)

// MemoryEngine is the engine surface the HTTP layer needs.
type MemoryEngine interface {
	EvaluateForMemory(ctx context.Context, req engine.EvaluateRequest) *engine.EvaluateResult
	SearchMemory(ctx context.Context, userID string, mode search.Mode, p search.Params, limit, offset int) *engine.SearchResult
	RunCleanup(ctx context.Context, dryRun bool) *engine.CleanupResult
	Summaries(ctx context.Context, userID string, from, to time.Time, limit int) *engine.SummariesResult
	MetricsSnapshot() map[string]int64
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	engine MemoryEngine
	logger *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(engine MemoryEngine, logger *zap.Logger) *Handler {
	return &Handler{engine: engine, logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Route("/memory", func(r chi.Router) {
			r.Post("/evaluate", h.evaluate)
			r.Post("/search", h.search)
			r.Post("/cleanup", h.cleanup)
			r.Get("/summaries", h.summaries)
		})
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"metrics": h.engine.MetricsSnapshot(),
	})
}

func (h *Handler) evaluate(w http.ResponseWriter, r *http.Request) {
	var req engine.EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	result := h.engine.EvaluateForMemory(r.Context(), req)
	if result.ErrKind == engine.ErrKindInvalidInput {
		writeJSON(w, http.StatusBadRequest, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type searchRequest struct {
	UserID string        `json:"user_id"`
	Mode   search.Mode   `json:"mode"`
	Params search.Params `json:"params"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	result := h.engine.SearchMemory(r.Context(), req.UserID, req.Mode, req.Params, req.Limit, req.Offset)
	if result.ErrKind == engine.ErrKindInvalidInput {
		writeJSON(w, http.StatusBadRequest, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type cleanupRequest struct {
	DryRun bool `json:"dry_run"`
}

func (h *Handler) cleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}

	result := h.engine.RunCleanup(r.Context(), req.DryRun)
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) summaries(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id is required"})
		return
	}

	var from, to time.Time
	if v := r.URL.Query().Get("from"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid from timestamp"})
			return
		}
		from = ts
	}
	if v := r.URL.Query().Get("to"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid to timestamp"})
			return
		}
		to = ts
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}

	result := h.engine.Summaries(r.Context(), userID, from, to, limit)
	if result.ErrKind == engine.ErrKindInvalidInput {
		writeJSON(w, http.StatusBadRequest, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
