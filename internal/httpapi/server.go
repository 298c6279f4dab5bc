package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"promptd/internal/stats"
	"promptd/pkg/types"
)

// DirectService is the direct-mode surface required by the HTTP layer.
type DirectService interface {
	Submit(ctx context.Context, req types.AskRequest) types.AskResponse
	SubmitBatch(ctx context.Context, batch types.BatchRequest) types.BatchResponse
	Stats() types.DispatcherStats
	Capacity() types.CapacityReport
}

// QueueService is the queued-mode surface required by the HTTP layer.
type QueueService interface {
	Enqueue(ctx context.Context, req types.AskRequest) types.EnqueueResponse
	Status(id string) (types.RequestStatus, bool)
	Stats() types.QueueStats
}

// NewMux builds the router. reporter may be nil when no queryable stats
// store is configured; the affected endpoints then return 503.
func NewMux(direct DirectService, queue QueueService, reporter stats.Reporter) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware)
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}

	r.Post("/ai/ask", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeAsk(w, r)
		if !ok {
			return
		}
		start := time.Now()
		lvl := requestLogLevel(r)
		joinedCtx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()

		resp := direct.Submit(joinedCtx, req)
		if resp.Source == types.SourceFallback {
			IncrementBackpressure(fallbackReason(resp))
		}
		if lvl >= LevelInfo && zlog != nil {
			z := zlog.Info().
				Str("path", r.URL.Path).
				Str("priority", req.Priority).
				Str("source", resp.Source).
				Bool("success", resp.Success).
				Dur("dur", time.Since(start))
			if rid := middleware.GetReqID(r.Context()); rid != "" {
				z = z.Str("request_id", rid)
			}
			z.Msg("ask handled")
		}
		writeJSON(w, http.StatusOK, resp)
	})

	r.Post("/ai/batch", func(w http.ResponseWriter, r *http.Request) {
		if !requireJSON(w, r) {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var batch types.BatchRequest
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if len(batch.Requests) == 0 {
			writeJSONError(w, http.StatusBadRequest, "no requests provided")
			return
		}
		if len(batch.Requests) > types.MaxBatchSize {
			writeJSONError(w, http.StatusBadRequest, "maximum 50 requests per batch")
			return
		}
		joinedCtx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		writeJSON(w, http.StatusOK, direct.SubmitBatch(joinedCtx, batch))
	})

	r.Get("/ai/stats", func(w http.ResponseWriter, r *http.Request) {
		out := map[string]any{"dispatcher": direct.Stats()}
		if reporter != nil {
			agg, err := reporter.Aggregates(r.Context())
			if err != nil {
				out["storage_error"] = err.Error()
			} else {
				out["storage"] = agg
			}
		}
		writeJSON(w, http.StatusOK, out)
	})

	r.Get("/ai/capacity", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, direct.Capacity())
	})

	r.Get("/ai/health", func(w http.ResponseWriter, r *http.Request) {
		joinedCtx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		probe := types.AskRequest{
			Prompt:   "Say 'Health check OK' if you're working",
			Priority: string(types.PriorityHigh),
			UserID:   "health_check",
		}
		resp := direct.Submit(joinedCtx, probe)
		status := "healthy"
		code := http.StatusOK
		if !resp.Success {
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{
			"status":        status,
			"source":        resp.Source,
			"response_time": resp.ResponseTime,
			"detail":        resp.Result,
		})
	})

	r.Get("/ai/recent", func(w http.ResponseWriter, r *http.Request) {
		if reporter == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "stats store unavailable")
			return
		}
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				limit = n
			}
		}
		events, err := reporter.Recent(r.Context(), limit)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to read recent requests")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"recent_requests": events,
			"count":           len(events),
		})
	})

	r.Get("/ai/analytics", func(w http.ResponseWriter, r *http.Request) {
		if reporter == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "stats store unavailable")
			return
		}
		days := 7
		if v := r.URL.Query().Get("days"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				days = n
			}
		}
		usage, err := reporter.Analytics(r.Context(), days)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to read analytics")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"days":        days,
			"daily_usage": usage,
		})
	})

	r.Delete("/ai/cleanup-logs", func(w http.ResponseWriter, r *http.Request) {
		m, ok := reporter.(stats.Maintainer)
		if !ok {
			writeJSONError(w, http.StatusServiceUnavailable, "stats store unavailable")
			return
		}
		deleted, err := m.Cleanup(r.Context())
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to clean up request log")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"message":         "Log cleanup completed",
			"deleted_records": deleted,
		})
	})

	r.Post("/queue/requests", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeAsk(w, r)
		if !ok {
			return
		}
		joinedCtx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		resp := queue.Enqueue(joinedCtx, req)
		if resp.Status == "failed" {
			IncrementBackpressure("queue_full")
		}
		writeJSON(w, http.StatusOK, resp)
	})

	r.Get("/queue/requests/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		status, ok := queue.Status(id)
		if !ok {
			writeJSONError(w, http.StatusNotFound, "request not found (it may have expired)")
			return
		}
		writeJSON(w, http.StatusOK, status)
	})

	r.Get("/queue/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, queue.Stats())
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

// decodeAsk reads and validates a single AskRequest body. On failure it
// writes the error response and returns ok=false.
func decodeAsk(w http.ResponseWriter, r *http.Request) (types.AskRequest, bool) {
	var req types.AskRequest
	if !requireJSON(w, r) {
		return req, false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return req, false
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeJSONError(w, http.StatusBadRequest, "prompt is required")
		return req, false
	}
	if len(req.Prompt) > types.MaxPromptLen {
		writeJSONError(w, http.StatusBadRequest, "prompt too long (max 4000 characters)")
		return req, false
	}
	return req, true
}

// requireJSON enforces an application/json content type.
func requireJSON(w http.ResponseWriter, r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	return true
}

// fallbackReason extracts the structured reason from a fallback response.
func fallbackReason(resp types.AskResponse) string {
	if v, ok := resp.Metadata["fallback_reason"].(string); ok {
		return v
	}
	return "unspecified"
}
