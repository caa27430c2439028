/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. Logging:    One zap line per request with status and duration
  4. CORS:       Cross-origin requests for the dashboard and mobile app
  5. Role:       X-User-Role header -> manager flag in the context

ROUTE GROUPS:
  /api/topics, /api/categories        Catalog
  /api/indicators/*                   Indicators, series, overview, rollup
  /api/records/*                      Upserts, comparison, verification
  /api/datapoints, /quarters, /months Period containers
  /api/calendar/*                     Ethiopian <-> Gregorian helpers
  /api/rollup/runs                    Scheduler history
  /healthz                            Liveness + database ping

SECURITY NOTE:
  Authentication happens upstream. The role header is trusted as given;
  it only decides whether writes land verified and who may verify.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// RoleHeader names the caller's role. "manager" and "admin" may verify.
const RoleHeader = "X-User-Role"

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", RoleHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: true,
	}))
	r.Use(withRole)

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/topics", func(r chi.Router) {
			r.Get("/", h.ListTopics)
			r.Post("/", h.CreateTopic)
		})

		r.Route("/categories", func(r chi.Router) {
			r.Get("/", h.ListCategories)
			r.Post("/", h.CreateCategory)
		})

		r.Route("/indicators", func(r chi.Router) {
			r.Get("/", h.ListIndicators)
			r.Post("/", h.CreateIndicator)
			r.With(requireManager).Post("/verify", h.VerifyIndicators)
			r.Get("/{id}", h.GetIndicator)
			r.Get("/{id}/series/{granularity}", h.GetSeries)
			r.Get("/{id}/overview", h.GetOverview)
			r.Post("/{id}/rollup", h.RecomputeRollup)
		})

		r.Route("/records", func(r chi.Router) {
			r.Post("/", h.UpsertRecord)
			r.Patch("/{granularity}", h.BulkUpsertRecords)
			r.Get("/{granularity}/pending", h.ListPendingRecords)
			r.With(requireManager).Post("/{granularity}/verify", h.VerifyRecords)
			r.Get("/{granularity}/{id}", h.GetRecord)
			r.Get("/{granularity}/{id}/comparison", h.GetComparison)
		})

		r.Route("/datapoints", func(r chi.Router) {
			r.Get("/", h.ListDataPoints)
			r.Post("/", h.CreateDataPoint)
		})
		r.Get("/quarters", h.ListQuarters)
		r.Get("/months", h.ListMonths)

		r.Route("/calendar", func(r chi.Router) {
			r.Get("/ethiopian", h.ToEthiopian)
			r.Get("/gregorian", h.ToGregorian)
		})

		r.Get("/rollup/runs", h.ListRollupRuns)
	})

	return r
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			h.requestLogger(r).Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)))
		}()
		next.ServeHTTP(ww, r)
	})
}

func (h *Handler) requestLogger(r *http.Request) *zap.Logger {
	if id := middleware.GetReqID(r.Context()); id != "" {
		return h.Logger.With(zap.String("request_id", id))
	}
	return h.Logger
}

type ctxKey int

const managerKey ctxKey = iota

func withRole(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role := strings.ToLower(strings.TrimSpace(r.Header.Get(RoleHeader)))
		manager := role == "manager" || role == "admin"
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), managerKey, manager)))
	})
}

// isManager reports whether the caller may verify data.
func isManager(r *http.Request) bool {
	v, _ := r.Context().Value(managerKey).(bool)
	return v
}

func requireManager(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isManager(r) {
			writeError(w, http.StatusForbidden, "Only category managers can verify data", errForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
