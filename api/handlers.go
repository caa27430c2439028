/*
handlers.go - HTTP API handlers for the KPI dashboard

PURPOSE:
  Exposes the kpi engine via REST API. Handles HTTP request/response, JSON
  serialization, and delegates to the engine.

ENDPOINTS:
  Catalog:
    GET    /api/topics                          List topics
    POST   /api/topics                          Create topic
    GET    /api/categories                      List categories
    POST   /api/categories                      Create category

  Indicators:
    GET    /api/indicators                      List (?category=&parent=&verified=)
    POST   /api/indicators                      Create, code generated when omitted
    GET    /api/indicators/{id}                 Get one
    POST   /api/indicators/verify               Approve indicators (manager)
    GET    /api/indicators/{id}/series/{g}      One granularity (?limit=&order=&verified=)
    GET    /api/indicators/{id}/overview        Every granularity at once
    POST   /api/indicators/{id}/rollup          Full weekly recompute

  Records (records.go):
    POST   /api/records                         Upsert one value
    PATCH  /api/records/{g}                     Bulk upsert {updates: [...]}
    GET    /api/records/{g}/{id}                Get one record
    GET    /api/records/{g}/{id}/comparison     1/5/10 year comparison (?years=)
    GET    /api/records/{g}/pending             Unverified records (?category=)
    POST   /api/records/{g}/verify              Approve records (manager)

  Periods:
    GET    /api/datapoints                      List fiscal years
    POST   /api/datapoints                      Get or create a fiscal year
    GET    /api/quarters, /api/months           Reference rows

  Calendar (records.go):
    GET    /api/calendar/ethiopian?date=YYYY-MM-DD
    GET    /api/calendar/gregorian?year=&month=&day=

ERROR HANDLING:
  Errors are returned as JSON {"error", "details"} with the status picked
  by statusFor (errors.go). 5xx responses carry no details; the error is
  logged with the request id instead.

SEE ALSO:
  - dto.go: Request/response data structures
  - errors.go: Status mapping
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ethstat/kpi-dashboard/ethiocal"
	"github.com/ethstat/kpi-dashboard/kpi"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *kpi.Engine
	Logger *zap.Logger
	// Scheduler is optional; without it /api/rollup/runs is empty.
	Scheduler *RollupScheduler

	validate *validator.Validate
}

// NewHandler creates a new handler around the engine.
func NewHandler(engine *kpi.Engine, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Engine:   engine,
		Logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (h *Handler) store() kpi.Store {
	return h.Engine.Store
}

func (h *Handler) calendar() ethiocal.Converter {
	if h.Engine.Calendar == nil {
		return ethiocal.Standard{}
	}
	return h.Engine.Calendar
}

// Health pings the database when the store supports it.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.store().(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(r.Context()); err != nil {
			h.requestLogger(r).Error("health check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "Database unavailable", nil)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

func (h *Handler) ListTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := h.store().ListTopics(r.Context())
	if err != nil {
		h.writeEngineError(w, r, "Failed to list topics", err)
		return
	}
	dtos := make([]TopicDTO, len(topics))
	for i, t := range topics {
		dtos[i] = toTopicDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateTopic(w http.ResponseWriter, r *http.Request) {
	var req CreateTopicRequest
	if !h.decode(w, r, &req) {
		return
	}
	t := kpi.Topic{
		ID:       kpi.TopicID(req.ID),
		TitleENG: req.TitleENG,
		TitleAMH: req.TitleAMH,
		Rank:     req.Rank,
	}
	if t.ID == "" {
		t.ID = kpi.TopicID(uuid.NewString())
	}
	if err := h.store().SaveTopic(r.Context(), t); err != nil {
		h.writeEngineError(w, r, "Failed to create topic", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTopicDTO(t))
}

func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.store().ListCategories(r.Context())
	if err != nil {
		h.writeEngineError(w, r, "Failed to list categories", err)
		return
	}
	dtos := make([]CategoryDTO, len(cats))
	for i, c := range cats {
		dtos[i] = toCategoryDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req CreateCategoryRequest
	if !h.decode(w, r, &req) {
		return
	}
	c := kpi.Category{
		ID:      kpi.CategoryID(req.ID),
		Code:    req.Code,
		NameENG: req.NameENG,
		NameAMH: req.NameAMH,
	}
	if c.ID == "" {
		c.ID = kpi.CategoryID(uuid.NewString())
	}
	if req.TopicID != nil {
		t := kpi.TopicID(*req.TopicID)
		c.TopicID = &t
	}
	if err := h.store().SaveCategory(r.Context(), c); err != nil {
		h.writeEngineError(w, r, "Failed to create category", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCategoryDTO(c))
}

// =============================================================================
// INDICATOR HANDLERS
// =============================================================================

func (h *Handler) ListIndicators(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter kpi.IndicatorFilter
	if c := q.Get("category"); c != "" {
		id := kpi.CategoryID(c)
		filter.CategoryID = &id
	}
	if p := q.Get("parent"); p != "" {
		id := kpi.IndicatorID(p)
		filter.ParentID = &id
	}
	if v := q.Get("verified"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid verified flag", err)
			return
		}
		filter.Verified = &b
	}

	inds, err := h.store().ListIndicators(r.Context(), filter)
	if err != nil {
		h.writeEngineError(w, r, "Failed to list indicators", err)
		return
	}
	dtos := make([]IndicatorDTO, len(inds))
	for i, ind := range inds {
		dtos[i] = toIndicatorDTO(ind)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetIndicator(w http.ResponseWriter, r *http.Request) {
	ind, err := h.store().GetIndicator(r.Context(), kpi.IndicatorID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, r, "Failed to get indicator", err)
		return
	}
	writeJSON(w, http.StatusOK, toIndicatorDTO(*ind))
}

func (h *Handler) CreateIndicator(w http.ResponseWriter, r *http.Request) {
	var req CreateIndicatorRequest
	if !h.decode(w, r, &req) {
		return
	}
	ind := kpi.Indicator{
		ID:              kpi.IndicatorID(req.ID),
		Code:            req.Code,
		TitleENG:        req.TitleENG,
		TitleAMH:        req.TitleAMH,
		Frequency:       kpi.Frequency(req.Frequency),
		Characteristic:  kpi.Characteristic(req.KPICharacteristic),
		MeasurementUnit: req.MeasurementUnit,
		IsVerified:      isManager(r),
	}
	if req.ParentID != nil {
		p := kpi.IndicatorID(*req.ParentID)
		ind.ParentID = &p
	}
	for _, c := range req.CategoryIDs {
		ind.CategoryIDs = append(ind.CategoryIDs, kpi.CategoryID(c))
	}

	created, err := h.Engine.CreateIndicator(r.Context(), ind)
	if err != nil {
		h.writeEngineError(w, r, "Failed to create indicator", err)
		return
	}
	writeJSON(w, http.StatusCreated, toIndicatorDTO(created))
}

func (h *Handler) VerifyIndicators(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if !h.decode(w, r, &req) {
		return
	}
	ids := make([]kpi.IndicatorID, len(req.IDs))
	for i, id := range req.IDs {
		ids[i] = kpi.IndicatorID(id)
	}
	n, err := h.Engine.VerifyIndicators(r.Context(), ids)
	if err != nil {
		h.writeEngineError(w, r, "Failed to verify indicators", err)
		return
	}
	writeJSON(w, http.StatusOK, VerifyResponse{Verified: n})
}

// GetSeries returns one granularity of an indicator.
func (h *Handler) GetSeries(w http.ResponseWriter, r *http.Request) {
	g, err := granularityParam(r)
	if err != nil {
		h.writeEngineError(w, r, "Invalid granularity", err)
		return
	}
	q := r.URL.Query()
	var opts kpi.SeriesOptions
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		opts.Limit = n
	}
	switch q.Get("order") {
	case "", "asc":
	case "desc":
		opts.Descending = true
	default:
		writeError(w, http.StatusBadRequest, "Invalid order (use asc or desc)", nil)
		return
	}
	opts.VerifiedOnly = q.Get("verified") == "true"

	points, err := h.Engine.Series(r.Context(), kpi.IndicatorID(chi.URLParam(r, "id")), g, opts)
	if err != nil {
		h.writeEngineError(w, r, "Failed to read series", err)
		return
	}
	writeJSON(w, http.StatusOK, toPointDTOs(points))
}

func (h *Handler) GetOverview(w http.ResponseWriter, r *http.Request) {
	ov, err := h.Engine.Overview(r.Context(), kpi.IndicatorID(chi.URLParam(r, "id")), r.URL.Query().Get("verified") == "true")
	if err != nil {
		h.writeEngineError(w, r, "Failed to build overview", err)
		return
	}
	dto := OverviewDTO{
		Indicator: toIndicatorDTO(ov.Indicator),
		Annual:    toPointDTOs(ov.Annual),
		Quarterly: toPointDTOs(ov.Quarterly),
		Monthly:   toPointDTOs(ov.Monthly),
		Weekly:    toPointDTOs(ov.Weekly),
		Daily:     toPointDTOs(ov.Daily),
	}
	if ov.LatestAnnual != nil {
		latest := toPointDTO(*ov.LatestAnnual)
		dto.LatestAnnual = &latest
	}
	writeJSON(w, http.StatusOK, dto)
}

// RecomputeRollup rebuilds every weekly record of one indicator.
func (h *Handler) RecomputeRollup(w http.ResponseWriter, r *http.Request) {
	result, err := h.Engine.RecomputeWeeklyRollup(r.Context(), kpi.IndicatorID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, r, "Failed to recompute weekly rollup", err)
		return
	}
	writeJSON(w, http.StatusOK, RollupResponse{
		IndicatorID:    string(result.IndicatorID),
		WeeksRolled:    len(result.Rolled),
		BelowThreshold: result.BelowThreshold,
	})
}

func (h *Handler) ListRollupRuns(w http.ResponseWriter, r *http.Request) {
	dtos := []RollupRunDTO{}
	if h.Scheduler != nil {
		for _, run := range h.Scheduler.Runs() {
			dtos = append(dtos, RollupRunDTO{
				StartedAt:   formatTime(run.StartedAt),
				FinishedAt:  formatTime(run.FinishedAt),
				Indicators:  run.Indicators,
				WeeksRolled: run.WeeksRolled,
				Failures:    run.Failures,
			})
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// PERIOD HANDLERS
// =============================================================================

func (h *Handler) ListDataPoints(w http.ResponseWriter, r *http.Request) {
	dps, err := h.store().ListDataPoints(r.Context())
	if err != nil {
		h.writeEngineError(w, r, "Failed to list data points", err)
		return
	}
	dtos := make([]DataPointDTO, len(dps))
	for i, dp := range dps {
		dtos[i] = DataPointDTO{ID: dp.ID, YearEC: dp.YearEC, YearGC: dp.YearGC}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateDataPoint(w http.ResponseWriter, r *http.Request) {
	var req CreateDataPointRequest
	if !h.decode(w, r, &req) {
		return
	}
	dp, created, err := h.store().GetOrCreateDataPoint(r.Context(), req.YearEC)
	if err != nil {
		h.writeEngineError(w, r, "Failed to create data point", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, DataPointDTO{ID: dp.ID, YearEC: dp.YearEC, YearGC: dp.YearGC})
}

func (h *Handler) ListQuarters(w http.ResponseWriter, r *http.Request) {
	qs, err := h.store().ListQuarters(r.Context())
	if err != nil {
		h.writeEngineError(w, r, "Failed to list quarters", err)
		return
	}
	dtos := make([]QuarterDTO, len(qs))
	for i, q := range qs {
		dtos[i] = QuarterDTO{ID: q.ID, Number: q.Number, TitleENG: q.TitleENG, TitleAMH: q.TitleAMH}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) ListMonths(w http.ResponseWriter, r *http.Request) {
	ms, err := h.store().ListMonths(r.Context())
	if err != nil {
		h.writeEngineError(w, r, "Failed to list months", err)
		return
	}
	dtos := make([]MonthDTO, len(ms))
	for i, m := range ms {
		dtos[i] = MonthDTO{ID: m.ID, Number: m.Number, NameENG: m.NameENG, NameAMH: m.NameAMH, IsFiscal: m.IsFiscal}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads a JSON body into dst and validates it. On failure it has
// already written the 400 response.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func granularityParam(r *http.Request) (kpi.Granularity, error) {
	g, err := kpi.ParseGranularity(chi.URLParam(r, "granularity"))
	if err != nil {
		return "", fmt.Errorf("granularity: %w", err)
	}
	return g, nil
}
