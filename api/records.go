package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ethstat/kpi-dashboard/ethiocal"
	"github.com/ethstat/kpi-dashboard/kpi"
)

// =============================================================================
// UPSERT HANDLERS
// =============================================================================

// UpsertRecord writes one value. A daily write whose rollup failed is still
// reported as saved, with the failure in "warning".
func (h *Handler) UpsertRecord(w http.ResponseWriter, r *http.Request) {
	var req RecordUpsertRequest
	if !h.decode(w, r, &req) {
		return
	}
	g, err := kpi.ParseGranularity(req.Granularity)
	if err != nil {
		h.writeEngineError(w, r, "Invalid granularity", err)
		return
	}
	sub, err := toSubmission(req, g, isManager(r))
	if err != nil {
		h.writeEngineError(w, r, "Invalid record", err)
		return
	}

	rec, created, err := h.Engine.ResolveAndUpsert(r.Context(), sub)
	if err != nil && rec.ID == "" {
		h.writeEngineError(w, r, "Failed to save record", err)
		return
	}

	resp := UpsertResponse{Record: h.recordDTO(rec), Created: created}
	if err != nil {
		h.requestLogger(r).Warn("record saved with rollup failure",
			zap.String("record_id", string(rec.ID)), zap.Error(err))
		resp.Warning = err.Error()
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}

// BulkUpsertRecords writes a list of values of the granularity in the path.
// Blank values are skipped; failures are listed next to the saved rows.
// The response is 400 only when nothing was saved and something failed.
func (h *Handler) BulkUpsertRecords(w http.ResponseWriter, r *http.Request) {
	g, err := granularityParam(r)
	if err != nil {
		h.writeEngineError(w, r, "Invalid granularity", err)
		return
	}
	var req BulkUpsertRequest
	if !h.decode(w, r, &req) {
		return
	}

	manager := isManager(r)
	resp := BulkUpsertResponse{Results: []RecordDTO{}, VerificationStatus: "pending"}
	if manager {
		resp.VerificationStatus = "verified"
	}

	// indexOf maps positions in subs back to positions in req.Updates.
	subs := make([]kpi.Submission, 0, len(req.Updates))
	indexOf := make([]int, 0, len(req.Updates))
	for i, item := range req.Updates {
		if err := h.validate.Struct(item); err != nil {
			resp.Errors = append(resp.Errors, BatchErrorDTO{Index: i, IndicatorID: item.IndicatorID, Error: err.Error()})
			continue
		}
		sub, err := toSubmission(item, g, manager)
		if err != nil {
			resp.Errors = append(resp.Errors, BatchErrorDTO{Index: i, IndicatorID: item.IndicatorID, Error: err.Error()})
			continue
		}
		subs = append(subs, sub)
		indexOf = append(indexOf, i)
	}

	result := h.Engine.UpsertBatch(r.Context(), subs)
	for _, item := range result.Results {
		dto := h.recordDTO(item.Record)
		created := item.Created
		dto.Created = &created
		resp.Results = append(resp.Results, dto)
	}
	for _, e := range result.Errors {
		resp.Errors = append(resp.Errors, BatchErrorDTO{
			Index:       indexOf[e.Index],
			IndicatorID: string(e.IndicatorID),
			Error:       e.Err.Error(),
		})
	}
	sort.SliceStable(resp.Errors, func(i, j int) bool { return resp.Errors[i].Index < resp.Errors[j].Index })
	resp.Saved = result.Saved()
	resp.Skipped = result.Skipped

	status := http.StatusOK
	if resp.Saved == 0 && len(resp.Errors) > 0 {
		status = http.StatusBadRequest
	}
	h.requestLogger(r).Info("bulk upsert",
		zap.String("granularity", string(g)),
		zap.Int("saved", resp.Saved),
		zap.Int("skipped", resp.Skipped),
		zap.Int("errors", len(resp.Errors)))
	writeJSON(w, status, resp)
}

// toSubmission turns a request item into an engine submission. Managers
// write verified values unless the item opts out; everyone else writes
// unverified values.
func toSubmission(req RecordUpsertRequest, g kpi.Granularity, manager bool) (kpi.Submission, error) {
	p := kpi.Period{YearEC: req.Year, Quarter: req.Quarter, Month: req.Month}
	if req.Date != "" {
		d, err := time.Parse(kpi.DateLayout, req.Date)
		if err != nil {
			return kpi.Submission{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", kpi.ErrInvalidPeriod, req.Date)
		}
		p.Date = d
	}

	perf := req.Performance
	if perf == nil {
		perf = req.Value
	}
	verified := manager && (req.IsVerified == nil || *req.IsVerified)

	sub := kpi.Submission{
		IndicatorID: kpi.IndicatorID(req.IndicatorID),
		Granularity: g,
		Period:      p,
		Performance: perf,
		IsVerified:  &verified,
	}
	if len(req.Target) > 0 {
		var target any
		dec := json.NewDecoder(bytes.NewReader(req.Target))
		dec.UseNumber()
		if err := dec.Decode(&target); err != nil {
			return kpi.Submission{}, &kpi.InvalidValueError{Input: string(req.Target), Reason: "target is not a value"}
		}
		if target == nil {
			target = "" // explicit null clears the target
		}
		sub.Target = target
	}
	return sub, nil
}

// =============================================================================
// READ HANDLERS
// =============================================================================

func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	g, err := granularityParam(r)
	if err != nil {
		h.writeEngineError(w, r, "Invalid granularity", err)
		return
	}
	rec, err := h.store().GetRecord(r.Context(), g, kpi.RecordID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, r, "Failed to get record", err)
		return
	}
	writeJSON(w, http.StatusOK, h.recordDTO(*rec))
}

// GetComparison compares a record with the same period 1, 5 and 10 years
// earlier, or only ?years=N back. Unavailable comparisons are nulls.
func (h *Handler) GetComparison(w http.ResponseWriter, r *http.Request) {
	g, err := granularityParam(r)
	if err != nil {
		h.writeEngineError(w, r, "Invalid granularity", err)
		return
	}
	rec, err := h.store().GetRecord(r.Context(), g, kpi.RecordID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, r, "Failed to get record", err)
		return
	}

	resp := ComparisonResponse{Record: h.recordDTO(*rec)}
	if y := r.URL.Query().Get("years"); y != "" {
		years, err := strconv.Atoi(y)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid years", err)
			return
		}
		cmp, err := h.Engine.Compare(r.Context(), *rec, years)
		if err != nil {
			h.writeEngineError(w, r, "Failed to compare", err)
			return
		}
		resp.Comparisons = []ComparisonDTO{toComparisonDTO(years, cmp)}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	all, err := h.Engine.CompareAll(r.Context(), *rec)
	if err != nil {
		h.writeEngineError(w, r, "Failed to compare", err)
		return
	}
	for _, years := range kpi.DefaultLookbacks {
		resp.Comparisons = append(resp.Comparisons, toComparisonDTO(years, all[years]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// VERIFICATION HANDLERS
// =============================================================================

func (h *Handler) ListPendingRecords(w http.ResponseWriter, r *http.Request) {
	g, err := granularityParam(r)
	if err != nil {
		h.writeEngineError(w, r, "Invalid granularity", err)
		return
	}
	var category *kpi.CategoryID
	if c := r.URL.Query().Get("category"); c != "" {
		id := kpi.CategoryID(c)
		category = &id
	}
	recs, err := h.Engine.PendingRecords(r.Context(), g, category)
	if err != nil {
		h.writeEngineError(w, r, "Failed to list pending records", err)
		return
	}
	dtos := make([]RecordDTO, len(recs))
	for i, rec := range recs {
		dtos[i] = h.recordDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) VerifyRecords(w http.ResponseWriter, r *http.Request) {
	g, err := granularityParam(r)
	if err != nil {
		h.writeEngineError(w, r, "Invalid granularity", err)
		return
	}
	var req VerifyRequest
	if !h.decode(w, r, &req) {
		return
	}
	ids := make([]kpi.RecordID, len(req.IDs))
	for i, id := range req.IDs {
		ids[i] = kpi.RecordID(id)
	}
	n, err := h.Engine.VerifyRecords(r.Context(), g, ids)
	if err != nil {
		h.writeEngineError(w, r, "Failed to verify records", err)
		return
	}
	writeJSON(w, http.StatusOK, VerifyResponse{Verified: n})
}

// recordDTO labels a record. A record whose date cannot be converted is
// still returned, without its Ethiopian labels.
func (h *Handler) recordDTO(rec kpi.Record) RecordDTO {
	p, err := h.Engine.Point(rec)
	if err != nil {
		h.Logger.Warn("record label unavailable", zap.String("record_id", string(rec.ID)), zap.Error(err))
		return toPointDTO(kpi.SeriesPoint{Record: rec})
	}
	return toPointDTO(p)
}

// =============================================================================
// CALENDAR HANDLERS
// =============================================================================

// ToEthiopian converts ?date=YYYY-MM-DD (default today) to the Ethiopian
// calendar and reports its week of the month.
func (h *Handler) ToEthiopian(w http.ResponseWriter, r *http.Request) {
	t := kpi.DayOf(time.Now())
	if s := r.URL.Query().Get("date"); s != "" {
		parsed, err := time.Parse(kpi.DateLayout, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
			return
		}
		t = parsed
	}
	d, err := h.calendar().ToEthiopian(t.Day(), int(t.Month()), t.Year())
	if err != nil {
		h.writeEngineError(w, r, "Date cannot be converted",
			&kpi.CalendarConversionError{Date: t.Format(kpi.DateLayout), Err: err})
		return
	}
	writeJSON(w, http.StatusOK, toEthiopianDateDTO(t, d))
}

// ToGregorian converts ?year=&month=&day= from the Ethiopian calendar.
func (h *Handler) ToGregorian(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var d ethiocal.EthDate
	var errs []error
	for _, f := range []struct {
		name string
		dst  *int
	}{{"year", &d.Year}, {"month", &d.Month}, {"day", &d.Day}} {
		n, err := strconv.Atoi(q.Get(f.name))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.name, err))
			continue
		}
		*f.dst = n
	}
	if err := errors.Join(errs...); err != nil {
		writeError(w, http.StatusBadRequest, "year, month and day are required integers", err)
		return
	}

	t, err := h.calendar().ToGregorian(d)
	if err != nil {
		h.writeEngineError(w, r, "Date cannot be converted",
			&kpi.CalendarConversionError{Date: d.String(), Err: err})
		return
	}
	writeJSON(w, http.StatusOK, toEthiopianDateDTO(t, d))
}
