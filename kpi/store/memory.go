// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ethstat/kpi-dashboard/kpi"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps everything in maps behind one mutex. It implements
// kpi.TxStore; transactions are simulated with a snapshot and a rollback.
type Memory struct {
	*view
	mu   sync.Mutex
	data *data
}

type data struct {
	indicators      map[kpi.IndicatorID]kpi.Indicator
	categories      map[kpi.CategoryID]kpi.Category
	topics          map[kpi.TopicID]kpi.Topic
	dataPoints      map[int]kpi.DataPoint
	nextDataPointID int64
	quarters        map[int]kpi.Quarter
	months          map[int]kpi.Month
	records         map[string]kpi.Record
	recordKeys      map[kpi.RecordID]string
}

func newData() *data {
	return &data{
		indicators: make(map[kpi.IndicatorID]kpi.Indicator),
		categories: make(map[kpi.CategoryID]kpi.Category),
		topics:     make(map[kpi.TopicID]kpi.Topic),
		dataPoints: make(map[int]kpi.DataPoint),
		quarters:   make(map[int]kpi.Quarter),
		months:     make(map[int]kpi.Month),
		records:    make(map[string]kpi.Record),
		recordKeys: make(map[kpi.RecordID]string),
	}
}

func NewMemory() *Memory {
	m := &Memory{data: newData()}
	m.view = &view{
		d: m.data,
		lock: func() func() {
			m.mu.Lock()
			return m.mu.Unlock
		},
	}
	return m
}

var _ kpi.TxStore = (*Memory)(nil)

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(kpi.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.data.clone()
	tx := &view{d: m.data, lock: func() func() { return func() {} }}
	if err := fn(tx); err != nil {
		*m.data = *snapshot
		return err
	}
	return nil
}

func (d *data) clone() *data {
	c := newData()
	for k, v := range d.indicators {
		v.CategoryIDs = append([]kpi.CategoryID(nil), v.CategoryIDs...)
		c.indicators[k] = v
	}
	for k, v := range d.categories {
		c.categories[k] = v
	}
	for k, v := range d.topics {
		c.topics[k] = v
	}
	for k, v := range d.dataPoints {
		c.dataPoints[k] = v
	}
	for k, v := range d.quarters {
		c.quarters[k] = v
	}
	for k, v := range d.months {
		c.months[k] = v
	}
	for k, v := range d.records {
		c.records[k] = v
	}
	for k, v := range d.recordKeys {
		c.recordKeys[k] = v
	}
	c.nextDataPointID = d.nextDataPointID
	return c
}

// view implements kpi.Store over data. lock returns the matching unlock;
// inside WithTx the mutex is already held and lock is a no-op.
type view struct {
	d    *data
	lock func() func()
}

// =============================================================================
// INDICATORS
// =============================================================================

func (v *view) GetIndicator(_ context.Context, id kpi.IndicatorID) (*kpi.Indicator, error) {
	defer v.lock()()
	ind, ok := v.d.indicators[id]
	if !ok {
		return nil, kpi.ErrIndicatorNotFound
	}
	ind.CategoryIDs = append([]kpi.CategoryID(nil), ind.CategoryIDs...)
	return &ind, nil
}

func (v *view) SaveIndicator(_ context.Context, ind kpi.Indicator) error {
	defer v.lock()()
	if ind.Code != "" {
		for id, other := range v.d.indicators {
			if id != ind.ID && other.Code == ind.Code {
				return kpi.ErrDuplicateCode
			}
		}
	}
	if existing, ok := v.d.indicators[ind.ID]; ok && !existing.CreatedAt.IsZero() {
		ind.CreatedAt = existing.CreatedAt
	}
	ind.CategoryIDs = append([]kpi.CategoryID(nil), ind.CategoryIDs...)
	v.d.indicators[ind.ID] = ind
	return nil
}

func (v *view) ListIndicators(_ context.Context, filter kpi.IndicatorFilter) ([]kpi.Indicator, error) {
	defer v.lock()()
	result := []kpi.Indicator{}
	for _, ind := range v.d.indicators {
		if filter.Verified != nil && ind.IsVerified != *filter.Verified {
			continue
		}
		if filter.ParentID != nil && (ind.ParentID == nil || *ind.ParentID != *filter.ParentID) {
			continue
		}
		if filter.CategoryID != nil && !hasCategory(ind, *filter.CategoryID) {
			continue
		}
		ind.CategoryIDs = append([]kpi.CategoryID(nil), ind.CategoryIDs...)
		result = append(result, ind)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Code != result[j].Code {
			return result[i].Code < result[j].Code
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func hasCategory(ind kpi.Indicator, id kpi.CategoryID) bool {
	for _, c := range ind.CategoryIDs {
		if c == id {
			return true
		}
	}
	return false
}

func (v *view) IndicatorCodes(_ context.Context, parentID *kpi.IndicatorID) ([]string, error) {
	defer v.lock()()
	var codes []string
	for _, ind := range v.d.indicators {
		if ind.Code == "" {
			continue
		}
		switch {
		case parentID == nil && ind.ParentID == nil:
		case parentID != nil && ind.ParentID != nil && *ind.ParentID == *parentID:
		default:
			continue
		}
		codes = append(codes, ind.Code)
	}
	sort.Strings(codes)
	return codes, nil
}

func (v *view) SetIndicatorsVerified(_ context.Context, ids []kpi.IndicatorID, verified bool) (int, error) {
	defer v.lock()()
	n := 0
	for _, id := range ids {
		ind, ok := v.d.indicators[id]
		if !ok {
			continue
		}
		ind.IsVerified = verified
		ind.UpdatedAt = time.Now().UTC()
		v.d.indicators[id] = ind
		n++
	}
	return n, nil
}

func (v *view) GetCategory(_ context.Context, id kpi.CategoryID) (*kpi.Category, error) {
	defer v.lock()()
	c, ok := v.d.categories[id]
	if !ok {
		return nil, kpi.ErrCategoryNotFound
	}
	return &c, nil
}

func (v *view) SaveCategory(_ context.Context, c kpi.Category) error {
	defer v.lock()()
	for id, other := range v.d.categories {
		if id != c.ID && other.Code == c.Code {
			return kpi.ErrDuplicateCode
		}
	}
	v.d.categories[c.ID] = c
	return nil
}

func (v *view) ListCategories(_ context.Context) ([]kpi.Category, error) {
	defer v.lock()()
	result := make([]kpi.Category, 0, len(v.d.categories))
	for _, c := range v.d.categories {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Code < result[j].Code })
	return result, nil
}

func (v *view) SaveTopic(_ context.Context, t kpi.Topic) error {
	defer v.lock()()
	v.d.topics[t.ID] = t
	return nil
}

func (v *view) ListTopics(_ context.Context) ([]kpi.Topic, error) {
	defer v.lock()()
	result := make([]kpi.Topic, 0, len(v.d.topics))
	for _, t := range v.d.topics {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Rank != result[j].Rank {
			return result[i].Rank < result[j].Rank
		}
		return result[i].TitleENG < result[j].TitleENG
	})
	return result, nil
}

// =============================================================================
// PERIODS
// =============================================================================

func (v *view) GetOrCreateDataPoint(_ context.Context, yearEC int) (kpi.DataPoint, bool, error) {
	defer v.lock()()
	if dp, ok := v.d.dataPoints[yearEC]; ok {
		return dp, false, nil
	}
	v.d.nextDataPointID++
	dp := kpi.NewDataPoint(yearEC)
	dp.ID = v.d.nextDataPointID
	dp.CreatedAt = time.Now().UTC()
	v.d.dataPoints[yearEC] = dp
	return dp, true, nil
}

func (v *view) ListDataPoints(_ context.Context) ([]kpi.DataPoint, error) {
	defer v.lock()()
	result := make([]kpi.DataPoint, 0, len(v.d.dataPoints))
	for _, dp := range v.d.dataPoints {
		result = append(result, dp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].YearEC < result[j].YearEC })
	return result, nil
}

func (v *view) GetQuarter(_ context.Context, number int) (*kpi.Quarter, error) {
	defer v.lock()()
	q, ok := v.d.quarters[number]
	if !ok {
		return nil, &kpi.PeriodNotFoundError{Kind: "quarter", Number: number}
	}
	return &q, nil
}

func (v *view) SaveQuarter(_ context.Context, q kpi.Quarter) error {
	defer v.lock()()
	if existing, ok := v.d.quarters[q.Number]; ok {
		q.ID = existing.ID
	} else if q.ID == 0 {
		q.ID = int64(q.Number)
	}
	v.d.quarters[q.Number] = q
	return nil
}

func (v *view) ListQuarters(_ context.Context) ([]kpi.Quarter, error) {
	defer v.lock()()
	result := make([]kpi.Quarter, 0, len(v.d.quarters))
	for _, q := range v.d.quarters {
		result = append(result, q)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Number < result[j].Number })
	return result, nil
}

func (v *view) GetMonth(_ context.Context, number int) (*kpi.Month, error) {
	defer v.lock()()
	m, ok := v.d.months[number]
	if !ok {
		return nil, &kpi.PeriodNotFoundError{Kind: "month", Number: number}
	}
	return &m, nil
}

func (v *view) SaveMonth(_ context.Context, m kpi.Month) error {
	defer v.lock()()
	if existing, ok := v.d.months[m.Number]; ok {
		m.ID = existing.ID
	} else if m.ID == 0 {
		m.ID = int64(m.Number)
	}
	v.d.months[m.Number] = m
	return nil
}

func (v *view) ListMonths(_ context.Context) ([]kpi.Month, error) {
	defer v.lock()()
	result := make([]kpi.Month, 0, len(v.d.months))
	for _, m := range v.d.months {
		result = append(result, m)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Number < result[j].Number })
	return result, nil
}

// =============================================================================
// RECORDS
// =============================================================================

func (v *view) UpsertRecord(_ context.Context, key kpi.RecordKey, values kpi.RecordValues) (kpi.Record, bool, error) {
	defer v.lock()()
	key = key.Normalize()
	if err := v.checkContainers(key); err != nil {
		return kpi.Record{}, false, err
	}

	now := time.Now().UTC()
	k := key.String()
	if rec, ok := v.d.records[k]; ok {
		values.Apply(&rec)
		rec.UpdatedAt = now
		v.d.records[k] = rec
		return rec, false, nil
	}

	rec := kpi.Record{
		ID:          kpi.RecordID(uuid.NewString()),
		IndicatorID: key.IndicatorID,
		Granularity: key.Granularity,
		YearEC:      key.YearEC,
		Quarter:     key.Quarter,
		Month:       key.Month,
		Date:        key.Date,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	values.Apply(&rec)
	v.d.records[k] = rec
	v.d.recordKeys[rec.ID] = k
	return rec, true, nil
}

func (v *view) checkContainers(key kpi.RecordKey) error {
	if _, ok := v.d.indicators[key.IndicatorID]; !ok {
		return kpi.ErrIndicatorNotFound
	}
	if !key.Granularity.FiscalYearKeyed() {
		return nil
	}
	if _, ok := v.d.dataPoints[key.YearEC]; !ok {
		return &kpi.PeriodNotFoundError{Kind: "data point", Number: key.YearEC}
	}
	if key.Granularity == kpi.GranularityQuarterly {
		if _, ok := v.d.quarters[key.Quarter]; !ok {
			return &kpi.PeriodNotFoundError{Kind: "quarter", Number: key.Quarter}
		}
	}
	if key.Granularity == kpi.GranularityMonthly {
		if _, ok := v.d.months[key.Month]; !ok {
			return &kpi.PeriodNotFoundError{Kind: "month", Number: key.Month}
		}
	}
	return nil
}

func (v *view) GetRecord(_ context.Context, g kpi.Granularity, id kpi.RecordID) (*kpi.Record, error) {
	defer v.lock()()
	k, ok := v.d.recordKeys[id]
	if !ok {
		return nil, kpi.ErrRecordNotFound
	}
	rec := v.d.records[k]
	if rec.Granularity != g {
		return nil, kpi.ErrRecordNotFound
	}
	return &rec, nil
}

func (v *view) FindRecord(_ context.Context, key kpi.RecordKey) (*kpi.Record, error) {
	defer v.lock()()
	rec, ok := v.d.records[key.Normalize().String()]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (v *view) ListRecords(_ context.Context, filter kpi.RecordFilter) ([]kpi.Record, error) {
	defer v.lock()()
	var allowed map[kpi.IndicatorID]bool
	if len(filter.IndicatorIDs) > 0 {
		allowed = make(map[kpi.IndicatorID]bool, len(filter.IndicatorIDs))
		for _, id := range filter.IndicatorIDs {
			allowed[id] = true
		}
	}

	result := []kpi.Record{}
	for _, rec := range v.d.records {
		switch {
		case rec.Granularity != filter.Granularity:
			continue
		case filter.IndicatorID != nil && rec.IndicatorID != *filter.IndicatorID:
			continue
		case allowed != nil && !allowed[rec.IndicatorID]:
			continue
		case filter.Verified != nil && rec.IsVerified != *filter.Verified:
			continue
		case filter.YearEC != nil && rec.YearEC != *filter.YearEC:
			continue
		case filter.From != nil && rec.Date.Before(kpi.DayOf(*filter.From)):
			continue
		case filter.To != nil && rec.Date.After(kpi.DayOf(*filter.To)):
			continue
		}
		result = append(result, rec)
	}
	sort.Slice(result, func(i, j int) bool { return chronological(result[i], result[j]) })
	return result, nil
}

func chronological(a, b kpi.Record) bool {
	switch {
	case a.YearEC != b.YearEC:
		return a.YearEC < b.YearEC
	case a.Quarter != b.Quarter:
		return a.Quarter < b.Quarter
	case a.Month != b.Month:
		return a.Month < b.Month
	case !a.Date.Equal(b.Date):
		return a.Date.Before(b.Date)
	}
	return a.IndicatorID < b.IndicatorID
}

func (v *view) SetRecordsVerified(_ context.Context, g kpi.Granularity, ids []kpi.RecordID, verified bool) (int, error) {
	defer v.lock()()
	n := 0
	now := time.Now().UTC()
	for _, id := range ids {
		k, ok := v.d.recordKeys[id]
		if !ok {
			continue
		}
		rec := v.d.records[k]
		if rec.Granularity != g {
			continue
		}
		rec.IsVerified = verified
		rec.UpdatedAt = now
		v.d.records[k] = rec
		n++
	}
	return n, nil
}

func (v *view) DeleteRecords(_ context.Context, g kpi.Granularity, ids []kpi.RecordID) (int, error) {
	defer v.lock()()
	n := 0
	for _, id := range ids {
		k, ok := v.d.recordKeys[id]
		if !ok || v.d.records[k].Granularity != g {
			continue
		}
		delete(v.d.records, k)
		delete(v.d.recordKeys, id)
		n++
	}
	return n, nil
}
