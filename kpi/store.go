/*
store.go - Persistence interfaces for indicators, periods and records

PURPOSE:
  Defines the boundary between the engine and the database. Implementations
  exist for SQLite and for memory; the engine never sees SQL.

KEY INTERFACES:
  IndicatorStore: indicators, categories, topics
  PeriodStore:    DataPoints and the quarter/month reference rows
  RecordStore:    the five fact tables behind one Record shape
  TxStore:        runs a function against a transactional view of the store

UPSERT CONTRACT:
  UpsertRecord looks a row up by its natural key. If found, the row keeps its
  id and creation time and takes the new values; otherwise a row is created.
  Two concurrent writers to the same key are last-write-wins.

NOT FOUND CONVENTION:
  Get* methods return a sentinel wrapped error (ErrIndicatorNotFound,
  ErrRecordNotFound, ErrPeriodNotFound). Find* methods return nil, nil.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - kpi/store/memory.go: in-memory for tests and development
*/
package kpi

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Everything the engine persists
// =============================================================================

type Store interface {
	IndicatorStore
	PeriodStore
	RecordStore
}

// TxStore is a Store that can run several operations atomically.
type TxStore interface {
	Store
	// WithTx runs fn inside a transaction. If fn returns an error, nothing
	// fn wrote is kept.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// INDICATORS
// =============================================================================

type IndicatorStore interface {
	GetIndicator(ctx context.Context, id IndicatorID) (*Indicator, error)
	// SaveIndicator creates or replaces an indicator. A code already used by
	// another indicator returns ErrDuplicateCode.
	SaveIndicator(ctx context.Context, ind Indicator) error
	ListIndicators(ctx context.Context, filter IndicatorFilter) ([]Indicator, error)
	// IndicatorCodes returns the codes of the children of parentID, or of the
	// top-level indicators when parentID is nil.
	IndicatorCodes(ctx context.Context, parentID *IndicatorID) ([]string, error)
	SetIndicatorsVerified(ctx context.Context, ids []IndicatorID, verified bool) (int, error)

	GetCategory(ctx context.Context, id CategoryID) (*Category, error)
	SaveCategory(ctx context.Context, c Category) error
	ListCategories(ctx context.Context) ([]Category, error)

	SaveTopic(ctx context.Context, t Topic) error
	ListTopics(ctx context.Context) ([]Topic, error)
}

type IndicatorFilter struct {
	CategoryID *CategoryID
	ParentID   *IndicatorID
	Verified   *bool
}

// =============================================================================
// PERIODS
// =============================================================================

type PeriodStore interface {
	// GetOrCreateDataPoint is safe to call concurrently for the same year.
	GetOrCreateDataPoint(ctx context.Context, yearEC int) (DataPoint, bool, error)
	ListDataPoints(ctx context.Context) ([]DataPoint, error)

	GetQuarter(ctx context.Context, number int) (*Quarter, error)
	SaveQuarter(ctx context.Context, q Quarter) error
	ListQuarters(ctx context.Context) ([]Quarter, error)

	GetMonth(ctx context.Context, number int) (*Month, error)
	SaveMonth(ctx context.Context, m Month) error
	ListMonths(ctx context.Context) ([]Month, error)
}

// =============================================================================
// RECORDS
// =============================================================================

type RecordStore interface {
	// UpsertRecord creates or updates the record with the given natural key.
	// The period containers must already exist.
	UpsertRecord(ctx context.Context, key RecordKey, values RecordValues) (Record, bool, error)
	GetRecord(ctx context.Context, g Granularity, id RecordID) (*Record, error)
	FindRecord(ctx context.Context, key RecordKey) (*Record, error)
	// ListRecords returns records of one granularity in chronological order.
	ListRecords(ctx context.Context, filter RecordFilter) ([]Record, error)
	SetRecordsVerified(ctx context.Context, g Granularity, ids []RecordID, verified bool) (int, error)
	// DeleteRecords removes records of one granularity and returns how many
	// rows went away. Unknown ids are ignored.
	DeleteRecords(ctx context.Context, g Granularity, ids []RecordID) (int, error)
}

type RecordFilter struct {
	Granularity  Granularity
	IndicatorID  *IndicatorID
	IndicatorIDs []IndicatorID
	Verified     *bool
	// From and To bound Date (inclusive) for weekly and daily records.
	From *time.Time
	To   *time.Time
	// YearEC restricts fiscal-year keyed records to one year.
	YearEC *int
}
