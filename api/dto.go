/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the kpi domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALUES:
  Performance and target go out as JSON numbers (null when absent). They
  come in as numbers or numeric strings; the kpi package does the parsing
  so that "10, 20" style input is rejected the same way everywhere.

VALIDATION:
  Struct tags are checked with go-playground/validator before a request
  reaches the engine. Value and period checks stay in the kpi package.

SEE ALSO:
  - handlers.go: Uses these types
  - kpi/types.go: Domain types
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ethstat/kpi-dashboard/ethiocal"
	"github.com/ethstat/kpi-dashboard/kpi"
)

// =============================================================================
// ERRORS
// =============================================================================

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CATALOG
// =============================================================================

type TopicDTO struct {
	ID        string `json:"id"`
	TitleENG  string `json:"title_eng"`
	TitleAMH  string `json:"title_amh"`
	Rank      int    `json:"rank"`
	CreatedAt string `json:"created_at,omitempty"`
}

type CreateTopicRequest struct {
	ID       string `json:"id"`
	TitleENG string `json:"title_eng" validate:"required"`
	TitleAMH string `json:"title_amh"`
	Rank     int    `json:"rank" validate:"gte=0"`
}

type CategoryDTO struct {
	ID        string  `json:"id"`
	Code      string  `json:"code"`
	NameENG   string  `json:"name_eng"`
	NameAMH   string  `json:"name_amh"`
	TopicID   *string `json:"topic_id"`
	CreatedAt string  `json:"created_at,omitempty"`
}

type CreateCategoryRequest struct {
	ID      string  `json:"id"`
	Code    string  `json:"code" validate:"required,alphanum,max=16"`
	NameENG string  `json:"name_eng" validate:"required"`
	NameAMH string  `json:"name_amh"`
	TopicID *string `json:"topic_id"`
}

type IndicatorDTO struct {
	ID                string   `json:"id"`
	Code              string   `json:"code"`
	TitleENG          string   `json:"title_eng"`
	TitleAMH          string   `json:"title_amh"`
	ParentID          *string  `json:"parent_id"`
	CategoryIDs       []string `json:"category_ids"`
	Frequency         string   `json:"frequency"`
	KPICharacteristic string   `json:"kpi_characteristic"`
	MeasurementUnit   string   `json:"measurement_unit"`
	IsVerified        bool     `json:"is_verified"`
	CreatedAt         string   `json:"created_at,omitempty"`
}

type CreateIndicatorRequest struct {
	ID                string   `json:"id"`
	Code              string   `json:"code"`
	TitleENG          string   `json:"title_eng" validate:"required"`
	TitleAMH          string   `json:"title_amh"`
	ParentID          *string  `json:"parent_id"`
	CategoryIDs       []string `json:"category_ids" validate:"dive,required"`
	Frequency         string   `json:"frequency" validate:"omitempty,oneof=month quarter biannual annual"`
	KPICharacteristic string   `json:"kpi_characteristic" validate:"omitempty,oneof=inc dec const volatile"`
	MeasurementUnit   string   `json:"measurement_unit"`
}

// VerifyRequest carries the ids to approve, for indicators or records.
type VerifyRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,dive,required"`
}

type VerifyResponse struct {
	Verified int `json:"verified"`
}

type DataPointDTO struct {
	ID     int64  `json:"id"`
	YearEC int    `json:"year_ec"`
	YearGC string `json:"year_gc"`
}

type CreateDataPointRequest struct {
	YearEC int `json:"year_ec" validate:"required,min=1"`
}

type QuarterDTO struct {
	ID       int64  `json:"id"`
	Number   int    `json:"number"`
	TitleENG string `json:"title_eng"`
	TitleAMH string `json:"title_amh"`
}

type MonthDTO struct {
	ID       int64  `json:"id"`
	Number   int    `json:"number"`
	NameENG  string `json:"name_eng"`
	NameAMH  string `json:"name_amh"`
	IsFiscal bool   `json:"is_fiscal"`
}

// =============================================================================
// RECORDS
// =============================================================================

type RecordDTO struct {
	ID          string   `json:"id"`
	IndicatorID string   `json:"indicator_id"`
	Granularity string   `json:"granularity"`
	Label       string   `json:"label,omitempty"`
	YearEC      int      `json:"year_ec,omitempty"`
	YearGC      string   `json:"year_gc,omitempty"`
	Quarter     int      `json:"quarter,omitempty"`
	Month       int      `json:"month,omitempty"`
	Date        string   `json:"date,omitempty"`
	EthioDate   string   `json:"ethio_date,omitempty"`
	Performance *float64 `json:"performance"`
	Target      *float64 `json:"target"`
	IsVerified  bool     `json:"is_verified"`
	Created     *bool    `json:"created,omitempty"`
	CreatedAt   string   `json:"created_at,omitempty"`
	UpdatedAt   string   `json:"updated_at,omitempty"`
}

// RecordUpsertRequest is one value. Which period fields are required
// depends on the granularity.
type RecordUpsertRequest struct {
	IndicatorID string `json:"indicator_id" validate:"required"`
	// Granularity is only read by POST /records; the bulk endpoint takes it
	// from the path.
	Granularity string `json:"granularity"`
	Year        int    `json:"year" validate:"omitempty,min=1"`
	Quarter     int    `json:"quarter" validate:"omitempty,min=1,max=4"`
	Month       int    `json:"month" validate:"omitempty,min=1,max=12"`
	Date        string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Performance any    `json:"performance"`
	// Value is accepted as an alias for Performance.
	Value any `json:"value"`
	// Target is kept raw so an absent target can be told apart from null.
	Target     json.RawMessage `json:"target,omitempty"`
	IsVerified *bool           `json:"is_verified"`
}

// BulkUpsertRequest is PATCH /records/{granularity}. Rows are validated one
// by one in the handler so that a bad row is reported without failing the rest.
type BulkUpsertRequest struct {
	Updates []RecordUpsertRequest `json:"updates" validate:"required,min=1"`
}

type BatchErrorDTO struct {
	Index       int    `json:"index"`
	IndicatorID string `json:"indicator_id"`
	Error       string `json:"error"`
}

type BulkUpsertResponse struct {
	Results            []RecordDTO     `json:"results"`
	Errors             []BatchErrorDTO `json:"errors,omitempty"`
	Saved              int             `json:"saved"`
	Skipped            int             `json:"skipped"`
	VerificationStatus string          `json:"verification_status"`
}

// UpsertResponse is POST /records. Warning is set when the record was saved
// but its weekly rollup failed.
type UpsertResponse struct {
	Record  RecordDTO `json:"record"`
	Created bool      `json:"created"`
	Warning string    `json:"warning,omitempty"`
}

type ComparisonDTO struct {
	YearsBack int      `json:"years_back"`
	Change    *float64 `json:"change"`
	Percent   *float64 `json:"percent"`
}

type ComparisonResponse struct {
	Record      RecordDTO       `json:"record"`
	Comparisons []ComparisonDTO `json:"comparisons"`
}

type OverviewDTO struct {
	Indicator    IndicatorDTO `json:"indicator"`
	Annual       []RecordDTO  `json:"annual"`
	LatestAnnual *RecordDTO   `json:"latest_annual"`
	Quarterly    []RecordDTO  `json:"quarterly"`
	Monthly      []RecordDTO  `json:"monthly"`
	Weekly       []RecordDTO  `json:"weekly"`
	Daily        []RecordDTO  `json:"daily"`
}

type RollupResponse struct {
	IndicatorID    string `json:"indicator_id"`
	WeeksRolled    int    `json:"weeks_rolled"`
	BelowThreshold int    `json:"below_threshold"`
}

type RollupRunDTO struct {
	StartedAt   string `json:"started_at"`
	FinishedAt  string `json:"finished_at"`
	Indicators  int    `json:"indicators"`
	WeeksRolled int    `json:"weeks_rolled"`
	Failures    int    `json:"failures"`
}

// =============================================================================
// CALENDAR
// =============================================================================

type EthiopianDateDTO struct {
	Gregorian string `json:"gregorian"`
	Year      int    `json:"year"`
	Month     int    `json:"month"`
	Day       int    `json:"day"`
	MonthName string `json:"month_name"`
	Week      int    `json:"week"`
	Formatted string `json:"formatted"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func floatPtr(v decimal.NullDecimal) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Decimal.InexactFloat64()
	return &f
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func toTopicDTO(t kpi.Topic) TopicDTO {
	return TopicDTO{
		ID:        string(t.ID),
		TitleENG:  t.TitleENG,
		TitleAMH:  t.TitleAMH,
		Rank:      t.Rank,
		CreatedAt: formatTime(t.CreatedAt),
	}
}

func toCategoryDTO(c kpi.Category) CategoryDTO {
	dto := CategoryDTO{
		ID:        string(c.ID),
		Code:      c.Code,
		NameENG:   c.NameENG,
		NameAMH:   c.NameAMH,
		CreatedAt: formatTime(c.CreatedAt),
	}
	if c.TopicID != nil {
		s := string(*c.TopicID)
		dto.TopicID = &s
	}
	return dto
}

func toIndicatorDTO(ind kpi.Indicator) IndicatorDTO {
	dto := IndicatorDTO{
		ID:                string(ind.ID),
		Code:              ind.Code,
		TitleENG:          ind.TitleENG,
		TitleAMH:          ind.TitleAMH,
		CategoryIDs:       make([]string, len(ind.CategoryIDs)),
		Frequency:         string(ind.Frequency),
		KPICharacteristic: string(ind.Characteristic),
		MeasurementUnit:   ind.MeasurementUnit,
		IsVerified:        ind.IsVerified,
		CreatedAt:         formatTime(ind.CreatedAt),
	}
	if ind.ParentID != nil {
		s := string(*ind.ParentID)
		dto.ParentID = &s
	}
	for i, c := range ind.CategoryIDs {
		dto.CategoryIDs[i] = string(c)
	}
	return dto
}

func toPointDTO(p kpi.SeriesPoint) RecordDTO {
	r := p.Record
	dto := RecordDTO{
		ID:          string(r.ID),
		IndicatorID: string(r.IndicatorID),
		Granularity: string(r.Granularity),
		Label:       p.Label,
		YearEC:      r.YearEC,
		YearGC:      p.YearGC,
		Quarter:     r.Quarter,
		Month:       r.Month,
		EthioDate:   p.EthioDate,
		Performance: floatPtr(r.Performance),
		Target:      floatPtr(r.Target),
		IsVerified:  r.IsVerified,
		CreatedAt:   formatTime(r.CreatedAt),
		UpdatedAt:   formatTime(r.UpdatedAt),
	}
	if !r.Date.IsZero() {
		dto.Date = r.Date.Format(kpi.DateLayout)
	}
	return dto
}

func toPointDTOs(points []kpi.SeriesPoint) []RecordDTO {
	out := make([]RecordDTO, len(points))
	for i, p := range points {
		out[i] = toPointDTO(p)
	}
	return out
}

func toComparisonDTO(years int, c *kpi.Comparison) ComparisonDTO {
	dto := ComparisonDTO{YearsBack: years}
	if c != nil {
		dto.Change = floatPtr(kpi.NullDecimal(c.Change))
		dto.Percent = floatPtr(kpi.NullDecimal(c.Percent))
	}
	return dto
}

func toEthiopianDateDTO(t time.Time, d ethiocal.EthDate) EthiopianDateDTO {
	return EthiopianDateDTO{
		Gregorian: t.Format(kpi.DateLayout),
		Year:      d.Year,
		Month:     d.Month,
		Day:       d.Day,
		MonthName: kpi.MonthName(d.Month),
		Week:      ethiocal.WeekOfMonth(d.Day),
		Formatted: d.String(),
	}
}
