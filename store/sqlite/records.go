package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/ethstat/kpi-dashboard/kpi"
)

// =============================================================================
// FACT TABLES - one select shape for all five granularities
// =============================================================================

// Every select returns: id, indicator_id, year_ec, quarter, month, date,
// performance, target, is_verified, created_at, updated_at. Columns that
// don't apply to the granularity are literal zeros.

func tableFor(g kpi.Granularity) (string, error) {
	switch g {
	case kpi.GranularityAnnual:
		return "annual_data", nil
	case kpi.GranularityQuarterly:
		return "quarter_data", nil
	case kpi.GranularityMonthly:
		return "month_data", nil
	case kpi.GranularityWeekly, kpi.GranularityDaily:
		return "kpi_records", nil
	}
	return "", fmt.Errorf("%w: %q", kpi.ErrInvalidGranularity, g)
}

func recordSelect(g kpi.Granularity) (sq.SelectBuilder, error) {
	tail := []string{"f.performance", "f.target", "f.is_verified", "f.created_at", "f.updated_at"}
	b := builder().Select()

	switch g {
	case kpi.GranularityAnnual:
		b = b.Columns(append([]string{"f.id", "f.indicator_id", "d.year_ec", "0", "0", "''"}, tail...)...).
			From("annual_data f").
			Join("datapoints d ON d.id = f.datapoint_id").
			OrderBy("d.year_ec", "f.indicator_id")
	case kpi.GranularityQuarterly:
		b = b.Columns(append([]string{"f.id", "f.indicator_id", "d.year_ec", "q.number", "0", "''"}, tail...)...).
			From("quarter_data f").
			Join("datapoints d ON d.id = f.datapoint_id").
			Join("quarters q ON q.id = f.quarter_id").
			OrderBy("d.year_ec", "q.number", "f.indicator_id")
	case kpi.GranularityMonthly:
		b = b.Columns(append([]string{"f.id", "f.indicator_id", "d.year_ec", "0", "m.number", "''"}, tail...)...).
			From("month_data f").
			Join("datapoints d ON d.id = f.datapoint_id").
			Join("months m ON m.id = f.month_id").
			OrderBy("d.year_ec", "m.number", "f.indicator_id")
	case kpi.GranularityWeekly, kpi.GranularityDaily:
		b = b.Columns(append([]string{"f.id", "f.indicator_id", "0", "0", "0", "f.date"}, tail...)...).
			From("kpi_records f").
			Where(sq.Eq{"f.record_type": string(g)}).
			OrderBy("f.date", "f.indicator_id")
	default:
		return b, fmt.Errorf("%w: %q", kpi.ErrInvalidGranularity, g)
	}
	return b, nil
}

func scanRecord(row scanner, g kpi.Granularity) (kpi.Record, error) {
	var (
		rec                        kpi.Record
		date, createdAt, updatedAt string
	)
	err := row.Scan(
		&rec.ID, &rec.IndicatorID, &rec.YearEC, &rec.Quarter, &rec.Month, &date,
		&rec.Performance, &rec.Target, &rec.IsVerified, &createdAt, &updatedAt,
	)
	if err != nil {
		return rec, err
	}
	rec.Granularity = g
	rec.Date = parseDate(date)
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	return rec, nil
}

func whereKey(b sq.SelectBuilder, key kpi.RecordKey) sq.SelectBuilder {
	eq := sq.Eq{"f.indicator_id": string(key.IndicatorID)}
	switch key.Granularity {
	case kpi.GranularityAnnual:
		eq["d.year_ec"] = key.YearEC
	case kpi.GranularityQuarterly:
		eq["d.year_ec"] = key.YearEC
		eq["q.number"] = key.Quarter
	case kpi.GranularityMonthly:
		eq["d.year_ec"] = key.YearEC
		eq["m.number"] = key.Month
	case kpi.GranularityWeekly, kpi.GranularityDaily:
		eq["f.date"] = formatDate(key.Date)
	}
	return b.Where(eq)
}

// =============================================================================
// RECORD STORE
// =============================================================================

func (c *conn) FindRecord(ctx context.Context, key kpi.RecordKey) (*kpi.Record, error) {
	key = key.Normalize()
	b, err := recordSelect(key.Granularity)
	if err != nil {
		return nil, err
	}
	row, err := c.queryRow(ctx, whereKey(b, key))
	if err != nil {
		return nil, err
	}
	rec, err := scanRecord(row, key.Granularity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find record %s: %w", key, err)
	}
	return &rec, nil
}

func (c *conn) GetRecord(ctx context.Context, g kpi.Granularity, id kpi.RecordID) (*kpi.Record, error) {
	b, err := recordSelect(g)
	if err != nil {
		return nil, err
	}
	row, err := c.queryRow(ctx, b.Where(sq.Eq{"f.id": string(id)}))
	if err != nil {
		return nil, err
	}
	rec, err := scanRecord(row, g)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kpi.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s record %s: %w", g, id, err)
	}
	return &rec, nil
}

func (c *conn) ListRecords(ctx context.Context, filter kpi.RecordFilter) ([]kpi.Record, error) {
	b, err := recordSelect(filter.Granularity)
	if err != nil {
		return nil, err
	}
	if filter.IndicatorID != nil {
		b = b.Where(sq.Eq{"f.indicator_id": string(*filter.IndicatorID)})
	}
	if len(filter.IndicatorIDs) > 0 {
		ids := make([]string, len(filter.IndicatorIDs))
		for i, id := range filter.IndicatorIDs {
			ids[i] = string(id)
		}
		b = b.Where(sq.Eq{"f.indicator_id": ids})
	}
	if filter.Verified != nil {
		b = b.Where(sq.Eq{"f.is_verified": *filter.Verified})
	}
	if filter.Granularity.FiscalYearKeyed() && filter.YearEC != nil {
		b = b.Where(sq.Eq{"d.year_ec": *filter.YearEC})
	}
	if filter.Granularity.DateKeyed() {
		if filter.From != nil {
			b = b.Where(sq.GtOrEq{"f.date": formatDate(kpi.DayOf(*filter.From))})
		}
		if filter.To != nil {
			b = b.Where(sq.LtOrEq{"f.date": formatDate(kpi.DayOf(*filter.To))})
		}
	}

	rows, err := c.query(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("list %s records: %w", filter.Granularity, err)
	}
	defer rows.Close()

	result := []kpi.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows, filter.Granularity)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// UpsertRecord looks the row up by natural key and updates it in place, or
// inserts a new row with a fresh id. Both steps share one transaction.
func (c *conn) UpsertRecord(ctx context.Context, key kpi.RecordKey, values kpi.RecordValues) (kpi.Record, bool, error) {
	key = key.Normalize()
	table, err := tableFor(key.Granularity)
	if err != nil {
		return kpi.Record{}, false, err
	}

	var (
		result  kpi.Record
		created bool
	)
	err = c.atomic(ctx, func(tx *conn) error {
		now := time.Now().UTC()

		existing, err := tx.FindRecord(ctx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			values.Apply(existing)
			existing.UpdatedAt = now
			_, err := tx.exec(ctx, builder().Update(table).
				Set("performance", existing.Performance).
				Set("target", existing.Target).
				Set("is_verified", existing.IsVerified).
				Set("updated_at", formatTime(now)).
				Where(sq.Eq{"id": string(existing.ID)}))
			if err != nil {
				return fmt.Errorf("update record %s: %w", key, err)
			}
			result, created = *existing, false
			return nil
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

		insert, err := tx.recordInsert(ctx, table, rec)
		if err != nil {
			return err
		}
		if _, err := tx.exec(ctx, insert); err != nil {
			return fmt.Errorf("insert record %s: %w", key, err)
		}
		result, created = rec, true
		return nil
	})
	if err != nil {
		return kpi.Record{}, false, err
	}
	return result, created, nil
}

// recordInsert resolves the container ids the row references and builds the
// insert. Missing containers come back as the engine's not-found errors.
func (c *conn) recordInsert(ctx context.Context, table string, rec kpi.Record) (sq.InsertBuilder, error) {
	if err := c.indicatorExists(ctx, rec.IndicatorID); err != nil {
		return sq.InsertBuilder{}, err
	}

	cols := []string{"id", "indicator_id"}
	vals := []any{string(rec.ID), string(rec.IndicatorID)}

	if rec.Granularity.FiscalYearKeyed() {
		dp, err := c.getDataPoint(ctx, rec.YearEC)
		if err != nil {
			return sq.InsertBuilder{}, err
		}
		cols = append(cols, "datapoint_id")
		vals = append(vals, dp.ID)
	}
	switch rec.Granularity {
	case kpi.GranularityQuarterly:
		q, err := c.GetQuarter(ctx, rec.Quarter)
		if err != nil {
			return sq.InsertBuilder{}, err
		}
		cols = append(cols, "quarter_id")
		vals = append(vals, q.ID)
	case kpi.GranularityMonthly:
		m, err := c.GetMonth(ctx, rec.Month)
		if err != nil {
			return sq.InsertBuilder{}, err
		}
		cols = append(cols, "month_id")
		vals = append(vals, m.ID)
	case kpi.GranularityWeekly, kpi.GranularityDaily:
		cols = append(cols, "record_type", "date")
		vals = append(vals, string(rec.Granularity), formatDate(rec.Date))
	}

	cols = append(cols, "performance", "target", "is_verified", "created_at", "updated_at")
	vals = append(vals, rec.Performance, rec.Target, rec.IsVerified, formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt))

	return builder().Insert(table).Columns(cols...).Values(vals...), nil
}

func (c *conn) indicatorExists(ctx context.Context, id kpi.IndicatorID) error {
	row, err := c.queryRow(ctx, builder().Select("1").From("indicators").Where(sq.Eq{"id": string(id)}))
	if err != nil {
		return err
	}
	var one int
	err = row.Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return kpi.ErrIndicatorNotFound
	}
	return err
}

func (c *conn) SetRecordsVerified(ctx context.Context, g kpi.Granularity, ids []kpi.RecordID, verified bool) (int, error) {
	table, err := tableFor(g)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = string(id)
	}

	where := sq.Eq{"id": keys}
	if g.DateKeyed() {
		where["record_type"] = string(g)
	}

	var n int64
	err = c.withRetry(ctx, func() error {
		res, err := c.exec(ctx, builder().Update(table).
			Set("is_verified", verified).
			Set("updated_at", formatTime(time.Now())).
			Where(where))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("verify %s records: %w", g, err)
	}
	return int(n), nil
}

func (c *conn) DeleteRecords(ctx context.Context, g kpi.Granularity, ids []kpi.RecordID) (int, error) {
	table, err := tableFor(g)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = string(id)
	}

	where := sq.Eq{"id": keys}
	if g.DateKeyed() {
		where["record_type"] = string(g)
	}

	var n int64
	err = c.withRetry(ctx, func() error {
		res, err := c.exec(ctx, builder().Delete(table).Where(where))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete %s records: %w", g, err)
	}
	return int(n), nil
}
