package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/ethstat/kpi-dashboard/kpi"
)

// =============================================================================
// DATA POINTS
// =============================================================================

// GetOrCreateDataPoint inserts the year if it is missing and reads it back.
// ON CONFLICT DO NOTHING makes two concurrent callers agree on one row.
func (c *conn) GetOrCreateDataPoint(ctx context.Context, yearEC int) (kpi.DataPoint, bool, error) {
	dp := kpi.NewDataPoint(yearEC)
	now := formatTime(time.Now())

	var created bool
	err := c.withRetry(ctx, func() error {
		res, err := c.exec(ctx, builder().Insert("datapoints").
			Columns("year_ec", "year_gc", "created_at", "updated_at").
			Values(yearEC, dp.YearGC, now, now).
			Suffix("ON CONFLICT(year_ec) DO NOTHING"))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		created = n == 1
		return nil
	})
	if err != nil {
		return kpi.DataPoint{}, false, fmt.Errorf("create data point %d: %w", yearEC, err)
	}

	got, err := c.getDataPoint(ctx, yearEC)
	if err != nil {
		return kpi.DataPoint{}, false, err
	}
	return *got, created, nil
}

func dataPointSelect() sq.SelectBuilder {
	return builder().Select("id", "year_ec", "year_gc", "created_at").From("datapoints")
}

func scanDataPoint(row scanner) (kpi.DataPoint, error) {
	var (
		dp        kpi.DataPoint
		createdAt string
	)
	if err := row.Scan(&dp.ID, &dp.YearEC, &dp.YearGC, &createdAt); err != nil {
		return dp, err
	}
	dp.CreatedAt = parseTime(createdAt)
	return dp, nil
}

func (c *conn) getDataPoint(ctx context.Context, yearEC int) (*kpi.DataPoint, error) {
	row, err := c.queryRow(ctx, dataPointSelect().Where(sq.Eq{"year_ec": yearEC}))
	if err != nil {
		return nil, err
	}
	dp, err := scanDataPoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &kpi.PeriodNotFoundError{Kind: "data point", Number: yearEC}
	}
	if err != nil {
		return nil, fmt.Errorf("get data point %d: %w", yearEC, err)
	}
	return &dp, nil
}

func (c *conn) ListDataPoints(ctx context.Context) ([]kpi.DataPoint, error) {
	rows, err := c.query(ctx, dataPointSelect().OrderBy("year_ec"))
	if err != nil {
		return nil, fmt.Errorf("list data points: %w", err)
	}
	defer rows.Close()

	result := []kpi.DataPoint{}
	for rows.Next() {
		dp, err := scanDataPoint(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, dp)
	}
	return result, rows.Err()
}

// =============================================================================
// QUARTERS & MONTHS
// =============================================================================

func quarterSelect() sq.SelectBuilder {
	return builder().Select("id", "number", "title_eng", "title_amh").From("quarters")
}

func (c *conn) GetQuarter(ctx context.Context, number int) (*kpi.Quarter, error) {
	row, err := c.queryRow(ctx, quarterSelect().Where(sq.Eq{"number": number}))
	if err != nil {
		return nil, err
	}
	var q kpi.Quarter
	err = row.Scan(&q.ID, &q.Number, &q.TitleENG, &q.TitleAMH)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &kpi.PeriodNotFoundError{Kind: "quarter", Number: number}
	}
	if err != nil {
		return nil, fmt.Errorf("get quarter %d: %w", number, err)
	}
	return &q, nil
}

func (c *conn) SaveQuarter(ctx context.Context, q kpi.Quarter) error {
	return c.withRetry(ctx, func() error {
		_, err := c.exec(ctx, builder().Insert("quarters").
			Columns("number", "title_eng", "title_amh").
			Values(q.Number, q.TitleENG, q.TitleAMH).
			Suffix(`ON CONFLICT(number) DO UPDATE SET
				title_eng = excluded.title_eng,
				title_amh = excluded.title_amh`))
		return err
	})
}

func (c *conn) ListQuarters(ctx context.Context) ([]kpi.Quarter, error) {
	rows, err := c.query(ctx, quarterSelect().OrderBy("number"))
	if err != nil {
		return nil, fmt.Errorf("list quarters: %w", err)
	}
	defer rows.Close()

	result := []kpi.Quarter{}
	for rows.Next() {
		var q kpi.Quarter
		if err := rows.Scan(&q.ID, &q.Number, &q.TitleENG, &q.TitleAMH); err != nil {
			return nil, err
		}
		result = append(result, q)
	}
	return result, rows.Err()
}

func monthSelect() sq.SelectBuilder {
	return builder().Select("id", "number", "name_eng", "name_amh", "is_fiscal").From("months")
}

func (c *conn) GetMonth(ctx context.Context, number int) (*kpi.Month, error) {
	row, err := c.queryRow(ctx, monthSelect().Where(sq.Eq{"number": number}))
	if err != nil {
		return nil, err
	}
	var m kpi.Month
	err = row.Scan(&m.ID, &m.Number, &m.NameENG, &m.NameAMH, &m.IsFiscal)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &kpi.PeriodNotFoundError{Kind: "month", Number: number}
	}
	if err != nil {
		return nil, fmt.Errorf("get month %d: %w", number, err)
	}
	return &m, nil
}

func (c *conn) SaveMonth(ctx context.Context, m kpi.Month) error {
	return c.withRetry(ctx, func() error {
		_, err := c.exec(ctx, builder().Insert("months").
			Columns("number", "name_eng", "name_amh", "is_fiscal").
			Values(m.Number, m.NameENG, m.NameAMH, m.IsFiscal).
			Suffix(`ON CONFLICT(number) DO UPDATE SET
				name_eng = excluded.name_eng,
				name_amh = excluded.name_amh,
				is_fiscal = excluded.is_fiscal`))
		return err
	})
}

func (c *conn) ListMonths(ctx context.Context) ([]kpi.Month, error) {
	rows, err := c.query(ctx, monthSelect().OrderBy("number"))
	if err != nil {
		return nil, fmt.Errorf("list months: %w", err)
	}
	defer rows.Close()

	result := []kpi.Month{}
	for rows.Next() {
		var m kpi.Month
		if err := rows.Scan(&m.ID, &m.Number, &m.NameENG, &m.NameAMH, &m.IsFiscal); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}
