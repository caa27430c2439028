package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/ethstat/kpi-dashboard/kpi"
)

// =============================================================================
// INDICATORS
// =============================================================================

func indicatorSelect() sq.SelectBuilder {
	return builder().
		Select(
			"i.id", "i.code", "i.title_eng", "i.title_amh", "i.parent_id",
			"i.frequency", "i.kpi_characteristic", "i.measurement_unit",
			"i.is_verified", "i.created_at", "i.updated_at",
			"GROUP_CONCAT(ic.category_id)",
		).
		From("indicators i").
		LeftJoin("indicator_categories ic ON ic.indicator_id = i.id").
		GroupBy("i.id")
}

func scanIndicator(row scanner) (kpi.Indicator, error) {
	var (
		ind                  kpi.Indicator
		code, parent, cats   sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(
		&ind.ID, &code, &ind.TitleENG, &ind.TitleAMH, &parent,
		&ind.Frequency, &ind.Characteristic, &ind.MeasurementUnit,
		&ind.IsVerified, &createdAt, &updatedAt, &cats,
	)
	if err != nil {
		return ind, err
	}
	ind.Code = code.String
	if parent.Valid {
		p := kpi.IndicatorID(parent.String)
		ind.ParentID = &p
	}
	if cats.Valid && cats.String != "" {
		for _, c := range strings.Split(cats.String, ",") {
			ind.CategoryIDs = append(ind.CategoryIDs, kpi.CategoryID(c))
		}
	}
	ind.CreatedAt = parseTime(createdAt)
	ind.UpdatedAt = parseTime(updatedAt)
	return ind, nil
}

func (c *conn) GetIndicator(ctx context.Context, id kpi.IndicatorID) (*kpi.Indicator, error) {
	row, err := c.queryRow(ctx, indicatorSelect().Where(sq.Eq{"i.id": string(id)}))
	if err != nil {
		return nil, err
	}
	ind, err := scanIndicator(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kpi.ErrIndicatorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get indicator %s: %w", id, err)
	}
	return &ind, nil
}

// SaveIndicator replaces the indicator row and its category links.
func (c *conn) SaveIndicator(ctx context.Context, ind kpi.Indicator) error {
	now := time.Now().UTC()
	if ind.CreatedAt.IsZero() {
		ind.CreatedAt = now
	}
	if ind.UpdatedAt.IsZero() {
		ind.UpdatedAt = now
	}
	var parent sql.NullString
	if ind.ParentID != nil {
		parent = nullString(string(*ind.ParentID))
	}

	return c.atomic(ctx, func(tx *conn) error {
		_, err := tx.exec(ctx, builder().
			Insert("indicators").
			Columns("id", "code", "title_eng", "title_amh", "parent_id", "frequency",
				"kpi_characteristic", "measurement_unit", "is_verified", "created_at", "updated_at").
			Values(string(ind.ID), nullString(ind.Code), ind.TitleENG, ind.TitleAMH, parent,
				string(ind.Frequency), string(ind.Characteristic), ind.MeasurementUnit,
				ind.IsVerified, formatTime(ind.CreatedAt), formatTime(ind.UpdatedAt)).
			Suffix(`ON CONFLICT(id) DO UPDATE SET
				code = excluded.code,
				title_eng = excluded.title_eng,
				title_amh = excluded.title_amh,
				parent_id = excluded.parent_id,
				frequency = excluded.frequency,
				kpi_characteristic = excluded.kpi_characteristic,
				measurement_unit = excluded.measurement_unit,
				is_verified = excluded.is_verified,
				updated_at = excluded.updated_at`))
		if isUniqueConstraintError(err) {
			return kpi.ErrDuplicateCode
		}
		if err != nil {
			return fmt.Errorf("save indicator %s: %w", ind.ID, err)
		}

		if _, err := tx.exec(ctx, builder().Delete("indicator_categories").
			Where(sq.Eq{"indicator_id": string(ind.ID)})); err != nil {
			return fmt.Errorf("clear indicator categories: %w", err)
		}
		for _, cat := range ind.CategoryIDs {
			if _, err := tx.exec(ctx, builder().Insert("indicator_categories").
				Columns("indicator_id", "category_id").
				Values(string(ind.ID), string(cat))); err != nil {
				return fmt.Errorf("link indicator %s to category %s: %w", ind.ID, cat, err)
			}
		}
		return nil
	})
}

func (c *conn) ListIndicators(ctx context.Context, filter kpi.IndicatorFilter) ([]kpi.Indicator, error) {
	q := indicatorSelect().OrderBy("i.code", "i.id")
	if filter.CategoryID != nil {
		q = q.Where("i.id IN (SELECT indicator_id FROM indicator_categories WHERE category_id = ?)", string(*filter.CategoryID))
	}
	if filter.ParentID != nil {
		q = q.Where(sq.Eq{"i.parent_id": string(*filter.ParentID)})
	}
	if filter.Verified != nil {
		q = q.Where(sq.Eq{"i.is_verified": *filter.Verified})
	}

	rows, err := c.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list indicators: %w", err)
	}
	defer rows.Close()

	result := []kpi.Indicator{}
	for rows.Next() {
		ind, err := scanIndicator(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, ind)
	}
	return result, rows.Err()
}

func (c *conn) IndicatorCodes(ctx context.Context, parentID *kpi.IndicatorID) ([]string, error) {
	q := builder().Select("code").From("indicators").
		Where(sq.NotEq{"code": nil}).
		OrderBy("code")
	if parentID == nil {
		q = q.Where(sq.Eq{"parent_id": nil})
	} else {
		q = q.Where(sq.Eq{"parent_id": string(*parentID)})
	}

	rows, err := c.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list indicator codes: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

func (c *conn) SetIndicatorsVerified(ctx context.Context, ids []kpi.IndicatorID, verified bool) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = string(id)
	}

	var n int64
	err := c.withRetry(ctx, func() error {
		res, err := c.exec(ctx, builder().Update("indicators").
			Set("is_verified", verified).
			Set("updated_at", formatTime(time.Now())).
			Where(sq.Eq{"id": keys}))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("verify indicators: %w", err)
	}
	return int(n), nil
}

// =============================================================================
// CATEGORIES & TOPICS
// =============================================================================

func categorySelect() sq.SelectBuilder {
	return builder().Select("id", "code", "name_eng", "name_amh", "topic_id", "created_at").From("categories")
}

func scanCategory(row scanner) (kpi.Category, error) {
	var (
		cat       kpi.Category
		topic     sql.NullString
		createdAt string
	)
	if err := row.Scan(&cat.ID, &cat.Code, &cat.NameENG, &cat.NameAMH, &topic, &createdAt); err != nil {
		return cat, err
	}
	if topic.Valid {
		t := kpi.TopicID(topic.String)
		cat.TopicID = &t
	}
	cat.CreatedAt = parseTime(createdAt)
	return cat, nil
}

func (c *conn) GetCategory(ctx context.Context, id kpi.CategoryID) (*kpi.Category, error) {
	row, err := c.queryRow(ctx, categorySelect().Where(sq.Eq{"id": string(id)}))
	if err != nil {
		return nil, err
	}
	cat, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kpi.ErrCategoryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get category %s: %w", id, err)
	}
	return &cat, nil
}

func (c *conn) SaveCategory(ctx context.Context, cat kpi.Category) error {
	if cat.CreatedAt.IsZero() {
		cat.CreatedAt = time.Now().UTC()
	}
	var topic sql.NullString
	if cat.TopicID != nil {
		topic = nullString(string(*cat.TopicID))
	}
	return c.withRetry(ctx, func() error {
		_, err := c.exec(ctx, builder().Insert("categories").
			Columns("id", "code", "name_eng", "name_amh", "topic_id", "created_at").
			Values(string(cat.ID), cat.Code, cat.NameENG, cat.NameAMH, topic, formatTime(cat.CreatedAt)).
			Suffix(`ON CONFLICT(id) DO UPDATE SET
				code = excluded.code,
				name_eng = excluded.name_eng,
				name_amh = excluded.name_amh,
				topic_id = excluded.topic_id`))
		if isUniqueConstraintError(err) {
			return kpi.ErrDuplicateCode
		}
		return err
	})
}

func (c *conn) ListCategories(ctx context.Context) ([]kpi.Category, error) {
	rows, err := c.query(ctx, categorySelect().OrderBy("code"))
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	result := []kpi.Category{}
	for rows.Next() {
		cat, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, cat)
	}
	return result, rows.Err()
}

func (c *conn) SaveTopic(ctx context.Context, t kpi.Topic) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	return c.withRetry(ctx, func() error {
		_, err := c.exec(ctx, builder().Insert("topics").
			Columns("id", "title_eng", "title_amh", "rank", "created_at").
			Values(string(t.ID), t.TitleENG, t.TitleAMH, t.Rank, formatTime(t.CreatedAt)).
			Suffix(`ON CONFLICT(id) DO UPDATE SET
				title_eng = excluded.title_eng,
				title_amh = excluded.title_amh,
				rank = excluded.rank`))
		return err
	})
}

func (c *conn) ListTopics(ctx context.Context) ([]kpi.Topic, error) {
	rows, err := c.query(ctx, builder().
		Select("id", "title_eng", "title_amh", "rank", "created_at").
		From("topics").
		OrderBy("rank", "title_eng"))
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	defer rows.Close()

	result := []kpi.Topic{}
	for rows.Next() {
		var (
			t         kpi.Topic
			createdAt string
		)
		if err := rows.Scan(&t.ID, &t.TitleENG, &t.TitleAMH, &t.Rank, &createdAt); err != nil {
			return nil, err
		}
		t.CreatedAt = parseTime(createdAt)
		result = append(result, t)
	}
	return result, rows.Err()
}
