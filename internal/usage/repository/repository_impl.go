package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	usagedomain "github.com/smallbiznis/valkyrie/internal/usage/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() usagedomain.Repository {
	return &repo{}
}

type valueRow struct {
	Value decimal.Decimal `gorm:"column:value"`
}

func (r *repo) Add(ctx context.Context, db *gorm.DB, id snowflake.ID, key usagedomain.Key, amount decimal.Decimal, at time.Time) (decimal.Decimal, error) {
	var rows []valueRow
	err := db.WithContext(ctx).Raw(
		`INSERT INTO usage_records (id, partner_id, metric, period, period_date, value, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (partner_id, metric, period, period_date)
		 DO UPDATE SET value = usage_records.value + excluded.value, updated_at = excluded.updated_at
		 RETURNING value`,
		id,
		key.PartnerID,
		key.Metric,
		key.Period,
		key.PeriodDate,
		amount,
		at,
		at,
	).Scan(&rows).Error
	if err != nil {
		return decimal.Zero, err
	}
	if len(rows) == 0 {
		return decimal.Zero, gorm.ErrRecordNotFound
	}
	return rows[0].Value, nil
}

func (r *repo) Subtract(ctx context.Context, db *gorm.DB, key usagedomain.Key, amount decimal.Decimal, at time.Time) (decimal.Decimal, bool, error) {
	var rows []valueRow
	err := db.WithContext(ctx).Raw(
		`UPDATE usage_records
		 SET value = value - ?, updated_at = ?
		 WHERE partner_id = ? AND metric = ? AND period = ? AND period_date = ? AND value >= ?
		 RETURNING value`,
		amount,
		at,
		key.PartnerID,
		key.Metric,
		key.Period,
		key.PeriodDate,
		amount,
	).Scan(&rows).Error
	if err != nil {
		return decimal.Zero, false, err
	}
	if len(rows) == 0 {
		return decimal.Zero, false, nil
	}
	return rows[0].Value, true, nil
}

func (r *repo) Get(ctx context.Context, db *gorm.DB, key usagedomain.Key) (decimal.Decimal, error) {
	var rows []valueRow
	err := db.WithContext(ctx).Raw(
		`SELECT value FROM usage_records
		 WHERE partner_id = ? AND metric = ? AND period = ? AND period_date = ?`,
		key.PartnerID,
		key.Metric,
		key.Period,
		key.PeriodDate,
	).Scan(&rows).Error
	if err != nil {
		return decimal.Zero, err
	}
	if len(rows) == 0 {
		return decimal.Zero, nil
	}
	return rows[0].Value, nil
}

func (r *repo) ListRange(ctx context.Context, db *gorm.DB, filter usagedomain.RangeFilter) ([]usagedomain.Record, error) {
	var items []usagedomain.Record
	stmt := db.WithContext(ctx).Model(&usagedomain.Record{}).
		Where("partner_id = ? AND period = ?", filter.PartnerID, filter.Period).
		Where("period_date >= ? AND period_date <= ?", filter.From, filter.To)
	if filter.Metric != "" {
		stmt = stmt.Where("metric = ?", filter.Metric)
	}
	if err := stmt.Order("period_date asc, metric asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) InsertCorrection(ctx context.Context, db *gorm.DB, c *usagedomain.Correction) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO usage_corrections (id, partner_id, metric, period, period_date, delta, reason, actor, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID,
		c.PartnerID,
		c.Metric,
		c.Period,
		c.PeriodDate,
		c.Delta,
		c.Reason,
		c.Actor,
		c.CreatedAt,
	).Error
}
