package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Key struct {
	PartnerID  snowflake.ID
	Metric     Metric
	Period     Period
	PeriodDate time.Time
}

type Repository interface {
	// Add atomically adds amount to the bucket, creating it when absent,
	// and returns the new value.
	Add(ctx context.Context, db *gorm.DB, id snowflake.ID, key Key, amount decimal.Decimal, at time.Time) (decimal.Decimal, error)
	// Subtract lowers the bucket by amount; ok is false when the bucket is
	// missing or would go negative, in which case nothing changes.
	Subtract(ctx context.Context, db *gorm.DB, key Key, amount decimal.Decimal, at time.Time) (decimal.Decimal, bool, error)
	Get(ctx context.Context, db *gorm.DB, key Key) (decimal.Decimal, error)
	ListRange(ctx context.Context, db *gorm.DB, filter RangeFilter) ([]Record, error)
	InsertCorrection(ctx context.Context, db *gorm.DB, c *Correction) error
}

type RangeFilter struct {
	PartnerID snowflake.ID
	Metric    Metric
	Period    Period
	From      time.Time
	To        time.Time
}

type Service interface {
	// Increment records amount against both the daily and monthly buckets
	// containing at, in one transaction.
	Increment(ctx context.Context, partnerID snowflake.ID, metric Metric, amount decimal.Decimal, at time.Time) (Totals, error)
	Read(ctx context.Context, partnerID snowflake.ID, metric Metric, period Period, periodDate time.Time) (decimal.Decimal, error)
	ReadRange(ctx context.Context, partnerID snowflake.ID, metric Metric, period Period, from, to time.Time) ([]Value, error)
	Summary(ctx context.Context, req SummaryRequest) (*Summary, error)
	Correct(ctx context.Context, req CorrectionRequest) (*CorrectionResult, error)
	// Reverse undoes an earlier Increment of amount at the same instant.
	Reverse(ctx context.Context, partnerID snowflake.ID, metric Metric, amount decimal.Decimal, at time.Time, reason string) error
	MonthTotals(ctx context.Context, partnerID snowflake.ID, month time.Time) (map[Metric]decimal.Decimal, error)
}

type Totals struct {
	Daily   decimal.Decimal `json:"daily"`
	Monthly decimal.Decimal `json:"monthly"`
}

type Value struct {
	PeriodDate time.Time       `json:"period_date"`
	Value      decimal.Decimal `json:"value"`
}

type SummaryRequest struct {
	PartnerID snowflake.ID
	Period    Period
	From      time.Time
	To        time.Time
}

type Summary struct {
	PartnerID string                     `json:"partner_id"`
	Period    Period                     `json:"period"`
	From      time.Time                  `json:"from"`
	To        time.Time                  `json:"to"`
	Totals    map[Metric]decimal.Decimal `json:"totals"`
	Breakdown []Record                   `json:"breakdown"`
}

type CorrectionRequest struct {
	PartnerID  snowflake.ID
	Metric     Metric
	Period     Period
	PeriodDate time.Time
	Delta      decimal.Decimal
	Reason     string
}

type CorrectionResult struct {
	Correction Correction      `json:"correction"`
	Value      decimal.Decimal `json:"value"`
}

var (
	ErrInvalidPartner  = errors.New("invalid_partner")
	ErrInvalidMetric   = errors.New("invalid_metric")
	ErrInvalidPeriod   = errors.New("invalid_period")
	ErrInvalidAmount   = errors.New("invalid_amount")
	ErrInvalidRange    = errors.New("invalid_range")
	ErrInvalidReason   = errors.New("invalid_reason")
	ErrNegativeBalance = errors.New("usage_negative_balance")
)
