package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Metric string

const (
	MetricOrders   Metric = "orders"
	MetricAPICalls Metric = "api_calls"
	MetricKm       Metric = "km"
	MetricDrivers  Metric = "drivers"
)

var Metrics = []Metric{MetricOrders, MetricAPICalls, MetricKm, MetricDrivers}

func (m Metric) Valid() bool {
	switch m {
	case MetricOrders, MetricAPICalls, MetricKm, MetricDrivers:
		return true
	}
	return false
}

type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodMonthly Period = "monthly"
)

func (p Period) Valid() bool {
	return p == PeriodDaily || p == PeriodMonthly
}

// Truncate returns the start of the bucket that contains at, in UTC.
func (p Period) Truncate(at time.Time) time.Time {
	at = at.UTC()
	if p == PeriodMonthly {
		return time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
}

// Record is the accumulated value of one metric in one bucket.
type Record struct {
	ID         snowflake.ID    `gorm:"primaryKey" json:"id"`
	PartnerID  snowflake.ID    `gorm:"column:partner_id" json:"partner_id"`
	Metric     Metric          `gorm:"column:metric" json:"metric"`
	Period     Period          `gorm:"column:period" json:"period"`
	PeriodDate time.Time       `gorm:"column:period_date" json:"period_date"`
	Value      decimal.Decimal `gorm:"column:value" json:"value"`
	CreatedAt  time.Time       `gorm:"column:created_at" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"column:updated_at" json:"updated_at"`
}

func (Record) TableName() string { return "usage_records" }

// Correction is a signed adjustment applied to one bucket.
type Correction struct {
	ID         snowflake.ID    `gorm:"primaryKey" json:"id"`
	PartnerID  snowflake.ID    `gorm:"column:partner_id" json:"partner_id"`
	Metric     Metric          `gorm:"column:metric" json:"metric"`
	Period     Period          `gorm:"column:period" json:"period"`
	PeriodDate time.Time       `gorm:"column:period_date" json:"period_date"`
	Delta      decimal.Decimal `gorm:"column:delta" json:"delta"`
	Reason     string          `gorm:"column:reason" json:"reason"`
	Actor      string          `gorm:"column:actor" json:"actor"`
	CreatedAt  time.Time       `gorm:"column:created_at" json:"created_at"`
}

func (Correction) TableName() string { return "usage_corrections" }
