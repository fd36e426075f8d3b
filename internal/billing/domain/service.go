package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PricingInput is what a pricing function sees of one partner-period.
type PricingInput struct {
	PartnerID   snowflake.ID
	BillingPlan string
	Period      Period
	Usage       map[string]decimal.Decimal
}

type Quote struct {
	Currency         string
	Lines            []LineItem
	PaymentTermsDays int
}

func (q Quote) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range q.Lines {
		total = total.Add(l.Amount)
	}
	return total
}

// PricingFunc turns a period's usage into invoice lines.
type PricingFunc func(ctx context.Context, in PricingInput) (Quote, error)

type ListFilter struct {
	PartnerID snowflake.ID
	Status    Status
	Limit     int
}

type Repository interface {
	// InsertIfAbsent inserts inv unless the partner already has an invoice
	// for the period; inserted reports which happened.
	InsertIfAbsent(ctx context.Context, db *gorm.DB, inv *Invoice) (inserted bool, err error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
	FindByPartnerPeriod(ctx context.Context, db *gorm.DB, partnerID snowflake.ID, period string) (*Invoice, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Invoice, error)
	// Transition moves an invoice from one status to another, changing
	// nothing unless the stored status still equals from.
	Transition(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to Status, fields TransitionFields) (int64, error)
}

type TransitionFields struct {
	IssuedAt  *time.Time
	DueDate   *time.Time
	PaidDate  *time.Time
	UpdatedAt time.Time
}

type Service interface {
	// ClosePeriod returns the partner's invoice for the period, creating a
	// draft when none exists. created is false when one already existed.
	ClosePeriod(ctx context.Context, partnerID snowflake.ID, period string) (inv *Invoice, created bool, err error)
	Issue(ctx context.Context, id snowflake.ID) (*Invoice, error)
	MarkPaid(ctx context.Context, id snowflake.ID, paidDate time.Time) (*Invoice, error)
	Get(ctx context.Context, id snowflake.ID) (*Invoice, error)
	List(ctx context.Context, filter ListFilter) ([]Invoice, error)
	RenderPDF(ctx context.Context, id snowflake.ID) ([]byte, error)
}

var (
	ErrNotFound          = errors.New("invoice_not_found")
	ErrInvalidTransition = errors.New("invalid_transition")
	ErrInvalidPeriod     = errors.New("invalid_period")
	ErrPeriodOpen        = errors.New("period_not_closed")
	ErrInvalidPartner    = errors.New("invalid_partner")
	ErrInvalidPaidDate   = errors.New("invalid_paid_date")
	ErrInvalidStatus     = errors.New("invalid_status")
	ErrPricing           = errors.New("pricing_failed")
)
