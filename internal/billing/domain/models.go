package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusDraft  Status = "draft"
	StatusIssued Status = "issued"
	StatusPaid   Status = "paid"
)

// next is the only status each status may move to.
var next = map[Status]Status{
	StatusDraft:  StatusIssued,
	StatusIssued: StatusPaid,
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to Status) bool {
	n, ok := next[from]
	return ok && n == to
}

func (s Status) Valid() bool {
	return s == StatusDraft || s == StatusIssued || s == StatusPaid
}

// LineItem is one priced usage metric on an invoice.
type LineItem struct {
	Metric      string          `json:"metric"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Amount      decimal.Decimal `json:"amount"`
}

type Invoice struct {
	ID               snowflake.ID    `gorm:"primaryKey" json:"id"`
	PartnerID        snowflake.ID    `gorm:"column:partner_id" json:"partnerId"`
	InvoiceNumber    string          `gorm:"column:invoice_number" json:"invoiceNumber"`
	Period           string          `gorm:"column:period" json:"period"`
	Currency         string          `gorm:"column:currency" json:"currency"`
	Amount           decimal.Decimal `gorm:"column:amount" json:"amount"`
	LineItems        datatypes.JSON  `gorm:"column:line_items" json:"lineItems"`
	Status           Status          `gorm:"column:status" json:"status"`
	PaymentTermsDays int             `gorm:"column:payment_terms_days" json:"paymentTermsDays"`
	IssuedAt         *time.Time      `gorm:"column:issued_at" json:"issuedAt,omitempty"`
	DueDate          *time.Time      `gorm:"column:due_date" json:"dueDate,omitempty"`
	PaidDate         *time.Time      `gorm:"column:paid_date" json:"paidDate,omitempty"`
	Notes            *string         `gorm:"column:notes" json:"notes,omitempty"`
	CreatedAt        time.Time       `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt        time.Time       `gorm:"column:updated_at" json:"updatedAt"`
}

func (Invoice) TableName() string { return "invoices" }

func (i *Invoice) Lines() ([]LineItem, error) {
	if len(i.LineItems) == 0 {
		return nil, nil
	}
	var lines []LineItem
	if err := json.Unmarshal(i.LineItems, &lines); err != nil {
		return nil, fmt.Errorf("decode line items: %w", err)
	}
	return lines, nil
}

// Period is a closed calendar month, labelled "YYYY-MM".
type Period struct {
	Start time.Time
	End   time.Time
}

func (p Period) Label() string { return p.Start.Format("2006-01") }

func ParsePeriod(label string) (Period, error) {
	start, err := time.Parse("2006-01", label)
	if err != nil {
		return Period{}, ErrInvalidPeriod
	}
	start = time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
	return Period{Start: start, End: start.AddDate(0, 1, 0)}, nil
}

// PeriodOf returns the calendar month containing at.
func PeriodOf(at time.Time) Period {
	at = at.UTC()
	start := time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC)
	return Period{Start: start, End: start.AddDate(0, 1, 0)}
}
