package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/smallbiznis/valkyrie/internal/billing/domain"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

type repo struct{}

func Provide() billingdomain.Repository {
	return &repo{}
}

func (r *repo) InsertIfAbsent(ctx context.Context, db *gorm.DB, inv *billingdomain.Invoice) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO invoices (
			id, partner_id, invoice_number, period, currency, amount, line_items, status,
			payment_terms_days, issued_at, due_date, paid_date, notes, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (partner_id, period) DO NOTHING`,
		inv.ID,
		inv.PartnerID,
		inv.InvoiceNumber,
		inv.Period,
		inv.Currency,
		inv.Amount,
		inv.LineItems,
		inv.Status,
		inv.PaymentTermsDays,
		inv.IssuedAt,
		inv.DueDate,
		inv.PaidDate,
		inv.Notes,
		inv.CreatedAt,
		inv.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*billingdomain.Invoice, error) {
	var inv billingdomain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM invoices WHERE id = ?`,
		id,
	).Scan(&inv).Error
	if err != nil {
		return nil, err
	}
	if inv.ID == 0 {
		return nil, nil
	}
	return &inv, nil
}

func (r *repo) FindByPartnerPeriod(ctx context.Context, db *gorm.DB, partnerID snowflake.ID, period string) (*billingdomain.Invoice, error) {
	var inv billingdomain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM invoices WHERE partner_id = ? AND period = ?`,
		partnerID,
		period,
	).Scan(&inv).Error
	if err != nil {
		return nil, err
	}
	if inv.ID == 0 {
		return nil, nil
	}
	return &inv, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter billingdomain.ListFilter) ([]billingdomain.Invoice, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	q := db.WithContext(ctx).Model(&billingdomain.Invoice{})
	if filter.PartnerID != 0 {
		q = q.Where("partner_id = ?", filter.PartnerID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}

	var items []billingdomain.Invoice
	if err := q.Order("period DESC").Order("id DESC").Limit(limit).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Transition(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to billingdomain.Status, fields billingdomain.TransitionFields) (int64, error) {
	updates := map[string]any{
		"status":     to,
		"updated_at": fields.UpdatedAt,
	}
	if fields.IssuedAt != nil {
		updates["issued_at"] = *fields.IssuedAt
	}
	if fields.DueDate != nil {
		updates["due_date"] = *fields.DueDate
	}
	if fields.PaidDate != nil {
		updates["paid_date"] = *fields.PaidDate
	}

	res := db.WithContext(ctx).
		Model(&billingdomain.Invoice{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
