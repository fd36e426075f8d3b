package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	partnerdomain "github.com/smallbiznis/valkyrie/internal/partner/domain"
	"gorm.io/gorm"
)

const partnerColumns = `id, name, slug, status, api_rate_limit, zeus_managed, billing_plan, contact_email, created_at, updated_at`

type repo struct{}

func Provide() partnerdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, p *partnerdomain.Partner) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO partners (`+partnerColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID,
		p.Name,
		p.Slug,
		p.Status,
		p.APIRateLimit,
		p.ZeusManaged,
		p.BillingPlan,
		p.ContactEmail,
		p.CreatedAt,
		p.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*partnerdomain.Partner, error) {
	var p partnerdomain.Partner
	err := db.WithContext(ctx).Raw(
		`SELECT `+partnerColumns+` FROM partners WHERE id = ?`,
		id,
	).Scan(&p).Error
	if err != nil {
		return nil, err
	}
	if p.ID == 0 {
		return nil, nil
	}
	return &p, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, status partnerdomain.Status) ([]partnerdomain.Partner, error) {
	var items []partnerdomain.Partner
	stmt := db.WithContext(ctx).Model(&partnerdomain.Partner{})
	if status != "" {
		stmt = stmt.Where("status = ?", status)
	}
	if err := stmt.Order("created_at asc, id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, p *partnerdomain.Partner) error {
	return db.WithContext(ctx).Exec(
		`UPDATE partners
		 SET name = ?, slug = ?, status = ?, api_rate_limit = ?, zeus_managed = ?, billing_plan = ?, contact_email = ?, updated_at = ?
		 WHERE id = ?`,
		p.Name,
		p.Slug,
		p.Status,
		p.APIRateLimit,
		p.ZeusManaged,
		p.BillingPlan,
		p.ContactEmail,
		p.UpdatedAt,
		p.ID,
	).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error) {
	res := db.WithContext(ctx).Exec(`DELETE FROM partners WHERE id = ?`, id)
	return res.RowsAffected, res.Error
}
