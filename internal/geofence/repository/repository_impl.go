package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	geofencedomain "github.com/smallbiznis/valkyrie/internal/geofence/domain"
	"gorm.io/gorm"
)

const geofenceColumns = `id, partner_id, name, source, active, geometry, version, created_by, created_at, updated_at`

type repo struct{}

func Provide() geofencedomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, g *geofencedomain.Geofence) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO geofences (`+geofenceColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID,
		g.PartnerID,
		g.Name,
		g.Source,
		g.Active,
		g.Geometry,
		g.Version,
		g.CreatedBy,
		g.CreatedAt,
		g.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*geofencedomain.Geofence, error) {
	var g geofencedomain.Geofence
	err := db.WithContext(ctx).Raw(
		`SELECT `+geofenceColumns+` FROM geofences WHERE id = ?`,
		id,
	).Scan(&g).Error
	if err != nil {
		return nil, err
	}
	if g.ID == 0 {
		return nil, nil
	}
	return &g, nil
}

func (r *repo) ListByPartner(ctx context.Context, db *gorm.DB, filter geofencedomain.ListFilter) ([]geofencedomain.Geofence, error) {
	var items []geofencedomain.Geofence
	stmt := db.WithContext(ctx).Model(&geofencedomain.Geofence{}).
		Where("partner_id = ?", filter.PartnerID)
	if filter.Source != "" {
		stmt = stmt.Where("source = ?", filter.Source)
	}
	if filter.ActiveOnly {
		stmt = stmt.Where("active = ?", true)
	}
	if err := stmt.Order("created_at desc, id desc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) UpdateVersioned(ctx context.Context, db *gorm.DB, g *geofencedomain.Geofence, expectedVersion int64) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE geofences
		 SET name = ?, active = ?, geometry = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		g.Name,
		g.Active,
		g.Geometry,
		g.UpdatedAt,
		g.ID,
		expectedVersion,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) DeleteVersioned(ctx context.Context, db *gorm.DB, id snowflake.ID, expectedVersion int64) (bool, error) {
	res := db.WithContext(ctx).Exec(`DELETE FROM geofences WHERE id = ? AND version = ?`, id, expectedVersion)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) PartnerHasUsage(ctx context.Context, db *gorm.DB, partnerID snowflake.ID) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM usage_records WHERE partner_id = ?`,
		partnerID,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) PartnerExists(ctx context.Context, db *gorm.DB, partnerID snowflake.ID) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM partners WHERE id = ?`,
		partnerID,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
