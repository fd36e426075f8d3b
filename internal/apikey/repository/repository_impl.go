package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/smallbiznis/valkyrie/internal/apikey/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() apikeydomain.Repository {
	return &repo{}
}

func (r *repo) Replace(ctx context.Context, db *gorm.DB, key *apikeydomain.APIKey) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO partner_api_keys (id, partner_id, key_hash, masked_key, created_at, rotated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (partner_id)
		 DO UPDATE SET key_hash = excluded.key_hash, masked_key = excluded.masked_key, rotated_at = excluded.rotated_at`,
		key.ID,
		key.PartnerID,
		key.KeyHash,
		key.MaskedKey,
		key.CreatedAt,
		key.RotatedAt,
	).Error
}

func (r *repo) FindByHash(ctx context.Context, db *gorm.DB, hash string) (*apikeydomain.APIKey, error) {
	var key apikeydomain.APIKey
	err := db.WithContext(ctx).Raw(
		`SELECT id, partner_id, key_hash, masked_key, created_at, rotated_at
		 FROM partner_api_keys WHERE key_hash = ?`,
		hash,
	).Scan(&key).Error
	if err != nil {
		return nil, err
	}
	if key.ID == 0 {
		return nil, nil
	}
	return &key, nil
}

func (r *repo) FindByPartner(ctx context.Context, db *gorm.DB, partnerID snowflake.ID) (*apikeydomain.APIKey, error) {
	var key apikeydomain.APIKey
	err := db.WithContext(ctx).Raw(
		`SELECT id, partner_id, key_hash, masked_key, created_at, rotated_at
		 FROM partner_api_keys WHERE partner_id = ?`,
		partnerID,
	).Scan(&key).Error
	if err != nil {
		return nil, err
	}
	if key.ID == 0 {
		return nil, nil
	}
	return &key, nil
}

func (r *repo) PartnerExists(ctx context.Context, db *gorm.DB, partnerID snowflake.ID) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(`SELECT COUNT(1) FROM partners WHERE id = ?`, partnerID).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
