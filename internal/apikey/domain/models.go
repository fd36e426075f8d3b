package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// APIKey is the single live credential of a partner. Only the hash and a
// masked prefix are stored.
type APIKey struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	PartnerID snowflake.ID `gorm:"column:partner_id;not null;uniqueIndex"`
	KeyHash   string       `gorm:"column:key_hash;type:text;not null;uniqueIndex"`
	MaskedKey string       `gorm:"column:masked_key;type:text;not null"`
	CreatedAt time.Time    `gorm:"not null"`
	RotatedAt time.Time    `gorm:"column:rotated_at;not null"`
}

// TableName sets the database table name.
func (APIKey) TableName() string { return "partner_api_keys" }
