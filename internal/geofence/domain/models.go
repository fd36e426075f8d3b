package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/valkyrie/internal/geometry"
	"gorm.io/datatypes"
)

type Source string

const (
	SourceZeus    Source = "zeus"
	SourcePartner Source = "partner"
)

func (s Source) Valid() bool {
	return s == SourceZeus || s == SourcePartner
}

// Geofence is a named region owned by a partner. Zeus zones bound where
// partner zones may exist; partner zones admit orders.
type Geofence struct {
	ID        snowflake.ID   `gorm:"primaryKey" json:"id"`
	PartnerID snowflake.ID   `gorm:"column:partner_id" json:"partner_id"`
	Name      string         `gorm:"column:name" json:"name"`
	Source    Source         `gorm:"column:source" json:"source"`
	Active    bool           `gorm:"column:active" json:"active"`
	Geometry  datatypes.JSON `gorm:"column:geometry" json:"geometry"`
	Version   int64          `gorm:"column:version" json:"version"`
	CreatedBy *snowflake.ID  `gorm:"column:created_by" json:"created_by,omitempty"`
	CreatedAt time.Time      `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time      `gorm:"column:updated_at" json:"updated_at"`
}

func (Geofence) TableName() string { return "geofences" }

// Shape parses the stored document into a validated geometry.
func (g Geofence) Shape() (geometry.Geometry, error) {
	return geometry.Parse(g.Geometry)
}
