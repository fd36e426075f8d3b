package domain

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, g *Geofence) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Geofence, error)
	ListByPartner(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Geofence, error)
	// UpdateVersioned writes g only if the stored version still equals
	// expectedVersion, and bumps the version.
	UpdateVersioned(ctx context.Context, db *gorm.DB, g *Geofence, expectedVersion int64) (bool, error)
	DeleteVersioned(ctx context.Context, db *gorm.DB, id snowflake.ID, expectedVersion int64) (bool, error)
	PartnerHasUsage(ctx context.Context, db *gorm.DB, partnerID snowflake.ID) (bool, error)
	PartnerExists(ctx context.Context, db *gorm.DB, partnerID snowflake.ID) (bool, error)
}

type ListFilter struct {
	PartnerID  snowflake.ID
	Source     Source
	ActiveOnly bool
}

type Service interface {
	CreateZone(ctx context.Context, req CreateZoneRequest) (*Geofence, error)
	UpdateZone(ctx context.Context, id snowflake.ID, patch UpdateZoneRequest) (*Geofence, error)
	DeactivateZone(ctx context.Context, id snowflake.ID) (*Geofence, error)
	// DeleteZone hard-deletes a zone whose partner has no recorded usage and
	// deactivates it otherwise. It reports whether the row was removed.
	DeleteZone(ctx context.Context, id snowflake.ID) (bool, error)
	GetZone(ctx context.Context, id snowflake.ID) (*Geofence, error)
	ListZones(ctx context.Context, partnerID snowflake.ID) ([]Geofence, error)
	ListActiveZonesFor(ctx context.Context, partnerID snowflake.ID) ([]Geofence, error)
	IsPointAdmitted(ctx context.Context, partnerID snowflake.ID, lat, lng float64) (bool, error)
}

type CreateZoneRequest struct {
	PartnerID snowflake.ID
	Name      string
	Geometry  json.RawMessage
	Source    Source
	Active    *bool
	CreatedBy *snowflake.ID
}

type UpdateZoneRequest struct {
	Name            *string
	Geometry        json.RawMessage
	Active          *bool
	ExpectedVersion *int64
}

// OutOfBoundsError is returned when a partner zone is not contained in the
// active Zeus zones. Geometry is the rejected document.
type OutOfBoundsError struct {
	Geometry json.RawMessage
}

func (e *OutOfBoundsError) Error() string {
	return "geometry is outside the authorized boundaries"
}

func (e *OutOfBoundsError) Unwrap() error { return ErrGeometryOutOfBounds }

var (
	ErrNotFound            = errors.New("geofence_not_found")
	ErrForbidden           = errors.New("geofence_forbidden")
	ErrInvalidName         = errors.New("invalid_name")
	ErrInvalidSource       = errors.New("invalid_source")
	ErrInvalidPartner      = errors.New("invalid_partner")
	ErrGeometryRequired    = errors.New("geometry_required")
	ErrGeometryOutOfBounds = errors.New("geometry_out_of_bounds")
	ErrVersionConflict     = errors.New("geofence_version_conflict")
	ErrInvalidCoordinates  = errors.New("invalid_coordinates")
)
