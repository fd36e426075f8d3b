package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/valkyrie/internal/audit/domain"
	"github.com/smallbiznis/valkyrie/internal/clock"
	geofencedomain "github.com/smallbiznis/valkyrie/internal/geofence/domain"
	"github.com/smallbiznis/valkyrie/internal/geometry"
	"github.com/smallbiznis/valkyrie/internal/partnercontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     geofencedomain.Repository
	AuditSvc auditdomain.Service
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     geofencedomain.Repository
	auditSvc auditdomain.Service

	// parsed geometries keyed by zone id and version
	shapes sync.Map
}

type shapeKey struct {
	id      snowflake.ID
	version int64
}

func New(p Params) geofencedomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("geofence.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		auditSvc: p.AuditSvc,
	}
}

// authority is who is asking: a Zeus operator or one partner.
type authority struct {
	zeus      bool
	partnerID snowflake.ID
}

func authorityFrom(ctx context.Context) (authority, error) {
	if _, ok := partnercontext.AdminFromContext(ctx); ok {
		return authority{zeus: true}, nil
	}
	if pc, ok := partnercontext.PartnerFromContext(ctx); ok {
		return authority{partnerID: pc.PartnerID}, nil
	}
	return authority{}, geofencedomain.ErrForbidden
}

// canSee hides other partners' zones behind not-found.
func (a authority) canSee(g *geofencedomain.Geofence) bool {
	return a.zeus || g.PartnerID == a.partnerID
}

func (a authority) canWrite(g *geofencedomain.Geofence) bool {
	return a.zeus || g.Source == geofencedomain.SourcePartner
}

func (s *Service) CreateZone(ctx context.Context, req geofencedomain.CreateZoneRequest) (*geofencedomain.Geofence, error) {
	auth, err := authorityFrom(ctx)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, geofencedomain.ErrInvalidName
	}
	if req.PartnerID == 0 {
		return nil, geofencedomain.ErrInvalidPartner
	}
	source := geofencedomain.Source(strings.ToLower(strings.TrimSpace(string(req.Source))))
	if !source.Valid() {
		return nil, geofencedomain.ErrInvalidSource
	}
	if !auth.zeus {
		if req.PartnerID != auth.partnerID || source != geofencedomain.SourcePartner {
			return nil, geofencedomain.ErrForbidden
		}
	}
	if len(req.Geometry) == 0 || string(req.Geometry) == "null" {
		return nil, geofencedomain.ErrGeometryRequired
	}
	shape, err := geometry.Parse(req.Geometry)
	if err != nil {
		return nil, err
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	now := s.clock.Now()
	zone := &geofencedomain.Geofence{
		ID:        s.genID.Generate(),
		PartnerID: req.PartnerID,
		Name:      name,
		Source:    source,
		Active:    active,
		Geometry:  datatypes.JSON(req.Geometry),
		Version:   1,
		CreatedBy: req.CreatedBy,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		exists, err := s.repo.PartnerExists(ctx, tx, req.PartnerID)
		if err != nil {
			return err
		}
		if !exists {
			return geofencedomain.ErrInvalidPartner
		}
		if source == geofencedomain.SourcePartner {
			if err := s.ensureContained(ctx, tx, req.PartnerID, shape, req.Geometry); err != nil {
				return err
			}
		}
		if err := s.repo.Insert(ctx, tx, zone); err != nil {
			return err
		}
		return s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			PartnerID:  &zone.PartnerID,
			Action:     auditdomain.ActionZoneCreate,
			TargetType: "geofence",
			TargetID:   zone.ID.String(),
			Metadata:   map[string]any{"name": name, "source": string(source), "active": active},
		})
	})
	if err != nil {
		return nil, err
	}

	s.shapes.Store(shapeKey{id: zone.ID, version: zone.Version}, shape)
	s.log.Info("geofence created",
		zap.String("geofence_id", zone.ID.String()),
		zap.String("partner_id", zone.PartnerID.String()),
		zap.String("source", string(source)),
	)
	return zone, nil
}

func (s *Service) UpdateZone(ctx context.Context, id snowflake.ID, patch geofencedomain.UpdateZoneRequest) (*geofencedomain.Geofence, error) {
	auth, err := authorityFrom(ctx)
	if err != nil {
		return nil, err
	}

	var updated *geofencedomain.Geofence
	var previousVersion int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		zone, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if zone == nil || !auth.canSee(zone) {
			return geofencedomain.ErrNotFound
		}
		if !auth.canWrite(zone) {
			return geofencedomain.ErrForbidden
		}
		if patch.ExpectedVersion != nil && *patch.ExpectedVersion != zone.Version {
			return geofencedomain.ErrVersionConflict
		}

		changes := map[string]any{}
		if patch.Name != nil {
			name := strings.TrimSpace(*patch.Name)
			if name == "" {
				return geofencedomain.ErrInvalidName
			}
			zone.Name = name
			changes["name"] = name
		}
		if patch.Active != nil {
			zone.Active = *patch.Active
			changes["active"] = *patch.Active
		}

		var shape geometry.Geometry
		if len(patch.Geometry) > 0 && string(patch.Geometry) != "null" {
			shape, err = geometry.Parse(patch.Geometry)
			if err != nil {
				return err
			}
			zone.Geometry = datatypes.JSON(patch.Geometry)
			changes["geometry"] = true
		}

		// A stored shape is re-checked when the zone is (or stays) active, so a
		// partner can still switch off a zone whose Zeus bounds have shrunk.
		if zone.Source == geofencedomain.SourcePartner && (!shape.IsZero() || zone.Active) {
			if shape.IsZero() {
				shape, err = s.shape(*zone)
				if err != nil {
					return err
				}
			}
			if err := s.ensureContained(ctx, tx, zone.PartnerID, shape, json.RawMessage(zone.Geometry)); err != nil {
				return err
			}
		}

		previousVersion = zone.Version
		zone.UpdatedAt = s.clock.Now()
		ok, err := s.repo.UpdateVersioned(ctx, tx, zone, zone.Version)
		if err != nil {
			return err
		}
		if !ok {
			return geofencedomain.ErrVersionConflict
		}
		zone.Version++
		updated = zone

		action := auditdomain.ActionZoneUpdate
		if patch.Active != nil && !*patch.Active && len(changes) == 1 {
			action = auditdomain.ActionZoneDeactivate
		}
		return s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			PartnerID:  &zone.PartnerID,
			Action:     action,
			TargetType: "geofence",
			TargetID:   zone.ID.String(),
			Metadata:   changes,
		})
	})
	if err != nil {
		return nil, err
	}

	s.shapes.Delete(shapeKey{id: id, version: previousVersion})
	return updated, nil
}

func (s *Service) DeactivateZone(ctx context.Context, id snowflake.ID) (*geofencedomain.Geofence, error) {
	inactive := false
	return s.UpdateZone(ctx, id, geofencedomain.UpdateZoneRequest{Active: &inactive})
}

// DeleteZone removes the zone outright while the partner has no recorded
// usage; afterwards zones are only deactivated so billed periods keep their
// history. Reports whether the row was removed.
func (s *Service) DeleteZone(ctx context.Context, id snowflake.ID) (bool, error) {
	auth, err := authorityFrom(ctx)
	if err != nil {
		return false, err
	}

	var (
		removed bool
		version int64
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		zone, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if zone == nil || !auth.canSee(zone) {
			return geofencedomain.ErrNotFound
		}
		if !auth.canWrite(zone) {
			return geofencedomain.ErrForbidden
		}
		version = zone.Version

		hasUsage, err := s.repo.PartnerHasUsage(ctx, tx, zone.PartnerID)
		if err != nil {
			return err
		}

		if hasUsage {
			if !zone.Active {
				return nil
			}
			zone.Active = false
			zone.UpdatedAt = s.clock.Now()
			ok, err := s.repo.UpdateVersioned(ctx, tx, zone, version)
			if err != nil {
				return err
			}
			if !ok {
				return geofencedomain.ErrVersionConflict
			}
			return s.auditSvc.Record(ctx, tx, auditdomain.Entry{
				PartnerID:  &zone.PartnerID,
				Action:     auditdomain.ActionZoneDeactivate,
				TargetType: "geofence",
				TargetID:   id.String(),
				Metadata:   map[string]any{"active": false},
			})
		}

		ok, err := s.repo.DeleteVersioned(ctx, tx, id, version)
		if err != nil {
			return err
		}
		if !ok {
			return geofencedomain.ErrVersionConflict
		}
		removed = true
		return s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			PartnerID:  &zone.PartnerID,
			Action:     auditdomain.ActionZoneDelete,
			TargetType: "geofence",
			TargetID:   id.String(),
			Metadata:   map[string]any{"name": zone.Name, "source": string(zone.Source)},
		})
	})
	if err != nil {
		return false, err
	}
	s.shapes.Delete(shapeKey{id: id, version: version})
	return removed, nil
}

func (s *Service) GetZone(ctx context.Context, id snowflake.ID) (*geofencedomain.Geofence, error) {
	auth, err := authorityFrom(ctx)
	if err != nil {
		return nil, err
	}
	zone, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if zone == nil || !auth.canSee(zone) {
		return nil, geofencedomain.ErrNotFound
	}
	return zone, nil
}

func (s *Service) ListZones(ctx context.Context, partnerID snowflake.ID) ([]geofencedomain.Geofence, error) {
	return s.repo.ListByPartner(ctx, s.db, geofencedomain.ListFilter{PartnerID: partnerID})
}

func (s *Service) ListActiveZonesFor(ctx context.Context, partnerID snowflake.ID) ([]geofencedomain.Geofence, error) {
	return s.repo.ListByPartner(ctx, s.db, geofencedomain.ListFilter{PartnerID: partnerID, ActiveOnly: true})
}

// IsPointAdmitted is true iff the point lies in one of the partner's own
// active zones. Zeus zones never admit orders directly.
func (s *Service) IsPointAdmitted(ctx context.Context, partnerID snowflake.ID, lat, lng float64) (bool, error) {
	if math.IsNaN(lat) || math.IsNaN(lng) || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return false, geofencedomain.ErrInvalidCoordinates
	}

	zones, err := s.repo.ListByPartner(ctx, s.db, geofencedomain.ListFilter{
		PartnerID:  partnerID,
		Source:     geofencedomain.SourcePartner,
		ActiveOnly: true,
	})
	if err != nil {
		return false, err
	}

	pt := geometry.Point{Lng: lng, Lat: lat}
	for _, z := range zones {
		shape, err := s.shape(z)
		if err != nil {
			s.log.Warn("skipping unreadable geofence", zap.String("geofence_id", z.ID.String()), zap.Error(err))
			continue
		}
		if shape.Contains(pt) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) ensureContained(ctx context.Context, tx *gorm.DB, partnerID snowflake.ID, candidate geometry.Geometry, raw json.RawMessage) error {
	bounds, err := s.repo.ListByPartner(ctx, tx, geofencedomain.ListFilter{
		PartnerID:  partnerID,
		Source:     geofencedomain.SourceZeus,
		ActiveOnly: true,
	})
	if err != nil {
		return err
	}

	shapes := make([]geometry.Geometry, 0, len(bounds))
	for _, b := range bounds {
		shape, err := s.shape(b)
		if err != nil {
			return fmt.Errorf("zeus geofence %s: %w", b.ID, err)
		}
		shapes = append(shapes, shape)
	}

	if !geometry.UnionContains(geometry.Flatten(shapes...), candidate) {
		s.log.Info("geofence rejected outside bounds",
			zap.String("partner_id", partnerID.String()),
			zap.Int("zeus_zones", len(bounds)),
		)
		return &geofencedomain.OutOfBoundsError{Geometry: raw}
	}
	return nil
}

func (s *Service) shape(g geofencedomain.Geofence) (geometry.Geometry, error) {
	key := shapeKey{id: g.ID, version: g.Version}
	if cached, ok := s.shapes.Load(key); ok {
		return cached.(geometry.Geometry), nil
	}
	shape, err := g.Shape()
	if err != nil {
		return geometry.Geometry{}, err
	}
	s.shapes.Store(key, shape)
	return shape, nil
}
