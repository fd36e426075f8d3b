package server

import (
	"encoding/json"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	geofencedomain "github.com/smallbiznis/valkyrie/internal/geofence/domain"
	"github.com/smallbiznis/valkyrie/internal/partnercontext"
)

type createZoneRequest struct {
	Name     string          `json:"name" binding:"required"`
	Geometry json.RawMessage `json:"geometry" binding:"required"`
	Source   string          `json:"source" binding:"omitempty,oneof=zeus partner"`
	Active   *bool           `json:"active"`
}

type updateZoneRequest struct {
	Name     *string         `json:"name"`
	Geometry json.RawMessage `json:"geometry"`
	Active   *bool           `json:"active"`
	Version  *int64          `json:"version" binding:"omitempty,gt=0"`
}

func (s *Server) ListOwnZones(c *gin.Context) {
	pc, err := partnerFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.listZones(c, pc.PartnerID)
}

func (s *Server) ListPartnerZones(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.listZones(c, id)
}

func (s *Server) listZones(c *gin.Context, partnerID snowflake.ID) {
	zones, err := s.zoneSvc.ListZones(c.Request.Context(), partnerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": zones})
}

// CreateOwnZone stores a partner-drawn zone. It must lie inside the
// partner's active Zeus zones.
func (s *Server) CreateOwnZone(c *gin.Context) {
	pc, err := partnerFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req createZoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	s.createZone(c, geofencedomain.CreateZoneRequest{
		PartnerID: pc.PartnerID,
		Name:      req.Name,
		Geometry:  req.Geometry,
		Source:    geofencedomain.SourcePartner,
		Active:    req.Active,
	})
}

func (s *Server) CreatePartnerZone(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req createZoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	source := geofencedomain.SourceZeus
	if req.Source != "" {
		source = geofencedomain.Source(req.Source)
	}
	create := geofencedomain.CreateZoneRequest{
		PartnerID: id,
		Name:      req.Name,
		Geometry:  req.Geometry,
		Source:    source,
		Active:    req.Active,
	}
	if admin, ok := partnercontext.AdminFromContext(c.Request.Context()); ok {
		adminID := admin.AdminID
		create.CreatedBy = &adminID
	}

	s.createZone(c, create)
}

func (s *Server) createZone(c *gin.Context, req geofencedomain.CreateZoneRequest) {
	zone, err := s.zoneSvc.CreateZone(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": zone})
}

// UpdateZone serves both APIs. Ownership is checked by the zone service
// against the caller in the request context.
func (s *Server) UpdateZone(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req updateZoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	zone, err := s.zoneSvc.UpdateZone(c.Request.Context(), id, geofencedomain.UpdateZoneRequest{
		Name:            req.Name,
		Geometry:        req.Geometry,
		Active:          req.Active,
		ExpectedVersion: req.Version,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": zone})
}

func (s *Server) DeleteZone(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	deleted, err := s.zoneSvc.DeleteZone(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id.String(), "deleted": deleted})
}
