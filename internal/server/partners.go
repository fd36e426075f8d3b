package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	apikeydomain "github.com/smallbiznis/valkyrie/internal/apikey/domain"
	authdomain "github.com/smallbiznis/valkyrie/internal/auth/domain"
	partnerdomain "github.com/smallbiznis/valkyrie/internal/partner/domain"
)

type partnerView struct {
	*partnerdomain.Partner
	*apikeydomain.Response
}

type createPartnerRequest struct {
	Name         string  `json:"name" binding:"required"`
	APIRateLimit *int64  `json:"apiRateLimit" binding:"omitempty,gt=0"`
	BillingPlan  string  `json:"billingPlan"`
	ContactEmail *string `json:"contactEmail" binding:"omitempty,email"`
	ZeusManaged  *bool   `json:"zeusManaged"`
}

type updatePartnerRequest struct {
	Name         *string `json:"name"`
	APIRateLimit *int64  `json:"apiRateLimit" binding:"omitempty,gt=0"`
	BillingPlan  *string `json:"billingPlan"`
	ContactEmail *string `json:"contactEmail" binding:"omitempty,email"`
	ZeusManaged  *bool   `json:"zeusManaged"`
}

type partnerStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=active restricted suspended"`
}

type inviteUserRequest struct {
	Email string `json:"email" binding:"required,email"`
	Name  string `json:"name"`
	Role  string `json:"role" binding:"required,oneof=admin ops finance readonly"`
}

// GetOwnPartner returns the caller's partner with its key shown masked.
func (s *Server) GetOwnPartner(c *gin.Context) {
	pc, err := partnerFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	partner, err := s.partnerSvc.Get(c.Request.Context(), pc.PartnerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	key, err := s.apiKeySvc.Describe(c.Request.Context(), pc.PartnerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": partnerView{Partner: partner, Response: key}})
}

// GenerateAPIKey rotates the partner's key. The plain key appears only in
// this response.
func (s *Server) GenerateAPIKey(c *gin.Context) {
	pc, err := partnerFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	secret, err := s.apiKeySvc.Generate(c.Request.Context(), pc.PartnerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, secret)
}

func (s *Server) ListOwnUsers(c *gin.Context) {
	pc, err := partnerFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	users, err := s.authsvc.ListUsers(c.Request.Context(), pc.PartnerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": users})
}

func (s *Server) InviteOwnUser(c *gin.Context) {
	pc, err := partnerFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.inviteUser(c, pc.PartnerID)
}

func (s *Server) InvitePartnerUser(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.inviteUser(c, id)
}

func (s *Server) inviteUser(c *gin.Context, partnerID snowflake.ID) {
	var req inviteUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	result, err := s.authsvc.InviteUser(c.Request.Context(), authdomain.InviteRequest{
		PartnerID: partnerID,
		Email:     req.Email,
		Name:      strings.TrimSpace(req.Name),
		Role:      req.Role,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

func (s *Server) ListPartners(c *gin.Context) {
	partners, err := s.partnerSvc.List(c.Request.Context(), c.Query("status"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": partners})
}

func (s *Server) CreatePartner(c *gin.Context) {
	var req createPartnerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	partner, err := s.partnerSvc.Create(c.Request.Context(), partnerdomain.CreateRequest{
		Name:         req.Name,
		APIRateLimit: req.APIRateLimit,
		BillingPlan:  req.BillingPlan,
		ContactEmail: req.ContactEmail,
		ZeusManaged:  req.ZeusManaged,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": partner})
}

func (s *Server) GetPartner(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	partner, err := s.partnerSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	key, err := s.apiKeySvc.Describe(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": partnerView{Partner: partner, Response: key}})
}

func (s *Server) UpdatePartner(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req updatePartnerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	partner, err := s.partnerSvc.Update(c.Request.Context(), id, partnerdomain.UpdateRequest{
		Name:         req.Name,
		APIRateLimit: req.APIRateLimit,
		BillingPlan:  req.BillingPlan,
		ContactEmail: req.ContactEmail,
		ZeusManaged:  req.ZeusManaged,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": partner})
}

func (s *Server) SetPartnerStatus(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req partnerStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	partner, err := s.partnerSvc.SetStatus(c.Request.Context(), id, partnerdomain.Status(req.Status))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": partner})
}

func (s *Server) DeletePartner(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.partnerSvc.Delete(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
