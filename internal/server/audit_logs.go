package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/valkyrie/internal/audit/domain"
)

type listAuditLogsQuery struct {
	PartnerID  string `form:"partnerId"`
	Action     string `form:"action"`
	TargetType string `form:"targetType"`
	TargetID   string `form:"targetId"`
	Limit      string `form:"limit"`
	Offset     string `form:"offset"`
}

func (s *Server) ListAuditLogs(c *gin.Context) {
	var query listAuditLogsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	partnerID, err := parseOptionalSnowflakeID(query.PartnerID)
	if err != nil {
		AbortWithError(c, newValidationError("partnerId", "invalid_partner_id", "partnerId is not a valid id"))
		return
	}
	limit, err := parseOptionalInt64(query.Limit)
	if err != nil || (limit != nil && *limit < 0) {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}
	offset, err := parseOptionalInt64(query.Offset)
	if err != nil || (offset != nil && *offset < 0) {
		AbortWithError(c, newValidationError("offset", "invalid_offset", "invalid offset"))
		return
	}

	filter := auditdomain.ListFilter{
		PartnerID:  partnerID,
		Action:     strings.TrimSpace(query.Action),
		TargetType: strings.TrimSpace(query.TargetType),
		TargetID:   strings.TrimSpace(query.TargetID),
	}
	if limit != nil {
		filter.Limit = int(*limit)
	}
	if offset != nil {
		filter.Offset = int(*offset)
	}

	logs, err := s.auditSvc.List(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": logs, "limit": filter.Limit, "offset": filter.Offset})
}
