package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	usagedomain "github.com/smallbiznis/valkyrie/internal/usage/domain"
)

type usageQuery struct {
	Period string `form:"period" binding:"period"`
	From   string `form:"from"`
	To     string `form:"to"`
}

type correctUsageRequest struct {
	Metric     string          `json:"metric" binding:"required,metric"`
	Period     string          `json:"period" binding:"period"`
	PeriodDate string          `json:"periodDate" binding:"required"`
	Delta      decimal.Decimal `json:"delta"`
	Reason     string          `json:"reason" binding:"required"`
}

func (s *Server) GetOwnUsage(c *gin.Context) {
	pc, err := partnerFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.usageSummary(c, pc.PartnerID)
}

func (s *Server) GetPartnerUsage(c *gin.Context) {
	id, err := pathID(c, "partnerId")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.usageSummary(c, id)
}

func (s *Server) usageSummary(c *gin.Context, partnerID snowflake.ID) {
	var query usageQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, bindError(err))
		return
	}
	from, err := parseOptionalTime(query.From, false)
	if err != nil {
		AbortWithError(c, newValidationError("from", "invalid_from", "from must be a date or RFC3339 timestamp"))
		return
	}
	to, err := parseOptionalTime(query.To, true)
	if err != nil {
		AbortWithError(c, newValidationError("to", "invalid_to", "to must be a date or RFC3339 timestamp"))
		return
	}

	req := usagedomain.SummaryRequest{
		PartnerID: partnerID,
		Period:    usagedomain.Period(query.Period),
	}
	if from != nil {
		req.From = *from
	}
	if to != nil {
		req.To = *to
	}

	summary, err := s.usageSvc.Summary(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": summary})
}

// CorrectUsage applies a signed adjustment to one counter. The correction
// and its audit entry are written together.
func (s *Server) CorrectUsage(c *gin.Context) {
	id, err := pathID(c, "partnerId")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req correctUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}
	periodDate, err := parseOptionalTime(req.PeriodDate, false)
	if err != nil || periodDate == nil {
		AbortWithError(c, newValidationError("periodDate", "invalid_period_date", "periodDate must be a date"))
		return
	}
	period := usagedomain.Period(req.Period)
	if period == "" {
		period = usagedomain.PeriodDaily
	}

	result, err := s.usageSvc.Correct(c.Request.Context(), usagedomain.CorrectionRequest{
		PartnerID:  id,
		Metric:     usagedomain.Metric(req.Metric),
		Period:     period,
		PeriodDate: *periodDate,
		Delta:      req.Delta,
		Reason:     strings.TrimSpace(req.Reason),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": result})
}
