package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	billingdomain "github.com/smallbiznis/valkyrie/internal/billing/domain"
)

type invoiceQuery struct {
	PartnerID string `form:"partnerId"`
	Status    string `form:"status" binding:"omitempty,oneof=draft issued paid"`
	Limit     int    `form:"limit" binding:"omitempty,min=1,max=500"`
}

type closePeriodRequest struct {
	PartnerID string `json:"partnerId" binding:"required"`
	Period    string `json:"period" binding:"required,month"`
}

type markPaidRequest struct {
	PaidDate string `json:"paidDate"`
}

func (s *Server) ListOwnInvoices(c *gin.Context) {
	pc, err := partnerFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var query invoiceQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	s.listInvoices(c, billingdomain.ListFilter{
		PartnerID: pc.PartnerID,
		Status:    billingdomain.Status(query.Status),
		Limit:     query.Limit,
	})
}

func (s *Server) ListInvoices(c *gin.Context) {
	var query invoiceQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, bindError(err))
		return
	}
	filter := billingdomain.ListFilter{
		Status: billingdomain.Status(query.Status),
		Limit:  query.Limit,
	}
	partnerID, err := parseOptionalSnowflakeID(query.PartnerID)
	if err != nil {
		AbortWithError(c, newValidationError("partnerId", "invalid_partner_id", "partnerId is not a valid id"))
		return
	}
	if partnerID != nil {
		filter.PartnerID = *partnerID
	}

	s.listInvoices(c, filter)
}

func (s *Server) listInvoices(c *gin.Context, filter billingdomain.ListFilter) {
	invoices, err := s.billingSvc.List(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoices})
}

// ClosePeriod drafts the invoice for a finished month. Repeating the call
// returns the existing invoice with 200.
func (s *Server) ClosePeriod(c *gin.Context) {
	var req closePeriodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}
	partnerID, err := parseOptionalSnowflakeID(req.PartnerID)
	if err != nil || partnerID == nil {
		AbortWithError(c, newValidationError("partnerId", "invalid_partner_id", "partnerId is not a valid id"))
		return
	}

	inv, created, err := s.billingSvc.ClosePeriod(c.Request.Context(), *partnerID, req.Period)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"data": inv, "created": created})
}

func (s *Server) IssueInvoice(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	inv, err := s.billingSvc.Issue(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": inv})
}

func (s *Server) MarkInvoicePaid(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req markPaidRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, bindError(err))
			return
		}
	}

	paidDate := time.Now().UTC()
	if req.PaidDate != "" {
		parsed, err := parseOptionalTime(req.PaidDate, false)
		if err != nil {
			AbortWithError(c, newValidationError("paidDate", "invalid_paid_date", "paidDate must be a date"))
			return
		}
		paidDate = *parsed
	}

	inv, err := s.billingSvc.MarkPaid(c.Request.Context(), id, paidDate)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": inv})
}

func (s *Server) DownloadInvoicePDF(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	inv, err := s.billingSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	pdf, err := s.billingSvc.RenderPDF(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", inv.InvoiceNumber+".pdf"))
	c.Data(http.StatusOK, "application/pdf", pdf)
}
