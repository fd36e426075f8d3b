package server

import (
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/valkyrie/internal/gateway"
	"github.com/smallbiznis/valkyrie/internal/orderclient"
)

// createOrderRequest holds the fields admission reads. The rest of the
// order document is forwarded untouched.
type createOrderRequest struct {
	Latitude   *float64         `json:"latitude" binding:"required"`
	Longitude  *float64         `json:"longitude" binding:"required"`
	DistanceKm *decimal.Decimal `json:"distanceKm"`
}

func (s *Server) CreateOrder(c *gin.Context) {
	pc, err := partnerFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req createOrderRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	cached, _ := c.Get(gin.BodyBytesKey)
	payload, _ := cached.([]byte)

	resp, err := s.gateway.AdmitOrder(c.Request.Context(), pc, gateway.OrderRequest{
		Latitude:   *req.Latitude,
		Longitude:  *req.Longitude,
		DistanceKm: req.DistanceKm,
		Payload:    payload,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	relay(c, resp)
}

func (s *Server) CreateDriver(c *gin.Context) {
	pc, err := partnerFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	payload, err := c.GetRawData()
	if err != nil || len(payload) == 0 {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.gateway.RegisterDriver(c.Request.Context(), pc, payload)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	relay(c, resp)
}

func relay(c *gin.Context, resp orderclient.Response) {
	contentType := resp.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	if len(resp.Body) == 0 {
		c.Status(resp.StatusCode)
		return
	}
	c.Data(resp.StatusCode, contentType, resp.Body)
}

