package server

import (
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	authdomain "github.com/smallbiznis/valkyrie/internal/auth/domain"
	"github.com/smallbiznis/valkyrie/internal/partnercontext"
	"github.com/smallbiznis/valkyrie/internal/ratelimit"
	"go.uber.org/zap"
)

const (
	HeaderAPIKey             = "X-API-Key"
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
)

// PartnerAuthRequired authenticates the caller, spends one unit of the
// partner's hourly allowance and, when meterCalls is set, records the call
// as api_calls usage once the handler has run.
func (s *Server) PartnerAuthRequired(meterCalls bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		cred, ok := partnerCredential(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		admission, err := s.gateway.AdmitRequest(c.Request.Context(), cred, endpointLabel(c))
		setRateLimitHeaders(c, admission.Decision)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		pc := admission.Partner
		ctx := partnercontext.WithPartner(c.Request.Context(), pc)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		if !meterCalls {
			return
		}
		if err := s.gateway.RecordCall(ctx, pc.PartnerID); err != nil {
			s.log.Error("api call not metered",
				zap.String("partner_id", pc.PartnerID.String()),
				zap.String("route", c.FullPath()),
				zap.Error(err),
			)
		}
	}
}

// ZeusAuthRequired accepts only Zeus admin session tokens.
func (s *Server) ZeusAuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		ac, err := s.authsvc.AuthenticateZeus(c.Request.Context(), token)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.Request = c.Request.WithContext(partnercontext.WithAdmin(c.Request.Context(), ac))
		c.Next()
	}
}

func (s *Server) authorize(object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.authzSvc.Authorize(c.Request.Context(), object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

// ThrottleByIP guards credential endpoints against guessing.
func (s *Server) ThrottleByIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.throttle != nil && !s.throttle.Allow(c.ClientIP()) {
			AbortWithError(c, ErrTooManyRequests)
			return
		}
		c.Next()
	}
}

func partnerCredential(c *gin.Context) (authdomain.Credential, bool) {
	if key := strings.TrimSpace(c.GetHeader(HeaderAPIKey)); key != "" {
		return authdomain.Credential{APIKey: key}, true
	}
	if token, ok := bearerToken(c); ok {
		return authdomain.Credential{Bearer: token}, true
	}
	return authdomain.Credential{}, false
}

func bearerToken(c *gin.Context) (string, bool) {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(header) < 7 || !strings.EqualFold(header[:7], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[7:])
	return token, token != ""
}

func setRateLimitHeaders(c *gin.Context, d ratelimit.Decision) {
	if d.Limit <= 0 {
		return
	}
	c.Header(HeaderRateLimitLimit, strconv.FormatInt(d.Limit, 10))
	c.Header(HeaderRateLimitRemaining, strconv.FormatInt(d.Remaining, 10))
	if !d.ResetAt.IsZero() {
		c.Header(HeaderRateLimitReset, strconv.FormatInt(d.ResetAt.Unix(), 10))
	}
}

func endpointLabel(c *gin.Context) string {
	route := c.FullPath()
	route = strings.TrimPrefix(route, partnerAPIPrefix)
	if route == "" {
		return "unknown"
	}
	return route
}

func partnerFromRequest(c *gin.Context) (partnercontext.PartnerContext, error) {
	pc, ok := partnercontext.PartnerFromContext(c.Request.Context())
	if !ok {
		return partnercontext.PartnerContext{}, ErrUnauthorized
	}
	return pc, nil
}

func pathID(c *gin.Context, name string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param(name)))
	if err != nil || id == 0 {
		return 0, ErrNotFound
	}
	return id, nil
}
