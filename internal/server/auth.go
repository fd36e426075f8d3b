package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	authdomain "github.com/smallbiznis/valkyrie/internal/auth/domain"
)

type tokenRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	APIKey   string `json:"apiKey"`
}

type setupPasswordRequest struct {
	Token    string `json:"token" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// IssuePartnerToken exchanges either email/password or an API key for a
// session token. Every failure is the same 401.
func (s *Server) IssuePartnerToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var (
		result *authdomain.LoginResult
		err    error
	)
	if key := strings.TrimSpace(req.APIKey); key != "" {
		result, err = s.authsvc.LoginWithAPIKey(c.Request.Context(), key)
	} else {
		if strings.TrimSpace(req.Email) == "" || req.Password == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		result, err = s.authsvc.Login(c.Request.Context(), authdomain.LoginRequest{
			Email:    req.Email,
			Password: req.Password,
		})
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) SetupPassword(c *gin.Context) {
	var req setupPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	user, err := s.authsvc.SetupPassword(c.Request.Context(), authdomain.SetupPasswordRequest{
		Token:    req.Token,
		Password: req.Password,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (s *Server) Logout(c *gin.Context) {
	token, ok := bearerToken(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	if err := s.authsvc.Logout(c.Request.Context(), token); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) IssueZeusToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	result, err := s.authsvc.LoginZeus(c.Request.Context(), authdomain.LoginRequest{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
