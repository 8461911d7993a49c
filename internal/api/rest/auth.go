package rest

import (
	"errors"
	"net/http"

	"github.com/KevinKickass/OpenPadCore/internal/auth"
	"github.com/KevinKickass/OpenPadCore/internal/types"
	"github.com/gin-gonic/gin"
)

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"` // seconds
}

// POST /api/v1/auth/login
func (s *Server) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("AUTH_400", "Invalid request body", err.Error()))
		return
	}

	token, err := s.authService.Login(c.Request.Context(), req.Username, req.Password, c.ClientIP())
	switch {
	case errors.Is(err, auth.ErrLoginDisabled):
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse("AUTH_503", "Login disabled", nil))
		return
	case err != nil:
		c.Header("WWW-Authenticate", "Bearer")
		c.JSON(http.StatusUnauthorized, types.NewErrorResponse("AUTH_401", "Invalid credentials", nil))
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   s.authService.TokenTTLSeconds(),
	})
}

// GET /api/v1/auth/verify
func (s *Server) verify(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"username": c.GetString(auth.ContextUsername),
		"status":   "authenticated",
	})
}
