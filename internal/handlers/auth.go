package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/p2p-call-signaling/internal/middleware"
)

// LoginRequest represents the login request body
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents the login response
type LoginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

// Login issues a token for the given username.
// For demo purposes, accepts any username/password combination
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	// The username doubles as the participant id used on the signaling channel.
	userID := req.Username

	token, err := middleware.IssueToken(h.cfg.JWTSecret, userID, time.Now())
	if err != nil {
		h.log.WithError(err).Error("Failed to generate token")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to generate token",
		})
		return
	}

	h.log.WithField("user", userID).Info("User logged in")
	c.JSON(http.StatusOK, LoginResponse{
		Token:  token,
		UserID: userID,
	})
}
