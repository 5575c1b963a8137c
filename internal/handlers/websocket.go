package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/p2p-call-signaling/internal/middleware"
)

// HandleSignaling upgrades the request and hands the connection to the
// relay. Rooms are chosen later with an enteroom message.
//
// A token query parameter pins the participant id to the token's user. It
// is mandatory when RequireAuth is set.
func (h *Handlers) HandleSignaling(c *gin.Context) {
	var pinned string
	token := c.Query("token")
	if token != "" || h.cfg.RequireAuth {
		userID, err := middleware.ParseToken(h.cfg.JWTSecret, token)
		if err != nil {
			h.log.WithError(err).WithField("client", c.ClientIP()).Warn("Rejected signaling token")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}
		pinned = userID
	}

	// Upgrade HTTP connection to WebSocket
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Warn("Failed to upgrade connection")
		return
	}

	h.hub.Serve(conn, pinned)
}
