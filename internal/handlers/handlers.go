// Package handlers exposes the relay and the room registry over HTTP.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/mossy-p/p2p-call-signaling/config"
	"github.com/mossy-p/p2p-call-signaling/internal/middleware"
	"github.com/mossy-p/p2p-call-signaling/internal/relay"
	"github.com/mossy-p/p2p-call-signaling/internal/store"
)

// Handlers holds the dependencies shared by every endpoint.
type Handlers struct {
	hub      *relay.Hub
	store    store.Store
	cfg      *config.Config
	log      *logrus.Entry
	upgrader websocket.Upgrader
}

func New(hub *relay.Hub, st store.Store, cfg *config.Config, log *logrus.Entry) *Handlers {
	return &Handlers{
		hub:   hub,
		store: st,
		cfg:   cfg,
		log:   log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Origin checking is handled by middleware
				return true
			},
		},
	}
}

// Routes registers every endpoint on router.
func (h *Handlers) Routes(router *gin.Engine) {
	// Global CORS middleware (runs before routing)
	router.Use(OriginFilter(h.cfg.AllowedOrigins))

	router.GET("/health", h.Health)

	auth := middleware.JWTAuth(h.cfg.JWTSecret, h.log)
	api := router.Group("/api")
	{
		api.POST("/auth/login", h.Login)
		api.POST("/rooms", auth, h.CreateRoom)
		api.GET("/rooms", h.ListRooms)
		api.GET("/rooms/:roomId", h.GetRoom)
		api.DELETE("/rooms/:roomId", auth, h.DeleteRoom)
	}

	ws := router.Group("/ws")
	{
		ws.GET("/signal", h.HandleSignaling)
	}
}

// Health reports liveness and the number of live rooms.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"rooms":  len(h.hub.Registry().List()),
	})
}
