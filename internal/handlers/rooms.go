package handlers

import (
	"crypto/rand"
	"errors"
	"math/big"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/mossy-p/p2p-call-signaling/internal/middleware"
	"github.com/mossy-p/p2p-call-signaling/internal/models"
	"github.com/mossy-p/p2p-call-signaling/internal/room"
	"github.com/mossy-p/p2p-call-signaling/internal/store"
)

const (
	roomCodeLength = 6
	codeAttempts   = 5
	codeChars      = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // Removed ambiguous chars
)

// CreateRoom reserves a short room code (requires authentication)
func (h *Handlers) CreateRoom(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var req models.CreateRoomRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	ctx := c.Request.Context()
	code, err := h.freeRoomCode(c)
	if err != nil {
		h.log.WithError(err).Error("Failed to allocate room code")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
		return
	}

	meta := models.RoomMetadata{
		ID:        code,
		Name:      req.Name,
		CreatorID: userID,
		CreatedAt: time.Now(),
		Capacity:  h.cfg.Rooms.Capacity,
	}
	if err := h.store.SaveRoom(ctx, meta); err != nil {
		h.log.WithError(err).Error("Failed to store room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
		return
	}

	h.log.WithFields(logrus.Fields{"room": code, "user": userID}).Info("Room created")
	c.JSON(http.StatusCreated, models.CreateRoomResponse{RoomID: code})
}

// ListRooms returns every live room (public)
func (h *Handlers) ListRooms(c *gin.Context) {
	views := h.hub.Registry().List()
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })

	out := make([]models.RoomView, 0, len(views))
	for _, v := range views {
		meta, _ := h.store.GetRoom(c.Request.Context(), v.ID)
		out = append(out, toRoomView(v, meta))
	}
	c.JSON(http.StatusOK, gin.H{"rooms": out})
}

// GetRoom gets the live state and metadata of a room (public)
func (h *Handlers) GetRoom(c *gin.Context) {
	roomID := c.Param("roomId")

	meta, err := h.store.GetRoom(c.Request.Context(), roomID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.log.WithError(err).WithField("room", roomID).Error("Failed to load room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load room"})
		return
	}

	presence, err := h.store.Peers(c.Request.Context(), roomID)
	if err != nil {
		h.log.WithError(err).WithField("room", roomID).Warn("Failed to load presence")
	}

	view, verr := h.hub.Registry().Snapshot(roomID)
	if verr != nil {
		if meta == nil && len(presence) == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
			return
		}
		// Reserved, or live on another relay instance.
		view = room.View{ID: roomID}
	}

	rv := toRoomView(view, meta)
	rv.Presence = presence
	c.JSON(http.StatusOK, rv)
}

// DeleteRoom hangs up every member and drops the reservation (requires
// authentication and creator)
func (h *Handlers) DeleteRoom(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	roomID := c.Param("roomId")
	ctx := c.Request.Context()

	meta, err := h.store.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
			return
		}
		h.log.WithError(err).WithField("room", roomID).Error("Failed to load room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load room"})
		return
	}

	// Verify user is the creator
	if meta.CreatorID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the room creator can delete the room"})
		return
	}

	evicted, err := h.hub.CloseRoom(roomID)
	if err != nil && !errors.Is(err, room.ErrRoomNotFound) {
		h.log.WithError(err).WithField("room", roomID).Error("Failed to close room")
	}
	if err := h.store.DeleteRoom(ctx, roomID); err != nil {
		h.log.WithError(err).WithField("room", roomID).Error("Failed to delete room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete room"})
		return
	}

	h.log.WithFields(logrus.Fields{"room": roomID, "user": userID, "evicted": evicted}).Info("Room deleted")
	c.JSON(http.StatusOK, gin.H{"message": "Room deleted", "evicted": evicted})
}

// freeRoomCode picks a code that is neither reserved nor live.
func (h *Handlers) freeRoomCode(c *gin.Context) (string, error) {
	for i := 0; i < codeAttempts; i++ {
		code, err := generateRoomCode()
		if err != nil {
			return "", err
		}
		if _, err := h.hub.Registry().Snapshot(code); err == nil {
			continue
		}
		_, err = h.store.GetRoom(c.Request.Context(), code)
		if errors.Is(err, store.ErrNotFound) {
			return code, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", errors.New("no free room code")
}

// generateRoomCode generates a random room code
func generateRoomCode() (string, error) {
	code := make([]byte, roomCodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeChars))))
		if err != nil {
			return "", err
		}
		code[i] = codeChars[n.Int64()]
	}
	return string(code), nil
}

func toRoomView(v room.View, meta *models.RoomMetadata) models.RoomView {
	members := make([]models.MemberView, 0, len(v.Participants))
	for _, p := range v.Participants {
		members = append(members, models.MemberView{
			UserID:   p.ID,
			Role:     p.Role,
			JoinedAt: p.JoinedAt,
		})
	}
	return models.RoomView{
		ID:           v.ID,
		Generation:   v.Generation,
		Ready:        v.Ready,
		Participants: members,
		Metadata:     meta,
	}
}
