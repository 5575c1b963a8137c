// Package relay routes signaling messages between the members of a room.
//
// Every connection is handled by its own read goroutine, so messages from
// one sender are dispatched in arrival order. Fan-out happens inside the
// room's critical section (see room.Registry.Broadcast), which keeps the
// order per sender identical for every receiver and orders "ready" before
// any offer that follows it.
package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mossy-p/p2p-call-signaling/internal/candidate"
	"github.com/mossy-p/p2p-call-signaling/internal/models"
	"github.com/mossy-p/p2p-call-signaling/internal/room"
	"github.com/mossy-p/p2p-call-signaling/internal/store"
)

var (
	ErrAlreadyInRoom = errors.New("connection already joined a room")
	ErrNotJoined     = errors.New("join a room first")
	ErrUserMismatch  = errors.New("user id does not match token")
)

const (
	DefaultQueueSize = 256
	storeTimeout     = 2 * time.Second
)

// Options configures a Hub.
type Options struct {
	Room      room.Config
	Policy    candidate.Policy
	QueueSize int
	// Store mirrors membership; nil disables mirroring.
	Store store.Store
}

// Hub owns every live connection and the room registry.
type Hub struct {
	registry  *room.Registry
	policy    candidate.Policy
	queueSize int
	store     store.Store
	log       *logrus.Entry

	mu    sync.RWMutex
	peers map[string]*Peer
}

// NewHub creates a hub with an empty registry.
func NewHub(opts Options, log *logrus.Entry) *Hub {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	h := &Hub{
		policy:    opts.Policy,
		queueSize: opts.QueueSize,
		store:     opts.Store,
		log:       log,
		peers:     make(map[string]*Peer),
	}
	h.registry = room.NewRegistry(opts.Room, room.Hooks{
		OnJoin:  h.onJoin,
		OnReady: h.onReady,
	})
	return h
}

// Registry exposes the room registry for read-only views.
func (h *Hub) Registry() *room.Registry {
	return h.registry
}

// Register adds a new connection. pinnedUser, if set, is the only user id
// the connection may join as.
func (h *Hub) Register(pinnedUser string) *Peer {
	p := newPeer(uuid.New().String(), pinnedUser, h.queueSize, h.log)

	h.mu.Lock()
	h.peers[p.ID] = p
	h.mu.Unlock()
	return p
}

func (h *Hub) peer(conn string) *Peer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.peers[conn]
}

// Handle dispatches one message received from p.
func (h *Hub) Handle(p *Peer, msg models.SignalMessage) {
	switch msg.Type {
	case models.SignalTypeEnterRoom:
		h.join(p, msg)
	case models.SignalTypeOffer, models.SignalTypeAnswer, models.SignalTypeCandidate:
		h.forward(p, msg)
	case models.SignalTypeHangup:
		userID, roomID := p.Membership()
		if roomID == "" {
			p.log.Warn("Hangup outside of a room ignored")
			return
		}
		h.leave(p, userID, roomID)
	default:
		p.log.WithField("type", msg.Type).Warn("Unknown message type")
	}
}

// Disconnect treats a closed transport as an implicit hangup followed by a
// leave. It is safe to call more than once.
func (h *Hub) Disconnect(p *Peer) {
	h.mu.Lock()
	_, ok := h.peers[p.ID]
	delete(h.peers, p.ID)
	h.mu.Unlock()
	if !ok {
		return
	}

	if userID, roomID := p.Membership(); roomID != "" {
		h.leave(p, userID, roomID)
	}
	p.shutdown()
}

// CloseRoom hangs up every member of roomID and removes them.
func (h *Hub) CloseRoom(roomID string) (int, error) {
	view, err := h.registry.Snapshot(roomID)
	if err != nil {
		return 0, err
	}

	for _, m := range view.Participants {
		h.deliver(m.Conn, models.SignalMessage{
			Type:   models.SignalTypeHangup,
			RoomID: roomID,
			Error:  "room closed",
		})
		if err := h.registry.Leave(roomID, m.ID); err != nil {
			continue
		}
		if p := h.peer(m.Conn); p != nil {
			p.clearMembership(roomID)
		}
		h.mirrorLeave(roomID, m.ID)
	}

	h.log.WithFields(logrus.Fields{"room": roomID, "members": len(view.Participants)}).Info("Room closed")
	return len(view.Participants), nil
}

func (h *Hub) join(p *Peer, msg models.SignalMessage) {
	userID := msg.UserID
	if p.pinnedUser != "" {
		if userID == "" {
			userID = p.pinnedUser
		} else if userID != p.pinnedUser {
			h.rejectJoin(p, msg, ErrUserMismatch)
			return
		}
	}

	curUser, curRoom := p.Membership()
	if curRoom != "" && (curRoom != msg.RoomID || curUser != userID) {
		h.rejectJoin(p, msg, ErrAlreadyInRoom)
		return
	}

	res, err := h.registry.Join(msg.RoomID, userID, p.ID)
	if err != nil {
		h.rejectJoin(p, msg, err)
		return
	}
	p.setMembership(userID, msg.RoomID)
	if res.Rejoined {
		return
	}

	h.mirrorJoin(msg.RoomID, userID)
	p.log.WithFields(logrus.Fields{
		"room":       msg.RoomID,
		"user":       userID,
		"role":       res.Role,
		"generation": res.Generation,
		"members":    len(res.Existing) + 1,
	}).Info("Peer joined room")
}

func (h *Hub) rejectJoin(p *Peer, msg models.SignalMessage, err error) {
	p.log.WithError(err).WithField("room", msg.RoomID).Warn("Join rejected")
	h.reply(p, models.SignalMessage{
		Type:   models.SignalTypeEnterRoomRes,
		UserID: msg.UserID,
		RoomID: msg.RoomID,
		Error:  err.Error(),
	})
}

// onJoin runs inside the room critical section.
func (h *Hub) onJoin(roomID string, m room.Participant, res room.JoinResult) {
	h.deliver(m.Conn, models.SignalMessage{
		Type:         models.SignalTypeEnterRoomRes,
		UserID:       m.ID,
		RoomID:       roomID,
		Role:         m.Role,
		Participants: ids(res.Existing),
	})
	if res.Rejoined {
		return
	}
	for _, other := range res.Existing {
		h.deliver(other.Conn, models.SignalMessage{
			Type:   models.SignalTypeParticipate,
			UserID: m.ID,
			RoomID: roomID,
		})
	}
}

// onReady runs inside the room critical section, so both members are
// registered before either can observe "ready".
func (h *Hub) onReady(roomID string, generation uint64, members []room.Participant) {
	msg := models.SignalMessage{
		Type:         models.SignalTypeReady,
		RoomID:       roomID,
		Participants: ids(members),
	}
	for _, m := range members {
		h.deliver(m.Conn, msg)
	}
	h.log.WithFields(logrus.Fields{"room": roomID, "generation": generation}).Info("Room ready")
}

func (h *Hub) forward(p *Peer, msg models.SignalMessage) {
	userID, roomID := p.Membership()
	if roomID == "" {
		h.reply(p, models.SignalMessage{Type: models.SignalTypeError, Error: ErrNotJoined.Error()})
		return
	}

	if msg.Type == models.SignalTypeCandidate {
		label := 0
		if msg.Label != nil {
			label = *msg.Label
		}
		rec := candidate.NewRecord(msg.Candidate, msg.Mid, label)
		if !candidate.Admit(rec, h.policy) {
			p.log.WithField("origin", candidate.Classify(rec)).Debug("Candidate filtered")
			return
		}
	}

	msg.UserID = userID
	msg.RoomID = roomID
	data, err := models.Encode(msg)
	if err != nil {
		p.log.WithError(err).Error("Failed to marshal message")
		return
	}

	err = h.registry.Broadcast(roomID, userID, func(m room.Participant) {
		h.deliverRaw(m.Conn, data)
	})
	if err != nil {
		p.log.WithError(err).Warn("Message from non-member dropped")
	}
}

// leave broadcasts a hangup for userID and removes it from roomID.
func (h *Hub) leave(p *Peer, userID, roomID string) {
	hangup := models.SignalMessage{Type: models.SignalTypeHangup, UserID: userID, RoomID: roomID}
	if err := h.registry.Broadcast(roomID, userID, func(m room.Participant) {
		h.deliver(m.Conn, hangup)
	}); err != nil {
		p.log.WithError(err).Debug("Hangup broadcast skipped")
	}

	if err := h.registry.Leave(roomID, userID); err != nil {
		p.log.WithError(err).Debug("Leave skipped")
	}
	p.clearMembership(roomID)
	h.mirrorLeave(roomID, userID)

	p.log.WithFields(logrus.Fields{"room": roomID, "user": userID}).Info("Peer left room")
}

func (h *Hub) reply(p *Peer, msg models.SignalMessage) {
	data, err := models.Encode(msg)
	if err != nil {
		p.log.WithError(err).Error("Failed to marshal message")
		return
	}
	p.enqueue(data)
}

func (h *Hub) deliver(conn string, msg models.SignalMessage) {
	data, err := models.Encode(msg)
	if err != nil {
		h.log.WithError(err).Error("Failed to marshal message")
		return
	}
	h.deliverRaw(conn, data)
}

func (h *Hub) deliverRaw(conn string, data []byte) {
	p := h.peer(conn)
	if p == nil {
		h.log.WithField("conn", conn).Debug("Target connection gone")
		return
	}
	p.enqueue(data)
}

func (h *Hub) mirrorJoin(roomID, userID string) {
	if h.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := h.store.AddPeer(ctx, roomID, userID); err != nil {
		h.log.WithError(err).WithField("room", roomID).Warn("Failed to mirror join")
	}
}

func (h *Hub) mirrorLeave(roomID, userID string) {
	if h.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := h.store.RemovePeer(ctx, roomID, userID); err != nil {
		h.log.WithError(err).WithField("room", roomID).Warn("Failed to mirror leave")
	}
}

func ids(members []room.Participant) []string {
	out := make([]string, 0, len(members))
	for _, m := range members {
		out = append(out, m.ID)
	}
	return out
}
