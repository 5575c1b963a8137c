package relay

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Peer is one participant connection as seen by the hub.
type Peer struct {
	ID string // connection id

	// pinnedUser is the user id proven by authentication, if any.
	pinnedUser string

	mu     sync.Mutex
	userID string
	roomID string
	send   chan []byte
	closed bool

	log *logrus.Entry
}

func newPeer(id, pinnedUser string, queueSize int, log *logrus.Entry) *Peer {
	return &Peer{
		ID:         id,
		pinnedUser: pinnedUser,
		send:       make(chan []byte, queueSize),
		log:        log.WithField("conn", id),
	}
}

// Outbound is the stream of encoded frames for the write pump. It is closed
// when the peer is shut down.
func (p *Peer) Outbound() <-chan []byte {
	return p.send
}

// Membership returns the user and room the peer joined, if any.
func (p *Peer) Membership() (userID, roomID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userID, p.roomID
}

func (p *Peer) setMembership(userID, roomID string) {
	p.mu.Lock()
	p.userID, p.roomID = userID, roomID
	p.mu.Unlock()
}

// clearMembership resets the membership if it still points at roomID.
func (p *Peer) clearMembership(roomID string) {
	p.mu.Lock()
	if p.roomID == roomID {
		p.userID, p.roomID = "", ""
	}
	p.mu.Unlock()
}

// enqueue queues data without blocking. A full queue means the peer cannot
// keep up; it is shut down rather than silently losing a message, so the
// per-sender order seen by every receiver stays intact.
func (p *Peer) enqueue(data []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}

	select {
	case p.send <- data:
		return true
	default:
		p.log.Warn("Send queue full, disconnecting slow peer")
		p.closed = true
		close(p.send)
		return false
	}
}

// shutdown closes the outbound queue; the write pump then closes the socket.
func (p *Peer) shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.send)
	}
}
