package relay

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/mossy-p/p2p-call-signaling/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Serve registers conn with the hub and starts its pumps. The connection is
// released, with an implicit hangup, once either pump stops.
func (h *Hub) Serve(conn *websocket.Conn, pinnedUser string) *Peer {
	p := h.Register(pinnedUser)
	p.log.WithField("remote", conn.RemoteAddr().String()).Info("Connection opened")

	go h.writePump(p, conn)
	go h.readPump(p, conn)
	return p
}

func (h *Hub) readPump(p *Peer, conn *websocket.Conn) {
	defer func() {
		h.Disconnect(p)
		conn.Close()
		p.log.Info("Connection closed")
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				p.log.WithError(err).Warn("WebSocket error")
			}
			return
		}

		msg, err := models.Decode(data)
		if err != nil {
			p.log.WithError(err).Warn("Failed to parse message")
			h.reply(p, models.SignalMessage{Type: models.SignalTypeError, Error: "malformed message"})
			continue
		}

		p.log.WithFields(logrus.Fields{"type": msg.Type}).Debug("Message received")
		h.Handle(p, msg)
	}
}

func (h *Hub) writePump(p *Peer, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-p.Outbound():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				p.log.WithError(err).Warn("Failed to write message")
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
