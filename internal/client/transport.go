package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mossy-p/p2p-call-signaling/internal/models"
)

const writeWait = 10 * time.Second

// ErrMalformedFrame marks a frame that could not be decoded. The transport
// is still usable after it.
var ErrMalformedFrame = errors.New("malformed frame")

// Transport carries signaling messages to and from the relay.
type Transport interface {
	Send(msg models.SignalMessage) error
	Receive() (models.SignalMessage, error)
	Close() error
}

// WSTransport is a Transport over a gorilla websocket connection. Send may
// be called from several goroutines; Receive from one.
type WSTransport struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Dial connects to the relay's signaling endpoint.
func Dial(ctx context.Context, url string) (*WSTransport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &WSTransport{conn: conn}, nil
}

func (t *WSTransport) Send(msg models.SignalMessage) error {
	data, err := models.Encode(msg)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *WSTransport) Receive() (models.SignalMessage, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		return models.SignalMessage{}, err
	}
	msg, err := models.Decode(data)
	if err != nil {
		return models.SignalMessage{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return msg, nil
}

// Close sends a close frame and closes the connection.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	t.mu.Unlock()
	return t.conn.Close()
}
