package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// SignalType represents the type of signaling message
type SignalType string

const (
	SignalTypeEnterRoom    SignalType = "enteroom"
	SignalTypeEnterRoomRes SignalType = "enteroomres"
	SignalTypeParticipate  SignalType = "participate"
	SignalTypeReady        SignalType = "ready"
	SignalTypeOffer        SignalType = "offer"
	SignalTypeAnswer       SignalType = "answer"
	SignalTypeCandidate    SignalType = "candidate"
	SignalTypeHangup       SignalType = "hangup"
	SignalTypeError        SignalType = "error"
)

// ErrMissingType is returned when a frame has no type discriminator.
var ErrMissingType = errors.New("message type is required")

// SignalMessage is the flat JSON record exchanged with participants. Only the
// fields relevant to Type are populated.
type SignalMessage struct {
	Type   SignalType `json:"type"`
	UserID string     `json:"userid,omitempty"`
	RoomID string     `json:"roomid,omitempty"`

	// offer / answer
	SDP string `json:"sdp,omitempty"`

	// candidate: label is the media-line index, id the media id. A candidate
	// message without a candidate string marks the end of gathering.
	Label     *int   `json:"label,omitempty"`
	Mid       string `json:"id,omitempty"`
	Candidate string `json:"candidate,omitempty"`

	// enteroomres / ready
	Role         Role     `json:"role,omitempty"`
	Participants []string `json:"participants,omitempty"`

	Error string `json:"error,omitempty"`
}

// Encode marshals a message without HTML escaping so that opaque payloads
// (sdp, candidate) leave the relay exactly as they arrived.
func Encode(msg SignalMessage) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(msg); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Decode parses a single frame. Unknown fields are tolerated; a missing type
// is not.
func Decode(data []byte) (SignalMessage, error) {
	var msg SignalMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SignalMessage{}, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return SignalMessage{}, ErrMissingType
	}
	return msg, nil
}

// IntPtr is a helper for building candidate labels.
func IntPtr(v int) *int {
	return &v
}
