package models

import "time"

// RoomMetadata stores information about a reserved room
type RoomMetadata struct {
	ID        string    `json:"id"`        // Short, shareable room code (e.g., "ABCD23")
	Name      string    `json:"name,omitempty"`
	CreatorID string    `json:"creatorId"` // User ID from JWT who created the room
	CreatedAt time.Time `json:"createdAt"`
	Capacity  int       `json:"capacity"` // server-wide limit at creation time, 0 = unlimited
}

// RoomView is the public, read-only state of a live room
type RoomView struct {
	ID           string        `json:"id"`
	Generation   uint64        `json:"generation"`
	Ready        bool          `json:"ready"`
	Participants []MemberView  `json:"participants"`
	Metadata     *RoomMetadata `json:"metadata,omitempty"`
	// Presence is the membership mirrored in the shared store, which spans
	// every relay instance using it
	Presence []string `json:"presence,omitempty"`
}

// MemberView is a participant as exposed over the HTTP API
type MemberView struct {
	UserID   string    `json:"userId"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

// CreateRoomRequest is the request body for creating a room
type CreateRoomRequest struct {
	Name string `json:"name" binding:"omitempty,max=64"`
}

// CreateRoomResponse is the response for creating a room
type CreateRoomResponse struct {
	RoomID string `json:"roomId"`
}
