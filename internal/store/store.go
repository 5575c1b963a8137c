// Package store holds room metadata and a presence projection of room
// membership. The registry in package room stays authoritative; a Store is
// only a mirror for the HTTP API and for other processes.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/mossy-p/p2p-call-signaling/internal/models"
)

var ErrNotFound = errors.New("room not found")

// Store persists room metadata and mirrors membership.
type Store interface {
	SaveRoom(ctx context.Context, room models.RoomMetadata) error
	GetRoom(ctx context.Context, roomID string) (*models.RoomMetadata, error)
	DeleteRoom(ctx context.Context, roomID string) error

	AddPeer(ctx context.Context, roomID, userID string) error
	RemovePeer(ctx context.Context, roomID, userID string) error
	Peers(ctx context.Context, roomID string) ([]string, error)

	Close() error
}

// Memory is a process-local Store.
type Memory struct {
	mu    sync.RWMutex
	rooms map[string]models.RoomMetadata
	peers map[string]map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		rooms: make(map[string]models.RoomMetadata),
		peers: make(map[string]map[string]struct{}),
	}
}

func (m *Memory) SaveRoom(_ context.Context, room models.RoomMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[room.ID] = room
	return nil
}

func (m *Memory) GetRoom(_ context.Context, roomID string) (*models.RoomMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	return &room, nil
}

func (m *Memory) DeleteRoom(_ context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, roomID)
	delete(m.peers, roomID)
	return nil
}

func (m *Memory) AddPeer(_ context.Context, roomID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.peers[roomID]
	if !ok {
		set = make(map[string]struct{})
		m.peers[roomID] = set
	}
	set[userID] = struct{}{}
	return nil
}

func (m *Memory) RemovePeer(_ context.Context, roomID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.peers[roomID]
	delete(set, userID)
	if len(set) == 0 {
		delete(m.peers, roomID)
	}
	return nil
}

func (m *Memory) Peers(_ context.Context, roomID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.peers[roomID]))
	for id := range m.peers[roomID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) Close() error { return nil }
