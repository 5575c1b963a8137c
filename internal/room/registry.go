// Package room tracks room membership, assigns negotiation roles by arrival
// order and decides when a room becomes ready.
package room

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mossy-p/p2p-call-signaling/internal/models"
)

var (
	ErrInvalidJoin          = errors.New("room id and user id are required")
	ErrRoomFull             = errors.New("room is full")
	ErrDuplicateParticipant = errors.New("user id already present in room")
	ErrNotMember            = errors.New("not a member of the room")
	ErrRoomNotFound         = errors.New("room not found")
	ErrUnreachableThreshold = errors.New("ready threshold exceeds room capacity")
)

const DefaultThreshold = 2

// Config controls admission. Capacity 0 means unlimited.
type Config struct {
	Capacity  int
	Threshold int
}

// Validate reports a threshold no room could ever reach.
func (c Config) Validate() error {
	threshold := c.Threshold
	if threshold < 2 {
		threshold = DefaultThreshold
	}
	if c.Capacity > 0 && threshold > c.Capacity {
		return fmt.Errorf("%w: threshold %d, capacity %d", ErrUnreachableThreshold, threshold, c.Capacity)
	}
	return nil
}

// Hooks are invoked inside the room's critical section. They must not block
// or call back into the registry.
type Hooks struct {
	// OnJoin runs for every successful join, including idempotent rejoins,
	// before OnReady.
	OnJoin func(roomID string, p Participant, res JoinResult)
	// OnReady runs exactly once per room generation, when membership first
	// reaches the threshold.
	OnReady func(roomID string, generation uint64, members []Participant)
}

// Participant is a member of a room.
type Participant struct {
	ID       string
	Conn     string
	Role     models.Role
	JoinedAt time.Time
}

// JoinResult describes a successful join.
type JoinResult struct {
	Role       models.Role
	Existing   []Participant
	Generation uint64
	Ready      bool
	Rejoined   bool
}

// View is a read-only snapshot of a room.
type View struct {
	ID           string
	Generation   uint64
	Ready        bool
	Participants []Participant
}

type room struct {
	id         string
	mu         sync.Mutex
	generation uint64
	members    []Participant
	readyFired bool
	destroyed  bool
}

// Registry is the in-memory room registry.
type Registry struct {
	cfg   Config
	hooks Hooks
	now   func() time.Time

	mu    sync.Mutex
	rooms map[string]*room
	// last generation handed out per room id, kept after the room is gone
	gens map[string]uint64
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config, hooks Hooks) *Registry {
	if cfg.Threshold < 2 {
		cfg.Threshold = DefaultThreshold
	}
	return &Registry{
		cfg:   cfg,
		hooks: hooks,
		now:   time.Now,
		rooms: make(map[string]*room),
		gens:  make(map[string]uint64),
	}
}

// getOrCreate returns the live room for id, creating a new generation if
// there is none.
func (r *Registry) getOrCreate(id string) *room {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[id]
	if !ok {
		r.gens[id]++
		rm = &room{id: id, generation: r.gens[id]}
		r.rooms[id] = rm
	}
	return rm
}

func (r *Registry) lookup(id string) *room {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rooms[id]
}

// destroyLocked removes an empty room. Caller holds rm.mu.
func (r *Registry) destroyLocked(rm *room) {
	rm.destroyed = true
	r.mu.Lock()
	if r.rooms[rm.id] == rm {
		delete(r.rooms, rm.id)
	}
	r.mu.Unlock()
}

// Join admits participantID into roomID over connection conn.
func (r *Registry) Join(roomID, participantID, conn string) (JoinResult, error) {
	if roomID == "" || participantID == "" {
		return JoinResult{}, ErrInvalidJoin
	}

	for {
		rm := r.getOrCreate(roomID)
		rm.mu.Lock()
		if rm.destroyed {
			// Emptied between lookup and lock; retry on the next generation.
			rm.mu.Unlock()
			continue
		}
		res, err := r.joinLocked(rm, participantID, conn)
		if err != nil && len(rm.members) == 0 {
			r.destroyLocked(rm)
		}
		rm.mu.Unlock()
		return res, err
	}
}

func (r *Registry) joinLocked(rm *room, participantID, conn string) (JoinResult, error) {
	for _, p := range rm.members {
		if p.ID != participantID {
			continue
		}
		if p.Conn != conn {
			return JoinResult{}, fmt.Errorf("%w: %s", ErrDuplicateParticipant, participantID)
		}
		res := JoinResult{
			Role:       p.Role,
			Existing:   othersThan(rm.members, participantID),
			Generation: rm.generation,
			Ready:      len(rm.members) >= r.cfg.Threshold,
			Rejoined:   true,
		}
		if r.hooks.OnJoin != nil {
			r.hooks.OnJoin(rm.id, p, res)
		}
		return res, nil
	}

	if r.cfg.Capacity > 0 && len(rm.members) >= r.cfg.Capacity {
		return JoinResult{}, ErrRoomFull
	}

	role := models.RoleResponder
	if len(rm.members) == 0 {
		role = models.RoleInitiator
	}
	p := Participant{ID: participantID, Conn: conn, Role: role, JoinedAt: r.now()}
	existing := append([]Participant(nil), rm.members...)
	rm.members = append(rm.members, p)

	fire := !rm.readyFired && len(rm.members) >= r.cfg.Threshold
	if fire {
		rm.readyFired = true
	}

	res := JoinResult{
		Role:       role,
		Existing:   existing,
		Generation: rm.generation,
		Ready:      len(rm.members) >= r.cfg.Threshold,
	}
	if r.hooks.OnJoin != nil {
		r.hooks.OnJoin(rm.id, p, res)
	}
	if fire && r.hooks.OnReady != nil {
		r.hooks.OnReady(rm.id, rm.generation, append([]Participant(nil), rm.members...))
	}
	return res, nil
}

// Leave removes participantID from roomID. An emptied room is destroyed and
// the id starts a fresh generation on the next join.
func (r *Registry) Leave(roomID, participantID string) error {
	rm := r.lookup(roomID)
	if rm == nil {
		return fmt.Errorf("%w: %s", ErrNotMember, roomID)
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.destroyed {
		return fmt.Errorf("%w: %s", ErrNotMember, roomID)
	}

	idx := -1
	for i, p := range rm.members {
		if p.ID == participantID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrNotMember, roomID)
	}
	rm.members = append(rm.members[:idx], rm.members[idx+1:]...)

	if len(rm.members) == 0 {
		r.destroyLocked(rm)
	}
	return nil
}

// Broadcast calls fn for every member of roomID except from, inside the
// room's critical section. Messages enqueued by fn therefore keep the order
// in which Broadcast calls were made.
func (r *Registry) Broadcast(roomID, from string, fn func(Participant)) error {
	rm := r.lookup(roomID)
	if rm == nil {
		return fmt.Errorf("%w: %s", ErrNotMember, roomID)
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.destroyed || !contains(rm.members, from) {
		return fmt.Errorf("%w: %s", ErrNotMember, roomID)
	}
	for _, p := range rm.members {
		if p.ID != from {
			fn(p)
		}
	}
	return nil
}

// Snapshot returns the current state of roomID.
func (r *Registry) Snapshot(roomID string) (View, error) {
	rm := r.lookup(roomID)
	if rm == nil {
		return View{}, ErrRoomNotFound
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.destroyed {
		return View{}, ErrRoomNotFound
	}
	return rm.view(r.cfg.Threshold), nil
}

// List returns snapshots of every live room.
func (r *Registry) List() []View {
	r.mu.Lock()
	rooms := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.Unlock()

	views := make([]View, 0, len(rooms))
	for _, rm := range rooms {
		rm.mu.Lock()
		if !rm.destroyed {
			views = append(views, rm.view(r.cfg.Threshold))
		}
		rm.mu.Unlock()
	}
	return views
}

func (rm *room) view(threshold int) View {
	return View{
		ID:           rm.id,
		Generation:   rm.generation,
		Ready:        len(rm.members) >= threshold,
		Participants: append([]Participant(nil), rm.members...),
	}
}

func othersThan(members []Participant, id string) []Participant {
	out := make([]Participant, 0, len(members))
	for _, p := range members {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}

func contains(members []Participant, id string) bool {
	for _, p := range members {
		if p.ID == id {
			return true
		}
	}
	return false
}
