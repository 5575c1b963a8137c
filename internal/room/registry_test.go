package room

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/mossy-p/p2p-call-signaling/internal/models"
)

func TestJoinAssignsRolesAndFiresReadyOnce(t *testing.T) {
	var readyCalls [][]Participant
	reg := NewRegistry(Config{}, Hooks{
		OnReady: func(roomID string, gen uint64, members []Participant) {
			readyCalls = append(readyCalls, members)
		},
	})

	a, err := reg.Join("R1", "alice", "c1")
	if err != nil {
		t.Fatalf("Join alice: %v", err)
	}
	if a.Role != models.RoleInitiator || a.Ready || len(a.Existing) != 0 {
		t.Fatalf("alice result = %+v", a)
	}
	if len(readyCalls) != 0 {
		t.Fatalf("ready fired with one member")
	}

	b, err := reg.Join("R1", "bob", "c2")
	if err != nil {
		t.Fatalf("Join bob: %v", err)
	}
	if b.Role != models.RoleResponder || !b.Ready {
		t.Fatalf("bob result = %+v", b)
	}
	if len(b.Existing) != 1 || b.Existing[0].ID != "alice" {
		t.Fatalf("bob existing = %+v", b.Existing)
	}
	if len(readyCalls) != 1 || len(readyCalls[0]) != 2 {
		t.Fatalf("ready calls = %+v", readyCalls)
	}

	// A third member in an unlimited room must not re-fire ready.
	if _, err := reg.Join("R1", "carol", "c3"); err != nil {
		t.Fatalf("Join carol: %v", err)
	}
	if len(readyCalls) != 1 {
		t.Fatalf("ready fired %d times", len(readyCalls))
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	var joins int
	reg := NewRegistry(Config{Capacity: 2}, Hooks{
		OnJoin: func(string, Participant, JoinResult) { joins++ },
	})

	first, _ := reg.Join("R1", "alice", "c1")
	again, err := reg.Join("R1", "alice", "c1")
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if again.Role != first.Role || !again.Rejoined {
		t.Fatalf("rejoin result = %+v", again)
	}
	if joins != 2 {
		t.Errorf("OnJoin calls = %d, want 2", joins)
	}

	view, _ := reg.Snapshot("R1")
	if len(view.Participants) != 1 {
		t.Fatalf("rejoin duplicated membership: %+v", view.Participants)
	}
}

func TestJoinRejections(t *testing.T) {
	reg := NewRegistry(Config{Capacity: 2}, Hooks{})

	if _, err := reg.Join("", "alice", "c1"); !errors.Is(err, ErrInvalidJoin) {
		t.Errorf("empty room: err = %v", err)
	}
	if _, err := reg.Join("R1", "", "c1"); !errors.Is(err, ErrInvalidJoin) {
		t.Errorf("empty user: err = %v", err)
	}

	reg.Join("R1", "alice", "c1")
	if _, err := reg.Join("R1", "alice", "c9"); !errors.Is(err, ErrDuplicateParticipant) {
		t.Errorf("duplicate: err = %v", err)
	}

	reg.Join("R1", "bob", "c2")
	if _, err := reg.Join("R1", "carol", "c3"); !errors.Is(err, ErrRoomFull) {
		t.Errorf("full: err = %v", err)
	}

	view, _ := reg.Snapshot("R1")
	if len(view.Participants) != 2 {
		t.Errorf("rejected joins changed membership: %+v", view.Participants)
	}
}

func TestLeaveDestroysEmptyRoomAndResetsRoles(t *testing.T) {
	var readyGens []uint64
	reg := NewRegistry(Config{Capacity: 2}, Hooks{
		OnReady: func(_ string, gen uint64, _ []Participant) { readyGens = append(readyGens, gen) },
	})

	first, _ := reg.Join("R1", "alice", "c1")
	reg.Join("R1", "bob", "c2")

	if err := reg.Leave("R1", "alice"); err != nil {
		t.Fatalf("Leave alice: %v", err)
	}
	view, err := reg.Snapshot("R1")
	if err != nil {
		t.Fatalf("room destroyed while bob is still in it: %v", err)
	}
	if len(view.Participants) != 1 || view.Ready {
		t.Fatalf("view after leave = %+v", view)
	}

	// Same generation: a newcomer is a responder and ready does not re-fire.
	again, _ := reg.Join("R1", "alice", "c3")
	if again.Role != models.RoleResponder {
		t.Fatalf("rejoin in same generation got role %s", again.Role)
	}
	if len(readyGens) != 1 {
		t.Fatalf("ready fired %d times in one generation", len(readyGens))
	}

	reg.Leave("R1", "alice")
	reg.Leave("R1", "bob")
	if _, err := reg.Snapshot("R1"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("empty room not destroyed: %v", err)
	}

	fresh, _ := reg.Join("R1", "bob", "c4")
	if fresh.Role != models.RoleInitiator {
		t.Fatalf("fresh generation role = %s", fresh.Role)
	}
	if fresh.Generation <= first.Generation {
		t.Fatalf("generation did not advance: %d -> %d", first.Generation, fresh.Generation)
	}
	reg.Join("R1", "alice", "c5")
	if len(readyGens) != 2 || readyGens[1] != fresh.Generation {
		t.Fatalf("ready generations = %v", readyGens)
	}

	if err := reg.Leave("R1", "nobody"); !errors.Is(err, ErrNotMember) {
		t.Errorf("leave unknown: err = %v", err)
	}
	if err := reg.Leave("R9", "bob"); !errors.Is(err, ErrNotMember) {
		t.Errorf("leave unknown room: err = %v", err)
	}
}

func TestConcurrentJoinsSingleInitiator(t *testing.T) {
	for round := 0; round < 50; round++ {
		var ready atomic.Int32
		reg := NewRegistry(Config{Capacity: 2}, Hooks{
			OnReady: func(string, uint64, []Participant) { ready.Add(1) },
		})

		const joiners = 8
		results := make([]JoinResult, joiners)
		errs := make([]error, joiners)
		var wg sync.WaitGroup
		for i := 0; i < joiners; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id := fmt.Sprintf("p%d", i)
				results[i], errs[i] = reg.Join("R1", id, "conn-"+id)
			}(i)
		}
		wg.Wait()

		initiators, admitted := 0, 0
		for i := range results {
			if errs[i] != nil {
				if !errors.Is(errs[i], ErrRoomFull) {
					t.Fatalf("unexpected error: %v", errs[i])
				}
				continue
			}
			admitted++
			if results[i].Role == models.RoleInitiator {
				initiators++
			}
		}
		if admitted != 2 || initiators != 1 {
			t.Fatalf("round %d: admitted=%d initiators=%d", round, admitted, initiators)
		}
		if got := ready.Load(); got != 1 {
			t.Fatalf("round %d: ready fired %d times", round, got)
		}
	}
}

func TestConcurrentJoinLeaveChurn(t *testing.T) {
	reg := NewRegistry(Config{Capacity: 2}, Hooks{})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("p%d", i)
			for n := 0; n < 100; n++ {
				if _, err := reg.Join("R1", id, id); err == nil {
					reg.Leave("R1", id)
				}
			}
		}(i)
	}
	wg.Wait()

	if _, err := reg.Snapshot("R1"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("room survived after everyone left: %v", err)
	}
	if len(reg.List()) != 0 {
		t.Fatalf("List() = %+v", reg.List())
	}
}

func TestBroadcastSkipsSender(t *testing.T) {
	reg := NewRegistry(Config{}, Hooks{})
	reg.Join("R1", "alice", "c1")
	reg.Join("R1", "bob", "c2")
	reg.Join("R1", "carol", "c3")

	var got []string
	if err := reg.Broadcast("R1", "bob", func(p Participant) { got = append(got, p.ID) }); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if len(got) != 2 || got[0] != "alice" || got[1] != "carol" {
		t.Fatalf("recipients = %v", got)
	}

	if err := reg.Broadcast("R1", "mallory", func(Participant) {}); !errors.Is(err, ErrNotMember) {
		t.Errorf("broadcast from non-member: err = %v", err)
	}
}

func TestGenerationsArePerRoom(t *testing.T) {
	reg := NewRegistry(Config{Capacity: 2}, Hooks{})

	a1, _ := reg.Join("A", "alice", "c1")
	b1, _ := reg.Join("B", "bob", "c2")
	if a1.Generation != 1 || b1.Generation != 1 {
		t.Fatalf("first generations = %d, %d, want 1, 1", a1.Generation, b1.Generation)
	}

	reg.Leave("A", "alice")
	a2, _ := reg.Join("A", "alice", "c3")
	if a2.Generation != 2 {
		t.Fatalf("second generation of A = %d, want 2", a2.Generation)
	}
	if view, _ := reg.Snapshot("B"); view.Generation != 1 {
		t.Fatalf("B generation = %d after A was recreated", view.Generation)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		cfg     Config
		wantErr bool
	}{
		{Config{Capacity: 2, Threshold: 2}, false},
		{Config{Capacity: 0, Threshold: 5}, false},
		{Config{Capacity: 4, Threshold: 2}, false},
		{Config{Capacity: 2, Threshold: 3}, true},
		{Config{Capacity: 1}, true},
	}

	for _, tt := range tests {
		err := tt.cfg.Validate()
		if tt.wantErr != (err != nil) {
			t.Errorf("%+v.Validate() = %v", tt.cfg, err)
		}
		if err != nil && !errors.Is(err, ErrUnreachableThreshold) {
			t.Errorf("%+v.Validate() = %v, want ErrUnreachableThreshold", tt.cfg, err)
		}
	}
}
