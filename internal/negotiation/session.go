// Package negotiation implements the per-participant offer/answer state
// machine. Session.Handle is a pure transition function: it never performs
// I/O and returns the actions the caller has to execute.
package negotiation

import (
	"errors"
	"fmt"

	"github.com/mossy-p/p2p-call-signaling/internal/candidate"
	"github.com/mossy-p/p2p-call-signaling/internal/models"
)

// State is the negotiation state of a participant.
type State int

const (
	Idle State = iota
	AwaitingPeer
	OfferSent
	AnswerSent
	Active
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingPeer:
		return "awaiting-peer"
	case OfferSent:
		return "offer-sent"
	case AnswerSent:
		return "answer-sent"
	case Active:
		return "active"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrEmptyDescription is returned for offers or answers without SDP.
	ErrEmptyDescription = errors.New("empty session description")
	// ErrJoinRejected wraps the relay's rejection reason.
	ErrJoinRejected = errors.New("join rejected")
)

// Session is the negotiation state of one participant towards its peer.
type Session struct {
	userID string
	roomID string
	policy candidate.Policy

	state State
	role  models.Role

	localMediaReady bool
	channelReady    bool
	offerRequested  bool
	answerRequested bool

	local   *Description
	remote  *Description
	pending []candidate.Record
}

// New returns an Idle session. userID and roomID are stamped on every
// outgoing message; policy screens locally discovered candidates.
func New(userID, roomID string, policy candidate.Policy) *Session {
	return &Session{
		userID: userID,
		roomID: roomID,
		policy: policy,
	}
}

func (s *Session) State() State           { return s.state }
func (s *Session) Role() models.Role      { return s.role }
func (s *Session) LocalMediaReady() bool  { return s.localMediaReady }
func (s *Session) ChannelReady() bool     { return s.channelReady }
func (s *Session) PendingCandidates() int { return len(s.pending) }

// LocalDescription returns the local description, if set.
func (s *Session) LocalDescription() (Description, bool) {
	if s.local == nil {
		return Description{}, false
	}
	return *s.local, true
}

// RemoteDescription returns the remote description, if set.
func (s *Session) RemoteDescription() (Description, bool) {
	if s.remote == nil {
		return Description{}, false
	}
	return *s.remote, true
}

// Handle advances the session by one event. Once Closed every event is a
// no-op.
func (s *Session) Handle(ev Event) []Action {
	if s.state == Closed {
		return nil
	}

	switch e := ev.(type) {
	case Joined:
		if s.state != Idle {
			return anomaly("joined twice")
		}
		s.role = e.Role
		s.state = AwaitingPeer
		return s.maybeNegotiate()

	case JoinRejected:
		return s.close("join rejected", fmt.Errorf("%w: %s", ErrJoinRejected, e.Reason))

	case LocalMediaReady:
		s.localMediaReady = true
		return s.maybeNegotiate()

	case ChannelReady:
		s.channelReady = true
		return s.maybeNegotiate()

	case LocalDescriptionGenerated:
		return s.onLocalDescription(e.Desc)

	case EngineFailed:
		return s.fail(fmt.Errorf("media engine: %w", e.Err))

	case RemoteOffer:
		return s.onRemoteOffer(e.SDP)

	case RemoteAnswer:
		return s.onRemoteAnswer(e.SDP)

	case RemoteCandidate:
		if s.remote == nil {
			s.pending = append(s.pending, e.Record)
			return nil
		}
		return []Action{AddCandidate{Record: e.Record}}

	case LocalCandidate:
		if s.state == Idle || !candidate.Admit(e.Record, s.policy) {
			return nil
		}
		return []Action{Send{Message: s.candidateMessage(e.Record)}}

	case AnswerDelivered:
		if s.state == AnswerSent {
			s.state = Active
		}
		return nil

	case RemoteHangup:
		return s.close("remote hangup", nil)

	case LocalHangup:
		acts := []Action{Send{Message: s.hangupMessage()}}
		return append(acts, s.close("local hangup", nil)...)

	case Disconnected:
		return s.close("disconnected", e.Err)
	}

	return anomaly(fmt.Sprintf("unhandled event %T", ev))
}

// maybeNegotiate requests the offer or answer once every precondition holds.
// The request guards make repeated triggers no-ops.
func (s *Session) maybeNegotiate() []Action {
	if s.state != AwaitingPeer || !s.localMediaReady {
		return nil
	}
	switch s.role {
	case models.RoleInitiator:
		if s.channelReady && !s.offerRequested {
			s.offerRequested = true
			return []Action{GenerateOffer{}}
		}
	case models.RoleResponder:
		if s.remote != nil && !s.answerRequested {
			s.answerRequested = true
			return []Action{GenerateAnswer{Remote: *s.remote}}
		}
	}
	return nil
}

func (s *Session) onLocalDescription(d Description) []Action {
	switch {
	case d.Kind == KindOffer && s.offerRequested && s.local == nil:
	case d.Kind == KindAnswer && s.answerRequested && s.local == nil:
	default:
		return anomaly(fmt.Sprintf("unexpected local %s in state %s", d.Kind, s.state))
	}
	if d.SDP == "" {
		return s.fail(fmt.Errorf("local %s: %w", d.Kind, ErrEmptyDescription))
	}

	s.local = &d
	msg := models.SignalMessage{UserID: s.userID, RoomID: s.roomID, SDP: d.SDP}
	if d.Kind == KindOffer {
		msg.Type = models.SignalTypeOffer
		s.state = OfferSent
	} else {
		msg.Type = models.SignalTypeAnswer
		s.state = AnswerSent
	}
	return []Action{ApplyLocal{Desc: d}, Send{Message: msg}}
}

func (s *Session) onRemoteOffer(sdp string) []Action {
	if s.role != models.RoleResponder {
		return anomaly(fmt.Sprintf("offer received by %q in state %s", s.role, s.state))
	}
	if s.remote != nil {
		return anomaly("duplicate offer")
	}
	if sdp == "" {
		return s.fail(fmt.Errorf("remote offer: %w", ErrEmptyDescription))
	}

	s.remote = &Description{Kind: KindOffer, SDP: sdp}
	acts := []Action{ApplyRemote{Desc: *s.remote}}
	acts = append(acts, s.flushPending()...)
	return append(acts, s.maybeNegotiate()...)
}

func (s *Session) onRemoteAnswer(sdp string) []Action {
	if s.state != OfferSent {
		return anomaly(fmt.Sprintf("answer received in state %s", s.state))
	}
	if sdp == "" {
		return s.fail(fmt.Errorf("remote answer: %w", ErrEmptyDescription))
	}

	s.remote = &Description{Kind: KindAnswer, SDP: sdp}
	s.state = Active
	acts := []Action{ApplyRemote{Desc: *s.remote}}
	return append(acts, s.flushPending()...)
}

func (s *Session) flushPending() []Action {
	acts := make([]Action, 0, len(s.pending))
	for _, rec := range s.pending {
		acts = append(acts, AddCandidate{Record: rec})
	}
	s.pending = nil
	return acts
}

// fail closes the session and tells the peer.
func (s *Session) fail(err error) []Action {
	acts := []Action{Send{Message: s.hangupMessage()}}
	return append(acts, s.close("negotiation failed", err)...)
}

func (s *Session) close(reason string, err error) []Action {
	s.state = Closed
	s.local = nil
	s.remote = nil
	s.pending = nil
	return []Action{Terminate{Reason: reason, Err: err}}
}

func (s *Session) hangupMessage() models.SignalMessage {
	return models.SignalMessage{Type: models.SignalTypeHangup, UserID: s.userID, RoomID: s.roomID}
}

func (s *Session) candidateMessage(rec candidate.Record) models.SignalMessage {
	return models.SignalMessage{
		Type:      models.SignalTypeCandidate,
		UserID:    s.userID,
		RoomID:    s.roomID,
		Label:     models.IntPtr(rec.MLineIndex()),
		Mid:       rec.Mid(),
		Candidate: rec.Candidate(),
	}
}

func anomaly(reason string) []Action {
	return []Action{Anomaly{Reason: reason}}
}
