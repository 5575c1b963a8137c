package negotiation

import (
	"github.com/mossy-p/p2p-call-signaling/internal/candidate"
	"github.com/mossy-p/p2p-call-signaling/internal/models"
)

// Kind distinguishes offers from answers.
type Kind int

const (
	KindOffer Kind = iota + 1
	KindAnswer
)

func (k Kind) String() string {
	switch k {
	case KindOffer:
		return "offer"
	case KindAnswer:
		return "answer"
	default:
		return "unknown"
	}
}

// Description is an opaque session description. The session never looks
// inside SDP.
type Description struct {
	Kind Kind
	SDP  string
}

// Event is an input to Session.Handle.
type Event interface {
	event()
}

// Joined is delivered when the relay admitted the participant.
type Joined struct{ Role models.Role }

// JoinRejected is delivered when the relay refused the join.
type JoinRejected struct{ Reason string }

// LocalMediaReady is delivered once the media engine captured local media.
type LocalMediaReady struct{}

// ChannelReady is delivered when the relay reports the room as ready.
type ChannelReady struct{}

// LocalDescriptionGenerated carries the media engine's offer or answer.
type LocalDescriptionGenerated struct{ Desc Description }

// EngineFailed reports a media engine error (generation or apply).
type EngineFailed struct{ Err error }

// RemoteOffer is an offer relayed from the peer.
type RemoteOffer struct{ SDP string }

// RemoteAnswer is an answer relayed from the peer.
type RemoteAnswer struct{ SDP string }

// RemoteCandidate is a candidate relayed from the peer.
type RemoteCandidate struct{ Record candidate.Record }

// LocalCandidate is a candidate discovered by the local media engine.
type LocalCandidate struct{ Record candidate.Record }

// AnswerDelivered is delivered after the answer was handed to the transport.
type AnswerDelivered struct{}

// RemoteHangup is delivered when the peer hung up or dropped.
type RemoteHangup struct{}

// LocalHangup is a user-initiated hangup.
type LocalHangup struct{}

// Disconnected is delivered when the relay transport closed.
type Disconnected struct{ Err error }

func (Joined) event()                    {}
func (JoinRejected) event()              {}
func (LocalMediaReady) event()           {}
func (ChannelReady) event()              {}
func (LocalDescriptionGenerated) event() {}
func (EngineFailed) event()              {}
func (RemoteOffer) event()               {}
func (RemoteAnswer) event()              {}
func (RemoteCandidate) event()           {}
func (LocalCandidate) event()            {}
func (AnswerDelivered) event()           {}
func (RemoteHangup) event()              {}
func (LocalHangup) event()               {}
func (Disconnected) event()              {}

// Action is an output of Session.Handle that the driver must carry out.
type Action interface {
	action()
}

// GenerateOffer asks the media engine for an offer.
type GenerateOffer struct{}

// GenerateAnswer asks the media engine for an answer to Remote.
type GenerateAnswer struct{ Remote Description }

// ApplyLocal installs the local description on the media engine.
type ApplyLocal struct{ Desc Description }

// ApplyRemote installs the remote description on the media engine.
type ApplyRemote struct{ Desc Description }

// AddCandidate hands a remote candidate to the media engine.
type AddCandidate struct{ Record candidate.Record }

// Send writes a message to the relay.
type Send struct{ Message models.SignalMessage }

// Anomaly is a protocol violation that was ignored.
type Anomaly struct{ Reason string }

// Terminate reports that the session reached Closed.
type Terminate struct {
	Reason string
	Err    error
}

func (GenerateOffer) action()  {}
func (GenerateAnswer) action() {}
func (ApplyLocal) action()     {}
func (ApplyRemote) action()    {}
func (AddCandidate) action()   {}
func (Send) action()           {}
func (Anomaly) action()        {}
func (Terminate) action()      {}
