// Package mediaengine drives a pion PeerConnection on behalf of a
// participant agent. It produces and installs session descriptions and
// trickles connectivity candidates; media itself never passes through here.
package mediaengine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"github.com/mossy-p/p2p-call-signaling/internal/candidate"
	"github.com/mossy-p/p2p-call-signaling/internal/negotiation"
)

// DefaultSTUNServers are used when Config.ICEServers is nil.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

var (
	ErrUnknownKind     = errors.New("unknown description kind")
	ErrLabelOutOfRange = errors.New("m-line index out of range")
)

type Config struct {
	// ICEServers are STUN/TURN URLs. An empty, non-nil slice disables them.
	ICEServers []string
}

// Engine wraps a single PeerConnection.
type Engine struct {
	pc  *webrtc.PeerConnection
	log *logrus.Entry

	mu          sync.Mutex
	onCandidate func(candidate.Record)
	captured    bool
}

// New creates a PeerConnection with the configured ICE servers.
func New(cfg Config, log *logrus.Entry) (*Engine, error) {
	servers := cfg.ICEServers
	if servers == nil {
		servers = DefaultSTUNServers
	}

	var ice []webrtc.ICEServer
	if len(servers) > 0 {
		ice = []webrtc.ICEServer{{URLs: servers}}
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: ice})
	if err != nil {
		return nil, fmt.Errorf("NewPeerConnection: %w", err)
	}

	e := &Engine{pc: pc, log: log}
	pc.OnICECandidate(e.handleCandidate)
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.WithField("state", s.String()).Info("Peer connection state changed")
	})
	return e, nil
}

// CaptureLocal adds one audio and one video send/receive transceiver. The
// tracks are static sample tracks; feeding them is left to the caller.
func (e *Engine) CaptureLocal(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.captured {
		return nil
	}

	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		_, err := e.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionSendrecv,
		})
		if err != nil {
			return fmt.Errorf("AddTransceiverFromKind(%s): %w", kind, err)
		}
	}
	e.captured = true
	return nil
}

func (e *Engine) GenerateOffer(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	offer, err := e.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("CreateOffer: %w", err)
	}
	return offer.SDP, nil
}

// GenerateAnswer answers remote, which must already be applied with
// ApplyRemoteDescription.
func (e *Engine) GenerateAnswer(ctx context.Context, remote negotiation.Description) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if e.pc.RemoteDescription() == nil {
		return "", fmt.Errorf("remote %s not applied", remote.Kind)
	}
	answer, err := e.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("CreateAnswer: %w", err)
	}
	return answer.SDP, nil
}

func (e *Engine) ApplyLocalDescription(d negotiation.Description) error {
	sd, err := toSessionDescription(d)
	if err != nil {
		return err
	}
	if err := e.pc.SetLocalDescription(sd); err != nil {
		return fmt.Errorf("SetLocalDescription: %w", err)
	}
	return nil
}

func (e *Engine) ApplyRemoteDescription(d negotiation.Description) error {
	sd, err := toSessionDescription(d)
	if err != nil {
		return err
	}
	if err := e.pc.SetRemoteDescription(sd); err != nil {
		return fmt.Errorf("SetRemoteDescription: %w", err)
	}
	return nil
}

// AddRemoteCandidate installs a candidate relayed from the peer. The
// terminal record signals end of candidates.
func (e *Engine) AddRemoteCandidate(rec candidate.Record) error {
	ci, err := toCandidateInit(rec)
	if err != nil {
		return err
	}
	if err := e.pc.AddICECandidate(ci); err != nil {
		return fmt.Errorf("AddICECandidate: %w", err)
	}
	return nil
}

// OnLocalCandidate registers fn for locally gathered candidates. fn is
// called from pion's goroutines and receives the terminal record once
// gathering completes.
func (e *Engine) OnLocalCandidate(fn func(candidate.Record)) {
	e.mu.Lock()
	e.onCandidate = fn
	e.mu.Unlock()
}

func (e *Engine) Close() error {
	return e.pc.Close()
}

func (e *Engine) handleCandidate(c *webrtc.ICECandidate) {
	e.mu.Lock()
	fn := e.onCandidate
	e.mu.Unlock()
	if fn == nil {
		return
	}

	if c == nil {
		fn(candidate.EndOfCandidates())
		return
	}
	fn(FromCandidateInit(c.ToJSON()))
}

// FromCandidateInit converts pion's candidate representation to a record.
func FromCandidateInit(init webrtc.ICECandidateInit) candidate.Record {
	var mid string
	if init.SDPMid != nil {
		mid = *init.SDPMid
	}
	var idx int
	if init.SDPMLineIndex != nil {
		idx = int(*init.SDPMLineIndex)
	}
	return candidate.NewRecord(init.Candidate, mid, idx)
}

func toCandidateInit(rec candidate.Record) (webrtc.ICECandidateInit, error) {
	label := rec.MLineIndex()
	if label < 0 || label > math.MaxUint16 {
		return webrtc.ICECandidateInit{}, fmt.Errorf("%w: %d", ErrLabelOutOfRange, label)
	}
	mid := rec.Mid()
	idx := uint16(label)
	return webrtc.ICECandidateInit{
		Candidate:     rec.Candidate(),
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	}, nil
}

func toSessionDescription(d negotiation.Description) (webrtc.SessionDescription, error) {
	switch d.Kind {
	case negotiation.KindOffer:
		return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: d.SDP}, nil
	case negotiation.KindAnswer:
		return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: d.SDP}, nil
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %d", ErrUnknownKind, d.Kind)
	}
}
