// Package client runs a participant: it joins a room through the relay,
// drives a negotiation.Session and executes its actions against a media
// engine.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mossy-p/p2p-call-signaling/internal/candidate"
	"github.com/mossy-p/p2p-call-signaling/internal/models"
	"github.com/mossy-p/p2p-call-signaling/internal/negotiation"
)

const eventQueueSize = 64

// MediaEngine captures media and produces and installs descriptions.
// Generation may block; the agent calls it off the dispatch loop.
type MediaEngine interface {
	CaptureLocal(ctx context.Context) error
	GenerateOffer(ctx context.Context) (string, error)
	GenerateAnswer(ctx context.Context, remote negotiation.Description) (string, error)
	ApplyLocalDescription(d negotiation.Description) error
	ApplyRemoteDescription(d negotiation.Description) error
	AddRemoteCandidate(rec candidate.Record) error
	OnLocalCandidate(fn func(candidate.Record))
	Close() error
}

type Config struct {
	UserID string
	RoomID string
	// Policy screens locally discovered candidates before they are sent.
	Policy candidate.Policy
}

// Agent is the dispatch loop of one participant. Every event, whether it
// comes from the relay, the media engine or the user, is handled on the
// loop goroutine, so the session needs no locking.
type Agent struct {
	cfg       Config
	transport Transport
	engine    MediaEngine
	log       *logrus.Entry

	session *negotiation.Session
	events  chan negotiation.Event
	lost    chan error
	hangup  chan struct{}
	done    chan struct{}

	// follow-ups produced while executing actions, handled before new input
	followUps []negotiation.Event
	result    error

	mu    sync.Mutex
	state negotiation.State
	role  models.Role
}

func New(cfg Config, transport Transport, engine MediaEngine, log *logrus.Entry) *Agent {
	return &Agent{
		cfg:       cfg,
		transport: transport,
		engine:    engine,
		log:       log.WithFields(logrus.Fields{"user": cfg.UserID, "room": cfg.RoomID}),
		session:   negotiation.New(cfg.UserID, cfg.RoomID, cfg.Policy),
		events:    make(chan negotiation.Event, eventQueueSize),
		lost:      make(chan error, 1),
		hangup:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// State returns the current negotiation state.
func (a *Agent) State() negotiation.State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Role returns the role assigned by the relay, empty before the join.
func (a *Agent) Role() models.Role {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.role
}

// Hangup ends the call. It returns immediately; Run returns once the peer
// has been notified.
func (a *Agent) Hangup() {
	select {
	case a.hangup <- struct{}{}:
	default:
	}
}

// Run joins the room and processes events until the session closes or ctx
// is canceled. The transport and the engine are closed on return. A local
// or remote hangup returns nil.
func (a *Agent) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		close(a.done)
		a.transport.Close()
		a.engine.Close()
	}()

	a.engine.OnLocalCandidate(func(rec candidate.Record) {
		a.post(negotiation.LocalCandidate{Record: rec})
	})
	go a.readLoop()

	if err := a.transport.Send(models.SignalMessage{
		Type:   models.SignalTypeEnterRoom,
		UserID: a.cfg.UserID,
		RoomID: a.cfg.RoomID,
	}); err != nil {
		return err
	}

	go func() {
		if err := a.engine.CaptureLocal(ctx); err != nil {
			a.post(negotiation.EngineFailed{Err: err})
			return
		}
		a.post(negotiation.LocalMediaReady{})
	}()

	for a.session.State() != negotiation.Closed {
		a.dispatch(ctx, a.next(ctx))
	}
	return a.result
}

// next picks the next event. A lost transport wins over anything queued.
func (a *Agent) next(ctx context.Context) negotiation.Event {
	select {
	case err := <-a.lost:
		return negotiation.Disconnected{Err: err}
	default:
	}

	if len(a.followUps) > 0 {
		ev := a.followUps[0]
		a.followUps = a.followUps[1:]
		return ev
	}

	select {
	case err := <-a.lost:
		return negotiation.Disconnected{Err: err}
	case <-ctx.Done():
		return negotiation.LocalHangup{}
	case <-a.hangup:
		return negotiation.LocalHangup{}
	case ev := <-a.events:
		return ev
	}
}

// dispatch handles ev. A failed apply abandons the rest of the batch and
// is handled at once, so nothing that depends on it reaches the peer.
func (a *Agent) dispatch(ctx context.Context, ev negotiation.Event) {
	for ev != nil {
		ev = a.executeAll(ctx, a.session.Handle(ev))
	}

	a.mu.Lock()
	a.state = a.session.State()
	a.role = a.session.Role()
	a.mu.Unlock()
}

func (a *Agent) executeAll(ctx context.Context, acts []negotiation.Action) negotiation.Event {
	for _, act := range acts {
		if err := a.execute(ctx, act); err != nil {
			return negotiation.EngineFailed{Err: err}
		}
	}
	return nil
}

// execute runs one action. Only a failure to apply a description is
// returned; everything else is reported through follow-up events or logged.
func (a *Agent) execute(ctx context.Context, act negotiation.Action) error {
	switch act := act.(type) {
	case negotiation.GenerateOffer:
		go func() {
			sdp, err := a.engine.GenerateOffer(ctx)
			if err != nil {
				a.post(negotiation.EngineFailed{Err: err})
				return
			}
			a.post(negotiation.LocalDescriptionGenerated{
				Desc: negotiation.Description{Kind: negotiation.KindOffer, SDP: sdp},
			})
		}()

	case negotiation.GenerateAnswer:
		go func() {
			sdp, err := a.engine.GenerateAnswer(ctx, act.Remote)
			if err != nil {
				a.post(negotiation.EngineFailed{Err: err})
				return
			}
			a.post(negotiation.LocalDescriptionGenerated{
				Desc: negotiation.Description{Kind: negotiation.KindAnswer, SDP: sdp},
			})
		}()

	case negotiation.ApplyLocal:
		if err := a.engine.ApplyLocalDescription(act.Desc); err != nil {
			return fmt.Errorf("apply local %s: %w", act.Desc.Kind, err)
		}

	case negotiation.ApplyRemote:
		if err := a.engine.ApplyRemoteDescription(act.Desc); err != nil {
			return fmt.Errorf("apply remote %s: %w", act.Desc.Kind, err)
		}

	case negotiation.AddCandidate:
		if err := a.engine.AddRemoteCandidate(act.Record); err != nil {
			a.log.WithError(err).Warn("Failed to add remote candidate")
		}

	case negotiation.Send:
		if err := a.transport.Send(act.Message); err != nil {
			a.followUps = append(a.followUps, negotiation.Disconnected{Err: err})
			return nil
		}
		if act.Message.Type == models.SignalTypeAnswer {
			a.followUps = append(a.followUps, negotiation.AnswerDelivered{})
		}

	case negotiation.Anomaly:
		a.log.WithField("state", a.session.State()).Warn("Protocol anomaly: " + act.Reason)

	case negotiation.Terminate:
		a.result = act.Err
		entry := a.log.WithField("reason", act.Reason)
		if act.Err != nil {
			entry.WithError(act.Err).Warn("Session closed")
		} else {
			entry.Info("Session closed")
		}
	}
	return nil
}

// post hands ev to the loop. It never blocks once Run has returned.
func (a *Agent) post(ev negotiation.Event) {
	select {
	case a.events <- ev:
	case <-a.done:
	}
}

func (a *Agent) readLoop() {
	for {
		msg, err := a.transport.Receive()
		if errors.Is(err, ErrMalformedFrame) {
			a.log.WithError(err).Warn("Dropped frame")
			continue
		}
		if err != nil {
			select {
			case a.lost <- err:
			default:
			}
			return
		}

		if ev := a.toEvent(msg); ev != nil {
			a.post(ev)
		}
	}
}

// toEvent maps a relay message to a session event; nil means informational.
func (a *Agent) toEvent(msg models.SignalMessage) negotiation.Event {
	switch msg.Type {
	case models.SignalTypeEnterRoomRes:
		if msg.Error != "" {
			return negotiation.JoinRejected{Reason: msg.Error}
		}
		a.log.WithFields(logrus.Fields{"role": msg.Role, "peers": msg.Participants}).Info("Joined room")
		return negotiation.Joined{Role: msg.Role}
	case models.SignalTypeParticipate:
		a.log.WithField("peer", msg.UserID).Info("Peer joined")
		return nil
	case models.SignalTypeReady:
		return negotiation.ChannelReady{}
	case models.SignalTypeOffer:
		return negotiation.RemoteOffer{SDP: msg.SDP}
	case models.SignalTypeAnswer:
		return negotiation.RemoteAnswer{SDP: msg.SDP}
	case models.SignalTypeCandidate:
		label := 0
		if msg.Label != nil {
			label = *msg.Label
		}
		return negotiation.RemoteCandidate{Record: candidate.NewRecord(msg.Candidate, msg.Mid, label)}
	case models.SignalTypeHangup:
		return negotiation.RemoteHangup{}
	case models.SignalTypeError:
		a.log.WithField("error", msg.Error).Warn("Relay reported an error")
		return nil
	default:
		a.log.WithField("type", msg.Type).Warn("Unknown message type")
		return nil
	}
}
