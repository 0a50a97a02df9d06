// Package agent is the device-side runtime: it watches the camera feed for
// motion, reports presence edges to the hub, and joins the peer mesh when
// enough of the group is awake.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/lumora/hearthlink/internal/config"
	"github.com/lumora/hearthlink/internal/domain"
	"github.com/lumora/hearthlink/internal/mesh"
	"github.com/lumora/hearthlink/internal/motion"
)

const (
	writeTimeout   = 5 * time.Second
	reconnectBase  = time.Second
	reconnectCap   = 30 * time.Second
	sessionHealthy = 30 * time.Second
)

var errNotConnected = errors.New("not connected to hub")

type call struct {
	room  string
	token string
}

// Agent owns one websocket session to the hub at a time and bridges it to
// the inferrer and the mesh.
type Agent struct {
	cfg   config.AgentConfig
	clock clockwork.Clock
	self  domain.DeviceID
	group domain.GroupID

	src   motion.Source
	track webrtc.TrackLocal

	Inferrer *motion.Inferrer
	mesh     *mesh.Orchestrator

	writeMu sync.Mutex
	conn    *websocket.Conn

	callMu sync.Mutex
	active *call
}

func New(cfg config.AgentConfig, clock clockwork.Clock, src motion.Source, track webrtc.TrackLocal) *Agent {
	a := &Agent{
		cfg:   cfg,
		clock: clock,
		self:  domain.DeviceID(cfg.DeviceID),
		group: domain.GroupID(cfg.GroupID),
		src:   src,
		track: track,
	}
	a.Inferrer = motion.NewInferrer(clock, motion.Config{
		PixelThreshold:    cfg.Motion.PixelThreshold,
		LocalTimeout:      cfg.Motion.LocalTimeout,
		HeartbeatInterval: cfg.Motion.HeartbeatInterval,
	}, motion.Callbacks{
		OnDetected: func() { a.sendMotion(domain.TypeMotionDetected) },
		OnStopped:  func() { a.sendMotion(domain.TypeMotionStopped) },
	})
	return a
}

// Run blocks until the context is cancelled, redialing the hub with
// exponential backoff in between sessions.
func (a *Agent) Run(ctx context.Context) error {
	a.mesh = mesh.NewOrchestrator(ctx, a.self, a, mesh.DefaultRTCConfig(a.cfg.STUNServers), a.track)
	defer a.mesh.Close()

	if a.src != nil {
		sampler := motion.NewSampler(a.clock, a.src, a.Inferrer, a.cfg.Motion.SampleInterval)
		go func() {
			if err := sampler.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Str("module", "agent").Msg("sampler stopped")
			}
		}()
	}

	backoff := reconnectBase
	for {
		started := a.clock.Now()
		err := a.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Err(err).Str("module", "agent").Msg("session ended, reconnecting")

		if a.clock.Since(started) > sessionHealthy {
			backoff = reconnectBase
		}
		a.clock.Sleep(backoff)
		backoff *= 2
		if backoff > reconnectCap {
			backoff = reconnectCap
		}
	}
}

func (a *Agent) session(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.cfg.ServerURL, nil)
	if err != nil {
		return err
	}
	a.setConn(conn)
	defer func() {
		a.setConn(nil)
		_ = conn.Close()
		// Losing the hub means losing the roster.
		a.mesh.Reconcile(nil)
	}()

	// Unblock the read loop when the context dies.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := a.sendEnvelope(domain.TypeRegister, domain.RegisterPayload{
		DeviceID:   a.self,
		GroupID:    a.group,
		DeviceName: a.cfg.DisplayName,
	}); err != nil {
		return err
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var env domain.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Error().Err(err).Str("module", "agent").Msg("bad envelope from hub")
			continue
		}
		a.dispatch(env)
	}
}

func (a *Agent) dispatch(env domain.Envelope) {
	switch env.Type {
	case domain.TypeRegisterAck:
		log.Info().Str("module", "agent").Str("device", string(a.self)).Msg("registered with hub")
	case domain.TypePresenceUpdate:
		var p domain.PresenceUpdatePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			log.Error().Err(err).Str("module", "agent").Msg("bad presence update")
			return
		}
		a.onPresence(p)
	case domain.TypeOffer:
		var p domain.SDPPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		a.mesh.HandleOffer(p.From, p.SDP)
	case domain.TypeAnswer:
		var p domain.SDPPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		a.mesh.HandleAnswer(p.From, p.SDP)
	case domain.TypeICECandidate:
		var p domain.ICECandidatePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		var ci webrtc.ICECandidateInit
		if err := json.Unmarshal(p.Candidate, &ci); err != nil {
			return
		}
		a.mesh.HandleCandidate(p.From, ci)
	case domain.TypeConferenceStart:
		var p domain.ConferenceStartPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		a.callMu.Lock()
		a.active = &call{room: p.RoomName, token: p.Token}
		a.callMu.Unlock()
		log.Info().Str("module", "agent").Str("room", p.RoomName).Msg("conference started, join credential received")
	case domain.TypeConferenceEnd:
		a.callMu.Lock()
		a.active = nil
		a.callMu.Unlock()
		log.Info().Str("module", "agent").Msg("conference ended")
	case domain.TypePeerJoined, domain.TypePeerLeft:
		var p domain.PeerEventPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		log.Info().Str("module", "agent").Str("type", string(env.Type)).Str("peer", string(p.Device.ID)).Msg("peer event")
	case domain.TypeError:
		var p domain.ErrorPayload
		_ = json.Unmarshal(env.Payload, &p)
		log.Warn().Str("module", "agent").Str("code", string(p.Code)).Str("message", p.Message).Msg("hub error")
	default:
		log.Warn().Str("module", "agent").Str("type", string(env.Type)).Msg("unexpected envelope type")
	}
}

func (a *Agent) onPresence(p domain.PresenceUpdatePayload) {
	a.mesh.Reconcile(callRoster(a.self, p.PresentDevices))
}

// callRoster is the client half of the quorum contract: join the mesh only
// when >=2 devices of the group are present and we are one of them; leave
// as soon as either stops holding.
func callRoster(self domain.DeviceID, present []domain.Device) []domain.DeviceID {
	selfPresent := false
	roster := make([]domain.DeviceID, 0, len(present))
	for _, d := range present {
		roster = append(roster, d.ID)
		if d.ID == self {
			selfPresent = true
		}
	}
	if !selfPresent || len(roster) < 2 {
		return nil
	}
	return roster
}

// ActiveCall returns the current room and credential, if a conference is on.
func (a *Agent) ActiveCall() (room, token string, ok bool) {
	a.callMu.Lock()
	defer a.callMu.Unlock()
	if a.active == nil {
		return "", "", false
	}
	return a.active.room, a.active.token, true
}

// SendOffer implements mesh.SignalSender.
func (a *Agent) SendOffer(to domain.DeviceID, sdp string) error {
	return a.sendEnvelope(domain.TypeOffer, domain.SDPPayload{SDP: sdp, From: a.self, To: to})
}

// SendAnswer implements mesh.SignalSender.
func (a *Agent) SendAnswer(to domain.DeviceID, sdp string) error {
	return a.sendEnvelope(domain.TypeAnswer, domain.SDPPayload{SDP: sdp, From: a.self, To: to})
}

// SendCandidate implements mesh.SignalSender.
func (a *Agent) SendCandidate(to domain.DeviceID, cand webrtc.ICECandidateInit) error {
	raw, err := json.Marshal(cand)
	if err != nil {
		return err
	}
	return a.sendEnvelope(domain.TypeICECandidate, domain.ICECandidatePayload{Candidate: raw, From: a.self, To: to})
}

func (a *Agent) sendMotion(t domain.MessageType) {
	if err := a.sendEnvelope(t, nil); err != nil {
		log.Warn().Err(err).Str("module", "agent").Str("type", string(t)).Msg("motion report dropped")
	}
}

func (a *Agent) setConn(conn *websocket.Conn) {
	a.writeMu.Lock()
	a.conn = conn
	a.writeMu.Unlock()
}

func (a *Agent) sendEnvelope(t domain.MessageType, payload any) error {
	env, err := domain.NewEnvelope(t, payload)
	if err != nil {
		return err
	}
	env.From = a.self
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if a.conn == nil {
		return errNotConnected
	}
	if err := a.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return a.conn.WriteMessage(websocket.TextMessage, raw)
}
