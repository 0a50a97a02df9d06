package app

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lumora/hearthlink/internal/core"
	"github.com/lumora/hearthlink/internal/domain"
)

// SignalingHub ties the pieces together: it binds connections to device
// ids, feeds motion edges into the presence registry, fans presence
// changes back out, and relays negotiation envelopes between peers.
type SignalingHub struct {
	ctx        context.Context
	Registry   *PresenceRegistry
	Bindings   *BindingRegistry
	Store      core.DeviceStore
	Issuer     core.TokenIssuer
	Policy     CallPolicy
	RoomPrefix string

	callMu sync.Mutex
	calls  map[domain.GroupID]string
}

func NewSignalingHub(
	ctx context.Context,
	registry *PresenceRegistry,
	bindings *BindingRegistry,
	store core.DeviceStore,
	issuer core.TokenIssuer,
	policy CallPolicy,
	roomPrefix string,
) *SignalingHub {
	h := &SignalingHub{
		ctx:        ctx,
		Registry:   registry,
		Bindings:   bindings,
		Store:      store,
		Issuer:     issuer,
		Policy:     policy,
		RoomPrefix: roomPrefix,
		calls:      make(map[domain.GroupID]string),
	}
	registry.SetSink(h.onPresence)
	return h
}

// HandleEnvelope dispatches one inbound wire envelope from a connection.
func (h *SignalingHub) HandleEnvelope(connID core.ConnID, conn core.SignalConnection, env domain.Envelope) {
	switch env.Type {
	case domain.TypeRegister:
		h.handleRegister(connID, conn, env)
	case domain.TypeMotionDetected:
		h.handleMotion(connID, true)
	case domain.TypeMotionStopped:
		h.handleMotion(connID, false)
	case domain.TypeOffer, domain.TypeAnswer:
		h.routeTargeted(conn, env, false)
	case domain.TypeICECandidate:
		h.routeTargeted(conn, env, true)
	default:
		log.Warn().Str("module", "app.hub").Str("type", string(env.Type)).Msg("unexpected envelope type")
	}
}

// OnDisconnect clears the connection's binding, but only if it has not been
// superseded by a fresh REGISTER. Losing the connection also ends presence.
func (h *SignalingHub) OnDisconnect(connID core.ConnID) {
	id, ok := h.Bindings.DeviceOf(connID)
	if !ok {
		return
	}
	if h.Bindings.Release(id, connID) {
		h.Registry.MarkNotPresent(id)
	} else {
		log.Info().Str("module", "app.hub").Str("device", string(id)).Str("conn", string(connID)).Msg("stale disconnect, binding already superseded")
	}
}

func (h *SignalingHub) handleRegister(connID core.ConnID, conn core.SignalConnection, env domain.Envelope) {
	var p domain.RegisterPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		log.Error().Err(err).Str("module", "app.hub").Msg("bad register payload")
		h.sendError(conn, domain.ErrCodeBadPayload, "bad register payload")
		return
	}

	dev, err := domain.NewDevice(p.DeviceID, p.GroupID, p.DeviceName)
	if err != nil {
		h.sendError(conn, domain.ErrCodeBadPayload, err.Error())
		return
	}

	// Idempotent ensure in the collaborator store. Failure keeps the
	// connection open so the device can retry.
	if err := h.Store.EnsureGroup(h.ctx, dev.GroupID); err != nil {
		log.Error().Err(err).Str("module", "app.hub").Str("group", string(dev.GroupID)).Msg("ensure group")
		h.sendError(conn, domain.ErrCodeRegistrationFailed, "store unavailable")
		return
	}
	if err := h.Store.UpsertDevice(h.ctx, *dev); err != nil {
		log.Error().Err(err).Str("module", "app.hub").Str("device", string(dev.ID)).Msg("upsert device")
		h.sendError(conn, domain.ErrCodeRegistrationFailed, "store unavailable")
		return
	}

	if superseded := h.Bindings.Bind(dev.ID, connID, conn); superseded != nil {
		superseded.Close()
	}

	log.Info().Str("module", "app.hub").Str("device", string(dev.ID)).Str("group", string(dev.GroupID)).Msg("registered")

	h.send(conn, domain.TypeRegisterAck, domain.RegisterAckPayload{DeviceID: dev.ID, GroupID: dev.GroupID})
	h.send(conn, domain.TypePresenceUpdate, domain.PresenceUpdatePayload{
		GroupID:        dev.GroupID,
		PresentDevices: h.Registry.Present(dev.GroupID),
	})
}

// handleMotion trusts the binding, not the envelope, for identity.
func (h *SignalingHub) handleMotion(connID core.ConnID, detected bool) {
	id, ok := h.Bindings.DeviceOf(connID)
	if !ok {
		log.Warn().Str("module", "app.hub").Str("conn", string(connID)).Msg("motion from unregistered connection")
		return
	}
	if !detected {
		h.Registry.MarkNotPresent(id)
		return
	}
	dev, found, err := h.Store.GetDevice(h.ctx, id)
	if err != nil || !found {
		log.Error().Err(err).Str("module", "app.hub").Str("device", string(id)).Msg("device lookup for motion")
		return
	}
	h.Registry.MarkPresent(dev)
}

// routeTargeted relays OFFER/ANSWER/ICE_CANDIDATE to payload.to. Offers and
// answers need a synchronous failure path; candidates race naturally with
// teardown and are dropped without comment.
func (h *SignalingHub) routeTargeted(conn core.SignalConnection, env domain.Envelope, silent bool) {
	var target struct {
		To domain.DeviceID `json:"to"`
	}
	if err := json.Unmarshal(env.Payload, &target); err != nil || target.To == "" {
		if !silent {
			h.sendError(conn, domain.ErrCodeBadPayload, "missing route target")
		}
		return
	}

	dst, ok := h.Bindings.Lookup(target.To)
	if !ok {
		if !silent {
			h.sendError(conn, domain.ErrCodePeerNotFound, "no binding for "+string(target.To))
		}
		return
	}

	raw, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "app.hub").Msg("re-encode envelope")
		return
	}
	if err := dst.TrySend(raw); err != nil {
		log.Warn().Err(err).Str("module", "app.hub").Str("to", string(target.To)).Str("type", string(env.Type)).Msg("relay dropped")
	}
}

// onPresence runs synchronously inside the registry's critical section, in
// event order. It works purely off the event snapshot.
func (h *SignalingHub) onPresence(ev core.PresenceEvent) {
	members, err := h.Store.ListGroupDevices(h.ctx, ev.GroupID)
	if err != nil {
		log.Error().Err(err).Str("module", "app.hub").Str("group", string(ev.GroupID)).Msg("list group devices, broadcasting to present set only")
		members = ev.Present
	}

	peerType := domain.TypePeerJoined
	if ev.Kind == core.PresenceLeave {
		peerType = domain.TypePeerLeft
	}

	// Best effort, no backlog: unbound device ids are skipped, nothing is
	// queued for later delivery.
	for _, m := range members {
		conn, ok := h.Bindings.Lookup(m.ID)
		if !ok {
			continue
		}
		h.send(conn, peerType, domain.PeerEventPayload{Device: ev.Device})
		h.send(conn, domain.TypePresenceUpdate, domain.PresenceUpdatePayload{
			GroupID:        ev.GroupID,
			PresentDevices: ev.Present,
		})
	}

	h.evaluateCall(ev.GroupID, ev.Present, members)
}

// evaluateCall tracks the quorum edge per group: a call starts when the
// policy first warrants it and ends when it stops doing so.
func (h *SignalingHub) evaluateCall(groupID domain.GroupID, present, members []domain.Device) {
	h.callMu.Lock()
	defer h.callMu.Unlock()

	warranted := h.Policy.Warranted(present)
	room, active := h.calls[groupID]

	switch {
	case warranted && !active:
		room = h.RoomPrefix + uuid.NewString()
		h.calls[groupID] = room
		log.Info().Str("module", "app.hub").Str("group", string(groupID)).Str("room", room).Int("present", len(present)).Msg("conference start")
		for _, d := range present {
			conn, ok := h.Bindings.Lookup(d.ID)
			if !ok {
				continue
			}
			token, err := h.Issuer.JoinToken(room, d.DisplayName, string(d.ID))
			if err != nil {
				log.Error().Err(err).Str("module", "app.hub").Str("device", string(d.ID)).Msg("join token")
				continue
			}
			h.send(conn, domain.TypeConferenceStart, domain.ConferenceStartPayload{RoomName: room, Token: token})
		}
	case !warranted && active:
		delete(h.calls, groupID)
		log.Info().Str("module", "app.hub").Str("group", string(groupID)).Str("room", room).Msg("conference end")
		for _, m := range members {
			conn, ok := h.Bindings.Lookup(m.ID)
			if !ok {
				continue
			}
			h.send(conn, domain.TypeConferenceEnd, domain.ConferenceEndPayload{RoomName: room})
		}
	}
}

func (h *SignalingHub) send(conn core.SignalConnection, t domain.MessageType, payload any) {
	env, err := domain.NewEnvelope(t, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "app.hub").Str("type", string(t)).Msg("encode payload")
		return
	}
	raw, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "app.hub").Str("type", string(t)).Msg("encode envelope")
		return
	}
	if err := conn.TrySend(raw); err != nil {
		log.Warn().Err(err).Str("module", "app.hub").Str("type", string(t)).Msg("send dropped")
	}
}

func (h *SignalingHub) sendError(conn core.SignalConnection, code domain.ErrorCode, msg string) {
	h.send(conn, domain.TypeError, domain.ErrorPayload{Code: code, Message: msg})
}
