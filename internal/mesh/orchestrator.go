package mesh

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/lumora/hearthlink/internal/domain"
)

// SignalSender carries negotiation messages to a specific peer through the
// hub. Implemented by the agent's websocket session.
type SignalSender interface {
	SendOffer(to domain.DeviceID, sdp string) error
	SendAnswer(to domain.DeviceID, sdp string) error
	SendCandidate(to domain.DeviceID, cand webrtc.ICECandidateInit) error
}

// Orchestrator reconciles peer links against the call roster. Glare is
// avoided by a deterministic tie-break: only the device whose id sorts
// lexicographically before the peer's creates the offer.
type Orchestrator struct {
	mu     sync.Mutex
	ctx    context.Context
	self   domain.DeviceID
	sender SignalSender
	rtcCfg webrtc.Configuration
	track  webrtc.TrackLocal

	links  map[domain.DeviceID]*PeerLink
	roster map[domain.DeviceID]struct{}
}

func NewOrchestrator(ctx context.Context, self domain.DeviceID, sender SignalSender, rtcCfg webrtc.Configuration, track webrtc.TrackLocal) *Orchestrator {
	return &Orchestrator{
		ctx:    ctx,
		self:   self,
		sender: sender,
		rtcCfg: rtcCfg,
		track:  track,
		links:  make(map[domain.DeviceID]*PeerLink),
		roster: make(map[domain.DeviceID]struct{}),
	}
}

// Initiates reports whether we are the offering side for this peer.
func (o *Orchestrator) Initiates(peer domain.DeviceID) bool {
	return o.self < peer
}

// Reconcile brings the link set in line with the roster: open for appeared
// ids, close for disappeared ones. The passive side of a pair opens its
// link lazily, when the offer arrives.
func (o *Orchestrator) Reconcile(roster []domain.DeviceID) {
	o.mu.Lock()

	next := make(map[domain.DeviceID]struct{}, len(roster))
	for _, id := range roster {
		if id != o.self {
			next[id] = struct{}{}
		}
	}
	o.roster = next

	var stale []*PeerLink
	for id, link := range o.links {
		if _, keep := next[id]; !keep {
			delete(o.links, id)
			stale = append(stale, link)
		}
	}

	for id := range next {
		if _, exists := o.links[id]; exists {
			continue
		}
		if !o.Initiates(id) {
			continue
		}
		link, err := o.openLinkLocked(id)
		if err != nil {
			log.Error().Err(err).Str("module", "mesh").Str("peer", string(id)).Msg("open link")
			continue
		}
		go o.negotiateOffer(id, link)
	}
	o.mu.Unlock()

	for _, link := range stale {
		link.Close()
	}
}

// HandleOffer accepts an incoming offer, creating the link if none exists.
func (o *Orchestrator) HandleOffer(from domain.DeviceID, sdp string) {
	o.mu.Lock()
	link, exists := o.links[from]
	if !exists {
		var err error
		link, err = o.openLinkLocked(from)
		if err != nil {
			o.mu.Unlock()
			log.Error().Err(err).Str("module", "mesh").Str("peer", string(from)).Msg("open link for offer")
			return
		}
	}
	o.mu.Unlock()

	answer, err := link.ApplyOfferCreateAnswer(sdp)
	if err != nil {
		o.fail(from, link, err)
		return
	}
	if !o.current(from, link) {
		return
	}
	if err := o.sender.SendAnswer(from, answer); err != nil {
		log.Warn().Err(err).Str("module", "mesh").Str("peer", string(from)).Msg("send answer")
	}
}

// HandleAnswer applies the remote answer if the link is still part of the
// live roster; it may have been torn down while the offer was in flight.
func (o *Orchestrator) HandleAnswer(from domain.DeviceID, sdp string) {
	o.mu.Lock()
	link, ok := o.links[from]
	o.mu.Unlock()
	if !ok {
		log.Info().Str("module", "mesh").Str("peer", string(from)).Msg("answer for torn-down link, dropped")
		return
	}
	if !o.current(from, link) {
		return
	}
	if err := link.ApplyAnswer(sdp); err != nil {
		o.fail(from, link, err)
	}
}

// HandleCandidate applies the candidate to the matching link if it still
// exists; candidates race naturally with teardown and are never queued.
func (o *Orchestrator) HandleCandidate(from domain.DeviceID, ci webrtc.ICECandidateInit) {
	o.mu.Lock()
	link, ok := o.links[from]
	o.mu.Unlock()
	if !ok {
		return
	}
	if err := link.AddICECandidate(ci); err != nil {
		log.Warn().Err(err).Str("module", "mesh").Str("peer", string(from)).Msg("add candidate")
	}
}

// Close tears down every link, e.g. when the call ends or presence stops.
func (o *Orchestrator) Close() {
	o.Reconcile(nil)
}

// LinkCount is a convenience for callers watching mesh health.
func (o *Orchestrator) LinkCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.links)
}

func (o *Orchestrator) openLinkLocked(id domain.DeviceID) (*PeerLink, error) {
	link, err := NewPeerLink(o.rtcCfg, id)
	if err != nil {
		return nil, err
	}
	link.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		if err := o.sender.SendCandidate(id, ci); err != nil {
			log.Warn().Err(err).Str("module", "mesh").Str("peer", string(id)).Msg("send candidate")
		}
	})
	link.OnClosed(func() {
		// Same teardown path as roster removal, off the pion callback
		// goroutine to avoid re-entering a closing connection.
		go o.teardown(id, link)
	})
	if o.track != nil {
		if err := link.AttachTrack(o.track); err != nil {
			link.Close()
			return nil, err
		}
	}
	if err := link.Start(o.ctx); err != nil {
		link.Close()
		return nil, err
	}
	o.links[id] = link
	return link, nil
}

func (o *Orchestrator) negotiateOffer(id domain.DeviceID, link *PeerLink) {
	sdp, err := link.CreateOffer()
	if err != nil {
		o.fail(id, link, err)
		return
	}
	if !o.current(id, link) {
		return
	}
	if err := o.sender.SendOffer(id, sdp); err != nil {
		log.Warn().Err(err).Str("module", "mesh").Str("peer", string(id)).Msg("send offer")
	}
}

// current reports whether this exact link is still live for the peer; it
// may have been torn down while an async negotiation step was in flight.
func (o *Orchestrator) current(id domain.DeviceID, link *PeerLink) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.links[id] == link
}

// fail closes only the one affected link; other pairs are untouched.
func (o *Orchestrator) fail(id domain.DeviceID, link *PeerLink, err error) {
	log.Error().Err(err).Str("module", "mesh").Str("peer", string(id)).Msg("negotiation failed")
	o.teardown(id, link)
}

func (o *Orchestrator) teardown(id domain.DeviceID, link *PeerLink) {
	o.mu.Lock()
	if o.links[id] == link {
		delete(o.links, id)
	}
	o.mu.Unlock()
	link.Close()
}
