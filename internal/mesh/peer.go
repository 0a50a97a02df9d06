// Package mesh keeps one WebRTC connection per remote participant in the
// call roster and drives offer/answer/ICE exchange through the hub.
package mesh

import (
	"context"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/lumora/hearthlink/internal/domain"
)

// PeerLink wraps one *webrtc.PeerConnection to a single remote device.
// Created and destroyed only by roster reconciliation or connection
// failure, never by direct user action.
type PeerLink struct {
	peerID   domain.DeviceID
	pc       *webrtc.PeerConnection
	onICE    func(webrtc.ICECandidateInit)
	onClosed func()
	cancel   context.CancelFunc

	statsMu sync.Mutex
	packets uint64
	bytes   uint64
}

func DefaultRTCConfig(stunServers []string) webrtc.Configuration {
	if len(stunServers) == 0 {
		stunServers = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: stunServers},
		},
	}
}

func NewPeerLink(cfg webrtc.Configuration, peerID domain.DeviceID) (*PeerLink, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &PeerLink{pc: pc, peerID: peerID}, nil
}

func (l *PeerLink) OnICECandidate(f func(webrtc.ICECandidateInit)) { l.onICE = f }
func (l *PeerLink) OnClosed(f func())                             { l.onClosed = f }

func (l *PeerLink) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	l.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "mesh").Str("peer", string(l.peerID)).Str("peer_connection_state", s.String()).Msg("peer state")
		if s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateClosed {
			if l.onClosed != nil {
				l.onClosed()
			}
		}
	})

	l.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && l.onICE != nil {
			l.onICE(cand.ToJSON())
		}
	})

	l.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "mesh").
			Str("peer", string(l.peerID)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("remote track")
		go l.drainTrack(ctx, track)
	})

	return nil
}

// AttachTrack adds a local outbound track before negotiation.
func (l *PeerLink) AttachTrack(t webrtc.TrackLocal) error {
	_, err := l.pc.AddTrack(t)
	return err
}

// CreateOffer produces and installs the local offer. Candidates trickle
// separately, so this does not wait for gathering.
func (l *PeerLink) CreateOffer() (string, error) {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	return offer.SDP, nil
}

func (l *PeerLink) ApplyAnswer(sdp string) error {
	return l.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
}

// ApplyOfferCreateAnswer is the passive side: accept the remote offer and
// produce the local answer.
func (l *PeerLink) ApplyOfferCreateAnswer(sdp string) (string, error) {
	offer := webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	}
	if err := l.pc.SetRemoteDescription(offer); err != nil {
		return "", err
	}
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	return answer.SDP, nil
}

func (l *PeerLink) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return l.pc.AddICECandidate(ci)
}

func (l *PeerLink) Close() {
	if l.cancel != nil {
		l.cancel()
	}
	if l.pc != nil {
		if err := l.pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "mesh").Str("peer", string(l.peerID)).Msg("close error")
		} else {
			log.Info().Str("module", "mesh").Str("peer", string(l.peerID)).Msg("closed")
		}
	}
}

// drainTrack is the remote media handle: it keeps the track flowing and
// accounts for what arrives.
func (l *PeerLink) drainTrack(ctx context.Context, track *webrtc.TrackRemote) {
	for {
		if ctx.Err() != nil {
			return
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			log.Info().Err(err).Str("module", "mesh").Str("peer", string(l.peerID)).Msg("remote track ended")
			return
		}
		l.observe(pkt)
	}
}

func (l *PeerLink) observe(p *rtp.Packet) {
	l.statsMu.Lock()
	l.packets++
	l.bytes += uint64(len(p.Payload))
	l.statsMu.Unlock()
}

// Stats reports packets and payload bytes received on remote tracks.
func (l *PeerLink) Stats() (packets, bytes uint64) {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	return l.packets, l.bytes
}
