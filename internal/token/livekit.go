// Package token issues join credentials for the media relay. The hub calls
// it once per call attempt and never looks at the token again.
package token

import (
	"errors"
	"time"

	"github.com/livekit/protocol/auth"
)

var ErrMissingKeys = errors.New("livekit api key or secret missing")

// LiveKit mints room-join access tokens for a LiveKit deployment.
type LiveKit struct {
	apiKey    string
	apiSecret string
	ttl       time.Duration
}

func NewLiveKit(apiKey, apiSecret string, ttl time.Duration) (*LiveKit, error) {
	if apiKey == "" || apiSecret == "" {
		return nil, ErrMissingKeys
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &LiveKit{apiKey: apiKey, apiSecret: apiSecret, ttl: ttl}, nil
}

func (l *LiveKit) JoinToken(roomName, participantName, identity string) (string, error) {
	at := auth.NewAccessToken(l.apiKey, l.apiSecret)
	grant := &auth.VideoGrant{
		RoomJoin: true,
		Room:     roomName,
	}
	at.SetVideoGrant(grant).
		SetIdentity(identity).
		SetName(participantName).
		SetValidFor(l.ttl)
	return at.ToJWT()
}

// Static returns the same opaque token for every request. Test double and
// fallback for deployments without a media relay.
type Static struct {
	Token string
}

func (s Static) JoinToken(string, string, string) (string, error) {
	return s.Token, nil
}
