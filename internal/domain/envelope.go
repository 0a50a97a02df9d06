package domain

import (
	"encoding/json"
	"time"
)

type MessageType string

const (
	TypeRegister        MessageType = "REGISTER"
	TypeRegisterAck     MessageType = "REGISTER_ACK"
	TypeMotionDetected  MessageType = "MOTION_DETECTED"
	TypeMotionStopped   MessageType = "MOTION_STOPPED"
	TypePresenceUpdate  MessageType = "PRESENCE_UPDATE"
	TypeOffer           MessageType = "OFFER"
	TypeAnswer          MessageType = "ANSWER"
	TypeICECandidate    MessageType = "ICE_CANDIDATE"
	TypeConferenceStart MessageType = "CONFERENCE_START"
	TypeConferenceEnd   MessageType = "CONFERENCE_END"
	TypePeerJoined      MessageType = "PEER_JOINED"
	TypePeerLeft        MessageType = "PEER_LEFT"
	TypeError           MessageType = "ERROR"
)

// Envelope is the wire frame for every signaling message. Immutable once
// sent; the hub forwards peer-to-peer envelopes verbatim.
type Envelope struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	From      DeviceID        `json:"from,omitempty"`
	To        DeviceID        `json:"to,omitempty"`
}

// NewEnvelope stamps and wraps a payload. A nil payload is allowed for
// types that carry none.
func NewEnvelope(t MessageType, payload any) (Envelope, error) {
	env := Envelope{Type: t, Timestamp: time.Now().UTC()}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, err
		}
		env.Payload = raw
	}
	return env, nil
}

type RegisterPayload struct {
	DeviceID   DeviceID `json:"deviceId"`
	GroupID    GroupID  `json:"groupId"`
	DeviceName string   `json:"deviceName"`
}

type RegisterAckPayload struct {
	DeviceID DeviceID `json:"deviceId"`
	GroupID  GroupID  `json:"groupId"`
}

type PresenceUpdatePayload struct {
	GroupID        GroupID  `json:"groupId"`
	PresentDevices []Device `json:"presentDevices"`
}

// SDPPayload carries both offers and answers.
type SDPPayload struct {
	SDP  string   `json:"sdp"`
	From DeviceID `json:"from"`
	To   DeviceID `json:"to"`
}

// ICECandidatePayload keeps the candidate opaque: the hub routes it, only
// the two peers interpret it.
type ICECandidatePayload struct {
	Candidate json.RawMessage `json:"candidate"`
	From      DeviceID        `json:"from"`
	To        DeviceID        `json:"to"`
}

type ConferenceStartPayload struct {
	RoomName string `json:"roomName"`
	Token    string `json:"token"`
}

type ConferenceEndPayload struct {
	RoomName string `json:"roomName"`
}

type PeerEventPayload struct {
	Device Device `json:"device"`
}

type ErrorCode string

const (
	ErrCodePeerNotFound       ErrorCode = "PEER_NOT_FOUND"
	ErrCodeRegistrationFailed ErrorCode = "REGISTRATION_FAILED"
	ErrCodeBadPayload         ErrorCode = "BAD_PAYLOAD"
)

type ErrorPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}
