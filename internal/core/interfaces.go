package core

import (
	"context"

	"github.com/lumora/hearthlink/internal/domain"
)

// Frame is a raw binary payload (one encoded wire envelope).
type Frame []byte

// ConnID identifies one transport connection. Fresh per socket, never
// reused; the stale-disconnect check compares these.
type ConnID string

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

type PresenceEventKind int

const (
	PresenceJoin PresenceEventKind = iota
	PresenceLeave
)

// PresenceEvent is emitted on every true present/absent transition. It
// carries a snapshot of the group's present set so the subscriber never
// needs to call back into the registry.
type PresenceEvent struct {
	Kind    PresenceEventKind
	Device  domain.Device
	GroupID domain.GroupID
	Present []domain.Device
}

// PresenceSink receives events synchronously, in processing order. It must
// not re-enter the emitting registry.
type PresenceSink func(PresenceEvent)

// DeviceStore is the external lookup-and-upsert collaborator for device
// and group identity. Implementations live in internal/store.
type DeviceStore interface {
	EnsureGroup(ctx context.Context, id domain.GroupID) error
	UpsertDevice(ctx context.Context, d domain.Device) error
	GetDevice(ctx context.Context, id domain.DeviceID) (domain.Device, bool, error)
	ListGroupDevices(ctx context.Context, id domain.GroupID) ([]domain.Device, error)
	IsMember(ctx context.Context, device domain.DeviceID, group domain.GroupID) (bool, error)
}

// TokenIssuer grants a join credential for a media room. Invoked once per
// call attempt; otherwise irrelevant to signaling.
type TokenIssuer interface {
	JoinToken(roomName, participantName, identity string) (string, error)
}
