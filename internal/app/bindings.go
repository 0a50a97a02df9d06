package app

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lumora/hearthlink/internal/core"
	"github.com/lumora/hearthlink/internal/domain"
)

type binding struct {
	connID core.ConnID
	conn   core.SignalConnection
}

// BindingRegistry owns the bidirectional deviceId<->connection map. At most
// one connection per device id at any instant; a newer Bind supersedes an
// older one, and Release refuses to clear a superseded binding.
type BindingRegistry struct {
	mu       sync.RWMutex
	byDevice map[domain.DeviceID]*binding
	byConn   map[core.ConnID]domain.DeviceID
}

func NewBindingRegistry() *BindingRegistry {
	return &BindingRegistry{
		byDevice: make(map[domain.DeviceID]*binding),
		byConn:   make(map[core.ConnID]domain.DeviceID),
	}
}

// NewConnID mints a fresh connection id for one socket lifetime.
func NewConnID() core.ConnID {
	return core.ConnID(uuid.NewString())
}

// Bind associates the device with this connection, superseding any prior
// binding for the id. The superseded connection (if any) is returned so the
// caller can close it; its later disconnect must not disturb the new binding.
func (b *BindingRegistry) Bind(id domain.DeviceID, connID core.ConnID, conn core.SignalConnection) core.SignalConnection {
	b.mu.Lock()
	defer b.mu.Unlock()

	var superseded core.SignalConnection
	if prev, ok := b.byDevice[id]; ok {
		delete(b.byConn, prev.connID)
		superseded = prev.conn
	}
	b.byDevice[id] = &binding{connID: connID, conn: conn}
	b.byConn[connID] = id
	log.Info().Str("module", "app.bindings").Str("device", string(id)).Str("conn", string(connID)).Msg("bound connection")
	return superseded
}

func (b *BindingRegistry) Lookup(id domain.DeviceID) (core.SignalConnection, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if e, ok := b.byDevice[id]; ok {
		return e.conn, true
	}
	return nil, false
}

// DeviceOf reports which device id (if any) the connection owns.
func (b *BindingRegistry) DeviceOf(connID core.ConnID) (domain.DeviceID, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	id, ok := b.byConn[connID]
	return id, ok
}

// Release clears the device's binding only if it still points at this exact
// connection. A stale disconnect racing a fresh REGISTER is a no-op.
func (b *BindingRegistry) Release(id domain.DeviceID, connID core.ConnID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.byDevice[id]
	if !ok || e.connID != connID {
		return false
	}
	delete(b.byDevice, id)
	delete(b.byConn, connID)
	log.Info().Str("module", "app.bindings").Str("device", string(id)).Str("conn", string(connID)).Msg("released binding")
	return true
}
