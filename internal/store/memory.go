// Package store holds the device/group collaborator implementations. The
// hub only sees core.DeviceStore; identity and group membership live here,
// presence never does.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lumora/hearthlink/internal/domain"
)

// Memory is the in-memory store used for tests and single-binary setups.
type Memory struct {
	mu      sync.RWMutex
	groups  map[domain.GroupID]domain.Group
	devices map[domain.DeviceID]domain.Device
}

func NewMemory() *Memory {
	return &Memory{
		groups:  make(map[domain.GroupID]domain.Group),
		devices: make(map[domain.DeviceID]domain.Device),
	}
}

func (m *Memory) EnsureGroup(_ context.Context, id domain.GroupID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[id]; !ok {
		m.groups[id] = domain.Group{ID: id, CreatedAt: time.Now().UTC()}
	}
	return nil
}

func (m *Memory) UpsertDevice(_ context.Context, d domain.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Presence fields are soft state owned by the registry, not persisted.
	d.IsPresent = false
	d.LastActiveAt = time.Time{}
	m.devices[d.ID] = d
	return nil
}

func (m *Memory) GetDevice(_ context.Context, id domain.DeviceID) (domain.Device, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[id]
	return d, ok, nil
}

func (m *Memory) ListGroupDevices(_ context.Context, id domain.GroupID) ([]domain.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Device, 0)
	for _, d := range m.devices {
		if d.GroupID == id {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) IsMember(_ context.Context, device domain.DeviceID, group domain.GroupID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[device]
	return ok && d.GroupID == group, nil
}
