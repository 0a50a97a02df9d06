package app

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/lumora/hearthlink/internal/core"
	"github.com/lumora/hearthlink/internal/domain"
)

// presenceEntry holds one device's soft state and the single timer that
// will expire it. An entry exists iff the device is currently present.
type presenceEntry struct {
	device domain.Device
	timer  clockwork.Timer
	gen    uint64
}

// PresenceRegistry is the lease arena: MarkPresent arms (or rearms) a TTL
// timer per device id, expiry removes the entry. Edge-triggered: events
// fire only on true present/absent transitions, never on refresh.
type PresenceRegistry struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	ttl     time.Duration
	entries map[domain.DeviceID]*presenceEntry
	gen     uint64
	sink    core.PresenceSink
}

func NewPresenceRegistry(clock clockwork.Clock, ttl time.Duration) *PresenceRegistry {
	return &PresenceRegistry{
		clock:   clock,
		ttl:     ttl,
		entries: make(map[domain.DeviceID]*presenceEntry),
	}
}

// SetSink registers the single event subscriber. The sink runs
// synchronously under the registry lock, so delivery order is exactly
// processing order; it gets a snapshot and must not re-enter the registry.
func (r *PresenceRegistry) SetSink(sink core.PresenceSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink = sink
}

// MarkPresent upserts the device snapshot and resets its lease to the full
// TTL. The old timer is always stopped before the new one is armed, so at
// most one live timer exists per device id.
func (r *PresenceRegistry) MarkPresent(d domain.Device) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, existed := r.entries[d.ID]
	if existed {
		prev.timer.Stop()
	}

	d.IsPresent = true
	d.LastActiveAt = r.clock.Now()

	r.gen++
	gen := r.gen
	id := d.ID
	r.entries[d.ID] = &presenceEntry{
		device: d,
		gen:    gen,
		timer: r.clock.AfterFunc(r.ttl, func() {
			r.expire(id, gen)
		}),
	}

	if !existed {
		log.Info().Str("module", "app.presence").Str("device", string(d.ID)).Str("group", string(d.GroupID)).Msg("device present")
		r.emitLocked(core.PresenceJoin, d)
	}
}

// MarkNotPresent removes the entry and its timer. Emits only if an entry
// actually existed.
func (r *PresenceRegistry) MarkNotPresent(id domain.DeviceID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return
	}
	e.timer.Stop()
	delete(r.entries, id)
	log.Info().Str("module", "app.presence").Str("device", string(id)).Msg("device absent")
	r.emitLocked(core.PresenceLeave, e.device)
}

// expire is the timer path. The generation check makes a timer that fired
// while a refresh was replacing it a no-op.
func (r *PresenceRegistry) expire(id domain.DeviceID, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok || e.gen != gen {
		return
	}
	delete(r.entries, id)
	log.Info().Str("module", "app.presence").Str("device", string(id)).Msg("presence lease expired")
	r.emitLocked(core.PresenceLeave, e.device)
}

// Present returns the group's current present devices. Live query, not a
// cache; sorted by id for stable rosters.
func (r *PresenceRegistry) Present(groupID domain.GroupID) []domain.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.presentLocked(groupID)
}

func (r *PresenceRegistry) presentLocked(groupID domain.GroupID) []domain.Device {
	out := make([]domain.Device, 0, len(r.entries))
	for _, e := range r.entries {
		if e.device.GroupID == groupID {
			out = append(out, e.device)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *PresenceRegistry) emitLocked(kind core.PresenceEventKind, d domain.Device) {
	if r.sink == nil {
		return
	}
	r.sink(core.PresenceEvent{
		Kind:    kind,
		Device:  d,
		GroupID: d.GroupID,
		Present: r.presentLocked(d.GroupID),
	})
}
