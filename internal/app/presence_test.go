package app

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumora/hearthlink/internal/core"
	"github.com/lumora/hearthlink/internal/domain"
)

const testTTL = 30 * time.Second

type eventLog struct {
	mu     sync.Mutex
	events []core.PresenceEvent
}

func (l *eventLog) sink(ev core.PresenceEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) all() []core.PresenceEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]core.PresenceEvent, len(l.events))
	copy(out, l.events)
	return out
}

func (l *eventLog) count(kind core.PresenceEventKind) int {
	n := 0
	for _, ev := range l.all() {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func testDevice(id, group string) domain.Device {
	return domain.Device{ID: domain.DeviceID(id), GroupID: domain.GroupID(group), DisplayName: id}
}

func newTestRegistry(t *testing.T) (*PresenceRegistry, *clockwork.FakeClock, *eventLog) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	reg := NewPresenceRegistry(clock, testTTL)
	lg := &eventLog{}
	reg.SetSink(lg.sink)
	return reg, clock, lg
}

func ids(devices []domain.Device) []string {
	out := make([]string, 0, len(devices))
	for _, d := range devices {
		out = append(out, string(d.ID))
	}
	return out
}

func TestMarkPresentIsEdgeTriggered(t *testing.T) {
	reg, _, lg := newTestRegistry(t)

	reg.MarkPresent(testDevice("cam-a", "fam"))
	reg.MarkPresent(testDevice("cam-a", "fam"))
	reg.MarkPresent(testDevice("cam-a", "fam"))

	require.Equal(t, 1, lg.count(core.PresenceJoin))
	require.Equal(t, 0, lg.count(core.PresenceLeave))
	require.Equal(t, []string{"cam-a"}, ids(reg.Present("fam")))
}

func TestMarkNotPresentEmitsOnlyIfPresent(t *testing.T) {
	reg, _, lg := newTestRegistry(t)

	reg.MarkNotPresent("cam-a")
	require.Empty(t, lg.all())

	reg.MarkPresent(testDevice("cam-a", "fam"))
	reg.MarkNotPresent("cam-a")
	reg.MarkNotPresent("cam-a")

	require.Equal(t, 1, lg.count(core.PresenceJoin))
	require.Equal(t, 1, lg.count(core.PresenceLeave))
	require.Empty(t, reg.Present("fam"))
}

func TestRefreshResetsLeaseToFullDuration(t *testing.T) {
	reg, clock, lg := newTestRegistry(t)

	reg.MarkPresent(testDevice("cam-a", "fam"))
	clock.Advance(20 * time.Second)
	reg.MarkPresent(testDevice("cam-a", "fam"))

	// 20s after the refresh: the original lease would have expired by now.
	clock.Advance(20 * time.Second)
	require.Equal(t, []string{"cam-a"}, ids(reg.Present("fam")))

	clock.Advance(11 * time.Second)
	require.Eventually(t, func() bool {
		return len(reg.Present("fam")) == 0
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, lg.count(core.PresenceLeave))
}

func TestRefreshNeverDoublesExpiry(t *testing.T) {
	reg, clock, lg := newTestRegistry(t)

	for i := 0; i < 5; i++ {
		reg.MarkPresent(testDevice("cam-a", "fam"))
	}
	clock.Advance(testTTL + time.Second)

	require.Eventually(t, func() bool {
		return lg.count(core.PresenceLeave) == 1
	}, time.Second, 5*time.Millisecond)

	// Let any stray timers fire; the count must stay at one.
	clock.Advance(10 * testTTL)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, lg.count(core.PresenceLeave))
	assert.Equal(t, 1, lg.count(core.PresenceJoin))
}

func TestPresentTracksLatestCallPerDevice(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	reg.MarkPresent(testDevice("cam-a", "fam"))
	reg.MarkPresent(testDevice("cam-b", "fam"))
	reg.MarkPresent(testDevice("cam-c", "other"))
	reg.MarkNotPresent("cam-a")
	reg.MarkPresent(testDevice("cam-a", "fam"))
	reg.MarkNotPresent("cam-b")

	require.Equal(t, []string{"cam-a"}, ids(reg.Present("fam")))
	require.Equal(t, []string{"cam-c"}, ids(reg.Present("other")))
}

func TestEventSnapshotsArriveInOrder(t *testing.T) {
	reg, _, lg := newTestRegistry(t)

	reg.MarkPresent(testDevice("cam-a", "fam"))
	reg.MarkPresent(testDevice("cam-b", "fam"))
	reg.MarkNotPresent("cam-a")

	events := lg.all()
	require.Len(t, events, 3)
	assert.Equal(t, []string{"cam-a"}, ids(events[0].Present))
	assert.Equal(t, []string{"cam-a", "cam-b"}, ids(events[1].Present))
	assert.Equal(t, []string{"cam-b"}, ids(events[2].Present))
}

func TestStaggeredJoinsExpireIndependently(t *testing.T) {
	reg, clock, lg := newTestRegistry(t)

	reg.MarkPresent(testDevice("cam-a", "fam"))
	clock.Advance(5 * time.Second)
	reg.MarkPresent(testDevice("cam-b", "fam"))

	require.Equal(t, []string{"cam-a", "cam-b"}, ids(reg.Present("fam")))
	require.Equal(t, 2, lg.count(core.PresenceJoin))

	// A expires at t=30s, B at t=35s.
	clock.Advance(26 * time.Second)
	require.Eventually(t, func() bool {
		present := reg.Present("fam")
		return len(present) == 1 && present[0].ID == "cam-b"
	}, time.Second, 5*time.Millisecond)

	clock.Advance(5 * time.Second)
	require.Eventually(t, func() bool {
		return len(reg.Present("fam")) == 0
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 2, lg.count(core.PresenceLeave))
}
