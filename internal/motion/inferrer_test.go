package motion

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testWidth     = 10
	testHeight    = 10
	testThreshold = 10
)

type edgeCount struct {
	mu       sync.Mutex
	detected int
	stopped  int
}

func (c *edgeCount) callbacks() Callbacks {
	return Callbacks{
		OnDetected: func() {
			c.mu.Lock()
			c.detected++
			c.mu.Unlock()
		},
		OnStopped: func() {
			c.mu.Lock()
			c.stopped++
			c.mu.Unlock()
		},
	}
}

func (c *edgeCount) counts() (detected, stopped int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.detected, c.stopped
}

func uniformFrame(value uint8) Frame {
	pix := make([]uint8, testWidth*testHeight*4)
	for p := range pix {
		pix[p] = value
	}
	return Frame{Width: testWidth, Height: testHeight, Pix: pix}
}

// spotFrame is black except for the first n pixels, which are bright.
// Against a black frame it diffs to exactly n percent on a 10x10 grid.
func spotFrame(n int) Frame {
	f := uniformFrame(0)
	for p := 0; p < n*4; p++ {
		f.Pix[p] = 200
	}
	return f
}

// frameFeed alternates a black frame with a bright-spot frame so every
// consecutive pair diffs by the same percentage.
type frameFeed struct {
	frames [2]Frame
	next   int
}

func newFrameFeed(spotPixels int) *frameFeed {
	return &frameFeed{frames: [2]Frame{uniformFrame(0), spotFrame(spotPixels)}}
}

func (f *frameFeed) feed(i *Inferrer, samples int) {
	for n := 0; n < samples; n++ {
		i.Process(f.frames[f.next])
		f.next = 1 - f.next
	}
}

func newTestInferrer(clock clockwork.Clock, localTimeout, heartbeat time.Duration) (*Inferrer, *edgeCount) {
	counts := &edgeCount{}
	inf := NewInferrer(clock, Config{
		PixelThreshold:    testThreshold,
		LocalTimeout:      localTimeout,
		HeartbeatInterval: heartbeat,
	}, counts.callbacks())
	return inf, counts
}

func TestIdenticalFramesNeverTrigger(t *testing.T) {
	inf, counts := newTestInferrer(clockwork.NewFakeClock(), 3*time.Second, 0)

	f := uniformFrame(128)
	for n := 0; n < 50; n++ {
		inf.Process(f)
	}

	detected, stopped := counts.counts()
	assert.Zero(t, detected)
	assert.Zero(t, stopped)
	assert.False(t, inf.Active())
}

func TestSingleSpikeIsFilteredOut(t *testing.T) {
	inf, counts := newTestInferrer(clockwork.NewFakeClock(), 3*time.Second, 0)

	quiet := uniformFrame(0)
	inf.Process(quiet)
	inf.Process(spotFrame(50)) // one 50% spike
	for n := 0; n < 20; n++ {
		inf.Process(spotFrame(50)) // identical from here on: zero diff
	}

	detected, _ := counts.counts()
	assert.Zero(t, detected)
	assert.False(t, inf.Active())
}

func TestSustainedMotionFiresExactlyOneDetection(t *testing.T) {
	inf, counts := newTestInferrer(clockwork.NewFakeClock(), 3*time.Second, 0)

	feed := newFrameFeed(5)
	feed.feed(inf, 20)

	detected, stopped := counts.counts()
	assert.Equal(t, 1, detected)
	assert.Zero(t, stopped)
	assert.True(t, inf.Active())
}

func TestQuietTimeoutFiresStopped(t *testing.T) {
	clock := clockwork.NewFakeClock()
	inf, counts := newTestInferrer(clock, 3*time.Second, 0)

	newFrameFeed(5).feed(inf, 10)
	require.True(t, inf.Active())

	clock.Advance(3100 * time.Millisecond)
	require.Eventually(t, func() bool {
		_, stopped := counts.counts()
		return stopped == 1
	}, time.Second, 5*time.Millisecond)
	assert.False(t, inf.Active())

	// No stray timers left behind.
	clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	_, stopped := counts.counts()
	assert.Equal(t, 1, stopped)
}

func TestOngoingMotionRearmsTimeout(t *testing.T) {
	clock := clockwork.NewFakeClock()
	inf, counts := newTestInferrer(clock, 3*time.Second, 0)

	feed := newFrameFeed(5)
	feed.feed(inf, 10)
	require.True(t, inf.Active())

	// Keep moving past the point the first arm would have expired.
	clock.Advance(2 * time.Second)
	feed.feed(inf, 2)
	clock.Advance(2 * time.Second)
	assert.True(t, inf.Active())

	// Quiet now: the last rearm runs out.
	clock.Advance(1500 * time.Millisecond)
	require.Eventually(t, func() bool {
		_, stopped := counts.counts()
		return stopped == 1
	}, time.Second, 5*time.Millisecond)

	detected, _ := counts.counts()
	assert.Equal(t, 1, detected)
}

func TestDisableWhileActiveStopsSynchronously(t *testing.T) {
	inf, counts := newTestInferrer(clockwork.NewFakeClock(), 3*time.Second, 0)

	feed := newFrameFeed(5)
	feed.feed(inf, 10)
	require.True(t, inf.Active())

	inf.SetEnabled(false)
	_, stopped := counts.counts()
	assert.Equal(t, 1, stopped)
	assert.False(t, inf.Active())

	// Disabled: frames are consumed but never trigger.
	feed.feed(inf, 10)
	detected, _ := counts.counts()
	assert.Equal(t, 1, detected)

	// Re-enabled: detection works again.
	inf.SetEnabled(true)
	feed.feed(inf, 10)
	detected, _ = counts.counts()
	assert.Equal(t, 2, detected)
}

func TestHeartbeatRefiresWithoutExtendingTimeout(t *testing.T) {
	clock := clockwork.NewFakeClock()
	inf, counts := newTestInferrer(clock, 3500*time.Millisecond, time.Second)

	newFrameFeed(5).feed(inf, 10)
	require.True(t, inf.Active())
	base, _ := counts.counts()
	require.Equal(t, 1, base)

	// No frames from here on: only the heartbeat speaks.
	for beat := 1; beat <= 3; beat++ {
		clock.Advance(time.Second)
		want := base + beat
		require.Eventually(t, func() bool {
			detected, _ := counts.counts()
			return detected == want
		}, time.Second, 5*time.Millisecond)
	}

	// The heartbeat never rearmed the local timeout, so 3.5s after the
	// last real sample the inferrer goes quiet.
	clock.Advance(600 * time.Millisecond)
	require.Eventually(t, func() bool {
		_, stopped := counts.counts()
		return stopped == 1
	}, time.Second, 5*time.Millisecond)
	assert.False(t, inf.Active())

	// And a stopped inferrer's heartbeat stays silent.
	detectedBefore, _ := counts.counts()
	clock.Advance(5 * time.Second)
	time.Sleep(20 * time.Millisecond)
	detectedAfter, _ := counts.counts()
	assert.Equal(t, detectedBefore, detectedAfter)
}

func TestDiffPercentCountsChangedPixels(t *testing.T) {
	assert.InDelta(t, 5.0, diffPercent(uniformFrame(0), spotFrame(5), testThreshold), 0.001)
	assert.Zero(t, diffPercent(uniformFrame(0), uniformFrame(0), testThreshold))
	// Deltas at or below the threshold do not count.
	assert.Zero(t, diffPercent(uniformFrame(0), uniformFrame(testThreshold), testThreshold))
}
