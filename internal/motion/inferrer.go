package motion

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	// Temporal filter: at least temporalQuorum of the last temporalWindow
	// samples must clear the adaptive threshold.
	temporalWindow = 5
	temporalQuorum = 3

	// Adaptive threshold: rolling window of recent low-motion samples.
	// Values are percentages of changed pixels.
	lowWindowSize    = 30
	lowMotionCeiling = 0.3
	adaptiveFloor    = 0.5
	adaptiveGain     = 3.0

	// Velocity filter: human movement changes faster than ambient drift.
	velocityFloor  = 0.05
	outrightFactor = 2.0
)

type Config struct {
	// PixelThreshold is the per-channel intensity delta above which a pixel
	// counts as changed.
	PixelThreshold uint8
	// LocalTimeout is armed on the rising edge and rearmed on every real
	// motion sample; expiry fires OnStopped.
	LocalTimeout time.Duration
	// HeartbeatInterval re-fires OnDetected while active so the remote
	// presence lease outlives the local timeout. Never rearms the local
	// timeout.
	HeartbeatInterval time.Duration
}

// Callbacks must not re-enter the inferrer; they run synchronously.
type Callbacks struct {
	OnDetected func()
	OnStopped  func()
}

// Inferrer is the debounce core: per-sample pixel diff, three filters, one
// local timeout, one heartbeat.
type Inferrer struct {
	mu    sync.Mutex
	clock clockwork.Clock
	cfg   Config
	cb    Callbacks

	enabled bool
	active  bool

	prev   *Frame
	recent []float64
	lowWin []float64

	localTimer clockwork.Timer
	localGen   uint64
	hbStop     chan struct{}
}

func NewInferrer(clock clockwork.Clock, cfg Config, cb Callbacks) *Inferrer {
	return &Inferrer{
		clock:   clock,
		cfg:     cfg,
		cb:      cb,
		enabled: true,
	}
}

// Process consumes one sample. Called from the sampler loop; also usable
// directly in tests.
func (i *Inferrer) Process(f Frame) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.prev == nil || !i.prev.sameShape(f) {
		i.prev = &f
		return
	}
	pct := diffPercent(*i.prev, f, i.cfg.PixelThreshold)
	i.prev = &f

	if !i.enabled {
		return
	}

	i.recent = append(i.recent, pct)
	if len(i.recent) > temporalWindow {
		i.recent = i.recent[1:]
	}
	if pct < lowMotionCeiling {
		i.lowWin = append(i.lowWin, pct)
		if len(i.lowWin) > lowWindowSize {
			i.lowWin = i.lowWin[1:]
		}
	}

	if !i.isRealMotionLocked(pct) {
		return
	}

	if i.active {
		i.armLocalLocked()
		return
	}

	i.active = true
	i.armLocalLocked()
	i.startHeartbeatLocked()
	log.Debug().Str("module", "motion").Float64("pct", pct).Msg("motion rising edge")
	if i.cb.OnDetected != nil {
		i.cb.OnDetected()
	}
}

func (i *Inferrer) isRealMotionLocked(pct float64) bool {
	adaptive := i.adaptiveThresholdLocked()

	above := 0
	for _, v := range i.recent {
		if v >= adaptive {
			above++
		}
	}
	if above < temporalQuorum {
		return false
	}

	if pct > outrightFactor*adaptive {
		return true
	}
	return i.velocityLocked() > velocityFloor
}

func (i *Inferrer) adaptiveThresholdLocked() float64 {
	if len(i.lowWin) == 0 {
		return adaptiveFloor
	}
	sum := 0.0
	for _, v := range i.lowWin {
		sum += v
	}
	t := adaptiveGain * sum / float64(len(i.lowWin))
	if t < adaptiveFloor {
		return adaptiveFloor
	}
	return t
}

// velocityLocked is the mean absolute frame-to-frame change of the recent
// motion percentages.
func (i *Inferrer) velocityLocked() float64 {
	if len(i.recent) < 2 {
		return 0
	}
	sum := 0.0
	for k := 1; k < len(i.recent); k++ {
		d := i.recent[k] - i.recent[k-1]
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return sum / float64(len(i.recent)-1)
}

// armLocalLocked implements clear-then-rearm: the previous timer is always
// stopped first, so there is never a second live timer.
func (i *Inferrer) armLocalLocked() {
	if i.localTimer != nil {
		i.localTimer.Stop()
	}
	i.localGen++
	gen := i.localGen
	i.localTimer = i.clock.AfterFunc(i.cfg.LocalTimeout, func() {
		i.expire(gen)
	})
}

func (i *Inferrer) expire(gen uint64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.active || gen != i.localGen {
		return
	}
	log.Debug().Str("module", "motion").Msg("motion timeout expired")
	i.deactivateLocked()
}

func (i *Inferrer) startHeartbeatLocked() {
	if i.cfg.HeartbeatInterval <= 0 {
		return
	}
	stop := make(chan struct{})
	i.hbStop = stop
	ticker := i.clock.NewTicker(i.cfg.HeartbeatInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.Chan():
				i.heartbeat()
			}
		}
	}()
}

// heartbeat re-fires OnDetected while active. It must not touch the local
// timeout, or active state could never expire locally.
func (i *Inferrer) heartbeat() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.active || !i.enabled {
		return
	}
	if i.cb.OnDetected != nil {
		i.cb.OnDetected()
	}
}

func (i *Inferrer) deactivateLocked() {
	i.active = false
	if i.localTimer != nil {
		i.localTimer.Stop()
		i.localTimer = nil
	}
	if i.hbStop != nil {
		close(i.hbStop)
		i.hbStop = nil
	}
	if i.cb.OnStopped != nil {
		i.cb.OnStopped()
	}
}

// SetEnabled toggles detection. Disabling while active fires OnStopped
// before returning; disabled and active never coexist.
func (i *Inferrer) SetEnabled(v bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.enabled == v {
		return
	}
	i.enabled = v
	if !v && i.active {
		i.deactivateLocked()
	}
}

func (i *Inferrer) Active() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.active
}

// diffPercent returns the percentage of pixels whose R, G or B channel
// moved more than thr between the two frames.
func diffPercent(prev, cur Frame, thr uint8) float64 {
	total := cur.Width * cur.Height
	if total == 0 {
		return 0
	}
	changed := 0
	for p := 0; p < total*4; p += 4 {
		if absDelta(prev.Pix[p], cur.Pix[p]) > thr ||
			absDelta(prev.Pix[p+1], cur.Pix[p+1]) > thr ||
			absDelta(prev.Pix[p+2], cur.Pix[p+2]) > thr {
			changed++
		}
	}
	return 100 * float64(changed) / float64(total)
}

func absDelta(a, b uint8) uint8 {
	if a > b {
		return a - b
	}
	return b - a
}
