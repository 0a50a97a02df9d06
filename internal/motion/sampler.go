package motion

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// minSampleInterval caps the sampling rate regardless of how fast the
// source can produce frames.
const minSampleInterval = 100 * time.Millisecond

// Sampler is the cooperative sampling loop: a scheduled task with an
// explicit cancel (the context), not a free-running callback chain.
type Sampler struct {
	src      Source
	inf      *Inferrer
	interval time.Duration
	clock    clockwork.Clock
}

func NewSampler(clock clockwork.Clock, src Source, inf *Inferrer, interval time.Duration) *Sampler {
	if interval < minSampleInterval {
		interval = minSampleInterval
	}
	return &Sampler{src: src, inf: inf, interval: interval, clock: clock}
}

// Run blocks until the context is cancelled or the source is exhausted.
func (s *Sampler) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			frame, err := s.src.NextFrame(ctx)
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				log.Info().Str("module", "motion").Msg("frame source exhausted")
				return nil
			}
			if err != nil {
				log.Warn().Err(err).Str("module", "motion").Msg("frame read failed")
				continue
			}
			s.inf.Process(frame)
		}
	}
}
