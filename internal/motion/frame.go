// Package motion turns noisy camera frames into a debounced presence
// signal: a throttled sampler feeds downsized RGBA frames to an inferrer
// that emits rising/falling activity edges.
package motion

import (
	"context"
	"fmt"
	"io"
)

// Frame is one downsized RGBA sample (4 bytes per pixel).
type Frame struct {
	Width  int
	Height int
	Pix    []uint8
}

func (f Frame) sameShape(o Frame) bool {
	return f.Width == o.Width && f.Height == o.Height && len(f.Pix) == len(o.Pix)
}

// Source yields frames for the sampler. Implementations decide pacing of
// the underlying capture; the sampler decides pacing of consumption.
type Source interface {
	NextFrame(ctx context.Context) (Frame, error)
}

// StreamSource reads fixed-size raw RGBA frames off a byte stream, e.g.
// an ffmpeg rawvideo pipe on stdin.
type StreamSource struct {
	r      io.Reader
	width  int
	height int
}

func NewStreamSource(r io.Reader, width, height int) (*StreamSource, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", width, height)
	}
	return &StreamSource{r: r, width: width, height: height}, nil
}

func (s *StreamSource) NextFrame(_ context.Context) (Frame, error) {
	buf := make([]uint8, s.width*s.height*4)
	if _, err := io.ReadFull(s.r, buf); err != nil {
		return Frame{}, err
	}
	return Frame{Width: s.width, Height: s.height, Pix: buf}, nil
}
