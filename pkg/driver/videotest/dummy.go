// Package videotest provides a synthetic capture source for testing.
package videotest

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/capturebridge/capturebridge/pkg/frame"
	"github.com/capturebridge/capturebridge/pkg/prop"
)

// Option configures a Source.
type Option func(*Source)

// WithJitter moves every frame's start time by a random amount in
// [-jitter, jitter], producing the overlapping intervals real drivers emit.
func WithJitter(jitter frame.Ticks) Option {
	return func(s *Source) {
		s.jitter = jitter
	}
}

// WithSeed seeds the noise and jitter generator.
func WithSeed(seed int64) Option {
	return func(s *Source) {
		s.random = rand.New(rand.NewSource(seed))
	}
}

// Source produces packed 4:2:2 frames showing color bars above a gray
// gradient and a noise area, stamped with consecutive 100ns intervals.
type Source struct {
	video    prop.Video
	base     []byte
	duration frame.Ticks
	next     frame.Ticks
	jitter   frame.Ticks
	random   *rand.Rand

	pool        sync.Pool
	outstanding atomic.Int64
}

// NewSource creates a source for video. A zero frame rate means 30fps.
func NewSource(video prop.Video, opts ...Option) (*Source, error) {
	if video.FrameRate == 0 {
		video.FrameRate = 30
	}
	if video.FrameFormat == "" {
		video.FrameFormat = frame.FormatYUY2
	}
	if err := video.Validate(); err != nil {
		return nil, err
	}

	s := &Source{
		video:    video,
		duration: video.FrameDuration(),
		random:   rand.New(rand.NewSource(0)),
	}
	for _, o := range opts {
		o(s)
	}

	size := video.FrameSize()
	s.pool.New = func() any {
		return make([]byte, size)
	}
	s.base = s.pattern()
	return s, nil
}

// Video returns the geometry of generated frames.
func (s *Source) Video() prop.Video {
	return s.video
}

// Outstanding returns the number of frames handed out and not yet released.
func (s *Source) Outstanding() int64 {
	return s.outstanding.Load()
}

var colors = [][3]byte{
	{235, 128, 128},
	{210, 16, 146},
	{170, 166, 16},
	{145, 54, 34},
	{107, 202, 222},
	{82, 90, 240},
	{41, 240, 110},
}

func (s *Source) pattern() []byte {
	w, h := s.video.Width, s.video.Height
	cw := (w + 1) / 2

	yy := make([]byte, w*h)
	cb := make([]byte, cw*h)
	cr := make([]byte, cw*h)

	hColorBarEnd := h * 3 / 4
	wGradationEnd := w * 5 / 7
	for y := 0; y < h; y++ {
		yi := w * y
		ci := cw * y
		for x := 0; x < w; x++ {
			if y < hColorBarEnd {
				// Color bar
				c := x * 7 / w
				yy[yi+x] = uint8(uint16(colors[c][0]) * 75 / 100)
				if x%2 == 0 {
					// A pixel pair shares the chroma of its left pixel.
					cb[ci+x/2] = colors[c][1]
					cr[ci+x/2] = colors[c][2]
				}
				continue
			}
			if x < wGradationEnd {
				// Gray gradation
				yy[yi+x] = uint8(x * 255 / wGradationEnd)
			}
			cb[ci+x/2] = 128
			cr[ci+x/2] = 128
		}
	}

	return pack(s.video.FrameFormat, yy, cb, cr, w, h)
}

// pack interleaves 4:2:2 planes into a packed frame with a row stride of 2*w.
func pack(format frame.Format, yy, cb, cr []byte, w, h int) []byte {
	y0, u, y1, v := 0, 1, 2, 3
	if format == frame.FormatUYVY {
		u, y0, v, y1 = 0, 1, 2, 3
	}

	cw := (w + 1) / 2
	buf := make([]byte, 2*w*h)
	for y := 0; y < h; y++ {
		row := buf[2*w*y : 2*w*(y+1)]
		for x := 0; x < w; x += 2 {
			i := 2 * x
			c := cw*y + x/2
			row[i+y0] = yy[w*y+x]
			row[i+u] = cb[c]
			if x+1 < w {
				row[i+y1] = yy[w*y+x+1]
				row[i+v] = cr[c]
			}
		}
	}
	return buf
}

// Next builds the next frame. The frame's buffer goes back to the source's
// pool when it is released.
func (s *Source) Next() *frame.Frame {
	buf := s.pool.Get().([]byte)
	copy(buf, s.base)
	s.noise(buf)

	start := s.next
	if s.jitter > 0 {
		start += frame.Ticks(s.random.Int63n(int64(2*s.jitter+1))) - s.jitter
		if start < 0 {
			start = 0
		}
	}
	end := start + s.duration
	s.next += s.duration

	s.outstanding.Add(1)
	return frame.New(buf, start, end, func() {
		s.outstanding.Add(-1)
		s.pool.Put(buf)
	})
}

func (s *Source) noise(buf []byte) {
	w, h := s.video.Width, s.video.Height
	y0 := 0
	if s.video.FrameFormat == frame.FormatUYVY {
		y0 = 1
	}
	for y := h * 3 / 4; y < h; y++ {
		row := buf[2*w*y : 2*w*(y+1)]
		for x := w * 5 / 7; x < w; x++ {
			// Noise
			row[2*x+y0] = uint8(s.random.Int31n(2) * 255)
		}
	}
}

// Run calls sink with a new frame at the source's frame rate until ctx is
// done. It blocks; callers run it on a goroutine of their own to play the
// driver's callback thread, as Driver does.
func (s *Source) Run(ctx context.Context, sink func(*frame.Frame)) error {
	tick := time.NewTicker(time.Duration(float32(time.Second) / s.video.FrameRate))
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			sink(s.Next())
		}
	}
}
