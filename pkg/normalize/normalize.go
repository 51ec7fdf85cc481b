// Package normalize turns a captured packed frame into a planar I420 frame
// with repaired timing, ready to leave the capture boundary.
package normalize

import (
	"errors"
	"fmt"

	"github.com/capturebridge/capturebridge/internal/logging"
	"github.com/capturebridge/capturebridge/pkg/frame"
	mio "github.com/capturebridge/capturebridge/pkg/io"
	"github.com/capturebridge/capturebridge/pkg/prop"
	pionlogging "github.com/pion/logging"
)

var (
	// ErrInvalidFrame is returned for a nil, empty or truncated source frame.
	ErrInvalidFrame = errors.New("normalize: invalid source frame")
	// ErrCapacity is returned when the output buffer can't hold the frame.
	ErrCapacity = errors.New("normalize: output buffer too small")
)

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithTimestampRepair forces output intervals to be monotonic and
// non-overlapping. A frame that starts at or before the previous frame's end
// is moved to start one tick later, keeping its duration. The policy applies
// to every frame the Normalizer sees.
func WithTimestampRepair() Option {
	return func(n *Normalizer) {
		n.repair = true
	}
}

// WithLogger overrides the package logger.
func WithLogger(log pionlogging.LeveledLogger) Option {
	return func(n *Normalizer) {
		n.log = log
	}
}

// Normalizer converts frames of one negotiated geometry. It is not safe for
// concurrent use; each consumer owns its own instance.
type Normalizer struct {
	video     prop.Video
	converter frame.Converter
	srcSize   int
	dstSize   int

	repair  bool
	lastEnd frame.Ticks
	hasLast bool

	log pionlogging.LeveledLogger
}

// New creates a Normalizer for the geometry in video.
func New(video prop.Video, opts ...Option) (*Normalizer, error) {
	if err := video.Validate(); err != nil {
		return nil, err
	}
	converter, err := frame.NewConverter(video.FrameFormat)
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}

	n := &Normalizer{
		video:     video,
		converter: converter,
		srcSize:   video.FrameSize(),
		dstSize:   frame.I420Size(video.Width, video.Height),
	}
	for _, o := range opts {
		o(n)
	}
	if n.log == nil {
		n.log = logging.NewLogger("capturebridge/normalize")
	}
	return n, nil
}

// OutputSize returns the number of bytes an Output buffer needs.
func (n *Normalizer) OutputSize() int {
	return n.dstSize
}

// Video returns the geometry the Normalizer was built for.
func (n *Normalizer) Video() prop.Video {
	return n.video
}

// Reset forgets the previous frame's end time, so the next frame's timing is
// taken as is. Use it when a stream restarts.
func (n *Normalizer) Reset() {
	n.hasLast = false
	n.lastEnd = 0
}

// Transform converts src into dst and stamps dst with src's timing. dst is
// only written when both buffers pass validation. src is released before
// Transform returns, whatever the outcome.
func (n *Normalizer) Transform(src *frame.Frame, dst *frame.Output) error {
	defer src.Release()

	if dst == nil {
		return fmt.Errorf("%w: nil output", ErrCapacity)
	}
	if err := mio.CheckSize(dst.Buf, n.dstSize); err != nil {
		return fmt.Errorf("%w: %w", ErrCapacity, err)
	}

	data, err := n.source(src)
	if err != nil {
		return err
	}

	if err := n.converter.Convert(dst.Buf, data, n.video.Width, n.video.Height); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFrame, err)
	}
	dst.SetGeometry(n.video.Width, n.video.Height)

	start, end := n.timing(src.StartTime, src.EndTime)
	dst.StartTime = start
	dst.EndTime = end
	dst.SyncPoint = true
	dst.Discontinuity = src.Discontinuity
	return nil
}

func (n *Normalizer) source(src *frame.Frame) ([]byte, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: nil frame", ErrInvalidFrame)
	}
	data := src.Bytes()
	switch {
	case len(data) == 0:
		return nil, fmt.Errorf("%w: empty buffer (size %d, length %d)", ErrInvalidFrame, src.Size, len(src.Data))
	case len(data) < n.srcSize:
		return nil, fmt.Errorf("%w: %d bytes, expected %d for %v", ErrInvalidFrame, len(data), n.srcSize, n.video)
	}
	return data, nil
}

func (n *Normalizer) timing(start, end frame.Ticks) (frame.Ticks, frame.Ticks) {
	if !n.repair {
		return start, end
	}

	duration := end - start
	if duration < 0 {
		duration = 0
	}
	if n.hasLast && start <= n.lastEnd {
		repaired := n.lastEnd + 1
		n.log.Tracef("repaired start %d -> %d", start, repaired)
		start = repaired
	}
	end = start + duration

	n.lastEnd = end
	n.hasLast = true
	return start, end
}
