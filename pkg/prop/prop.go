package prop

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/capturebridge/capturebridge/pkg/frame"
)

var errInvalidSize = errors.New("width and height must be positive")

// Video represents the geometry negotiated with the capture device. It is
// captured once when a session starts and stays fixed for its duration.
type Video struct {
	Width, Height int
	FrameRate     float32
	FrameFormat   frame.Format
}

// Merge merges all the field values from o to p, except zero values.
func (p *Video) Merge(o Video) {
	rp := reflect.ValueOf(p).Elem()
	ro := reflect.ValueOf(o)

	for i := 0; i < rp.NumField(); i++ {
		fieldB := ro.Field(i)
		if fieldB.IsZero() {
			continue
		}
		rp.Field(i).Set(fieldB)
	}
}

// Validate reports whether p describes a frame the bridge can convert.
func (p Video) Validate() error {
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("invalid video size %dx%d: %w", p.Width, p.Height, errInvalidSize)
	}
	if _, ok := frame.FrameSizeMap[p.FrameFormat]; !ok {
		return fmt.Errorf("unknown frame format %q", p.FrameFormat)
	}
	if p.FrameRate < 0 {
		return fmt.Errorf("invalid frame rate %v", p.FrameRate)
	}
	return nil
}

// FrameSize returns the number of bytes one source frame occupies.
func (p Video) FrameSize() int {
	return frame.FrameSizeMap[p.FrameFormat](p.Width, p.Height)
}

// FrameDuration returns the nominal length of one frame. It is zero when the
// frame rate is unknown.
func (p Video) FrameDuration() frame.Ticks {
	if p.FrameRate <= 0 {
		return 0
	}
	return frame.Ticks(float64(frame.TicksPerSecond) / float64(p.FrameRate))
}

func (p Video) String() string {
	return fmt.Sprintf("%dx%d %s@%gfps", p.Width, p.Height, p.FrameFormat, p.FrameRate)
}
