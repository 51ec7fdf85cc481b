package frame

import "time"

type Format string

const (
	// Packed YUV Formats

	// FormatYUY2 https://www.fourcc.org/pixel-format/yuv-yuy2/
	FormatYUY2 Format = "YUY2"
	// FormatUYVY https://www.fourcc.org/pixel-format/yuv-uyvy/
	FormatUYVY Format = "UYVY"

	// Planar YUV Formats

	// FormatI420 https://www.fourcc.org/pixel-format/yuv-i420/
	FormatI420 Format = "I420"
)

// YUV aliases

// FormatYUYV is an alias of FormatYUY2
const FormatYUYV = FormatYUY2

// Ticks is a presentation time in 100 nanosecond units, the resolution capture
// drivers stamp their samples with.
type Ticks int64

// TicksPerSecond is the number of Ticks in one second.
const TicksPerSecond Ticks = 10_000_000

// TicksFromDuration converts d to Ticks, truncating below 100ns.
func TicksFromDuration(d time.Duration) Ticks {
	return Ticks(d / 100)
}

// Duration converts t to a time.Duration.
func (t Ticks) Duration() time.Duration {
	return time.Duration(t) * 100
}
