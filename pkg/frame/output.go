package frame

import "image"

// Output is a caller-owned destination for one planar I420 frame. Buf is
// borrowed for the duration of a single transform; its length is the
// capacity the caller declares.
type Output struct {
	Buf []byte

	// Fields below are valid after a successful transform.
	Width, Height int
	Y, Cb, Cr     []byte
	YStride       int
	CStride       int

	StartTime Ticks
	EndTime   Ticks
	// SyncPoint marks a frame that can be decoded or rendered on its own.
	SyncPoint     bool
	Discontinuity bool
}

// NewOutput allocates an Output large enough for a width x height I420 frame.
func NewOutput(width, height int) *Output {
	return &Output{Buf: make([]byte, I420Size(width, height))}
}

// SetGeometry points the plane slices into Buf for a width x height frame.
// Buf must already hold at least I420Size(width, height) bytes.
func (o *Output) SetGeometry(width, height int) {
	cw, ch := ChromaSize(width, height)
	yi := width * height
	ci := cw * ch

	o.Width, o.Height = width, height
	o.YStride, o.CStride = width, cw
	o.Y = o.Buf[:yi:yi]
	o.Cb = o.Buf[yi : yi+ci : yi+ci]
	o.Cr = o.Buf[yi+ci : yi+2*ci : yi+2*ci]
}

// Image exposes the planes as an image.YCbCr without copying. It returns nil
// before the first successful transform.
func (o *Output) Image() *image.YCbCr {
	if o.Y == nil {
		return nil
	}
	return &image.YCbCr{
		Y:              o.Y,
		Cb:             o.Cb,
		Cr:             o.Cr,
		YStride:        o.YStride,
		CStride:        o.CStride,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, o.Width, o.Height),
	}
}
