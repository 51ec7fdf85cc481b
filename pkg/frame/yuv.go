package frame

import (
	"fmt"

	mio "github.com/capturebridge/capturebridge/pkg/io"
)

// packedLayout gives the byte offsets of each sample inside one 4 byte
// macropixel of a packed 4:2:2 row.
type packedLayout struct {
	y0, u, y1, v int
}

var (
	// Y0 Cb Y1 Cr
	layoutYUY2 = packedLayout{y0: 0, u: 1, y1: 2, v: 3}
	// Cb Y0 Cr Y1
	layoutUYVY = packedLayout{u: 0, y0: 1, v: 2, y1: 3}
)

// neutralChroma is the chroma value of a gray pixel.
const neutralChroma = 0x80

// packedToI420 builds a converter from a packed 4:2:2 layout to I420.
//
// Luma is copied sample by sample. Each chroma sample is the macropixel's
// Cb/Cr averaged with the one directly below it, rounding half up. An odd
// last row has no partner and keeps its own chroma. With an odd width the
// last pixel only carries Y and Cb, so its Cr comes from the macropixel to
// its left.
func packedToI420(l packedLayout) converterFunc {
	return func(dst, src []byte, width, height int) error {
		if width <= 0 || height <= 0 {
			return fmt.Errorf("invalid frame size %dx%d", width, height)
		}

		stride := 2 * width
		if len(src) < stride*height {
			return fmt.Errorf("frame length (%d) less than expected (%d)", len(src), stride*height)
		}
		if err := mio.CheckSize(dst, I420Size(width, height)); err != nil {
			return err
		}

		cw, ch := ChromaSize(width, height)
		yi := width * height
		ci := cw * ch
		y := dst[:yi]
		cb := dst[yi : yi+ci]
		cr := dst[yi+ci : yi+2*ci]

		for row := 0; row < height; row++ {
			s := src[row*stride : (row+1)*stride]
			d := y[row*width : (row+1)*width]
			x := 0
			for ; x+1 < width; x += 2 {
				d[x] = s[2*x+l.y0]
				d[x+1] = s[2*x+l.y1]
			}
			if x < width {
				d[x] = s[2*x+l.y0]
			}
		}

		for crow := 0; crow < ch; crow++ {
			top := 2 * crow
			bottom := top + 1
			if bottom >= height {
				bottom = top
			}
			s0 := src[top*stride : (top+1)*stride]
			s1 := src[bottom*stride : (bottom+1)*stride]
			dcb := cb[crow*cw : (crow+1)*cw]
			dcr := cr[crow*cw : (crow+1)*cw]
			for cx := 0; cx < cw; cx++ {
				u0, v0 := l.chroma(s0, cx, width)
				u1, v1 := l.chroma(s1, cx, width)
				dcb[cx] = avg(u0, u1)
				dcr[cx] = avg(v0, v1)
			}
		}

		return nil
	}
}

// chroma returns the Cb/Cr pair of macropixel cx in row.
func (l packedLayout) chroma(row []byte, cx, width int) (u, v byte) {
	i := 4 * cx
	u = row[i+l.u]
	if 2*cx+1 < width {
		return u, row[i+l.v]
	}
	if cx == 0 {
		return u, neutralChroma
	}
	return u, row[i-4+l.v]
}

func avg(a, b byte) byte {
	return byte((uint16(a) + uint16(b) + 1) >> 1)
}
