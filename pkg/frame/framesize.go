package frame

// FrameSizeMap returns a function to get the number of bytes a frame will occupy in the given format
var FrameSizeMap = map[Format]frameSizeFunc{
	FormatYUY2: frameSizePacked422,
	FormatUYVY: frameSizePacked422, // UYVY and YUY2 have the same frame size
	FormatI420: I420Size,
}

type frameSizeFunc func(width, height int) int

func frameSizePacked422(width, height int) int {
	// two bytes per pixel, one luma sample plus half a chroma pair
	return 2 * width * height
}

// ChromaSize returns the dimensions of one 4:2:0 chroma plane. Odd dimensions
// round up so the last column and row still get a chroma sample.
func ChromaSize(width, height int) (cw, ch int) {
	return (width + 1) / 2, (height + 1) / 2
}

// I420Size returns the number of bytes needed to hold a three plane 4:2:0 frame.
func I420Size(width, height int) int {
	cw, ch := ChromaSize(width, height)
	return width*height + 2*cw*ch
}
