package frame

import (
	"fmt"
)

// Converter converts one packed frame into a planar I420 destination.
type Converter interface {
	Convert(dst, src []byte, width, height int) error
}

// converterFunc is a proxy type for Converter
type converterFunc func(dst, src []byte, width, height int) error

func (f converterFunc) Convert(dst, src []byte, width, height int) error {
	return f(dst, src, width, height)
}

// NewConverter returns a Converter from f to I420.
func NewConverter(f Format) (Converter, error) {
	switch f {
	case FormatYUY2:
		return packedToI420(layoutYUY2), nil
	case FormatUYVY:
		return packedToI420(layoutUYVY), nil
	default:
		return nil, fmt.Errorf("%s is not supported", f)
	}
}
