// Package driver declares the capture device side of the bridge. Drivers
// negotiate a geometry, then deliver frames to an Observer on their own
// goroutine at their own cadence.
package driver

import (
	"github.com/capturebridge/capturebridge/pkg/frame"
	"github.com/capturebridge/capturebridge/pkg/prop"
)

// Observer receives frames from a running driver. OnFrameReceived takes
// ownership of f and must not block the driver.
type Observer interface {
	OnFrameReceived(f *frame.Frame)
}

// ObserverFunc is a proxy type to make easier for users to implement Observer
type ObserverFunc func(f *frame.Frame)

func (fn ObserverFunc) OnFrameReceived(f *frame.Frame) {
	fn(f)
}

type OpenCloser interface {
	Open() error
	Close() error
}

// VideoDriver is a capture device that produces packed frames.
type VideoDriver interface {
	OpenCloser
	// Properties returns the negotiated geometry. It is only meaningful once
	// the driver is opened and stays fixed until it is closed.
	Properties() prop.Video
	Start(observer Observer) error
	Stop() error
	Status() State
}
