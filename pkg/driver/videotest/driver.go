package videotest

import (
	"context"
	"fmt"
	"sync"

	"github.com/capturebridge/capturebridge/internal/logging"
	"github.com/capturebridge/capturebridge/pkg/driver"
	"github.com/capturebridge/capturebridge/pkg/prop"
)

var logger = logging.NewLogger("capturebridge/driver/videotest")

var _ driver.VideoDriver = (*Driver)(nil)

// Driver exposes a Source as a driver.VideoDriver. Frames are delivered from
// a goroutine the driver owns, like a hardware callback thread.
type Driver struct {
	video prop.Video
	opts  []Option

	mu     sync.Mutex
	state  driver.State
	source *Source
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDriver creates a closed driver that will produce frames of video.
func NewDriver(video prop.Video, opts ...Option) *Driver {
	return &Driver{
		video: video,
		opts:  opts,
		state: driver.StateClosed,
	}
}

func (d *Driver) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.state.Update(driver.StateOpened, func() error {
		source, err := NewSource(d.video, d.opts...)
		if err != nil {
			return err
		}
		d.source = source
		logger.Debugf("opened %v", source.Video())
		return nil
	})
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == driver.StateClosed {
		return nil
	}
	return d.state.Update(driver.StateClosed, func() error {
		d.stopLocked()
		return nil
	})
}

// Properties returns the negotiated geometry, or the requested one while the
// driver is closed.
func (d *Driver) Properties() prop.Video {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.source == nil {
		return d.video
	}
	return d.source.Video()
}

func (d *Driver) Start(observer driver.Observer) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.state.Update(driver.StateRunning, func() error {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		d.cancel, d.done = cancel, done

		source := d.source
		go func() {
			defer close(done)
			_ = source.Run(ctx, observer.OnFrameReceived)
		}()
		return nil
	})
}

func (d *Driver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != driver.StateRunning {
		return fmt.Errorf("invalid state: driver is %s, not running", d.state)
	}
	return d.state.Update(driver.StateOpened, func() error {
		d.stopLocked()
		return nil
	})
}

func (d *Driver) Status() driver.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Source returns the frame source, or nil before the first Open.
func (d *Driver) Source() *Source {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.source
}

// stopLocked halts frame delivery and waits for the delivery goroutine. It
// must be called with mu held.
func (d *Driver) stopLocked() {
	if d.cancel == nil {
		return
	}
	d.cancel()
	<-d.done
	d.cancel, d.done = nil, nil
}
