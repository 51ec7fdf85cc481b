package frame

import "sync"

// Frame is one captured buffer plus its timing metadata. A Frame is owned by
// exactly one party at a time: the driver hands it to the queue, the queue
// hands it to the consumer, and the consumer releases it.
type Frame struct {
	// Data holds packed pixel bytes with a row stride of width*2.
	Data []byte
	// Size is the number of valid bytes in Data. A driver reusing a larger
	// buffer sets it to the length it actually filled.
	Size int

	StartTime Ticks
	EndTime   Ticks
	// Discontinuity is set when the driver signals a gap before this frame.
	Discontinuity bool

	release func()
	once    sync.Once
}

// New creates a Frame over data. release is called once when the frame's
// owner is done with it; it may be nil.
func New(data []byte, start, end Ticks, release func()) *Frame {
	return &Frame{
		Data:      data,
		Size:      len(data),
		StartTime: start,
		EndTime:   end,
		release:   release,
	}
}

// Bytes returns the valid portion of Data, or nil when Size is zero or out
// of range.
func (f *Frame) Bytes() []byte {
	if f.Size <= 0 || f.Size > len(f.Data) {
		return nil
	}
	return f.Data[:f.Size]
}

// Release returns the underlying buffer to its owner. Only the first call has
// any effect.
func (f *Frame) Release() {
	if f == nil {
		return
	}
	f.once.Do(func() {
		if f.release != nil {
			f.release()
		}
	})
}
