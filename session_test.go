package capturebridge

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/capturebridge/capturebridge/pkg/driver/videotest"
	"github.com/capturebridge/capturebridge/pkg/frame"
	"github.com/capturebridge/capturebridge/pkg/normalize"
	"github.com/capturebridge/capturebridge/pkg/prop"
	"github.com/capturebridge/capturebridge/pkg/queue"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var video4x4 = prop.Video{Width: 4, Height: 4}

// packed4x4 returns a 4x4 YUY2 frame with a horizontal luma gradient; every
// chroma byte of macropixel m is 0x40+m (Cb) and 0xC0-m (Cr).
func packed4x4() []byte {
	buf := make([]byte, 0, 32)
	for r := 0; r < 4; r++ {
		for m := 0; m < 2; m++ {
			buf = append(buf, byte(0x20*m), byte(0x40+m), byte(0x20*m+0x10), byte(0xC0-m))
		}
	}
	return buf
}

type frameTracker struct {
	released atomic.Int64
}

func (ft *frameTracker) frame(start, end frame.Ticks) *frame.Frame {
	return frame.New(packed4x4(), start, end, func() { ft.released.Add(1) })
}

func TestEndToEnd(t *testing.T) {
	s, err := NewSession(video4x4)
	require.NoError(t, err)
	defer s.Close()

	var ft frameTracker
	intervals := [][2]frame.Ticks{{0, 33}, {30, 60}, {66, 99}}
	for _, iv := range intervals {
		s.OnFrameReceived(ft.frame(iv[0], iv[1]))
	}

	for i, iv := range intervals {
		out := s.NewOutput()
		ok, err := s.GetFrame(out)
		require.NoError(t, err)
		require.True(t, ok, "frame %d", i)

		assert.Equal(t, iv[0], out.StartTime)
		assert.Equal(t, iv[1], out.EndTime)
		assert.True(t, out.SyncPoint)
		assert.False(t, out.Discontinuity)

		for r := 0; r < 4; r++ {
			assert.Equal(t, []byte{0x00, 0x10, 0x20, 0x30}, out.Y[4*r:4*r+4])
		}
		assert.Equal(t, []byte{0x40, 0x41, 0x40, 0x41}, out.Cb)
		assert.Equal(t, []byte{0xC0, 0xBF, 0xC0, 0xBF}, out.Cr)
	}

	assert.Equal(t, int64(3), ft.released.Load())
	assert.Equal(t, 3.0, testutil.ToFloat64(s.metrics.received))
	assert.Equal(t, 3.0, testutil.ToFloat64(s.metrics.delivered))
}

func TestGetFrameTimeout(t *testing.T) {
	const timeout = 30 * time.Millisecond
	s, err := NewSession(video4x4, WithTimeout(timeout))
	require.NoError(t, err)
	defer s.Close()

	out := s.NewOutput()
	start := time.Now()
	ok, err := s.GetFrame(out)
	elapsed := time.Since(start)

	assert.NoError(t, err)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+500*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.timeouts))
}

func TestGetFrameContextCanceled(t *testing.T) {
	s, err := NewSession(video4x4)
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ok, err := s.GetFrameContext(ctx, s.NewOutput())
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOverflow(t *testing.T) {
	type delivery struct {
		start         frame.Ticks
		discontinuity bool
	}
	// Frames 0..3 go into a queue of two, the queued ones are pulled, then
	// frame 4 arrives and is pulled.
	testCases := map[string]struct {
		policy   queue.OverflowPolicy
		reason   DropReason
		expected []delivery
	}{
		"DropOldest":   {queue.DropOldest, DropReasonOldest, []delivery{{2, true}, {3, false}, {4, false}}},
		"RejectNewest": {queue.RejectNewest, DropReasonNewest, []delivery{{0, false}, {1, false}, {4, true}}},
	}

	for name, tc := range testCases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			var (
				ft     frameTracker
				events []DropEvent
			)
			s, err := NewSession(video4x4,
				WithQueueCapacity(2),
				WithOverflowPolicy(tc.policy),
				WithTimeout(10*time.Millisecond),
				WithDropHandler(func(e DropEvent) { events = append(events, e) }),
			)
			require.NoError(t, err)
			defer s.Close()

			for i := 0; i < 4; i++ {
				s.OnFrameReceived(ft.frame(frame.Ticks(i), frame.Ticks(i)))
			}

			require.Len(t, events, 2)
			for i, e := range events {
				assert.Equal(t, tc.reason, e.Reason)
				assert.Equal(t, s.ID(), e.SessionID)
				assert.Equal(t, uint64(i+1), e.Total)
			}
			assert.Equal(t, int64(2), ft.released.Load(), "dropped frames are released")
			assert.Equal(t, 2.0, testutil.ToFloat64(s.metrics.dropped.WithLabelValues(string(tc.reason))))

			out := s.NewOutput()
			for i, d := range tc.expected {
				if i == 2 {
					s.OnFrameReceived(ft.frame(4, 4))
				}
				ok, err := s.GetFrame(out)
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, d.start, out.StartTime, "frame %d", i)
				// Only the first frame after the gap is flagged.
				assert.Equal(t, d.discontinuity, out.Discontinuity, "frame %d", i)
			}
			assert.Equal(t, int64(5), ft.released.Load())
			assert.Equal(t, uint64(2), s.Stats().Dropped)
		})
	}
}

func TestTransformErrors(t *testing.T) {
	s, err := NewSession(video4x4, WithTimeout(10*time.Millisecond))
	require.NoError(t, err)
	defer s.Close()

	var released int
	s.OnFrameReceived(frame.New(make([]byte, 10), 0, 33, func() { released++ }))
	s.OnFrameReceived(nil)

	var ft frameTracker
	s.OnFrameReceived(ft.frame(66, 99))
	s.OnFrameReceived(ft.frame(100, 133))

	out := s.NewOutput()
	ok, err := s.GetFrame(out)
	assert.False(t, ok)
	assert.ErrorIs(t, err, normalize.ErrInvalidFrame)
	assert.Equal(t, 1, released)

	ok, err = s.GetFrame(out)
	assert.False(t, ok)
	assert.ErrorIs(t, err, normalize.ErrInvalidFrame)

	small := &frame.Output{Buf: make([]byte, s.OutputSize()-1)}
	ok, err = s.GetFrame(small)
	assert.False(t, ok)
	assert.ErrorIs(t, err, normalize.ErrCapacity)
	assert.Equal(t, int64(1), ft.released.Load())

	ok, err = s.GetFrame(out)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, frame.Ticks(100), out.StartTime)
	assert.True(t, out.Discontinuity, "frame after a failed one follows a gap")

	assert.Equal(t, uint64(3), s.Stats().TransformErrors)
	assert.Equal(t, 2.0, testutil.ToFloat64(s.metrics.transformErrors.WithLabelValues("invalid_frame")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.transformErrors.WithLabelValues("capacity")))
}

func TestTimestampRepair(t *testing.T) {
	s, err := NewSession(video4x4, WithTimestampRepair())
	require.NoError(t, err)
	defer s.Close()

	var ft frameTracker
	for _, iv := range [][2]frame.Ticks{{0, 33}, {30, 60}, {66, 99}} {
		s.OnFrameReceived(ft.frame(iv[0], iv[1]))
	}

	var prevEnd frame.Ticks = -1
	out := s.NewOutput()
	for i := 0; i < 3; i++ {
		ok, err := s.GetFrame(out)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Greater(t, out.StartTime, prevEnd)
		assert.GreaterOrEqual(t, out.EndTime, out.StartTime)
		prevEnd = out.EndTime
	}
}

func TestClose(t *testing.T) {
	var events []DropEvent
	s, err := NewSession(video4x4, WithDropHandler(func(e DropEvent) { events = append(events, e) }))
	require.NoError(t, err)

	var ft frameTracker
	s.OnFrameReceived(ft.frame(0, 33))
	s.OnFrameReceived(ft.frame(33, 66))

	require.NoError(t, s.Close())
	assert.Equal(t, int64(2), ft.released.Load(), "pending frames are released on close")
	require.NoError(t, s.Close())

	ok, err := s.GetFrame(s.NewOutput())
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrClosed)

	s.OnFrameReceived(ft.frame(66, 99))
	assert.Equal(t, int64(3), ft.released.Load())
	require.Len(t, events, 3)
	for i, start := range []frame.Ticks{0, 33, 66} {
		assert.Equal(t, DropReasonClosed, events[i].Reason)
		assert.Equal(t, start, events[i].StartTime)
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(s.metrics.dropped.WithLabelValues(string(DropReasonClosed))))
}

func TestCloseWhileCapturing(t *testing.T) {
	const (
		producers   = 8
		perProducer = 100
		total       = producers * perProducer
	)

	var handled atomic.Uint64
	s, err := NewSession(video4x4,
		WithQueueCapacity(total),
		WithDropHandler(func(DropEvent) { handled.Add(1) }),
	)
	require.NoError(t, err)

	var (
		ft frameTracker
		wg sync.WaitGroup
	)
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				s.OnFrameReceived(ft.frame(frame.Ticks(i), frame.Ticks(i+1)))
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(time.Millisecond)
		assert.NoError(t, s.Close())
	}()
	wg.Wait()

	// Nothing was consumed, so every frame is accounted for as a drop.
	assert.Equal(t, int64(total), ft.released.Load())
	assert.Equal(t, uint64(total), s.Stats().Dropped)
	assert.Equal(t, uint64(total), handled.Load())
	assert.Equal(t, float64(total), testutil.ToFloat64(s.metrics.dropped.WithLabelValues(string(DropReasonClosed))))
	assert.Zero(t, s.Stats().Queue.Depth)
}

func TestNewSession(t *testing.T) {
	_, err := NewSession(prop.Video{})
	assert.Error(t, err)

	_, err = NewSession(prop.Video{Width: 4, Height: 4, FrameFormat: frame.FormatI420})
	assert.Error(t, err)

	_, err = NewSession(video4x4, WithQueueCapacity(-1))
	assert.ErrorIs(t, err, queue.ErrInvalidCapacity)

	s, err := NewSession(prop.Video{Width: 640, Height: 480})
	require.NoError(t, err)
	defer s.Close()

	assert.NotEmpty(t, s.ID())
	assert.Equal(t, frame.FormatYUY2, s.Video().FrameFormat)
	assert.Equal(t, float32(30), s.Video().FrameRate)
	assert.Equal(t, 640*480*3/2, s.OutputSize())
	assert.Equal(t, DefaultTimeout, s.timeout)
}

func TestRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()

	a, err := NewSession(video4x4, WithRegisterer(reg))
	require.NoError(t, err)
	defer a.Close()
	b, err := NewSession(video4x4, WithRegisterer(reg))
	require.NoError(t, err)
	defer b.Close()

	var ft frameTracker
	a.OnFrameReceived(ft.frame(0, 1))

	count, err := testutil.GatherAndCount(reg, "capturebridge_frames_received_total", "capturebridge_queue_depth")
	require.NoError(t, err)
	assert.Equal(t, 4, count, "one series per session for each metric")
}

func TestConcurrentCapture(t *testing.T) {
	video := prop.Video{Width: 64, Height: 48, FrameRate: 500}
	src, err := videotest.NewSource(video, videotest.WithJitter(20000))
	require.NoError(t, err)

	s, err := NewSession(video,
		WithQueueCapacity(4),
		WithTimeout(50*time.Millisecond),
		WithTimestampRepair(),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = src.Run(ctx, s.OnFrameReceived)
	}()

	var (
		delivered int
		prevEnd   frame.Ticks = -1
	)
	out := s.NewOutput()
	for ctx.Err() == nil {
		ok, err := s.GetFrame(out)
		require.NoError(t, err)
		if !ok {
			continue
		}
		delivered++
		require.Greater(t, out.StartTime, prevEnd)
		prevEnd = out.EndTime
	}
	wg.Wait()
	require.NoError(t, s.Close())

	assert.Greater(t, delivered, 0)
	assert.Zero(t, src.Outstanding(), "every frame is released exactly once")

	assert.Equal(t, uint64(delivered), s.Stats().Queue.Popped)
}
