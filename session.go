// Package capturebridge hands frames from an asynchronous capture driver to a
// consumer that pulls them on demand, converting each one to planar I420 with
// normalized timing on the way out.
package capturebridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/capturebridge/capturebridge/internal/logging"
	"github.com/capturebridge/capturebridge/pkg/driver"
	"github.com/capturebridge/capturebridge/pkg/frame"
	"github.com/capturebridge/capturebridge/pkg/normalize"
	"github.com/capturebridge/capturebridge/pkg/prop"
	"github.com/capturebridge/capturebridge/pkg/queue"
	"github.com/google/uuid"
	pionlogging "github.com/pion/logging"
	"github.com/prometheus/client_golang/prometheus"
)

// ErrClosed is returned by GetFrame once the session has been closed.
var ErrClosed = errors.New("capturebridge: session closed")

// DropReason tells why a frame never reached the consumer.
type DropReason string

const (
	// DropReasonOldest means the queue was full and the frame was the oldest.
	DropReasonOldest DropReason = "drop-oldest"
	// DropReasonNewest means the queue was full and rejected the incoming frame.
	DropReasonNewest DropReason = "reject-newest"
	// DropReasonClosed means the frame arrived after Close.
	DropReasonClosed DropReason = "closed"
)

// DropEvent describes one dropped frame.
type DropEvent struct {
	SessionID string
	Reason    DropReason
	StartTime frame.Ticks
	EndTime   frame.Ticks
	// Total is the number of frames dropped by the session so far.
	Total uint64
}

// Stats is a snapshot of session activity.
type Stats struct {
	Queue           queue.Stats
	Dropped         uint64
	TransformErrors uint64
}

var _ driver.Observer = (*Session)(nil)

var defaultVideo = prop.Video{
	FrameRate:   30,
	FrameFormat: frame.FormatYUY2,
}

// Session is one capture stream with a fixed negotiated geometry. The driver
// side calls OnFrameReceived, the consumer side calls GetFrame.
type Session struct {
	SessionOptions

	id         string
	video      prop.Video
	queue      *queue.Queue[*frame.Frame]
	normalizer *normalize.Normalizer
	metrics    *metrics
	log        pionlogging.LeveledLogger

	// consumerMu keeps the normalizer single owner when GetFrame is called
	// from more than one goroutine. It also guards afterFailure.
	consumerMu   sync.Mutex
	afterFailure bool

	closed          atomic.Bool
	dropped         atomic.Uint64
	transformErrors atomic.Uint64
}

// NewSession creates a session for frames of the given geometry. Zero fields
// of video fall back to YUY2 at 30fps; width and height are required.
func NewSession(video prop.Video, opts ...SessionOption) (*Session, error) {
	v := defaultVideo
	v.Merge(video)
	if err := v.Validate(); err != nil {
		return nil, fmt.Errorf("capturebridge: %w", err)
	}

	so := SessionOptions{
		timeout:       DefaultTimeout,
		loggerFactory: logging.Factory(),
	}
	for _, o := range opts {
		o(&so)
	}
	if so.timeout <= 0 {
		so.timeout = DefaultTimeout
	}
	if so.registerer == nil {
		so.registerer = prometheus.NewRegistry()
	}

	q, err := queue.New[*frame.Frame](&so.queueConfig)
	if err != nil {
		return nil, fmt.Errorf("capturebridge: %w", err)
	}

	normalizeOpts := []normalize.Option{
		normalize.WithLogger(so.loggerFactory.NewLogger("capturebridge/normalize")),
	}
	if so.repair {
		normalizeOpts = append(normalizeOpts, normalize.WithTimestampRepair())
	}
	n, err := normalize.New(v, normalizeOpts...)
	if err != nil {
		return nil, fmt.Errorf("capturebridge: %w", err)
	}

	s := &Session{
		SessionOptions: so,
		id:             uuid.NewString(),
		video:          v,
		queue:          q,
		normalizer:     n,
		log:            so.loggerFactory.NewLogger("capturebridge"),
	}
	s.metrics = newMetrics(so.registerer, s.id, func() float64 {
		return float64(q.Len())
	})
	q.OnDrop(func(f *frame.Frame, policy queue.OverflowPolicy) {
		reason := DropReasonOldest
		if policy == queue.RejectNewest {
			reason = DropReasonNewest
		}
		s.drop(f, reason)
	})
	q.OnGap(func(next *frame.Frame) {
		if next != nil {
			next.Discontinuity = true
		}
	})

	s.log.Debugf("session %s created: %v, queue %d (%s), timeout %v, repair %v",
		s.id, v, q.Cap(), so.queueConfig.Policy, so.timeout, so.repair)
	return s, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string {
	return s.id
}

// Video returns the negotiated geometry.
func (s *Session) Video() prop.Video {
	return s.video
}

// OutputSize returns the minimum length of an Output buffer.
func (s *Session) OutputSize() int {
	return s.normalizer.OutputSize()
}

// NewOutput allocates an Output sized for this session.
func (s *Session) NewOutput() *frame.Output {
	return frame.NewOutput(s.video.Width, s.video.Height)
}

// OnFrameReceived is the driver callback. It takes ownership of f and never
// waits for the consumer.
func (s *Session) OnFrameReceived(f *frame.Frame) {
	if s.closed.Load() {
		s.drop(f, DropReasonClosed)
		return
	}
	s.metrics.received.Inc()
	s.queue.Push(f)

	// Close may have drained the queue between the check above and the push.
	if s.closed.Load() {
		s.discardPending()
	}
}

// GetFrame waits up to the session timeout for the next frame and writes it
// into out. It returns false with a nil error when no frame arrived in time,
// in which case the caller should simply try again. On a conversion failure
// the frame is discarded and the error returned; the next call proceeds with
// the following frame.
func (s *Session) GetFrame(out *frame.Output) (bool, error) {
	return s.GetFrameContext(context.Background(), out)
}

// GetFrameContext is GetFrame with ctx also bounding the wait. ctx's error is
// returned when it ends the wait.
func (s *Session) GetFrameContext(ctx context.Context, out *frame.Output) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}

	s.consumerMu.Lock()
	defer s.consumerMu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	f, err := s.queue.PopContext(waitCtx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		s.metrics.timeouts.Inc()
		s.log.Tracef("no frame within %v, queue size %d", s.timeout, s.queue.Len())
		return false, nil
	}

	if err := s.normalizer.Transform(f, out); err != nil {
		s.afterFailure = true
		s.transformErrors.Add(1)
		kind := "invalid_frame"
		if errors.Is(err, normalize.ErrCapacity) {
			kind = "capacity"
		}
		s.metrics.transformErrors.WithLabelValues(kind).Inc()
		s.log.Errorf("dropping frame: %v", err)
		return false, err
	}
	if s.afterFailure {
		s.afterFailure = false
		out.Discontinuity = true
	}

	s.metrics.delivered.Inc()
	return true, nil
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	return Stats{
		Queue:           s.queue.Stats(),
		Dropped:         s.dropped.Load(),
		TransformErrors: s.transformErrors.Load(),
	}
}

// Close releases every frame still queued. Frames delivered afterwards are
// released immediately and GetFrame returns ErrClosed. Either way the frames
// are reported as dropped with DropReasonClosed. Close is idempotent.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	n := s.discardPending()
	s.log.Debugf("session %s closed, released %d pending frames", s.id, n)
	return nil
}

func (s *Session) discardPending() int {
	pending := s.queue.Drain()
	for _, f := range pending {
		s.drop(f, DropReasonClosed)
	}
	return len(pending)
}

func (s *Session) drop(f *frame.Frame, reason DropReason) {
	event := DropEvent{
		SessionID: s.id,
		Reason:    reason,
	}
	if f != nil {
		event.StartTime, event.EndTime = f.StartTime, f.EndTime
		f.Release()
	}
	event.Total = s.dropped.Add(1)

	s.metrics.dropped.WithLabelValues(string(reason)).Inc()
	s.log.Warnf("dropped frame [%d, %d] (%s), %d dropped so far", event.StartTime, event.EndTime, reason, event.Total)
	if s.onDrop != nil {
		s.onDrop(event)
	}
}
