// Package queue provides a bounded FIFO that hands items from a producer
// that must never stall to a consumer that waits with a deadline.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const defaultCapacity = 30

// ErrInvalidCapacity is returned by New when Config.Capacity is negative.
var ErrInvalidCapacity = errors.New("queue: capacity must not be negative")

// OverflowPolicy decides which item is discarded when Push finds the queue full.
type OverflowPolicy int

const (
	// DropOldest discards the head so the newest item always gets in. This is
	// the right choice for live video, where stale frames are worthless.
	DropOldest OverflowPolicy = iota
	// RejectNewest discards the item being pushed and keeps the queue intact.
	RejectNewest
)

func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop-oldest"
	case RejectNewest:
		return "reject-newest"
	default:
		return fmt.Sprintf("OverflowPolicy(%d)", int(p))
	}
}

// ParseOverflowPolicy is the inverse of OverflowPolicy.String.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch s {
	case "drop-oldest":
		return DropOldest, nil
	case "reject-newest":
		return RejectNewest, nil
	default:
		return 0, fmt.Errorf("queue: unknown overflow policy %q", s)
	}
}

// Config controls queue behaviour. The zero value is usable.
type Config struct {
	// Capacity is the maximum number of queued items. The default value is 30,
	// one second of video at 30fps.
	Capacity int
	// Policy is applied when a push finds the queue full. The default value is
	// DropOldest.
	Policy OverflowPolicy
}

// Stats is a point in time snapshot of queue activity.
type Stats struct {
	Pushed    uint64
	Popped    uint64
	Dropped   uint64
	Depth     int
	HighWater int
}

// Queue is a bounded FIFO safe for concurrent use. Push never waits for the
// consumer; Pop waits for an item up to a deadline.
type Queue[T any] struct {
	mu        sync.Mutex
	cond      *sync.Cond
	buf       []T
	head      int
	count     int
	highWater int
	policy    OverflowPolicy
	onDrop    func(item T, policy OverflowPolicy)
	onGap     func(next T)
	// gapPending is set when an item was rejected and no later one has
	// been accepted yet.
	gapPending bool

	pushed  atomic.Uint64
	popped  atomic.Uint64
	dropped atomic.Uint64
}

// New creates a queue. A nil config selects the defaults.
func New[T any](config *Config) (*Queue[T], error) {
	capacity := defaultCapacity
	policy := DropOldest
	if config != nil {
		if config.Capacity < 0 {
			return nil, ErrInvalidCapacity
		}
		if config.Capacity != 0 {
			capacity = config.Capacity
		}
		switch config.Policy {
		case DropOldest, RejectNewest:
			policy = config.Policy
		default:
			return nil, fmt.Errorf("queue: unknown overflow policy %d", int(config.Policy))
		}
	}

	q := &Queue[T]{
		buf:    make([]T, capacity),
		policy: policy,
	}
	q.cond = sync.NewCond(&q.mu)
	return q, nil
}

// OnDrop registers fn to be called with every item discarded by the overflow
// policy. fn runs on the pushing goroutine after the queue lock is released,
// and takes ownership of the dropped item.
func (q *Queue[T]) OnDrop(fn func(item T, policy OverflowPolicy)) {
	q.mu.Lock()
	q.onDrop = fn
	q.mu.Unlock()
}

// OnGap registers fn to be called with the first queued item that follows a
// dropped one: the new head under DropOldest, the next accepted item under
// RejectNewest. fn runs with the queue lock held, before any Pop can return
// the item, and must not call back into the queue.
func (q *Queue[T]) OnGap(fn func(next T)) {
	q.mu.Lock()
	q.onGap = fn
	q.mu.Unlock()
}

// Push appends v to the tail and wakes a waiting Pop. When the queue is full
// one item is dropped according to the overflow policy and reported to the
// OnDrop hook.
func (q *Queue[T]) Push(v T) {
	var (
		dropped T
		didDrop bool
	)

	q.mu.Lock()
	if q.count == len(q.buf) {
		didDrop = true
		if q.policy == RejectNewest {
			dropped = v
			q.gapPending = true
		} else {
			dropped = q.removeHead()
			q.insert(v)
			q.markGap(q.buf[q.head])
		}
	} else {
		q.insert(v)
		if q.gapPending {
			q.gapPending = false
			q.markGap(v)
		}
	}
	onDrop := q.onDrop
	policy := q.policy
	if !didDrop || policy == DropOldest {
		q.pushed.Add(1)
		q.cond.Signal()
	}
	q.mu.Unlock()

	if didDrop {
		q.dropped.Add(1)
		if onDrop != nil {
			onDrop(dropped, policy)
		}
	}
}

// Pop removes and returns the head, waiting up to timeout for one to arrive.
// The boolean is false when the timeout elapsed with the queue still empty;
// that is the normal signal to try again, not a failure. A timeout <= 0 only
// checks for an item that is already queued.
func (q *Queue[T]) Pop(timeout time.Duration) (T, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	v, err := q.PopContext(ctx)
	return v, err == nil
}

// PopContext removes and returns the head, waiting until one arrives or ctx
// is done, in which case ctx.Err() is returned.
func (q *Queue[T]) PopContext(ctx context.Context) (T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		stop := context.AfterFunc(ctx, func() {
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		})
		defer stop()

		for q.count == 0 {
			if err := ctx.Err(); err != nil {
				var zero T
				return zero, err
			}
			q.cond.Wait()
		}
	}

	q.popped.Add(1)
	return q.removeHead(), nil
}

// Len returns the current depth. It is only meant for diagnostics; the value
// may be stale by the time the caller looks at it.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the maximum depth.
func (q *Queue[T]) Cap() int {
	return len(q.buf)
}

// Drain removes every queued item and returns them in FIFO order. The caller
// owns the returned items.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := make([]T, 0, q.count)
	for q.count > 0 {
		items = append(items, q.removeHead())
	}
	return items
}

// Stats returns a snapshot of the queue counters.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	depth, highWater := q.count, q.highWater
	q.mu.Unlock()

	return Stats{
		Pushed:    q.pushed.Load(),
		Popped:    q.popped.Load(),
		Dropped:   q.dropped.Load(),
		Depth:     depth,
		HighWater: highWater,
	}
}

// insert must be called with mu held and room in buf.
func (q *Queue[T]) insert(v T) {
	q.buf[(q.head+q.count)%len(q.buf)] = v
	q.count++
	if q.count > q.highWater {
		q.highWater = q.count
	}
}

// markGap must be called with mu held.
func (q *Queue[T]) markGap(next T) {
	if q.onGap != nil {
		q.onGap(next)
	}
}

// removeHead must be called with mu held and count > 0.
func (q *Queue[T]) removeHead() T {
	var zero T
	v := q.buf[q.head]
	q.buf[q.head] = zero
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return v
}
