package capturebridge

import (
	"time"

	"github.com/capturebridge/capturebridge/pkg/queue"
	"github.com/pion/logging"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultTimeout is how long GetFrame waits for the driver before giving up.
const DefaultTimeout = time.Second

// SessionOptions stores parameters used by Session.
type SessionOptions struct {
	queueConfig   queue.Config
	timeout       time.Duration
	repair        bool
	onDrop        func(DropEvent)
	loggerFactory logging.LoggerFactory
	registerer    prometheus.Registerer
}

// SessionOption is a type of Session functional option.
type SessionOption func(*SessionOptions)

// WithQueueCapacity bounds the number of frames waiting for the consumer.
func WithQueueCapacity(capacity int) SessionOption {
	return func(o *SessionOptions) {
		o.queueConfig.Capacity = capacity
	}
}

// WithOverflowPolicy selects which frame is dropped when the queue is full.
func WithOverflowPolicy(policy queue.OverflowPolicy) SessionOption {
	return func(o *SessionOptions) {
		o.queueConfig.Policy = policy
	}
}

// WithTimeout sets how long GetFrame waits for a frame.
func WithTimeout(timeout time.Duration) SessionOption {
	return func(o *SessionOptions) {
		o.timeout = timeout
	}
}

// WithTimestampRepair makes every output interval start after the previous
// one ended. It is off by default, in which case timing is passed through.
func WithTimestampRepair() SessionOption {
	return func(o *SessionOptions) {
		o.repair = true
	}
}

// WithDropHandler registers fn to be notified of every dropped frame. fn is
// called on the goroutine that caused the drop, usually the driver callback,
// so it must return quickly.
func WithDropHandler(fn func(DropEvent)) SessionOption {
	return func(o *SessionOptions) {
		o.onDrop = fn
	}
}

// WithLoggerFactory overrides the default pion logger factory.
func WithLoggerFactory(factory logging.LoggerFactory) SessionOption {
	return func(o *SessionOptions) {
		o.loggerFactory = factory
	}
}

// WithRegisterer registers the session's metrics on reg. Without it the
// metrics go to a private registry.
func WithRegisterer(reg prometheus.Registerer) SessionOption {
	return func(o *SessionOptions) {
		o.registerer = reg
	}
}
