package stats

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrQueueFull is returned by AsyncRecorder.Record when the queue is full.
// The event is dropped.
var ErrQueueFull = errors.New("stats queue is full")

// ErrRecorderClosed is returned by AsyncRecorder.Record after Close.
var ErrRecorderClosed = errors.New("stats recorder is closed")

// AsyncRecorder hands events to a single worker over a bounded queue, so
// Record returns without waiting on the backend.
type AsyncRecorder struct {
	inner   Recorder
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	events chan Event
	done   chan struct{}

	dropped atomic.Int64
}

type AsyncOption func(*asyncOptions)

type asyncOptions struct {
	queueSize int
	timeout   time.Duration
}

// WithQueueSize bounds the number of pending events. Non-positive sizes keep
// the default.
func WithQueueSize(n int) AsyncOption {
	return func(o *asyncOptions) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// WithRecordTimeout bounds each call to the wrapped recorder.
func WithRecordTimeout(d time.Duration) AsyncOption {
	return func(o *asyncOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func NewAsyncRecorder(inner Recorder, opts ...AsyncOption) *AsyncRecorder {
	o := asyncOptions{queueSize: 1024, timeout: time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	a := &AsyncRecorder{
		inner:   inner,
		timeout: o.timeout,
		events:  make(chan Event, o.queueSize),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

// Record enqueues ev and never blocks.
func (a *AsyncRecorder) Record(_ context.Context, ev Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrRecorderClosed
	}

	select {
	case a.events <- ev:
		return nil
	default:
		a.dropped.Add(1)
		return ErrQueueFull
	}
}

// Dropped reports how many events were discarded because the queue was full.
func (a *AsyncRecorder) Dropped() int64 {
	return a.dropped.Load()
}

// Snapshot reads through to the wrapped recorder.
func (a *AsyncRecorder) Snapshot(ctx context.Context) (Snapshot, error) {
	r, ok := a.inner.(Reader)
	if !ok {
		return Snapshot{}, ErrNotReadable
	}
	snap, err := r.Snapshot(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	snap.Dropped += a.Dropped()
	return snap, nil
}

// Close drains the queue, then closes the wrapped recorder if it is an
// io.Closer. It is safe to call more than once.
func (a *AsyncRecorder) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.events)
	a.mu.Unlock()

	<-a.done
	if c, ok := a.inner.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (a *AsyncRecorder) run() {
	defer close(a.done)
	for ev := range a.events {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.inner.Record(ctx, ev); err != nil {
			slog.Debug("Failed to record rate limit decision", "key", ev.Key, "error", err)
		}
		cancel()
	}
}
