// Package autosave debounces progress writes so that navigation never waits
// on storage latency.
package autosave

import (
	"context"
	"log"
	"sync"
	"time"
)

const (
	// DefaultInterval is the quiet period after the last change before a save fires.
	DefaultInterval = 3 * time.Second
	// DefaultSaveTimeout bounds a deferred save when WithSaveTimeout is not given.
	DefaultSaveTimeout = 10 * time.Second
)

// SaveFunc persists one snapshot.
type SaveFunc[T any] func(ctx context.Context, snapshot T) error

// Scheduler holds at most one pending snapshot and writes it once no newer
// snapshot has arrived for the configured interval. Each Scheduler owns its
// own timer; schedulers of different runs never interact.
type Scheduler[T any] struct {
	interval time.Duration
	save     SaveFunc[T]
	timeout  time.Duration

	// saveMu serializes writes so an older deferred save can never land
	// after a newer flush. Always acquired before mu.
	saveMu sync.Mutex

	mu      sync.Mutex
	timer   *time.Timer
	pending bool
	latest  T
	gen     uint64
	closed  bool
}

// Option configures a Scheduler
type Option func(*options)

type options struct {
	timeout time.Duration
}

// WithSaveTimeout bounds how long a deferred save may take. Flush uses the
// caller's context instead. A non-positive d keeps DefaultSaveTimeout.
func WithSaveTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// New creates a scheduler that calls save interval after the last Schedule.
// A non-positive interval uses DefaultInterval.
func New[T any](interval time.Duration, save SaveFunc[T], opts ...Option) *Scheduler[T] {
	o := options{timeout: DefaultSaveTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler[T]{
		interval: interval,
		save:     save,
		timeout:  o.timeout,
	}
}

// Schedule replaces the pending snapshot and restarts the quiet period.
func (s *Scheduler[T]) Schedule(snapshot T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.latest = snapshot
	s.pending = true
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
	}
	gen := s.gen
	s.timer = time.AfterFunc(s.interval, func() { s.fire(gen) })
}

// fire runs on the timer goroutine. A stale generation means a newer
// Schedule or a Flush already took over.
func (s *Scheduler[T]) fire(gen uint64) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	if gen != s.gen || !s.pending {
		s.mu.Unlock()
		return
	}
	snapshot := s.latest
	s.pending = false
	s.timer = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.save(ctx, snapshot); err != nil {
		log.Printf("[autosave] deferred save failed: %v", err)
		s.requeue(gen, snapshot)
	}
}

// requeue keeps a failed snapshot pending unless something newer arrived.
func (s *Scheduler[T]) requeue(gen uint64, snapshot T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen == s.gen && !s.pending {
		s.latest = snapshot
		s.pending = true
	}
}

// Flush cancels the timer and synchronously writes the pending snapshot, if
// any. It is called before completion and on exit so the last write is never
// dropped.
func (s *Scheduler[T]) Flush(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if !s.pending {
		s.mu.Unlock()
		return nil
	}
	snapshot := s.latest
	s.pending = false
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	if err := s.save(ctx, snapshot); err != nil {
		s.requeue(gen, snapshot)
		return err
	}
	return nil
}

// Cancel drops the pending snapshot without saving it.
func (s *Scheduler[T]) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.pending = false
	s.gen++
}

// Close flushes and stops accepting new snapshots.
func (s *Scheduler[T]) Close(ctx context.Context) error {
	err := s.Flush(ctx)
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return err
}

// Pending reports whether a snapshot is waiting to be written.
func (s *Scheduler[T]) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}
