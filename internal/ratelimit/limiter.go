// Package ratelimit provides a per-user sliding-window rate limiter and HTTP
// middleware that enforces it.
//
// A user may make at most MaxRequests requests within any trailing interval
// of length Window. Admitted request times are kept per user; on every call
// the times at or before now-Window are evicted first, so the live window is
// the half-open interval (now-Window, now]. Denied requests are not recorded.
//
// Users are spread over a fixed number of shards, each guarded by its own
// mutex. Every operation on a user runs as a single critical section on that
// user's shard, which makes decisions for one user linearizable. ResetAll
// holds every shard lock at once.
package ratelimit

import (
	"context"
	"fmt"
	"hash/maphash"
	"reflect"
	"sync"
	"time"
)

// DefaultShards is the shard count used when WithShards is not given.
const DefaultShards = 32

// Limiter is the string-keyed contract the HTTP layer depends on.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow decides whether a request from key is admitted now and returns
	// the post-decision state of the key's window.
	Allow(key string) (allowed bool, status Status, err error)

	// Status reports the key's window without recording a request.
	Status(key string) (Status, error)

	ResetUser(key string) error
	ResetAll()

	MaxRequests() int
	Window() time.Duration
	Users() int
}

// ContextLimiter is implemented by limiters that attach work to the caller's
// context, such as tracing decorators. Middleware prefers it when present.
type ContextLimiter interface {
	AllowContext(ctx context.Context, key string) (allowed bool, status Status, err error)
}

var _ Limiter = (*SlidingWindowLimiter[string])(nil)

// Option configures a SlidingWindowLimiter.
type Option func(*options)

type options struct {
	clock  Clock
	shards int
}

// WithClock sets the time source used by Allow and Status.
func WithClock(c Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithShards sets the number of independently locked partitions.
func WithShards(n int) Option {
	return func(o *options) {
		o.shards = n
	}
}

type shard[K comparable] struct {
	mu    sync.Mutex
	store *store[K]
}

// SlidingWindowLimiter admits at most maxRequests per user within any
// trailing window. The zero value is not usable; construct it with
// NewSlidingWindowLimiter.
type SlidingWindowLimiter[K comparable] struct {
	maxRequests int
	span        time.Duration
	clock       Clock
	seed        maphash.Seed
	shards      []*shard[K]
}

// NewSlidingWindowLimiter creates a limiter. It returns a *ConfigurationError
// when maxRequests or window is not positive.
func NewSlidingWindowLimiter[K comparable](maxRequests int, window time.Duration, opts ...Option) (*SlidingWindowLimiter[K], error) {
	if maxRequests <= 0 {
		return nil, newConfigurationError("max_requests", "must be positive")
	}
	if window <= 0 {
		return nil, newConfigurationError("window", "must be positive")
	}

	o := options{clock: SystemClock{}, shards: DefaultShards}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		return nil, newConfigurationError("clock", "must not be nil")
	}
	if o.shards <= 0 {
		return nil, newConfigurationError("shards", "must be positive")
	}

	l := &SlidingWindowLimiter[K]{
		maxRequests: maxRequests,
		span:        window,
		clock:       o.clock,
		seed:        maphash.MakeSeed(),
		shards:      make([]*shard[K], o.shards),
	}
	for i := range l.shards {
		l.shards[i] = &shard[K]{store: newStore[K](window)}
	}
	return l, nil
}

// Allow decides whether user may make a request now. Blocked requests are
// reported through the boolean, never as an error.
func (l *SlidingWindowLimiter[K]) Allow(user K) (bool, Status, error) {
	return l.allow(user, nil)
}

// AllowAt is Allow with an explicit time.
func (l *SlidingWindowLimiter[K]) AllowAt(user K, now time.Time) (bool, Status, error) {
	return l.allow(user, &now)
}

// Status reports the user's window as of now. It evicts expired entries but
// never records a request.
func (l *SlidingWindowLimiter[K]) Status(user K) (Status, error) {
	return l.status(user, nil)
}

// StatusAt is Status with an explicit time.
func (l *SlidingWindowLimiter[K]) StatusAt(user K, now time.Time) (Status, error) {
	return l.status(user, &now)
}

// ResetUser forgets every recorded request of user.
func (l *SlidingWindowLimiter[K]) ResetUser(user K) error {
	if err := validateUser(user); err != nil {
		return err
	}
	sh := l.shardFor(user)
	sh.mu.Lock()
	sh.store.clear(user)
	sh.mu.Unlock()
	return nil
}

// ResetAll forgets every user. No concurrent call observes a partially
// cleared limiter.
func (l *SlidingWindowLimiter[K]) ResetAll() {
	for _, sh := range l.shards {
		sh.mu.Lock()
	}
	for _, sh := range l.shards {
		sh.store.clearAll()
	}
	for i := len(l.shards) - 1; i >= 0; i-- {
		l.shards[i].mu.Unlock()
	}
}

func (l *SlidingWindowLimiter[K]) MaxRequests() int {
	return l.maxRequests
}

func (l *SlidingWindowLimiter[K]) Window() time.Duration {
	return l.span
}

// Users returns the number of users that currently own a window.
func (l *SlidingWindowLimiter[K]) Users() int {
	n := 0
	for _, sh := range l.shards {
		sh.mu.Lock()
		n += sh.store.users()
		sh.mu.Unlock()
	}
	return n
}

func (l *SlidingWindowLimiter[K]) allow(user K, at *time.Time) (bool, Status, error) {
	if err := validateUser(user); err != nil {
		return false, Status{}, err
	}

	sh := l.shardFor(user)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := l.now(at)
	if err := l.prepare(sh.store, user, now); err != nil {
		return false, Status{}, err
	}

	outcome := OutcomeDenied
	if sh.store.count(user) < l.maxRequests {
		sh.store.append(user, now)
		outcome = OutcomeAllowed
	}
	return outcome == OutcomeAllowed, l.snapshot(sh.store, user, outcome, now), nil
}

func (l *SlidingWindowLimiter[K]) status(user K, at *time.Time) (Status, error) {
	if err := validateUser(user); err != nil {
		return Status{}, err
	}

	sh := l.shardFor(user)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := l.now(at)
	if err := l.prepare(sh.store, user, now); err != nil {
		return Status{}, err
	}
	return l.snapshot(sh.store, user, OutcomeObserved, now), nil
}

// prepare creates the user's window if needed, rejects time going backwards,
// then evicts expired entries. Nothing is mutated when it returns an error.
func (l *SlidingWindowLimiter[K]) prepare(s *store[K], user K, now time.Time) error {
	if last, ok := s.last(user); ok && now.Before(last) {
		return &NonMonotonicTimeError{Last: last, Now: now}
	}
	s.ensure(user)
	s.evictExpired(user, now)
	return nil
}

func (l *SlidingWindowLimiter[K]) snapshot(s *store[K], user K, outcome Outcome, now time.Time) Status {
	oldest, ok := s.oldest(user)
	return newStatus(outcome, s.count(user), l.maxRequests, l.span, oldest, ok, now)
}

// now reads the clock inside the critical section so concurrent callers on
// one user observe non-decreasing times.
func (l *SlidingWindowLimiter[K]) now(at *time.Time) time.Time {
	if at != nil {
		return *at
	}
	return l.clock.Now()
}

func (l *SlidingWindowLimiter[K]) shardFor(user K) *shard[K] {
	if len(l.shards) == 1 {
		return l.shards[0]
	}
	return l.shards[maphash.Comparable(l.seed, user)%uint64(len(l.shards))]
}

// validateUser rejects ids that cannot serve as map keys: nil, uncomparable
// dynamic values behind an interface K, and values unequal to themselves.
func validateUser[K comparable](user K) error {
	switch any(user).(type) {
	case string, int, int64, int32, uint, uint64, uint32:
		return nil
	case nil:
		return &InvalidArgumentError{Message: "user id is nil"}
	}
	if !reflect.ValueOf(user).Comparable() {
		return &InvalidArgumentError{Message: fmt.Sprintf("%T is not hashable", any(user))}
	}
	// NaN, or a struct or interface holding one, never matches its own map
	// entry, so every call would land in a fresh window.
	if user != user {
		return &InvalidArgumentError{Message: "user id is not equal to itself"}
	}
	return nil
}
