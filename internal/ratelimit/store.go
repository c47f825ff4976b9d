package ratelimit

import "time"

// store maps users to their windows. It performs no locking; every method
// must be called with the owning shard's mutex held.
type store[K comparable] struct {
	span    time.Duration
	windows map[K]*window
}

func newStore[K comparable](span time.Duration) *store[K] {
	return &store[K]{
		span:    span,
		windows: make(map[K]*window),
	}
}

// ensure returns the user's window, creating an empty one on first reference.
func (s *store[K]) ensure(user K) *window {
	w, ok := s.windows[user]
	if !ok {
		w = &window{}
		s.windows[user] = w
	}
	return w
}

// evictExpired removes every timestamp e with e <= now - span from the
// user's window. Unknown users are left untouched.
func (s *store[K]) evictExpired(user K, now time.Time) int {
	w, ok := s.windows[user]
	if !ok {
		return 0
	}
	return w.evictThrough(now.Add(-s.span))
}

func (s *store[K]) count(user K) int {
	if w, ok := s.windows[user]; ok {
		return w.len()
	}
	return 0
}

// append records now as the newest timestamp. The caller has already checked
// that now is not earlier than the last recorded time.
func (s *store[K]) append(user K, now time.Time) {
	s.ensure(user).push(now)
}

func (s *store[K]) oldest(user K) (time.Time, bool) {
	if w, ok := s.windows[user]; ok {
		return w.oldest()
	}
	return time.Time{}, false
}

func (s *store[K]) last(user K) (time.Time, bool) {
	if w, ok := s.windows[user]; ok && w.hasLast {
		return w.last, true
	}
	return time.Time{}, false
}

func (s *store[K]) clear(user K) {
	delete(s.windows, user)
}

func (s *store[K]) clearAll() {
	clear(s.windows)
}

func (s *store[K]) users() int {
	return len(s.windows)
}
