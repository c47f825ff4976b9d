package ratelimit

import "time"

// compactMin is the smallest dead prefix worth copying away.
const compactMin = 32

// window is the ascending sequence of admitted request times for one user.
// Times are appended at the tail and evicted from the head. Evicted slots
// stay in the backing array until the dead prefix is at least half of it.
type window struct {
	times []time.Time
	head  int

	// last is the most recently appended time. It outlives eviction so
	// a call with an earlier time is still caught after the window drains.
	last    time.Time
	hasLast bool
}

func (w *window) len() int {
	return len(w.times) - w.head
}

func (w *window) oldest() (time.Time, bool) {
	if w.len() == 0 {
		return time.Time{}, false
	}
	return w.times[w.head], true
}

func (w *window) push(t time.Time) {
	w.times = append(w.times, t)
	w.last = t
	w.hasLast = true
}

// evictThrough drops every time at or before cutoff and returns how many
// were removed.
func (w *window) evictThrough(cutoff time.Time) int {
	start := w.head
	for w.head < len(w.times) && !w.times[w.head].After(cutoff) {
		w.head++
	}
	removed := w.head - start

	switch {
	case w.head == len(w.times):
		w.times = w.times[:0]
		w.head = 0
	case w.head >= compactMin && w.head*2 >= len(w.times):
		n := copy(w.times, w.times[w.head:])
		clear(w.times[n:])
		w.times = w.times[:n]
		w.head = 0
	}
	return removed
}
